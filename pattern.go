package hookscan

import (
	"strings"
)

// Pattern is a compiled byte-mask signature: a fixed-length sequence of
// tokens, each either an exact byte or a wildcard. Patterns are immutable
// after construction and safe to share across goroutines.
type Pattern struct {
	bytes []byte // exact value at each position, 0 where wild
	wild  []bool
	wilds int
	key   string // canonical text form, doubles as cache identity
}

// Compile parses a textual signature like "48 8B ?? 00 FF". Tokens are
// separated by whitespace; "?" and "??" both stand for one wildcard byte.
// A token of hex digits may cover several bytes ("488B" is two), but must
// have even length. Compile returns a *SyntaxError for empty input, an
// odd-length hex run, or any non-hex character.
func Compile(signature string) (*Pattern, error) {
	fields := strings.Fields(signature)
	if len(fields) == 0 {
		return nil, &SyntaxError{Signature: signature, Reason: "empty signature"}
	}

	p := &Pattern{}
	for i, tok := range fields {
		if tok == "?" || tok == "??" {
			p.bytes = append(p.bytes, 0)
			p.wild = append(p.wild, true)
			p.wilds++
			continue
		}
		if len(tok)%2 != 0 {
			return nil, &SyntaxError{Signature: signature, Token: tok, Pos: i, Reason: "odd-length hex run"}
		}
		for j := 0; j < len(tok); j += 2 {
			hi, ok1 := hexVal(tok[j])
			lo, ok2 := hexVal(tok[j+1])
			if !ok1 || !ok2 {
				return nil, &SyntaxError{Signature: signature, Token: tok, Pos: i, Reason: "invalid hex digit"}
			}
			p.bytes = append(p.bytes, hi<<4|lo)
			p.wild = append(p.wild, false)
		}
	}

	p.key = canonical(p)
	return p, nil
}

// MustCompile is like Compile but panics on error. It simplifies safe
// initialization of package-level signatures.
func MustCompile(signature string) *Pattern {
	p, err := Compile(signature)
	if err != nil {
		panic(err)
	}
	return p
}

// CompileMask builds a Pattern from a raw byte slice and an "xx??x"-style
// mask, where 'x' requires an exact match and '?' is a wildcard. This is the
// form most signature dumps use. The mask must be the same length as the
// pattern and non-empty.
func CompileMask(pattern []byte, mask string) (*Pattern, error) {
	if len(pattern) == 0 {
		return nil, &SyntaxError{Signature: mask, Reason: "empty pattern"}
	}
	if len(pattern) != len(mask) {
		return nil, &SyntaxError{Signature: mask, Reason: "pattern and mask lengths differ"}
	}

	p := &Pattern{
		bytes: make([]byte, len(pattern)),
		wild:  make([]bool, len(pattern)),
	}
	for i := range mask {
		switch mask[i] {
		case 'x', 'X':
			p.bytes[i] = pattern[i]
		case '?':
			p.wild[i] = true
			p.wilds++
		default:
			return nil, &SyntaxError{Signature: mask, Token: string(mask[i]), Pos: i, Reason: "mask characters must be 'x' or '?'"}
		}
	}

	p.key = canonical(p)
	return p, nil
}

// Len returns the token count. The scanner uses it to bound scan loops.
func (p *Pattern) Len() int { return len(p.bytes) }

// Wildcards returns the number of wildcard positions.
func (p *Pattern) Wildcards() int { return p.wilds }

// String returns the canonical text form of the pattern. Two patterns with
// the same bytes and wildcards in the same order print identically, so the
// string also serves as the structural identity for cache keys.
func (p *Pattern) String() string { return p.key }

func canonical(p *Pattern) string {
	var b strings.Builder
	for i, v := range p.bytes {
		if i > 0 {
			b.WriteByte(' ')
		}
		if p.wild[i] {
			b.WriteString("??")
			continue
		}
		const digits = "0123456789ABCDEF"
		b.WriteByte(digits[v>>4])
		b.WriteByte(digits[v&0xf])
	}
	return b.String()
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
