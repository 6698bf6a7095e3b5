package hookscan

// The two search implementations below must return identical offsets for
// every (buffer, pattern) pair; which one runs is purely a cost decision.
// Skip tables lose their punch as the wildcard ratio climbs, because every
// wildcard position caps the maximum safe shift, so dense-wildcard and very
// short patterns go through the naive loop instead.
const (
	bmhMinLength        = 4
	bmhMaxWildcardRatio = 0.5
)

// search returns the first offset where p matches in buf, or -1.
func search(buf []byte, p *Pattern) int {
	m := p.Len()
	if m == 0 || m > len(buf) {
		return -1
	}
	if m < bmhMinLength || float64(p.wilds)/float64(m) > bmhMaxWildcardRatio {
		return searchNaive(buf, p)
	}
	return searchBMH(buf, p)
}

func searchNaive(buf []byte, p *Pattern) int {
	m := p.Len()
	for i := 0; i+m <= len(buf); i++ {
		if matchAt(buf, i, p) {
			return i
		}
	}
	return -1
}

// searchBMH is a Boyer-Moore-Horspool variant that treats wildcard bytes as
// "matches anything". Wildcards are excluded from skip-table construction:
// a wildcard at position j means any byte could match there, so no shift may
// move the window further than m-1-j past it.
func searchBMH(buf []byte, p *Pattern) int {
	m := p.Len()

	shift := m
	for j := 0; j < m-1; j++ {
		if p.wild[j] {
			shift = m - 1 - j
		}
	}

	var table [256]int
	for c := range table {
		table[c] = shift
	}
	for j := 0; j < m-1; j++ {
		if !p.wild[j] && m-1-j < table[p.bytes[j]] {
			table[p.bytes[j]] = m - 1 - j
		}
	}

	for i := 0; i+m <= len(buf); {
		if matchAt(buf, i, p) {
			return i
		}
		i += table[buf[i+m-1]]
	}
	return -1
}

func matchAt(buf []byte, off int, p *Pattern) bool {
	for j, v := range p.bytes {
		if !p.wild[j] && buf[off+j] != v {
			return false
		}
	}
	return true
}
