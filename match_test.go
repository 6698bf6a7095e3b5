package hookscan

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearch(t *testing.T) {
	buf := []byte{0x48, 0x8B, 0x12, 0x00, 0xFF, 0x48, 0x8B, 0x99, 0x00, 0xFF}

	t.Run("match at start", func(t *testing.T) {
		assert.Equal(t, 0, search(buf, MustCompile("48 8B ?? 00 FF")))
	})

	t.Run("first of several matches", func(t *testing.T) {
		assert.Equal(t, 0, search(buf, MustCompile("48 8B")))
	})

	t.Run("match at end", func(t *testing.T) {
		assert.Equal(t, 8, search(buf, MustCompile("00 FF")))
	})

	t.Run("no match", func(t *testing.T) {
		assert.Equal(t, -1, search(buf, MustCompile("48 8B 12 01")))
	})

	t.Run("pattern longer than buffer", func(t *testing.T) {
		p := MustCompile("48 8B 12 00 FF 48 8B 99 00 FF 90")
		assert.Equal(t, -1, search(buf, p))
	})

	t.Run("pattern equals buffer", func(t *testing.T) {
		p := MustCompile("48 8B 12 00 FF 48 8B 99 00 FF")
		assert.Equal(t, 0, search(buf, p))
	})

	t.Run("all wildcards match anywhere", func(t *testing.T) {
		assert.Equal(t, 0, search(buf, MustCompile("?? ?? ??")))
	})
}

func TestSearch_WildcardAtEdges(t *testing.T) {
	assert := assert.New(t)

	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	assert.Equal(1, search(buf, MustCompile("?? 03 04 05")))
	assert.Equal(2, search(buf, MustCompile("03 04 05 ??")))
	assert.Equal(0, search(buf, MustCompile("01 ?? ?? 04")))
}

// The skip-table path and the naive path must agree everywhere. Random
// buffers with a small alphabet force plenty of near-misses and repeated
// bytes, which is exactly where a bad shift would show up.
func TestSearch_ImplementationsAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		buf := make([]byte, 1+rng.Intn(512))
		for i := range buf {
			buf[i] = byte(rng.Intn(4))
		}

		m := 4 + rng.Intn(8)
		if m > len(buf) {
			m = len(buf)
		}
		p := &Pattern{
			bytes: make([]byte, m),
			wild:  make([]bool, m),
		}
		for j := 0; j < m; j++ {
			if rng.Intn(4) == 0 && p.wilds*2 < m {
				p.wild[j] = true
				p.wilds++
				continue
			}
			p.bytes[j] = byte(rng.Intn(4))
		}
		p.key = canonical(p)

		want := searchNaive(buf, p)
		got := searchBMH(buf, p)
		if !assert.Equal(t, want, got, fmt.Sprintf("trial %d pattern %s", trial, p)) {
			return
		}
	}
}

func TestSearch_DenseWildcardsUseNaive(t *testing.T) {
	// More than half wildcards routes through the naive loop; verify the
	// dispatch still finds the right offset.
	buf := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	p := MustCompile("?? ?? CC ?? ??")
	assert.Equal(t, 0, search(buf, p))
}

func BenchmarkSearchBMH(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	buf := make([]byte, 1<<20)
	rng.Read(buf)
	p := MustCompile("48 8B ?? 00 FF 35 12 AB")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		searchBMH(buf, p)
	}
}

func BenchmarkSearchNaive(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	buf := make([]byte, 1<<20)
	rng.Read(buf)
	p := MustCompile("48 8B ?? 00 FF 35 12 AB")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		searchNaive(buf, p)
	}
}
