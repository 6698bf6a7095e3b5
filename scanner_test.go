package hookscan

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanner_Find(t *testing.T) {
	assert := assert.New(t)

	acc := NewBufferAccessor(0x1000, []byte{0x48, 0x8B, 0x12, 0x00, 0xFF})
	s := NewScanner(acc)

	off, found, err := s.Find(acc.Region(), MustCompile("48 8B ?? 00 FF"))
	assert.NoError(err)
	assert.True(found)
	assert.Equal(uint64(0), off)
}

func TestScanner_FindFirstByAddress(t *testing.T) {
	assert := assert.New(t)

	data := make([]byte, 256)
	copy(data[40:], []byte{0xDE, 0xAD})
	copy(data[200:], []byte{0xDE, 0xAD})
	acc := NewBufferAccessor(0x1000, data)
	s := NewScanner(acc)

	off, found, err := s.Find(acc.Region(), MustCompile("DE AD"))
	assert.NoError(err)
	assert.True(found)
	assert.Equal(uint64(40), off)
}

func TestScanner_NotFound(t *testing.T) {
	assert := assert.New(t)

	acc := NewBufferAccessor(0x1000, make([]byte, 64))
	s := NewScanner(acc)

	_, found, err := s.Find(acc.Region(), MustCompile("DE AD BE EF"))
	assert.NoError(err, "a clean miss is not an error")
	assert.False(found)
}

func TestScanner_CacheHitSkipsMemory(t *testing.T) {
	assert := assert.New(t)

	data := make([]byte, 128)
	copy(data[17:], []byte{0xCA, 0xFE})
	acc := NewBufferAccessor(0x1000, data)
	s := NewScanner(acc)
	p := MustCompile("CA FE")

	off, found, err := s.Find(acc.Region(), p)
	assert.NoError(err)
	assert.True(found)
	assert.Equal(uint64(17), off)
	reads := acc.Reads()
	assert.Greater(reads, 0)

	off2, found2, err := s.Find(acc.Region(), p)
	assert.NoError(err)
	assert.True(found2)
	assert.Equal(off, off2)
	assert.Equal(reads, acc.Reads(), "second lookup must be served from cache")
}

func TestScanner_NegativeCache(t *testing.T) {
	assert := assert.New(t)

	acc := NewBufferAccessor(0x1000, make([]byte, 64))
	s := NewScanner(acc)
	p := MustCompile("DE AD BE EF")

	_, found, err := s.Find(acc.Region(), p)
	assert.NoError(err)
	assert.False(found)
	reads := acc.Reads()

	_, found, err = s.Find(acc.Region(), p)
	assert.NoError(err)
	assert.False(found)
	assert.Equal(reads, acc.Reads(), "a miss is cached like a hit")

	st := s.CacheStats()
	assert.Equal(1, st.Entries)
	assert.Equal(1, st.Negative)
	assert.Equal(uint64(1), st.Hits)
	assert.Equal(uint64(1), st.Misses)
}

func TestScanner_InvalidateRescans(t *testing.T) {
	assert := assert.New(t)

	data := make([]byte, 64)
	acc := NewBufferAccessor(0x1000, data)
	r := acc.Region()
	s := NewScanner(acc)
	p := MustCompile("CA FE BA BE")

	_, found, err := s.Find(r, p)
	assert.NoError(err)
	assert.False(found)

	// The module got its code written after the first scan.
	assert.NoError(acc.Write(r, 30, []byte{0xCA, 0xFE, 0xBA, 0xBE}))

	_, found, _ = s.Find(r, p)
	assert.False(found, "stale cache entry still answers until invalidated")

	s.Invalidate(r)
	off, found, err := s.Find(r, p)
	assert.NoError(err)
	assert.True(found)
	assert.Equal(uint64(30), off)
}

func TestScanner_InvalidateOnlyNamedRegion(t *testing.T) {
	assert := assert.New(t)

	accA := NewBufferAccessor(0x1000, make([]byte, 32))
	accB := NewBufferAccessor(0x2000, make([]byte, 32))
	s := NewScanner(accA)
	p := MustCompile("01 02")

	s.Find(accA.Region(), p)
	// accB's region has a different fingerprint, so this scan fails at
	// the accessor but we only care about cache shape here.
	s.Find(accB.Region(), p)

	s.Invalidate(accB.Region())
	reads := accA.Reads()
	s.Find(accA.Region(), p)
	assert.Equal(reads, accA.Reads(), "region A's entry must survive invalidating region B")
}

// Chunk size is a read-granularity knob, never a correctness knob. Plant a
// match straddling every chunk boundary candidate and compare against a
// whole-buffer scan.
func TestScanner_ChunkSizeInvariance(t *testing.T) {
	assert := assert.New(t)

	rng := rand.New(rand.NewSource(7))
	data := make([]byte, 300)
	rng.Read(data)
	sig := []byte{0x11, 0x22, 0x33, 0x44, 0x55}
	copy(data[62:], sig) // straddles a 64-byte chunk boundary
	p := MustCompile("11 22 33 44 55")

	for _, chunk := range []uint64{5, 7, 64, 65, 300, 1024} {
		acc := NewBufferAccessor(0x1000, append([]byte(nil), data...))
		s := NewScanner(acc, WithChunkSize(chunk))

		off, found, err := s.Find(acc.Region(), p)
		assert.NoError(err)
		assert.True(found, "chunk size %d", chunk)
		assert.Equal(uint64(62), off, "chunk size %d", chunk)
	}
}

func TestScanner_PatternLongerThanRegion(t *testing.T) {
	acc := NewBufferAccessor(0x1000, make([]byte, 3))
	s := NewScanner(acc)

	_, found, err := s.Find(acc.Region(), MustCompile("00 00 00 00"))
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, acc.Reads(), "nothing to read when the pattern cannot fit")
}

func TestScanner_UnreadableRegion(t *testing.T) {
	assert := assert.New(t)

	acc := NewBufferAccessor(0x1000, make([]byte, 64))
	acc.MarkUnreadable(32, 8)
	s := NewScanner(acc, WithChunkSize(16))
	p := MustCompile("DE AD BE EF")

	_, _, err := s.Find(acc.Region(), p)
	assert.ErrorIs(err, ErrUnreadableMemory)

	var serr *ScanError
	assert.ErrorAs(err, &serr)
	assert.Less(serr.Offset, uint64(64))

	assert.Equal(0, s.CacheStats().Entries, "failed scans are never cached")
}

func TestScanner_EmitsEvents(t *testing.T) {
	assert := assert.New(t)

	sink := &recordSink{}
	acc := NewBufferAccessor(0x1000, []byte{0xCA, 0xFE})
	s := NewScanner(acc, WithScannerSink(sink))

	s.Find(acc.Region(), MustCompile("CA FE"))

	events := sink.take()
	assert.Len(events, 1)
	assert.Equal("scanner", events[0].Component)
	assert.Equal(SeverityInfo, events[0].Severity)
	assert.Equal(uintptr(0x1000), events[0].Addr)
}
