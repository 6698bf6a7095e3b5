package hookscan

import (
	"fmt"
	"sync"
	"time"
)

const defaultChunkSize = 64 << 10

// Scanner resolves a Pattern to its first match offset within a
// ModuleRegion, reading through an Accessor and memoizing the outcome.
// "Searched, not found" is cached too, so a missing signature costs one scan
// per module image, not one per call.
//
// A Scanner is safe for concurrent use.
type Scanner struct {
	acc   Accessor
	sink  Sink
	chunk uint64

	mu     sync.RWMutex
	cache  map[scanKey]scanResult
	hits   uint64
	misses uint64
}

type scanKey struct {
	region  regionID
	pattern string
}

type scanResult struct {
	offset uint64
	found  bool
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithChunkSize sets how many bytes the scanner reads per Accessor call.
// Chunks overlap by the pattern length minus one, so the choice can never
// change a match result, only the read granularity.
func WithChunkSize(n uint64) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.chunk = n
		}
	}
}

// WithScannerSink routes scan diagnostics to sink.
func WithScannerSink(sink Sink) ScannerOption {
	return func(s *Scanner) { s.sink = sink }
}

// NewScanner returns a Scanner reading through acc.
func NewScanner(acc Accessor, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		acc:   acc,
		sink:  NopSink{},
		chunk: defaultChunkSize,
		cache: make(map[scanKey]scanResult),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Find returns the region-relative offset of the first match of p in r, by
// ascending address. found is false when the scan completed without a match;
// that is a normal outcome, not an error. Find fails only when the Accessor
// fails mid-scan, in which case the error is a *ScanError and nothing is
// cached.
func (s *Scanner) Find(r ModuleRegion, p *Pattern) (offset uint64, found bool, err error) {
	key := scanKey{region: r.id(), pattern: p.String()}

	s.mu.RLock()
	res, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		s.mu.Lock()
		s.hits++
		s.mu.Unlock()
		return res.offset, res.found, nil
	}

	start := time.Now()
	res.offset, res.found, err = s.scan(r, p)
	if err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	s.misses++
	s.cache[key] = res
	s.mu.Unlock()

	if res.found {
		s.emit(SeverityInfo, fmt.Sprintf("pattern %s matched at offset %#x in %s", p, res.offset, time.Since(start)), r.Base+uintptr(res.offset))
	} else {
		s.emit(SeverityInfo, fmt.Sprintf("pattern %s not found after %s", p, time.Since(start)), r.Base)
	}
	return res.offset, res.found, nil
}

func (s *Scanner) scan(r ModuleRegion, p *Pattern) (uint64, bool, error) {
	m := uint64(p.Len())
	if m > r.Size {
		return 0, false, nil
	}

	chunk := s.chunk
	if chunk < m {
		chunk = m
	}

	for start := uint64(0); start+m <= r.Size; {
		n := chunk
		if start+n > r.Size {
			n = r.Size - start
		}

		buf, err := s.acc.Read(r, start, n)
		if err != nil {
			return 0, false, &ScanError{Offset: start, Err: err}
		}
		if idx := search(buf, p); idx >= 0 {
			return start + uint64(idx), true, nil
		}

		if start+n == r.Size {
			break
		}
		// Overlap by m-1 so a match straddling the chunk boundary is
		// still seen by the next read.
		start += n - (m - 1)
	}
	return 0, false, nil
}

// Invalidate drops every cache entry for the module identified by r. Call it
// when the module is unloaded or reloaded, even at the same base.
func (s *Scanner) Invalidate(r ModuleRegion) {
	id := r.id()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.cache {
		if key.region == id {
			delete(s.cache, key)
		}
	}
}

// CacheStats is a point-in-time view of the scan cache.
type CacheStats struct {
	Entries  int
	Negative int // entries recording "searched, not found"
	Hits     uint64
	Misses   uint64
}

// CacheStats returns cache counters since the scanner was created.
func (s *Scanner) CacheStats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := CacheStats{
		Entries: len(s.cache),
		Hits:    s.hits,
		Misses:  s.misses,
	}
	for _, res := range s.cache {
		if !res.found {
			st.Negative++
		}
	}
	return st
}

func (s *Scanner) emit(sev Severity, msg string, addr uintptr) {
	s.sink.Emit(Event{
		Time:      time.Now(),
		Component: "scanner",
		Severity:  sev,
		Message:   msg,
		Addr:      addr,
	})
}
