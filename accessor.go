package hookscan

import (
	"fmt"
	"sync"
)

// Accessor mediates every raw read and write of a module's memory. Nothing
// else in this package touches memory directly, which keeps all the bounds
// checking in one place.
//
// Read and Write are all-or-nothing: no implementation may return a
// partially-filled buffer or leave a partial write behind on a bounds error.
// Accessors never change page protection; that belongs to the Patcher.
type Accessor interface {
	// Read returns n bytes starting at the region-relative offset off.
	// It fails with ErrOutOfBounds if off+n crosses the region's end, and
	// with ErrUnreadableMemory if the platform reports a fault.
	Read(r ModuleRegion, off, n uint64) ([]byte, error)

	// Write stores b at the region-relative offset off, with the same
	// bounds rule as Read. It fails with ErrWriteProtected if the target
	// page cannot be written.
	Write(r ModuleRegion, off uint64, b []byte) error

	// ValidatePointer reports whether addr is safe to use relative to r:
	// non-nil and inside [r.Base, r.Base+r.Size). Call it before
	// dereferencing anything derived from an externally supplied or
	// scanned address.
	ValidatePointer(r ModuleRegion, addr uintptr) bool
}

func checkBounds(r ModuleRegion, off, n uint64) error {
	if off > r.Size || n > r.Size-off {
		return fmt.Errorf("[%#x,+%d) in region of size %#x: %w", off, n, r.Size, ErrOutOfBounds)
	}
	return nil
}

func validPointer(r ModuleRegion, addr uintptr) bool {
	return addr != 0 && r.Contains(addr)
}

type byteRange struct {
	off, n uint64
}

func (br byteRange) overlaps(off, n uint64) bool {
	return off < br.off+br.n && br.off < off+n
}

// BufferAccessor is an Accessor backed by an ordinary byte slice posing as a
// module image at a chosen base address. It exists so that scan and hook
// logic can be exercised against fake regions: it counts calls and can mark
// ranges unreadable or read-only to simulate faulting pages.
type BufferAccessor struct {
	mu         sync.Mutex
	base       uintptr
	data       []byte
	unreadable []byteRange
	readonly   []byteRange
	reads      int
	writes     int
}

// NewBufferAccessor wraps data as a fake module image based at base.
// The accessor owns data from here on.
func NewBufferAccessor(base uintptr, data []byte) *BufferAccessor {
	return &BufferAccessor{base: base, data: data}
}

// Region returns the ModuleRegion covering the whole buffer.
func (a *BufferAccessor) Region() ModuleRegion {
	return ModuleRegion{Base: a.base, Size: uint64(len(a.data))}
}

// MarkUnreadable makes reads touching [off, off+n) fail with
// ErrUnreadableMemory, like a page that is not committed.
func (a *BufferAccessor) MarkUnreadable(off, n uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unreadable = append(a.unreadable, byteRange{off, n})
}

// MarkReadOnly makes writes touching [off, off+n) fail with
// ErrWriteProtected.
func (a *BufferAccessor) MarkReadOnly(off, n uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readonly = append(a.readonly, byteRange{off, n})
}

// Reads returns how many Read calls reached the buffer. Scan cache tests
// rely on this to prove a cache hit never touched memory.
func (a *BufferAccessor) Reads() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reads
}

// Writes returns how many Write calls reached the buffer.
func (a *BufferAccessor) Writes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writes
}

func (a *BufferAccessor) Read(r ModuleRegion, off, n uint64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reads++

	if err := checkBounds(r, off, n); err != nil {
		return nil, err
	}
	if r.Base != a.base || r.Size != uint64(len(a.data)) {
		return nil, fmt.Errorf("region %#x+%#x is not this buffer: %w", r.Base, r.Size, ErrUnreadableMemory)
	}
	for _, br := range a.unreadable {
		if br.overlaps(off, n) {
			return nil, fmt.Errorf("fault at offset %#x: %w", off, ErrUnreadableMemory)
		}
	}

	out := make([]byte, n)
	copy(out, a.data[off:off+n])
	return out, nil
}

func (a *BufferAccessor) Write(r ModuleRegion, off uint64, b []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.writes++

	n := uint64(len(b))
	if err := checkBounds(r, off, n); err != nil {
		return err
	}
	if r.Base != a.base || r.Size != uint64(len(a.data)) {
		return fmt.Errorf("region %#x+%#x is not this buffer: %w", r.Base, r.Size, ErrWriteProtected)
	}
	for _, br := range a.readonly {
		if br.overlaps(off, n) {
			return fmt.Errorf("protection fault at offset %#x: %w", off, ErrWriteProtected)
		}
	}

	copy(a.data[off:off+n], b)
	return nil
}

func (a *BufferAccessor) ValidatePointer(r ModuleRegion, addr uintptr) bool {
	return validPointer(r, addr)
}
