package hookscan

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// ProcessAccessor reads and writes the current process's memory through
// ReadProcessMemory/WriteProcessMemory rather than raw pointer dereference,
// so an uncommitted or protected page comes back as an error instead of an
// access violation.
type ProcessAccessor struct {
	handle windows.Handle
}

// NewProcessAccessor returns an Accessor over the current process.
func NewProcessAccessor() *ProcessAccessor {
	return &ProcessAccessor{handle: windows.CurrentProcess()}
}

func (a *ProcessAccessor) Read(r ModuleRegion, off, n uint64) ([]byte, error) {
	if err := checkBounds(r, off, n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}

	var done uintptr
	err := windows.ReadProcessMemory(a.handle, r.Base+uintptr(off), &buf[0], uintptr(n), &done)
	if err != nil {
		return nil, fmt.Errorf("ReadProcessMemory at %#x: %w: %v", r.Base+uintptr(off), ErrUnreadableMemory, err)
	}
	if uint64(done) != n {
		return nil, fmt.Errorf("short read %d of %d at %#x: %w", done, n, r.Base+uintptr(off), ErrUnreadableMemory)
	}
	return buf, nil
}

func (a *ProcessAccessor) Write(r ModuleRegion, off uint64, b []byte) error {
	n := uint64(len(b))
	if err := checkBounds(r, off, n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	var done uintptr
	err := windows.WriteProcessMemory(a.handle, r.Base+uintptr(off), &b[0], uintptr(n), &done)
	if err != nil {
		return fmt.Errorf("WriteProcessMemory at %#x: %w: %v", r.Base+uintptr(off), ErrWriteProtected, err)
	}
	if uint64(done) != n {
		return fmt.Errorf("short write %d of %d at %#x: %w", done, n, r.Base+uintptr(off), ErrWriteProtected)
	}
	return nil
}

func (a *ProcessAccessor) ValidatePointer(r ModuleRegion, addr uintptr) bool {
	return validPointer(r, addr)
}
