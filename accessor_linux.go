package hookscan

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ProcessAccessor reads and writes the current process's memory through
// process_vm_readv/process_vm_writev rather than raw pointer dereference, so
// an uncommitted or protected page comes back as an error instead of a
// segfault.
type ProcessAccessor struct {
	pid int
}

// NewProcessAccessor returns an Accessor over the current process.
func NewProcessAccessor() *ProcessAccessor {
	return &ProcessAccessor{pid: os.Getpid()}
}

func (a *ProcessAccessor) Read(r ModuleRegion, off, n uint64) ([]byte, error) {
	if err := checkBounds(r, off, n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}

	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(int(n))
	remote := []unix.RemoteIovec{{Base: r.Base + uintptr(off), Len: int(n)}}

	nr, err := unix.ProcessVMReadv(a.pid, local, remote, 0)
	if err != nil {
		return nil, fmt.Errorf("process_vm_readv at %#x: %w: %v", r.Base+uintptr(off), ErrUnreadableMemory, err)
	}
	if uint64(nr) != n {
		// The kernel stops at the first unreadable page. All-or-nothing,
		// so a short read is a failure.
		return nil, fmt.Errorf("short read %d of %d at %#x: %w", nr, n, r.Base+uintptr(off), ErrUnreadableMemory)
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

	local := []unix.Iovec{{Base: &b[0]}}
	local[0].SetLen(int(n))
	remote := []unix.RemoteIovec{{Base: r.Base + uintptr(off), Len: int(n)}}

	nw, err := unix.ProcessVMWritev(a.pid, local, remote, 0)
	if err != nil {
		return fmt.Errorf("process_vm_writev at %#x: %w: %v", r.Base+uintptr(off), ErrWriteProtected, err)
	}
	if uint64(nw) != n {
		return fmt.Errorf("short write %d of %d at %#x: %w", nw, n, r.Base+uintptr(off), ErrWriteProtected)
	}
	return nil
}

func (a *ProcessAccessor) ValidatePointer(r ModuleRegion, addr uintptr) bool {
	return validPointer(r, addr)
}
