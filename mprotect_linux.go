package hookscan

import (
	"syscall"
	"unsafe"
)

const (
	protRX  = syscall.PROT_READ | syscall.PROT_EXEC
	protRWX = syscall.PROT_READ | syscall.PROT_WRITE | syscall.PROT_EXEC
)

func protectRange(addr uintptr, length int, flags int) error {
	pageSize := syscall.Getpagesize()

	// Round address down to page boundary.
	pageStart := addr - (addr % uintptr(pageSize))

	// Cover the offset within the first page plus the requested length,
	// rounded up to whole pages.
	totalBytes := int(addr-pageStart) + length
	regionSize := (totalBytes + pageSize - 1) / pageSize * pageSize

	region := unsafe.Slice((*byte)(unsafe.Pointer(pageStart)), regionSize)
	return syscall.Mprotect(region, flags)
}
