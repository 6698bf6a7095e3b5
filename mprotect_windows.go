package hookscan

import (
	"syscall"

	"golang.org/x/sys/windows"
)

const (
	protRX  = windows.PAGE_EXECUTE_READ
	protRWX = windows.PAGE_EXECUTE_READWRITE
)

func protectRange(addr uintptr, length int, flags int) error {
	pageSize := syscall.Getpagesize()

	// Round address down to page boundary.
	pageStart := addr &^ (uintptr(pageSize) - 1)

	// Round up to cover complete pages.
	regionSize := (int(addr-pageStart) + length + pageSize - 1) &^ (pageSize - 1)

	var oldFlags uint32
	return windows.VirtualProtect(pageStart, uintptr(regionSize), uint32(flags), &oldFlags)
}
