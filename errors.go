package hookscan

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds means a read or write would cross the end of a module
	// region, or a resolved address falls outside it.
	ErrOutOfBounds = errors.New("out of region bounds")
	// ErrUnreadableMemory means the platform read call reported a fault.
	ErrUnreadableMemory = errors.New("unreadable memory")
	// ErrWriteProtected means the target page's protection forbids writing.
	ErrWriteProtected = errors.New("write-protected memory")
	// ErrSignatureNotFound means a scan completed without a match.
	ErrSignatureNotFound = errors.New("signature not found")
	// ErrModuleNotLoaded means the wait for the module readiness signal
	// timed out.
	ErrModuleNotLoaded = errors.New("module not loaded")
	// ErrAlreadyInstalled means the hook id or its target address already
	// has a live hook.
	ErrAlreadyInstalled = errors.New("hook already installed")
	// ErrInvalidState means the requested transition is not allowed from
	// the hook's current state.
	ErrInvalidState = errors.New("invalid hook state")
	// ErrInstallFailed means the underlying patcher could not install the
	// redirect. The original bytes have been restored.
	ErrInstallFailed = errors.New("hook install failed")
	// ErrRemoveFailed means the underlying patcher could not release an
	// installed patch.
	ErrRemoveFailed = errors.New("hook remove failed")
)

// SyntaxError reports a malformed signature string. Always a configuration
// bug, so it should be treated as fatal at startup.
type SyntaxError struct {
	Signature string
	Token     string
	Pos       int // token index within the signature
	Reason    string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("bad signature %q: %s", e.Signature, e.Reason)
	}
	return fmt.Sprintf("bad signature %q: token %d (%q): %s", e.Signature, e.Pos, e.Token, e.Reason)
}

// ScanError wraps an accessor failure encountered mid-scan. Offset is the
// region-relative offset of the read that failed.
type ScanError struct {
	Offset uint64
	Err    error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan read at offset %#x: %v", e.Offset, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }
