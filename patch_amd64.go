//go:build amd64 && (linux || windows)

package hookscan

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/arch/x86/x86asm"
)

const (
	opcodeJMP  = 0xe9 // JMP rel32
	opcodeINT3 = 0xcc

	jumpRelSize = 5  // 1 byte opcode + 4 byte displacement
	jumpAbsSize = 12 // MOV RAX, imm64; JMP RAX
	maxSiteSize = 32
)

// JumpPatcher is the built-in hooking primitive for amd64: it overwrites the
// function head with a jump to the replacement. A 5-byte JMP rel32 when the
// displacement fits, otherwise MOV RAX, imm64; JMP RAX. Displaced
// instructions are not relocated, so the original cannot be called while the
// patch is active; remove or disable the hook first.
//
// The patch site is left writable (RWX) for the lifetime of the patch so the
// registry can toggle the bytes through the Accessor; Uninstall restores RX.
type JumpPatcher struct {
	acc Accessor
}

// NewJumpPatcher returns a Patcher writing through acc.
func NewJumpPatcher(acc Accessor) *JumpPatcher {
	return &JumpPatcher{acc: acc}
}

type jumpPatch struct {
	addr uintptr
	size int
}

// SiteSize decodes instructions at addr until whole instructions cover the
// largest jump encoding. Snapshotting and restoring on instruction
// boundaries keeps a disabled hook from leaving half an instruction behind.
func (p *JumpPatcher) SiteSize(r ModuleRegion, addr uintptr) (int, error) {
	if !p.acc.ValidatePointer(r, addr) {
		return 0, fmt.Errorf("patch site %#x: %w", addr, ErrOutOfBounds)
	}

	off := uint64(addr - r.Base)
	n := uint64(maxSiteSize)
	if off+n > r.Size {
		n = r.Size - off
	}
	buf, err := p.acc.Read(r, off, n)
	if err != nil {
		return 0, err
	}

	size := 0
	for size < jumpAbsSize {
		inst, err := x86asm.Decode(buf[size:], 64)
		if err != nil {
			return 0, fmt.Errorf("decode instruction at %#x: %w", addr+uintptr(size), err)
		}
		size += inst.Len
	}
	return size, nil
}

func (p *JumpPatcher) Install(r ModuleRegion, addr uintptr, replacement uintptr) (PatchHandle, error) {
	size, err := p.SiteSize(r, addr)
	if err != nil {
		return nil, err
	}

	site := make([]byte, size)
	n := copy(site, encodeJump(addr, replacement))
	for i := n; i < size; i++ {
		site[i] = opcodeINT3
	}

	if err := protectRange(addr, size, protRWX); err != nil {
		return nil, fmt.Errorf("unprotect %#x: %v", addr, err)
	}
	if err := p.acc.Write(r, uint64(addr-r.Base), site); err != nil {
		// Leave protection relaxed only on success.
		if perr := protectRange(addr, size, protRX); perr != nil {
			return nil, fmt.Errorf("write patch at %#x: %w (and reprotect failed: %v)", addr, err, perr)
		}
		return nil, err
	}
	return &jumpPatch{addr: addr, size: size}, nil
}

func (p *JumpPatcher) Uninstall(h PatchHandle) error {
	jp, ok := h.(*jumpPatch)
	if !ok {
		return fmt.Errorf("foreign patch handle %T", h)
	}
	if err := protectRange(jp.addr, jp.size, protRX); err != nil {
		return fmt.Errorf("reprotect %#x: %v", jp.addr, err)
	}
	return nil
}

// encodeJump returns the shortest jump from src to dest: JMP rel32 when the
// displacement fits in a signed 32 bits, otherwise the absolute form through
// RAX. RAX is scratch under both the SysV and Windows conventions, so a jump
// at a function head may clobber it.
func encodeJump(src, dest uintptr) []byte {
	diff := int64(dest) - int64(src) - jumpRelSize
	if diff >= math.MinInt32 && diff <= math.MaxInt32 {
		buf := make([]byte, jumpRelSize)
		buf[0] = opcodeJMP
		binary.LittleEndian.PutUint32(buf[1:], uint32(int32(diff)))
		return buf
	}

	buf := make([]byte, jumpAbsSize)
	buf[0] = 0x48 // REX.W
	buf[1] = 0xb8 // MOV RAX, imm64
	binary.LittleEndian.PutUint64(buf[2:], uint64(dest))
	buf[10] = 0xff // JMP RAX
	buf[11] = 0xe0
	return buf
}
