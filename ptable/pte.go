// Package ptable implements the four-level x86-64 page tables as
// kernel objects: 512 atomic entries per frame, edited by CAS, with
// the upper half of every L4 shared with the kernel template.
package ptable

import (
	"helix/mem"
)

// Flags is the architectural PTE flag set.
type Flags uint64

const (
	FlagPresent      Flags = 1 << 0
	FlagWritable     Flags = 1 << 1
	FlagUser         Flags = 1 << 2
	FlagWriteThrough Flags = 1 << 3
	FlagNoCache      Flags = 1 << 4
	FlagAccessed     Flags = 1 << 5
	FlagDirty        Flags = 1 << 6
	FlagHuge         Flags = 1 << 7
	FlagGlobal       Flags = 1 << 8
	FlagNoExecute    Flags = 1 << 63
)

// flagMask covers every flag bit; everything else is address.
const flagMask = uint64(0xFFF) | uint64(FlagNoExecute)

// EntriesPerTable is the number of PTEs in one table.
const EntriesPerTable = 512

// indexBits is the number of virtual-address bits per level.
const indexBits = 9

// KernelHalfStart is the first L4 index of the kernel-reserved upper
// half.
const KernelHalfStart = 256

// pack builds a PTE from a frame and flags.
func pack(f mem.Frame, flags Flags) uint64 {
	return uint64(f.Addr()) | uint64(flags)&flagMask
}

// unpack splits a PTE into frame and flags.
func unpack(pte uint64) (mem.Frame, Flags) {
	return mem.PhysAddr(pte &^ flagMask).FrameDown(), Flags(pte & flagMask)
}

// Index returns the table index a virtual address selects at a level
// (4 down to 1).
func Index(va uint64, level uint8) int {
	shift := mem.FrameBits + indexBits*(int(level)-1)
	return int(va>>shift) & (EntriesPerTable - 1)
}

// LeafSpan returns the bytes covered by a leaf mapping at a level:
// 4 KiB at L1, 2 MiB at L2, 1 GiB at L3.
func LeafSpan(level uint8) uint64 {
	return 1 << (mem.FrameBits + indexBits*(int(level)-1))
}

// Canonical reports whether a 48-bit virtual address is canonical.
func Canonical(va uint64) bool {
	top := va >> 47
	return top == 0 || top == 0x1FFFF
}

// UserHalf reports whether the address lies in the user (lower) half.
func UserHalf(va uint64) bool {
	return va>>47 == 0
}
