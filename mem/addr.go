// Package mem defines physical addressing for the kernel: frames, the
// boot memory map, and the boot-time bump allocator.
package mem

// FrameSize is the size of a physical frame in bytes.
const FrameSize = 4096

// FrameBits is the number of address bits covered by a frame offset.
const FrameBits = 12

// PhysAddr is a physical memory address.
type PhysAddr uint64

// IsFrameAligned reports whether the address is frame-aligned.
func (a PhysAddr) IsFrameAligned() bool { return a%FrameSize == 0 }

// FrameDown returns the frame containing the address.
func (a PhysAddr) FrameDown() Frame { return Frame(a >> FrameBits) }

// Offset returns the byte offset of the address within its frame.
func (a PhysAddr) Offset() uint64 { return uint64(a) & (FrameSize - 1) }

// Frame is a physical frame number. Frame f covers physical addresses
// [f*FrameSize, (f+1)*FrameSize).
type Frame uint64

// Addr returns the base physical address of the frame.
func (f Frame) Addr() PhysAddr { return PhysAddr(f) << FrameBits }

// FrameAt returns the frame whose base address is addr.
// The address must be frame-aligned.
func FrameAt(addr PhysAddr) Frame {
	if !addr.IsFrameAligned() {
		panic("mem: unaligned frame address")
	}
	return addr.FrameDown()
}
