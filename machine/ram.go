package machine

import (
	"unsafe"

	"helix/mem"
)

// ram is the physical memory arena. words and bytes alias the same
// storage; the word view keeps every 64-bit access naturally aligned
// so sync/atomic may be used on any word of any frame, which is how
// the kernel edits PTEs, capability slots and retype entries.
type ram struct {
	size  uint64
	bytes []byte
	words []uint64
}

// CheckFrame reports whether the frame lies inside RAM.
func (m *Machine) CheckFrame(f mem.Frame) bool {
	return uint64(f.Addr())+mem.FrameSize <= m.ram.size
}

// FrameWords returns the direct-map word view of a frame. The caller
// must hold a reference that keeps the frame's type stable.
func (m *Machine) FrameWords(f mem.Frame) *[mem.FrameSize / 8]uint64 {
	base := uint64(f.Addr())
	if base+mem.FrameSize > m.ram.size {
		panic("machine: frame outside RAM")
	}
	return (*[mem.FrameSize / 8]uint64)(unsafe.Pointer(&m.ram.words[base/8]))
}

// FrameBytes returns the direct-map byte view of a frame.
func (m *Machine) FrameBytes(f mem.Frame) []byte {
	base := uint64(f.Addr())
	if base+mem.FrameSize > m.ram.size {
		panic("machine: frame outside RAM")
	}
	return m.ram.bytes[base : base+mem.FrameSize : base+mem.FrameSize]
}

// Bytes returns n bytes of RAM starting at addr.
func (m *Machine) Bytes(addr mem.PhysAddr, n uint64) ([]byte, bool) {
	base := uint64(addr)
	if base+n > m.ram.size || base+n < base {
		return nil, false
	}
	return m.ram.bytes[base : base+n : base+n], true
}

// ZeroFrame clears a frame.
func (m *Machine) ZeroFrame(f mem.Frame) {
	w := m.FrameWords(f)
	for i := range w {
		w[i] = 0
	}
}
