package ptable

import (
	"helix/machine"
	"helix/mem"
)

// Translate walks an address space from its L4 frame and resolves a
// virtual address to a physical one, honoring huge leaves. ok is false
// when the address is non-canonical or unmapped.
func Translate(m *machine.Machine, l4 mem.Frame, va uint64) (mem.PhysAddr, bool) {
	if !Canonical(va) {
		return 0, false
	}
	frame := l4
	for level := uint8(4); level >= 1; level-- {
		t := At(m, frame, level)
		next, flags, ok := t.Load(Index(va, level))
		if !ok {
			return 0, false
		}
		if level == 1 || flags&FlagHuge != 0 {
			span := LeafSpan(level)
			return next.Addr() + mem.PhysAddr(va&(span-1)), true
		}
		frame = next
	}
	return 0, false
}

// ReadUser copies len(buf) bytes from a user virtual address through
// the given address space. It crosses page boundaries; ok is false if
// any page is unmapped or the range leaves the user half.
func ReadUser(m *machine.Machine, l4 mem.Frame, va uint64, buf []byte) bool {
	return userCopy(m, l4, va, len(buf), func(chunk []byte, off int) {
		copy(buf[off:], chunk)
	})
}

// WriteUser copies p to a user virtual address through the given
// address space, with the same fault rules as ReadUser.
func WriteUser(m *machine.Machine, l4 mem.Frame, va uint64, p []byte) bool {
	return userCopy(m, l4, va, len(p), func(chunk []byte, off int) {
		copy(chunk, p[off:])
	})
}

func userCopy(m *machine.Machine, l4 mem.Frame, va uint64, n int, xfer func(chunk []byte, off int)) bool {
	off := 0
	for off < n {
		cur := va + uint64(off)
		if !UserHalf(cur) {
			return false
		}
		pa, ok := Translate(m, l4, cur)
		if !ok {
			return false
		}
		chunk := mem.FrameSize - int(pa.Offset())
		if rem := n - off; chunk > rem {
			chunk = rem
		}
		raw, ok := m.Bytes(pa, uint64(chunk))
		if !ok {
			return false
		}
		xfer(raw, off)
		off += chunk
	}
	return true
}
