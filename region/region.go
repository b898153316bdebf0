// Package region implements memory-region capabilities: the
// user-visible handle to ranges of untyped frames. A region is a pure
// range; the retype table remains the only authority over frame
// state, so region arithmetic needs no atomics.
package region

import "helix/mem"

// Region is a contiguous range of frames [Base, Base+Frames).
type Region struct {
	Base   mem.Frame
	Frames uint64
}

// FromWords decodes a region from its capability-slot encoding: the
// slot's frame word is the base, the payload word the length.
func FromWords(base mem.Frame, aux uint64) Region {
	return Region{Base: base, Frames: aux}
}

// Valid reports whether the region is non-empty.
func (r Region) Valid() bool { return r.Frames > 0 }

// Contains reports whether the frame offset lies inside the region.
func (r Region) Contains(offset uint64) bool { return offset < r.Frames }

// FrameAt returns the frame at the given offset.
func (r Region) FrameAt(offset uint64) mem.Frame {
	return r.Base + mem.Frame(offset)
}

// Split halves the region. The original capability stays untouched;
// the halves are installed as new capabilities. A single-frame region
// cannot split.
func (r Region) Split() (left, right Region, ok bool) {
	if r.Frames < 2 {
		return Region{}, Region{}, false
	}
	half := r.Frames / 2
	left = Region{Base: r.Base, Frames: half}
	right = Region{Base: r.Base + mem.Frame(half), Frames: r.Frames - half}
	return left, right, true
}
