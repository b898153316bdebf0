package ptable

import (
	"sync/atomic"

	"helix/machine"
	"helix/mem"
)

// Table is a view of one page-table frame at a known level.
type Table struct {
	m     *machine.Machine
	f     mem.Frame
	level uint8
}

// At views the page table in frame f at the given level (4..1). The
// caller must hold a reference that keeps the frame kernel-typed.
func At(m *machine.Machine, f mem.Frame, level uint8) Table {
	if level < 1 || level > 4 {
		panic("ptable: bad level")
	}
	return Table{m: m, f: f, level: level}
}

// Frame returns the table's frame.
func (t Table) Frame() mem.Frame { return t.f }

// Level returns the table's paging level.
func (t Table) Level() uint8 { return t.level }

func (t Table) entry(i int) *uint64 {
	if i < 0 || i >= EntriesPerTable {
		panic("ptable: index out of range")
	}
	return &t.m.FrameWords(t.f)[i]
}

// Load reads entry i. ok is false when the entry is empty.
func (t Table) Load(i int) (mem.Frame, Flags, bool) {
	pte := atomic.LoadUint64(t.entry(i))
	if pte == 0 {
		return 0, 0, false
	}
	f, flags := unpack(pte)
	return f, flags, true
}

// Link atomically fills an empty entry. False means the entry was
// occupied; the caller rolls its refcount back.
func (t Table) Link(i int, f mem.Frame, flags Flags) bool {
	return atomic.CompareAndSwapUint64(t.entry(i), 0, pack(f, flags|FlagPresent))
}

// Unlink atomically empties an entry, returning what it held. The
// caller must shoot down the TLB before dropping the frame reference.
func (t Table) Unlink(i int) (mem.Frame, Flags, bool) {
	pte := atomic.SwapUint64(t.entry(i), 0)
	if pte == 0 {
		return 0, 0, false
	}
	f, flags := unpack(pte)
	return f, flags, true
}

// ChangeFlags rewrites an entry's flags, preserving its frame. False
// when the entry is empty.
func (t Table) ChangeFlags(i int, flags Flags) bool {
	e := t.entry(i)
	for {
		old := atomic.LoadUint64(e)
		if old == 0 {
			return false
		}
		f, oldFlags := unpack(old)
		next := pack(f, flags|FlagPresent|oldFlags&FlagHuge)
		if atomic.CompareAndSwapUint64(e, old, next) {
			return true
		}
	}
}

// InitKernelHalf copies the upper-half entries of the kernel template
// into a table under construction. Runs before the frame is published,
// so plain stores suffice on the destination.
func InitKernelHalf(words *[mem.FrameSize / 8]uint64, template Table) {
	for i := KernelHalfStart; i < EntriesPerTable; i++ {
		words[i] = atomic.LoadUint64(template.entry(i))
	}
}
