// Package thread implements thread control blocks. A TCB occupies one
// kernel frame and holds the saved register file, scheduling fields
// and the roots of the thread's capability and address spaces.
package thread

import (
	"sync/atomic"

	"helix/machine"
	"helix/mem"
)

// Regs is the register file saved into and restored from a TCB on a
// context switch.
type Regs struct {
	RIP    uint64
	RSP    uint64
	RFLAGS uint64
	Arg0   uint64
	GP     [8]uint64
}

// TCB word layout within the frame. The register save area comes
// first; the metadata words follow. The rest of the frame is reserved,
// the price of the one-object-per-frame rule.
const (
	wRIP    = 0
	wRSP    = 1
	wRFLAGS = 2
	wArg0   = 3
	wGPBase = 4 // 8 words

	wEntry    = 12
	wAffinity = 16
	wActive   = 17
	wCapTable = 18
	wL4       = 19
	wCaller   = 20
)

// TCB is a view of one thread-control-block frame.
type TCB struct {
	m *machine.Machine
	f mem.Frame
}

// At views the TCB in frame f. The caller must hold a reference that
// keeps the frame kernel-typed.
func At(m *machine.Machine, f mem.Frame) TCB {
	return TCB{m: m, f: f}
}

// Frame returns the TCB's frame.
func (t TCB) Frame() mem.Frame { return t.f }

func (t TCB) word(i int) *uint64 {
	return &t.m.FrameWords(t.f)[i]
}

// InitWords builds a TCB in a frame under construction (plain stores;
// the retype publish orders them for other cores).
func InitWords(words *[mem.FrameSize / 8]uint64, entry, stack, arg0 uint64, capTable, l4 mem.Frame, affinity uint32) {
	words[wRIP] = entry
	words[wRSP] = stack
	words[wArg0] = arg0
	words[wEntry] = entry
	words[wAffinity] = uint64(affinity)
	words[wCapTable] = uint64(capTable)
	words[wL4] = uint64(l4)
}

// Regs reads the saved register file.
func (t TCB) Regs() Regs {
	var r Regs
	r.RIP = atomic.LoadUint64(t.word(wRIP))
	r.RSP = atomic.LoadUint64(t.word(wRSP))
	r.RFLAGS = atomic.LoadUint64(t.word(wRFLAGS))
	r.Arg0 = atomic.LoadUint64(t.word(wArg0))
	for i := range r.GP {
		r.GP[i] = atomic.LoadUint64(t.word(wGPBase + i))
	}
	return r
}

// SaveRegs stores a register file into the TCB.
func (t TCB) SaveRegs(r Regs) {
	atomic.StoreUint64(t.word(wRIP), r.RIP)
	atomic.StoreUint64(t.word(wRSP), r.RSP)
	atomic.StoreUint64(t.word(wRFLAGS), r.RFLAGS)
	atomic.StoreUint64(t.word(wArg0), r.Arg0)
	for i := range r.GP {
		atomic.StoreUint64(t.word(wGPBase+i), r.GP[i])
	}
}

// Entry returns the thread's initial instruction pointer.
func (t TCB) Entry() uint64 { return atomic.LoadUint64(t.word(wEntry)) }

// Affinity returns the core the thread may run on.
func (t TCB) Affinity() uint32 {
	return uint32(atomic.LoadUint64(t.word(wAffinity)))
}

// SetAffinity moves the thread to another core. The dispatcher only
// permits this from the core named by the current affinity.
func (t TCB) SetAffinity(core uint32) {
	atomic.StoreUint64(t.word(wAffinity), uint64(core))
}

// Active reports whether the thread currently owns a core.
func (t TCB) Active() bool {
	return atomic.LoadUint64(t.word(wActive)) != 0
}

// TryActivate claims the thread for execution. Exactly one activation
// wins; false means the thread was already active.
func (t TCB) TryActivate() bool {
	return atomic.CompareAndSwapUint64(t.word(wActive), 0, 1)
}

// Deactivate releases the thread after its core switched away.
func (t TCB) Deactivate() {
	atomic.StoreUint64(t.word(wActive), 0)
}

// CapTableFrame returns the thread's root capability table.
func (t TCB) CapTableFrame() mem.Frame {
	return mem.Frame(atomic.LoadUint64(t.word(wCapTable)))
}

// L4Frame returns the root of the thread's address space.
func (t TCB) L4Frame() mem.Frame {
	return mem.Frame(atomic.LoadUint64(t.word(wL4)))
}

// Caller returns the TCB frame of the thread this one is serving, if a
// synchronous call is in progress.
func (t TCB) Caller() (mem.Frame, bool) {
	w := atomic.LoadUint64(t.word(wCaller))
	if w == 0 {
		return 0, false
	}
	return mem.Frame(w - 1), true
}

// TrySetCaller links a sync caller. A server serves one call at a
// time; false means a call is already in progress.
func (t TCB) TrySetCaller(caller mem.Frame) bool {
	return atomic.CompareAndSwapUint64(t.word(wCaller), 0, uint64(caller)+1)
}

// ClearCaller unlinks the sync caller, returning it.
func (t TCB) ClearCaller() (mem.Frame, bool) {
	w := atomic.SwapUint64(t.word(wCaller), 0)
	if w == 0 {
		return 0, false
	}
	return mem.Frame(w - 1), true
}
