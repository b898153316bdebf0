// Package retype implements the per-frame ownership state machine that
// gates every physical memory transition. Each frame has one packed
// atomic entry holding its state and reference count; all mutation is
// single-word CAS, so the table is safe against any interleaving of
// syscalls across cores.
package retype

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"helix/abi"
	"helix/machine"
	"helix/mem"
)

// State is the ownership type of a physical frame.
type State uint8

const (
	// StateUnavailable marks holes and firmware-reserved ranges. These
	// frames never transition.
	StateUnavailable State = iota
	// StateUntyped frames are owned by nobody and hold no references.
	StateUntyped
	// StateRetyping is the transient exclusive-ownership state between
	// a successful acquire and the retype that publishes the frame.
	StateRetyping
	// StateUser frames back user mappings; the count is the number of
	// live PTEs plus outstanding kernel handles.
	StateUser
	// StateKernel frames hold kernel objects; the count is the number
	// of live kernel references.
	StateKernel
)

func (s State) String() string {
	switch s {
	case StateUnavailable:
		return "unavailable"
	case StateUntyped:
		return "untyped"
	case StateRetyping:
		return "retyping"
	case StateUser:
		return "user"
	case StateKernel:
		return "kernel"
	default:
		return "invalid"
	}
}

const (
	counterBits = 16
	// MaxRefCount is the largest representable reference count.
	MaxRefCount = 1<<counterBits - 1
)

// entry packs (state, count) into one atomic word: count in the low 16
// bits, state above it. Entries live inside machine RAM, carved off the
// boot memory map, so the table itself obeys the no-kernel-heap rule.
type entry struct {
	v atomic.Uint32
}

func pack(s State, count uint32) uint32 {
	return uint32(s)<<counterBits | count
}

func unpack(v uint32) (State, uint32) {
	return State(v >> counterBits), v & MaxRefCount
}

func (e *entry) load() (State, uint32) {
	return unpack(e.v.Load())
}

// Table is the retype table: one entry per physical frame.
type Table struct {
	m       *machine.Machine
	entries []entry
}

// entrySize must stay a divisor of the frame size.
const entrySize = unsafe.Sizeof(entry{})

// New places a table covering frames [0, top) into frames taken off
// the boot allocator. All entries start unavailable; Seed applies the
// memory map.
func New(m *machine.Machine, alloc *mem.BumpAllocator, top mem.PhysAddr) (*Table, error) {
	if !top.IsFrameAligned() || top == 0 {
		return nil, fmt.Errorf("retype: bad physical top %#x", uint64(top))
	}
	nframes := uint64(top) / mem.FrameSize
	tableBytes := nframes * uint64(entrySize)
	tableFrames := (tableBytes + mem.FrameSize - 1) / mem.FrameSize

	base, ok := alloc.AllocFrames(tableFrames)
	if !ok {
		return nil, fmt.Errorf("retype: no room for %d table frames", tableFrames)
	}
	raw, ok := m.Bytes(base, tableFrames*mem.FrameSize)
	if !ok {
		return nil, fmt.Errorf("retype: table at %#x outside RAM", uint64(base))
	}

	t := &Table{
		m:       m,
		entries: unsafe.Slice((*entry)(unsafe.Pointer(&raw[0])), nframes),
	}
	for i := range t.entries {
		t.entries[i].v.Store(pack(StateUnavailable, 0))
	}
	return t, nil
}

// Seed applies the post-boot memory map: usable frames become untyped,
// kernel and bootloader frames become kernel-owned with one reference,
// everything else stays unavailable.
func (t *Table) Seed(mm mem.Map) {
	for _, e := range mm {
		start := e.Base.FrameDown()
		for i := uint64(0); i < e.Frames(); i++ {
			f := start + mem.Frame(i)
			if uint64(f) >= uint64(len(t.entries)) {
				continue
			}
			switch e.Type {
			case mem.EntryUsable:
				t.entries[f].v.Store(pack(StateUntyped, 0))
			case mem.EntryKernelAndModules, mem.EntryBootloaderReclaimable:
				t.entries[f].v.Store(pack(StateKernel, 1))
			default:
				t.entries[f].v.Store(pack(StateUnavailable, 0))
			}
		}
	}
}

// Frames returns the number of frames the table covers.
func (t *Table) Frames() uint64 { return uint64(len(t.entries)) }

func (t *Table) entry(f mem.Frame) (*entry, bool) {
	if uint64(f) >= uint64(len(t.entries)) {
		return nil, false
	}
	return &t.entries[f], true
}

// Get returns the current (state, refcount) of a frame.
func (t *Table) Get(f mem.Frame) (State, uint32) {
	e, ok := t.entry(f)
	if !ok {
		return StateUnavailable, 0
	}
	return e.load()
}

// UntypedHandle is the exclusive ownership of a frame in the retyping
// state. Exactly one acquire wins it; it must end in a Retype or an
// Abort.
type UntypedHandle struct {
	t *Table
	f mem.Frame
}

// Frame returns the owned frame.
func (h UntypedHandle) Frame() mem.Frame { return h.f }

// AcquireUntyped claims an untyped frame for retyping. Exactly one of
// any set of concurrent acquires succeeds; the losers see ErrBusy. A
// frame in any other state fails with ErrBadState.
func (t *Table) AcquireUntyped(f mem.Frame) (UntypedHandle, abi.Errno) {
	e, ok := t.entry(f)
	if !ok {
		return UntypedHandle{}, abi.ErrFault
	}
	v := e.v.Load()
	state, _ := unpack(v)
	switch state {
	case StateUntyped:
	case StateRetyping:
		return UntypedHandle{}, abi.ErrBusy
	default:
		return UntypedHandle{}, abi.ErrBadState
	}
	if !e.v.CompareAndSwap(pack(StateUntyped, 0), pack(StateRetyping, 1)) {
		return UntypedHandle{}, abi.ErrBusy
	}
	return UntypedHandle{t: t, f: f}, abi.OK
}

// RetypeKernel publishes the frame as a kernel object. The frame is
// zeroed, init builds the object in place, and the state store
// releases the payload: any core that observes the kernel state also
// observes the initialized object.
func (h UntypedHandle) RetypeKernel(init func(words *[mem.FrameSize / 8]uint64)) {
	h.t.m.ZeroFrame(h.f)
	if init != nil {
		init(h.t.m.FrameWords(h.f))
	}
	e, _ := h.t.entry(h.f)
	e.v.Store(pack(StateKernel, 1))
}

// RetypeUser publishes the frame as user memory. The payload is zeroed
// so no prior owner's bytes leak.
func (h UntypedHandle) RetypeUser() {
	h.t.m.ZeroFrame(h.f)
	e, _ := h.t.entry(h.f)
	e.v.Store(pack(StateUser, 1))
}

// Abort returns the frame to untyped without publishing it.
func (h UntypedHandle) Abort() {
	e, _ := h.t.entry(h.f)
	e.v.Store(pack(StateUntyped, 0))
}

// IncRef adds a reference to a frame iff its state is still expected.
// Fails with ErrBadState when the state moved under the caller, who
// must retry or abort.
func (t *Table) IncRef(f mem.Frame, expected State) abi.Errno {
	e, ok := t.entry(f)
	if !ok {
		return abi.ErrFault
	}
	for {
		v := e.v.Load()
		state, count := unpack(v)
		if state != expected {
			return abi.ErrBadState
		}
		if count >= MaxRefCount {
			return abi.ErrBusy
		}
		if e.v.CompareAndSwap(v, v+1) {
			return abi.OK
		}
	}
}

// DecRefIfShared drops a reference only when it is not the last one.
// Kernel objects use it so the last reference goes through TryReclaim
// and the payload is torn down before the frame is reused. False means
// the caller appears to hold the last reference (or the state is not
// expected) and must reclaim instead.
func (t *Table) DecRefIfShared(f mem.Frame, expected State) bool {
	e, ok := t.entry(f)
	if !ok {
		return false
	}
	for {
		v := e.v.Load()
		state, count := unpack(v)
		if state != expected || count <= 1 {
			return false
		}
		if e.v.CompareAndSwap(v, v-1) {
			return true
		}
	}
}

// TryReclaim takes exclusive ownership of a frame whose last reference
// the caller holds, moving it to the retyping state so the owner can
// tear the payload down before returning it to untyped (via Abort) or
// republishing it. ErrBusy means other references still exist or the
// count moved; ErrBadState means the frame is not in the expected
// state.
func (t *Table) TryReclaim(f mem.Frame, expected State) (UntypedHandle, abi.Errno) {
	if expected != StateKernel && expected != StateUser {
		return UntypedHandle{}, abi.ErrBadState
	}
	e, ok := t.entry(f)
	if !ok {
		return UntypedHandle{}, abi.ErrFault
	}
	state, count := e.load()
	if state != expected {
		return UntypedHandle{}, abi.ErrBadState
	}
	if count != 1 {
		return UntypedHandle{}, abi.ErrBusy
	}
	if !e.v.CompareAndSwap(pack(expected, 1), pack(StateRetyping, 1)) {
		return UntypedHandle{}, abi.ErrBusy
	}
	return UntypedHandle{t: t, f: f}, abi.OK
}

// DecRef drops a reference. The transition back to untyped happens in
// the same CAS that drops the last reference, so no observer ever sees
// a typed frame with a zero count. Returns the frame's new state and
// false on an invariant violation (count already zero), which the
// caller must treat as a kernel bug.
func (t *Table) DecRef(f mem.Frame) (State, bool) {
	e, ok := t.entry(f)
	if !ok {
		return StateUnavailable, false
	}
	for {
		v := e.v.Load()
		state, count := unpack(v)
		if count == 0 || state == StateUntyped || state == StateUnavailable {
			return state, false
		}
		var next uint32
		if count == 1 && (state == StateKernel || state == StateUser) {
			next = pack(StateUntyped, 0)
		} else {
			next = v - 1
		}
		if e.v.CompareAndSwap(v, next) {
			s, _ := unpack(next)
			return s, true
		}
	}
}
