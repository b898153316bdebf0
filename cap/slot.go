// Package cap implements the capability store: page-wide trie nodes of
// 64-byte slots through which every privileged operation is authorized.
// Nodes are kernel-object frames; slots are edited with single-word
// atomics only, so concurrent syscalls on different cores serialize per
// slot and nowhere else.
package cap

import (
	"sync/atomic"

	"helix/abi"
	"helix/machine"
	"helix/mem"
)

// Slot word layout. A slot occupies 64 bytes (8 words); three are used:
//
//	word 0: kind<<56 | rights<<40 | frame
//	word 1: per-kind payload (entry point, port window, region length)
//	word 2: trie child link (frame+1, 0 = none)
//
// The payload word is written before the word-0 CAS that publishes the
// slot, and word 0 is cleared before anything else on teardown, so a
// reader that observes a kind also observes that kind's payload.
const (
	slotWords = 8

	wordValue = 0
	wordAux   = 1
	wordChild = 2

	kindShift   = 56
	rightsShift = 40
	frameMask   = (1 << rightsShift) - 1
)

// Value is the decoded resource half of a slot.
type Value struct {
	Kind   abi.ResourceKind
	Rights abi.Rights
	Frame  mem.Frame
	Aux    uint64
}

// IsNone reports whether the slot is empty.
func (v Value) IsNone() bool { return v.Kind == abi.KindNone }

func packValue(v Value) uint64 {
	return uint64(v.Kind)<<kindShift | uint64(v.Rights)<<rightsShift | uint64(v.Frame)&frameMask
}

func unpackValue(w uint64) Value {
	return Value{
		Kind:   abi.ResourceKind(w >> kindShift),
		Rights: abi.Rights(w >> rightsShift),
		Frame:  mem.Frame(w & frameMask),
	}
}

// Node is a view of one capability-table frame.
type Node struct {
	m *machine.Machine
	f mem.Frame
}

// NodeAt views the capability-table node in frame f. The caller must
// hold a reference that keeps the frame kernel-typed.
func NodeAt(m *machine.Machine, f mem.Frame) Node {
	return Node{m: m, f: f}
}

// Frame returns the node's frame.
func (n Node) Frame() mem.Frame { return n.f }

// Slot addresses slot i of the node.
func (n Node) Slot(i int) Slot {
	if i < 0 || i >= abi.SlotsPerNode {
		panic("cap: slot index out of range")
	}
	return Slot{n: n, i: i}
}

// Slot is one capability slot.
type Slot struct {
	n Node
	i int
}

func (s Slot) word(w int) *uint64 {
	return &s.n.m.FrameWords(s.n.f)[s.i*slotWords+w]
}

// Load reads the slot's resource value. The payload is read after the
// value word so a concurrently-installed slot is seen whole.
func (s Slot) Load() Value {
	w := atomic.LoadUint64(s.word(wordValue))
	v := unpackValue(w)
	v.Aux = atomic.LoadUint64(s.word(wordAux))
	return v
}

// Install publishes a resource into an empty slot. Exactly one of any
// set of concurrent installs wins; the losers see false.
func (s Slot) Install(v Value) bool {
	atomic.StoreUint64(s.word(wordAux), v.Aux)
	return atomic.CompareAndSwapUint64(s.word(wordValue), 0, packValue(v))
}

// Clear empties the slot and returns what it held. False if the slot
// was already empty.
func (s Slot) Clear() (Value, bool) {
	w := atomic.SwapUint64(s.word(wordValue), 0)
	if w == 0 {
		return Value{}, false
	}
	v := unpackValue(w)
	v.Aux = atomic.LoadUint64(s.word(wordAux))
	return v, true
}

// SwapAux atomically replaces the payload word. Shared resource state
// never lives here (copies do not share slots); this is for slot-local
// payloads only.
func (s Slot) SwapAux(aux uint64) uint64 {
	return atomic.SwapUint64(s.word(wordAux), aux)
}

// Child reads the trie child link.
func (s Slot) Child() (mem.Frame, bool) {
	w := atomic.LoadUint64(s.word(wordChild))
	if w == 0 {
		return 0, false
	}
	return mem.Frame(w - 1), true
}

// SetChild splices a child node into the trie. Fails if a child is
// already linked.
func (s Slot) SetChild(f mem.Frame) bool {
	return atomic.CompareAndSwapUint64(s.word(wordChild), 0, uint64(f)+1)
}

// ClearChild unsplices the child link, returning the former child.
func (s Slot) ClearChild() (mem.Frame, bool) {
	w := atomic.SwapUint64(s.word(wordChild), 0)
	if w == 0 {
		return 0, false
	}
	return mem.Frame(w - 1), true
}
