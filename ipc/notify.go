// Package ipc implements asynchronous notification objects. Nothing is
// queued: a notification is a bitset. The synchronous invocation gate
// keeps no state here; it is a kernel operation that switches threads
// through the TCB caller link in package thread.
package ipc

import (
	"sync/atomic"

	"helix/machine"
	"helix/mem"
)

// Notify is a view of a notification-object frame: the first word is
// the pending-signal bitset. Keeping the bitset in its own kernel
// frame (rather than in capability slots) means every copy of a
// notify capability signals and waits on the same state.
type Notify struct {
	m *machine.Machine
	f mem.Frame
}

// NotifyAt views the notification object in frame f.
func NotifyAt(m *machine.Machine, f mem.Frame) Notify {
	return Notify{m: m, f: f}
}

// Frame returns the object's frame.
func (n Notify) Frame() mem.Frame { return n.f }

func (n Notify) word() *uint64 {
	return &n.m.FrameWords(n.f)[0]
}

// Signal ORs bits into the pending set.
func (n Notify) Signal(bits uint64) {
	for {
		old := atomic.LoadUint64(n.word())
		if old|bits == old || atomic.CompareAndSwapUint64(n.word(), old, old|bits) {
			return
		}
	}
}

// Wait reads and clears the pending set. Zero means nothing was
// pending; the kernel never blocks a waiter.
func (n Notify) Wait() uint64 {
	return atomic.SwapUint64(n.word(), 0)
}

// Peek reads the pending set without clearing it.
func (n Notify) Peek() uint64 {
	return atomic.LoadUint64(n.word())
}
