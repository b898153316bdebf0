package machine

import (
	"runtime"
	"sync/atomic"
)

// Core is one execution unit. The kernel runs syscalls on a core with
// interrupts masked; the mask also defers TLB shootdown IPIs, which the
// core acknowledges when the mask is lifted.
type Core struct {
	m  *Machine
	id int

	online atomic.Bool
	masked atomic.Bool
	tlbAck atomic.Uint64
}

func newCore(m *Machine, id int) *Core {
	c := &Core{m: m, id: id}
	c.online.Store(true)
	return c
}

// ID returns the core number.
func (c *Core) ID() int { return c.id }

// Online reports whether the core participates in shootdowns.
func (c *Core) Online() bool { return c.online.Load() }

// SetOnline marks the core on or offline. An offlined core flushes its
// TLB when it comes back, so it never acknowledges stale generations.
func (c *Core) SetOnline(on bool) {
	if on {
		c.ackTLB(c.m.tlbEpoch.Load())
	}
	c.online.Store(on)
}

// MaskInterrupts enters the non-preemptible region a syscall runs in.
func (c *Core) MaskInterrupts() { c.masked.Store(true) }

// UnmaskInterrupts leaves the non-preemptible region and services any
// shootdown IPIs that arrived while masked.
func (c *Core) UnmaskInterrupts() {
	c.masked.Store(false)
	c.ackTLB(c.m.tlbEpoch.Load())
}

// Masked reports whether interrupts are masked.
func (c *Core) Masked() bool { return c.masked.Load() }

// Exec runs fn with interrupts masked, as the syscall entry stub does.
func (c *Core) Exec(fn func()) {
	c.MaskInterrupts()
	defer c.UnmaskInterrupts()
	fn()
}

// ackTLB records that the local TLB holds no translation older than gen.
func (c *Core) ackTLB(gen uint64) {
	for {
		cur := c.tlbAck.Load()
		if cur >= gen || c.tlbAck.CompareAndSwap(cur, gen) {
			return
		}
	}
}

// waitTLBAck spins until the core has acknowledged gen. Offline and
// unmasked cores acknowledge on the waiter's behalf: an offline core
// flushes on onlining, and an unmasked core has no syscall in flight
// that could consume a stale translation.
func (c *Core) waitTLBAck(gen uint64) {
	for c.tlbAck.Load() < gen {
		if !c.online.Load() || !c.masked.Load() {
			c.ackTLB(gen)
			return
		}
		runtime.Gosched()
	}
}
