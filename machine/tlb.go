package machine

import "sync/atomic"

// The shootdown fabric is a single global generation counter plus a
// per-core acknowledged generation. An unmap bumps the epoch, then
// waits for every core to catch up. A core acknowledges either when
// it services the IPI (interrupts unmasked) or when the waiter proves
// the core cannot hold the stale translation (offline, or between
// syscalls). Completion is bounded by the core count: each core needs
// at most one syscall to drain.

type tlbFabric struct {
	tlbEpoch atomic.Uint64
}

// TLBShootdown invalidates a mapping on every core and returns once no
// core can observe it. The initiating core flushes implicitly.
func (m *Machine) TLBShootdown(initiator *Core) uint64 {
	gen := m.tlbEpoch.Add(1)
	if initiator != nil {
		initiator.ackTLB(gen)
	}
	for _, c := range m.cores {
		if c == initiator {
			continue
		}
		c.waitTLBAck(gen)
	}
	return gen
}

// TLBEpoch returns the current shootdown generation.
func (m *Machine) TLBEpoch() uint64 { return m.tlbEpoch.Load() }
