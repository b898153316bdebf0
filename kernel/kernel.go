// Package kernel ties the core subsystems together: the syscall
// dispatcher, the boot handoff, object construction and reclamation,
// and the per-core current-thread registry.
package kernel

import (
	"sync/atomic"

	"helix/abi"
	"helix/cap"
	"helix/klog"
	"helix/machine"
	"helix/mem"
	"helix/ptable"
	"helix/retype"
	"helix/thread"
)

// Kernel owns no heap: every kernel object lives in a physical frame
// and the only Go-side state is bookkeeping the hardware would hold in
// registers or per-core structures.
type Kernel struct {
	m   *machine.Machine
	rt  *retype.Table
	log *klog.Logger

	// kernelL4 is the template whose upper half every address space
	// shares by shallow copy.
	kernelL4 mem.Frame

	cores []coreCtx

	irqNotify [machine.NumIRQLines]atomic.Uint64 // notify frame+1
	irqBits   [machine.NumIRQLines]atomic.Uint64
}

// coreCtx is what real hardware would keep in per-core registers: the
// running thread and the live register file. regs is only touched by
// the core that owns it.
type coreCtx struct {
	current atomic.Uint64 // TCB frame+1, 0 = none
	regs    thread.Regs
}

// Machine returns the machine the kernel runs on.
func (k *Kernel) Machine() *machine.Machine { return k.m }

// Retype returns the retype table. Exposed for the test harness and
// boot diagnostics; user space only reaches it through syscalls.
func (k *Kernel) Retype() *retype.Table { return k.rt }

// CurrentThread returns the TCB running on a core.
func (k *Kernel) CurrentThread(core int) (thread.TCB, bool) {
	w := k.cores[core].current.Load()
	if w == 0 {
		return thread.TCB{}, false
	}
	return thread.At(k.m, mem.Frame(w-1)), true
}

// CoreRegs returns the live register file of a core. Only meaningful
// from the core's own execution context.
func (k *Kernel) CoreRegs(core int) *thread.Regs {
	return &k.cores[core].regs
}

func (k *Kernel) setCurrent(core int, f mem.Frame) {
	k.cores[core].current.Store(uint64(f) + 1)
}

// halt reports a kernel invariant violation. Never returns on real
// hardware; the machine decides what a halted core does in tests.
func (k *Kernel) halt(core int, msg string) {
	k.m.HaltCore(core, msg)
}

// objectKind reports whether a capability kind names a kernel-object
// frame, one that releaseObject tears down when its last reference
// drops. Non-object kinds return false.
func objectKind(kind abi.ResourceKind) bool {
	switch kind {
	case abi.KindCapTable, abi.KindThread, abi.KindAsyncNotify,
		abi.KindPTL4, abi.KindPTL3, abi.KindPTL2, abi.KindPTL1:
		return true
	default:
		return false
	}
}

// releaseObject drops one reference to a kernel-object frame. The
// holder of the last reference reclaims the frame: it tears down the
// payload (dropping the references the object itself holds) and
// returns the frame to untyped. Work is bounded by the number of live
// references released, never by contention.
func (k *Kernel) releaseObject(core int, f mem.Frame, kind abi.ResourceKind) {
	for {
		if k.rt.DecRefIfShared(f, retype.StateKernel) {
			return
		}
		h, err := k.rt.TryReclaim(f, retype.StateKernel)
		switch err {
		case abi.OK:
			k.teardown(core, f, kind)
			h.Abort()
			return
		case abi.ErrBusy:
			// A racing copy resurrected the count; go around.
		default:
			k.halt(core, "releasing "+kind.String()+" frame in state "+err.String())
			return
		}
	}
}

// teardown drops the references a dying kernel object holds. The
// frame is in the retyping state, so no new references to it can
// form while this runs.
func (k *Kernel) teardown(core int, f mem.Frame, kind abi.ResourceKind) {
	switch kind {
	case abi.KindCapTable:
		n := cap.NodeAt(k.m, f)
		for i := 0; i < abi.SlotsPerNode; i++ {
			s := n.Slot(i)
			if v, ok := s.Clear(); ok {
				k.releaseResource(core, v)
			}
			if child, ok := s.ClearChild(); ok {
				k.releaseObject(core, child, abi.KindCapTable)
			}
		}
	case abi.KindThread:
		t := thread.At(k.m, f)
		k.releaseObject(core, t.CapTableFrame(), abi.KindCapTable)
		k.releaseObject(core, t.L4Frame(), abi.KindPTL4)
		if caller, ok := t.ClearCaller(); ok {
			k.releaseObject(core, caller, abi.KindThread)
		}
	case abi.KindPTL4, abi.KindPTL3, abi.KindPTL2, abi.KindPTL1:
		k.teardownPageTable(core, f, kind.PTLevel())
	case abi.KindAsyncNotify:
		// The bitset dies with the frame.
	default:
		k.halt(core, "teardown of non-object kind "+kind.String())
	}
}

func (k *Kernel) teardownPageTable(core int, f mem.Frame, level uint8) {
	t := ptable.At(k.m, f, level)
	limit := ptable.EntriesPerTable
	if level == 4 {
		// The upper half belongs to the kernel template; the refs it
		// holds were never charged to this table.
		limit = ptable.KernelHalfStart
	}
	shot := false
	for i := 0; i < limit; i++ {
		child, flags, ok := t.Unlink(i)
		if !ok {
			continue
		}
		if level > 1 && flags&ptable.FlagHuge == 0 {
			k.releaseObject(core, child, abi.PTKindForLevel(level-1))
			continue
		}
		// A leaf mapping: flush before returning the user frame.
		if !shot {
			k.m.TLBShootdown(k.m.Core(core))
			shot = true
		}
		if _, ok := k.rt.DecRef(child); !ok {
			k.halt(core, "page-table leaf over unreferenced frame")
		}
	}
}

// releaseResource drops the reference a capability slot held.
func (k *Kernel) releaseResource(core int, v cap.Value) {
	switch {
	case v.IsNone():
	case objectKind(v.Kind):
		k.releaseObject(core, v.Frame, v.Kind)
	case v.Kind == abi.KindSyncInvocation:
		k.releaseObject(core, v.Frame, abi.KindThread)
	case v.Kind == abi.KindMemoryRegion, v.Kind == abi.KindHWPort, v.Kind == abi.KindHWIRQ:
		// Range capabilities hold no frame references.
	default:
		k.halt(core, "dropping capability of kind "+v.Kind.String())
	}
}
