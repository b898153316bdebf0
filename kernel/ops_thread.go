package kernel

import (
	"helix/abi"
	"helix/cap"
	"helix/retype"
	"helix/thread"
)

func (k *Kernel) opThreadActivate(core int, cur thread.TCB, v cap.Value) abi.Result {
	target := thread.At(k.m, v.Frame)
	if target.Frame() == cur.Frame() {
		return abi.Fail(abi.ErrBadState)
	}
	if int(target.Affinity()) != core {
		return abi.Fail(abi.ErrWrongCore)
	}

	// Pin the target before claiming it so a racing drop cannot
	// reclaim the frame under the switch.
	if errno := k.rt.IncRef(v.Frame, retype.StateKernel); errno != abi.OK {
		return abi.Fail(errno)
	}
	if !target.TryActivate() {
		k.releaseObject(core, v.Frame, abi.KindThread)
		return abi.Fail(abi.ErrBadState)
	}

	// The switch: park the outgoing register file, adopt the target's,
	// and move the core's thread reference.
	regs := k.CoreRegs(core)
	cur.SaveRegs(*regs)
	cur.Deactivate()
	*regs = target.Regs()
	k.setCurrent(core, target.Frame())
	k.releaseObject(core, cur.Frame(), abi.KindThread)
	return abi.OKResult(0, 0)
}

func (k *Kernel) opThreadSetAffinity(core int, v cap.Value, args abi.Args) abi.Result {
	target := thread.At(k.m, v.Frame)
	if int(target.Affinity()) != core {
		return abi.Fail(abi.ErrWrongCore)
	}
	newCore := args.A[0]
	if newCore >= uint64(k.m.NumCores()) {
		return abi.Fail(abi.ErrFault)
	}
	target.SetAffinity(uint32(newCore))
	return abi.OKResult(0, 0)
}

func (k *Kernel) opThreadIntrospect(v cap.Value) abi.Result {
	t := thread.At(k.m, v.Frame)
	ret0, ret1 := abi.PackThreadState(abi.ThreadState{
		Affinity: t.Affinity(),
		Active:   t.Active(),
		Entry:    t.Entry(),
	})
	return abi.OKResult(ret0, ret1)
}
