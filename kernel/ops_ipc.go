package kernel

import (
	"helix/abi"
	"helix/cap"
	"helix/ipc"
	"helix/retype"
	"helix/thread"
)

// opSyncCall is a direct context switch into the server thread at the
// gate's entry point. Nothing queues: a server serves one call at a
// time and the caller sleeps until the explicit reply.
func (k *Kernel) opSyncCall(core int, cur thread.TCB, v cap.Value, args abi.Args) abi.Result {
	server := thread.At(k.m, v.Frame)
	if server.Frame() == cur.Frame() {
		return abi.Fail(abi.ErrBadState)
	}

	// Pin the server across the switch. A dead (reclaimed) server TCB
	// fails here, which is the server-down case.
	if errno := k.rt.IncRef(v.Frame, retype.StateKernel); errno != abi.OK {
		return abi.Fail(abi.ErrBadState)
	}
	if !server.TrySetCaller(cur.Frame()) {
		k.releaseObject(core, v.Frame, abi.KindThread)
		return abi.Fail(abi.ErrBusy)
	}
	if !server.TryActivate() {
		server.ClearCaller()
		k.releaseObject(core, v.Frame, abi.KindThread)
		return abi.Fail(abi.ErrBusy)
	}

	// Switch. The core's reference to the caller moves into the
	// server's caller link; the reference taken above becomes the
	// core's hold on the server.
	regs := k.CoreRegs(core)
	cur.SaveRegs(*regs)
	cur.Deactivate()
	srv := server.Regs()
	*regs = thread.Regs{
		RIP: v.Aux,
		RSP: srv.RSP,
		GP:  [8]uint64{args.A[0], args.A[1], args.A[2], args.A[3]},
	}
	k.setCurrent(core, server.Frame())
	return abi.OKResult(0, 0)
}

// opSyncReply resumes the caller parked in the server's caller link.
func (k *Kernel) opSyncReply(core int, cur thread.TCB, v cap.Value, args abi.Args) abi.Result {
	if v.Frame != cur.Frame() {
		// Only the gate's own server replies through it.
		return abi.Fail(abi.ErrBadState)
	}
	callerFrame, ok := cur.ClearCaller()
	if !ok {
		return abi.Fail(abi.ErrBadState)
	}
	caller := thread.At(k.m, callerFrame)
	if !caller.TryActivate() {
		// Someone re-activated the caller out from under the call;
		// restore the link and report the contention.
		cur.TrySetCaller(callerFrame)
		return abi.Fail(abi.ErrBusy)
	}

	regs := k.CoreRegs(core)
	cur.SaveRegs(*regs)
	cur.Deactivate()
	*regs = caller.Regs()
	regs.GP[0] = args.A[0] // reply word
	k.setCurrent(core, callerFrame)
	k.releaseObject(core, cur.Frame(), abi.KindThread)
	return abi.OKResult(0, 0)
}

func (k *Kernel) opNotifySignal(v cap.Value, args abi.Args) abi.Result {
	ipc.NotifyAt(k.m, v.Frame).Signal(args.A[0])
	return abi.OKResult(0, 0)
}

func (k *Kernel) opNotifyWait(v cap.Value) abi.Result {
	return abi.OKResult(ipc.NotifyAt(k.m, v.Frame).Wait(), 0)
}
