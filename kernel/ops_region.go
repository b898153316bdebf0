package kernel

import (
	"helix/abi"
	"helix/cap"
	"helix/region"
	"helix/retype"
	"helix/thread"
)

func (k *Kernel) opRegionSplit(cur thread.TCB, v cap.Value, args abi.Args) abi.Result {
	r := region.FromWords(v.Frame, v.Aux)
	left, right, ok := r.Split()
	if !ok {
		return abi.Fail(abi.ErrBadState)
	}

	dtv, errno := k.lookupValue(cur, abi.CapID(args.A[0]))
	if errno != abi.OK {
		return abi.Fail(errno)
	}
	if dtv.Kind != abi.KindCapTable {
		return abi.Fail(abi.ErrBadOp)
	}
	if dtv.Rights&abi.RightCTCreate == 0 {
		return abi.Fail(abi.ErrRights)
	}
	leftIdx, rightIdx := args.A[1], args.A[2]
	if leftIdx >= abi.SlotsPerNode || rightIdx >= abi.SlotsPerNode || leftIdx == rightIdx {
		return abi.Fail(abi.ErrFault)
	}

	node := cap.NodeAt(k.m, dtv.Frame)
	leftSlot := node.Slot(int(leftIdx))
	rightSlot := node.Slot(int(rightIdx))

	// The halves inherit the parent's rights; the parent capability is
	// untouched, so splitting is copy-like and needs no retype traffic.
	if !leftSlot.Install(cap.Value{Kind: abi.KindMemoryRegion, Rights: v.Rights, Frame: left.Base, Aux: left.Frames}) {
		return abi.Fail(abi.ErrBusy)
	}
	if !rightSlot.Install(cap.Value{Kind: abi.KindMemoryRegion, Rights: v.Rights, Frame: right.Base, Aux: right.Frames}) {
		leftSlot.Clear()
		return abi.Fail(abi.ErrBusy)
	}
	return abi.OKResult(uint64(left.Frames), uint64(right.Frames))
}

func (k *Kernel) opRegionRetype(core int, v cap.Value, args abi.Args) abi.Result {
	r := region.FromWords(v.Frame, v.Aux)
	offset := args.A[0]
	if !r.Contains(offset) {
		return abi.Fail(abi.ErrFault)
	}
	f := r.FrameAt(offset)

	switch abi.RetypeTarget(args.A[1]) {
	case abi.RetypeToUser:
		h, errno := k.rt.AcquireUntyped(f)
		if errno != abi.OK {
			return abi.Fail(errno)
		}
		h.RetypeUser()
		return abi.OKResult(uint64(f.Addr()), 0)

	case abi.RetypeToUntyped:
		// Only an unmapped, otherwise-unreferenced user frame can fold
		// back; kernel frames return through their capability drops.
		h, errno := k.rt.TryReclaim(f, retype.StateUser)
		if errno != abi.OK {
			return abi.Fail(errno)
		}
		h.Abort()
		return abi.OKResult(0, 0)

	default:
		return abi.Fail(abi.ErrBadOp)
	}
}
