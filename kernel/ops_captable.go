package kernel

import (
	"helix/abi"
	"helix/cap"
	"helix/mem"
	"helix/ptable"
	"helix/region"
	"helix/retype"
	"helix/thread"
)

// lookupValue resolves another capability id through the caller's root
// table.
func (k *Kernel) lookupValue(cur thread.TCB, id abi.CapID) (cap.Value, abi.Errno) {
	slot, errno := cap.Lookup(k.m, cur.CapTableFrame(), id)
	if errno != abi.OK {
		return cap.Value{}, errno
	}
	v := slot.Load()
	if v.IsNone() {
		return cap.Value{}, abi.ErrNoCap
	}
	return v, abi.OK
}

// defaultRights is the full rights mask a freshly created resource
// carries; delegation shrinks from here.
func defaultRights(kind abi.ResourceKind) abi.Rights {
	switch kind {
	case abi.KindCapTable:
		return abi.RightCTCreate | abi.RightCTDrop | abi.RightCTLink | abi.RightCTUnlink | abi.RightCopy
	case abi.KindThread:
		return abi.RightThreadActivate | abi.RightThreadAffinity | abi.RightThreadIntrospect | abi.RightCopy
	case abi.KindPTL4, abi.KindPTL3, abi.KindPTL2, abi.KindPTL1:
		return abi.RightPTMap | abi.RightPTUnmap | abi.RightPTModifyFlags | abi.RightCopy
	case abi.KindAsyncNotify:
		return abi.RightNotifySignal | abi.RightNotifyWait | abi.RightCopy
	case abi.KindSyncInvocation:
		return abi.RightSyncCall | abi.RightSyncReply | abi.RightCopy
	default:
		return 0
	}
}

// regionFrameFor resolves a (region capability, offset) pair used to
// fund an object construction.
func (k *Kernel) regionFrameFor(cur thread.TCB, regionCap abi.CapID, offset uint64) (mem.Frame, abi.Errno) {
	rv, errno := k.lookupValue(cur, regionCap)
	if errno != abi.OK {
		return 0, errno
	}
	if rv.Kind != abi.KindMemoryRegion {
		return 0, abi.ErrBadOp
	}
	if rv.Rights&abi.RightRegionRetype == 0 {
		return 0, abi.ErrRights
	}
	r := region.FromWords(rv.Frame, rv.Aux)
	if !r.Contains(offset) {
		return 0, abi.ErrFault
	}
	return r.FrameAt(offset), abi.OK
}

// constructObject retypes a region frame into a kernel object of the
// given kind and returns it holding one reference.
func (k *Kernel) constructObject(cur thread.TCB, kind abi.ResourceKind, regionCap abi.CapID, offset uint64) (mem.Frame, abi.Errno) {
	f, errno := k.regionFrameFor(cur, regionCap, offset)
	if errno != abi.OK {
		return 0, errno
	}
	h, errno := k.rt.AcquireUntyped(f)
	if errno != abi.OK {
		return 0, errno
	}
	switch kind {
	case abi.KindPTL4:
		template := ptable.At(k.m, k.kernelL4, 4)
		h.RetypeKernel(func(words *[mem.FrameSize / 8]uint64) {
			ptable.InitKernelHalf(words, template)
		})
	default:
		// Capability tables, lower-level page tables and notification
		// objects all start zeroed.
		h.RetypeKernel(nil)
	}
	return f, abi.OK
}

func (k *Kernel) opCapTableCreate(core int, cur thread.TCB, table cap.Value, args abi.Args) abi.Result {
	idx := args.A[0]
	if idx >= abi.SlotsPerNode {
		return abi.Fail(abi.ErrFault)
	}
	kind := abi.ResourceKind(args.A[1])
	slot := cap.NodeAt(k.m, table.Frame).Slot(int(idx))

	switch kind {
	case abi.KindCapTable, abi.KindPTL4, abi.KindPTL3, abi.KindPTL2, abi.KindPTL1, abi.KindAsyncNotify:
		f, errno := k.constructObject(cur, kind, abi.CapID(args.A[2]), args.A[3])
		if errno != abi.OK {
			return abi.Fail(errno)
		}
		v := cap.Value{Kind: kind, Rights: defaultRights(kind), Frame: f}
		if !slot.Install(v) {
			k.releaseObject(core, f, kind)
			return abi.Fail(abi.ErrBusy)
		}
		return abi.OKResult(uint64(f), 0)

	case abi.KindThread:
		return k.opThreadCreate(core, cur, slot, args.A[2])

	case abi.KindSyncInvocation:
		tv, errno := k.lookupValue(cur, abi.CapID(args.A[2]))
		if errno != abi.OK {
			return abi.Fail(errno)
		}
		if tv.Kind != abi.KindThread {
			return abi.Fail(abi.ErrBadOp)
		}
		if tv.Rights&abi.RightThreadActivate == 0 {
			return abi.Fail(abi.ErrRights)
		}
		if errno := k.rt.IncRef(tv.Frame, retype.StateKernel); errno != abi.OK {
			return abi.Fail(errno)
		}
		v := cap.Value{Kind: kind, Rights: defaultRights(kind), Frame: tv.Frame, Aux: args.A[3]}
		if !slot.Install(v) {
			k.releaseObject(core, tv.Frame, abi.KindThread)
			return abi.Fail(abi.ErrBusy)
		}
		return abi.OKResult(0, 0)

	case abi.KindHWPort, abi.KindHWIRQ:
		return k.opHWMint(cur, slot, kind, args)

	default:
		// Memory regions come from split, never from create.
		return abi.Fail(abi.ErrBadOp)
	}
}

func (k *Kernel) opThreadCreate(core int, cur thread.TCB, slot cap.Slot, ptr uint64) abi.Result {
	var buf [abi.ThreadConsArgsSize]byte
	if !ptable.ReadUser(k.m, cur.L4Frame(), ptr, buf[:]) {
		return abi.Fail(abi.ErrFault)
	}
	cons, _ := abi.DecodeThreadConsArgs(buf[:])

	ctv, errno := k.lookupValue(cur, cons.CapTable)
	if errno != abi.OK {
		return abi.Fail(errno)
	}
	if ctv.Kind != abi.KindCapTable {
		return abi.Fail(abi.ErrBadOp)
	}
	if ctv.Rights&abi.RightCopy == 0 {
		return abi.Fail(abi.ErrRights)
	}
	ptv, errno := k.lookupValue(cur, cons.PageTable)
	if errno != abi.OK {
		return abi.Fail(errno)
	}
	if ptv.Kind != abi.KindPTL4 {
		return abi.Fail(abi.ErrBadOp)
	}
	if ptv.Rights&abi.RightCopy == 0 {
		return abi.Fail(abi.ErrRights)
	}

	f, errno := k.regionFrameFor(cur, cons.Region, cons.Offset)
	if errno != abi.OK {
		return abi.Fail(errno)
	}

	// The TCB will hold references to both roots.
	if errno := k.rt.IncRef(ctv.Frame, retype.StateKernel); errno != abi.OK {
		return abi.Fail(errno)
	}
	if errno := k.rt.IncRef(ptv.Frame, retype.StateKernel); errno != abi.OK {
		k.releaseObject(core, ctv.Frame, abi.KindCapTable)
		return abi.Fail(errno)
	}

	h, errno := k.rt.AcquireUntyped(f)
	if errno != abi.OK {
		k.releaseObject(core, ptv.Frame, abi.KindPTL4)
		k.releaseObject(core, ctv.Frame, abi.KindCapTable)
		return abi.Fail(errno)
	}
	h.RetypeKernel(func(words *[mem.FrameSize / 8]uint64) {
		thread.InitWords(words, cons.Entry, cons.Stack, cons.Arg0, ctv.Frame, ptv.Frame, uint32(core))
	})

	v := cap.Value{Kind: abi.KindThread, Rights: defaultRights(abi.KindThread), Frame: f}
	if !slot.Install(v) {
		k.releaseObject(core, f, abi.KindThread)
		return abi.Fail(abi.ErrBusy)
	}
	return abi.OKResult(uint64(f), 0)
}

func (k *Kernel) opCapTableDrop(core int, table cap.Value, args abi.Args) abi.Result {
	idx := args.A[0]
	if idx >= abi.SlotsPerNode {
		return abi.Fail(abi.ErrFault)
	}
	v, ok := cap.NodeAt(k.m, table.Frame).Slot(int(idx)).Clear()
	if !ok {
		return abi.Fail(abi.ErrBadState)
	}
	k.releaseResource(core, v)
	return abi.OKResult(0, 0)
}

func (k *Kernel) opCapTableCopy(core int, cur thread.TCB, srcTable cap.Value, args abi.Args) abi.Result {
	srcIdx, dstIdx := args.A[0], args.A[2]
	if srcIdx >= abi.SlotsPerNode || dstIdx >= abi.SlotsPerNode {
		return abi.Fail(abi.ErrFault)
	}
	newRights := abi.Rights(args.A[3])

	sv := cap.NodeAt(k.m, srcTable.Frame).Slot(int(srcIdx)).Load()
	if sv.IsNone() {
		return abi.Fail(abi.ErrBadState)
	}
	if sv.Rights&abi.RightCopy == 0 {
		return abi.Fail(abi.ErrRights)
	}
	// Rights only ever shrink along a copy chain.
	if !newRights.Subset(sv.Rights) {
		return abi.Fail(abi.ErrRights)
	}

	dtv, errno := k.lookupValue(cur, abi.CapID(args.A[1]))
	if errno != abi.OK {
		return abi.Fail(errno)
	}
	if dtv.Kind != abi.KindCapTable {
		return abi.Fail(abi.ErrBadOp)
	}
	if dtv.Rights&abi.RightCTCreate == 0 {
		return abi.Fail(abi.ErrRights)
	}

	// The new slot is a new reference; take it before publishing so no
	// observer ever sees a slot the count does not cover.
	refKind := sv.Kind
	switch {
	case objectKind(sv.Kind):
	case sv.Kind == abi.KindSyncInvocation:
		refKind = abi.KindThread
	default:
		refKind = abi.KindNone
	}
	if refKind != abi.KindNone {
		if errno := k.rt.IncRef(sv.Frame, retype.StateKernel); errno != abi.OK {
			return abi.Fail(errno)
		}
	}

	nv := cap.Value{Kind: sv.Kind, Rights: newRights, Frame: sv.Frame, Aux: sv.Aux}
	if !cap.NodeAt(k.m, dtv.Frame).Slot(int(dstIdx)).Install(nv) {
		if refKind != abi.KindNone {
			k.releaseObject(core, sv.Frame, refKind)
		}
		return abi.Fail(abi.ErrBusy)
	}
	return abi.OKResult(0, 0)
}

func (k *Kernel) opCapTableLink(core int, cur thread.TCB, table cap.Value, args abi.Args) abi.Result {
	idx := args.A[0]
	if idx >= abi.SlotsPerNode {
		return abi.Fail(abi.ErrFault)
	}
	cv, errno := k.lookupValue(cur, abi.CapID(args.A[1]))
	if errno != abi.OK {
		return abi.Fail(errno)
	}
	if cv.Kind != abi.KindCapTable {
		return abi.Fail(abi.ErrBadOp)
	}
	if errno := k.rt.IncRef(cv.Frame, retype.StateKernel); errno != abi.OK {
		return abi.Fail(errno)
	}
	if !cap.NodeAt(k.m, table.Frame).Slot(int(idx)).SetChild(cv.Frame) {
		k.releaseObject(core, cv.Frame, abi.KindCapTable)
		return abi.Fail(abi.ErrBusy)
	}
	return abi.OKResult(0, 0)
}

func (k *Kernel) opCapTableUnlink(core int, table cap.Value, args abi.Args) abi.Result {
	idx := args.A[0]
	if idx >= abi.SlotsPerNode {
		return abi.Fail(abi.ErrFault)
	}
	child, ok := cap.NodeAt(k.m, table.Frame).Slot(int(idx)).ClearChild()
	if !ok {
		return abi.Fail(abi.ErrBadState)
	}
	// Reclamation is deferred: the child may keep living through other
	// references; dropping ours is all unlink does.
	k.releaseObject(core, child, abi.KindCapTable)
	return abi.OKResult(0, 0)
}
