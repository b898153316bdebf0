package kernel

import (
	"helix/abi"
	"helix/cap"
)

// requiredRights maps each operation to the rights the invoked
// capability must carry. Operations with more involved checks (copy's
// monotonic degradation, hardware minting) do the rest inline.
func requiredRights(op abi.OpCode) abi.Rights {
	switch op {
	case abi.OpThreadActivate:
		return abi.RightThreadActivate
	case abi.OpThreadSetAffinity:
		return abi.RightThreadAffinity
	case abi.OpThreadIntrospect:
		return abi.RightThreadIntrospect
	case abi.OpCapTableCreate:
		return abi.RightCTCreate
	case abi.OpCapTableDrop:
		return abi.RightCTDrop
	case abi.OpCapTableCopy:
		return 0 // source table: holding it suffices, the slot's RightCopy gates
	case abi.OpCapTableLink:
		return abi.RightCTLink
	case abi.OpCapTableUnlink:
		return abi.RightCTUnlink
	case abi.OpPageTableLink:
		return abi.RightPTMap
	case abi.OpPageTableUnlink:
		return abi.RightPTUnmap
	case abi.OpPageTableChangeFlags:
		return abi.RightPTModifyFlags
	case abi.OpRegionSplit:
		return abi.RightRegionSplit
	case abi.OpRegionRetype:
		return abi.RightRegionRetype
	case abi.OpSyncCall:
		return abi.RightSyncCall
	case abi.OpSyncReply:
		return abi.RightSyncReply
	case abi.OpNotifySignal:
		return abi.RightNotifySignal
	case abi.OpNotifyWait:
		return abi.RightNotifyWait
	case abi.OpPortIO:
		return abi.RightHWIO
	case abi.OpIRQBind:
		return abi.RightHWBind
	case abi.OpIRQAck:
		return abi.RightHWAck
	default:
		return 0
	}
}

// Syscall is the single kernel entry point. It runs to completion on
// the calling core with interrupts masked; every path through it is
// bounded, so the kernel never holds a core hostage.
func (k *Kernel) Syscall(core int, args abi.Args) abi.Result {
	var res abi.Result
	k.m.Core(core).Exec(func() {
		res = k.dispatch(core, args)
	})
	return res
}

func (k *Kernel) dispatch(core int, args abi.Args) abi.Result {
	cur, ok := k.CurrentThread(core)
	if !ok {
		k.halt(core, "syscall with no current thread")
		return abi.Fail(abi.ErrBadState)
	}
	if !args.Op.Valid() {
		return abi.Fail(abi.ErrBadOp)
	}

	slot, errno := cap.Lookup(k.m, cur.CapTableFrame(), args.Cap)
	if errno != abi.OK {
		return abi.Fail(errno)
	}
	v := slot.Load()
	if v.IsNone() {
		return abi.Fail(abi.ErrNoCap)
	}

	opKind := args.Op.Kind()
	if opKind == abi.KindPTL4 {
		if !v.Kind.IsPageTable() {
			return abi.Fail(abi.ErrBadOp)
		}
	} else if v.Kind != opKind {
		return abi.Fail(abi.ErrBadOp)
	}
	if need := requiredRights(args.Op); !need.Subset(v.Rights) {
		return abi.Fail(abi.ErrRights)
	}

	switch args.Op {
	case abi.OpThreadActivate:
		return k.opThreadActivate(core, cur, v)
	case abi.OpThreadSetAffinity:
		return k.opThreadSetAffinity(core, v, args)
	case abi.OpThreadIntrospect:
		return k.opThreadIntrospect(v)

	case abi.OpCapTableCreate:
		return k.opCapTableCreate(core, cur, v, args)
	case abi.OpCapTableDrop:
		return k.opCapTableDrop(core, v, args)
	case abi.OpCapTableCopy:
		return k.opCapTableCopy(core, cur, v, args)
	case abi.OpCapTableLink:
		return k.opCapTableLink(core, cur, v, args)
	case abi.OpCapTableUnlink:
		return k.opCapTableUnlink(core, v, args)

	case abi.OpPageTableLink:
		return k.opPageTableLink(core, cur, v, args)
	case abi.OpPageTableUnlink:
		return k.opPageTableUnlink(core, v, args)
	case abi.OpPageTableChangeFlags:
		return k.opPageTableChangeFlags(v, args)

	case abi.OpRegionSplit:
		return k.opRegionSplit(cur, v, args)
	case abi.OpRegionRetype:
		return k.opRegionRetype(core, v, args)

	case abi.OpSyncCall:
		return k.opSyncCall(core, cur, v, args)
	case abi.OpSyncReply:
		return k.opSyncReply(core, cur, v, args)

	case abi.OpNotifySignal:
		return k.opNotifySignal(v, args)
	case abi.OpNotifyWait:
		return k.opNotifyWait(v)

	case abi.OpPortIO:
		return k.opPortIO(v, args)
	case abi.OpIRQBind:
		return k.opIRQBind(core, cur, v, args)
	case abi.OpIRQAck:
		return k.opIRQAck(v, args)
	}
	return abi.Fail(abi.ErrBadOp)
}
