package kernel

import (
	"helix/abi"
	"helix/cap"
	"helix/ipc"
	"helix/machine"
	"helix/mem"
	"helix/retype"
	"helix/thread"
)

// opHWMint installs a narrowed hardware capability: a sub-window of an
// existing port or IRQ capability that carries RightHWMint.
func (k *Kernel) opHWMint(cur thread.TCB, slot cap.Slot, kind abi.ResourceKind, args abi.Args) abi.Result {
	sv, errno := k.lookupValue(cur, abi.CapID(args.A[2]))
	if errno != abi.OK {
		return abi.Fail(errno)
	}
	if sv.Kind != kind {
		return abi.Fail(abi.ErrBadOp)
	}
	if sv.Rights&abi.RightHWMint == 0 {
		return abi.Fail(abi.ErrRights)
	}

	want := args.A[3]
	switch kind {
	case abi.KindHWPort:
		base, count := abi.UnpackPortRange(want)
		srcBase, srcCount := abi.UnpackPortRange(sv.Aux)
		if count == 0 || uint64(base)+uint64(count) > uint64(srcBase)+uint64(srcCount) || base < srcBase {
			return abi.Fail(abi.ErrRights)
		}
	case abi.KindHWIRQ:
		base, count := abi.UnpackIRQRange(want)
		srcBase, srcCount := abi.UnpackIRQRange(sv.Aux)
		if count == 0 || uint16(base)+uint16(count) > uint16(srcBase)+uint16(srcCount) || base < srcBase {
			return abi.Fail(abi.ErrRights)
		}
	}

	if !slot.Install(cap.Value{Kind: kind, Rights: sv.Rights, Aux: want}) {
		return abi.Fail(abi.ErrBusy)
	}
	return abi.OKResult(0, 0)
}

func (k *Kernel) opPortIO(v cap.Value, args abi.Args) abi.Result {
	port := args.A[0]
	base, count := abi.UnpackPortRange(v.Aux)
	if port > 0xFFFF || port < uint64(base) || port >= uint64(base)+uint64(count) {
		return abi.Fail(abi.ErrRights)
	}
	width := args.A[1]
	if width != 1 && width != 2 && width != 4 {
		return abi.Fail(abi.ErrFault)
	}
	switch args.A[2] {
	case abi.PortIn:
		return abi.OKResult(uint64(k.m.Ports.In(uint16(port), uint8(width))), 0)
	case abi.PortOut:
		k.m.Ports.Out(uint16(port), uint8(width), uint32(args.A[3]))
		return abi.OKResult(0, 0)
	default:
		return abi.Fail(abi.ErrFault)
	}
}

func (k *Kernel) irqInRange(v cap.Value, line uint64) bool {
	base, count := abi.UnpackIRQRange(v.Aux)
	return line < machine.NumIRQLines && uint16(line) >= uint16(base) && uint16(line) < uint16(base)+uint16(count)
}

func (k *Kernel) opIRQBind(core int, cur thread.TCB, v cap.Value, args abi.Args) abi.Result {
	line := args.A[0]
	if !k.irqInRange(v, line) {
		return abi.Fail(abi.ErrRights)
	}
	nv, errno := k.lookupValue(cur, abi.CapID(args.A[1]))
	if errno != abi.OK {
		return abi.Fail(errno)
	}
	if nv.Kind != abi.KindAsyncNotify {
		return abi.Fail(abi.ErrBadOp)
	}
	if nv.Rights&abi.RightNotifySignal == 0 {
		return abi.Fail(abi.ErrRights)
	}
	bits := args.A[2]
	if bits == 0 {
		bits = 1 << (line % 64)
	}

	// The binding holds a reference to the notification object.
	if errno := k.rt.IncRef(nv.Frame, retype.StateKernel); errno != abi.OK {
		return abi.Fail(errno)
	}
	k.irqBits[line].Store(bits)
	old := k.irqNotify[line].Swap(uint64(nv.Frame) + 1)
	lineNo := uint8(line)
	k.m.IRQs.Bind(lineNo, func() { k.deliverIRQ(lineNo) })
	if old != 0 {
		k.releaseObject(core, mem.Frame(old-1), abi.KindAsyncNotify)
	}
	return abi.OKResult(0, 0)
}

func (k *Kernel) opIRQAck(v cap.Value, args abi.Args) abi.Result {
	line := args.A[0]
	if !k.irqInRange(v, line) {
		return abi.Fail(abi.ErrRights)
	}
	k.m.IRQs.Ack(uint8(line))
	return abi.OKResult(0, 0)
}

// deliverIRQ runs from the interrupt controller when a bound line is
// raised; it only touches the notification bitset, which is safe from
// any context.
func (k *Kernel) deliverIRQ(line uint8) {
	w := k.irqNotify[line].Load()
	if w == 0 {
		return
	}
	ipc.NotifyAt(k.m, mem.Frame(w-1)).Signal(k.irqBits[line].Load())
}
