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

// framesPerL2Leaf is how many 4 KiB frames a 2 MiB leaf spans.
const framesPerL2Leaf = 512

// userFlags sanitizes caller-supplied mapping flags. The frame address
// and the structural bits stay kernel-controlled.
func userFlags(raw uint64) ptable.Flags {
	allowed := ptable.FlagWritable | ptable.FlagUser |
		ptable.FlagWriteThrough | ptable.FlagNoCache | ptable.FlagNoExecute
	return ptable.Flags(raw) & allowed
}

func (k *Kernel) opPageTableLink(core int, cur thread.TCB, v cap.Value, args abi.Args) abi.Result {
	level := v.Kind.PTLevel()
	t := ptable.At(k.m, v.Frame, level)

	idx := args.A[0]
	if idx >= ptable.EntriesPerTable {
		return abi.Fail(abi.ErrFault)
	}
	if level == 4 && idx >= ptable.KernelHalfStart {
		// The upper half belongs to the kernel in every address space.
		return abi.Fail(abi.ErrFault)
	}

	tv, errno := k.lookupValue(cur, abi.CapID(args.A[1]))
	if errno != abi.OK {
		return abi.Fail(errno)
	}
	flags := userFlags(args.A[3])

	switch {
	case tv.Kind.IsPageTable():
		// Linking a lower-level table. Levels are strict: L4→L3→L2→L1.
		if level == 1 || tv.Kind.PTLevel() != level-1 {
			return abi.Fail(abi.ErrBadOp)
		}
		if errno := k.rt.IncRef(tv.Frame, retype.StateKernel); errno != abi.OK {
			return abi.Fail(errno)
		}
		if !t.Link(int(idx), tv.Frame, flags&^ptable.FlagNoExecute) {
			k.releaseObject(core, tv.Frame, tv.Kind)
			return abi.Fail(abi.ErrBusy)
		}
		return abi.OKResult(0, 0)

	case tv.Kind == abi.KindMemoryRegion:
		return k.mapLeaf(t, int(idx), tv, args.A[2], flags)

	default:
		return abi.Fail(abi.ErrBadOp)
	}
}

// mapLeaf installs a user-frame mapping: a 4 KiB leaf at L1 or a 2 MiB
// leaf at L2. 1 GiB leaves are disallowed by policy, like 512 GiB ones.
// The reference count covers every frame the leaf spans, and each
// increment lands before the PTE can be observed.
func (k *Kernel) mapLeaf(t ptable.Table, idx int, rv cap.Value, offset uint64, flags ptable.Flags) abi.Result {
	if rv.Rights&abi.RightRegionMap == 0 {
		return abi.Fail(abi.ErrRights)
	}
	r := region.FromWords(rv.Frame, rv.Aux)

	var span uint64
	switch t.Level() {
	case 1:
		span = 1
	case 2:
		span = framesPerL2Leaf
		if offset%framesPerL2Leaf != 0 {
			return abi.Fail(abi.ErrFault)
		}
		flags |= ptable.FlagHuge
	default:
		return abi.Fail(abi.ErrBadOp)
	}
	if offset+span > r.Frames {
		return abi.Fail(abi.ErrFault)
	}

	base := r.FrameAt(offset)
	for i := uint64(0); i < span; i++ {
		if errno := k.rt.IncRef(base+mem.Frame(i), retype.StateUser); errno != abi.OK {
			for j := uint64(0); j < i; j++ {
				k.rt.DecRef(base + mem.Frame(j))
			}
			return abi.Fail(errno)
		}
	}

	if !t.Link(idx, base, flags|ptable.FlagUser) {
		for i := uint64(0); i < span; i++ {
			k.rt.DecRef(base + mem.Frame(i))
		}
		return abi.Fail(abi.ErrBusy)
	}
	return abi.OKResult(0, 0)
}

func (k *Kernel) opPageTableUnlink(core int, v cap.Value, args abi.Args) abi.Result {
	level := v.Kind.PTLevel()
	t := ptable.At(k.m, v.Frame, level)

	idx := args.A[0]
	if idx >= ptable.EntriesPerTable {
		return abi.Fail(abi.ErrFault)
	}
	if level == 4 && idx >= ptable.KernelHalfStart {
		return abi.Fail(abi.ErrFault)
	}

	f, flags, ok := t.Unlink(int(idx))
	if !ok {
		return abi.Fail(abi.ErrBadState)
	}

	if level > 1 && flags&ptable.FlagHuge == 0 {
		k.releaseObject(core, f, abi.PTKindForLevel(level-1))
		return abi.OKResult(0, 0)
	}

	// A leaf left the tree: no core may keep using the translation,
	// so the shootdown must complete before the references drop.
	k.m.TLBShootdown(k.m.Core(core))

	span := uint64(1)
	if flags&ptable.FlagHuge != 0 {
		span = framesPerL2Leaf
	}
	for i := uint64(0); i < span; i++ {
		if _, ok := k.rt.DecRef(f + mem.Frame(i)); !ok {
			k.halt(core, "unmapped leaf over unreferenced frame")
		}
	}
	return abi.OKResult(0, 0)
}

func (k *Kernel) opPageTableChangeFlags(v cap.Value, args abi.Args) abi.Result {
	level := v.Kind.PTLevel()
	t := ptable.At(k.m, v.Frame, level)

	idx := args.A[0]
	if idx >= ptable.EntriesPerTable {
		return abi.Fail(abi.ErrFault)
	}
	if level == 4 && idx >= ptable.KernelHalfStart {
		return abi.Fail(abi.ErrFault)
	}
	if !t.ChangeFlags(int(idx), userFlags(args.A[1])|ptable.FlagUser) {
		return abi.Fail(abi.ErrBadState)
	}
	return abi.OKResult(0, 0)
}
