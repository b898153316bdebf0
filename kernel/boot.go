package kernel

import (
	"fmt"

	"helix/abi"
	"helix/cap"
	"helix/internal/buildinfo"
	"helix/klog"
	"helix/machine"
	"helix/mem"
	"helix/ptable"
	"helix/retype"
	"helix/thread"
)

// BootConfig is the bootloader handoff: the memory map, the initial
// ramdisk, and where the first component starts.
type BootConfig struct {
	MemoryMap mem.Map

	// Initrd is a tar archive of user components. The first regular
	// file is loaded at RootBase in the first component's address
	// space.
	Initrd []byte

	// RootBase is the virtual load address of the first component.
	// Defaults to 4 MiB.
	RootBase uint64

	// RootStack is the first component's initial stack pointer.
	// Defaults to just below the load address.
	RootStack uint64
}

// RootModuleBase is the default virtual load address of the first
// component.
const RootModuleBase = 0x400000

// Boot builds the retype table, the kernel address-space template and
// the first user component, then hands core 0 to that component. It
// is the only code that edits frames without going through a
// capability.
func Boot(m *machine.Machine, cfg BootConfig) (*Kernel, error) {
	if !cfg.MemoryMap.Valid() {
		return nil, fmt.Errorf("boot: invalid memory map")
	}
	top := cfg.MemoryMap.PhysicalTop()
	if uint64(top) > m.RAMBytes() {
		return nil, fmt.Errorf("boot: memory map top %#x beyond RAM %#x", uint64(top), m.RAMBytes())
	}
	if cfg.RootBase == 0 {
		cfg.RootBase = RootModuleBase
	}
	if cfg.RootStack == 0 {
		cfg.RootStack = cfg.RootBase - 16
	}

	log := klog.New(m.Serial)
	log.Infof("helix %s booting, %d cores, %d MiB RAM",
		buildinfo.Short(), m.NumCores(), m.RAMBytes()/(1<<20))

	alloc := mem.NewBumpAllocator(cfg.MemoryMap)
	rt, err := retype.New(m, alloc, top)
	if err != nil {
		return nil, err
	}
	seeded := alloc.MemoryMap()
	rt.Seed(seeded)
	log.Infof("retype table: %d frames, %d untyped", rt.Frames(), seeded.UsableFrames())

	k := &Kernel{
		m:     m,
		rt:    rt,
		log:   log,
		cores: make([]coreCtx, m.NumCores()),
	}

	// Kernel address-space template: a direct map of all RAM through
	// 1 GiB leaves at the bottom of the upper half. Every L4 clones
	// these entries; the frames they name are immortal, so the clones
	// are never refcounted.
	dmL3, err := k.bootKernelFrame(seeded, func(words *[mem.FrameSize / 8]uint64) {
		gib := uint64(1) << 30
		for i := uint64(0); i*gib < m.RAMBytes(); i++ {
			f := mem.PhysAddr(i * gib).FrameDown()
			words[i] = uint64(f.Addr()) | uint64(ptable.FlagPresent|ptable.FlagWritable|ptable.FlagHuge|ptable.FlagGlobal)
		}
	})
	if err != nil {
		return nil, err
	}
	kernelL4, err := k.bootKernelFrame(seeded, func(words *[mem.FrameSize / 8]uint64) {
		words[ptable.KernelHalfStart] = uint64(dmL3.Addr()) | uint64(ptable.FlagPresent|ptable.FlagWritable)
	})
	if err != nil {
		return nil, err
	}
	k.kernelL4 = kernelL4

	// First component: capability table, address space, thread.
	rootTable, err := k.bootKernelFrame(seeded, nil)
	if err != nil {
		return nil, err
	}
	template := ptable.At(m, kernelL4, 4)
	rootL4, err := k.bootKernelFrame(seeded, func(words *[mem.FrameSize / 8]uint64) {
		ptable.InitKernelHalf(words, template)
	})
	if err != nil {
		return nil, err
	}

	entry := cfg.RootBase
	rootTCB, err := k.bootKernelFrame(seeded, func(words *[mem.FrameSize / 8]uint64) {
		thread.InitWords(words, entry, cfg.RootStack, 0, rootTable, rootL4, 0)
	})
	if err != nil {
		return nil, err
	}
	// The TCB's root pointers are references of their own.
	if errno := rt.IncRef(rootTable, retype.StateKernel); errno != abi.OK {
		return nil, fmt.Errorf("boot: pinning root table: %s", errno)
	}
	if errno := rt.IncRef(rootL4, retype.StateKernel); errno != abi.OK {
		return nil, fmt.Errorf("boot: pinning root address space: %s", errno)
	}

	// Initial capabilities at the fixed slots. The construction
	// references transfer into the slots.
	node := cap.NodeAt(m, rootTable)
	install := func(id abi.CapID, v cap.Value) error {
		if !node.Slot(int(id)).Install(v) {
			return fmt.Errorf("boot: initial slot %d occupied", id)
		}
		return nil
	}
	regionBase, regionFrames := untypedSpan(seeded)
	for _, iv := range []struct {
		id abi.CapID
		v  cap.Value
	}{
		{abi.InitCapSelfTable, cap.Value{Kind: abi.KindCapTable, Rights: defaultRights(abi.KindCapTable), Frame: rootTable}},
		{abi.InitCapSelfThread, cap.Value{Kind: abi.KindThread, Rights: defaultRights(abi.KindThread), Frame: rootTCB}},
		{abi.InitCapSelfL4, cap.Value{Kind: abi.KindPTL4, Rights: defaultRights(abi.KindPTL4), Frame: rootL4}},
		{abi.InitCapRAM, cap.Value{
			Kind:   abi.KindMemoryRegion,
			Rights: abi.RightRegionRetype | abi.RightRegionSplit | abi.RightRegionMap | abi.RightCopy,
			Frame:  regionBase,
			Aux:    regionFrames,
		}},
		{abi.InitCapPorts, cap.Value{
			Kind:   abi.KindHWPort,
			Rights: abi.RightHWIO | abi.RightHWMint | abi.RightCopy,
			Aux:    abi.PackPortRange(0, 1<<16),
		}},
		{abi.InitCapIRQs, cap.Value{
			Kind:   abi.KindHWIRQ,
			Rights: abi.RightHWBind | abi.RightHWAck | abi.RightHWMint | abi.RightCopy,
			Aux:    abi.PackIRQRange(0, machine.NumIRQLines),
		}},
	} {
		if err := install(iv.id, iv.v); err != nil {
			return nil, err
		}
	}

	// Load the first ramdisk component into the root address space.
	if len(cfg.Initrd) > 0 {
		mods, err := readInitrd(cfg.Initrd)
		if err != nil {
			return nil, fmt.Errorf("boot: initrd: %w", err)
		}
		for _, mod := range mods {
			log.Infof("initrd module %q: %d bytes", mod.Name, len(mod.Data))
		}
		if len(mods) > 0 {
			if err := k.bootLoad(seeded, rootL4, cfg.RootBase, mods[0].Data); err != nil {
				return nil, err
			}
		}
	}

	// Hand core 0 to the first component.
	tcb := thread.At(m, rootTCB)
	if !tcb.TryActivate() {
		return nil, fmt.Errorf("boot: root thread already active")
	}
	if errno := rt.IncRef(rootTCB, retype.StateKernel); errno != abi.OK {
		return nil, fmt.Errorf("boot: pinning root thread: %s", errno)
	}
	k.setCurrent(0, rootTCB)
	k.cores[0].regs = thread.Regs{RIP: entry, RSP: cfg.RootStack}

	log.Infof("first component at %#x, root table frame %#x", entry, uint64(rootTable))
	return k, nil
}

// bootKernelFrame takes an untyped frame off the seeded map and
// retypes it into a kernel object.
func (k *Kernel) bootKernelFrame(mm mem.Map, init func(words *[mem.FrameSize / 8]uint64)) (mem.Frame, error) {
	for _, e := range mm {
		if e.Type != mem.EntryUsable {
			continue
		}
		start := e.Base.FrameDown()
		for i := uint64(0); i < e.Frames(); i++ {
			h, errno := k.rt.AcquireUntyped(start + mem.Frame(i))
			if errno != abi.OK {
				continue
			}
			h.RetypeKernel(init)
			return h.Frame(), nil
		}
	}
	return 0, fmt.Errorf("boot: out of untyped frames")
}

// untypedSpan returns the region handed to the first component: from
// the first usable frame to the end of the last usable entry. Holes
// inside the span stay protected by the retype table; a region is a
// name, not an ownership claim.
func untypedSpan(mm mem.Map) (mem.Frame, uint64) {
	var base, end mem.Frame
	found := false
	for _, e := range mm {
		if e.Type != mem.EntryUsable || e.Frames() == 0 {
			continue
		}
		if !found {
			base = e.Base.FrameDown()
			found = true
		}
		end = e.Base.FrameDown() + mem.Frame(e.Frames())
	}
	if !found {
		return 0, 0
	}
	return base, uint64(end - base)
}

// bootLoad maps a component image at va, building intermediate tables
// as needed. Only boot uses this path; after handoff all mapping goes
// through page-table capabilities.
func (k *Kernel) bootLoad(mm mem.Map, l4 mem.Frame, va uint64, data []byte) error {
	for off := 0; off < len(data); off += mem.FrameSize {
		fh, err := k.bootUserFrame(mm)
		if err != nil {
			return err
		}
		end := off + mem.FrameSize
		if end > len(data) {
			end = len(data)
		}
		copy(k.m.FrameBytes(fh), data[off:end])
		if err := k.bootMap(mm, l4, va+uint64(off), fh); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kernel) bootUserFrame(mm mem.Map) (mem.Frame, error) {
	for _, e := range mm {
		if e.Type != mem.EntryUsable {
			continue
		}
		start := e.Base.FrameDown()
		for i := uint64(0); i < e.Frames(); i++ {
			h, errno := k.rt.AcquireUntyped(start + mem.Frame(i))
			if errno != abi.OK {
				continue
			}
			h.RetypeUser()
			return h.Frame(), nil
		}
	}
	return 0, fmt.Errorf("boot: out of untyped frames")
}

// bootMap walks the root address space to L1 and installs a 4 KiB
// mapping. The user frame's construction reference becomes the
// mapping's, preserving the PTE/refcount invariant.
func (k *Kernel) bootMap(mm mem.Map, l4 mem.Frame, va uint64, f mem.Frame) error {
	frame := l4
	for level := uint8(4); level > 1; level-- {
		t := ptable.At(k.m, frame, level)
		idx := ptable.Index(va, level)
		next, _, ok := t.Load(idx)
		if !ok {
			child, err := k.bootKernelFrame(mm, nil)
			if err != nil {
				return err
			}
			if !t.Link(idx, child, ptable.FlagWritable|ptable.FlagUser) {
				next, _, _ = t.Load(idx)
				frame = next
				continue
			}
			next = child
		}
		frame = next
	}
	l1 := ptable.At(k.m, frame, 1)
	if !l1.Link(ptable.Index(va, 1), f, ptable.FlagWritable|ptable.FlagUser) {
		return fmt.Errorf("boot: %#x already mapped", va)
	}
	return nil
}
