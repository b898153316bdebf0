package kernel

import (
	"archive/tar"
	"bytes"
	"testing"

	"helix/abi"
	"helix/machine"
	"helix/mem"
	"helix/retype"
	"helix/thread"
)

// testInitrd returns a one-module ramdisk whose image fills exactly
// one page, so the harness has mapped user memory to stage syscall
// payloads in.
func testInitrd(t *testing.T) []byte {
	t.Helper()
	img := bytes.Repeat([]byte{0x90}, mem.FrameSize)
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: "root.bin", Mode: 0o644, Size: int64(len(img))}); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	if _, err := tw.Write(img); err != nil {
		t.Fatalf("tar write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	return buf.Bytes()
}

func bootKernel(t *testing.T, cores int) *Kernel {
	t.Helper()
	m, err := machine.New(machine.Config{RAMBytes: 8 << 20, Cores: cores})
	if err != nil {
		t.Fatalf("machine.New: %v", err)
	}
	k, err := Boot(m, BootConfig{
		MemoryMap: mem.Map{
			{Base: 0, Length: mem.FrameSize, Type: mem.EntryReserved},
			{Base: mem.FrameSize, Length: m.RAMBytes() - mem.FrameSize, Type: mem.EntryUsable},
		},
		Initrd: testInitrd(t),
	})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	return k
}

func (k *Kernel) sys(core int, cap abi.CapID, op abi.OpCode, a0, a1, a2, a3 uint64) abi.Result {
	return k.Syscall(core, abi.Args{Cap: cap, Op: op, A: [4]uint64{a0, a1, a2, a3}})
}

// mustSys fails the test on a non-OK status.
func mustSys(t *testing.T, k *Kernel, core int, cap abi.CapID, op abi.OpCode, a0, a1, a2, a3 uint64) abi.Result {
	t.Helper()
	res := k.sys(core, cap, op, a0, a1, a2, a3)
	if res.Errno() != abi.OK {
		t.Fatalf("%s = %s, want ok", op, res.Errno())
	}
	return res
}

// probeCreate retries a region-funded construction over offsets until
// it lands on an untyped frame.
func probeCreate(t *testing.T, k *Kernel, core int, slot abi.CapID, kind abi.ResourceKind, regionCap abi.CapID) (uint64, mem.Frame) {
	t.Helper()
	for off := uint64(0); off < 4096; off++ {
		res := k.sys(core, abi.InitCapSelfTable, abi.OpCapTableCreate,
			uint64(slot), uint64(kind), uint64(regionCap), off)
		switch res.Errno() {
		case abi.OK:
			return off, mem.Frame(res.Ret0)
		case abi.ErrBadState, abi.ErrBusy:
			continue
		default:
			t.Fatalf("create %s = %s", kind, res.Errno())
		}
	}
	t.Fatalf("create %s: no untyped frame found", kind)
	return 0, 0
}

// probeRetypeUser retypes some region frame to user, returning its
// offset and frame.
func probeRetypeUser(t *testing.T, k *Kernel, core int, regionCap abi.CapID) (uint64, mem.Frame) {
	t.Helper()
	for off := uint64(0); off < 4096; off++ {
		res := k.sys(core, regionCap, abi.OpRegionRetype, off, uint64(abi.RetypeToUser), 0, 0)
		switch res.Errno() {
		case abi.OK:
			return off, mem.PhysAddr(res.Ret0).FrameDown()
		case abi.ErrBadState, abi.ErrBusy:
			continue
		default:
			t.Fatalf("retype to user = %s", res.Errno())
		}
	}
	t.Fatal("retype to user: no untyped frame found")
	return 0, 0
}

// adoptThread seeds a core with a thread the way per-core boot code
// would, so tests can issue syscalls from secondary cores.
func adoptThread(t *testing.T, k *Kernel, core int, f mem.Frame) {
	t.Helper()
	tcb := thread.At(k.m, f)
	tcb.SetAffinity(uint32(core))
	if !tcb.TryActivate() {
		t.Fatalf("adopting active thread %d", f)
	}
	if errno := k.rt.IncRef(f, retype.StateKernel); errno != abi.OK {
		t.Fatalf("pinning adopted thread: %s", errno)
	}
	k.setCurrent(core, f)
}

// stageThreadCons writes construct args into the root component's
// mapped page and returns the pointer.
func stageThreadCons(t *testing.T, k *Kernel, cons abi.ThreadConsArgs) uint64 {
	t.Helper()
	const ptr = RootModuleBase + 512
	var buf [abi.ThreadConsArgsSize]byte
	cons.Encode(buf[:])
	if !k.UserEnv(0).WriteMem(ptr, buf[:]) {
		t.Fatal("staging construct args faulted")
	}
	return ptr
}

// newThread creates a thread sharing the root component's spaces.
func newThread(t *testing.T, k *Kernel, slot abi.CapID) mem.Frame {
	t.Helper()
	for off := uint64(0); off < 4096; off++ {
		ptr := stageThreadCons(t, k, abi.ThreadConsArgs{
			Entry:     RootModuleBase,
			Stack:     RootModuleBase + 0xF00,
			CapTable:  abi.InitCapSelfTable,
			PageTable: abi.InitCapSelfL4,
			Region:    abi.InitCapRAM,
			Offset:    off,
		})
		res := k.sys(0, abi.InitCapSelfTable, abi.OpCapTableCreate,
			uint64(slot), uint64(abi.KindThread), ptr, 0)
		switch res.Errno() {
		case abi.OK:
			return mem.Frame(res.Ret0)
		case abi.ErrBadState, abi.ErrBusy:
			continue
		default:
			t.Fatalf("thread create = %s", res.Errno())
		}
	}
	t.Fatal("thread create: no untyped frame found")
	return 0
}
