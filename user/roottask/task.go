// Package roottask is the first user component: a smoke sequence over
// the kernel's operations, reporting over the serial port it reaches
// through its hardware capability. It covers thread introspection and
// construction, region split and retype, capability create/copy/drop,
// page-table link/unlink, notifications and port I/O. It does not
// exercise thread activation or affinity, capability-table link/unlink,
// page-table flag changes, sync call/reply, or IRQ bind/ack.
package roottask

import (
	"helix/abi"
	"helix/user"
)

// Slot assignments the task uses for what it creates.
const (
	slotRegionLeft  abi.CapID = 8
	slotRegionRight abi.CapID = 9
	slotTable       abi.CapID = 10
	slotL3          abi.CapID = 11
	slotL2          abi.CapID = 12
	slotL1          abi.CapID = 13
	slotNotify      abi.CapID = 14
	slotThread      abi.CapID = 15
	slotWeakL1      abi.CapID = 16
)

const comPort = 0x3F8

// scratchVA is where the task maps its scratch page.
const scratchVA = 0x800000

// Task is the cooperative root component.
type Task struct {
	env  user.Env
	done bool
	fail bool
}

// New returns the root task over its environment.
func New(env user.Env) *Task {
	return &Task{env: env}
}

// Done reports whether the smoke sequence finished.
func (t *Task) Done() bool { return t.done }

// Failed reports whether any step failed.
func (t *Task) Failed() bool { return t.fail }

// Step runs the whole sequence once. It is idempotent after success.
func (t *Task) Step() {
	if t.done {
		return
	}
	t.done = true
	t.run()
	if t.fail {
		t.print("roottask: FAILED\n")
	} else {
		t.print("roottask: all operations OK\n")
	}
}

func (t *Task) print(s string) {
	for i := 0; i < len(s); i++ {
		user.Invoke(t.env, abi.InitCapPorts, abi.OpPortIO, comPort, 1, abi.PortOut, uint64(s[i]))
	}
}

func (t *Task) check(step string, res abi.Result) bool {
	if res.Errno() != abi.OK {
		t.print("roottask: " + step + ": " + res.Errno().String() + "\n")
		t.fail = true
		return false
	}
	return true
}

func (t *Task) run() {
	env := t.env

	// Who am I.
	res := user.Invoke(env, abi.InitCapSelfThread, abi.OpThreadIntrospect, 0, 0, 0, 0)
	if !t.check("introspect", res) {
		return
	}
	t.print("roottask: introspect ok\n")

	// Split the RAM region; work from the right half (boot consumed
	// frames from the left).
	res = user.Invoke(env, abi.InitCapRAM, abi.OpRegionSplit,
		uint64(abi.InitCapSelfTable), uint64(slotRegionLeft), uint64(slotRegionRight), 0)
	if !t.check("split", res) {
		return
	}

	// Build a scratch mapping: L3/L2/L1 under the root address space.
	off, ok := t.create(slotTable, abi.KindCapTable, 0)
	if !ok {
		return
	}
	_ = off
	if _, ok = t.create(slotL3, abi.KindPTL3, 0); !ok {
		return
	}
	if _, ok = t.create(slotL2, abi.KindPTL2, 0); !ok {
		return
	}
	if _, ok = t.create(slotL1, abi.KindPTL1, 0); !ok {
		return
	}

	const l4Idx = scratchVA >> 39 & 511
	const l3Idx = scratchVA >> 30 & 511
	const l2Idx = scratchVA >> 21 & 511
	const l1Idx = scratchVA >> 12 & 511
	if !t.check("link l3", user.Invoke(env, abi.InitCapSelfL4, abi.OpPageTableLink, l4Idx, uint64(slotL3), 0, 2|4)) {
		return
	}
	if !t.check("link l2", user.Invoke(env, slotL3, abi.OpPageTableLink, l3Idx, uint64(slotL2), 0, 2|4)) {
		return
	}
	if !t.check("link l1", user.Invoke(env, slotL2, abi.OpPageTableLink, l2Idx, uint64(slotL1), 0, 2|4)) {
		return
	}

	// A user frame, mapped and touched.
	userOff, ok := t.retypeUser()
	if !ok {
		return
	}
	if !t.check("map", user.Invoke(env, slotL1, abi.OpPageTableLink, l1Idx, uint64(slotRegionRight), userOff, 2|4)) {
		return
	}
	msg := []byte("scratch")
	if !env.WriteMem(scratchVA, msg) {
		t.print("roottask: scratch write faulted\n")
		t.fail = true
		return
	}
	back := make([]byte, len(msg))
	if !env.ReadMem(scratchVA, back) || string(back) != string(msg) {
		t.print("roottask: scratch readback mismatch\n")
		t.fail = true
		return
	}
	t.print("roottask: scratch mapping ok\n")

	// A second thread, constructed from arguments staged in the
	// scratch page.
	cons := abi.ThreadConsArgs{
		Entry:     scratchVA,
		Stack:     scratchVA + 0xF00,
		CapTable:  abi.InitCapSelfTable,
		PageTable: abi.InitCapSelfL4,
		Region:    slotRegionRight,
	}
	tcbOff, ok := t.probeOffset(func(off uint64) abi.Result {
		cons.Offset = off
		var buf [abi.ThreadConsArgsSize]byte
		cons.Encode(buf[:])
		if !env.WriteMem(scratchVA+256, buf[:]) {
			return abi.Fail(abi.ErrFault)
		}
		return user.Invoke(env, abi.InitCapSelfTable, abi.OpCapTableCreate,
			uint64(slotThread), uint64(abi.KindThread), scratchVA+256, 0)
	})
	if !ok {
		t.print("roottask: thread create failed\n")
		t.fail = true
		return
	}
	_ = tcbOff
	res = user.Invoke(env, slotThread, abi.OpThreadIntrospect, 0, 0, 0, 0)
	if !t.check("introspect new thread", res) {
		return
	}
	st := abi.UnpackThreadState(res.Ret0, res.Ret1)
	if st.Active || st.Entry != scratchVA {
		t.print("roottask: new thread state wrong\n")
		t.fail = true
		return
	}
	t.print("roottask: thread construction ok\n")

	// Notifications.
	if _, ok = t.create(slotNotify, abi.KindAsyncNotify, 0); !ok {
		return
	}
	if !t.check("signal", user.Invoke(env, slotNotify, abi.OpNotifySignal, 0b101, 0, 0, 0)) {
		return
	}
	res = user.Invoke(env, slotNotify, abi.OpNotifyWait, 0, 0, 0, 0)
	if !t.check("wait", res) {
		return
	}
	if res.Ret0 != 0b101 {
		t.print("roottask: notify bits wrong\n")
		t.fail = true
		return
	}

	// Rights degradation: a weakened copy of the L1 capability may map
	// but not unmap.
	if !t.check("copy", user.Invoke(env, abi.InitCapSelfTable, abi.OpCapTableCopy,
		uint64(slotL1), uint64(abi.InitCapSelfTable), uint64(slotWeakL1), uint64(abi.RightPTMap))) {
		return
	}
	res = user.Invoke(env, slotWeakL1, abi.OpPageTableUnlink, l1Idx, 0, 0, 0)
	if res.Errno() != abi.ErrRights {
		t.print("roottask: weakened capability still unmaps\n")
		t.fail = true
		return
	}
	t.print("roottask: rights degradation ok\n")

	// Teardown: unmap, reclaim the user frame, drop the scratch caps.
	if !t.check("unmap", user.Invoke(env, slotL1, abi.OpPageTableUnlink, l1Idx, 0, 0, 0)) {
		return
	}
	if !t.check("reclaim", user.Invoke(env, slotRegionRight, abi.OpRegionRetype, userOff, uint64(abi.RetypeToUntyped), 0, 0)) {
		return
	}
	for _, slot := range []abi.CapID{slotWeakL1, slotNotify, slotThread, slotTable} {
		if !t.check("drop", user.Invoke(env, abi.InitCapSelfTable, abi.OpCapTableDrop, uint64(slot), 0, 0, 0)) {
			return
		}
	}
}

// create probes region offsets until a construction lands on an
// untyped frame.
func (t *Task) create(slot abi.CapID, kind abi.ResourceKind, _ uint64) (uint64, bool) {
	return t.probeOffset(func(off uint64) abi.Result {
		return user.Invoke(t.env, abi.InitCapSelfTable, abi.OpCapTableCreate,
			uint64(slot), uint64(kind), uint64(slotRegionRight), off)
	})
}

func (t *Task) retypeUser() (uint64, bool) {
	return t.probeOffset(func(off uint64) abi.Result {
		return user.Invoke(t.env, slotRegionRight, abi.OpRegionRetype, off, uint64(abi.RetypeToUser), 0, 0)
	})
}

// probeOffset walks a region looking for a frame the operation can
// consume. Frames already owned fail with ErrBadState or ErrBusy and
// the probe moves on.
func (t *Task) probeOffset(attempt func(off uint64) abi.Result) (uint64, bool) {
	for off := uint64(0); off < 4096; off++ {
		res := attempt(off)
		switch res.Errno() {
		case abi.OK:
			return off, true
		case abi.ErrBadState, abi.ErrBusy:
			continue
		default:
			t.print("roottask: probe: " + res.Errno().String() + "\n")
			t.fail = true
			return 0, false
		}
	}
	t.fail = true
	return 0, false
}
