package thread

import (
	"testing"

	"helix/machine"
	"helix/mem"
)

func newTCB(t *testing.T) TCB {
	t.Helper()
	m, err := machine.New(machine.Config{RAMBytes: 16 * mem.FrameSize, Cores: 1})
	if err != nil {
		t.Fatalf("machine.New: %v", err)
	}
	InitWords(m.FrameWords(2), 0x400000, 0x7FF000, 7, 3, 4, 1)
	return At(m, 2)
}

func TestInitFields(t *testing.T) {
	tcb := newTCB(t)

	if got := tcb.Entry(); got != 0x400000 {
		t.Fatalf("Entry() = %#x, want 0x400000", got)
	}
	if got := tcb.Affinity(); got != 1 {
		t.Fatalf("Affinity() = %d, want 1", got)
	}
	if got := tcb.CapTableFrame(); got != 3 {
		t.Fatalf("CapTableFrame() = %d, want 3", got)
	}
	if got := tcb.L4Frame(); got != 4 {
		t.Fatalf("L4Frame() = %d, want 4", got)
	}
	r := tcb.Regs()
	if r.RIP != 0x400000 || r.RSP != 0x7FF000 || r.Arg0 != 7 {
		t.Fatalf("Regs() = %+v", r)
	}
}

func TestActivationFlag(t *testing.T) {
	tcb := newTCB(t)

	if tcb.Active() {
		t.Fatal("fresh TCB active")
	}
	if !tcb.TryActivate() {
		t.Fatal("TryActivate() = false, want true")
	}
	if tcb.TryActivate() {
		t.Fatal("second TryActivate() = true, want false")
	}
	tcb.Deactivate()
	if !tcb.TryActivate() {
		t.Fatal("TryActivate() after deactivate = false, want true")
	}
}

func TestRegsRoundTrip(t *testing.T) {
	tcb := newTCB(t)

	in := Regs{RIP: 1, RSP: 2, RFLAGS: 3, Arg0: 4}
	for i := range in.GP {
		in.GP[i] = uint64(10 + i)
	}
	tcb.SaveRegs(in)
	if got := tcb.Regs(); got != in {
		t.Fatalf("Regs() = %+v, want %+v", got, in)
	}
}

func TestCallerLink(t *testing.T) {
	tcb := newTCB(t)

	if _, ok := tcb.Caller(); ok {
		t.Fatal("fresh TCB has a caller")
	}
	if !tcb.TrySetCaller(0) {
		t.Fatal("TrySetCaller(0) = false, want true")
	}
	if tcb.TrySetCaller(5) {
		t.Fatal("TrySetCaller() over existing link = true, want false")
	}
	if f, ok := tcb.Caller(); !ok || f != 0 {
		t.Fatalf("Caller() = %d, %v, want 0, true", f, ok)
	}
	if f, ok := tcb.ClearCaller(); !ok || f != 0 {
		t.Fatalf("ClearCaller() = %d, %v, want 0, true", f, ok)
	}
	if _, ok := tcb.ClearCaller(); ok {
		t.Fatal("second ClearCaller() = true, want false")
	}
}
