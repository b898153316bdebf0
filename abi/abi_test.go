package abi

import "testing"

func TestErrnoStatusRoundTrip(t *testing.T) {
	for e := OK; e <= ErrFault; e++ {
		if got := ErrnoFromStatus(e.Status()); got != e {
			t.Fatalf("ErrnoFromStatus(Status(%s)) = %s", e, got)
		}
	}
	if got := ErrnoFromStatus(42); got != OK {
		t.Fatalf("ErrnoFromStatus(42) = %s, want ok", got)
	}
}

func TestRightsSubset(t *testing.T) {
	full := RightPTMap | RightPTUnmap | RightPTModifyFlags
	if !(RightPTMap).Subset(full) {
		t.Fatal("Subset() = false for a strict subset")
	}
	if !full.Subset(full) {
		t.Fatal("Subset() = false for itself")
	}
	if (RightPTMap | RightCopy).Subset(full) {
		t.Fatal("Subset() = true for a superset")
	}
}

func TestOpKindPairs(t *testing.T) {
	for op := OpCode(0); op.Valid(); op++ {
		if op.Kind() == KindNone {
			t.Fatalf("%s has no resource kind", op)
		}
	}
	if OpCode(numOps).Valid() {
		t.Fatal("Valid() = true past the last op")
	}
}

func TestPTKindLevels(t *testing.T) {
	for level := uint8(1); level <= 4; level++ {
		kind := PTKindForLevel(level)
		if !kind.IsPageTable() {
			t.Fatalf("PTKindForLevel(%d) = %s, not a page table", level, kind)
		}
		if got := kind.PTLevel(); got != level {
			t.Fatalf("PTLevel(PTKindForLevel(%d)) = %d", level, got)
		}
	}
	if KindThread.IsPageTable() {
		t.Fatal("thread kind claims to be a page table")
	}
}

func TestThreadConsArgsRoundTrip(t *testing.T) {
	in := ThreadConsArgs{
		Entry:     0x400000,
		Stack:     0x7FF000,
		CapTable:  10,
		PageTable: 2,
		Region:    3,
		Offset:    77,
		Arg0:      0xABCD,
	}
	var buf [ThreadConsArgsSize]byte
	in.Encode(buf[:])
	out, ok := DecodeThreadConsArgs(buf[:])
	if !ok {
		t.Fatal("DecodeThreadConsArgs() = false, want true")
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
	if _, ok := DecodeThreadConsArgs(buf[:10]); ok {
		t.Fatal("DecodeThreadConsArgs() on short buffer = true, want false")
	}
}

func TestRangePacking(t *testing.T) {
	base, count := UnpackPortRange(PackPortRange(0x3F8, 8))
	if base != 0x3F8 || count != 8 {
		t.Fatalf("port range = %#x/%d, want 0x3F8/8", base, count)
	}
	base, count = UnpackPortRange(PackPortRange(0, 1<<16))
	if base != 0 || count != 1<<16 {
		t.Fatalf("full port range = %#x/%d, want 0/65536", base, count)
	}

	ib, ic := UnpackIRQRange(PackIRQRange(3, 5))
	if ib != 3 || ic != 5 {
		t.Fatalf("irq range = %d/%d, want 3/5", ib, ic)
	}
}

func TestThreadStatePacking(t *testing.T) {
	in := ThreadState{Affinity: 3, Active: true, Entry: 0x400000}
	r0, r1 := PackThreadState(in)
	if got := UnpackThreadState(r0, r1); got != in {
		t.Fatalf("round trip = %+v, want %+v", got, in)
	}
	in.Active = false
	r0, r1 = PackThreadState(in)
	if got := UnpackThreadState(r0, r1); got != in {
		t.Fatalf("round trip = %+v, want %+v", got, in)
	}
}
