package cap

import (
	"runtime"
	"sync"
	"testing"

	"helix/abi"
	"helix/machine"
	"helix/mem"
)

func newMachine(t *testing.T) *machine.Machine {
	t.Helper()
	m, err := machine.New(machine.Config{RAMBytes: 64 * mem.FrameSize, Cores: 1})
	if err != nil {
		t.Fatalf("machine.New: %v", err)
	}
	return m
}

func TestSlotInstallClear(t *testing.T) {
	m := newMachine(t)
	n := NodeAt(m, 1)
	s := n.Slot(3)

	if got := s.Load(); !got.IsNone() {
		t.Fatalf("Load() = %v, want empty", got)
	}

	v := Value{Kind: abi.KindThread, Rights: abi.RightThreadActivate, Frame: 7, Aux: 42}
	if !s.Install(v) {
		t.Fatal("Install() = false, want true")
	}
	if n.Slot(3).Install(v) {
		t.Fatal("Install() on occupied slot = true, want false")
	}

	got := s.Load()
	if got.Kind != v.Kind || got.Rights != v.Rights || got.Frame != v.Frame || got.Aux != v.Aux {
		t.Fatalf("Load() = %+v, want %+v", got, v)
	}

	cleared, ok := s.Clear()
	if !ok || cleared.Frame != 7 {
		t.Fatalf("Clear() = %+v, %v, want frame 7, true", cleared, ok)
	}
	if _, ok := s.Clear(); ok {
		t.Fatal("Clear() on empty slot = true, want false")
	}
}

func TestChildLinks(t *testing.T) {
	m := newMachine(t)
	s := NodeAt(m, 1).Slot(0)

	if _, ok := s.Child(); ok {
		t.Fatal("Child() on fresh slot = true, want false")
	}
	if !s.SetChild(2) {
		t.Fatal("SetChild() = false, want true")
	}
	if s.SetChild(3) {
		t.Fatal("SetChild() over existing link = true, want false")
	}
	// Frame 0 is a legal child; the link encoding must not confuse it
	// with an empty link.
	s2 := NodeAt(m, 1).Slot(1)
	if !s2.SetChild(0) {
		t.Fatal("SetChild(0) = false, want true")
	}
	if f, ok := s2.Child(); !ok || f != 0 {
		t.Fatalf("Child() = %d, %v, want 0, true", f, ok)
	}

	f, ok := s.ClearChild()
	if !ok || f != 2 {
		t.Fatalf("ClearChild() = %d, %v, want 2, true", f, ok)
	}
	if _, ok := s.ClearChild(); ok {
		t.Fatal("ClearChild() on unlinked slot = true, want false")
	}
}

func TestLookupRoot(t *testing.T) {
	m := newMachine(t)
	const root = mem.Frame(1)

	// Ids 0..63 terminate in the root node.
	for _, id := range []abi.CapID{0, 1, 63} {
		slot, errno := Lookup(m, root, id)
		if errno != abi.OK {
			t.Fatalf("Lookup(%d) = %s, want ok", id, errno)
		}
		if slot.n.f != root || slot.i != int(id) {
			t.Fatalf("Lookup(%d) landed at frame %d slot %d", id, slot.n.f, slot.i)
		}
	}
}

func TestLookupDescends(t *testing.T) {
	m := newMachine(t)
	const root = mem.Frame(1)
	const child = mem.Frame(2)

	// Id 64 walks through root slot 0's child to the child's slot 1:
	// 64 = 0 + 64*1.
	if _, errno := Lookup(m, root, 64); errno != abi.ErrNoCap {
		t.Fatalf("Lookup(64) without child = %s, want no capability", errno)
	}
	NodeAt(m, root).Slot(0).SetChild(child)

	slot, errno := Lookup(m, root, 64)
	if errno != abi.OK {
		t.Fatalf("Lookup(64) = %s, want ok", errno)
	}
	if slot.n.f != child || slot.i != 1 {
		t.Fatalf("Lookup(64) landed at frame %d slot %d, want %d slot 1", slot.n.f, slot.i, child)
	}

	// 4<<6 descends through slot 4 of the child's parent digit.
	NodeAt(m, root).Slot(4).SetChild(child)
	v := Value{Kind: abi.KindAsyncNotify, Frame: 9}
	NodeAt(m, child).Slot(4).Install(v)
	slot, errno = Lookup(m, root, 4|4<<6)
	if errno != abi.OK {
		t.Fatalf("Lookup(4|4<<6) = %s, want ok", errno)
	}
	if got := slot.Load(); got.Frame != 9 {
		t.Fatalf("terminal slot frame = %d, want 9", got.Frame)
	}
}

func TestLookupCycleBounded(t *testing.T) {
	m := newMachine(t)
	const root = mem.Frame(1)

	// A self-cycle: every slot of root links back to root. The id
	// still shrinks each step, so the walk terminates.
	for i := 0; i < abi.SlotsPerNode; i++ {
		NodeAt(m, root).Slot(i).SetChild(root)
	}
	slot, errno := Lookup(m, root, ^abi.CapID(0))
	if errno != abi.OK {
		t.Fatalf("Lookup(max id) = %s, want ok", errno)
	}
	if slot.n.f != root {
		t.Fatalf("cycle walk left the root: frame %d", slot.n.f)
	}
}

func TestConcurrentInstallOneWins(t *testing.T) {
	oldProcs := runtime.GOMAXPROCS(4)
	defer runtime.GOMAXPROCS(oldProcs)

	for round := 0; round < 200; round++ {
		m := newMachine(t)
		s := NodeAt(m, 1).Slot(5)

		const contenders = 4
		start := make(chan struct{})
		wins := make([]bool, contenders)
		var wg sync.WaitGroup
		wg.Add(contenders)
		for i := 0; i < contenders; i++ {
			go func(i int) {
				defer wg.Done()
				<-start
				wins[i] = s.Install(Value{Kind: abi.KindThread, Frame: mem.Frame(i + 1)})
			}(i)
		}
		close(start)
		wg.Wait()

		var winners int
		for _, w := range wins {
			if w {
				winners++
			}
		}
		if winners != 1 {
			t.Fatalf("install winners = %d, want 1", winners)
		}
	}
}
