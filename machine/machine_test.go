package machine

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"helix/mem"
)

func newMachine(t *testing.T, cores int) *Machine {
	t.Helper()
	m, err := New(Config{RAMBytes: 16 * mem.FrameSize, Cores: cores})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestRAMViewsAlias(t *testing.T) {
	m := newMachine(t, 1)

	words := m.FrameWords(2)
	words[0] = 0x1122334455667788

	b := m.FrameBytes(2)
	if b[0] != 0x88 || b[7] != 0x11 {
		t.Fatalf("byte view = %#x..%#x, want little-endian word", b[0], b[7])
	}

	m.ZeroFrame(2)
	if words[0] != 0 {
		t.Fatal("ZeroFrame left data behind")
	}
}

func TestBytesBounds(t *testing.T) {
	m := newMachine(t, 1)
	if _, ok := m.Bytes(0, m.RAMBytes()+1); ok {
		t.Fatal("Bytes() past RAM = true, want false")
	}
	if _, ok := m.Bytes(mem.PhysAddr(m.RAMBytes()-4), 8); ok {
		t.Fatal("Bytes() straddling RAM end = true, want false")
	}
	if !m.CheckFrame(0) {
		t.Fatal("CheckFrame(0) = false, want true")
	}
	if m.CheckFrame(mem.Frame(m.RAMBytes() / mem.FrameSize)) {
		t.Fatal("CheckFrame(top) = true, want false")
	}
}

func TestShootdownIdleCores(t *testing.T) {
	m := newMachine(t, 4)
	// No core is in a syscall; the shootdown completes immediately.
	gen := m.TLBShootdown(m.Core(0))
	if gen != m.TLBEpoch() {
		t.Fatalf("generation = %d, epoch = %d", gen, m.TLBEpoch())
	}
}

func TestShootdownWaitsForMaskedCore(t *testing.T) {
	oldProcs := runtime.GOMAXPROCS(4)
	defer runtime.GOMAXPROCS(oldProcs)

	m := newMachine(t, 2)
	other := m.Core(1)
	other.MaskInterrupts()

	var done atomic.Bool
	go func() {
		m.TLBShootdown(m.Core(0))
		done.Store(true)
	}()

	time.Sleep(10 * time.Millisecond)
	if done.Load() {
		t.Fatal("shootdown completed while a core held stale translations")
	}

	other.UnmaskInterrupts()
	for i := 0; i < 1000 && !done.Load(); i++ {
		time.Sleep(time.Millisecond)
	}
	if !done.Load() {
		t.Fatal("shootdown never completed after unmask")
	}
}

func TestShootdownOfflineCore(t *testing.T) {
	m := newMachine(t, 2)
	other := m.Core(1)
	other.MaskInterrupts()
	other.SetOnline(false)

	// An offline core cannot hold a translation.
	m.TLBShootdown(m.Core(0))

	other.SetOnline(true)
	if other.tlbAck.Load() < m.TLBEpoch() {
		t.Fatal("onlined core resumed with a stale TLB generation")
	}
}

func TestSerialTapAndInput(t *testing.T) {
	m := newMachine(t, 1)

	var tapped []byte
	m.Serial.Tap(func(p []byte) { tapped = append(tapped, p...) })
	m.Serial.WriteString("hello")

	if string(m.Serial.Output()) != "hello" {
		t.Fatalf("Output() = %q, want %q", m.Serial.Output(), "hello")
	}
	if string(tapped) != "hello" {
		t.Fatalf("tap saw %q, want %q", tapped, "hello")
	}

	m.Serial.PushInput([]byte("xy"))
	var buf [8]byte
	if n := m.Serial.ReadInput(buf[:]); n != 2 || string(buf[:n]) != "xy" {
		t.Fatalf("ReadInput() = %q, want %q", buf[:n], "xy")
	}
	if n := m.Serial.ReadInput(buf[:]); n != 0 {
		t.Fatalf("ReadInput() on drained queue = %d bytes, want 0", n)
	}
}

func TestCOM1Device(t *testing.T) {
	m := newMachine(t, 1)

	m.Ports.Out(COM1Base, 1, 'A')
	if string(m.Serial.Output()) != "A" {
		t.Fatalf("serial output = %q, want %q", m.Serial.Output(), "A")
	}

	if status := m.Ports.In(COM1Base+5, 1); status&0x01 != 0 {
		t.Fatalf("line status = %#x, receive-ready set with no input", status)
	}
	m.Serial.PushInput([]byte{'z'})
	if status := m.Ports.In(COM1Base+5, 1); status&0x01 == 0 {
		t.Fatalf("line status = %#x, receive-ready clear with input", status)
	}
	if got := m.Ports.In(COM1Base, 1); got != 'z' {
		t.Fatalf("data port = %#x, want 'z'", got)
	}
}

type testPort struct {
	last uint32
}

func (p *testPort) In(port uint16, width uint8) uint32     { return p.last }
func (p *testPort) Out(port uint16, width uint8, v uint32) { p.last = v }

func TestPortBusClaims(t *testing.T) {
	m := newMachine(t, 1)
	dev := &testPort{}

	if !m.Ports.Claim(0x1000, 4, dev) {
		t.Fatal("Claim() = false, want true")
	}
	if m.Ports.Claim(0x1002, 4, dev) {
		t.Fatal("overlapping Claim() = true, want false")
	}

	m.Ports.Out(0x1001, 1, 0x5A)
	if got := m.Ports.In(0x1003, 1); got != 0x5A {
		t.Fatalf("In() = %#x, want 0x5A", got)
	}
	// Unclaimed ports float high.
	if got := m.Ports.In(0x2000, 1); got != 0xFF {
		t.Fatalf("In() on unclaimed port = %#x, want 0xFF", got)
	}
}

func TestIRQLatching(t *testing.T) {
	m := newMachine(t, 1)

	var delivered int
	m.IRQs.Bind(5, func() { delivered++ })

	if !m.IRQs.Raise(5) {
		t.Fatal("Raise() = false, want true")
	}
	if m.IRQs.Raise(5) {
		t.Fatal("Raise() while pending = true, want false")
	}
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}

	m.IRQs.Ack(5)
	if !m.IRQs.Raise(5) {
		t.Fatal("Raise() after ack = false, want true")
	}
	if delivered != 2 {
		t.Fatalf("delivered = %d, want 2", delivered)
	}

	if m.IRQs.Raise(200) {
		t.Fatal("Raise() on out-of-range line = true, want false")
	}
}
