// Package machine models the hardware the kernel runs against: physical
// RAM with a direct map, a set of cores with maskable interrupts, the
// TLB shootdown fabric, a serial port, port I/O and IRQ lines.
//
// The kernel proper never touches host resources directly; everything
// goes through a *Machine. Tests construct small machines with a few
// frames of RAM and drive cores explicitly.
package machine

import (
	"fmt"

	"helix/mem"
)

// Config sizes a machine.
type Config struct {
	// RAMBytes is the size of the physical address space. Rounded up
	// to a frame boundary.
	RAMBytes uint64

	// Cores is the number of cores. At least 1.
	Cores int
}

// Machine is a simulated x86-64 board.
type Machine struct {
	tlbFabric

	ram   ram
	cores []*Core

	Serial *Serial
	Ports  *PortBus
	IRQs   *IRQController

	haltHook func(core int, msg string)
}

// New constructs a machine. RAM contents start zeroed.
func New(cfg Config) (*Machine, error) {
	if cfg.Cores < 1 {
		cfg.Cores = 1
	}
	size := (cfg.RAMBytes + mem.FrameSize - 1) &^ uint64(mem.FrameSize-1)
	if size == 0 {
		return nil, fmt.Errorf("machine: zero RAM size")
	}
	r, err := mapRAM(size)
	if err != nil {
		return nil, fmt.Errorf("machine: mapping %d bytes of RAM: %w", size, err)
	}

	m := &Machine{
		ram:    r,
		Serial: newSerial(),
		Ports:  newPortBus(),
		IRQs:   newIRQController(),
	}
	for i := 0; i < cfg.Cores; i++ {
		m.cores = append(m.cores, newCore(m, i))
	}
	m.Ports.Claim(COM1Base, 8, comPort{s: m.Serial})
	return m, nil
}

// NumCores returns the number of cores.
func (m *Machine) NumCores() int { return len(m.cores) }

// Core returns core i.
func (m *Machine) Core(i int) *Core { return m.cores[i] }

// RAMBytes returns the physical address space size.
func (m *Machine) RAMBytes() uint64 { return m.ram.size }

// SetHaltHook installs the handler invoked when a core halts on a
// kernel invariant violation. The default prints to the serial port
// and panics.
func (m *Machine) SetHaltHook(fn func(core int, msg string)) {
	m.haltHook = fn
}

// HaltCore reports a fatal kernel diagnostic and stops the core.
// It never returns control to kernel code on the halting path.
func (m *Machine) HaltCore(core int, msg string) {
	m.Serial.WriteString("core " + itoa(core) + " halt: " + msg + "\n")
	if m.haltHook != nil {
		m.haltHook(core, msg)
		return
	}
	panic("machine: core " + itoa(core) + " halted: " + msg)
}

func itoa(v int) string {
	return fmt.Sprintf("%d", v)
}
