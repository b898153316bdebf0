package machine

import "sync"

// Serial is the COM1-style debug channel: output-only from the
// kernel's point of view, with a host-side input queue for whatever
// front end (window, tty) is attached.
type Serial struct {
	mu   sync.Mutex
	out  []byte
	taps []func([]byte)

	in []byte
}

func newSerial() *Serial {
	return &Serial{}
}

// Write sinks kernel output. Taps observe the same bytes.
func (s *Serial) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.out = append(s.out, p...)
	taps := s.taps
	s.mu.Unlock()
	for _, tap := range taps {
		tap(p)
	}
	return len(p), nil
}

// WriteString sinks kernel output.
func (s *Serial) WriteString(str string) {
	s.Write([]byte(str))
}

// Tap registers a host-side observer of serial output. The observer
// must not block.
func (s *Serial) Tap(fn func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taps = append(s.taps, fn)
}

// Output returns a copy of everything written so far.
func (s *Serial) Output() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(s.out))
	copy(cp, s.out)
	return cp
}

// PushInput queues host keystrokes for the kernel side.
func (s *Serial) PushInput(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.in = append(s.in, p...)
}

// ReadInput drains up to len(p) queued input bytes.
func (s *Serial) ReadInput(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(p, s.in)
	s.in = s.in[n:]
	return n
}

// COM1Base is the port the serial device claims on the port bus.
const COM1Base = 0x3F8

// comPort exposes the serial channel as a COM-style device: data on
// the base port, line status on base+5.
type comPort struct {
	s *Serial
}

func (c comPort) In(port uint16, width uint8) uint32 {
	switch port - COM1Base {
	case 0:
		var b [1]byte
		if c.s.ReadInput(b[:]) == 1 {
			return uint32(b[0])
		}
		return 0
	case 5:
		c.s.mu.Lock()
		ready := len(c.s.in) > 0
		c.s.mu.Unlock()
		// Transmit always ready; bit 0 is receive ready.
		status := uint32(0x60)
		if ready {
			status |= 0x01
		}
		return status
	default:
		return 0
	}
}

func (c comPort) Out(port uint16, width uint8, value uint32) {
	if port == COM1Base {
		c.s.Write([]byte{byte(value)})
	}
}
