package machine

import "sync"

// NumIRQLines is the size of the interrupt line space.
const NumIRQLines = 64

// IRQController latches hardware interrupt lines and delivers them to
// the kernel's bound sink. A raised line stays masked until the kernel
// acknowledges it, so a storm of raises coalesces into one delivery.
type IRQController struct {
	mu      sync.Mutex
	pending [NumIRQLines]bool
	sinks   [NumIRQLines]func()
}

func newIRQController() *IRQController {
	return &IRQController{}
}

// Bind attaches the kernel's delivery hook to a line.
func (c *IRQController) Bind(line uint8, fn func()) bool {
	if line >= NumIRQLines {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks[line] = fn
	return true
}

// Unbind detaches a line.
func (c *IRQController) Unbind(line uint8) {
	if line >= NumIRQLines {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks[line] = nil
}

// Raise asserts a line. Returns false if the line is out of range, has
// no bound sink, or is still pending acknowledgment.
func (c *IRQController) Raise(line uint8) bool {
	if line >= NumIRQLines {
		return false
	}
	c.mu.Lock()
	if c.pending[line] || c.sinks[line] == nil {
		c.mu.Unlock()
		return false
	}
	c.pending[line] = true
	sink := c.sinks[line]
	c.mu.Unlock()

	sink()
	return true
}

// Ack re-arms a line after the kernel has delivered it.
func (c *IRQController) Ack(line uint8) {
	if line >= NumIRQLines {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[line] = false
}
