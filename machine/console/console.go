// Package console renders the serial debug channel into a framebuffer
// as a VT100 terminal. It is host-side furniture: the kernel only ever
// sees the serial port.
package console

import (
	"sync"

	"tinygo.org/x/tinyfont/proggy"
	"tinygo.org/x/tinyterm"
)

// Console is a terminal over an RGB565 framebuffer.
type Console struct {
	fb *Framebuffer

	mu    sync.Mutex
	term  *tinyterm.Terminal
	dirty bool
}

// New builds a console with a framebuffer of the given pixel size.
func New(width, height int) *Console {
	fb := NewFramebuffer(width, height)
	c := &Console{fb: fb}

	c.term = tinyterm.NewTerminal(&fbDisplay{fb: fb})
	c.term.Configure(&tinyterm.Config{
		Font:              &proggy.TinySZ8pt7b,
		FontHeight:        10,
		FontOffset:        6,
		UseSoftwareScroll: true,
	})
	return c
}

// Framebuffer returns the pixel buffer the console draws into.
func (c *Console) Framebuffer() *Framebuffer { return c.fb }

// Write feeds serial output into the terminal. Carriage returns are
// inserted so bare newlines behave.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			c.term.WriteByte('\r')
		}
		c.term.WriteByte(b)
	}
	c.dirty = true
	return len(p), nil
}

// Flush presents pending terminal output. Returns true if anything
// changed since the last flush.
func (c *Console) Flush() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return false
	}
	c.term.Display()
	c.dirty = false
	return true
}
