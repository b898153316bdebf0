package console

import (
	"image/color"
	"sync"
)

// Framebuffer is a 16bpp RGB565 pixel buffer.
type Framebuffer struct {
	mu     sync.Mutex
	width  int
	height int
	buf    []byte
}

// NewFramebuffer allocates a zeroed (black) framebuffer.
func NewFramebuffer(width, height int) *Framebuffer {
	return &Framebuffer{
		width:  width,
		height: height,
		buf:    make([]byte, width*height*2),
	}
}

// Width returns the pixel width.
func (f *Framebuffer) Width() int { return f.width }

// Height returns the pixel height.
func (f *Framebuffer) Height() int { return f.height }

// Snapshot copies the current pixels into dst (RGB565, little-endian).
func (f *Framebuffer) Snapshot(dst []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(dst, f.buf)
}

// SizeBytes returns the buffer size.
func (f *Framebuffer) SizeBytes() int { return len(f.buf) }

func rgb565(c color.RGBA) uint16 {
	return uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
}

// RGB888From565 expands a packed pixel for presentation.
func RGB888From565(p uint16) (r, g, b uint8) {
	r = uint8(p>>11) << 3
	g = uint8(p>>5&0x3F) << 2
	b = uint8(p&0x1F) << 3
	return
}

func (f *Framebuffer) setPixel(x, y int, c color.RGBA) {
	if x < 0 || x >= f.width || y < 0 || y >= f.height {
		return
	}
	p := rgb565(c)
	i := (y*f.width + x) * 2
	f.mu.Lock()
	f.buf[i] = byte(p)
	f.buf[i+1] = byte(p >> 8)
	f.mu.Unlock()
}

func (f *Framebuffer) fillRect(x, y, w, h int, c color.RGBA) {
	p := rgb565(c)
	lo, hi := byte(p), byte(p>>8)
	f.mu.Lock()
	for yy := y; yy < y+h && yy < f.height; yy++ {
		if yy < 0 {
			continue
		}
		for xx := x; xx < x+w && xx < f.width; xx++ {
			if xx < 0 {
				continue
			}
			i := (yy*f.width + xx) * 2
			f.buf[i] = lo
			f.buf[i+1] = hi
		}
	}
	f.mu.Unlock()
}
