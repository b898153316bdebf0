package console

import (
	"image/color"

	"tinygo.org/x/drivers"
)

// fbDisplay adapts the framebuffer to the tinyterm display contract
// (a drivers.Displayer plus the rectangle and scroll extensions).
type fbDisplay struct {
	fb *Framebuffer
}

func (d *fbDisplay) Size() (x, y int16) {
	return int16(d.fb.width), int16(d.fb.height)
}

func (d *fbDisplay) SetPixel(x, y int16, c color.RGBA) {
	d.fb.setPixel(int(x), int(y), c)
}

func (d *fbDisplay) Display() error { return nil }

func (d *fbDisplay) FillRectangle(x, y, w, h int16, c color.RGBA) error {
	d.fb.fillRect(int(x), int(y), int(w), int(h), c)
	return nil
}

// SetScroll is unsupported; the console uses software scrolling.
func (d *fbDisplay) SetScroll(line int16) {}

func (d *fbDisplay) SetRotation(rotation drivers.Rotation) error { return nil }
