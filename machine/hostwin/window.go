// Package hostwin presents a machine's console framebuffer in a
// desktop window and feeds keyboard input to the serial port.
package hostwin

import (
	"image"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"helix/internal/buildinfo"
	"helix/machine"
	"helix/machine/console"
)

// Run opens the window and drives the machine at 60 ticks per second.
// step runs once per tick; returning an error closes the window.
func Run(m *machine.Machine, con *console.Console, step func() error) error {
	fb := con.Framebuffer()
	g := &game{
		m:       m,
		con:     con,
		step:    step,
		scratch: make([]byte, fb.SizeBytes()),
	}
	ebiten.SetWindowTitle("helix (" + buildinfo.Short() + ")")
	ebiten.SetWindowSize(fb.Width()*2, fb.Height()*2)
	ebiten.SetTPS(60)
	return ebiten.RunGame(g)
}

type game struct {
	m       *machine.Machine
	con     *console.Console
	step    func() error
	img     *image.RGBA
	fbImg   *ebiten.Image
	scratch []byte
	keys    []rune
}

func (g *game) Update() error {
	g.pollKeys()
	g.con.Flush()
	if g.step != nil {
		return g.step()
	}
	return nil
}

func (g *game) pollKeys() {
	g.keys = ebiten.AppendInputChars(g.keys[:0])
	for _, r := range g.keys {
		if r < 128 {
			g.m.Serial.PushInput([]byte{byte(r)})
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		g.m.Serial.PushInput([]byte{'\r'})
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		g.m.Serial.PushInput([]byte{0x7F})
	}
}

func (g *game) Draw(screen *ebiten.Image) {
	fb := g.con.Framebuffer()
	if g.img == nil {
		g.img = image.NewRGBA(image.Rect(0, 0, fb.Width(), fb.Height()))
		g.fbImg = ebiten.NewImage(fb.Width(), fb.Height())
	}

	fb.Snapshot(g.scratch)
	src := g.scratch
	dst := g.img.Pix
	for i := 0; i+1 < len(src) && i/2*4+3 < len(dst); i += 2 {
		r, gg, b := console.RGB888From565(uint16(src[i]) | uint16(src[i+1])<<8)
		j := i / 2 * 4
		dst[j], dst[j+1], dst[j+2], dst[j+3] = r, gg, b, 0xFF
	}
	g.fbImg.WritePixels(g.img.Pix)

	op := &ebiten.DrawImageOptions{}
	sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
	op.GeoM.Scale(float64(sw)/float64(fb.Width()), float64(sh)/float64(fb.Height()))
	screen.DrawImage(g.fbImg, op)
}

func (g *game) Layout(outsideWidth, outsideHeight int) (int, int) {
	fb := g.con.Framebuffer()
	return fb.Width() * 2, fb.Height() * 2
}
