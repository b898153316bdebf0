// Package headless runs a machine without a window: serial output to
// stdout, raw keyboard input from the controlling terminal.
package headless

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-tty"

	"helix/machine"
)

// Config controls the no-window runner.
type Config struct {
	// Hz is the tick rate.
	Hz int
	// Ticks stops the run after N ticks; 0 runs until cancelled.
	Ticks uint64
	// Interactive attaches the controlling tty as the serial input.
	Interactive bool
}

// Run drives the machine until the context ends, the tick budget runs
// out, or step fails.
func Run(ctx context.Context, m *machine.Machine, step func() error, cfg Config) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}
	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("headless: invalid hz %d", cfg.Hz)
	}

	m.Serial.Tap(func(p []byte) {
		os.Stdout.Write(p)
	})

	if cfg.Interactive {
		t, err := tty.Open()
		if err != nil {
			return fmt.Errorf("headless: opening tty: %w", err)
		}
		defer t.Close()
		go func() {
			for {
				r, err := t.ReadRune()
				if err != nil {
					return
				}
				if r < 128 {
					m.Serial.PushInput([]byte{byte(r)})
				}
			}
		}()
	}

	ticker := time.NewTicker(d)
	defer ticker.Stop()

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if step != nil {
				if err := step(); err != nil {
					return err
				}
			}
			tick++
			if cfg.Ticks > 0 && tick >= cfg.Ticks {
				return nil
			}
		}
	}
}
