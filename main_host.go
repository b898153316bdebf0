package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"helix/kernel"
	"helix/machine"
	"helix/machine/console"
	"helix/machine/headless"
	"helix/machine/hostwin"
	"helix/mem"
	"helix/user/roottask"
)

func main() {
	var (
		headlessMode bool
		hz           int
		ticks        uint64
		cores        int
		ramMiB       uint64
		initrdPath   string
	)
	flag.BoolVar(&headlessMode, "headless", false, "Run without a window.")
	flag.IntVar(&hz, "hz", 60, "Tick rate in headless mode.")
	flag.Uint64Var(&ticks, "ticks", 0, "Stop after N ticks in headless mode (0 = run forever).")
	flag.IntVar(&cores, "cores", 2, "Number of cores.")
	flag.Uint64Var(&ramMiB, "ram", 64, "RAM size in MiB.")
	flag.StringVar(&initrdPath, "initrd", "", "Initial ramdisk (tar) to load.")
	flag.Parse()

	if err := run(headlessMode, hz, ticks, cores, ramMiB, initrdPath); err != nil {
		if err == context.Canceled {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(headlessMode bool, hz int, ticks uint64, cores int, ramMiB uint64, initrdPath string) error {
	m, err := machine.New(machine.Config{
		RAMBytes: ramMiB << 20,
		Cores:    cores,
	})
	if err != nil {
		return err
	}

	var initrd []byte
	if initrdPath != "" {
		initrd, err = os.ReadFile(initrdPath)
		if err != nil {
			return err
		}
	}

	// A Limine-style map: a hole over the zero frame, the rest usable.
	bootMap := mem.Map{
		{Base: 0, Length: 0x1000, Type: mem.EntryReserved},
		{Base: 0x1000, Length: m.RAMBytes() - 0x1000, Type: mem.EntryUsable},
	}

	boot := func() (func() error, error) {
		k, err := kernel.Boot(m, kernel.BootConfig{
			MemoryMap: bootMap,
			Initrd:    initrd,
		})
		if err != nil {
			return nil, err
		}
		task := roottask.New(k.UserEnv(0))
		return func() error {
			task.Step()
			return nil
		}, nil
	}

	if headlessMode {
		step, err := boot()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return headless.Run(ctx, m, step, headless.Config{
			Hz:          hz,
			Ticks:       ticks,
			Interactive: ticks == 0,
		})
	}

	con := console.New(640, 400)
	m.Serial.Tap(func(p []byte) { con.Write(p) })
	step, err := boot()
	if err != nil {
		return err
	}
	return hostwin.Run(m, con, step)
}
