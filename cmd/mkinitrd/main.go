// Command mkinitrd packs user components into the initial-ramdisk tar
// the kernel consumes at boot. Files are stored flat, in the order
// given; the first one becomes the component the kernel loads.
package main

import (
	"archive/tar"
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	out := flag.String("o", "initrd.tar", "Output archive path.")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: mkinitrd [-o initrd.tar] file...")
		os.Exit(2)
	}

	if err := build(*out, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func build(out string, files []string) error {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %q: %w", out, err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %q: %w", path, err)
		}
		hdr := &tar.Header{
			Name: filepath.Base(path),
			Mode: 0o644,
			Size: int64(len(data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header for %q: %w", path, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write %q: %w", path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish %q: %w", out, err)
	}
	return nil
}
