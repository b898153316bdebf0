package kernel

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
)

// Module is one user component from the initial ramdisk.
type Module struct {
	Name string
	Data []byte
}

// readInitrd unpacks the boot tarball. Only regular files count;
// directory entries and metadata are skipped.
func readInitrd(initrd []byte) ([]Module, error) {
	tr := tar.NewReader(bytes.NewReader(initrd))
	var mods []Module
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return mods, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", hdr.Name, err)
		}
		mods = append(mods, Module{Name: hdr.Name, Data: data})
	}
}
