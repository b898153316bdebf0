//go:build linux

package machine

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapRAM backs the arena with an anonymous mmap so large machines do
// not sit in the Go heap and the pages stay demand-zeroed until the
// kernel touches them.
func mapRAM(size uint64) (ram, error) {
	b, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return ram{}, err
	}
	words := unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), size/8)
	return ram{size: size, bytes: b, words: words}, nil
}
