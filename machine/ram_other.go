//go:build !linux

package machine

import "unsafe"

func mapRAM(size uint64) (ram, error) {
	words := make([]uint64, size/8)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	return ram{size: size, bytes: b, words: words}, nil
}
