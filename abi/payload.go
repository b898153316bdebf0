package abi

import "encoding/binary"

// ThreadConsArgs is the construct payload for a new thread. It does
// not fit the four argument words, so the caller places it in its own
// address space and passes a pointer; the kernel reads it through the
// caller's page tables (ErrFault if unmapped).
//
// Layout (little-endian, 56 bytes):
//   - u64: entry instruction pointer
//   - u64: stack pointer
//   - u64: capability id of the new thread's root capability table
//   - u64: capability id of the new thread's L4 table
//   - u64: capability id of the region supplying the TCB frame
//   - u64: frame offset within that region
//   - u64: first argument register
type ThreadConsArgs struct {
	Entry     uint64
	Stack     uint64
	CapTable  CapID
	PageTable CapID
	Region    CapID
	Offset    uint64
	Arg0      uint64
}

// ThreadConsArgsSize is the encoded size of ThreadConsArgs.
const ThreadConsArgsSize = 56

// Encode serializes into a caller-provided buffer.
func (a ThreadConsArgs) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], a.Entry)
	binary.LittleEndian.PutUint64(buf[8:16], a.Stack)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(a.CapTable))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(a.PageTable))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(a.Region))
	binary.LittleEndian.PutUint64(buf[40:48], a.Offset)
	binary.LittleEndian.PutUint64(buf[48:56], a.Arg0)
}

// DecodeThreadConsArgs deserializes a construct payload.
func DecodeThreadConsArgs(buf []byte) (ThreadConsArgs, bool) {
	if len(buf) < ThreadConsArgsSize {
		return ThreadConsArgs{}, false
	}
	return ThreadConsArgs{
		Entry:     binary.LittleEndian.Uint64(buf[0:8]),
		Stack:     binary.LittleEndian.Uint64(buf[8:16]),
		CapTable:  CapID(binary.LittleEndian.Uint64(buf[16:24])),
		PageTable: CapID(binary.LittleEndian.Uint64(buf[24:32])),
		Region:    CapID(binary.LittleEndian.Uint64(buf[32:40])),
		Offset:    binary.LittleEndian.Uint64(buf[40:48]),
		Arg0:      binary.LittleEndian.Uint64(buf[48:56]),
	}, true
}

// PackPortRange packs a port window into a capability payload word.
// The count is 32-bit so a single capability can cover the full
// 65536-port space.
func PackPortRange(base uint16, count uint32) uint64 {
	return uint64(base) | uint64(count)<<16
}

// UnpackPortRange unpacks a port window payload.
func UnpackPortRange(v uint64) (base uint16, count uint32) {
	return uint16(v), uint32(v >> 16)
}

// PackIRQRange packs an IRQ line window into a capability payload word.
func PackIRQRange(base, count uint8) uint64 {
	return uint64(base) | uint64(count)<<8
}

// UnpackIRQRange unpacks an IRQ line window payload.
func UnpackIRQRange(v uint64) (base, count uint8) {
	return uint8(v), uint8(v >> 8)
}

// ThreadState is the introspection snapshot returned by
// OpThreadIntrospect, packed into the two return words.
type ThreadState struct {
	Affinity uint32
	Active   bool
	Entry    uint64
}

// PackThreadState packs the snapshot into the return registers.
func PackThreadState(s ThreadState) (uint64, uint64) {
	w := uint64(s.Affinity) << 1
	if s.Active {
		w |= 1
	}
	return w, s.Entry
}

// UnpackThreadState recovers the snapshot from the return registers.
func UnpackThreadState(ret0, ret1 uint64) ThreadState {
	return ThreadState{
		Affinity: uint32(ret0 >> 1),
		Active:   ret0&1 != 0,
		Entry:    ret1,
	}
}
