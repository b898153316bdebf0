// Package user defines what a simulated user component sees: the
// syscall gate and its own mapped memory. Components depend on this
// and on the ABI, never on kernel internals.
package user

import "helix/abi"

// Env is a component's window onto the machine.
type Env interface {
	// Syscall performs the single kernel entry with the component's
	// register file.
	Syscall(args abi.Args) abi.Result

	// ReadMem reads from the component's virtual address space.
	ReadMem(va uint64, buf []byte) bool

	// WriteMem writes into the component's virtual address space.
	WriteMem(va uint64, p []byte) bool
}

// Invoke is shorthand for a syscall on a capability.
func Invoke(env Env, cap abi.CapID, op abi.OpCode, a0, a1, a2, a3 uint64) abi.Result {
	return env.Syscall(abi.Args{Cap: cap, Op: op, A: [4]uint64{a0, a1, a2, a3}})
}
