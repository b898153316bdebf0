package kernel

import (
	"helix/abi"
	"helix/ptable"
)

// UserEnv is the execution environment handed to a simulated user
// component: syscalls on a fixed core plus access to whatever its
// current address space maps. It stands in for the CPU running user
// instructions.
type UserEnv struct {
	k    *Kernel
	core int
}

// UserEnv returns the environment for components driven on a core.
func (k *Kernel) UserEnv(core int) *UserEnv {
	return &UserEnv{k: k, core: core}
}

// Syscall enters the kernel.
func (e *UserEnv) Syscall(args abi.Args) abi.Result {
	return e.k.Syscall(e.core, args)
}

// ReadMem reads through the current thread's address space.
func (e *UserEnv) ReadMem(va uint64, buf []byte) bool {
	cur, ok := e.k.CurrentThread(e.core)
	if !ok {
		return false
	}
	return ptable.ReadUser(e.k.m, cur.L4Frame(), va, buf)
}

// WriteMem writes through the current thread's address space.
func (e *UserEnv) WriteMem(va uint64, p []byte) bool {
	cur, ok := e.k.CurrentThread(e.core)
	if !ok {
		return false
	}
	return ptable.WriteUser(e.k.m, cur.L4Frame(), va, p)
}
