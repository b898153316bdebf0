package cap

import (
	"helix/abi"
	"helix/machine"
	"helix/mem"
)

// Lookup resolves a capability id against a root node. The id is
// consumed six bits at a time, least significant first: while the
// remaining id has digits left beyond the current one, the walk
// follows the child link of the addressed slot. Every link load is a
// single atomic read and the id loses six bits per step, so a lookup
// takes at most abi.MaxTrieDepth loads regardless of what user space
// has linked — including cycles.
func Lookup(m *machine.Machine, root mem.Frame, id abi.CapID) (Slot, abi.Errno) {
	node := NodeAt(m, root)
	rest := uint64(id)
	for {
		offset := int(rest % abi.SlotsPerNode)
		rest /= abi.SlotsPerNode
		slot := node.Slot(offset)
		if rest == 0 {
			return slot, abi.OK
		}
		child, ok := slot.Child()
		if !ok {
			return Slot{}, abi.ErrNoCap
		}
		node = NodeAt(m, child)
	}
}
