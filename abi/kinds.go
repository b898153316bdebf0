package abi

// ResourceKind tags what a capability slot names. The kinds form a
// closed set; dispatch is a switch, never an interface.
type ResourceKind uint8

const (
	KindNone ResourceKind = iota
	KindCapTable
	KindThread
	KindPTL4
	KindPTL3
	KindPTL2
	KindPTL1
	KindMemoryRegion
	KindSyncInvocation
	KindAsyncNotify
	KindHWPort
	KindHWIRQ

	numKinds
)

func (k ResourceKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCapTable:
		return "captable"
	case KindThread:
		return "thread"
	case KindPTL4:
		return "pt-l4"
	case KindPTL3:
		return "pt-l3"
	case KindPTL2:
		return "pt-l2"
	case KindPTL1:
		return "pt-l1"
	case KindMemoryRegion:
		return "memory-region"
	case KindSyncInvocation:
		return "sync-invocation"
	case KindAsyncNotify:
		return "async-notify"
	case KindHWPort:
		return "hw-port"
	case KindHWIRQ:
		return "hw-irq"
	default:
		return "invalid"
	}
}

// Valid reports whether the kind is one of the defined resources.
func (k ResourceKind) Valid() bool { return k < numKinds }

// IsPageTable reports whether the kind is one of the four table levels.
func (k ResourceKind) IsPageTable() bool {
	return k >= KindPTL4 && k <= KindPTL1
}

// PTLevel returns the paging level (4..1) for a page-table kind.
func (k ResourceKind) PTLevel() uint8 {
	return 4 - uint8(k-KindPTL4)
}

// PTKindForLevel returns the page-table kind for a level (4..1).
func PTKindForLevel(level uint8) ResourceKind {
	return KindPTL4 + ResourceKind(4-level)
}

// Rights is a per-kind bitfield. Copy may only shrink it.
type Rights uint16

// Rights shared by every kind.
const (
	// RightCopy allows duplicating the capability into another slot.
	RightCopy Rights = 1 << 15
)

// Capability-table rights.
const (
	RightCTCreate Rights = 1 << iota
	RightCTDrop
	RightCTLink
	RightCTUnlink
)

// Thread rights.
const (
	RightThreadActivate Rights = 1 << iota
	RightThreadAffinity
	RightThreadIntrospect
)

// Page-table rights.
const (
	RightPTMap Rights = 1 << iota
	RightPTUnmap
	RightPTModifyFlags
)

// Memory-region rights.
const (
	RightRegionRetype Rights = 1 << iota
	RightRegionSplit
	// RightRegionMap allows mapping the region's user frames into page
	// tables.
	RightRegionMap
)

// Sync-invocation rights.
const (
	RightSyncCall Rights = 1 << iota
	RightSyncReply
)

// Async-notify rights.
const (
	RightNotifySignal Rights = 1 << iota
	RightNotifyWait
)

// Hardware rights.
const (
	RightHWIO Rights = 1 << iota
	RightHWMint
	RightHWBind
	RightHWAck
)

// RightsAll is every bit set; used for the initial capabilities.
const RightsAll Rights = 0xFFFF

// Subset reports whether r is a subset of of.
func (r Rights) Subset(of Rights) bool { return r&^of == 0 }
