package pmm

import "github.com/AidoP/cherimoya/kernel/mm"

// MemoryUsage classifies a run of physical pages reported by the firmware.
type MemoryUsage uint8

const (
	// Reserved memory belongs to the firmware or to the loaded image.
	Reserved MemoryUsage = iota

	// AllocatorOwned memory already backs the allocator's own tables.
	AllocatorOwned

	// Free memory can be handed out by the allocator.
	Free

	// Unusable memory contains errors.
	Unusable

	// Mmio memory is mapped to device registers.
	Mmio
)

// String implements kfmt.Stringer.
func (u MemoryUsage) String() string {
	switch u {
	case Reserved:
		return "reserved"
	case AllocatorOwned:
		return "allocator"
	case Free:
		return "free"
	case Unusable:
		return "unusable"
	case Mmio:
		return "mmio"
	default:
		return "unknown"
	}
}

// MemoryProperties is a bitset of the accesses a memory segment supports.
type MemoryProperties uint32

// The supported memory access properties.
const (
	Read MemoryProperties = 1 << iota
	Write
	Execute
)

// All returns true if every bit of props is set.
func (p MemoryProperties) All(props MemoryProperties) bool {
	return p&props == props
}

// None returns true if no bit of props is set.
func (p MemoryProperties) None(props MemoryProperties) bool {
	return p&props == 0
}

// Any returns true if at least one bit of props is set.
func (p MemoryProperties) Any(props MemoryProperties) bool {
	return p&props != 0
}

// MemorySegment describes Count consecutive physical pages starting at the
// page aligned physical address Page.
type MemorySegment struct {
	Page       uintptr
	Count      uint64
	Usage      MemoryUsage
	Properties MemoryProperties
}

// End returns the physical address just past the last page of the segment.
func (s MemorySegment) End() uintptr {
	return s.Page + uintptr(s.Count<<mm.PageShift)
}
