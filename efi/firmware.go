// Package efi emulates the subset of UEFI boot services used to bring up the
// kernel: memory allocation, the memory map, the exit from boot services and
// the text console.
package efi

import (
	"io"
	"math"
	"slices"

	"github.com/AidoP/cherimoya/kernel"
	"github.com/AidoP/cherimoya/kernel/kfmt"
	"github.com/AidoP/cherimoya/kernel/mm"
)

var (
	// ErrInvalidParameter mirrors EFI_INVALID_PARAMETER.
	ErrInvalidParameter = &kernel.Error{Module: "efi", Message: "invalid parameter"}

	// ErrNotFound mirrors EFI_NOT_FOUND.
	ErrNotFound = &kernel.Error{Module: "efi", Message: "requested pages could not be found"}

	// ErrOutOfResources mirrors EFI_OUT_OF_RESOURCES.
	ErrOutOfResources = &kernel.Error{Module: "efi", Message: "out of resources"}

	// ErrUnsupported is returned by every boot service once boot services
	// have been exited.
	ErrUnsupported = &kernel.Error{Module: "efi", Message: "boot services are no longer available"}

	// ErrStaleMapKey is returned by ExitBootServices when the memory map
	// changed after the supplied key was obtained.
	ErrStaleMapKey = &kernel.Error{Module: "efi", Message: "memory map key is stale"}

	errOverlap   = &kernel.Error{Module: "efi", Message: "memory descriptors overlap"}
	errUnaligned = &kernel.Error{Module: "efi", Message: "memory descriptor is not page aligned"}
	errOverflow  = &kernel.Error{Module: "efi", Message: "memory descriptor runs past the end of the address space"}
)

// AllocateType selects how AllocatePages chooses the allocated range.
type AllocateType uint32

const (
	// AllocateAnyPages allocates any suitable range.
	AllocateAnyPages AllocateType = iota

	// AllocateMaxAddress allocates a range that ends at or below the
	// supplied address.
	AllocateMaxAddress

	// AllocateAddress allocates the range starting at the supplied address.
	AllocateAddress
)

// Firmware emulates UEFI boot services for a machine with a fixed physical
// memory layout.
type Firmware struct {
	descs          []MemoryDescriptor
	descriptorSize int
	key            uintptr
	exited         bool
	conOut         *Console

	// allocations maps the start of every live AllocatePages range to its
	// page count.
	allocations map[uint64]uint64
}

// NewFirmware returns firmware that reports descs as its memory map using
// descriptorSize byte descriptors. Console output is sent UCS-2 encoded to
// device.
func NewFirmware(descs []MemoryDescriptor, descriptorSize int, device io.Writer) (*Firmware, *kernel.Error) {
	if descriptorSize < MinDescriptorSize {
		return nil, errDescriptorSize
	}

	sorted := slices.Clone(descs)
	slices.SortFunc(sorted, func(a, b MemoryDescriptor) int {
		switch {
		case a.PhysicalStart < b.PhysicalStart:
			return -1
		case a.PhysicalStart > b.PhysicalStart:
			return 1
		default:
			return 0
		}
	})

	for i, desc := range sorted {
		if desc.PhysicalStart&uint64(mm.PageSize-1) != 0 || desc.NumberOfPages == 0 {
			return nil, errUnaligned
		}
		if desc.Overflows() {
			return nil, errOverflow
		}
		if i > 0 && sorted[i-1].End() > desc.PhysicalStart {
			kfmt.Printf("[efi] descriptor at 0x%16x overlaps its predecessor\n", desc.PhysicalStart)
			return nil, errOverlap
		}
	}

	fw := &Firmware{
		descs:          sorted,
		descriptorSize: descriptorSize,
		key:            1,
		allocations:    make(map[uint64]uint64),
	}
	fw.conOut = newConsole(fw, device)
	return fw, nil
}

// ConOut returns the console bound to the firmware's text output device.
func (fw *Firmware) ConOut() io.Writer { return fw.conOut }

// ExitedBootServices returns true once ExitBootServices has succeeded.
func (fw *Firmware) ExitedBootServices() bool { return fw.exited }

// AllocatePages allocates pages consecutive pages of conventional memory and
// retypes them as memType. For AllocateAddress, addr is the start of the
// range; for AllocateMaxAddress it is the highest address the range may
// include. The physical address of the allocated range is returned.
func (fw *Firmware) AllocatePages(allocType AllocateType, memType MemoryType, pages uint64, addr uint64) (uint64, *kernel.Error) {
	if fw.exited {
		return 0, ErrUnsupported
	}

	if pages == 0 || !allocatable(memType) {
		return 0, ErrInvalidParameter
	}
	if pages > math.MaxUint64>>mm.PageShift {
		return 0, ErrOutOfResources
	}
	size := pages << mm.PageShift

	var start uint64
	switch allocType {
	case AllocateAddress:
		if addr&uint64(mm.PageSize-1) != 0 {
			return 0, ErrInvalidParameter
		}
		if i := fw.find(addr, size); i < 0 || fw.descs[i].Type != ConventionalMemory {
			return 0, ErrNotFound
		}
		start = addr
	case AllocateAnyPages, AllocateMaxAddress:
		limit := uint64(math.MaxUint64)
		if allocType == AllocateMaxAddress {
			limit = addr
		}

		found := false
		// Allocate top-down so that low memory stays available for
		// fixed address requests.
		for i := len(fw.descs) - 1; i >= 0 && !found; i-- {
			desc := fw.descs[i]
			if desc.Type != ConventionalMemory {
				continue
			}

			top := desc.End()
			if limit != math.MaxUint64 && limit+1 < top {
				top = (limit + 1) &^ uint64(mm.PageSize-1)
			}
			if top >= desc.PhysicalStart+size && top-size >= desc.PhysicalStart {
				start, found = top-size, true
			}
		}

		if !found {
			return 0, ErrOutOfResources
		}
	default:
		return 0, ErrInvalidParameter
	}

	fw.retype(start, pages, memType)
	fw.allocations[start] = pages
	return start, nil
}

// FreePages returns pages previously obtained from AllocatePages to the pool
// of conventional memory.
func (fw *Firmware) FreePages(addr uint64, pages uint64) *kernel.Error {
	if fw.exited {
		return ErrUnsupported
	}

	if pages == 0 || addr&uint64(mm.PageSize-1) != 0 {
		return ErrInvalidParameter
	}

	if allocated, ok := fw.allocations[addr]; !ok || allocated != pages {
		return ErrNotFound
	}

	delete(fw.allocations, addr)
	fw.retype(addr, pages, ConventionalMemory)
	return nil
}

// GetMemoryMap returns a snapshot of the current memory map.
func (fw *Firmware) GetMemoryMap() (*MemoryMap, *kernel.Error) {
	if fw.exited {
		return nil, ErrUnsupported
	}

	return encodeMemoryMap(fw.descs, fw.descriptorSize, fw.key), nil
}

// ExitBootServices terminates all boot services. The key must match the key
// of the most recent memory map; otherwise ErrStaleMapKey is returned and
// the caller should fetch a new memory map and try again.
func (fw *Firmware) ExitBootServices(key uintptr) *kernel.Error {
	if fw.exited {
		return ErrUnsupported
	}

	if key != fw.key {
		return ErrStaleMapKey
	}

	fw.exited = true
	return nil
}

// allocatable returns true if AllocatePages may hand out memory of type t.
func allocatable(t MemoryType) bool {
	switch {
	case t == ConventionalMemory || t == PersistentMemory:
		return false
	case t >= maxMemoryType && t < oemTypeStart:
		return false
	default:
		return true
	}
}

// find returns the index of the descriptor that fully contains the range
// [addr, addr+size) or -1.
func (fw *Firmware) find(addr, size uint64) int {
	for i, desc := range fw.descs {
		if addr >= desc.PhysicalStart && addr+size <= desc.End() && addr+size > addr {
			return i
		}
	}

	return -1
}

// retype splits the descriptor containing the range [start, start+pages)
// so that the range becomes a descriptor of its own with type memType. The
// memory map key changes with every call.
func (fw *Firmware) retype(start, pages uint64, memType MemoryType) {
	i := fw.find(start, pages<<mm.PageShift)
	desc := fw.descs[i]

	var parts []MemoryDescriptor
	if start > desc.PhysicalStart {
		parts = append(parts, MemoryDescriptor{
			Type:          desc.Type,
			PhysicalStart: desc.PhysicalStart,
			NumberOfPages: (start - desc.PhysicalStart) >> mm.PageShift,
			Attribute:     desc.Attribute,
		})
	}

	parts = append(parts, MemoryDescriptor{
		Type:          memType,
		PhysicalStart: start,
		NumberOfPages: pages,
		Attribute:     desc.Attribute,
	})

	if end := start + pages<<mm.PageShift; end < desc.End() {
		parts = append(parts, MemoryDescriptor{
			Type:          desc.Type,
			PhysicalStart: end,
			NumberOfPages: (desc.End() - end) >> mm.PageShift,
			Attribute:     desc.Attribute,
		})
	}

	fw.descs = slices.Replace(fw.descs, i, i+1, parts...)
	fw.coalesce()
	fw.key++
}

// coalesce merges neighbouring descriptors that describe contiguous memory
// with the same type and attributes.
func (fw *Firmware) coalesce() {
	merged := fw.descs[:1]
	for _, desc := range fw.descs[1:] {
		last := &merged[len(merged)-1]
		if last.Type == desc.Type && last.Attribute == desc.Attribute && last.End() == desc.PhysicalStart {
			last.NumberOfPages += desc.NumberOfPages
			continue
		}
		merged = append(merged, desc)
	}
	fw.descs = merged
}
