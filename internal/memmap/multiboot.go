package memmap

import (
	"io"
	"math"
	"slices"

	"github.com/AidoP/cherimoya/efi"
	"github.com/AidoP/cherimoya/kernel/hal/multiboot"
	"github.com/AidoP/cherimoya/kernel/mm"
)

// lastPage is the highest page boundary a memory descriptor can end at.
const lastPage = math.MaxUint64 &^ uint64(mm.PageSize-1)

// multibootTypes maps multiboot region types to firmware memory types.
var multibootTypes = map[multiboot.MemoryEntryType]efi.MemoryType{
	multiboot.MemAvailable:       efi.ConventionalMemory,
	multiboot.MemReserved:        efi.ReservedMemoryType,
	multiboot.MemAcpiReclaimable: efi.ACPIReclaimMemory,
	multiboot.MemNvs:             efi.ACPIMemoryNVS,
	multiboot.MemBad:             efi.UnusableMemory,
}

// decodeMultiboot converts the memory map tag of a multiboot2 info block.
// Available regions are shrunk to whole pages while all other regions are
// grown to cover every page they touch.
func decodeMultiboot(r io.Reader) (*Machine, error) {
	data, err := readAll(r)
	if err != nil {
		return nil, err
	}

	multiboot.SetInfo(data)
	defer multiboot.SetInfo(nil)

	var descs []efi.MemoryDescriptor
	multiboot.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		// Regions are clipped to the last page boundary below 2^64.
		if entry.PhysAddress >= lastPage {
			return true
		}
		regionEnd := entry.PhysAddress + entry.Length
		if entry.Length > lastPage-entry.PhysAddress {
			regionEnd = lastPage
		}

		var (
			memType = multibootTypes[entry.Type]
			start   = pageAlignDown(entry.PhysAddress)
			end     = pageAlignUp(regionEnd)
			attrs   = efi.MemoryUC
		)

		if memType == efi.ConventionalMemory {
			start = pageAlignUp(entry.PhysAddress)
			end = pageAlignDown(regionEnd)
			attrs = efi.MemoryWB
		}

		if end > start {
			descs = append(descs, efi.MemoryDescriptor{
				Type:          memType,
				PhysicalStart: start,
				NumberOfPages: (end - start) >> mm.PageShift,
				Attribute:     attrs,
			})
		}
		return true
	})

	return &Machine{
		DescriptorSize: efi.DefaultDescriptorSize,
		Descriptors:    resolveOverlaps(descs),
	}, nil
}

// resolveOverlaps removes overlaps introduced by page rounding. Unavailable
// regions are placed first and take precedence over conventional memory;
// within each group earlier regions win.
func resolveOverlaps(descs []efi.MemoryDescriptor) []efi.MemoryDescriptor {
	ordered := slices.Clone(descs)
	slices.SortStableFunc(ordered, func(a, b efi.MemoryDescriptor) int {
		aConv, bConv := a.Type == efi.ConventionalMemory, b.Type == efi.ConventionalMemory
		switch {
		case aConv == bConv:
			return 0
		case bConv:
			return -1
		default:
			return 1
		}
	})

	var out []efi.MemoryDescriptor
	for _, desc := range ordered {
		pieces := []efi.MemoryDescriptor{desc}
		for _, kept := range out {
			pieces = subtract(pieces, kept)
		}
		out = append(out, pieces...)
	}
	return out
}

// subtract removes the range covered by other from every descriptor in
// pieces.
func subtract(pieces []efi.MemoryDescriptor, other efi.MemoryDescriptor) []efi.MemoryDescriptor {
	var out []efi.MemoryDescriptor
	for _, p := range pieces {
		if p.End() <= other.PhysicalStart || other.End() <= p.PhysicalStart {
			out = append(out, p)
			continue
		}

		if p.PhysicalStart < other.PhysicalStart {
			head := p
			head.NumberOfPages = (other.PhysicalStart - p.PhysicalStart) >> mm.PageShift
			out = append(out, head)
		}

		if p.End() > other.End() {
			tail := p
			tail.PhysicalStart = other.End()
			tail.NumberOfPages = (p.End() - other.End()) >> mm.PageShift
			out = append(out, tail)
		}
	}
	return out
}
