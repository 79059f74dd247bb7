// Package multiboot decodes the multiboot2 information structure handed over
// by a multiboot compliant bootloader. It is the alternate source of the
// physical memory layout for machines that do not boot through UEFI.
package multiboot

import "encoding/binary"

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

const (
	// infoHeaderSize is the size of the {totalSize, reserved} header that
	// precedes the first tag.
	infoHeaderSize = 8

	// tagHeaderSize is the size of the {type, size} header that precedes
	// each tag. The tag size includes the header but not any padding.
	tagHeaderSize = 8

	// mmapHeaderSize is the size of the {entrySize, entryVersion} header
	// at the start of the memory map tag.
	mmapHeaderSize = 8

	// mmapEntrySize is the minimum size of a memory map entry.
	mmapEntrySize = 20
)

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// MemBad indicates memory that contains defective RAM modules.
	MemBad

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements kfmt.Stringer.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	case MemBad:
		return "bad"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

var (
	infoData []byte
)

// MemRegionVisitor defies a visitor function that gets invoked by VisitMemRegions
// for each memory region provided by the boot loader. The visitor must return true
// to continue or false to abort the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// SetInfo updates the multiboot information block that the package decodes.
// This function must be invoked before invoking any other function exported
// by this package.
func SetInfo(data []byte) {
	infoData = data
}

// VisitMemRegions will invoke the supplied visitor for each memory region that
// is defined by the multiboot info data that we received from the bootloader.
func VisitMemRegions(visitor MemRegionVisitor) {
	tag := findTagByType(tagMemoryMap)
	if len(tag) < mmapHeaderSize {
		return
	}

	entrySize := int(binary.LittleEndian.Uint32(tag))
	if entrySize < mmapEntrySize {
		return
	}

	var entry MemoryMapEntry
	for cur := tag[mmapHeaderSize:]; len(cur) >= entrySize; cur = cur[entrySize:] {
		entry = MemoryMapEntry{
			PhysAddress: binary.LittleEndian.Uint64(cur),
			Length:      binary.LittleEndian.Uint64(cur[8:]),
			Type:        MemoryEntryType(binary.LittleEndian.Uint32(cur[16:])),
		}

		// Mark unknown entry types as reserved
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(&entry) {
			return
		}
	}
}

// BootLoaderName returns the name of the bootloader that loaded the kernel or
// an empty string if the bootloader did not supply one.
func BootLoaderName() string {
	tag := findTagByType(tagBootLoaderName)
	for i, ch := range tag {
		if ch == 0 {
			return string(tag[:i])
		}
	}

	return string(tag)
}

// findTagByType scans the multiboot info data looking for the start of of the
// specified type. It returns the tag contents excluding the tag header.
//
// If the tag is not present in the multiboot info, findTagByType returns nil.
func findTagByType(want tagType) []byte {
	if len(infoData) < infoHeaderSize {
		return nil
	}

	// The info block may be followed by unrelated data; never scan past
	// the size it declares.
	data := infoData
	if totalSize := int(binary.LittleEndian.Uint32(data)); totalSize < len(data) {
		data = data[:totalSize]
	}

	for cur := infoHeaderSize; cur+tagHeaderSize <= len(data); {
		curType := tagType(binary.LittleEndian.Uint32(data[cur:]))
		size := int(binary.LittleEndian.Uint32(data[cur+4:]))
		if curType == tagMbSectionEnd || size < tagHeaderSize {
			return nil
		}

		if curType == want {
			end := cur + size
			if end > len(data) {
				end = len(data)
			}
			return data[cur+tagHeaderSize : end]
		}

		// Tags are aligned at 8-byte aligned addresses
		cur += (size + 7) &^ 7
	}

	return nil
}
