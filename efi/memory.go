package efi

import "github.com/AidoP/cherimoya/kernel/mm/pmm"

// MemoryType classifies a range of physical memory in the firmware memory
// map.
type MemoryType uint32

// Memory types defined by the UEFI specification.
const (
	ReservedMemoryType MemoryType = iota
	LoaderCode
	LoaderData
	BootServicesCode
	BootServicesData
	RuntimeServicesCode
	RuntimeServicesData
	ConventionalMemory
	UnusableMemory
	ACPIReclaimMemory
	ACPIMemoryNVS
	MemoryMappedIO
	MemoryMappedIOPortSpace
	PalCode
	PersistentMemory
	maxMemoryType
)

// MemoryMapType marks pages that hold the allocator's own tables. It lives
// in the range the UEFI specification sets aside for operating system
// loaders.
const MemoryMapType MemoryType = 0xffffffff

const (
	// oemTypeStart and osTypeStart delimit the vendor specific memory type
	// ranges.
	oemTypeStart MemoryType = 0x70000000
	osTypeStart  MemoryType = 0x80000000
)

var memoryTypeNames = [maxMemoryType]string{
	"reserved",
	"loader_code",
	"loader_data",
	"boot_services_code",
	"boot_services_data",
	"runtime_services_code",
	"runtime_services_data",
	"conventional",
	"unusable",
	"acpi_reclaim",
	"acpi_nvs",
	"mmio",
	"mmio_port",
	"pal_code",
	"persistent",
}

// String implements kfmt.Stringer.
func (t MemoryType) String() string {
	switch {
	case t < maxMemoryType:
		return memoryTypeNames[t]
	case t == MemoryMapType:
		return "memory_map"
	case t >= osTypeStart:
		return "os_defined"
	case t >= oemTypeStart:
		return "oem_defined"
	default:
		return "invalid"
	}
}

// ParseMemoryType returns the memory type with the given name as reported by
// MemoryType.String.
func ParseMemoryType(name string) (MemoryType, bool) {
	for i, typeName := range memoryTypeNames {
		if typeName == name {
			return MemoryType(i), true
		}
	}

	if name == "memory_map" {
		return MemoryMapType, true
	}
	return 0, false
}

// Usage returns the allocator's view of memory with this type.
func (t MemoryType) Usage() pmm.MemoryUsage {
	switch t {
	case ConventionalMemory, BootServicesCode, BootServicesData:
		return pmm.Free
	case MemoryMapType:
		return pmm.AllocatorOwned
	case UnusableMemory:
		return pmm.Unusable
	case MemoryMappedIO, MemoryMappedIOPortSpace:
		return pmm.Mmio
	default:
		return pmm.Reserved
	}
}

// MemoryAttribute describes the capabilities of a memory range.
type MemoryAttribute uint64

// Memory attributes defined by the UEFI specification.
const (
	MemoryUC           MemoryAttribute = 0x1
	MemoryWC           MemoryAttribute = 0x2
	MemoryWT           MemoryAttribute = 0x4
	MemoryWB           MemoryAttribute = 0x8
	MemoryUCE          MemoryAttribute = 0x10
	MemoryWP           MemoryAttribute = 0x1000
	MemoryRP           MemoryAttribute = 0x2000
	MemoryXP           MemoryAttribute = 0x4000
	MemoryNV           MemoryAttribute = 0x8000
	MemoryMoreReliable MemoryAttribute = 0x10000
	MemoryRO           MemoryAttribute = 0x20000
	MemorySP           MemoryAttribute = 0x40000
	MemoryCPUCrypto    MemoryAttribute = 0x80000
	MemoryRuntime      MemoryAttribute = 0x8000000000000000
)

var memoryAttributeNames = []struct {
	attr MemoryAttribute
	name string
}{
	{MemoryUC, "uc"},
	{MemoryWC, "wc"},
	{MemoryWT, "wt"},
	{MemoryWB, "wb"},
	{MemoryUCE, "uce"},
	{MemoryWP, "wp"},
	{MemoryRP, "rp"},
	{MemoryXP, "xp"},
	{MemoryNV, "nv"},
	{MemoryMoreReliable, "more_reliable"},
	{MemoryRO, "ro"},
	{MemorySP, "sp"},
	{MemoryCPUCrypto, "cpu_crypto"},
	{MemoryRuntime, "runtime"},
}

// Names returns the names of the attributes set in a, in ascending bit
// order. Unknown bits are ignored.
func (a MemoryAttribute) Names() []string {
	var names []string
	for _, entry := range memoryAttributeNames {
		if a&entry.attr != 0 {
			names = append(names, entry.name)
		}
	}
	return names
}

// ParseMemoryAttribute returns the attribute with the given name as reported
// by MemoryAttribute.Names.
func ParseMemoryAttribute(name string) (MemoryAttribute, bool) {
	for _, entry := range memoryAttributeNames {
		if entry.name == name {
			return entry.attr, true
		}
	}
	return 0, false
}

// Properties returns the accesses permitted by the attribute set.
func (a MemoryAttribute) Properties() pmm.MemoryProperties {
	var props pmm.MemoryProperties
	if a&MemoryRP == 0 {
		props |= pmm.Read
	}
	if a&(MemoryWP|MemoryRO) == 0 {
		props |= pmm.Write
	}
	if a&MemoryXP == 0 {
		props |= pmm.Execute
	}
	return props
}
