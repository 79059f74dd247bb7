// Package loader implements the boot sequence that runs on top of firmware
// boot services. It prepares the seed page tables for the physical memory
// allocator, leaves boot services, hands all free memory to the allocator
// and finally transfers control to the kernel.
package loader

import (
	"io"

	"github.com/AidoP/cherimoya/efi"
	"github.com/AidoP/cherimoya/kernel"
	"github.com/AidoP/cherimoya/kernel/kfmt"
	"github.com/AidoP/cherimoya/kernel/mm"
	"github.com/AidoP/cherimoya/kernel/mm/pmm"
	"github.com/AidoP/cherimoya/kernel/mm/vmm"
)

// scaffoldPages is the number of pages in the NULL address chain: one
// table per paging level.
const scaffoldPages = mm.PageLevels

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic
)

// BootServices is the set of firmware services used by the loader.
type BootServices interface {
	AllocatePages(allocType efi.AllocateType, memType efi.MemoryType, pages uint64, addr uint64) (uint64, *kernel.Error)
	GetMemoryMap() (*efi.MemoryMap, *kernel.Error)
	ExitBootServices(key uintptr) *kernel.Error
	ConOut() io.Writer
}

// EntryFn is the kernel entry point. It receives the allocator by value.
type EntryFn func(alloc pmm.Allocator) *kernel.Error

// Boot runs the boot sequence and calls entry. Output is sent to the
// firmware console until boot services are exited and to postBoot after.
// All physical memory reported by the firmware must be reachable through
// the page mapper registered with the mm package.
func Boot(fw BootServices, postBoot io.Writer, entry EntryFn) *kernel.Error {
	kfmt.SetOutputSink(fw.ConOut())
	kfmt.Printf("[loader] booting\n")

	memMap, err := fw.GetMemoryMap()
	if err != nil {
		return err
	}
	printMemoryMap(memMap)

	root, err := buildScaffold(fw)
	if err != nil {
		return err
	}

	if memMap, err = exitBootServices(fw); err != nil {
		return err
	}
	kfmt.SetOutputSink(postBoot)
	kfmt.Printf("[loader] exited boot services; free table at 0x%16x\n", root)

	alloc, err := pmm.New(root)
	if err != nil {
		panicFn(err)
		return err
	}

	alloc.DiscoverPages(memMap.Segments())

	return entry(alloc)
}

// buildScaffold allocates one table per paging level and links them into a
// present chain for the NULL address. The NULL level 1 entry points back at
// the root table. It returns the physical address of the root table.
func buildScaffold(fw BootServices) (uintptr, *kernel.Error) {
	base, err := fw.AllocatePages(efi.AllocateAnyPages, efi.MemoryMapType, scaffoldPages, 0)
	if err != nil {
		return 0, err
	}

	root := uintptr(base)
	for i := uintptr(0); i < scaffoldPages; i++ {
		vmm.TableAt(root + i*uintptr(mm.PageSize)).Clear()
	}

	table, next := vmm.TableAt(root), root
	for level := mm.Level4; level >= mm.Level1; level-- {
		entry := table.Slot(mm.NullAddress, level)
		entry.SetFlags(vmm.FlagPresent | vmm.FlagRW)
		if level == mm.Level1 {
			entry.SetAddress(root)
			break
		}

		next += uintptr(mm.PageSize)
		entry.SetAddress(next)
		table = vmm.TableAt(next)
	}

	return root, nil
}

// exitBootServices fetches the final memory map and exits boot services
// with its key. A stale key means the map changed under us, so the map is
// fetched once more before giving up.
func exitBootServices(fw BootServices) (*efi.MemoryMap, *kernel.Error) {
	var (
		memMap *efi.MemoryMap
		err    *kernel.Error
	)

	for attempt := 0; attempt < 2; attempt++ {
		if memMap, err = fw.GetMemoryMap(); err != nil {
			return nil, err
		}

		if err = fw.ExitBootServices(memMap.Key()); err != efi.ErrStaleMapKey {
			break
		}
		kfmt.Printf("[loader] memory map key %d is stale; retrying\n", memMap.Key())
	}

	if err != nil {
		return nil, err
	}
	return memMap, nil
}

// printMemoryMap prints the firmware memory map.
func printMemoryMap(memMap *efi.MemoryMap) {
	kfmt.Printf("[loader] system memory map:\n")

	var totalFree mm.Size
	for desc := range memMap.Descriptors() {
		kfmt.Printf("\t[0x%16x - 0x%16x], pages: %10d, type: %s\n", desc.PhysicalStart, desc.End(), desc.NumberOfPages, desc.Type)
		if desc.Type.Usage() == pmm.Free {
			totalFree += mm.Size(desc.NumberOfPages) * mm.PageSize
		}
	}

	kfmt.Printf("[loader] available memory: %dKb\n", uint64(totalFree/mm.Kb))
}
