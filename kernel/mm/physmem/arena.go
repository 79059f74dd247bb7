// Package physmem emulates the physical address space seen by the boot path.
//
// An Arena reserves a host memory window and exposes it as a contiguous range
// of physical addresses starting at a page-aligned base. Registering the arena
// with mm.SetPageMapper lets page-table code dereference physical addresses
// exactly as it would on hardware with an identity-mapped physical window.
package physmem

import (
	"unsafe"

	"github.com/AidoP/cherimoya/kernel"
	"github.com/AidoP/cherimoya/kernel/kfmt"
	"github.com/AidoP/cherimoya/kernel/mm"
)

var (
	errUnalignedBase = &kernel.Error{Module: "physmem", Message: "arena base is not page aligned"}
	errEmptyArena    = &kernel.Error{Module: "physmem", Message: "arena size must be at least one page"}
	errMapFailed     = &kernel.Error{Module: "physmem", Message: "unable to reserve host memory for arena"}
	errAccessFault   = &kernel.Error{Module: "physmem", Message: "physical address outside of arena"}

	// mapWindowFn is used by tests to simulate host mapping failures.
	mapWindowFn = mapWindow
)

// Arena is a window of emulated physical memory covering the physical
// addresses [Base(), End()).
type Arena struct {
	base    uintptr
	mem     []byte
	release func([]byte) error
}

// New reserves size bytes (rounded up to a page multiple) of emulated
// physical memory starting at physical address base.
func New(base uintptr, size mm.Size) (*Arena, *kernel.Error) {
	if base&uintptr(mm.PageSize-1) != 0 {
		return nil, errUnalignedBase
	}

	pages := size.Pages()
	if pages == 0 {
		return nil, errEmptyArena
	}

	mem, release, err := mapWindowFn(int(pages << mm.PageShift))
	if err != nil {
		kfmt.Printf("[physmem] host mapping of %d pages failed: %s\n", pages, err.Error())
		return nil, errMapFailed
	}

	return &Arena{base: base, mem: mem, release: release}, nil
}

// Base returns the first physical address covered by the arena.
func (a *Arena) Base() uintptr { return a.base }

// End returns the physical address just past the end of the arena.
func (a *Arena) End() uintptr { return a.base + uintptr(len(a.mem)) }

// Size returns the size of the arena.
func (a *Arena) Size() mm.Size { return mm.Size(len(a.mem)) }

// Contains returns true if physAddr falls inside the arena.
func (a *Arena) Contains(physAddr uintptr) bool {
	return physAddr >= a.base && physAddr-a.base < uintptr(len(a.mem))
}

// PagePtr returns a pointer to the page that holds physAddr. Touching an
// address outside the arena is the emulated equivalent of a machine check
// and panics with errAccessFault.
func (a *Arena) PagePtr(physAddr uintptr) unsafe.Pointer {
	if !a.Contains(physAddr) {
		kfmt.Printf("[physmem] access to unbacked physical address 0x%16x\n", physAddr)
		panic(errAccessFault)
	}

	offset := (physAddr - a.base) &^ uintptr(mm.PageSize-1)
	return unsafe.Pointer(&a.mem[offset])
}

// Page returns the contents of the page that holds physAddr.
func (a *Arena) Page(physAddr uintptr) ([]byte, *kernel.Error) {
	if !a.Contains(physAddr) {
		return nil, errAccessFault
	}

	offset := (physAddr - a.base) &^ uintptr(mm.PageSize-1)
	return a.mem[offset : offset+uintptr(mm.PageSize) : offset+uintptr(mm.PageSize)], nil
}

// Install registers the arena as the active page mapper so that mm.PagePtr
// resolves physical addresses into this arena.
func (a *Arena) Install() {
	mm.SetPageMapper(a.PagePtr)
}

// Close releases the host memory backing the arena and restores the
// identity page mapper. The arena must not be used afterwards.
func (a *Arena) Close() error {
	mm.SetPageMapper(nil)
	if a.mem == nil {
		return nil
	}

	mem := a.mem
	a.mem = nil
	return a.release(mem)
}
