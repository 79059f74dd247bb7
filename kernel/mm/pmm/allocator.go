// Package pmm implements the physical memory allocator used while the
// kernel bootstraps.
//
// The allocator owns a level 4 table, the free table, and stores its free
// page list in the level 1 entries of that very hierarchy: every present
// leaf entry names one free page. New tables for the hierarchy are carved
// out of the incoming pages themselves so no memory beyond the four page
// scaffold prepared by the loader is required.
package pmm

import (
	"iter"

	"github.com/AidoP/cherimoya/kernel"
	"github.com/AidoP/cherimoya/kernel/kfmt"
	"github.com/AidoP/cherimoya/kernel/mm"
	"github.com/AidoP/cherimoya/kernel/mm/vmm"
)

var (
	// ErrScaffoldInvalid is returned by New when the free table does not
	// contain a present entry for the NULL address at every level.
	ErrScaffoldInvalid = &kernel.Error{Module: "pmm", Message: "free table scaffold is incomplete"}

	// ErrOutOfMemory is returned by Allocate when the free list is empty.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	errCorruptFreeTable = &kernel.Error{Module: "pmm", Message: "free table hierarchy is missing a level"}

	// panicFn is used by tests to intercept fatal errors.
	panicFn = kfmt.Panic
)

// Allocator hands out physical pages. It is passed by value from the loader
// to the kernel entry point so its layout must stay fixed: the physical
// address of the free table followed by the two slot cursors.
type Allocator struct {
	// freeTable is the physical address of the level 4 free table.
	freeTable uintptr

	// lastFree is the address whose level 1 slot holds the most recently
	// reclaimed page. NULL when the free list is empty.
	lastFree mm.Address

	// lastPageTable is the page table boundary up to which the free table
	// hierarchy has level 1 tables.
	lastPageTable mm.Address
}

// New returns an allocator that manages the free table at the physical
// address root. The table must have present entries for the NULL address
// at all four levels.
func New(root uintptr) (Allocator, *kernel.Error) {
	var err *kernel.Error

	vmm.TableAt(root).Visit(mm.NullAddress, func(level mm.Level, entry *vmm.Entry) bool {
		if !entry.Present() {
			kfmt.Printf("[pmm] scaffold has no %s entry for NULL\n", level)
			err = ErrScaffoldInvalid
			return false
		}
		return true
	})

	if err != nil {
		return Allocator{}, err
	}

	resetLedger()
	return Allocator{freeTable: root}, nil
}

// FreeTable returns the physical address of the level 4 free table.
func (a *Allocator) FreeTable() uintptr { return a.freeTable }

// LastFree returns the address of the most recently filled free list slot.
func (a *Allocator) LastFree() mm.Address { return a.lastFree }

// LastPageTable returns the page table boundary covered by the free table
// hierarchy.
func (a *Allocator) LastPageTable() mm.Address { return a.lastPageTable }

// FreePages returns the number of pages available to Allocate.
func (a *Allocator) FreePages() uint64 {
	return uint64(a.lastFree >> mm.PageShift)
}

// TablePages returns the number of pages used by the free table hierarchy,
// including the scaffold handed to New.
func (a *Allocator) TablePages() uint64 {
	var count func(table *vmm.Table, level mm.Level) uint64
	count = func(table *vmm.Table, level mm.Level) uint64 {
		pages := uint64(1)
		if level == mm.Level1 {
			return pages
		}

		for i := range table {
			if table[i].Present() {
				pages += count(vmm.TableAt(table[i].Address()), level-1)
			}
		}
		return pages
	}

	return count(vmm.TableAt(a.freeTable), mm.Level4)
}

// Reclaim adds the page at physical address page to the allocator. If the
// free table has no level 1 slot left for the page, the page is consumed as
// a new table instead and is never returned by Allocate.
//
// Each page may be reclaimed at most once and the caller gives up all
// access to it.
func (a *Allocator) Reclaim(page uintptr) {
	checkReclaim(page)

	next := a.lastFree.NextSlot()
	if boundary := next.PageTableBoundary(); boundary > a.lastPageTable {
		if a.extend(boundary, page) {
			return
		}
		a.lastPageTable = boundary
	}

	entry := a.slot(next)
	*entry = 0
	entry.SetAddress(page)
	entry.SetPresent(true)
	a.lastFree = next
}

// extend links page into the free table as the first missing table on the
// path to boundary. It returns false if the whole path is already present.
func (a *Allocator) extend(boundary mm.Address, page uintptr) bool {
	var consumed bool

	vmm.TableAt(a.freeTable).Visit(boundary, func(level mm.Level, entry *vmm.Entry) bool {
		if level == mm.Level1 {
			return false
		}
		if entry.Present() {
			return true
		}

		vmm.TableAt(page).Clear()
		*entry = 0
		entry.SetAddress(page)
		entry.SetFlags(vmm.FlagPresent | vmm.FlagRW)

		// A level 1 table makes another 512 slots usable.
		if level == mm.Level2 {
			a.lastPageTable = boundary
		}

		consumed = true
		return false
	})

	return consumed
}

// slot returns the level 1 free table entry for addr.
func (a *Allocator) slot(addr mm.Address) *vmm.Entry {
	var leaf *vmm.Entry

	vmm.TableAt(a.freeTable).Visit(addr, func(level mm.Level, entry *vmm.Entry) bool {
		if level == mm.Level1 {
			leaf = entry
			return false
		}
		return entry.Present()
	})

	if leaf == nil {
		panicFn(errCorruptFreeTable)
	}
	return leaf
}

// Allocate removes the most recently reclaimed page from the free list and
// returns its physical address. The caller becomes the exclusive owner of
// the page.
func (a *Allocator) Allocate() (uintptr, *kernel.Error) {
	if a.lastFree == mm.NullAddress {
		return 0, ErrOutOfMemory
	}

	entry := a.slot(a.lastFree)
	page := entry.Address()
	entry.SetPresent(false)
	a.lastFree = a.lastFree.PrevSlot()

	checkAllocate(page)
	return page, nil
}

// DiscoverPages reclaims every page of the Free segments in segments. All
// other segments are skipped.
func (a *Allocator) DiscoverPages(segments iter.Seq[MemorySegment]) {
	var (
		freePages  = a.FreePages()
		tablePages uint64
	)

	for segment := range segments {
		if segment.Usage != Free {
			continue
		}

		for i := uint64(0); i < segment.Count; i++ {
			before := a.lastFree
			a.Reclaim(segment.Page + uintptr(i<<mm.PageShift))
			if a.lastFree == before {
				tablePages++
			}
		}
	}

	kfmt.Printf("[pmm] discovered %d free pages (%d consumed by the free table)\n", a.FreePages()-freePages, tablePages)
}
