//go:build pmmdebug

package pmm

import (
	"github.com/AidoP/cherimoya/kernel"
	"github.com/AidoP/cherimoya/kernel/kfmt"
	"github.com/AidoP/cherimoya/kernel/mm"
)

var (
	errDoubleReclaim    = &kernel.Error{Module: "pmm", Message: "page reclaimed twice"}
	errUnalignedReclaim = &kernel.Error{Module: "pmm", Message: "reclaimed page is not page aligned"}

	// ownedPages tracks every page currently owned by the allocator. It is
	// reset whenever a new allocator is constructed.
	ownedPages = map[uintptr]struct{}{}
)

func resetLedger() {
	ownedPages = map[uintptr]struct{}{}
}

func checkReclaim(page uintptr) {
	if page&uintptr(mm.PageSize-1) != 0 {
		kfmt.Printf("[pmm] reclaim of unaligned address 0x%16x\n", page)
		panicFn(errUnalignedReclaim)
		return
	}

	if _, owned := ownedPages[page]; owned {
		kfmt.Printf("[pmm] page 0x%16x is already owned by the allocator\n", page)
		panicFn(errDoubleReclaim)
		return
	}

	ownedPages[page] = struct{}{}
}

func checkAllocate(page uintptr) {
	delete(ownedPages, page)
}
