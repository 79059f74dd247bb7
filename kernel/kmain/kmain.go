package kmain

import (
	"github.com/AidoP/cherimoya/kernel"
	"github.com/AidoP/cherimoya/kernel/kfmt"
	"github.com/AidoP/cherimoya/kernel/mm/pmm"
)

var (
	errNoFreeMemory = &kernel.Error{Module: "kmain", Message: "allocator has no free pages"}
)

// Kmain is the kernel entry point invoked by the loader once boot services
// have been exited. The loader passes the physical memory allocator by value
// and gives up all access to the memory it manages; from here on it is the
// kernel's only source of physical pages.
//
//go:noinline
func Kmain(alloc pmm.Allocator) *kernel.Error {
	kfmt.Printf("[kmain] starting cherimoya\n")

	if alloc.FreePages() == 0 {
		return errNoFreeMemory
	}

	pmm.Init(&alloc)
	kfmt.Printf("[kmain] %d pages free, %d pages used by the free table\n", alloc.FreePages(), alloc.TablePages())

	return nil
}
