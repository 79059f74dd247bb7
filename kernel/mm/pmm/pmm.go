package pmm

import (
	"github.com/AidoP/cherimoya/kernel"
	"github.com/AidoP/cherimoya/kernel/kfmt"
	"github.com/AidoP/cherimoya/kernel/mm"
)

// Init registers alloc as the system frame allocator so that the rest of the
// kernel can obtain pages through mm.AllocFrame.
func Init(alloc *Allocator) {
	kfmt.Printf("[pmm] free table at 0x%16x, %d pages available\n", alloc.FreeTable(), alloc.FreePages())

	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) {
		page, err := alloc.Allocate()
		if err != nil {
			return mm.InvalidFrame, err
		}
		return mm.FrameFromAddress(page), nil
	})
}
