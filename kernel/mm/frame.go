package mm

import (
	"math"
	"unsafe"

	"github.com/AidoP/cherimoya/kernel"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr &^ uintptr(PageSize-1)) >> PageShift)
}

var (
	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	// pageMapper points to the function registered with SetPageMapper.
	pageMapper PageMapperFn = identityMapper

	errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)

// SetFrameAllocator registers a frame allocator function that will be used
// by kernel code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// AllocFrame allocates a new physical frame using the currently active
// physical frame allocator.
func AllocFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errNoFrameAllocator
	}
	return frameAllocator()
}

// PageMapperFn returns a pointer to the first byte of the physical page that
// contains physAddr.
type PageMapperFn func(physAddr uintptr) unsafe.Pointer

// SetPageMapper registers the function used to access physical memory. The
// default mapper assumes physical memory is identity mapped; the emulator
// installs a mapper backed by its physical memory window. Passing nil
// restores the identity mapper.
func SetPageMapper(fn PageMapperFn) {
	if fn == nil {
		fn = identityMapper
	}
	pageMapper = fn
}

// PagePtr returns a pointer to the contents of the physical page that holds
// physAddr.
func PagePtr(physAddr uintptr) unsafe.Pointer {
	return pageMapper(physAddr &^ uintptr(PageSize-1))
}

// identityMapper treats physical addresses as directly addressable.
func identityMapper(physAddr uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&physAddr))
}
