package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uint64)). Page table
	// entries are (1 << PointerShift) bytes wide.
	PointerShift = 3

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// PageTableShift is equal to log2 of the span covered by a single
	// level-1 table (512 pages, 2MiB).
	PageTableShift = PageShift + levelBits

	// levelBits is the number of address bits consumed by each paging level.
	levelBits = 9

	// pageOffsetMask selects the offset of an address within its page.
	pageOffsetMask = (1 << PageShift) - 1

	// pageAddrMask selects bits 12-51 of an address; bits above 51 are
	// reserved by the paging hardware.
	pageAddrMask = 0x000ffffffffff000

	// pageTableAddrMask selects bits 21-51 of an address.
	pageTableAddrMask = 0x000fffffffe00000
)
