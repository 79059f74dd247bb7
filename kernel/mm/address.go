package mm

// Address is a 64-bit virtual address. From high to low bits it is made of
// a 9-bit index into each of the four paging levels followed by a 12-bit
// offset within the page:
//
//	| 63..48    | 47..39 | 38..30 | 29..21 | 20..12 | 11..0  |
//	| sign ext. | level4 | level3 | level2 | level1 | offset |
//
// Bits 63..48 of a canonical address are copies of bit 47.
type Address uint64

// NullAddress is the zero address.
const NullAddress = Address(0)

// Level identifies one of the four paging levels. Level4 is the root;
// Level1 entries name pages directly.
type Level uint8

// The supported paging levels.
const (
	Level1 Level = iota + 1
	Level2
	Level3
	Level4
)

// PageLevels is the number of paging levels.
const PageLevels = 4

// Shift returns the position of the lowest address bit that indexes a table
// at this level.
func (l Level) Shift() uint {
	return PageShift + uint(l-1)*levelBits
}

// String implements kfmt.Stringer.
func (l Level) String() string {
	switch l {
	case Level1:
		return "level1"
	case Level2:
		return "level2"
	case Level3:
		return "level3"
	case Level4:
		return "level4"
	default:
		return "invalid"
	}
}

// Index returns the 9-bit table index that addr selects at the given level.
func (a Address) Index(level Level) uint {
	return uint(a>>level.Shift()) & ((1 << levelBits) - 1)
}

// Offset returns the offset of the address within its page.
func (a Address) Offset() uint {
	return uint(a & pageOffsetMask)
}

// PageBoundary returns the address with its page offset cleared.
func (a Address) PageBoundary() Address {
	return a & pageAddrMask
}

// PageTableBoundary returns the address with both the page offset and the
// level-1 index cleared, i.e. the start of the 2MiB span covered by the
// level-1 table the address falls into.
func (a Address) PageTableBoundary() Address {
	return a & pageTableAddrMask
}

// NextSlot returns the address of the following level-1 slot.
func (a Address) NextSlot() Address {
	return a + Address(PageSize)
}

// PrevSlot returns the address of the preceding level-1 slot.
func (a Address) PrevSlot() Address {
	return a - Address(PageSize)
}

// Canonical reports whether bits 63..48 of the address are copies of bit 47.
func (a Address) Canonical() bool {
	return signExtend(a) == a
}

// AddressFromIndices assembles a canonical address from its table indices
// and page offset. Each index is truncated to 9 bits and the offset to 12
// bits.
func AddressFromIndices(l4, l3, l2, l1, offset uint) Address {
	const indexMask = (1 << levelBits) - 1
	return signExtend(Address(l4&indexMask)<<Level4.Shift() |
		Address(l3&indexMask)<<Level3.Shift() |
		Address(l2&indexMask)<<Level2.Shift() |
		Address(l1&indexMask)<<Level1.Shift() |
		Address(offset&pageOffsetMask))
}

// signExtend copies bit 47 into bits 63..48.
func signExtend(a Address) Address {
	const topBit = PageShift + PageLevels*levelBits - 1
	return Address(int64(a<<(63-topBit)) >> (63 - topBit))
}
