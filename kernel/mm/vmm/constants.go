package vmm

const (
	// EntriesPerTable is the number of entries held by a table at any
	// paging level.
	EntriesPerTable = 512

	// entryAddrMask extracts the physical address referenced by an entry.
	// Bits 12-51 hold the address; everything above is reserved.
	entryAddrMask = uint64(0x000ffffffffff000)
)

// EntryFlag describes a flag bit that can be applied to an Entry.
type EntryFlag uint64

const (
	// FlagPresent is set when the entry references a table or page.
	FlagPresent EntryFlag = 1 << iota

	// FlagRW is set if the referenced memory can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code can access the referenced
	// memory. If not set only kernel code can access it.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and
	// write-back caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents the referenced memory from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when the referenced memory is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when the referenced page is modified.
	FlagDirty

	// FlagHugePage is set when the entry maps a 2Mb or 1Gb page instead of
	// a table.
	FlagHugePage

	// FlagGlobal prevents the TLB from flushing the translation when the
	// active root table changes.
	FlagGlobal

	// FlagNoExecute if set, indicates that the referenced memory must not
	// be executed.
	FlagNoExecute EntryFlag = 1 << 63
)
