package vmm

// Entry is a single slot of a Table. It uses the amd64 page table entry
// format: control flags live in the low bits and bits 12-51 hold the page
// aligned physical address of the next table or, at level 1, of a page.
type Entry uint64

// HasFlags returns true if this entry has all the input flags set.
func (e Entry) HasFlags(flags EntryFlag) bool {
	return (uint64(e) & uint64(flags)) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (e Entry) HasAnyFlag(flags EntryFlag) bool {
	return (uint64(e) & uint64(flags)) != 0
}

// SetFlags sets the input list of flags to the entry.
func (e *Entry) SetFlags(flags EntryFlag) {
	*e = Entry(uint64(*e) | uint64(flags))
}

// ClearFlags unsets the input list of flags from the entry.
func (e *Entry) ClearFlags(flags EntryFlag) {
	*e = Entry(uint64(*e) &^ uint64(flags))
}

func (e *Entry) setFlag(flag EntryFlag, on bool) {
	if on {
		e.SetFlags(flag)
	} else {
		e.ClearFlags(flag)
	}
}

// Present returns true if the entry references a table or page.
func (e Entry) Present() bool { return e.HasFlags(FlagPresent) }

// SetPresent updates the present bit.
func (e *Entry) SetPresent(on bool) { e.setFlag(FlagPresent, on) }

// Writable returns true if the referenced memory may be written to.
func (e Entry) Writable() bool { return e.HasFlags(FlagRW) }

// SetWritable updates the writable bit.
func (e *Entry) SetWritable(on bool) { e.setFlag(FlagRW, on) }

// UserAccessible returns true if user-mode code may access the referenced
// memory.
func (e Entry) UserAccessible() bool { return e.HasFlags(FlagUserAccessible) }

// SetUserAccessible updates the user-accessible bit.
func (e *Entry) SetUserAccessible(on bool) { e.setFlag(FlagUserAccessible, on) }

// WriteThrough returns true if writes to the referenced memory use
// write-through caching.
func (e Entry) WriteThrough() bool { return e.HasFlags(FlagWriteThroughCaching) }

// SetWriteThrough updates the write-through bit.
func (e *Entry) SetWriteThrough(on bool) { e.setFlag(FlagWriteThroughCaching, on) }

// Cacheable returns true unless caching is disabled for the referenced
// memory.
func (e Entry) Cacheable() bool { return !e.HasFlags(FlagDoNotCache) }

// SetCacheable clears or sets the cache-disable bit.
func (e *Entry) SetCacheable(on bool) { e.setFlag(FlagDoNotCache, !on) }

// Accessed returns true if the CPU has accessed the referenced memory.
func (e Entry) Accessed() bool { return e.HasFlags(FlagAccessed) }

// SetAccessed updates the accessed bit.
func (e *Entry) SetAccessed(on bool) { e.setFlag(FlagAccessed, on) }

// Address returns the physical address referenced by this entry.
func (e Entry) Address() uintptr {
	return uintptr(uint64(e) & entryAddrMask)
}

// SetAddress points the entry at physAddr without altering its flags. The
// low 12 bits of physAddr and any bits above bit 51 are discarded.
func (e *Entry) SetAddress(physAddr uintptr) {
	*e = Entry((uint64(*e) &^ entryAddrMask) | (uint64(physAddr) & entryAddrMask))
}
