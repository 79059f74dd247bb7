package vmm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntryFlags(t *testing.T) {
	var (
		entry Entry
		flags = FlagPresent | FlagRW | FlagNoExecute
	)

	entry.SetAddress(0xdeadb000)
	entry.SetFlags(flags)

	assert.True(t, entry.HasFlags(flags))
	assert.True(t, entry.HasAnyFlag(FlagRW|FlagGlobal))
	assert.False(t, entry.HasFlags(FlagRW|FlagGlobal))
	assert.False(t, entry.HasAnyFlag(FlagGlobal|FlagDirty))

	entry.ClearFlags(FlagPresent | FlagNoExecute)
	assert.False(t, entry.HasAnyFlag(FlagPresent|FlagNoExecute))
	assert.True(t, entry.HasFlags(FlagRW))
	assert.Equal(t, uintptr(0xdeadb000), entry.Address(), "expected flag updates to preserve the address")
}

func TestEntryAccessors(t *testing.T) {
	specs := []struct {
		get  func(Entry) bool
		set  func(*Entry, bool)
		flag EntryFlag
		// inverted is set for accessors that report the flag being clear.
		inverted bool
	}{
		{Entry.Present, (*Entry).SetPresent, FlagPresent, false},
		{Entry.Writable, (*Entry).SetWritable, FlagRW, false},
		{Entry.UserAccessible, (*Entry).SetUserAccessible, FlagUserAccessible, false},
		{Entry.WriteThrough, (*Entry).SetWriteThrough, FlagWriteThroughCaching, false},
		{Entry.Cacheable, (*Entry).SetCacheable, FlagDoNotCache, true},
		{Entry.Accessed, (*Entry).SetAccessed, FlagAccessed, false},
	}

	for specIndex, spec := range specs {
		// Start from an entry with every other flag set so that we can
		// detect accessors clobbering unrelated bits.
		entry := Entry(0x0000000012345000) | Entry(0xfff&^uint64(spec.flag))
		before := entry

		assert.Equal(t, spec.inverted, spec.get(entry), "[spec %d] unexpected initial value", specIndex)

		spec.set(&entry, true)
		assert.True(t, spec.get(entry), "[spec %d]", specIndex)
		assert.Equal(t, !spec.inverted, entry.HasFlags(spec.flag), "[spec %d]", specIndex)
		assert.Equal(t, uint64(before)&^uint64(spec.flag), uint64(entry)&^uint64(spec.flag), "[spec %d] expected other bits to be preserved", specIndex)

		spec.set(&entry, false)
		assert.False(t, spec.get(entry), "[spec %d]", specIndex)
		assert.Equal(t, uint64(before)&^uint64(spec.flag), uint64(entry)&^uint64(spec.flag), "[spec %d] expected other bits to be preserved", specIndex)
	}
}

func TestEntrySetAddress(t *testing.T) {
	specs := []struct {
		input uintptr
		exp   uintptr
	}{
		{0x1000, 0x1000},
		{0x1fff, 0x1000},
		{0xffffffffffffffff, 0x000ffffffffff000},
		{0, 0},
	}

	for specIndex, spec := range specs {
		entry := Entry(FlagPresent | FlagRW | FlagAccessed | FlagNoExecute)
		entry.SetAddress(0xabc000)
		entry.SetAddress(spec.input)

		assert.Equal(t, spec.exp, entry.Address(), "[spec %d]", specIndex)
		assert.True(t, entry.HasFlags(FlagPresent|FlagRW|FlagAccessed|FlagNoExecute), "[spec %d] expected flags to be preserved", specIndex)
	}
}
