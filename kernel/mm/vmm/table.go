package vmm

import (
	"github.com/AidoP/cherimoya/kernel"
	"github.com/AidoP/cherimoya/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// tableAtFn is used by tests to override the resolution of physical
	// table addresses.
	tableAtFn = TableAt
)

// Table is a page sized array of entries describing one paging level. The
// same layout is used for all four levels; only level 1 entries reference
// pages while the entries of higher levels reference the next table down.
type Table [EntriesPerTable]Entry

// TableAt returns the table stored in the physical page at physAddr. The page
// is resolved through the page mapper registered with the mm package.
func TableAt(physAddr uintptr) *Table {
	return (*Table)(mm.PagePtr(physAddr))
}

// Slot returns the entry that addr selects at the given paging level.
func (t *Table) Slot(addr mm.Address, level mm.Level) *Entry {
	return &t[addr.Index(level)]
}

// Clear resets every entry in the table.
func (t *Table) Clear() {
	for i := range t {
		t[i] = 0
	}
}

// Visitor is a function that can be passed to Visit. It receives the paging
// level and the entry that the address selects at that level. If the
// function returns false, then the walk is aborted.
type Visitor func(level mm.Level, entry *Entry) bool

// Visit performs a table walk for addr starting at t, which is treated as a
// level 4 table. It calls visitor with the entry selected at each level and
// descends into the table referenced by that entry while visitor returns
// true. Visit never creates or modifies entries itself.
func (t *Table) Visit(addr mm.Address, visitor Visitor) {
	table := t
	for level := mm.Level4; level >= mm.Level1; level-- {
		entry := table.Slot(addr, level)
		if !visitor(level, entry) || level == mm.Level1 {
			return
		}

		table = tableAtFn(entry.Address())
	}
}

// Walk returns the level 1 entry for addr or ErrInvalidMapping if an entry at
// any level along the way is not present. Non-canonical addresses are never
// mapped.
func (t *Table) Walk(addr mm.Address) (*Entry, *kernel.Error) {
	if !addr.Canonical() {
		return nil, ErrInvalidMapping
	}

	var (
		err   *kernel.Error
		entry *Entry
	)

	t.Visit(addr, func(_ mm.Level, e *Entry) bool {
		if !e.Present() {
			entry = nil
			err = ErrInvalidMapping
			return false
		}

		entry = e
		return true
	})

	return entry, err
}

// Translate returns the physical address that addr maps to using t as the
// root table, or ErrInvalidMapping if addr is not mapped.
func (t *Table) Translate(addr mm.Address) (uintptr, *kernel.Error) {
	entry, err := t.Walk(addr)
	if err != nil {
		return 0, err
	}

	return entry.Address() + uintptr(addr.Offset()), nil
}
