package pmm

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AidoP/cherimoya/kernel/mm"
	"github.com/AidoP/cherimoya/kernel/mm/physmem"
	"github.com/AidoP/cherimoya/kernel/mm/vmm"
)

const (
	arenaBase = uintptr(0x100000)

	// scaffoldPages is the number of arena pages reserved for the NULL
	// chain built by newMachine.
	scaffoldPages = 4
)

// newMachine creates an arena of the requested size and links its first
// four pages into a level 4 to level 1 chain for the NULL address, the same
// way the loader does. It returns the arena and the root table address.
func newMachine(t *testing.T, pages int) (*physmem.Arena, uintptr) {
	arena, err := physmem.New(arenaBase, mm.Size(pages)*mm.PageSize)
	require.Nil(t, err)
	arena.Install()
	t.Cleanup(func() { _ = arena.Close() })

	root := arena.Base()
	table := vmm.TableAt(root)
	for level, next := mm.Level4, root+uintptr(mm.PageSize); level >= mm.Level1; level, next = level-1, next+uintptr(mm.PageSize) {
		entry := table.Slot(mm.NullAddress, level)
		entry.SetFlags(vmm.FlagPresent | vmm.FlagRW)
		if level == mm.Level1 {
			entry.SetAddress(root)
			break
		}

		entry.SetAddress(next)
		table = vmm.TableAt(next)
	}

	return arena, root
}

// page returns the physical address of the n-th arena page after the
// scaffold.
func page(n int) uintptr {
	return arenaBase + uintptr(scaffoldPages+n)*uintptr(mm.PageSize)
}

func TestNew(t *testing.T) {
	_, root := newMachine(t, scaffoldPages)

	alloc, err := New(root)
	require.Nil(t, err)
	assert.Equal(t, root, alloc.FreeTable())
	assert.Equal(t, mm.NullAddress, alloc.LastFree())
	assert.Equal(t, mm.NullAddress, alloc.LastPageTable())
	assert.Zero(t, alloc.FreePages())
	assert.Equal(t, uint64(scaffoldPages), alloc.TablePages())
}

func TestNewIncompleteScaffold(t *testing.T) {
	for _, missing := range []mm.Level{mm.Level4, mm.Level3, mm.Level2, mm.Level1} {
		t.Run(missing.String(), func(t *testing.T) {
			_, root := newMachine(t, scaffoldPages)

			table := vmm.TableAt(root)
			for level := mm.Level4; level > missing; level-- {
				table = vmm.TableAt(table.Slot(mm.NullAddress, level).Address())
			}
			table.Slot(mm.NullAddress, missing).SetPresent(false)

			_, err := New(root)
			assert.Equal(t, ErrScaffoldInvalid, err)
		})
	}
}

func TestNewTableAtPhysicalPageZero(t *testing.T) {
	arena, err := physmem.New(0, scaffoldPages*mm.PageSize)
	require.Nil(t, err)
	arena.Install()
	defer func() { _ = arena.Close() }()

	// Root at physical page 0 links to itself at every level.
	entry := vmm.TableAt(0).Slot(mm.NullAddress, mm.Level4)
	entry.SetFlags(vmm.FlagPresent | vmm.FlagRW)

	alloc, kerr := New(0)
	require.Nil(t, kerr)
	assert.Equal(t, uintptr(0), alloc.FreeTable())
}

// Allocate hands out pages in the reverse order they were reclaimed.
func TestReclaimAllocateLIFO(t *testing.T) {
	_, root := newMachine(t, scaffoldPages+3)

	alloc, err := New(root)
	require.Nil(t, err)

	pages := []uintptr{page(0), page(1), page(2)}
	for _, p := range pages {
		alloc.Reclaim(p)
	}
	assert.Equal(t, uint64(3), alloc.FreePages())

	for i := len(pages) - 1; i >= 0; i-- {
		got, err := alloc.Allocate()
		require.Nil(t, err)
		assert.Equal(t, pages[i], got)
	}

	_, err = alloc.Allocate()
	assert.Equal(t, ErrOutOfMemory, err)
	assert.Zero(t, alloc.FreePages())
}

func TestAllocateClearsPresentBit(t *testing.T) {
	_, root := newMachine(t, scaffoldPages+1)

	alloc, err := New(root)
	require.Nil(t, err)
	alloc.Reclaim(page(0))

	slot := mm.NullAddress.NextSlot()
	entry, kerr := vmm.TableAt(root).Walk(slot)
	require.Nil(t, kerr)
	assert.Equal(t, page(0), entry.Address())

	_, err = alloc.Allocate()
	require.Nil(t, err)

	_, kerr = vmm.TableAt(root).Walk(slot)
	assert.Equal(t, vmm.ErrInvalidMapping, kerr, "expected allocated slot to be marked not present")
}

func TestReclaimAfterAllocate(t *testing.T) {
	_, root := newMachine(t, scaffoldPages+2)

	alloc, err := New(root)
	require.Nil(t, err)

	alloc.Reclaim(page(0))
	got, err := alloc.Allocate()
	require.Nil(t, err)
	require.Equal(t, page(0), got)

	alloc.Reclaim(page(1))
	alloc.Reclaim(page(0))

	for _, exp := range []uintptr{page(0), page(1)} {
		got, err := alloc.Allocate()
		require.Nil(t, err)
		assert.Equal(t, exp, got)
	}
}

func TestDiscoverPages(t *testing.T) {
	_, root := newMachine(t, scaffoldPages+7)

	alloc, err := New(root)
	require.Nil(t, err)

	var (
		p        = page(0)
		q        = page(4)
		r        = page(6)
		segments = []MemorySegment{
			{Page: p, Count: 4, Usage: Free, Properties: Read | Write | Execute},
			{Page: q, Count: 2, Usage: Reserved, Properties: Read},
			{Page: r, Count: 1, Usage: Mmio, Properties: Read | Write},
		}
	)

	alloc.DiscoverPages(slices.Values(segments))
	require.Equal(t, uint64(4), alloc.FreePages())

	var got []uintptr
	for {
		p, err := alloc.Allocate()
		if err == ErrOutOfMemory {
			break
		}
		require.Nil(t, err)
		got = append(got, p)
	}

	assert.Equal(t, []uintptr{p + 3*uintptr(mm.PageSize), p + 2*uintptr(mm.PageSize), p + uintptr(mm.PageSize), p}, got)
}

func TestDiscoverPagesSkipsNonFreeUsage(t *testing.T) {
	_, root := newMachine(t, scaffoldPages)

	alloc, err := New(root)
	require.Nil(t, err)

	segments := []MemorySegment{
		{Page: page(0), Count: 8, Usage: Reserved},
		{Page: page(8), Count: 8, Usage: AllocatorOwned},
		{Page: page(16), Count: 8, Usage: Unusable},
		{Page: page(24), Count: 8, Usage: Mmio},
		{Page: page(32), Count: 0, Usage: Free},
	}

	alloc.DiscoverPages(slices.Values(segments))
	assert.Zero(t, alloc.FreePages())
	assert.Equal(t, mm.NullAddress, alloc.LastFree())
}

func TestScaffoldingGrowth(t *testing.T) {
	const reclaimed = 1200

	_, root := newMachine(t, scaffoldPages+reclaimed)

	alloc, err := New(root)
	require.Nil(t, err)

	var (
		free     = map[uintptr]bool{}
		consumed []uintptr
	)

	for i := 0; i < reclaimed; i++ {
		before := alloc.LastFree()
		alloc.Reclaim(page(i))

		if alloc.LastFree() == before {
			consumed = append(consumed, page(i))
		} else {
			free[page(i)] = true
		}

		require.LessOrEqual(t, alloc.LastFree().PageTableBoundary(), alloc.LastPageTable(), "after reclaiming page %d", i)
	}

	// The first level 1 table only has 511 usable slots as slot 0 is the
	// NULL entry. Each further 512 slots need one more level 1 table.
	assert.Equal(t, []uintptr{page(511), page(1024)}, consumed)
	assert.Equal(t, uint64(reclaimed-len(consumed)), alloc.FreePages())
	assert.Equal(t, mm.Address(0x400000), alloc.LastPageTable())
	assert.Equal(t, uint64(scaffoldPages+len(consumed)), alloc.TablePages())

	for n := len(free); n > 0; n-- {
		got, err := alloc.Allocate()
		require.Nil(t, err)
		require.True(t, free[got], "allocated page 0x%x was not on the free list", got)
		require.NotContains(t, consumed, got)
		delete(free, got)
	}

	_, err = alloc.Allocate()
	assert.Equal(t, ErrOutOfMemory, err)
}

func TestReclaimGrowsUpperLevels(t *testing.T) {
	specs := []struct {
		lastFree mm.Address
		// expConsumed is the number of pages linked as tables before the
		// first page lands on the free list.
		expConsumed int
	}{
		// Crossing a 1GiB boundary needs a level 2 and a level 1 table.
		{mm.Address(0x3ffff000), 2},
		// Crossing a 512GiB boundary needs one table for each of the
		// lower three levels.
		{mm.Address(0x7ffffffff000), 3},
	}

	for specIndex, spec := range specs {
		_, root := newMachine(t, scaffoldPages+spec.expConsumed+1)

		alloc, err := New(root)
		require.Nil(t, err)
		alloc.lastFree = spec.lastFree
		alloc.lastPageTable = spec.lastFree.PageTableBoundary()

		for i := 0; i < spec.expConsumed; i++ {
			alloc.Reclaim(page(i))
			require.Equal(t, spec.lastFree, alloc.LastFree(), "[spec %d] expected page %d to be consumed as a table", specIndex, i)
		}

		alloc.Reclaim(page(spec.expConsumed))
		next := spec.lastFree.NextSlot()
		assert.Equal(t, next, alloc.LastFree(), "[spec %d]", specIndex)
		assert.Equal(t, next, alloc.LastPageTable(), "[spec %d]", specIndex)

		physAddr, kerr := vmm.TableAt(root).Translate(next)
		require.Nil(t, kerr, "[spec %d]", specIndex)
		assert.Equal(t, page(spec.expConsumed), physAddr, "[spec %d]", specIndex)

		got, err := alloc.Allocate()
		require.Nil(t, err, "[spec %d]", specIndex)
		assert.Equal(t, page(spec.expConsumed), got, "[spec %d]", specIndex)
	}
}

func TestReclaimWithPrebuiltHierarchy(t *testing.T) {
	_, root := newMachine(t, scaffoldPages+2)

	alloc, err := New(root)
	require.Nil(t, err)

	// Link a level 1 table for the second 2MiB span up front.
	l2 := vmm.TableAt(vmm.TableAt(vmm.TableAt(root).Slot(0, mm.Level4).Address()).Slot(0, mm.Level3).Address())
	entry := l2.Slot(0x200000, mm.Level2)
	entry.SetAddress(page(0))
	entry.SetFlags(vmm.FlagPresent | vmm.FlagRW)

	alloc.lastFree = 0x1ff000
	alloc.Reclaim(page(1))

	assert.Equal(t, mm.Address(0x200000), alloc.LastFree())
	assert.Equal(t, mm.Address(0x200000), alloc.LastPageTable())
}
