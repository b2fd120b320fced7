package page_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blackdeer1524/storage-engine/src/storage/page"
)

func newTablePage(t *testing.T) *page.Page {
	t.Helper()
	pg := page.New()
	pg.SetType(page.PageTypeTable)
	page.InitTable(pg)
	return pg
}

func TestInsertTupleThenReadTupleRoundTrips(t *testing.T) {
	pg := newTablePage(t)

	slot, ok := page.InsertTuple(pg, []byte("hello"))
	require.True(t, ok)
	require.EqualValues(t, 0, slot)

	got, ok := page.ReadTuple(pg, slot)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got)
}

func TestInsertTupleAssignsSequentialSlots(t *testing.T) {
	pg := newTablePage(t)

	s0, ok := page.InsertTuple(pg, []byte("a"))
	require.True(t, ok)
	s1, ok := page.InsertTuple(pg, []byte("bb"))
	require.True(t, ok)
	s2, ok := page.InsertTuple(pg, []byte("ccc"))
	require.True(t, ok)

	require.EqualValues(t, 0, s0)
	require.EqualValues(t, 1, s1)
	require.EqualValues(t, 2, s2)
	require.EqualValues(t, 3, page.NumSlots(pg))

	v0, _ := page.ReadTuple(pg, s0)
	v1, _ := page.ReadTuple(pg, s1)
	v2, _ := page.ReadTuple(pg, s2)
	require.Equal(t, []byte("a"), v0)
	require.Equal(t, []byte("bb"), v1)
	require.Equal(t, []byte("ccc"), v2)
}

func TestInsertTupleFailsWhenPageIsFull(t *testing.T) {
	pg := newTablePage(t)

	big := make([]byte, page.Size)
	_, ok := page.InsertTuple(pg, big)
	require.False(t, ok, "a tuple larger than the whole body must be rejected")
}

func TestMarkSlotDeletedTombstonesButKeepsSlotIndex(t *testing.T) {
	pg := newTablePage(t)

	slot, ok := page.InsertTuple(pg, []byte("gone soon"))
	require.True(t, ok)

	page.MarkSlotDeleted(pg, slot)

	_, ok = page.ReadTuple(pg, slot)
	require.False(t, ok, "a tombstoned slot must not be readable")
	require.EqualValues(t, 1, page.NumSlots(pg), "the slot index itself is never reclaimed")
}

func TestMarkSlotDeletedTwiceIsANoop(t *testing.T) {
	pg := newTablePage(t)
	slot, _ := page.InsertTuple(pg, []byte("x"))

	page.MarkSlotDeleted(pg, slot)
	require.NotPanics(t, func() { page.MarkSlotDeleted(pg, slot) })
}

func TestSetSlotAtExtendsTheDirectoryWithTombstones(t *testing.T) {
	pg := newTablePage(t)

	ok := page.SetSlotAt(pg, 3, []byte("landed at slot 3"))
	require.True(t, ok)
	require.EqualValues(t, 4, page.NumSlots(pg))

	for _, s := range []uint32{0, 1, 2} {
		_, ok := page.ReadTuple(pg, s)
		require.False(t, ok, "slots skipped by SetSlotAt must read back as tombstoned")
	}

	got, ok := page.ReadTuple(pg, 3)
	require.True(t, ok)
	require.Equal(t, []byte("landed at slot 3"), got)
}

func TestSetSlotAtOverwritesAnExistingSlotInPlace(t *testing.T) {
	pg := newTablePage(t)
	slot, _ := page.InsertTuple(pg, []byte("before"))

	ok := page.SetSlotAt(pg, slot, []byte("after value"))
	require.True(t, ok)
	require.EqualValues(t, 1, page.NumSlots(pg))

	got, ok := page.ReadTuple(pg, slot)
	require.True(t, ok)
	require.Equal(t, []byte("after value"), got)
}

func TestReadTupleOnNeverAllocatedSlotFails(t *testing.T) {
	pg := newTablePage(t)
	_, ok := page.ReadTuple(pg, 7)
	require.False(t, ok)
}
