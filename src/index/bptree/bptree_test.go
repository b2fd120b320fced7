package bptree_test

import (
	"math/rand"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/blackdeer1524/storage-engine/src/bufferpool"
	"github.com/blackdeer1524/storage-engine/src/index/bptree"
	"github.com/blackdeer1524/storage-engine/src/pkg/common"
	"github.com/blackdeer1524/storage-engine/src/pkg/logging"
	"github.com/blackdeer1524/storage-engine/src/storage/disk"
)

func newTestTree(t *testing.T, poolSize int) *bptree.BPlusTree[int64, common.RecordID] {
	t.Helper()
	fs := afero.NewMemMapFs()
	dm, err := disk.Open(fs, "/data.db", "/wal.log", logging.Nop())
	require.NoError(t, err)
	pool := bufferpool.New(poolSize, 16, dm, common.NopWALFlusher{}, logging.Nop())
	tree, err := bptree.New[int64, common.RecordID](pool, common.Int64Codec{}, common.RecordIDCodec{})
	require.NoError(t, err)
	return tree
}

func rid(n int64) common.RecordID {
	return common.RecordID{PageID: common.PageID(n), Slot: 0}
}

func TestInsertThenGetFindsTheValue(t *testing.T) {
	tree := newTestTree(t, 64)
	ok, err := tree.Insert(42, rid(1))
	require.NoError(t, err)
	require.True(t, ok)

	vals, err := tree.Get(42)
	require.NoError(t, err)
	require.Equal(t, []common.RecordID{rid(1)}, vals)
}

func TestInsertDuplicateKeyReturnsFalse(t *testing.T) {
	tree := newTestTree(t, 64)
	ok, err := tree.Insert(1, rid(1))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Insert(1, rid(2))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetMissingKeyReturnsEmpty(t *testing.T) {
	tree := newTestTree(t, 64)
	vals, err := tree.Get(999)
	require.NoError(t, err)
	require.Empty(t, vals)
}

// TestManyInsertsForceSplitsAndStayRetrievable drives enough inserts through
// a small pool that leaf splits (and the resulting new-root creation) must
// occur, then checks every key is still reachable in order. 500 keys fill only
// a handful of leaves, far below an internal page's fan-out, so no internal
// split happens here.
func TestManyInsertsForceSplitsAndStayRetrievable(t *testing.T) {
	tree := newTestTree(t, 8)
	const n = 500

	keys := rand.New(rand.NewSource(7)).Perm(n)
	for _, k := range keys {
		ok, err := tree.Insert(int64(k), rid(int64(k)))
		require.NoError(t, err)
		require.True(t, ok)
	}

	for i := 0; i < n; i++ {
		vals, err := tree.Get(int64(i))
		require.NoError(t, err)
		require.Equal(t, []common.RecordID{rid(int64(i))}, vals, "key %d", i)
	}
}

func TestIteratorVisitsEveryKeyInOrder(t *testing.T) {
	tree := newTestTree(t, 8)
	const n = 200
	for _, k := range rand.New(rand.NewSource(3)).Perm(n) {
		_, err := tree.Insert(int64(k), rid(int64(k)))
		require.NoError(t, err)
	}

	it, err := tree.Begin()
	require.NoError(t, err)

	var got []int64
	for !it.IsEnd() {
		got = append(got, it.Key())
		require.NoError(t, it.Next())
	}
	require.Len(t, got, n)
	for i, k := range got {
		require.Equal(t, int64(i), k)
	}
}

func TestBeginAtSkipsToFirstKeyGreaterOrEqual(t *testing.T) {
	tree := newTestTree(t, 8)
	for _, k := range []int64{10, 20, 30, 40, 50} {
		_, err := tree.Insert(k, rid(k))
		require.NoError(t, err)
	}

	it, err := tree.BeginAt(25)
	require.NoError(t, err)
	require.False(t, it.IsEnd())
	require.Equal(t, int64(30), it.Key())
}

func TestRemoveDeletesAKeyAndForcesUnderflowHandling(t *testing.T) {
	tree := newTestTree(t, 8)
	const n = 300
	for i := 0; i < n; i++ {
		_, err := tree.Insert(int64(i), rid(int64(i)))
		require.NoError(t, err)
	}

	for i := 0; i < n; i += 2 {
		require.NoError(t, tree.Remove(int64(i)))
	}

	for i := 0; i < n; i++ {
		vals, err := tree.Get(int64(i))
		require.NoError(t, err)
		if i%2 == 0 {
			require.Empty(t, vals, "key %d should have been removed", i)
		} else {
			require.Equal(t, []common.RecordID{rid(int64(i))}, vals, "key %d", i)
		}
	}
}

func TestRemoveMissingKeyIsANoop(t *testing.T) {
	tree := newTestTree(t, 8)
	_, err := tree.Insert(1, rid(1))
	require.NoError(t, err)
	require.NoError(t, tree.Remove(2))

	vals, err := tree.Get(1)
	require.NoError(t, err)
	require.Equal(t, []common.RecordID{rid(1)}, vals)
}

func TestRemoveEveryKeyLeavesAnEmptyTree(t *testing.T) {
	tree := newTestTree(t, 8)
	const n = 150
	for i := 0; i < n; i++ {
		_, err := tree.Insert(int64(i), rid(int64(i)))
		require.NoError(t, err)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Remove(int64(i)))
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	require.True(t, it.IsEnd())
}
