package bufferpool_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/blackdeer1524/storage-engine/src/bufferpool"
	"github.com/blackdeer1524/storage-engine/src/pkg/common"
	"github.com/blackdeer1524/storage-engine/src/pkg/logging"
	"github.com/blackdeer1524/storage-engine/src/storage/disk"
)

func newTestPool(t *testing.T, poolSize int) *bufferpool.Manager {
	t.Helper()
	fs := afero.NewMemMapFs()
	d, err := disk.Open(fs, "/data.db", "/wal.log", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return bufferpool.New(poolSize, 4, d, common.NopWALFlusher{}, logging.Nop())
}

func TestNewPageThenFetchReturnsSameContent(t *testing.T) {
	pool := newTestPool(t, 4)

	pg, id, err := pool.NewPage()
	require.NoError(t, err)
	copy(pg.Data(), []byte("hello"))
	require.NoError(t, pool.UnpinPage(id, true))
	require.NoError(t, pool.FlushPage(id))

	fetched, err := pool.FetchPage(id)
	require.NoError(t, err)
	require.Equal(t, byte('h'), fetched.Data()[0])
	require.NoError(t, pool.UnpinPage(id, false))
}

func TestPoolExhaustionWithAllPagesPinned(t *testing.T) {
	pool := newTestPool(t, 2)

	_, id1, err := pool.NewPage()
	require.NoError(t, err)
	_, id2, err := pool.NewPage()
	require.NoError(t, err)

	_, _, err = pool.NewPage()
	require.ErrorIs(t, err, common.ErrOutOfMemory)

	require.NoError(t, pool.UnpinPage(id1, false))
	require.NoError(t, pool.UnpinPage(id2, false))

	_, _, err = pool.NewPage()
	require.NoError(t, err, "should succeed once a frame is unpinned and evictable")
}

func TestUnpinningUnpinnedPageErrors(t *testing.T) {
	pool := newTestPool(t, 2)
	_, id, err := pool.NewPage()
	require.NoError(t, err)
	require.NoError(t, pool.UnpinPage(id, false))
	err = pool.UnpinPage(id, false)
	require.Error(t, err)
}

func TestDeletingPinnedPageFails(t *testing.T) {
	pool := newTestPool(t, 2)
	_, id, err := pool.NewPage()
	require.NoError(t, err)

	err = pool.DeletePage(id)
	require.Error(t, err)

	require.NoError(t, pool.UnpinPage(id, false))
	require.NoError(t, pool.DeletePage(id))
}

func TestFetchIncrementsPinCountOnRepeatedFetch(t *testing.T) {
	pool := newTestPool(t, 4)
	_, id, err := pool.NewPage()
	require.NoError(t, err)
	require.NoError(t, pool.UnpinPage(id, false))

	_, err = pool.FetchPage(id)
	require.NoError(t, err)
	require.Equal(t, 1, pool.PinCount(id))

	_, err = pool.FetchPage(id)
	require.NoError(t, err)
	require.Equal(t, 2, pool.PinCount(id))

	require.NoError(t, pool.UnpinPage(id, false))
	require.NoError(t, pool.UnpinPage(id, false))
}
