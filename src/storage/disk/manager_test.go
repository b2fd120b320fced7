package disk_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/blackdeer1524/storage-engine/src/pkg/common"
	"github.com/blackdeer1524/storage-engine/src/pkg/logging"
	"github.com/blackdeer1524/storage-engine/src/storage/disk"
	"github.com/blackdeer1524/storage-engine/src/storage/page"
)

func openTestManager(t *testing.T) *disk.Manager {
	t.Helper()
	fs := afero.NewMemMapFs()
	m, err := disk.Open(fs, "/data.db", "/wal.log", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestAllocatePageDenseAndMonotonic(t *testing.T) {
	m := openTestManager(t)

	first, err := m.AllocatePage()
	require.NoError(t, err)
	second, err := m.AllocatePage()
	require.NoError(t, err)

	require.NotEqual(t, first, second)
	require.NotEqual(t, common.InvalidPageID, first)
	require.NotEqual(t, common.InvalidPageID, second)
}

func TestWriteThenReadPageRoundTrips(t *testing.T) {
	m := openTestManager(t)

	id, err := m.AllocatePage()
	require.NoError(t, err)

	want := make([]byte, page.Size)
	for i := range want {
		want[i] = byte(i % 251)
	}
	require.NoError(t, m.WritePage(id, want))

	got := make([]byte, page.Size)
	require.NoError(t, m.ReadPage(id, got))
	require.Equal(t, want, got)
}

func TestDeallocatePageIsReusedByNextAllocate(t *testing.T) {
	m := openTestManager(t)

	id, err := m.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, m.DeallocatePage(id))

	reused, err := m.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, id, reused)
}

func TestReadUnallocatedPageErrors(t *testing.T) {
	m := openTestManager(t)
	buf := make([]byte, page.Size)
	err := m.ReadPage(common.PageID(9999), buf)
	require.ErrorIs(t, err, common.ErrNoSuchPage)
}

func TestWriteLogAppendsAndIsReadable(t *testing.T) {
	m := openTestManager(t)

	first := []byte("first-record-payload")
	loc, err := m.WriteLog(first)
	require.NoError(t, err)

	second := []byte("second-record")
	_, err = m.WriteLog(second)
	require.NoError(t, err)

	got := make([]byte, len(first))
	require.NoError(t, m.ReadLog(loc, got))
	require.Equal(t, first, got)

	require.Equal(t, int64(len(first)+len(second)), m.LogSize())
}

func TestRunIDPersistsAcrossReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	m1, err := disk.Open(fs, "/data.db", "/wal.log", logging.Nop())
	require.NoError(t, err)
	runID := m1.RunID()
	require.NoError(t, m1.Close())

	m2, err := disk.Open(fs, "/data.db", "/wal.log", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m2.Close() })
	require.Equal(t, runID, m2.RunID())
}
