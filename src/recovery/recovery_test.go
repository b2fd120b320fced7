package recovery_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/blackdeer1524/storage-engine/src/bufferpool"
	"github.com/blackdeer1524/storage-engine/src/pkg/common"
	"github.com/blackdeer1524/storage-engine/src/pkg/logging"
	"github.com/blackdeer1524/storage-engine/src/logmanager"
	"github.com/blackdeer1524/storage-engine/src/recovery"
	"github.com/blackdeer1524/storage-engine/src/storage/disk"
	"github.com/blackdeer1524/storage-engine/src/storage/page"
)

func tupleBlob(s string) []byte {
	b := make([]byte, 4+len(s))
	binary.LittleEndian.PutUint32(b[0:4], uint32(len(s)))
	copy(b[4:], s)
	return b
}

func TestRedoRecoversAnUnflushedInsertAfterSimulatedCrash(t *testing.T) {
	fs := afero.NewMemMapFs()

	d, err := disk.Open(fs, "/data.db", "/wal.log", logging.Nop())
	require.NoError(t, err)

	lm := logmanager.New(4096, 50*time.Millisecond, d, logging.Nop())
	logger := recovery.NewLogger(lm)

	pool := bufferpool.New(8, 4, d, lm, logging.Nop())

	txnID := common.TxnID(1)
	beginLSN, err := logger.AppendBegin(txnID)
	require.NoError(t, err)

	pg, pageID, err := pool.NewPage()
	require.NoError(t, err)
	pg.SetType(page.PageTypeTable)
	page.InitTable(pg)
	newPageLSN, err := logger.AppendNewPage(txnID, beginLSN, pageID, common.InvalidPageID)
	require.NoError(t, err)
	pg.SetLSN(newPageLSN)

	tuple := tupleBlob("hello-world")
	slot, ok := page.InsertTuple(pg, tuple)
	require.True(t, ok)
	rid := common.RecordID{PageID: pageID, Slot: slot}
	insertLSN, err := logger.AppendInsert(txnID, newPageLSN, rid, tuple)
	require.NoError(t, err)
	pg.SetLSN(insertLSN)

	commitLSN, err := logger.AppendCommit(txnID, insertLSN)
	require.NoError(t, err)
	_, err = logger.AppendTxnEnd(txnID, commitLSN)
	require.NoError(t, err)

	require.NoError(t, pool.UnpinPage(pageID, true))
	require.NoError(t, lm.Flush(commitLSN)) // the log is durable...
	// ...but the page itself was never flushed to the data file: this
	// models a crash between commit and the next checkpoint's page flush.
	require.NoError(t, lm.Close())
	require.NoError(t, d.Close())

	// Reopen against the same in-memory filesystem, simulating restart.
	d2, err := disk.Open(fs, "/data.db", "/wal.log", logging.Nop())
	require.NoError(t, err)
	defer d2.Close()

	lm2 := logmanager.New(4096, time.Hour, d2, logging.Nop())
	defer lm2.Close()

	pool2 := bufferpool.New(8, 4, d2, lm2, logging.Nop())

	driver, err := recovery.NewDriver(d2, pool2, logging.Nop(), 4)
	require.NoError(t, err)
	defer driver.Close()

	require.NoError(t, driver.Recover())

	recovered, err := pool2.FetchPage(pageID)
	require.NoError(t, err)
	defer pool2.UnpinPage(pageID, false)

	got, ok := page.ReadTuple(recovered, slot)
	require.True(t, ok)
	require.Equal(t, tuple, got)
}

func TestUndoRollsBackAnUncommittedInsert(t *testing.T) {
	fs := afero.NewMemMapFs()

	d, err := disk.Open(fs, "/data.db", "/wal.log", logging.Nop())
	require.NoError(t, err)

	lm := logmanager.New(4096, 50*time.Millisecond, d, logging.Nop())
	logger := recovery.NewLogger(lm)
	pool := bufferpool.New(8, 4, d, lm, logging.Nop())

	// First, a committed transaction creates the page (so the uncommitted
	// transaction below only has to undo its own insert, not page creation).
	setupTxnID := common.TxnID(6)
	setupBeginLSN, err := logger.AppendBegin(setupTxnID)
	require.NoError(t, err)
	pg, pageID, err := pool.NewPage()
	require.NoError(t, err)
	pg.SetType(page.PageTypeTable)
	page.InitTable(pg)
	newPageLSN, err := logger.AppendNewPage(setupTxnID, setupBeginLSN, pageID, common.InvalidPageID)
	require.NoError(t, err)
	pg.SetLSN(newPageLSN)
	setupCommitLSN, err := logger.AppendCommit(setupTxnID, newPageLSN)
	require.NoError(t, err)
	_, err = logger.AppendTxnEnd(setupTxnID, setupCommitLSN)
	require.NoError(t, err)
	require.NoError(t, pool.UnpinPage(pageID, true))
	require.NoError(t, pool.FlushPage(pageID))

	txnID := common.TxnID(7)
	beginLSN, err := logger.AppendBegin(txnID)
	require.NoError(t, err)

	pg, err = pool.FetchPage(pageID)
	require.NoError(t, err)

	tuple := tupleBlob("never-committed")
	slot, ok := page.InsertTuple(pg, tuple)
	require.True(t, ok)
	rid := common.RecordID{PageID: pageID, Slot: slot}
	insertLSN, err := logger.AppendInsert(txnID, beginLSN, rid, tuple)
	require.NoError(t, err)
	pg.SetLSN(insertLSN)

	require.NoError(t, pool.UnpinPage(pageID, true))
	require.NoError(t, lm.Flush(insertLSN))
	// No commit, no txn-end: the transaction crashes mid-flight.
	require.NoError(t, lm.Close())
	require.NoError(t, d.Close())

	d2, err := disk.Open(fs, "/data.db", "/wal.log", logging.Nop())
	require.NoError(t, err)
	defer d2.Close()
	lm2 := logmanager.New(4096, time.Hour, d2, logging.Nop())
	defer lm2.Close()
	pool2 := bufferpool.New(8, 4, d2, lm2, logging.Nop())

	driver, err := recovery.NewDriver(d2, pool2, logging.Nop(), 4)
	require.NoError(t, err)
	defer driver.Close()

	require.NoError(t, driver.Recover())

	recovered, err := pool2.FetchPage(pageID)
	require.NoError(t, err)
	defer pool2.UnpinPage(pageID, false)

	_, ok = page.ReadTuple(recovered, slot)
	require.False(t, ok, "undo should have tombstoned the never-committed insert")
}
