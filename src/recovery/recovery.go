package recovery

import (
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/blackdeer1524/storage-engine/src/bufferpool"
	"github.com/blackdeer1524/storage-engine/src/pkg/common"
	"github.com/blackdeer1524/storage-engine/src/pkg/logging"
	"github.com/blackdeer1524/storage-engine/src/storage/page"
)

// LogReader is the disk-side dependency recovery scans: sequential access to
// every byte ever appended to the log file. storage/disk.Manager satisfies
// this.
type LogReader interface {
	ReadLog(loc common.FileLocation, dst []byte) error
	LogSize() int64
}

// Driver replays the log against a buffer pool after a crash: Recover()'s
// redo pass brings every page up to date with everything the log says
// happened to it, and its undo pass then rolls back every transaction that
// was still active (no COMMIT, ABORT or TXNEND record) when the crash
// occurred.
type Driver struct {
	log    LogReader
	pool   *bufferpool.Manager
	logger logging.Logger
	fanout *ants.Pool

	lsnOffset map[common.LSN]common.FileLocation
	active    map[common.TxnID]common.LSN
}

// NewDriver builds a recovery driver. fanoutSize bounds how many per-
// transaction undo chains run concurrently during the undo pass.
func NewDriver(log LogReader, pool *bufferpool.Manager, logger logging.Logger, fanoutSize int) (*Driver, error) {
	p, err := ants.NewPool(fanoutSize)
	if err != nil {
		return nil, fmt.Errorf("building recovery fan-out pool: %w", err)
	}
	return &Driver{
		log:       log,
		pool:      pool,
		logger:    logger,
		fanout:    p,
		lsnOffset: make(map[common.LSN]common.FileLocation),
		active:    make(map[common.TxnID]common.LSN),
	}, nil
}

func (d *Driver) Close() {
	d.fanout.Release()
}

// Recover runs the full ARIES sequence: a forward redo pass over the whole
// log, rebuilding the active-transaction table and the LSN→offset index as
// it goes, followed by a backward undo pass per transaction still active at
// the end of the scan.
func (d *Driver) Recover() error {
	if err := d.redoPass(); err != nil {
		return fmt.Errorf("redo pass: %w", err)
	}
	if err := d.undoPass(); err != nil {
		return fmt.Errorf("undo pass: %w", err)
	}
	return nil
}

func (d *Driver) readRecordAt(offset int64) (Record, int64, error) {
	hdr := make([]byte, HeaderSize)
	if err := d.log.ReadLog(common.FileLocation{Offset: offset}, hdr); err != nil {
		return Record{}, 0, err
	}
	size, _, _, _, _ := decodeHeader(hdr)

	full := make([]byte, size)
	if err := d.log.ReadLog(common.FileLocation{Offset: offset}, full); err != nil {
		return Record{}, 0, err
	}
	rec, err := Decode(full, TupleBlobLen)
	if err != nil {
		return Record{}, 0, err
	}
	return rec, int64(size), nil
}

// redoPass scans the whole log once, forward, tracking every transaction's
// most recent LSN (the active-transaction table) and every LSN's byte offset
// (so undo's backward walk doesn't have to rescan), applying redo as it goes.
func (d *Driver) redoPass() error {
	logSize := d.log.LogSize()
	offset := int64(0)

	for offset < logSize {
		rec, size, err := d.readRecordAt(offset)
		if err != nil {
			return fmt.Errorf("reading record at offset %d: %w", offset, err)
		}
		d.lsnOffset[rec.LSN] = common.FileLocation{Offset: offset}

		switch rec.Type {
		case RecordCommit, RecordAbort, RecordTxnEnd:
			// A transaction leaves the active set the moment it commits or
			// aborts, per the redo pass's contract; TXNEND is a redundant
			// delete kept only so a later checkpoint scan can tell a fully
			// finalized transaction apart from one merely past COMMIT.
			delete(d.active, rec.TxnID)
		case RecordBeginCheckpoint, RecordEndCheckpoint:
			// pure truncation markers; nothing to redo or track.
		default:
			d.active[rec.TxnID] = rec.LSN
			if err := d.applyRedo(rec); err != nil {
				return fmt.Errorf("redoing %s at LSN %d: %w", rec.Type, rec.LSN, err)
			}
		}

		offset += size
	}
	return nil
}

// applyRedo brings the record's target page's LSN up to rec.LSN if it's
// currently behind, the spec's redo condition exactly: "applies redo to
// pages whose page-LSN is below the record LSN."
func (d *Driver) applyRedo(rec Record) error {
	pageID := targetPageID(rec)
	if pageID == common.InvalidPageID {
		return nil
	}

	pg, err := d.pool.FetchPage(pageID)
	if err != nil {
		return err
	}

	pg.Lock()
	skip := pg.LSN() >= rec.LSN
	var applyErr error
	if !skip {
		if applyErr = applyForward(pg, rec); applyErr == nil {
			pg.SetLSN(rec.LSN)
		}
	}
	pg.Unlock()

	if err := d.pool.UnpinPage(pageID, applyErr == nil && !skip); err != nil {
		return err
	}
	return applyErr
}

// targetPageID is the page a record's redo/undo applies to: the RID's page
// for tuple operations, the new page itself for NEWPAGE.
func targetPageID(rec Record) common.PageID {
	switch rec.Type {
	case RecordInsert, RecordMarkDelete, RecordApplyDelete, RecordRollbackDelete, RecordUpdate:
		return rec.RID.PageID
	case RecordNewPage:
		return rec.RID.PageID
	default:
		return common.InvalidPageID
	}
}

func applyForward(pg *page.Page, rec Record) error {
	switch rec.Type {
	case RecordInsert:
		if !page.SetSlotAt(pg, rec.RID.Slot, rec.TupleAfter) {
			return fmt.Errorf("no room to redo insert at slot %d", rec.RID.Slot)
		}
	case RecordMarkDelete, RecordApplyDelete:
		page.MarkSlotDeleted(pg, rec.RID.Slot)
	case RecordRollbackDelete:
		if !page.SetSlotAt(pg, rec.RID.Slot, rec.TupleBefore) {
			return fmt.Errorf("no room to redo rollback-delete at slot %d", rec.RID.Slot)
		}
	case RecordUpdate:
		if !page.SetSlotAt(pg, rec.RID.Slot, rec.TupleAfter) {
			return fmt.Errorf("no room to redo update at slot %d", rec.RID.Slot)
		}
	case RecordNewPage:
		pg.SetType(page.PageTypeTable)
		page.InitTable(pg)
	}
	return nil
}

// undoPass walks every transaction left with no COMMIT, ABORT or TXNEND
// record backward along its prev-LSN chain, applying the compensating action
// for each record.
// Independent transactions' chains are disjoint and are undone concurrently
// through the fan-out pool.
func (d *Driver) undoPass() error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for txnID, lastLSN := range d.active {
		txnID, lastLSN := txnID, lastLSN
		wg.Add(1)
		err := d.fanout.Submit(func() {
			defer wg.Done()
			if err := d.undoChain(txnID, lastLSN); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("undoing txn %s: %w", txnID, err)
				}
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			return fmt.Errorf("scheduling undo for txn %s: %w", txnID, err)
		}
	}

	wg.Wait()
	return firstErr
}

func (d *Driver) undoChain(txnID common.TxnID, lastLSN common.LSN) error {
	lsn := lastLSN
	for lsn != common.InvalidLSN {
		loc, ok := d.lsnOffset[lsn]
		if !ok {
			return fmt.Errorf("no offset recorded for LSN %d", lsn)
		}
		rec, _, err := d.readRecordAt(loc.Offset)
		if err != nil {
			return fmt.Errorf("reading record at LSN %d: %w", lsn, err)
		}

		if err := d.applyUndo(rec); err != nil {
			return fmt.Errorf("undoing record at LSN %d: %w", lsn, err)
		}
		lsn = rec.PrevLSN
	}
	return nil
}

// applyUndo applies the compensating action for one record: INSERT is
// undone by deleting, MARKDELETE is undone by rolling the delete back,
// UPDATE is undone by writing the old tuple back, NEWPAGE is undone by
// deallocating the page it created.
func (d *Driver) applyUndo(rec Record) error {
	switch rec.Type {
	case RecordBegin, RecordCommit, RecordAbort, RecordTxnEnd:
		return nil
	case RecordNewPage:
		return d.pool.DeletePage(rec.RID.PageID)
	}

	pageID := targetPageID(rec)
	pg, err := d.pool.FetchPage(pageID)
	if err != nil {
		return err
	}

	pg.Lock()
	if pg.LSN() < rec.LSN {
		// The forward effect never made it to disk, so there's nothing on
		// the page to undo — skip straight to the prev-LSN link.
		pg.Unlock()
		return d.pool.UnpinPage(pageID, false)
	}

	var applyErr error
	switch rec.Type {
	case RecordInsert:
		page.MarkSlotDeleted(pg, rec.RID.Slot)
	case RecordMarkDelete:
		if !page.SetSlotAt(pg, rec.RID.Slot, rec.TupleBefore) {
			applyErr = fmt.Errorf("no room to undo mark-delete at slot %d", rec.RID.Slot)
		}
	case RecordApplyDelete:
		if !page.SetSlotAt(pg, rec.RID.Slot, rec.TupleBefore) {
			applyErr = fmt.Errorf("no room to undo apply-delete at slot %d", rec.RID.Slot)
		}
	case RecordRollbackDelete:
		page.MarkSlotDeleted(pg, rec.RID.Slot)
	case RecordUpdate:
		if !page.SetSlotAt(pg, rec.RID.Slot, rec.TupleBefore) {
			applyErr = fmt.Errorf("no room to undo update at slot %d", rec.RID.Slot)
		}
	}
	pg.Unlock()

	if err := d.pool.UnpinPage(pageID, applyErr == nil); err != nil {
		return err
	}
	return applyErr
}
