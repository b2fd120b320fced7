package recovery

import (
	"github.com/blackdeer1524/storage-engine/src/pkg/common"
	"github.com/blackdeer1524/storage-engine/src/logmanager"
)

// LogWriter is the log manager's append capability, as this package needs it.
type LogWriter interface {
	AppendRecord(size int, encode func(lsn common.LSN, dst []byte)) (common.LSN, error)
}

var _ LogWriter = (*logmanager.Manager)(nil)

// Logger appends well-formed log records on a transaction's behalf, wrapping
// a bare LogWriter with the header/payload encoding this package owns so
// callers (the B+ tree, the table heap) never touch record bytes directly.
type Logger struct {
	lm LogWriter
}

func NewLogger(lm LogWriter) *Logger {
	return &Logger{lm: lm}
}

func (l *Logger) append(txnID common.TxnID, prevLSN common.LSN, typ RecordType, rid common.RecordID, prevPageID common.PageID, before, after []byte) (common.LSN, error) {
	body := payloadSize(typ, rid, before, after)
	total := HeaderSize + body
	return l.lm.AppendRecord(total, func(lsn common.LSN, dst []byte) {
		encodeHeader(dst, int32(total), lsn, txnID, prevLSN, typ)
		encodeBody(dst[HeaderSize:], typ, rid, prevPageID, before, after)
	})
}

func (l *Logger) AppendBegin(txnID common.TxnID) (common.LSN, error) {
	return l.append(txnID, common.InvalidLSN, RecordBegin, common.RecordID{}, common.InvalidPageID, nil, nil)
}

func (l *Logger) AppendCommit(txnID common.TxnID, prevLSN common.LSN) (common.LSN, error) {
	return l.append(txnID, prevLSN, RecordCommit, common.RecordID{}, common.InvalidPageID, nil, nil)
}

func (l *Logger) AppendAbort(txnID common.TxnID, prevLSN common.LSN) (common.LSN, error) {
	return l.append(txnID, prevLSN, RecordAbort, common.RecordID{}, common.InvalidPageID, nil, nil)
}

func (l *Logger) AppendTxnEnd(txnID common.TxnID, prevLSN common.LSN) (common.LSN, error) {
	return l.append(txnID, prevLSN, RecordTxnEnd, common.RecordID{}, common.InvalidPageID, nil, nil)
}

func (l *Logger) AppendInsert(txnID common.TxnID, prevLSN common.LSN, rid common.RecordID, tuple []byte) (common.LSN, error) {
	return l.append(txnID, prevLSN, RecordInsert, rid, common.InvalidPageID, nil, tuple)
}

func (l *Logger) AppendMarkDelete(txnID common.TxnID, prevLSN common.LSN, rid common.RecordID, tuple []byte) (common.LSN, error) {
	return l.append(txnID, prevLSN, RecordMarkDelete, rid, common.InvalidPageID, tuple, nil)
}

func (l *Logger) AppendApplyDelete(txnID common.TxnID, prevLSN common.LSN, rid common.RecordID, tuple []byte) (common.LSN, error) {
	return l.append(txnID, prevLSN, RecordApplyDelete, rid, common.InvalidPageID, tuple, nil)
}

func (l *Logger) AppendRollbackDelete(txnID common.TxnID, prevLSN common.LSN, rid common.RecordID, tuple []byte) (common.LSN, error) {
	return l.append(txnID, prevLSN, RecordRollbackDelete, rid, common.InvalidPageID, tuple, nil)
}

func (l *Logger) AppendUpdate(txnID common.TxnID, prevLSN common.LSN, rid common.RecordID, before, after []byte) (common.LSN, error) {
	return l.append(txnID, prevLSN, RecordUpdate, rid, common.InvalidPageID, before, after)
}

func (l *Logger) AppendNewPage(txnID common.TxnID, prevLSN common.LSN, newPageID, prevPageID common.PageID) (common.LSN, error) {
	return l.append(txnID, prevLSN, RecordNewPage, common.RecordID{PageID: newPageID}, prevPageID, nil, nil)
}

// AppendBeginCheckpoint writes a pure truncation marker: the specification
// excludes fuzzy/incremental checkpointing, so no dirty-page or
// active-transaction snapshot is serialized into the payload.
func (l *Logger) AppendBeginCheckpoint() (common.LSN, error) {
	return l.append(common.NilTxnID, common.InvalidLSN, RecordBeginCheckpoint, common.RecordID{}, common.InvalidPageID, nil, nil)
}

func (l *Logger) AppendEndCheckpoint() (common.LSN, error) {
	return l.append(common.NilTxnID, common.InvalidLSN, RecordEndCheckpoint, common.RecordID{}, common.InvalidPageID, nil, nil)
}
