// Package recovery implements the write-ahead log's record format and the
// ARIES-style redo/undo recovery driver: a forward pass that replays every
// record whose LSN is newer than the affected page's page-LSN, followed by a
// backward pass per transaction still active at crash time that undoes its
// effects by walking its prev-LSN chain.
package recovery

import (
	"encoding/binary"
	"fmt"

	"github.com/blackdeer1524/storage-engine/src/pkg/common"
)

// RecordType tags a log record's payload shape.
type RecordType int32

const (
	RecordInvalid RecordType = iota
	RecordBegin
	RecordCommit
	RecordAbort
	RecordInsert
	RecordMarkDelete
	RecordApplyDelete
	RecordRollbackDelete
	RecordUpdate
	RecordNewPage

	// RecordTxnEnd is a bookkeeping-only marker (not in the original ARIES
	// record set) written once a transaction's undo/commit is fully durable,
	// so recovery's active-transaction table can be retired without
	// rescanning past it on a later restart.
	RecordTxnEnd

	// RecordBeginCheckpoint/RecordEndCheckpoint bracket a checkpoint: a pure
	// log-truncation marker with no payload (no active-transaction set or
	// dirty-page table is recorded), consistent with the specification's
	// non-goal of any richer checkpointing.
	RecordBeginCheckpoint
	RecordEndCheckpoint
)

func (t RecordType) String() string {
	switch t {
	case RecordBegin:
		return "BEGIN"
	case RecordCommit:
		return "COMMIT"
	case RecordAbort:
		return "ABORT"
	case RecordInsert:
		return "INSERT"
	case RecordMarkDelete:
		return "MARKDELETE"
	case RecordApplyDelete:
		return "APPLYDELETE"
	case RecordRollbackDelete:
		return "ROLLBACKDELETE"
	case RecordUpdate:
		return "UPDATE"
	case RecordNewPage:
		return "NEWPAGE"
	case RecordTxnEnd:
		return "TXNEND"
	case RecordBeginCheckpoint:
		return "BEGIN_CHECKPOINT"
	case RecordEndCheckpoint:
		return "END_CHECKPOINT"
	default:
		return "INVALID"
	}
}

// HeaderSize is the fixed 20-byte header: size | LSN | txn-id | prev-LSN |
// type, each a little-endian int32.
const HeaderSize = 20

const (
	hdrOffSize    = 0
	hdrOffLSN     = 4
	hdrOffTxnID   = 8
	hdrOffPrevLSN = 12
	hdrOffType    = 16
)

// Record is a decoded log record: the fixed header plus whichever payload
// fields its type uses.
type Record struct {
	Size    int32
	LSN     common.LSN
	TxnID   common.TxnID
	PrevLSN common.LSN
	Type    RecordType

	RID         common.RecordID // INSERT/MARKDELETE/APPLYDELETE/ROLLBACKDELETE/UPDATE
	TupleBefore []byte          // MARKDELETE/APPLYDELETE/ROLLBACKDELETE/UPDATE
	TupleAfter  []byte          // INSERT/UPDATE
	PrevPageID  common.PageID   // NEWPAGE
}

func encodeHeader(dst []byte, size int32, lsn common.LSN, txnID common.TxnID, prevLSN common.LSN, typ RecordType) {
	binary.LittleEndian.PutUint32(dst[hdrOffSize:], uint32(size))
	binary.LittleEndian.PutUint32(dst[hdrOffLSN:], uint32(int32(lsn)))
	binary.LittleEndian.PutUint32(dst[hdrOffTxnID:], uint32(int32(txnID)))
	binary.LittleEndian.PutUint32(dst[hdrOffPrevLSN:], uint32(int32(prevLSN)))
	binary.LittleEndian.PutUint32(dst[hdrOffType:], uint32(typ))
}

// PeekSize reads just the leading size field out of a record's header, the
// first `HeaderSize` bytes read off disk — enough to know how many more
// bytes to read before the rest of the header can be decoded.
func PeekSize(hdr []byte) int32 {
	return int32(binary.LittleEndian.Uint32(hdr[hdrOffSize:]))
}

func decodeHeader(src []byte) (size int32, lsn common.LSN, txnID common.TxnID, prevLSN common.LSN, typ RecordType) {
	size = int32(binary.LittleEndian.Uint32(src[hdrOffSize:]))
	lsn = common.LSN(int32(binary.LittleEndian.Uint32(src[hdrOffLSN:])))
	txnID = common.TxnID(int32(binary.LittleEndian.Uint32(src[hdrOffTxnID:])))
	prevLSN = common.LSN(int32(binary.LittleEndian.Uint32(src[hdrOffPrevLSN:])))
	typ = RecordType(binary.LittleEndian.Uint32(src[hdrOffType:]))
	return
}

func encodeRID(dst []byte, rid common.RecordID) {
	binary.LittleEndian.PutUint32(dst[0:], uint32(rid.PageID))
	binary.LittleEndian.PutUint32(dst[4:], rid.Slot)
}

func decodeRID(src []byte) common.RecordID {
	return common.RecordID{
		PageID: common.PageID(binary.LittleEndian.Uint32(src[0:])),
		Slot:   binary.LittleEndian.Uint32(src[4:]),
	}
}

// payloadSize is the on-wire payload size per type, excluding the 20-byte
// header, mirroring the payload table in the specification's external
// interfaces section.
func payloadSize(typ RecordType, rid common.RecordID, before, after []byte) int {
	switch typ {
	case RecordBegin, RecordCommit, RecordAbort, RecordTxnEnd, RecordBeginCheckpoint, RecordEndCheckpoint:
		return 0
	case RecordInsert:
		return 8 + len(after)
	case RecordMarkDelete, RecordApplyDelete, RecordRollbackDelete:
		return 8 + len(before)
	case RecordUpdate:
		return 8 + len(before) + len(after)
	case RecordNewPage:
		return 12 // RID of the new page (id, slot=0) + prev-page-id
	default:
		panic(fmt.Sprintf("recovery: unknown record type %v", typ))
	}
}

// encodeBody writes a record's type-specific payload (after the 20-byte
// header) into dst, which must be exactly payloadSize(...) bytes.
func encodeBody(dst []byte, typ RecordType, rid common.RecordID, prevPageID common.PageID, before, after []byte) {
	switch typ {
	case RecordBegin, RecordCommit, RecordAbort, RecordTxnEnd, RecordBeginCheckpoint, RecordEndCheckpoint:
	case RecordInsert:
		encodeRID(dst, rid)
		copy(dst[8:], after)
	case RecordMarkDelete, RecordApplyDelete, RecordRollbackDelete:
		encodeRID(dst, rid)
		copy(dst[8:], before)
	case RecordUpdate:
		encodeRID(dst, rid)
		copy(dst[8:8+len(before)], before)
		copy(dst[8+len(before):], after)
	case RecordNewPage:
		encodeRID(dst, rid)
		binary.LittleEndian.PutUint32(dst[8:], uint32(prevPageID))
	}
}

// TupleBlobLen reads a length-prefixed tuple blob's total on-wire length (the
// 4-byte prefix plus its payload), the split point UPDATE's decoder uses to
// separate the old tuple from the new one in a single concatenated payload.
func TupleBlobLen(b []byte) int {
	return 4 + int(binary.LittleEndian.Uint32(b[0:4]))
}

// Decode parses a full record (header + payload) out of raw. before/after
// lengths for UPDATE are recovered via tupleLen, the tuple serializer's
// length hook (tuples are length-prefixed blobs per the collaborator
// interface the index/table layer exposes).
func Decode(raw []byte, tupleLen func(b []byte) int) (Record, error) {
	if len(raw) < HeaderSize {
		return Record{}, fmt.Errorf("recovery: record shorter than header (%d bytes)", len(raw))
	}
	size, lsn, txnID, prevLSN, typ := decodeHeader(raw)
	r := Record{Size: size, LSN: lsn, TxnID: txnID, PrevLSN: prevLSN, Type: typ}

	body := raw[HeaderSize:]
	switch typ {
	case RecordBegin, RecordCommit, RecordAbort, RecordTxnEnd, RecordBeginCheckpoint, RecordEndCheckpoint:
	case RecordInsert:
		r.RID = decodeRID(body)
		r.TupleAfter = append([]byte(nil), body[8:]...)
	case RecordMarkDelete, RecordApplyDelete, RecordRollbackDelete:
		r.RID = decodeRID(body)
		r.TupleBefore = append([]byte(nil), body[8:]...)
	case RecordUpdate:
		r.RID = decodeRID(body)
		rest := body[8:]
		beforeLen := tupleLen(rest)
		r.TupleBefore = append([]byte(nil), rest[:beforeLen]...)
		r.TupleAfter = append([]byte(nil), rest[beforeLen:]...)
	case RecordNewPage:
		r.RID = decodeRID(body)
		r.PrevPageID = common.PageID(binary.LittleEndian.Uint32(body[8:]))
	default:
		return Record{}, fmt.Errorf("recovery: unknown record type %d", typ)
	}
	return r, nil
}
