// Package common holds the identifiers and small value types shared by every
// storage-engine package: page/transaction/record identifiers, log sequence
// numbers, and the comparator/serialization capabilities the B+ tree is
// generic over.
package common

import "fmt"

// PageID identifies a page within the single data file. Page ids are dense
// and monotonically allocated by the disk manager.
type PageID uint64

// InvalidPageID marks "no page" (an empty tree, a leaf with no next page).
const InvalidPageID PageID = ^PageID(0)

func (p PageID) String() string {
	if p == InvalidPageID {
		return "PageID(invalid)"
	}
	return fmt.Sprintf("PageID(%d)", uint64(p))
}

// TxnID identifies a transaction. Wait-die compares transaction ids directly:
// a smaller id is "older".
type TxnID int64

// NilTxnID is used where no transaction context applies (e.g. recovery
// replaying committed effects with logging disabled).
const NilTxnID TxnID = -1

func (t TxnID) String() string {
	return fmt.Sprintf("TxnID(%d)", int64(t))
}

// RecordID names a tuple: the page holding it plus its slot within that page.
type RecordID struct {
	PageID PageID
	Slot   uint32
}

func (r RecordID) String() string {
	return fmt.Sprintf("RID(%s, slot=%d)", r.PageID, r.Slot)
}

// LSN is a log sequence number. LSNs are totally ordered and strictly
// increasing in assignment order.
type LSN int64

// InvalidLSN marks "no record" (a transaction's initial prev-LSN).
const InvalidLSN LSN = -1

// FileLocation is a byte offset into the log file, used to resolve an LSN to
// the bytes of the record that produced it.
type FileLocation struct {
	Offset int64
}

// KeyCodec is the comparator + fixed-size-binary-serialization capability the
// B+ tree is generic over (spec's "templated key/value types" note, modeled
// as an injected capability object rather than a subclass hierarchy).
type KeyCodec[K any] interface {
	Compare(a, b K) int
	Size() int
	Encode(v K, dst []byte)
	Decode(src []byte) K
}

// ValueCodec is the fixed-size-binary-serialization capability for B+ tree
// values (record ids, in this engine).
type ValueCodec[V any] interface {
	Size() int
	Encode(v V, dst []byte)
	Decode(src []byte) V
}
