package common

import "encoding/binary"

// Int64Codec is the KeyCodec for a signed 64-bit integer index key, the
// common case for a primary-key or surrogate-id index.
type Int64Codec struct{}

func (Int64Codec) Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (Int64Codec) Size() int { return 8 }

func (Int64Codec) Encode(v int64, dst []byte) {
	binary.LittleEndian.PutUint64(dst, uint64(v))
}

func (Int64Codec) Decode(src []byte) int64 {
	return int64(binary.LittleEndian.Uint64(src))
}

// RecordIDCodec is the ValueCodec for indexes whose values are tuple
// locations: an index's leaves map key -> RecordID.
type RecordIDCodec struct{}

func (RecordIDCodec) Size() int { return 12 } // PageID(8) + Slot(4)

func (RecordIDCodec) Encode(v RecordID, dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], uint64(v.PageID))
	binary.LittleEndian.PutUint32(dst[8:12], v.Slot)
}

func (RecordIDCodec) Decode(src []byte) RecordID {
	return RecordID{
		PageID: PageID(binary.LittleEndian.Uint64(src[0:8])),
		Slot:   binary.LittleEndian.Uint32(src[8:12]),
	}
}

var (
	_ KeyCodec[int64]     = Int64Codec{}
	_ ValueCodec[RecordID] = RecordIDCodec{}
)
