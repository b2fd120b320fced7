package page

import "encoding/binary"

// Table pages (PageTypeTable) hold tuples in a classic slotted layout: a
// directory of (offset, length) pairs growing forward from the start of the
// body, and tuple bytes packed backward from the end of the body. Recovery
// and the lock manager address tuples purely by slot index (common.RecordID)
// — tuple content itself is an opaque, length-prefix-free byte blob, per the
// "tuple serialize/deserialize" collaborator interface.
//
// Body layout: numSlots (4) | freeOffset (4) | slot directory (8 bytes each:
// tupleOffset uint32 | tupleLen uint32, tupleLen == tombstoneLen means
// deleted) | ... free space ... | tuple bytes, packed from the end.
const (
	tblOffNumSlots   = 0
	tblOffFreeOffset = 4
	tblSlotDirStart  = 8
	tblSlotEntrySize = 8

	tombstoneLen = ^uint32(0)
)

func tableBody(p *Page) []byte { return p.Body(PageTypeTable) }

// InitTable zero-initializes a freshly allocated table page's slotted
// directory. Callers must call this once, right after SetType(PageTypeTable).
func InitTable(p *Page) {
	body := tableBody(p)
	binary.LittleEndian.PutUint32(body[tblOffNumSlots:], 0)
	binary.LittleEndian.PutUint32(body[tblOffFreeOffset:], uint32(len(body)))
}

func numSlots(body []byte) uint32   { return binary.LittleEndian.Uint32(body[tblOffNumSlots:]) }
func freeOffset(body []byte) uint32 { return binary.LittleEndian.Uint32(body[tblOffFreeOffset:]) }

func setNumSlots(body []byte, n uint32)   { binary.LittleEndian.PutUint32(body[tblOffNumSlots:], n) }
func setFreeOffset(body []byte, o uint32) { binary.LittleEndian.PutUint32(body[tblOffFreeOffset:], o) }

func slotEntryOffset(slot uint32) int { return tblSlotDirStart + int(slot)*tblSlotEntrySize }

func slotAt(body []byte, slot uint32) (tupleOffset, tupleLen uint32) {
	off := slotEntryOffset(slot)
	return binary.LittleEndian.Uint32(body[off:]), binary.LittleEndian.Uint32(body[off+4:])
}

func setSlotEntry(body []byte, slot uint32, tupleOffset, tupleLen uint32) {
	off := slotEntryOffset(slot)
	binary.LittleEndian.PutUint32(body[off:], tupleOffset)
	binary.LittleEndian.PutUint32(body[off+4:], tupleLen)
}

// NumSlots reports how many slots the directory has allocated (including
// tombstoned ones — slot indices never get reused within a page).
func NumSlots(p *Page) uint32 {
	return numSlots(tableBody(p))
}

// freeSpace is the room left between the slot directory's end and the tuple
// data's start, available for either a new slot entry or new tuple bytes.
func freeSpace(body []byte, slots uint32) int {
	dirEnd := tblSlotDirStart + int(slots)*tblSlotEntrySize
	return int(freeOffset(body)) - dirEnd
}

// InsertTuple appends a new slot at the end of the directory holding tuple,
// returning the new slot index, or ok=false if the page has no room.
func InsertTuple(p *Page, tuple []byte) (slot uint32, ok bool) {
	body := tableBody(p)
	slots := numSlots(body)
	needed := tblSlotEntrySize + len(tuple)
	if freeSpace(body, slots) < needed {
		return 0, false
	}

	newFree := freeOffset(body) - uint32(len(tuple))
	copy(body[newFree:], tuple)
	setFreeOffset(body, newFree)
	setSlotEntry(body, slots, newFree, uint32(len(tuple)))
	setNumSlots(body, slots+1)
	return slots, true
}

// SetSlotAt forces slot to exist (extending the directory with empty
// tombstoned entries if needed) and writes tuple's bytes into it. Used by
// redo/undo to reproduce an operation at a specific, already-assigned RID.
func SetSlotAt(p *Page, slot uint32, tuple []byte) bool {
	body := tableBody(p)
	slots := numSlots(body)

	for slots <= slot {
		needed := tblSlotEntrySize
		if freeSpace(body, slots) < needed {
			return false
		}
		setSlotEntry(body, slots, freeOffset(body), tombstoneLen)
		slots++
	}
	if slots != numSlots(body) {
		setNumSlots(body, slots)
	}

	if freeSpace(body, slots) < len(tuple) {
		return false
	}
	newFree := freeOffset(body) - uint32(len(tuple))
	copy(body[newFree:], tuple)
	setFreeOffset(body, newFree)
	setSlotEntry(body, slot, newFree, uint32(len(tuple)))
	return true
}

// ReadTuple returns the tuple at slot, or ok=false if the slot is tombstoned
// or doesn't exist.
func ReadTuple(p *Page, slot uint32) (tuple []byte, ok bool) {
	body := tableBody(p)
	if slot >= numSlots(body) {
		return nil, false
	}
	off, length := slotAt(body, slot)
	if length == tombstoneLen {
		return nil, false
	}
	return append([]byte(nil), body[off:off+length]...), true
}

// MarkSlotDeleted tombstones slot without reclaiming its bytes (a MARKDELETE;
// the tuple's bytes stay recoverable from the log record for
// ROLLBACKDELETE/undo).
func MarkSlotDeleted(p *Page, slot uint32) {
	body := tableBody(p)
	off, length := slotAt(body, slot)
	if length == tombstoneLen {
		return
	}
	setSlotEntry(body, slot, off, tombstoneLen)
}
