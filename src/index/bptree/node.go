package bptree

import (
	"encoding/binary"

	"github.com/blackdeer1524/storage-engine/src/pkg/common"
	"github.com/blackdeer1524/storage-engine/src/storage/page"
)

// Internal page entries are (key, childPageID) pairs; entry 0's key is never
// compared against (it has no left sibling to separate from) — only its
// child matters, the leftmost subtree. Leaf page entries are (key, value)
// pairs in sorted order.

func internalEntrySize(keySize int) int { return keySize + 4 }
func leafEntrySize(keySize, valSize int) int { return keySize + valSize }

func initNode(pg *page.Page, typ page.PageType, pageID common.PageID, maxSize int) {
	pg.Reset()
	pg.SetType(typ)
	pg.SetSize(0)
	pg.SetMaxSize(maxSize)
	pg.SetPageID(pageID)
	pg.SetParentPageID(common.InvalidPageID)
	if typ == page.PageTypeLeaf {
		pg.SetNextPageID(common.InvalidPageID)
	}
}

func internalChildAt(pg *page.Page, i, keySize int) common.PageID {
	body := pg.Body(page.PageTypeInternal)
	off := i*internalEntrySize(keySize) + keySize
	return common.PageID(binary.LittleEndian.Uint32(body[off:]))
}

func internalSetChildAt(pg *page.Page, i, keySize int, child common.PageID) {
	body := pg.Body(page.PageTypeInternal)
	off := i*internalEntrySize(keySize) + keySize
	binary.LittleEndian.PutUint32(body[off:], uint32(child))
}

func internalKeyBytes(pg *page.Page, i, keySize int) []byte {
	body := pg.Body(page.PageTypeInternal)
	off := i * internalEntrySize(keySize)
	return body[off : off+keySize]
}

func leafKeyBytes(pg *page.Page, i, keySize, valSize int) []byte {
	body := pg.Body(page.PageTypeLeaf)
	off := i * leafEntrySize(keySize, valSize)
	return body[off : off+keySize]
}

func leafValueBytes(pg *page.Page, i, keySize, valSize int) []byte {
	body := pg.Body(page.PageTypeLeaf)
	off := i*leafEntrySize(keySize, valSize) + keySize
	return body[off : off+valSize]
}

// shiftInternalRight opens a gap at index i by sliding [i, size) one slot
// right; the caller then writes the new entry into slot i.
func shiftInternalRight(pg *page.Page, i, size, keySize int) {
	body := pg.Body(page.PageTypeInternal)
	es := internalEntrySize(keySize)
	copy(body[(i+1)*es:(size+1)*es], body[i*es:size*es])
}

func shiftInternalLeft(pg *page.Page, i, size, keySize int) {
	body := pg.Body(page.PageTypeInternal)
	es := internalEntrySize(keySize)
	copy(body[i*es:(size-1)*es], body[(i+1)*es:size*es])
}

func shiftLeafRight(pg *page.Page, i, size, keySize, valSize int) {
	body := pg.Body(page.PageTypeLeaf)
	es := leafEntrySize(keySize, valSize)
	copy(body[(i+1)*es:(size+1)*es], body[i*es:size*es])
}

func shiftLeafLeft(pg *page.Page, i, size, keySize, valSize int) {
	body := pg.Body(page.PageTypeLeaf)
	es := leafEntrySize(keySize, valSize)
	copy(body[i*es:(size-1)*es], body[(i+1)*es:size*es])
}
