// Package page defines the fixed 4 KiB on-disk page format shared by every
// index page and the table heap: a common header (page type tag, LSN, size,
// max-size, parent, and — for leaves — next-page), followed by a packed
// array of fixed-width (key, value) pairs.
//
// Dispatch on page content is done by the PageType tag read out of the
// header, not by Go interface polymorphism over page "subclasses" — the
// header offsets below are spec-fixed, so a page is only ever one concrete
// byte layout wearing different accessor views.
package page

import (
	"encoding/binary"
	"sync"

	"github.com/blackdeer1524/storage-engine/src/pkg/common"
)

// Size is the fixed page size. Every page read from or written to disk is
// exactly this many bytes.
const Size = 4096

// PageType tags what a page's body holds.
type PageType uint32

const (
	PageTypeInvalid PageType = iota
	PageTypeHeader
	PageTypeInternal
	PageTypeLeaf
	PageTypeTable
)

// Header byte offsets, fixed by the wire format: page-type(4) | LSN(4) |
// size(4) | max-size(4) | parent-page-id(4) | page-id(4) | (leaf only)
// next-page-id(4).
const (
	offType       = 0
	offLSN        = 4
	offSize       = 8
	offMaxSize    = 12
	offParentID   = 16
	offPageID     = 20
	offNextID     = 24 // leaf pages only
	headerSizeInternal = 24
	headerSizeLeaf     = 28
)

// Page is one fixed-size frame of page-sized bytes plus the reader-writer
// latch callers crab down the tree with. A Page is never evicted while any
// goroutine holds its latch — callers are responsible for unlatching before
// unpinning.
type Page struct {
	data  [Size]byte
	latch sync.RWMutex
}

func (p *Page) Lock()    { p.latch.Lock() }
func (p *Page) Unlock()  { p.latch.Unlock() }
func (p *Page) RLock()   { p.latch.RLock() }
func (p *Page) RUnlock() { p.latch.RUnlock() }

// TryLock reports whether the write latch was acquired without blocking,
// used by diagnostics that verify every page is unlatched at quiescence.
func (p *Page) TryLock() bool { return p.latch.TryLock() }

// Data exposes the raw backing array, e.g. for the disk manager to read/write
// whole pages. Callers must hold the latch in the appropriate mode.
func (p *Page) Data() []byte { return p.data[:] }

func (p *Page) SetData(d []byte) {
	copy(p.data[:], d)
}

// Reset zero-fills the page, used when handing a frame a freshly allocated
// page identity.
func (p *Page) Reset() {
	for i := range p.data {
		p.data[i] = 0
	}
}

func (p *Page) Type() PageType {
	return PageType(binary.LittleEndian.Uint32(p.data[offType:]))
}

func (p *Page) SetType(t PageType) {
	binary.LittleEndian.PutUint32(p.data[offType:], uint32(t))
}

func (p *Page) LSN() common.LSN {
	return common.LSN(int32(binary.LittleEndian.Uint32(p.data[offLSN:])))
}

func (p *Page) SetLSN(lsn common.LSN) {
	binary.LittleEndian.PutUint32(p.data[offLSN:], uint32(int32(lsn)))
}

func (p *Page) Size() int {
	return int(int32(binary.LittleEndian.Uint32(p.data[offSize:])))
}

func (p *Page) SetSize(n int) {
	binary.LittleEndian.PutUint32(p.data[offSize:], uint32(int32(n)))
}

func (p *Page) MaxSize() int {
	return int(int32(binary.LittleEndian.Uint32(p.data[offMaxSize:])))
}

func (p *Page) SetMaxSize(n int) {
	binary.LittleEndian.PutUint32(p.data[offMaxSize:], uint32(int32(n)))
}

func (p *Page) ParentPageID() common.PageID {
	return common.PageID(binary.LittleEndian.Uint32(p.data[offParentID:]))
}

func (p *Page) SetParentPageID(id common.PageID) {
	binary.LittleEndian.PutUint32(p.data[offParentID:], uint32(id))
}

func (p *Page) PageID() common.PageID {
	return common.PageID(binary.LittleEndian.Uint32(p.data[offPageID:]))
}

func (p *Page) SetPageID(id common.PageID) {
	binary.LittleEndian.PutUint32(p.data[offPageID:], uint32(id))
}

// NextPageID is only meaningful on leaf pages: the next leaf in key order, or
// common.InvalidPageID for the last leaf.
func (p *Page) NextPageID() common.PageID {
	id := binary.LittleEndian.Uint32(p.data[offNextID:])
	if id == ^uint32(0) {
		return common.InvalidPageID
	}
	return common.PageID(id)
}

func (p *Page) SetNextPageID(id common.PageID) {
	binary.LittleEndian.PutUint32(p.data[offNextID:], uint32(id))
}

// HeaderSize returns the byte offset where the packed entry array begins, for
// the given page type.
func HeaderSize(t PageType) int {
	if t == PageTypeLeaf {
		return headerSizeLeaf
	}
	return headerSizeInternal
}

// Body returns the packed-entry-array region of the page, after the header.
func (p *Page) Body(t PageType) []byte {
	return p.data[HeaderSize(t):]
}

func New() *Page {
	return &Page{}
}
