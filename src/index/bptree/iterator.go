package bptree

import (
	"github.com/blackdeer1524/storage-engine/src/pkg/common"
	"github.com/blackdeer1524/storage-engine/src/storage/page"
)

// Iter walks leaves in key order, holding a read-latch and a pin on exactly
// one leaf page at a time, following next-leaf pointers as it advances off
// the end of each one.
type Iter[K any, V any] struct {
	tree   *BPlusTree[K, V]
	pg     *page.Page
	pageID common.PageID
	idx    int
}

// Begin positions an iterator at the first (key, value) pair in the tree.
func (t *BPlusTree[K, V]) Begin() (*Iter[K, V], error) {
	pageID := t.RootPageID()
	pg, err := t.pool.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	pg.RLock()
	for pg.Type() == page.PageTypeInternal {
		childID := internalChildAt(pg, 0, t.keySize)
		child, err := t.pool.FetchPage(childID)
		if err != nil {
			pg.RUnlock()
			_ = t.pool.UnpinPage(pageID, false)
			return nil, err
		}
		child.RLock()
		pg.RUnlock()
		_ = t.pool.UnpinPage(pageID, false)
		pg, pageID = child, childID
	}
	return &Iter[K, V]{tree: t, pg: pg, pageID: pageID, idx: 0}, nil
}

// BeginAt positions an iterator at the first key >= target.
func (t *BPlusTree[K, V]) BeginAt(target K) (*Iter[K, V], error) {
	pageID := t.RootPageID()
	pg, err := t.pool.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	pg.RLock()
	for pg.Type() == page.PageTypeInternal {
		childIdx := t.internalLookup(pg, target)
		childID := internalChildAt(pg, childIdx, t.keySize)
		child, err := t.pool.FetchPage(childID)
		if err != nil {
			pg.RUnlock()
			_ = t.pool.UnpinPage(pageID, false)
			return nil, err
		}
		child.RLock()
		pg.RUnlock()
		_ = t.pool.UnpinPage(pageID, false)
		pg, pageID = child, childID
	}
	idx, _ := t.leafKeyIndex(pg, target)
	it := &Iter[K, V]{tree: t, pg: pg, pageID: pageID, idx: idx}
	if idx >= pg.Size() && pg.Size() > 0 && pg.NextPageID() != common.InvalidPageID {
		// Every key in this leaf is < target: the first key >= target, if
		// any, is at the start of the next leaf.
		it.idx = pg.Size() - 1
		if err := it.Next(); err != nil {
			return nil, err
		}
	}
	return it, nil
}

// IsEnd reports whether the iterator has advanced past the last entry. A
// root leaf can be empty (every key removed, since Remove never collapses
// the root leaf itself), so a held page with no entries left under idx also
// counts as the end, not just a nil page.
func (it *Iter[K, V]) IsEnd() bool {
	return it.pg == nil || it.idx >= it.pg.Size()
}

// Key and Value read the entry the iterator currently points at. Calling
// either after IsEnd is a caller error.
func (it *Iter[K, V]) Key() K {
	return it.tree.keyCodec.Decode(leafKeyBytes(it.pg, it.idx, it.tree.keySize, it.tree.valSize))
}

func (it *Iter[K, V]) Value() V {
	return it.tree.valCodec.Decode(leafValueBytes(it.pg, it.idx, it.tree.keySize, it.tree.valSize))
}

// Next advances to the following entry, crossing into the next leaf (and
// unlatching/unpinning the current one) when the current leaf is exhausted.
func (it *Iter[K, V]) Next() error {
	it.idx++
	if it.idx < it.pg.Size() {
		return nil
	}

	nextID := it.pg.NextPageID()
	it.pg.RUnlock()
	if err := it.tree.pool.UnpinPage(it.pageID, false); err != nil {
		return err
	}
	if nextID == common.InvalidPageID {
		it.pg = nil
		it.pageID = common.InvalidPageID
		it.idx = 0
		return nil
	}

	next, err := it.tree.pool.FetchPage(nextID)
	if err != nil {
		it.pg = nil
		return err
	}
	next.RLock()
	it.pg = next
	it.pageID = nextID
	it.idx = 0
	return nil
}

// Close releases the currently held leaf, if any. Callers that iterate to
// completion (IsEnd() == true) never need to call it, since Next already
// releases the final leaf.
func (it *Iter[K, V]) Close() error {
	if it.pg == nil {
		return nil
	}
	it.pg.RUnlock()
	err := it.tree.pool.UnpinPage(it.pageID, false)
	it.pg = nil
	return err
}
