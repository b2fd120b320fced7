// Package bptree is a latch-coupled, concurrent B+ tree index over
// fixed-size pages: readers crab read-latches down the tree releasing the
// parent once the child is latched, writers crab write-latches and release
// every ancestor the moment a descendant is proven "safe" (a write to it
// cannot propagate a split or merge past it).
package bptree

import (
	"fmt"
	"sync"

	"github.com/blackdeer1524/storage-engine/src/bufferpool"
	"github.com/blackdeer1524/storage-engine/src/pkg/assert"
	"github.com/blackdeer1524/storage-engine/src/pkg/common"
	"github.com/blackdeer1524/storage-engine/src/storage/page"
)

// BPlusTree is generic over a key type with a comparator + fixed-size codec
// and a value type with a fixed-size codec, the specification's "templated
// key/value types" modeled as injected capability objects.
type BPlusTree[K any, V any] struct {
	pool      *bufferpool.Manager
	keyCodec  common.KeyCodec[K]
	valCodec  common.ValueCodec[V]
	keySize   int
	valSize   int
	maxLeaf   int
	maxInternal int
	minLeaf   int
	minInternal int

	rootLatch sync.RWMutex
	rootMu    sync.Mutex // guards rootPageID itself, distinct from the descent-ordering rootLatch
	rootPageID common.PageID
}

// New creates an empty tree: a single empty leaf page as the root.
func New[K any, V any](pool *bufferpool.Manager, keyCodec common.KeyCodec[K], valCodec common.ValueCodec[V]) (*BPlusTree[K, V], error) {
	keySize := keyCodec.Size()
	valSize := valCodec.Size()

	maxLeaf := (page.Size - page.HeaderSize(page.PageTypeLeaf)) / leafEntrySize(keySize, valSize)
	maxInternal := (page.Size - page.HeaderSize(page.PageTypeInternal)) / internalEntrySize(keySize)
	if maxLeaf < 3 || maxInternal < 3 {
		return nil, fmt.Errorf("bptree: key/value sizes too large for a %d-byte page", page.Size)
	}

	pg, pageID, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("allocating root page: %w", err)
	}
	initNode(pg, page.PageTypeLeaf, pageID, maxLeaf)
	if err := pool.UnpinPage(pageID, true); err != nil {
		return nil, err
	}

	return &BPlusTree[K, V]{
		pool:        pool,
		keyCodec:    keyCodec,
		valCodec:    valCodec,
		keySize:     keySize,
		valSize:     valSize,
		maxLeaf:     maxLeaf,
		maxInternal: maxInternal,
		minLeaf:     (maxLeaf + 1) / 2,
		minInternal: (maxInternal + 1) / 2,
		rootPageID:  pageID,
	}, nil
}

// Open attaches to an existing tree whose root is already at rootPageID
// (recovered from a catalog entry, in a fuller system).
func Open[K any, V any](pool *bufferpool.Manager, keyCodec common.KeyCodec[K], valCodec common.ValueCodec[V], rootPageID common.PageID) *BPlusTree[K, V] {
	keySize := keyCodec.Size()
	valSize := valCodec.Size()
	maxLeaf := (page.Size - page.HeaderSize(page.PageTypeLeaf)) / leafEntrySize(keySize, valSize)
	maxInternal := (page.Size - page.HeaderSize(page.PageTypeInternal)) / internalEntrySize(keySize)
	return &BPlusTree[K, V]{
		pool:        pool,
		keyCodec:    keyCodec,
		valCodec:    valCodec,
		keySize:     keySize,
		valSize:     valSize,
		maxLeaf:     maxLeaf,
		maxInternal: maxInternal,
		minLeaf:     (maxLeaf + 1) / 2,
		minInternal: (maxInternal + 1) / 2,
		rootPageID:  rootPageID,
	}
}

func (t *BPlusTree[K, V]) RootPageID() common.PageID {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()
	return t.rootPageID
}

func (t *BPlusTree[K, V]) setRoot(id common.PageID) {
	t.rootMu.Lock()
	t.rootPageID = id
	t.rootMu.Unlock()
}

// leafKeyIndex returns the first slot whose key is >= target, and whether
// that slot's key equals target exactly (binary search over sorted keys).
func (t *BPlusTree[K, V]) leafKeyIndex(pg *page.Page, target K) (int, bool) {
	size := pg.Size()
	lo, hi := 0, size
	for lo < hi {
		mid := (lo + hi) / 2
		k := t.keyCodec.Decode(leafKeyBytes(pg, mid, t.keySize, t.valSize))
		if t.keyCodec.Compare(k, target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < size {
		k := t.keyCodec.Decode(leafKeyBytes(pg, lo, t.keySize, t.valSize))
		if t.keyCodec.Compare(k, target) == 0 {
			return lo, true
		}
	}
	return lo, false
}

// internalLookup returns the child slot to descend into for target: the
// last slot whose key is <= target, or slot 0 (the leftmost child) if
// target is smaller than every separator.
func (t *BPlusTree[K, V]) internalLookup(pg *page.Page, target K) int {
	size := pg.Size()
	lo, hi := 1, size
	for lo < hi {
		mid := (lo + hi) / 2
		k := t.keyCodec.Decode(internalKeyBytes(pg, mid, t.keySize))
		if t.keyCodec.Compare(k, target) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

func (t *BPlusTree[K, V]) leafInsertAt(pg *page.Page, idx int, key K, val V) {
	size := pg.Size()
	shiftLeafRight(pg, idx, size, t.keySize, t.valSize)
	t.keyCodec.Encode(key, leafKeyBytes(pg, idx, t.keySize, t.valSize))
	t.valCodec.Encode(val, leafValueBytes(pg, idx, t.keySize, t.valSize))
	pg.SetSize(size + 1)
}

func (t *BPlusTree[K, V]) leafRemoveAt(pg *page.Page, idx int) {
	size := pg.Size()
	shiftLeafLeft(pg, idx, size, t.keySize, t.valSize)
	pg.SetSize(size - 1)
}

func (t *BPlusTree[K, V]) internalInsertAt(pg *page.Page, idx int, key K, child common.PageID) {
	size := pg.Size()
	shiftInternalRight(pg, idx, size, t.keySize)
	t.keyCodec.Encode(key, internalKeyBytes(pg, idx, t.keySize))
	internalSetChildAt(pg, idx, t.keySize, child)
	pg.SetSize(size + 1)
}

func (t *BPlusTree[K, V]) internalRemoveAt(pg *page.Page, idx int) {
	size := pg.Size()
	shiftInternalLeft(pg, idx, size, t.keySize)
	pg.SetSize(size - 1)
}

// Get returns every value stored under key (unique keys, so at most one).
func (t *BPlusTree[K, V]) Get(key K) ([]V, error) {
	pageID := t.RootPageID()
	pg, err := t.pool.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	pg.RLock()

	for pg.Type() == page.PageTypeInternal {
		childIdx := t.internalLookup(pg, key)
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

	idx, found := t.leafKeyIndex(pg, key)
	var out []V
	if found {
		v := t.valCodec.Decode(leafValueBytes(pg, idx, t.keySize, t.valSize))
		out = append(out, v)
	}
	pg.RUnlock()
	_ = t.pool.UnpinPage(pageID, false)
	return out, nil
}

type ancestor struct {
	pg *page.Page
	id common.PageID
}

func (t *BPlusTree[K, V]) releaseAncestors(stack []ancestor) {
	for _, a := range stack {
		a.pg.Unlock()
		_ = t.pool.UnpinPage(a.id, false)
	}
}

// Insert adds (key, value). Returns false if key already exists.
func (t *BPlusTree[K, V]) Insert(key K, val V) (bool, error) {
	t.rootLatch.Lock()
	heldRoot := true
	releaseRoot := func() {
		if heldRoot {
			t.rootLatch.Unlock()
			heldRoot = false
		}
	}
	defer releaseRoot()

	var stack []ancestor
	curID := t.RootPageID()
	cur, err := t.pool.FetchPage(curID)
	if err != nil {
		return false, err
	}
	cur.Lock()

	if cur.Size() < cur.MaxSize() {
		releaseRoot()
	}

	for cur.Type() == page.PageTypeInternal {
		childIdx := t.internalLookup(cur, key)
		childID := internalChildAt(cur, childIdx, t.keySize)
		child, err := t.pool.FetchPage(childID)
		if err != nil {
			cur.Unlock()
			_ = t.pool.UnpinPage(curID, false)
			t.releaseAncestors(stack)
			return false, err
		}
		child.Lock()

		safe := child.Size() < child.MaxSize()
		if safe {
			t.releaseAncestors(stack)
			stack = nil
			cur.Unlock()
			_ = t.pool.UnpinPage(curID, false)
			releaseRoot()
		} else {
			stack = append(stack, ancestor{cur, curID})
		}
		cur, curID = child, childID
	}

	// cur is now the target leaf, write-latched, with every ancestor needed
	// for a possible split still held in stack (plus the root latch, if the
	// leaf itself was never proven safe).
	idx, found := t.leafKeyIndex(cur, key)
	if found {
		cur.Unlock()
		_ = t.pool.UnpinPage(curID, false)
		t.releaseAncestors(stack)
		return false, nil
	}

	if cur.Size() < cur.MaxSize() {
		t.leafInsertAt(cur, idx, key, val)
		cur.Unlock()
		_ = t.pool.UnpinPage(curID, true)
		t.releaseAncestors(stack)
		return true, nil
	}

	newLeafID, splitKey, err := t.splitLeaf(cur, curID, idx, key, val)
	if err != nil {
		cur.Unlock()
		_ = t.pool.UnpinPage(curID, false)
		t.releaseAncestors(stack)
		return false, err
	}
	cur.Unlock()
	if err := t.pool.UnpinPage(curID, true); err != nil {
		return false, err
	}

	propagateRootHeld := heldRoot
	heldRoot = false // insertIntoParent now owns releasing rootLatch, if we were holding it
	if err := t.insertIntoParent(stack, propagateRootHeld, curID, splitKey, newLeafID); err != nil {
		return false, err
	}
	return true, nil
}

// splitLeaf inserts (key, val) into a full leaf conceptually, then carves the
// right ⌈(max+1)/2⌉ entries into a freshly allocated sibling leaf, returning
// that sibling's page id and its first key (the separator for the parent).
func (t *BPlusTree[K, V]) splitLeaf(left *page.Page, leftID common.PageID, idx int, key K, val V) (common.PageID, K, error) {
	var zero K
	max := left.MaxSize()

	// Materialize the would-be max+1 entries (including the new one) off-page,
	// then redistribute, since the page itself only has room for max.
	keys := make([]K, 0, max+1)
	vals := make([]V, 0, max+1)
	for i := 0; i < max; i++ {
		if i == idx {
			keys = append(keys, key)
			vals = append(vals, val)
		}
		keys = append(keys, t.keyCodec.Decode(leafKeyBytes(left, i, t.keySize, t.valSize)))
		vals = append(vals, t.valCodec.Decode(leafValueBytes(left, i, t.keySize, t.valSize)))
	}
	if idx == max {
		keys = append(keys, key)
		vals = append(vals, val)
	}
	assert.Assert(len(keys) == max+1, "splitLeaf: expected %d entries, got %d", max+1, len(keys))

	rightCount := (max + 2) / 2
	leftCount := max + 1 - rightCount

	for i := 0; i < leftCount; i++ {
		t.keyCodec.Encode(keys[i], leafKeyBytes(left, i, t.keySize, t.valSize))
		t.valCodec.Encode(vals[i], leafValueBytes(left, i, t.keySize, t.valSize))
	}
	left.SetSize(leftCount)

	rightPg, rightID, err := t.pool.NewPage()
	if err != nil {
		return common.InvalidPageID, zero, err
	}
	initNode(rightPg, page.PageTypeLeaf, rightID, t.maxLeaf)
	rightPg.SetParentPageID(left.ParentPageID())
	rightPg.SetNextPageID(left.NextPageID())
	for i := 0; i < rightCount; i++ {
		t.keyCodec.Encode(keys[leftCount+i], leafKeyBytes(rightPg, i, t.keySize, t.valSize))
		t.valCodec.Encode(vals[leftCount+i], leafValueBytes(rightPg, i, t.keySize, t.valSize))
	}
	rightPg.SetSize(rightCount)
	left.SetNextPageID(rightID)

	if err := t.pool.UnpinPage(rightID, true); err != nil {
		return common.InvalidPageID, zero, err
	}
	return rightID, keys[leftCount], nil
}

// insertIntoParent threads (splitKey, rightID) into leftID's parent, found at
// the top of stack (or, if stack is empty, either leftID is the root itself —
// creating a new root above it — or its real parent was released earlier as
// insert-safe and must be fetched fresh). rootHeld is whatever Insert's own
// descent decided about the root latch for this whole call chain: it never
// changes across the recursion, so the caller that actually holds it is the
// only one that ever unlocks it, at whichever level the chain terminates.
func (t *BPlusTree[K, V]) insertIntoParent(stack []ancestor, rootHeld bool, leftID common.PageID, splitKey K, rightID common.PageID) error {
	if len(stack) == 0 && leftID == t.RootPageID() {
		newRoot, newRootID, err := t.pool.NewPage()
		if err != nil {
			return err
		}
		initNode(newRoot, page.PageTypeInternal, newRootID, t.maxInternal)
		internalSetChildAt(newRoot, 0, t.keySize, leftID)
		newRoot.SetSize(1)
		t.internalInsertAt(newRoot, 1, splitKey, rightID)
		if err := t.pool.UnpinPage(newRootID, true); err != nil {
			return err
		}

		if err := t.reparent(leftID, newRootID); err != nil {
			return err
		}
		if err := t.reparent(rightID, newRootID); err != nil {
			return err
		}
		t.setRoot(newRootID)
		if rootHeld {
			t.rootLatch.Unlock()
		}
		return nil
	}

	if len(stack) == 0 {
		// leftID's real parent was never pushed onto stack because it was
		// proven insert-safe (size < max) earlier in the descent and
		// released there; that safety guarantee is exactly what lets us
		// fetch and latch it fresh now instead of carrying it the whole way.
		parentID, err := t.fetchParentID(leftID)
		if err != nil {
			return err
		}
		parentPg, err := t.pool.FetchPage(parentID)
		if err != nil {
			return err
		}
		parentPg.Lock()
		stack = []ancestor{{parentPg, parentID}}
	}

	top := stack[len(stack)-1]
	stack = stack[:len(stack)-1]
	parent := top.pg

	childIdx := t.findChildSlot(parent, leftID)
	if parent.Size() < parent.MaxSize() {
		t.internalInsertAt(parent, childIdx+1, splitKey, rightID)
		parent.Unlock()
		if err := t.pool.UnpinPage(top.id, true); err != nil {
			return err
		}
		if err := t.reparent(rightID, top.id); err != nil {
			return err
		}
		t.releaseAncestors(stack)
		if rootHeld {
			t.rootLatch.Unlock()
		}
		return nil
	}

	newParentID, newSplitKey, err := t.splitInternal(parent, childIdx+1, splitKey, rightID)
	if err != nil {
		return err
	}
	parent.Unlock()
	if err := t.pool.UnpinPage(top.id, true); err != nil {
		return err
	}
	return t.insertIntoParent(stack, rootHeld, top.id, newSplitKey, newParentID)
}

// fetchParentID reads childID's stored parent-page-id off disk, latching it
// only briefly (no structural change, just a header read).
func (t *BPlusTree[K, V]) fetchParentID(childID common.PageID) (common.PageID, error) {
	pg, err := t.pool.FetchPage(childID)
	if err != nil {
		return common.InvalidPageID, err
	}
	pg.RLock()
	parentID := pg.ParentPageID()
	pg.RUnlock()
	if err := t.pool.UnpinPage(childID, false); err != nil {
		return common.InvalidPageID, err
	}
	return parentID, nil
}

// findChildSlot returns the slot in parent whose child pointer is childID.
func (t *BPlusTree[K, V]) findChildSlot(parent *page.Page, childID common.PageID) int {
	size := parent.Size()
	for i := 0; i < size; i++ {
		if internalChildAt(parent, i, t.keySize) == childID {
			return i
		}
	}
	panic("bptree: child not found in claimed parent")
}

// reparent overwrites childID's stored parent-page-id, used after a split or
// a new root is created.
func (t *BPlusTree[K, V]) reparent(childID, parentID common.PageID) error {
	pg, err := t.pool.FetchPage(childID)
	if err != nil {
		return err
	}
	pg.Lock()
	pg.SetParentPageID(parentID)
	pg.Unlock()
	return t.pool.UnpinPage(childID, true)
}

// splitInternal inserts (splitKey, rightID) at slot idx conceptually, then
// carves the right half into a new internal page, returning its id and the
// key promoted to the grandparent (which is removed from both children,
// unlike leaf splits).
func (t *BPlusTree[K, V]) splitInternal(left *page.Page, idx int, splitKey K, rightChild common.PageID) (common.PageID, K, error) {
	var zero K
	max := left.MaxSize()

	type kv struct {
		key   K
		child common.PageID
	}
	entries := make([]kv, 0, max+1)
	entries = append(entries, kv{child: internalChildAt(left, 0, t.keySize)})
	for i := 1; i < max; i++ {
		if i == idx {
			entries = append(entries, kv{key: splitKey, child: rightChild})
		}
		entries = append(entries, kv{
			key:   t.keyCodec.Decode(internalKeyBytes(left, i, t.keySize)),
			child: internalChildAt(left, i, t.keySize),
		})
	}
	if idx == max {
		entries = append(entries, kv{key: splitKey, child: rightChild})
	}
	assert.Assert(len(entries) == max+1, "splitInternal: expected %d entries, got %d", max+1, len(entries))

	mid := (max + 1) / 2
	promoted := entries[mid].key

	leftCount := mid
	for i := 0; i < leftCount; i++ {
		if i > 0 {
			t.keyCodec.Encode(entries[i].key, internalKeyBytes(left, i, t.keySize))
		}
		internalSetChildAt(left, i, t.keySize, entries[i].child)
	}
	left.SetSize(leftCount)

	rightPg, rightID, err := t.pool.NewPage()
	if err != nil {
		return common.InvalidPageID, zero, err
	}
	initNode(rightPg, page.PageTypeInternal, rightID, t.maxInternal)
	rightPg.SetParentPageID(left.ParentPageID())
	rightCount := len(entries) - mid - 1
	internalSetChildAt(rightPg, 0, t.keySize, entries[mid].child)
	for i := 1; i <= rightCount; i++ {
		t.keyCodec.Encode(entries[mid+i].key, internalKeyBytes(rightPg, i, t.keySize))
		internalSetChildAt(rightPg, i, t.keySize, entries[mid+i].child)
	}
	rightPg.SetSize(rightCount + 1)

	for i := 0; i <= rightCount; i++ {
		if err := t.reparent(internalChildAt(rightPg, i, t.keySize), rightID); err != nil {
			_ = t.pool.UnpinPage(rightID, true)
			return common.InvalidPageID, zero, err
		}
	}

	if err := t.pool.UnpinPage(rightID, true); err != nil {
		return common.InvalidPageID, zero, err
	}
	return rightID, promoted, nil
}

// Remove deletes key, if present. A leaf or internal node that underflows
// below its minimum size is coalesced into a sibling (redistributing
// instead, if the sibling has entries to spare), propagating upward and
// collapsing the root when it shrinks to a single child.
func (t *BPlusTree[K, V]) Remove(key K) error {
	t.rootLatch.Lock()
	heldRoot := true
	releaseRoot := func() {
		if heldRoot {
			t.rootLatch.Unlock()
			heldRoot = false
		}
	}
	defer releaseRoot()

	var stack []ancestor
	curID := t.RootPageID()
	cur, err := t.pool.FetchPage(curID)
	if err != nil {
		return err
	}
	cur.Lock()

	if cur.Size() > t.minSizeFor(cur) {
		releaseRoot()
	}

	for cur.Type() == page.PageTypeInternal {
		childIdx := t.internalLookup(cur, key)
		childID := internalChildAt(cur, childIdx, t.keySize)
		child, err := t.pool.FetchPage(childID)
		if err != nil {
			cur.Unlock()
			_ = t.pool.UnpinPage(curID, false)
			t.releaseAncestors(stack)
			return err
		}
		child.Lock()

		safe := child.Size() > t.minSizeFor(child)
		if safe {
			t.releaseAncestors(stack)
			stack = nil
			cur.Unlock()
			_ = t.pool.UnpinPage(curID, false)
			releaseRoot()
		} else {
			stack = append(stack, ancestor{cur, curID})
		}
		cur, curID = child, childID
	}

	idx, found := t.leafKeyIndex(cur, key)
	if !found {
		cur.Unlock()
		_ = t.pool.UnpinPage(curID, false)
		t.releaseAncestors(stack)
		return nil
	}
	t.leafRemoveAt(cur, idx)

	if len(stack) == 0 {
		// cur is either the root leaf (underflow is never enforced on it) or
		// was proven remove-safe during the descent, so it cannot underflow.
		cur.Unlock()
		_ = t.pool.UnpinPage(curID, true)
		return nil
	}

	if cur.Size() >= t.minLeaf {
		cur.Unlock()
		_ = t.pool.UnpinPage(curID, true)
		t.releaseAncestors(stack)
		return nil
	}

	propagateRootHeld := heldRoot
	heldRoot = false // handleUnderflow now owns releasing rootLatch, if we were holding it
	return t.handleUnderflow(stack, propagateRootHeld, cur, curID)
}

func (t *BPlusTree[K, V]) minSizeFor(pg *page.Page) int {
	if pg.Type() == page.PageTypeLeaf {
		return t.minLeaf
	}
	return t.minInternal
}

// handleUnderflow resolves an underflowed node (curID, already write-latched
// and holding stack's ancestors) by redistributing from a sibling if one has
// spare entries, else coalescing into a sibling and recursing on the parent.
// rootHeld mirrors insertIntoParent's: fixed for the whole call chain by
// Remove's own descent, and only that chain ever unlocks it.
func (t *BPlusTree[K, V]) handleUnderflow(stack []ancestor, rootHeld bool, cur *page.Page, curID common.PageID) error {
	top := stack[len(stack)-1]
	rest := stack[:len(stack)-1]
	parent := top.pg

	myIdx := t.findChildSlot(parent, curID)
	isLeaf := cur.Type() == page.PageTypeLeaf

	// Sibling-selection rule: the right neighbor if cur is the leftmost
	// child, else the left neighbor; coalescing always merges into the left
	// sibling of the pair.
	var siblingIdx int
	useRight := myIdx == 0
	if useRight {
		siblingIdx = myIdx + 1
	} else {
		siblingIdx = myIdx - 1
	}
	siblingID := internalChildAt(parent, siblingIdx, t.keySize)

	sibling, err := t.pool.FetchPage(siblingID)
	if err != nil {
		cur.Unlock()
		_ = t.pool.UnpinPage(curID, true)
		parent.Unlock()
		_ = t.pool.UnpinPage(top.id, false)
		t.releaseAncestors(rest)
		return err
	}
	sibling.Lock()

	min := t.minSizeFor(cur)
	if sibling.Size() > min {
		t.redistribute(parent, myIdx, cur, curID, sibling, siblingID, useRight, isLeaf)
		cur.Unlock()
		_ = t.pool.UnpinPage(curID, true)
		sibling.Unlock()
		_ = t.pool.UnpinPage(siblingID, true)
		parent.Unlock()
		_ = t.pool.UnpinPage(top.id, true)
		t.releaseAncestors(rest)
		if rootHeld {
			t.rootLatch.Unlock()
		}
		return nil
	}

	// Coalesce: merge the right node's entries into the left node, remove
	// the separator from the parent, free the right page.
	var leftPg, rightPg *page.Page
	var leftID, rightID common.PageID
	var sepIdx int
	if useRight {
		leftPg, leftID = cur, curID
		rightPg, rightID = sibling, siblingID
		sepIdx = myIdx + 1
	} else {
		leftPg, leftID = sibling, siblingID
		rightPg, rightID = cur, curID
		sepIdx = myIdx
	}

	if isLeaf {
		t.mergeLeaves(leftPg, rightPg)
	} else {
		sepKey := t.keyCodec.Decode(internalKeyBytes(parent, sepIdx, t.keySize))
		t.mergeInternals(leftPg, rightPg, sepKey)
		for i := 0; i < rightPg.Size(); i++ {
			if err := t.reparent(internalChildAt(leftPg, leftPg.Size()-rightPg.Size()+i, t.keySize), leftID); err != nil {
				return err
			}
		}
	}
	t.internalRemoveAt(parent, sepIdx)

	cur.Unlock()
	sibling.Unlock()
	_ = t.pool.UnpinPage(leftID, true)
	_ = t.pool.UnpinPage(rightID, true)
	if err := t.pool.DeletePage(rightID); err != nil {
		_ = t.pool.UnpinPage(top.id, true)
		t.releaseAncestors(rest)
		return err
	}

	if len(rest) == 0 {
		// top is either the real tree root, or an ancestor that was proven
		// remove-safe (size > min) when the descent reached it, so every
		// ancestor above it was released — in which case the one
		// separator removal above is guaranteed to leave it at or above
		// min, so propagation stops here either way. Only collapse the
		// root (changing tree height) when top genuinely is the root.
		isRoot := top.id == t.RootPageID()
		if isRoot && parent.Size() == 1 {
			assert.Assert(rootHeld, "bptree: collapsing the root without holding the root latch")
			parent.Unlock()
			if err := t.pool.UnpinPage(top.id, true); err != nil {
				return err
			}
			if err := t.pool.DeletePage(top.id); err != nil {
				return err
			}
			if err := t.reparent(leftID, common.InvalidPageID); err != nil {
				return err
			}
			t.setRoot(leftID)
			if rootHeld {
				t.rootLatch.Unlock()
			}
			return nil
		}
		parent.Unlock()
		_ = t.pool.UnpinPage(top.id, true)
		if rootHeld {
			t.rootLatch.Unlock()
		}
		return nil
	}

	if parent.Size() >= t.minInternal {
		parent.Unlock()
		_ = t.pool.UnpinPage(top.id, true)
		t.releaseAncestors(rest)
		return nil
	}

	return t.handleUnderflow(rest, rootHeld, parent, top.id)
}

// redistribute moves one entry from sibling into cur across their shared
// parent separator, restoring cur above its minimum without a merge.
func (t *BPlusTree[K, V]) redistribute(parent *page.Page, curIdx int, cur *page.Page, curID common.PageID, sibling *page.Page, siblingID common.PageID, siblingIsRight bool, isLeaf bool) {
	if isLeaf {
		if siblingIsRight {
			k := t.keyCodec.Decode(leafKeyBytes(sibling, 0, t.keySize, t.valSize))
			v := t.valCodec.Decode(leafValueBytes(sibling, 0, t.keySize, t.valSize))
			t.leafInsertAt(cur, cur.Size(), k, v)
			t.leafRemoveAt(sibling, 0)
			newSep := t.keyCodec.Decode(leafKeyBytes(sibling, 0, t.keySize, t.valSize))
			t.keyCodec.Encode(newSep, internalKeyBytes(parent, curIdx+1, t.keySize))
		} else {
			last := sibling.Size() - 1
			k := t.keyCodec.Decode(leafKeyBytes(sibling, last, t.keySize, t.valSize))
			v := t.valCodec.Decode(leafValueBytes(sibling, last, t.keySize, t.valSize))
			t.leafInsertAt(cur, 0, k, v)
			t.leafRemoveAt(sibling, last)
			t.keyCodec.Encode(k, internalKeyBytes(parent, curIdx, t.keySize))
		}
		return
	}

	if siblingIsRight {
		sepKey := t.keyCodec.Decode(internalKeyBytes(parent, curIdx+1, t.keySize))
		movedChild := internalChildAt(sibling, 0, t.keySize)
		t.internalInsertAt(cur, cur.Size(), sepKey, movedChild)
		newSep := t.keyCodec.Decode(internalKeyBytes(sibling, 1, t.keySize))
		t.internalRemoveAt(sibling, 0)
		t.keyCodec.Encode(newSep, internalKeyBytes(parent, curIdx+1, t.keySize))
		_ = t.reparent(movedChild, curID)
	} else {
		last := sibling.Size() - 1
		sepKey := t.keyCodec.Decode(internalKeyBytes(parent, curIdx, t.keySize))
		movedChild := internalChildAt(sibling, last, t.keySize)
		t.internalInsertAt(cur, 0, sepKey, movedChild)
		// The old leftmost child now sits in slot 1; the rotated-down
		// separator is its lower bound.
		t.keyCodec.Encode(sepKey, internalKeyBytes(cur, 1, t.keySize))
		newSep := t.keyCodec.Decode(internalKeyBytes(sibling, last, t.keySize))
		t.internalRemoveAt(sibling, last)
		t.keyCodec.Encode(newSep, internalKeyBytes(parent, curIdx, t.keySize))
		_ = t.reparent(movedChild, siblingID)
	}
}

// mergeLeaves appends right's entries onto left and relinks the leaf chain.
func (t *BPlusTree[K, V]) mergeLeaves(left, right *page.Page) {
	base := left.Size()
	for i := 0; i < right.Size(); i++ {
		k := t.keyCodec.Decode(leafKeyBytes(right, i, t.keySize, t.valSize))
		v := t.valCodec.Decode(leafValueBytes(right, i, t.keySize, t.valSize))
		t.keyCodec.Encode(k, leafKeyBytes(left, base+i, t.keySize, t.valSize))
		t.valCodec.Encode(v, leafValueBytes(left, base+i, t.keySize, t.valSize))
	}
	left.SetSize(base + right.Size())
	left.SetNextPageID(right.NextPageID())
}

// mergeInternals appends right's entries onto left, with sepKey filling in
// right's unused entry-0 key (the separator demoted from the parent).
func (t *BPlusTree[K, V]) mergeInternals(left, right *page.Page, sepKey K) {
	base := left.Size()
	t.keyCodec.Encode(sepKey, internalKeyBytes(left, base, t.keySize))
	internalSetChildAt(left, base, t.keySize, internalChildAt(right, 0, t.keySize))
	for i := 1; i < right.Size(); i++ {
		k := t.keyCodec.Decode(internalKeyBytes(right, i, t.keySize))
		t.keyCodec.Encode(k, internalKeyBytes(left, base+i, t.keySize))
		internalSetChildAt(left, base+i, t.keySize, internalChildAt(right, i, t.keySize))
	}
	left.SetSize(base + right.Size())
}
