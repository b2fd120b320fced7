package common

// Page is the capability the buffer pool needs from a pinned frame: raw byte
// access plus the reader-writer latch callers crab down the tree with.
type Page interface {
	Data() []byte
	SetData(d []byte)

	Lock()
	Unlock()
	RLock()
	RUnlock()
}

// DiskPager is what the buffer pool needs from the disk manager: enough to
// fetch/evict pages and grow/shrink the file. storage/disk.Manager satisfies
// this directly.
type DiskPager interface {
	ReadPage(id PageID, dst []byte) error
	WritePage(id PageID, src []byte) error
	AllocatePage() (PageID, error)
	DeallocatePage(id PageID) error
}

// WALFlusher is what the buffer pool needs from the log manager to honor the
// write-ahead-logging rule: a dirty page whose page-LSN exceeds the
// log's persistent LSN cannot be written back until the log catches up.
type WALFlusher interface {
	PersistentLSN() LSN
	Flush(upTo LSN) error
}
