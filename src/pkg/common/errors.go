package common

import "errors"

// Sentinel errors named after the kinds enumerated in the error-handling
// design: out-of-memory buffer pools, missing pages, and fatal disk I/O.
// Index and lock operations deliberately do NOT use errors for expected
// outcomes (duplicate key, key not found, wait-die abort) — those surface as
// a plain bool, per the engine's public-boundary contract.
var (
	ErrOutOfMemory = errors.New("storage-engine: no free frame and no victim available")
	ErrPageNotFound = errors.New("storage-engine: page not found in buffer pool")
	ErrNoSuchPage   = errors.New("storage-engine: no such page on disk")
)
