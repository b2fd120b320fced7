package common

import "math"

// NopWALFlusher is a null WALFlusher for tests that exercise the buffer pool
// without a real log manager: every page is treated as already durable.
type NopWALFlusher struct{}

var _ WALFlusher = NopWALFlusher{}

func (NopWALFlusher) PersistentLSN() LSN   { return LSN(math.MaxInt64) }
func (NopWALFlusher) Flush(upTo LSN) error { return nil }
