package logmanager_test

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blackdeer1524/storage-engine/src/pkg/common"
	"github.com/blackdeer1524/storage-engine/src/pkg/logging"
	"github.com/blackdeer1524/storage-engine/src/logmanager"
)

type memWriter struct {
	mu      sync.Mutex
	records [][]byte
}

func (w *memWriter) WriteLog(record []byte) (common.FileLocation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := make([]byte, len(record))
	copy(cp, record)
	w.records = append(w.records, cp)
	return common.FileLocation{Offset: int64(len(w.records))}, nil
}

func appendUint64(t *testing.T, m *logmanager.Manager, v uint64) common.LSN {
	t.Helper()
	lsn, err := m.AppendRecord(8, func(_ common.LSN, dst []byte) {
		binary.LittleEndian.PutUint64(dst, v)
	})
	require.NoError(t, err)
	return lsn
}

func TestAppendRecordAssignsStrictlyIncreasingLSNs(t *testing.T) {
	w := &memWriter{}
	m := logmanager.New(4096, time.Hour, w, logging.Nop())
	defer m.Close()

	a := appendUint64(t, m, 1)
	b := appendUint64(t, m, 2)
	require.Greater(t, int64(b), int64(a))
}

func TestFlushMakesRecordDurable(t *testing.T) {
	w := &memWriter{}
	m := logmanager.New(4096, time.Hour, w, logging.Nop())
	defer m.Close()

	lsn := appendUint64(t, m, 42)
	require.Less(t, int64(m.PersistentLSN()), int64(lsn))

	require.NoError(t, m.Flush(lsn))
	require.GreaterOrEqual(t, int64(m.PersistentLSN()), int64(lsn))

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.records, 1)
}

func TestBufferFullTriggersFlushAndUnblocks(t *testing.T) {
	w := &memWriter{}
	m := logmanager.New(16, time.Hour, w, logging.Nop()) // 2 records per buffer
	defer m.Close()

	for i := 0; i < 10; i++ {
		appendUint64(t, m, uint64(i))
	}

	w.mu.Lock()
	wrote := len(w.records) > 0
	w.mu.Unlock()
	require.True(t, wrote, "filling buffers repeatedly should force at least one background flush")
}

func TestTimeoutFlushesWithoutExplicitForceFlush(t *testing.T) {
	w := &memWriter{}
	m := logmanager.New(4096, 20*time.Millisecond, w, logging.Nop())
	defer m.Close()

	appendUint64(t, m, 7)
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.records) == 1
	}, time.Second, 5*time.Millisecond)
}
