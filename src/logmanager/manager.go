// Package logmanager is the engine's write-ahead log: a pair of in-memory
// buffers appended to under a single mutex, flushed to the disk manager's
// log file either on a timeout or when a buffer fills, and force-flushed on
// demand so the buffer pool can honor the WAL rule before writing a dirty
// page back.
package logmanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/blackdeer1524/storage-engine/src/pkg/common"
	"github.com/blackdeer1524/storage-engine/src/pkg/logging"
)

// Writer is the disk-side dependency: one durable append per call, returning
// where the bytes landed. storage/disk.Manager satisfies this.
type Writer interface {
	WriteLog(record []byte) (common.FileLocation, error)
}

const numBuffers = 2

// Manager is the log manager. It owns nextLSN assignment so every appended
// record gets a strictly increasing LSN in append order, matching the
// transaction manager's expectation that LSN order is commit/undo order.
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond

	buffers [numBuffers][]byte
	cursor  int
	active  int
	lastLSN [numBuffers]common.LSN

	nextLSN       common.LSN
	persistentLSN common.LSN

	flushTimeout time.Duration
	disk         Writer
	logger       logging.Logger

	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// New builds a log manager with two buffers of bufferSize bytes each.
func New(bufferSize int, flushTimeout time.Duration, disk Writer, logger logging.Logger) *Manager {
	m := &Manager{
		persistentLSN: common.InvalidLSN,
		flushTimeout:  flushTimeout,
		disk:          disk,
		logger:        logger,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	for i := range m.buffers {
		m.buffers[i] = make([]byte, bufferSize)
		m.lastLSN[i] = common.InvalidLSN
	}

	go m.run()
	return m
}

// PersistentLSN is the highest LSN known to be durable on disk.
func (m *Manager) PersistentLSN() common.LSN {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistentLSN
}

// AppendRecord reserves the next LSN, lets encode serialize the full record
// into a correctly sized slice under the log manager's own lock (so LSN
// assignment and buffer placement never race each other), and returns the
// assigned LSN. If the active buffer has no room, the caller blocks until
// the background flusher (or a Flush from another goroutine) drains it.
func (m *Manager) AppendRecord(size int, encode func(lsn common.LSN, dst []byte)) (common.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size > len(m.buffers[m.active]) {
		return common.InvalidLSN, fmt.Errorf("log record of %d bytes exceeds buffer size %d", size, len(m.buffers[m.active]))
	}

	for m.cursor+size > len(m.buffers[m.active]) {
		m.requestFlushLocked()
		m.cond.Wait()
		if m.closed {
			return common.InvalidLSN, fmt.Errorf("log manager is closed")
		}
	}

	lsn := m.nextLSN
	m.nextLSN++

	dst := m.buffers[m.active][m.cursor : m.cursor+size]
	encode(lsn, dst)
	m.cursor += size
	m.lastLSN[m.active] = lsn

	return lsn, nil
}

// Flush force-flushes until upTo is durable. A no-op if it already is.
func (m *Manager) Flush(upTo common.LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.persistentLSN < upTo {
		if err := m.flushActiveLocked(); err != nil {
			return err
		}
		if m.cursor == 0 && m.persistentLSN < upTo {
			if upTo >= m.nextLSN {
				// Nothing left to flush and nothing durable covers upTo: the
				// caller asked to flush an LSN this manager never assigned.
				return fmt.Errorf("log manager: requested flush up to LSN %d, never assigned", upTo)
			}
			// upTo was assigned and its buffer is already being written by
			// another flush; wait for that flush to advance persistentLSN.
			m.cond.Wait()
		}
	}
	return nil
}

func (m *Manager) requestFlushLocked() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// flushActiveLocked writes the active buffer's contents to disk and swaps to
// the other buffer, unlocking around the actual I/O so appenders into the
// now-empty buffer aren't blocked on disk latency. Must be called with mu
// held; returns with mu held.
func (m *Manager) flushActiveLocked() error {
	if m.cursor == 0 {
		return nil
	}

	data := make([]byte, m.cursor)
	copy(data, m.buffers[m.active][:m.cursor])
	flushLSN := m.lastLSN[m.active]
	flushed := m.active

	m.cursor = 0
	m.lastLSN[flushed] = common.InvalidLSN
	m.active = (m.active + 1) % numBuffers

	m.mu.Unlock()
	_, err := m.disk.WriteLog(data)
	m.mu.Lock()

	if err != nil {
		m.logger.Errorw("flushing log buffer", "error", err)
		return fmt.Errorf("flushing log buffer: %w", err)
	}

	if flushLSN > m.persistentLSN {
		m.persistentLSN = flushLSN
	}
	m.cond.Broadcast()
	return nil
}

func (m *Manager) run() {
	timer := time.NewTimer(m.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-m.done:
			m.mu.Lock()
			_ = m.flushActiveLocked()
			m.mu.Unlock()
			return
		case <-m.wake:
			m.mu.Lock()
			_ = m.flushActiveLocked()
			m.mu.Unlock()
		case <-timer.C:
			m.mu.Lock()
			_ = m.flushActiveLocked()
			m.mu.Unlock()
		}
		timer.Reset(m.flushTimeout)
	}
}

// Close flushes any remaining buffered records and stops the background
// flusher. Blocked AppendRecord callers are released with an error.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	err := m.flushActiveLocked()
	m.cond.Broadcast()
	m.mu.Unlock()

	close(m.done)
	return err
}
