// Package disk is the engine's only point of contact with the filesystem: a
// single paged data file plus a single append-only log file, both addressed
// through an afero.Fs so tests can run entirely in memory.
package disk

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/blackdeer1524/storage-engine/src/pkg/assert"
	"github.com/blackdeer1524/storage-engine/src/pkg/common"
	"github.com/blackdeer1524/storage-engine/src/pkg/logging"
	"github.com/blackdeer1524/storage-engine/src/storage/page"
)

const osReadWriteCreate = os.O_RDWR | os.O_CREATE

// headerPageID is the reserved data-file page holding the run id and the
// allocation count. It is never handed out by AllocatePage.
const headerPageID common.PageID = 0

const (
	hdrOffRunID   = 0  // 16 bytes, uuid.UUID
	hdrOffNumPage = 16 // 8 bytes, uint64: next page id to allocate
	hdrOffFreeHed = 24 // 8 bytes, uint64: head of the free-page list, or InvalidPageID
)

// Manager owns the data file and the log file. Every method is safe for
// concurrent use; page I/O serializes on a single mutex the same way the
// teacher's disk manager did, since afero.File offsets are not goroutine-safe
// to share across concurrent ReadAt/WriteAt calls without one.
type Manager struct {
	mu     sync.Mutex
	fs     afero.Fs
	data   afero.File
	log    afero.File
	logger logging.Logger

	runID      uuid.UUID
	numPages   uint64
	freeHead   common.PageID
	logOffset  int64
}

// Open creates dataPath/logPath if they don't exist and initializes the data
// file's header page on first use, or reads an existing header back.
func Open(fs afero.Fs, dataPath, logPath string, logger logging.Logger) (*Manager, error) {
	data, err := fs.OpenFile(dataPath, osReadWriteCreate, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening data file %q: %w", dataPath, err)
	}

	logFile, err := fs.OpenFile(logPath, osReadWriteCreate, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %q: %w", logPath, err)
	}

	m := &Manager{
		fs:     fs,
		data:   data,
		log:    logFile,
		logger: logger,
	}

	info, err := data.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat data file: %w", err)
	}

	if info.Size() == 0 {
		m.runID = uuid.New()
		m.numPages = 1
		m.freeHead = common.InvalidPageID
		if err := m.writeHeaderLocked(); err != nil {
			return nil, err
		}
	} else if err := m.readHeaderLocked(); err != nil {
		return nil, err
	}

	logInfo, err := logFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	m.logOffset = logInfo.Size()

	return m, nil
}

func (m *Manager) headerBytes() []byte {
	buf := make([]byte, page.Size)
	runID, _ := m.runID.MarshalBinary()
	copy(buf[hdrOffRunID:], runID)
	binary.LittleEndian.PutUint64(buf[hdrOffNumPage:], m.numPages)
	binary.LittleEndian.PutUint64(buf[hdrOffFreeHed:], uint64(m.freeHead))
	return buf
}

func (m *Manager) writeHeaderLocked() error {
	_, err := m.data.WriteAt(m.headerBytes(), int64(headerPageID)*page.Size)
	if err != nil {
		return fmt.Errorf("writing data file header: %w", err)
	}
	return m.data.Sync()
}

func (m *Manager) readHeaderLocked() error {
	buf := make([]byte, page.Size)
	if _, err := m.data.ReadAt(buf, int64(headerPageID)*page.Size); err != nil {
		return fmt.Errorf("reading data file header: %w", err)
	}
	if err := m.runID.UnmarshalBinary(buf[hdrOffRunID : hdrOffRunID+16]); err != nil {
		return fmt.Errorf("decoding run id: %w", err)
	}
	m.numPages = binary.LittleEndian.Uint64(buf[hdrOffNumPage:])
	m.freeHead = common.PageID(binary.LittleEndian.Uint64(buf[hdrOffFreeHed:]))
	return nil
}

// RunID identifies this data file's lifetime, stamped once at creation.
func (m *Manager) RunID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runID
}

// AllocatePage hands out a free page id: the head of the free list if
// non-empty, otherwise a fresh dense id grown at the end of the file.
func (m *Manager) AllocatePage() (common.PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.freeHead != common.InvalidPageID {
		id := m.freeHead
		buf := make([]byte, page.Size)
		if _, err := m.data.ReadAt(buf, int64(id)*page.Size); err != nil {
			return common.InvalidPageID, fmt.Errorf("reading free list node %s: %w", id, err)
		}
		next := common.PageID(binary.LittleEndian.Uint64(buf[0:8]))
		m.freeHead = next
		if err := m.writeHeaderLocked(); err != nil {
			return common.InvalidPageID, err
		}
		return id, nil
	}

	id := common.PageID(m.numPages)
	if _, err := m.data.WriteAt(make([]byte, page.Size), int64(id)*page.Size); err != nil {
		return common.InvalidPageID, fmt.Errorf("growing data file for page %s: %w", id, err)
	}
	m.numPages++
	if err := m.writeHeaderLocked(); err != nil {
		return common.InvalidPageID, err
	}
	return id, nil
}

// DeallocatePage threads id onto the head of the free list. The slot's bytes
// are overwritten with the free-list link; callers must have flushed any WAL
// record (NEWPAGE's undo) before this takes effect, per the recovery
// contract.
func (m *Manager) DeallocatePage(id common.PageID) error {
	assert.Assert(id != headerPageID, "cannot deallocate the reserved header page")

	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, page.Size)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.freeHead))
	if _, err := m.data.WriteAt(buf, int64(id)*page.Size); err != nil {
		return fmt.Errorf("writing free list node %s: %w", id, err)
	}
	m.freeHead = id
	return m.writeHeaderLocked()
}

// ReadPage fills dst (page.Size bytes) with the on-disk contents of id.
func (m *Manager) ReadPage(id common.PageID, dst []byte) error {
	assert.Assert(len(dst) == page.Size, "ReadPage destination must be exactly %d bytes", page.Size)

	m.mu.Lock()
	defer m.mu.Unlock()

	if uint64(id) >= m.numPages {
		return fmt.Errorf("%w: page %s", common.ErrNoSuchPage, id)
	}
	if _, err := m.data.ReadAt(dst, int64(id)*page.Size); err != nil {
		return fmt.Errorf("reading page %s: %w", id, err)
	}
	return nil
}

// WritePage persists src (page.Size bytes) at id. Per the buffer pool's WAL
// rule, callers must have force-flushed the log up to the page's LSN before
// calling this.
func (m *Manager) WritePage(id common.PageID, src []byte) error {
	assert.Assert(len(src) == page.Size, "WritePage source must be exactly %d bytes", page.Size)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.data.WriteAt(src, int64(id)*page.Size); err != nil {
		return fmt.Errorf("writing page %s: %w", id, err)
	}
	return m.data.Sync()
}

// WriteLog appends a log record's bytes at the end of the log file and
// returns the byte offset it was written at. The write is durable (synced)
// before this returns, matching the specification's log manager contract
// exactly: a force-flush is a completed fsync, not a buffered write.
func (m *Manager) WriteLog(record []byte) (common.FileLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	off := m.logOffset
	n, err := m.log.WriteAt(record, off)
	if err != nil {
		return common.FileLocation{}, fmt.Errorf("appending log record: %w", err)
	}
	if err := m.log.Sync(); err != nil {
		return common.FileLocation{}, fmt.Errorf("syncing log file: %w", err)
	}
	m.logOffset += int64(n)
	return common.FileLocation{Offset: off}, nil
}

// ReadLog reads exactly len(dst) bytes starting at loc, for recovery's
// forward/backward scans.
func (m *Manager) ReadLog(loc common.FileLocation, dst []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.log.ReadAt(dst, loc.Offset); err != nil {
		return fmt.Errorf("reading log at offset %d: %w", loc.Offset, err)
	}
	return nil
}

// LogSize reports how many bytes have been appended to the log file, the
// bound recovery's forward pass scans up to.
func (m *Manager) LogSize() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logOffset
}

// Close closes both files. Page and log writes are already synced as they
// happen, so Close does no further sync.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.data.Close(); err != nil {
		return err
	}
	return m.log.Close()
}
