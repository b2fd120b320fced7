// Package txn defines the transaction context threaded through the lock
// manager and the log: its id, its two-phase-locking state, the rid sets it
// holds locks on, and the LSN chain recovery walks backward on undo.
package txn

import (
	"sync"

	"github.com/blackdeer1524/storage-engine/src/pkg/common"
)

// State is a transaction's position in the two-phase-locking protocol.
type State int

const (
	StateGrowing State = iota
	StateShrinking
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateGrowing:
		return "GROWING"
	case StateShrinking:
		return "SHRINKING"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Transaction is the engine's unit of isolation: a wait-die priority (its
// id), two-phase-locking state, the record-ids it currently holds S/X locks
// on, and the LSN of the last log record it appended (recovery's prev-LSN
// chain head).
type Transaction struct {
	mu sync.Mutex

	id    common.TxnID
	state State

	sharedLocks    map[common.RecordID]struct{}
	exclusiveLocks map[common.RecordID]struct{}

	lastLSN common.LSN
}

func New(id common.TxnID) *Transaction {
	return &Transaction{
		id:             id,
		state:          StateGrowing,
		sharedLocks:    make(map[common.RecordID]struct{}),
		exclusiveLocks: make(map[common.RecordID]struct{}),
		lastLSN:        common.InvalidLSN,
	}
}

func (t *Transaction) ID() common.TxnID { return t.id }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// CASState transitions from `from` to `to`, reporting whether it happened:
// used by the lock manager to transition GROWING→ABORTED exactly once even
// if several goroutines race to abort the same victim.
func (t *Transaction) CASState(from, to State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != from {
		return false
	}
	t.state = to
	return true
}

func (t *Transaction) LastLSN() common.LSN {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastLSN
}

func (t *Transaction) SetLastLSN(lsn common.LSN) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastLSN = lsn
}

func (t *Transaction) AddSharedLock(rid common.RecordID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sharedLocks[rid] = struct{}{}
}

func (t *Transaction) AddExclusiveLock(rid common.RecordID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exclusiveLocks[rid] = struct{}{}
}

func (t *Transaction) RemoveSharedLock(rid common.RecordID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sharedLocks, rid)
}

func (t *Transaction) RemoveExclusiveLock(rid common.RecordID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.exclusiveLocks, rid)
}

func (t *Transaction) HeldLocks() (shared, exclusive []common.RecordID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for rid := range t.sharedLocks {
		shared = append(shared, rid)
	}
	for rid := range t.exclusiveLocks {
		exclusive = append(exclusive, rid)
	}
	return
}
