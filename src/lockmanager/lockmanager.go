// Package lockmanager implements tuple-granularity shared/exclusive locking
// with wait-die deadlock prevention: a pool-wide mutex, a single shared
// condition variable every waiter predicates on its own list's head against,
// and one lock list per contended record-id.
package lockmanager

import (
	"sync"

	"github.com/blackdeer1524/storage-engine/src/pkg/common"
	"github.com/blackdeer1524/storage-engine/src/pkg/logging"
	"github.com/blackdeer1524/storage-engine/src/txn"
)

// Mode is the granted or requested lock mode.
type Mode int

const (
	ModeShared Mode = iota
	ModeExclusive
)

type entry struct {
	txnID common.TxnID
	mode  Mode
	held  bool
}

// lockList is one record-id's queue: entries in grant order, held ones at
// the front (at most one X, or any number of S, can be held at once), then
// waiting entries sorted by ascending txn id (oldest-first) behind them.
type lockList struct {
	entries []*entry
	oldest  common.TxnID
}

func newLockList() *lockList {
	return &lockList{oldest: common.NilTxnID}
}

func (l *lockList) recomputeOldest() {
	l.oldest = common.NilTxnID
	for _, e := range l.entries {
		if l.oldest == common.NilTxnID || e.txnID < l.oldest {
			l.oldest = e.txnID
		}
	}
}

// Manager is the lock manager. Strict2PL, when true, requires every lock be
// held until COMMITTED/ABORTED: unlocking earlier is a protocol violation
// that aborts the caller.
type Manager struct {
	mu        sync.Mutex
	cond      *sync.Cond
	lists     map[common.RecordID]*lockList
	strict2PL bool
	logger    logging.Logger
}

func New(strict2PL bool, logger logging.Logger) *Manager {
	m := &Manager{
		lists:     make(map[common.RecordID]*lockList),
		strict2PL: strict2PL,
		logger:    logger,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// isGrowable reports whether t may still acquire locks: not aborted,
// committed, or (under strict 2PL, irrelevant; under non-strict) shrinking.
func isGrowable(s txn.State) bool {
	return s == txn.StateGrowing
}

// LockShared acquires a shared lock on rid for t, blocking under wait-die if
// rid is exclusively held by a younger transaction, or aborting t if it is
// the younger one. Returns false (and aborts t) on any failure.
func (m *Manager) LockShared(t *txn.Transaction, rid common.RecordID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isGrowable(t.State()) {
		t.CASState(t.State(), txn.StateAborted)
		return false
	}

	list, ok := m.lists[rid]
	if !ok {
		list = newLockList()
		m.lists[rid] = list
		list.entries = append(list.entries, &entry{txnID: t.ID(), mode: ModeShared, held: true})
		list.recomputeOldest()
		t.AddSharedLock(rid)
		return true
	}

	if len(list.entries) == 0 || list.entries[0].mode == ModeShared {
		list.entries = append([]*entry{{txnID: t.ID(), mode: ModeShared, held: true}}, list.entries...)
		list.recomputeOldest()
		t.AddSharedLock(rid)
		return true
	}

	// Head is exclusive: wait-die.
	if t.ID() > list.oldest {
		t.CASState(txn.StateGrowing, txn.StateAborted)
		return false
	}

	e := &entry{txnID: t.ID(), mode: ModeShared, held: false}
	m.insertWaitingLocked(list, e)

	for !m.isHeadLocked(list, e) {
		m.cond.Wait()
		if t.State() == txn.StateAborted {
			m.removeEntryLocked(list, e)
			return false
		}
	}
	e.held = true
	t.AddSharedLock(rid)
	return true
}

// LockExclusive acquires an exclusive lock on rid, using the same wait-die
// rule against any currently held lock (S or X), since X is compatible with
// nothing.
func (m *Manager) LockExclusive(t *txn.Transaction, rid common.RecordID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isGrowable(t.State()) {
		t.CASState(t.State(), txn.StateAborted)
		return false
	}

	list, ok := m.lists[rid]
	if !ok {
		list = newLockList()
		m.lists[rid] = list
		list.entries = append(list.entries, &entry{txnID: t.ID(), mode: ModeExclusive, held: true})
		list.recomputeOldest()
		t.AddExclusiveLock(rid)
		return true
	}

	if len(list.entries) == 0 {
		list.entries = append(list.entries, &entry{txnID: t.ID(), mode: ModeExclusive, held: true})
		list.recomputeOldest()
		t.AddExclusiveLock(rid)
		return true
	}

	if t.ID() > list.oldest {
		t.CASState(txn.StateGrowing, txn.StateAborted)
		return false
	}

	e := &entry{txnID: t.ID(), mode: ModeExclusive, held: false}
	m.insertWaitingLocked(list, e)

	for !m.isHeadLocked(list, e) {
		m.cond.Wait()
		if t.State() == txn.StateAborted {
			m.removeEntryLocked(list, e)
			return false
		}
	}
	e.held = true
	t.AddExclusiveLock(rid)
	return true
}

// LockUpgrade promotes t's held S lock on rid to X. t must currently hold S.
func (m *Manager) LockUpgrade(t *txn.Transaction, rid common.RecordID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	list, ok := m.lists[rid]
	if !ok {
		return false
	}

	others := common.NilTxnID
	for _, e := range list.entries {
		if e.txnID == t.ID() {
			continue
		}
		if others == common.NilTxnID || e.txnID < others {
			others = e.txnID
		}
	}
	if others != common.NilTxnID && t.ID() > others {
		t.CASState(txn.StateGrowing, txn.StateAborted)
		m.removeTxnLocked(list, t.ID())
		t.RemoveSharedLock(rid)
		return false
	}

	m.removeTxnLocked(list, t.ID())
	e := &entry{txnID: t.ID(), mode: ModeExclusive, held: false}
	m.insertWaitingLocked(list, e)

	for !m.isHeadLocked(list, e) {
		m.cond.Wait()
		if t.State() == txn.StateAborted {
			m.removeEntryLocked(list, e)
			return false
		}
	}
	e.held = true
	t.RemoveSharedLock(rid)
	t.AddExclusiveLock(rid)
	return true
}

// Unlock releases t's lock on rid. Under strict 2PL this is only legal once
// t is COMMITTED or ABORTED; calling it earlier is a protocol violation that
// aborts t. Under non-strict 2PL, the first unlock moves a GROWING
// transaction to SHRINKING.
func (m *Manager) Unlock(t *txn.Transaction, rid common.RecordID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := t.State()
	if m.strict2PL {
		if state != txn.StateCommitted && state != txn.StateAborted {
			t.SetState(txn.StateAborted)
			return false
		}
	} else if state == txn.StateGrowing {
		t.SetState(txn.StateShrinking)
	}

	list, ok := m.lists[rid]
	if !ok {
		return true
	}

	removedWasXOrHead := false
	for i, e := range list.entries {
		if e.txnID != t.ID() {
			continue
		}
		if e.mode == ModeExclusive || i == 0 {
			removedWasXOrHead = true
		}
		list.entries = append(list.entries[:i], list.entries[i+1:]...)
		break
	}
	list.recomputeOldest()

	t.RemoveSharedLock(rid)
	t.RemoveExclusiveLock(rid)

	if removedWasXOrHead {
		m.cond.Broadcast()
	}
	return true
}

func (m *Manager) insertWaitingLocked(list *lockList, e *entry) {
	i := len(list.entries)
	for i > 0 && !list.entries[i-1].held && list.entries[i-1].txnID > e.txnID {
		i--
	}
	list.entries = append(list.entries, nil)
	copy(list.entries[i+1:], list.entries[i:])
	list.entries[i] = e
	list.recomputeOldest()
}

func (m *Manager) isHeadLocked(list *lockList, e *entry) bool {
	return len(list.entries) > 0 && list.entries[0] == e
}

func (m *Manager) removeEntryLocked(list *lockList, e *entry) {
	for i, cand := range list.entries {
		if cand == e {
			list.entries = append(list.entries[:i], list.entries[i+1:]...)
			break
		}
	}
	list.recomputeOldest()
	m.cond.Broadcast()
}

func (m *Manager) removeTxnLocked(list *lockList, id common.TxnID) {
	for i, e := range list.entries {
		if e.txnID == id {
			list.entries = append(list.entries[:i], list.entries[i+1:]...)
			break
		}
	}
	list.recomputeOldest()
}
