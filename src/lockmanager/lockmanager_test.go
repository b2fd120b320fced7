package lockmanager_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blackdeer1524/storage-engine/src/lockmanager"
	"github.com/blackdeer1524/storage-engine/src/pkg/common"
	"github.com/blackdeer1524/storage-engine/src/pkg/logging"
	"github.com/blackdeer1524/storage-engine/src/txn"
)

var rid = common.RecordID{PageID: 1, Slot: 0}

func TestTwoSharedLocksBothGrant(t *testing.T) {
	lm := lockmanager.New(true, logging.Nop())
	t1 := txn.New(1)
	t2 := txn.New(2)

	require.True(t, lm.LockShared(t1, rid))
	require.True(t, lm.LockShared(t2, rid))
}

func TestExclusiveExcludesShared(t *testing.T) {
	lm := lockmanager.New(true, logging.Nop())
	// The requester is older than the holder, so wait-die makes it wait
	// rather than die.
	holder := txn.New(2)
	requester := txn.New(1)

	require.True(t, lm.LockExclusive(holder, rid))

	done := make(chan bool, 1)
	go func() { done <- lm.LockShared(requester, rid) }()

	select {
	case <-done:
		t.Fatal("a shared request should block behind an exclusive holder")
	case <-time.After(50 * time.Millisecond):
	}

	holder.SetState(txn.StateCommitted)
	require.True(t, lm.Unlock(holder, rid))

	require.True(t, <-done)
}

func TestWaitDieAbortsYoungerRequester(t *testing.T) {
	lm := lockmanager.New(true, logging.Nop())
	older := txn.New(1)
	younger := txn.New(5)

	require.True(t, lm.LockExclusive(older, rid))

	ok := lm.LockShared(younger, rid)
	require.False(t, ok, "younger transaction requesting against an older holder must die, not wait")
	require.Equal(t, txn.StateAborted, younger.State())
}

func TestWaitDieBlocksOlderRequester(t *testing.T) {
	lm := lockmanager.New(true, logging.Nop())
	youngHolder := txn.New(5)
	olderRequester := txn.New(1)

	require.True(t, lm.LockExclusive(youngHolder, rid))

	var wg sync.WaitGroup
	wg.Add(1)
	var granted bool
	go func() {
		defer wg.Done()
		granted = lm.LockShared(olderRequester, rid)
	}()

	time.Sleep(50 * time.Millisecond)
	youngHolder.SetState(txn.StateCommitted)
	require.True(t, lm.Unlock(youngHolder, rid))

	wg.Wait()
	require.True(t, granted, "older transaction should wait, then be granted once the younger holder releases")
}

func TestUnlockBeforeTerminalUnderStrict2PLAborts(t *testing.T) {
	lm := lockmanager.New(true, logging.Nop())
	t1 := txn.New(1)
	require.True(t, lm.LockExclusive(t1, rid))

	ok := lm.Unlock(t1, rid)
	require.False(t, ok)
	require.Equal(t, txn.StateAborted, t1.State())
}

func TestLockUpgradeFromSharedToExclusive(t *testing.T) {
	lm := lockmanager.New(true, logging.Nop())
	t1 := txn.New(1)
	require.True(t, lm.LockShared(t1, rid))
	require.True(t, lm.LockUpgrade(t1, rid))

	shared, exclusive := t1.HeldLocks()
	require.Empty(t, shared)
	require.Equal(t, []common.RecordID{rid}, exclusive)
}
