package replay

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitRejectsEqualAndLower(t *testing.T) {
	tb := New(4)
	require.NoError(t, tb.Check(7, 1))
	require.NoError(t, tb.Commit(7, 1))
	assert.ErrorIs(t, tb.Check(7, 1), ErrReplay)
	assert.ErrorIs(t, tb.Commit(7, 1), ErrReplay)
	require.NoError(t, tb.Commit(7, 10))
	assert.ErrorIs(t, tb.Commit(7, 9), ErrReplay)

	m, ok := tb.Get(7)
	require.True(t, ok)
	assert.Equal(t, uint32(10), m.HighWater)
}

func TestSequenceZeroIsNeverAccepted(t *testing.T) {
	tb := New(4)
	assert.ErrorIs(t, tb.Commit(1, 0), ErrReplay)
}

func TestMarkForwardedOnce(t *testing.T) {
	tb := New(4)
	assert.True(t, tb.MarkForwarded(3, 5))
	assert.False(t, tb.MarkForwarded(3, 5))
	assert.False(t, tb.MarkForwarded(3, 4))
	assert.True(t, tb.MarkForwarded(3, 6))
}

func TestEvictsLeastRecentlyUpdated(t *testing.T) {
	tb := New(2)
	require.NoError(t, tb.Commit(1, 1))
	require.NoError(t, tb.Commit(2, 1))
	require.NoError(t, tb.Commit(1, 2)) // sender 1 is now newest
	require.NoError(t, tb.Commit(3, 1)) // evicts sender 2

	_, ok := tb.Get(2)
	assert.False(t, ok)
	_, ok = tb.Get(1)
	assert.True(t, ok)
	assert.Equal(t, Stats{Entries: 2, Evictions: 1}, tb.Stats())

	// an evicted sender starts over with no history
	assert.NoError(t, tb.Check(2, 1))
}

func TestSnapshotLoadNeverLowers(t *testing.T) {
	a := New(8)
	require.NoError(t, a.Commit(1, 50))
	a.MarkForwarded(1, 40)
	require.NoError(t, a.Commit(2, 3))

	b := New(8)
	require.NoError(t, b.Commit(2, 9))
	b.Load(a.Snapshot())

	m1, _ := b.Get(1)
	m2, _ := b.Get(2)
	assert.Equal(t, Mark{Sender: 1, HighWater: 50, Forwarded: 40}, m1)
	assert.Equal(t, uint32(9), m2.HighWater)
	assert.ErrorIs(t, b.Commit(1, 50), ErrReplay)
}

func TestConcurrentCommitSingleWinner(t *testing.T) {
	tb := New(8)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tb.Commit(9, 100) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
