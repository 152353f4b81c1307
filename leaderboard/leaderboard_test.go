package leaderboard

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoard(t *testing.T) *Board {
	t.Helper()
	b, err := NewBoard(filepath.Join(t.TempDir(), "board.db"), slog.Disabled)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

// submit runs an async board op and waits for it to land.
func submit(t *testing.T, op func(h SubmitHandler)) int64 {
	t.Helper()
	done := make(chan int64, 1)
	op(func(_ string, score int64, err error) {
		require.NoError(t, err)
		done <- score
	})
	select {
	case score := <-done:
		return score
	case <-time.After(time.Second):
		t.Fatal("board submission never completed")
		return 0
	}
}

func TestStreakIncrementAndReset(t *testing.T) {
	b := newTestBoard(t)

	assert.EqualValues(t, 1, submit(t, func(h SubmitHandler) { b.IncreaseCurWinCount("alice", h) }))
	assert.EqualValues(t, 2, submit(t, func(h SubmitHandler) { b.IncreaseCurWinCount("alice", h) }))

	cur, err := b.CurrentRecord("alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, cur)

	submit(t, func(h SubmitHandler) { b.ResetCurWinCount("alice", h) })
	cur, err = b.CurrentRecord("alice")
	require.NoError(t, err)
	assert.Zero(t, cur)

	// Unknown player reads as zero, not an error.
	cur, err = b.CurrentRecord("ghost")
	require.NoError(t, err)
	assert.Zero(t, cur)
}

func TestRecordKeepsBestStreak(t *testing.T) {
	b := newTestBoard(t)

	for i := 0; i < 3; i++ {
		submit(t, func(h SubmitHandler) { b.IncreaseCurWinCount("alice", h) })
	}
	submit(t, func(h SubmitHandler) { b.ResetCurWinCount("alice", h) })
	submit(t, func(h SubmitHandler) { b.IncreaseCurWinCount("alice", h) })

	top, err := b.TopEight()
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.EqualValues(t, 3, top[0].Score, "record lost to a shorter later streak")
}

func TestTopEight(t *testing.T) {
	b := newTestBoard(t)

	// Ten players with streaks 1..10.
	for i := 1; i <= 10; i++ {
		id := fmt.Sprintf("p%02d", i)
		for j := 0; j < i; j++ {
			submit(t, func(h SubmitHandler) { b.IncreaseCurWinCount(id, h) })
		}
	}

	top, err := b.TopEight()
	require.NoError(t, err)
	require.Len(t, top, 8)
	assert.Equal(t, Entry{Rank: 1, Score: 10, ID: "p10"}, top[0])
	assert.Equal(t, Entry{Rank: 8, Score: 3, ID: "p03"}, top[7])
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].Score, top[i].Score)
	}
}

func TestTopEightTieBreaksByID(t *testing.T) {
	b := newTestBoard(t)
	for _, id := range []string{"carol", "alice", "bob"} {
		submit(t, func(h SubmitHandler) { b.IncreaseCurWinCount(id, h) })
	}

	top, err := b.TopEight()
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "alice", top[0].ID)
	assert.Equal(t, "bob", top[1].ID)
	assert.Equal(t, "carol", top[2].ID)
}
