package matchmaker

import (
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	player string
	match  *Match
	res    Result
}

func collect() (MatchHandler, <-chan outcome) {
	ch := make(chan outcome, 8)
	return func(player string, m *Match, res Result) {
		ch <- outcome{player: player, match: m, res: res}
	}, ch
}

func waitOutcome(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(time.Second):
		t.Fatal("no matchmaking outcome")
		return outcome{}
	}
}

func assertNoOutcome(t *testing.T, ch <-chan outcome) {
	t.Helper()
	select {
	case o := <-ch:
		t.Fatalf("unexpected outcome: %+v", o)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEnginePairsFirstTwo(t *testing.T) {
	e := NewEngine(OneVsOne(), time.Minute, slog.Disabled)

	h1, ch1 := collect()
	h2, ch2 := collect()
	e.Request("p1", h1)
	assertNoOutcome(t, ch1)
	e.Request("p2", h2)

	o1 := waitOutcome(t, ch1)
	o2 := waitOutcome(t, ch2)
	assert.Equal(t, ResultSuccess, o1.res)
	assert.Equal(t, ResultSuccess, o2.res)
	require.NotNil(t, o1.match)
	assert.Same(t, o1.match, o2.match)

	// Sides follow arrival order.
	assert.Equal(t, "p1", o1.match.Context.A)
	assert.Equal(t, "p2", o1.match.Context.B)
	assert.Equal(t, "p2", o1.match.Opponent("p1"))
	assert.Equal(t, "p1", o1.match.Opponent("p2"))

	assert.False(t, e.Pending("p1"))
	assert.False(t, e.Pending("p2"))
}

func TestEngineThirdPlayerStartsNewMatch(t *testing.T) {
	e := NewEngine(OneVsOne(), time.Minute, slog.Disabled)

	h1, ch1 := collect()
	h2, _ := collect()
	h3, ch3 := collect()
	e.Request("p1", h1)
	e.Request("p2", h2)
	waitOutcome(t, ch1)

	e.Request("p3", h3)
	assertNoOutcome(t, ch3)
	assert.True(t, e.Pending("p3"))

	h4, ch4 := collect()
	e.Request("p4", h4)
	o3 := waitOutcome(t, ch3)
	o4 := waitOutcome(t, ch4)
	assert.Equal(t, "p3", o3.match.Context.A)
	assert.Equal(t, "p4", o4.match.Context.B)
}

func TestEngineAlreadyRequested(t *testing.T) {
	e := NewEngine(OneVsOne(), time.Minute, slog.Disabled)

	h1, ch1 := collect()
	dup, dupCh := collect()
	e.Request("p1", h1)
	e.Request("p1", dup)

	o := waitOutcome(t, dupCh)
	assert.Equal(t, ResultAlreadyRequested, o.res)
	assert.Nil(t, o.match)
	assertNoOutcome(t, ch1)
	assert.True(t, e.Pending("p1"), "duplicate request evicted the original")
}

func TestEngineTimeout(t *testing.T) {
	e := NewEngine(OneVsOne(), 30*time.Millisecond, slog.Disabled)

	h1, ch1 := collect()
	e.Request("p1", h1)
	o := waitOutcome(t, ch1)
	assert.Equal(t, ResultTimeout, o.res)
	assert.False(t, e.Pending("p1"))

	// The expired player's half-open match must not trap the next joiner's
	// side assignment.
	h2, ch2 := collect()
	h3, _ := collect()
	e.Request("p2", h2)
	e.Request("p3", h3)
	o2 := waitOutcome(t, ch2)
	assert.Equal(t, ResultSuccess, o2.res)
	assert.Equal(t, "p2", o2.match.Context.A)
	assert.Equal(t, "p3", o2.match.Context.B)
}

func TestEngineCancel(t *testing.T) {
	e := NewEngine(OneVsOne(), time.Minute, slog.Disabled)

	cancelled := make(chan CancelResult, 1)
	e.Cancel("p1", func(_ string, res CancelResult) { cancelled <- res })
	assert.Equal(t, CancelNoRequest, <-cancelled)

	h1, ch1 := collect()
	e.Request("p1", h1)
	e.Cancel("p1", func(_ string, res CancelResult) { cancelled <- res })
	assert.Equal(t, CancelOK, <-cancelled)
	assert.False(t, e.Pending("p1"))
	assertNoOutcome(t, ch1)

	// The freed side is open for the next pair.
	h2, ch2 := collect()
	h3, _ := collect()
	e.Request("p2", h2)
	e.Request("p3", h3)
	o := waitOutcome(t, ch2)
	assert.Equal(t, "p2", o.match.Context.A)
	assert.Equal(t, "p3", o.match.Context.B)
}

func TestEngineCancelNilHandler(t *testing.T) {
	e := NewEngine(OneVsOne(), time.Minute, slog.Disabled)

	h1, ch1 := collect()
	e.Request("p1", h1)
	e.Cancel("p1", nil)
	assert.False(t, e.Pending("p1"))
	assertNoOutcome(t, ch1)
}

func TestEngineCompletionReportedOnce(t *testing.T) {
	e := NewEngine(OneVsOne(), time.Minute, slog.Disabled)

	h1, ch1 := collect()
	h2, ch2 := collect()
	e.Request("p1", h1)
	e.Request("p2", h2)
	waitOutcome(t, ch1)
	waitOutcome(t, ch2)

	// Neither the timer nor a late cancel may produce a second report.
	cancelled := make(chan CancelResult, 1)
	e.Cancel("p1", func(_ string, res CancelResult) { cancelled <- res })
	assert.Equal(t, CancelNoRequest, <-cancelled)
	assertNoOutcome(t, ch1)
	assertNoOutcome(t, ch2)
}
