package gamesession

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMsg struct {
	Type string
	Body any
}

type fakeConn struct {
	id      uint64
	account string

	mu     sync.Mutex
	msgs   []fakeMsg
	closed string
}

func (f *fakeConn) ID() uint64      { return f.id }
func (f *fakeConn) Account() string { return f.account }

func (f *fakeConn) Send(msgType string, body any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, fakeMsg{Type: msgType, Body: body})
	return nil
}

func (f *fakeConn) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = reason
}

func (f *fakeConn) received(msgType string) []fakeMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeMsg
	for _, m := range f.msgs {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

type hookRecorder struct {
	mu      sync.Mutex
	moved   []uint64
	records [][2]string
	reports []uuid.UUID
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		MoveToLobby: func(c Conn) {
			h.mu.Lock()
			h.moved = append(h.moved, c.ID())
			h.mu.Unlock()
		},
		RecordMatch: func(winner, loser string) {
			h.mu.Lock()
			h.records = append(h.records, [2]string{winner, loser})
			h.mu.Unlock()
		},
		ReportResult: func(id uuid.UUID, winner, loser string) {
			h.mu.Lock()
			h.reports = append(h.reports, id)
			h.mu.Unlock()
		},
	}
}

func (h *hookRecorder) recorded() [][2]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][2]string(nil), h.records...)
}

func (h *hookRecorder) movedConns() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint64(nil), h.moved...)
}

var nextFakeID atomic.Uint64

func newFakeConn(account string) *fakeConn {
	return &fakeConn{id: nextFakeID.Add(1), account: account}
}

func newTestRegistry(t *testing.T, joinTimeout time.Duration) (*Registry, *hookRecorder) {
	t.Helper()
	rec := &hookRecorder{}
	reg := NewRegistry(rec.hooks(), joinTimeout, slog.Disabled)
	return reg, rec
}

func createTestGame(t *testing.T, reg *Registry, users ...string) *GameSession {
	t.Helper()
	g, err := reg.Create(uuid.New(), users)
	require.NoError(t, err)
	return g
}

// barrier waits until every previously posted lane op has run.
func barrier(g *GameSession) {
	g.lane.call(func() bool { return true })
}

func TestSessionReadyBarrier(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Minute)
	g := createTestGame(t, reg, "alice", "bob")

	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	require.True(t, g.Join(alice))
	require.True(t, g.Join(bob))

	g.SetReady(alice)
	barrier(g)
	assert.Empty(t, alice.received("start"), "start before both ready")
	assert.Empty(t, bob.received("start"))

	g.SetReady(bob)
	barrier(g)
	assert.Len(t, alice.received("start"), 1)
	assert.Len(t, bob.received("start"), 1)

	// A redundant ready must not re-broadcast.
	g.SetReady(alice)
	barrier(g)
	assert.Len(t, alice.received("start"), 1)
	assert.Len(t, bob.received("start"), 1)
}

func TestSessionReadyRequiresBothAttached(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Minute)
	g := createTestGame(t, reg, "alice", "bob")

	alice := newFakeConn("alice")
	require.True(t, g.Join(alice))

	g.SetReady(alice)
	barrier(g)
	assert.Empty(t, alice.received("start"), "start with an empty seat")
}

func TestSessionJoinUnknownAccount(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Minute)
	g := createTestGame(t, reg, "alice", "bob")

	mallory := newFakeConn("mallory")
	assert.False(t, g.Join(mallory))
	assert.Nil(t, reg.ResolveConn(mallory.ID()))
}

func TestSessionRejoinReplacesConn(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Minute)
	g := createTestGame(t, reg, "alice", "bob")

	stale := newFakeConn("alice")
	fresh := newFakeConn("alice")
	require.True(t, g.Join(stale))
	require.True(t, g.Join(fresh))

	assert.Equal(t, g, reg.ResolveConn(fresh.ID()))
	assert.Nil(t, reg.ResolveConn(stale.ID()), "stale conn still resolves")
}

func TestSessionRelay(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Minute)
	g := createTestGame(t, reg, "alice", "bob")

	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	require.True(t, g.Join(alice))
	require.True(t, g.Join(bob))

	payload := json.RawMessage(`{"x":17,"y":3}`)
	g.Relay(alice, payload)
	barrier(g)

	got := bob.received("relay")
	if assert.Len(t, got, 1) {
		assert.Equal(t, payload, got[0].Body.(json.RawMessage))
	}
	assert.Empty(t, alice.received("relay"), "relay echoed to sender")
}

func TestSessionRelayWithoutOpponent(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Minute)
	g := createTestGame(t, reg, "alice", "bob")

	alice := newFakeConn("alice")
	require.True(t, g.Join(alice))

	// No opponent attached: dropped without a reply.
	g.Relay(alice, json.RawMessage(`{}`))
	barrier(g)
	assert.Empty(t, alice.received("relay"))
}

func TestSessionResult(t *testing.T) {
	reg, rec := newTestRegistry(t, time.Minute)
	g := createTestGame(t, reg, "alice", "bob")
	gameID := g.ID

	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	require.True(t, g.Join(alice))
	require.True(t, g.Join(bob))
	g.SetReady(alice)
	g.SetReady(bob)

	// Bob lost and reports it.
	g.SetResult(bob)
	barrier(g)

	if wins := alice.received("result"); assert.Len(t, wins, 1) {
		assert.Equal(t, statusBody{Result: "win"}, wins[0].Body)
	}
	if losses := bob.received("result"); assert.Len(t, losses, 1) {
		assert.Equal(t, statusBody{Result: "lose"}, losses[0].Body)
	}
	assert.Equal(t, [][2]string{{"alice", "bob"}}, rec.recorded())

	assert.Eventually(t, func() bool { return reg.Live() == 0 },
		time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []uint64{alice.ID(), bob.ID()}, rec.movedConns())
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []uuid.UUID{gameID}, rec.reports)
}

func TestSessionForfeitOnDetach(t *testing.T) {
	reg, rec := newTestRegistry(t, time.Minute)
	g := createTestGame(t, reg, "alice", "bob")

	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	require.True(t, g.Join(alice))
	require.True(t, g.Join(bob))
	g.SetReady(alice)
	g.SetReady(bob)
	barrier(g)

	// Alice's transport dies mid-match: bob wins by forfeit.
	g.Detach(alice)
	barrier(g)

	if wins := bob.received("result"); assert.Len(t, wins, 1) {
		assert.Equal(t, statusBody{Result: "win"}, wins[0].Body)
	}
	assert.Equal(t, [][2]string{{"bob", "alice"}}, rec.recorded())
	assert.Eventually(t, func() bool { return reg.Live() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestSessionLeaveBeforeStart(t *testing.T) {
	reg, rec := newTestRegistry(t, time.Minute)
	g := createTestGame(t, reg, "alice", "bob")

	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	require.True(t, g.Join(alice))
	require.True(t, g.Join(bob))

	// Not started yet: no forfeit, no records, session still tears down.
	assert.False(t, g.Leave("alice"))
	assert.Empty(t, bob.received("result"))
	assert.Empty(t, rec.recorded())
	assert.Eventually(t, func() bool { return reg.Live() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestSessionLeaveLastConn(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Minute)
	g := createTestGame(t, reg, "alice", "bob")

	alice := newFakeConn("alice")
	require.True(t, g.Join(alice))
	assert.True(t, g.Leave("alice"), "no live conn should remain")
}

func TestSessionStartTimeout(t *testing.T) {
	reg, rec := newTestRegistry(t, 50*time.Millisecond)
	g := createTestGame(t, reg, "alice", "bob")

	alice := newFakeConn("alice")
	require.True(t, g.Join(alice))
	g.SetReady(alice)

	assert.Eventually(t, func() bool { return reg.Live() == 0 },
		time.Second, 10*time.Millisecond)
	assert.Equal(t, []uint64{alice.ID()}, rec.movedConns())
	assert.Empty(t, rec.recorded(), "timeout recorded as a match result")
}

func TestSessionNoTimeoutOnceRunning(t *testing.T) {
	reg, _ := newTestRegistry(t, 50*time.Millisecond)
	g := createTestGame(t, reg, "alice", "bob")

	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	require.True(t, g.Join(alice))
	require.True(t, g.Join(bob))
	g.SetReady(alice)
	g.SetReady(bob)
	barrier(g)

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1, reg.Live(), "running match torn down by the join timer")
}

func TestSessionDestroyExactlyOnce(t *testing.T) {
	reg, rec := newTestRegistry(t, time.Minute)
	g := createTestGame(t, reg, "alice", "bob")

	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	require.True(t, g.Join(alice))
	require.True(t, g.Join(bob))
	g.SetReady(alice)
	g.SetReady(bob)

	// Result report and both disconnects race; teardown must collapse to
	// one settlement and one lobby move per player.
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); g.SetResult(bob) }()
	go func() { defer wg.Done(); g.Detach(alice) }()
	go func() { defer wg.Done(); g.Detach(bob) }()
	wg.Wait()
	barrier(g)

	assert.Len(t, rec.recorded(), 1)
	moved := rec.movedConns()
	assert.LessOrEqual(t, len(moved), 2)
	seen := map[uint64]int{}
	for _, id := range moved {
		seen[id]++
		assert.Equal(t, 1, seen[id], "conn moved to lobby twice")
	}
}
