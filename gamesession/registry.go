package gamesession

import (
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
)

const (
	initialSlots = 8
	slotGrowth   = 1.7
)

type connRef struct {
	slot int32
	id   uuid.UUID
}

// Registry is the process-local directory of live GameSessions on a game
// node. The match-id map is authoritative; the slot table gives O(1)
// addressing for the reverse connection index, whose entries are advisory
// and revalidated against the authoritative map before use.
type Registry struct {
	mu    sync.RWMutex
	games map[uuid.UUID]*GameSession
	cache []*GameSession
	free  []int32
	conns map[uint64]connRef

	joinTimeout time.Duration
	hooks       Hooks
	log         slog.Logger
}

func NewRegistry(hooks Hooks, joinTimeout time.Duration, log slog.Logger) *Registry {
	r := &Registry{
		games:       make(map[uuid.UUID]*GameSession),
		cache:       make([]*GameSession, initialSlots),
		conns:       make(map[uint64]connRef),
		joinTimeout: joinTimeout,
		hooks:       hooks,
		log:         log,
	}
	for i := initialSlots - 1; i >= 0; i-- {
		r.free = append(r.free, int32(i))
	}
	return r
}

// Create registers a session for the given match id with two empty seats
// pre-labelled by users. Creation is idempotent per match id: both players'
// handoffs race to resolve the same match and the second one gets the
// session the first one made.
func (r *Registry) Create(id uuid.UUID, users []string) (*GameSession, error) {
	if len(users) != 2 {
		return nil, fmt.Errorf("game %s: want exactly 2 users, got %d", id, len(users))
	}

	r.mu.Lock()
	if g, ok := r.games[id]; ok {
		r.mu.Unlock()
		return g, nil
	}
	slot := r.allocSlot()
	g := &GameSession{
		ID:    id,
		Slot:  slot,
		lane:  newLane(),
		reg:   r,
		hooks: r.hooks,
		log:   r.log,
	}
	for i := range users {
		g.seats[i].accountID = users[i]
	}
	// Arm the timer before the session is visible: once it lands in the
	// maps another goroutine may resolve it and reach destroy on the lane,
	// which reads g.timer.
	g.timer = time.AfterFunc(r.joinTimeout, func() {
		g.lane.post(g.checkStartTimeout)
	})
	r.games[id] = g
	r.cache[slot] = g
	r.mu.Unlock()

	r.log.Debugf("Game %s: created (slot=%d, users=%v)", id, slot, users)
	return g, nil
}

// Resolve is the authoritative lookup by match id.
func (r *Registry) Resolve(id uuid.UUID) *GameSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.games[id]
}

// ResolveConn looks up the session a connection is seated in. The slot
// cache may be stale (the slot can be reused by a later match), so a hit is
// trusted only when the match id still agrees; otherwise the entry is
// dropped and the authoritative map decides.
func (r *Registry) ResolveConn(connID uint64) *GameSession {
	r.mu.RLock()
	ref, ok := r.conns[connID]
	var g *GameSession
	if ok && int(ref.slot) < len(r.cache) {
		g = r.cache[ref.slot]
	}
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if g != nil && g.ID == ref.id {
		return g
	}

	r.mu.Lock()
	g = r.games[ref.id]
	if g == nil {
		delete(r.conns, connID)
	}
	r.mu.Unlock()
	return g
}

// Unregister removes the session from both maps and reclaims its slot.
// A second call is a no-op: the match-id entry is already gone.
func (r *Registry) Unregister(g *GameSession) {
	r.mu.Lock()
	if _, ok := r.games[g.ID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.games, g.ID)
	r.cache[g.Slot] = nil
	r.free = append(r.free, g.Slot)
	for connID, ref := range r.conns {
		if ref.id == g.ID {
			delete(r.conns, connID)
		}
	}
	r.mu.Unlock()

	g.lane.stop()
	r.log.Debugf("Game %s: unregistered (slot=%d)", g.ID, g.Slot)
}

// Live reports the number of registered sessions.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// SlotCap reports the current size of the slot table.
func (r *Registry) SlotCap() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// Shutdown tears down every live session, redirecting seated players to the
// lobby.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	live := make([]*GameSession, 0, len(r.games))
	for _, g := range r.games {
		live = append(live, g)
	}
	r.mu.RUnlock()
	for _, g := range live {
		g.lane.post(g.destroy)
	}
}

func (r *Registry) bindConn(connID uint64, g *GameSession) {
	r.mu.Lock()
	r.conns[connID] = connRef{slot: g.Slot, id: g.ID}
	r.mu.Unlock()
}

func (r *Registry) dropConn(connID uint64) {
	r.mu.Lock()
	delete(r.conns, connID)
	r.mu.Unlock()
}

// allocSlot pops a free slot, growing the table by ~1.7x when exhausted.
// Caller holds r.mu.
func (r *Registry) allocSlot() int32 {
	if n := len(r.free); n > 0 {
		slot := r.free[n-1]
		r.free = r.free[:n-1]
		return slot
	}
	old := len(r.cache)
	grown := int(float64(old) * slotGrowth)
	if grown <= old {
		grown = old + 1
	}
	bigger := make([]*GameSession, grown)
	copy(bigger, r.cache)
	r.cache = bigger
	for i := grown - 1; i > old; i-- {
		r.free = append(r.free, int32(i))
	}
	return int32(old)
}
