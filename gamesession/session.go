package gamesession

import (
	"encoding/json"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
)

// Conn is the non-owning view of a client connection held by a seat. The
// connection layer owns the connection's lifetime and must call Detach (or
// Leave) on teardown; seats never keep a connection alive on their own.
type Conn interface {
	ID() uint64
	Account() string
	Send(msgType string, body any) error
	Close(reason string)
}

// Hooks are the external collaborators a session calls out to. All of them
// must be safe to call from the session's lane; blocking work (redirects,
// store writes, result posts) happens on the callee's side.
type Hooks struct {
	// MoveToLobby relocates a connection back to a lobby node. Best effort;
	// a failed move leaves the connection where it is.
	MoveToLobby func(c Conn)
	// RecordMatch bumps the persistent win/lose counters for both accounts.
	RecordMatch func(winner, loser string)
	// ReportResult posts the outcome to the external result aggregation
	// endpoint. Best effort.
	ReportResult func(matchID uuid.UUID, winner, loser string)
}

type seat struct {
	accountID string
	conn      Conn
	ready     bool
}

type statusBody struct {
	Result string `json:"result"`
}

// GameSession is the per-match state machine: a two-seat roster with a
// ready barrier, verbatim relay, result arbitration, a join timeout, and
// exactly-once teardown. All state past construction is mutated only on the
// session's lane.
type GameSession struct {
	ID   uuid.UUID
	Slot int32

	seats     [2]seat
	started   bool
	destroyed bool

	lane  *lane
	reg   *Registry
	hooks Hooks
	timer *time.Timer
	log   slog.Logger
}

// Join attaches the connection to the seat pre-labelled with its account id.
// A prior stale connection on the same seat is overwritten; a reconnect is a
// supported recovery path, not an error. Returns false if the account does
// not belong to this match, in which case the caller must close the
// connection.
func (g *GameSession) Join(c Conn) bool {
	return g.lane.call(func() bool {
		if g.destroyed {
			return false
		}
		uid := c.Account()
		for i := range g.seats {
			if g.seats[i].accountID != uid {
				continue
			}
			if g.seats[i].conn != nil {
				g.log.Warnf("Game %s: user %s already has a connection, replacing", g.ID, uid)
				g.reg.dropConn(g.seats[i].conn.ID())
			}
			g.seats[i].conn = c
			g.reg.bindConn(c.ID(), g)
			return true
		}
		return false
	})
}

// SetReady marks the caller's seat ready. Once both seats are attached and
// ready the start notification is broadcast to both players, exactly once
// per match. Partial readiness produces no broadcast.
func (g *GameSession) SetReady(c Conn) {
	g.lane.post(func() {
		if g.destroyed || g.started {
			return
		}
		all := true
		for i := range g.seats {
			if g.seats[i].conn != nil && g.seats[i].conn.ID() == c.ID() {
				g.seats[i].ready = true
			}
			if g.seats[i].conn == nil || !g.seats[i].ready {
				all = false
			}
		}
		if !all {
			return
		}
		g.started = true
		for i := range g.seats {
			if err := g.seats[i].conn.Send("start", statusBody{Result: "ok"}); err != nil {
				g.log.Errorf("Game %s: start notify to %s: %v", g.ID, g.seats[i].accountID, err)
			}
		}
	})
}

// Relay forwards payload verbatim to the other seat. A detached opponent is
// expected (the leave/timeout paths deal with it) so the message is silently
// dropped.
func (g *GameSession) Relay(c Conn, payload json.RawMessage) {
	g.lane.post(func() {
		if g.destroyed {
			return
		}
		for i := range g.seats {
			s := &g.seats[i]
			if s.conn != nil && s.conn.ID() != c.ID() {
				if err := s.conn.Send("relay", payload); err != nil {
					g.log.Debugf("Game %s: relay to %s dropped: %v", g.ID, s.accountID, err)
				}
				return
			}
		}
	})
}

// SetResult resolves the match. Only the losing side reports, by protocol
// convention: the reporter gets "lose", the opponent "win", the persistent
// counters are updated, and the session tears down.
func (g *GameSession) SetResult(c Conn) {
	g.lane.post(func() {
		if g.destroyed {
			return
		}
		var winner, loser string
		for i := range g.seats {
			s := &g.seats[i]
			if s.conn != nil && s.conn.ID() == c.ID() {
				loser = s.accountID
				g.sendResult(s, "lose")
			} else {
				winner = s.accountID
				g.sendResult(s, "win")
			}
		}
		g.finishMatch(winner, loser)
		g.destroy()
	})
}

// Leave clears the seat for the given account. Returns true iff no seat
// retains a live connection afterwards. When an opponent remains, the match
// is forfeited to them: they receive "win", the records are updated, and the
// session tears down, returning the remaining player to the lobby.
func (g *GameSession) Leave(accountID string) bool {
	return g.lane.call(func() bool {
		if g.destroyed {
			return true
		}
		return g.leaveLocked(accountID)
	})
}

// Detach is the transport-level disconnect notification for a connection
// that is still logically seated. Same forfeiture rule as Leave.
func (g *GameSession) Detach(c Conn) {
	g.lane.post(func() {
		if g.destroyed {
			return
		}
		for i := range g.seats {
			s := &g.seats[i]
			if s.conn != nil && s.conn.ID() == c.ID() {
				g.leaveLocked(s.accountID)
				return
			}
		}
	})
}

// leaveLocked runs on the lane. Clears the leaver's seat; if the other seat
// still has a live connection the match forfeits to that player.
func (g *GameSession) leaveLocked(accountID string) bool {
	var remaining *seat
	for i := range g.seats {
		s := &g.seats[i]
		if s.accountID == accountID {
			if s.conn != nil {
				g.reg.dropConn(s.conn.ID())
				s.conn = nil
			}
			s.ready = false
		} else if s.conn != nil {
			remaining = s
		}
	}
	if remaining == nil {
		g.destroy()
		return true
	}
	if g.started {
		g.sendResult(remaining, "win")
		g.finishMatch(remaining.accountID, accountID)
	}
	g.destroy()
	return false
}

func (g *GameSession) sendResult(s *seat, outcome string) {
	if s.conn == nil {
		return
	}
	if err := s.conn.Send("result", statusBody{Result: outcome}); err != nil {
		g.log.Debugf("Game %s: result notify to %s dropped: %v", g.ID, s.accountID, err)
	}
}

func (g *GameSession) finishMatch(winner, loser string) {
	if winner == "" || loser == "" {
		return
	}
	if g.hooks.RecordMatch != nil {
		g.hooks.RecordMatch(winner, loser)
	}
	if g.hooks.ReportResult != nil {
		g.hooks.ReportResult(g.ID, winner, loser)
	}
}

// checkStartTimeout fires once, scheduled at creation. If either seat is
// not attached and ready by then, the match is destroyed unconditionally.
func (g *GameSession) checkStartTimeout() {
	if g.destroyed {
		return
	}
	for i := range g.seats {
		if g.seats[i].conn == nil || !g.seats[i].ready {
			g.log.Infof("Game %s: start timeout, tearing down", g.ID)
			g.destroy()
			return
		}
	}
}

// destroy runs on the lane and is idempotent: concurrent triggers (timeout,
// Leave, SetResult) collapse into one set of redirects.
func (g *GameSession) destroy() {
	if g.destroyed {
		return
	}
	g.destroyed = true
	if g.timer != nil {
		g.timer.Stop()
	}
	for i := range g.seats {
		s := &g.seats[i]
		if s.conn == nil {
			continue
		}
		g.reg.dropConn(s.conn.ID())
		if g.hooks.MoveToLobby != nil {
			g.hooks.MoveToLobby(s.conn)
		}
		s.conn = nil
	}
	g.log.Debugf("Game %s: destroyed", g.ID)
	go g.reg.Unregister(g)
}

// Users returns the two seat account ids in creation order.
func (g *GameSession) Users() [2]string {
	return [2]string{g.seats[0].accountID, g.seats[1].accountID}
}
