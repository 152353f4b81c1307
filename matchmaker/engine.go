package matchmaker

import (
	"sync"
	"time"

	"github.com/decred/slog"
)

// Result codes reported to a pairing request's handler.
type Result string

const (
	ResultSuccess          Result = "Success"
	ResultAlreadyRequested Result = "AlreadyRequested"
	ResultTimeout          Result = "Timeout"
	ResultError            Result = "Error"
)

// CancelResult codes reported to a cancel handler.
type CancelResult string

const (
	CancelOK        CancelResult = "Cancel"
	CancelNoRequest CancelResult = "NoRequest"
	CancelError     CancelResult = "Error"
)

// MatchHandler receives the terminal outcome of one pairing request. It is
// invoked exactly once per request, asynchronously.
type MatchHandler func(player string, m *Match, res Result)

// CancelHandler receives the outcome of a cancel request.
type CancelHandler func(player string, res CancelResult)

// DefaultTimeout bounds how long a pairing request stays queued.
const DefaultTimeout = 10 * time.Second

type pendingReq struct {
	match   *Match
	handler MatchHandler
	timer   *time.Timer
}

// Engine pairs players into matches using the supplied Callbacks. All
// bookkeeping happens under one mutex, which serializes OnJoined/OnLeft per
// match; handlers run on their own goroutines so a slow continuation never
// stalls pairing.
type Engine struct {
	mu      sync.Mutex
	cb      Callbacks
	open    *Match
	pending map[string]*pendingReq
	timeout time.Duration
	log     slog.Logger
}

func NewEngine(cb Callbacks, timeout time.Duration, log slog.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		cb:      cb,
		pending: make(map[string]*pendingReq),
		timeout: timeout,
		log:     log,
	}
}

// Request queues player for pairing. The handler fires exactly once with
// Success, AlreadyRequested, or Timeout.
func (e *Engine) Request(player string, handler MatchHandler) {
	e.mu.Lock()

	if _, dup := e.pending[player]; dup {
		e.mu.Unlock()
		e.log.Infof("Matchmaking already requested: id=%s", player)
		go handler(player, nil, ResultAlreadyRequested)
		return
	}

	m := e.open
	if m == nil || !e.cb.CheckJoinable(player, m) {
		m = newMatch()
		e.open = m
	}
	m.Players[player] = struct{}{}
	e.cb.OnJoined(player, m)

	req := &pendingReq{match: m, handler: handler}
	req.timer = time.AfterFunc(e.timeout, func() { e.expire(player) })
	e.pending[player] = req

	if e.cb.CheckCompletion(m) != Complete {
		e.mu.Unlock()
		return
	}

	// Match is complete: report it exactly once, to every member.
	e.open = nil
	done := make([]*pendingReq, 0, len(m.Players))
	players := make([]string, 0, len(m.Players))
	for p := range m.Players {
		if r := e.pending[p]; r != nil {
			r.timer.Stop()
			delete(e.pending, p)
			done = append(done, r)
			players = append(players, p)
		}
	}
	e.mu.Unlock()

	e.log.Infof("Match completed: id=%s, team_a=%s, team_b=%s", m.ID, m.Context.A, m.Context.B)
	for i, r := range done {
		go r.handler(players[i], m, ResultSuccess)
	}
}

// Cancel withdraws player's pending request, if any.
func (e *Engine) Cancel(player string, handler CancelHandler) {
	e.mu.Lock()
	req, ok := e.pending[player]
	if !ok {
		e.mu.Unlock()
		if handler != nil {
			go handler(player, CancelNoRequest)
		}
		return
	}
	req.timer.Stop()
	delete(e.pending, player)
	e.leaveMatch(player, req.match)
	e.mu.Unlock()

	e.log.Infof("Matchmaking cancelled: id=%s", player)
	if handler != nil {
		go handler(player, CancelOK)
	}
}

// Pending reports whether player has a queued request.
func (e *Engine) Pending(player string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[player]
	return ok
}

func (e *Engine) expire(player string) {
	e.mu.Lock()
	req, ok := e.pending[player]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.pending, player)
	e.leaveMatch(player, req.match)
	e.mu.Unlock()

	e.log.Infof("Matchmaking timed out: id=%s", player)
	go req.handler(player, nil, ResultTimeout)
}

// leaveMatch removes player from their in-progress match, freeing the side
// slot for a future joiner. Caller holds e.mu.
func (e *Engine) leaveMatch(player string, m *Match) {
	delete(m.Players, player)
	e.cb.OnLeft(player, m)
	if m == e.open && len(m.Players) == 0 {
		e.open = nil
	}
}
