package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/pongnet/pongd/cluster"
	"github.com/pongnet/pongd/gamesession"
)

const sendTimeout = 10 * time.Second

// envelope is the framing for every client message, both directions.
type envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

// clientSession is one websocket client attached to this node. It carries
// the session context that travels with the account across server moves.
type clientSession struct {
	id  uint64
	srv *Server
	ws  *websocket.Conn

	// ctxMu guards sctx. Handlers run on the read loop, but the context is
	// also read from game lanes and the cluster RPC handlers.
	ctxMu sync.RWMutex
	sctx  *gamesession.SessionContext

	closeOnce sync.Once
}

var _ gamesession.Conn = (*clientSession)(nil)

func (cs *clientSession) ID() uint64 { return cs.id }

func (cs *clientSession) Account() string {
	cs.ctxMu.RLock()
	defer cs.ctxMu.RUnlock()
	return cs.sctx.ID
}

func (cs *clientSession) Send(msgType string, body any) error {
	var raw json.RawMessage
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return wsjson.Write(ctx, cs.ws, envelope{Type: msgType, Body: raw})
}

func (cs *clientSession) Close(reason string) {
	cs.closeOnce.Do(func() {
		_ = cs.ws.Close(websocket.StatusNormalClosure, reason)
	})
}

// closeNow drops the transport without the close handshake. Used when the
// caller is another client's goroutine and must not block on the peer.
func (cs *clientSession) closeNow() {
	cs.closeOnce.Do(func() {
		_ = cs.ws.CloseNow()
	})
}

// withContext runs f with exclusive access to the session context.
func (cs *clientSession) withContext(f func(*gamesession.SessionContext)) {
	cs.ctxMu.Lock()
	defer cs.ctxMu.Unlock()
	f(cs.sctx)
}

func (cs *clientSession) matching() gamesession.MatchingState {
	cs.ctxMu.RLock()
	defer cs.ctxMu.RUnlock()
	return cs.sctx.Matching
}

// contextJSON snapshots the session context for a handoff blob.
func (cs *clientSession) contextJSON() (json.RawMessage, error) {
	cs.ctxMu.RLock()
	defer cs.ctxMu.RUnlock()
	return json.Marshal(cs.sctx)
}

// handleClientSocket upgrades a client connection. A token query parameter
// marks a redirected client claiming a registered handoff.
func (s *Server) handleClientSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Debugf("Websocket accept failed: %v", err)
		return
	}
	cs := &clientSession{
		id:   s.nextConn.Add(1),
		srv:  s,
		ws:   ws,
		sctx: gamesession.NewSessionContext(),
	}
	if token := r.URL.Query().Get("token"); token != "" {
		if !s.acceptHandoff(cs, token) {
			return
		}
	}
	s.log.Debugf("Client connected: conn=%d remote=%s", cs.id, r.RemoteAddr)
	cs.readLoop(r.Context())
}

// acceptHandoff claims a one-time handoff token and restores the moved
// session: context verbatim, login binding, and game seat when a game
// context rode along. A malformed blob closes the connection.
func (s *Server) acceptHandoff(cs *clientSession, token string) bool {
	raw, ok := s.handoffs.Take(token)
	if !ok {
		s.log.Infof("Rejecting connection with unknown handoff token")
		cs.Close("invalid handoff token")
		return false
	}
	var blob cluster.HandoffBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		s.log.Errorf("Malformed handoff blob: %v", err)
		cs.Close("malformed handoff")
		return false
	}
	if len(blob.Context) > 0 {
		if err := cs.sctx.UnmarshalJSON(blob.Context); err != nil {
			s.log.Errorf("Malformed session context in handoff: %v", err)
			cs.Close("malformed handoff")
			return false
		}
	}
	id := cs.Account()
	if id != "" {
		if !s.checkAndSetLoggedIn(id, cs) {
			cs.Close("duplicate login")
			return false
		}
	}
	if blob.GameContext == nil {
		return true
	}
	fail := func(reason string) bool {
		s.setLoggedOut(id, cs)
		cs.Close(reason)
		return false
	}

	if s.registry == nil {
		s.log.Errorf("Received game context on %s node", s.cfg.Role)
		return fail("no game hosting here")
	}
	gid, err := uuid.Parse(blob.GameContext.GameID)
	if err != nil || len(blob.GameContext.Users) != 2 {
		s.log.Errorf("Malformed game context in handoff: game_id=%q users=%v",
			blob.GameContext.GameID, blob.GameContext.Users)
		return fail("malformed game context")
	}
	g := s.registry.Resolve(gid)
	if g == nil {
		if g, err = s.registry.Create(gid, blob.GameContext.Users); err != nil {
			s.log.Errorf("Failed to create game %s: %v", gid, err)
			return fail("failed to create game")
		}
	}
	if !g.Join(cs) {
		return fail("not a participant of this game")
	}
	return true
}

func (cs *clientSession) readLoop(ctx context.Context) {
	defer cs.detach()
	for {
		var env envelope
		if err := wsjson.Read(ctx, cs.ws, &env); err != nil {
			cs.srv.log.Debugf("Client read loop ended: conn=%d: %v", cs.id, err)
			return
		}
		cs.srv.dispatch(cs, env)
	}
}

func (s *Server) dispatch(cs *clientSession, env envelope) {
	switch env.Type {
	case "login":
		s.handleLogin(cs, env.Body)
	case "match":
		s.handleMatchRequest(cs)
	case "cancelmatch":
		s.handleCancelRequest(cs)
	case "ranklist":
		s.handleRankList(cs)
	case "ready":
		s.handleReady(cs)
	case "relay":
		s.handleRelay(cs, env.Body)
	case "result":
		s.handleResult(cs)
	default:
		s.log.Debugf("Unknown message type %q from conn=%d", env.Type, cs.id)
	}
}

// detach runs exactly once when the transport goes away: forfeit an
// in-progress game, withdraw a pending matchmaking request, and log out.
func (cs *clientSession) detach() {
	s := cs.srv

	if s.registry != nil {
		if g := s.registry.ResolveConn(cs.id); g != nil {
			g.Detach(cs)
		}
	}

	id := cs.Account()
	if cs.matching() == gamesession.MatchingDoing && id != "" {
		if peer, ok := s.peers.Pick(RoleMatchmaker); ok {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				err := s.rpc.CancelMatch(ctx, peer, cluster.CancelMatchRequest{
					ID:       id,
					Detached: true,
				})
				if err != nil {
					s.log.Errorf("Failed to cancel matchmaking for detached %s: %v", id, err)
				}
			}()
		}
	}

	s.setLoggedOut(id, cs)
	s.log.Debugf("Client disconnected: conn=%d id=%s", cs.id, id)
}
