package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"

	"github.com/pongnet/pongd/cluster"
	"github.com/pongnet/pongd/gamesession"
	"github.com/pongnet/pongd/leaderboard"
	"github.com/pongnet/pongd/matchmaker"
	"github.com/pongnet/pongd/server/userdb"
)

// Node roles. Any number of processes may share a role; peers find each
// other through the tag they advertise.
const (
	RoleLobby      = "lobby"
	RoleGame       = "game"
	RoleMatchmaker = "matchmaker"
)

type Config struct {
	Role    string
	Name    string
	Addr    string // listen address for websocket clients and peer RPC
	DataDir string

	// AdvertiseAddr is how peers and redirected clients reach this node.
	// Defaults to Addr.
	AdvertiseAddr string

	Peers      []cluster.Peer
	PickPolicy cluster.Policy

	// MatchTimeout bounds a pairing request (matchmaker role).
	MatchTimeout time.Duration
	// JoinTimeout bounds how long a created match waits for both players
	// to attach and ready up (game role).
	JoinTimeout time.Duration
	// ResultURL, when set, receives a best-effort POST of each match
	// outcome.
	ResultURL string

	LogBackend *slog.Backend
	DebugLevel string
}

// Server is one node of the matchup service. Depending on Role it hosts
// the lobby handlers, the game-session registry, or the pairing engine;
// the cluster RPC surface and the handoff store are common to all roles.
type Server struct {
	cfg Config
	log slog.Logger

	db    userdb.UserDB
	board *leaderboard.Board

	registry *gamesession.Registry
	engine   *matchmaker.Engine

	peers    *cluster.Directory
	rpc      *cluster.Client
	handoffs *cluster.HandoffStore

	httpServer *http.Server

	mu       sync.RWMutex
	users    map[string]*clientSession // logged-in accounts on this node
	nextConn atomic.Uint64
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.LogBackend == nil {
		return nil, fmt.Errorf("log backend is nil")
	}
	switch cfg.Role {
	case RoleLobby, RoleGame, RoleMatchmaker:
	default:
		return nil, fmt.Errorf("unknown role %q", cfg.Role)
	}
	if cfg.AdvertiseAddr == "" {
		cfg.AdvertiseAddr = cfg.Addr
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 30 * time.Second
	}
	if cfg.MatchTimeout <= 0 {
		cfg.MatchTimeout = matchmaker.DefaultTimeout
	}

	logLevel := slog.LevelInfo
	if cfg.DebugLevel != "" {
		lvl, ok := slog.LevelFromString(cfg.DebugLevel)
		if !ok {
			return nil, fmt.Errorf("invalid debug level %q", cfg.DebugLevel)
		}
		logLevel = lvl
	}
	newLogger := func(tag string) slog.Logger {
		l := cfg.LogBackend.Logger(tag)
		l.SetLevel(logLevel)
		return l
	}

	s := &Server{
		cfg:      cfg,
		log:      newLogger("SRVR"),
		peers:    cluster.NewDirectory(cfg.Peers, cfg.PickPolicy),
		rpc:      cluster.NewClient(newLogger("CLUS")),
		handoffs: cluster.NewHandoffStore(),
		users:    make(map[string]*clientSession),
	}

	db, err := userdb.NewBoltDB(filepath.Join(cfg.DataDir, "users.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open user database: %w", err)
	}
	s.db = db

	board, err := leaderboard.NewBoard(
		filepath.Join(cfg.DataDir, "leaderboard.db"), newLogger("LDRB"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open leaderboard: %w", err)
	}
	s.board = board

	switch cfg.Role {
	case RoleGame:
		s.registry = gamesession.NewRegistry(gamesession.Hooks{
			MoveToLobby:  s.moveToLobby,
			RecordMatch:  s.recordMatch,
			ReportResult: s.reportResult,
		}, cfg.JoinTimeout, newLogger("GAME"))
	case RoleMatchmaker:
		s.engine = matchmaker.NewEngine(
			matchmaker.OneVsOne(), cfg.MatchTimeout, newLogger("MMKR"))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleClientSocket)
	mux.HandleFunc(cluster.PathHandoff, s.handleHandoffRegister)
	if s.engine != nil {
		mux.HandleFunc(cluster.PathMatchMake, s.handleMatchMake)
		mux.HandleFunc(cluster.PathCancelMatch, s.handleCancelMatch)
	}
	if cfg.Role == RoleLobby {
		mux.HandleFunc(cluster.PathMatchResult, s.handleMatchResult)
		mux.HandleFunc(cluster.PathCancelMatchResult, s.handleCancelMatchResult)
	}
	s.httpServer = &http.Server{Addr: cfg.Addr, Handler: mux}

	return s, nil
}

// Run serves until ctx is cancelled, then shuts down with a short grace
// period.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Infof("Starting %s node %q on %s", s.cfg.Role, s.cfg.Name, s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown tears down games, client sessions, and stores.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Errorf("Error shutting down HTTP server: %v", err)
	}

	if s.registry != nil {
		s.log.Infof("Terminating all active games...")
		s.registry.Shutdown()
	}

	s.mu.Lock()
	sessions := make([]*clientSession, 0, len(s.users))
	for _, cs := range s.users {
		sessions = append(sessions, cs)
	}
	s.users = make(map[string]*clientSession)
	s.mu.Unlock()
	for _, cs := range sessions {
		cs.Close("server shutting down")
	}

	if err := s.board.Close(); err != nil {
		s.log.Errorf("Error closing leaderboard: %v", err)
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing user database: %v", err)
	}
	s.log.Infof("Server shut down completed.")
	return nil
}

// checkAndSetLoggedIn binds an account id to a session. On a duplicate
// login the previous session is evicted and false is returned so the new
// client can retry.
func (s *Server) checkAndSetLoggedIn(id string, cs *clientSession) bool {
	s.mu.Lock()
	prev, taken := s.users[id]
	if taken && prev != cs {
		delete(s.users, id)
		s.mu.Unlock()
		s.log.Infof("Logged out by duplicated login request: id=%s", id)
		prev.closeNow()
		return false
	}
	s.users[id] = cs
	s.mu.Unlock()
	return true
}

// setLoggedOut drops the account binding if it still points at cs.
func (s *Server) setLoggedOut(id string, cs *clientSession) {
	if id == "" {
		return
	}
	s.mu.Lock()
	if s.users[id] == cs {
		delete(s.users, id)
	}
	s.mu.Unlock()
}

// findLocalSession returns the session an account is logged in on, if any.
func (s *Server) findLocalSession(id string) *clientSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[id]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// handleHandoffRegister is the peer-facing endpoint an origin node posts
// a redirection blob to. The reply token authenticates the client's
// reconnect.
func (s *Server) handleHandoffRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var blob json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&blob); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	token, err := s.handoffs.Put(blob)
	if err != nil {
		s.log.Errorf("Failed to register handoff: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, cluster.HandoffResponse{Token: token})
}
