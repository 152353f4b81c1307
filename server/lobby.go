package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pongnet/pongd/cluster"
	"github.com/pongnet/pongd/gamesession"
	"github.com/pongnet/pongd/leaderboard"
	"github.com/pongnet/pongd/matchmaker"
)

type loginRequest struct {
	ID          string `json:"id"`
	Type        string `json:"type,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

type loginResponse struct {
	Result    string `json:"result"`
	ID        string `json:"id,omitempty"`
	WinCount  int64  `json:"winCount"`
	LoseCount int64  `json:"loseCount"`
	CurRecord int64  `json:"curRecord"`
	Msg       string `json:"msg,omitempty"`
}

type matchResponse struct {
	Result string `json:"result"`
	A      string `json:"A,omitempty"`
	B      string `json:"B,omitempty"`
}

type cancelMatchResponse struct {
	Result string `json:"result"`
}

type rankListResponse struct {
	Result string              `json:"result"`
	Ranks  []leaderboard.Entry `json:"ranks"`
}

func (cs *clientSession) sendError(msg string) {
	_ = cs.Send("error", map[string]string{"result": "fail", "msg": msg})
}

// handleLogin authenticates an account id and loads its record. A second
// login for the same account evicts the first session; the new client is
// told to retry.
func (s *Server) handleLogin(cs *clientSession, body json.RawMessage) {
	if s.cfg.Role != RoleLobby {
		cs.sendError("login is not served on this node")
		return
	}
	var req loginRequest
	if err := json.Unmarshal(body, &req); err != nil || req.ID == "" {
		_ = cs.Send("login", loginResponse{Result: "nop", Msg: "fail to login"})
		return
	}
	if cs.Account() != "" {
		_ = cs.Send("login", loginResponse{Result: "nop", Msg: "already logged in"})
		return
	}
	if !s.checkAndSetLoggedIn(req.ID, cs) {
		// Previous session evicted; the client retries the login.
		_ = cs.Send("login", loginResponse{Result: "nop", Msg: "fail to login"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	user, err := s.db.EnsureUser(ctx, req.ID)
	if err != nil {
		s.log.Errorf("Failed to load user %s: %v", req.ID, err)
		s.setLoggedOut(req.ID, cs)
		_ = cs.Send("login", loginResponse{Result: "nop", Msg: "fail to login"})
		return
	}
	record, err := s.board.CurrentRecord(req.ID)
	if err != nil {
		s.log.Errorf("Failed to load win streak for %s: %v", req.ID, err)
	}

	cs.withContext(func(sc *gamesession.SessionContext) {
		sc.Reset()
		sc.ID = req.ID
	})
	s.log.Infof("Login succeed: id=%s", req.ID)
	_ = cs.Send("login", loginResponse{
		Result:    "ok",
		ID:        user.ID,
		WinCount:  user.WinCount,
		LoseCount: user.LoseCount,
		CurRecord: record,
	})
}

// handleMatchRequest forwards a pairing request to a matchmaker peer. The
// outcome arrives later through handleMatchResult.
func (s *Server) handleMatchRequest(cs *clientSession) {
	if s.cfg.Role != RoleLobby {
		cs.sendError("matchmaking is not served on this node")
		return
	}
	id := cs.Account()
	if id == "" {
		cs.sendError("not logged in")
		return
	}
	if cs.matching() == gamesession.MatchingDoing {
		_ = cs.Send("match", matchResponse{Result: string(matchmaker.ResultAlreadyRequested)})
		return
	}

	peer, ok := s.peers.Pick(RoleMatchmaker)
	if !ok {
		s.log.Errorf("No matchmaker peer available")
		_ = cs.Send("match", matchResponse{Result: string(matchmaker.ResultError)})
		return
	}
	cs.withContext(func(sc *gamesession.SessionContext) {
		sc.Matching = gamesession.MatchingDoing
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.rpc.MatchMake(ctx, peer, cluster.MatchMakeRequest{
		ID:        id,
		ReplyAddr: s.cfg.AdvertiseAddr,
	})
	if err != nil {
		s.log.Errorf("Failed to request matchmaking for %s: %v", id, err)
		cs.withContext(func(sc *gamesession.SessionContext) {
			sc.Matching = gamesession.MatchingFailed
		})
		_ = cs.Send("match", matchResponse{Result: string(matchmaker.ResultError)})
		return
	}
	s.log.Debugf("Matchmaking requested: id=%s via %s", id, peer.Addr)
}

// handleCancelRequest withdraws a pending pairing request. The matchmaker
// is authoritative; its verdict arrives through handleCancelMatchResult.
func (s *Server) handleCancelRequest(cs *clientSession) {
	if s.cfg.Role != RoleLobby {
		cs.sendError("matchmaking is not served on this node")
		return
	}
	id := cs.Account()
	if id == "" {
		cs.sendError("not logged in")
		return
	}

	peer, ok := s.peers.Pick(RoleMatchmaker)
	if !ok {
		s.log.Errorf("No matchmaker peer available")
		_ = cs.Send("cancelmatch", cancelMatchResponse{Result: string(matchmaker.CancelError)})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.rpc.CancelMatch(ctx, peer, cluster.CancelMatchRequest{
		ID:        id,
		ReplyAddr: s.cfg.AdvertiseAddr,
	})
	if err != nil {
		s.log.Errorf("Failed to cancel matchmaking for %s: %v", id, err)
		_ = cs.Send("cancelmatch", cancelMatchResponse{Result: string(matchmaker.CancelError)})
	}
}

// handleRankList replies with the top streak records.
func (s *Server) handleRankList(cs *clientSession) {
	if s.cfg.Role != RoleLobby {
		cs.sendError("ranklist is not served on this node")
		return
	}
	ranks, err := s.board.TopEight()
	if err != nil {
		s.log.Errorf("Failed to load rank list: %v", err)
		cs.sendError("failed to load rank list")
		return
	}
	_ = cs.Send("ranklist", rankListResponse{Result: "ok", Ranks: ranks})
}

// handleMatchResult is the peer-facing endpoint a matchmaker posts pairing
// outcomes to. A Success outcome also moves the client to a game node.
func (s *Server) handleMatchResult(w http.ResponseWriter, r *http.Request) {
	var res cluster.MatchResult
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil || res.ID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	cs := s.findLocalSession(res.ID)
	if cs == nil {
		s.log.Debugf("Match result for absent account %s dropped", res.ID)
		return
	}

	if res.Result != string(matchmaker.ResultSuccess) {
		cs.withContext(func(sc *gamesession.SessionContext) {
			sc.Matching = gamesession.MatchingFailed
		})
		_ = cs.Send("match", matchResponse{Result: res.Result})
		return
	}

	opponent := res.B
	if res.ID == res.B {
		opponent = res.A
	}
	cs.withContext(func(sc *gamesession.SessionContext) {
		sc.Matching = gamesession.MatchingDone
		sc.Opponent = opponent
		sc.Ready = false
	})
	s.log.Infof("Match made: id=%s opponent=%s game=%s", res.ID, opponent, res.MatchID)
	_ = cs.Send("match", matchResponse{Result: res.Result, A: res.A, B: res.B})

	gameCtx := &cluster.GameContext{
		GameID: res.MatchID,
		Users:  []string{res.A, res.B},
	}
	go func() {
		if !s.MoveSession(cs, RoleGame, gameCtx) {
			cs.withContext(func(sc *gamesession.SessionContext) {
				sc.Matching = gamesession.MatchingFailed
			})
			cs.sendError("no game server available")
		}
	}()
}

// handleCancelMatchResult relays the matchmaker's cancel verdict to the
// waiting client.
func (s *Server) handleCancelMatchResult(w http.ResponseWriter, r *http.Request) {
	var res cluster.CancelMatchResult
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil || res.ID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	cs := s.findLocalSession(res.ID)
	if cs == nil {
		s.log.Debugf("Cancel result for absent account %s dropped", res.ID)
		return
	}
	if res.Result == string(matchmaker.CancelOK) {
		cs.withContext(func(sc *gamesession.SessionContext) {
			sc.Matching = gamesession.MatchingCancel
		})
	}
	_ = cs.Send("cancelmatch", cancelMatchResponse{Result: res.Result})
}
