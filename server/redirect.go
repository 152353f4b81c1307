package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pongnet/pongd/cluster"
	"github.com/pongnet/pongd/gamesession"
)

type redirectBody struct {
	Addr  string `json:"addr"`
	Token string `json:"token"`
}

// MoveSession relocates a client to a peer carrying tag: the session
// context (and optional game context) is registered on the target, and the
// client is told where to reconnect and with which token. A failed move
// leaves the client where it is and returns false.
func (s *Server) MoveSession(cs *clientSession, tag string, gameCtx *cluster.GameContext) bool {
	peer, ok := s.peers.Pick(tag)
	if !ok {
		s.log.Errorf("No peer available with tag %q", tag)
		return false
	}
	ctxJSON, err := cs.contextJSON()
	if err != nil {
		s.log.Errorf("Failed to snapshot session context for %s: %v", cs.Account(), err)
		return false
	}

	rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	token, err := s.rpc.RegisterHandoff(rctx, peer, cluster.HandoffBlob{
		Context:     ctxJSON,
		GameContext: gameCtx,
	})
	if err != nil {
		s.log.Errorf("Failed to register handoff on %s: %v", peer.Addr, err)
		return false
	}

	if err := cs.Send("redirect", redirectBody{Addr: peer.Addr, Token: token}); err != nil {
		s.log.Errorf("Failed to send redirect to %s: %v", cs.Account(), err)
		return false
	}
	s.log.Debugf("Redirecting %s to %s (%s)", cs.Account(), peer.Addr, tag)
	return true
}

// moveToLobby sends a connection back to a lobby node once its game is
// over. Runs off the game lane; the move does network IO.
func (s *Server) moveToLobby(c gamesession.Conn) {
	cs, ok := c.(*clientSession)
	if !ok {
		return
	}
	go func() {
		cs.withContext(func(sc *gamesession.SessionContext) {
			sc.Opponent = ""
			sc.Matching = gamesession.MatchingNone
			sc.Ready = false
		})
		if !s.MoveSession(cs, RoleLobby, nil) {
			cs.Close("no lobby available")
		}
	}()
}

// recordMatch persists the outcome: win/lose counters in one transaction,
// then the winner's streak up and the loser's streak reset.
func (s *Server) recordMatch(winner, loser string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.db.UpdateMatchRecord(ctx, winner, loser); err != nil {
			s.log.Errorf("Failed to record match %s beats %s: %v", winner, loser, err)
		}
	}()
	s.board.IncreaseCurWinCount(winner, nil)
	s.board.ResetCurWinCount(loser, nil)
}

// reportResult posts the outcome to the configured aggregation endpoint.
// Best effort; failures are logged and dropped.
func (s *Server) reportResult(matchID uuid.UUID, winner, loser string) {
	if s.cfg.ResultURL == "" {
		return
	}
	go func() {
		body, err := json.Marshal(map[string]string{
			"game_id": matchID.String(),
			"winner":  winner,
			"loser":   loser,
		})
		if err != nil {
			s.log.Errorf("Failed to encode result report: %v", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.cfg.ResultURL, bytes.NewReader(body))
		if err != nil {
			s.log.Errorf("Failed to build result report: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			s.log.Errorf("Failed to report result of game %s: %v", matchID, err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			s.log.Errorf("Result report for game %s rejected: %v", matchID,
				fmt.Errorf("status %d", resp.StatusCode))
		}
	}()
}
