package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pongnet/pongd/cluster"
	"github.com/pongnet/pongd/matchmaker"
)

// handleMatchMake is the peer-facing endpoint a lobby queues a player on.
// The request is acknowledged immediately; the pairing outcome is posted
// back to the lobby's reply address when it is known.
func (s *Server) handleMatchMake(w http.ResponseWriter, r *http.Request) {
	var req cluster.MatchMakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.ID == "" || req.ReplyAddr == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	s.engine.Request(req.ID, func(player string, m *matchmaker.Match, res matchmaker.Result) {
		out := cluster.MatchResult{ID: player, Result: string(res)}
		if res == matchmaker.ResultSuccess {
			out.MatchID = m.ID.String()
			out.A = m.Context.A
			out.B = m.Context.B
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.rpc.SendMatchResult(ctx, req.ReplyAddr, out); err != nil {
			s.log.Errorf("Failed to deliver match result to %s: %v", req.ReplyAddr, err)
		}
	})
}

// handleCancelMatch withdraws a queued player. Detached cancels come from
// transport teardown and get no reply.
func (s *Server) handleCancelMatch(w http.ResponseWriter, r *http.Request) {
	var req cluster.CancelMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	s.engine.Cancel(req.ID, func(player string, res matchmaker.CancelResult) {
		if req.Detached || req.ReplyAddr == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		out := cluster.CancelMatchResult{ID: player, Result: string(res)}
		if err := s.rpc.SendCancelResult(ctx, req.ReplyAddr, out); err != nil {
			s.log.Errorf("Failed to deliver cancel result to %s: %v", req.ReplyAddr, err)
		}
	})
}
