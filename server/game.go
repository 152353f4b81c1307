package server

import (
	"encoding/json"
)

// handleReady marks the connection's seat ready. When both seats are
// attached and ready the session broadcasts the start message itself.
func (s *Server) handleReady(cs *clientSession) {
	if s.registry == nil {
		cs.sendError("games are not hosted on this node")
		return
	}
	g := s.registry.ResolveConn(cs.id)
	if g == nil {
		cs.sendError("not in a game")
		return
	}
	g.SetReady(cs)
}

// handleRelay forwards an opaque payload to the opponent. A relay without
// a seat is dropped without a reply, matching the in-game fire-and-forget
// contract.
func (s *Server) handleRelay(cs *clientSession, body json.RawMessage) {
	if s.registry == nil {
		return
	}
	g := s.registry.ResolveConn(cs.id)
	if g == nil {
		s.log.Debugf("Relay from unseated conn=%d dropped", cs.id)
		return
	}
	g.Relay(cs, body)
}

// handleResult accepts the loser's report and settles the match.
func (s *Server) handleResult(cs *clientSession) {
	if s.registry == nil {
		cs.sendError("games are not hosted on this node")
		return
	}
	g := s.registry.ResolveConn(cs.id)
	if g == nil {
		s.log.Debugf("Result from unseated conn=%d dropped", cs.id)
		return
	}
	g.SetResult(cs)
}
