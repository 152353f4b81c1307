package matchmaker

import (
	"fmt"

	"github.com/google/uuid"
)

// State is the completion verdict for a candidate match.
type State int

const (
	NeedMorePlayers State = iota
	Complete
)

// SideContext carries the deterministic side assignment: first joiner is A,
// second is B.
type SideContext struct {
	A string `json:"A,omitempty"`
	B string `json:"B,omitempty"`
}

// Match is a pairing record owned by the engine. Players holds the 0..2
// currently joined players; Context labels their sides by arrival order.
type Match struct {
	ID      uuid.UUID
	Players map[string]struct{}
	Context SideContext
}

func newMatch() *Match {
	return &Match{
		ID:      uuid.New(),
		Players: make(map[string]struct{}),
	}
}

// Opponent returns the other side's player id, or "" if player is not part
// of the match.
func (m *Match) Opponent(player string) string {
	switch player {
	case m.Context.A:
		return m.Context.B
	case m.Context.B:
		return m.Context.A
	}
	return ""
}

// Callbacks are the pairing decision functions the engine consults. The
// engine owns concurrency and timing and serializes calls per match.
type Callbacks struct {
	CheckJoinable   func(player string, m *Match) bool
	CheckCompletion func(m *Match) State
	OnJoined        func(player string, m *Match)
	OnLeft          func(player string, m *Match)
}

// OneVsOne is the unconditional 1v1 pairing policy: anyone may join, a
// match completes with exactly two distinct players, and sides are assigned
// first-come-first-served.
func OneVsOne() Callbacks {
	return Callbacks{
		CheckJoinable: func(string, *Match) bool { return true },
		CheckCompletion: func(m *Match) State {
			if len(m.Players) == 2 {
				return Complete
			}
			return NeedMorePlayers
		},
		OnJoined: func(player string, m *Match) {
			switch {
			case m.Context.A == "":
				m.Context.A = player
			case m.Context.B == "":
				m.Context.B = player
			default:
				panic(fmt.Sprintf("match %s: both sides already assigned", m.ID))
			}
		},
		OnLeft: func(player string, m *Match) {
			switch player {
			case m.Context.A:
				m.Context.A = ""
			case m.Context.B:
				m.Context.B = ""
			}
		},
	}
}
