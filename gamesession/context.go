package gamesession

import (
	"encoding/json"
)

// MatchingState tracks where a connection is in the matchmaking flow.
type MatchingState string

const (
	MatchingNone   MatchingState = ""
	MatchingDoing  MatchingState = "doing"
	MatchingDone   MatchingState = "done"
	MatchingCancel MatchingState = "cancel"
	MatchingFailed MatchingState = "failed"
)

// SessionContext is the per-connection key/value bag that travels with a
// client across server moves. Only the connection's own handler goroutine
// mutates it. Unknown keys received in a handoff are kept so a newer peer
// can round-trip fields this build does not know about.
type SessionContext struct {
	ID       string
	Opponent string
	Matching MatchingState
	Ready    bool

	extra map[string]json.RawMessage
}

func NewSessionContext() *SessionContext {
	return &SessionContext{}
}

// Reset clears the context back to its logged-out state.
func (sc *SessionContext) Reset() {
	sc.ID = ""
	sc.Opponent = ""
	sc.Matching = MatchingNone
	sc.Ready = false
	sc.extra = nil
}

type sessionContextWire struct {
	ID       string        `json:"id,omitempty"`
	Opponent string        `json:"opponent,omitempty"`
	Matching MatchingState `json:"matching,omitempty"`
	Ready    bool          `json:"ready,omitempty"`
}

func (sc *SessionContext) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	for k, v := range sc.extra {
		fields[k] = v
	}
	known, err := json.Marshal(sessionContextWire{
		ID:       sc.ID,
		Opponent: sc.Opponent,
		Matching: sc.Matching,
		Ready:    sc.Ready,
	})
	if err != nil {
		return nil, err
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		fields[k] = v
	}
	return json.Marshal(fields)
}

func (sc *SessionContext) UnmarshalJSON(data []byte) error {
	var wire sessionContextWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	delete(fields, "id")
	delete(fields, "opponent")
	delete(fields, "matching")
	delete(fields, "ready")
	sc.ID = wire.ID
	sc.Opponent = wire.Opponent
	sc.Matching = wire.Matching
	sc.Ready = wire.Ready
	if len(fields) > 0 {
		sc.extra = fields
	} else {
		sc.extra = nil
	}
	return nil
}
