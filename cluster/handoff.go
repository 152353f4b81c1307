package cluster

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// TokenTTL is how long a registered handoff blob stays claimable. An
// expired token fails authentication on reconnect.
const TokenTTL = 300 * time.Second

// HandoffBlob is the serialized session state that travels with a client
// between nodes: the session context verbatim, plus an optional
// match-specific payload.
type HandoffBlob struct {
	Context     json.RawMessage `json:"context,omitempty"`
	GameContext *GameContext    `json:"game_context,omitempty"`
}

// GameContext is the match payload of a lobby-to-game handoff. When
// present it must carry exactly these two fields; anything else is a
// protocol violation on the receiving side.
type GameContext struct {
	GameID string   `json:"game_id"`
	Users  []string `json:"users"`
}

type handoffEntry struct {
	blob    []byte
	expires time.Time
}

// HandoffStore holds handoff blobs registered by origin nodes, keyed by
// one-time token, until the client reconnects and claims them.
type HandoffStore struct {
	mu      sync.Mutex
	entries map[string]handoffEntry
	now     func() time.Time
}

func NewHandoffStore() *HandoffStore {
	return &HandoffStore{
		entries: make(map[string]handoffEntry),
		now:     time.Now,
	}
}

// Put registers a blob and returns its claim token.
func (hs *HandoffStore) Put(blob []byte) (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate handoff token: %w", err)
	}
	token := hex.EncodeToString(buf[:])

	hs.mu.Lock()
	now := hs.now()
	for t, e := range hs.entries {
		if now.After(e.expires) {
			delete(hs.entries, t)
		}
	}
	hs.entries[token] = handoffEntry{blob: blob, expires: now.Add(TokenTTL)}
	hs.mu.Unlock()
	return token, nil
}

// Take claims the blob for a token. Tokens are single use; a second claim
// or an expired token returns false.
func (hs *HandoffStore) Take(token string) ([]byte, bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	e, ok := hs.entries[token]
	if !ok {
		return nil, false
	}
	delete(hs.entries, token)
	if hs.now().After(e.expires) {
		return nil, false
	}
	return e.blob, true
}
