package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandoffTokenSingleUse(t *testing.T) {
	hs := NewHandoffStore()

	blob := []byte(`{"context":{"id":"alice"}}`)
	token, err := hs.Put(blob)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, ok := hs.Take(token)
	assert.True(t, ok)
	assert.Equal(t, blob, got)

	_, ok = hs.Take(token)
	assert.False(t, ok, "token claimed twice")
}

func TestHandoffUnknownToken(t *testing.T) {
	hs := NewHandoffStore()
	_, ok := hs.Take("deadbeef")
	assert.False(t, ok)
}

func TestHandoffTokensAreUnique(t *testing.T) {
	hs := NewHandoffStore()
	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		token, err := hs.Put([]byte("{}"))
		require.NoError(t, err)
		assert.False(t, seen[token])
		seen[token] = true
	}
}

func TestHandoffExpiry(t *testing.T) {
	hs := NewHandoffStore()
	now := time.Now()
	hs.now = func() time.Time { return now }

	token, err := hs.Put([]byte("{}"))
	require.NoError(t, err)

	now = now.Add(TokenTTL + time.Second)
	_, ok := hs.Take(token)
	assert.False(t, ok, "expired token claimed")
}

func TestHandoffExpiredEntriesSwept(t *testing.T) {
	hs := NewHandoffStore()
	now := time.Now()
	hs.now = func() time.Time { return now }

	for i := 0; i < 8; i++ {
		_, err := hs.Put([]byte("{}"))
		require.NoError(t, err)
	}
	now = now.Add(TokenTTL + time.Second)
	_, err := hs.Put([]byte("{}"))
	require.NoError(t, err)

	hs.mu.Lock()
	defer hs.mu.Unlock()
	assert.Len(t, hs.entries, 1, "expired entries kept")
}
