package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPeers() []Peer {
	return []Peer{
		{Addr: "10.0.0.1:8012", Tags: []string{"lobby"}},
		{Addr: "10.0.0.2:8012", Tags: []string{"game"}},
		{Addr: "10.0.0.3:8012", Tags: []string{"game", "matchmaker"}},
	}
}

func TestDirectoryWithTag(t *testing.T) {
	d := NewDirectory(testPeers(), PickRandom)

	games := d.WithTag("game")
	require.Len(t, games, 2)
	assert.Equal(t, "10.0.0.2:8012", games[0].Addr)
	assert.Equal(t, "10.0.0.3:8012", games[1].Addr)
	assert.Empty(t, d.WithTag("archive"))
}

func TestDirectoryPickNoPeer(t *testing.T) {
	d := NewDirectory(nil, PickRandom)
	_, ok := d.Pick("lobby")
	assert.False(t, ok)
}

func TestDirectoryPickRandomStaysInTag(t *testing.T) {
	d := NewDirectory(testPeers(), PickRandom)
	for i := 0; i < 32; i++ {
		p, ok := d.Pick("game")
		require.True(t, ok)
		assert.True(t, p.HasTag("game"), "picked %s", p.Addr)
	}
}

func TestDirectoryPickRoundRobin(t *testing.T) {
	d := NewDirectory(testPeers(), PickRoundRobin)

	var got []string
	for i := 0; i < 4; i++ {
		p, ok := d.Pick("game")
		require.True(t, ok)
		got = append(got, p.Addr)
	}
	assert.Equal(t, []string{
		"10.0.0.2:8012", "10.0.0.3:8012", "10.0.0.2:8012", "10.0.0.3:8012",
	}, got)

	// Each tag cycles independently.
	p, ok := d.Pick("matchmaker")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.3:8012", p.Addr)
}
