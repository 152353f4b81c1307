package cluster

import (
	"math/rand"
	"sync"
)

// Peer is one remote node and the logical roles it advertises. Any number
// of processes may advertise the same tag.
type Peer struct {
	Addr string
	Tags []string
}

func (p Peer) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Policy selects how Pick chooses among the peers advertising a tag.
type Policy int

const (
	PickRandom Policy = iota
	PickRoundRobin
)

// Directory is the static peer directory a node selects redirect and RPC
// targets from.
type Directory struct {
	mu     sync.Mutex
	peers  []Peer
	policy Policy
	next   map[string]int
}

func NewDirectory(peers []Peer, policy Policy) *Directory {
	return &Directory{
		peers:  append([]Peer(nil), peers...),
		policy: policy,
		next:   make(map[string]int),
	}
}

// WithTag returns every peer advertising the tag.
func (d *Directory) WithTag(tag string) []Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Peer
	for _, p := range d.peers {
		if p.HasTag(tag) {
			out = append(out, p)
		}
	}
	return out
}

// Pick returns one live peer advertising the tag, by the configured policy.
// The second return is false when no peer advertises it.
func (d *Directory) Pick(tag string) (Peer, bool) {
	candidates := d.WithTag(tag)
	if len(candidates) == 0 {
		return Peer{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.policy {
	case PickRoundRobin:
		i := d.next[tag] % len(candidates)
		d.next[tag]++
		return candidates[i], true
	default:
		return candidates[rand.Intn(len(candidates))], true
	}
}
