package gamesession

import (
	"sync"
)

const laneBacklog = 64

// lane is the serialized execution context for one match. Every mutating
// operation on a GameSession is posted here instead of being called from
// whatever goroutine is handling the connection, so all operations on one
// session are totally ordered while different sessions proceed
// independently.
type lane struct {
	mu     sync.Mutex
	ops    chan func()
	closed bool
	done   chan struct{}
}

func newLane() *lane {
	l := &lane{
		ops:  make(chan func(), laneBacklog),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *lane) run() {
	for fn := range l.ops {
		fn()
	}
	close(l.done)
}

// post enqueues fn for serialized execution. Returns false once the lane is
// stopped; callers treat that the same as operating on a destroyed session.
func (l *lane) post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.ops <- fn
	return true
}

// call posts fn and waits for it to run, returning its result. Used by the
// operations that report an outcome to the caller (Join, Leave).
func (l *lane) call(fn func() bool) bool {
	res := make(chan bool, 1)
	if !l.post(func() { res <- fn() }) {
		return false
	}
	return <-res
}

// stop prevents further posts and lets the worker drain what was already
// queued.
func (l *lane) stop() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.ops)
	}
	l.mu.Unlock()
}
