// Package leaderboard keeps the current and record win-streak boards.
// Submissions are asynchronous with callback continuations; a failed
// submission is logged by the caller and not retried.
package leaderboard

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/decred/slog"
	bolt "go.etcd.io/bbolt"
)

var (
	curBucket    = []byte("player_cur_wincount")
	recordBucket = []byte("player_record_wincount")
)

// Entry is one rank line of a board query.
type Entry struct {
	Rank  int    `json:"rank"`
	Score int64  `json:"score"`
	ID    string `json:"id"`
}

// SubmitHandler receives the outcome of an async score submission.
type SubmitHandler func(id string, newScore int64, err error)

// Board is the bbolt-backed score service.
type Board struct {
	db  *bolt.DB
	log slog.Logger
}

func NewBoard(path string, log slog.Logger) (*Board, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leaderboard db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(curBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(recordBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Board{db: db, log: log}, nil
}

func (b *Board) Close() error { return b.db.Close() }

func getScore(bk *bolt.Bucket, id string) int64 {
	raw := bk.Get([]byte(id))
	if raw == nil {
		return 0
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func putScore(bk *bolt.Bucket, id string, score int64) error {
	return bk.Put([]byte(id), []byte(strconv.FormatInt(score, 10)))
}

// IncreaseCurWinCount increments id's current streak and rolls it into the
// record board when it is a new high. The handler, if any, runs on its own
// goroutine once the write finishes.
func (b *Board) IncreaseCurWinCount(id string, h SubmitHandler) {
	go func() {
		var cur int64
		err := b.db.Update(func(tx *bolt.Tx) error {
			cb := tx.Bucket(curBucket)
			cur = getScore(cb, id) + 1
			if err := putScore(cb, id, cur); err != nil {
				return err
			}
			rb := tx.Bucket(recordBucket)
			if cur > getScore(rb, id) {
				return putScore(rb, id, cur)
			}
			return nil
		})
		if err != nil {
			b.log.Errorf("leaderboard: increase cur wincount for %s: %v", id, err)
		} else {
			b.log.Infof("leaderboard: id=%s current score: %d", id, cur)
		}
		if h != nil {
			h(id, cur, err)
		}
	}()
}

// ResetCurWinCount overwrites id's current streak with zero.
func (b *Board) ResetCurWinCount(id string, h SubmitHandler) {
	go func() {
		err := b.db.Update(func(tx *bolt.Tx) error {
			return putScore(tx.Bucket(curBucket), id, 0)
		})
		if err != nil {
			b.log.Errorf("leaderboard: reset cur wincount for %s: %v", id, err)
		}
		if h != nil {
			h(id, 0, err)
		}
	}()
}

// CurrentRecord returns id's current win streak.
func (b *Board) CurrentRecord(id string) (int64, error) {
	var score int64
	err := b.db.View(func(tx *bolt.Tx) error {
		score = getScore(tx.Bucket(curBucket), id)
		return nil
	})
	return score, err
}

// TopEight returns the top 8 record streaks, best first, ranks starting
// at 1. Ties break by id so the order is stable.
func (b *Board) TopEight() ([]Entry, error) {
	var all []Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordBucket).ForEach(func(k, v []byte) error {
			n, err := strconv.ParseInt(string(v), 10, 64)
			if err != nil {
				return nil // skip corrupt rows
			}
			all = append(all, Entry{ID: string(k), Score: n})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > 8 {
		all = all[:8]
	}
	for i := range all {
		all[i].Rank = i + 1
	}
	return all, nil
}
