package userdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var usersBucket = []byte("users")

type boltDB struct {
	db *bolt.DB
}

// NewBoltDB opens (creating if needed) the user store at path.
func NewBoltDB(path string) (UserDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open user db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(usersBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltDB{db: db}, nil
}

func getUser(b *bolt.Bucket, id string) (*User, error) {
	raw := b.Get([]byte(id))
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("corrupt user record %s: %w", id, err)
	}
	return &u, nil
}

func putUser(b *bolt.Bucket, u *User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return b.Put([]byte(u.ID), raw)
}

func (d *boltDB) FetchUser(_ context.Context, id string) (*User, error) {
	var u *User
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b == nil {
			return ErrMainBucketNotFound
		}
		var err error
		u, err = getUser(b, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (d *boltDB) EnsureUser(_ context.Context, id string) (*User, error) {
	var u *User
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b == nil {
			return ErrMainBucketNotFound
		}
		var err error
		u, err = getUser(b, id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return err
		}
		u = &User{ID: id}
		return putUser(b, u)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (d *boltDB) UpdateMatchRecord(_ context.Context, winner, loser string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b == nil {
			return ErrMainBucketNotFound
		}
		// Settlement may run on a node the players never logged in on, so
		// missing rows start from zero instead of failing the match record.
		w, err := getUser(b, winner)
		if errors.Is(err, ErrUserNotFound) {
			w = &User{ID: winner}
		} else if err != nil {
			return err
		}
		l, err := getUser(b, loser)
		if errors.Is(err, ErrUserNotFound) {
			l = &User{ID: loser}
		} else if err != nil {
			return err
		}
		w.WinCount++
		l.LoseCount++
		if err := putUser(b, w); err != nil {
			return err
		}
		return putUser(b, l)
	})
}

func (d *boltDB) Close() error {
	return d.db.Close()
}
