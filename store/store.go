// Package store persists the bot's JSON collections (pending requests,
// active emote grants, banned users) in a single BoltDB file. Every write
// goes through a bbolt update transaction, so each mutation is durable
// before it returns.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	bRequests = "requests"
	bGrants   = "grants"
	bBanned   = "banned_users"

	openTimeout = 2 * time.Second
)

// Request is a pending "add this emote" redemption. Requests are processed
// FIFO by insertion order and deleted exactly once, regardless of outcome.
type Request struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	User    string `json:"user"`
	Message string `json:"message"`
}

// Grant records an emote that was added for a requester, with the absolute
// time at which the sweeper should retract it.
type Grant struct {
	ID         string    `json:"id"`
	Requester  string    `json:"requester"`
	EmoteID    string    `json:"emoteId"`
	EmoteSetID string    `json:"emoteSetId"`
	EmoteName  string    `json:"emoteName"`
	ExpireAt   time.Time `json:"expireAt"`
}

// Store is a BoltDB-backed implementation of the bot's collections.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bRequests, bGrants, bBanned} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// AppendRequest enqueues a new request. The ID is assigned here.
func (s *Store) AppendRequest(channel, user, message string) (Request, error) {
	r := Request{
		ID:      uuid.New().String(),
		Channel: channel,
		User:    user,
		Message: message,
	}
	val, err := json.Marshal(r)
	if err != nil {
		return Request{}, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bRequests))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), val)
	})
	if err != nil {
		return Request{}, fmt.Errorf("append request: %w", err)
	}
	return r, nil
}

// NextRequest returns the oldest pending request without removing it, or
// nil when the queue is empty.
func (s *Store) NextRequest() (*Request, error) {
	var out *Request
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bRequests)).Cursor()
		k, v := c.First()
		if k == nil {
			return nil
		}
		var r Request
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("decode request %x: %w", k, err)
		}
		out = &r
		return nil
	})
	return out, err
}

// RemoveRequest deletes the request with the given id. Missing ids are a
// no-op; the queue must keep draining even if a request vanished.
func (s *Store) RemoveRequest(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bRequests))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r Request
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if r.ID == id {
				return b.Delete(k)
			}
		}
		return nil
	})
}

// QueueDepth returns the number of pending requests.
func (s *Store) QueueDepth() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bRequests)).Stats().KeyN
		return nil
	})
	return n, err
}

// AppendGrant persists a new emote grant.
func (s *Store) AppendGrant(g Grant) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	val, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bGrants)).Put([]byte(g.ID), val)
	})
}

// CountUserGrants returns how many live grants the user currently holds.
// Matching is case-insensitive to line up with ban handling.
func (s *Store) CountUserGrants(user string) (int, error) {
	var n int
	err := s.eachGrant(func(g Grant) {
		if strings.EqualFold(g.Requester, user) {
			n++
		}
	})
	return n, err
}

// UserGrants returns all grants held by the user.
func (s *Store) UserGrants(user string) ([]Grant, error) {
	var out []Grant
	err := s.eachGrant(func(g Grant) {
		if strings.EqualFold(g.Requester, user) {
			out = append(out, g)
		}
	})
	return out, err
}

// ExpiredGrants returns grants whose expireAt is at or before now.
func (s *Store) ExpiredGrants(now time.Time) ([]Grant, error) {
	var out []Grant
	err := s.eachGrant(func(g Grant) {
		if !g.ExpireAt.After(now) {
			out = append(out, g)
		}
	})
	return out, err
}

// GrantCount returns the total number of live grants.
func (s *Store) GrantCount() (int, error) {
	var n int
	err := s.eachGrant(func(Grant) { n++ })
	return n, err
}

// RemoveGrants deletes the given grant ids in one transaction.
func (s *Store) RemoveGrants(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bGrants))
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveUserGrants deletes all grants held by the user.
func (s *Store) RemoveUserGrants(user string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bGrants))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var g Grant
			if err := json.Unmarshal(v, &g); err != nil {
				continue
			}
			if strings.EqualFold(g.Requester, user) {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) eachGrant(fn func(Grant)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bGrants)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var g Grant
			if err := json.Unmarshal(v, &g); err != nil {
				// Corruption: skip the row, don't brick the queue.
				continue
			}
			fn(g)
		}
		return nil
	})
}

// Ban adds the user to the ban set. Names are normalized to lower case.
func (s *Store) Ban(user string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bBanned)).Put([]byte(strings.ToLower(user)), nil)
	})
}

// Unban removes the user from the ban set.
func (s *Store) Unban(user string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bBanned)).Delete([]byte(strings.ToLower(user)))
	})
}

// IsBanned reports whether the user is banned, case-insensitively.
func (s *Store) IsBanned(user string) (bool, error) {
	var banned bool
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bBanned)).Cursor()
		k, _ := c.Seek([]byte(strings.ToLower(user)))
		banned = k != nil && string(k) == strings.ToLower(user)
		return nil
	})
	return banned, err
}

// BanCount returns the number of banned users.
func (s *Store) BanCount() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bBanned)).Stats().KeyN
		return nil
	})
	return n, err
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
