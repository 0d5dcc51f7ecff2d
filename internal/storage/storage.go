// Package storage keeps short-lived chat session state for the bot in BoltDB:
// the superadmin's pending role change awaiting a user id, and one-shot
// password reveal tokens.
//
// Every operation runs in its own bbolt transaction, so a Store is safe for
// concurrent use by the update workers.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	pendingBucket = "pending" // Superadmin actions awaiting an id, keyed by user id
	revealsBucket = "reveals" // Password reveal tokens, keyed by token
)

var (
	ErrRevealNotFound  = errors.New("reveal token not found")
	ErrRevealExpired   = errors.New("reveal token expired")
	ErrRevealForbidden = errors.New("reveal token belongs to another user")
)

// Reveal is a generated password waiting to be shown to the admin who
// triggered the reset.
type Reveal struct {
	Owner     int64     `json:"owner"`
	SAM       string    `json:"sam"`
	Password  string    `json:"password"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store provides persistent session storage using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New opens the session database file at path, creating the file, its
// directory and the buckets when missing.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(pendingBucket)); err != nil {
			return fmt.Errorf("create pending bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(revealsBucket)); err != nil {
			return fmt.Errorf("create reveals bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SetPending remembers action for uid until the next message from that user.
func (s *Store) SetPending(uid int64, action string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).Put(userKey(uid), []byte(action))
	})
}

// TakePending returns and clears the pending action of uid. An empty string
// means nothing was pending.
func (s *Store) TakePending(uid int64) (string, error) {
	var action string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(pendingBucket))
		v := b.Get(userKey(uid))
		if v == nil {
			return nil
		}
		action = string(v)
		return b.Delete(userKey(uid))
	})
	return action, err
}

// ClearPending drops any pending action of uid.
func (s *Store) ClearPending(uid int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).Delete(userKey(uid))
	})
}

// PutReveal stores password for owner and returns the token that unlocks it.
func (s *Store) PutReveal(owner int64, sam, password string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	data, err := json.Marshal(Reveal{
		Owner:     owner,
		SAM:       sam,
		Password:  password,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("marshal reveal: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(revealsBucket)).Put([]byte(token), data)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// TakeReveal hands the reveal to requester and deletes it. A request from
// anyone but the owner leaves the token in place; an expired token is
// deleted and rejected.
func (s *Store) TakeReveal(token string, requester int64, now time.Time) (Reveal, error) {
	var rev Reveal
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(revealsBucket))
		v := b.Get([]byte(token))
		if v == nil {
			return ErrRevealNotFound
		}
		if err := json.Unmarshal(v, &rev); err != nil {
			return fmt.Errorf("decode reveal: %w", err)
		}
		if !now.Before(rev.ExpiresAt) {
			return ErrRevealExpired
		}
		if rev.Owner != requester {
			return ErrRevealForbidden
		}
		return b.Delete([]byte(token))
	})
	// the failed transaction rolled back, so expired tokens go separately
	if errors.Is(err, ErrRevealExpired) {
		s.deleteReveal(token)
	}
	if err != nil {
		return Reveal{}, err
	}
	return rev, nil
}

// PurgeExpired deletes every reveal that expired at or before now.
func (s *Store) PurgeExpired(now time.Time) (int, error) {
	purged := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(revealsBucket))
		var stale [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rev Reveal
			if err := json.Unmarshal(v, &rev); err != nil || !now.Before(rev.ExpiresAt) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		purged = len(stale)
		return nil
	})
	return purged, err
}

func (s *Store) deleteReveal(token string) {
	_ = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(revealsBucket)).Delete([]byte(token))
	})
}

func userKey(uid int64) []byte {
	return []byte(strconv.FormatInt(uid, 10))
}
