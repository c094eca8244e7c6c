// Package identity persists a node's local profile: its display name and the
// last mesh sequence number it stamped on an originated packet.
//
// The display name survives restarts so a node keeps its operator-visible
// identity across power cycles. Persisting the sequence counter keeps the
// per-origin monotonicity promise across restarts: a rebooted node that
// reused low sequence numbers would have its fresh messages suppressed as
// duplicates by any neighbour that still remembers them.
package identity

import (
	"encoding/binary"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketProfile = []byte("profile")

	keyName = []byte("display_name")
	keySeq  = []byte("last_sequence")
)

// Store is a persistent node profile backed by bbolt.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the profile database inside dataDir.
func Open(dataDir string) (*Store, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "identity.db"), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketProfile)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DisplayName returns the stored display name, or "" if none was set.
func (s *Store) DisplayName() string {
	var name string
	s.db.View(func(tx *bolt.Tx) error { //nolint:errcheck
		if v := tx.Bucket(bucketProfile).Get(keyName); v != nil {
			name = string(v)
		}
		return nil
	})
	return name
}

// SetDisplayName stores the display name.
func (s *Store) SetDisplayName(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProfile).Put(keyName, []byte(name))
	})
}

// LastSequence returns the highest mesh sequence persisted so far, 0 if none.
func (s *Store) LastSequence() uint32 {
	var seq uint32
	s.db.View(func(tx *bolt.Tx) error { //nolint:errcheck
		if v := tx.Bucket(bucketProfile).Get(keySeq); len(v) == 4 {
			seq = binary.BigEndian.Uint32(v)
		}
		return nil
	})
	return seq
}

// StoreSequence persists the most recently assigned mesh sequence.
func (s *Store) StoreSequence(seq uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], seq)
		return tx.Bucket(bucketProfile).Put(keySeq, v[:])
	})
}
