package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"

	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store"
)

var (
	bucketState = []byte("state")
	keyAccess   = []byte("access")
)

// StateStore keeps the access state document in a bbolt file. Every PutDoc
// is one Update transaction, so a crash mid-write leaves the previous
// document in place.
type StateStore struct {
	db *bolt.DB
}

func Open(path string) (*StateStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir bolt dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketState); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketState, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &StateStore{db: db}, nil
}

func (s *StateStore) Close() error {
	return s.db.Close()
}

func (s *StateStore) GetDoc(_ context.Context) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketState).Get(keyAccess)
		if data == nil {
			return nil
		}
		// Values are only valid for the life of the transaction.
		out = make([]byte, len(data))
		copy(out, data)
		return nil
	})
	return out, mapErr(err)
}

func (s *StateStore) PutDoc(_ context.Context, doc []byte) error {
	return mapErr(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Put(keyAccess, doc)
	}))
}

func mapErr(err error) error {
	if errors.Is(err, bolterrors.ErrDatabaseNotOpen) {
		return store.ErrClosed
	}
	return err
}
