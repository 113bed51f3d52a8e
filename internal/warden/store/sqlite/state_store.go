package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/warden/internal/db"
)

// StateStore keeps the access state document in the single-row
// access_state table. Writes are committed through the serialized Worker,
// so a failed write leaves the previous row untouched.
type StateStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewStateStore(db *sql.DB, writer *dbpkg.Worker) *StateStore {
	return &StateStore{db: db, writer: writer}
}

func (s *StateStore) GetDoc(ctx context.Context) ([]byte, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM access_state WHERE id = 1;`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetDoc query: %w", err)
	}
	return []byte(doc), nil
}

func (s *StateStore) PutDoc(ctx context.Context, doc []byte) error {
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_state(id, doc, updated_at_ms) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  doc = excluded.doc,
  updated_at_ms = excluded.updated_at_ms;
`, string(doc), nowMs); err != nil {
			return fmt.Errorf("PutDoc upsert: %w", err)
		}
		return nil
	})
}
