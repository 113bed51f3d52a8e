package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/warden/internal/db"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store"
)

type AuditEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAuditEventStore(db *sql.DB, writer *dbpkg.Worker) *AuditEventStore {
	return &AuditEventStore{db: db, writer: writer}
}

func (s *AuditEventStore) RecordEvent(ctx context.Context, rec store.AuditEventRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("RecordEvent encode tags: %w", err)
	}

	kv := rec.KV
	if kv == nil {
		kv = map[string]string{}
	}
	kvJSON, err := json.Marshal(kv)
	if err != nil {
		return fmt.Errorf("RecordEvent encode kv: %w", err)
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO audit_events(event_id, name, message, tags_json, kv_json, recorded_at_ms)
VALUES (?, ?, ?, ?, ?, ?);
`, rec.ID, rec.Name, rec.Message, string(tagsJSON), string(kvJSON), rec.RecordedAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}
		return nil
	})
}

func (s *AuditEventStore) RecentEvents(ctx context.Context, limit int) ([]store.AuditEventRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, name, message, tags_json, kv_json, recorded_at_ms
FROM audit_events
ORDER BY recorded_at_ms DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("RecentEvents query: %w", err)
	}
	defer rows.Close()

	var out []store.AuditEventRecord
	for rows.Next() {
		var (
			rec        store.AuditEventRecord
			tagsJSON   string
			kvJSON     string
			recordedMs int64
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Message, &tagsJSON, &kvJSON, &recordedMs); err != nil {
			return nil, fmt.Errorf("RecentEvents scan: %w", err)
		}
		// A malformed tag column should not hide the event itself.
		_ = json.Unmarshal([]byte(tagsJSON), &rec.Tags)
		_ = json.Unmarshal([]byte(kvJSON), &rec.KV)
		rec.RecordedAt = time.UnixMilli(recordedMs).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneOlderThan deletes audit rows recorded before cutoff and returns the
// number of rows deleted. Uses idx_audit_events_time.
func (s *AuditEventStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM audit_events WHERE recorded_at_ms < ?;`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
