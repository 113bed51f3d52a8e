package store

import (
	"context"
	"time"
)

// AuditEventRecord is one bookmarked event in the audit log.
type AuditEventRecord struct {
	ID         string
	Name       string
	Message    string
	Tags       []string
	KV         map[string]string
	RecordedAt time.Time
}

// AuditStore persists audit events as an append-only log.
type AuditStore interface {
	RecordEvent(ctx context.Context, rec AuditEventRecord) error
	// RecentEvents returns up to limit events, newest first.
	RecentEvents(ctx context.Context, limit int) ([]AuditEventRecord, error)
}

// AuditPruner deletes audit events recorded before cutoff.
type AuditPruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
