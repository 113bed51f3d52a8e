package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store"
)

// AuditEventStore is an in-memory append-only audit log.
// It is intended for use in tests and dev environments.
type AuditEventStore struct {
	mu     sync.Mutex
	events []store.AuditEventRecord
}

func NewAuditEventStore() *AuditEventStore {
	return &AuditEventStore{}
}

func (s *AuditEventStore) RecordEvent(_ context.Context, rec store.AuditEventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, rec)
	return nil
}

func (s *AuditEventStore) RecentEvents(_ context.Context, limit int) ([]store.AuditEventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]store.AuditEventRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

func (s *AuditEventStore) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, ev := range s.events {
		if ev.RecordedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return deleted, nil
}

// Events returns a copy of all recorded events in insertion order.  Test-only helper.
func (s *AuditEventStore) Events() []store.AuditEventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.AuditEventRecord, len(s.events))
	copy(out, s.events)
	return out
}

// Named returns the recorded events with the given name.  Test-only helper.
func (s *AuditEventStore) Named(name string) []store.AuditEventRecord {
	var out []store.AuditEventRecord
	for _, ev := range s.Events() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}
