package main

import (
	"context"
	"fmt"

	"github.com/BrandonDHaskell/Portunus/warden/internal/config"
	"github.com/BrandonDHaskell/Portunus/warden/internal/db"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store"
	boltstore "github.com/BrandonDHaskell/Portunus/warden/internal/warden/store/bolt"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store/memory"
	sqlitestore "github.com/BrandonDHaskell/Portunus/warden/internal/warden/store/sqlite"
)

type auditBackend interface {
	store.AuditStore
	store.AuditPruner
}

type backends struct {
	docs    store.DocStore
	audit   auditBackend
	closers []func()
}

// Close releases backends in reverse order of opening.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackends builds the state and audit stores for cfg.Backend. The audit
// log lives in sqlite for both the sqlite and bolt backends.
func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}

	if cfg.Backend == "memory" {
		b.docs = memory.New()
		b.audit = memory.NewAuditEventStore()
		return b, nil
	}

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	writer := db.NewWorker(conn)
	b.closers = append(b.closers, func() { _ = conn.Close() }, writer.Close)
	b.audit = sqlitestore.NewAuditEventStore(conn, writer)

	switch cfg.Backend {
	case "bolt":
		bs, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("open bolt: %w", err)
		}
		b.closers = append(b.closers, func() { _ = bs.Close() })
		b.docs = bs
	default:
		b.docs = sqlitestore.NewStateStore(conn, writer)
	}
	return b, nil
}
