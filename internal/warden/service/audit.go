package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/types"
)

// AuditRecorder is the AuditSink used in production: every event is logged
// immediately and persisted to the audit store on the dispatcher. A failed
// write is logged and never reaches the caller.
type AuditRecorder struct {
	store      store.AuditStore
	dispatcher *Dispatcher
	logger     zerolog.Logger
	now        func() time.Time
}

func NewAuditRecorder(st store.AuditStore, d *Dispatcher, logger zerolog.Logger) *AuditRecorder {
	return &AuditRecorder{store: st, dispatcher: d, logger: logger, now: time.Now}
}

func (r *AuditRecorder) Record(ev types.AuditEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = r.now().UTC()
	}

	log := r.logger.Info().Str("event", ev.Name).Strs("tags", ev.Tags)
	for k, v := range ev.KV {
		log = log.Str(k, v)
	}
	log.Msg(ev.Message)

	rec := store.AuditEventRecord{
		ID:         ev.ID,
		Name:       ev.Name,
		Message:    ev.Message,
		Tags:       ev.Tags,
		KV:         ev.KV,
		RecordedAt: ev.At,
	}
	r.dispatcher.Go("audit:"+ev.Name, func(ctx context.Context) error {
		return r.store.RecordEvent(ctx, rec)
	})
}

// elapsedText renders an open duration for audit messages, e.g.
// "5m0s (5 minutes)".
func elapsedText(openedAt, now time.Time) string {
	d := now.Sub(openedAt).Truncate(time.Second)
	return fmt.Sprintf("%s (%s)", d, strings.TrimSpace(humanize.RelTime(openedAt, now, "", "")))
}

func elapsedKV(openedAt, now time.Time) string {
	return strconv.FormatInt(int64(now.Sub(openedAt)/time.Second), 10)
}
