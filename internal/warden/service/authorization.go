package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/warden/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/types"
)

var (
	ErrInvalidCode = errors.New("code is required")
)

type AuthorizationConfig struct {
	DedupWindow time.Duration // default 5s
	MaxPending  int           // default 2

	// Remote call policy.
	Attempts       int           // default 3
	AttemptTimeout time.Duration // default 5s
	RetryBackoff   time.Duration // default 500ms

	// CheckWorkers bounds concurrent remote calls. They run on their own
	// pool so a hung authorization service cannot starve output pulses and
	// audit writes. Defaults 2 workers and a queue of 16.
	CheckWorkers int
	CheckQueue   int

	// MaxErrorPending is how many failed calls keep the record pending
	// before it falls back to noAccess. Default 3.
	MaxErrorPending int

	// GrantOutputChannel is pulsed on a grant (indicator light or buzzer);
	// negative disables it.
	GrantOutputChannel int
	GrantPulse         time.Duration // default 2s

	Now func() time.Time
}

func (c *AuthorizationConfig) applyDefaults() {
	if c.DedupWindow <= 0 {
		c.DedupWindow = 5 * time.Second
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 2
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 5 * time.Second
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	} else if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.CheckWorkers <= 0 {
		c.CheckWorkers = 2
	}
	if c.CheckQueue <= 0 {
		c.CheckQueue = 16
	}
	if c.MaxErrorPending <= 0 {
		c.MaxErrorPending = 3
	}
	if c.GrantPulse <= 0 {
		c.GrantPulse = 2 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// AuthorizationWorkflow drives accessControle through noAccess, pending
// and grant from badge scans and remote authorization answers.
type AuthorizationWorkflow struct {
	state      *store.State
	authorizer RemoteAuthorizer
	door       DoorOpener
	outputs    OutputController
	audit      AuditSink
	dispatcher *Dispatcher
	checks     *Dispatcher
	cfg        AuthorizationConfig
	logger     zerolog.Logger

	mu       sync.Mutex
	lastScan map[string]time.Time

	inflight sync.WaitGroup
}

func NewAuthorizationWorkflow(
	st *store.State,
	authorizer RemoteAuthorizer,
	door DoorOpener,
	outputs OutputController,
	audit AuditSink,
	d *Dispatcher,
	cfg AuthorizationConfig,
	logger zerolog.Logger,
) *AuthorizationWorkflow {
	cfg.applyDefaults()
	checks := NewDispatcher(DispatcherConfig{
		Workers:    cfg.CheckWorkers,
		QueueSize:  cfg.CheckQueue,
		JobTimeout: time.Duration(cfg.Attempts)*(cfg.AttemptTimeout+cfg.RetryBackoff) + persistTimeout,
	}, logger)
	return &AuthorizationWorkflow{
		state:      st,
		authorizer: authorizer,
		door:       door,
		outputs:    outputs,
		audit:      audit,
		dispatcher: d,
		checks:     checks,
		cfg:        cfg,
		logger:     logger,
		lastScan:   make(map[string]time.Time),
	}
}

type scanAction int

const (
	actionWait scanAction = iota
	actionCall
	actionRecall
)

// HandleScan accepts a scanned code. Only an empty code is an error; every
// other outcome is reported in the response status and the remote call, if
// any, runs in the background.
func (w *AuthorizationWorkflow) HandleScan(ctx context.Context, req types.ScanRequest) (types.ScanResponse, error) {
	now := w.cfg.Now()
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return types.ScanResponse{}, ErrInvalidCode
	}

	resp := types.ScanResponse{OK: true, ServerTime: now.UTC().Format(time.RFC3339Nano)}

	if w.isDuplicate(code, now) {
		metrics.ScansTotal.WithLabelValues(string(types.ScanDuplicate)).Inc()
		w.logger.Debug().Str("code", maskCode(code)).Msg("duplicate scan dropped")
		resp.Status = types.ScanDuplicate
		return resp, nil
	}

	saveCtx, cancel := persistContext(ctx)
	defer cancel()

	var (
		action  scanAction
		counter int
	)
	_, err := w.state.Save(saveCtx, func(s types.AccessState) types.AccessState {
		ac := &s.AccessControl
		if ac.AccessState != types.AccessPending {
			ac.AccessState = types.AccessPending
			ac.PendingCounter = 1
			action = actionCall
			return s
		}
		ac.PendingCounter++
		counter = ac.PendingCounter
		if ac.PendingCounter < w.cfg.MaxPending {
			action = actionWait
			return s
		}
		ac.PendingCounter = 0
		action = actionRecall
		return s
	})
	if err != nil {
		w.logger.Error().Err(err).Msg("scan state not persisted")
	}

	switch action {
	case actionWait:
		w.logger.Info().Str("code", maskCode(code)).Int("pending_counter", counter).Msg("authorization still pending, waiting")
		metrics.ScansTotal.WithLabelValues(string(types.ScanWaiting)).Inc()
		resp.Status = types.ScanWaiting
		return resp, nil
	case actionRecall:
		w.logger.Warn().Str("code", maskCode(code)).Msgf("still pending after %d retries, asking again", counter)
		w.audit.Record(types.AuditEvent{
			Name:    types.EventAccessStillPending,
			Message: fmt.Sprintf("authorization still pending after %d retries", counter),
			Tags:    []string{"access", "pending"},
			At:      now,
		})
	}

	metrics.ScansTotal.WithLabelValues(string(types.ScanAccepted)).Inc()
	w.startCheck(code, req.Timestamp)
	resp.Status = types.ScanAccepted
	return resp, nil
}

// Wait blocks until every remote call started by HandleScan has settled.
func (w *AuthorizationWorkflow) Wait() {
	w.inflight.Wait()
}

// Close waits for in-flight calls and stops the remote call pool. Scans
// after Close settle as errors.
func (w *AuthorizationWorkflow) Close() {
	w.inflight.Wait()
	w.checks.Close()
}

// isDuplicate reports whether code was accepted within the dedup window and
// records it as accepted otherwise. Entries older than the window are
// pruned on the way.
func (w *AuthorizationWorkflow) isDuplicate(code string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for c, at := range w.lastScan {
		if now.Sub(at) >= w.cfg.DedupWindow {
			delete(w.lastScan, c)
		}
	}
	if at, ok := w.lastScan[code]; ok && now.Sub(at) < w.cfg.DedupWindow {
		return true
	}
	w.lastScan[code] = now
	return false
}

func (w *AuthorizationWorkflow) startCheck(code, requestedAt string) {
	w.inflight.Add(1)
	ok := w.checks.Go("authorize", func(ctx context.Context) error {
		defer w.inflight.Done()
		result, err := w.checkWithRetry(ctx, code)
		w.settle(ctx, code, requestedAt, result, err)
		return nil
	})
	if !ok {
		w.inflight.Done()
		w.settle(context.Background(), code, requestedAt, types.AuthResult{}, errors.New("authorization queue full"))
	}
}

// checkWithRetry calls the remote authorizer up to Attempts times, each
// with its own timeout and a fixed backoff between attempts.
func (w *AuthorizationWorkflow) checkWithRetry(ctx context.Context, code string) (types.AuthResult, error) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.AttemptTimeout)
		result, err := w.authorizer.Check(attemptCtx, code)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		w.logger.Warn().Err(err).Int("attempt", attempt).Msg("remote authorization failed")

		if attempt == w.cfg.Attempts {
			break
		}
		t := time.NewTimer(w.cfg.RetryBackoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return types.AuthResult{}, fmt.Errorf("authorization aborted: %w", ctx.Err())
		}
	}
	return types.AuthResult{}, fmt.Errorf("authorization failed after %d attempts: %w", w.cfg.Attempts, lastErr)
}

func (w *AuthorizationWorkflow) settle(ctx context.Context, code, requestedAt string, result types.AuthResult, callErr error) {
	now := w.cfg.Now()

	saveCtx, cancel := persistContext(ctx)
	defer cancel()

	var after types.AccessState
	_, err := w.state.Save(saveCtx, func(s types.AccessState) types.AccessState {
		ac := &s.AccessControl
		switch {
		case callErr != nil:
			counter := ac.PendingCounter + 1
			if counter <= w.cfg.MaxErrorPending {
				ac.AccessState = types.AccessPending
				ac.PendingCounter = counter
			} else {
				ac.AccessState = types.AccessNone
				ac.PendingCounter = 0
			}
		case result.Granted:
			ac.AccessState = types.AccessGrant
			ac.PendingCounter = 0
		default:
			ac.AccessState = types.AccessNone
			ac.PendingCounter = 0
		}
		after = s
		return s
	})
	if err != nil {
		w.logger.Error().Err(err).Msg("authorization result not persisted")
	}

	kv := map[string]string{"code": maskCode(code)}
	if requestedAt != "" {
		kv["requested_at"] = requestedAt
	}

	switch {
	case callErr != nil:
		metrics.AuthorizationsTotal.WithLabelValues("error").Inc()
		kv["access_state"] = string(after.AccessControl.AccessState)
		w.audit.Record(types.AuditEvent{
			Name:    types.EventAccessError,
			Message: fmt.Sprintf("access error: %v", callErr),
			Tags:    []string{"access", "error"},
			KV:      kv,
			At:      now,
		})

	case result.Granted:
		metrics.AuthorizationsTotal.WithLabelValues("granted").Inc()
		for k, v := range result.Metadata {
			kv[k] = v
		}
		who := result.Name
		if who == "" {
			who = maskCode(code)
		} else {
			kv["name"] = who
		}
		w.openDoor()
		w.audit.Record(types.AuditEvent{
			Name:    types.EventAccessGranted,
			Message: "access granted for " + who,
			Tags:    []string{"access", "granted"},
			KV:      kv,
			At:      now,
		})

	default:
		metrics.AuthorizationsTotal.WithLabelValues("denied").Inc()
		w.audit.Record(types.AuditEvent{
			Name:    types.EventAccessDenied,
			Message: "access denied for " + maskCode(code),
			Tags:    []string{"access", "denied"},
			KV:      kv,
			At:      now,
		})
	}
}

func (w *AuthorizationWorkflow) openDoor() {
	if w.door != nil {
		w.dispatcher.Go("door_open", func(ctx context.Context) error {
			return w.door.Open(ctx)
		})
	}

	ch := w.cfg.GrantOutputChannel
	if ch < 0 || w.outputs == nil {
		return
	}
	pulse := w.cfg.GrantPulse
	w.dispatcher.Go("grant_indicator", func(ctx context.Context) error {
		if err := w.outputs.Set(ctx, ch, true); err != nil {
			return err
		}
		t := time.NewTimer(pulse)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
		offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.outputs.Set(offCtx, ch, false)
	})
}

// maskCode keeps badge codes out of logs and the audit trail in full. It
// counts runes so multi-byte codes stay valid UTF-8.
func maskCode(code string) string {
	r := []rune(code)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}
