package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/service"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store/memory"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/types"
)

var errUnreachable = errors.New("authorization service unreachable")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type recordingAudit struct {
	mu     sync.Mutex
	events []types.AuditEvent
}

func (a *recordingAudit) Record(ev types.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *recordingAudit) Named(name string) []types.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []types.AuditEvent
	for _, ev := range a.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (a *recordingAudit) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

type outputCall struct {
	Channel int
	On      bool
}

type fakeOutputs struct {
	mu    sync.Mutex
	calls []outputCall
}

func (o *fakeOutputs) Set(_ context.Context, channel int, on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, outputCall{Channel: channel, On: on})
	return nil
}

func (o *fakeOutputs) Calls() []outputCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]outputCall, len(o.calls))
	copy(out, o.calls)
	return out
}

type fakeDoor struct {
	mu    sync.Mutex
	opens int
}

func (d *fakeDoor) Open(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	return nil
}

func (d *fakeDoor) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// fakeAuthorizer answers every check with result, or err when set. The
// first failFirst calls fail regardless. A non-nil gate holds every call
// until it is closed.
type fakeAuthorizer struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	result    types.AuthResult
	err       error
	gate      chan struct{}
}

func (a *fakeAuthorizer) Check(ctx context.Context, _ string) (types.AuthResult, error) {
	a.mu.Lock()
	a.calls++
	gate := a.gate
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return types.AuthResult{}, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failFirst > 0 {
		a.failFirst--
		return types.AuthResult{}, errUnreachable
	}
	return a.result, a.err
}

func (a *fakeAuthorizer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func newState() *store.State {
	return store.NewState(memory.New(), zerolog.Nop())
}

func newDispatcher() *service.Dispatcher {
	return service.NewDispatcher(service.DispatcherConfig{Workers: 2, QueueSize: 64, JobTimeout: time.Second}, zerolog.Nop())
}

// ctxStore is an in-memory DocStore that fails like a real backend once the
// caller's context is done.
type ctxStore struct {
	*memory.Store
}

func (s ctxStore) GetDoc(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.GetDoc(ctx)
}

func (s ctxStore) PutDoc(ctx context.Context, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.PutDoc(ctx, doc)
}

// panicOnceStore panics on the first read after arm is called.
type panicOnceStore struct {
	*memory.Store
	mu    sync.Mutex
	armed bool
}

func (s *panicOnceStore) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
}

func (s *panicOnceStore) GetDoc(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	armed := s.armed
	s.armed = false
	s.mu.Unlock()
	if armed {
		panic("backend exploded")
	}
	return s.Store.GetDoc(ctx)
}
