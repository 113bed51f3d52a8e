package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/warden/internal/metrics"
)

// JobFn is a fire-and-forget side effect.
type JobFn func(ctx context.Context) error

type dispatchJob struct {
	name string
	fn   JobFn
}

// Dispatcher runs side effects (outputs, audit writes, remote calls) on a
// fixed pool of goroutines so the state-mutating path never waits on them.
// Go never blocks: when the queue is full the job is dropped and counted.
type Dispatcher struct {
	logger     zerolog.Logger
	jobs       chan dispatchJob
	jobTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	pending sync.WaitGroup // queued or running jobs
	workers sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type DispatcherConfig struct {
	Workers    int           // default 4
	QueueSize  int           // default 256
	JobTimeout time.Duration // upper bound per job, default 30s
}

func NewDispatcher(cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		logger:     logger,
		jobs:       make(chan dispatchJob, cfg.QueueSize),
		jobTimeout: cfg.JobTimeout,
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		d.workers.Add(1)
		go d.loop()
	}
	return d
}

// Go queues fn and returns immediately. It reports whether the job was
// accepted.
func (d *Dispatcher) Go(name string, fn JobFn) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn().Str("job", name).Msg("dispatcher closed, dropping job")
		metrics.DispatchDropped.Inc()
		return false
	}

	d.pending.Add(1)
	select {
	case d.jobs <- dispatchJob{name: name, fn: fn}:
		return true
	default:
		d.pending.Done()
		d.logger.Warn().Str("job", name).Msg("dispatch queue full, dropping job")
		metrics.DispatchDropped.Inc()
		return false
	}
}

// Wait blocks until every accepted job, including jobs queued by running
// jobs, has finished.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

// Close drains the queue and stops the workers. Jobs still running see
// their context cancelled once the drain is done.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.pending.Wait()
	close(d.jobs)
	d.workers.Wait()
	d.cancel()
}

func (d *Dispatcher) loop() {
	defer d.workers.Done()
	for j := range d.jobs {
		d.run(j)
	}
}

func (d *Dispatcher) run(j dispatchJob) {
	defer d.pending.Done()

	ctx, cancel := context.WithTimeout(d.ctx, d.jobTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return j.fn(ctx)
	}()
	if err != nil {
		metrics.DispatchFailed.WithLabelValues(j.name).Inc()
		d.logger.Warn().Err(err).Str("job", j.name).Msg("side effect failed")
	}
}
