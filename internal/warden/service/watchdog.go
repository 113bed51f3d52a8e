package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/warden/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/types"
)

// OpenCycle is the watchdog's view of one door opening. It lives only in
// memory and is discarded when the door closes.
type OpenCycle struct {
	OpenedAt           time.Time
	Authorized         bool
	NextAlarmAt        time.Time
	AlarmCount         int
	UnauthorizedWarned bool
	LastExitButtonAt   time.Time
}

type WatchdogConfig struct {
	Interval        time.Duration // default 1s
	MaxTimeDoorOpen time.Duration // first long-open alarm, default 300s
	SecondAlarm     time.Duration // delay to the second alarm, default 15m
	RepeatAlarm     time.Duration // delay between later alarms, default 60m
	MinIllegalOpen  time.Duration // default 2s
	ExitGrace       time.Duration // default 10s

	// AlarmOutputChannel is switched on by an unauthorized opening and off
	// when the door closes; negative disables it.
	AlarmOutputChannel int

	Now func() time.Time
}

func (c *WatchdogConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.MaxTimeDoorOpen <= 0 {
		c.MaxTimeDoorOpen = 300 * time.Second
	}
	if c.SecondAlarm <= 0 {
		c.SecondAlarm = 15 * time.Minute
	}
	if c.RepeatAlarm <= 0 {
		c.RepeatAlarm = 60 * time.Minute
	}
	if c.MinIllegalOpen <= 0 {
		c.MinIllegalOpen = 2 * time.Second
	}
	if c.ExitGrace <= 0 {
		c.ExitGrace = 10 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// DoorWatchdog polls the access state record and raises unauthorized-open
// and long-open alarms. It runs as a background goroutine and is safe to
// stop via its context or the Stop method.
type DoorWatchdog struct {
	state      *store.State
	presses    *ExitPressTracker
	outputs    OutputController
	audit      AuditSink
	dispatcher *Dispatcher
	cfg        WatchdogConfig
	logger     zerolog.Logger

	mu       sync.Mutex
	cycle    *OpenCycle
	alarmOn  bool
	lastTick time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func NewDoorWatchdog(
	st *store.State,
	presses *ExitPressTracker,
	outputs OutputController,
	audit AuditSink,
	d *Dispatcher,
	cfg WatchdogConfig,
	logger zerolog.Logger,
) *DoorWatchdog {
	cfg.applyDefaults()
	return &DoorWatchdog{
		state:      st,
		presses:    presses,
		outputs:    outputs,
		audit:      audit,
		dispatcher: d,
		cfg:        cfg,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start begins polling. The loop exits when ctx is cancelled or Stop is
// called.
func (w *DoorWatchdog) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
	w.logger.Info().Dur("interval", w.cfg.Interval).Msg("door watchdog started")
}

// Stop signals the loop to exit and waits for it. Safe to call repeatedly,
// but only after Start.
func (w *DoorWatchdog) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
	})
	<-w.done
}

func (w *DoorWatchdog) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx, w.cfg.Now())
		}
	}
}

// Tick runs one watchdog iteration at now. A panic inside the iteration is
// logged and swallowed so the next tick still runs.
func (w *DoorWatchdog) Tick(ctx context.Context, now time.Time) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WatchdogTickDuration)

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("door watchdog iteration failed")
		}
	}()

	st := w.state.Load(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastTick = now
	w.evaluate(st, now)
}

func (w *DoorWatchdog) evaluate(st types.AccessState, now time.Time) {
	lastPress := w.presses.LastPress()

	if !st.DoorOpen() {
		if w.cycle != nil {
			w.logger.Info().Dur("open_for", now.Sub(w.cycle.OpenedAt)).Msg("door closed, open cycle ended")
			w.cycle = nil
			metrics.DoorOpen.Set(0)
			w.clearAlarmOutput()
		}
		return
	}

	exitRecent := !lastPress.IsZero() && now.Sub(lastPress) <= w.cfg.ExitGrace

	if w.cycle == nil {
		w.cycle = &OpenCycle{
			OpenedAt:         now,
			NextAlarmAt:      now.Add(w.cfg.MaxTimeDoorOpen),
			Authorized:       st.Granted() || exitRecent,
			LastExitButtonAt: lastPress,
		}
		metrics.DoorOpen.Set(1)
		w.logger.Info().Bool("authorized", w.cycle.Authorized).Msg("door open cycle started")
	}
	c := w.cycle

	pressedWhileOpen := !lastPress.IsZero() && lastPress.After(c.LastExitButtonAt) && !lastPress.Before(c.OpenedAt)
	if !lastPress.IsZero() {
		c.LastExitButtonAt = lastPress
	}

	if !c.Authorized && (st.Granted() || exitRecent || pressedWhileOpen) {
		c.Authorized = true
		w.logger.Info().Msg("open cycle authorized")
	}

	openFor := now.Sub(c.OpenedAt)

	if !c.Authorized && !c.UnauthorizedWarned && openFor > w.cfg.MinIllegalOpen && !exitRecent && !st.Granted() {
		c.UnauthorizedWarned = true
		metrics.AlarmsTotal.WithLabelValues("unauthorized").Inc()
		w.audit.Record(types.AuditEvent{
			Name:    types.EventUnauthorizedOpen,
			Message: "door opened without authorization, open for " + elapsedText(c.OpenedAt, now),
			Tags:    []string{"door", "alarm", "unauthorized"},
			KV:      map[string]string{"elapsed_s": elapsedKV(c.OpenedAt, now)},
			At:      now,
		})
		w.setAlarmOutput()
	}

	if !now.Before(c.NextAlarmAt) {
		c.AlarmCount++
		step := w.cfg.RepeatAlarm
		if c.AlarmCount == 1 {
			step = w.cfg.SecondAlarm
		}
		c.NextAlarmAt = c.NextAlarmAt.Add(step)
		if !c.NextAlarmAt.After(now) {
			// Whole intervals were missed, so resume the schedule from now.
			c.NextAlarmAt = now.Add(step)
		}
		metrics.AlarmsTotal.WithLabelValues("open_too_long").Inc()
		w.audit.Record(types.AuditEvent{
			Name:    types.EventDoorOpenTooLong,
			Message: "door open for " + elapsedText(c.OpenedAt, now),
			Tags:    []string{"door", "alarm", "open_too_long"},
			KV: map[string]string{
				"elapsed_s": elapsedKV(c.OpenedAt, now),
				"alarm":     fmt.Sprintf("%d", c.AlarmCount),
			},
			At: now,
		})
	}
}

func (w *DoorWatchdog) setAlarmOutput() {
	ch := w.cfg.AlarmOutputChannel
	if ch < 0 || w.outputs == nil {
		return
	}
	w.alarmOn = true
	w.dispatcher.Go("alarm_on", func(ctx context.Context) error {
		return w.outputs.Set(ctx, ch, true)
	})
}

func (w *DoorWatchdog) clearAlarmOutput() {
	ch := w.cfg.AlarmOutputChannel
	if !w.alarmOn || ch < 0 || w.outputs == nil {
		return
	}
	w.alarmOn = false
	w.dispatcher.Go("alarm_off", func(ctx context.Context) error {
		return w.outputs.Set(ctx, ch, false)
	})
}

// Snapshot returns a copy of the current open cycle, or nil while closed.
func (w *DoorWatchdog) Snapshot() *OpenCycle {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cycle == nil {
		return nil
	}
	c := *w.cycle
	return &c
}

// LastTick returns the time of the most recent iteration.
func (w *DoorWatchdog) LastTick() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastTick
}

// Interval is the configured polling period.
func (w *DoorWatchdog) Interval() time.Duration { return w.cfg.Interval }
