package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/service"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store/memory"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/types"
)

type watchdogFixture struct {
	wd      *service.DoorWatchdog
	state   *store.State
	audit   *recordingAudit
	outputs *fakeOutputs
	presses *service.ExitPressTracker
	disp    *service.Dispatcher
	t0      time.Time
}

func newWatchdogFixture(t *testing.T) *watchdogFixture {
	t.Helper()
	f := &watchdogFixture{
		state:   newState(),
		audit:   &recordingAudit{},
		outputs: &fakeOutputs{},
		presses: service.NewExitPressTracker(),
		disp:    newDispatcher(),
		t0:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	t.Cleanup(f.disp.Close)
	f.wd = service.NewDoorWatchdog(f.state, f.presses, f.outputs, f.audit, f.disp, service.WatchdogConfig{
		AlarmOutputChannel: 5,
	}, zerolog.Nop())
	return f
}

func (f *watchdogFixture) setDoor(t *testing.T, door types.DoorState, access types.AccessStatus) {
	t.Helper()
	_, err := f.state.Save(context.Background(), func(s types.AccessState) types.AccessState {
		s.Door.DoorState = door
		s.AccessControl.AccessState = access
		return s
	})
	require.NoError(t, err)
}

func (f *watchdogFixture) tick(d time.Duration) {
	f.wd.Tick(context.Background(), f.t0.Add(d))
}

func TestWatchdog_ClosedDoorHasNoCycle(t *testing.T) {
	f := newWatchdogFixture(t)

	f.tick(0)
	assert.Nil(t, f.wd.Snapshot())
	assert.Equal(t, f.t0, f.wd.LastTick())
	assert.Zero(t, f.audit.Len())
}

func TestWatchdog_UnauthorizedOpenAlarmsOnce(t *testing.T) {
	f := newWatchdogFixture(t)
	f.setDoor(t, types.DoorOpen, types.AccessNone)

	f.tick(0)
	f.tick(time.Second)
	assert.Empty(t, f.audit.Named(types.EventUnauthorizedOpen), "not before the minimum open time")

	f.tick(3 * time.Second)
	f.tick(4 * time.Second)
	f.tick(10 * time.Second)

	alarms := f.audit.Named(types.EventUnauthorizedOpen)
	require.Len(t, alarms, 1)
	assert.Contains(t, alarms[0].Tags, "alarm")
	snap := f.wd.Snapshot()
	require.NotNil(t, snap)
	assert.True(t, snap.UnauthorizedWarned)
	assert.False(t, snap.Authorized)

	f.setDoor(t, types.DoorClose, types.AccessNone)
	f.tick(12 * time.Second)
	f.disp.Wait()

	assert.Nil(t, f.wd.Snapshot())
	assert.Equal(t, []outputCall{{Channel: 5, On: true}, {Channel: 5, On: false}}, f.outputs.Calls())
}

func TestWatchdog_GrantAuthorizesCycle(t *testing.T) {
	f := newWatchdogFixture(t)
	f.setDoor(t, types.DoorOpen, types.AccessGrant)

	f.tick(0)
	f.tick(5 * time.Second)

	snap := f.wd.Snapshot()
	require.NotNil(t, snap)
	assert.True(t, snap.Authorized)
	assert.Empty(t, f.audit.Named(types.EventUnauthorizedOpen))
}

func TestWatchdog_PendingDoesNotAuthorize(t *testing.T) {
	f := newWatchdogFixture(t)
	f.setDoor(t, types.DoorOpen, types.AccessPending)

	f.tick(0)
	f.tick(3 * time.Second)

	assert.Len(t, f.audit.Named(types.EventUnauthorizedOpen), 1)
}

func TestWatchdog_RecentExitPressAuthorizes(t *testing.T) {
	f := newWatchdogFixture(t)
	f.presses.Press(f.t0.Add(-time.Second))
	f.setDoor(t, types.DoorOpen, types.AccessNone)

	f.tick(0)
	f.tick(30 * time.Second)

	assert.True(t, f.wd.Snapshot().Authorized)
	assert.Empty(t, f.audit.Named(types.EventUnauthorizedOpen))
}

func TestWatchdog_ExitPressWhileOpenLatches(t *testing.T) {
	f := newWatchdogFixture(t)
	f.setDoor(t, types.DoorOpen, types.AccessNone)

	f.tick(0)
	f.presses.Press(f.t0.Add(time.Second))
	f.tick(time.Second)
	assert.True(t, f.wd.Snapshot().Authorized)

	// Long after the grace window the cycle stays authorized.
	f.tick(time.Minute)
	assert.True(t, f.wd.Snapshot().Authorized)
	assert.Empty(t, f.audit.Named(types.EventUnauthorizedOpen))
}

func TestWatchdog_StaleExitPressDoesNotAuthorize(t *testing.T) {
	f := newWatchdogFixture(t)
	f.presses.Press(f.t0.Add(-time.Minute))
	f.setDoor(t, types.DoorOpen, types.AccessNone)

	f.tick(0)
	f.tick(3 * time.Second)

	assert.False(t, f.wd.Snapshot().Authorized)
	assert.Len(t, f.audit.Named(types.EventUnauthorizedOpen), 1)
}

func TestWatchdog_LongOpenEscalation(t *testing.T) {
	f := newWatchdogFixture(t)
	f.setDoor(t, types.DoorOpen, types.AccessGrant)

	steps := []struct {
		at     time.Duration
		alarms int
	}{
		{0, 0},
		{299 * time.Second, 0},
		{300 * time.Second, 1},
		{301 * time.Second, 1},
		{300*time.Second + 15*time.Minute - time.Second, 1},
		{300*time.Second + 15*time.Minute, 2},
		{300*time.Second + 74*time.Minute, 2},
		{300*time.Second + 75*time.Minute, 3},
		{300*time.Second + 135*time.Minute, 4},
	}
	for _, step := range steps {
		f.tick(step.at)
		assert.Len(t, f.audit.Named(types.EventDoorOpenTooLong), step.alarms, "at %s", step.at)
	}

	last := f.audit.Named(types.EventDoorOpenTooLong)
	assert.Equal(t, "4", last[len(last)-1].KV["alarm"])
	assert.Equal(t, 4, f.wd.Snapshot().AlarmCount)
}

func TestWatchdog_CloseResetsCycle(t *testing.T) {
	f := newWatchdogFixture(t)
	f.setDoor(t, types.DoorOpen, types.AccessGrant)
	f.tick(0)
	f.tick(300 * time.Second)
	require.Len(t, f.audit.Named(types.EventDoorOpenTooLong), 1)

	f.setDoor(t, types.DoorClose, types.AccessNone)
	f.tick(301 * time.Second)
	assert.Nil(t, f.wd.Snapshot())

	f.setDoor(t, types.DoorOpen, types.AccessGrant)
	f.tick(400 * time.Second)
	snap := f.wd.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, f.t0.Add(400*time.Second), snap.OpenedAt)
	assert.Zero(t, snap.AlarmCount)
	assert.Empty(t, f.outputs.Calls(), "no alarm output for an authorized cycle")
}

func TestWatchdog_StartStop(t *testing.T) {
	f := newWatchdogFixture(t)
	wd := service.NewDoorWatchdog(f.state, f.presses, f.outputs, f.audit, f.disp, service.WatchdogConfig{
		Interval: 5 * time.Millisecond,
	}, zerolog.Nop())

	wd.Start(context.Background())
	assert.Eventually(t, func() bool { return !wd.LastTick().IsZero() }, time.Second, 5*time.Millisecond)
	wd.Stop()
	wd.Stop()
}

func TestWatchdog_StalledProcessFiresOneCatchUpAlarm(t *testing.T) {
	f := newWatchdogFixture(t)
	f.setDoor(t, types.DoorOpen, types.AccessGrant)

	f.tick(0)
	f.tick(300 * time.Second)
	require.Len(t, f.audit.Named(types.EventDoorOpenTooLong), 1)

	// Ten hours pass without a tick.
	resume := 300*time.Second + 10*time.Hour
	f.tick(resume)
	f.tick(resume + time.Second)
	f.tick(resume + 2*time.Second)
	assert.Len(t, f.audit.Named(types.EventDoorOpenTooLong), 2)

	snap := f.wd.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, f.t0.Add(resume+60*time.Minute), snap.NextAlarmAt)

	f.tick(resume + 60*time.Minute)
	assert.Len(t, f.audit.Named(types.EventDoorOpenTooLong), 3)
}

func TestWatchdog_PanickingTickKeepsPolling(t *testing.T) {
	backend := &panicOnceStore{Store: memory.New()}
	state := store.NewState(backend, zerolog.Nop())
	disp := newDispatcher()
	t.Cleanup(disp.Close)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	wd := service.NewDoorWatchdog(state, service.NewExitPressTracker(), nil, &recordingAudit{}, disp, service.WatchdogConfig{
		AlarmOutputChannel: -1,
	}, zerolog.Nop())

	_, err := state.Save(context.Background(), func(s types.AccessState) types.AccessState {
		s.Door.DoorState = types.DoorOpen
		return s
	})
	require.NoError(t, err)

	backend.arm()
	assert.NotPanics(t, func() { wd.Tick(context.Background(), t0) })
	assert.Nil(t, wd.Snapshot(), "the failed iteration left no cycle behind")

	wd.Tick(context.Background(), t0.Add(time.Second))
	snap := wd.Snapshot()
	require.NotNil(t, snap, "the next iteration still opens the cycle")
	assert.Equal(t, t0.Add(time.Second), snap.OpenedAt)
	assert.Equal(t, t0.Add(time.Second), wd.LastTick())
}

func TestWatchdog_LoopSurvivesPanic(t *testing.T) {
	backend := &panicOnceStore{Store: memory.New()}
	backend.arm()
	disp := newDispatcher()
	t.Cleanup(disp.Close)

	wd := service.NewDoorWatchdog(store.NewState(backend, zerolog.Nop()), service.NewExitPressTracker(), nil, &recordingAudit{}, disp, service.WatchdogConfig{
		Interval: 5 * time.Millisecond,
	}, zerolog.Nop())

	wd.Start(context.Background())
	defer wd.Stop()
	assert.Eventually(t, func() bool { return !wd.LastTick().IsZero() }, time.Second, 5*time.Millisecond)
}
