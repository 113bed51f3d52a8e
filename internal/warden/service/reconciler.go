package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/warden/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/types"
)

var (
	ErrMissingInputID = errors.New("inputId is required")
	ErrMissingState   = errors.New("state is required")
)

// RawInputEvent is one undecoded event from a webhook delivery.
type RawInputEvent map[string]any

type ReconcilerConfig struct {
	Inputs InputMap

	// ExitOutputChannel is pulsed on every exit button press; negative
	// disables it.
	ExitOutputChannel int
	ExitPulse         time.Duration // default 1s
	ExitGrantWindow   time.Duration // default 3s

	Now func() time.Time
}

// InputReconciler folds relay controller input changes into the access
// state record.
type InputReconciler struct {
	state      *store.State
	outputs    OutputController
	audit      AuditSink
	dispatcher *Dispatcher
	presses    *ExitPressTracker
	cfg        ReconcilerConfig
	logger     zerolog.Logger
}

func NewInputReconciler(
	st *store.State,
	outputs OutputController,
	audit AuditSink,
	d *Dispatcher,
	presses *ExitPressTracker,
	cfg ReconcilerConfig,
	logger zerolog.Logger,
) *InputReconciler {
	if cfg.ExitPulse <= 0 {
		cfg.ExitPulse = time.Second
	}
	if cfg.ExitGrantWindow <= 0 {
		cfg.ExitGrantWindow = 3 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &InputReconciler{
		state:      st,
		outputs:    outputs,
		audit:      audit,
		dispatcher: d,
		presses:    presses,
		cfg:        cfg,
		logger:     logger,
	}
}

// ApplyInputEvent returns current with one input change applied. Only the
// field owned by the input changes, except that a closing door also clears
// any access grant. Unknown inputs leave the record unchanged.
func (r *InputReconciler) ApplyInputEvent(current types.AccessState, inputID int, raw bool) types.AccessState {
	next := current
	switch r.cfg.Inputs.Role(inputID) {
	case RoleDoorContact:
		// Contact closed (true) means the door is shut.
		if raw {
			next.Door.DoorState = types.DoorClose
			next.AccessControl = types.AccessControl{AccessState: types.AccessNone}
		} else {
			next.Door.DoorState = types.DoorOpen
		}
	case RoleExitButton:
		next.Button.ExitButtonPressed = raw
	case RoleReserve:
		if raw {
			next.ReserveInput.InputState = types.InputOn
		} else {
			next.ReserveInput.InputState = types.InputOff
		}
	}
	return next
}

type inputTransition struct {
	role   InputRole
	before types.AccessState
	after  types.AccessState
}

// HandleBatch decodes one webhook delivery, folds its events in arrival
// order into a single state patch and then fires the side effects of the
// transitions it caused. Malformed events are dropped individually.
func (r *InputReconciler) HandleBatch(ctx context.Context, raws []RawInputEvent) types.InputBatchResponse {
	now := r.cfg.Now()

	events := make([]types.InputEvent, 0, len(raws))
	dropped := 0
	for i, raw := range raws {
		ev, err := ParseInputEvent(raw)
		if err != nil {
			dropped++
			metrics.InputEventsDropped.Inc()
			r.logger.Warn().Err(err).Int("index", i).Msg("dropping malformed input event")
			continue
		}
		events = append(events, ev)
	}

	resp := types.InputBatchResponse{
		OK:         true,
		Accepted:   len(events),
		Dropped:    dropped,
		ServerTime: now.UTC().Format(time.RFC3339Nano),
	}
	if len(events) == 0 {
		return resp
	}

	saveCtx, cancel := persistContext(ctx)
	defer cancel()

	var transitions []inputTransition
	_, err := r.state.Save(saveCtx, func(cur types.AccessState) types.AccessState {
		s := cur
		for _, ev := range events {
			role := r.cfg.Inputs.Role(ev.InputID)
			metrics.InputEventsTotal.WithLabelValues(roleLabel(role)).Inc()
			if role == RoleUnknown {
				r.logger.Debug().Int("input", ev.InputID).Msg("ignoring unmapped input")
				continue
			}
			next := r.ApplyInputEvent(s, ev.InputID, ev.State)
			transitions = append(transitions, inputTransition{role: role, before: s, after: next})
			s = next
		}
		return s
	})
	if err != nil {
		// State already holds the patched record in memory.
		r.logger.Error().Err(err).Msg("input batch not persisted")
	}

	for _, tr := range transitions {
		r.afterTransition(tr, now)
	}
	return resp
}

func (r *InputReconciler) afterTransition(tr inputTransition, now time.Time) {
	switch tr.role {
	case RoleExitButton:
		if !tr.before.Button.ExitButtonPressed && tr.after.Button.ExitButtonPressed {
			r.presses.Press(now)
			r.logger.Info().Msg("exit button pressed")
			r.pulseExitOutput()
		}
	case RoleDoorContact:
		if tr.before.Door.DoorState != types.DoorOpen && tr.after.Door.DoorState == types.DoorOpen {
			r.logger.Info().Msg("door opened")
			if pressed, ok := r.presses.Claim(now, r.cfg.ExitGrantWindow); ok {
				r.audit.Record(types.AuditEvent{
					Name:    types.EventExitGranted,
					Message: fmt.Sprintf("exit granted, door opened %s after exit button", now.Sub(pressed).Truncate(time.Millisecond)),
					Tags:    []string{"door", "exit"},
					At:      now,
				})
			}
		}
		if tr.before.Door.DoorState == types.DoorOpen && tr.after.Door.DoorState == types.DoorClose {
			r.logger.Info().Msg("door closed")
		}
	case RoleReserve:
		if tr.before.ReserveInput.InputState != tr.after.ReserveInput.InputState {
			r.logger.Info().Str("state", string(tr.after.ReserveInput.InputState)).Msg("reserve input changed")
		}
	}
}

func (r *InputReconciler) pulseExitOutput() {
	ch := r.cfg.ExitOutputChannel
	if ch < 0 || r.outputs == nil {
		return
	}
	pulse := r.cfg.ExitPulse
	r.dispatcher.Go("exit_pulse", func(ctx context.Context) error {
		if err := r.outputs.Set(ctx, ch, true); err != nil {
			return fmt.Errorf("exit output on: %w", err)
		}
		t := time.NewTimer(pulse)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
		// Switch off even if the job context expired.
		offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.outputs.Set(offCtx, ch, false); err != nil {
			return fmt.Errorf("exit output off: %w", err)
		}
		return nil
	})
}

func roleLabel(role InputRole) string {
	if role == RoleUnknown {
		return "unknown"
	}
	return string(role)
}

// ParseInputEvent coerces a raw event. The id may be a number or numeric
// string; the state may be a bool, 0/1, or "true"/"false"/"on"/"off".
func ParseInputEvent(raw RawInputEvent) (types.InputEvent, error) {
	idVal, ok := firstKey(raw, "inputId", "input_id", "input")
	if !ok {
		return types.InputEvent{}, ErrMissingInputID
	}
	id, err := coerceInt(idVal)
	if err != nil {
		return types.InputEvent{}, fmt.Errorf("inputId: %w", err)
	}

	stVal, ok := firstKey(raw, "state")
	if !ok {
		return types.InputEvent{}, ErrMissingState
	}
	state, err := coerceBool(stVal)
	if err != nil {
		return types.InputEvent{}, fmt.Errorf("state: %w", err)
	}

	return types.InputEvent{InputID: id, State: state}, nil
}

func firstKey(raw RawInputEvent, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func coerceInt(v any) (int, error) {
	var n int
	switch x := v.(type) {
	case int:
		n = x
	case int64:
		n = int(x)
	case float64:
		if x != math.Trunc(x) || x > math.MaxInt32 {
			return 0, fmt.Errorf("not an input id: %v", x)
		}
		n = int(x)
	case json.Number:
		return coerceInt(x.String())
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("not an input id: %q", x)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative input id: %d", n)
	}
	return n, nil
}

func coerceBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case float64:
		switch x {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	case int:
		switch x {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	case json.Number:
		return coerceBool(x.String())
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "on":
			return true, nil
		case "false", "0", "off":
			return false, nil
		}
	default:
		return false, fmt.Errorf("unsupported type %T", v)
	}
	return false, fmt.Errorf("not a boolean: %v", v)
}
