package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type DoorState string

const (
	DoorOpen  DoorState = "Open"
	DoorClose DoorState = "Close"
)

type InputState string

const (
	InputOn  InputState = "on"
	InputOff InputState = "off"
)

type AccessStatus string

const (
	AccessNone    AccessStatus = "noAccess"
	AccessPending AccessStatus = "pending"
	AccessGrant   AccessStatus = "grant"
)

func (s AccessStatus) Valid() bool {
	switch s {
	case AccessNone, AccessPending, AccessGrant:
		return true
	}
	return false
}

type Button struct {
	ExitButtonPressed bool `json:"exitButtonPressed"`
}

type Door struct {
	DoorState DoorState `json:"doorState"`
}

type ReserveInput struct {
	InputState InputState `json:"inputState"`
}

type AccessControl struct {
	AccessState    AccessStatus `json:"accessState"`
	PendingCounter int          `json:"pendingCounter"`
}

// AccessState is the single persisted record shared by the reconciler, the
// authorization workflow and the door watchdog.
type AccessState struct {
	Button        Button        `json:"button"`
	Door          Door          `json:"door"`
	ReserveInput  ReserveInput  `json:"reserveInput"`
	AccessControl AccessControl `json:"accessControle"`
}

func DefaultAccessState() AccessState {
	return AccessState{
		Button:        Button{ExitButtonPressed: false},
		Door:          Door{DoorState: DoorClose},
		ReserveInput:  ReserveInput{InputState: InputOff},
		AccessControl: AccessControl{AccessState: AccessNone, PendingCounter: 0},
	}
}

// Normalize enforces the counter invariant: the pending counter only carries
// a value while the record is pending.
func (s AccessState) Normalize() AccessState {
	if s.AccessControl.AccessState != AccessPending || s.AccessControl.PendingCounter < 0 {
		s.AccessControl.PendingCounter = 0
	}
	return s
}

func (s AccessState) DoorOpen() bool { return s.Door.DoorState == DoorOpen }

func (s AccessState) Granted() bool { return s.AccessControl.AccessState == AccessGrant }

// Repair names a sub-object that was missing or invalid in a stored record
// and has been reset to its default.
type Repair struct {
	Field   string
	Invalid bool // true when a value was present but not a known enum
}

func (r Repair) String() string {
	if r.Invalid {
		return r.Field + " (invalid)"
	}
	return r.Field + " (missing)"
}

type rawAccessState struct {
	Button        json.RawMessage `json:"button"`
	Door          json.RawMessage `json:"door"`
	ReserveInput  json.RawMessage `json:"reserveInput"`
	AccessControl json.RawMessage `json:"accessControle"`
}

// DecodeAccessState parses a stored record. Empty input yields the default
// record. Input that is not a JSON object yields the default record and an
// error. A parseable object keeps every valid sub-object and resets the
// others, listing them in the returned repairs.
func DecodeAccessState(data []byte) (AccessState, []Repair, error) {
	def := DefaultAccessState()
	if len(bytes.TrimSpace(data)) == 0 {
		return def, nil, nil
	}

	var raw rawAccessState
	if err := json.Unmarshal(data, &raw); err != nil {
		return def, nil, fmt.Errorf("decode access state: %w", err)
	}

	out := def
	var repairs []Repair

	var button struct {
		ExitButtonPressed *bool `json:"exitButtonPressed"`
	}
	if isNull(raw.Button) || json.Unmarshal(raw.Button, &button) != nil || button.ExitButtonPressed == nil {
		repairs = append(repairs, Repair{Field: "button"})
	} else {
		out.Button.ExitButtonPressed = *button.ExitButtonPressed
	}

	var door struct {
		DoorState *DoorState `json:"doorState"`
	}
	switch {
	case isNull(raw.Door) || json.Unmarshal(raw.Door, &door) != nil || door.DoorState == nil:
		repairs = append(repairs, Repair{Field: "door"})
	case *door.DoorState != DoorOpen && *door.DoorState != DoorClose:
		repairs = append(repairs, Repair{Field: "door", Invalid: true})
	default:
		out.Door.DoorState = *door.DoorState
	}

	var reserve struct {
		InputState *InputState `json:"inputState"`
	}
	switch {
	case isNull(raw.ReserveInput) || json.Unmarshal(raw.ReserveInput, &reserve) != nil || reserve.InputState == nil:
		repairs = append(repairs, Repair{Field: "reserveInput"})
	case *reserve.InputState != InputOn && *reserve.InputState != InputOff:
		repairs = append(repairs, Repair{Field: "reserveInput", Invalid: true})
	default:
		out.ReserveInput.InputState = *reserve.InputState
	}

	var access struct {
		AccessState    *AccessStatus `json:"accessState"`
		PendingCounter *int          `json:"pendingCounter"`
	}
	switch {
	case isNull(raw.AccessControl) || json.Unmarshal(raw.AccessControl, &access) != nil || access.AccessState == nil:
		repairs = append(repairs, Repair{Field: "accessControle"})
	case !access.AccessState.Valid():
		repairs = append(repairs, Repair{Field: "accessControle", Invalid: true})
	default:
		out.AccessControl.AccessState = *access.AccessState
		if access.PendingCounter != nil {
			out.AccessControl.PendingCounter = *access.PendingCounter
		}
	}

	return out.Normalize(), repairs, nil
}

// Encode renders the record in its stored layout.
func (s AccessState) Encode() ([]byte, error) {
	return json.Marshal(s.Normalize())
}

func isNull(m json.RawMessage) bool {
	t := bytes.TrimSpace(m)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
