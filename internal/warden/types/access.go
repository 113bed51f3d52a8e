package types

import "time"

// ScanRequest is a badge or QR code read by the access terminal.
type ScanRequest struct {
	Code      string `json:"code"`
	Timestamp string `json:"timestamp,omitempty"` // optional device timestamp
}

type ScanStatus string

const (
	ScanAccepted  ScanStatus = "accepted"
	ScanDuplicate ScanStatus = "duplicate"
	ScanWaiting   ScanStatus = "pending"
)

type ScanResponse struct {
	OK         bool       `json:"ok"`
	Status     ScanStatus `json:"status"`
	ServerTime string     `json:"server_time"`
}

// InputEvent is one contact change reported by the relay controller.
type InputEvent struct {
	InputID int  `json:"inputId"`
	State   bool `json:"state"`
}

type InputBatchResponse struct {
	OK         bool   `json:"ok"`
	Accepted   int    `json:"accepted"`
	Dropped    int    `json:"dropped"`
	ServerTime string `json:"server_time"`
}

// AuthResult is the answer of the remote authorization service.
type AuthResult struct {
	Granted  bool              `json:"granted"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AuditEvent is a human-readable bookmark for the audit log.
type AuditEvent struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Message string            `json:"message"`
	Tags    []string          `json:"tags,omitempty"`
	KV      map[string]string `json:"kv,omitempty"`
	At      time.Time         `json:"at"`
}

const (
	EventExitGranted        = "exit_granted"
	EventAccessGranted      = "access_granted"
	EventAccessDenied       = "access_denied"
	EventAccessError        = "access_error"
	EventAccessStillPending = "access_still_pending"
	EventUnauthorizedOpen   = "door_unauthorized_open"
	EventDoorOpenTooLong    = "door_open_too_long"
)
