package remotedb

import (
	"strings"
	"time"
)

// Status is the canonical execution status stored in the cache.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusRunning  Status = "running"
	StatusWaiting  Status = "waiting"
	StatusCanceled Status = "canceled"
)

// NormalizeStatus maps a remote status value to the canonical set.
// Unrecognized values map to StatusError.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success":
		return StatusSuccess
	case "running", "new":
		return StatusRunning
	case "waiting":
		return StatusWaiting
	case "canceled", "cancelled":
		return StatusCanceled
	default:
		// error, crashed, failed, unknown, ""
		return StatusError
	}
}

// DeriveStatus covers rows written before the engine had a status column.
func DeriveStatus(finished bool, stoppedAt *time.Time) Status {
	switch {
	case finished:
		return StatusSuccess
	case stoppedAt == nil:
		return StatusRunning
	default:
		return StatusError
	}
}
