package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the submitter-controlled state of a pending launch request.
type Status string

const (
	StatusQueued Status = "Queued"
	StatusPaused Status = "Paused"
)

// ParseStatus accepts the canonical spellings plus their lower-case forms.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "Queued", "queued":
		return StatusQueued, nil
	case "Paused", "paused":
		return StatusPaused, nil
	default:
		return "", fmt.Errorf("unknown status %q (expected Queued or Paused)", s)
	}
}

func (s Status) String() string {
	return string(s)
}

// UnmarshalJSON rejects anything but the two known statuses.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// LaunchRequest is a validated container invocation waiting for the slot.
// ID and Command never change after creation; Status may be flipped by the
// submitter until the request is promoted.
type LaunchRequest struct {
	ID       string    `json:"id"`
	Command  string    `json:"command"`
	Status   Status    `json:"status"`
	QueuedAt time.Time `json:"queued_at"`

	args []string
}

// Args returns the argument vector handed to the process launcher.
func (r *LaunchRequest) Args() []string {
	out := make([]string, len(r.args))
	copy(out, r.args)
	return out
}

// Queue marks the request as eligible for promotion.
func (r *LaunchRequest) Queue() {
	r.Status = StatusQueued
}

// Pause keeps the request in line without making it eligible.
func (r *LaunchRequest) Pause() {
	r.Status = StatusPaused
}

func (r *LaunchRequest) IsQueued() bool {
	return r.Status == StatusQueued
}

// Clone returns an independent copy, safe to hand out of the store.
func (r *LaunchRequest) Clone() LaunchRequest {
	c := *r
	c.args = r.Args()
	return c
}

// RunningContainerID identifies the instance currently holding the slot.
type RunningContainerID string

func (id RunningContainerID) String() string {
	return string(id)
}

// Short returns the 12 character form docker prints in listings.
func (id RunningContainerID) Short() string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}
