package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/docker/docker/api/types/container"
)

// ContainerKind tags the variants of Container.
type ContainerKind int

const (
	KindRunning ContainerKind = iota + 1
	KindQueued
)

func (k ContainerKind) String() string {
	switch k {
	case KindRunning:
		return "Running"
	case KindQueued:
		return "Queued"
	default:
		return fmt.Sprintf("ContainerKind(%d)", int(k))
	}
}

var errEmptyContainer = errors.New("container view has no variant set")

// Container is one row of a listing: either an instance the runtime reports
// as running, or a request still waiting in the queue (Queued or Paused).
// Exactly one variant is set; build values with RunningView or QueuedView.
type Container struct {
	kind    ContainerKind
	running *container.Summary
	queued  *LaunchRequest
}

// RunningView wraps a runtime summary.
func RunningView(summary container.Summary) Container {
	return Container{kind: KindRunning, running: &summary}
}

// QueuedView wraps a pending request.
func QueuedView(req LaunchRequest) Container {
	return Container{kind: KindQueued, queued: &req}
}

func (c Container) Kind() ContainerKind {
	return c.kind
}

// Running returns the runtime summary when c is the Running variant.
func (c Container) Running() (*container.Summary, bool) {
	return c.running, c.kind == KindRunning
}

// Queued returns the pending request when c is the Queued variant.
func (c Container) Queued() (*LaunchRequest, bool) {
	return c.queued, c.kind == KindQueued
}

// MarshalJSON writes the externally tagged form {"Running": ...} or {"Queued": ...}.
func (c Container) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case KindRunning:
		return json.Marshal(map[string]*container.Summary{"Running": c.running})
	case KindQueued:
		return json.Marshal(map[string]*LaunchRequest{"Queued": c.queued})
	default:
		return nil, errEmptyContainer
	}
}

// UnmarshalJSON accepts exactly one known tag.
func (c *Container) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	if len(tagged) != 1 {
		return fmt.Errorf("container view must have exactly one tag, got %d", len(tagged))
	}

	for tag, body := range tagged {
		switch tag {
		case "Running":
			var summary container.Summary
			if err := json.Unmarshal(body, &summary); err != nil {
				return fmt.Errorf("decode running container: %w", err)
			}
			*c = RunningView(summary)
		case "Queued":
			var req LaunchRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return fmt.Errorf("decode queued container: %w", err)
			}
			*c = QueuedView(req)
		default:
			return fmt.Errorf("unknown container view tag %q", tag)
		}
	}
	return nil
}
