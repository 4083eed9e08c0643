package store

import (
	"context"
	"errors"
	"sync"

	"github.com/lcnr/docker-queue/internal/models"
)

var (
	ErrQueueFull = errors.New("queue is full")
	ErrNotFound  = errors.New("not found")
)

// Snapshot is a point-in-time copy of the pending queue and the running slot.
type Snapshot struct {
	Queue   []models.LaunchRequest
	Running *models.RunningContainerID
}

// QueueStore defines the interface for the pending queue and the single running slot.
type QueueStore interface {
	Submit(ctx context.Context, req *models.LaunchRequest) (int, error)
	TryPopHeadIfSlotEmpty(ctx context.Context) (*models.LaunchRequest, bool)
	Snapshot(ctx context.Context) Snapshot
	SetRunning(ctx context.Context, id models.RunningContainerID)
	ClearRunning(ctx context.Context) (models.RunningContainerID, bool)
	Running(ctx context.Context) (models.RunningContainerID, bool)
	SetStatus(ctx context.Context, id string, status models.Status) (*models.LaunchRequest, error)
	QueueLength(ctx context.Context) int
}

// InMemoryStore is an in-memory implementation of the QueueStore interface.
// It is thread-safe.
type InMemoryStore struct {
	mu        sync.Mutex
	queue     []*models.LaunchRequest
	running   models.RunningContainerID
	queueSize int
}

// NewInMemoryStore creates a new store. A queueSize of 0 means unbounded.
func NewInMemoryStore(queueSize int) *InMemoryStore {
	return &InMemoryStore{
		queue:     make([]*models.LaunchRequest, 0, max(queueSize, 8)),
		queueSize: queueSize,
	}
}

// Submit appends req to the tail and returns its 1-based position.
func (s *InMemoryStore) Submit(ctx context.Context, req *models.LaunchRequest) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queueSize > 0 && len(s.queue) >= s.queueSize {
		return 0, ErrQueueFull
	}
	s.queue = append(s.queue, req)
	return len(s.queue), nil
}

// TryPopHeadIfSlotEmpty removes and returns the earliest Queued request, but
// only while the slot is empty. Paused requests keep their place.
func (s *InMemoryStore) TryPopHeadIfSlotEmpty(ctx context.Context) (*models.LaunchRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running != "" {
		return nil, false
	}
	for i, req := range s.queue {
		if !req.IsQueued() {
			continue
		}
		s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
		return req, true
	}
	return nil, false
}

// Snapshot copies the queue order and the slot.
func (s *InMemoryStore) Snapshot(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Queue: make([]models.LaunchRequest, 0, len(s.queue))}
	for _, req := range s.queue {
		snap.Queue = append(snap.Queue, req.Clone())
	}
	if s.running != "" {
		id := s.running
		snap.Running = &id
	}
	return snap
}

// SetRunning occupies the slot.
func (s *InMemoryStore) SetRunning(ctx context.Context, id models.RunningContainerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = id
}

// ClearRunning empties the slot and returns what was in it.
func (s *InMemoryStore) ClearRunning(ctx context.Context) (models.RunningContainerID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.running
	s.running = ""
	return prev, prev != ""
}

func (s *InMemoryStore) Running(ctx context.Context) (models.RunningContainerID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.running != ""
}

// SetStatus changes the status of a request that is still pending.
func (s *InMemoryStore) SetStatus(ctx context.Context, id string, status models.Status) (*models.LaunchRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, req := range s.queue {
		if req.ID != id {
			continue
		}
		if status == models.StatusQueued {
			req.Queue()
		} else {
			req.Pause()
		}
		c := req.Clone()
		return &c, nil
	}
	return nil, ErrNotFound
}

// QueueLength returns the current number of pending requests.
func (s *InMemoryStore) QueueLength(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
