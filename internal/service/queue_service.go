package service

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lcnr/docker-queue/internal/events"
	"github.com/lcnr/docker-queue/internal/models"
	"github.com/lcnr/docker-queue/internal/store"
)

type Runtime interface {
	ListRunning(ctx context.Context) ([]container.Summary, error)
}

// Notifier wakes the coordinator.
type Notifier interface {
	CheckRun(ctx context.Context) error
}

// SubmitRequest is the input of Submit. ID is optional; when set it must be a UUID.
type SubmitRequest struct {
	ID      string
	Command string
	Status  models.Status
}

type QueueService struct {
	Store     store.QueueStore
	Runtime   Runtime
	Notifier  Notifier
	Validator *models.CommandValidator
	Publisher events.Publisher
	logger    *logrus.Entry
}

func NewQueueService(
	st store.QueueStore,
	runtime Runtime,
	notifier Notifier,
	validator *models.CommandValidator,
	publisher events.Publisher,
	logger *logrus.Entry,
) *QueueService {
	if validator == nil {
		validator = models.NewCommandValidator(models.DefaultRuntimeBinary)
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &QueueService{
		Store:     st,
		Runtime:   runtime,
		Notifier:  notifier,
		Validator: validator,
		Publisher: publisher,
		logger:    logger.WithField("component", "queue-service"),
	}
}

// Submit validates and enqueues a command. Queued requests wake the coordinator.
func (s *QueueService) Submit(ctx context.Context, in SubmitRequest) (*models.LaunchRequest, error) {
	req, err := s.Validator.NewLaunchRequest(in.Command, in.Status)
	if err != nil {
		return nil, err
	}
	if in.ID != "" {
		parsed, err := uuid.Parse(in.ID)
		if err != nil {
			return nil, &models.ValidationError{Reason: models.ErrInvalidID, Message: fmt.Sprintf("id %q is not a UUID", in.ID)}
		}
		req.ID = parsed.String()
	}

	// req belongs to the store once submitted
	out := req.Clone()
	pos, err := s.Store.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"request_id": out.ID,
		"status":     out.Status,
		"position":   pos,
	}).Info("request added to queue")

	ev := events.New(events.TypeQueued)
	ev.RequestID = out.ID
	ev.Command = out.Command
	ev.Status = out.Status.String()
	s.Publisher.Publish(ctx, ev)

	if out.IsQueued() {
		s.notify(ctx)
	}
	return &out, nil
}

// SetStatus changes the status of a request that has not been promoted yet.
func (s *QueueService) SetStatus(ctx context.Context, id string, status models.Status) (*models.LaunchRequest, error) {
	req, err := s.Store.SetStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}

	ev := events.New(events.TypeStatusChanged)
	ev.RequestID = req.ID
	ev.Command = req.Command
	ev.Status = req.Status.String()
	s.Publisher.Publish(ctx, ev)

	if req.IsQueued() {
		s.notify(ctx)
	}
	return req, nil
}

// List returns the running containers followed by the pending requests in queue order.
func (s *QueueService) List(ctx context.Context) ([]models.Container, error) {
	running, err := s.Runtime.ListRunning(ctx)
	if err != nil {
		return nil, err
	}
	snap := s.Store.Snapshot(ctx)

	out := make([]models.Container, 0, len(running)+len(snap.Queue))
	for _, c := range running {
		out = append(out, models.RunningView(c))
	}
	for _, req := range snap.Queue {
		out = append(out, models.QueuedView(req))
	}
	return out, nil
}

// CurrentRunning returns the id in the slot, or nil when idle.
func (s *QueueService) CurrentRunning(ctx context.Context) *models.RunningContainerID {
	id, ok := s.Store.Running(ctx)
	if !ok {
		return nil
	}
	return &id
}

func (s *QueueService) notify(ctx context.Context) {
	if err := s.Notifier.CheckRun(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to notify coordinator")
	}
}
