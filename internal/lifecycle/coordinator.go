package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lcnr/docker-queue/internal/events"
	"github.com/lcnr/docker-queue/internal/metrics"
	"github.com/lcnr/docker-queue/internal/models"
	"github.com/lcnr/docker-queue/internal/store"
)

var ErrClosed = errors.New("coordinator mailbox is closed")

const defaultMailboxSize = 64

// Launcher starts the container described by argv and returns its id.
type Launcher interface {
	Launch(ctx context.Context, argv []string) (models.RunningContainerID, error)
}

// Waiter blocks until the container stops running.
type Waiter interface {
	Wait(ctx context.Context, id models.RunningContainerID) error
}

// Message is anything the coordinator mailbox accepts.
type Message interface {
	message()
}

// CheckRun asks the coordinator to promote the next Queued request if the slot is free.
type CheckRun struct{}

// RunningFinished reports that the container holding the slot has exited.
type RunningFinished struct {
	ID models.RunningContainerID
}

// Error reports a failure that happened outside the loop.
type Error struct {
	Err error
}

func (CheckRun) message()        {}
func (RunningFinished) message() {}
func (Error) message()           {}

// WaitError means the completion of a running container could not be observed.
// The slot stays occupied.
type WaitError struct {
	ID  models.RunningContainerID
	Err error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("wait for container %s: %v", e.ID.Short(), e.Err)
}

func (e *WaitError) Unwrap() error {
	return e.Err
}

// Options tunes a Coordinator. Zero values pick defaults.
type Options struct {
	MailboxSize int
	Metrics     metrics.Recorder
}

// Coordinator is the single consumer that promotes queued requests into the
// running slot. All promotions go through its mailbox, so at most one launch
// is in flight at any time.
type Coordinator struct {
	store     store.QueueStore
	launcher  Launcher
	waiter    Waiter
	publisher events.Publisher
	metrics   metrics.Recorder
	logger    *logrus.Entry

	mailbox chan Message
	done    chan struct{}
	runOnce sync.Once

	mu     sync.RWMutex
	closed bool

	watchers sync.WaitGroup

	// only touched by the loop
	current *models.LaunchRequest
}

// NewCoordinator creates a coordinator. Call Run to start consuming.
func NewCoordinator(st store.QueueStore, launcher Launcher, waiter Waiter, publisher events.Publisher, logger *logrus.Entry, opts Options) *Coordinator {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaultMailboxSize
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Coordinator{
		store:     st,
		launcher:  launcher,
		waiter:    waiter,
		publisher: publisher,
		metrics:   opts.Metrics,
		logger:    logger.WithField("component", "coordinator"),
		mailbox:   make(chan Message, opts.MailboxSize),
		done:      make(chan struct{}),
	}
}

// Send posts msg to the mailbox. It returns ErrClosed once the coordinator
// has been closed or has stopped running.
func (c *Coordinator) Send(ctx context.Context, msg Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.mailbox <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckRun is shorthand for Send(ctx, CheckRun{}).
func (c *Coordinator) CheckRun(ctx context.Context) error {
	return c.Send(ctx, CheckRun{})
}

// Close stops accepting messages. Run drains what is already buffered and returns.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.mailbox)
}

// Done is closed when Run has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Run consumes the mailbox until ctx is cancelled or the mailbox is closed.
// Neither is treated as a failure.
func (c *Coordinator) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("coordinator is already running")
	}
	defer close(c.done)

	c.logger.Info("coordinator started")
	defer c.logger.Info("coordinator stopped")

	var local []Message
	for {
		var msg Message
		if len(local) > 0 {
			if ctx.Err() != nil {
				return nil
			}
			msg, local = local[0], local[1:]
		} else {
			select {
			case <-ctx.Done():
				return nil
			case m, ok := <-c.mailbox:
				if !ok {
					return nil
				}
				msg = m
			}
		}
		local = append(local, c.handle(ctx, msg)...)
	}
}

// WaitWatchers blocks until every completion watcher goroutine has returned.
func (c *Coordinator) WaitWatchers() {
	c.watchers.Wait()
}

// handle processes one message and returns follow-ups addressed to the loop itself.
func (c *Coordinator) handle(ctx context.Context, msg Message) []Message {
	switch m := msg.(type) {
	case CheckRun:
		return c.checkRun(ctx)
	case RunningFinished:
		return c.runningFinished(ctx, m.ID)
	case Error:
		c.handleError(ctx, m.Err)
		return nil
	default:
		c.logger.Warnf("ignoring unknown message %T", msg)
		return nil
	}
}

func (c *Coordinator) checkRun(ctx context.Context) []Message {
	req, ok := c.store.TryPopHeadIfSlotEmpty(ctx)
	if !ok {
		return nil
	}

	log := c.logger.WithFields(logrus.Fields{"request_id": req.ID, "command": req.Command})
	log.Info("launching container")

	start := time.Now()
	id, err := c.launcher.Launch(ctx, req.Args())
	c.metrics.ObserveLaunch(time.Since(start), err)
	if err != nil {
		log.WithError(err).Error("launch failed, dropping request")
		ev := events.New(events.TypeLaunchFailed)
		ev.RequestID = req.ID
		ev.Command = req.Command
		ev.Message = err.Error()
		c.publisher.Publish(ctx, ev)
		return []Message{CheckRun{}}
	}

	c.store.SetRunning(ctx, id)
	c.current = req
	log.WithField("container_id", id.Short()).Info("container running")

	ev := events.New(events.TypeLaunched)
	ev.RequestID = req.ID
	ev.Command = req.Command
	ev.ContainerID = id.String()
	c.publisher.Publish(ctx, ev)

	c.watch(ctx, id)
	return nil
}

func (c *Coordinator) watch(ctx context.Context, id models.RunningContainerID) {
	c.watchers.Add(1)
	go func() {
		defer c.watchers.Done()

		var msg Message = RunningFinished{ID: id}
		if err := c.waiter.Wait(ctx, id); err != nil {
			if ctx.Err() != nil {
				return
			}
			msg = Error{Err: &WaitError{ID: id, Err: err}}
		}
		if err := c.Send(ctx, msg); err != nil {
			c.logger.WithError(err).WithField("container_id", id.Short()).Debug("dropping watcher report")
		}
	}()
}

func (c *Coordinator) runningFinished(ctx context.Context, id models.RunningContainerID) []Message {
	prev, _ := c.store.ClearRunning(ctx)
	if prev != id {
		c.logger.WithFields(logrus.Fields{
			"reported": id.Short(),
			"slot":     prev.Short(),
		}).Warn("finished container does not match the slot, clearing anyway")
	}

	ev := events.New(events.TypeFinished)
	ev.ContainerID = id.String()
	if c.current != nil {
		ev.RequestID = c.current.ID
		ev.Command = c.current.Command
		c.current = nil
	}
	c.publisher.Publish(ctx, ev)
	c.logger.WithField("container_id", id.Short()).Info("container finished")

	return []Message{CheckRun{}}
}

func (c *Coordinator) handleError(ctx context.Context, err error) {
	c.logger.WithError(err).Error("coordinator received error")

	var waitErr *WaitError
	if !errors.As(err, &waitErr) {
		return
	}
	ev := events.New(events.TypeWaitFailed)
	ev.ContainerID = waitErr.ID.String()
	if c.current != nil {
		ev.RequestID = c.current.ID
		ev.Command = c.current.Command
	}
	ev.Message = err.Error()
	c.publisher.Publish(ctx, ev)
}
