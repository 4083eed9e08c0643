package events

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Type names a lifecycle transition.
type Type string

const (
	TypeQueued        Type = "QUEUED"
	TypeStatusChanged Type = "STATUS_CHANGED"
	TypeLaunched      Type = "LAUNCHED"
	TypeLaunchFailed  Type = "LAUNCH_FAILED"
	TypeFinished      Type = "FINISHED"
	TypeWaitFailed    Type = "WAIT_FAILED"
)

// Event is one lifecycle notification.
type Event struct {
	Type        Type      `json:"type"`
	RequestID   string    `json:"request_id,omitempty"`
	ContainerID string    `json:"container_id,omitempty"`
	Command     string    `json:"command,omitempty"`
	Status      string    `json:"status,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// New stamps an event with the current time.
func New(t Type) Event {
	return Event{Type: t, Timestamp: time.Now().UTC()}
}

// Sink receives events. A failing sink never blocks the others.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// Publisher is what producers of events depend on.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

const (
	DefaultBufferSize  = 256
	DefaultSinkTimeout = 5 * time.Second
)

// Bus fans events out to every registered sink. Each sink is fed by its own
// buffered worker, so Publish never waits on sink I/O and a stalled sink
// only delays its own deliveries. When a sink's buffer is full the event is
// dropped for that sink.
type Bus struct {
	mu      sync.RWMutex
	workers []*sinkWorker
	closed  bool
	wg      sync.WaitGroup

	bufferSize int
	timeout    time.Duration
	logger     *logrus.Entry
}

type sinkWorker struct {
	sink  Sink
	queue chan queuedEvent
}

type queuedEvent struct {
	ctx context.Context
	ev  Event
}

// Option tunes a Bus.
type Option func(*Bus)

// WithBufferSize sets how many events may wait per sink.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithSinkTimeout bounds a single sink call.
func WithSinkTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func NewBus(logger *logrus.Entry, opts ...Option) *Bus {
	b := &Bus{
		bufferSize: DefaultBufferSize,
		timeout:    DefaultSinkTimeout,
		logger:     logger.WithField("component", "events"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add registers another sink and starts its worker.
func (b *Bus) Add(sinks ...Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range sinks {
		w := &sinkWorker{sink: s, queue: make(chan queuedEvent, b.bufferSize)}
		b.workers = append(b.workers, w)
		b.wg.Add(1)
		go b.drain(w)
	}
}

// Publish queues ev for every sink in registration order. It does not block.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	// sinks run after the caller has moved on
	ctx = context.WithoutCancel(ctx)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, w := range b.workers {
		select {
		case w.queue <- queuedEvent{ctx: ctx, ev: ev}:
		default:
			b.logger.WithFields(logrus.Fields{
				"sink":       w.sink.Name(),
				"event_type": ev.Type,
				"request_id": ev.RequestID,
			}).Warn("sink buffer full, dropping event")
		}
	}
}

// Close stops accepting events and waits until every queued event has been
// handed to its sink.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, w := range b.workers {
		close(w.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) drain(w *sinkWorker) {
	defer b.wg.Done()
	for q := range w.queue {
		b.deliver(w.sink, q)
	}
}

func (b *Bus) deliver(s Sink, q queuedEvent) {
	ctx, cancel := context.WithTimeout(q.ctx, b.timeout)
	defer cancel()

	if err := s.Publish(ctx, q.ev); err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"sink":       s.Name(),
			"event_type": q.ev.Type,
			"request_id": q.ev.RequestID,
		}).Warn("failed to publish event")
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, ev Event) error
}

func (f SinkFunc) Name() string { return f.SinkName }

func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f.Fn(ctx, ev) }
