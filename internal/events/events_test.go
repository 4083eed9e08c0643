package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversInOrderPerSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	var got []string

	failing := SinkFunc{SinkName: "broken", Fn: func(ctx context.Context, ev Event) error {
		return errors.New("boom")
	}}
	ok := SinkFunc{SinkName: "ok", Fn: func(ctx context.Context, ev Event) error {
		got = append(got, string(ev.Type))
		assert.False(t, ev.Timestamp.IsZero())
		return nil
	}}

	bus := NewBus(logrus.NewEntry(logger))
	bus.Add(failing, ok)
	bus.Publish(context.Background(), Event{Type: TypeQueued, RequestID: "r1"})
	bus.Publish(context.Background(), Event{Type: TypeLaunched, RequestID: "r1"})
	bus.Publish(context.Background(), Event{Type: TypeFinished, RequestID: "r1"})
	bus.Close()

	assert.Equal(t, []string{"QUEUED", "LAUNCHED", "FINISHED"}, got)
	require.Len(t, hook.AllEntries(), 3)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "broken", hook.LastEntry().Data["sink"])
}

func TestBus_PublishDoesNotWaitForStalledSink(t *testing.T) {
	logger, _ := test.NewNullLogger()
	release := make(chan struct{})

	var mu sync.Mutex
	var fast []Type

	stalled := SinkFunc{SinkName: "stalled", Fn: func(ctx context.Context, ev Event) error {
		<-release
		return nil
	}}
	quick := SinkFunc{SinkName: "quick", Fn: func(ctx context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		fast = append(fast, ev.Type)
		return nil
	}}

	bus := NewBus(logrus.NewEntry(logger), WithBufferSize(1))
	bus.Add(stalled, quick)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(context.Background(), New(TypeQueued))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a stalled sink")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fast) > 0
	}, time.Second, 5*time.Millisecond)

	close(release)
	bus.Close()
}

func TestBus_SinkCallIsBounded(t *testing.T) {
	logger, hook := test.NewNullLogger()

	hanging := SinkFunc{SinkName: "hanging", Fn: func(ctx context.Context, ev Event) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	bus := NewBus(logrus.NewEntry(logger), WithSinkTimeout(20*time.Millisecond))
	bus.Add(hanging)

	ctx, cancel := context.WithCancel(context.Background())
	bus.Publish(ctx, New(TypeLaunched))
	// cancelling the publisher's context does not abort delivery early
	cancel()
	bus.Close()

	require.Len(t, hook.AllEntries(), 1)
	assert.ErrorIs(t, hook.LastEntry().Data[logrus.ErrorKey].(error), context.DeadlineExceeded)
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	logger, _ := test.NewNullLogger()
	calls := 0
	bus := NewBus(logrus.NewEntry(logger))
	bus.Add(SinkFunc{SinkName: "count", Fn: func(ctx context.Context, ev Event) error {
		calls++
		return nil
	}})
	bus.Close()
	bus.Close()

	bus.Publish(context.Background(), New(TypeQueued))
	assert.Equal(t, 0, calls)
}

func TestNew_StampsTime(t *testing.T) {
	ev := New(TypeFinished)
	assert.Equal(t, TypeFinished, ev.Type)
	assert.False(t, ev.Timestamp.IsZero())
}
