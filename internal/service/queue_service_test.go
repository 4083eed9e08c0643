package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcnr/docker-queue/internal/events"
	"github.com/lcnr/docker-queue/internal/models"
	"github.com/lcnr/docker-queue/internal/store"
)

type mockRuntime struct {
	running []container.Summary
	err     error
}

func (m *mockRuntime) ListRunning(ctx context.Context) ([]container.Summary, error) {
	return m.running, m.err
}

type mockNotifier struct {
	calls int
	err   error
}

func (m *mockNotifier) CheckRun(ctx context.Context) error {
	m.calls++
	return m.err
}

type capturePublisher struct {
	events []events.Event
}

func (c *capturePublisher) Publish(ctx context.Context, ev events.Event) {
	c.events = append(c.events, ev)
}

func newTestService(rt *mockRuntime, n *mockNotifier, pub *capturePublisher) (*QueueService, *store.InMemoryStore) {
	logger, _ := test.NewNullLogger()
	st := store.NewInMemoryStore(0)
	return NewQueueService(st, rt, n, nil, pub, logrus.NewEntry(logger)), st
}

func TestQueueService_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("QueuedNotifiesCoordinator", func(t *testing.T) {
		n, pub := &mockNotifier{}, &capturePublisher{}
		svc, st := newTestService(&mockRuntime{}, n, pub)

		req, err := svc.Submit(ctx, SubmitRequest{Command: "docker run -d alpine", Status: models.StatusQueued})
		require.NoError(t, err)
		assert.Equal(t, models.StatusQueued, req.Status)
		assert.Equal(t, 1, n.calls)
		assert.Equal(t, 1, st.QueueLength(ctx))
		require.Len(t, pub.events, 1)
		assert.Equal(t, events.TypeQueued, pub.events[0].Type)
		assert.Equal(t, req.ID, pub.events[0].RequestID)
	})

	t.Run("PausedDoesNotNotify", func(t *testing.T) {
		n := &mockNotifier{}
		svc, _ := newTestService(&mockRuntime{}, n, &capturePublisher{})

		req, err := svc.Submit(ctx, SubmitRequest{Command: "run -d alpine"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaused, req.Status)
		assert.Zero(t, n.calls)
	})

	t.Run("InvalidNeverEntersQueue", func(t *testing.T) {
		n, pub := &mockNotifier{}, &capturePublisher{}
		svc, st := newTestService(&mockRuntime{}, n, pub)

		_, err := svc.Submit(ctx, SubmitRequest{Command: "docker lalala", Status: models.StatusQueued})
		assert.ErrorIs(t, err, models.ErrMissingPrefix)
		assert.Zero(t, st.QueueLength(ctx))
		assert.Zero(t, n.calls)
		assert.Empty(t, pub.events)
	})

	t.Run("ClientSuppliedID", func(t *testing.T) {
		svc, _ := newTestService(&mockRuntime{}, &mockNotifier{}, &capturePublisher{})

		req, err := svc.Submit(ctx, SubmitRequest{ID: "2f0b0c2e-5d55-4b8f-9d0b-1f6a3d7c9e01", Command: "run -d alpine"})
		require.NoError(t, err)
		assert.Equal(t, "2f0b0c2e-5d55-4b8f-9d0b-1f6a3d7c9e01", req.ID)

		_, err = svc.Submit(ctx, SubmitRequest{ID: "not-a-uuid", Command: "run -d alpine"})
		assert.ErrorIs(t, err, models.ErrInvalidID)
	})

	t.Run("NotifierFailureIsNotFatal", func(t *testing.T) {
		svc, st := newTestService(&mockRuntime{}, &mockNotifier{err: errors.New("closed")}, &capturePublisher{})

		_, err := svc.Submit(ctx, SubmitRequest{Command: "run -d alpine", Status: models.StatusQueued})
		require.NoError(t, err)
		assert.Equal(t, 1, st.QueueLength(ctx))
	})
}

func TestQueueService_SetStatus(t *testing.T) {
	ctx := context.Background()
	n, pub := &mockNotifier{}, &capturePublisher{}
	svc, _ := newTestService(&mockRuntime{}, n, pub)

	req, err := svc.Submit(ctx, SubmitRequest{Command: "run -d alpine"})
	require.NoError(t, err)

	updated, err := svc.SetStatus(ctx, req.ID, models.StatusQueued)
	require.NoError(t, err)
	assert.True(t, updated.IsQueued())
	assert.Equal(t, 1, n.calls)
	assert.Equal(t, events.TypeStatusChanged, pub.events[len(pub.events)-1].Type)

	_, err = svc.SetStatus(ctx, req.ID, models.StatusPaused)
	require.NoError(t, err)
	assert.Equal(t, 1, n.calls)

	_, err = svc.SetStatus(ctx, "missing", models.StatusQueued)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQueueService_List(t *testing.T) {
	ctx := context.Background()
	rt := &mockRuntime{running: []container.Summary{{ID: "abc", Image: "alpine"}}}
	svc, _ := newTestService(rt, &mockNotifier{}, &capturePublisher{})

	first, err := svc.Submit(ctx, SubmitRequest{Command: "run -d first", Status: models.StatusQueued})
	require.NoError(t, err)
	second, err := svc.Submit(ctx, SubmitRequest{Command: "run -d second"})
	require.NoError(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, models.KindRunning, list[0].Kind())
	q1, ok := list[1].Queued()
	require.True(t, ok)
	assert.Equal(t, first.ID, q1.ID)
	q2, ok := list[2].Queued()
	require.True(t, ok)
	assert.Equal(t, second.ID, q2.ID)
	assert.Equal(t, models.StatusPaused, q2.Status)

	again, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, list, again, "listing must not change state")

	rt.err = errors.New("daemon down")
	_, err = svc.List(ctx)
	assert.Error(t, err)
}

func TestQueueService_CurrentRunning(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(&mockRuntime{}, &mockNotifier{}, &capturePublisher{})

	assert.Nil(t, svc.CurrentRunning(ctx))

	st.SetRunning(ctx, "abc")
	id := svc.CurrentRunning(ctx)
	require.NotNil(t, id)
	assert.Equal(t, models.RunningContainerID("abc"), *id)
	assert.Equal(t, id, svc.CurrentRunning(ctx))
}

// flippingStore changes the status of every submitted request from another
// goroutine as soon as it is in the queue.
type flippingStore struct {
	*store.InMemoryStore
	wg sync.WaitGroup
}

func (f *flippingStore) Submit(ctx context.Context, req *models.LaunchRequest) (int, error) {
	pos, err := f.InMemoryStore.Submit(ctx, req)
	if err != nil {
		return pos, err
	}
	id := req.ID
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.InMemoryStore.SetStatus(ctx, id, models.StatusQueued)
	}()
	return pos, nil
}

func TestQueueService_SubmitWithConcurrentStatusChange(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	st := &flippingStore{InMemoryStore: store.NewInMemoryStore(0)}
	n, pub := &mockNotifier{}, &capturePublisher{}
	svc := NewQueueService(st, &mockRuntime{}, n, nil, pub, logrus.NewEntry(logger))

	for i := 0; i < 50; i++ {
		req, err := svc.Submit(ctx, SubmitRequest{Command: "run -d alpine"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaused, req.Status)
	}
	st.wg.Wait()

	require.Len(t, pub.events, 50)
	for _, ev := range pub.events {
		assert.Equal(t, models.StatusPaused.String(), ev.Status)
	}
	assert.Zero(t, n.calls)

	snap := st.Snapshot(ctx)
	require.Len(t, snap.Queue, 50)
	for _, req := range snap.Queue {
		assert.Equal(t, models.StatusQueued, req.Status)
	}
}
