package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lcnr/docker-queue/internal/db"
	"github.com/lcnr/docker-queue/internal/events"
	"github.com/lcnr/docker-queue/internal/models"
)

func setupSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect("", filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func publish(t *testing.T, repo *LaunchRecordRepository, typ events.Type, mutate func(*events.Event)) {
	t.Helper()
	ev := events.New(typ)
	ev.RequestID = "req-1"
	mutate(&ev)
	require.NoError(t, repo.Publish(context.Background(), ev))
}

func TestLaunchRecordRepository_FollowsLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewLaunchRecordRepository(setupSQLite(t))

	publish(t, repo, events.TypeQueued, func(ev *events.Event) {
		ev.Command = "docker run -d alpine"
		ev.Status = "Paused"
	})
	rec, err := repo.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RecordStatusPaused, rec.Status)
	assert.Equal(t, "docker run -d alpine", rec.Command)

	publish(t, repo, events.TypeStatusChanged, func(ev *events.Event) { ev.Status = "Queued" })
	rec, err = repo.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RecordStatusQueued, rec.Status)

	publish(t, repo, events.TypeLaunched, func(ev *events.Event) { ev.ContainerID = "abc123" })
	rec, err = repo.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RecordStatusRunning, rec.Status)
	require.NotNil(t, rec.ContainerID)
	assert.Equal(t, "abc123", *rec.ContainerID)
	assert.NotNil(t, rec.LaunchedAt)

	publish(t, repo, events.TypeFinished, func(ev *events.Event) {})
	rec, err = repo.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RecordStatusFinished, rec.Status)
	assert.NotNil(t, rec.FinishedAt)
}

func TestLaunchRecordRepository_LaunchFailed(t *testing.T) {
	ctx := context.Background()
	repo := NewLaunchRecordRepository(setupSQLite(t))

	publish(t, repo, events.TypeQueued, func(ev *events.Event) { ev.Command = "run -d nope"; ev.Status = "Queued" })
	publish(t, repo, events.TypeLaunchFailed, func(ev *events.Event) { ev.Message = "exit code 125" })

	rec, err := repo.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RecordStatusFailed, rec.Status)
	assert.Equal(t, "exit code 125", rec.StatusMessage)
}

func TestLaunchRecordRepository_CreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewLaunchRecordRepository(setupSQLite(t))

	rec := &models.LaunchRecord{RequestID: "dup", Command: "run -d a", Status: models.RecordStatusQueued}
	require.NoError(t, repo.Create(ctx, rec))
	require.NoError(t, repo.Create(ctx, &models.LaunchRecord{RequestID: "dup", Command: "run -d b", Status: models.RecordStatusPaused}))

	got, err := repo.GetByID(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "run -d a", got.Command)
}

func TestLaunchRecordRepository_ListRecent(t *testing.T) {
	ctx := context.Background()
	repo := NewLaunchRecordRepository(setupSQLite(t))

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, &models.LaunchRecord{
			RequestID: id,
			Command:   "run -d alpine",
			Status:    models.RecordStatusQueued,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].RequestID)
	assert.Equal(t, "b", list[1].RequestID)
}

func TestLaunchRecordRepository_IgnoresAnonymousEvents(t *testing.T) {
	repo := NewLaunchRecordRepository(setupSQLite(t))
	assert.NoError(t, repo.Publish(context.Background(), events.New(events.TypeFinished)))
}

func TestLaunchRecordRepository_LaunchBeforeQueued(t *testing.T) {
	ctx := context.Background()
	repo := NewLaunchRecordRepository(setupSQLite(t))

	publish(t, repo, events.TypeLaunched, func(ev *events.Event) {
		ev.Command = "docker run -d alpine"
		ev.ContainerID = "abc123"
	})
	publish(t, repo, events.TypeFinished, func(ev *events.Event) { ev.Command = "docker run -d alpine" })
	publish(t, repo, events.TypeQueued, func(ev *events.Event) {
		ev.Command = "docker run -d alpine"
		ev.Status = "Queued"
	})

	rec, err := repo.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RecordStatusFinished, rec.Status)
	assert.Equal(t, "docker run -d alpine", rec.Command)
	require.NotNil(t, rec.ContainerID)
	assert.Equal(t, "abc123", *rec.ContainerID)
	assert.NotNil(t, rec.LaunchedAt)
	assert.NotNil(t, rec.FinishedAt)

	list, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.RecordStatusFinished, list[0].Status)
}

func TestLaunchRecordRepository_LateStatusChangeKeepsLaunch(t *testing.T) {
	ctx := context.Background()
	repo := NewLaunchRecordRepository(setupSQLite(t))

	publish(t, repo, events.TypeQueued, func(ev *events.Event) { ev.Command = "run -d alpine"; ev.Status = "Paused" })
	publish(t, repo, events.TypeLaunched, func(ev *events.Event) { ev.ContainerID = "abc123" })
	publish(t, repo, events.TypeStatusChanged, func(ev *events.Event) { ev.Status = "Queued" })

	rec, err := repo.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RecordStatusRunning, rec.Status)
	assert.Equal(t, "run -d alpine", rec.Command)
}
