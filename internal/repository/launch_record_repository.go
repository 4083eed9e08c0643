package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lcnr/docker-queue/internal/events"
	"github.com/lcnr/docker-queue/internal/models"
)

type LaunchRecordRepository struct {
	db *gorm.DB
}

func NewLaunchRecordRepository(db *gorm.DB) *LaunchRecordRepository {
	return &LaunchRecordRepository{db: db}
}

// Create inserts record, leaving an existing row with the same id untouched.
func (r *LaunchRecordRepository) Create(ctx context.Context, record *models.LaunchRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record).Error
}

// Lifecycle events for one request can arrive before its QUEUED event, so
// every write below inserts the row when it does not exist yet.

// UpdateStatus sets a terminal failure status.
func (r *LaunchRecordRepository) UpdateStatus(ctx context.Context, requestID, command, status, statusMessage string) error {
	return r.upsert(ctx, &models.LaunchRecord{
		RequestID:     requestID,
		Command:       command,
		Status:        status,
		StatusMessage: statusMessage,
	}, nil, "status", "status_message")
}

// SetPendingStatus flips between QUEUED and PAUSED. A row that has already
// been launched keeps its status.
func (r *LaunchRecordRepository) SetPendingStatus(ctx context.Context, requestID, command, status string) error {
	pending := clause.Expr{
		SQL:  "launch_records.status IN ?",
		Vars: []interface{}{[]string{models.RecordStatusQueued, models.RecordStatusPaused}},
	}
	return r.upsert(ctx, &models.LaunchRecord{
		RequestID: requestID,
		Command:   command,
		Status:    status,
	}, []clause.Expression{pending}, "status")
}

func (r *LaunchRecordRepository) MarkLaunched(ctx context.Context, requestID, command, containerID string, at time.Time) error {
	return r.upsert(ctx, &models.LaunchRecord{
		RequestID:   requestID,
		Command:     command,
		Status:      models.RecordStatusRunning,
		ContainerID: &containerID,
		LaunchedAt:  &at,
	}, nil, "status", "container_id", "launched_at")
}

func (r *LaunchRecordRepository) MarkFinished(ctx context.Context, requestID, command string, at time.Time) error {
	return r.upsert(ctx, &models.LaunchRecord{
		RequestID:  requestID,
		Command:    command,
		Status:     models.RecordStatusFinished,
		FinishedAt: &at,
	}, nil, "status", "finished_at")
}

// upsert inserts record, or copies columns onto the existing row when the
// optional where expressions hold for it.
func (r *LaunchRecordRepository) upsert(ctx context.Context, record *models.LaunchRecord, where []clause.Expression, columns ...string) error {
	record.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}},
			Where:     clause.Where{Exprs: where},
			DoUpdates: clause.AssignmentColumns(append(columns, "updated_at")),
		}).
		Create(record).Error
}

func (r *LaunchRecordRepository) GetByID(ctx context.Context, requestID string) (*models.LaunchRecord, error) {
	var record models.LaunchRecord
	if err := r.db.WithContext(ctx).First(&record, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// ListRecent returns up to limit records, newest first.
func (r *LaunchRecordRepository) ListRecent(ctx context.Context, limit int) ([]models.LaunchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.LaunchRecord
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *LaunchRecordRepository) Name() string { return "database" }

// Publish records ev in the history table.
func (r *LaunchRecordRepository) Publish(ctx context.Context, ev events.Event) error {
	if ev.RequestID == "" {
		return nil
	}

	var err error
	switch ev.Type {
	case events.TypeQueued:
		err = r.Create(ctx, &models.LaunchRecord{
			RequestID: ev.RequestID,
			Command:   ev.Command,
			Status:    recordStatus(ev.Status),
			CreatedAt: ev.Timestamp,
		})
	case events.TypeStatusChanged:
		err = r.SetPendingStatus(ctx, ev.RequestID, ev.Command, recordStatus(ev.Status))
	case events.TypeLaunched:
		err = r.MarkLaunched(ctx, ev.RequestID, ev.Command, ev.ContainerID, ev.Timestamp)
	case events.TypeLaunchFailed:
		err = r.UpdateStatus(ctx, ev.RequestID, ev.Command, models.RecordStatusFailed, ev.Message)
	case events.TypeFinished:
		err = r.MarkFinished(ctx, ev.RequestID, ev.Command, ev.Timestamp)
	case events.TypeWaitFailed:
		err = r.UpdateStatus(ctx, ev.RequestID, ev.Command, models.RecordStatusWaitFailed, ev.Message)
	}
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", ev.Type, err)
	}
	return nil
}

func recordStatus(status string) string {
	if status == string(models.StatusQueued) {
		return models.RecordStatusQueued
	}
	return models.RecordStatusPaused
}
