package models

import "time"

const (
	RecordStatusPaused     = "PAUSED"
	RecordStatusQueued     = "QUEUED"
	RecordStatusRunning    = "RUNNING"
	RecordStatusFinished   = "FINISHED"
	RecordStatusFailed     = "FAILED"
	RecordStatusWaitFailed = "WAIT_FAILED"
)

// LaunchRecord is the persisted history of one launch request.
type LaunchRecord struct {
	RequestID     string     `gorm:"primaryKey;column:request_id" json:"request_id"`
	Command       string     `gorm:"column:command;not null" json:"command"`
	Status        string     `gorm:"index;column:status" json:"status"`
	StatusMessage string     `gorm:"column:status_message" json:"status_message,omitempty"`
	ContainerID   *string    `gorm:"index;column:container_id" json:"container_id,omitempty"`
	LaunchedAt    *time.Time `gorm:"column:launched_at" json:"launched_at,omitempty"`
	FinishedAt    *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (LaunchRecord) TableName() string {
	return "launch_records"
}
