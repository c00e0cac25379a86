package models

import (
	"time"
)

// Task status constants
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusTimedOut  = "timed_out"
	TaskStatusCancelled = "cancelled"
)

// Task kind constants
const (
	TaskKindLogin      = "login"
	TaskKindEngagement = "engagement"
)

// Task mirrors a remote automation task dispatched to the cloud phone
// provider. The row is bookkeeping; the authoritative copy of the login
// task id lives on the Account record.
type Task struct {
	ID             string
	ExternalTaskID string
	AccountID      *string
	ProfileID      string
	Kind           string
	Status         string
	SetupStep      *string
	Progress       int
	FailCode       *int
	FailDesc       *string
	Meta           map[string]interface{}
	StartedAt      *time.Time
	EndedAt        *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
