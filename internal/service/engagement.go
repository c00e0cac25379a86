package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
)

// Engagement actions supported by the provider's warmup task
const (
	EngagementActionBrowse        = "browse video"
	EngagementActionSearchVideo   = "search video"
	EngagementActionSearchProfile = "search profile"
)

const defaultEngagementMinutes = 30

// StartEngagement dispatches a warmup task on the account's device.
// Called by the task watcher after a successful login and exposed for
// manual runs.
func (s *SetupService) StartEngagement(ctx context.Context, accountID, profileID string, opts *models.EngagementOptions) error {
	action := EngagementActionBrowse
	duration := defaultEngagementMinutes
	var keywords []string
	if opts != nil {
		if opts.Action != "" {
			action = opts.Action
		}
		if opts.DurationMinutes > 0 {
			duration = opts.DurationMinutes
		}
		keywords = opts.Keywords
	}

	switch action {
	case EngagementActionBrowse, EngagementActionSearchVideo, EngagementActionSearchProfile:
	default:
		return fmt.Errorf("unknown engagement action: %s", action)
	}

	log.Printf("[Engagement] Starting %s for account %s (%dm)", action, accountID, duration)

	taskID, err := s.provider.CreateEngagementTask(ctx, profileID, action, duration, keywords)
	if err != nil {
		return fmt.Errorf("create engagement task: %w", err)
	}

	now := time.Now()
	task := &models.Task{
		ID:             uuid.New().String(),
		ExternalTaskID: taskID,
		AccountID:      &accountID,
		ProfileID:      profileID,
		Kind:           models.TaskKindEngagement,
		Status:         models.TaskStatusPending,
		Meta: map[string]interface{}{
			"action":           action,
			"duration_minutes": duration,
		},
		StartedAt: &now,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		log.Printf("[Engagement] Failed to record engagement task %s: %v", taskID, err)
	}

	step := "Engagement"
	if err := s.accounts.UpdateStatus(ctx, accountID, models.AccountStatusWarmingUp, progressDone, &step); err != nil {
		log.Printf("[Engagement] Failed to update account %s: %v", accountID, err)
	}

	s.logs.LogWithMeta(ctx, "info", "engagement", accountID,
		fmt.Sprintf("Engagement task %s started (%s, %dm)", taskID, action, duration),
		map[string]interface{}{"task_id": taskID})

	return nil
}
