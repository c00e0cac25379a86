package service

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/kinetic-apps/automation-platform/setup-service/internal/client"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
)

// TaskWatcher follows a dispatched login task until it resolves and moves
// the account to its terminal state.
type TaskWatcher struct {
	provider DeviceProvider
	accounts AccountStore
	tasks    TaskStore
	logs     SetupLogger

	Interval    time.Duration
	MaxAttempts int
}

func NewTaskWatcher(provider DeviceProvider, accounts AccountStore, tasks TaskStore, logs SetupLogger) *TaskWatcher {
	return &TaskWatcher{
		provider:    provider,
		accounts:    accounts,
		tasks:       tasks,
		logs:        logs,
		Interval:    5 * time.Second,
		MaxAttempts: 120, // 10 minutes
	}
}

// Watch polls the task every Interval until it completes, fails or the
// attempt budget runs out. Only status changes are persisted. onSuccess
// (rental settlement, engagement trigger) fires at most once even if a
// completed status is observed twice; onFailure runs when the task fails
// or is cancelled remotely.
func (w *TaskWatcher) Watch(ctx context.Context, accountID, taskID string, onSuccess, onFailure func(ctx context.Context) error) {
	log.Printf("[TaskWatcher] Watching task %s for account %s", taskID, accountID)

	var triggered atomic.Bool
	lastStatus := client.TaskStatePending

	for attempt := 0; attempt < w.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				log.Printf("[TaskWatcher] Cancelled while watching task %s", taskID)
				return
			case <-time.After(w.Interval):
			}
		}

		status, err := w.provider.GetTaskStatus(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[TaskWatcher] Error querying task %s: %v", taskID, err)
			continue
		}

		if status.Status != lastStatus {
			lastStatus = status.Status
			w.recordChange(ctx, accountID, taskID, status)
		}

		switch status.Status {
		case client.TaskStateCompleted:
			w.handleCompleted(ctx, accountID, taskID, &triggered, onSuccess)
			return
		case client.TaskStateFailed, client.TaskStateCancelled:
			w.handleFailed(ctx, accountID, taskID, status, onFailure)
			return
		}
	}

	// Timed out: the remote task keeps running and the account keeps its
	// last known state. Cancelling a login mid-flight would strand the
	// device in a half-logged-in session.
	log.Printf("[TaskWatcher] Task %s still unresolved after %d attempts, giving up watching", taskID, w.MaxAttempts)
	w.logs.Log(ctx, "warning", "task-watcher", accountID,
		fmt.Sprintf("Login task %s did not resolve within the watch window", taskID))
}

func (w *TaskWatcher) recordChange(ctx context.Context, accountID, taskID string, status *client.TaskStatus) {
	mapped := mapTaskStatus(status.Status)
	log.Printf("[TaskWatcher] Task %s -> %s", taskID, mapped)

	var failCode *int
	var failDesc *string
	if status.FailCode != 0 {
		code := status.FailCode
		failCode = &code
	}
	if status.FailDesc != "" {
		desc := status.FailDesc
		failDesc = &desc
	}

	if err := w.tasks.UpdateStatusByExternalID(ctx, taskID, mapped, failCode, failDesc); err != nil {
		log.Printf("[TaskWatcher] Failed to persist task status: %v", err)
	}
	w.logs.Log(ctx, "info", "task-watcher", accountID,
		fmt.Sprintf("Login task %s is now %s", taskID, mapped))
}

func (w *TaskWatcher) handleCompleted(ctx context.Context, accountID, taskID string, triggered *atomic.Bool, onSuccess func(ctx context.Context) error) {
	step := "Login complete"
	if err := w.accounts.UpdateStatus(ctx, accountID, models.AccountStatusActive, progressDone, &step); err != nil {
		log.Printf("[TaskWatcher] Failed to activate account %s: %v", accountID, err)
	}
	w.logs.Log(ctx, "info", "task-watcher", accountID,
		fmt.Sprintf("Login task %s completed, account active", taskID))

	if onSuccess != nil && triggered.CompareAndSwap(false, true) {
		if err := onSuccess(ctx); err != nil {
			log.Printf("[TaskWatcher] Engagement trigger failed for account %s: %v", accountID, err)
			w.logs.Log(ctx, "warning", "task-watcher", accountID,
				fmt.Sprintf("Engagement trigger failed: %v", err))
		}
	}
}

func (w *TaskWatcher) handleFailed(ctx context.Context, accountID, taskID string, status *client.TaskStatus, onFailure func(ctx context.Context) error) {
	step := "Login failed"
	if err := w.accounts.UpdateStatus(ctx, accountID, models.AccountStatusLoginFailed, progressRunningTask, &step); err != nil {
		log.Printf("[TaskWatcher] Failed to mark account %s login_failed: %v", accountID, err)
	}

	errMsg := fmt.Sprintf("login task %s failed", taskID)
	if status.FailCode != 0 || status.FailDesc != "" {
		errMsg = fmt.Sprintf("login task %s failed (code %d): %s", taskID, status.FailCode, status.FailDesc)
	}
	if err := w.accounts.SetError(ctx, accountID, errMsg); err != nil {
		log.Printf("[TaskWatcher] Failed to record login failure: %v", err)
	}
	w.logs.Log(ctx, "error", "task-watcher", accountID, errMsg)

	if onFailure != nil {
		if err := onFailure(ctx); err != nil {
			log.Printf("[TaskWatcher] Failure hook for account %s: %v", accountID, err)
		}
	}
}

func mapTaskStatus(providerStatus int) string {
	switch providerStatus {
	case client.TaskStatePending:
		return models.TaskStatusPending
	case client.TaskStateRunning:
		return models.TaskStatusRunning
	case client.TaskStateCompleted:
		return models.TaskStatusCompleted
	case client.TaskStateFailed:
		return models.TaskStatusFailed
	case client.TaskStateCancelled:
		return models.TaskStatusCancelled
	}
	return models.TaskStatusPending
}
