package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kinetic-apps/automation-platform/setup-service/internal/client"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
)

// LifecycleMonitor stops a cloud phone once its remote tasks are done, so
// idle devices stop burning provider minutes. On timeout it leaves the
// device running: stopping a phone that might still be mid-task is worse
// than paying for a few extra minutes.
type LifecycleMonitor struct {
	provider DeviceProvider
	accounts AccountStore
	phones   PhoneStore
	tasks    TaskStore
	logs     SetupLogger

	Interval    time.Duration
	MaxAttempts int
}

func NewLifecycleMonitor(provider DeviceProvider, accounts AccountStore, phones PhoneStore, tasks TaskStore, logs SetupLogger) *LifecycleMonitor {
	return &LifecycleMonitor{
		provider:    provider,
		accounts:    accounts,
		phones:      phones,
		tasks:       tasks,
		logs:        logs,
		Interval:    30 * time.Second,
		MaxAttempts: 60, // 30 minutes
	}
}

// Watch polls until no task on the device is pending or running, then
// stops the phone.
func (m *LifecycleMonitor) Watch(ctx context.Context, accountID, profileID string) {
	log.Printf("[LifecycleMonitor] Monitoring device %s for account %s", profileID, accountID)

	for attempt := 0; attempt < m.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				log.Printf("[LifecycleMonitor] Cancelled while monitoring %s", profileID)
				return
			case <-time.After(m.Interval):
			}
		}

		// Device already gone or stopped: nothing left to do
		details, err := m.provider.GetPhoneStatus(ctx, []string{profileID})
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Code == client.CodePhoneNotFound {
				log.Printf("[LifecycleMonitor] Device %s no longer exists", profileID)
				return
			}
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if len(details) > 0 {
			switch details[0].Status {
			case client.PhoneStateStopped, client.PhoneStateExpired:
				log.Printf("[LifecycleMonitor] Device %s already stopped", profileID)
				return
			}
		}

		taskIDs := m.taskIDs(ctx, accountID)
		if len(taskIDs) == 0 {
			m.stopDevice(ctx, accountID, profileID, "no tasks found")
			return
		}

		statuses, err := m.provider.QueryTasks(ctx, taskIDs)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		running := 0
		for _, st := range statuses {
			if st.Status == client.TaskStatePending || st.Status == client.TaskStateRunning {
				running++
			}
		}
		if running == 0 {
			m.stopDevice(ctx, accountID, profileID, "all tasks finished")
			return
		}
	}

	log.Printf("[LifecycleMonitor] Device %s still busy after budget, leaving it running", profileID)
	m.logs.Log(ctx, "warning", "lifecycle-monitor", accountID,
		fmt.Sprintf("Device %s still had running tasks after the monitoring window, left running", profileID))
}

// taskIDs returns the task ids to track. The account's task_id column is
// the primary source; the tasks table fills in anything else dispatched
// for the account.
func (m *LifecycleMonitor) taskIDs(ctx context.Context, accountID string) []string {
	seen := map[string]bool{}
	var ids []string

	if acc, err := m.accounts.GetByID(ctx, accountID); err == nil && acc.TaskID != nil && *acc.TaskID != "" {
		ids = append(ids, *acc.TaskID)
		seen[*acc.TaskID] = true
	}

	if rows, err := m.tasks.ListByAccount(ctx, accountID); err == nil {
		for _, t := range rows {
			if seen[t.ExternalTaskID] {
				continue
			}
			if t.Status == models.TaskStatusPending || t.Status == models.TaskStatusRunning {
				ids = append(ids, t.ExternalTaskID)
				seen[t.ExternalTaskID] = true
			}
		}
	}

	return ids
}

func (m *LifecycleMonitor) stopDevice(ctx context.Context, accountID, profileID, reason string) {
	log.Printf("[LifecycleMonitor] Stopping device %s (%s)", profileID, reason)

	if err := m.provider.StopPhones(ctx, []string{profileID}); err != nil {
		log.Printf("[LifecycleMonitor] Failed to stop device %s: %v", profileID, err)
		m.logs.Log(ctx, "warning", "lifecycle-monitor", accountID,
			fmt.Sprintf("Failed to stop device %s: %v", profileID, err))
		return
	}

	if err := m.phones.UpdateStatus(ctx, profileID, models.PhoneStatusStopped); err != nil {
		log.Printf("[LifecycleMonitor] Failed to record device stop: %v", err)
	}
	m.logs.Log(ctx, "info", "lifecycle-monitor", accountID,
		fmt.Sprintf("Device %s stopped: %s", profileID, reason))
}
