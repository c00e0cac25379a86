package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
	"golang.org/x/time/rate"
)

// BatchService provisions many accounts in two phases: profile creation
// runs sequentially (the provider rate-limits creation hard), then
// activation fans out on a bounded worker pool. One failed account never
// takes the rest of the batch down.
type BatchService struct {
	setup *SetupService
	logs  SetupLogger

	Concurrency int
	limiter     *rate.Limiter
}

// Profile creation pacing: one request per 1.5s
const creationInterval = 1500 * time.Millisecond

func NewBatchService(setup *SetupService, logs SetupLogger, concurrency int) *BatchService {
	if concurrency < 1 {
		concurrency = 20
	}
	return &BatchService{
		setup:       setup,
		logs:        logs,
		Concurrency: concurrency,
		limiter:     rate.NewLimiter(rate.Every(creationInterval), 1),
	}
}

// Run executes a batch of req.Quantity setups and aggregates the outcome
func (b *BatchService) Run(ctx context.Context, req *models.SetupRequest) (*models.BatchSummary, error) {
	quantity := req.Quantity
	if quantity < 1 {
		return nil, fmt.Errorf("batch quantity must be at least 1")
	}

	batchID := uuid.New().String()
	log.Printf("[Batch] Starting batch %s: %d account(s), mode %s", batchID, quantity, req.Mode)
	b.logs.LogWithMeta(ctx, "info", "batch", "",
		fmt.Sprintf("Batch %s started for %d account(s)", batchID, quantity),
		map[string]interface{}{"batch_id": batchID, "quantity": quantity})

	summary := &models.BatchSummary{
		BatchID:   batchID,
		Requested: quantity,
		Items:     make([]models.BatchItemResult, quantity),
	}

	var groupName *string
	if req.Proxy != nil && req.Proxy.GroupName != "" {
		groupName = &req.Proxy.GroupName
	}
	if headroom, err := b.setup.allocator.PoolHeadroom(ctx, groupName); err == nil && headroom < quantity {
		log.Printf("[Batch] Proxy pool has %d unassigned proxies for %d account(s)", headroom, quantity)
		b.logs.Log(ctx, "warning", "batch", "",
			fmt.Sprintf("Proxy pool short for batch %s: %d unassigned for %d account(s)", batchID, headroom, quantity))
	}

	// Phase 1: sequential, paced profile creation with distinct proxies
	claims := NewClaimSet()
	jobs := make([]*Job, quantity)

	for i := 0; i < quantity; i++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return summary, err
		}

		itemReq := *req
		itemReq.Quantity = 1

		job, err := b.setup.PrepareJob(ctx, &itemReq, claims)
		job.BatchID = batchID
		job.BatchIndex = i
		if job.AccountID != "" {
			b.setup.tagBatch(ctx, job.AccountID, batchID, i)
		}

		summary.Items[i] = models.BatchItemResult{Index: i, AccountID: job.AccountID}
		if err != nil {
			log.Printf("[Batch] Profile creation failed for item %d: %v", i, err)
			summary.ProfilesFailed++
			summary.Items[i].Success = false
			summary.Items[i].Steps = job.Steps
			summary.Items[i].Error = job.Err
			continue
		}

		summary.ProfilesCreated++
		summary.Items[i].ProfileID = job.ProfileID
		summary.Items[i].ProfileName = job.ProfileName
		jobs[i] = job
	}

	// Phase 2: bounded worker pool runs activation per account
	var wg sync.WaitGroup
	sem := make(chan struct{}, b.Concurrency)
	var mu sync.Mutex

	for i, job := range jobs {
		if job == nil {
			continue
		}

		wg.Add(1)
		go func(idx int, j *Job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			b.setup.ActivateJob(ctx, j)

			mu.Lock()
			defer mu.Unlock()
			summary.Items[idx].Success = j.Success()
			summary.Items[idx].Steps = j.Steps
			summary.Items[idx].Error = j.Err
			if j.Success() {
				summary.SetupsStarted++
			} else {
				summary.SetupsFailed++
			}
		}(i, job)
	}

	wg.Wait()

	log.Printf("[Batch] Batch %s done: %d/%d profiles, %d setups ok, %d failed",
		batchID, summary.ProfilesCreated, quantity, summary.SetupsStarted, summary.SetupsFailed)
	b.logs.LogWithMeta(ctx, "info", "batch", "",
		fmt.Sprintf("Batch %s finished: %d profiles created, %d setups ok", batchID, summary.ProfilesCreated, summary.SetupsStarted),
		map[string]interface{}{
			"batch_id":         batchID,
			"profiles_created": summary.ProfilesCreated,
			"profiles_failed":  summary.ProfilesFailed,
			"setups_started":   summary.SetupsStarted,
			"setups_failed":    summary.SetupsFailed,
		})

	return summary, nil
}
