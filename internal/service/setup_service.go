package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/client"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/config"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/poll"
)

// Setup progress checkpoints written onto the account row
const (
	progressCreatingProfile = 10
	progressStartingPhone   = 20
	progressInstallingApp   = 40
	progressRunningTask     = 60
	progressPendingVerify   = 80
	progressDone            = 100
)

// Timings bounds the orchestrator's waits. Tests shrink these.
type Timings struct {
	DeviceReadyInterval       time.Duration
	DeviceReadyAttemptsSingle int
	DeviceReadyAttemptsBatch  int
	StabilizationDelay        time.Duration
	InstallConfirmInterval    time.Duration
	InstallConfirmAttempts    int
	AppSettleDelay            time.Duration
	TaskPickupInterval        time.Duration
	TaskPickupAttempts        int
	RentRetryAttempts         int
	RentRetryBase             time.Duration
	RentRetryMax              time.Duration
	RateLimitRetryAttempts    int
	RateLimitBackoffBase      time.Duration
}

// DefaultTimings returns the production waits
func DefaultTimings() Timings {
	return Timings{
		DeviceReadyInterval:       2 * time.Second,
		DeviceReadyAttemptsSingle: 300,
		DeviceReadyAttemptsBatch:  900,
		StabilizationDelay:        5 * time.Second,
		InstallConfirmInterval:    2 * time.Second,
		InstallConfirmAttempts:    30,
		AppSettleDelay:            5 * time.Second,
		TaskPickupInterval:        2 * time.Second,
		TaskPickupAttempts:        15,
		RentRetryAttempts:         5,
		RentRetryBase:             2 * time.Second,
		RentRetryMax:              30 * time.Second,
		RateLimitRetryAttempts:    3,
		RateLimitBackoffBase:      2 * time.Second,
	}
}

// Job carries one account setup across the preparation and activation
// phases. The batch runner prepares jobs sequentially and activates them
// on a worker pool.
type Job struct {
	Mode       string
	Req        *models.SetupRequest
	Batch      bool
	BatchID    string
	BatchIndex int

	AccountID    string
	Username     string
	ProfileID    string
	ProfileName  string
	CredEmail    string
	CredPassword string
	PhoneNumber  string
	TaskID       string
	RentalRowID  string
	RentalRef    string

	Steps []models.StepResult
	Err   string

	credentialID string
}

// Success reports the job outcome: true iff no step failed
func (j *Job) Success() bool {
	for _, s := range j.Steps {
		if s.Status == models.StepStatusFailed {
			return false
		}
	}
	return true
}

func (j *Job) begin(name string) int {
	j.Steps = append(j.Steps, models.StepResult{Name: name, Status: models.StepStatusRunning})
	return len(j.Steps) - 1
}

func (j *Job) ok(i int, msg string) {
	j.Steps[i].Status = models.StepStatusSuccess
	j.Steps[i].Message = msg
}

func (j *Job) skip(i int, msg string) {
	j.Steps[i].Status = models.StepStatusSkipped
	j.Steps[i].Message = msg
}

func (j *Job) fail(i int, err error) {
	j.Steps[i].Status = models.StepStatusFailed
	j.Steps[i].Error = err.Error()
	if j.Err == "" {
		j.Err = err.Error()
	}
}

// Response converts a finished job to the API shape
func (j *Job) Response() *models.SetupResponse {
	return &models.SetupResponse{
		Success:     j.Success(),
		AccountID:   j.AccountID,
		ProfileID:   j.ProfileID,
		ProfileName: j.ProfileName,
		Username:    j.Username,
		PhoneNumber: j.PhoneNumber,
		TaskID:      j.TaskID,
		Steps:       j.Steps,
		Error:       j.Err,
	}
}

// SetupService drives one account through the full provisioning pipeline
type SetupService struct {
	cfg         *config.Config
	accounts    AccountStore
	phones      PhoneStore
	credentials CredentialStore
	rentals     RentalStore
	tasks       TaskStore
	logs        SetupLogger
	allocator   *ProxyAllocator
	provider    DeviceProvider
	renter      NumberRenter
	watcher     *TaskWatcher
	monitor     *LifecycleMonitor
	sup         *Supervisor

	Timing Timings
}

func NewSetupService(
	cfg *config.Config,
	accounts AccountStore,
	phones PhoneStore,
	credentials CredentialStore,
	rentals RentalStore,
	tasks TaskStore,
	logs SetupLogger,
	allocator *ProxyAllocator,
	provider DeviceProvider,
	renter NumberRenter,
	watcher *TaskWatcher,
	monitor *LifecycleMonitor,
	sup *Supervisor,
) *SetupService {
	return &SetupService{
		cfg:         cfg,
		accounts:    accounts,
		phones:      phones,
		credentials: credentials,
		rentals:     rentals,
		tasks:       tasks,
		logs:        logs,
		allocator:   allocator,
		provider:    provider,
		renter:      renter,
		watcher:     watcher,
		monitor:     monitor,
		sup:         sup,
		Timing:      DefaultTimings(),
	}
}

// Run executes a full single-account setup. Failures are encoded in the
// response steps, not returned as an error.
func (s *SetupService) Run(ctx context.Context, req *models.SetupRequest) *models.SetupResponse {
	job, err := s.PrepareJob(ctx, req, nil)
	if err == nil {
		s.ActivateJob(ctx, job)
	}
	return job.Response()
}

// PrepareJob runs the preparation phase: credential, account record, proxy
// and profile. The returned error reports the fatal prep failure, already
// recorded on the job steps; the batch runner inspects it for rate-limit
// retries.
func (s *SetupService) PrepareJob(ctx context.Context, req *models.SetupRequest, claims *ClaimSet) (*Job, error) {
	mode := req.Mode
	if mode == "" {
		mode = models.ModeCredentialLogin
	}

	job := &Job{
		Mode:  mode,
		Req:   req,
		Batch: claims != nil,
	}

	if err := s.resolveCredential(ctx, job); err != nil {
		return job, err
	}

	if err := s.createAccount(ctx, job); err != nil {
		return job, err
	}

	if req.UseExistingProfile && req.ExistingProfileID != "" {
		if err := s.useExistingProfile(ctx, job); err != nil {
			return job, err
		}
		return job, nil
	}

	if err := s.createProfile(ctx, job, claims); err != nil {
		return job, err
	}

	return job, nil
}

// resolveCredential fills the login credential for credential-login mode.
// Inline credentials are used as-is; stored credentials record a step and
// stamp last_used_at.
func (s *SetupService) resolveCredential(ctx context.Context, job *Job) error {
	if job.Mode != models.ModeCredentialLogin {
		job.Username = s.generateUsername()
		job.CredPassword = s.cfg.Setup.AutomationPassword
		return nil
	}

	req := job.Req
	if req.Credential != nil {
		job.CredEmail = req.Credential.Email
		job.CredPassword = req.Credential.Password
		job.Username = usernameFromEmail(req.Credential.Email)
		return nil
	}

	i := job.begin(models.StepGetCredentials)

	var cred *models.Credential
	var err error
	if req.CredentialID != "" {
		cred, err = s.credentials.GetByID(ctx, req.CredentialID)
		if err == nil {
			err = s.credentials.MarkUsed(ctx, cred.ID)
		}
	} else {
		cred, err = s.credentials.TakeLeastRecentlyUsed(ctx)
	}
	if err != nil {
		failErr := fmt.Errorf("no credential available: %w", err)
		job.fail(i, failErr)
		return failErr
	}

	job.CredEmail = cred.Email
	job.CredPassword = cred.Password
	job.Username = usernameFromEmail(cred.Email)
	job.credentialID = cred.ID
	job.ok(i, fmt.Sprintf("Using credential %s", cred.Email))
	return nil
}

func (s *SetupService) createAccount(ctx context.Context, job *Job) error {
	job.AccountID = uuid.New().String()

	meta := map[string]interface{}{
		"setup_mode": job.Mode,
	}

	acc := &models.Account{
		ID:       job.AccountID,
		Username: job.Username,
		Status:   models.AccountStatusNew,
		Meta:     meta,
	}
	if job.credentialID != "" {
		id := job.credentialID
		acc.CredentialID = &id
	}

	if err := s.accounts.Create(ctx, acc); err != nil {
		job.Err = err.Error()
		return fmt.Errorf("create account record: %w", err)
	}

	s.setStatus(ctx, job.AccountID, models.AccountStatusCreatingProfile, progressCreatingProfile, models.StepCreateProfile)
	return nil
}

func (s *SetupService) useExistingProfile(ctx context.Context, job *Job) error {
	i := job.begin(models.StepUseExistingProfile)

	profileID := job.Req.ExistingProfileID
	details, err := s.provider.GetPhoneStatus(ctx, []string{profileID})
	if err != nil {
		failErr := fmt.Errorf("existing profile %s: %w", profileID, err)
		job.fail(i, failErr)
		s.failAccount(ctx, job.AccountID, failErr.Error())
		return failErr
	}
	for _, d := range details {
		if d.ID == profileID && d.Status == client.PhoneStateExpired {
			failErr := fmt.Errorf("existing profile %s is expired", profileID)
			job.fail(i, failErr)
			s.failAccount(ctx, job.AccountID, failErr.Error())
			return failErr
		}
	}

	job.ProfileID = profileID
	job.ProfileName = profileID
	s.bindProfile(ctx, job, nil)
	job.ok(i, fmt.Sprintf("Re-using profile %s", profileID))
	return nil
}

// createProfile claims a proxy and creates the phone profile. A proxy-
// specific provider failure releases the claim and retries with a fresh
// proxy, up to three distinct candidates. Rate-limit pushback retries the
// same proxy with exponential backoff.
func (s *SetupService) createProfile(ctx context.Context, job *Job, claims *ClaimSet) error {
	i := job.begin(models.StepCreateProfile)

	// Single setups get a job-local tried set so a released proxy is not
	// claimed right back on the next attempt.
	if claims == nil {
		claims = NewClaimSet()
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		claim, err := s.allocator.Allocate(ctx, job.AccountID, job.Req.Proxy, claims, job.Batch)
		if err != nil {
			if lastErr != nil {
				err = fmt.Errorf("%v (previous proxy failure: %v)", err, lastErr)
			}
			job.fail(i, err)
			s.failAccount(ctx, job.AccountID, err.Error())
			return err
		}

		err = s.createProfileOnce(ctx, job, claim)
		if err == nil {
			s.bindProfile(ctx, job, claim)
			job.ok(i, fmt.Sprintf("Profile %s created (proxy: %s)", job.ProfileName, claim.Source))
			return nil
		}

		if client.IsProxyError(err) {
			log.Printf("[Setup] Proxy failed for account %s, retrying with another: %v", job.AccountID, err)
			s.logs.Log(ctx, "warning", "setup", job.AccountID,
				fmt.Sprintf("Proxy rejected during profile creation, retrying: %v", err))
			s.allocator.Release(ctx, claim)
			lastErr = err
			continue
		}

		job.fail(i, err)
		s.failAccount(ctx, job.AccountID, err.Error())
		return err
	}

	failErr := fmt.Errorf("profile creation failed after retrying proxies: %w", lastErr)
	job.fail(i, failErr)
	s.failAccount(ctx, job.AccountID, failErr.Error())
	return failErr
}

// createProfileOnce calls the provider, absorbing rate-limit pushback with
// exponential backoff before giving up.
func (s *SetupService) createProfileOnce(ctx context.Context, job *Job, claim *ProxyClaim) error {
	req := &client.CreateProfilesRequest{
		Amount:      1,
		GroupName:   s.cfg.Phone.GroupName,
		ProxyConfig: claim.Config,
	}
	if d := job.Req.Device; d != nil {
		req.AndroidVersion = d.AndroidVersion
		req.DeviceModel = d.DeviceModel
		req.Region = d.Region
		if d.GroupName != "" {
			req.GroupName = d.GroupName
		}
	}

	var lastErr error
	for attempt := 0; attempt < s.Timing.RateLimitRetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.Timing.RateLimitBackoffBase << (attempt - 1)
			log.Printf("[Setup] Profile creation rate limited, backing off %v", backoff)
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
		}

		result, err := s.provider.CreateProfiles(ctx, req)
		if err == nil {
			for _, d := range result.Details {
				if d.Code == 0 && d.ID != "" {
					job.ProfileID = d.ID
					job.ProfileName = d.ProfileName
					return nil
				}
			}
			return fmt.Errorf("profile creation returned no usable profile")
		}

		if client.IsRateLimitError(err) {
			lastErr = err
			continue
		}
		return err
	}

	return fmt.Errorf("profile creation rate limited: %w", lastErr)
}

// bindProfile persists the profile and proxy references onto the account
func (s *SetupService) bindProfile(ctx context.Context, job *Job, claim *ProxyClaim) {
	phone := &models.Phone{
		ProfileID:   job.ProfileID,
		ProfileName: job.ProfileName,
		Status:      models.PhoneStatusStopped,
	}
	if err := s.phones.Create(ctx, phone); err != nil {
		log.Printf("[Setup] Failed to record phone %s: %v", job.ProfileID, err)
	}

	acc, err := s.accounts.GetByID(ctx, job.AccountID)
	if err != nil {
		log.Printf("[Setup] Failed to load account %s: %v", job.AccountID, err)
		return
	}

	acc.ProfileID = &job.ProfileID
	if claim != nil {
		if claim.PoolID != "" || (claim.Proxy != nil && claim.Reused) {
			id := claim.Proxy.ID
			acc.ProxyID = &id
		} else if claim.Source == models.ProxySourceManual {
			if p, err := s.allocator.RecordManual(ctx, job.AccountID, claim.Config); err == nil {
				acc.ProxyID = &p.ID
			}
		}
	}

	if err := s.accounts.Update(ctx, acc); err != nil {
		log.Printf("[Setup] Failed to bind profile to account %s: %v", job.AccountID, err)
	}
}

// ActivateJob runs the activation phase: device start, install confirm,
// login dispatch and (for number-rental mode) the number rental. The
// watcher and lifecycle monitor are handed the account afterwards.
func (s *SetupService) ActivateJob(ctx context.Context, job *Job) {
	if !s.startDevice(ctx, job) {
		return
	}

	s.confirmInstall(ctx, job)

	switch job.Mode {
	case models.ModeNumberRental:
		s.activateWithRental(ctx, job)
	default:
		s.activateWithCredential(ctx, job)
	}
}

func (s *SetupService) startDevice(ctx context.Context, job *Job) bool {
	i := job.begin(models.StepStartDevice)
	s.setStatus(ctx, job.AccountID, models.AccountStatusStartingPhone, progressStartingPhone, models.StepStartDevice)

	if err := s.provider.StartPhones(ctx, []string{job.ProfileID}); err != nil {
		failErr := fmt.Errorf("start phone: %w", err)
		job.fail(i, failErr)
		s.failAccount(ctx, job.AccountID, failErr.Error())
		return false
	}

	attempts := s.Timing.DeviceReadyAttemptsSingle
	if job.Batch {
		attempts = s.Timing.DeviceReadyAttemptsBatch
	}

	_, outcome := poll.Until(ctx,
		poll.Config{Interval: s.Timing.DeviceReadyInterval, MaxAttempts: attempts},
		func(ctx context.Context) (int, error) {
			details, err := s.provider.GetPhoneStatus(ctx, []string{job.ProfileID})
			if err != nil {
				return 0, err
			}
			if len(details) == 0 {
				return 0, fmt.Errorf("no status for %s", job.ProfileID)
			}
			return details[0].Status, nil
		},
		func(status int) bool { return status == client.PhoneStateStarted },
	)

	if outcome != poll.Ready {
		failErr := fmt.Errorf("device %s not ready (%s)", job.ProfileID, outcome)
		job.fail(i, failErr)
		s.failAccount(ctx, job.AccountID, failErr.Error())
		return false
	}

	if err := s.phones.UpdateStatus(ctx, job.ProfileID, models.PhoneStatusStarted); err != nil {
		log.Printf("[Setup] Failed to record phone start: %v", err)
	}

	// Let the phone settle before driving it
	if err := sleep(ctx, s.Timing.StabilizationDelay); err != nil {
		job.fail(i, err)
		return false
	}

	job.ok(i, "Device running")
	return true
}

// confirmInstall makes sure the target app is present. Never fatal: an
// unconfirmed install is logged and the setup keeps going.
func (s *SetupService) confirmInstall(ctx context.Context, job *Job) {
	i := job.begin(models.StepConfirmInstall)
	s.setStatus(ctx, job.AccountID, models.AccountStatusInstallingApp, progressInstallingApp, models.StepConfirmInstall)

	pkg := s.cfg.Phone.AppPackage

	installed, err := s.provider.IsAppInstalled(ctx, job.ProfileID, pkg)
	if err == nil && installed {
		job.ok(i, "App already installed")
		return
	}

	if err := s.provider.InstallApp(ctx, job.ProfileID, s.cfg.Phone.AppVersionID); err != nil {
		log.Printf("[Setup] Install request failed on %s: %v", job.ProfileID, err)
	}

	_, outcome := poll.Until(ctx,
		poll.Config{Interval: s.Timing.InstallConfirmInterval, MaxAttempts: s.Timing.InstallConfirmAttempts},
		func(ctx context.Context) (bool, error) {
			return s.provider.IsAppInstalled(ctx, job.ProfileID, pkg)
		},
		func(ok bool) bool { return ok },
	)

	if outcome == poll.Ready {
		job.ok(i, "App installed")
		return
	}

	log.Printf("[Setup] Install not confirmed on %s, continuing", job.ProfileID)
	s.logs.Log(ctx, "warning", "setup", job.AccountID,
		fmt.Sprintf("App install not confirmed on %s within the wait window", job.ProfileID))
	job.skip(i, "Install not confirmed within wait window")
}

func (s *SetupService) activateWithCredential(ctx context.Context, job *Job) {
	i := job.begin(models.StepDispatchLogin)

	if err := s.provider.StartApp(ctx, job.ProfileID, s.cfg.Phone.AppPackage); err != nil {
		log.Printf("[Setup] Start app failed on %s: %v", job.ProfileID, err)
	}
	if err := sleep(ctx, s.Timing.AppSettleDelay); err != nil {
		job.fail(i, err)
		return
	}

	taskID, err := s.provider.DispatchLogin(ctx, job.ProfileID, job.CredEmail, job.CredPassword)
	if err != nil {
		failErr := fmt.Errorf("dispatch login: %w", err)
		job.fail(i, failErr)
		s.failAccount(ctx, job.AccountID, failErr.Error())
		return
	}
	job.TaskID = taskID

	if !s.recordLoginTask(ctx, job, i, taskID, models.StepDispatchLogin) {
		return
	}

	job.ok(i, fmt.Sprintf("Login task %s dispatched", taskID))
	job.Steps[i].TaskID = taskID
	s.setStatus(ctx, job.AccountID, models.AccountStatusRunningRemoteTask, progressRunningTask, models.StepDispatchLogin)

	s.handOff(job)
}

// activateWithRental dispatches the login flow first and only then rents
// the number. The login flow drives the signup UI to the point where the
// app asks for a phone number, so the rental window must not start before
// the task exists.
func (s *SetupService) activateWithRental(ctx context.Context, job *Job) {
	i := job.begin(models.StepCreateLoginTask)

	params := map[string]interface{}{
		"accountName": job.Username,
		"password":    job.CredPassword,
	}
	taskID, err := s.provider.CreateFlowTask(ctx, job.ProfileID, s.cfg.Phone.LoginFlowID, params, "phone login")
	if err != nil {
		failErr := fmt.Errorf("create login task: %w", err)
		job.fail(i, failErr)
		s.failAccount(ctx, job.AccountID, failErr.Error())
		return
	}
	job.TaskID = taskID

	if !s.recordLoginTask(ctx, job, i, taskID, models.StepCreateLoginTask) {
		return
	}

	job.ok(i, fmt.Sprintf("Login task %s created", taskID))
	job.Steps[i].TaskID = taskID
	s.setStatus(ctx, job.AccountID, models.AccountStatusRunningRemoteTask, progressRunningTask, models.StepCreateLoginTask)

	// Give the task a moment to get picked up; not worth failing over
	poll.Until(ctx,
		poll.Config{Interval: s.Timing.TaskPickupInterval, MaxAttempts: s.Timing.TaskPickupAttempts},
		func(ctx context.Context) (int, error) {
			st, err := s.provider.GetTaskStatus(ctx, taskID)
			if err != nil {
				return 0, err
			}
			return st.Status, nil
		},
		func(status int) bool { return status != client.TaskStatePending },
	)

	if !s.rentNumber(ctx, job) {
		return
	}

	s.handOff(job)
}

func (s *SetupService) rentNumber(ctx context.Context, job *Job) bool {
	i := job.begin(models.StepRentNumber)
	s.setStatus(ctx, job.AccountID, models.AccountStatusRentingNumber, progressRunningTask, models.StepRentNumber)

	if max := s.cfg.SMS.MaxActiveRentals; max > 0 {
		active, err := s.rentals.CountActive(ctx)
		if err == nil && active >= max {
			failErr := fmt.Errorf("rental cap reached (%d active)", active)
			job.fail(i, failErr)
			s.failAccount(ctx, job.AccountID, failErr.Error())
			return false
		}
	}

	var rented *client.RentedNumber
	var err error
	backoff := s.Timing.RentRetryBase
	for attempt := 0; attempt < s.Timing.RentRetryAttempts; attempt++ {
		if attempt > 0 {
			if sleepErr := sleep(ctx, backoff); sleepErr != nil {
				job.fail(i, sleepErr)
				return false
			}
			backoff *= 2
			if backoff > s.Timing.RentRetryMax {
				backoff = s.Timing.RentRetryMax
			}
		}

		rented, err = s.renter.RentNumber(ctx, job.Req.LongTermRental)
		if err == nil {
			break
		}
		if err != client.ErrNoNumbers {
			break
		}
		log.Printf("[Setup] No numbers available, retrying (attempt %d)", attempt+1)
	}
	if err != nil {
		failErr := fmt.Errorf("rent number: %w", err)
		job.fail(i, failErr)
		s.failAccount(ctx, job.AccountID, failErr.Error())
		return false
	}

	job.PhoneNumber = rented.PhoneNumber

	expiresAt := time.Now().Add(72 * time.Hour)
	rental := &models.Rental{
		ID:          uuid.New().String(),
		RentalID:    rented.RentalID,
		PhoneNumber: rented.PhoneNumber,
		LongTerm:    job.Req.LongTermRental,
		AccountID:   &job.AccountID,
		Status:      models.RentalStatusWaiting,
		ExpiresAt:   &expiresAt,
	}
	job.RentalRef = rented.RentalID
	if err := s.rentals.Create(ctx, rental); err != nil {
		log.Printf("[Setup] Failed to record rental %s: %v", rented.RentalID, err)
	} else {
		job.RentalRowID = rental.ID
		if acc, accErr := s.accounts.GetByID(ctx, job.AccountID); accErr == nil {
			acc.RentalID = &rental.ID
			if acc.Meta == nil {
				acc.Meta = map[string]interface{}{}
			}
			acc.Meta["phone_number"] = rented.PhoneNumber
			if updErr := s.accounts.Update(ctx, acc); updErr != nil {
				log.Printf("[Setup] Failed to bind rental to account %s: %v", job.AccountID, updErr)
			}
		}
	}

	job.ok(i, fmt.Sprintf("Rented %s", rented.PhoneNumber))
	s.setStatus(ctx, job.AccountID, models.AccountStatusPendingVerification, progressPendingVerify, models.StepRentNumber)
	return true
}

// recordLoginTask persists the task id. The account row update is the copy
// the lifecycle monitor depends on, so its failure aborts the setup; the
// task bookkeeping row is cosmetic and only logged.
func (s *SetupService) recordLoginTask(ctx context.Context, job *Job, stepIdx int, taskID, stepName string) bool {
	if err := s.accounts.SetTaskID(ctx, job.AccountID, taskID); err != nil {
		failErr := fmt.Errorf("store task id on account: %w", err)
		job.fail(stepIdx, failErr)
		s.failAccount(ctx, job.AccountID, failErr.Error())
		return false
	}

	now := time.Now()
	task := &models.Task{
		ID:             uuid.New().String(),
		ExternalTaskID: taskID,
		AccountID:      &job.AccountID,
		ProfileID:      job.ProfileID,
		Kind:           models.TaskKindLogin,
		Status:         models.TaskStatusPending,
		SetupStep:      &stepName,
		StartedAt:      &now,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		log.Printf("[Setup] Failed to record task row for %s: %v", taskID, err)
		s.logs.Log(ctx, "warning", "setup", job.AccountID,
			fmt.Sprintf("Task row insert failed for %s: %v", taskID, err))
	}

	return true
}

// settleRental closes out a number rental once the login task resolved.
// On success the received code is recorded and the rental is marked done
// provider-side; on failure it is cancelled so the number is refunded.
func (s *SetupService) settleRental(ctx context.Context, accountID, rentalRowID, rentalRef string, loginSucceeded bool) error {
	if rentalRef == "" {
		return nil
	}

	if !loginSucceeded {
		if err := s.renter.CancelRental(ctx, rentalRef); err != nil {
			return fmt.Errorf("cancel rental %s: %w", rentalRef, err)
		}
		if rentalRowID != "" {
			if err := s.rentals.UpdateStatus(ctx, rentalRowID, models.RentalStatusCancelled, nil); err != nil {
				log.Printf("[Setup] Failed to mark rental %s cancelled: %v", rentalRowID, err)
			}
		}
		s.logs.Log(ctx, "info", "setup", accountID,
			fmt.Sprintf("Rental %s cancelled after login failure", rentalRef))
		return nil
	}

	var otp *string
	status := models.RentalStatusCompletedNoSMS
	if st, err := s.renter.CheckOTP(ctx, rentalRef); err == nil && st.Code != "" {
		otp = &st.Code
		status = models.RentalStatusReceived
	}

	if err := s.renter.CompleteRental(ctx, rentalRef); err != nil {
		return fmt.Errorf("complete rental %s: %w", rentalRef, err)
	}
	if rentalRowID != "" {
		if err := s.rentals.UpdateStatus(ctx, rentalRowID, status, otp); err != nil {
			log.Printf("[Setup] Failed to mark rental %s %s: %v", rentalRowID, status, err)
		}
	}
	return nil
}

// handOff spawns the task watcher and lifecycle monitor for a dispatched
// login task
func (s *SetupService) handOff(job *Job) {
	if s.sup == nil {
		return
	}

	accountID, profileID, taskID := job.AccountID, job.ProfileID, job.TaskID
	rentalRowID, rentalRef := job.RentalRowID, job.RentalRef

	var engage func(ctx context.Context) error
	if opts := job.Req.Engagement; opts != nil && opts.DurationMinutes > 0 {
		o := *opts
		engage = func(ctx context.Context) error {
			return s.StartEngagement(ctx, accountID, profileID, &o)
		}
	}

	onSuccess := func(ctx context.Context) error {
		if err := s.settleRental(ctx, accountID, rentalRowID, rentalRef, true); err != nil {
			log.Printf("[Setup] Rental settlement for account %s: %v", accountID, err)
		}
		if engage != nil {
			return engage(ctx)
		}
		return nil
	}

	var onFailure func(ctx context.Context) error
	if rentalRef != "" {
		onFailure = func(ctx context.Context) error {
			return s.settleRental(ctx, accountID, rentalRowID, rentalRef, false)
		}
	}

	s.sup.Go("task-watcher "+taskID, func(ctx context.Context) {
		s.watcher.Watch(ctx, accountID, taskID, onSuccess, onFailure)
	})
	s.sup.Go("lifecycle-monitor "+profileID, func(ctx context.Context) {
		s.monitor.Watch(ctx, accountID, profileID)
	})
}

// GetAccountStatus builds the dashboard view of an account
func (s *SetupService) GetAccountStatus(ctx context.Context, accountID string) (*models.AccountStatusResponse, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &models.AccountStatusResponse{
		AccountID:        acc.ID,
		Username:         acc.Username,
		Status:           acc.Status,
		ProfileID:        acc.ProfileID,
		TaskID:           acc.TaskID,
		SetupProgress:    acc.SetupProgress,
		CurrentSetupStep: acc.CurrentSetupStep,
		LastError:        acc.LastError,
		CreatedAt:        acc.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        acc.UpdatedAt.Format(time.RFC3339),
	}, nil
}

// ListAccounts returns the most recent accounts for the dashboard
func (s *SetupService) ListAccounts(ctx context.Context, limit int) ([]*models.AccountStatusResponse, error) {
	rows, err := s.accounts.List(ctx, limit)
	if err != nil {
		return nil, err
	}

	out := make([]*models.AccountStatusResponse, 0, len(rows))
	for _, acc := range rows {
		out = append(out, &models.AccountStatusResponse{
			AccountID:        acc.ID,
			Username:         acc.Username,
			Status:           acc.Status,
			ProfileID:        acc.ProfileID,
			TaskID:           acc.TaskID,
			SetupProgress:    acc.SetupProgress,
			CurrentSetupStep: acc.CurrentSetupStep,
			LastError:        acc.LastError,
			CreatedAt:        acc.CreatedAt.Format(time.RFC3339),
			UpdatedAt:        acc.UpdatedAt.Format(time.RFC3339),
		})
	}
	return out, nil
}

// Helper functions

// tagBatch stamps batch membership onto the account meta
func (s *SetupService) tagBatch(ctx context.Context, accountID, batchID string, index int) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		log.Printf("[Setup] Failed to load account %s for batch tag: %v", accountID, err)
		return
	}
	if acc.Meta == nil {
		acc.Meta = map[string]interface{}{}
	}
	acc.Meta["batch_id"] = batchID
	acc.Meta["batch_index"] = index
	if err := s.accounts.Update(ctx, acc); err != nil {
		log.Printf("[Setup] Failed to tag account %s with batch: %v", accountID, err)
	}
}

func (s *SetupService) setStatus(ctx context.Context, accountID, status string, progress int, step string) {
	if err := s.accounts.UpdateStatus(ctx, accountID, status, progress, &step); err != nil {
		log.Printf("[Setup] Failed to update account %s status: %v", accountID, err)
	}
}

// failAccount records the error on the account row. The status is left at
// the last reached state so the dashboard shows where the setup stopped.
func (s *SetupService) failAccount(ctx context.Context, accountID, errorMsg string) {
	log.Printf("[Setup] Setup failed for account %s: %s", accountID, errorMsg)
	if err := s.accounts.SetError(ctx, accountID, errorMsg); err != nil {
		log.Printf("[Setup] Failed to record error: %v", err)
	}
	s.logs.Log(ctx, "error", "setup", accountID, errorMsg)
}

func (s *SetupService) generateUsername() string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return s.cfg.Setup.UsernamePrefix + "_" + suffix
}

func usernameFromEmail(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
