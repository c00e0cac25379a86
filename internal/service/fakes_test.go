package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/client"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/config"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/repository"
)

// callLog records method invocations across fakes for ordering assertions.
type callLog struct {
	mu    sync.Mutex
	names []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

// index returns the position of the first occurrence of name, or -1.
func (l *callLog) index(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, n := range l.names {
		if n == name {
			return i
		}
	}
	return -1
}

func (l *callLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.names {
		if c == name {
			n++
		}
	}
	return n
}

// fakeProvider implements DeviceProvider. Behavior is overridable per
// method via the Func fields; defaults model a fully cooperative provider.
type fakeProvider struct {
	mu       sync.Mutex
	calls    *callLog
	profileN int

	StoppedIDs []string

	CreateProfilesFunc       func(ctx context.Context, req *client.CreateProfilesRequest) (*client.CreateProfilesResult, error)
	StartPhonesFunc          func(ctx context.Context, ids []string) error
	StopPhonesFunc           func(ctx context.Context, ids []string) error
	GetPhoneStatusFunc       func(ctx context.Context, ids []string) ([]client.PhoneStatusDetail, error)
	InstallAppFunc           func(ctx context.Context, profileID, appVersionID string) error
	IsAppInstalledFunc       func(ctx context.Context, profileID, packageName string) (bool, error)
	StartAppFunc             func(ctx context.Context, profileID, packageName string) error
	DispatchLoginFunc        func(ctx context.Context, profileID, account, password string) (string, error)
	CreateFlowTaskFunc       func(ctx context.Context, profileID, flowID string, params map[string]interface{}, name string) (string, error)
	CreateEngagementTaskFunc func(ctx context.Context, profileID, action string, durationMinutes int, keywords []string) (string, error)
	GetTaskStatusFunc        func(ctx context.Context, taskID string) (*client.TaskStatus, error)
	QueryTasksFunc           func(ctx context.Context, ids []string) ([]client.TaskStatus, error)
	ListProxiesFunc          func(ctx context.Context) ([]client.ProviderProxy, error)
}

func (f *fakeProvider) record(name string) {
	if f.calls != nil {
		f.calls.add(name)
	}
}

func (f *fakeProvider) CreateProfiles(ctx context.Context, req *client.CreateProfilesRequest) (*client.CreateProfilesResult, error) {
	f.record("CreateProfiles")
	if f.CreateProfilesFunc != nil {
		return f.CreateProfilesFunc(ctx, req)
	}
	f.mu.Lock()
	f.profileN++
	n := f.profileN
	f.mu.Unlock()
	return &client.CreateProfilesResult{
		TotalAmount:   1,
		SuccessAmount: 1,
		Details: []client.ProfileDetail{
			{Code: 0, ID: fmt.Sprintf("profile-%d", n), ProfileName: fmt.Sprintf("phone-%d", n)},
		},
	}, nil
}

func (f *fakeProvider) StartPhones(ctx context.Context, ids []string) error {
	f.record("StartPhones")
	if f.StartPhonesFunc != nil {
		return f.StartPhonesFunc(ctx, ids)
	}
	return nil
}

func (f *fakeProvider) StopPhones(ctx context.Context, ids []string) error {
	f.record("StopPhones")
	if f.StopPhonesFunc != nil {
		return f.StopPhonesFunc(ctx, ids)
	}
	f.mu.Lock()
	f.StoppedIDs = append(f.StoppedIDs, ids...)
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) GetPhoneStatus(ctx context.Context, ids []string) ([]client.PhoneStatusDetail, error) {
	f.record("GetPhoneStatus")
	if f.GetPhoneStatusFunc != nil {
		return f.GetPhoneStatusFunc(ctx, ids)
	}
	out := make([]client.PhoneStatusDetail, len(ids))
	for i, id := range ids {
		out[i] = client.PhoneStatusDetail{ID: id, Status: client.PhoneStateStarted}
	}
	return out, nil
}

func (f *fakeProvider) InstallApp(ctx context.Context, profileID, appVersionID string) error {
	f.record("InstallApp")
	if f.InstallAppFunc != nil {
		return f.InstallAppFunc(ctx, profileID, appVersionID)
	}
	return nil
}

func (f *fakeProvider) IsAppInstalled(ctx context.Context, profileID, packageName string) (bool, error) {
	f.record("IsAppInstalled")
	if f.IsAppInstalledFunc != nil {
		return f.IsAppInstalledFunc(ctx, profileID, packageName)
	}
	return true, nil
}

func (f *fakeProvider) StartApp(ctx context.Context, profileID, packageName string) error {
	f.record("StartApp")
	if f.StartAppFunc != nil {
		return f.StartAppFunc(ctx, profileID, packageName)
	}
	return nil
}

func (f *fakeProvider) DispatchLogin(ctx context.Context, profileID, account, password string) (string, error) {
	f.record("DispatchLogin")
	if f.DispatchLoginFunc != nil {
		return f.DispatchLoginFunc(ctx, profileID, account, password)
	}
	return "task-login-1", nil
}

func (f *fakeProvider) CreateFlowTask(ctx context.Context, profileID, flowID string, params map[string]interface{}, name string) (string, error) {
	f.record("CreateFlowTask")
	if f.CreateFlowTaskFunc != nil {
		return f.CreateFlowTaskFunc(ctx, profileID, flowID, params, name)
	}
	return "task-flow-1", nil
}

func (f *fakeProvider) CreateEngagementTask(ctx context.Context, profileID, action string, durationMinutes int, keywords []string) (string, error) {
	f.record("CreateEngagementTask")
	if f.CreateEngagementTaskFunc != nil {
		return f.CreateEngagementTaskFunc(ctx, profileID, action, durationMinutes, keywords)
	}
	return "task-engage-1", nil
}

func (f *fakeProvider) GetTaskStatus(ctx context.Context, taskID string) (*client.TaskStatus, error) {
	f.record("GetTaskStatus")
	if f.GetTaskStatusFunc != nil {
		return f.GetTaskStatusFunc(ctx, taskID)
	}
	return &client.TaskStatus{ID: taskID, Status: client.TaskStateRunning}, nil
}

func (f *fakeProvider) QueryTasks(ctx context.Context, ids []string) ([]client.TaskStatus, error) {
	f.record("QueryTasks")
	if f.QueryTasksFunc != nil {
		return f.QueryTasksFunc(ctx, ids)
	}
	out := make([]client.TaskStatus, len(ids))
	for i, id := range ids {
		out[i] = client.TaskStatus{ID: id, Status: client.TaskStateCompleted}
	}
	return out, nil
}

func (f *fakeProvider) ListProxies(ctx context.Context) ([]client.ProviderProxy, error) {
	f.record("ListProxies")
	if f.ListProxiesFunc != nil {
		return f.ListProxiesFunc(ctx)
	}
	return nil, nil
}

// fakeRenter implements NumberRenter
type fakeRenter struct {
	calls *callLog

	RentNumberFunc     func(ctx context.Context, longTerm bool) (*client.RentedNumber, error)
	CheckOTPFunc       func(ctx context.Context, rentalID string) (*client.OTPStatus, error)
	CompleteRentalFunc func(ctx context.Context, rentalID string) error
	CancelRentalFunc   func(ctx context.Context, rentalID string) error
}

func (f *fakeRenter) RentNumber(ctx context.Context, longTerm bool) (*client.RentedNumber, error) {
	if f.calls != nil {
		f.calls.add("RentNumber")
	}
	if f.RentNumberFunc != nil {
		return f.RentNumberFunc(ctx, longTerm)
	}
	return &client.RentedNumber{RentalID: "rent-1", PhoneNumber: "+15550001111"}, nil
}

func (f *fakeRenter) CheckOTP(ctx context.Context, rentalID string) (*client.OTPStatus, error) {
	if f.calls != nil {
		f.calls.add("CheckOTP")
	}
	if f.CheckOTPFunc != nil {
		return f.CheckOTPFunc(ctx, rentalID)
	}
	return &client.OTPStatus{Waiting: true}, nil
}

func (f *fakeRenter) CompleteRental(ctx context.Context, rentalID string) error {
	if f.calls != nil {
		f.calls.add("CompleteRental")
	}
	if f.CompleteRentalFunc != nil {
		return f.CompleteRentalFunc(ctx, rentalID)
	}
	return nil
}

func (f *fakeRenter) CancelRental(ctx context.Context, rentalID string) error {
	if f.calls != nil {
		f.calls.add("CancelRental")
	}
	if f.CancelRentalFunc != nil {
		return f.CancelRentalFunc(ctx, rentalID)
	}
	return nil
}

// fakeAccounts is an in-memory AccountStore. Reads hand out copies so the
// fake behaves like a real row store.
type fakeAccounts struct {
	mu    sync.Mutex
	rows  map[string]models.Account
	order []string

	SetTaskIDFunc func(ctx context.Context, id, taskID string) error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{rows: make(map[string]models.Account)}
}

func (f *fakeAccounts) Create(ctx context.Context, acc *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *acc
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.rows[acc.ID] = cp
	f.order = append(f.order, acc.ID)
	return nil
}

func (f *fakeAccounts) List(ctx context.Context, limit int) ([]*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Account
	for i := len(f.order) - 1; i >= 0 && len(out) < limit; i-- {
		cp := f.rows[f.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := row
	return &cp, nil
}

func (f *fakeAccounts) Update(ctx context.Context, acc *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[acc.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *acc
	cp.UpdatedAt = time.Now()
	f.rows[acc.ID] = cp
	return nil
}

func (f *fakeAccounts) UpdateStatus(ctx context.Context, id, status string, progress int, currentStep *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	row.Status = status
	row.SetupProgress = progress
	row.CurrentSetupStep = currentStep
	f.rows[id] = row
	return nil
}

func (f *fakeAccounts) SetTaskID(ctx context.Context, id, taskID string) error {
	if f.SetTaskIDFunc != nil {
		return f.SetTaskIDFunc(ctx, id, taskID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	row.TaskID = &taskID
	f.rows[id] = row
	return nil
}

func (f *fakeAccounts) SetError(ctx context.Context, id, errorMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	row.LastError = &errorMsg
	f.rows[id] = row
	return nil
}

// get is a test helper, panics on a missing row
func (f *fakeAccounts) get(id string) models.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		panic("no account " + id)
	}
	return row
}

func (f *fakeAccounts) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// fakePhones is an in-memory PhoneStore
type fakePhones struct {
	mu   sync.Mutex
	rows map[string]models.Phone
}

func newFakePhones() *fakePhones {
	return &fakePhones{rows: make(map[string]models.Phone)}
}

func (f *fakePhones) Create(ctx context.Context, p *models.Phone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[p.ProfileID] = *p
	return nil
}

func (f *fakePhones) UpdateStatus(ctx context.Context, profileID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[profileID]
	if !ok {
		return repository.ErrNotFound
	}
	row.Status = status
	f.rows[profileID] = row
	return nil
}

func (f *fakePhones) status(profileID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[profileID].Status
}

// fakeProxies is an in-memory ProxyStore with the same claim semantics as
// the SQL implementation: a proxy is claimable iff active and unassigned.
type fakeProxies struct {
	mu   sync.Mutex
	rows []*models.Proxy
}

func newFakeProxies() *fakeProxies {
	return &fakeProxies{}
}

func (f *fakeProxies) seed(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.rows = append(f.rows, &models.Proxy{
			ID:       uuid.New().String(),
			Source:   models.ProxySourcePool,
			Scheme:   "socks5",
			Host:     fmt.Sprintf("10.0.0.%d", i+1),
			Port:     1080,
			IsActive: true,
		})
	}
}

func (f *fakeProxies) CountUnassigned(ctx context.Context, groupName *string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.rows {
		if p.AssignedAccountID == nil && p.IsActive &&
			(groupName == nil || (p.GroupName != nil && *p.GroupName == *groupName)) {
			n++
		}
	}
	return n, nil
}

func (f *fakeProxies) Create(ctx context.Context, p *models.Proxy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeProxies) GetByID(ctx context.Context, id string) (*models.Proxy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeProxies) ClaimNext(ctx context.Context, accountID string, groupName *string, excludeIDs []string) (*models.Proxy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	for _, p := range f.rows {
		if !p.IsActive || p.AssignedAccountID != nil || excluded[p.ID] {
			continue
		}
		if groupName != nil && (p.GroupName == nil || *p.GroupName != *groupName) {
			continue
		}
		id := accountID
		p.AssignedAccountID = &id
		cp := *p
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeProxies) ClaimByID(ctx context.Context, id, accountID string) (*models.Proxy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.ID == id && p.IsActive && p.AssignedAccountID == nil {
			acc := accountID
			p.AssignedAccountID = &acc
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeProxies) Release(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.ID == id {
			p.AssignedAccountID = nil
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeProxies) GetRandomAssigned(ctx context.Context, groupName *string) (*models.Proxy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if !p.IsActive || p.AssignedAccountID == nil {
			continue
		}
		if groupName != nil && (p.GroupName == nil || *p.GroupName != *groupName) {
			continue
		}
		cp := *p
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeProxies) assignedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.rows {
		if p.AssignedAccountID != nil {
			n++
		}
	}
	return n
}

func (f *fakeProxies) assignedTo(accountID string) *models.Proxy {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.AssignedAccountID != nil && *p.AssignedAccountID == accountID {
			cp := *p
			return &cp
		}
	}
	return nil
}

// fakeCredentials is an in-memory CredentialStore
type fakeCredentials struct {
	mu         sync.Mutex
	rows       []models.Credential
	MarkedUsed []string
}

func (f *fakeCredentials) add(id, email, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, models.Credential{
		ID: id, Email: email, Password: password, Status: models.CredentialStatusActive,
	})
}

func (f *fakeCredentials) GetByID(ctx context.Context, id string) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].ID == id {
			cp := f.rows[i]
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeCredentials) TakeLeastRecentlyUsed(ctx context.Context) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].Status != models.CredentialStatusActive {
			continue
		}
		now := time.Now()
		if f.rows[i].LastUsedAt == nil {
			f.rows[i].LastUsedAt = &now
			cp := f.rows[i]
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeCredentials) MarkUsed(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MarkedUsed = append(f.MarkedUsed, id)
	return nil
}

// fakeRentals is an in-memory RentalStore
type fakeRentals struct {
	mu      sync.Mutex
	Created []models.Rental

	CountActiveFunc func(ctx context.Context) (int, error)
}

func (f *fakeRentals) Create(ctx context.Context, rental *models.Rental) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Created = append(f.Created, *rental)
	return nil
}

func (f *fakeRentals) UpdateStatus(ctx context.Context, id, status string, otpCode *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Created {
		if f.Created[i].ID == id {
			f.Created[i].Status = status
			f.Created[i].OTPCode = otpCode
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeRentals) CountActive(ctx context.Context) (int, error) {
	if f.CountActiveFunc != nil {
		return f.CountActiveFunc(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for i := range f.Created {
		if f.Created[i].Status == models.RentalStatusWaiting {
			n++
		}
	}
	return n, nil
}

type taskStatusChange struct {
	ExternalID string
	Status     string
	FailCode   *int
	FailDesc   *string
}

// fakeTasks is an in-memory TaskStore
type fakeTasks struct {
	mu            sync.Mutex
	Created       []models.Task
	StatusChanges []taskStatusChange

	CreateFunc func(ctx context.Context, t *models.Task) error
}

func (f *fakeTasks) Create(ctx context.Context, t *models.Task) error {
	if f.CreateFunc != nil {
		return f.CreateFunc(ctx, t)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Created = append(f.Created, *t)
	return nil
}

func (f *fakeTasks) UpdateStatusByExternalID(ctx context.Context, externalID, status string, failCode *int, failDesc *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusChanges = append(f.StatusChanges, taskStatusChange{
		ExternalID: externalID, Status: status, FailCode: failCode, FailDesc: failDesc,
	})
	for i := range f.Created {
		if f.Created[i].ExternalTaskID == externalID {
			f.Created[i].Status = status
		}
	}
	return nil
}

func (f *fakeTasks) ListByAccount(ctx context.Context, accountID string) ([]*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Task
	for i := range f.Created {
		if f.Created[i].AccountID != nil && *f.Created[i].AccountID == accountID {
			cp := f.Created[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeTasks) created() []models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Task(nil), f.Created...)
}

type logEntry struct {
	Level     string
	Component string
	AccountID string
	Message   string
}

// fakeLogs is an in-memory SetupLogger
type fakeLogs struct {
	mu      sync.Mutex
	entries []logEntry
}

func (f *fakeLogs) Log(ctx context.Context, level, component, accountID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, logEntry{Level: level, Component: component, AccountID: accountID, Message: message})
	return nil
}

func (f *fakeLogs) LogWithMeta(ctx context.Context, level, component, accountID, message string, meta map[string]interface{}) error {
	return f.Log(ctx, level, component, accountID, message)
}

func (f *fakeLogs) has(level, substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// rig wires a SetupService onto fakes with millisecond timings. The
// supervisor is left nil so setups never spawn background watchers.
type rig struct {
	provider *fakeProvider
	renter   *fakeRenter
	accounts *fakeAccounts
	phones   *fakePhones
	proxies  *fakeProxies
	creds    *fakeCredentials
	rentals  *fakeRentals
	tasks    *fakeTasks
	logs     *fakeLogs
	calls    *callLog
	svc      *SetupService
}

func testTimings() Timings {
	return Timings{
		DeviceReadyInterval:       time.Millisecond,
		DeviceReadyAttemptsSingle: 3,
		DeviceReadyAttemptsBatch:  3,
		StabilizationDelay:        0,
		InstallConfirmInterval:    time.Millisecond,
		InstallConfirmAttempts:    2,
		AppSettleDelay:            0,
		TaskPickupInterval:        time.Millisecond,
		TaskPickupAttempts:        2,
		RentRetryAttempts:         3,
		RentRetryBase:             time.Millisecond,
		RentRetryMax:              2 * time.Millisecond,
		RateLimitRetryAttempts:    3,
		RateLimitBackoffBase:      time.Millisecond,
	}
}

func testServiceConfig() *config.Config {
	return &config.Config{
		Phone: config.PhoneConfig{
			AppPackage:   "com.zhiliaoapp.musically",
			AppVersionID: "app-version-1",
			LoginFlowID:  "flow-login-1",
			GroupName:    "automation",
		},
		SMS: config.SMSConfig{
			MaxActiveRentals: 20,
		},
		Setup: config.SetupConfig{
			BatchConcurrency:   4,
			UsernamePrefix:     "user",
			AutomationPassword: "automation-pass",
		},
	}
}

func newRig() *rig {
	calls := &callLog{}
	r := &rig{
		provider: &fakeProvider{calls: calls},
		renter:   &fakeRenter{calls: calls},
		accounts: newFakeAccounts(),
		phones:   newFakePhones(),
		proxies:  newFakeProxies(),
		creds:    &fakeCredentials{},
		rentals:  &fakeRentals{},
		tasks:    &fakeTasks{},
		logs:     &fakeLogs{},
		calls:    calls,
	}

	allocator := NewProxyAllocator(r.proxies, r.provider, r.logs)
	watcher := NewTaskWatcher(r.provider, r.accounts, r.tasks, r.logs)
	watcher.Interval = time.Millisecond
	monitor := NewLifecycleMonitor(r.provider, r.accounts, r.phones, r.tasks, r.logs)
	monitor.Interval = time.Millisecond

	r.svc = NewSetupService(
		testServiceConfig(),
		r.accounts, r.phones, r.creds, r.rentals, r.tasks, r.logs,
		allocator, r.provider, r.renter, watcher, monitor, nil,
	)
	r.svc.Timing = testTimings()
	return r
}
