package models

// ==================== Setup API DTOs ====================

// Step status constants
const (
	StepStatusPending = "pending"
	StepStatusRunning = "running"
	StepStatusSuccess = "success"
	StepStatusFailed  = "failed"
	StepStatusSkipped = "skipped"
)

// Step name constants. Steps are appended in execution order and never
// reordered.
const (
	StepGetCredentials     = "Get Credentials"
	StepCreateProfile      = "Create Profile"
	StepUseExistingProfile = "Use Existing Profile"
	StepStartDevice        = "Start Device"
	StepConfirmInstall     = "Confirm Install"
	StepDispatchLogin      = "Dispatch Login"
	StepCreateLoginTask    = "Create Login Task"
	StepRentNumber         = "Rent Number"
)

// StepResult is one recorded setup step
type StepResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
}

// InlineCredential carries a caller-supplied credential. When set, no
// stored credential is consumed.
type InlineCredential struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// DeviceOptions controls profile creation parameters
type DeviceOptions struct {
	DeviceModel    string `json:"device_model,omitempty"`
	AndroidVersion int    `json:"android_version,omitempty"`
	GroupName      string `json:"group_name,omitempty"`
	ProfileName    string `json:"profile_name,omitempty"`
	Region         string `json:"region,omitempty"`
}

// ProxySelector picks the proxy source for a setup. Exactly one of the
// fields is honored; empty selector means automatic pool/provider pick.
type ProxySelector struct {
	PoolProxyID     string       `json:"pool_proxy_id,omitempty"`
	ProviderProxyID string       `json:"provider_proxy_id,omitempty"`
	Manual          *ManualProxy `json:"manual,omitempty"`
	GroupName       string       `json:"group_name,omitempty"`
}

// ManualProxy is a caller-supplied proxy config
type ManualProxy struct {
	Scheme   string `json:"scheme"`
	Host     string `json:"host" binding:"required"`
	Port     int    `json:"port" binding:"required"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// EngagementOptions configures the post-login warmup task
type EngagementOptions struct {
	DurationMinutes int      `json:"duration_minutes"`
	Action          string   `json:"action,omitempty"` // browse video / search video / search profile
	Keywords        []string `json:"keywords,omitempty"`
}

// SetupRequest starts a single account setup
type SetupRequest struct {
	Mode               string             `json:"mode,omitempty"` // derived from route when empty
	Credential         *InlineCredential  `json:"credential,omitempty"`
	CredentialID       string             `json:"credential_id,omitempty"`
	UseExistingProfile bool               `json:"use_existing_profile,omitempty"`
	ExistingProfileID  string             `json:"existing_profile_id,omitempty"`
	Device             *DeviceOptions     `json:"device,omitempty"`
	Proxy              *ProxySelector     `json:"proxy,omitempty"`
	LongTermRental     bool               `json:"long_term_rental,omitempty"`
	Engagement         *EngagementOptions `json:"engagement,omitempty"`
	Quantity           int                `json:"quantity,omitempty"` // >1 routes through the batch runner
}

// SetupResponse summarizes a finished single setup
type SetupResponse struct {
	Success     bool         `json:"success"`
	AccountID   string       `json:"account_id,omitempty"`
	ProfileID   string       `json:"profile_id,omitempty"`
	ProfileName string       `json:"profile_name,omitempty"`
	Username    string       `json:"username,omitempty"`
	PhoneNumber string       `json:"phone_number,omitempty"`
	TaskID      string       `json:"task_id,omitempty"`
	Steps       []StepResult `json:"steps"`
	Error       string       `json:"error,omitempty"`
}

// ==================== Batch DTOs ====================

// BatchItemResult is the per-profile outcome inside a batch
type BatchItemResult struct {
	Index       int          `json:"index"`
	AccountID   string       `json:"account_id,omitempty"`
	ProfileID   string       `json:"profile_id,omitempty"`
	ProfileName string       `json:"profile_name,omitempty"`
	Success     bool         `json:"success"`
	Steps       []StepResult `json:"steps,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// BatchSummary aggregates both batch phases
type BatchSummary struct {
	BatchID         string            `json:"batch_id"`
	Requested       int               `json:"requested"`
	ProfilesCreated int               `json:"profiles_created"`
	ProfilesFailed  int               `json:"profiles_failed"`
	SetupsStarted   int               `json:"setups_started"`
	SetupsFailed    int               `json:"setups_failed"`
	Items           []BatchItemResult `json:"items"`
}

// ==================== Read API DTOs ====================

// AccountStatusResponse is the dashboard view of one account
type AccountStatusResponse struct {
	AccountID        string  `json:"account_id"`
	Username         string  `json:"username"`
	Status           string  `json:"status"`
	ProfileID        *string `json:"profile_id,omitempty"`
	TaskID           *string `json:"task_id,omitempty"`
	SetupProgress    int     `json:"setup_progress"`
	CurrentSetupStep *string `json:"current_setup_step,omitempty"`
	LastError        *string `json:"last_error,omitempty"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

// EngagementRequest triggers a manual engagement run
type EngagementRequest struct {
	AccountID       string   `json:"account_id" binding:"required"`
	DurationMinutes int      `json:"duration_minutes"`
	Action          string   `json:"action,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
}
