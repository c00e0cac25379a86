package models

import (
	"time"
)

// Account status constants. Setup moves an account forward through these
// in order; login_failed and active are the only terminal states.
const (
	AccountStatusNew                 = "new"
	AccountStatusCreatingProfile     = "creating_profile"
	AccountStatusStartingPhone       = "starting_phone"
	AccountStatusInstallingApp       = "installing_app"
	AccountStatusRunningRemoteTask   = "running_remote_task"
	AccountStatusRentingNumber       = "renting_number"
	AccountStatusPendingVerification = "pending_verification"
	AccountStatusActive              = "active"
	AccountStatusWarmingUp           = "warming_up"
	AccountStatusLoginFailed         = "login_failed"
)

// Setup mode constants
const (
	ModeCredentialLogin = "credential-login"
	ModeNumberRental    = "number-rental"
)

// Account represents one automation account being provisioned
type Account struct {
	ID               string
	Username         string
	Status           string
	ProfileID        *string // cloud phone profile id
	ProxyID          *string
	CredentialID     *string
	RentalID         *string
	TaskID           *string // remote login task id, read by the lifecycle monitor
	SetupProgress    int     // 0-100
	CurrentSetupStep *string
	LastError        *string
	Meta             map[string]interface{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Phone running states as reported by the cloud phone provider
const (
	PhoneStatusStarted  = "started"
	PhoneStatusStarting = "starting"
	PhoneStatusStopped  = "stopped"
	PhoneStatusExpired  = "expired"
	PhoneStatusUnknown  = "unknown"
)

// Phone represents a cloud phone profile record
type Phone struct {
	ProfileID      string // provider-side id, primary key
	ProfileName    string
	DeviceModel    *string
	AndroidVersion *int
	GroupName      *string
	Status         string
	PhoneStartedAt *time.Time
	Meta           map[string]interface{}
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SetupLog is an append-only structured log entry. Observability only,
// never read back for control decisions.
type SetupLog struct {
	ID        string
	Level     string // info / warning / error
	Component string
	AccountID *string
	Message   string
	Meta      map[string]interface{}
	CreatedAt time.Time
}
