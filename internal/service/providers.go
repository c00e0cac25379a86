package service

import (
	"context"

	"github.com/kinetic-apps/automation-platform/setup-service/internal/client"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
)

// DeviceProvider is the cloud phone provider surface the services depend
// on. *client.PhoneClient is the production implementation.
type DeviceProvider interface {
	CreateProfiles(ctx context.Context, req *client.CreateProfilesRequest) (*client.CreateProfilesResult, error)
	StartPhones(ctx context.Context, ids []string) error
	StopPhones(ctx context.Context, ids []string) error
	GetPhoneStatus(ctx context.Context, ids []string) ([]client.PhoneStatusDetail, error)
	InstallApp(ctx context.Context, profileID, appVersionID string) error
	IsAppInstalled(ctx context.Context, profileID, packageName string) (bool, error)
	StartApp(ctx context.Context, profileID, packageName string) error
	DispatchLogin(ctx context.Context, profileID, account, password string) (string, error)
	CreateFlowTask(ctx context.Context, profileID, flowID string, params map[string]interface{}, name string) (string, error)
	CreateEngagementTask(ctx context.Context, profileID, action string, durationMinutes int, keywords []string) (string, error)
	GetTaskStatus(ctx context.Context, taskID string) (*client.TaskStatus, error)
	QueryTasks(ctx context.Context, ids []string) ([]client.TaskStatus, error)
	ListProxies(ctx context.Context) ([]client.ProviderProxy, error)
}

// NumberRenter is the SMS rental provider surface. *client.SMSClient is
// the production implementation.
type NumberRenter interface {
	RentNumber(ctx context.Context, longTerm bool) (*client.RentedNumber, error)
	CheckOTP(ctx context.Context, rentalID string) (*client.OTPStatus, error)
	CompleteRental(ctx context.Context, rentalID string) error
	CancelRental(ctx context.Context, rentalID string) error
}

// AccountStore persists accounts
type AccountStore interface {
	Create(ctx context.Context, acc *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	List(ctx context.Context, limit int) ([]*models.Account, error)
	Update(ctx context.Context, acc *models.Account) error
	UpdateStatus(ctx context.Context, id, status string, progress int, currentStep *string) error
	SetTaskID(ctx context.Context, id, taskID string) error
	SetError(ctx context.Context, id, errorMsg string) error
}

// PhoneStore persists cloud phone profiles
type PhoneStore interface {
	Create(ctx context.Context, p *models.Phone) error
	UpdateStatus(ctx context.Context, profileID, status string) error
}

// ProxyStore persists the proxy pool and its claims
type ProxyStore interface {
	Create(ctx context.Context, p *models.Proxy) error
	GetByID(ctx context.Context, id string) (*models.Proxy, error)
	ClaimNext(ctx context.Context, accountID string, groupName *string, excludeIDs []string) (*models.Proxy, error)
	ClaimByID(ctx context.Context, id, accountID string) (*models.Proxy, error)
	Release(ctx context.Context, id string) error
	GetRandomAssigned(ctx context.Context, groupName *string) (*models.Proxy, error)
	CountUnassigned(ctx context.Context, groupName *string) (int, error)
}

// CredentialStore persists login credentials
type CredentialStore interface {
	GetByID(ctx context.Context, id string) (*models.Credential, error)
	TakeLeastRecentlyUsed(ctx context.Context) (*models.Credential, error)
	MarkUsed(ctx context.Context, id string) error
}

// RentalStore persists number rentals
type RentalStore interface {
	Create(ctx context.Context, rental *models.Rental) error
	UpdateStatus(ctx context.Context, id, status string, otpCode *string) error
	CountActive(ctx context.Context) (int, error)
}

// TaskStore persists remote task bookkeeping rows
type TaskStore interface {
	Create(ctx context.Context, t *models.Task) error
	UpdateStatusByExternalID(ctx context.Context, externalID, status string, failCode *int, failDesc *string) error
	ListByAccount(ctx context.Context, accountID string) ([]*models.Task, error)
}

// SetupLogger appends to the persistent structured log stream
type SetupLogger interface {
	Log(ctx context.Context, level, component, accountID, message string) error
	LogWithMeta(ctx context.Context, level, component, accountID, message string, meta map[string]interface{}) error
}
