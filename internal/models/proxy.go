package models

import (
	"fmt"
	"time"
)

// Proxy source constants
const (
	ProxySourcePool     = "pool"     // managed database pool
	ProxySourceProvider = "provider" // cloud phone provider inventory
	ProxySourceManual   = "manual"   // caller-supplied config
)

// Proxy represents one proxy in the managed pool. AssignedAccountID is the
// claim; it is only ever set through a conditional update.
type Proxy struct {
	ID                string
	Source            string
	Scheme            string // socks5 / http
	Host              string
	Port              int
	Username          *string
	Password          *string
	GroupName         *string
	ProviderProxyID   *string // id on the provider side, for source=provider
	AssignedAccountID *string
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Address returns host:port for logs
func (p *Proxy) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Credential status constants
const (
	CredentialStatusActive   = "active"
	CredentialStatusDisabled = "disabled"
)

// Credential is a stored login credential for credential-login setups.
// LastUsedAt drives the least-recently-used pick.
type Credential struct {
	ID          string
	Email       string
	Password    string
	Status      string
	CreatorName *string
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Rental status constants
const (
	RentalStatusWaiting        = "waiting"
	RentalStatusReceived       = "received"
	RentalStatusCancelled      = "cancelled"
	RentalStatusExpired        = "expired"
	RentalStatusCompletedNoSMS = "completed_no_sms"
)

// Rental represents a rented phone number for SMS verification
type Rental struct {
	ID          string
	RentalID    string // provider-side rental id
	PhoneNumber string
	LongTerm    bool
	AccountID   *string
	Status      string
	OTPCode     *string
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
