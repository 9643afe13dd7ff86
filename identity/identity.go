// Package identity holds the persistent domain models of the Worklane
// authentication subsystem.
package identity

import (
	"time"

	"gorm.io/gorm"
)

// MFAStatus is the explicit state of an account's second factor.
//
// The two-phase enable flow (store secret, then confirm with a live code)
// means "has a secret" does not imply "MFA is on"; the status field is the
// single source of truth, never inferred from which columns are populated.
type MFAStatus string

const (
	// MFAUnconfigured means no second factor has been set up.
	MFAUnconfigured MFAStatus = "unconfigured"

	// MFAPendingConfirmation means a secret has been stored but the user
	// has not yet proven their authenticator app can produce codes for it.
	MFAPendingConfirmation MFAStatus = "pending_confirmation"

	// MFAEnabled means the second factor is active and required at login.
	MFAEnabled MFAStatus = "enabled"
)

// Account represents a user account within a tenant.
type Account struct {
	ID          string         `gorm:"primaryKey" json:"id"`
	TenantID    string         `gorm:"index" json:"tenant_id"`
	Email       string         `gorm:"uniqueIndex" json:"email"`
	DisplayName string         `json:"display_name"`
	Password    string         `gorm:"column:password_hash" json:"-"`
	MFAStatus   MFAStatus      `gorm:"default:unconfigured" json:"mfa_status"`
	MFASecret   string         `json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Account) TableName() string { return "accounts" }

// MFARequired reports whether login must be followed by a second factor.
func (a *Account) MFARequired() bool { return a.MFAStatus == MFAEnabled }

// RecoveryCode stores the bcrypt hash of a single-use backup code.
// Rows are deleted on use, never flagged; Position preserves the order the
// codes were shown to the user.
type RecoveryCode struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	AccountID string    `gorm:"index" json:"account_id"`
	Position  int       `json:"position"`
	Hash      string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

func (RecoveryCode) TableName() string { return "recovery_codes" }

// TrustedDevice records a client allowed to skip the second factor for a
// bounded period. Only the SHA-256 hash of the token is stored; the raw
// token is returned to the client exactly once at issuance.
type TrustedDevice struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	AccountID  string    `gorm:"index" json:"account_id"`
	TokenHash  string    `gorm:"index" json:"-"`
	DeviceName string    `json:"device_name"`
	Browser    string    `json:"browser"`
	OS         string    `json:"os"`
	OriginIP   string    `json:"origin_ip"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (TrustedDevice) TableName() string { return "trusted_devices" }
