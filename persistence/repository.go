// Package persistence implements the subsystem's storage contracts on GORM.
// Supported databases are registered in registry.go; sqlite is the default
// for development and tests.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/worklane/worklane/audit"
	"github.com/worklane/worklane/identity"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle for callers that need to compose
// additional migrations or queries.
func (r *Repository) DB() *gorm.DB { return r.db }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&identity.Account{},
		&identity.RecoveryCode{},
		&identity.TrustedDevice{},
		&auditRecord{},
	)
}

// ---- CredentialStore ----

func (r *Repository) CreateAccount(ctx context.Context, account *identity.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *Repository) FindAccountByIdentifier(ctx context.Context, identifier string) (*identity.Account, error) {
	var account identity.Account
	err := r.db.WithContext(ctx).
		Where("lower(email) = lower(?)", identifier).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *Repository) GetAccount(ctx context.Context, id string) (*identity.Account, error) {
	var account identity.Account
	if err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *Repository) SetMFAState(ctx context.Context, accountID string, status identity.MFAStatus, secret string) error {
	return r.db.WithContext(ctx).
		Model(&identity.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"mfa_status": status,
			"mfa_secret": secret,
		}).Error
}

// ---- RecoveryCodeStorage ----

// ReplaceRecoveryCodes swaps the account's full code list in one
// transaction; there is never a partial list.
func (r *Repository) ReplaceRecoveryCodes(ctx context.Context, accountID string, hashes []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).
			Delete(&identity.RecoveryCode{}).Error; err != nil {
			return err
		}
		for i, hash := range hashes {
			code := identity.RecoveryCode{
				ID:        uuid.New().String(),
				AccountID: accountID,
				Position:  i,
				Hash:      hash,
			}
			if err := tx.Create(&code).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) ListRecoveryCodes(ctx context.Context, accountID string) ([]identity.RecoveryCode, error) {
	var codes []identity.RecoveryCode
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("position").
		Find(&codes).Error
	return codes, err
}

func (r *Repository) DeleteRecoveryCode(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&identity.RecoveryCode{}, "id = ?", id).Error
}

// ---- TrustedDeviceStorage ----

func (r *Repository) CreateTrustedDevice(ctx context.Context, device *identity.TrustedDevice) error {
	return r.db.WithContext(ctx).Create(device).Error
}

func (r *Repository) GetTrustedDeviceByHash(ctx context.Context, accountID, tokenHash string) (*identity.TrustedDevice, error) {
	var device identity.TrustedDevice
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND token_hash = ?", accountID, tokenHash).
		First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *Repository) TouchTrustedDevice(ctx context.Context, id string, usedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&identity.TrustedDevice{}).
		Where("id = ?", id).
		Update("last_used_at", usedAt).Error
}

func (r *Repository) ListTrustedDevices(ctx context.Context, accountID string) ([]identity.TrustedDevice, error) {
	var devices []identity.TrustedDevice
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at").
		Find(&devices).Error
	return devices, err
}

func (r *Repository) DeleteTrustedDevice(ctx context.Context, accountID, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND id = ?", accountID, id).
		Delete(&identity.TrustedDevice{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) DeleteTrustedDevices(ctx context.Context, accountID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&identity.TrustedDevice{})
	return result.RowsAffected, result.Error
}

// ---- audit.Sink ----

// auditRecord is the table shape for audit events. Append-only: nothing in
// this package reads it back.
type auditRecord struct {
	ID        string    `gorm:"primaryKey"`
	Type      string    `gorm:"index"`
	ActorID   string    `gorm:"index"`
	Status    string
	Message   string
	IPAddress string
	UserAgent string
	DeviceID  string
	CreatedAt time.Time `gorm:"index"`
}

func (auditRecord) TableName() string { return "audit_events" }

func (r *Repository) SaveEvent(ctx context.Context, event *audit.Event) error {
	record := auditRecord{
		ID:        event.ID,
		Type:      event.Type,
		ActorID:   event.ActorID,
		Status:    event.Status,
		Message:   event.Message,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		DeviceID:  event.DeviceID,
		CreatedAt: event.CreatedAt,
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(&record).Error
}
