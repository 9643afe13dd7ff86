package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/worklane/worklane/identity"
)

const (
	// TrustedDeviceTTL is the fixed trust lifetime. It is set once at
	// issuance and never extended by use: trust is bounded, not renewed.
	TrustedDeviceTTL = 30 * 24 * time.Hour

	deviceTokenBytes = 32 // 256 bits of randomness
)

// TrustedDeviceStorage persists trusted-device records.
type TrustedDeviceStorage interface {
	CreateTrustedDevice(ctx context.Context, device *identity.TrustedDevice) error
	GetTrustedDeviceByHash(ctx context.Context, accountID, tokenHash string) (*identity.TrustedDevice, error)
	TouchTrustedDevice(ctx context.Context, id string, usedAt time.Time) error
	ListTrustedDevices(ctx context.Context, accountID string) ([]identity.TrustedDevice, error)
	DeleteTrustedDevice(ctx context.Context, accountID, id string) (bool, error)
	DeleteTrustedDevices(ctx context.Context, accountID string) (int64, error)
}

// DeviceManager issues and validates device-trust tokens. A valid token is
// an MFA bypass, never a password bypass; only the raw token authenticates,
// metadata is descriptive.
type DeviceManager struct {
	store TrustedDeviceStorage
	clock Clock
	ttl   time.Duration
}

func NewDeviceManager(store TrustedDeviceStorage, clock Clock) *DeviceManager {
	if clock == nil {
		clock = SystemClock()
	}
	return &DeviceManager{store: store, clock: clock, ttl: TrustedDeviceTTL}
}

// Issue mints a new trust token, persists its hash with descriptive
// metadata, and returns the raw token. The token does not survive this call
// anywhere else.
func (m *DeviceManager) Issue(ctx context.Context, accountID, deviceName string, meta ClientMeta) (string, *identity.TrustedDevice, error) {
	buf := make([]byte, deviceTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("device: token generation failed: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	now := m.clock.Now()
	if deviceName == "" {
		deviceName = BrowserLabel(meta.UserAgent) + " on " + OSLabel(meta.UserAgent)
	}
	device := &identity.TrustedDevice{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		TokenHash:  hashDeviceToken(token),
		DeviceName: deviceName,
		Browser:    BrowserLabel(meta.UserAgent),
		OS:         OSLabel(meta.UserAgent),
		OriginIP:   meta.IP,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}

	if err := m.store.CreateTrustedDevice(ctx, device); err != nil {
		return "", nil, err
	}
	return token, device, nil
}

// Check reports whether the token identifies a live trusted device for the
// account. Valid strictly before ExpiresAt; a successful check updates
// LastUsedAt but never ExpiresAt.
func (m *DeviceManager) Check(ctx context.Context, accountID, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	device, err := m.store.GetTrustedDeviceByHash(ctx, accountID, hashDeviceToken(token))
	if err != nil {
		return false, err
	}
	if device == nil {
		return false, nil
	}

	now := m.clock.Now()
	if !now.Before(device.ExpiresAt) {
		return false, nil
	}

	if err := m.store.TouchTrustedDevice(ctx, device.ID, now); err != nil {
		return false, err
	}
	return true, nil
}

// List returns the account's trusted devices, expired ones included so the
// user can see and clean up stale entries.
func (m *DeviceManager) List(ctx context.Context, accountID string) ([]identity.TrustedDevice, error) {
	return m.store.ListTrustedDevices(ctx, accountID)
}

// Revoke removes a single device. Immediate and unconditional.
func (m *DeviceManager) Revoke(ctx context.Context, accountID, deviceID string) error {
	found, err := m.store.DeleteTrustedDevice(ctx, accountID, deviceID)
	if err != nil {
		return err
	}
	if !found {
		return ErrDeviceNotFound
	}
	return nil
}

// RevokeAll removes every device for the account and returns the count.
func (m *DeviceManager) RevokeAll(ctx context.Context, accountID string) (int64, error) {
	return m.store.DeleteTrustedDevices(ctx, accountID)
}

func hashDeviceToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
