// Package auth implements Worklane's authentication and multi-factor
// verification subsystem: password login, TOTP second factor, single-use
// recovery codes, time-bounded trusted-device bypass, and sliding-window
// attempt limiting with lockout.
package auth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/worklane/worklane/audit"
	"github.com/worklane/worklane/identity"
)

// CredentialStore is the persistence contract for account credentials.
// The store owns the records; the service mutates MFA state only through
// SetMFAState.
type CredentialStore interface {
	// FindAccountByIdentifier looks up an account by case-insensitive
	// email match. Returns (nil, nil) when no account matches.
	FindAccountByIdentifier(ctx context.Context, identifier string) (*identity.Account, error)

	GetAccount(ctx context.Context, id string) (*identity.Account, error)

	// SetMFAState atomically updates the account's MFA status and secret.
	SetMFAState(ctx context.Context, accountID string, status identity.MFAStatus, secret string) error
}

// ServiceConfig wires the service's collaborators. Zero-value optional
// fields get sane defaults.
type ServiceConfig struct {
	Accounts CredentialStore
	Limiter  Limiter
	TOTP     *TOTPManager
	Recovery *RecoveryCodeVault
	Devices  *DeviceManager
	Tokens   *TokenIssuer
	Audit    *audit.Recorder
	Hasher   Hasher
	Logger   *zap.Logger
	Clock    Clock

	// KeyFunc composes limiter keys; defaults to LimitKey.
	KeyFunc KeyFunc

	// IssuerLabel appears in authenticator apps.
	IssuerLabel string
}

// Service orchestrates the login and MFA flows over its collaborators.
type Service struct {
	accounts CredentialStore
	limiter  Limiter
	totp     *TOTPManager
	recovery *RecoveryCodeVault
	devices  *DeviceManager
	tokens   *TokenIssuer
	audit    *audit.Recorder
	hasher   Hasher
	log      *zap.Logger
	clock    Clock
	keyFunc  KeyFunc
	issuer   string
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = LimitKey
	}
	if cfg.Hasher == nil {
		cfg.Hasher = NewBcryptHasher(0)
	}
	if cfg.IssuerLabel == "" {
		cfg.IssuerLabel = "Worklane"
	}
	return &Service{
		accounts: cfg.Accounts,
		limiter:  cfg.Limiter,
		totp:     cfg.TOTP,
		recovery: cfg.Recovery,
		devices:  cfg.Devices,
		tokens:   cfg.Tokens,
		audit:    cfg.Audit,
		hasher:   cfg.Hasher,
		log:      cfg.Logger,
		clock:    cfg.Clock,
		keyFunc:  cfg.KeyFunc,
		issuer:   cfg.IssuerLabel,
	}
}

// Tokens exposes the token issuer for transport middleware.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// LoginRequest carries one password login attempt.
type LoginRequest struct {
	Identifier string
	Password   string

	// DeviceToken, when present and valid, skips the second factor for
	// MFA-enabled accounts. It never forgives a wrong password.
	DeviceToken string

	Client ClientMeta
}

// LoginResult is either a full session (MFARequired=false) or a pending
// token that must be completed through VerifyMFA.
type LoginResult struct {
	MFARequired  bool              `json:"mfa_required"`
	PendingToken string            `json:"pending_token,omitempty"`
	SessionToken string            `json:"session_token,omitempty"`
	Account      *identity.Account `json:"account,omitempty"`
}

// dummyHash absorbs a bcrypt comparison when the account does not exist, so
// the failure path costs the same either way.
const dummyHash = "$2a$14$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Login verifies the identifier/password pair. The limiter is consulted
// before the hash comparison; the outcome is recorded after. The failure
// error is identical for unknown accounts and wrong passwords.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	identifier := strings.TrimSpace(req.Identifier)

	account, err := s.accounts.FindAccountByIdentifier(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("auth: account lookup failed: %w", err)
	}

	// The limiter keys on the opaque account id once known, falling back
	// to the normalized identifier so unknown-account probing is capped
	// per target as well.
	accountKey := strings.ToLower(identifier)
	if account != nil {
		accountKey = account.ID
	}
	key := s.keyFunc(req.Client.IP, accountKey)

	allowed, retryAfter, err := s.limiter.Check(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("auth: limiter check failed: %w", err)
	}
	if !allowed {
		s.audit.Record(ctx, &audit.Event{
			Type:      audit.EventLoginBlocked,
			ActorID:   accountKey,
			Status:    "blocked",
			IPAddress: req.Client.IP,
			UserAgent: req.Client.UserAgent,
		})
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	if account == nil {
		s.hasher.Compare(req.Password, dummyHash)
		if _, err := s.limiter.Record(ctx, key, false); err != nil {
			s.log.Warn("limiter record failed", zap.Error(err))
		}
		s.auditLoginFailure(ctx, accountKey, req.Client)
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Compare(req.Password, account.Password) {
		if _, err := s.limiter.Record(ctx, key, false); err != nil {
			s.log.Warn("limiter record failed", zap.Error(err))
		}
		s.auditLoginFailure(ctx, account.ID, req.Client)
		return nil, ErrInvalidCredentials
	}

	if _, err := s.limiter.Record(ctx, key, true); err != nil {
		s.log.Warn("limiter record failed", zap.Error(err))
	}

	if !account.MFARequired() {
		return s.grantSession(ctx, account, req.Client, audit.EventLoginSuccess, "")
	}

	// Trusted-device bypass: second factor only, and only after the
	// password already checked out.
	if req.DeviceToken != "" {
		trusted, err := s.devices.Check(ctx, account.ID, req.DeviceToken)
		if err != nil {
			return nil, fmt.Errorf("auth: device check failed: %w", err)
		}
		if trusted {
			return s.grantSession(ctx, account, req.Client, audit.EventDeviceBypass, "")
		}
	}

	pending, err := s.tokens.IssuePending(account.ID)
	if err != nil {
		return nil, fmt.Errorf("auth: pending token issuance failed: %w", err)
	}
	s.audit.Record(ctx, &audit.Event{
		Type:      audit.EventMFAChallenge,
		ActorID:   account.ID,
		Status:    "success",
		IPAddress: req.Client.IP,
		UserAgent: req.Client.UserAgent,
	})
	return &LoginResult{MFARequired: true, PendingToken: pending}, nil
}

func (s *Service) grantSession(ctx context.Context, account *identity.Account, client ClientMeta, eventType, deviceID string) (*LoginResult, error) {
	session, err := s.tokens.IssueSession(account.ID)
	if err != nil {
		return nil, fmt.Errorf("auth: session issuance failed: %w", err)
	}
	s.audit.Record(ctx, &audit.Event{
		Type:      eventType,
		ActorID:   account.ID,
		Status:    "success",
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		DeviceID:  deviceID,
	})
	return &LoginResult{SessionToken: session, Account: account}, nil
}

func (s *Service) auditLoginFailure(ctx context.Context, actorID string, client ClientMeta) {
	s.audit.Record(ctx, &audit.Event{
		Type:      audit.EventLoginFailure,
		ActorID:   actorID,
		Status:    "failure",
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
	})
}

// MFASetupResult is returned to the user exactly once: the secret and the
// plaintext recovery codes are not retrievable afterwards.
type MFASetupResult struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	RecoveryCodes   []string `json:"recovery_codes"`
}

// SetupMFA stores a fresh secret with status PendingConfirmation and issues
// a new set of recovery codes. Enabling only happens in ConfirmMFASetup,
// so a secret that never made it into an authenticator app cannot lock the
// user out. Calling again before confirming replaces the pending secret.
func (s *Service) SetupMFA(ctx context.Context, accountID string) (*MFASetupResult, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("auth: account lookup failed: %w", err)
	}
	if account.MFAStatus == identity.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, err := s.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := s.accounts.SetMFAState(ctx, account.ID, identity.MFAPendingConfirmation, secret); err != nil {
		return nil, fmt.Errorf("auth: storing mfa secret failed: %w", err)
	}

	codes, err := s.recovery.Generate(DefaultRecoveryCodeCount)
	if err != nil {
		return nil, err
	}
	if err := s.recovery.Persist(ctx, account.ID, codes); err != nil {
		return nil, fmt.Errorf("auth: storing recovery codes failed: %w", err)
	}

	return &MFASetupResult{
		Secret:          secret,
		ProvisioningURI: s.totp.ProvisioningURI(secret, account.Email, s.issuer),
		RecoveryCodes:   codes,
	}, nil
}

// ConfirmMFASetup proves the user's authenticator produces codes for the
// pending secret and flips MFA on.
func (s *Service) ConfirmMFASetup(ctx context.Context, accountID, code string) error {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("auth: account lookup failed: %w", err)
	}
	switch account.MFAStatus {
	case identity.MFAEnabled:
		return ErrMFAAlreadyEnabled
	case identity.MFAUnconfigured:
		return ErrMFANotConfigured
	}

	if !s.totp.Verify(code, account.MFASecret) {
		return ErrInvalidCode
	}

	if err := s.accounts.SetMFAState(ctx, account.ID, identity.MFAEnabled, account.MFASecret); err != nil {
		return fmt.Errorf("auth: enabling mfa failed: %w", err)
	}
	s.audit.Record(ctx, &audit.Event{
		Type:    audit.EventMFAEnabled,
		ActorID: account.ID,
		Status:  "success",
	})
	return nil
}

// MFAVerifyResult is the outcome of a successful second-factor check.
type MFAVerifyResult struct {
	SessionToken string `json:"session_token"`

	// DeviceToken is set when the caller asked to trust this device.
	DeviceToken string `json:"device_token,omitempty"`
}

// VerifyMFA completes a pending login with a TOTP or recovery code. The
// limiter is consulted before any code is derived; the pending token is
// consumed only on success, so failed attempts may retry until lockout or
// token expiry.
func (s *Service) VerifyMFA(ctx context.Context, pendingToken, code string, trustDevice bool, client ClientMeta) (*MFAVerifyResult, error) {
	pending, err := s.tokens.ParsePending(pendingToken)
	if err != nil {
		return nil, ErrInvalidPendingToken
	}

	account, err := s.accounts.GetAccount(ctx, pending.AccountID)
	if err != nil {
		return nil, fmt.Errorf("auth: account lookup failed: %w", err)
	}
	if account.MFAStatus != identity.MFAEnabled {
		return nil, ErrMFANotConfigured
	}

	key := s.keyFunc(client.IP, account.ID)
	allowed, retryAfter, err := s.limiter.Check(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("auth: limiter check failed: %w", err)
	}
	if !allowed {
		s.audit.Record(ctx, &audit.Event{
			Type:      audit.EventLoginBlocked,
			ActorID:   account.ID,
			Status:    "blocked",
			IPAddress: client.IP,
			UserAgent: client.UserAgent,
		})
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	ok := s.totp.Verify(code, account.MFASecret)
	if !ok {
		ok, err = s.recovery.Consume(ctx, account.ID, code)
		if err != nil {
			return nil, fmt.Errorf("auth: recovery code check failed: %w", err)
		}
	}

	attemptsLeft, err := s.limiter.Record(ctx, key, ok)
	if err != nil {
		s.log.Warn("limiter record failed", zap.Error(err))
	}

	if !ok {
		s.audit.Record(ctx, &audit.Event{
			Type:      audit.EventMFAFailure,
			ActorID:   account.ID,
			Status:    "failure",
			IPAddress: client.IP,
			UserAgent: client.UserAgent,
		})
		return nil, &InvalidCodeError{AttemptsLeft: attemptsLeft}
	}

	if err := s.tokens.ConsumePending(pending); err != nil {
		// Lost the race against a concurrent verify with the same token.
		return nil, ErrInvalidPendingToken
	}

	session, err := s.tokens.IssueSession(account.ID)
	if err != nil {
		return nil, fmt.Errorf("auth: session issuance failed: %w", err)
	}

	result := &MFAVerifyResult{SessionToken: session}
	var deviceID string
	if trustDevice {
		token, device, err := s.devices.Issue(ctx, account.ID, "", client)
		if err != nil {
			return nil, fmt.Errorf("auth: device issuance failed: %w", err)
		}
		result.DeviceToken = token
		deviceID = device.ID
		s.audit.Record(ctx, &audit.Event{
			Type:      audit.EventDeviceTrusted,
			ActorID:   account.ID,
			Status:    "success",
			IPAddress: client.IP,
			UserAgent: client.UserAgent,
			DeviceID:  deviceID,
		})
	}

	s.audit.Record(ctx, &audit.Event{
		Type:      audit.EventMFASuccess,
		ActorID:   account.ID,
		Status:    "success",
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		DeviceID:  deviceID,
	})
	return result, nil
}

// DisableMFA turns the second factor off. It requires the password and a
// current code, clears the secret and all recovery codes, and revokes every
// trusted device so no bypass outlives the factor it bypasses.
func (s *Service) DisableMFA(ctx context.Context, accountID, password, code string) error {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("auth: account lookup failed: %w", err)
	}
	if account.MFAStatus != identity.MFAEnabled {
		return ErrMFANotConfigured
	}

	if !s.hasher.Compare(password, account.Password) {
		return ErrInvalidCredentials
	}

	ok := s.totp.Verify(code, account.MFASecret)
	if !ok {
		ok, err = s.recovery.Consume(ctx, account.ID, code)
		if err != nil {
			return fmt.Errorf("auth: recovery code check failed: %w", err)
		}
	}
	if !ok {
		return ErrInvalidCode
	}

	if err := s.accounts.SetMFAState(ctx, account.ID, identity.MFAUnconfigured, ""); err != nil {
		return fmt.Errorf("auth: disabling mfa failed: %w", err)
	}
	if err := s.recovery.Clear(ctx, account.ID); err != nil {
		return fmt.Errorf("auth: clearing recovery codes failed: %w", err)
	}
	if _, err := s.devices.RevokeAll(ctx, account.ID); err != nil {
		return fmt.Errorf("auth: revoking devices failed: %w", err)
	}

	s.audit.Record(ctx, &audit.Event{
		Type:    audit.EventMFADisabled,
		ActorID: account.ID,
		Status:  "success",
	})
	return nil
}

// ListTrustedDevices returns the account's trusted devices.
func (s *Service) ListTrustedDevices(ctx context.Context, accountID string) ([]identity.TrustedDevice, error) {
	return s.devices.List(ctx, accountID)
}

// RevokeTrustedDevice removes one trusted device.
func (s *Service) RevokeTrustedDevice(ctx context.Context, accountID, deviceID string) error {
	if err := s.devices.Revoke(ctx, accountID, deviceID); err != nil {
		return err
	}
	s.audit.Record(ctx, &audit.Event{
		Type:     audit.EventDeviceRevoked,
		ActorID:  accountID,
		Status:   "success",
		DeviceID: deviceID,
	})
	return nil
}

// RevokeAllTrustedDevices removes every trusted device for the account and
// returns how many were removed.
func (s *Service) RevokeAllTrustedDevices(ctx context.Context, accountID string) (int64, error) {
	count, err := s.devices.RevokeAll(ctx, accountID)
	if err != nil {
		return 0, err
	}
	s.audit.Record(ctx, &audit.Event{
		Type:    audit.EventDeviceRevoked,
		ActorID: accountID,
		Status:  "success",
	})
	return count, nil
}
