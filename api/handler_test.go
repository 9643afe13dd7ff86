package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/worklane/worklane/audit"
	"github.com/worklane/worklane/auth"
	"github.com/worklane/worklane/identity"
	"github.com/worklane/worklane/persistence"
)

func newTestServer(t *testing.T) (*echo.Echo, *persistence.Repository) {
	t.Helper()

	repo, err := persistence.Open("sqlite", filepath.Join(t.TempDir(), "worklane_test.db"), nil)
	if err != nil {
		t.Fatalf("failed to setup repo: %v", err)
	}

	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	clock := auth.SystemClock()
	limiter := auth.NewMemoryLimiter(auth.DefaultLimiterConfig(), clock)
	t.Cleanup(limiter.Close)

	svc := auth.NewService(auth.ServiceConfig{
		Accounts: repo,
		Limiter:  limiter,
		TOTP:     auth.NewTOTPManager(clock),
		Recovery: auth.NewRecoveryCodeVault(repo, hasher),
		Devices:  auth.NewDeviceManager(repo, clock),
		Tokens:   auth.NewTokenIssuer([]byte("test-signing-secret"), clock),
		Audit:    audit.NewRecorder(repo, nil),
		Hasher:   hasher,
		Clock:    clock,
	})

	e := echo.New()
	h := NewHandler(svc)
	h.RegisterRoutes(e.Group("/api/v1"))
	return e, repo
}

func seedAccount(t *testing.T, repo *persistence.Repository, email, password string) *identity.Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing failed: %v", err)
	}
	account := &identity.Account{
		TenantID:  "tenant-1",
		Email:     email,
		Password:  string(hash),
		MFAStatus: identity.MFAUnconfigured,
	}
	if err := repo.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	return account
}

func doJSON(t *testing.T, e *echo.Echo, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func currentTOTP(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period: 30, Skew: 1, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("failed to derive code: %v", err)
	}
	return code
}

func TestAPIIntegration(t *testing.T) {
	e, repo := newTestServer(t)
	seedAccount(t, repo, "user@example.com", "password123")

	// 1. Login without MFA yields a session directly.
	rec := doJSON(t, e, http.MethodPost, "/api/v1/login", "", map[string]string{
		"identifier": "user@example.com",
		"password":   "password123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed with code %d: %s", rec.Code, rec.Body.String())
	}
	session, _ := decodeBody(t, rec)["session_token"].(string)
	if session == "" {
		t.Fatal("expected a session token")
	}

	// 2. Begin MFA setup with the session.
	rec = doJSON(t, e, http.MethodPost, "/api/v1/mfa/setup", session, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("setup failed with code %d: %s", rec.Code, rec.Body.String())
	}
	setup := decodeBody(t, rec)
	secret, _ := setup["secret"].(string)
	if secret == "" || setup["provisioning_uri"] == "" {
		t.Fatal("setup must return secret and provisioning URI")
	}
	recovery, _ := setup["recovery_codes"].([]any)
	if len(recovery) != auth.DefaultRecoveryCodeCount {
		t.Fatalf("recovery codes = %d, want %d", len(recovery), auth.DefaultRecoveryCodeCount)
	}

	// 3. Confirm setup with a code from the new secret.
	rec = doJSON(t, e, http.MethodPost, "/api/v1/mfa/confirm", session, map[string]string{
		"code": currentTOTP(t, secret),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm failed with code %d: %s", rec.Code, rec.Body.String())
	}

	// 4. The next login requires the second factor.
	rec = doJSON(t, e, http.MethodPost, "/api/v1/login", "", map[string]string{
		"identifier": "user@example.com",
		"password":   "password123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed with code %d: %s", rec.Code, rec.Body.String())
	}
	loginBody := decodeBody(t, rec)
	if loginBody["mfa_required"] != true {
		t.Fatalf("expected mfa_required, got %s", rec.Body.String())
	}
	pending, _ := loginBody["pending_token"].(string)
	if pending == "" {
		t.Fatal("expected a pending token")
	}
	if loginBody["session_token"] != nil {
		t.Error("pending login must not include a session token")
	}

	// 5. The pending token is not accepted on protected routes.
	rec = doJSON(t, e, http.MethodGet, "/api/v1/devices", pending, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("pending token on protected route: code %d, want 401", rec.Code)
	}

	// 6. Verify the code and trust this device.
	rec = doJSON(t, e, http.MethodPost, "/api/v1/mfa/verify", "", map[string]any{
		"pending_token": pending,
		"code":          currentTOTP(t, secret),
		"trust_device":  true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify failed with code %d: %s", rec.Code, rec.Body.String())
	}
	verifyBody := decodeBody(t, rec)
	session, _ = verifyBody["session_token"].(string)
	deviceToken, _ := verifyBody["device_token"].(string)
	if session == "" || deviceToken == "" {
		t.Fatalf("expected session and device tokens, got %s", rec.Body.String())
	}

	// 7. The trusted device appears in the listing.
	rec = doJSON(t, e, http.MethodGet, "/api/v1/devices", session, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed with code %d: %s", rec.Code, rec.Body.String())
	}
	devices, _ := decodeBody(t, rec)["devices"].([]any)
	if len(devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(devices))
	}

	// 8. Login with the device token skips the second factor.
	rec = doJSON(t, e, http.MethodPost, "/api/v1/login", "", map[string]string{
		"identifier":   "user@example.com",
		"password":     "password123",
		"device_token": deviceToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("bypass login failed with code %d: %s", rec.Code, rec.Body.String())
	}
	bypassBody := decodeBody(t, rec)
	if bypassBody["mfa_required"] == true || bypassBody["session_token"] == nil {
		t.Fatalf("expected direct session, got %s", rec.Body.String())
	}

	// 9. Revoke all devices; the bypass stops working.
	rec = doJSON(t, e, http.MethodDelete, "/api/v1/devices", session, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke all failed with code %d: %s", rec.Code, rec.Body.String())
	}
	if count, _ := decodeBody(t, rec)["count"].(float64); count != 1 {
		t.Errorf("revoked count = %v, want 1", count)
	}

	rec = doJSON(t, e, http.MethodPost, "/api/v1/login", "", map[string]string{
		"identifier":   "user@example.com",
		"password":     "password123",
		"device_token": deviceToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed with code %d: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["mfa_required"] != true {
		t.Error("revoked device token should fall back to the MFA challenge")
	}
}

func TestAPILoginFailures(t *testing.T) {
	e, repo := newTestServer(t)
	seedAccount(t, repo, "user@example.com", "password123")

	// Wrong password and unknown account return the same status.
	for _, identifier := range []string{"user@example.com", "nobody@example.com"} {
		rec := doJSON(t, e, http.MethodPost, "/api/v1/login", "", map[string]string{
			"identifier": identifier,
			"password":   "wrong",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("login %q: code %d, want 401", identifier, rec.Code)
		}
	}
}

func TestAPIRateLimiting(t *testing.T) {
	e, repo := newTestServer(t)
	seedAccount(t, repo, "locked@example.com", "password123")

	for i := 0; i < 5; i++ {
		rec := doJSON(t, e, http.MethodPost, "/api/v1/login", "", map[string]string{
			"identifier": "locked@example.com",
			"password":   "wrong",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: code %d, want 401", i+1, rec.Code)
		}
	}

	rec := doJSON(t, e, http.MethodPost, "/api/v1/login", "", map[string]string{
		"identifier": "locked@example.com",
		"password":   "password123",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("locked login: code %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response must carry a Retry-After header")
	}
	if retry, _ := decodeBody(t, rec)["retry_after"].(float64); retry <= 0 {
		t.Errorf("retry_after = %v, want positive", retry)
	}
}

func TestAPIProtectedRoutesRequireSession(t *testing.T) {
	e, _ := newTestServer(t)

	for _, route := range []struct {
		method, path string
	}{
		{http.MethodPost, "/api/v1/mfa/setup"},
		{http.MethodPost, "/api/v1/mfa/confirm"},
		{http.MethodPost, "/api/v1/mfa/disable"},
		{http.MethodGet, "/api/v1/devices"},
		{http.MethodDelete, "/api/v1/devices/some-id"},
		{http.MethodDelete, "/api/v1/devices"},
	} {
		rec := doJSON(t, e, route.method, route.path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: code %d, want 401", route.method, route.path, rec.Code)
		}
		rec = doJSON(t, e, route.method, route.path, "not-a-token", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s with bad token: code %d, want 401", route.method, route.path, rec.Code)
		}
	}
}

func TestAPIRevokeUnknownDevice(t *testing.T) {
	e, repo := newTestServer(t)
	seedAccount(t, repo, "user@example.com", "password123")

	rec := doJSON(t, e, http.MethodPost, "/api/v1/login", "", map[string]string{
		"identifier": "user@example.com",
		"password":   "password123",
	})
	session, _ := decodeBody(t, rec)["session_token"].(string)

	rec = doJSON(t, e, http.MethodDelete, "/api/v1/devices/no-such-device", session, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown device: code %d, want 404", rec.Code)
	}
}

func TestAPISetupConflictsWhenEnabled(t *testing.T) {
	e, repo := newTestServer(t)
	seedAccount(t, repo, "user@example.com", "password123")

	rec := doJSON(t, e, http.MethodPost, "/api/v1/login", "", map[string]string{
		"identifier": "user@example.com",
		"password":   "password123",
	})
	session, _ := decodeBody(t, rec)["session_token"].(string)

	rec = doJSON(t, e, http.MethodPost, "/api/v1/mfa/setup", session, nil)
	secret, _ := decodeBody(t, rec)["secret"].(string)
	doJSON(t, e, http.MethodPost, "/api/v1/mfa/confirm", session, map[string]string{
		"code": currentTOTP(t, secret),
	})

	rec = doJSON(t, e, http.MethodPost, "/api/v1/mfa/setup", session, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("setup while enabled: code %d, want 409", rec.Code)
	}
}
