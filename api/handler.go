// Package api exposes the authentication subsystem over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/worklane/worklane/auth"
)

type Handler struct {
	svc *auth.Service
}

func NewHandler(svc *auth.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.Use(ClientMetaMiddleware)

	g.POST("/login", h.HandleLogin)
	g.POST("/mfa/verify", h.HandleMFAVerify)

	// Account-scoped routes require a full session token.
	protected := g.Group("")
	protected.Use(h.SessionMiddleware)
	protected.POST("/mfa/setup", h.HandleMFASetup)
	protected.POST("/mfa/confirm", h.HandleMFAConfirm)
	protected.POST("/mfa/disable", h.HandleMFADisable)
	protected.GET("/devices", h.HandleListDevices)
	protected.DELETE("/devices/:id", h.HandleRevokeDevice)
	protected.DELETE("/devices", h.HandleRevokeAllDevices)
}

func (h *Handler) HandleLogin(c echo.Context) error {
	var body struct {
		Identifier  string `json:"identifier"`
		Password    string `json:"password"`
		DeviceToken string `json:"device_token"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}

	result, err := h.svc.Login(c.Request().Context(), auth.LoginRequest{
		Identifier:  body.Identifier,
		Password:    body.Password,
		DeviceToken: body.DeviceToken,
		Client:      ClientMetaFromContext(c),
	})
	if err != nil {
		return h.authError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) HandleMFAVerify(c echo.Context) error {
	var body struct {
		PendingToken string `json:"pending_token"`
		Code         string `json:"code"`
		TrustDevice  bool   `json:"trust_device"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}

	result, err := h.svc.VerifyMFA(c.Request().Context(),
		body.PendingToken, body.Code, body.TrustDevice, ClientMetaFromContext(c))
	if err != nil {
		return h.authError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) HandleMFASetup(c echo.Context) error {
	result, err := h.svc.SetupMFA(c.Request().Context(), accountID(c))
	if err != nil {
		return h.authError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) HandleMFAConfirm(c echo.Context) error {
	var body struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}

	if err := h.svc.ConfirmMFASetup(c.Request().Context(), accountID(c), body.Code); err != nil {
		return h.authError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "enabled"})
}

func (h *Handler) HandleMFADisable(c echo.Context) error {
	var body struct {
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}

	if err := h.svc.DisableMFA(c.Request().Context(), accountID(c), body.Password, body.Code); err != nil {
		return h.authError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "disabled"})
}

func (h *Handler) HandleListDevices(c echo.Context) error {
	devices, err := h.svc.ListTrustedDevices(c.Request().Context(), accountID(c))
	if err != nil {
		return h.authError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"devices": devices})
}

func (h *Handler) HandleRevokeDevice(c echo.Context) error {
	if err := h.svc.RevokeTrustedDevice(c.Request().Context(), accountID(c), c.Param("id")); err != nil {
		return h.authError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "revoked"})
}

func (h *Handler) HandleRevokeAllDevices(c echo.Context) error {
	count, err := h.svc.RevokeAllTrustedDevices(c.Request().Context(), accountID(c))
	if err != nil {
		return h.authError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "revoked", "count": count})
}

// authError maps the subsystem's error taxonomy to HTTP responses. The
// bodies deliberately carry no more than the typed errors themselves reveal.
func (h *Handler) authError(c echo.Context, err error) error {
	var rateLimited *auth.RateLimitedError
	if errors.As(err, &rateLimited) {
		retryAfter := int(rateLimited.RetryAfter.Seconds())
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
		return c.JSON(http.StatusTooManyRequests, map[string]any{
			"status":      "rate_limited",
			"retry_after": retryAfter,
		})
	}

	var invalidCode *auth.InvalidCodeError
	if errors.As(err, &invalidCode) {
		return c.JSON(http.StatusUnauthorized, map[string]any{
			"status":        "invalid_code",
			"attempts_left": invalidCode.AttemptsLeft,
		})
	}

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return h.Error(c, http.StatusUnauthorized, "Invalid credentials", nil)
	case errors.Is(err, auth.ErrInvalidPendingToken):
		return h.Error(c, http.StatusUnauthorized, "Invalid pending token", nil)
	case errors.Is(err, auth.ErrInvalidCode):
		return h.Error(c, http.StatusUnauthorized, "Invalid verification code", nil)
	case errors.Is(err, auth.ErrMFANotConfigured):
		return h.Error(c, http.StatusConflict, "MFA not configured", nil)
	case errors.Is(err, auth.ErrMFAAlreadyEnabled):
		return h.Error(c, http.StatusConflict, "MFA already enabled", nil)
	case errors.Is(err, auth.ErrDeviceNotFound):
		return h.Error(c, http.StatusNotFound, "Device not found", nil)
	default:
		return h.Error(c, http.StatusInternalServerError, "Internal server error", nil)
	}
}

func (h *Handler) Error(c echo.Context, code int, message string, err error) error {
	resp := map[string]any{
		"status": message,
		"code":   code,
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	return c.JSON(code, resp)
}
