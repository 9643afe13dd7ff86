package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/worklane/worklane/auth"
)

const (
	clientMetaKey = "client_meta"
	accountIDKey  = "account_id"
)

// ClientMetaMiddleware extracts the caller's coarse network identity: the
// first X-Forwarded-For entry when present (the most specific identity a
// proxy chain gives us), otherwise the direct peer address.
func ClientMetaMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ip := c.RealIP()
		if fwd := c.Request().Header.Get(echo.HeaderXForwardedFor); fwd != "" {
			if first, _, ok := strings.Cut(fwd, ","); ok {
				ip = strings.TrimSpace(first)
			} else {
				ip = strings.TrimSpace(fwd)
			}
		}

		c.Set(clientMetaKey, auth.ClientMeta{
			IP:        ip,
			UserAgent: c.Request().UserAgent(),
		})
		return next(c)
	}
}

// ClientMetaFromContext returns the metadata stored by ClientMetaMiddleware.
func ClientMetaFromContext(c echo.Context) auth.ClientMeta {
	if meta, ok := c.Get(clientMetaKey).(auth.ClientMeta); ok {
		return meta
	}
	return auth.ClientMeta{IP: c.RealIP(), UserAgent: c.Request().UserAgent()}
}

// SessionMiddleware authenticates account-scoped routes with a full session
// token. Pending tokens are rejected here: they prove password success
// only, and grant nothing beyond the MFA-verify operation.
func (h *Handler) SessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			return h.Error(c, http.StatusUnauthorized, "Authorization header required", nil)
		}

		accountID, err := h.svc.Tokens().ParseSession(token)
		if err != nil {
			return h.Error(c, http.StatusUnauthorized, "Unauthorized", nil)
		}

		c.Set(accountIDKey, accountID)
		return next(c)
	}
}

func accountID(c echo.Context) string {
	id, _ := c.Get(accountIDKey).(string)
	return id
}
