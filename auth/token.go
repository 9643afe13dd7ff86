package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token audiences. A pending token proves password success only and is
// scoped to the MFA-verify operation; a session token grants access. The
// audience claim keeps the two strictly apart: each parser accepts exactly
// one audience, so neither kind is ever accepted in the other's place.
const (
	TokenAudiencePending = "auth:pending"
	TokenAudienceSession = "auth:session"

	DefaultPendingTTL = 5 * time.Minute
	DefaultSessionTTL = 7 * 24 * time.Hour
)

// PendingToken is a parsed, not-yet-consumed pending-MFA token.
type PendingToken struct {
	AccountID string
	ID        string
	ExpiresAt time.Time
}

// TokenIssuer mints and validates the subsystem's JWTs. Consumed pending
// token IDs are tracked in memory so each pending token completes MFA at
// most once; the set self-prunes as entries expire.
type TokenIssuer struct {
	secret     []byte
	pendingTTL time.Duration
	sessionTTL time.Duration
	clock      Clock

	mu          sync.Mutex
	usedPending map[string]time.Time // jti -> token expiry
}

func NewTokenIssuer(secret []byte, clock Clock) *TokenIssuer {
	if clock == nil {
		clock = SystemClock()
	}
	return &TokenIssuer{
		secret:      secret,
		pendingTTL:  DefaultPendingTTL,
		sessionTTL:  DefaultSessionTTL,
		clock:       clock,
		usedPending: make(map[string]time.Time),
	}
}

// IssuePending mints a short-lived token carrying the pending-MFA audience.
func (i *TokenIssuer) IssuePending(accountID string) (string, error) {
	return i.sign(accountID, TokenAudiencePending, i.pendingTTL)
}

// IssueSession mints a full session token.
func (i *TokenIssuer) IssueSession(accountID string) (string, error) {
	return i.sign(accountID, TokenAudienceSession, i.sessionTTL)
}

func (i *TokenIssuer) sign(accountID, audience string, ttl time.Duration) (string, error) {
	now := i.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        uuid.New().String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("token: signing failed: %w", err)
	}
	return signed, nil
}

func (i *TokenIssuer) parse(tokenString, audience string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method %q", token.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidPendingToken
	}
	return claims, nil
}

// ParsePending validates a pending-MFA token: signature, expiry, audience,
// and that it has not already been consumed.
func (i *TokenIssuer) ParsePending(tokenString string) (*PendingToken, error) {
	claims, err := i.parse(tokenString, TokenAudiencePending)
	if err != nil {
		return nil, ErrInvalidPendingToken
	}

	i.mu.Lock()
	_, used := i.usedPending[claims.ID]
	i.mu.Unlock()
	if used {
		return nil, ErrInvalidPendingToken
	}

	return &PendingToken{
		AccountID: claims.Subject,
		ID:        claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ConsumePending marks the token used. The first caller wins; any later
// attempt to consume or re-parse the same token fails.
func (i *TokenIssuer) ConsumePending(p *PendingToken) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.clock.Now()
	for jti, exp := range i.usedPending {
		if now.After(exp) {
			delete(i.usedPending, jti)
		}
	}

	if _, used := i.usedPending[p.ID]; used {
		return ErrInvalidPendingToken
	}
	i.usedPending[p.ID] = p.ExpiresAt
	return nil
}

// ParseSession validates a session token and returns the account id.
func (i *TokenIssuer) ParseSession(tokenString string) (string, error) {
	claims, err := i.parse(tokenString, TokenAudienceSession)
	if err != nil {
		return "", fmt.Errorf("token: invalid session token")
	}
	return claims.Subject, nil
}
