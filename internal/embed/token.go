// Package embed issues and verifies short-lived signed tokens that gate
// dashboard embedding in third-party pages.
package embed

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MinKeyLen is the minimum signing key length in bytes.
const MinKeyLen = 32

// DefaultTTL is the token lifetime when the caller does not request one.
const DefaultTTL = 60 * time.Second

var (
	ErrMalformedToken    = errors.New("malformed embed token")
	ErrBadSignature      = errors.New("embed token signature mismatch")
	ErrTokenExpired      = errors.New("embed token expired")
	ErrOriginNotAllowed  = errors.New("origin not allowed by embed token")
	ErrDashboardMismatch = errors.New("embed token issued for another dashboard")
)

// Claims is the signed payload of an embed token. Timestamps are unix
// seconds.
type Claims struct {
	DashboardID    string   `json:"dashboardId"`
	UserID         string   `json:"userId,omitempty"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
	IssuedAt       int64    `json:"iat"`
	ExpiresAt      int64    `json:"exp"`
}

// Token is an issued token plus its expiry for the caller's scheduling.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issuer signs and verifies embed tokens with a shared HMAC-SHA256 key.
// The wire format is base64url(JSON claims) + "." + hex(signature), with
// the signature computed over the raw claim bytes.
type Issuer struct {
	key        []byte
	defaultTTL time.Duration

	now func() time.Time // test hook
}

// NewIssuer creates an Issuer. signingKey must be at least MinKeyLen bytes;
// a short key is a configuration error, not something to limp along with.
func NewIssuer(signingKey string, defaultTTL time.Duration) (*Issuer, error) {
	if len(signingKey) < MinKeyLen {
		return nil, fmt.Errorf("embed signing key is %d bytes, need at least %d", len(signingKey), MinKeyLen)
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Issuer{
		key:        []byte(signingKey),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}, nil
}

// Issue signs a token for one dashboard. At least one allowed origin is
// required: a token with no origin restriction could be replayed from
// anywhere within its TTL. ttl <= 0 uses the issuer default.
func (i *Issuer) Issue(dashboardID, userID string, allowedOrigins []string, ttl time.Duration) (Token, error) {
	if dashboardID == "" {
		return Token{}, errors.New("dashboard id is required")
	}
	if len(allowedOrigins) == 0 {
		return Token{}, errors.New("at least one allowed origin is required")
	}
	if ttl <= 0 {
		ttl = i.defaultTTL
	}

	now := i.now()
	exp := now.Add(ttl)
	claims := Claims{
		DashboardID:    dashboardID,
		UserID:         userID,
		AllowedOrigins: allowedOrigins,
		IssuedAt:       now.Unix(),
		ExpiresAt:      exp.Unix(),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return Token{}, fmt.Errorf("marshal claims: %w", err)
	}

	return Token{
		Token:     base64.RawURLEncoding.EncodeToString(payload) + "." + i.sign(payload),
		ExpiresAt: exp,
	}, nil
}

// Verify checks the token's signature and expiry. If origin is non-empty it
// must appear in the token's allowed origins; if dashboardID is non-empty
// the token must have been issued for it. Returns the claims on success.
func (i *Issuer) Verify(token, dashboardID, origin string) (Claims, error) {
	payloadPart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return Claims{}, ErrMalformedToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return Claims{}, ErrMalformedToken
	}
	if !hmac.Equal([]byte(sigPart), []byte(i.sign(payload))) {
		return Claims{}, ErrBadSignature
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrMalformedToken
	}

	if claims.ExpiresAt == 0 || i.now().Unix() > claims.ExpiresAt {
		return Claims{}, ErrTokenExpired
	}
	if dashboardID != "" && claims.DashboardID != dashboardID {
		return Claims{}, ErrDashboardMismatch
	}
	if origin != "" && !originAllowed(origin, claims.AllowedOrigins) {
		return Claims{}, ErrOriginNotAllowed
	}
	return claims, nil
}

func (i *Issuer) sign(payload []byte) string {
	mac := hmac.New(sha256.New, i.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == origin {
			return true
		}
	}
	return false
}
