package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/amberdash/ingestd/internal/embed"
	"github.com/amberdash/ingestd/internal/metrics"
	"github.com/amberdash/ingestd/internal/ratelimit"
)

// --- Huma Input/Output types ---

type IssueTokenBody struct {
	DashboardID    string   `json:"dashboard_id" doc:"Dashboard to embed" required:"true" minLength:"1"`
	UserID         string   `json:"user_id,omitempty" doc:"Requesting user, for audit logs" required:"false"`
	AllowedOrigins []string `json:"allowed_origins" doc:"Origins permitted to embed" required:"true" minItems:"1"`
	TTLSeconds     int      `json:"ttl_seconds,omitempty" doc:"Token lifetime in seconds" required:"false" minimum:"1" maximum:"3600"`
}

type IssueTokenInput struct {
	APIKey string `header:"X-API-Key" doc:"Caller API key" required:"false"`
	Body   IssueTokenBody
}

type TokenResponse struct {
	Token     string    `json:"token" doc:"Signed embed token"`
	ExpiresAt time.Time `json:"expiresAt" doc:"Expiry timestamp"`
}

type IssueTokenOutput struct {
	Body TokenResponse
}

type VerifyTokenBody struct {
	Token       string `json:"token" doc:"Token to verify" required:"true" minLength:"1"`
	DashboardID string `json:"dashboard_id,omitempty" doc:"Expected dashboard" required:"false"`
	Origin      string `json:"origin,omitempty" doc:"Origin attempting to embed" required:"false"`
}

type VerifyTokenInput struct {
	Body VerifyTokenBody
}

type VerifyTokenOutput struct {
	Body struct {
		Valid  bool         `json:"valid" doc:"Whether the token is valid"`
		Claims embed.Claims `json:"claims" doc:"Decoded token claims"`
	}
}

// --- Handler ---

// EmbedHandler issues and verifies dashboard embed tokens. Issuance is
// gated by API key (when keys are configured) and a per-caller rate limit
// keyed by API key, falling back to the client address.
type EmbedHandler struct {
	issuer  *embed.Issuer
	limiter *ratelimit.Limiter
	apiKeys map[string]struct{}
	logger  *slog.Logger
}

func NewEmbedHandler(issuer *embed.Issuer, limiter *ratelimit.Limiter, apiKeys []string, logger *slog.Logger) *EmbedHandler {
	keys := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		keys[k] = struct{}{}
	}
	return &EmbedHandler{issuer: issuer, limiter: limiter, apiKeys: keys, logger: logger}
}

func registerEmbedRoutes(api huma.API, h *EmbedHandler) {
	huma.Register(api, huma.Operation{
		OperationID:   "issue-embed-token",
		Method:        http.MethodPost,
		Path:          "/v1/embed-tokens",
		Summary:       "Issue a short-lived embed token",
		Tags:          []string{"embed"},
		DefaultStatus: http.StatusCreated,
	}, h.IssueToken)

	huma.Register(api, huma.Operation{
		OperationID: "verify-embed-token",
		Method:      http.MethodPost,
		Path:        "/v1/embed-tokens/verify",
		Summary:     "Verify an embed token",
		Tags:        []string{"embed"},
	}, h.VerifyToken)
}

func (h *EmbedHandler) IssueToken(ctx context.Context, input *IssueTokenInput) (*IssueTokenOutput, error) {
	if len(h.apiKeys) > 0 {
		if _, ok := h.apiKeys[input.APIKey]; !ok {
			metrics.EmbedTokenFailed.WithLabelValues("unauthorized").Inc()
			return nil, huma.Error401Unauthorized("missing or unknown API key")
		}
	}

	// Authenticated callers get one bucket per key; everyone else is
	// limited by client address.
	rateKey := input.APIKey
	if rateKey == "" {
		rateKey = clientIP(ctx)
	}
	if rateKey == "" {
		rateKey = "anonymous"
	}
	if ok, retryAfter := h.limiter.Allow(rateKey); !ok {
		metrics.EmbedTokenFailed.WithLabelValues("rate_limited").Inc()
		return nil, huma.Error429TooManyRequests(
			fmt.Sprintf("rate limit exceeded, retry in %ds", int(retryAfter.Seconds())))
	}

	ttl := time.Duration(input.Body.TTLSeconds) * time.Second
	tok, err := h.issuer.Issue(input.Body.DashboardID, input.Body.UserID, input.Body.AllowedOrigins, ttl)
	if err != nil {
		metrics.EmbedTokenFailed.WithLabelValues("invalid_request").Inc()
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	metrics.EmbedTokenRequested.Inc()
	h.logger.Info("embed token issued",
		"dashboard", input.Body.DashboardID,
		"user", input.Body.UserID,
		"expires_at", tok.ExpiresAt,
	)
	return &IssueTokenOutput{Body: TokenResponse{Token: tok.Token, ExpiresAt: tok.ExpiresAt}}, nil
}

func (h *EmbedHandler) VerifyToken(ctx context.Context, input *VerifyTokenInput) (*VerifyTokenOutput, error) {
	claims, err := h.issuer.Verify(input.Body.Token, input.Body.DashboardID, input.Body.Origin)
	if err != nil {
		h.logger.Warn("embed token rejected", "error", err)
		switch {
		case errors.Is(err, embed.ErrOriginNotAllowed), errors.Is(err, embed.ErrDashboardMismatch):
			return nil, huma.Error403Forbidden(err.Error())
		default:
			return nil, huma.Error401Unauthorized(err.Error())
		}
	}

	out := &VerifyTokenOutput{}
	out.Body.Valid = true
	out.Body.Claims = claims
	return out, nil
}
