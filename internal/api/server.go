package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amberdash/ingestd/internal/circuitbreaker"
	"github.com/amberdash/ingestd/internal/embed"
	"github.com/amberdash/ingestd/internal/ingest"
	"github.com/amberdash/ingestd/internal/metrics"
	"github.com/amberdash/ingestd/internal/ratelimit"
)

// Deps carries everything the HTTP surface needs. Counter and Backends may
// be nil when the corresponding feature is not configured.
type Deps struct {
	Logger       *slog.Logger
	Orchestrator *ingest.Orchestrator
	Streams      []ingest.Stream
	Breakers     *circuitbreaker.Registry
	Issuer       *embed.Issuer
	Limiter      *ratelimit.Limiter
	Counter      PostCounter
	Backends     map[string]Pinger
	APIKeys      []string
	IngestOpts   ingest.Options
}

// NewServer creates an HTTP server with all routes configured.
func NewServer(deps Deps) http.Handler {
	mux := chi.NewRouter()

	mux.Use(chimw.RealIP)
	mux.Use(ClientIP)
	mux.Use(RequestID)
	mux.Use(Logging(deps.Logger))
	mux.Use(Recovery(deps.Logger))
	mux.Use(metrics.HTTP)

	humaAPI := humachi.New(mux, huma.DefaultConfig("ingestd", "1.0.0"))

	registerEmbedRoutes(humaAPI, NewEmbedHandler(deps.Issuer, deps.Limiter, deps.APIKeys, deps.Logger))
	registerIngestRoutes(humaAPI, NewIngestHandler(deps.Orchestrator, deps.Streams, deps.IngestOpts, deps.Logger))
	registerStatusRoutes(humaAPI, NewStatusHandler(deps.Breakers, deps.Orchestrator, deps.Counter, deps.Logger))

	health := NewHealthHandler(deps.Backends, deps.Logger)
	mux.Get("/v1/health", health.Livez)
	mux.Get("/livez", health.Livez)
	mux.Get("/readyz", health.Readyz)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}
