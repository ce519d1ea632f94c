package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/amberdash/ingestd/internal/checkpoint"
	"github.com/amberdash/ingestd/internal/circuitbreaker"
	"github.com/amberdash/ingestd/internal/ingest"
)

// PostCounter is satisfied by *storage.PostStore.
type PostCounter interface {
	CountByPlatform(ctx context.Context) (map[string]int64, error)
}

type StatusResponse struct {
	Breakers    []circuitbreaker.Snapshot `json:"breakers" doc:"Circuit breaker state per dependency"`
	Checkpoints []checkpoint.Checkpoint   `json:"checkpoints" doc:"Resume cursor per stream"`
	Posts       map[string]int64          `json:"posts,omitempty" doc:"Persisted post count per platform"`
}

type StatusOutput struct {
	Body StatusResponse
}

// StatusHandler exposes operational state: breaker snapshots, stored
// checkpoints, and post counts.
type StatusHandler struct {
	breakers     *circuitbreaker.Registry
	orchestrator *ingest.Orchestrator
	counter      PostCounter
	logger       *slog.Logger
}

func NewStatusHandler(breakers *circuitbreaker.Registry, orchestrator *ingest.Orchestrator, counter PostCounter, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		breakers:     breakers,
		orchestrator: orchestrator,
		counter:      counter,
		logger:       logger,
	}
}

func registerStatusRoutes(api huma.API, h *StatusHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/v1/status",
		Summary:     "Operational status",
		Tags:        []string{"status"},
	}, h.GetStatus)
}

func (h *StatusHandler) GetStatus(ctx context.Context, _ *struct{}) (*StatusOutput, error) {
	checkpoints, err := h.orchestrator.Checkpoints(ctx)
	if err != nil {
		h.logger.Error("checkpoint listing failed", "error", err)
		return nil, huma.Error500InternalServerError("checkpoint listing failed")
	}
	if checkpoints == nil {
		checkpoints = []checkpoint.Checkpoint{}
	}

	resp := StatusResponse{
		Breakers:    h.breakers.Snapshots(),
		Checkpoints: checkpoints,
	}
	if h.counter != nil {
		counts, err := h.counter.CountByPlatform(ctx)
		if err != nil {
			// Post counts are best-effort decoration; the rest of the
			// status is still useful when the database is down.
			h.logger.Warn("post counting failed", "error", err)
		} else {
			resp.Posts = counts
		}
	}
	return &StatusOutput{Body: resp}, nil
}
