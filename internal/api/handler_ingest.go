package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/amberdash/ingestd/internal/circuitbreaker"
	"github.com/amberdash/ingestd/internal/ingest"
	"github.com/amberdash/ingestd/internal/retryhttp"
)

// --- Huma Input/Output types ---

type RunStreamInput struct {
	Stream string `path:"stream" doc:"Stream key, e.g. x:handle"`
	DryRun bool   `query:"dry_run" doc:"Fetch and validate without persisting" required:"false"`
	Limit  int    `query:"limit" doc:"Page size override" required:"false" minimum:"1" maximum:"100"`
}

type RunStreamOutput struct {
	Body ingest.Result
}

type RunAllInput struct {
	DryRun bool `query:"dry_run" doc:"Fetch and validate without persisting" required:"false"`
	Limit  int  `query:"limit" doc:"Page size override" required:"false" minimum:"1" maximum:"100"`
}

type SweepResponse struct {
	Results map[string]ingest.Result `json:"results" doc:"Outcome per attempted stream"`
	Skipped []string                 `json:"skipped,omitempty" doc:"Streams not attempted this pass"`
}

type RunAllOutput struct {
	Body SweepResponse
}

type ResetCheckpointInput struct {
	Stream string `path:"stream" doc:"Stream key, e.g. x:handle"`
}

// --- Handler ---

// IngestHandler exposes manual ingestion operations: run one stream, sweep
// all streams, and reset a stream's checkpoint.
type IngestHandler struct {
	orchestrator *ingest.Orchestrator
	streams      map[string]ingest.Stream
	order        []ingest.Stream
	defaults     ingest.Options
	logger       *slog.Logger
}

func NewIngestHandler(orchestrator *ingest.Orchestrator, streams []ingest.Stream, defaults ingest.Options, logger *slog.Logger) *IngestHandler {
	byKey := make(map[string]ingest.Stream, len(streams))
	for _, s := range streams {
		byKey[s.Key] = s
	}
	return &IngestHandler{
		orchestrator: orchestrator,
		streams:      byKey,
		order:        streams,
		defaults:     defaults,
		logger:       logger,
	}
}

func registerIngestRoutes(api huma.API, h *IngestHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "run-stream",
		Method:      http.MethodPost,
		Path:        "/v1/ingest/{stream}/run",
		Summary:     "Run one ingestion pass for a stream",
		Tags:        []string{"ingest"},
	}, h.RunStream)

	huma.Register(api, huma.Operation{
		OperationID: "run-all-streams",
		Method:      http.MethodPost,
		Path:        "/v1/ingest/run",
		Summary:     "Run one ingestion pass for every stream",
		Tags:        []string{"ingest"},
	}, h.RunAll)

	huma.Register(api, huma.Operation{
		OperationID:   "reset-checkpoint",
		Method:        http.MethodDelete,
		Path:          "/v1/ingest/{stream}/checkpoint",
		Summary:       "Reset a stream's resume cursor",
		Tags:          []string{"ingest"},
		DefaultStatus: http.StatusNoContent,
	}, h.ResetCheckpoint)
}

func (h *IngestHandler) RunStream(ctx context.Context, input *RunStreamInput) (*RunStreamOutput, error) {
	stream, ok := h.streams[input.Stream]
	if !ok {
		return nil, huma.Error404NotFound("unknown stream " + input.Stream)
	}

	res, err := h.orchestrator.Ingest(ctx, stream, h.options(input.DryRun, input.Limit))
	if err != nil {
		return nil, h.ingestError(err)
	}
	return &RunStreamOutput{Body: res}, nil
}

func (h *IngestHandler) RunAll(ctx context.Context, input *RunAllInput) (*RunAllOutput, error) {
	sweep := h.orchestrator.Sweep(ctx, h.order, h.options(input.DryRun, input.Limit))
	return &RunAllOutput{Body: SweepResponse{Results: sweep.Results, Skipped: sweep.Skipped}}, nil
}

func (h *IngestHandler) ResetCheckpoint(ctx context.Context, input *ResetCheckpointInput) (*struct{}, error) {
	if _, ok := h.streams[input.Stream]; !ok {
		return nil, huma.Error404NotFound("unknown stream " + input.Stream)
	}
	if err := h.orchestrator.ResetCheckpoint(ctx, input.Stream); err != nil {
		h.logger.Error("checkpoint reset failed", "stream", input.Stream, "error", err)
		return nil, huma.Error500InternalServerError("checkpoint reset failed")
	}
	return nil, nil
}

func (h *IngestHandler) options(dryRun bool, limit int) ingest.Options {
	opts := h.defaults
	if dryRun {
		opts.DryRun = true
	}
	if limit > 0 {
		opts.Limit = limit
	}
	return opts
}

func (h *IngestHandler) ingestError(err error) error {
	var authErr *ingest.AuthError
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return huma.Error503ServiceUnavailable("upstream circuit open, try again later")
	case retryhttp.IsRateLimit(err):
		return huma.Error429TooManyRequests("upstream rate limit exhausted")
	case errors.As(err, &authErr):
		return huma.Error502BadGateway(authErr.Error())
	default:
		h.logger.Error("ingestion pass failed", "error", err)
		return huma.Error500InternalServerError("ingestion failed")
	}
}
