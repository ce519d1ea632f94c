package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestionProcessed counts items validated, deduplicated, and persisted
	// (or counted as persistable in a dry run).
	IngestionProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ingestd",
		Name:      "ingestion_processed_total",
		Help:      "Items successfully processed by ingestion passes.",
	})

	// IngestionFailed counts items dropped by schema validation plus streams
	// whose fetch failed permanently.
	IngestionFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ingestd",
		Name:      "ingestion_failed_total",
		Help:      "Items or fetches that failed during ingestion passes.",
	})

	// IngestionSkipped counts duplicate items and streams skipped because a
	// circuit was open or a sweep was cut short.
	IngestionSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ingestd",
		Name:      "ingestion_skipped_total",
		Help:      "Duplicate items and skipped streams during ingestion passes.",
	})

	// IngestionRateLimited counts fetches that exhausted the retry budget on
	// rate-limit responses and aborted the sweep.
	IngestionRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ingestd",
		Name:      "ingestion_rate_limited_total",
		Help:      "Ingestion fetches aborted by upstream rate limiting.",
	})

	// EmbedTokenRequested counts embed token issuance requests that reached
	// the issuer (after auth and rate limiting).
	EmbedTokenRequested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ingestd",
		Name:      "embed_token_requested_total",
		Help:      "Embed tokens issued.",
	})

	// EmbedTokenFailed counts rejected embed token requests by reason.
	EmbedTokenFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ingestd",
		Name:      "embed_token_failed_total",
		Help:      "Embed token requests rejected, by reason.",
	}, []string{"reason"})
)
