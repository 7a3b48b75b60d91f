package core

import (
	"context"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"PerpVAMM/internal/observability"
)

// IdempotencyChecker implements two-tier deduplication
type IdempotencyChecker struct {
	// Tier 1: in-memory LRU of applied directive IDs
	lru *lru.Cache[uuid.UUID, struct{}]

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics
	logger  zerolog.Logger
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, directiveID uuid.UUID) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) (*IdempotencyChecker, error) {
	ic := &IdempotencyChecker{dbChecker: dbChecker, metrics: metrics, logger: logger}
	cache, err := lru.NewWithEvict[uuid.UUID, struct{}](capacity, func(uuid.UUID, struct{}) {
		if ic.metrics != nil {
			ic.metrics.DedupLRUEvictions.Inc()
		}
	})
	if err != nil {
		return nil, err
	}
	ic.lru = cache
	return ic, nil
}

// IsDuplicate checks if a directive has been applied (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, id uuid.UUID) bool {
	if ic.lru.Contains(id) {
		ic.recordDuplicate("lru")
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(ctx, id)
		if err != nil {
			// A failed lookup must not block the core; treat as not seen.
			ic.logger.Warn().Err(err).Str("directive_id", id.String()).Msg("idempotency lookup failed")
			return false
		}
		if isDup {
			ic.recordDuplicate("postgres")
			ic.MarkProcessed(id)
			return true
		}
	}
	return false
}

// MarkProcessed adds id to the LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(id uuid.UUID) {
	ic.lru.Add(id, struct{}{})
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Len()))
	}
}

// Warm loads recently applied directive IDs, oldest first, so a restart
// does not fall through to Postgres for them.
func (ic *IdempotencyChecker) Warm(ids []uuid.UUID) {
	for _, id := range ids {
		ic.MarkProcessed(id)
	}
}

// Len returns current number of cached IDs
func (ic *IdempotencyChecker) Len() int {
	return ic.lru.Len()
}

func (ic *IdempotencyChecker) recordDuplicate(tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(tier).Inc()
	}
}
