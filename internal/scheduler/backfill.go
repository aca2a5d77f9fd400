package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"edu-data-console/internal/embedding"
	"edu-data-console/internal/logger"
	"edu-data-console/internal/relational"
)

// KeywordStore is the slice of the relational mirror the backfill needs.
type KeywordStore interface {
	KeywordsMissingEmbedding(ctx context.Context, limit int) ([]relational.Keyword, error)
	SetKeywordEmbedding(ctx context.Context, keywordID string, vec []float64) error
}

// Backfill embeds keywords that were mirrored without a vector, e.g. rows
// written by an earlier import or by hand through the admin console.
type Backfill struct {
	store    KeywordStore
	embedder embedding.Embedder
	limiter  *rate.Limiter
}

// NewBackfill throttles writes to rps per second; rps <= 0 means unthrottled.
func NewBackfill(store KeywordStore, embedder embedding.Embedder, rps int) *Backfill {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
	return &Backfill{store: store, embedder: embedder, limiter: limiter}
}

// Run embeds up to limit keywords and returns how many were written.
func (b *Backfill) Run(ctx context.Context, limit int) (int, error) {
	rows, err := b.store.KeywordsMissingEmbedding(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list keywords: %w", err)
	}

	written := 0
	for _, kw := range rows {
		if err := b.limiter.Wait(ctx); err != nil {
			return written, err
		}
		vec, err := b.embedder.Embed(ctx, kw.KeywordName)
		if err != nil {
			logger.Warn("keyword embedding failed", "keyword_id", kw.KeywordID, "error", err)
			continue
		}
		if err := b.store.SetKeywordEmbedding(ctx, kw.KeywordID, vec); err != nil {
			return written, fmt.Errorf("store embedding %s: %w", kw.KeywordID, err)
		}
		written++
	}
	if written > 0 {
		logger.Info("keyword embeddings backfilled", "written", written, "pending_seen", len(rows))
	}
	return written, nil
}

// ScheduleBackfill registers b on s at interval, batch-sized by limit.
func ScheduleBackfill(s *Scheduler, b *Backfill, interval time.Duration, limit int) error {
	if interval <= 0 {
		return nil
	}
	return s.Every(TagEmbeddingBackfill, interval, interval, func(ctx context.Context) error {
		_, err := b.Run(ctx, limit)
		return err
	})
}
