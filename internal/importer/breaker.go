package importer

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"edu-data-console/internal/logger"
	"edu-data-console/models"
)

// StateRecorder is notified when a mirror breaker changes state.
type StateRecorder interface {
	RecordBreakerState(name, state string)
}

func newBreaker(name string, rec StateRecorder) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		// Data errors (bad rows) must not open the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("mirror circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if rec != nil {
				rec.RecordBreakerState(name, to.String())
			}
		},
	})
}

func guard(cb *gobreaker.CircuitBreaker, fn func() error) error {
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

type breakerRelational struct {
	inner RelationalMirror
	cb    *gobreaker.CircuitBreaker
}

// WithRelationalBreaker wraps a relational mirror in a circuit breaker.
// A nil mirror stays nil.
func WithRelationalBreaker(m RelationalMirror, rec StateRecorder) RelationalMirror {
	if m == nil {
		return nil
	}
	return &breakerRelational{inner: m, cb: newBreaker("relational-mirror", rec)}
}

func (b *breakerRelational) UpsertRow(ctx context.Context, table, primaryKey string, fields map[string]any) error {
	return guard(b.cb, func() error { return b.inner.UpsertRow(ctx, table, primaryKey, fields) })
}

func (b *breakerRelational) ReplaceKeywords(ctx context.Context, chunkID string, keywords []models.KeywordRow) error {
	return guard(b.cb, func() error { return b.inner.ReplaceKeywords(ctx, chunkID, keywords) })
}

type breakerGraph struct {
	inner GraphMirror
	cb    *gobreaker.CircuitBreaker
}

// WithGraphBreaker wraps a graph mirror in a circuit breaker. Keyword pruning
// passes through the same breaker when the inner mirror supports it.
func WithGraphBreaker(m GraphMirror, rec StateRecorder) GraphMirror {
	if m == nil {
		return nil
	}
	return &breakerGraph{inner: m, cb: newBreaker("graph-mirror", rec)}
}

func (b *breakerGraph) MergeNode(ctx context.Context, label, id string, props map[string]any) error {
	return guard(b.cb, func() error { return b.inner.MergeNode(ctx, label, id, props) })
}

func (b *breakerGraph) MergeEdge(ctx context.Context, from, to models.NodeRef, relation string) error {
	return guard(b.cb, func() error { return b.inner.MergeEdge(ctx, from, to, relation) })
}

func (b *breakerGraph) PruneKeywords(ctx context.Context, chunkID string, keep []string) error {
	p, ok := b.inner.(KeywordPruner)
	if !ok {
		return nil
	}
	return guard(b.cb, func() error { return p.PruneKeywords(ctx, chunkID, keep) })
}
