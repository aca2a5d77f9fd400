package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edu-data-console/internal/embedding"
	"edu-data-console/internal/relational"
)

type memKeywords struct {
	pending []relational.Keyword
	stored  map[string][]float64
	failSet error
}

func (m *memKeywords) KeywordsMissingEmbedding(_ context.Context, limit int) ([]relational.Keyword, error) {
	if limit > len(m.pending) {
		limit = len(m.pending)
	}
	return m.pending[:limit], nil
}

func (m *memKeywords) SetKeywordEmbedding(_ context.Context, id string, vec []float64) error {
	if m.failSet != nil {
		return m.failSet
	}
	if m.stored == nil {
		m.stored = map[string][]float64{}
	}
	m.stored[id] = vec
	return nil
}

func TestBackfillWritesVectors(t *testing.T) {
	store := &memKeywords{pending: []relational.Keyword{
		{KeywordID: "k1", KeywordName: "mạng"},
		{KeywordID: "k2", KeywordName: "máy tính"},
		{KeywordID: "k3", KeywordName: "html"},
	}}
	b := NewBackfill(store, embedding.NewHashEmbedder(8), 0)

	n, err := b.Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, store.stored, 2)
	assert.Len(t, store.stored["k1"], 8)
}

func TestBackfillStopsOnStoreError(t *testing.T) {
	store := &memKeywords{
		pending: []relational.Keyword{{KeywordID: "k1", KeywordName: "a"}},
		failSet: errors.New("connection reset"),
	}
	n, err := NewBackfill(store, embedding.NewHashEmbedder(8), 100).Run(context.Background(), 10)
	require.Error(t, err)
	assert.Zero(t, n)
}

func TestBackfillHonoursCancellation(t *testing.T) {
	store := &memKeywords{pending: []relational.Keyword{{KeywordID: "k1", KeywordName: "a"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBackfill(store, embedding.NewHashEmbedder(8), 1).Run(ctx, 10)
	assert.Error(t, err)
	assert.Empty(t, store.stored)
}

func TestSchedulerRegistersUniqueTags(t *testing.T) {
	s := New()
	defer s.Stop()

	b := NewBackfill(&memKeywords{}, embedding.NewHashEmbedder(8), 0)
	require.NoError(t, ScheduleBackfill(s, b, time.Hour, 10))
	assert.Equal(t, []string{TagEmbeddingBackfill}, s.Tags())

	assert.Error(t, ScheduleBackfill(s, b, time.Hour, 10), "duplicate tag")
	require.NoError(t, s.Remove(TagEmbeddingBackfill))
	assert.Empty(t, s.Tags())

	require.NoError(t, ScheduleBackfill(s, b, 0, 10))
	assert.Empty(t, s.Tags())
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := New()
	done := make(chan struct{}, 1)
	require.NoError(t, s.Every("probe", time.Hour, time.Second, func(ctx context.Context) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}))
	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run on start")
	}
}
