package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edu-data-console/internal/relational"
)

func TestBreakerOpensOnConnectivityFailures(t *testing.T) {
	rel := newMemRel()
	rel.failOn = func(string) error {
		return &relational.UnavailableError{Op: "upsert", Err: errors.New("connection refused")}
	}
	rec := newCountingRecorder()
	m := WithRelationalBreaker(rel, rec)

	for i := 0; i < 3; i++ {
		assert.Error(t, m.UpsertRow(context.Background(), "class", "L10", nil))
	}
	err := m.UpsertRow(context.Background(), "class", "L10", nil)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, retryable(err))
	assert.Equal(t, 3, rel.calls)
	assert.Equal(t, []string{"relational-mirror:open"}, rec.states)
}

func TestBreakerIgnoresDataErrors(t *testing.T) {
	rel := newMemRel()
	rel.failOn = func(string) error { return errors.New("null value in column") }
	m := WithRelationalBreaker(rel, nil)

	for i := 0; i < 6; i++ {
		err := m.UpsertRow(context.Background(), "class", "L10", nil)
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	assert.Equal(t, 6, rel.calls)
}

func TestGraphBreakerPassesPruneThrough(t *testing.T) {
	g := newMemGraph()
	m := WithGraphBreaker(g, nil)

	p, ok := m.(KeywordPruner)
	require.True(t, ok)
	require.NoError(t, p.PruneKeywords(context.Background(), "TH10_CD1_B1_C1", []string{"k1"}))
	assert.Equal(t, []string{"k1"}, g.pruned["TH10_CD1_B1_C1"])
}

func TestNilMirrorsStayNil(t *testing.T) {
	assert.Nil(t, WithRelationalBreaker(nil, nil))
	assert.Nil(t, WithGraphBreaker(nil, nil))
}
