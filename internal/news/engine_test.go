package news

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/schema"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, seed int64) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Seed = seed
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func TestEngineSchedule(t *testing.T) {
	e := newEngine(t, 3)
	symbols := []string{"A", "B", "C", "D"}

	_, ok := e.Tick(t0, symbols)
	require.False(t, ok, "first tick only schedules")
	next := e.NextAt()
	gap := next.Sub(t0)
	assert.GreaterOrEqual(t, gap, 2*time.Minute)
	assert.LessOrEqual(t, gap, 5*time.Minute)

	_, ok = e.Tick(next.Add(-time.Second), symbols)
	assert.False(t, ok)

	ev, ok := e.Tick(next, symbols)
	require.True(t, ok)
	assert.NotEmpty(t, ev.Headline)
	assert.GreaterOrEqual(t, len(ev.Symbols), 1)
	assert.LessOrEqual(t, len(ev.Symbols), 3)
	assert.Greater(t, ev.Magnitude, 0.0)
	assert.LessOrEqual(t, ev.Magnitude, 1.0)
	assert.Len(t, e.Recent(0), 1)
}

func TestEngineNudges(t *testing.T) {
	e := newEngine(t, 1)
	e.Publish(schema.NewsEvent{Timestamp: t0, Sentiment: schema.NewsNegative, Magnitude: 0.5, Symbols: []string{"A", "B"}})
	nudges := e.DrainNudges()
	require.Len(t, nudges, 2)
	assert.InDelta(t, -0.005, nudges[0].Percent, 1e-12)
	assert.Nil(t, e.DrainNudges())

	e.Publish(schema.NewsEvent{Timestamp: t0, Sentiment: schema.NewsNeutral, Magnitude: 0.3, Symbols: []string{"A"}})
	assert.Nil(t, e.DrainNudges())
}

func TestEngineImpactDecay(t *testing.T) {
	e := newEngine(t, 1)
	e.Publish(schema.NewsEvent{Timestamp: t0, Sentiment: schema.NewsPositive, Magnitude: 1, Symbols: []string{"A"}})

	assert.InDelta(t, 0.002, e.Impact("A", t0), 1e-12)
	assert.InDelta(t, 0.001, e.Impact("A", t0.Add(15*time.Minute)), 1e-12)
	assert.Zero(t, e.Impact("A", t0.Add(30*time.Minute)))
	assert.Zero(t, e.Impact("B", t0))
}

func TestEngineImpactSums(t *testing.T) {
	e := newEngine(t, 1)
	e.Publish(schema.NewsEvent{Timestamp: t0, Sentiment: schema.NewsPositive, Magnitude: 1, Symbols: []string{"A"}})
	e.Publish(schema.NewsEvent{Timestamp: t0, Sentiment: schema.NewsNegative, Magnitude: 0.5, Symbols: []string{"A"}})
	assert.InDelta(t, 0.001, e.Impact("A", t0), 1e-12)
}

func TestEngineExportRestore(t *testing.T) {
	e := newEngine(t, 9)
	e.Tick(t0, []string{"A"})
	e.Publish(schema.NewsEvent{Timestamp: t0, Sentiment: schema.NewsPositive, Magnitude: 0.4, Symbols: []string{"A"}})

	other := newEngine(t, 10)
	other.Restore(e.Export())
	assert.Equal(t, e.NextAt(), other.NextAt())
	assert.Equal(t, e.Recent(0), other.Recent(0))
	assert.InDelta(t, e.Impact("A", t0.Add(time.Minute)), other.Impact("A", t0.Add(time.Minute)), 1e-15)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInterval = time.Minute
	_, err := NewEngine(cfg)
	assert.Error(t, err)
}
