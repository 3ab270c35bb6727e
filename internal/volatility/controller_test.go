package volatility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func TestControllerTriggersAndExpires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 11
	c, err := NewController(cfg)
	require.NoError(t, err)

	_, ok := c.Tick(t0)
	require.False(t, ok)
	assert.Equal(t, 1.0, c.Multiplier(t0))

	ev, ok := c.Tick(t0.Add(5 * time.Minute))
	require.True(t, ok, "default table sums to 1 so every check triggers")
	assert.GreaterOrEqual(t, ev.Magnitude, 1.0)
	assert.LessOrEqual(t, ev.Magnitude, 4.0)
	assert.GreaterOrEqual(t, ev.Duration, 5*time.Minute)
	assert.Less(t, ev.Duration, 15*time.Minute)

	now := ev.StartedAt.Add(time.Minute)
	assert.Equal(t, ev.Magnitude, c.Multiplier(now))
	assert.Equal(t, 1.0, c.Multiplier(ev.StartedAt.Add(ev.Duration)))
}

func TestControllerNoStacking(t *testing.T) {
	c, err := NewController(DefaultConfig())
	require.NoError(t, err)
	c.Trigger("first", 3, 10*time.Minute, t0)
	c.Trigger("second", 1.5, 10*time.Minute, t0.Add(time.Minute))
	ev, ok := c.Active(t0.Add(2 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, "second", ev.Name)
	assert.Equal(t, 1.5, c.Multiplier(t0.Add(2*time.Minute)))
}

func TestControllerEmptyTable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Specs = []Spec{{Name: "never", Probability: 0, MaxMagnitude: 2}}
	c, err := NewController(cfg)
	require.NoError(t, err)
	c.Tick(t0)
	_, ok := c.Tick(t0.Add(5 * time.Minute))
	assert.False(t, ok)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Specs = []Spec{{Name: "a", Probability: 0.8, MaxMagnitude: 2}, {Name: "b", Probability: 0.8, MaxMagnitude: 2}}
	_, err := NewController(cfg)
	assert.Error(t, err)
}
