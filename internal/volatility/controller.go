package volatility

import (
	"fmt"
	"time"

	"tradesim/internal/random"
	"tradesim/internal/schema"
)

// Spec is one entry of the weighted event table.
type Spec struct {
	Name         string  `json:"name"`
	Probability  float64 `json:"probability"`
	MaxMagnitude float64 `json:"maxMagnitude"`
}

// DefaultSpecs is the event table walked on every check.
var DefaultSpecs = []Spec{
	{Name: "Economic Data Release", Probability: 0.3, MaxMagnitude: 3},
	{Name: "Breaking News", Probability: 0.2, MaxMagnitude: 4},
	{Name: "Market Sentiment Shift", Probability: 0.15, MaxMagnitude: 2.5},
	{Name: "Technical Breakout", Probability: 0.25, MaxMagnitude: 2},
	{Name: "Sector Rotation", Probability: 0.1, MaxMagnitude: 1.5},
}

// Config controls event checks.
type Config struct {
	Seed          int64         `json:"seed"`
	CheckInterval time.Duration `json:"checkInterval"`
	MinDuration   time.Duration `json:"minDuration"`
	MaxDuration   time.Duration `json:"maxDuration"`
	Specs         []Spec        `json:"specs"`
}

// DefaultConfig checks every 5 minutes and holds events for 5 to 14 minutes.
func DefaultConfig() Config {
	return Config{
		CheckInterval: 5 * time.Minute,
		MinDuration:   5 * time.Minute,
		MaxDuration:   15 * time.Minute,
		Specs:         DefaultSpecs,
	}
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.CheckInterval <= 0 {
		return fmt.Errorf("checkInterval must be > 0")
	}
	if c.MinDuration <= 0 || c.MaxDuration <= c.MinDuration {
		return fmt.Errorf("duration must satisfy 0 < min < max")
	}
	var total float64
	for _, s := range c.Specs {
		if s.Probability < 0 || s.MaxMagnitude < 1 {
			return fmt.Errorf("invalid volatility spec: %s", s.Name)
		}
		total += s.Probability
	}
	if total > 1+1e-9 {
		return fmt.Errorf("volatility probabilities sum to %.2f > 1", total)
	}
	return nil
}

// Controller owns the single active volatility multiplier.
type Controller struct {
	cfg       Config
	rng       *random.Source
	active    schema.VolatilityEvent
	nextCheck time.Time
}

// NewController creates a controller with validation.
func NewController(cfg Config) (*Controller, error) {
	if len(cfg.Specs) == 0 {
		cfg.Specs = DefaultSpecs
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Controller{
		cfg: cfg,
		rng: random.New(cfg.Seed),
	}, nil
}

// Reseed resets the random stream.
func (c *Controller) Reseed(seed int64) {
	c.rng.Reseed(seed)
}

// Random returns the random stream.
func (c *Controller) Random() *random.Source {
	return c.rng
}

// Tick runs a check when due and returns the event it triggered.
func (c *Controller) Tick(now time.Time) (schema.VolatilityEvent, bool) {
	if c == nil {
		return schema.VolatilityEvent{}, false
	}
	if c.active.Name != "" && !c.active.Active(now) {
		c.active = schema.VolatilityEvent{}
	}
	if c.nextCheck.IsZero() {
		c.nextCheck = now.Add(c.cfg.CheckInterval)
		return schema.VolatilityEvent{}, false
	}
	if now.Before(c.nextCheck) {
		return schema.VolatilityEvent{}, false
	}
	c.nextCheck = now.Add(c.cfg.CheckInterval)

	roll := c.rng.Float64()
	var cumulative float64
	for _, spec := range c.cfg.Specs {
		cumulative += spec.Probability
		if roll > cumulative {
			continue
		}
		magnitude := 1 + c.rng.Float64()*(spec.MaxMagnitude-1)
		minutes := int64((c.cfg.MaxDuration - c.cfg.MinDuration) / time.Minute)
		duration := c.cfg.MinDuration
		if minutes > 0 {
			duration += time.Duration(c.rng.Int64N(minutes)) * time.Minute
		}
		return c.Trigger(spec.Name, magnitude, duration, now), true
	}
	return schema.VolatilityEvent{}, false
}

// Trigger makes an event active, replacing any previous one.
func (c *Controller) Trigger(name string, magnitude float64, duration time.Duration, now time.Time) schema.VolatilityEvent {
	if magnitude < 1 {
		magnitude = 1
	}
	c.active = schema.VolatilityEvent{
		Name:      name,
		Magnitude: magnitude,
		StartedAt: now,
		Duration:  duration,
	}
	return c.active
}

// Multiplier returns the active multiplier, 1.0 at baseline.
func (c *Controller) Multiplier(now time.Time) float64 {
	if c == nil || !c.active.Active(now) {
		return 1
	}
	return c.active.Magnitude
}

// Active returns the event in effect at now.
func (c *Controller) Active(now time.Time) (schema.VolatilityEvent, bool) {
	if c == nil || !c.active.Active(now) {
		return schema.VolatilityEvent{}, false
	}
	return c.active, true
}

// State is the serialisable form of the controller.
type State struct {
	Active    schema.VolatilityEvent `json:"active"`
	NextCheck time.Time              `json:"nextCheck"`
}

// Export captures the controller for snapshotting.
func (c *Controller) Export() State {
	return State{Active: c.active, NextCheck: c.nextCheck}
}

// Restore replaces the controller state.
func (c *Controller) Restore(st State) {
	c.active = st.Active
	c.nextCheck = st.NextCheck
}
