package market

import (
	"time"

	"tradesim/internal/random"
	"tradesim/internal/schema"
)

// ConditionCycle redraws the global market condition every N ticks.
type ConditionCycle struct {
	every int
	ticks int
	rng   *random.Source
}

// NewConditionCycle creates a cycle; every <= 0 disables it.
func NewConditionCycle(every int, seed int64) *ConditionCycle {
	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}
	return &ConditionCycle{every: every, rng: random.New(seed)}
}

// Reseed resets the random stream.
func (c *ConditionCycle) Reseed(seed int64) {
	c.rng.Reseed(seed)
}

// Random returns the random stream.
func (c *ConditionCycle) Random() *random.Source {
	return c.rng
}

// Ticks returns the ticks counted toward the next redraw.
func (c *ConditionCycle) Ticks() int {
	return c.ticks
}

// SetTicks restores the counter.
func (c *ConditionCycle) SetTicks(n int) {
	c.ticks = n
}

// Tick advances the counter and returns a new condition when one is due.
func (c *ConditionCycle) Tick(current schema.MarketCondition) (schema.MarketCondition, bool) {
	if c == nil || c.every <= 0 {
		return current, false
	}
	c.ticks++
	if c.ticks < c.every {
		return current, false
	}
	c.ticks = 0

	next := current
	switch c.rng.IntN(3) {
	case 0:
		next.Sentiment = schema.SentimentBullish
		next.Trend = schema.TrendUp
	case 1:
		next.Sentiment = schema.SentimentBearish
		next.Trend = schema.TrendDown
	default:
		next.Sentiment = schema.SentimentNeutral
		next.Trend = schema.TrendSideways
	}
	next.Vix = 10 + c.rng.Float64()*20
	next.Volatility = RegimeForVix(next.Vix)
	return next, true
}

// RegimeForVix maps a volatility index onto a regime.
func RegimeForVix(vix float64) schema.VolatilityRegime {
	switch {
	case vix > 25:
		return schema.VolatilityHigh
	case vix > 15:
		return schema.VolatilityMedium
	default:
		return schema.VolatilityLow
	}
}

// DefaultCondition is the neutral starting regime.
func DefaultCondition() schema.MarketCondition {
	return schema.MarketCondition{
		Trend:      schema.TrendSideways,
		Volatility: schema.VolatilityMedium,
		Sentiment:  schema.SentimentNeutral,
		Vix:        20,
	}
}
