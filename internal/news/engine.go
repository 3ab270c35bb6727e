package news

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"tradesim/internal/random"
	"tradesim/internal/schema"
)

// Category is a family of headlines with its own magnitude range.
type Category struct {
	Name         string
	Headline     string
	MinMagnitude float64
	MaxMagnitude float64
	AllowNeutral bool
}

// DefaultCategories is the headline table.
var DefaultCategories = []Category{
	{Name: "Central Bank", Headline: "Central Bank Announces Interest Rate Decision", MinMagnitude: 0.5, MaxMagnitude: 1.0},
	{Name: "Earnings", Headline: "Quarterly Earnings Reports Released", MinMagnitude: 0.3, MaxMagnitude: 1.0},
	{Name: "Economic Data", Headline: "Economic Data Shows Unexpected Results", MinMagnitude: 0.2, MaxMagnitude: 0.6},
	{Name: "Sentiment Shift", Headline: "Market Sentiment Shifts on Global Events", MinMagnitude: 0.1, MaxMagnitude: 0.4, AllowNeutral: true},
	{Name: "Regulatory", Headline: "Regulatory Changes Announced for Financial Markets", MinMagnitude: 0.4, MaxMagnitude: 0.8},
}

// Config controls news emission and decay.
type Config struct {
	Seed           int64         `json:"seed"`
	MinInterval    time.Duration `json:"minInterval"`
	MaxInterval    time.Duration `json:"maxInterval"`
	HalfLife       time.Duration `json:"halfLife"`
	Window         time.Duration `json:"window"`
	NudgePercent   float64       `json:"nudgePercent"`
	BaseVolatility float64       `json:"baseVolatility"`
	MaxSymbols     int           `json:"maxSymbols"`
	Keep           int           `json:"keep"`
}

// DefaultConfig returns the standard news cadence.
func DefaultConfig() Config {
	return Config{
		MinInterval:    2 * time.Minute,
		MaxInterval:    5 * time.Minute,
		HalfLife:       15 * time.Minute,
		Window:         30 * time.Minute,
		NudgePercent:   0.01,
		BaseVolatility: 0.002,
		MaxSymbols:     3,
		Keep:           50,
	}
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.MinInterval <= 0 || c.MaxInterval < c.MinInterval {
		return fmt.Errorf("news interval must satisfy 0 < min <= max")
	}
	if c.HalfLife <= 0 {
		return fmt.Errorf("halfLife must be > 0")
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be > 0")
	}
	if c.MaxSymbols <= 0 {
		return fmt.Errorf("maxSymbols must be >= 1")
	}
	if c.NudgePercent < 0 || c.BaseVolatility < 0 {
		return fmt.Errorf("nudgePercent and baseVolatility must be >= 0")
	}
	return nil
}

// Nudge is a one-shot price move applied at the start of the next tick.
type Nudge struct {
	Symbol  string  `json:"symbol"`
	Percent float64 `json:"percent"`
}

// Engine emits news on a randomized schedule and tracks its decaying impact.
type Engine struct {
	cfg     Config
	rng     *random.Source
	events  []schema.NewsEvent
	pending []Nudge
	nextAt  time.Time
	seq     uint64
}

// NewEngine creates a news engine with validation.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Keep <= 0 {
		cfg.Keep = 50
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: random.New(cfg.Seed),
	}, nil
}

// Reseed resets the random stream.
func (e *Engine) Reseed(seed int64) {
	e.rng.Reseed(seed)
}

// Random returns the random stream.
func (e *Engine) Random() *random.Source {
	return e.rng
}

// NextAt returns the time of the next scheduled emission.
func (e *Engine) NextAt() time.Time {
	return e.nextAt
}

// Tick emits a news item when the schedule is due.
func (e *Engine) Tick(now time.Time, symbols []string) (schema.NewsEvent, bool) {
	if e == nil || len(symbols) == 0 {
		return schema.NewsEvent{}, false
	}
	if e.nextAt.IsZero() {
		e.nextAt = now.Add(e.interval())
		return schema.NewsEvent{}, false
	}
	if now.Before(e.nextAt) {
		return schema.NewsEvent{}, false
	}
	e.nextAt = now.Add(e.interval())

	cat := DefaultCategories[e.rng.IntN(len(DefaultCategories))]
	ev := schema.NewsEvent{
		Timestamp: now,
		Headline:  cat.Headline,
		Category:  cat.Name,
		Sentiment: e.pickSentiment(cat),
		Magnitude: cat.MinMagnitude + e.rng.Float64()*(cat.MaxMagnitude-cat.MinMagnitude),
		Symbols:   e.pickSymbols(symbols),
	}
	return e.Publish(ev), true
}

// Publish registers an event and queues its immediate nudge.
func (e *Engine) Publish(ev schema.NewsEvent) schema.NewsEvent {
	e.seq++
	if ev.ID == "" {
		ev.ID = "news-" + strconv.FormatUint(e.seq, 10)
	}
	e.events = append(e.events, ev)
	if len(e.events) > e.cfg.Keep {
		e.events = e.events[len(e.events)-e.cfg.Keep:]
	}
	dir := ev.Sentiment.Direction()
	if dir != 0 {
		for _, sym := range ev.Symbols {
			e.pending = append(e.pending, Nudge{Symbol: sym, Percent: ev.Magnitude * dir * e.cfg.NudgePercent})
		}
	}
	return ev
}

// DrainNudges returns and clears the queued one-shot moves.
func (e *Engine) DrainNudges() []Nudge {
	if e == nil || len(e.pending) == 0 {
		return nil
	}
	out := e.pending
	e.pending = nil
	return out
}

// Impact returns the decayed price influence of recent news on a symbol.
func (e *Engine) Impact(symbol string, now time.Time) float64 {
	if e == nil {
		return 0
	}
	var total float64
	for i := len(e.events) - 1; i >= 0; i-- {
		ev := e.events[i]
		age := now.Sub(ev.Timestamp)
		if age < 0 {
			continue
		}
		if age >= e.cfg.Window {
			break
		}
		if !affects(ev, symbol) {
			continue
		}
		decay := math.Pow(0.5, float64(age)/float64(e.cfg.HalfLife))
		total += ev.Sentiment.Direction() * ev.Magnitude * decay * e.cfg.BaseVolatility
	}
	return total
}

// Recent returns up to limit events, newest first.
func (e *Engine) Recent(limit int) []schema.NewsEvent {
	if e == nil {
		return nil
	}
	n := len(e.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]schema.NewsEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.events[i])
	}
	return out
}

// State is the serialisable form of the engine.
type State struct {
	Events  []schema.NewsEvent `json:"events"`
	Pending []Nudge            `json:"pending"`
	NextAt  time.Time          `json:"nextAt"`
	Seq     uint64             `json:"seq"`
}

// Export captures the engine for snapshotting.
func (e *Engine) Export() State {
	return State{
		Events:  append([]schema.NewsEvent(nil), e.events...),
		Pending: append([]Nudge(nil), e.pending...),
		NextAt:  e.nextAt,
		Seq:     e.seq,
	}
}

// Restore replaces the engine state.
func (e *Engine) Restore(st State) {
	e.events = append([]schema.NewsEvent(nil), st.Events...)
	e.pending = append([]Nudge(nil), st.Pending...)
	e.nextAt = st.NextAt
	e.seq = st.Seq
}

func (e *Engine) interval() time.Duration {
	span := int64(e.cfg.MaxInterval - e.cfg.MinInterval)
	if span <= 0 {
		return e.cfg.MinInterval
	}
	return e.cfg.MinInterval + time.Duration(e.rng.Int64N(span+1))
}

func (e *Engine) pickSentiment(cat Category) schema.NewsSentiment {
	if cat.AllowNeutral {
		switch e.rng.IntN(3) {
		case 0:
			return schema.NewsPositive
		case 1:
			return schema.NewsNegative
		default:
			return schema.NewsNeutral
		}
	}
	if e.rng.Float64() > 0.5 {
		return schema.NewsPositive
	}
	return schema.NewsNegative
}

func (e *Engine) pickSymbols(symbols []string) []string {
	count := 1 + e.rng.IntN(e.cfg.MaxSymbols)
	if count > len(symbols) {
		count = len(symbols)
	}
	perm := e.rng.Perm(len(symbols))
	out := make([]string, 0, count)
	for _, idx := range perm[:count] {
		out = append(out, symbols[idx])
	}
	return out
}

func affects(ev schema.NewsEvent, symbol string) bool {
	for _, s := range ev.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}
