// Package chaos injects faults into the simulator to exercise its failure paths.
package chaos

import (
	"github.com/yanun0323/errors"

	"tradesim/internal/bus"
	"tradesim/internal/core"
	"tradesim/internal/market"
	"tradesim/internal/random"
)

// Config controls fault injection. Rates are probabilities per tick or per event.
type Config struct {
	Seed int64 `json:"seed"`

	// price model faults
	PanicRate  float64 `json:"panicRate"`
	FreezeRate float64 `json:"freezeRate"`
	ShockRate  float64 `json:"shockRate"`
	MaxShock   float64 `json:"maxShock"`

	// event stream faults
	DropRate      float64 `json:"dropRate"`
	DuplicateRate float64 `json:"duplicateRate"`
	ReorderWindow int     `json:"reorderWindow"`
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	for name, rate := range map[string]float64{
		"panicRate":     c.PanicRate,
		"freezeRate":    c.FreezeRate,
		"shockRate":     c.ShockRate,
		"dropRate":      c.DropRate,
		"duplicateRate": c.DuplicateRate,
	} {
		if rate < 0 || rate > 1 {
			return errors.Errorf("%s must be between 0 and 1", name)
		}
	}
	if c.MaxShock < 0 || c.MaxShock >= 1 {
		return errors.New("maxShock must be in [0, 1)")
	}
	if c.ReorderWindow < 0 {
		return errors.New("reorderWindow must be >= 0")
	}
	return nil
}

// Stats counts injected faults.
type Stats struct {
	Panics     int
	Freezes    int
	Shocks     int
	Dropped    int
	Duplicated int
}

// Model wraps a price model and randomly panics, freezes or shocks the market.
type Model struct {
	next  core.PriceModel
	cfg   Config
	rng   *random.Source
	stats Stats
}

var _ core.PriceModel = (*Model)(nil)

// NewModel wraps next.
func NewModel(next core.PriceModel, cfg Config) (*Model, error) {
	if next == nil {
		return nil, errors.New("nil price model")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Model{next: next, cfg: cfg, rng: random.New(cfg.Seed)}, nil
}

// Advance runs the wrapped model unless a fault fires first.
func (m *Model) Advance(l *market.AssetLedger, in market.Inputs) {
	if m.hit(m.cfg.PanicRate) {
		m.stats.Panics++
		panic("chaos: injected price model failure")
	}
	if m.hit(m.cfg.FreezeRate) {
		m.stats.Freezes++
		return
	}
	m.next.Advance(l, in)
	if m.cfg.MaxShock > 0 && m.hit(m.cfg.ShockRate) {
		symbols := l.Symbols()
		if len(symbols) == 0 {
			return
		}
		sym := symbols[m.rng.IntN(len(symbols))]
		pct := (m.rng.Float64()*2 - 1) * m.cfg.MaxShock
		if err := l.Nudge(sym, pct, in.Now); err == nil {
			m.stats.Shocks++
		}
	}
}

// Reseed reseeds the wrapped model only; fault injection keeps its own stream.
func (m *Model) Reseed(seed int64) {
	m.next.Reseed(seed)
}

// Random exposes the wrapped model's stream so snapshots capture it.
func (m *Model) Random() *random.Source {
	if r, ok := m.next.(interface{ Random() *random.Source }); ok {
		return r.Random()
	}
	return nil
}

// Stats returns the faults injected so far.
func (m *Model) Stats() Stats {
	return m.stats
}

func (m *Model) hit(rate float64) bool {
	return rate > 0 && m.rng.Float64() < rate
}

// Stream drops, duplicates and reorders bus events before delivery.
type Stream struct {
	cfg     Config
	rng     *random.Source
	pending []bus.Event
	stats   Stats
}

// NewStream creates an event stream filter.
func NewStream(cfg Config) (*Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReorderWindow == 0 {
		cfg.ReorderWindow = 1
	}
	return &Stream{cfg: cfg, rng: random.New(cfg.Seed + 1)}, nil
}

// Process applies the stream faults to one event and returns what to deliver now.
func (s *Stream) Process(e bus.Event) []bus.Event {
	if s.hit(s.cfg.DropRate) {
		s.stats.Dropped++
		return nil
	}
	if s.cfg.ReorderWindow <= 1 {
		return s.duplicate(e)
	}
	s.pending = append(s.pending, e)
	if len(s.pending) < s.cfg.ReorderWindow {
		return nil
	}
	return s.duplicate(s.take())
}

// Flush releases every buffered event.
func (s *Stream) Flush() []bus.Event {
	out := make([]bus.Event, 0, len(s.pending))
	for len(s.pending) > 0 {
		out = append(out, s.duplicate(s.take())...)
	}
	return out
}

// Stats returns the faults injected so far.
func (s *Stream) Stats() Stats {
	return s.stats
}

func (s *Stream) take() bus.Event {
	i := s.rng.IntN(len(s.pending))
	e := s.pending[i]
	s.pending = append(s.pending[:i], s.pending[i+1:]...)
	return e
}

func (s *Stream) duplicate(e bus.Event) []bus.Event {
	if s.hit(s.cfg.DuplicateRate) {
		s.stats.Duplicated++
		return []bus.Event{e, e}
	}
	return []bus.Event{e}
}

func (s *Stream) hit(rate float64) bool {
	return rate > 0 && s.rng.Float64() < rate
}
