package state

import (
	"sort"

	"github.com/shopspring/decimal"

	"tradesim/internal/schema"
)

// ExposureReducer folds open positions into a signed net size per symbol.
type ExposureReducer struct {
	net map[string]decimal.Decimal
}

// NewExposureReducer creates an empty reducer.
func NewExposureReducer() *ExposureReducer {
	return &ExposureReducer{net: make(map[string]decimal.Decimal)}
}

// Apply adds one position; longs count positive and shorts negative.
func (r *ExposureReducer) Apply(p schema.Position) decimal.Decimal {
	current := r.net[p.Symbol]
	var next decimal.Decimal
	switch p.Side {
	case schema.SideLong:
		next = current.Add(p.Size)
	case schema.SideShort:
		next = current.Sub(p.Size)
	default:
		next = current
	}
	r.net[p.Symbol] = next
	return next
}

// Reset replaces the state with the given positions.
func (r *ExposureReducer) Reset(positions []schema.Position) {
	for key := range r.net {
		delete(r.net, key)
	}
	for _, p := range positions {
		r.Apply(p)
	}
}

// Position returns the net size of a symbol.
func (r *ExposureReducer) Position(symbol string) decimal.Decimal {
	return r.net[symbol]
}

// Exposure is one symbol's net size.
type Exposure struct {
	Symbol string          `json:"symbol"`
	Net    decimal.Decimal `json:"net"`
}

// Entries returns the non-flat symbols sorted by name.
func (r *ExposureReducer) Entries() []Exposure {
	out := make([]Exposure, 0, len(r.net))
	for sym, net := range r.net {
		if net.IsZero() {
			continue
		}
		out = append(out, Exposure{Symbol: sym, Net: net})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
