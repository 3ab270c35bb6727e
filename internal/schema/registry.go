package schema

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Instrument describes a tradable symbol and its starting market state.
type Instrument struct {
	ID           uint32          `json:"id"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Class        AssetClass      `json:"class"`
	InitialPrice decimal.Decimal `json:"initialPrice"`
	BaseVolume   int64           `json:"baseVolume"`
}

// Registry stores instrument definitions in insertion order.
type Registry struct {
	instruments []Instrument
	bySymbol    map[string]uint32
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bySymbol: make(map[string]uint32)}
}

// Add registers a new instrument and returns its ID.
func (r *Registry) Add(ins Instrument) (uint32, error) {
	if ins.Symbol == "" {
		return 0, fmt.Errorf("symbol is empty")
	}
	if ins.Class == AssetClassUnknown {
		return 0, fmt.Errorf("asset class is unknown: %s", ins.Symbol)
	}
	if !ins.InitialPrice.IsPositive() {
		return 0, fmt.Errorf("initial price must be > 0: %s", ins.Symbol)
	}
	if id, ok := r.bySymbol[ins.Symbol]; ok {
		return id, fmt.Errorf("symbol already exists: %s", ins.Symbol)
	}
	if ins.Name == "" {
		ins.Name = ins.Symbol
	}
	if ins.BaseVolume <= 0 {
		ins.BaseVolume = 1_000_000
	}
	ins.ID = uint32(len(r.instruments) + 1)
	r.instruments = append(r.instruments, ins)
	r.bySymbol[ins.Symbol] = ins.ID
	return ins.ID, nil
}

// Instrument returns the instrument by ID.
func (r *Registry) Instrument(id uint32) (Instrument, bool) {
	if id == 0 || int(id) > len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[id-1], true
}

// Lookup returns the instrument for a symbol.
func (r *Registry) Lookup(symbol string) (Instrument, bool) {
	id, ok := r.bySymbol[symbol]
	if !ok {
		return Instrument{}, false
	}
	return r.Instrument(id)
}

// Count returns the number of instruments in the registry.
func (r *Registry) Count() int {
	return len(r.instruments)
}

// At returns the instrument by zero-based index.
func (r *Registry) At(index int) (Instrument, bool) {
	if index < 0 || index >= len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[index], true
}

// DefaultRegistry returns the stock and crypto universe the simulator starts with.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	equities := []struct {
		symbol, name string
		price        string
		volume       int64
	}{
		{"RELIANCE", "Reliance Industries", "2467.85", 5_000_000},
		{"TCS", "Tata Consultancy Services", "3890.45", 2_000_000},
		{"HDFC", "HDFC Bank", "1678.30", 4_000_000},
		{"INFY", "Infosys", "1567.90", 3_500_000},
		{"ICICI", "ICICI Bank", "987.65", 6_000_000},
		{"HUL", "Hindustan Unilever", "2456.70", 1_500_000},
		{"ITC", "ITC Limited", "456.90", 8_000_000},
		{"SBIN", "State Bank of India", "567.80", 9_000_000},
		{"BHARTIARTL", "Bharti Airtel", "876.50", 3_000_000},
		{"BAJFINANCE", "Bajaj Finance", "6789.40", 1_000_000},
	}
	crypto := []struct {
		symbol, name string
		price        string
		volume       int64
	}{
		{"BTC", "Bitcoin", "3452000", 25_000},
		{"ETH", "Ethereum", "230000", 150_000},
		{"BNB", "BNB", "32000", 400_000},
		{"SOL", "Solana", "7800", 900_000},
		{"XRP", "XRP", "45", 50_000_000},
		{"ADA", "Cardano", "45", 40_000_000},
		{"AVAX", "Avalanche", "3400", 700_000},
		{"DOGE", "Dogecoin", "12", 90_000_000},
		{"DOT", "Polkadot", "1500", 2_000_000},
		{"MATIC", "Polygon", "120", 20_000_000},
	}
	for _, e := range equities {
		_, _ = reg.Add(Instrument{Symbol: e.symbol, Name: e.name, Class: AssetClassEquity, InitialPrice: decimal.RequireFromString(e.price), BaseVolume: e.volume})
	}
	for _, c := range crypto {
		_, _ = reg.Add(Instrument{Symbol: c.symbol, Name: c.name, Class: AssetClassCrypto, InitialPrice: decimal.RequireFromString(c.price), BaseVolume: c.volume})
	}
	return reg
}
