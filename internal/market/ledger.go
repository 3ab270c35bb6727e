package market

import (
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

const (
	priceDecimals       = 4
	defaultHistoryLimit = 600
)

// Sample is one recorded price at a virtual time.
type Sample struct {
	At    time.Time `json:"at"`
	Price float64   `json:"price"`
}

type assetState struct {
	asset   schema.Asset
	history []Sample
}

// AssetLedger owns the tradable assets and their live price state.
type AssetLedger struct {
	assets       []*assetState
	index        map[string]int
	historyLimit int
	day          int
}

// NewAssetLedger seeds the ledger from the registry.
func NewAssetLedger(reg *schema.Registry, historyLimit int) (*AssetLedger, error) {
	if reg == nil || reg.Count() == 0 {
		return nil, exception.ErrEmptyUniverse
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	l := &AssetLedger{
		assets:       make([]*assetState, 0, reg.Count()),
		index:        make(map[string]int, reg.Count()),
		historyLimit: historyLimit,
	}
	for i := 0; i < reg.Count(); i++ {
		ins, ok := reg.At(i)
		if !ok {
			continue
		}
		price := ins.InitialPrice.Round(priceDecimals)
		l.index[ins.Symbol] = len(l.assets)
		l.assets = append(l.assets, &assetState{asset: schema.Asset{
			Symbol:     ins.Symbol,
			Name:       ins.Name,
			Class:      ins.Class,
			Price:      price,
			Open:       price,
			High:       price,
			Low:        price,
			PrevClose:  price,
			Volume:     ins.BaseVolume,
			BaseVolume: ins.BaseVolume,
			Bid:        price,
			Ask:        price,
		}})
	}
	return l, nil
}

// Len returns the number of assets.
func (l *AssetLedger) Len() int {
	return len(l.assets)
}

// Asset returns a copy of the asset state.
func (l *AssetLedger) Asset(symbol string) (schema.Asset, bool) {
	i, ok := l.index[symbol]
	if !ok {
		return schema.Asset{}, false
	}
	return l.assets[i].asset, true
}

// Price returns the current price of a symbol.
func (l *AssetLedger) Price(symbol string) (decimal.Decimal, bool) {
	i, ok := l.index[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return l.assets[i].asset.Price, true
}

// Assets returns copies of all assets in registry order.
func (l *AssetLedger) Assets() []schema.Asset {
	out := make([]schema.Asset, 0, len(l.assets))
	for _, st := range l.assets {
		out = append(out, st.asset)
	}
	return out
}

// Symbols returns all symbols in registry order.
func (l *AssetLedger) Symbols() []string {
	out := make([]string, 0, len(l.assets))
	for _, st := range l.assets {
		out = append(out, st.asset.Symbol)
	}
	return out
}

// SetPrice moves a symbol to an explicit price, keeping high/low consistent.
func (l *AssetLedger) SetPrice(symbol string, price decimal.Decimal, now time.Time) error {
	i, ok := l.index[symbol]
	if !ok {
		return exception.ErrAssetNotFound
	}
	if !price.IsPositive() {
		return exception.ErrInvalidInput
	}
	l.apply(l.assets[i], price.Round(priceDecimals), now)
	return nil
}

// Nudge moves a symbol by a fractional change, e.g. 0.01 for +1%.
func (l *AssetLedger) Nudge(symbol string, pct float64, now time.Time) error {
	i, ok := l.index[symbol]
	if !ok {
		return exception.ErrAssetNotFound
	}
	st := l.assets[i]
	next := st.asset.Price.InexactFloat64() * (1 + pct)
	l.apply(st, clampPrice(next), now)
	return nil
}

// SetQuote stores the derived bid/ask of a symbol.
func (l *AssetLedger) SetQuote(symbol string, bid, ask, spread decimal.Decimal) {
	i, ok := l.index[symbol]
	if !ok {
		return
	}
	a := &l.assets[i].asset
	a.Bid = bid
	a.Ask = ask
	a.Spread = spread
}

// Remove drops a symbol from the ledger.
func (l *AssetLedger) Remove(symbol string) bool {
	i, ok := l.index[symbol]
	if !ok {
		return false
	}
	l.assets = append(l.assets[:i], l.assets[i+1:]...)
	delete(l.index, symbol)
	for j := i; j < len(l.assets); j++ {
		l.index[l.assets[j].asset.Symbol] = j
	}
	return true
}

// History returns up to limit most recent price samples.
func (l *AssetLedger) History(symbol string, limit int) []Sample {
	i, ok := l.index[symbol]
	if !ok {
		return nil
	}
	h := l.assets[i].history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]Sample, len(h))
	copy(out, h)
	return out
}

// Window returns the prices sampled at or after since.
func (l *AssetLedger) Window(symbol string, since time.Time) []float64 {
	i, ok := l.index[symbol]
	if !ok {
		return nil
	}
	h := l.assets[i].history
	out := make([]float64, 0, len(h))
	for _, s := range h {
		if !s.At.Before(since) {
			out = append(out, s.Price)
		}
	}
	return out
}

func (l *AssetLedger) apply(st *assetState, price decimal.Decimal, now time.Time) {
	a := &st.asset
	a.Price = price
	if price.GreaterThan(a.High) {
		a.High = price
	}
	if price.LessThan(a.Low) {
		a.Low = price
	}
	if a.Open.IsPositive() {
		a.ChangePercent = price.Div(a.Open).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).Round(4)
	}
	st.history = append(st.history, Sample{At: now, Price: price.InexactFloat64()})
	if len(st.history) > l.historyLimit {
		st.history = st.history[len(st.history)-l.historyLimit:]
	}
}

// rollDay resets the daily OHLC when the virtual clock crosses into a new day.
func (l *AssetLedger) rollDay(now time.Time) {
	day := now.YearDay() + now.Year()*1000
	if l.day == 0 {
		l.day = day
		return
	}
	if day == l.day {
		return
	}
	l.day = day
	for _, st := range l.assets {
		a := &st.asset
		a.PrevClose = a.Price
		a.Open = a.Price
		a.High = a.Price
		a.Low = a.Price
		a.ChangePercent = decimal.Zero
	}
}

// State is the serialisable form of the ledger.
type State struct {
	Assets  []schema.Asset      `json:"assets"`
	History map[string][]Sample `json:"history"`
	Day     int                 `json:"day"`
}

// Export captures the ledger for snapshotting.
func (l *AssetLedger) Export() State {
	st := State{
		Assets:  l.Assets(),
		History: make(map[string][]Sample, len(l.assets)),
		Day:     l.day,
	}
	for _, a := range l.assets {
		h := make([]Sample, len(a.history))
		copy(h, a.history)
		st.History[a.asset.Symbol] = h
	}
	return st
}

// Restore replaces the ledger contents with a snapshot.
func (l *AssetLedger) Restore(st State) error {
	if len(st.Assets) == 0 {
		return exception.ErrEmptyUniverse
	}
	l.assets = make([]*assetState, 0, len(st.Assets))
	l.index = make(map[string]int, len(st.Assets))
	for _, a := range st.Assets {
		h := make([]Sample, len(st.History[a.Symbol]))
		copy(h, st.History[a.Symbol])
		l.index[a.Symbol] = len(l.assets)
		l.assets = append(l.assets, &assetState{asset: a, history: h})
	}
	l.day = st.Day
	return nil
}

func clampPrice(p float64) decimal.Decimal {
	if p < minPrice {
		p = minPrice
	}
	d := decimal.NewFromFloat(p).Round(priceDecimals)
	if !d.IsPositive() {
		d = decimal.NewFromFloat(minPrice)
	}
	return d
}
