package depth

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/random"
	"tradesim/internal/schema"
)

// Config controls spread and depth synthesis.
type Config struct {
	Seed            int64   `json:"seed"`
	Levels          int     `json:"levels"`
	LevelStep       float64 `json:"levelStep"`
	EquitySpread    float64 `json:"equitySpread"`
	CryptoSpread    float64 `json:"cryptoSpread"`
	ClosedMarkup    float64 `json:"closedMarkup"`
	VolumeReference float64 `json:"volumeReference"`
}

// DefaultConfig returns a ten-level book.
func DefaultConfig() Config {
	return Config{
		Levels:          10,
		LevelStep:       0.001,
		EquitySpread:    0.001,
		CryptoSpread:    0.002,
		ClosedMarkup:    1.5,
		VolumeReference: 1000,
	}
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.Levels <= 0 {
		return fmt.Errorf("levels must be >= 1")
	}
	if c.LevelStep <= 0 || c.LevelStep*float64(c.Levels) >= 1 {
		return fmt.Errorf("levelStep must keep every level positive")
	}
	if c.EquitySpread < 0 || c.CryptoSpread < 0 {
		return fmt.Errorf("spread must be >= 0")
	}
	if c.ClosedMarkup < 1 {
		return fmt.Errorf("closedMarkup must be >= 1")
	}
	if c.VolumeReference <= 0 {
		return fmt.Errorf("volumeReference must be > 0")
	}
	return nil
}

// Quote is the derived top of book.
type Quote struct {
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Spread decimal.Decimal
}

// Simulator derives spreads and a synthetic depth view from asset state.
type Simulator struct {
	cfg   Config
	rng   *random.Source
	books map[string]schema.Depth
}

// NewSimulator creates a simulator with validation.
func NewSimulator(cfg Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Simulator{
		cfg:   cfg,
		rng:   random.New(cfg.Seed),
		books: make(map[string]schema.Depth),
	}, nil
}

// Reseed resets the random stream.
func (s *Simulator) Reseed(seed int64) {
	s.rng.Reseed(seed)
}

// Random returns the random stream.
func (s *Simulator) Random() *random.Source {
	return s.rng
}

// SpreadPercent returns the relative spread for an asset.
func (s *Simulator) SpreadPercent(a schema.Asset, volMultiplier float64, marketOpen bool) float64 {
	base := s.cfg.EquitySpread
	if a.Class == schema.AssetClassCrypto {
		base = s.cfg.CryptoSpread
	}
	volume := float64(a.Volume)
	if volume <= 0 {
		volume = 1
	}
	liquidity := 1 + 1/math.Sqrt(volume/s.cfg.VolumeReference)
	if volMultiplier < 1 {
		volMultiplier = 1
	}
	stress := 1 + (volMultiplier-1)*2
	session := 1.0
	if !marketOpen {
		session = s.cfg.ClosedMarkup
	}
	return base * liquidity * stress * session
}

// Update rebuilds the quote and depth of an asset.
func (s *Simulator) Update(a schema.Asset, volMultiplier float64, marketOpen bool) (Quote, schema.Depth) {
	pct := s.SpreadPercent(a, volMultiplier, marketOpen)
	price := a.Price.InexactFloat64()
	half := price * pct / 2
	bid := price - half
	ask := price + half
	if bid <= 0 {
		bid = price
	}

	perLevel := float64(a.Volume) / 100
	book := schema.Depth{
		Symbol: a.Symbol,
		Bids:   make([]schema.DepthLevel, 0, s.cfg.Levels),
		Asks:   make([]schema.DepthLevel, 0, s.cfg.Levels),
	}
	var bidTotal, askTotal float64
	for i := 0; i < s.cfg.Levels; i++ {
		decay := math.Exp(-float64(i) / 3)
		bv := perLevel * decay * (0.8 + s.rng.Float64()*0.4)
		av := perLevel * decay * (0.8 + s.rng.Float64()*0.4)
		bidTotal += bv
		askTotal += av
		book.Bids = append(book.Bids, schema.DepthLevel{
			Price:  decimal.NewFromFloat(bid * (1 - s.cfg.LevelStep*float64(i))).Round(4),
			Volume: decimal.NewFromFloat(bv).Round(2),
		})
		book.Asks = append(book.Asks, schema.DepthLevel{
			Price:  decimal.NewFromFloat(ask * (1 + s.cfg.LevelStep*float64(i))).Round(4),
			Volume: decimal.NewFromFloat(av).Round(2),
		})
	}
	if total := bidTotal + askTotal; total > 0 {
		book.Imbalance = (bidTotal - askTotal) / total
	}
	s.books[a.Symbol] = book

	q := Quote{
		Bid: decimal.NewFromFloat(bid).Round(4),
		Ask: decimal.NewFromFloat(ask).Round(4),
	}
	q.Spread = q.Ask.Sub(q.Bid)
	return q, book
}

// Imbalance returns the last computed bid/ask volume imbalance in [-1, 1].
func (s *Simulator) Imbalance(symbol string) float64 {
	if s == nil {
		return 0
	}
	return s.books[symbol].Imbalance
}

// Book returns the last depth view of a symbol.
func (s *Simulator) Book(symbol string) (schema.Depth, bool) {
	b, ok := s.books[symbol]
	return b, ok
}

// Imbalances exports the per-symbol imbalance for snapshotting.
func (s *Simulator) Imbalances() map[string]float64 {
	out := make(map[string]float64, len(s.books))
	for sym, b := range s.books {
		out[sym] = b.Imbalance
	}
	return out
}

// RestoreImbalances seeds imbalance values without rebuilding the levels.
func (s *Simulator) RestoreImbalances(in map[string]float64) {
	s.books = make(map[string]schema.Depth, len(in))
	for sym, v := range in {
		s.books[sym] = schema.Depth{Symbol: sym, Imbalance: v}
	}
}
