package market

import (
	"fmt"
	"math"
	"time"

	"tradesim/internal/random"
	"tradesim/internal/schema"
)

const minPrice = 0.0001

// Config controls the price model.
type Config struct {
	Seed            int64   `json:"seed"`
	BaseVolatility  float64 `json:"baseVolatility"`
	DepthWeight     float64 `json:"depthWeight"`
	EquityTrend     float64 `json:"equityTrend"`
	CryptoTrend     float64 `json:"cryptoTrend"`
	EquitySentiment float64 `json:"equitySentiment"`
	CryptoSentiment float64 `json:"cryptoSentiment"`
}

// DefaultConfig returns the tuned simulator constants.
func DefaultConfig() Config {
	return Config{
		BaseVolatility:  0.002,
		DepthWeight:     0.3,
		EquityTrend:     0.002,
		CryptoTrend:     0.003,
		EquitySentiment: 0.001,
		CryptoSentiment: 0.002,
	}
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.BaseVolatility <= 0 || c.BaseVolatility > 1 {
		return fmt.Errorf("baseVolatility must be in (0, 1]")
	}
	if c.DepthWeight < 0 {
		return fmt.Errorf("depthWeight must be >= 0")
	}
	if c.EquityTrend < 0 || c.CryptoTrend < 0 {
		return fmt.Errorf("trend bias must be >= 0")
	}
	if c.EquitySentiment < 0 || c.CryptoSentiment < 0 {
		return fmt.Errorf("sentiment weight must be >= 0")
	}
	return nil
}

// Inputs are the read-mostly modifiers consumed by one Advance call.
type Inputs struct {
	Now                  time.Time
	Condition            schema.MarketCondition
	VolatilityMultiplier float64
	Speed                float64
	NewsImpact           func(symbol string) float64
	Imbalance            func(symbol string) float64
}

// Model computes per-tick price changes.
type Model struct {
	cfg Config
	rng *random.Source
}

// NewModel creates a price model with its own random stream.
func NewModel(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Model{
		cfg: cfg,
		rng: random.New(cfg.Seed),
	}, nil
}

// Reseed resets the random stream.
func (m *Model) Reseed(seed int64) {
	m.rng.Reseed(seed)
}

// Random returns the random stream.
func (m *Model) Random() *random.Source {
	return m.rng
}

// Advance moves every asset in the ledger by one tick.
func (m *Model) Advance(l *AssetLedger, in Inputs) {
	l.rollDay(in.Now)
	mult := in.VolatilityMultiplier
	if mult <= 0 {
		mult = 1
	}
	speed := in.Speed
	if speed <= 0 {
		speed = 1
	}
	tf := TimeFactor(in.Now)
	for _, st := range l.assets {
		a := &st.asset
		baseVol := m.regimeVolatility(a.Class, in.Condition.Volatility) * mult
		randomWalk := (m.rng.Float64()*2 - 1) * baseVol
		trend := m.trendBias(a.Class, in.Condition.Trend)
		sentiment := in.Condition.Sentiment.Score() * m.sentimentWeight(a.Class)
		var depth, news float64
		if in.Imbalance != nil {
			depth = in.Imbalance(a.Symbol) * baseVol * m.cfg.DepthWeight
		}
		if in.NewsImpact != nil {
			news = in.NewsImpact(a.Symbol)
		}
		change := (randomWalk + trend + sentiment + depth + news) * speed

		next := clampPrice(a.Price.InexactFloat64() * (1 + change))
		l.apply(st, next, in.Now)
		a.Volume = m.volume(a.BaseVolume, change, tf)
	}
}

func (m *Model) volume(base int64, change, timeFactor float64) int64 {
	v := float64(base) * (0.8 + math.Abs(change)/m.cfg.BaseVolatility*0.4 + timeFactor*0.3)
	if v < 0 {
		return 0
	}
	return int64(math.Round(v))
}

func (m *Model) regimeVolatility(class schema.AssetClass, regime schema.VolatilityRegime) float64 {
	v := m.cfg.BaseVolatility
	if class == schema.AssetClassCrypto {
		switch regime {
		case schema.VolatilityHigh:
			return 3 * v
		case schema.VolatilityMedium:
			return 2 * v
		default:
			return v
		}
	}
	switch regime {
	case schema.VolatilityHigh:
		return 2 * v
	case schema.VolatilityMedium:
		return v
	default:
		return 0.5 * v
	}
}

func (m *Model) trendBias(class schema.AssetClass, trend schema.Trend) float64 {
	k := m.cfg.EquityTrend
	if class == schema.AssetClassCrypto {
		k = m.cfg.CryptoTrend
	}
	switch trend {
	case schema.TrendUp:
		return k
	case schema.TrendDown:
		return -k
	default:
		return 0
	}
}

func (m *Model) sentimentWeight(class schema.AssetClass) float64 {
	if class == schema.AssetClassCrypto {
		return m.cfg.CryptoSentiment
	}
	return m.cfg.EquitySentiment
}

// TimeFactor peaks near the 09:30 open and the 16:00 close.
func TimeFactor(t time.Time) float64 {
	hour := float64(t.Hour()) + float64(t.Minute())/60
	open := math.Exp(-math.Pow(hour-9.5, 2) / 2)
	closing := math.Exp(-math.Pow(hour-16, 2) / 2)
	return math.Max(open, closing)
}
