package ops

import (
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradesim/internal/bot"
	"tradesim/internal/core"
	"tradesim/internal/depth"
	"tradesim/internal/ledger"
	"tradesim/internal/market"
	"tradesim/internal/news"
	"tradesim/internal/risk"
	"tradesim/internal/schema"
	"tradesim/internal/volatility"
)

// FileConfig mirrors the JSON config layout. Omitted sections keep their defaults.
type FileConfig struct {
	Seed         int64              `json:"seed"`
	TickInterval time.Duration      `json:"tickInterval"`
	Speed        float64            `json:"speed"`
	Instruments  []InstrumentConfig `json:"instruments"`
	Market       market.Config      `json:"market"`
	News         news.Config        `json:"news"`
	Volatility   volatility.Config  `json:"volatility"`
	Depth        depth.Config       `json:"depth"`
	Ledger       ledger.Config      `json:"ledger"`
	Bots         bot.Config         `json:"bots"`
	Risk         risk.Config        `json:"risk"`
	Features     FeatureFlagsConfig `json:"features"`
	Server       ServerConfig       `json:"server"`
}

// InstrumentConfig describes one tradable symbol.
type InstrumentConfig struct {
	Symbol       string            `json:"symbol"`
	Name         string            `json:"name"`
	Class        schema.AssetClass `json:"class"`
	InitialPrice decimal.Decimal   `json:"initialPrice"`
	BaseVolume   int64             `json:"baseVolume"`
}

// FeatureFlagsConfig captures optional subsystem switches.
type FeatureFlagsConfig struct {
	EnableNews           *bool `json:"enableNews"`
	EnableVolatility     *bool `json:"enableVolatility"`
	EnableBots           *bool `json:"enableBots"`
	EnableConditionCycle *bool `json:"enableConditionCycle"`
	EnableDepth          *bool `json:"enableDepth"`
}

// ServerConfig controls the HTTP and websocket surfaces.
type ServerConfig struct {
	Addr         string  `json:"addr"`
	RateLimit    float64 `json:"rateLimit"`
	RateBurst    int     `json:"rateBurst"`
	PushCapacity int     `json:"pushCapacity"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry *schema.Registry
	Engine   core.Config
	Server   ServerConfig
}

// Default returns the built-in configuration.
func Default() Loaded {
	loaded, _ := resolve(defaultFileConfig())
	return loaded
}

// Load reads a JSON config file and resolves it on top of the defaults.
func Load(path string) (Loaded, error) {
	f, err := os.Open(path)
	if err != nil {
		return Loaded{}, err
	}
	defer f.Close()

	cfg := defaultFileConfig()
	if err := sonic.ConfigFastest.NewDecoder(f).Decode(&cfg); err != nil {
		return Loaded{}, errors.Wrapf(err, "decode config %s", path)
	}
	return resolve(cfg)
}

func defaultFileConfig() FileConfig {
	engine := core.DefaultConfig()
	return FileConfig{
		TickInterval: engine.TickInterval,
		Speed:        engine.Speed,
		Market:       engine.Market,
		News:         engine.News,
		Volatility:   engine.Volatility,
		Depth:        engine.Depth,
		Ledger:       engine.Ledger,
		Bots:         engine.Bots,
		Risk:         engine.Risk,
		Server: ServerConfig{
			Addr:         ":8080",
			RateLimit:    20,
			RateBurst:    40,
			PushCapacity: 64,
		},
	}
}

func resolve(cfg FileConfig) (Loaded, error) {
	registry, err := buildRegistry(cfg.Instruments)
	if err != nil {
		return Loaded{}, err
	}
	engine := core.DefaultConfig()
	engine.Seed = cfg.Seed
	engine.TickInterval = cfg.TickInterval
	engine.Speed = cfg.Speed
	engine.Market = cfg.Market
	engine.News = cfg.News
	engine.Volatility = cfg.Volatility
	engine.Depth = cfg.Depth
	engine.Ledger = cfg.Ledger
	engine.Bots = cfg.Bots
	engine.Risk = cfg.Risk
	engine.Features = resolveFeatures(cfg.Features)
	if err := engine.Validate(); err != nil {
		return Loaded{}, err
	}
	if cfg.Server.Addr == "" {
		return Loaded{}, errors.New("server addr is empty")
	}
	return Loaded{
		Registry: registry,
		Engine:   engine,
		Server:   cfg.Server,
	}, nil
}

func buildRegistry(instruments []InstrumentConfig) (*schema.Registry, error) {
	if len(instruments) == 0 {
		return schema.DefaultRegistry(), nil
	}
	reg := schema.NewRegistry()
	for _, ins := range instruments {
		if _, err := reg.Add(schema.Instrument{
			Symbol:       ins.Symbol,
			Name:         ins.Name,
			Class:        ins.Class,
			InitialPrice: ins.InitialPrice,
			BaseVolume:   ins.BaseVolume,
		}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func resolveFeatures(cfg FeatureFlagsConfig) core.Features {
	flags := core.Features{
		News:           true,
		Volatility:     true,
		Bots:           true,
		ConditionCycle: true,
		Depth:          true,
	}
	if cfg.EnableNews != nil {
		flags.News = *cfg.EnableNews
	}
	if cfg.EnableVolatility != nil {
		flags.Volatility = *cfg.EnableVolatility
	}
	if cfg.EnableBots != nil {
		flags.Bots = *cfg.EnableBots
	}
	if cfg.EnableConditionCycle != nil {
		flags.ConditionCycle = *cfg.EnableConditionCycle
	}
	if cfg.EnableDepth != nil {
		flags.Depth = *cfg.EnableDepth
	}
	return flags
}
