package core

import (
	"time"

	"github.com/yanun0323/errors"

	"tradesim/internal/bot"
	"tradesim/internal/depth"
	"tradesim/internal/ledger"
	"tradesim/internal/market"
	"tradesim/internal/news"
	"tradesim/internal/risk"
	"tradesim/internal/volatility"
	"tradesim/pkg/exception"
)

const (
	MinSpeed = 1
	MaxSpeed = 10
)

// Features toggles optional subsystems of the tick loop.
type Features struct {
	News           bool
	Volatility     bool
	Bots           bool
	ConditionCycle bool
	Depth          bool
}

// Config is the resolved engine configuration.
// Subsystem seeds are derived from Seed as Seed, Seed+1, ... in a fixed order.
type Config struct {
	Seed           int64
	TickInterval   time.Duration
	Speed          float64
	HistoryLimit   int
	ConditionEvery int
	Notifications  int
	OrderHistory   int
	Session        market.Session
	Market         market.Config
	News           news.Config
	Volatility     volatility.Config
	Depth          depth.Config
	Ledger         ledger.Config
	Bots           bot.Config
	Risk           risk.Config
	Features       Features
}

// DefaultConfig returns a one-second tick at normal speed with every subsystem on.
func DefaultConfig() Config {
	return Config{
		TickInterval:   time.Second,
		Speed:          1,
		HistoryLimit:   600,
		ConditionEvery: 10,
		Notifications:  100,
		OrderHistory:   200,
		Session:        market.DefaultSession(),
		Market:         market.DefaultConfig(),
		News:           news.DefaultConfig(),
		Volatility:     volatility.DefaultConfig(),
		Depth:          depth.DefaultConfig(),
		Ledger:         ledger.DefaultConfig(),
		Bots:           bot.DefaultConfig(),
		Features: Features{
			News:           true,
			Volatility:     true,
			Bots:           true,
			ConditionCycle: true,
			Depth:          true,
		},
	}
}

// Validate checks the engine level fields and every subsystem config.
func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return errors.Wrap(exception.ErrInvalidInput, "tickInterval must be > 0")
	}
	if c.Speed < MinSpeed || c.Speed > MaxSpeed {
		return errors.Wrapf(exception.ErrInvalidSpeed, "speed %.2f", c.Speed)
	}
	if c.HistoryLimit < 0 || c.Notifications < 0 || c.OrderHistory < 0 {
		return errors.Wrap(exception.ErrInvalidInput, "limits must be >= 0")
	}
	checks := []struct {
		name string
		fn   func() error
	}{
		{"market", c.Market.Validate},
		{"news", c.News.Validate},
		{"volatility", c.Volatility.Validate},
		{"depth", c.Depth.Validate},
		{"ledger", c.Ledger.Validate},
		{"bots", c.Bots.Validate},
	}
	for _, chk := range checks {
		if err := chk.fn(); err != nil {
			return errors.Wrapf(err, "%s config", chk.name)
		}
	}
	return nil
}

// subsystem seed offsets
const (
	seedMarket = iota
	seedNews
	seedVolatility
	seedDepth
	seedCondition
)
