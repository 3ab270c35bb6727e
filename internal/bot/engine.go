package bot

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

// Config tunes the strategies and bot limits.
type Config struct {
	Window               time.Duration `json:"window"`
	MeanReversionPercent float64       `json:"meanReversionPercent"`
	BreakoutDeviations   float64       `json:"breakoutDeviations"`
	MinInterval          time.Duration `json:"minInterval"`
}

// DefaultConfig returns a 5 minute breakout window with 1% and 1σ thresholds.
func DefaultConfig() Config {
	return Config{
		Window:               5 * time.Minute,
		MeanReversionPercent: 1,
		BreakoutDeviations:   1,
		MinInterval:          time.Second,
	}
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("window must be > 0")
	}
	if c.MeanReversionPercent <= 0 || c.BreakoutDeviations <= 0 {
		return fmt.Errorf("strategy thresholds must be > 0")
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("minInterval must be >= 0")
	}
	return nil
}

// Market is the read-only view a bot needs.
type Market interface {
	Asset(symbol string) (schema.Asset, bool)
	Window(symbol string, since time.Time) []float64
}

// Decision is a sized market order proposed by a bot.
type Decision struct {
	BotID  string
	Symbol string
	Side   schema.Side
	Size   decimal.Decimal
	Price  decimal.Decimal
}

// Engine owns the bot set and evaluates eligible bots each tick.
type Engine struct {
	cfg        Config
	bots       []*schema.Bot
	byID       map[string]*schema.Bot
	strategies map[schema.Strategy]Strategy
	seq        uint64
}

// NewEngine builds an engine with one instance of every strategy.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:        cfg,
		byID:       make(map[string]*schema.Bot),
		strategies: make(map[schema.Strategy]Strategy, 3),
	}
	for _, kind := range []schema.Strategy{schema.StrategyTrendFollowing, schema.StrategyMeanReversion, schema.StrategyBreakout} {
		s, err := NewStrategy(kind, cfg)
		if err != nil {
			return nil, err
		}
		e.strategies[kind] = s
	}
	return e, nil
}

// Create registers an active bot. The first evaluation is eligible immediately.
func (e *Engine) Create(symbol string, strategy schema.Strategy, capital decimal.Decimal, interval time.Duration) (schema.Bot, error) {
	if symbol == "" {
		return schema.Bot{}, errors.Wrap(exception.ErrInvalidInput, "empty symbol")
	}
	if _, ok := e.strategies[strategy]; !ok {
		return schema.Bot{}, errors.Wrap(exception.ErrInvalidInput, "unknown strategy")
	}
	if !capital.IsPositive() {
		return schema.Bot{}, errors.Wrap(exception.ErrInvalidInput, "capital must be > 0")
	}
	if interval < e.cfg.MinInterval || interval <= 0 {
		return schema.Bot{}, errors.Wrapf(exception.ErrInvalidInput, "interval must be >= %s", e.cfg.MinInterval)
	}
	e.seq++
	b := &schema.Bot{
		ID:       "bot-" + strconv.FormatUint(e.seq, 10),
		Symbol:   symbol,
		Strategy: strategy,
		Capital:  capital,
		Interval: interval,
		Active:   true,
	}
	e.bots = append(e.bots, b)
	e.byID[b.ID] = b
	return *b, nil
}

// Toggle flips a bot between active and paused.
func (e *Engine) Toggle(id string) (schema.Bot, error) {
	b, ok := e.byID[id]
	if !ok {
		return schema.Bot{}, exception.ErrBotNotFound
	}
	b.Active = !b.Active
	return *b, nil
}

// Delete removes a bot. Its open positions are untouched.
func (e *Engine) Delete(id string) error {
	b, ok := e.byID[id]
	if !ok {
		return exception.ErrBotNotFound
	}
	delete(e.byID, id)
	for i, q := range e.bots {
		if q == b {
			e.bots = append(e.bots[:i], e.bots[i+1:]...)
			break
		}
	}
	return nil
}

// Bot returns a bot by id.
func (e *Engine) Bot(id string) (schema.Bot, bool) {
	b, ok := e.byID[id]
	if !ok {
		return schema.Bot{}, false
	}
	return *b, true
}

// Bots returns copies of all bots in creation order.
func (e *Engine) Bots() []schema.Bot {
	out := make([]schema.Bot, 0, len(e.bots))
	for _, b := range e.bots {
		out = append(out, *b)
	}
	return out
}

// Evaluate runs every eligible bot and returns the sized decisions.
// Bots that hold or cannot afford a single unit produce nothing.
func (e *Engine) Evaluate(now time.Time, market Market, cond schema.MarketCondition) []Decision {
	var out []Decision
	for _, b := range e.bots {
		if !b.Active || now.Sub(b.LastTradeAt) < b.Interval {
			continue
		}
		asset, ok := market.Asset(b.Symbol)
		if !ok || !asset.Price.IsPositive() {
			continue
		}
		in := Input{Asset: asset, Condition: cond, Now: now}
		if b.Strategy == schema.StrategyBreakout {
			in.Window = market.Window(b.Symbol, now.Add(-e.cfg.Window))
		}
		side := e.strategies[b.Strategy].Decide(in)
		if side == schema.SideUnknown {
			continue
		}
		size := b.Capital.Div(asset.Price).Floor()
		if !size.IsPositive() {
			continue
		}
		out = append(out, Decision{BotID: b.ID, Symbol: b.Symbol, Side: side, Size: size, Price: asset.Price})
	}
	return out
}

// Executed records that a decision opened a position.
func (e *Engine) Executed(id string, now time.Time) {
	b, ok := e.byID[id]
	if !ok {
		return
	}
	b.LastTradeAt = now
	b.Trades++
}

// State is the serializable form of the bot set.
type State struct {
	Bots []schema.Bot `json:"bots"`
	Seq  uint64       `json:"seq"`
}

// Export copies the bot set.
func (e *Engine) Export() State {
	return State{Bots: e.Bots(), Seq: e.seq}
}

// Restore replaces the bot set.
func (e *Engine) Restore(st State) {
	e.bots = e.bots[:0]
	e.byID = make(map[string]*schema.Bot, len(st.Bots))
	for i := range st.Bots {
		b := st.Bots[i]
		e.bots = append(e.bots, &b)
		e.byID[b.ID] = &b
	}
	e.seq = st.Seq
}
