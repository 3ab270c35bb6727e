package risk

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"tradesim/internal/schema"
)

// Config defines simple pre-trade limits. Zero values disable a check.
type Config struct {
	Version              uint16          `json:"version"`
	KillSwitch           bool            `json:"killSwitch"`
	MaxOrderSize         decimal.Decimal `json:"maxOrderSize"`
	MaxOrderNotional     decimal.Decimal `json:"maxOrderNotional"`
	MaxLeverage          int             `json:"maxLeverage"`
	MaxOpenPositions     int             `json:"maxOpenPositions"`
	MaxPosition          decimal.Decimal `json:"maxPosition"`
	OrderRateLimit       int             `json:"orderRateLimit"`
	OrderRateWindow      time.Duration   `json:"orderRateWindow"`
	MaxPriceDeviationBps int64           `json:"maxPriceDeviationBps"`
}

// StateView provides the market and account context of an order.
// Position is the signed net size already held in the symbol.
type StateView struct {
	ReferencePrice decimal.Decimal
	Position       decimal.Decimal
	OpenPositions  int
	Now            time.Time
}

// Engine evaluates risk decisions.
type Engine struct {
	cfg     Config
	limiter *rate.Limiter
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	e := &Engine{cfg: cfg}
	if cfg.OrderRateLimit > 0 && cfg.OrderRateWindow > 0 {
		every := cfg.OrderRateWindow / time.Duration(cfg.OrderRateLimit)
		e.limiter = rate.NewLimiter(rate.Every(every), cfg.OrderRateLimit)
	}
	return e
}

// Config returns the active limits.
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate applies the configured checks to an order.
func (e *Engine) Evaluate(o schema.Order, state StateView) schema.RiskDecision {
	price := orderPrice(o, state.ReferencePrice)
	decision := schema.RiskDecision{
		OrderID:       o.ID,
		Owner:         o.Owner,
		Symbol:        o.Symbol,
		Action:        schema.RiskActionAllow,
		Reason:        schema.RiskReasonNone,
		Version:       e.cfg.Version,
		ProposedSize:  o.Size,
		ProposedPrice: price,
		Notional:      o.Size.Mul(price),
	}

	now := state.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if e.cfg.KillSwitch {
		return deny(decision, schema.RiskReasonKillSwitch)
	}

	if e.limiter != nil && !e.limiter.AllowN(now, 1) {
		return deny(decision, schema.RiskReasonRateLimit)
	}

	if e.cfg.MaxOrderSize.IsPositive() && o.Size.GreaterThan(e.cfg.MaxOrderSize) {
		return deny(decision, schema.RiskReasonMaxQty)
	}

	if e.cfg.MaxLeverage > 0 && o.Leverage > e.cfg.MaxLeverage {
		return deny(decision, schema.RiskReasonLeverage)
	}

	if e.cfg.MaxPriceDeviationBps > 0 && o.Kind != schema.OrderKindMarket && state.ReferencePrice.IsPositive() {
		diff := price.Sub(state.ReferencePrice).Abs()
		if exceedsDeviation(diff, state.ReferencePrice, e.cfg.MaxPriceDeviationBps) {
			return deny(decision, schema.RiskReasonPriceBand)
		}
	}

	if e.cfg.MaxOrderNotional.IsPositive() && decision.Notional.GreaterThan(e.cfg.MaxOrderNotional) {
		return deny(decision, schema.RiskReasonMaxNotional)
	}

	if e.cfg.MaxOpenPositions > 0 && state.OpenPositions >= e.cfg.MaxOpenPositions {
		return deny(decision, schema.RiskReasonPositionLimit)
	}

	if e.cfg.MaxPosition.IsPositive() {
		next := state.Position.Add(o.Size)
		if o.Side == schema.SideShort {
			next = state.Position.Sub(o.Size)
		}
		if next.Abs().GreaterThan(e.cfg.MaxPosition) {
			return deny(decision, schema.RiskReasonMaxPosition)
		}
	}

	return decision
}

func deny(d schema.RiskDecision, reason schema.RiskReason) schema.RiskDecision {
	d.Action = schema.RiskActionDeny
	d.Reason = reason
	return d
}

func orderPrice(o schema.Order, reference decimal.Decimal) decimal.Decimal {
	switch o.Kind {
	case schema.OrderKindLimit, schema.OrderKindStopLimit:
		if o.LimitPrice != nil {
			return *o.LimitPrice
		}
	case schema.OrderKindStop:
		if o.StopPrice != nil {
			return *o.StopPrice
		}
	}
	return reference
}

func exceedsDeviation(diff, ref decimal.Decimal, bps int64) bool {
	if !diff.IsPositive() || !ref.IsPositive() || bps <= 0 {
		return false
	}
	lhs := diff.Mul(decimal.NewFromInt(10000))
	rhs := ref.Mul(decimal.NewFromInt(bps))
	return lhs.GreaterThan(rhs)
}
