package core

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradesim/internal/orderbook"
	"tradesim/internal/risk"
	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

// OrderRequest is a user order as received from the command surface.
type OrderRequest struct {
	Symbol     string           `json:"symbol"`
	Side       schema.Side      `json:"side"`
	Kind       schema.OrderKind `json:"kind"`
	Size       decimal.Decimal  `json:"size"`
	LimitPrice *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice  *decimal.Decimal `json:"stopPrice,omitempty"`
	UseMargin  bool             `json:"useMargin"`
	Leverage   int              `json:"leverage"`
}

// SubmitOrder validates an order, runs the risk gate and queues it for the next tick.
// Non-market orders must be affordable at their trigger price when placed.
func (e *Engine) SubmitOrder(req OrderRequest) (schema.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o := schema.Order{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Kind:       req.Kind,
		Size:       req.Size,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		UseMargin:  req.UseMargin,
		Leverage:   req.Leverage,
		Owner:      schema.OwnerUser,
		CreatedAt:  e.st.clock,
	}
	if o.Leverage == 0 {
		o.Leverage = 1
	}
	if err := orderbook.Validate(o); err != nil {
		return schema.Order{}, err
	}
	price, ok := e.st.assets.Price(o.Symbol)
	if !ok {
		return schema.Order{}, errors.Wrapf(exception.ErrInvalidInput, "unknown symbol %s", o.Symbol)
	}
	ref := triggerPrice(o, price)
	if _, err := e.st.ledger.Quote(openRequest(o), ref); err != nil {
		return schema.Order{}, err
	}
	if decision := e.evaluateRisk(o, price); !decision.Allowed() {
		return schema.Order{}, errors.Wrapf(exception.ErrRiskRejected, "%s", decision.Reason)
	}
	if o.Kind != schema.OrderKindMarket {
		if err := e.st.ledger.CheckFunds(openRequest(o), ref); err != nil {
			return schema.Order{}, err
		}
	}
	placed, err := e.st.book.Submit(o)
	if err != nil {
		return schema.Order{}, err
	}
	e.notify(schema.LevelInfo, "order", fmt.Sprintf("%s %s order for %s %s placed", placed.Kind, placed.Side, placed.Size, placed.Symbol))
	return placed, nil
}

// CancelOrder cancels a pending order.
func (e *Engine) CancelOrder(id string) (schema.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.st.book.Cancel(id, "cancelled by user", e.st.clock)
	if errors.Is(err, orderbook.ErrInvalidTransition) {
		return o, exception.ErrOrderNotPending
	}
	if err != nil {
		return schema.Order{}, err
	}
	e.notify(schema.LevelInfo, "order", fmt.Sprintf("Order %s cancelled", id))
	return o, nil
}

// ClosePosition realizes a position at the current price.
func (e *Engine) ClosePosition(id string) (schema.TradeRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.st.ledger.Position(id)
	if !ok {
		return schema.TradeRecord{}, exception.ErrPositionNotFound
	}
	price, ok := e.st.assets.Price(p.Symbol)
	if !ok {
		price = p.CurrentPrice
	}
	tr, ok := e.st.ledger.ClosePosition(id, price, schema.CloseReasonManual, e.st.clock)
	if !ok {
		return schema.TradeRecord{}, exception.ErrPositionNotFound
	}
	e.closed(tr)
	return tr, nil
}

// SetPositionLimits replaces the stop-loss and take-profit of a position. Nil clears a limit.
func (e *Engine) SetPositionLimits(id string, stopLoss, takeProfit *decimal.Decimal) (schema.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.ledger.SetPositionLimits(id, stopLoss, takeProfit)
}

// CreateBot starts an autonomous strategy on a listed symbol.
func (e *Engine) CreateBot(symbol string, strategy schema.Strategy, capital decimal.Decimal, interval time.Duration) (schema.Bot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.st.assets.Asset(symbol); !ok {
		return schema.Bot{}, errors.Wrapf(exception.ErrInvalidInput, "unknown symbol %s", symbol)
	}
	b, err := e.st.bots.Create(symbol, strategy, capital, interval)
	if err != nil {
		return schema.Bot{}, err
	}
	e.notify(schema.LevelInfo, "bot", fmt.Sprintf("Bot %s (%s) created on %s", b.ID, b.Strategy, b.Symbol))
	return b, nil
}

// ToggleBot flips a bot between active and paused.
func (e *Engine) ToggleBot(id string) (schema.Bot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.bots.Toggle(id)
}

// DeleteBot removes a bot. Its open positions stay in the ledger.
func (e *Engine) DeleteBot(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.bots.Delete(id)
}

// SetSpeed changes the clock multiplier from the next tick on.
func (e *Engine) SetSpeed(speed float64) error {
	if speed < MinSpeed || speed > MaxSpeed {
		return errors.Wrapf(exception.ErrInvalidSpeed, "speed %.2f", speed)
	}
	e.mu.Lock()
	e.st.speed = speed
	e.mu.Unlock()
	e.signal()
	return nil
}

// Speed returns the clock multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.speed
}

// Play resumes the scheduler.
func (e *Engine) Play() {
	e.setRunning(true)
}

// Pause stops the scheduler. Missed ticks are not replayed on resume.
func (e *Engine) Pause() {
	e.setRunning(false)
}

// Running reports whether the scheduler should tick.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.running
}

func (e *Engine) setRunning(running bool) {
	e.mu.Lock()
	e.st.running = running
	e.mu.Unlock()
	e.signal()
}

// Period is the wall time between two ticks at the current speed.
func (e *Engine) Period() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Duration(float64(e.cfg.TickInterval) / e.st.speed)
}

// SetMarketCondition overrides the global regime until the next cycle redraw.
func (e *Engine) SetMarketCondition(cond schema.MarketCondition) schema.MarketCondition {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st.condition = cond
	return cond
}

// UpdateRisk swaps the pre-trade limits.
func (e *Engine) UpdateRisk(cfg risk.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st.risk = risk.NewEngine(cfg)
}

// RiskVersion returns the version of the active limits.
func (e *Engine) RiskVersion() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.risk.Config().Version
}

// AddPriceAlert registers a one-shot alert on a listed symbol.
func (e *Engine) AddPriceAlert(symbol string, cond schema.AlertCondition, target decimal.Decimal) (schema.PriceAlert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.st.assets.Asset(symbol); !ok {
		return schema.PriceAlert{}, errors.Wrapf(exception.ErrInvalidInput, "unknown symbol %s", symbol)
	}
	if !target.IsPositive() {
		return schema.PriceAlert{}, errors.Wrap(exception.ErrInvalidInput, "target must be > 0")
	}
	if cond != schema.AlertAbove && cond != schema.AlertBelow {
		return schema.PriceAlert{}, errors.Wrap(exception.ErrInvalidInput, "unknown alert condition")
	}
	e.st.alertSeq++
	a := schema.PriceAlert{
		ID:        "alert-" + strconv.FormatUint(e.st.alertSeq, 10),
		Symbol:    symbol,
		Condition: cond,
		Target:    target,
		CreatedAt: e.st.clock,
	}
	e.st.alerts = append(e.st.alerts, a)
	return a, nil
}

// RemovePriceAlert deletes an alert.
func (e *Engine) RemovePriceAlert(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, a := range e.st.alerts {
		if a.ID == id {
			e.st.alerts = append(e.st.alerts[:i], e.st.alerts[i+1:]...)
			return nil
		}
	}
	return exception.ErrAlertNotFound
}

// Notifications returns up to limit notifications, newest first.
func (e *Engine) Notifications(limit int) []schema.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notifications(limit)
}

func (e *Engine) notifications(limit int) []schema.Notification {
	n := len(e.st.notes)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]schema.Notification, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.st.notes[i])
	}
	return out
}

func triggerPrice(o schema.Order, market decimal.Decimal) decimal.Decimal {
	switch o.Kind {
	case schema.OrderKindLimit, schema.OrderKindStopLimit:
		return *o.LimitPrice
	case schema.OrderKindStop:
		return *o.StopPrice
	default:
		return market
	}
}
