package ledger

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Config holds the account and execution cost parameters.
type Config struct {
	InitialCash     decimal.Decimal `json:"initialCash"`
	CommissionRate  decimal.Decimal `json:"commissionRate"`
	SlippageBase    decimal.Decimal `json:"slippageBase"`
	SlippageScale   decimal.Decimal `json:"slippageScale"`
	SlippageSizeRef decimal.Decimal `json:"slippageSizeRef"`
	MaxLeverage     int             `json:"maxLeverage"`
	MarginCallLevel float64         `json:"marginCallLevel"`
	TradeHistory    int             `json:"tradeHistory"`
}

// DefaultConfig returns a 100k account with 0.1% commission and up to 10x leverage.
func DefaultConfig() Config {
	return Config{
		InitialCash:     decimal.NewFromInt(100_000),
		CommissionRate:  decimal.RequireFromString("0.001"),
		SlippageBase:    decimal.RequireFromString("0.001"),
		SlippageScale:   decimal.RequireFromString("0.004"),
		SlippageSizeRef: decimal.NewFromInt(1000),
		MaxLeverage:     10,
		MarginCallLevel: 50,
		TradeHistory:    500,
	}
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.InitialCash.IsNegative() {
		return fmt.Errorf("initialCash must be >= 0")
	}
	if c.CommissionRate.IsNegative() || c.SlippageBase.IsNegative() || c.SlippageScale.IsNegative() {
		return fmt.Errorf("commission and slippage must be >= 0")
	}
	if !c.SlippageSizeRef.IsPositive() {
		return fmt.Errorf("slippageSizeRef must be > 0")
	}
	if c.MaxLeverage < 1 {
		return fmt.Errorf("maxLeverage must be >= 1")
	}
	return nil
}

// OpenRequest describes a position to open at the current market price.
type OpenRequest struct {
	Symbol     string
	Side       schema.Side
	Size       decimal.Decimal
	UseMargin  bool
	Leverage   int
	Owner      string
	OrderID    string
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

// Ledger is the accounting core: cash, margin, positions and trade history.
type Ledger struct {
	cfg             Config
	cash            decimal.Decimal
	equity          decimal.Decimal
	marginUsed      decimal.Decimal
	marginAvailable decimal.Decimal
	realized        decimal.Decimal
	positions       []*schema.Position
	byID            map[string]*schema.Position
	trades          []schema.TradeRecord
	curve           equityCurve
	progress        schema.Progress
	marginCall      bool
	seq             uint64
}

// New creates a ledger funded with the initial cash.
func New(cfg Config) (*Ledger, error) {
	if cfg.TradeHistory <= 0 {
		cfg.TradeHistory = 500
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		cfg:             cfg,
		cash:            cfg.InitialCash,
		equity:          cfg.InitialCash,
		marginAvailable: cfg.InitialCash,
		byID:            make(map[string]*schema.Position),
		progress:        schema.Progress{Level: 1, ToNext: 100},
	}, nil
}

// Cost is the funds required to open a request at a price.
type Cost struct {
	Notional          decimal.Decimal
	LeveragedNotional decimal.Decimal
	Commission        decimal.Decimal
	Margin            decimal.Decimal
}

// Quote prices a request without mutating the ledger.
func (l *Ledger) Quote(req OpenRequest, price decimal.Decimal) (Cost, error) {
	if err := l.validate(req, price); err != nil {
		return Cost{}, err
	}
	lev := leverageOf(req)
	notional := req.Size.Mul(price)
	c := Cost{
		Notional:          notional,
		LeveragedNotional: notional,
		Commission:        notional.Mul(l.cfg.CommissionRate),
	}
	if req.UseMargin {
		c.LeveragedNotional = notional.Mul(decimal.NewFromInt(int64(lev)))
		c.Margin = notional.Mul(decimal.NewFromInt(int64(lev - 1)))
	}
	return c, nil
}

// CheckFunds reports whether the request could be opened at price right now.
func (l *Ledger) CheckFunds(req OpenRequest, price decimal.Decimal) error {
	c, err := l.Quote(req, price)
	if err != nil {
		return err
	}
	return l.afford(c)
}

// OpenPosition debits cash and margin and records a new position.
// Either every balance changes or none does.
func (l *Ledger) OpenPosition(req OpenRequest, marketPrice decimal.Decimal, now time.Time) (schema.Position, error) {
	c, err := l.Quote(req, marketPrice)
	if err != nil {
		return schema.Position{}, err
	}
	if err := l.afford(c); err != nil {
		return schema.Position{}, err
	}

	slip := l.SlippagePercent(req.Size)
	exec := marketPrice.Mul(one.Add(slip))
	if req.Side == schema.SideShort {
		exec = marketPrice.Mul(one.Sub(slip))
	}

	l.cash = l.cash.Sub(c.Notional).Sub(c.Commission)
	l.marginUsed = l.marginUsed.Add(c.Margin)
	l.marginAvailable = l.marginAvailable.Sub(c.Margin)

	l.seq++
	p := &schema.Position{
		ID:           "pos-" + strconv.FormatUint(l.seq, 10),
		Symbol:       req.Symbol,
		Side:         req.Side,
		EntryPrice:   exec,
		Size:         req.Size,
		Leverage:     leverageOf(req),
		Commission:   c.Commission,
		MarginHeld:   c.Margin,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		Owner:        req.Owner,
		OrderID:      req.OrderID,
		CreatedAt:    now,
		CurrentPrice: marketPrice,
	}
	if p.Owner == "" {
		p.Owner = schema.OwnerUser
	}
	p.PnL, p.PnLPercent = pnl(p, marketPrice)
	l.positions = append(l.positions, p)
	l.byID[p.ID] = p
	l.revalue()
	return *p, nil
}

// ClosePosition realizes a position at price. An unknown id is a no-op.
func (l *Ledger) ClosePosition(id string, price decimal.Decimal, reason schema.CloseReason, now time.Time) (schema.TradeRecord, bool) {
	p, ok := l.byID[id]
	if !ok {
		return schema.TradeRecord{}, false
	}
	notional := p.Size.Mul(price)
	exitCommission := notional.Mul(l.cfg.CommissionRate)
	realized, _ := pnl(p, price)

	l.cash = l.cash.Add(notional).Sub(exitCommission)
	l.marginUsed = l.marginUsed.Sub(p.MarginHeld)
	l.marginAvailable = l.marginAvailable.Add(p.MarginHeld)
	l.realized = l.realized.Add(realized)
	l.remove(p)

	rec := schema.TradeRecord{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		Size:       p.Size,
		Leverage:   p.Leverage,
		PnL:        realized,
		Commission: p.Commission.Add(exitCommission),
		Reason:     reason,
		Owner:      p.Owner,
		OpenedAt:   p.CreatedAt,
		ClosedAt:   now,
	}
	l.trades = append(l.trades, rec)
	if len(l.trades) > l.cfg.TradeHistory {
		l.trades = l.trades[len(l.trades)-l.cfg.TradeHistory:]
	}
	l.progress = advanceProgress(l.progress, realized)
	l.revalue()
	return rec, true
}

// SetPositionLimits replaces the stop-loss and take-profit of a position.
// A nil value clears the limit.
func (l *Ledger) SetPositionLimits(id string, stopLoss, takeProfit *decimal.Decimal) (schema.Position, error) {
	p, ok := l.byID[id]
	if !ok {
		return schema.Position{}, exception.ErrPositionNotFound
	}
	if stopLoss != nil && !stopLoss.IsPositive() {
		return schema.Position{}, errors.Wrap(exception.ErrInvalidInput, "stop loss must be > 0")
	}
	if takeProfit != nil && !takeProfit.IsPositive() {
		return schema.Position{}, errors.Wrap(exception.ErrInvalidInput, "take profit must be > 0")
	}
	p.StopLoss = copyDecimal(stopLoss)
	p.TakeProfit = copyDecimal(takeProfit)
	return *p, nil
}

// MarkToMarket refreshes P&L and equity. Positions whose symbol has no price
// are left untouched and reported back.
func (l *Ledger) MarkToMarket(priceOf func(symbol string) (decimal.Decimal, bool)) []string {
	var missing []string
	for _, p := range l.positions {
		price, ok := priceOf(p.Symbol)
		if !ok {
			missing = append(missing, p.Symbol)
			continue
		}
		p.CurrentPrice = price
		p.PnL, p.PnLPercent = pnl(p, price)
	}
	l.revalue()
	return missing
}

// EnforceLimits closes positions whose stop-loss or take-profit is hit.
// When both trigger on the same tick the stop-loss wins.
func (l *Ledger) EnforceLimits(priceOf func(symbol string) (decimal.Decimal, bool), now time.Time) []schema.TradeRecord {
	var out []schema.TradeRecord
	for _, p := range append([]*schema.Position(nil), l.positions...) {
		price, ok := priceOf(p.Symbol)
		if !ok {
			continue
		}
		reason, hit := limitHit(p, price)
		if !hit {
			continue
		}
		if rec, ok := l.ClosePosition(p.ID, price, reason, now); ok {
			out = append(out, rec)
		}
	}
	return out
}

// MarginCall reports a fresh crossing below the margin call level.
func (l *Ledger) MarginCall() bool {
	level, ok := l.MarginLevel()
	if !ok || level >= l.cfg.MarginCallLevel {
		l.marginCall = false
		return false
	}
	if l.marginCall {
		return false
	}
	l.marginCall = true
	return true
}

// MarginLevel is equity over margin used in percent.
func (l *Ledger) MarginLevel() (float64, bool) {
	if !l.marginUsed.IsPositive() {
		return 0, false
	}
	return l.equity.Div(l.marginUsed).Mul(hundred).InexactFloat64(), true
}

// SlippagePercent grows linearly with size up to the reference size.
func (l *Ledger) SlippagePercent(size decimal.Decimal) decimal.Decimal {
	ratio := size.Div(l.cfg.SlippageSizeRef)
	if ratio.GreaterThan(one) {
		ratio = one
	}
	return l.cfg.SlippageBase.Add(l.cfg.SlippageScale.Mul(ratio))
}

// Portfolio returns the account summary.
func (l *Ledger) Portfolio() schema.Portfolio {
	return schema.Portfolio{
		Cash:            l.cash,
		Equity:          l.equity,
		MarginUsed:      l.marginUsed,
		MarginAvailable: l.marginAvailable,
		LeverageCap:     l.cfg.MaxLeverage,
		RealizedPnL:     l.realized,
	}
}

// Positions returns copies of open positions in open order.
func (l *Ledger) Positions() []schema.Position {
	out := make([]schema.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// Position returns an open position by id.
func (l *Ledger) Position(id string) (schema.Position, bool) {
	p, ok := l.byID[id]
	if !ok {
		return schema.Position{}, false
	}
	return *p, true
}

// Trades returns up to limit closed trades, newest first.
func (l *Ledger) Trades(limit int) []schema.TradeRecord {
	n := len(l.trades)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]schema.TradeRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.trades[i])
	}
	return out
}

// Progress returns the experience track.
func (l *Ledger) Progress() schema.Progress {
	return l.progress
}

func (l *Ledger) validate(req OpenRequest, price decimal.Decimal) error {
	if req.Symbol == "" {
		return errors.Wrap(exception.ErrInvalidInput, "empty symbol")
	}
	if req.Side != schema.SideLong && req.Side != schema.SideShort {
		return errors.Wrap(exception.ErrInvalidInput, "unknown side")
	}
	if !req.Size.IsPositive() {
		return errors.Wrap(exception.ErrInvalidInput, "size must be > 0")
	}
	if !price.IsPositive() {
		return errors.Wrap(exception.ErrInvalidInput, "price must be > 0")
	}
	if req.UseMargin && (req.Leverage < 1 || req.Leverage > l.cfg.MaxLeverage) {
		return errors.Wrapf(exception.ErrInvalidInput, "leverage must be between 1 and %d", l.cfg.MaxLeverage)
	}
	return nil
}

func (l *Ledger) afford(c Cost) error {
	if c.LeveragedNotional.GreaterThan(l.cash) {
		return exception.ErrInsufficientFunds
	}
	if c.Notional.Add(c.Commission).GreaterThan(l.cash) {
		return exception.ErrInsufficientFunds
	}
	if c.Margin.GreaterThan(l.marginAvailable) {
		return exception.ErrInsufficientFunds
	}
	return nil
}

func (l *Ledger) remove(p *schema.Position) {
	delete(l.byID, p.ID)
	for i, q := range l.positions {
		if q == p {
			l.positions = append(l.positions[:i], l.positions[i+1:]...)
			return
		}
	}
}

// revalue recomputes equity as cash plus position value and clamps the
// available margin to the leverage cap.
func (l *Ledger) revalue() {
	equity := l.cash
	for _, p := range l.positions {
		equity = equity.Add(p.Size.Mul(p.CurrentPrice))
	}
	l.equity = equity

	limit := equity.Mul(decimal.NewFromInt(int64(l.cfg.MaxLeverage))).Sub(l.marginUsed)
	if limit.IsNegative() {
		limit = decimal.Zero
	}
	if l.marginAvailable.GreaterThan(limit) {
		l.marginAvailable = limit
	}
	if l.marginAvailable.IsNegative() {
		l.marginAvailable = decimal.Zero
	}
}

func pnl(p *schema.Position, price decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	diff := price.Sub(p.EntryPrice)
	if p.Side == schema.SideShort {
		diff = diff.Neg()
	}
	value := diff.Mul(p.Size).Mul(decimal.NewFromInt(int64(p.Leverage)))
	basis := p.EntryPrice.Mul(p.Size)
	if basis.IsZero() {
		return value, decimal.Zero
	}
	return value, value.Div(basis).Mul(hundred)
}

func limitHit(p *schema.Position, price decimal.Decimal) (schema.CloseReason, bool) {
	long := p.Side == schema.SideLong
	if p.StopLoss != nil {
		if (long && price.LessThanOrEqual(*p.StopLoss)) || (!long && price.GreaterThanOrEqual(*p.StopLoss)) {
			return schema.CloseReasonStopLoss, true
		}
	}
	if p.TakeProfit != nil {
		if (long && price.GreaterThanOrEqual(*p.TakeProfit)) || (!long && price.LessThanOrEqual(*p.TakeProfit)) {
			return schema.CloseReasonTakeProfit, true
		}
	}
	return schema.CloseReasonManual, false
}

func leverageOf(req OpenRequest) int {
	if !req.UseMargin || req.Leverage < 1 {
		return 1
	}
	return req.Leverage
}

func copyDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
