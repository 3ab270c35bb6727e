package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradesim/internal/bot"
	"tradesim/internal/bus"
	"tradesim/internal/depth"
	"tradesim/internal/ledger"
	"tradesim/internal/market"
	"tradesim/internal/news"
	"tradesim/internal/obs"
	"tradesim/internal/orderbook"
	"tradesim/internal/risk"
	"tradesim/internal/schema"
	"tradesim/internal/state"
	"tradesim/internal/volatility"
	"tradesim/pkg/exception"
)

// PriceModel moves every asset of the ledger by one tick.
type PriceModel interface {
	Advance(l *market.AssetLedger, in market.Inputs)
	Reseed(seed int64)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPriceModel replaces the stochastic price model.
func WithPriceModel(m PriceModel) Option {
	return func(e *Engine) { e.st.model = m }
}

// WithBus publishes snapshots and events on q.
func WithBus(q *bus.Queue) Option {
	return func(e *Engine) { e.bus = q }
}

// WithMetrics records tick and order flow metrics.
func WithMetrics(m *obs.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithStart sets the virtual clock origin.
func WithStart(t time.Time) Option {
	return func(e *Engine) { e.st.clock = t.UTC() }
}

// marketState is the aggregate every tick and command operates on.
type marketState struct {
	tick      uint64
	clock     time.Time
	speed     float64
	running   bool
	condition schema.MarketCondition

	assets   *market.AssetLedger
	model    PriceModel
	cycle    *market.ConditionCycle
	news     *news.Engine
	vol      *volatility.Controller
	depth    *depth.Simulator
	book     *orderbook.Book
	ledger   *ledger.Ledger
	bots     *bot.Engine
	risk     *risk.Engine
	exposure *state.ExposureReducer

	alerts   []schema.PriceAlert
	alertSeq uint64
	notes    []schema.Notification
}

// Engine owns the simulation. Ticks and commands serialize on one mutex.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	seed    int64
	st      marketState
	bus     *bus.Queue
	metrics *obs.Metrics
	seq     uint64
	changed chan struct{}

	// open is the ledger entry point for order fills.
	open func(req ledger.OpenRequest, price decimal.Decimal, now time.Time) (schema.Position, error)
}

// NewEngine builds every subsystem from cfg over the instruments in reg.
func NewEngine(cfg Config, reg *schema.Registry, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}
	cfg.Market.Seed = seed + seedMarket
	cfg.News.Seed = seed + seedNews
	cfg.Volatility.Seed = seed + seedVolatility
	cfg.Depth.Seed = seed + seedDepth

	assets, err := market.NewAssetLedger(reg, cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	model, err := market.NewModel(cfg.Market)
	if err != nil {
		return nil, errors.Wrap(err, "price model")
	}
	newsEngine, err := news.NewEngine(cfg.News)
	if err != nil {
		return nil, errors.Wrap(err, "news engine")
	}
	vol, err := volatility.NewController(cfg.Volatility)
	if err != nil {
		return nil, errors.Wrap(err, "volatility controller")
	}
	sim, err := depth.NewSimulator(cfg.Depth)
	if err != nil {
		return nil, errors.Wrap(err, "depth simulator")
	}
	led, err := ledger.New(cfg.Ledger)
	if err != nil {
		return nil, errors.Wrap(err, "ledger")
	}
	bots, err := bot.NewEngine(cfg.Bots)
	if err != nil {
		return nil, errors.Wrap(err, "bot engine")
	}

	e := &Engine{
		cfg:     cfg,
		seed:    seed,
		changed: make(chan struct{}, 1),
		st: marketState{
			clock:     time.Now().UTC().Truncate(time.Second),
			speed:     cfg.Speed,
			running:   true,
			condition: market.DefaultCondition(),
			assets:    assets,
			model:     model,
			cycle:     market.NewConditionCycle(cfg.ConditionEvery, seed+seedCondition),
			news:      newsEngine,
			vol:       vol,
			depth:     sim,
			book:      orderbook.NewBook(cfg.OrderHistory),
			ledger:    led,
			bots:      bots,
			risk:      risk.NewEngine(cfg.Risk),
			exposure:  state.NewExposureReducer(),
		},
	}
	e.open = led.OpenPosition
	for _, opt := range opts {
		opt(e)
	}
	if cfg.Features.Depth {
		e.refreshDepth()
	}
	return e, nil
}

// Seed returns the base seed of the random streams.
func (e *Engine) Seed() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seed
}

// Tick returns the number of steps executed.
func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.tick
}

// Clock returns the virtual time.
func (e *Engine) Clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.clock
}

// Portfolio returns the account summary.
func (e *Engine) Portfolio() schema.Portfolio {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.ledger.Portfolio()
}

// Metrics returns the metrics sink, which may be nil.
func (e *Engine) Metrics() *obs.Metrics {
	return e.metrics
}

// Step executes one tick. A panic inside a phase is contained to that phase:
// whatever the phase changed before the panic stays applied and the rest of
// the phase is skipped for this tick. Order fills are contained per order.
func (e *Engine) Step() {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	e.st.tick++
	e.st.clock = e.st.clock.Add(e.cfg.TickInterval)

	if e.cfg.Features.News {
		e.guard("news", e.applyNudges)
	}
	e.guard("market", e.advanceMarket)
	e.guard("orders", e.fillOrders)
	e.guard("ledger", e.settlePositions)
	if e.cfg.Features.Bots {
		e.guard("bots", e.runBots)
	}
	if e.cfg.Features.Depth {
		e.guard("depth", e.refreshDepth)
	}
	e.guard("timers", e.runTimers)
	e.guard("alerts", e.checkAlerts)
	e.guard("equity", e.sampleEquity)
	if e.bus != nil {
		e.guard("publish", e.publishSnapshot)
	}
	e.metrics.ObserveTick(time.Since(start))
}

// Fault is the payload of a subsystem fault event.
type Fault struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
	Tick    uint64 `json:"tick"`
}

func (e *Engine) guard(phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprint(r)
			e.metrics.IncFault(phase)
			logs.Errorf("tick %d: %s phase panicked: %s", e.st.tick, phase, msg)
			e.publish(schema.EventSubsystemFault, Fault{Phase: phase, Message: msg, Tick: e.st.tick})
			e.notify(schema.LevelError, "fault", fmt.Sprintf("%s subsystem failed: %s", phase, msg))
		}
	}()
	fn()
}

func (e *Engine) applyNudges() {
	for _, n := range e.st.news.DrainNudges() {
		// the symbol may have been delisted since the news was drawn
		_ = e.st.assets.Nudge(n.Symbol, n.Percent, e.st.clock)
	}
}

func (e *Engine) advanceMarket() {
	now := e.st.clock
	in := market.Inputs{
		Now:                  now,
		Condition:            e.st.condition,
		VolatilityMultiplier: e.volMultiplier(),
		Speed:                e.st.speed,
	}
	if e.cfg.Features.News {
		in.NewsImpact = func(symbol string) float64 { return e.st.news.Impact(symbol, now) }
	}
	if e.cfg.Features.Depth {
		in.Imbalance = e.st.depth.Imbalance
	}
	e.st.model.Advance(e.st.assets, in)
}

func (e *Engine) fillOrders() {
	for _, tr := range e.st.book.Evaluate(e.st.assets.Price) {
		e.guard("orders", func() { e.fill(tr) })
	}
}

// fill opens the position of one triggered order. When it panics the order
// is settled against the ledger before the panic moves on, so a later tick
// never fills it a second time.
func (e *Engine) fill(tr orderbook.Trigger) {
	now := e.st.clock
	o := tr.Order
	defer func() {
		if r := recover(); r != nil {
			e.settleOrder(o.ID, now)
			panic(r)
		}
	}()

	pos, err := e.open(openRequest(o), tr.Price, now)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, exception.ErrInsufficientFunds) {
			reason = "insufficient funds"
		}
		if _, cerr := e.st.book.Cancel(o.ID, reason, now); cerr != nil {
			logs.Errorf("cancel order %s: %+v", o.ID, cerr)
		}
		e.notify(schema.LevelWarning, "order", fmt.Sprintf("Order %s cancelled: %s", o.ID, reason))
		return
	}
	if _, err := e.st.book.MarkFilled(o.ID, pos.EntryPrice, pos.ID, now); err != nil {
		logs.Errorf("mark order %s filled: %+v", o.ID, err)
	}
	e.metrics.ObserveOrderFlow(now.Sub(o.CreatedAt))
	e.publish(schema.EventFill, pos)
	e.notify(schema.LevelSuccess, "order", fmt.Sprintf("%s %s %s %s filled at %s",
		o.Kind, o.Side, o.Size, o.Symbol, pos.EntryPrice.StringFixed(2)))
}

// settleOrder takes a still-pending order out of the book: filled when the
// ledger already holds its position, cancelled otherwise.
func (e *Engine) settleOrder(id string, now time.Time) {
	o, ok := e.st.book.Order(id)
	if !ok || o.Status != schema.OrderStatusPending {
		return
	}
	for _, p := range e.st.ledger.Positions() {
		if p.OrderID == id {
			_, _ = e.st.book.MarkFilled(id, p.EntryPrice, p.ID, now)
			return
		}
	}
	_, _ = e.st.book.Cancel(id, "fill failed", now)
}

func (e *Engine) settlePositions() {
	if missing := e.st.ledger.MarkToMarket(e.st.assets.Price); len(missing) > 0 {
		logs.Errorf("tick %d: no price for %v", e.st.tick, missing)
	}
	for _, tr := range e.st.ledger.EnforceLimits(e.st.assets.Price, e.st.clock) {
		e.closed(tr)
	}
}

func (e *Engine) closed(tr schema.TradeRecord) {
	e.publish(schema.EventPositionClosed, tr)
	level := schema.LevelSuccess
	if tr.PnL.IsNegative() {
		level = schema.LevelWarning
	}
	e.notify(level, "position", fmt.Sprintf("%s %s closed (%s), pnl %s",
		tr.Side, tr.Symbol, tr.Reason, tr.PnL.StringFixed(2)))
}

func (e *Engine) runBots() {
	now := e.st.clock
	for _, d := range e.st.bots.Evaluate(now, e.st.assets, e.st.condition) {
		o := schema.Order{
			Symbol:    d.Symbol,
			Side:      d.Side,
			Kind:      schema.OrderKindMarket,
			Size:      d.Size,
			Leverage:  1,
			Owner:     d.BotID,
			CreatedAt: now,
		}
		if decision := e.evaluateRisk(o, d.Price); !decision.Allowed() {
			continue
		}
		pos, err := e.st.ledger.OpenPosition(openRequest(o), d.Price, now)
		if err != nil {
			continue
		}
		e.st.bots.Executed(d.BotID, now)
		e.publish(schema.EventFill, pos)
		e.notify(schema.LevelInfo, "bot", fmt.Sprintf("Bot %s opened %s %s %s at %s",
			d.BotID, d.Side, d.Size, d.Symbol, pos.EntryPrice.StringFixed(2)))
	}
}

func (e *Engine) refreshDepth() {
	open := e.cfg.Session.IsOpen(e.st.clock)
	mult := e.volMultiplier()
	for _, a := range e.st.assets.Assets() {
		q, _ := e.st.depth.Update(a, mult, open)
		e.st.assets.SetQuote(a.Symbol, q.Bid, q.Ask, q.Spread)
	}
}

func (e *Engine) runTimers() {
	now := e.st.clock
	if e.cfg.Features.News {
		if ev, ok := e.st.news.Tick(now, e.st.assets.Symbols()); ok {
			e.publish(schema.EventNews, ev)
			e.notify(schema.LevelInfo, "news", ev.Headline)
		}
	}
	if e.cfg.Features.Volatility {
		if ev, ok := e.st.vol.Tick(now); ok {
			e.publish(schema.EventVolatility, ev)
			e.notify(schema.LevelWarning, "volatility", fmt.Sprintf("%s: volatility x%.2f for %s", ev.Name, ev.Magnitude, ev.Duration))
		}
	}
	if e.cfg.Features.ConditionCycle {
		if next, ok := e.st.cycle.Tick(e.st.condition); ok {
			e.st.condition = next
		}
	}
}

func (e *Engine) checkAlerts() {
	for i := range e.st.alerts {
		a := &e.st.alerts[i]
		if a.Triggered {
			continue
		}
		price, ok := e.st.assets.Price(a.Symbol)
		if !ok {
			continue
		}
		hit := price.GreaterThanOrEqual(a.Target)
		if a.Condition == schema.AlertBelow {
			hit = price.LessThanOrEqual(a.Target)
		}
		if !hit {
			continue
		}
		a.Triggered = true
		e.notify(schema.LevelInfo, "alert", fmt.Sprintf("%s is %s %s (now %s)",
			a.Symbol, a.Condition, a.Target, price.StringFixed(2)))
	}
}

func (e *Engine) sampleEquity() {
	e.st.ledger.SampleEquity(e.st.clock)
	if e.st.ledger.MarginCall() {
		level, _ := e.st.ledger.MarginLevel()
		e.notify(schema.LevelWarning, "margin", fmt.Sprintf("Margin call: margin level %.1f%%", level))
	}
}

func (e *Engine) publishSnapshot() {
	e.publish(schema.EventSnapshot, e.view())
}

func (e *Engine) volMultiplier() float64 {
	if !e.cfg.Features.Volatility {
		return 1
	}
	return e.st.vol.Multiplier(e.st.clock)
}

func (e *Engine) notify(level schema.NotificationLevel, kind, message string) {
	n := schema.Notification{Level: level, Kind: kind, Message: message, Timestamp: e.st.clock}
	e.st.notes = append(e.st.notes, n)
	if keep := e.cfg.Notifications; keep > 0 && len(e.st.notes) > keep {
		e.st.notes = e.st.notes[len(e.st.notes)-keep:]
	}
	e.publish(schema.EventNotification, n)
}

// publish serializes v onto the bus. A full queue drops the event.
func (e *Engine) publish(t schema.EventType, v any) {
	if e.bus == nil {
		return
	}
	payload, err := sonic.ConfigFastest.Marshal(v)
	if err != nil {
		logs.Errorf("marshal %s event: %+v", t, err)
		return
	}
	e.seq++
	header := schema.NewHeader(t, e.seq, e.st.tick, e.st.clock.UnixNano(), time.Now().UTC().UnixNano())
	err = e.bus.TryPublish(bus.Event{Header: header, Payload: payload})
	switch {
	case err == nil:
		e.metrics.ObserveEvent(header)
	case errors.Is(err, bus.ErrQueueFull):
		e.metrics.IncQueueDrop()
	case errors.Is(err, bus.ErrQueueClosed):
		e.metrics.IncQueueClosed()
	}
}

func (e *Engine) evaluateRisk(o schema.Order, reference decimal.Decimal) schema.RiskDecision {
	start := time.Now()
	positions := e.st.ledger.Positions()
	e.st.exposure.Reset(positions)
	decision := e.st.risk.Evaluate(o, risk.StateView{
		ReferencePrice: reference,
		Position:       e.st.exposure.Position(o.Symbol),
		OpenPositions:  len(positions),
		Now:            e.st.clock,
	})
	e.metrics.ObserveRiskEval(time.Since(start))
	e.metrics.IncRiskReason(decision.Reason)
	return decision
}

func (e *Engine) signal() {
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

func openRequest(o schema.Order) ledger.OpenRequest {
	return ledger.OpenRequest{
		Symbol:    o.Symbol,
		Side:      o.Side,
		Size:      o.Size,
		UseMargin: o.UseMargin,
		Leverage:  o.Leverage,
		Owner:     o.Owner,
		OrderID:   o.ID,
	}
}
