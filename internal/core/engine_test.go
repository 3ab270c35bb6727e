package core

import (
	"context"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/bus"
	"tradesim/internal/ledger"
	"tradesim/internal/market"
	"tradesim/internal/obs"
	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

var testStart = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

// scriptedModel walks each symbol through a fixed price path, holding the last value.
type scriptedModel struct {
	paths map[string][]string
	step  int
}

func (m *scriptedModel) Advance(l *market.AssetLedger, in market.Inputs) {
	for sym, path := range m.paths {
		i := m.step
		if i >= len(path) {
			i = len(path) - 1
		}
		_ = l.SetPrice(sym, decimal.RequireFromString(path[i]), in.Now)
	}
	m.step++
}

func (m *scriptedModel) Reseed(int64) {}

type panicModel struct{}

func (panicModel) Advance(*market.AssetLedger, market.Inputs) { panic("model exploded") }
func (panicModel) Reseed(int64)                               {}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	_, err := reg.Add(schema.Instrument{Symbol: "ACME", Class: schema.AssetClassEquity, InitialPrice: decimal.NewFromInt(100), BaseVolume: 1_000_000})
	require.NoError(t, err)
	_, err = reg.Add(schema.Instrument{Symbol: "COIN", Class: schema.AssetClassCrypto, InitialPrice: decimal.NewFromInt(2000), BaseVolume: 50_000})
	require.NoError(t, err)
	return reg
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Seed = 42
	cfg.Features = Features{}
	return cfg
}

func newScripted(t *testing.T, path []string, mutate func(*Config), opts ...Option) *Engine {
	t.Helper()
	cfg := quietConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	model := &scriptedModel{paths: map[string][]string{"ACME": path}}
	opts = append([]Option{WithPriceModel(model), WithStart(testStart)}, opts...)
	e, err := NewEngine(cfg, testRegistry(t), opts...)
	require.NoError(t, err)
	return e
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestLimitOrderFillsAtTriggerTick(t *testing.T) {
	e := newScripted(t, []string{"100", "97", "94", "96"}, nil)
	o, err := e.SubmitOrder(OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindLimit, Size: decimal.NewFromInt(10), LimitPrice: dec("95")})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", o.ID)
	assert.Equal(t, schema.OrderStatusPending, o.Status)

	e.Step()
	e.Step()
	v := e.Snapshot()
	require.Len(t, v.Orders, 1)
	assert.Empty(t, v.Positions)

	e.Step()
	v = e.Snapshot()
	assert.Empty(t, v.Orders)
	require.Len(t, v.OrderHistory, 1)
	filled := v.OrderHistory[0]
	assert.Equal(t, schema.OrderStatusFilled, filled.Status)
	assert.True(t, filled.FillPrice.Equal(decimal.RequireFromString("94.09776")), filled.FillPrice.String())
	require.Len(t, v.Positions, 1)
	assert.Equal(t, filled.PositionID, v.Positions[0].ID)
	assert.Equal(t, o.ID, v.Positions[0].OrderID)

	e.Step()
	assert.Len(t, e.Snapshot().Positions, 1)
}

func TestShortLimitFillsWithinSlippageBound(t *testing.T) {
	e := newScripted(t, []string{"100", "103", "106"}, nil)
	_, err := e.SubmitOrder(OrderRequest{Symbol: "ACME", Side: schema.SideShort, Kind: schema.OrderKindLimit, Size: decimal.NewFromInt(10), LimitPrice: dec("105")})
	require.NoError(t, err)

	e.Step()
	e.Step()
	require.Empty(t, e.Snapshot().Positions)

	e.Step()
	v := e.Snapshot()
	require.Len(t, v.Positions, 1)
	entry := v.Positions[0].EntryPrice
	assert.True(t, entry.Equal(decimal.RequireFromString("105.88976")), entry.String())

	lc := DefaultConfig().Ledger
	bound := decimal.NewFromInt(105).Mul(decimal.NewFromInt(1).Sub(lc.SlippageBase.Add(lc.SlippageScale)))
	assert.True(t, entry.GreaterThanOrEqual(bound), "entry %s below %s", entry, bound)
}

func TestFillPanicAfterOpenMarksOrderFilled(t *testing.T) {
	metrics := obs.NewMetrics()
	e := newScripted(t, []string{"100"}, nil, WithMetrics(metrics))
	open := e.open
	e.open = func(req ledger.OpenRequest, price decimal.Decimal, now time.Time) (schema.Position, error) {
		if _, err := open(req, price, now); err != nil {
			return schema.Position{}, err
		}
		panic("fill exploded")
	}
	o, err := e.SubmitOrder(OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindMarket, Size: decimal.NewFromInt(1)})
	require.NoError(t, err)

	e.Step()
	e.Step()
	e.Step()

	v := e.Snapshot()
	assert.Equal(t, uint64(3), v.Tick)
	assert.Empty(t, v.Orders)
	require.Len(t, v.Positions, 1)
	require.Len(t, v.OrderHistory, 1)
	assert.Equal(t, o.ID, v.OrderHistory[0].ID)
	assert.Equal(t, schema.OrderStatusFilled, v.OrderHistory[0].Status)
	assert.Equal(t, v.Positions[0].ID, v.OrderHistory[0].PositionID)
	assert.Equal(t, uint64(1), metrics.Snapshot().Faults["orders"])
}

func TestFillPanicBeforeOpenCancelsOnlyThatOrder(t *testing.T) {
	e := newScripted(t, []string{"100"}, nil)
	open := e.open
	e.open = func(req ledger.OpenRequest, price decimal.Decimal, now time.Time) (schema.Position, error) {
		if req.OrderID == "ord-1" {
			panic("fill exploded")
		}
		return open(req, price, now)
	}
	for i := 0; i < 2; i++ {
		_, err := e.SubmitOrder(OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindMarket, Size: decimal.NewFromInt(1)})
		require.NoError(t, err)
	}

	e.Step()
	e.Step()

	v := e.Snapshot()
	assert.Empty(t, v.Orders)
	require.Len(t, v.Positions, 1)
	assert.Equal(t, "ord-2", v.Positions[0].OrderID)
	first, ok := e.st.book.Order("ord-1")
	require.True(t, ok)
	assert.Equal(t, schema.OrderStatusCancelled, first.Status)
	assert.Equal(t, "fill failed", first.Reason)
}

func TestStopLimitWaitsForLimitAfterStop(t *testing.T) {
	e := newScripted(t, []string{"100", "106", "104"}, nil)
	_, err := e.SubmitOrder(OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindStopLimit, Size: decimal.NewFromInt(10), StopPrice: dec("105"), LimitPrice: dec("104")})
	require.NoError(t, err)

	e.Step()
	e.Step()
	v := e.Snapshot()
	require.Len(t, v.Orders, 1)
	assert.True(t, v.Orders[0].StopTriggered)

	e.Step()
	v = e.Snapshot()
	require.Len(t, v.Positions, 1)
	assert.True(t, v.Positions[0].EntryPrice.Equal(decimal.RequireFromString("104.10816")))
}

func TestStopLossClosesPosition(t *testing.T) {
	e := newScripted(t, []string{"100", "95", "89"}, nil)
	_, err := e.SubmitOrder(OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindMarket, Size: decimal.NewFromInt(10)})
	require.NoError(t, err)
	e.Step()

	positions := e.Snapshot().Positions
	require.Len(t, positions, 1)
	entry := positions[0].EntryPrice
	_, err = e.SetPositionLimits(positions[0].ID, dec("90"), nil)
	require.NoError(t, err)

	e.Step()
	require.Len(t, e.Snapshot().Positions, 1)

	e.Step()
	v := e.Snapshot()
	assert.Empty(t, v.Positions)
	require.Len(t, v.Trades, 1)
	tr := v.Trades[0]
	assert.Equal(t, schema.CloseReasonStopLoss, tr.Reason)
	assert.True(t, tr.ExitPrice.Equal(decimal.NewFromInt(89)))
	want := decimal.NewFromInt(89).Sub(entry).Mul(decimal.NewFromInt(10))
	assert.True(t, tr.PnL.Equal(want), tr.PnL.String())
}

func TestTrendBotOpensSizedPosition(t *testing.T) {
	e := newScripted(t, []string{"50"}, func(c *Config) { c.Features.Bots = true })
	e.SetMarketCondition(schema.MarketCondition{Trend: schema.TrendUp, Volatility: schema.VolatilityMedium, Sentiment: schema.SentimentBullish, Vix: 20})
	b, err := e.CreateBot("ACME", schema.StrategyTrendFollowing, decimal.NewFromInt(1000), time.Minute)
	require.NoError(t, err)

	e.Step()
	v := e.Snapshot()
	require.Len(t, v.Positions, 1)
	p := v.Positions[0]
	assert.Equal(t, b.ID, p.Owner)
	assert.Equal(t, schema.SideLong, p.Side)
	assert.True(t, p.Size.Equal(decimal.NewFromInt(20)))
	require.Len(t, v.Bots, 1)
	assert.Equal(t, 1, v.Bots[0].Trades)

	// interval not yet elapsed
	e.Step()
	assert.Len(t, e.Snapshot().Positions, 1)

	_, err = e.CreateBot("NOPE", schema.StrategyTrendFollowing, decimal.NewFromInt(1000), time.Minute)
	assert.ErrorIs(t, err, exception.ErrInvalidInput)
}

func TestPhasePanicIsContained(t *testing.T) {
	metrics := obs.NewMetrics()
	cfg := quietConfig()
	e, err := NewEngine(cfg, testRegistry(t), WithPriceModel(panicModel{}), WithStart(testStart), WithMetrics(metrics))
	require.NoError(t, err)
	_, err = e.SubmitOrder(OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindMarket, Size: decimal.NewFromInt(1)})
	require.NoError(t, err)

	e.Step()
	e.Step()

	assert.Equal(t, uint64(2), e.Tick())
	assert.Equal(t, uint64(2), metrics.Snapshot().Faults["market"])
	v := e.Snapshot()
	require.Len(t, v.Positions, 1, "order phase still runs after the model fails")
	assert.True(t, v.Positions[0].CurrentPrice.Equal(decimal.NewFromInt(100)))

	var faults int
	for _, n := range v.Notifications {
		if n.Level == schema.LevelError && n.Kind == "fault" {
			faults++
		}
	}
	assert.Equal(t, 2, faults)
}

func TestCancelOrder(t *testing.T) {
	e := newScripted(t, []string{"100"}, nil)
	o, err := e.SubmitOrder(OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindLimit, Size: decimal.NewFromInt(1), LimitPrice: dec("50")})
	require.NoError(t, err)

	cancelled, err := e.CancelOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusCancelled, cancelled.Status)

	_, err = e.CancelOrder(o.ID)
	assert.ErrorIs(t, err, exception.ErrOrderNotPending)
	_, err = e.CancelOrder("ord-99")
	assert.ErrorIs(t, err, exception.ErrOrderNotFound)

	e.Step()
	assert.Empty(t, e.Snapshot().Positions)
}

func TestSubmitOrderRejections(t *testing.T) {
	e := newScripted(t, []string{"100"}, func(c *Config) { c.Risk.MaxOrderSize = decimal.NewFromInt(500) })
	testCases := []struct {
		desc string
		req  OrderRequest
		want error
	}{
		{"unknown symbol", OrderRequest{Symbol: "NOPE", Side: schema.SideLong, Kind: schema.OrderKindMarket, Size: decimal.NewFromInt(1)}, exception.ErrInvalidInput},
		{"zero size", OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindMarket}, exception.ErrInvalidInput},
		{"limit without price", OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindLimit, Size: decimal.NewFromInt(1)}, exception.ErrInvalidInput},
		{"leverage above cap", OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindMarket, Size: decimal.NewFromInt(1), UseMargin: true, Leverage: 50}, exception.ErrInvalidInput},
		{"risk max size", OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindMarket, Size: decimal.NewFromInt(600)}, exception.ErrRiskRejected},
		{"limit unaffordable", OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindLimit, Size: decimal.NewFromInt(400), LimitPrice: dec("300")}, exception.ErrInsufficientFunds},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := e.SubmitOrder(tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, e.Snapshot().Orders)
	assert.True(t, e.Portfolio().Cash.Equal(decimal.NewFromInt(100_000)))
}

func TestMarketOrderCancelledWhenUnaffordableAtFill(t *testing.T) {
	e := newScripted(t, []string{"100"}, nil)
	o, err := e.SubmitOrder(OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindMarket, Size: decimal.NewFromInt(2000)})
	require.NoError(t, err)

	e.Step()
	v := e.Snapshot()
	assert.Empty(t, v.Positions)
	require.Len(t, v.OrderHistory, 1)
	assert.Equal(t, o.ID, v.OrderHistory[0].ID)
	assert.Equal(t, schema.OrderStatusCancelled, v.OrderHistory[0].Status)
	assert.Equal(t, "insufficient funds", v.OrderHistory[0].Reason)
	assert.True(t, v.Portfolio.Cash.Equal(decimal.NewFromInt(100_000)))
	assert.True(t, v.Portfolio.MarginUsed.IsZero())
}

func TestClosePositionCommand(t *testing.T) {
	e := newScripted(t, []string{"100", "110"}, nil)
	_, err := e.SubmitOrder(OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindMarket, Size: decimal.NewFromInt(5)})
	require.NoError(t, err)
	e.Step()
	e.Step()

	id := e.Snapshot().Positions[0].ID
	tr, err := e.ClosePosition(id)
	require.NoError(t, err)
	assert.Equal(t, schema.CloseReasonManual, tr.Reason)
	assert.True(t, tr.ExitPrice.Equal(decimal.NewFromInt(110)))
	assert.True(t, tr.PnL.IsPositive())

	_, err = e.ClosePosition(id)
	assert.ErrorIs(t, err, exception.ErrPositionNotFound)
}

func TestPriceAlertFiresOnce(t *testing.T) {
	e := newScripted(t, []string{"100", "104", "106", "107"}, nil)
	a, err := e.AddPriceAlert("ACME", schema.AlertAbove, decimal.NewFromInt(105))
	require.NoError(t, err)
	_, err = e.AddPriceAlert("ACME", schema.AlertBelow, decimal.Zero)
	assert.ErrorIs(t, err, exception.ErrInvalidInput)
	_, err = e.AddPriceAlert("NOPE", schema.AlertAbove, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, exception.ErrInvalidInput)

	for i := 0; i < 4; i++ {
		e.Step()
	}
	v := e.Snapshot()
	require.Len(t, v.Alerts, 1)
	assert.True(t, v.Alerts[0].Triggered)
	var fired int
	for _, n := range v.Notifications {
		if n.Kind == "alert" {
			fired++
		}
	}
	assert.Equal(t, 1, fired)

	require.NoError(t, e.RemovePriceAlert(a.ID))
	assert.ErrorIs(t, e.RemovePriceAlert(a.ID), exception.ErrAlertNotFound)
}

func TestSpeedAndPause(t *testing.T) {
	e := newScripted(t, []string{"100"}, nil)
	assert.ErrorIs(t, e.SetSpeed(0.5), exception.ErrInvalidSpeed)
	assert.ErrorIs(t, e.SetSpeed(11), exception.ErrInvalidSpeed)
	require.NoError(t, e.SetSpeed(4))
	assert.Equal(t, 250*time.Millisecond, e.Period())

	assert.True(t, e.Running())
	e.Pause()
	assert.False(t, e.Running())
	e.Play()
	assert.True(t, e.Running())
}

func TestSchedulerTicksAndPauses(t *testing.T) {
	e := newScripted(t, []string{"100"}, func(c *Config) {
		c.TickInterval = 20 * time.Millisecond
		c.Speed = 10
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewScheduler(e).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return e.Tick() >= 3 }, time.Second, time.Millisecond)
	e.Pause()
	time.Sleep(10 * time.Millisecond)
	paused := e.Tick()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, paused, e.Tick())

	e.Play()
	require.Eventually(t, func() bool { return e.Tick() > paused }, time.Second, time.Millisecond)
	cancel()
	v := e.Snapshot()
	assert.Equal(t, testStart.Add(time.Duration(v.Tick)*20*time.Millisecond), v.Clock)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestAccountingIdentityEveryTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 7
	e, err := NewEngine(cfg, testRegistry(t), WithStart(testStart))
	require.NoError(t, err)
	e.SetMarketCondition(schema.MarketCondition{Trend: schema.TrendUp, Volatility: schema.VolatilityHigh, Sentiment: schema.SentimentBullish, Vix: 28})
	_, err = e.CreateBot("ACME", schema.StrategyTrendFollowing, decimal.NewFromInt(2000), time.Second)
	require.NoError(t, err)
	_, err = e.CreateBot("COIN", schema.StrategyMeanReversion, decimal.NewFromInt(5000), 30*time.Second)
	require.NoError(t, err)
	_, err = e.SubmitOrder(OrderRequest{Symbol: "COIN", Side: schema.SideShort, Kind: schema.OrderKindMarket, Size: decimal.NewFromInt(2), UseMargin: true, Leverage: 3})
	require.NoError(t, err)

	for i := 0; i < 120; i++ {
		e.Step()
		v := e.Snapshot()
		sum := v.Portfolio.Cash
		for _, p := range v.Positions {
			sum = sum.Add(p.Size.Mul(p.CurrentPrice))
		}
		require.True(t, v.Portfolio.Equity.Equal(sum), "tick %d: equity %s != %s", v.Tick, v.Portfolio.Equity, sum)
		require.False(t, v.Portfolio.MarginUsed.IsNegative())
		require.False(t, v.Portfolio.MarginAvailable.IsNegative())
		for _, a := range v.Assets {
			require.True(t, a.Price.IsPositive())
		}
	}
}

func TestExportRestoreContinuesIdentically(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 1234
	a, err := NewEngine(cfg, testRegistry(t), WithStart(testStart))
	require.NoError(t, err)
	_, err = a.SubmitOrder(OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindMarket, Size: decimal.NewFromInt(3)})
	require.NoError(t, err)
	for i := 0; i < 400; i++ {
		a.Step()
	}

	snap := a.Export()
	b, err := NewEngine(cfg, testRegistry(t), WithStart(testStart.Add(time.Hour)))
	require.NoError(t, err)
	require.NoError(t, b.Restore(snap))
	assert.Equal(t, a.Tick(), b.Tick())
	assert.Equal(t, a.Clock(), b.Clock())

	for i := 0; i < 50; i++ {
		a.Step()
		b.Step()
		va, vb := a.Snapshot(), b.Snapshot()
		require.Len(t, vb.Assets, len(va.Assets))
		for j := range va.Assets {
			require.True(t, va.Assets[j].Price.Equal(vb.Assets[j].Price), "tick %d %s: %s != %s", va.Tick, va.Assets[j].Symbol, va.Assets[j].Price, vb.Assets[j].Price)
		}
		require.True(t, va.Portfolio.Equity.Equal(vb.Portfolio.Equity))
	}
}

func TestExportLeavesRunningEngineAlone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 7
	a, err := NewEngine(cfg, testRegistry(t), WithStart(testStart))
	require.NoError(t, err)
	b, err := NewEngine(cfg, testRegistry(t), WithStart(testStart))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		a.Step()
		b.Step()
	}

	snap := a.Export()
	require.Len(t, snap.Random, 5)

	for i := 0; i < 20; i++ {
		a.Step()
		b.Step()
		va, vb := a.Snapshot(), b.Snapshot()
		for j := range va.Assets {
			require.True(t, va.Assets[j].Price.Equal(vb.Assets[j].Price), "tick %d %s: %s != %s", va.Tick, va.Assets[j].Symbol, va.Assets[j].Price, vb.Assets[j].Price)
		}
	}
}

func TestRestoreRejectsBadStream(t *testing.T) {
	e := newScripted(t, []string{"100"}, nil)
	snap := e.Export()
	snap.Random = map[string][]byte{"news": []byte("junk")}
	assert.Error(t, e.Restore(snap))
}

func TestRestoreRejectsVersion(t *testing.T) {
	e := newScripted(t, []string{"100"}, nil)
	snap := e.Export()
	snap.Version = 99
	assert.Error(t, e.Restore(snap))
}

func TestStepPublishesSnapshot(t *testing.T) {
	q := bus.NewQueue(64)
	metrics := obs.NewMetrics()
	e := newScripted(t, []string{"100", "101"}, nil, WithBus(q), WithMetrics(metrics))
	_, err := e.SubmitOrder(OrderRequest{Symbol: "ACME", Side: schema.SideLong, Kind: schema.OrderKindMarket, Size: decimal.NewFromInt(1)})
	require.NoError(t, err)
	e.Step()
	q.Close()

	var events []bus.Event
	q.Run(context.Background(), func(ev bus.Event) { events = append(events, ev) })
	require.NotEmpty(t, events)

	types := make(map[schema.EventType]int)
	var lastSeq uint64
	for _, ev := range events {
		types[ev.Header.Type]++
		assert.Greater(t, ev.Header.Seq, lastSeq)
		lastSeq = ev.Header.Seq
	}
	assert.Equal(t, 1, types[schema.EventFill])
	assert.Equal(t, 1, types[schema.EventSnapshot])
	assert.GreaterOrEqual(t, types[schema.EventNotification], 2)

	last := events[len(events)-1]
	require.Equal(t, schema.EventSnapshot, last.Header.Type)
	var v View
	require.NoError(t, sonic.ConfigFastest.Unmarshal(last.Payload, &v))
	assert.Equal(t, uint64(1), v.Tick)
	assert.Len(t, v.Positions, 1)
	assert.Equal(t, uint64(len(events)), metrics.Snapshot().EventCounts[schema.EventSnapshot]+metrics.Snapshot().EventCounts[schema.EventFill]+metrics.Snapshot().EventCounts[schema.EventNotification])
}
