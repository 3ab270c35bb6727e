package ledger

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func dp(v float64) *decimal.Decimal {
	x := decimal.NewFromFloat(v)
	return &x
}

func noSlippage(cash float64) Config {
	cfg := DefaultConfig()
	cfg.InitialCash = d(cash)
	cfg.SlippageBase = decimal.Zero
	cfg.SlippageScale = decimal.Zero
	return cfg
}

func newLedger(t *testing.T, cfg Config) *Ledger {
	t.Helper()
	l, err := New(cfg)
	require.NoError(t, err)
	return l
}

func feed(prices map[string]float64) func(string) (decimal.Decimal, bool) {
	return func(symbol string) (decimal.Decimal, bool) {
		p, ok := prices[symbol]
		return d(p), ok
	}
}

func assertDec(t *testing.T, want float64, got decimal.Decimal, msg ...interface{}) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "want %v got %s %v", want, got.String(), msg)
}

func TestOpenAndCloseLong(t *testing.T) {
	l := newLedger(t, noSlippage(100_000))
	p, err := l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(10)}, d(100), t0)
	require.NoError(t, err)
	assert.Equal(t, "pos-1", p.ID)
	assert.Equal(t, schema.OwnerUser, p.Owner)
	assertDec(t, 100, p.EntryPrice)
	assertDec(t, 1, p.Commission)

	pf := l.Portfolio()
	assertDec(t, 98_999, pf.Cash)
	assertDec(t, 99_999, pf.Equity)

	l.MarkToMarket(feed(map[string]float64{"X": 110}))
	pos, ok := l.Position(p.ID)
	require.True(t, ok)
	assertDec(t, 100, pos.PnL)
	assertDec(t, 10, pos.PnLPercent)
	assertDec(t, 100_099, l.Portfolio().Equity)

	rec, ok := l.ClosePosition(p.ID, d(110), schema.CloseReasonManual, t0.Add(time.Minute))
	require.True(t, ok)
	assertDec(t, 100, rec.PnL)
	assertDec(t, 2.1, rec.Commission)
	assertDec(t, 100_097.9, l.Portfolio().Cash)
	assertDec(t, 100, l.Portfolio().RealizedPnL)
	assert.Empty(t, l.Positions())
}

func TestCloseIsIdempotent(t *testing.T) {
	l := newLedger(t, noSlippage(100_000))
	p, err := l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(1)}, d(100), t0)
	require.NoError(t, err)

	_, ok := l.ClosePosition(p.ID, d(100), schema.CloseReasonManual, t0)
	require.True(t, ok)
	before := l.Portfolio()
	_, ok = l.ClosePosition(p.ID, d(100), schema.CloseReasonManual, t0)
	assert.False(t, ok)
	assert.Equal(t, before, l.Portfolio())
	assert.Len(t, l.Trades(0), 1)
}

func TestShortMirrorsPnL(t *testing.T) {
	l := newLedger(t, noSlippage(100_000))
	p, err := l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideShort, Size: d(10)}, d(100), t0)
	require.NoError(t, err)

	l.MarkToMarket(feed(map[string]float64{"X": 90}))
	pos, _ := l.Position(p.ID)
	assertDec(t, 100, pos.PnL)

	rec, ok := l.ClosePosition(p.ID, d(90), schema.CloseReasonManual, t0)
	require.True(t, ok)
	assertDec(t, 100, rec.PnL)
	assertDec(t, 98_999+900-0.9, l.Portfolio().Cash)
}

func TestSlippageMovesAgainstTrader(t *testing.T) {
	l := newLedger(t, DefaultConfig())
	assertDec(t, 0.00104, l.SlippagePercent(d(10)))
	assertDec(t, 0.005, l.SlippagePercent(d(5000)))

	long, err := l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(10)}, d(100), t0)
	require.NoError(t, err)
	assertDec(t, 100.104, long.EntryPrice)

	short, err := l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideShort, Size: d(10)}, d(100), t0)
	require.NoError(t, err)
	assertDec(t, 99.896, short.EntryPrice)
}

func TestInsufficientFundsLeavesBalances(t *testing.T) {
	l := newLedger(t, noSlippage(100_000))
	before := l.Portfolio()

	testCases := []struct {
		desc string
		req  OpenRequest
	}{
		{"cash", OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(1000)}},
		{"commission", OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(999.5)}},
		{"leveraged notional", OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(200), UseMargin: true, Leverage: 10}},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.ErrorIs(t, l.CheckFunds(tc.req, d(100)), exception.ErrInsufficientFunds)
			_, err := l.OpenPosition(tc.req, d(100), t0)
			assert.ErrorIs(t, err, exception.ErrInsufficientFunds)
			assert.Equal(t, before, l.Portfolio())
			assert.Empty(t, l.Positions())
		})
	}
}

func TestInvalidRequests(t *testing.T) {
	l := newLedger(t, noSlippage(100_000))
	testCases := []struct {
		desc  string
		req   OpenRequest
		price float64
	}{
		{"empty symbol", OpenRequest{Side: schema.SideLong, Size: d(1)}, 100},
		{"no side", OpenRequest{Symbol: "X", Size: d(1)}, 100},
		{"zero size", OpenRequest{Symbol: "X", Side: schema.SideLong}, 100},
		{"zero price", OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(1)}, 0},
		{"leverage too high", OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(1), UseMargin: true, Leverage: 11}, 100},
		{"leverage zero", OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(1), UseMargin: true}, 100},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := l.OpenPosition(tc.req, d(tc.price), t0)
			assert.ErrorIs(t, err, exception.ErrInvalidInput)
		})
	}
}

func TestLeverageHoldsAndReleasesMargin(t *testing.T) {
	l := newLedger(t, noSlippage(100_000))
	p, err := l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(10), UseMargin: true, Leverage: 5}, d(100), t0)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Leverage)
	assertDec(t, 4000, p.MarginHeld)
	assertDec(t, 4000, l.Portfolio().MarginUsed)
	assertDec(t, 96_000, l.Portfolio().MarginAvailable)

	rec, ok := l.ClosePosition(p.ID, d(110), schema.CloseReasonManual, t0)
	require.True(t, ok)
	assertDec(t, 500, rec.PnL)
	assertDec(t, 0, l.Portfolio().MarginUsed)
	assertDec(t, 100_000, l.Portfolio().MarginAvailable)
}

func TestStopLossPath(t *testing.T) {
	l := newLedger(t, noSlippage(100_000))
	p, err := l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(10), StopLoss: dp(90)}, d(100), t0)
	require.NoError(t, err)

	for i, price := range []float64{100, 95} {
		prices := feed(map[string]float64{"X": price})
		l.MarkToMarket(prices)
		assert.Empty(t, l.EnforceLimits(prices, t0.Add(time.Duration(i)*time.Second)))
	}
	prices := feed(map[string]float64{"X": 89})
	l.MarkToMarket(prices)
	closed := l.EnforceLimits(prices, t0.Add(2*time.Second))
	require.Len(t, closed, 1)
	assert.Equal(t, p.ID, closed[0].PositionID)
	assert.Equal(t, schema.CloseReasonStopLoss, closed[0].Reason)
	assertDec(t, 89, closed[0].ExitPrice)
	assertDec(t, -110, closed[0].PnL)
	assert.Empty(t, l.Positions())
}

func TestStopLossWinsTie(t *testing.T) {
	l := newLedger(t, noSlippage(100_000))
	_, err := l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(1)}, d(100), t0)
	require.NoError(t, err)
	_, err = l.SetPositionLimits("pos-1", dp(95), dp(90))
	require.NoError(t, err)

	closed := l.EnforceLimits(feed(map[string]float64{"X": 92}), t0)
	require.Len(t, closed, 1)
	assert.Equal(t, schema.CloseReasonStopLoss, closed[0].Reason)
}

func TestShortTakeProfit(t *testing.T) {
	l := newLedger(t, noSlippage(100_000))
	_, err := l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideShort, Size: d(1), TakeProfit: dp(90)}, d(100), t0)
	require.NoError(t, err)
	assert.Empty(t, l.EnforceLimits(feed(map[string]float64{"X": 91}), t0))
	closed := l.EnforceLimits(feed(map[string]float64{"X": 90}), t0)
	require.Len(t, closed, 1)
	assert.Equal(t, schema.CloseReasonTakeProfit, closed[0].Reason)
}

func TestSetPositionLimits(t *testing.T) {
	l := newLedger(t, noSlippage(100_000))
	_, err := l.SetPositionLimits("pos-1", dp(1), nil)
	assert.ErrorIs(t, err, exception.ErrPositionNotFound)

	_, err = l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(1)}, d(100), t0)
	require.NoError(t, err)
	_, err = l.SetPositionLimits("pos-1", dp(0), nil)
	assert.ErrorIs(t, err, exception.ErrInvalidInput)
	_, err = l.SetPositionLimits("pos-1", nil, dp(-5))
	assert.ErrorIs(t, err, exception.ErrInvalidInput)

	p, err := l.SetPositionLimits("pos-1", dp(90), dp(120))
	require.NoError(t, err)
	assertDec(t, 90, *p.StopLoss)
	assertDec(t, 120, *p.TakeProfit)

	p, err = l.SetPositionLimits("pos-1", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, p.StopLoss)
	assert.Nil(t, p.TakeProfit)
}

func TestMarkToMarketReportsMissingPrices(t *testing.T) {
	l := newLedger(t, noSlippage(100_000))
	_, err := l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(1)}, d(100), t0)
	require.NoError(t, err)
	missing := l.MarkToMarket(feed(map[string]float64{}))
	assert.Equal(t, []string{"X"}, missing)
	p, _ := l.Position("pos-1")
	assertDec(t, 100, p.CurrentPrice)
}

func TestMarginCallOncePerCrossing(t *testing.T) {
	l := newLedger(t, noSlippage(1000))
	_, err := l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(1), UseMargin: true, Leverage: 10}, d(100), t0)
	require.NoError(t, err)
	_, err = l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(8)}, d(100), t0)
	require.NoError(t, err)
	assert.False(t, l.MarginCall())

	l.MarkToMarket(feed(map[string]float64{"X": 10}))
	level, ok := l.MarginLevel()
	require.True(t, ok)
	assert.Less(t, level, 50.0)
	assert.True(t, l.MarginCall())
	assert.False(t, l.MarginCall())

	l.MarkToMarket(feed(map[string]float64{"X": 100}))
	assert.False(t, l.MarginCall())
	l.MarkToMarket(feed(map[string]float64{"X": 10}))
	assert.True(t, l.MarginCall())
}

func TestProgressLevelsUp(t *testing.T) {
	l := newLedger(t, noSlippage(100_000))
	_, err := l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(100)}, d(100), t0)
	require.NoError(t, err)
	_, ok := l.ClosePosition("pos-1", d(110), schema.CloseReasonManual, t0)
	require.True(t, ok)

	p := l.Progress()
	assert.Equal(t, 2, p.Level)
	assert.Equal(t, 1, p.Trades)
	assert.InDelta(t, 10.0, p.Experience, 1e-9)
	assert.InDelta(t, 150.0, p.ToNext, 1e-9)
}

func TestEquityHistoryAndStats(t *testing.T) {
	l := newLedger(t, noSlippage(100_000))
	assert.True(t, l.SampleEquity(t0))
	assert.False(t, l.SampleEquity(t0.Add(30*time.Second)))

	_, err := l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(100)}, d(100), t0)
	require.NoError(t, err)
	l.MarkToMarket(feed(map[string]float64{"X": 50}))
	assert.True(t, l.SampleEquity(t0.Add(time.Minute)))
	_, ok := l.ClosePosition("pos-1", d(50), schema.CloseReasonManual, t0)
	require.True(t, ok)

	for i := 0; i < 150; i++ {
		l.SampleEquity(t0.Add(time.Duration(i+2) * time.Minute))
	}
	assert.Len(t, l.EquityHistory(), 100)

	s := l.Stats()
	assert.Equal(t, 1, s.Trades)
	assert.Equal(t, 0, s.Wins)
	assert.Zero(t, s.WinRate)
	assertDec(t, -5000, s.RealizedPnL)
}

func TestMaxDrawdown(t *testing.T) {
	points := []schema.EquityPoint{{Equity: d(100)}, {Equity: d(120)}, {Equity: d(90)}, {Equity: d(130)}}
	assert.InDelta(t, 25.0, maxDrawdown(points), 1e-9)
	assert.Zero(t, maxDrawdown(nil))
}

func TestAccountingIdentity(t *testing.T) {
	l := newLedger(t, DefaultConfig())
	rng := rand.New(rand.NewSource(7))
	symbols := []string{"A", "B", "C"}
	prices := map[string]float64{"A": 100, "B": 20, "C": 5}

	for i := 0; i < 300; i++ {
		now := t0.Add(time.Duration(i) * time.Second)
		for s := range prices {
			prices[s] *= 1 + (rng.Float64()-0.5)*0.02
		}
		switch rng.Intn(3) {
		case 0:
			side := schema.SideLong
			if rng.Intn(2) == 0 {
				side = schema.SideShort
			}
			symbol := symbols[rng.Intn(len(symbols))]
			_, _ = l.OpenPosition(OpenRequest{
				Symbol:    symbol,
				Side:      side,
				Size:      d(float64(1 + rng.Intn(20))),
				UseMargin: rng.Intn(2) == 0,
				Leverage:  1 + rng.Intn(10),
			}, d(prices[symbol]), now)
		case 1:
			if open := l.Positions(); len(open) > 0 {
				p := open[rng.Intn(len(open))]
				l.ClosePosition(p.ID, d(prices[p.Symbol]), schema.CloseReasonManual, now)
			}
		}
		l.MarkToMarket(feed(prices))

		pf := l.Portfolio()
		value := pf.Cash
		held := decimal.Zero
		for _, p := range l.Positions() {
			value = value.Add(p.Size.Mul(p.CurrentPrice))
			held = held.Add(p.MarginHeld)
		}
		require.True(t, pf.Equity.Equal(value), "step %d", i)
		require.True(t, pf.MarginUsed.Equal(held), "step %d", i)
		limit := pf.Equity.Mul(decimal.NewFromInt(int64(pf.LeverageCap)))
		require.True(t, pf.MarginUsed.Add(pf.MarginAvailable).LessThanOrEqual(limit), "step %d", i)
		require.False(t, pf.Cash.IsNegative(), "step %d", i)
	}
}

func TestExportRestore(t *testing.T) {
	l := newLedger(t, noSlippage(100_000))
	_, err := l.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(5), StopLoss: dp(90)}, d(100), t0)
	require.NoError(t, err)
	_, err = l.OpenPosition(OpenRequest{Symbol: "Y", Side: schema.SideShort, Size: d(2)}, d(50), t0)
	require.NoError(t, err)
	l.ClosePosition("pos-2", d(45), schema.CloseReasonManual, t0)
	l.SampleEquity(t0)

	other := newLedger(t, noSlippage(100_000))
	other.Restore(l.Export())
	assert.Equal(t, l.Portfolio(), other.Portfolio())
	assert.Equal(t, l.Positions(), other.Positions())
	assert.Equal(t, l.Trades(0), other.Trades(0))
	assert.Equal(t, l.Progress(), other.Progress())

	p, err := other.OpenPosition(OpenRequest{Symbol: "X", Side: schema.SideLong, Size: d(1)}, d(100), t0)
	require.NoError(t, err)
	assert.Equal(t, "pos-3", p.ID)
}
