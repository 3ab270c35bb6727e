package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/schema"
)

const (
	xpPerTrade    = 10
	xpPerProfit   = 0.1
	levelUpFactor = 1.5
	equityKeep    = 100
)

func advanceProgress(p schema.Progress, realized decimal.Decimal) schema.Progress {
	p.Trades++
	p.Experience += xpPerTrade
	if realized.IsPositive() {
		p.Experience += realized.InexactFloat64() * xpPerProfit
	}
	for p.ToNext > 0 && p.Experience >= p.ToNext {
		p.Experience -= p.ToNext
		p.Level++
		p.ToNext *= levelUpFactor
	}
	return p
}

// equityCurve keeps one equity sample per virtual minute.
type equityCurve struct {
	points []schema.EquityPoint
}

func (c *equityCurve) sample(now time.Time, equity decimal.Decimal) bool {
	minute := now.Truncate(time.Minute)
	if n := len(c.points); n > 0 && !c.points[n-1].Timestamp.Before(minute) {
		return false
	}
	c.points = append(c.points, schema.EquityPoint{Timestamp: minute, Equity: equity})
	if len(c.points) > equityKeep {
		c.points = c.points[len(c.points)-equityKeep:]
	}
	return true
}

// SampleEquity records the current equity once per virtual minute.
func (l *Ledger) SampleEquity(now time.Time) bool {
	return l.curve.sample(now, l.equity)
}

// EquityHistory returns the sampled equity curve, oldest first.
func (l *Ledger) EquityHistory() []schema.EquityPoint {
	return append([]schema.EquityPoint(nil), l.curve.points...)
}

// Stats summarizes closed trades and the drawdown of the equity curve.
func (l *Ledger) Stats() schema.TradeStats {
	s := schema.TradeStats{RealizedPnL: l.realized}
	for _, t := range l.trades {
		s.Trades++
		if t.PnL.IsPositive() {
			s.Wins++
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
	}
	s.MaxDrawdown = maxDrawdown(l.curve.points)
	return s
}

// maxDrawdown is the largest peak-to-trough fall in percent.
func maxDrawdown(points []schema.EquityPoint) float64 {
	var peak, worst float64
	for _, p := range points {
		v := p.Equity.InexactFloat64()
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak * 100; dd > worst {
			worst = dd
		}
	}
	return worst
}

// State is the serializable form of a ledger.
type State struct {
	Cash            decimal.Decimal      `json:"cash"`
	MarginUsed      decimal.Decimal      `json:"marginUsed"`
	MarginAvailable decimal.Decimal      `json:"marginAvailable"`
	Realized        decimal.Decimal      `json:"realized"`
	Positions       []schema.Position    `json:"positions"`
	Trades          []schema.TradeRecord `json:"trades"`
	Equity          []schema.EquityPoint `json:"equity"`
	Progress        schema.Progress      `json:"progress"`
	MarginCall      bool                 `json:"marginCall"`
	Seq             uint64               `json:"seq"`
}

// Export copies the ledger state.
func (l *Ledger) Export() State {
	return State{
		Cash:            l.cash,
		MarginUsed:      l.marginUsed,
		MarginAvailable: l.marginAvailable,
		Realized:        l.realized,
		Positions:       l.Positions(),
		Trades:          append([]schema.TradeRecord(nil), l.trades...),
		Equity:          l.EquityHistory(),
		Progress:        l.progress,
		MarginCall:      l.marginCall,
		Seq:             l.seq,
	}
}

// Restore replaces the ledger state.
func (l *Ledger) Restore(s State) {
	l.cash = s.Cash
	l.marginUsed = s.MarginUsed
	l.marginAvailable = s.MarginAvailable
	l.realized = s.Realized
	l.positions = l.positions[:0]
	l.byID = make(map[string]*schema.Position, len(s.Positions))
	for i := range s.Positions {
		p := s.Positions[i]
		l.positions = append(l.positions, &p)
		l.byID[p.ID] = &p
	}
	l.trades = append([]schema.TradeRecord(nil), s.Trades...)
	l.curve.points = append([]schema.EquityPoint(nil), s.Equity...)
	l.progress = s.Progress
	l.marginCall = s.MarginCall
	l.seq = s.Seq
	l.revalue()
}
