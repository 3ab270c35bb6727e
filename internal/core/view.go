package core

import (
	"time"

	"tradesim/internal/indicator"
	"tradesim/internal/schema"
	"tradesim/internal/state"
)

const (
	viewHistory       = 50
	viewNews          = 20
	viewNotifications = 20
)

// View is an immutable copy of the market state handed to readers.
type View struct {
	Tick          uint64                       `json:"tick"`
	Clock         time.Time                    `json:"clock"`
	Speed         float64                      `json:"speed"`
	Running       bool                         `json:"running"`
	MarketOpen    bool                         `json:"marketOpen"`
	Condition     schema.MarketCondition       `json:"condition"`
	Assets        []schema.Asset               `json:"assets"`
	Indicators    map[string]indicator.Summary `json:"indicators"`
	Depth         map[string]schema.Depth      `json:"depth,omitempty"`
	Orders        []schema.Order               `json:"orders"`
	OrderHistory  []schema.Order               `json:"orderHistory"`
	Positions     []schema.Position            `json:"positions"`
	Portfolio     schema.Portfolio             `json:"portfolio"`
	MarginLevel   float64                      `json:"marginLevel"`
	Exposure      []state.Exposure             `json:"exposure"`
	Trades        []schema.TradeRecord         `json:"trades"`
	Stats         schema.TradeStats            `json:"stats"`
	EquityHistory []schema.EquityPoint         `json:"equityHistory"`
	Progress      schema.Progress              `json:"progress"`
	Bots          []schema.Bot                 `json:"bots"`
	News          []schema.NewsEvent           `json:"news"`
	Volatility    *schema.VolatilityEvent      `json:"volatility,omitempty"`
	Alerts        []schema.PriceAlert          `json:"alerts"`
	Notifications []schema.Notification        `json:"notifications"`
}

// Snapshot returns the current view.
func (e *Engine) Snapshot() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view()
}

func (e *Engine) view() View {
	st := &e.st
	assets := st.assets.Assets()
	v := View{
		Tick:          st.tick,
		Clock:         st.clock,
		Speed:         st.speed,
		Running:       st.running,
		MarketOpen:    e.cfg.Session.IsOpen(st.clock),
		Condition:     st.condition,
		Assets:        assets,
		Indicators:    make(map[string]indicator.Summary, len(assets)),
		Orders:        st.book.Pending(),
		OrderHistory:  st.book.History(viewHistory),
		Positions:     st.ledger.Positions(),
		Portfolio:     st.ledger.Portfolio(),
		Trades:        st.ledger.Trades(viewHistory),
		Stats:         st.ledger.Stats(),
		EquityHistory: st.ledger.EquityHistory(),
		Progress:      st.ledger.Progress(),
		Bots:          st.bots.Bots(),
		News:          st.news.Recent(viewNews),
		Alerts:        append([]schema.PriceAlert(nil), st.alerts...),
		Notifications: e.notifications(viewNotifications),
	}
	for _, a := range assets {
		v.Indicators[a.Symbol] = indicator.Summarize(st.assets.Window(a.Symbol, time.Time{}))
	}
	if e.cfg.Features.Depth {
		v.Depth = make(map[string]schema.Depth, len(assets))
		for _, a := range assets {
			if d, ok := st.depth.Book(a.Symbol); ok {
				v.Depth[a.Symbol] = d
			}
		}
	}
	if level, ok := st.ledger.MarginLevel(); ok {
		v.MarginLevel = level
	}
	st.exposure.Reset(v.Positions)
	v.Exposure = st.exposure.Entries()
	if ev, ok := st.vol.Active(st.clock); ok {
		v.Volatility = &ev
	}
	return v
}
