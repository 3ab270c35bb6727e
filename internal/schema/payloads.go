package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// OwnerUser tags orders and positions created by the human trader.
const OwnerUser = "user"

// Asset is the live market state of a tradable instrument.
type Asset struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Class         AssetClass      `json:"class"`
	Price         decimal.Decimal `json:"price"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	PrevClose     decimal.Decimal `json:"prevClose"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Volume        int64           `json:"volume"`
	BaseVolume    int64           `json:"baseVolume"`
	Bid           decimal.Decimal `json:"bid"`
	Ask           decimal.Decimal `json:"ask"`
	Spread        decimal.Decimal `json:"spread"`
}

// Order is a user or bot order request and its lifecycle state.
type Order struct {
	ID            string           `json:"id"`
	Symbol        string           `json:"symbol"`
	Side          Side             `json:"side"`
	Kind          OrderKind        `json:"kind"`
	Size          decimal.Decimal  `json:"size"`
	LimitPrice    *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice     *decimal.Decimal `json:"stopPrice,omitempty"`
	UseMargin     bool             `json:"useMargin"`
	Leverage      int              `json:"leverage"`
	Status        OrderStatus      `json:"status"`
	StopTriggered bool             `json:"stopTriggered"`
	Owner         string           `json:"owner"`
	CreatedAt     time.Time        `json:"createdAt"`
	ClosedAt      time.Time        `json:"closedAt"`
	FillPrice     decimal.Decimal  `json:"fillPrice"`
	PositionID    string           `json:"positionId,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// Position is an open leveraged exposure created by a fill.
type Position struct {
	ID           string           `json:"id"`
	Symbol       string           `json:"symbol"`
	Side         Side             `json:"side"`
	EntryPrice   decimal.Decimal  `json:"entryPrice"`
	Size         decimal.Decimal  `json:"size"`
	Leverage     int              `json:"leverage"`
	Commission   decimal.Decimal  `json:"commission"`
	MarginHeld   decimal.Decimal  `json:"marginHeld"`
	StopLoss     *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit   *decimal.Decimal `json:"takeProfit,omitempty"`
	Owner        string           `json:"owner"`
	OrderID      string           `json:"orderId,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	CurrentPrice decimal.Decimal  `json:"currentPrice"`
	PnL          decimal.Decimal  `json:"pnl"`
	PnLPercent   decimal.Decimal  `json:"pnlPercent"`
}

// Portfolio is the cash and margin account.
type Portfolio struct {
	Cash            decimal.Decimal `json:"cash"`
	Equity          decimal.Decimal `json:"equity"`
	MarginUsed      decimal.Decimal `json:"marginUsed"`
	MarginAvailable decimal.Decimal `json:"marginAvailable"`
	LeverageCap     int             `json:"leverageCap"`
	RealizedPnL     decimal.Decimal `json:"realizedPnl"`
}

// TradeRecord is an entry in the closed-trade history.
type TradeRecord struct {
	PositionID string          `json:"positionId"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	ExitPrice  decimal.Decimal `json:"exitPrice"`
	Size       decimal.Decimal `json:"size"`
	Leverage   int             `json:"leverage"`
	PnL        decimal.Decimal `json:"pnl"`
	Commission decimal.Decimal `json:"commission"`
	Reason     CloseReason     `json:"reason"`
	Owner      string          `json:"owner"`
	OpenedAt   time.Time       `json:"openedAt"`
	ClosedAt   time.Time       `json:"closedAt"`
}

// Bot is an autonomous strategy instance.
type Bot struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Strategy    Strategy        `json:"strategy"`
	Capital     decimal.Decimal `json:"capital"`
	Interval    time.Duration   `json:"interval"`
	LastTradeAt time.Time       `json:"lastTradeAt"`
	Active      bool            `json:"active"`
	Trades      int             `json:"trades"`
}

// MarketCondition is the global regime consumed by the price model and bots.
type MarketCondition struct {
	Trend      Trend            `json:"trend"`
	Volatility VolatilityRegime `json:"volatility"`
	Sentiment  Sentiment        `json:"sentiment"`
	Vix        float64          `json:"vix"`
}

// NewsEvent is a headline that nudges and then decays into prices.
type NewsEvent struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Headline  string        `json:"headline"`
	Category  string        `json:"category"`
	Sentiment NewsSentiment `json:"sentiment"`
	Magnitude float64       `json:"magnitude"`
	Symbols   []string      `json:"symbols"`
}

// VolatilityEvent raises the global volatility multiplier for a bounded duration.
type VolatilityEvent struct {
	Name      string        `json:"name"`
	Magnitude float64       `json:"magnitude"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Active reports whether the event still applies at now.
func (e VolatilityEvent) Active(now time.Time) bool {
	return !e.StartedAt.IsZero() && now.Before(e.StartedAt.Add(e.Duration))
}

// DepthLevel is one price level of the synthetic book.
type DepthLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// Depth is the synthetic order book view of a symbol.
type Depth struct {
	Symbol    string       `json:"symbol"`
	Bids      []DepthLevel `json:"bids"`
	Asks      []DepthLevel `json:"asks"`
	Imbalance float64      `json:"imbalance"`
}

// Notification is a user-facing message produced by the core.
type Notification struct {
	Level     NotificationLevel `json:"level"`
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
}

// PriceAlert fires once when a symbol crosses the target.
type PriceAlert struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Condition AlertCondition  `json:"condition"`
	Target    decimal.Decimal `json:"target"`
	Triggered bool            `json:"triggered"`
	CreatedAt time.Time       `json:"createdAt"`
}

// EquityPoint is one sample of portfolio equity.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// Progress is the trader's experience track.
type Progress struct {
	Level      int     `json:"level"`
	Experience float64 `json:"experience"`
	ToNext     float64 `json:"toNext"`
	Trades     int     `json:"trades"`
}

// TradeStats summarises the closed-trade history.
type TradeStats struct {
	Trades      int             `json:"trades"`
	Wins        int             `json:"wins"`
	WinRate     float64         `json:"winRate"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	MaxDrawdown float64         `json:"maxDrawdown"`
}
