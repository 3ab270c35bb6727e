package schema

import (
	"fmt"
	"strings"
)

type enumNames []string

func (n enumNames) name(i int) string {
	if i >= 0 && i < len(n) {
		return n[i]
	}
	return "unknown"
}

func (n enumNames) parse(kind, s string) (int, error) {
	s = strings.TrimSpace(s)
	for i, v := range n {
		if strings.EqualFold(v, s) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s: %q", kind, s)
}

// AssetClass separates equities from crypto; each class has its own volatility profile.
type AssetClass uint8

const (
	AssetClassUnknown AssetClass = iota
	AssetClassEquity
	AssetClassCrypto
)

var assetClassNames = enumNames{"unknown", "equity", "crypto"}

func (c AssetClass) String() string { return assetClassNames.name(int(c)) }

func (c AssetClass) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *AssetClass) UnmarshalText(b []byte) error {
	v, err := assetClassNames.parse("asset class", string(b))
	*c = AssetClass(v)
	return err
}

// Side describes position direction.
type Side uint8

const (
	SideUnknown Side = iota
	SideLong
	SideShort
)

var sideNames = enumNames{"unknown", "long", "short"}

func (s Side) String() string { return sideNames.name(int(s)) }

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	v, err := sideNames.parse("side", string(b))
	*s = Side(v)
	return err
}

// ParseSide converts a side name into a Side.
func ParseSide(s string) (Side, error) {
	v, err := sideNames.parse("side", s)
	return Side(v), err
}

// OrderKind describes the order type.
type OrderKind uint8

const (
	OrderKindUnknown OrderKind = iota
	OrderKindMarket
	OrderKindLimit
	OrderKindStop
	OrderKindStopLimit
)

var orderKindNames = enumNames{"unknown", "market", "limit", "stop", "stop_limit"}

func (k OrderKind) String() string { return orderKindNames.name(int(k)) }

func (k OrderKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *OrderKind) UnmarshalText(b []byte) error {
	v, err := orderKindNames.parse("order kind", string(b))
	*k = OrderKind(v)
	return err
}

// ParseOrderKind converts a kind name into an OrderKind.
func ParseOrderKind(s string) (OrderKind, error) {
	v, err := orderKindNames.parse("order kind", s)
	return OrderKind(v), err
}

// OrderStatus tracks the lifecycle of an order.
type OrderStatus uint8

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusPending
	OrderStatusFilled
	OrderStatusCancelled
)

var orderStatusNames = enumNames{"unknown", "pending", "filled", "cancelled"}

func (s OrderStatus) String() string { return orderStatusNames.name(int(s)) }

func (s OrderStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *OrderStatus) UnmarshalText(b []byte) error {
	v, err := orderStatusNames.parse("order status", string(b))
	*s = OrderStatus(v)
	return err
}

// Trend is the global market direction.
type Trend uint8

const (
	TrendSideways Trend = iota
	TrendUp
	TrendDown
)

var trendNames = enumNames{"sideways", "uptrend", "downtrend"}

func (t Trend) String() string { return trendNames.name(int(t)) }

func (t Trend) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Trend) UnmarshalText(b []byte) error {
	v, err := trendNames.parse("trend", string(b))
	*t = Trend(v)
	return err
}

// VolatilityRegime is the global volatility level.
type VolatilityRegime uint8

const (
	VolatilityLow VolatilityRegime = iota
	VolatilityMedium
	VolatilityHigh
)

var volatilityRegimeNames = enumNames{"low", "medium", "high"}

func (v VolatilityRegime) String() string { return volatilityRegimeNames.name(int(v)) }

func (v VolatilityRegime) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *VolatilityRegime) UnmarshalText(b []byte) error {
	n, err := volatilityRegimeNames.parse("volatility regime", string(b))
	*v = VolatilityRegime(n)
	return err
}

// Sentiment is the global market mood.
type Sentiment uint8

const (
	SentimentNeutral Sentiment = iota
	SentimentBullish
	SentimentBearish
)

var sentimentNames = enumNames{"neutral", "bullish", "bearish"}

func (s Sentiment) String() string { return sentimentNames.name(int(s)) }

func (s Sentiment) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Sentiment) UnmarshalText(b []byte) error {
	v, err := sentimentNames.parse("sentiment", string(b))
	*s = Sentiment(v)
	return err
}

// Score maps the mood onto -1, 0 or 1.
func (s Sentiment) Score() float64 {
	switch s {
	case SentimentBullish:
		return 1
	case SentimentBearish:
		return -1
	default:
		return 0
	}
}

// NewsSentiment is the tone of a news item.
type NewsSentiment uint8

const (
	NewsNeutral NewsSentiment = iota
	NewsPositive
	NewsNegative
)

var newsSentimentNames = enumNames{"neutral", "positive", "negative"}

func (s NewsSentiment) String() string { return newsSentimentNames.name(int(s)) }

func (s NewsSentiment) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *NewsSentiment) UnmarshalText(b []byte) error {
	v, err := newsSentimentNames.parse("news sentiment", string(b))
	*s = NewsSentiment(v)
	return err
}

// Direction returns +1, -1 or 0.
func (s NewsSentiment) Direction() float64 {
	switch s {
	case NewsPositive:
		return 1
	case NewsNegative:
		return -1
	default:
		return 0
	}
}

// Strategy selects the bot decision rule.
type Strategy uint8

const (
	StrategyUnknown Strategy = iota
	StrategyTrendFollowing
	StrategyMeanReversion
	StrategyBreakout
)

var strategyNames = enumNames{"unknown", "trend_following", "mean_reversion", "breakout"}

func (s Strategy) String() string { return strategyNames.name(int(s)) }

func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := strategyNames.parse("strategy", string(b))
	*s = Strategy(v)
	return err
}

// ParseStrategy converts a strategy name into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	v, err := strategyNames.parse("strategy", s)
	return Strategy(v), err
}

// CloseReason records why a position was closed.
type CloseReason uint8

const (
	CloseReasonManual CloseReason = iota
	CloseReasonStopLoss
	CloseReasonTakeProfit
)

var closeReasonNames = enumNames{"manual", "stop_loss", "take_profit"}

func (r CloseReason) String() string { return closeReasonNames.name(int(r)) }

func (r CloseReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *CloseReason) UnmarshalText(b []byte) error {
	v, err := closeReasonNames.parse("close reason", string(b))
	*r = CloseReason(v)
	return err
}

// NotificationLevel is the severity shown by the UI toast feed.
type NotificationLevel uint8

const (
	LevelInfo NotificationLevel = iota
	LevelSuccess
	LevelWarning
	LevelError
)

var notificationLevelNames = enumNames{"info", "success", "warning", "error"}

func (l NotificationLevel) String() string { return notificationLevelNames.name(int(l)) }

func (l NotificationLevel) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *NotificationLevel) UnmarshalText(b []byte) error {
	v, err := notificationLevelNames.parse("notification level", string(b))
	*l = NotificationLevel(v)
	return err
}

// AlertCondition selects the crossing direction of a price alert.
type AlertCondition uint8

const (
	AlertAbove AlertCondition = iota
	AlertBelow
)

var alertConditionNames = enumNames{"above", "below"}

func (c AlertCondition) String() string { return alertConditionNames.name(int(c)) }

func (c AlertCondition) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *AlertCondition) UnmarshalText(b []byte) error {
	v, err := alertConditionNames.parse("alert condition", string(b))
	*c = AlertCondition(v)
	return err
}
