package bot

import (
	"fmt"
	"time"

	"tradesim/internal/indicator"
	"tradesim/internal/schema"
)

// Input is what a strategy sees on one evaluation.
type Input struct {
	Asset     schema.Asset
	Condition schema.MarketCondition
	Window    []float64
	Now       time.Time
}

// Strategy turns an input into a side. SideUnknown means hold.
type Strategy interface {
	Kind() schema.Strategy
	Decide(in Input) schema.Side
}

// NewStrategy builds a strategy by kind.
func NewStrategy(kind schema.Strategy, cfg Config) (Strategy, error) {
	switch kind {
	case schema.StrategyTrendFollowing:
		return trendFollowing{}, nil
	case schema.StrategyMeanReversion:
		return meanReversion{threshold: cfg.MeanReversionPercent}, nil
	case schema.StrategyBreakout:
		return breakout{deviations: cfg.BreakoutDeviations}, nil
	default:
		return nil, fmt.Errorf("unknown strategy type: %s", kind)
	}
}

type trendFollowing struct{}

func (trendFollowing) Kind() schema.Strategy { return schema.StrategyTrendFollowing }

func (trendFollowing) Decide(in Input) schema.Side {
	switch in.Condition.Trend {
	case schema.TrendUp:
		return schema.SideLong
	case schema.TrendDown:
		return schema.SideShort
	}
	return schema.SideUnknown
}

type meanReversion struct {
	threshold float64
}

func (meanReversion) Kind() schema.Strategy { return schema.StrategyMeanReversion }

// ChangePercent is in percent units, so the threshold compares directly.
func (s meanReversion) Decide(in Input) schema.Side {
	change := in.Asset.ChangePercent.InexactFloat64()
	switch {
	case change < -s.threshold:
		return schema.SideLong
	case change > s.threshold:
		return schema.SideShort
	}
	return schema.SideUnknown
}

type breakout struct {
	deviations float64
}

func (breakout) Kind() schema.Strategy { return schema.StrategyBreakout }

func (s breakout) Decide(in Input) schema.Side {
	mean, std, ok := indicator.MeanStdDev(in.Window)
	if !ok {
		return schema.SideUnknown
	}
	price := in.Asset.Price.InexactFloat64()
	band := std * s.deviations
	switch {
	case price > mean+band:
		return schema.SideLong
	case price < mean-band:
		return schema.SideShort
	}
	return schema.SideUnknown
}
