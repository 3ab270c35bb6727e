// Package indicator wraps the technical indicators used by bots and snapshots.
package indicator

import (
	"math"

	"github.com/markcheno/go-talib"
)

const (
	SMAPeriod    = 20
	RSIPeriod    = 14
	StdDevPeriod = 20
)

// Summary is the latest value of each indicator. Zero means not enough data.
type Summary struct {
	SMA    float64 `json:"sma"`
	RSI    float64 `json:"rsi"`
	StdDev float64 `json:"stdDev"`
}

// Summarize computes the default indicator set over a price series.
func Summarize(prices []float64) Summary {
	var s Summary
	if v, ok := SMA(prices, SMAPeriod); ok {
		s.SMA = v
	}
	if v, ok := RSI(prices, RSIPeriod); ok {
		s.RSI = v
	}
	if v, ok := StdDev(prices, StdDevPeriod); ok {
		s.StdDev = v
	}
	return s
}

// SMA returns the simple moving average of the last period prices.
func SMA(prices []float64, period int) (float64, bool) {
	if period < 2 || len(prices) < period {
		return 0, false
	}
	return last(talib.Sma(prices, period))
}

// RSI returns the relative strength index; it needs more samples than the period.
func RSI(prices []float64, period int) (float64, bool) {
	if period < 2 || len(prices) <= period {
		return 0, false
	}
	return last(talib.Rsi(prices, period))
}

// StdDev returns the population standard deviation of the last period prices.
func StdDev(prices []float64, period int) (float64, bool) {
	if period < 2 || len(prices) < period {
		return 0, false
	}
	return last(talib.StdDev(prices, period, 1))
}

// MeanStdDev returns the mean and deviation over the whole window.
func MeanStdDev(prices []float64) (mean, std float64, ok bool) {
	n := len(prices)
	if n < 2 {
		return 0, 0, false
	}
	if mean, ok = SMA(prices, n); !ok {
		return 0, 0, false
	}
	if std, ok = StdDev(prices, n); !ok {
		return 0, 0, false
	}
	return mean, std, true
}

func last(out []float64) (float64, bool) {
	if len(out) == 0 {
		return 0, false
	}
	v := out[len(out)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
