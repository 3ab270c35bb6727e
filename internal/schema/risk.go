package schema

import "github.com/shopspring/decimal"

// RiskAction is the outcome of a risk decision.
type RiskAction uint16

const (
	RiskActionUnknown RiskAction = iota
	RiskActionAllow
	RiskActionDeny
)

// RiskReason is a coarse reason code for risk decisions.
type RiskReason uint16

const (
	RiskReasonNone RiskReason = iota
	RiskReasonKillSwitch
	RiskReasonMaxQty
	RiskReasonMaxNotional
	RiskReasonRateLimit
	RiskReasonPriceBand
	RiskReasonPositionLimit
	RiskReasonLeverage
	RiskReasonMaxPosition
)

// MaxRiskReason is the highest defined risk reason.
const MaxRiskReason = RiskReasonMaxPosition

var riskReasonNames = enumNames{"none", "kill_switch", "max_qty", "max_notional", "rate_limit", "price_band", "position_limit", "leverage", "max_position"}

func (r RiskReason) String() string { return riskReasonNames.name(int(r)) }

func (r RiskReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// RiskDecision is the result of a pre-trade check.
type RiskDecision struct {
	OrderID       string          `json:"orderId"`
	Owner         string          `json:"owner"`
	Symbol        string          `json:"symbol"`
	Action        RiskAction      `json:"action"`
	Reason        RiskReason      `json:"reason"`
	Version       uint16          `json:"version"`
	ProposedSize  decimal.Decimal `json:"proposedSize"`
	ProposedPrice decimal.Decimal `json:"proposedPrice"`
	Notional      decimal.Decimal `json:"notional"`
}

// Allowed reports whether the order may proceed.
func (d RiskDecision) Allowed() bool {
	return d.Action == RiskActionAllow
}
