package exception

import "github.com/yanun0323/errors"

// General errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNilInstance  = errors.New("nil instance")
	ErrInternal     = errors.New("internal error")
	ErrRiskRejected = errors.New("rejected by risk limits")
)
