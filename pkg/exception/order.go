package exception

import "github.com/yanun0323/errors"

var (
	ErrInsufficientFunds = errors.New("order: insufficient funds")
	ErrOrderNotFound     = errors.New("order: not found")
	ErrOrderNotPending   = errors.New("order: not pending")
	ErrPositionNotFound  = errors.New("position: not found")
)

var (
	ErrBotNotFound   = errors.New("bot: not found")
	ErrAlertNotFound = errors.New("alert: not found")
)
