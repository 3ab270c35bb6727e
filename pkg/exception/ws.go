package exception

import "github.com/yanun0323/errors"

// WS errors
var (
	ErrWebSocketConnectionClose = errors.New("websocket: connection closed")
	ErrWebSocketSlowConsumer    = errors.New("websocket: slow consumer")
)
