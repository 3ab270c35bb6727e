package push

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradesim/internal/bus"
	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

const (
	defaultCapacity     = 64
	defaultWriteTimeout = 5 * time.Second
	defaultPingInterval = 30 * time.Second
	maxMessageSize      = 4 << 10
)

// Config tunes the per-client write path.
type Config struct {
	Capacity     int
	Policy       OverflowPolicy
	WriteTimeout time.Duration
	PingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = defaultCapacity
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	return c
}

// Frame is the JSON envelope sent to clients.
type Frame struct {
	Type string          `json:"type"`
	Seq  uint64          `json:"seq"`
	Tick uint64          `json:"tick"`
	Ts   int64           `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// request is a client control message, e.g. {"action":"subscribe","topic":"news"}.
type request struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

type client struct {
	conn *websocket.Conn
	out  *outbound

	mu     sync.RWMutex
	topics map[schema.EventType]bool
}

// wants reports whether the client receives events of type t.
// A client without subscriptions receives everything.
func (c *client) wants(t schema.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.topics) == 0 {
		return true
	}
	return c.topics[t]
}

func (c *client) handle(req request) error {
	t, ok := parseTopic(req.Topic)
	if !ok {
		return errors.Errorf("unknown topic %q", req.Topic)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch req.Action {
	case "subscribe":
		c.topics[t] = true
	case "unsubscribe":
		delete(c.topics, t)
	default:
		return errors.Errorf("unknown action %q", req.Action)
	}
	return nil
}

func parseTopic(name string) (schema.EventType, bool) {
	for t := schema.EventSnapshot; t <= schema.MaxEventType; t++ {
		if t.String() == name {
			return t, true
		}
	}
	return schema.EventUnknown, false
}

// Gateway fans bus events out to websocket clients.
type Gateway struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	drops atomic.Uint64
}

// NewGateway creates a gateway with no clients.
func NewGateway(cfg Config) *Gateway {
	return &Gateway{
		cfg: cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the connection and blocks until the client leaves.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Errorf("upgrade websocket, err: %+v", err)
		return
	}

	c := &client{
		conn:   conn,
		out:    newOutbound(g.cfg.Capacity, g.cfg.Policy),
		topics: make(map[schema.EventType]bool),
	}
	if !g.add(c) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		_ = conn.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.writePump(c)
	}()

	g.readPump(c)
	g.remove(c)
	c.out.close()
	<-done
}

func (g *Gateway) add(c *client) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.clients[c] = struct{}{}
	return true
}

func (g *Gateway) remove(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.clients, c)
}

func (g *Gateway) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req request
		if err := sonic.ConfigFastest.Unmarshal(message, &req); err != nil {
			continue
		}
		if err := c.handle(req); err != nil {
			logs.Infof("ignore client request, err: %+v", err)
		}
	}
}

func (g *Gateway) writePump(c *client) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.out.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast encodes the event once and queues it for every interested client.
func (g *Gateway) Broadcast(e bus.Event) {
	frame, err := EncodeFrame(e)
	if err != nil {
		logs.Errorf("encode push frame, err: %+v", err)
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	for c := range g.clients {
		if !c.wants(e.Header.Type) {
			continue
		}
		if err := c.out.enqueue(frame); errors.Is(err, exception.ErrWebSocketSlowConsumer) {
			g.drops.Add(1)
		}
	}
}

// EncodeFrame wraps an event payload in the client envelope.
func EncodeFrame(e bus.Event) ([]byte, error) {
	data := json.RawMessage(e.Payload)
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	b, err := sonic.ConfigFastest.Marshal(Frame{
		Type: e.Header.Type.String(),
		Seq:  e.Header.Seq,
		Tick: e.Header.Tick,
		Ts:   e.Header.TsEvent,
		Data: data,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal frame")
	}
	return b, nil
}

// Clients returns the number of connected clients.
func (g *Gateway) Clients() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Drops returns the number of frames lost to slow consumers.
func (g *Gateway) Drops() uint64 {
	return g.drops.Load()
}

// Close disconnects every client and rejects new ones.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for c := range g.clients {
		c.out.close()
	}
}
