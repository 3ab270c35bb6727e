package push

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/bus"
	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

func dial(t *testing.T, g *Gateway) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func event(t schema.EventType, seq uint64, payload string) bus.Event {
	return bus.Event{
		Header:  schema.NewHeader(t, seq, seq, 1, 1),
		Payload: []byte(payload),
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, sonic.ConfigFastest.Unmarshal(msg, &f))
	return f
}

func TestGatewayBroadcast(t *testing.T) {
	g := NewGateway(Config{Capacity: 8})
	conn := dial(t, g)
	require.Eventually(t, func() bool { return g.Clients() == 1 }, time.Second, 5*time.Millisecond)

	g.Broadcast(event(schema.EventNews, 7, `{"headline":"x"}`))

	f := readFrame(t, conn)
	assert.Equal(t, "news", f.Type)
	assert.Equal(t, uint64(7), f.Seq)
	assert.JSONEq(t, `{"headline":"x"}`, string(f.Data))
}

func TestGatewaySubscriptionFilters(t *testing.T) {
	g := NewGateway(Config{Capacity: 8})
	conn := dial(t, g)
	require.Eventually(t, func() bool { return g.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(request{Action: "subscribe", Topic: "fill"}))

	// the subscription is applied asynchronously; keep broadcasting until a
	// filtered stream arrives
	require.Eventually(t, func() bool {
		for c := range snapshotClients(g) {
			if !c.wants(schema.EventSnapshot) {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	g.Broadcast(event(schema.EventSnapshot, 1, `{}`))
	g.Broadcast(event(schema.EventFill, 2, `{"id":"pos-1"}`))

	f := readFrame(t, conn)
	assert.Equal(t, "fill", f.Type)
	assert.Equal(t, uint64(2), f.Seq)
}

func snapshotClients(g *Gateway) map[*client]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[*client]struct{}, len(g.clients))
	for c := range g.clients {
		out[c] = struct{}{}
	}
	return out
}

func TestGatewayCloseDisconnects(t *testing.T) {
	g := NewGateway(Config{})
	conn := dial(t, g)
	require.Eventually(t, func() bool { return g.Clients() == 1 }, time.Second, 5*time.Millisecond)

	g.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return g.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestEncodeFrameEmptyPayload(t *testing.T) {
	b, err := EncodeFrame(event(schema.EventSnapshot, 3, ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"snapshot","seq":3,"tick":3,"ts":1,"data":null}`, string(b))
}

func TestParseTopic(t *testing.T) {
	typ, ok := parseTopic("position_closed")
	assert.True(t, ok)
	assert.Equal(t, schema.EventPositionClosed, typ)

	_, ok = parseTopic("unknown")
	assert.False(t, ok)
}

func TestOutboundOverflow(t *testing.T) {
	t.Run("drop newest", func(t *testing.T) {
		o := newOutbound(1, OverflowDropNewest)
		require.NoError(t, o.enqueue([]byte("a")))
		assert.ErrorIs(t, o.enqueue([]byte("b")), exception.ErrWebSocketSlowConsumer)
		assert.Equal(t, []byte("a"), <-o.queue)
	})

	t.Run("drop oldest", func(t *testing.T) {
		o := newOutbound(1, OverflowDropOldest)
		require.NoError(t, o.enqueue([]byte("a")))
		assert.ErrorIs(t, o.enqueue([]byte("b")), exception.ErrWebSocketSlowConsumer)
		assert.Equal(t, []byte("b"), <-o.queue)
	})

	t.Run("closed", func(t *testing.T) {
		o := newOutbound(1, OverflowDropNewest)
		o.close()
		o.close()
		assert.ErrorIs(t, o.enqueue([]byte("a")), exception.ErrWebSocketConnectionClose)
	})
}

func TestGatewayCountsDrops(t *testing.T) {
	g := NewGateway(Config{Capacity: 1})
	c := &client{out: newOutbound(1, OverflowDropNewest), topics: map[schema.EventType]bool{}}
	require.True(t, g.add(c))

	g.Broadcast(event(schema.EventSnapshot, 1, `{}`))
	g.Broadcast(event(schema.EventSnapshot, 2, `{}`))
	assert.Equal(t, uint64(1), g.Drops())
}
