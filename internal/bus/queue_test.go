package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/schema"
)

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.TryPublish(Event{Header: schema.NewHeader(schema.EventSnapshot, 1, 1, 0, 0)}))
	require.NoError(t, q.TryPublish(Event{Header: schema.NewHeader(schema.EventSnapshot, 2, 2, 0, 0)}))
	assert.ErrorIs(t, q.TryPublish(Event{}), ErrQueueFull)
	assert.Equal(t, 2, q.Len())
}

func TestQueueDrainsAfterClose(t *testing.T) {
	q := NewQueue(4)
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, q.TryPublish(Event{Header: schema.NewHeader(schema.EventFill, i, i, 0, 0)}))
	}
	q.Close()
	q.Close()
	assert.ErrorIs(t, q.TryPublish(Event{}), ErrQueueClosed)

	var seqs []uint64
	q.Run(context.Background(), func(e Event) {
		seqs = append(seqs, e.Header.Seq)
	})
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestQueueStopsOnContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Run(ctx, func(Event) { t.Fatal("unexpected event") })
}
