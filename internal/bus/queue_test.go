package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePublishAndDrain(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.TryPublish(1))
	require.NoError(t, q.TryPublish(2))
	assert.ErrorIs(t, q.TryPublish(3), ErrQueueFull)
	assert.Equal(t, uint64(1), q.Drops())
	assert.Equal(t, 2, q.Len())

	q.Close()
	assert.ErrorIs(t, q.TryPublish(4), ErrQueueClosed)

	var got []int
	q.Run(context.Background(), func(v int) { got = append(got, v) })
	assert.Equal(t, []int{1, 2}, got)
}

func TestQueueRunStopsOnCancel(t *testing.T) {
	q := NewQueue[string](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		q.Run(ctx, func(string) {})
		close(done)
	}()
	<-done
}
