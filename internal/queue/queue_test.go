package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jezel/internal/models"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := New(arbor.NewLogger(), 4)
	ctx := context.Background()

	first := models.NewID()
	second := models.NewID()
	third := models.NewID()
	for _, id := range []models.ID{first, second, third} {
		require.NoError(t, q.Push(ctx, id))
	}
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 4, q.Cap())

	for _, want := range []models.ID{first, second, third} {
		got, ok, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PopTimeout(t *testing.T) {
	q := New(arbor.NewLogger(), 1)

	start := time.Now()
	_, ok, err := q.Pop(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestQueue_PushBlocksUntilSpace(t *testing.T) {
	q := New(arbor.NewLogger(), 1)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, models.NewID()))

	blocked := models.NewID()
	done := make(chan error, 1)
	go func() {
		done <- q.Push(ctx, blocked)
	}()

	select {
	case <-done:
		t.Fatal("push should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, <-done)
	got, ok, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blocked, got)
}

func TestQueue_PushOverflowOnCancel(t *testing.T) {
	q := New(arbor.NewLogger(), 1)
	require.NoError(t, q.Push(context.Background(), models.NewID()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := q.Push(ctx, models.NewID())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 1, q.Len(), "cancelled push must not enqueue")
}

func TestQueue_PopCancelled(t *testing.T) {
	q := New(arbor.NewLogger(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := q.Pop(ctx, time.Second)
	assert.False(t, ok)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
