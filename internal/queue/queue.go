// -----------------------------------------------------------------------
// Queue - bounded FIFO buffer between trigger producers and workers
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jezel/internal/models"
)

// ErrOverflow is returned when a producer is cancelled while blocked on a
// full queue. Overflow is never silently dropped.
var ErrOverflow = errors.New("queue full")

// Queue is an in-memory bounded FIFO of execution ids, safe for many
// producers and many consumers. Contents are not durable; startup
// reconstruction rebuilds them from TRIGGERED executions in the store.
type Queue struct {
	ch     chan models.ID
	logger arbor.ILogger
}

// New creates a queue with the given capacity.
func New(logger arbor.ILogger, capacity int) *Queue {
	return &Queue{
		ch:     make(chan models.ID, capacity),
		logger: logger,
	}
}

// Push appends an execution id, blocking while the queue is full. A
// cancelled producer fails with ErrOverflow.
func (q *Queue) Push(ctx context.Context, executionID models.ID) error {
	select {
	case q.ch <- executionID:
		return nil
	default:
	}

	q.logger.Debug().Str("execution_id", executionID.String()).Msg("Queue full, producer blocking")
	select {
	case q.ch <- executionID:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: push of %s cancelled: %v", ErrOverflow, executionID, ctx.Err())
	}
}

// Pop removes the oldest execution id, waiting up to timeout. The second
// return is false when the wait timed out.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (models.ID, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case id := <-q.ch:
		return id, true, nil
	case <-timer.C:
		return models.ID{}, false, nil
	case <-ctx.Done():
		return models.ID{}, false, ctx.Err()
	}
}

// Len returns the number of queued ids.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the configured capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
