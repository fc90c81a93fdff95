// -----------------------------------------------------------------------
// Action Registry - named handlers invoked per task
// -----------------------------------------------------------------------

package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/jezel/internal/models"
)

// ActionFunc runs one task of an execution. Handlers that want to be
// interruptible must observe ctx; the worker does not interrupt a running
// handler.
type ActionFunc func(ctx context.Context, execution *models.Execution, task models.Task) error

// ActionRegistry maps action names to handlers. Names are matched
// casefolded, the same normalization tasks apply on save.
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ActionFunc
}

// NewActionRegistry creates a registry with the built-in handlers.
func NewActionRegistry() *ActionRegistry {
	r := &ActionRegistry{
		handlers: make(map[string]ActionFunc),
	}
	r.Register("noop", func(ctx context.Context, execution *models.Execution, task models.Task) error {
		return nil
	})
	r.Register("sleep", sleepAction)
	return r
}

// Register adds or replaces a handler.
func (r *ActionRegistry) Register(name string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Get returns the handler for an action name.
func (r *ActionRegistry) Get(name string) (ActionFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// sleepAction blocks for the duration in the task's name ("2s"), default
// one second. It wakes early when ctx is cancelled.
func sleepAction(ctx context.Context, execution *models.Execution, task models.Task) error {
	d := time.Second
	if task.Name != nil {
		if parsed, err := time.ParseDuration(*task.Name); err == nil && parsed > 0 {
			d = parsed
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	}
}
