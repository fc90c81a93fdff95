// -----------------------------------------------------------------------
// Worker Thread - leases one execution and drives its state machine
// -----------------------------------------------------------------------

package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jezel/internal/models"
	"github.com/ternarybob/jezel/internal/queue"
	"github.com/ternarybob/jezel/internal/services/data"
	"github.com/ternarybob/jezel/internal/storage/sqlite"
)

const popTimeout = time.Second

// Worker polls the queue, claims executions via the (id, ver) lease and
// runs their tasks in step order. Handler failures become durable ERROR
// state; they are never rethrown.
type Worker struct {
	server  *Server
	dataSvc *data.Service
	queue   *queue.Queue
	actions *ActionRegistry
	logger  arbor.ILogger

	record        *models.WorkerThread
	heartbeatEach time.Duration
	lastHeartbeat time.Time
}

func newWorker(server *Server, record *models.WorkerThread) *Worker {
	return &Worker{
		server:        server,
		dataSvc:       server.dataSvc,
		queue:         server.queue,
		actions:       server.actions,
		logger:        server.logger,
		record:        record,
		heartbeatEach: server.heartbeat,
		lastHeartbeat: time.Now().UTC(),
	}
}

// run is the worker loop: pop with a short timeout so shutdown and
// heartbeats are noticed, then process.
func (w *Worker) run(ctx context.Context) {
	w.logger.Debug().Str("worker_id", w.record.ID.String()).Msg("Worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug().Str("worker_id", w.record.ID.String()).Msg("Worker stopped")
			return
		default:
		}

		id, ok, err := w.queue.Pop(ctx, popTimeout)
		w.maybeHeartbeat(ctx)
		if err != nil {
			return
		}
		if !ok {
			continue
		}
		w.server.popped(id)
		w.process(ctx, id)
	}
}

// maybeHeartbeat refreshes the worker's liveness record when the
// heartbeat interval has elapsed.
func (w *Worker) maybeHeartbeat(ctx context.Context) {
	now := time.Now().UTC()
	if now.Sub(w.lastHeartbeat) < w.heartbeatEach {
		return
	}
	w.record.HeartbeatOn = now
	if err := w.dataSvc.SaveWorker(ctx, nil, w.record); err != nil {
		w.logger.Warn().Str("worker_id", w.record.ID.String()).Err(err).Msg("Worker heartbeat failed")
		return
	}
	w.lastHeartbeat = now
}

// process drives one execution from claim to terminal state.
func (w *Worker) process(ctx context.Context, executionID models.ID) {
	execution, err := w.dataSvc.GetExecution(ctx, executionID)
	if err != nil {
		w.logger.Warn().Str("execution_id", executionID.String()).Err(err).Msg("Failed to load queued execution")
		return
	}
	if execution == nil || execution.IsTerminal() {
		return
	}
	if execution.State == models.ExecutionStarted {
		// Another worker holds it.
		return
	}
	if execution.State == models.ExecutionQueued && execution.WorkerThreadID != nil {
		return
	}

	// CAS lease: state + workerThreadId under the row's (id, ver). A
	// concurrency failure means another worker won; discard and poll on.
	if err := execution.MarkQueued(w.record.ID); err != nil {
		return
	}
	if err := w.dataSvc.SaveExecution(ctx, nil, execution); err != nil {
		if sqlite.IsConcurrency(err) {
			w.logger.Debug().Str("execution_id", executionID.String()).Msg("Lost execution lease race")
			return
		}
		w.logger.Warn().Str("execution_id", executionID.String()).Err(err).Msg("Failed to claim execution")
		return
	}

	w.record.ExecutionID = &execution.ID
	if err := w.dataSvc.SaveWorker(ctx, nil, w.record); err != nil {
		w.logger.Warn().Str("worker_id", w.record.ID.String()).Err(err).Msg("Failed to record worker lease")
	}
	defer w.releaseLease(ctx)

	if err := execution.MarkStarted(); err != nil {
		return
	}
	if err := w.dataSvc.SaveExecution(ctx, nil, execution); err != nil {
		w.logger.Warn().Str("execution_id", executionID.String()).Err(err).Msg("Failed to start execution")
		return
	}

	w.logger.Info().
		Str("execution_id", execution.ID.String()).
		Str("job", execution.JobSnapshot.Name).
		Msg("Execution started")
	w.runTasks(ctx, execution)
}

// runTasks invokes the snapshot's tasks in ascending step order. Between
// tasks the worker polls for cancellation and refreshes its heartbeat.
func (w *Worker) runTasks(ctx context.Context, execution *models.Execution) {
	for _, task := range execution.JobSnapshot.Tasks {
		if !task.IsActive {
			continue
		}

		cancelled, err := w.checkCancellation(ctx, execution)
		if err != nil {
			w.logger.Warn().Str("execution_id", execution.ID.String()).Err(err).Msg("Cancellation poll failed")
		}
		if cancelled {
			return
		}
		w.maybeHeartbeat(ctx)

		taskID := task.ID
		execution.ExecutingTaskID = &taskID
		if err := w.dataSvc.SaveExecution(ctx, nil, execution); err != nil {
			w.logger.Warn().Str("execution_id", execution.ID.String()).Err(err).Msg("Failed to record executing task")
			return
		}

		if err := w.invokeAction(ctx, execution, task); err != nil {
			kind := models.ErrorKindTask
			if models.IsInvalidState(err) {
				kind = models.ErrorKindValidation
			} else if _, ok := err.(*panicError); ok {
				kind = models.ErrorKindOther
			}
			w.finish(ctx, execution, func() error {
				return execution.MarkError(kind, err.Error())
			})
			w.logger.Warn().
				Str("execution_id", execution.ID.String()).
				Str("task_id", task.ID.String()).
				Str("error_kind", string(kind)).
				Err(err).
				Msg("Execution task failed")
			return
		}
	}

	// ExecutingTaskID deliberately keeps the last task on completion.
	w.finish(ctx, execution, execution.MarkCompleted)
	w.logger.Info().Str("execution_id", execution.ID.String()).Msg("Execution completed")
}

// checkCancellation polls for a CancellationEvent and, when found, moves
// the execution to CANCELLED.
func (w *Worker) checkCancellation(ctx context.Context, execution *models.Execution) (bool, error) {
	event, err := w.dataSvc.FindCancellation(ctx, execution.ID)
	if err != nil {
		return false, err
	}
	if event == nil {
		return false, nil
	}
	w.finish(ctx, execution, func() error {
		return execution.MarkCancelled(event.ID)
	})
	w.logger.Info().Str("execution_id", execution.ID.String()).Msg("Execution cancelled")
	return true, nil
}

// finish applies a terminal transition and persists it.
func (w *Worker) finish(ctx context.Context, execution *models.Execution, transition func() error) {
	if err := transition(); err != nil {
		w.logger.Warn().Str("execution_id", execution.ID.String()).Err(err).Msg("Invalid terminal transition")
		return
	}
	if err := w.dataSvc.SaveExecution(ctx, nil, execution); err != nil {
		w.logger.Warn().Str("execution_id", execution.ID.String()).Err(err).Msg("Failed to persist terminal state")
	}
}

// releaseLease clears the worker's execution lease.
func (w *Worker) releaseLease(ctx context.Context) {
	w.record.ExecutionID = nil
	if err := w.dataSvc.SaveWorker(ctx, nil, w.record); err != nil {
		w.logger.Warn().Str("worker_id", w.record.ID.String()).Err(err).Msg("Failed to release worker lease")
	}
}

// panicError wraps a recovered handler panic.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("action handler panicked: %v", e.value)
}

// invokeAction looks up and runs the task's handler, converting panics
// into errors. A missing handler is a validation failure.
func (w *Worker) invokeAction(ctx context.Context, execution *models.Execution, task models.Task) (err error) {
	handler, ok := w.actions.Get(task.Action)
	if !ok {
		return models.Invalid("task", "action", fmt.Sprintf("no handler registered for action %q", task.Action))
	}
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return handler(ctx, execution, task)
}
