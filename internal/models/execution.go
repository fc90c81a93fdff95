// -----------------------------------------------------------------------
// Execution - one run of a Job driven through its state machine
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// ExecutionState is the lifecycle state of an Execution.
//
//	TRIGGERED -> QUEUED -> STARTED -> COMPLETED | ERROR | CANCELLED
type ExecutionState string

const (
	ExecutionTriggered ExecutionState = "TRIGGERED"
	ExecutionQueued    ExecutionState = "QUEUED"
	ExecutionStarted   ExecutionState = "STARTED"
	ExecutionCompleted ExecutionState = "COMPLETED"
	ExecutionError     ExecutionState = "ERROR"
	ExecutionCancelled ExecutionState = "CANCELLED"
)

// ErrorKind classifies a failed execution.
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "VALIDATION"
	ErrorKindTask       ErrorKind = "TASK"
	ErrorKindOther      ErrorKind = "OTHER"
)

// Execution is one run of a Job. It carries an immutable snapshot of the
// Job as it looked at trigger time, so later edits or deletion of the Job
// cannot change in-flight work.
type Execution struct {
	Meta
	SystemID            ID             `json:"systemId"`
	TriggerEventID      ID             `json:"triggerEventId"`
	State               ExecutionState `json:"state"`
	ExecutingTaskID     *ID            `json:"executingTaskId,omitempty"`
	StartedOn           *time.Time     `json:"startedOn,omitempty"`
	CompletedOn         *time.Time     `json:"completedOn,omitempty"`
	CancellationEventID *ID            `json:"cancellationEventId,omitempty"`
	ErrorKind           *ErrorKind     `json:"errorKind,omitempty"`
	ErrorMessage        *string        `json:"errorMessage,omitempty"`
	JobSnapshot         Job            `json:"jobSnapshot"`
	WorkerThreadID      *ID            `json:"workerThreadId,omitempty"`
}

// NewExecution creates a TRIGGERED execution for the given trigger.
func NewExecution(systemID ID, trigger *TriggerEvent, job *Job) *Execution {
	return &Execution{
		Meta:           Meta{ID: NewID()},
		SystemID:       systemID,
		TriggerEventID: trigger.ID,
		State:          ExecutionTriggered,
		JobSnapshot:    *job,
	}
}

func (e *Execution) TypeTag() string {
	return "jezel.model.Execution"
}

func (e *Execution) Validate() []FieldError {
	var errs []FieldError
	errs = requireID(errs, "id", e.ID)
	errs = requireID(errs, "systemId", e.SystemID)
	errs = requireID(errs, "triggerEventId", e.TriggerEventID)
	switch e.State {
	case ExecutionTriggered, ExecutionQueued, ExecutionStarted,
		ExecutionCompleted, ExecutionError, ExecutionCancelled:
	default:
		errs = append(errs, FieldError{Field: "state", Message: fmt.Sprintf("unknown state %q", e.State)})
	}
	if e.State == ExecutionError && e.ErrorKind == nil {
		errs = append(errs, FieldError{Field: "errorKind", Message: "must be set when state is ERROR"})
	}
	return errs
}

// IsTerminal reports whether the execution reached a final state.
func (e *Execution) IsTerminal() bool {
	switch e.State {
	case ExecutionCompleted, ExecutionError, ExecutionCancelled:
		return true
	}
	return false
}

// MarkQueued claims the execution for a worker thread. Valid from
// TRIGGERED, or from QUEUED when re-enqueued by recovery.
func (e *Execution) MarkQueued(workerThreadID ID) error {
	if e.State != ExecutionTriggered && e.State != ExecutionQueued {
		return Invalid("execution", "state", fmt.Sprintf("cannot queue from %s", e.State))
	}
	e.State = ExecutionQueued
	e.WorkerThreadID = &workerThreadID
	return nil
}

// MarkStarted begins task processing.
func (e *Execution) MarkStarted() error {
	if e.State != ExecutionQueued {
		return Invalid("execution", "state", fmt.Sprintf("cannot start from %s", e.State))
	}
	now := time.Now().UTC()
	e.State = ExecutionStarted
	e.StartedOn = &now
	return nil
}

// MarkCompleted records successful completion of every task.
func (e *Execution) MarkCompleted() error {
	if e.State != ExecutionStarted {
		return Invalid("execution", "state", fmt.Sprintf("cannot complete from %s", e.State))
	}
	now := time.Now().UTC()
	e.State = ExecutionCompleted
	e.CompletedOn = &now
	return nil
}

// MarkError records a handler failure. The failure is durable state, not
// a thrown error.
func (e *Execution) MarkError(kind ErrorKind, message string) error {
	if e.IsTerminal() {
		return Invalid("execution", "state", fmt.Sprintf("cannot fail from %s", e.State))
	}
	now := time.Now().UTC()
	e.State = ExecutionError
	e.ErrorKind = &kind
	e.ErrorMessage = &message
	e.CompletedOn = &now
	return nil
}

// MarkCancelled records a cooperative cancellation.
func (e *Execution) MarkCancelled(cancellationEventID ID) error {
	if e.IsTerminal() {
		return Invalid("execution", "state", fmt.Sprintf("cannot cancel from %s", e.State))
	}
	now := time.Now().UTC()
	e.State = ExecutionCancelled
	e.CancellationEventID = &cancellationEventID
	e.CompletedOn = &now
	return nil
}

// ResetToQueued returns an orphaned STARTED execution to the queue during
// recovery, clearing its lease.
func (e *Execution) ResetToQueued() error {
	if e.State != ExecutionStarted && e.State != ExecutionQueued {
		return Invalid("execution", "state", fmt.Sprintf("cannot reset from %s", e.State))
	}
	e.State = ExecutionQueued
	e.WorkerThreadID = nil
	e.ExecutingTaskID = nil
	e.StartedOn = nil
	return nil
}
