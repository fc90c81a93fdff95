// -----------------------------------------------------------------------
// Liveness records - execution servers, worker threads, scheduler lease
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/google/uuid"
)

// SchedulerLeaseID is the well-known id of the singleton scheduler lease
// row. Derived deterministically so every server computes the same id.
var SchedulerLeaseID = ID(uuid.NewSHA1(uuid.NameSpaceOID, []byte("jezel.scheduler")))

// ExecutionServer is the liveness record of one host process.
type ExecutionServer struct {
	Meta
	SystemID    ID        `json:"systemId"`
	StartedOn   time.Time `json:"startedOn"`
	HeartbeatOn time.Time `json:"heartbeatOn"`
}

// NewExecutionServer creates the liveness record for a starting process.
func NewExecutionServer(systemID ID) *ExecutionServer {
	now := time.Now().UTC()
	return &ExecutionServer{
		Meta:        Meta{ID: NewID()},
		SystemID:    systemID,
		StartedOn:   now,
		HeartbeatOn: now,
	}
}

func (s *ExecutionServer) TypeTag() string {
	return "jezel.model.ExecutionServer"
}

func (s *ExecutionServer) Validate() []FieldError {
	var errs []FieldError
	errs = requireID(errs, "id", s.ID)
	errs = requireID(errs, "systemId", s.SystemID)
	if s.StartedOn.IsZero() {
		errs = append(errs, FieldError{Field: "startedOn", Message: "must be set"})
	}
	return errs
}

// IsStale reports whether the heartbeat is older than threshold.
func (s *ExecutionServer) IsStale(now time.Time, threshold time.Duration) bool {
	return now.Sub(s.HeartbeatOn) > threshold
}

// WorkerThread is the liveness record of one worker goroutine, including
// its current execution lease.
type WorkerThread struct {
	Meta
	ExecutionServerID ID        `json:"executionServerId"`
	StartedOn         time.Time `json:"startedOn"`
	HeartbeatOn       time.Time `json:"heartbeatOn"`
	ExecutionID       *ID       `json:"executionId,omitempty"`
}

// NewWorkerThread creates the liveness record for a starting worker.
func NewWorkerThread(serverID ID) *WorkerThread {
	now := time.Now().UTC()
	return &WorkerThread{
		Meta:              Meta{ID: NewID()},
		ExecutionServerID: serverID,
		StartedOn:         now,
		HeartbeatOn:       now,
	}
}

func (w *WorkerThread) TypeTag() string {
	return "jezel.model.WorkerThread"
}

func (w *WorkerThread) Validate() []FieldError {
	var errs []FieldError
	errs = requireID(errs, "id", w.ID)
	errs = requireID(errs, "executionServerId", w.ExecutionServerID)
	if w.StartedOn.IsZero() {
		errs = append(errs, FieldError{Field: "startedOn", Message: "must be set"})
	}
	return errs
}

// IsStale reports whether the heartbeat is older than threshold.
func (w *WorkerThread) IsStale(now time.Time, threshold time.Duration) bool {
	return now.Sub(w.HeartbeatOn) > threshold
}

// SchedulerLease is the singleton row the scheduler leader holds. It
// persists the last-fired minute per schedule so a re-elected leader does
// not back-fire missed schedules.
type SchedulerLease struct {
	Meta
	HolderServerID ID                   `json:"holderServerId"`
	HeartbeatOn    time.Time            `json:"heartbeatOn"`
	LastFired      map[string]time.Time `json:"lastFired,omitempty"`
}

// NewSchedulerLease creates the lease claimed by the given server.
func NewSchedulerLease(serverID ID) *SchedulerLease {
	return &SchedulerLease{
		Meta:           Meta{ID: SchedulerLeaseID},
		HolderServerID: serverID,
		HeartbeatOn:    time.Now().UTC(),
		LastFired:      make(map[string]time.Time),
	}
}

func (l *SchedulerLease) TypeTag() string {
	return "jezel.model.SchedulerLease"
}

func (l *SchedulerLease) Validate() []FieldError {
	var errs []FieldError
	errs = requireID(errs, "id", l.ID)
	errs = requireID(errs, "holderServerId", l.HolderServerID)
	return errs
}

// IsStale reports whether the leader's heartbeat is older than threshold.
func (l *SchedulerLease) IsStale(now time.Time, threshold time.Duration) bool {
	return now.Sub(l.HeartbeatOn) > threshold
}
