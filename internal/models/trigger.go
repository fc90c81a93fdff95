package models

import "time"

// TriggerEvent is the durable record that a Job should run. Exactly one
// of TriggeredByScheduleID or TriggeredByUserID is set.
type TriggerEvent struct {
	Meta
	JobID                 ID        `json:"jobId"`
	TriggeredOn           time.Time `json:"triggeredOn"`
	TriggeredByScheduleID *ID       `json:"triggeredByScheduleId,omitempty"`
	TriggeredByUserID     *ID       `json:"triggeredByUserId,omitempty"`
}

// NewScheduleTrigger records a trigger fired by a schedule.
func NewScheduleTrigger(jobID, scheduleID ID) *TriggerEvent {
	return &TriggerEvent{
		Meta:                  Meta{ID: NewID()},
		JobID:                 jobID,
		TriggeredOn:           time.Now().UTC(),
		TriggeredByScheduleID: &scheduleID,
	}
}

// NewManualTrigger records a trigger fired by a user.
func NewManualTrigger(jobID, userID ID) *TriggerEvent {
	return &TriggerEvent{
		Meta:              Meta{ID: NewID()},
		JobID:             jobID,
		TriggeredOn:       time.Now().UTC(),
		TriggeredByUserID: &userID,
	}
}

func (t *TriggerEvent) TypeTag() string {
	return "jezel.model.TriggerEvent"
}

func (t *TriggerEvent) Validate() []FieldError {
	var errs []FieldError
	errs = requireID(errs, "id", t.ID)
	errs = requireID(errs, "jobId", t.JobID)
	if t.TriggeredOn.IsZero() {
		errs = append(errs, FieldError{Field: "triggeredOn", Message: "must be set"})
	}
	bySchedule := t.TriggeredByScheduleID != nil && !t.TriggeredByScheduleID.IsZero()
	byUser := t.TriggeredByUserID != nil && !t.TriggeredByUserID.IsZero()
	if bySchedule == byUser {
		errs = append(errs, FieldError{Field: "triggeredBy", Message: "exactly one of triggeredByScheduleId and triggeredByUserId must be set"})
	}
	return errs
}

// CancellationEvent is a durable request to stop an Execution at its next
// cooperative check. Creation is idempotent per execution.
type CancellationEvent struct {
	Meta
	ExecutionID       ID        `json:"executionId"`
	CancelledOn       time.Time `json:"cancelledOn"`
	CancelledByUserID ID        `json:"cancelledByUserId"`
}

// NewCancellationEvent records a cancel request for an execution.
func NewCancellationEvent(executionID, userID ID) *CancellationEvent {
	return &CancellationEvent{
		Meta:              Meta{ID: NewID()},
		ExecutionID:       executionID,
		CancelledOn:       time.Now().UTC(),
		CancelledByUserID: userID,
	}
}

func (c *CancellationEvent) TypeTag() string {
	return "jezel.model.CancellationEvent"
}

func (c *CancellationEvent) Validate() []FieldError {
	var errs []FieldError
	errs = requireID(errs, "id", c.ID)
	errs = requireID(errs, "executionId", c.ExecutionID)
	errs = requireID(errs, "cancelledByUserId", c.CancelledByUserID)
	if c.CancelledOn.IsZero() {
		errs = append(errs, FieldError{Field: "cancelledOn", Message: "must be set"})
	}
	return errs
}
