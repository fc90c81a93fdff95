package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTags(t *testing.T) {
	tags := []Tag{
		{Name: " Env ", Value: "PROD"},
		{Name: "env", Value: "prod"},
		{Name: "team", Value: "ops"},
		{Name: "env", Value: "dev"},
	}

	out := NormalizeTags(tags)
	require.Len(t, out, 3, "duplicates collapse without error")
	assert.Equal(t, Tag{Name: "env", Value: "dev"}, out[0])
	assert.Equal(t, Tag{Name: "env", Value: "prod"}, out[1])
	assert.Equal(t, Tag{Name: "team", Value: "ops"}, out[2])
}

func TestTag_ValidateEmptyName(t *testing.T) {
	tag := Tag{Name: "  ", Value: "x"}
	tag.Normalize()
	errs := tag.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "name", errs[0].Field)
}

func TestJob_NormalizeReindexesTasks(t *testing.T) {
	job := NewJob(NewID(), "  nightly  ")
	job.Tasks = []Task{
		{Step: 7, Action: " Fetch "},
		{Step: 2, Action: "STORE"},
		{Step: 5, Action: "notify"},
	}
	job.Schedules = []Schedule{{Cron: " 0 2 * * * "}}

	job.Normalize()

	assert.Equal(t, "nightly", job.Name)
	require.Len(t, job.Tasks, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{job.Tasks[0].Step, job.Tasks[1].Step, job.Tasks[2].Step})
	assert.Equal(t, "store", job.Tasks[0].Action, "tasks sorted by original step")
	assert.Equal(t, "notify", job.Tasks[1].Action)
	assert.Equal(t, "fetch", job.Tasks[2].Action)
	for _, task := range job.Tasks {
		assert.False(t, task.ID.IsZero())
		assert.Equal(t, job.ID, task.JobID)
	}
	assert.Equal(t, "0 2 * * *", job.Schedules[0].Cron)
	assert.Equal(t, job.ID, job.Schedules[0].JobID)
}

func TestJob_NormalizeDropsEmptyTaskName(t *testing.T) {
	job := NewJob(NewID(), "j")
	blank := "   "
	named := "  Load data  "
	job.Tasks = []Task{
		{Step: 0, Action: "a", Name: &blank},
		{Step: 1, Action: "b", Name: &named},
	}

	job.Normalize()

	assert.Nil(t, job.Tasks[0].Name)
	require.NotNil(t, job.Tasks[1].Name)
	assert.Equal(t, "Load data", *job.Tasks[1].Name)
}

func TestJob_ValidateRejectsSparseSteps(t *testing.T) {
	job := NewJob(NewID(), "j")
	job.Tasks = []Task{
		{ID: NewID(), JobID: job.ID, Step: 0, Action: "a"},
		{ID: NewID(), JobID: job.ID, Step: 2, Action: "b"},
	}

	errs := job.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "tasks[1].step", errs[0].Field)
}

func TestJob_ValidateRejectsBadCron(t *testing.T) {
	job := NewJob(NewID(), "j")
	job.Schedules = []Schedule{{ID: NewID(), JobID: job.ID, Cron: "not a cron"}}

	errs := job.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "schedules[0].cron", errs[0].Field)
}

func TestSchedule_NextFireTime(t *testing.T) {
	s := Schedule{Cron: "30 14 * * *"}
	since := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	next, err := s.NextFireTime(since)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC), next)
}

func TestTriggerEvent_ExactlyOneOrigin(t *testing.T) {
	jobID := NewID()

	bySchedule := NewScheduleTrigger(jobID, NewID())
	assert.Empty(t, bySchedule.Validate())

	byUser := NewManualTrigger(jobID, NewID())
	assert.Empty(t, byUser.Validate())

	neither := &TriggerEvent{Meta: Meta{ID: NewID()}, JobID: jobID, TriggeredOn: time.Now().UTC()}
	errs := neither.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "triggeredBy", errs[0].Field)

	both := NewScheduleTrigger(jobID, NewID())
	userID := NewID()
	both.TriggeredByUserID = &userID
	errs = both.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "triggeredBy", errs[0].Field)
}

func TestExecution_StateMachine(t *testing.T) {
	job := NewJob(NewID(), "j")
	trigger := NewManualTrigger(job.ID, NewID())
	e := NewExecution(job.SystemID, trigger, job)
	workerID := NewID()

	assert.Equal(t, ExecutionTriggered, e.State)
	require.Error(t, e.MarkStarted(), "cannot start before queue")
	require.Error(t, e.MarkCompleted())

	require.NoError(t, e.MarkQueued(workerID))
	require.NotNil(t, e.WorkerThreadID)
	assert.Equal(t, workerID, *e.WorkerThreadID)

	require.NoError(t, e.MarkStarted())
	require.NotNil(t, e.StartedOn)

	require.NoError(t, e.MarkCompleted())
	assert.True(t, e.IsTerminal())
	require.NotNil(t, e.CompletedOn)
	assert.False(t, e.CompletedOn.Before(*e.StartedOn))

	// Terminal states are final.
	require.Error(t, e.MarkError(ErrorKindTask, "late"))
	require.Error(t, e.MarkCancelled(NewID()))
}

func TestExecution_MarkErrorRecordsKindAndMessage(t *testing.T) {
	job := NewJob(NewID(), "j")
	e := NewExecution(job.SystemID, NewManualTrigger(job.ID, NewID()), job)
	require.NoError(t, e.MarkQueued(NewID()))
	require.NoError(t, e.MarkStarted())

	require.NoError(t, e.MarkError(ErrorKindValidation, "bad input"))
	assert.Equal(t, ExecutionError, e.State)
	require.NotNil(t, e.ErrorKind)
	assert.Equal(t, ErrorKindValidation, *e.ErrorKind)
	require.NotNil(t, e.ErrorMessage)
	assert.Equal(t, "bad input", *e.ErrorMessage)
	assert.Empty(t, e.Validate())
}

func TestExecution_ResetToQueuedClearsLease(t *testing.T) {
	job := NewJob(NewID(), "j")
	e := NewExecution(job.SystemID, NewManualTrigger(job.ID, NewID()), job)
	require.NoError(t, e.MarkQueued(NewID()))
	require.NoError(t, e.MarkStarted())
	taskID := NewID()
	e.ExecutingTaskID = &taskID

	require.NoError(t, e.ResetToQueued())
	assert.Equal(t, ExecutionQueued, e.State)
	assert.Nil(t, e.WorkerThreadID)
	assert.Nil(t, e.ExecutingTaskID)
	assert.Nil(t, e.StartedOn)

	require.NoError(t, e.MarkQueued(NewID()))
	require.NoError(t, e.MarkStarted())
	require.NoError(t, e.MarkCancelled(NewID()))
	require.Error(t, e.ResetToQueued(), "terminal executions stay terminal")
}

func TestExecution_ValidateErrorNeedsKind(t *testing.T) {
	job := NewJob(NewID(), "j")
	e := NewExecution(job.SystemID, NewManualTrigger(job.ID, NewID()), job)
	e.State = ExecutionError

	errs := e.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "errorKind", errs[0].Field)
}

func TestUser_NormalizeCasefoldsUsername(t *testing.T) {
	u := NewUser(NewID(), "  ALICE  ", "h", "s")
	assert.Equal(t, "alice", u.Username)

	u.Username = " Bob "
	email := "  bob@example.com "
	u.Email = &email
	u.Normalize()
	assert.Equal(t, "bob", u.Username)
	require.NotNil(t, u.Email)
	assert.Equal(t, "bob@example.com", *u.Email)
}

func TestID_StringIsHex32(t *testing.T) {
	id := NewID()
	s := id.String()
	assert.Len(t, s, 32)
	assert.NotContains(t, s, "-")

	parsed, err := ParseID(s)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	// Dashed form parses to the same id.
	parsed, err = ParseID(id.UUID().String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestValidationError_Formatting(t *testing.T) {
	err := CheckValid("user", []FieldError{
		{Field: "username", Message: "must not be empty"},
		{Field: "systemId", Message: "must be set"},
	})
	require.Error(t, err)
	assert.True(t, IsInvalidState(err))
	assert.Contains(t, err.Error(), "invalid user")
	assert.Contains(t, err.Error(), "username: must not be empty")

	assert.NoError(t, CheckValid("user", nil))
}

func TestSchedulerLeaseIDIsStable(t *testing.T) {
	a := NewSchedulerLease(NewID())
	b := NewSchedulerLease(NewID())
	assert.Equal(t, SchedulerLeaseID, a.ID)
	assert.Equal(t, a.ID, b.ID)
}

func TestLivenessStaleness(t *testing.T) {
	now := time.Now().UTC()
	server := NewExecutionServer(NewID())
	assert.False(t, server.IsStale(now, 30*time.Second))

	server.HeartbeatOn = now.Add(-31 * time.Second)
	assert.True(t, server.IsStale(now, 30*time.Second))

	worker := NewWorkerThread(server.ID)
	worker.HeartbeatOn = now.Add(-29 * time.Second)
	assert.False(t, worker.IsStale(now, 30*time.Second))
}
