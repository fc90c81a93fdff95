package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Job is a named unit of work: an ordered list of Tasks, fired by its
// Schedules or by manual trigger.
type Job struct {
	Meta
	SystemID   ID         `json:"systemId"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"isActive"`
	Tasks      []Task     `json:"tasks,omitempty"`
	Schedules  []Schedule `json:"schedules,omitempty"`
	Tags       []Tag      `json:"tags,omitempty"`
	CreatedOn  time.Time  `json:"createdOn"`
	ModifiedOn time.Time  `json:"modifiedOn"`
}

// Task is one ordered step of a Job, naming the action handler to invoke.
type Task struct {
	ID       ID      `json:"id"`
	JobID    ID      `json:"jobId"`
	Step     int     `json:"step"`
	Action   string  `json:"action"`
	IsActive bool    `json:"isActive"`
	Name     *string `json:"name,omitempty"`
}

// Schedule attaches a cron expression to a Job.
type Schedule struct {
	ID       ID     `json:"id"`
	JobID    ID     `json:"jobId"`
	Cron     string `json:"cron"`
	IsActive bool   `json:"isActive"`
}

// NewJob creates an active job with no tasks or schedules.
func NewJob(systemID ID, name string) *Job {
	now := time.Now().UTC()
	return &Job{
		Meta:       Meta{ID: NewID()},
		SystemID:   systemID,
		Name:       strings.TrimSpace(name),
		IsActive:   true,
		CreatedOn:  now,
		ModifiedOn: now,
	}
}

// NewTask creates an active task for the given job.
func NewTask(jobID ID, step int, action string) Task {
	return Task{
		ID:       NewID(),
		JobID:    jobID,
		Step:     step,
		Action:   trimCasefold(action),
		IsActive: true,
	}
}

// NewSchedule creates an active schedule for the given job.
func NewSchedule(jobID ID, cronExpr string) Schedule {
	return Schedule{
		ID:       NewID(),
		JobID:    jobID,
		Cron:     strings.TrimSpace(cronExpr),
		IsActive: true,
	}
}

func (j *Job) TypeTag() string {
	return "jezel.model.Job"
}

// Normalize trims names, collapses tags, sorts tasks by step and
// re-indexes them 0-based dense, and backfills owner ids.
func (j *Job) Normalize() {
	j.Name = strings.TrimSpace(j.Name)
	j.Tags = NormalizeTags(j.Tags)

	sort.SliceStable(j.Tasks, func(a, b int) bool { return j.Tasks[a].Step < j.Tasks[b].Step })
	for i := range j.Tasks {
		t := &j.Tasks[i]
		t.Step = i
		t.Action = trimCasefold(t.Action)
		if t.ID.IsZero() {
			t.ID = NewID()
		}
		t.JobID = j.ID
		if t.Name != nil {
			n := strings.TrimSpace(*t.Name)
			if n == "" {
				t.Name = nil
			} else {
				t.Name = &n
			}
		}
	}

	for i := range j.Schedules {
		s := &j.Schedules[i]
		s.Cron = strings.TrimSpace(s.Cron)
		if s.ID.IsZero() {
			s.ID = NewID()
		}
		s.JobID = j.ID
	}
}

func (j *Job) Validate() []FieldError {
	var errs []FieldError
	errs = requireID(errs, "id", j.ID)
	errs = requireID(errs, "systemId", j.SystemID)
	errs = requireNonEmpty(errs, "name", j.Name)

	for i, t := range j.Tasks {
		field := fmt.Sprintf("tasks[%d]", i)
		if t.Step != i {
			errs = append(errs, FieldError{Field: field + ".step", Message: fmt.Sprintf("must be dense 0-based, got %d at position %d", t.Step, i)})
		}
		if strings.TrimSpace(t.Action) == "" {
			errs = append(errs, FieldError{Field: field + ".action", Message: "must not be empty"})
		}
	}

	for i, s := range j.Schedules {
		field := fmt.Sprintf("schedules[%d]", i)
		if strings.TrimSpace(s.Cron) == "" {
			errs = append(errs, FieldError{Field: field + ".cron", Message: "must not be empty"})
			continue
		}
		if _, err := cronParser.Parse(s.Cron); err != nil {
			errs = append(errs, FieldError{Field: field + ".cron", Message: fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}

	for i, t := range j.Tags {
		for _, fe := range t.Validate() {
			errs = append(errs, FieldError{Field: fmt.Sprintf("tags[%d].%s", i, fe.Field), Message: fe.Message})
		}
	}

	return errs
}

// NextFireTime returns the first time after since that the schedule fires.
func (s Schedule) NextFireTime(since time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(s.Cron)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", s.Cron, err)
	}
	return sched.Next(since), nil
}
