// -----------------------------------------------------------------------
// Data Service - save/get/delete with cross-entity invariants
// -----------------------------------------------------------------------

package data

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jezel/internal/models"
	"github.com/ternarybob/jezel/internal/storage/sqlite"
)

// Service is the high-level persistence API consumed by the web layer and
// the scheduling/execution loops. Synchronization is optimistic: the row
// store's (id, ver) matching is the sole lock.
type Service struct {
	store          *ObjectStore
	logger         arbor.ILogger
	encodePassword PasswordEncoder
}

// NewService creates the data service. A nil encoder falls back to the
// built-in SHA-256 encoder.
func NewService(store *ObjectStore, logger arbor.ILogger, encoder PasswordEncoder) *Service {
	if encoder == nil {
		encoder = DefaultPasswordEncoder
	}
	return &Service{
		store:          store,
		logger:         logger,
		encodePassword: encoder,
	}
}

// Store exposes the underlying object store.
func (s *Service) Store() *ObjectStore {
	return s.store
}

// EncodePassword hashes a plaintext password with the injected encoder.
func (s *Service) EncodePassword(password string) (string, string, error) {
	return s.encodePassword(password)
}

// logDeleteMissing records the delete-of-missing no-op.
func (s *Service) logDeleteMissing(entity string, id models.ID) {
	s.logger.Warn().Str("entity", entity).Str("id", id.String()).Msg("Attempt to delete non-existent record")
}

// -----------------------------------------------------------------------
// System
// -----------------------------------------------------------------------

// GetSystem returns the root system, or nil when not yet bootstrapped.
func (s *Service) GetSystem(ctx context.Context) (*models.System, error) {
	systems, err := GetAll(ctx, s.store, nil, &models.System{})
	if err != nil {
		return nil, err
	}
	if len(systems) == 0 {
		return nil, nil
	}
	return systems[0], nil
}

// SaveSystem validates and persists the root system.
func (s *Service) SaveSystem(ctx context.Context, system *models.System) error {
	if err := models.CheckValid("system", system.Validate()); err != nil {
		return err
	}
	return s.store.Save(ctx, nil, system, nil)
}

// -----------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------

// ListUsers returns every user.
func (s *Service) ListUsers(ctx context.Context) ([]*models.User, error) {
	return GetAll(ctx, s.store, nil, &models.User{})
}

// GetUser returns one user, or nil when absent.
func (s *Service) GetUser(ctx context.Context, id models.ID) (*models.User, error) {
	rec, _, err := s.store.GetByID(ctx, nil, id)
	if err != nil || rec == nil {
		return nil, err
	}
	user, ok := rec.(*models.User)
	if !ok {
		return nil, fmt.Errorf("record %s is not a user", id)
	}
	return user, nil
}

// SaveUser persists a user after enforcing the username-uniqueness and
// single-system-user invariants. Username comparison is casefolded.
func (s *Service) SaveUser(ctx context.Context, user *models.User) error {
	user.Normalize()
	if err := models.CheckValid("user", user.Validate()); err != nil {
		return err
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}

	var existing, systemUser, sameUsername *models.User
	for _, u := range users {
		if u.ID == user.ID {
			existing = u
		}
		if u.IsSystem {
			systemUser = u
		}
		if u.Username == user.Username {
			sameUsername = u
		}
	}

	if systemUser != nil {
		if existing == nil {
			if user.IsSystem {
				s.logger.Warn().Str("username", user.Username).Msg("Rejected second system user")
				return models.Invalid("user", "isSystem", fmt.Sprintf("system user %q already exists", systemUser.Username))
			}
		} else if existing.ID == systemUser.ID {
			if !user.IsSystem {
				s.logger.Warn().Str("username", user.Username).Msg("Rejected demotion of system user")
				return models.Invalid("user", "isSystem", "cannot make the system user a non-system user")
			}
		} else if user.IsSystem {
			s.logger.Warn().Str("username", user.Username).Msg("Rejected promotion to system user")
			return models.Invalid("user", "isSystem", fmt.Sprintf("system user %q already exists", systemUser.Username))
		}
	}

	if sameUsername != nil && sameUsername.ID != user.ID {
		s.logger.Warn().Str("username", user.Username).Msg("Rejected duplicate username")
		return models.Invalid("user", "username", fmt.Sprintf("username %q already exists", user.Username))
	}

	return s.store.Save(ctx, nil, user, nil)
}

// DeleteUser removes a user. The system user cannot be deleted; deleting
// a user that no longer exists is a no-op.
func (s *Service) DeleteUser(ctx context.Context, user *models.User) error {
	existing, err := s.GetUser(ctx, user.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		s.logDeleteMissing("user", user.ID)
		return nil
	}
	if existing.IsSystem {
		s.logger.Warn().Str("username", existing.Username).Msg("Rejected deletion of system user")
		return models.Invalid("user", "isSystem", "cannot delete the system user")
	}
	return s.store.Delete(ctx, nil, user)
}

// -----------------------------------------------------------------------
// Jobs
// -----------------------------------------------------------------------

// ListJobs returns every job.
func (s *Service) ListJobs(ctx context.Context) ([]*models.Job, error) {
	return GetAll(ctx, s.store, nil, &models.Job{})
}

// GetJob returns one job, or nil when absent.
func (s *Service) GetJob(ctx context.Context, id models.ID) (*models.Job, error) {
	rec, _, err := s.store.GetByID(ctx, nil, id)
	if err != nil || rec == nil {
		return nil, err
	}
	job, ok := rec.(*models.Job)
	if !ok {
		return nil, fmt.Errorf("record %s is not a job", id)
	}
	return job, nil
}

// SaveJob normalizes, validates and persists a job. The job's tags are
// mirrored into the row's tag map so tag queries never parse the payload.
func (s *Service) SaveJob(ctx context.Context, job *models.Job) error {
	job.Normalize()
	if err := models.CheckValid("job", job.Validate()); err != nil {
		return err
	}
	return s.store.Save(ctx, nil, job, models.TagMap(job.Tags))
}

// DeleteJob removes a job; missing is a logged no-op. Executions keep
// their snapshots, so deletion never corrupts in-flight work.
func (s *Service) DeleteJob(ctx context.Context, job *models.Job) error {
	existing, err := s.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		s.logDeleteMissing("job", job.ID)
		return nil
	}
	return s.store.Delete(ctx, nil, job)
}

// -----------------------------------------------------------------------
// Configs
// -----------------------------------------------------------------------

// ListConfigs returns every config entry.
func (s *Service) ListConfigs(ctx context.Context) ([]*models.Config, error) {
	return GetAll(ctx, s.store, nil, &models.Config{})
}

// SaveConfig normalizes, validates and persists a config entry.
func (s *Service) SaveConfig(ctx context.Context, config *models.Config) error {
	config.Normalize()
	if err := models.CheckValid("config", config.Validate()); err != nil {
		return err
	}
	return s.store.Save(ctx, nil, config, models.TagMap(config.Tags))
}

// DeleteConfig removes a config entry; missing is a logged no-op.
func (s *Service) DeleteConfig(ctx context.Context, config *models.Config) error {
	rec, _, err := s.store.GetByID(ctx, nil, config.ID)
	if err != nil {
		return err
	}
	if rec == nil {
		s.logDeleteMissing("config", config.ID)
		return nil
	}
	return s.store.Delete(ctx, nil, config)
}

// -----------------------------------------------------------------------
// Triggers and cancellation
// -----------------------------------------------------------------------

// TriggerJob appends a manual TriggerEvent for the job and creates its
// TRIGGERED execution carrying a snapshot of the job. Inactive jobs are
// rejected.
func (s *Service) TriggerJob(ctx context.Context, jobID, userID models.ID) (*models.TriggerEvent, *models.Execution, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job == nil {
		return nil, nil, &sqlite.NotFoundError{Table: s.store.Table().Name(), ID: jobID.String()}
	}
	if !job.IsActive {
		return nil, nil, models.Invalid("job", "isActive", "cannot trigger an inactive job")
	}

	trigger := models.NewManualTrigger(jobID, userID)
	return s.createExecution(ctx, job, trigger)
}

// TriggerJobBySchedule appends a schedule-fired TriggerEvent and its
// TRIGGERED execution.
func (s *Service) TriggerJobBySchedule(ctx context.Context, job *models.Job, scheduleID models.ID) (*models.TriggerEvent, *models.Execution, error) {
	trigger := models.NewScheduleTrigger(job.ID, scheduleID)
	return s.createExecution(ctx, job, trigger)
}

func (s *Service) createExecution(ctx context.Context, job *models.Job, trigger *models.TriggerEvent) (*models.TriggerEvent, *models.Execution, error) {
	if err := models.CheckValid("triggerEvent", trigger.Validate()); err != nil {
		return nil, nil, err
	}
	if err := s.store.Save(ctx, nil, trigger, nil); err != nil {
		return nil, nil, err
	}

	execution := models.NewExecution(job.SystemID, trigger, job)
	if err := s.store.Save(ctx, nil, execution, nil); err != nil {
		return nil, nil, err
	}

	s.logger.Info().
		Str("job_id", job.ID.String()).
		Str("trigger_id", trigger.ID.String()).
		Str("execution_id", execution.ID.String()).
		Msg("Job triggered")
	return trigger, execution, nil
}

// CancelExecution creates a CancellationEvent for the execution. Repeated
// cancellation is a no-op returning the existing event.
func (s *Service) CancelExecution(ctx context.Context, executionID, userID models.ID) (*models.CancellationEvent, error) {
	execution, err := s.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if execution == nil {
		return nil, &sqlite.NotFoundError{Table: s.store.Table().Name(), ID: executionID.String()}
	}

	existing, err := s.FindCancellation(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Debug().Str("execution_id", executionID.String()).Msg("Execution already cancelled")
		return existing, nil
	}

	event := models.NewCancellationEvent(executionID, userID)
	if err := s.store.Save(ctx, nil, event, nil); err != nil {
		return nil, err
	}
	s.logger.Info().Str("execution_id", executionID.String()).Msg("Execution cancellation requested")
	return event, nil
}

// FindCancellation returns the CancellationEvent for an execution, or nil.
func (s *Service) FindCancellation(ctx context.Context, executionID models.ID) (*models.CancellationEvent, error) {
	events, err := GetAll(ctx, s.store, nil, &models.CancellationEvent{})
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		if e.ExecutionID == executionID {
			return e, nil
		}
	}
	return nil, nil
}

// -----------------------------------------------------------------------
// Executions
// -----------------------------------------------------------------------

// GetExecution returns one execution, or nil when absent.
func (s *Service) GetExecution(ctx context.Context, id models.ID) (*models.Execution, error) {
	rec, _, err := s.store.GetByID(ctx, nil, id)
	if err != nil || rec == nil {
		return nil, err
	}
	execution, ok := rec.(*models.Execution)
	if !ok {
		return nil, fmt.Errorf("record %s is not an execution", id)
	}
	return execution, nil
}

// ListExecutions returns every execution.
func (s *Service) ListExecutions(ctx context.Context) ([]*models.Execution, error) {
	return GetAll(ctx, s.store, nil, &models.Execution{})
}

// ListExecutionsByState returns executions in any of the given states.
func (s *Service) ListExecutionsByState(ctx context.Context, states ...models.ExecutionState) ([]*models.Execution, error) {
	all, err := s.ListExecutions(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[models.ExecutionState]struct{}, len(states))
	for _, st := range states {
		want[st] = struct{}{}
	}
	out := make([]*models.Execution, 0, len(all))
	for _, e := range all {
		if _, ok := want[e.State]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// SaveExecution persists an execution state transition under its
// (id, ver). Concurrency failures propagate for the caller to retry.
func (s *Service) SaveExecution(ctx context.Context, q sqlite.Queryer, execution *models.Execution) error {
	if err := models.CheckValid("execution", execution.Validate()); err != nil {
		return err
	}
	return s.store.Save(ctx, q, execution, nil)
}

// -----------------------------------------------------------------------
// Servers and worker threads
// -----------------------------------------------------------------------

// ListServers returns every execution server record.
func (s *Service) ListServers(ctx context.Context) ([]*models.ExecutionServer, error) {
	return GetAll(ctx, s.store, nil, &models.ExecutionServer{})
}

// SaveServer persists an execution server liveness record.
func (s *Service) SaveServer(ctx context.Context, q sqlite.Queryer, server *models.ExecutionServer) error {
	return s.store.Save(ctx, q, server, nil)
}

// DeleteServer removes a server record; missing is a no-op.
func (s *Service) DeleteServer(ctx context.Context, q sqlite.Queryer, server *models.ExecutionServer) error {
	return s.store.Delete(ctx, q, server)
}

// ListWorkers returns every worker thread record.
func (s *Service) ListWorkers(ctx context.Context) ([]*models.WorkerThread, error) {
	return GetAll(ctx, s.store, nil, &models.WorkerThread{})
}

// SaveWorker persists a worker thread liveness record.
func (s *Service) SaveWorker(ctx context.Context, q sqlite.Queryer, worker *models.WorkerThread) error {
	return s.store.Save(ctx, q, worker, nil)
}

// DeleteWorker removes a worker record; missing is a no-op.
func (s *Service) DeleteWorker(ctx context.Context, q sqlite.Queryer, worker *models.WorkerThread) error {
	return s.store.Delete(ctx, q, worker)
}

// GetSchedulerLease returns the singleton scheduler lease row, or nil.
func (s *Service) GetSchedulerLease(ctx context.Context) (*models.SchedulerLease, error) {
	rec, _, err := s.store.GetByID(ctx, nil, models.SchedulerLeaseID)
	if err != nil || rec == nil {
		return nil, err
	}
	lease, ok := rec.(*models.SchedulerLease)
	if !ok {
		return nil, fmt.Errorf("record %s is not a scheduler lease", models.SchedulerLeaseID)
	}
	return lease, nil
}

// SaveSchedulerLease persists the lease under its (id, ver); a concurrency
// failure means another server won the lease race.
func (s *Service) SaveSchedulerLease(ctx context.Context, lease *models.SchedulerLease) error {
	return s.store.Save(ctx, nil, lease, nil)
}
