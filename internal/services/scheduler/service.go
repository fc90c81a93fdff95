// -----------------------------------------------------------------------
// Scheduler - converts due Schedules into Trigger Events on the leader
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jezel/internal/common"
	"github.com/ternarybob/jezel/internal/models"
	"github.com/ternarybob/jezel/internal/services/data"
	"github.com/ternarybob/jezel/internal/storage/sqlite"
)

// Admitter pushes a triggered execution toward the worker queue.
type Admitter interface {
	Admit(ctx context.Context, executionID models.ID) error
}

// Service runs the scheduling loop. Only the server holding the singleton
// lease row evaluates schedules; the others keep polling and take over
// when the leader's heartbeat goes stale.
type Service struct {
	dataSvc  *data.Service
	admitter Admitter
	logger   arbor.ILogger

	serverID models.ID
	tick     time.Duration
	stale    time.Duration

	isLeader bool
}

// NewService creates the scheduler for one execution server.
func NewService(dataSvc *data.Service, admitter Admitter, logger arbor.ILogger, serverID models.ID, config common.SchedulerConfig) *Service {
	return &Service{
		dataSvc:  dataSvc,
		admitter: admitter,
		logger:   logger,
		serverID: serverID,
		tick:     time.Duration(config.TickSeconds) * time.Second,
		stale:    time.Duration(config.StaleSeconds) * time.Second,
	}
}

// IsLeader reports whether this server held the lease on the last tick.
func (s *Service) IsLeader() bool {
	return s.isLeader
}

// Run ticks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info().Str("server_id", s.serverID.String()).Msg("Scheduler loop started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler loop stopped")
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Scheduler tick failed")
			}
		}
	}
}

// Tick claims or renews the lease, then fires due schedules. Exported so
// tests can drive the loop directly.
func (s *Service) Tick(ctx context.Context) error {
	lease, err := s.claimLease(ctx)
	if err != nil || lease == nil {
		s.isLeader = false
		return err
	}
	s.isLeader = true

	fired, err := s.fireDueSchedules(ctx, lease)
	if err != nil {
		return err
	}
	if fired == 0 {
		return nil
	}

	// Persist the fired minute buckets so a re-elected leader does not
	// refire them.
	if err := s.dataSvc.SaveSchedulerLease(ctx, lease); err != nil {
		if sqlite.IsConcurrency(err) {
			s.logger.Warn().Msg("Lost scheduler lease while recording fired schedules")
			s.isLeader = false
			return nil
		}
		return err
	}
	return nil
}

// claimLease returns the renewed lease when this server is (or became)
// the leader, nil when another server holds a live lease.
func (s *Service) claimLease(ctx context.Context) (*models.SchedulerLease, error) {
	lease, err := s.dataSvc.GetSchedulerLease(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	switch {
	case lease == nil:
		lease = models.NewSchedulerLease(s.serverID)
	case lease.HolderServerID != s.serverID:
		if !lease.IsStale(now, s.stale) {
			return nil, nil
		}
		s.logger.Info().
			Str("previous_holder", lease.HolderServerID.String()).
			Msg("Taking over stale scheduler lease")
		lease.HolderServerID = s.serverID
	}
	lease.HeartbeatOn = now
	if lease.LastFired == nil {
		lease.LastFired = make(map[string]time.Time)
	}

	if err := s.dataSvc.SaveSchedulerLease(ctx, lease); err != nil {
		if sqlite.IsConcurrency(err) {
			// Another server claimed the lease first.
			return nil, nil
		}
		return nil, err
	}
	return lease, nil
}

// fireDueSchedules emits a TriggerEvent for every active schedule of an
// active job that is due in the current minute bucket and has not fired
// in it yet. Returns the number of schedules fired.
func (s *Service) fireDueSchedules(ctx context.Context, lease *models.SchedulerLease) (int, error) {
	now := time.Now().UTC()
	bucket := now.Truncate(time.Minute)

	jobs, err := s.dataSvc.ListJobs(ctx)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, job := range jobs {
		if !job.IsActive {
			continue
		}
		for _, schedule := range job.Schedules {
			if !schedule.IsActive {
				continue
			}
			next, err := schedule.NextFireTime(bucket.Add(-time.Second))
			if err != nil {
				s.logger.Warn().
					Str("job_id", job.ID.String()).
					Str("cron", schedule.Cron).
					Err(err).
					Msg("Skipping schedule with invalid cron expression")
				continue
			}
			if next.After(now) {
				continue
			}
			if last, ok := lease.LastFired[schedule.ID.String()]; ok && last.Equal(bucket) {
				continue
			}

			_, execution, err := s.dataSvc.TriggerJobBySchedule(ctx, job, schedule.ID)
			if err != nil {
				s.logger.Warn().
					Str("job_id", job.ID.String()).
					Str("schedule_id", schedule.ID.String()).
					Err(err).
					Msg("Failed to trigger scheduled job")
				continue
			}
			lease.LastFired[schedule.ID.String()] = bucket
			fired++

			if s.admitter != nil {
				if err := s.admitter.Admit(ctx, execution.ID); err != nil {
					s.logger.Warn().
						Str("execution_id", execution.ID.String()).
						Err(err).
						Msg("Failed to enqueue scheduled execution")
				}
			}
		}
	}
	return fired, nil
}
