// -----------------------------------------------------------------------
// Execution Server - owns the worker pool, heartbeats and recovery
// -----------------------------------------------------------------------

package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jezel/internal/common"
	"github.com/ternarybob/jezel/internal/models"
	"github.com/ternarybob/jezel/internal/queue"
	"github.com/ternarybob/jezel/internal/services/data"
)

// Server is the host process record: it writes its own liveness row,
// spawns N worker threads, emits heartbeats, reclaims orphaned work and
// admits triggered executions into the in-process queue.
type Server struct {
	config  *common.Config
	dataSvc *data.Service
	queue   *queue.Queue
	actions *ActionRegistry
	logger  arbor.ILogger

	heartbeat time.Duration
	stale     time.Duration

	record  *models.ExecutionServer
	workers []*Worker

	mu       sync.Mutex
	enqueued map[models.ID]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates an execution server over the shared queue.
func NewServer(config *common.Config, dataSvc *data.Service, q *queue.Queue, actions *ActionRegistry, logger arbor.ILogger) *Server {
	return &Server{
		config:    config,
		dataSvc:   dataSvc,
		queue:     q,
		actions:   actions,
		logger:    logger,
		heartbeat: time.Duration(config.Scheduler.HeartbeatSeconds) * time.Second,
		stale:     time.Duration(config.Scheduler.StaleSeconds) * time.Second,
		enqueued:  make(map[models.ID]struct{}),
	}
}

// ID returns the server's record id. Valid after Start.
func (s *Server) ID() models.ID {
	return s.record.ID
}

// Start writes the server row, spawns the workers and background loops,
// and reconstructs the queue from executions the last process left
// behind.
func (s *Server) Start(ctx context.Context, systemID models.ID) error {
	s.record = models.NewExecutionServer(systemID)
	if err := s.dataSvc.SaveServer(ctx, nil, s.record); err != nil {
		return fmt.Errorf("failed to register execution server: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.Scheduler.ProcessCount; i++ {
		record := models.NewWorkerThread(s.record.ID)
		if err := s.dataSvc.SaveWorker(ctx, nil, record); err != nil {
			cancel()
			return fmt.Errorf("failed to register worker thread: %w", err)
		}
		worker := newWorker(s, record)
		s.workers = append(s.workers, worker)

		s.wg.Add(1)
		common.SafeGo(s.logger, fmt.Sprintf("worker-%d", i), func() {
			defer s.wg.Done()
			worker.run(runCtx)
		})
	}

	s.wg.Add(2)
	common.SafeGo(s.logger, "server-heartbeat", func() {
		defer s.wg.Done()
		s.heartbeatLoop(runCtx)
	})
	common.SafeGo(s.logger, "server-recovery", func() {
		defer s.wg.Done()
		s.recoveryLoop(runCtx)
	})

	// Reconstruct the queue before the first admission tick.
	if err := s.admitPending(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Startup queue reconstruction failed")
	}
	s.wg.Add(1)
	common.SafeGo(s.logger, "server-admission", func() {
		defer s.wg.Done()
		s.admissionLoop(runCtx)
	})

	s.logger.Info().
		Str("server_id", s.record.ID.String()).
		Int("workers", len(s.workers)).
		Msg("Execution server started")
	return nil
}

// Stop drains the loops, lets workers finish their current task and
// removes the liveness rows.
func (s *Server) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	for _, w := range s.workers {
		if err := s.dataSvc.DeleteWorker(ctx, nil, w.record); err != nil {
			s.logger.Warn().Str("worker_id", w.record.ID.String()).Err(err).Msg("Failed to remove worker row")
		}
	}
	if s.record != nil {
		if err := s.dataSvc.DeleteServer(ctx, nil, s.record); err != nil {
			s.logger.Warn().Str("server_id", s.record.ID.String()).Err(err).Msg("Failed to remove server row")
		}
	}
	s.logger.Info().Msg("Execution server stopped")
}

// Admit pushes an execution id into the queue unless it is already
// queued. Duplicate admission is harmless (the lease CAS discards the
// loser) but wasteful, so admitted ids are tracked until popped.
func (s *Server) Admit(ctx context.Context, executionID models.ID) error {
	s.mu.Lock()
	if _, ok := s.enqueued[executionID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.enqueued[executionID] = struct{}{}
	s.mu.Unlock()

	if err := s.queue.Push(ctx, executionID); err != nil {
		s.mu.Lock()
		delete(s.enqueued, executionID)
		s.mu.Unlock()
		return err
	}
	return nil
}

// popped releases the admission guard once a worker took the id off the
// queue.
func (s *Server) popped(executionID models.ID) {
	s.mu.Lock()
	delete(s.enqueued, executionID)
	s.mu.Unlock()
}

// heartbeatLoop refreshes the server row every heartbeat interval.
func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.record.HeartbeatOn = time.Now().UTC()
			if err := s.dataSvc.SaveServer(ctx, nil, s.record); err != nil {
				s.logger.Warn().Err(err).Msg("Server heartbeat failed")
			}
		}
	}
}

// admissionLoop scans for executions waiting to run, covering triggers
// written by other processes and work reclaimed by recovery.
func (s *Server) admissionLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.config.Scheduler.TickSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.admitPending(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Admission scan failed")
			}
		}
	}
}

// admitPending enqueues every TRIGGERED execution, and every QUEUED one
// whose lease was cleared by recovery.
func (s *Server) admitPending(ctx context.Context) error {
	pending, err := s.dataSvc.ListExecutionsByState(ctx, models.ExecutionTriggered, models.ExecutionQueued)
	if err != nil {
		return err
	}
	for _, e := range pending {
		if e.State == models.ExecutionQueued && e.WorkerThreadID != nil {
			continue
		}
		if err := s.Admit(ctx, e.ID); err != nil {
			return err
		}
	}
	return nil
}
