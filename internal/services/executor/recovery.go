// -----------------------------------------------------------------------
// Recovery - reclaim executions orphaned by stale workers and servers
// -----------------------------------------------------------------------

package executor

import (
	"context"
	"database/sql"
	"time"

	"github.com/ternarybob/jezel/internal/models"
	"github.com/ternarybob/jezel/internal/storage/sqlite"
)

// recoveryLoop runs a reclamation pass every heartbeat interval.
func (s *Server) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Recover(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Recovery pass failed")
			}
		}
	}
}

// Recover deletes stale servers and worker threads and returns their
// leased executions to the queue. Each orphan is reclaimed under its own
// transaction; a concurrency failure means another server got there
// first, which is fine.
func (s *Server) Recover(ctx context.Context) error {
	now := time.Now().UTC()

	servers, err := s.dataSvc.ListServers(ctx)
	if err != nil {
		return err
	}
	workers, err := s.dataSvc.ListWorkers(ctx)
	if err != nil {
		return err
	}

	deadServers := make(map[models.ID]*models.ExecutionServer)
	for _, server := range servers {
		if server.ID != s.record.ID && server.IsStale(now, s.stale) {
			deadServers[server.ID] = server
		}
	}

	live := make(map[models.ID]struct{})
	for _, server := range servers {
		if _, dead := deadServers[server.ID]; !dead {
			live[server.ID] = struct{}{}
		}
	}

	for _, worker := range workers {
		_, serverAlive := live[worker.ExecutionServerID]
		if serverAlive && !worker.IsStale(now, s.stale) {
			continue
		}
		if err := s.reclaimWorker(ctx, worker); err != nil {
			if sqlite.IsConcurrency(err) {
				continue
			}
			return err
		}
	}

	for _, server := range deadServers {
		if err := s.dataSvc.DeleteServer(ctx, nil, server); err != nil {
			if sqlite.IsConcurrency(err) {
				continue
			}
			return err
		}
		s.logger.Info().Str("server_id", server.ID.String()).Msg("Removed stale execution server")
	}

	return nil
}

// reclaimWorker deletes a stale worker row and, under the same
// transaction, clears its execution's lease and resets STARTED work back
// to QUEUED. The freed execution is re-enqueued after commit.
func (s *Server) reclaimWorker(ctx context.Context, worker *models.WorkerThread) error {
	var freed *models.Execution

	err := s.dataSvc.Store().Table().WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.dataSvc.DeleteWorker(ctx, tx, worker); err != nil {
			return err
		}
		if worker.ExecutionID == nil {
			return nil
		}

		rec, _, err := s.dataSvc.Store().GetByID(ctx, tx, *worker.ExecutionID)
		if err != nil || rec == nil {
			return err
		}
		execution, ok := rec.(*models.Execution)
		if !ok || execution.IsTerminal() {
			return nil
		}
		if execution.WorkerThreadID == nil || *execution.WorkerThreadID != worker.ID {
			return nil
		}

		if err := execution.ResetToQueued(); err != nil {
			return nil
		}
		if err := s.dataSvc.SaveExecution(ctx, tx, execution); err != nil {
			return err
		}
		freed = execution
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("worker_id", worker.ID.String()).Msg("Removed stale worker thread")
	if freed != nil {
		s.logger.Info().Str("execution_id", freed.ID.String()).Msg("Reclaimed orphaned execution")
		if err := s.Admit(ctx, freed.ID); err != nil {
			s.logger.Warn().Str("execution_id", freed.ID.String()).Err(err).Msg("Failed to re-enqueue reclaimed execution")
		}
	}
	return nil
}
