package service

import (
	"context"
	"errors"
	"time"

	"workbench/pkg/logger"
	"workbench/pkg/spawner"
	"workbench/pkg/store/mysql/model"

	"github.com/google/uuid"
)

// ErrServerNotFound marks operations against a missing or deactivated
// server. Job handlers treat it as permanent and skip retries.
var ErrServerNotFound = errors.New("server not found")

// ServerStore is the slice of the server repository the service needs
type ServerStore interface {
	Create(ctx context.Context, server *model.Server) error
	Get(ctx context.Context, id string) (*model.Server, error)
	List(ctx context.Context, ownerID string) ([]*model.Server, error)
	Deactivate(ctx context.Context, id string) error
}

// RunStore persists start-to-stop run intervals
type RunStore interface {
	Create(ctx context.Context, run *model.ServerRunStatistics) error
	GetOpenRuns(ctx context.Context, serverID string) ([]*model.ServerRunStatistics, error)
	CloseRun(ctx context.Context, runID string, stop time.Time) (int64, error)
	ListByServer(ctx context.Context, serverID string, limit int) ([]*model.ServerRunStatistics, error)
	ListOpen(ctx context.Context, olderThan time.Time) ([]*model.ServerRunStatistics, error)
}

// StateStore is the ephemeral per-server state tracker
type StateStore interface {
	ClearUpdateMessage(ctx context.Context, serverID string) error
	Purge(ctx context.Context, serverID string) error
}

// TxRunner runs a function inside a database transaction
type TxRunner interface {
	ExecTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ServerService drives the server lifecycle: provider calls first, run
// bookkeeping second, so a provider failure never leaves phantom usage.
type ServerService struct {
	servers ServerStore
	runs    RunStore
	state   StateStore
	tx      TxRunner
	spawner spawner.Spawner

	// Bounded-wait tuning, shrunk in tests
	waitAttempts int
	waitInterval time.Duration
	settleDelay  time.Duration
}

// NewServerService creates a server lifecycle service
func NewServerService(servers ServerStore, runs RunStore, state StateStore, tx TxRunner, sp spawner.Spawner) *ServerService {
	return &ServerService{
		servers:      servers,
		runs:         runs,
		state:        state,
		tx:           tx,
		spawner:      sp,
		waitAttempts: 30,
		waitInterval: time.Second,
		settleDelay:  2 * time.Second,
	}
}

// Create persists a new server record. No provider resources are touched
// until the first start.
func (s *ServerService) Create(ctx context.Context, server *model.Server) error {
	if server.ID == "" {
		server.ID = uuid.New().String()
	}
	server.IsActive = true
	return s.servers.Create(ctx, server)
}

// Get retrieves an active server
func (s *ServerService) Get(ctx context.Context, serverID string) (*model.Server, error) {
	server, err := s.servers.Get(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, ErrServerNotFound
	}
	return server, nil
}

// List retrieves an owner's active servers
func (s *ServerService) List(ctx context.Context, ownerID string) ([]*model.Server, error) {
	return s.servers.List(ctx, ownerID)
}

// Runs retrieves recent run history for a server
func (s *ServerService) Runs(ctx context.Context, serverID string, limit int) ([]*model.ServerRunStatistics, error) {
	if _, err := s.Get(ctx, serverID); err != nil {
		return nil, err
	}
	return s.runs.ListByServer(ctx, serverID, limit)
}

// Start launches the server on the provider, then opens a run interval with
// the size tier's memory snapshotted. Any open runs left behind by a missed
// stop are closed first so at most one open run exists per server.
func (s *ServerService) Start(ctx context.Context, serverID string) error {
	server, err := s.Get(ctx, serverID)
	if err != nil {
		return err
	}
	if err := s.spawner.Start(ctx, server); err != nil {
		return err
	}
	if err := s.state.ClearUpdateMessage(ctx, serverID); err != nil {
		logger.WarnCtx(ctx, "server %s: failed to clear update message: %v", serverID, err)
	}

	now := time.Now().UTC()
	return s.tx.ExecTx(ctx, func(ctx context.Context) error {
		if err := s.closeOpenRuns(ctx, serverID, now); err != nil {
			return err
		}
		memory := 0
		if server.ServerSize != nil {
			memory = server.ServerSize.Memory
		}
		return s.runs.Create(ctx, &model.ServerRunStatistics{
			ID:               uuid.New().String(),
			ServerID:         server.ID,
			OwnerID:          server.OwnerID,
			ProjectID:        server.ProjectID,
			ServerSizeMemory: memory,
			Start:            now,
		})
	})
}

// Stop halts the server on the provider and closes its open run
func (s *ServerService) Stop(ctx context.Context, serverID string) error {
	server, err := s.Get(ctx, serverID)
	if err != nil {
		return err
	}
	if err := s.spawner.Stop(ctx, server); err != nil {
		return err
	}
	return s.closeOpenRuns(ctx, serverID, time.Now().UTC())
}

// Terminate releases provider resources and deactivates the durable record.
// The provider call comes first: if it fails the record survives untouched
// and the job retries.
func (s *ServerService) Terminate(ctx context.Context, serverID string) error {
	server, err := s.Get(ctx, serverID)
	if err != nil {
		return err
	}
	if err := s.spawner.Terminate(ctx, server); err != nil {
		return err
	}

	err = s.tx.ExecTx(ctx, func(ctx context.Context) error {
		if err := s.closeOpenRuns(ctx, serverID, time.Now().UTC()); err != nil {
			return err
		}
		return s.servers.Deactivate(ctx, serverID)
	})
	if err != nil {
		return err
	}

	if err := s.state.Purge(ctx, serverID); err != nil {
		logger.WarnCtx(ctx, "server %s: failed to purge cached state: %v", serverID, err)
	}
	return nil
}

// Status reports the provider-observed state of a server
func (s *ServerService) Status(ctx context.Context, serverID string) (spawner.Status, error) {
	server, err := s.Get(ctx, serverID)
	if err != nil {
		return "", err
	}
	return s.spawner.Status(ctx, server), nil
}

// StartAndWait starts the server and polls until it reports Running, with a
// short settle delay afterwards for in-container processes to come up. A
// false return means the deadline passed, not that the start failed.
func (s *ServerService) StartAndWait(ctx context.Context, serverID string) (bool, error) {
	if err := s.Start(ctx, serverID); err != nil {
		return false, err
	}
	server, err := s.Get(ctx, serverID)
	if err != nil {
		return false, err
	}
	for i := 0; i < s.waitAttempts; i++ {
		if s.spawner.Status(ctx, server) == spawner.StatusRunning {
			select {
			case <-time.After(s.settleDelay):
			case <-ctx.Done():
				return false, ctx.Err()
			}
			return true, nil
		}
		select {
		case <-time.After(s.waitInterval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	logger.WarnCtx(ctx, "server %s: not running after %d polls", serverID, s.waitAttempts)
	return false, nil
}

// SweepStaleRuns closes open runs whose server is gone or provider-stopped,
// catching stop events that never made it through the queue. Runs younger
// than the grace period and servers in an unknown (Error) state are left
// alone.
func (s *ServerService) SweepStaleRuns(ctx context.Context, grace time.Duration) error {
	now := time.Now().UTC()
	open, err := s.runs.ListOpen(ctx, now.Add(-grace))
	if err != nil {
		return err
	}

	for _, run := range open {
		server, err := s.servers.Get(ctx, run.ServerID)
		if err != nil {
			logger.WarnCtx(ctx, "sweep: failed to load server %s: %v", run.ServerID, err)
			continue
		}
		if server == nil {
			// Server deactivated while its run stayed open
			if _, err := s.runs.CloseRun(ctx, run.ID, now); err != nil {
				return err
			}
			logger.InfoCtx(ctx, "sweep: closed orphaned run %s of deleted server %s", run.ID, run.ServerID)
			continue
		}
		if s.spawner.Status(ctx, server) == spawner.StatusStopped {
			if _, err := s.runs.CloseRun(ctx, run.ID, now); err != nil {
				return err
			}
			logger.InfoCtx(ctx, "sweep: closed stale run %s, server %s is stopped", run.ID, run.ServerID)
		}
	}
	return nil
}

// closeOpenRuns stamps a stop on every open run for the server. More than
// one open run means an earlier stop was lost; all of them get closed.
func (s *ServerService) closeOpenRuns(ctx context.Context, serverID string, stop time.Time) error {
	open, err := s.runs.GetOpenRuns(ctx, serverID)
	if err != nil {
		return err
	}
	if len(open) > 1 {
		logger.WarnCtx(ctx, "server %s: %d open runs, closing all", serverID, len(open))
	}
	for _, run := range open {
		if _, err := s.runs.CloseRun(ctx, run.ID, stop); err != nil {
			return err
		}
	}
	return nil
}
