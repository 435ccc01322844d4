package dummy

import (
	"context"
	"sync"

	"workbench/pkg/config"
	"workbench/pkg/spawner"
	"workbench/pkg/store/mysql/model"
)

// Spawner is an in-memory provider for local development and tests. State
// lives only in process memory; starts succeed immediately and report
// Running.
type Spawner struct {
	mu     sync.Mutex
	status map[string]spawner.Status

	// Optional failure injection
	StartErr     error
	StopErr      error
	TerminateErr error

	// PendingStarts makes the next N started servers report Pending until
	// MarkRunning is called, for exercising wait loops.
	PendingStarts int

	StartCalls     int
	StopCalls      int
	TerminateCalls int
}

// New creates a dummy spawner
func New(cfg *config.Config, store spawner.ConfigStore) (spawner.Spawner, error) {
	return NewSpawner(), nil
}

// NewSpawner creates a dummy spawner without the factory signature
func NewSpawner() *Spawner {
	return &Spawner{status: make(map[string]spawner.Status)}
}

func (s *Spawner) Start(ctx context.Context, server *model.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	if s.StartErr != nil {
		return s.StartErr
	}
	if s.PendingStarts > 0 {
		s.PendingStarts--
		s.status[server.ID] = spawner.StatusPending
	} else {
		s.status[server.ID] = spawner.StatusRunning
	}
	return nil
}

func (s *Spawner) Stop(ctx context.Context, server *model.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	if s.StopErr != nil {
		return s.StopErr
	}
	s.status[server.ID] = spawner.StatusStopped
	return nil
}

func (s *Spawner) Terminate(ctx context.Context, server *model.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TerminateCalls++
	if s.TerminateErr != nil {
		return s.TerminateErr
	}
	delete(s.status, server.ID)
	return nil
}

func (s *Spawner) Status(ctx context.Context, server *model.Server) spawner.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.status[server.ID]; ok {
		return status
	}
	return spawner.StatusStopped
}

// MarkRunning flips a pending server to Running
func (s *Spawner) MarkRunning(serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[serverID] = spawner.StatusRunning
}
