package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"workbench/pkg/spawner"
	"workbench/pkg/spawner/dummy"
	"workbench/pkg/store/mysql/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServerStore struct {
	servers map[string]*model.Server
}

func (s *fakeServerStore) Create(ctx context.Context, server *model.Server) error {
	s.servers[server.ID] = server
	return nil
}

func (s *fakeServerStore) Get(ctx context.Context, id string) (*model.Server, error) {
	server, ok := s.servers[id]
	if !ok || !server.IsActive {
		return nil, nil
	}
	return server, nil
}

func (s *fakeServerStore) List(ctx context.Context, ownerID string) ([]*model.Server, error) {
	var out []*model.Server
	for _, server := range s.servers {
		if server.OwnerID == ownerID && server.IsActive {
			out = append(out, server)
		}
	}
	return out, nil
}

func (s *fakeServerStore) Deactivate(ctx context.Context, id string) error {
	if server, ok := s.servers[id]; ok {
		server.IsActive = false
	}
	return nil
}

type fakeRunStore struct {
	runs []*model.ServerRunStatistics
}

func (s *fakeRunStore) Create(ctx context.Context, run *model.ServerRunStatistics) error {
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeRunStore) GetOpenRuns(ctx context.Context, serverID string) ([]*model.ServerRunStatistics, error) {
	var open []*model.ServerRunStatistics
	for _, run := range s.runs {
		if run.ServerID == serverID && run.Stop == nil {
			open = append(open, run)
		}
	}
	return open, nil
}

func (s *fakeRunStore) CloseRun(ctx context.Context, runID string, stop time.Time) (int64, error) {
	for _, run := range s.runs {
		if run.ID == runID && run.Stop == nil {
			t := stop
			run.Stop = &t
			return 1, nil
		}
	}
	return 0, nil
}

func (s *fakeRunStore) ListOpen(ctx context.Context, olderThan time.Time) ([]*model.ServerRunStatistics, error) {
	var open []*model.ServerRunStatistics
	for _, run := range s.runs {
		if run.Stop == nil && run.Start.Before(olderThan) {
			open = append(open, run)
		}
	}
	return open, nil
}

func (s *fakeRunStore) ListByServer(ctx context.Context, serverID string, limit int) ([]*model.ServerRunStatistics, error) {
	var out []*model.ServerRunStatistics
	for _, run := range s.runs {
		if run.ServerID == serverID {
			out = append(out, run)
		}
	}
	return out, nil
}

type fakeStateStore struct {
	cleared int
	purged  int
}

func (s *fakeStateStore) ClearUpdateMessage(ctx context.Context, serverID string) error {
	s.cleared++
	return nil
}

func (s *fakeStateStore) Purge(ctx context.Context, serverID string) error {
	s.purged++
	return nil
}

type passthroughTx struct{}

func (passthroughTx) ExecTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newFixture(sp spawner.Spawner) (*ServerService, *fakeServerStore, *fakeRunStore, *fakeStateStore) {
	servers := &fakeServerStore{servers: map[string]*model.Server{
		"srv-1": {
			ID:        "srv-1",
			Name:      "workspace",
			OwnerID:   "user-1",
			ProjectID: "proj-1",
			IsActive:  true,
			ServerSize: &model.ServerSize{
				Name:   "Nano",
				Memory: 512,
			},
		},
	}}
	runs := &fakeRunStore{}
	state := &fakeStateStore{}
	svc := NewServerService(servers, runs, state, passthroughTx{}, sp)
	svc.waitAttempts = 3
	svc.waitInterval = time.Millisecond
	svc.settleDelay = time.Millisecond
	return svc, servers, runs, state
}

func TestStart_OpensRunWithMemorySnapshot(t *testing.T) {
	sp := dummy.NewSpawner()
	svc, _, runs, state := newFixture(sp)

	require.NoError(t, svc.Start(context.Background(), "srv-1"))

	require.Len(t, runs.runs, 1)
	run := runs.runs[0]
	assert.Equal(t, "srv-1", run.ServerID)
	assert.Equal(t, "user-1", run.OwnerID)
	assert.Equal(t, 512, run.ServerSizeMemory)
	assert.Nil(t, run.Stop)
	assert.Equal(t, 1, state.cleared)
}

func TestStart_ClosesStaleOpenRuns(t *testing.T) {
	sp := dummy.NewSpawner()
	svc, _, runs, _ := newFixture(sp)
	ctx := context.Background()

	// A stop job was lost, leaving an open run behind
	runs.runs = append(runs.runs, &model.ServerRunStatistics{
		ID:       "stale",
		ServerID: "srv-1",
		Start:    time.Now().Add(-time.Hour),
	})

	require.NoError(t, svc.Start(ctx, "srv-1"))

	open, err := runs.GetOpenRuns(ctx, "srv-1")
	require.NoError(t, err)
	assert.Len(t, open, 1, "exactly one open run after start")
	assert.NotEqual(t, "stale", open[0].ID)
}

func TestStart_UnknownServer(t *testing.T) {
	svc, _, _, _ := newFixture(dummy.NewSpawner())
	err := svc.Start(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestStart_ProviderFailureOpensNoRun(t *testing.T) {
	sp := dummy.NewSpawner()
	sp.StartErr = errors.New("provider down")
	svc, _, runs, _ := newFixture(sp)

	err := svc.Start(context.Background(), "srv-1")
	require.Error(t, err)
	assert.Empty(t, runs.runs)
}

func TestStop_ClosesOpenRun(t *testing.T) {
	sp := dummy.NewSpawner()
	svc, _, runs, _ := newFixture(sp)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, "srv-1"))
	require.NoError(t, svc.Stop(ctx, "srv-1"))

	open, err := runs.GetOpenRuns(ctx, "srv-1")
	require.NoError(t, err)
	assert.Empty(t, open)

	// A retried stop is harmless
	require.NoError(t, svc.Stop(ctx, "srv-1"))
}

func TestTerminate_ProviderFailureKeepsRecord(t *testing.T) {
	sp := dummy.NewSpawner()
	sp.TerminateErr = errors.New("access denied")
	svc, servers, runs, state := newFixture(sp)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, "srv-1"))
	err := svc.Terminate(ctx, "srv-1")
	require.Error(t, err)

	assert.True(t, servers.servers["srv-1"].IsActive, "record survives provider failure")
	open, _ := runs.GetOpenRuns(ctx, "srv-1")
	assert.Len(t, open, 1, "open run survives provider failure")
	assert.Equal(t, 0, state.purged)
}

func TestTerminate_DeactivatesAndPurges(t *testing.T) {
	sp := dummy.NewSpawner()
	svc, servers, runs, state := newFixture(sp)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, "srv-1"))
	require.NoError(t, svc.Terminate(ctx, "srv-1"))

	assert.False(t, servers.servers["srv-1"].IsActive)
	open, _ := runs.GetOpenRuns(ctx, "srv-1")
	assert.Empty(t, open)
	assert.Equal(t, 1, state.purged)

	// Terminated server is gone from the service's point of view
	_, err := svc.Get(ctx, "srv-1")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestStatus(t *testing.T) {
	sp := dummy.NewSpawner()
	svc, _, _, _ := newFixture(sp)
	ctx := context.Background()

	status, err := svc.Status(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, spawner.StatusStopped, status)

	require.NoError(t, svc.Start(ctx, "srv-1"))
	status, err = svc.Status(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, spawner.StatusRunning, status)

	_, err = svc.Status(ctx, "missing")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestStartAndWait_ReportsRunning(t *testing.T) {
	sp := dummy.NewSpawner()
	svc, _, _, _ := newFixture(sp)

	ready, err := svc.StartAndWait(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestSweepStaleRuns_ClosesProviderStoppedRuns(t *testing.T) {
	sp := dummy.NewSpawner()
	svc, _, runs, _ := newFixture(sp)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, "srv-1"))
	runs.runs[0].Start = time.Now().Add(-time.Hour)

	// Provider still reports Running: the run stays open
	require.NoError(t, svc.SweepStaleRuns(ctx, 5*time.Minute))
	open, _ := runs.GetOpenRuns(ctx, "srv-1")
	assert.Len(t, open, 1)

	// The container died without a stop event
	require.NoError(t, sp.Stop(ctx, &model.Server{ID: "srv-1"}))
	require.NoError(t, svc.SweepStaleRuns(ctx, 5*time.Minute))
	open, _ = runs.GetOpenRuns(ctx, "srv-1")
	assert.Empty(t, open)
}

func TestSweepStaleRuns_RespectsGracePeriod(t *testing.T) {
	sp := dummy.NewSpawner()
	svc, _, runs, _ := newFixture(sp)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, "srv-1"))
	require.NoError(t, sp.Stop(ctx, &model.Server{ID: "srv-1"}))

	// Run just started: inside the grace period, untouched
	require.NoError(t, svc.SweepStaleRuns(ctx, 5*time.Minute))
	open, _ := runs.GetOpenRuns(ctx, "srv-1")
	assert.Len(t, open, 1)
}

func TestSweepStaleRuns_ClosesOrphanedRuns(t *testing.T) {
	sp := dummy.NewSpawner()
	svc, servers, runs, _ := newFixture(sp)
	ctx := context.Background()

	runs.runs = append(runs.runs, &model.ServerRunStatistics{
		ID:       "orphan",
		ServerID: "gone",
		Start:    time.Now().Add(-time.Hour),
	})
	delete(servers.servers, "gone")

	require.NoError(t, svc.SweepStaleRuns(ctx, 5*time.Minute))
	open, _ := runs.GetOpenRuns(ctx, "gone")
	assert.Empty(t, open)
}

func TestStartAndWait_TimesOutWhilePending(t *testing.T) {
	sp := dummy.NewSpawner()
	sp.PendingStarts = 1
	svc, _, _, _ := newFixture(sp)

	ready, err := svc.StartAndWait(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.False(t, ready, "deadline passes without the server coming up")
}
