package asynq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"workbench/internal/service"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLifecycle struct {
	startErr     error
	stopErr      error
	terminateErr error

	started    []string
	stopped    []string
	terminated []string
}

func (f *fakeLifecycle) Start(ctx context.Context, serverID string) error {
	f.started = append(f.started, serverID)
	return f.startErr
}

func (f *fakeLifecycle) Stop(ctx context.Context, serverID string) error {
	f.stopped = append(f.stopped, serverID)
	return f.stopErr
}

func (f *fakeLifecycle) Terminate(ctx context.Context, serverID string) error {
	f.terminated = append(f.terminated, serverID)
	return f.terminateErr
}

func serverTask(t *testing.T, taskType, serverID string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(ServerTaskPayload{ServerID: serverID})
	require.NoError(t, err)
	return asynq.NewTask(taskType, payload)
}

func TestHandleStart(t *testing.T) {
	svc := &fakeLifecycle{}
	h := NewServerTaskHandler(svc)

	require.NoError(t, h.HandleStart(context.Background(), serverTask(t, TypeServerStart, "srv-1")))
	assert.Equal(t, []string{"srv-1"}, svc.started)
}

func TestHandleStart_UnknownServerSkipsRetry(t *testing.T) {
	svc := &fakeLifecycle{startErr: service.ErrServerNotFound}
	h := NewServerTaskHandler(svc)

	err := h.HandleStart(context.Background(), serverTask(t, TypeServerStart, "missing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleStart_TransientFailureRetries(t *testing.T) {
	svc := &fakeLifecycle{startErr: errors.New("provider throttled")}
	h := NewServerTaskHandler(svc)

	err := h.HandleStart(context.Background(), serverTask(t, TypeServerStart, "srv-1"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleStop(t *testing.T) {
	svc := &fakeLifecycle{}
	h := NewServerTaskHandler(svc)

	require.NoError(t, h.HandleStop(context.Background(), serverTask(t, TypeServerStop, "srv-1")))
	assert.Equal(t, []string{"srv-1"}, svc.stopped)
}

func TestHandleTerminate_TransientFailureRetries(t *testing.T) {
	svc := &fakeLifecycle{terminateErr: errors.New("access denied")}
	h := NewServerTaskHandler(svc)

	err := h.HandleTerminate(context.Background(), serverTask(t, TypeServerTerminate, "srv-1"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestDecodePayload_Malformed(t *testing.T) {
	h := NewServerTaskHandler(&fakeLifecycle{})

	err := h.HandleStart(context.Background(), asynq.NewTask(TypeServerStart, []byte("{")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = h.HandleStart(context.Background(), asynq.NewTask(TypeServerStart, []byte("{}")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
