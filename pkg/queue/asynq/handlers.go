package asynq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"workbench/internal/service"
	"workbench/pkg/logger"

	"github.com/hibiken/asynq"
)

// Lifecycle is the slice of the server service the handlers invoke
type Lifecycle interface {
	Start(ctx context.Context, serverID string) error
	Stop(ctx context.Context, serverID string) error
	Terminate(ctx context.Context, serverID string) error
}

// ServerTaskHandler processes server lifecycle tasks. Handlers are safe
// under at-least-once delivery: every operation re-reads the durable record
// and tolerates a retry of itself. A task against a missing server fails
// permanently instead of retrying.
type ServerTaskHandler struct {
	svc Lifecycle
}

// NewServerTaskHandler creates a server task handler
func NewServerTaskHandler(svc Lifecycle) *ServerTaskHandler {
	return &ServerTaskHandler{svc: svc}
}

// Register wires the handler into the queue manager
func (h *ServerTaskHandler) Register(m *Manager) {
	m.RegisterHandler(TypeServerStart, asynq.HandlerFunc(h.HandleStart))
	m.RegisterHandler(TypeServerStop, asynq.HandlerFunc(h.HandleStop))
	m.RegisterHandler(TypeServerTerminate, asynq.HandlerFunc(h.HandleTerminate))
}

// HandleStart processes a server start task
func (h *ServerTaskHandler) HandleStart(ctx context.Context, t *asynq.Task) error {
	payload, err := decodePayload(t)
	if err != nil {
		return err
	}
	return h.mapErr(ctx, "start", payload.ServerID, h.svc.Start(ctx, payload.ServerID))
}

// HandleStop processes a server stop task
func (h *ServerTaskHandler) HandleStop(ctx context.Context, t *asynq.Task) error {
	payload, err := decodePayload(t)
	if err != nil {
		return err
	}
	return h.mapErr(ctx, "stop", payload.ServerID, h.svc.Stop(ctx, payload.ServerID))
}

// HandleTerminate processes a server terminate task
func (h *ServerTaskHandler) HandleTerminate(ctx context.Context, t *asynq.Task) error {
	payload, err := decodePayload(t)
	if err != nil {
		return err
	}
	return h.mapErr(ctx, "terminate", payload.ServerID, h.svc.Terminate(ctx, payload.ServerID))
}

func decodePayload(t *asynq.Task) (*ServerTaskPayload, error) {
	var payload ServerTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return nil, fmt.Errorf("malformed payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ServerID == "" {
		return nil, fmt.Errorf("missing server_id: %w", asynq.SkipRetry)
	}
	return &payload, nil
}

func (h *ServerTaskHandler) mapErr(ctx context.Context, op, serverID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, service.ErrServerNotFound) {
		logger.WarnCtx(ctx, "%s of unknown server %s, dropping task", op, serverID)
		return fmt.Errorf("%s %s: %v: %w", op, serverID, err, asynq.SkipRetry)
	}
	logger.ErrorCtx(ctx, "failed to %s server %s: %v", op, serverID, err)
	return fmt.Errorf("%s %s: %w", op, serverID, err)
}
