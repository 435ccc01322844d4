package asynq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"workbench/pkg/config"
	"workbench/pkg/logger"

	"github.com/hibiken/asynq"
)

// Server lifecycle task types. Payloads carry only the server ID; handlers
// re-read the durable record so stale payloads cannot act on deleted state.
const (
	TypeServerStart     = "server:start"
	TypeServerStop      = "server:stop"
	TypeServerTerminate = "server:terminate"
)

// ServerTaskPayload is the payload for all server lifecycle tasks
type ServerTaskPayload struct {
	ServerID string `json:"server_id"`
}

// Manager queue manager
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewManager creates queue manager
func NewManager(cfg *config.Config) (*Manager, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Queue.Concurrency,
			Queues: map[string]int{
				"default": 10,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Second
			},
		},
	)

	mux := asynq.NewServeMux()

	return &Manager{
		client: client,
		server: server,
		mux:    mux,
	}, nil
}

// EnqueueServerTask enqueues a server lifecycle task
func (m *Manager) EnqueueServerTask(ctx context.Context, taskType, serverID string) error {
	payload, err := json.Marshal(ServerTaskPayload{ServerID: serverID})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	opts := []asynq.Option{
		asynq.Timeout(time.Duration(config.GlobalConfig.Queue.TaskTimeout) * time.Second),
		asynq.MaxRetry(config.GlobalConfig.Queue.MaxRetry),
	}

	info, err := m.client.EnqueueContext(ctx, asynq.NewTask(taskType, payload), opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}

	logger.InfoCtx(ctx, "task enqueued, type: %s, server_id: %s, queue: %s", taskType, serverID, info.Queue)
	return nil
}

// RegisterHandler registers task handler
func (m *Manager) RegisterHandler(pattern string, handler asynq.Handler) {
	m.mux.Handle(pattern, handler)
}

// Start starts queue processor
func (m *Manager) Start() error {
	logger.InfoCtx(context.Background(), "starting queue server")
	return m.server.Start(m.mux)
}

// Stop stops queue processor
func (m *Manager) Stop() {
	logger.InfoCtx(context.Background(), "stopping queue server")
	m.server.Stop()
	m.server.Shutdown()
}

// Close closes client
func (m *Manager) Close() error {
	return m.client.Close()
}
