package lambda

import (
	"context"
	"errors"
	"fmt"

	"workbench/pkg/config"
	"workbench/pkg/logger"
	"workbench/pkg/spawner"
	"workbench/pkg/store/mysql/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// API is the slice of the Lambda client the spawner calls, extracted so
// tests can substitute a fake.
type API interface {
	CreateFunction(ctx context.Context, params *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	DeleteFunction(ctx context.Context, params *lambda.DeleteFunctionInput, optFns ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error)
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
	GetFunction(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
}

// Spawner runs servers as container-image Lambda functions. One function per
// server, created on first start and reused afterwards; each start is an
// async invocation.
type Spawner struct {
	client API
	store  spawner.ConfigStore
	cfg    *config.SpawnerConfig
}

// New creates a Lambda spawner with a real AWS client
func New(cfg *config.Config, store spawner.ConfigStore) (spawner.Spawner, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Spawner.Lambda.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithClient(lambda.NewFromConfig(awsCfg), cfg, store), nil
}

// NewWithClient creates a Lambda spawner around an existing client
func NewWithClient(client API, cfg *config.Config, store spawner.ConfigStore) *Spawner {
	return &Spawner{
		client: client,
		store:  store,
		cfg:    &cfg.Spawner,
	}
}

func functionName(server *model.Server) string {
	return "userspace-" + server.ID
}

// Start creates the function on first use, then fires an async invocation.
// A retried start reuses the function recorded in the server config.
func (s *Spawner) Start(ctx context.Context, server *model.Server) error {
	logger.InfoCtx(ctx, "starting server %s", server.ID)

	if server.Config.GetString(model.ConfigFunctionARN) == "" {
		if err := s.createFunction(ctx, server); err != nil {
			return err
		}
		if err := s.store.SaveConfig(ctx, server); err != nil {
			return err
		}
	}

	_, err := s.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(functionName(server)),
		InvocationType: types.InvocationTypeEvent,
	})
	return spawner.WrapErr("invoke function", err)
}

// Stop is a no-op: an invocation runs to completion or times out on its own.
func (s *Spawner) Stop(ctx context.Context, server *model.Server) error {
	return nil
}

// Terminate deletes the function. A server without one was never started.
func (s *Spawner) Terminate(ctx context.Context, server *model.Server) error {
	if server.Config.GetString(model.ConfigFunctionARN) == "" {
		return nil
	}
	_, err := s.client.DeleteFunction(ctx, &lambda.DeleteFunctionInput{
		FunctionName: aws.String(functionName(server)),
	})
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		// Already gone, a retried terminate
		return nil
	}
	return spawner.WrapErr("delete function", err)
}

// Status reports the function state. Missing function is Stopped; provider
// failure is Error, never a raised error.
func (s *Spawner) Status(ctx context.Context, server *model.Server) spawner.Status {
	if server.Config.GetString(model.ConfigFunctionARN) == "" {
		return spawner.StatusStopped
	}
	resp, err := s.client.GetFunction(ctx, &lambda.GetFunctionInput{
		FunctionName: aws.String(functionName(server)),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return spawner.StatusStopped
		}
		logger.ErrorCtx(ctx, "error getting server %s status: %v", server.ID, err)
		return spawner.StatusError
	}
	if resp.Configuration == nil {
		return spawner.StatusError
	}
	switch resp.Configuration.State {
	case types.StatePending:
		return spawner.StatusPending
	case types.StateActive:
		return spawner.StatusRunning
	case types.StateInactive:
		return spawner.StatusStopped
	default:
		return spawner.StatusError
	}
}

func (s *Spawner) createFunction(ctx context.Context, server *model.Server) error {
	if server.ServerSize == nil {
		return fmt.Errorf("server %s has no size tier loaded", server.ID)
	}

	input := &lambda.CreateFunctionInput{
		FunctionName: aws.String(functionName(server)),
		Role:         aws.String(s.cfg.Lambda.Role),
		PackageType:  types.PackageTypeImage,
		Code:         &types.FunctionCode{ImageUri: aws.String(server.Image)},
		MemorySize:   aws.Int32(int32(server.ServerSize.Memory)),
	}
	if env := functionEnv(server); len(env) > 0 {
		input.Environment = &types.Environment{Variables: env}
	}

	resp, err := s.client.CreateFunction(ctx, input)
	if err != nil {
		return spawner.WrapErr("create function", err)
	}
	server.SetConfig(model.ConfigFunctionARN, aws.ToString(resp.FunctionArn))
	return nil
}

func functionEnv(server *model.Server) map[string]string {
	raw, ok := server.Config["env"].(map[string]interface{})
	if !ok {
		return nil
	}
	env := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			env[k] = s
		}
	}
	return env
}
