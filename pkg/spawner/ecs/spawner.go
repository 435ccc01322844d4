package ecs

import (
	"context"
	"fmt"

	"workbench/pkg/config"
	"workbench/pkg/logger"
	"workbench/pkg/spawner"
	"workbench/pkg/store/mysql/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
)

const stopReason = "User request"

// API is the slice of the ECS client the spawner calls, extracted so tests
// can substitute a fake.
type API interface {
	RegisterTaskDefinition(ctx context.Context, params *ecs.RegisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error)
	DeregisterTaskDefinition(ctx context.Context, params *ecs.DeregisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.DeregisterTaskDefinitionOutput, error)
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
	StopTask(ctx context.Context, params *ecs.StopTaskInput, optFns ...func(*ecs.Options)) (*ecs.StopTaskOutput, error)
	DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
}

// Spawner runs servers as ECS tasks. The task definition is registered once
// per server and its ARN cached in the server config, so repeated starts and
// retried start jobs reuse it.
type Spawner struct {
	client  API
	store   spawner.ConfigStore
	cluster string
	cfg     *config.SpawnerConfig
}

// New creates an ECS spawner with a real AWS client
func New(cfg *config.Config, store spawner.ConfigStore) (spawner.Spawner, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Spawner.ECS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithClient(ecs.NewFromConfig(awsCfg), cfg, store), nil
}

// NewWithClient creates an ECS spawner around an existing client
func NewWithClient(client API, cfg *config.Config, store spawner.ConfigStore) *Spawner {
	return &Spawner{
		client:  client,
		store:   store,
		cluster: cfg.Spawner.ECS.Cluster,
		cfg:     &cfg.Spawner,
	}
}

// Start registers the task definition if the server has none yet, then runs
// a task and persists the provider handles. Safe under at-least-once job
// delivery: a cached definition ARN is reused, and two starts racing on an
// empty ARN are resolved by a compare-and-swap on the config column.
func (s *Spawner) Start(ctx context.Context, server *model.Server) error {
	logger.InfoCtx(ctx, "starting server %s", server.ID)

	arn := server.TaskDefinitionARN()
	if arn == "" {
		logger.InfoCtx(ctx, "registering task definition for server %s", server.ID)
		registered, err := s.registerTaskDefinition(ctx, server)
		if err != nil {
			return err
		}
		swapped, err := s.store.CompareAndSwapTaskDefinition(ctx, server.ID, registered)
		if err != nil {
			return err
		}
		arn = registered
		if !swapped {
			// Lost the race: another start already stored an ARN. Reuse it;
			// our registration is a harmless extra revision.
			fresh, err := s.store.Get(ctx, server.ID)
			if err != nil {
				return err
			}
			if fresh != nil && fresh.TaskDefinitionARN() != "" {
				arn = fresh.TaskDefinitionARN()
				logger.WarnCtx(ctx, "server %s: concurrent start already registered %s, reusing it", server.ID, arn)
			}
		}
		server.SetConfig(model.ConfigTaskDefinitionARN, arn)
	}

	resp, err := s.client.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(s.cluster),
		TaskDefinition: aws.String(arn),
	})
	if err != nil {
		return spawner.WrapErr("run task", err)
	}
	if len(resp.Tasks) == 0 {
		return spawner.WrapErr("run task", fmt.Errorf("provider returned no tasks for server %s", server.ID))
	}

	server.SetConfig(model.ConfigTaskARN, aws.ToString(resp.Tasks[0].TaskArn))
	return s.store.SaveConfig(ctx, server)
}

// Stop requests an orchestrator-level stop. The task definition is kept so
// the server can restart without re-registration.
func (s *Spawner) Stop(ctx context.Context, server *model.Server) error {
	taskARN := server.TaskARN()
	if taskARN == "" {
		// Never ran, or a retried stop after the handle was cleared
		return nil
	}
	_, err := s.client.StopTask(ctx, &ecs.StopTaskInput{
		Cluster: aws.String(s.cluster),
		Task:    aws.String(taskARN),
		Reason:  aws.String(stopReason),
	})
	return spawner.WrapErr("stop task", err)
}

// Terminate stops the task and releases its definition. Irreversible.
func (s *Spawner) Terminate(ctx context.Context, server *model.Server) error {
	if err := s.Stop(ctx, server); err != nil {
		return err
	}
	arn := server.TaskDefinitionARN()
	if arn == "" {
		return nil
	}
	_, err := s.client.DeregisterTaskDefinition(ctx, &ecs.DeregisterTaskDefinitionInput{
		TaskDefinition: aws.String(arn),
	})
	return spawner.WrapErr("deregister task definition", err)
}

// Status queries the live task state. A server that never ran is Stopped; a
// provider failure or an empty result set is Error, never a raised error.
func (s *Spawner) Status(ctx context.Context, server *model.Server) spawner.Status {
	taskARN := server.TaskARN()
	if taskARN == "" {
		return spawner.StatusStopped
	}
	resp, err := s.client.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(s.cluster),
		Tasks:   []string{taskARN},
	})
	if err != nil {
		logger.ErrorCtx(ctx, "error getting server %s status: %v", server.ID, err)
		return spawner.StatusError
	}
	if len(resp.Tasks) == 0 {
		logger.DebugCtx(ctx, "server %s: describe returned no tasks", server.ID)
		return spawner.StatusError
	}
	return mapTaskStatus(aws.ToString(resp.Tasks[0].LastStatus))
}

func mapTaskStatus(lastStatus string) spawner.Status {
	switch lastStatus {
	case "PROVISIONING", "PENDING", "ACTIVATING":
		return spawner.StatusPending
	case "RUNNING":
		return spawner.StatusRunning
	case "DEACTIVATING", "STOPPING", "DEPROVISIONING", "STOPPED":
		return spawner.StatusStopped
	default:
		return spawner.StatusError
	}
}

func (s *Spawner) registerTaskDefinition(ctx context.Context, server *model.Server) (string, error) {
	input, err := s.buildTaskDefinition(server)
	if err != nil {
		return "", err
	}
	resp, err := s.client.RegisterTaskDefinition(ctx, input)
	if err != nil {
		return "", spawner.WrapErr("register task definition", err)
	}
	return aws.ToString(resp.TaskDefinition.TaskDefinitionArn), nil
}
