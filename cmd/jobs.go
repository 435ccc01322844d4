package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"workbench/internal/jobs"
	"workbench/internal/service"
	"workbench/pkg/lock"
	"workbench/pkg/logger"
)

func (app *Application) initJobs() error {
	if app.serverService == nil || app.usageService == nil {
		logger.WarnCtx(app.ctx, "Service layer not fully initialized yet, skipping background task registration")
		return nil
	}

	manager := jobs.NewManager(app.ctx)

	usageInterval := time.Duration(app.config.Usage.Interval) * time.Second
	if usageInterval <= 0 {
		usageInterval = 10 * time.Minute
	}

	// Distributed locks keep multiple replicas from running the same pass
	// concurrently. Without Redis they downgrade to single-instance mode.
	var redisClient *redis.Client
	if app.redisClient != nil {
		redisClient = app.redisClient.GetClient()
	}

	usageLock := lock.NewRedisDistributedLock(redisClient, "usage:reconcile-lock")
	closeOutLock := lock.NewRedisDistributedLock(redisClient, "usage:close-out-lock")
	sweepLock := lock.NewRedisDistributedLock(redisClient, "cleanup:stale-run-lock")

	manager.Register(newUsageReconciliationJob(usageInterval, app.usageService, usageLock))
	manager.Register(newInvoiceCloseOutJob(24*time.Hour, app.usageService, closeOutLock))
	manager.Register(newStaleRunSweeperJob(5*time.Minute, app.serverService, sweepLock))

	app.jobsManager = manager
	return nil
}

// usageReconciliationJob periodically meters open billing periods and bills
// newly crossed overage buckets.
type usageReconciliationJob struct {
	interval        time.Duration
	usageService    *service.UsageService
	distributedLock lock.DistributedLock
}

func newUsageReconciliationJob(interval time.Duration, svc *service.UsageService, l lock.DistributedLock) jobs.Job {
	return &usageReconciliationJob{
		interval:        interval,
		usageService:    svc,
		distributedLock: l,
	}
}

func (j *usageReconciliationJob) Name() string {
	return "usage-reconciliation"
}

func (j *usageReconciliationJob) Interval() time.Duration {
	return j.interval
}

func (j *usageReconciliationJob) Run(ctx context.Context) error {
	if j.usageService == nil {
		return fmt.Errorf("usage service not configured")
	}

	if j.distributedLock != nil {
		acquired, err := j.distributedLock.TryLock(ctx)
		if err != nil || !acquired {
			logger.DebugCtx(ctx, "another instance is running usage reconciliation, skipping this cycle")
			return nil
		}
		defer j.distributedLock.Unlock(ctx)
	}

	logger.DebugCtx(ctx, "running usage reconciliation job")
	return j.usageService.Reconcile(ctx, time.Now().UTC())
}

// invoiceCloseOutJob reconciles and closes invoices whose billing period has
// ended. Runs on day boundaries so close-out happens shortly after midnight.
type invoiceCloseOutJob struct {
	interval        time.Duration
	usageService    *service.UsageService
	distributedLock lock.DistributedLock
}

func newInvoiceCloseOutJob(interval time.Duration, svc *service.UsageService, l lock.DistributedLock) jobs.Job {
	return &invoiceCloseOutJob{
		interval:        interval,
		usageService:    svc,
		distributedLock: l,
	}
}

func (j *invoiceCloseOutJob) Name() string {
	return "invoice-close-out"
}

func (j *invoiceCloseOutJob) Interval() time.Duration {
	return j.interval
}

func (j *invoiceCloseOutJob) AlignToInterval() bool {
	return true
}

func (j *invoiceCloseOutJob) Run(ctx context.Context) error {
	if j.usageService == nil {
		return fmt.Errorf("usage service not configured")
	}

	if j.distributedLock != nil {
		acquired, err := j.distributedLock.TryLock(ctx)
		if err != nil || !acquired {
			logger.DebugCtx(ctx, "another instance is running invoice close-out, skipping this cycle")
			return nil
		}
		defer j.distributedLock.Unlock(ctx)
	}

	logger.DebugCtx(ctx, "running invoice close-out job")
	return j.usageService.CloseOut(ctx, time.Now().UTC())
}

// staleRunGrace is how long an open run may exist before the sweeper will
// consider closing it, so freshly started servers are never raced.
const staleRunGrace = time.Hour

// staleRunSweeperJob closes run records whose server is no longer running,
// so crashed workers cannot leave usage accruing forever.
type staleRunSweeperJob struct {
	interval        time.Duration
	serverService   *service.ServerService
	distributedLock lock.DistributedLock
}

func newStaleRunSweeperJob(interval time.Duration, svc *service.ServerService, l lock.DistributedLock) jobs.Job {
	return &staleRunSweeperJob{
		interval:        interval,
		serverService:   svc,
		distributedLock: l,
	}
}

func (j *staleRunSweeperJob) Name() string {
	return "stale-run-sweeper"
}

func (j *staleRunSweeperJob) Interval() time.Duration {
	return j.interval
}

func (j *staleRunSweeperJob) Run(ctx context.Context) error {
	if j.serverService == nil {
		return fmt.Errorf("server service not configured")
	}

	if j.distributedLock != nil {
		acquired, err := j.distributedLock.TryLock(ctx)
		if err != nil || !acquired {
			logger.DebugCtx(ctx, "another instance is running the stale run sweeper, skipping this cycle")
			return nil
		}
		defer j.distributedLock.Unlock(ctx)
	}

	logger.DebugCtx(ctx, "running stale run sweeper job")
	return j.serverService.SweepStaleRuns(ctx, staleRunGrace)
}
