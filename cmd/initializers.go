package main

import (
	"fmt"
	"net/http"
	"time"

	"workbench/app/handler"
	"workbench/app/router"
	"workbench/internal/service"
	"workbench/pkg/billing"
	"workbench/pkg/config"
	"workbench/pkg/logger"
	"workbench/pkg/notification"
	queueasynq "workbench/pkg/queue/asynq"
	"workbench/pkg/spawner"
	"workbench/pkg/spawner/dummy"
	"workbench/pkg/spawner/ecs"
	k8sspawner "workbench/pkg/spawner/k8s"
	lambdaspawner "workbench/pkg/spawner/lambda"
	mysqlstore "workbench/pkg/store/mysql"
	redisstore "workbench/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.Sync()
	})
	return nil
}

// initMySQL initializes MySQL
func (app *Application) initMySQL() error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		app.config.MySQL.User,
		app.config.MySQL.Password,
		app.config.MySQL.Host,
		app.config.MySQL.Port,
		app.config.MySQL.Database,
	)

	repo, err := mysqlstore.NewRepository(dsn)
	if err != nil {
		return err
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() {
		repo.Close()
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})

	return nil
}

// initRedis initializes Redis
func (app *Application) initRedis() error {
	client, err := redisstore.NewRedisClient(app.config)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.stateRepo = redisstore.NewServerStateRepository(client)
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	return nil
}

// initQueue initializes the asynq task queue
func (app *Application) initQueue() error {
	manager, err := queueasynq.NewManager(app.config)
	if err != nil {
		return err
	}

	app.queueManager = manager
	app.registerCleanup(func() {
		manager.Close()
		logger.InfoCtx(app.ctx, "Task queue has been closed")
	})

	return nil
}

// initSpawner initializes the compute provider
func (app *Application) initSpawner() error {
	spawner.Register("ecs", ecs.New)
	spawner.Register("lambda", lambdaspawner.New)
	spawner.Register("k8s", k8sspawner.New)
	spawner.Register("dummy", dummy.New)

	sp, err := spawner.New(app.config.Spawner.Provider, app.config, app.mysqlRepo.Server)
	if err != nil {
		return fmt.Errorf("failed to create %q spawner (available: %v): %w",
			app.config.Spawner.Provider, spawner.Names(), err)
	}

	app.spawner = sp
	logger.InfoCtx(app.ctx, "Compute provider %q ready", app.config.Spawner.Provider)
	return nil
}

// initServices initializes service layer
func (app *Application) initServices() error {
	// Server lifecycle service
	app.serverService = service.NewServerService(
		app.mysqlRepo.Server,
		app.mysqlRepo.RunStatistics,
		app.stateRepo,
		app.mysqlRepo.GetDatastore(),
		app.spawner,
	)

	// Lifecycle verbs run on the queue worker
	queueasynq.NewServerTaskHandler(app.serverService).Register(app.queueManager)

	// Usage accounting
	app.billingClient = billing.NewClient(&app.config.Billing)
	app.usageNotifier = notification.NewUsageNotifier(app.mysqlRepo.Notification, app.config.Usage.WebhookURL)
	app.usageService = service.NewUsageService(
		app.mysqlRepo.Invoice,
		app.mysqlRepo.Customer,
		app.mysqlRepo.RunStatistics,
		app.billingClient,
		app.usageNotifier,
		app.config,
	)

	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	app.serverHandler = handler.NewServerHandler(
		app.serverService,
		app.queueManager,
		app.stateRepo,
		app.mysqlRepo.ServerSize,
	)
	app.sizeHandler = handler.NewServerSizeHandler(app.mysqlRepo.ServerSize)
	app.usageHandler = handler.NewUsageHandler(app.usageService)
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	r := router.NewRouter(app.serverHandler, app.sizeHandler, app.usageHandler)

	// Set Gin mode
	gin.SetMode(app.config.Server.Mode)

	// Create Gin engine
	app.ginEngine = gin.New()
	app.ginEngine.Use(gin.Recovery())

	// Setup routes
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.ginEngine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}
