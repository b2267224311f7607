package http

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/fleecy/participant/internal/config"
	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/core/services"
	"github.com/fleecy/participant/internal/infrastructure/db"
	"github.com/fleecy/participant/internal/infrastructure/hoststats"
	"github.com/fleecy/participant/internal/infrastructure/logger"
	"github.com/fleecy/participant/internal/infrastructure/remote"
	"github.com/fleecy/participant/internal/transport/http/handlers"
	httpmw "github.com/fleecy/participant/internal/transport/http/middleware"
)

type RouterConfig struct {
	// DB is optional; without it the timeline lives in memory.
	DB     *gorm.DB
	Logger *logger.Logger
	Config *config.Config
	// BaseContext bounds background local runs.
	BaseContext context.Context
	// Inventory and Dialer override the configured implementations.
	Inventory ports.InventoryResolver
	Dialer    ports.SessionDialer
	Executor  services.ProcessExecutor
}

// SetupRoutes builds the services and registers every route. The returned
// local runner must be waited on during shutdown.
func SetupRoutes(app *fiber.App, cfg RouterConfig) (*services.LocalRunnerService, error) {
	var timelineRepo ports.TimelineRepository
	if cfg.DB != nil {
		timelineRepo = db.NewTimelineRepository(cfg.DB, cfg.Logger)
	} else {
		timelineRepo = db.NewMemoryTimelineRepo(cfg.Config.Registry.Capacity, cfg.Logger)
	}

	inventory := cfg.Inventory
	if inventory == nil {
		inv := cfg.Config.Inventory
		policy, err := services.NewAddressPolicy(inv.AddressPolicy, inv.PreferredNetwork, inv.PreferredCIDR)
		if err != nil {
			return nil, err
		}
		inventory = services.NewInventoryService(inv, services.BashRunner{}, policy, cfg.Logger)
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = remote.NewDialer(cfg.Config.SSH)
	}

	baseCtx := cfg.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	probeTimeout := cfg.Config.SSH.ProbeTimeout
	deployer := services.NewWorkspaceDeployer(cfg.Config.Workspace, cfg.Logger)
	deploymentService := services.NewDeploymentService(services.DeploymentServiceConfig{
		Inventory:    inventory,
		Dialer:       dialer,
		Deployer:     deployer,
		Launcher:     services.NewLauncher(probeTimeout, cfg.Logger),
		Retriever:    services.NewLogRetriever(deployer.BaseDir(), probeTimeout, cfg.Logger),
		Tasks:        services.NewTaskService(cfg.Config.Registry.Capacity, cfg.Config.Workspace.TaskIDPrefix),
		TimelineRepo: timelineRepo,
		Logger:       cfg.Logger,
		StrictLookup: cfg.Config.Registry.StrictLookup,
	})
	localRunner := services.NewLocalRunnerService(baseCtx, cfg.Config.Local, cfg.Executor, cfg.Logger)
	stats := hoststats.NewCollector()

	healthHandler := handlers.NewHealthHandler(stats)
	vmHandler := handlers.NewVMHandler(deploymentService, cfg.Logger)
	taskHandler := handlers.NewTaskHandler(deploymentService, cfg.Config.Workspace.Interpreter, cfg.Logger)
	logHandler := handlers.NewLogHandler(deploymentService, cfg.Config.Features.LogStreamInterval, cfg.Logger)
	localHandler := handlers.NewLocalHandler(localRunner, stats, timelineRepo, cfg.Logger)
	timelineHandler := handlers.NewTimelineHandler(timelineRepo)

	cleanupService := services.NewCleanupService(cfg.Config.Retention, timelineRepo, localRunner, cfg.Logger)
	cleanupHandler := handlers.NewCleanupHandler(cleanupService, cfg.Logger)
	go cleanupService.Run(baseCtx)

	app.Get("/", healthHandler.Home)
	app.Get("/health", healthHandler.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Log streaming
	app.Use("/ws", httpmw.AdminAuth(cfg.Config), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws/logs/:task_id", websocket.New(logHandler.Stream))

	api := app.Group("/api", httpmw.AdminAuth(cfg.Config))
	api.Get("/vms", vmHandler.ListVMs)

	fl := api.Group("/fl")
	fl.Post("/tasks", taskHandler.CreateTask)
	fl.Get("/tasks/:task_id", taskHandler.GetTask)
	fl.Post("/execute", taskHandler.ExecuteFlower)
	fl.Post("/execute-local", localHandler.Execute)
	fl.Get("/local/:task_id", localHandler.GetRun)
	fl.Get("/logs/:task_id", logHandler.GetLogs)

	api.Get("/timeline", timelineHandler.GetEvents)
	api.Post("/maintenance/cleanup", cleanupHandler.Sweep)

	return localRunner, nil
}
