package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/handlers"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
	"github.com/ternarybob/urbix/internal/queue"
	"github.com/ternarybob/urbix/internal/services/browser"
	"github.com/ternarybob/urbix/internal/services/events"
	"github.com/ternarybob/urbix/internal/services/jobs"
	"github.com/ternarybob/urbix/internal/services/login"
	"github.com/ternarybob/urbix/internal/services/otp"
	"github.com/ternarybob/urbix/internal/services/scheduler"
	"github.com/ternarybob/urbix/internal/services/sessions"
	"github.com/ternarybob/urbix/internal/storage"
	"github.com/ternarybob/urbix/internal/storage/badger"
	"github.com/ternarybob/urbix/internal/storage/redis"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	BadgerDB       *badger.BadgerDB
	StorageManager interfaces.StorageManager
	LeaseStorage   interfaces.LeaseStorage
	RedisClient    *goredis.Client

	// Services
	EventService     interfaces.EventService
	OTPRelay         interfaces.OTPRelay
	QueueManager     interfaces.QueueManager
	WorkerPool       *queue.WorkerPool
	SessionWriter    interfaces.SessionWriter
	LoginService     *jobs.Runner
	SchedulerService *scheduler.Service

	// HTTP handlers
	APIHandler     *handlers.APIHandler
	DeviceHandler  *handlers.DeviceHandler
	AttemptHandler *handlers.AttemptHandler
	WSHandler      *handlers.WebSocketHandler

	cancelCtx context.CancelFunc
}

// New initializes the application with all dependencies. Workers and the
// scheduler start here; the HTTP server is started by the caller.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	if err := app.start(); err != nil {
		app.Close()
		return nil, err
	}

	logger.Info().
		Str("storage", cfg.Storage.Type).
		Str("relay", cfg.Relay.Backend).
		Int("workers", cfg.Queue.Concurrency).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens Badger (queue, lease, default records), the record store
// and, for the redis relay, the Redis client
func (a *App) initDatabase() error {
	db, err := badger.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.BadgerDB = db

	storageManager, err := storage.NewStorageManager(a.Logger, a.Config, db)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager

	// With a shared Redis the lease follows the relay so several instances agree
	if a.Config.Relay.Backend == "redis" {
		client, err := redis.NewClient(context.Background(), &a.Config.Relay.Redis, a.Logger)
		if err != nil {
			return err
		}
		a.RedisClient = client
		a.LeaseStorage = redis.NewLeaseStorage(client)
	} else {
		a.LeaseStorage = badger.NewLeaseStorage(db)
	}

	a.Logger.Debug().
		Str("storage", a.Config.Storage.Type).
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	if a.Config.DevicesFile != "" {
		if err := storage.LoadDevicesFromFile(context.Background(), storageManager.DeviceStorage(), a.Config.DevicesFile, a.Logger); err != nil {
			// Seeding is a convenience; existing rows keep the service usable
			a.Logger.Warn().Err(err).Str("path", a.Config.DevicesFile).Msg("Failed to load devices file")
		}
	}

	return nil
}

// initServices builds the login pipeline in dependency order:
// events -> relay -> queue -> orchestrator -> runner -> worker pool -> scheduler
func (a *App) initServices() error {
	var err error

	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return err
	}

	a.OTPRelay, err = otp.NewRelay(&a.Config.Relay, a.RedisClient, a.Logger)
	if err != nil {
		return err
	}

	queueConfig := queue.ConfigFrom(&a.Config.Queue)
	queueManager, err := queue.NewBadgerManager(a.BadgerDB.Badger(), queueConfig, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create queue manager: %w", err)
	}
	a.QueueManager = queueManager

	a.SessionWriter = sessions.NewWriter(a.StorageManager.DeviceStorage(), a.Logger)

	orchestrator := login.NewOrchestrator(
		a.OTPRelay,
		login.TimingsFromConfig(&a.Config.Login),
		a.Config.Login.DebugScreenshots,
		a.Logger,
	)

	a.LoginService, err = jobs.NewRunner(jobs.Dependencies{
		Devices:      a.StorageManager.DeviceStorage(),
		Attempts:     a.StorageManager.AttemptStorage(),
		Leases:       a.LeaseStorage,
		Queue:        a.QueueManager,
		Relay:        a.OTPRelay,
		Browsers:     browser.NewLauncher(a.Config.Browser, a.Config.Login.DebugDir, a.Logger),
		Orchestrator: orchestrator,
		Sessions:     a.SessionWriter,
		Events:       a.EventService,
		Operators:    a.Config.Operators,
	}, jobs.PolicyFromConfig(&a.Config.Login), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create login runner: %w", err)
	}

	a.WorkerPool = queue.NewWorkerPool(a.QueueManager, queueConfig, a.Logger)
	a.WorkerPool.RegisterHandler(models.JobTypeLogin, a.LoginService.HandleLoginJob)

	if a.Config.Maintenance.Enabled {
		a.SchedulerService = scheduler.NewService(a.StorageManager.AttemptStorage(), &a.Config.Maintenance, a.Logger)
	}

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.QueueManager, a.Logger)
	a.DeviceHandler = handlers.NewDeviceHandler(
		a.LoginService,
		a.StorageManager.DeviceStorage(),
		a.StorageManager.AttemptStorage(),
		a.SessionWriter,
		a.Logger,
	)
	a.AttemptHandler = handlers.NewAttemptHandler(a.LoginService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.LoginService, &a.Config.WebSocket, a.Logger)
}

func (a *App) start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelCtx = cancel

	if err := a.WorkerPool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	return nil
}

// Close stops workers first so no job writes into a closed store
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.WorkerPool != nil {
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Worker pool stopped with error")
		}
		a.Logger.Info().Msg("Worker pool stopped")
	}

	if a.OTPRelay != nil {
		if err := a.OTPRelay.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close otp relay")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close redis client")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close record storage")
		}
	}

	if a.BadgerDB != nil {
		if err := a.BadgerDB.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
