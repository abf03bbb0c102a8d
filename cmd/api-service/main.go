package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/quickbook-dispatch/internal/api/handler"
	"github.com/cuongbtq/quickbook-dispatch/internal/api/router"
	"github.com/cuongbtq/quickbook-dispatch/internal/config"
	"github.com/cuongbtq/quickbook-dispatch/internal/dispatch"
	"github.com/cuongbtq/quickbook-dispatch/internal/intake"
	"github.com/cuongbtq/quickbook-dispatch/internal/notify"
	"github.com/cuongbtq/quickbook-dispatch/internal/pricing"
	"github.com/cuongbtq/quickbook-dispatch/internal/proximity"
	"github.com/cuongbtq/quickbook-dispatch/internal/store"
	"github.com/cuongbtq/quickbook-dispatch/internal/sweeper"
	"github.com/cuongbtq/quickbook-dispatch/internal/worker"
	"github.com/cuongbtq/quickbook-dispatch/shared/logger"
	"github.com/cuongbtq/quickbook-dispatch/shared/mongodb"
	"github.com/cuongbtq/quickbook-dispatch/shared/postgresql"
	"github.com/cuongbtq/quickbook-dispatch/shared/rabbitmq"
	"github.com/cuongbtq/quickbook-dispatch/shared/redis"
)

// providerDirectory is what the API needs from provider availability
type providerDirectory interface {
	handler.AvailabilityWriter
	dispatch.ProviderFinder
	dispatch.ProviderDirectory
}

// dispatcher hands created jobs to the broadcaster
type dispatcher interface {
	intake.Dispatcher
	sweeper.Dispatcher
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	appLogger = appLogger.With(slog.String("service", cfg.App.Name))

	appLogger.Info("Starting API service",
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("store", cfg.Store.Driver),
		slog.String("dispatch_mode", cfg.Dispatch.Mode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	healthChecks := map[string]handler.HealthCheck{}

	// Resources closed on shutdown, in reverse order of creation
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}()

	// Initialize PostgreSQL client when jobs or price samples live there
	var dbClient *postgresql.Client
	var jobStore store.Store = store.NewMemoryStore()
	if cfg.Store.Driver == config.StorePostgres || cfg.Pricing.SampleStore == config.SamplesPostgres {
		dbClient, err = initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		closers = append(closers, dbClient.Close)
		healthChecks["postgres"] = dbClient.HealthCheck

		pgStore := store.NewPostgresStore(dbClient, appLogger.Logger)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		if cfg.Store.Driver == config.StorePostgres {
			jobStore = pgStore
		}
		appLogger.Info("Database connection established")
	}

	// Hub delivers to local streams; with Redis every instance's hub is fed
	// through the relay so a user's stream can live anywhere
	hub := notify.NewHub(notify.HubConfig{
		Retention:        cfg.Notify.Retention,
		ReplayWindow:     cfg.Notify.ReplayWindow,
		SubscriberBuffer: cfg.Notify.SubscriberBuffer,
	}, clock, appLogger.Logger)
	var notifier notify.Notifier = hub

	var directory providerDirectory = proximity.NewIndex()

	if cfg.Redis.Enabled {
		redisClient, err := initRedis(ctx, &cfg.Redis, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		closers = append(closers, redisClient.Close)
		healthChecks["redis"] = redisClient.HealthCheck

		relay := notify.NewRedisRelay(redisClient.GetClient(), hub, relayConfig(&cfg.Redis), appLogger.Logger)
		go relay.Run(ctx)
		notifier = relay

		if cfg.Dispatch.Directory == config.DirectoryRedis {
			directory = proximity.NewRedisDirectory(redisClient.GetClient(), cfg.Dispatch.DirectoryKey)
		}
		appLogger.Info("Redis connection established")
	}

	// Price guidance
	prices, err := initPricing(ctx, cfg, dbClient, clock, appLogger.Logger, &closers, healthChecks)
	if err != nil {
		return err
	}

	arbiter := dispatch.NewArbiter(jobStore, directory, notifier, clock, appLogger.Logger)
	broadcaster := dispatch.NewBroadcaster(jobStore, directory, notifier, arbiter, clock, cfg.Dispatch.RadiusKm, appLogger.Logger)

	// Broadcasts run in-process or on the worker service behind RabbitMQ
	var jobDispatcher dispatcher
	var localWorker *worker.Worker
	switch cfg.Dispatch.Mode {
	case config.DispatchQueue:
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		closers = append(closers, rabbitClient.Close)
		healthChecks["rabbitmq"] = func(context.Context) error {
			if !rabbitClient.IsConnected() {
				return fmt.Errorf("rabbitmq connection closed")
			}
			return nil
		}
		jobDispatcher = worker.NewQueueDispatcher(rabbitClient, appLogger.Logger)
		appLogger.Info("RabbitMQ connection established")
	default:
		localWorker = worker.NewWorker(&worker.Config{
			Logger:      appLogger.Logger,
			Broadcaster: broadcaster,
			Concurrency: cfg.Worker.Concurrency,
			QueueSize:   cfg.Worker.QueueSize,
			JobTimeout:  cfg.Dispatch.BroadcastTimeout,
		})
		go func() {
			if err := localWorker.Start(ctx); err != nil {
				appLogger.Error("Dispatch worker stopped", slog.Any("error", err))
			}
		}()
		jobDispatcher = localWorker
	}

	intakeService := intake.NewService(jobStore, prices, jobDispatcher, clock, intake.Config{
		DefaultArrivalWindowHours: cfg.Intake.DefaultArrivalWindowHours,
		MaxArrivalWindowHours:     cfg.Intake.MaxArrivalWindowHours,
	}, appLogger.Logger)

	// Backstop sweeps for lost timers and stuck jobs
	sweeps := sweeper.New(jobStore, arbiter, jobDispatcher, hub, prices, clock, sweeperConfig(&cfg.Sweeper), appLogger.Logger)
	if err := sweeps.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	// Initialize router
	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:          appLogger.Logger,
		Clock:           clock,
		ServiceName:     cfg.App.Name,
		Intake:          intakeService,
		Arbiter:         arbiter,
		Providers:       directory,
		Prices:          prices,
		Hub:             hub,
		StreamHeartbeat: cfg.Server.StreamHeartbeat,
		HealthChecks:    healthChecks,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed to start", slog.Any("error", err))
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Cancelling the base context ends open event streams
	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	sweeps.Stop()
	if localWorker != nil {
		localWorker.Stop()
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRedis initializes the Redis client
func initRedis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(ctx, &redis.Config{
		URL:          cfg.URL,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)
}

func relayConfig(cfg *config.RedisConfig) notify.RelayConfig {
	return notify.RelayConfig{
		Channel:     cfg.Channel,
		QueueSize:   cfg.QueueSize,
		MaxRetries:  cfg.PublishRetries,
		RetryDelay:  cfg.RetryInterval,
		BackoffMult: cfg.BackoffMultiplier,
	}
}

func sweeperConfig(cfg *config.SweeperConfig) sweeper.Config {
	return sweeper.Config{
		ExpirySpec:      cfg.ExpirySpec,
		RedispatchSpec:  cfg.RedispatchSpec,
		MaintenanceSpec: cfg.MaintenanceSpec,
		StaleAfter:      cfg.StaleAfter,
		BatchSize:       cfg.BatchSize,
	}
}

// initPricing builds the guidance engine on the configured sample archive
// and warms it from there
func initPricing(ctx context.Context, cfg *config.Config, dbClient *postgresql.Client, clock clockwork.Clock, logger *slog.Logger, closers *[]func() error, healthChecks map[string]handler.HealthCheck) (*pricing.Engine, error) {
	engineCfg := pricing.Config{
		Window:   cfg.Pricing.Window,
		Defaults: make(map[string]pricing.Range, len(cfg.Pricing.Defaults)),
	}
	for category, rc := range cfg.Pricing.Defaults {
		r, err := parseRange(rc)
		if err != nil {
			return nil, fmt.Errorf("pricing.defaults.%s: %w", category, err)
		}
		engineCfg.Defaults[category] = r
	}
	if cfg.Pricing.Fallback != (config.RangeConfig{}) {
		r, err := parseRange(cfg.Pricing.Fallback)
		if err != nil {
			return nil, fmt.Errorf("pricing.fallback: %w", err)
		}
		engineCfg.Fallback = r
	}

	var samples pricing.SampleStore
	switch cfg.Pricing.SampleStore {
	case config.SamplesPostgres:
		samples = pricing.NewPostgresSampleStore(dbClient)
	case config.SamplesMongoDB:
		mongoClient, err := mongodb.NewClient(ctx, &mongodb.Config{
			URI:            cfg.MongoDB.URI,
			Database:       cfg.MongoDB.Database,
			ConnectTimeout: cfg.MongoDB.ConnectTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MongoDB: %w", err)
		}
		*closers = append(*closers, mongoClient.Close)
		healthChecks["mongodb"] = mongoClient.HealthCheck

		mongoSamples := pricing.NewMongoSampleStore(mongoClient.Collection(cfg.MongoDB.Collection))
		if err := mongoSamples.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("failed to create price sample indexes: %w", err)
		}
		samples = mongoSamples
	}

	engine := pricing.NewEngine(engineCfg, samples, clock, logger)
	if err := engine.Load(ctx); err != nil {
		return nil, err
	}
	return engine, nil
}

func parseRange(rc config.RangeConfig) (pricing.Range, error) {
	p10, p50, p90, err := rc.Parse()
	if err != nil {
		return pricing.Range{}, err
	}
	return pricing.Range{P10: p10, P50: p50, P90: p90}, nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Setup router
	return router.SetupRouter(deps)
}
