package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/quickbook-dispatch/internal/config"
	"github.com/cuongbtq/quickbook-dispatch/internal/dispatch"
	"github.com/cuongbtq/quickbook-dispatch/internal/notify"
	"github.com/cuongbtq/quickbook-dispatch/internal/proximity"
	"github.com/cuongbtq/quickbook-dispatch/internal/store"
	"github.com/cuongbtq/quickbook-dispatch/internal/sweeper"
	"github.com/cuongbtq/quickbook-dispatch/internal/worker"
	"github.com/cuongbtq/quickbook-dispatch/shared/logger"
	"github.com/cuongbtq/quickbook-dispatch/shared/postgresql"
	"github.com/cuongbtq/quickbook-dispatch/shared/rabbitmq"
	"github.com/cuongbtq/quickbook-dispatch/shared/redis"
)

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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	appLogger = appLogger.With(slog.String("service", cfg.App.Name))

	appLogger.Info("Starting worker service",
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	jobStore := store.NewPostgresStore(dbClient, appLogger.Logger)
	if err := jobStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize Redis client: provider availability is written by the API
	// service and events reach its streams through the relay
	redisClient, err := redis.NewClient(ctx, &redis.Config{
		URL:          cfg.Redis.URL,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	hub := notify.NewHub(notify.HubConfig{
		Retention:        cfg.Notify.Retention,
		ReplayWindow:     cfg.Notify.ReplayWindow,
		SubscriberBuffer: cfg.Notify.SubscriberBuffer,
	}, clock, appLogger.Logger)
	relay := notify.NewRedisRelay(redisClient.GetClient(), hub, notify.RelayConfig{
		Channel:     cfg.Redis.Channel,
		QueueSize:   cfg.Redis.QueueSize,
		MaxRetries:  cfg.Redis.PublishRetries,
		RetryDelay:  cfg.Redis.RetryInterval,
		BackoffMult: cfg.Redis.BackoffMultiplier,
	}, appLogger.Logger)

	relayDone := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(relayDone)
	}()

	directory := proximity.NewRedisDirectory(redisClient.GetClient(), cfg.Dispatch.DirectoryKey)

	appLogger.Info("Redis connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	arbiter := dispatch.NewArbiter(jobStore, directory, relay, clock, appLogger.Logger)
	broadcaster := dispatch.NewBroadcaster(jobStore, directory, relay, arbiter, clock, cfg.Dispatch.RadiusKm, appLogger.Logger)

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Broadcaster:   broadcaster,
		RabbitClient:  rabbitClient,
		Concurrency:   cfg.Worker.Concurrency,
		QueueSize:     cfg.Worker.QueueSize,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:    cfg.Dispatch.BroadcastTimeout,
	})

	// Offers armed here expire here; the sweeper also re-publishes stale
	// POSTED jobs back onto the queue
	sweeps := sweeper.New(jobStore, arbiter, worker.NewQueueDispatcher(rabbitClient, appLogger.Logger), hub, nil, clock, sweeper.Config{
		ExpirySpec:      cfg.Sweeper.ExpirySpec,
		RedispatchSpec:  cfg.Sweeper.RedispatchSpec,
		MaintenanceSpec: cfg.Sweeper.MaintenanceSpec,
		StaleAfter:      cfg.Sweeper.StaleAfter,
		BatchSize:       cfg.Sweeper.BatchSize,
	}, appLogger.Logger)
	if err := sweeps.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		sweeps.Stop()
		<-relayDone
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
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
