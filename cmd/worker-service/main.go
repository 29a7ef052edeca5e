package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cuongbtq/amqp-jobs/internal/commands"
	"github.com/cuongbtq/amqp-jobs/internal/config"
	"github.com/cuongbtq/amqp-jobs/internal/job"
	"github.com/cuongbtq/amqp-jobs/internal/queue"
	"github.com/cuongbtq/amqp-jobs/internal/worker"
	"github.com/cuongbtq/amqp-jobs/internal/worker/storage"
	"github.com/cuongbtq/amqp-jobs/shared/logger"
	"github.com/cuongbtq/amqp-jobs/shared/postgresql"
	"github.com/cuongbtq/amqp-jobs/shared/rabbitmq"
	"github.com/cuongbtq/amqp-jobs/shared/redis"
	"github.com/joho/godotenv"
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
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue", cfg.RabbitMQ.Queue.Name),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Component("postgresql"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	codec := job.NewCodec()
	if err := commands.Register(codec); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	registry := worker.NewRegistry()
	if err := commands.RegisterHandlers(registry, appLogger.Component("commands")); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}

	queueOpts := &queue.Options{
		Exchange: rabbitClient.Exchange(),
		Delayer:  queue.NewTTLDelayer(rabbitClient, rabbitClient.Exchange(), cfg.Delay.QueuePrefix),
		Logger:   appLogger.Component("queue"),
	}

	// The worker owns the scheduler loop for the redis delay strategy
	var scheduler *queue.RedisDelayer
	if cfg.Delay.Strategy == config.DelayStrategyRedis {
		redisClient, err := initRedis(&cfg.Redis, appLogger.Component("redis"))
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		defer redisClient.Close()

		scheduler = queue.NewRedisDelayer(redisClient.GetClient(), rabbitClient, &queue.RedisDelayerOptions{
			Key:          cfg.Delay.Key,
			Exchange:     rabbitClient.Exchange(),
			PollInterval: cfg.Delay.PollInterval,
			BatchSize:    cfg.Delay.BatchSize,
			Logger:       appLogger.Component("delayer"),
		})
		queueOpts.Delayer = scheduler
	}

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Component("worker"),
		Consumer:      rabbitClient,
		Queue:         queue.NewRabbitQueue(rabbitClient, codec, queueOpts),
		Codec:         codec,
		Registry:      registry,
		Failures:      storage.NewStorage(dbClient.GetDB(), appLogger.Component("storage")),
		QueueName:     cfg.RabbitMQ.Queue.Name,
		ConsumerTag:   cfg.RabbitMQ.Consumer.Tag,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		Concurrency:   cfg.Worker.Concurrency,
		JobTimeout:    cfg.Worker.JobTimeout,
		MaxTries:      cfg.Worker.MaxTries,
		Backoff: worker.Backoff{
			Base: cfg.Worker.BackoffBase,
			Max:  cfg.Worker.BackoffMax,
		},
		PublishBeforeAck: cfg.Worker.PublishBeforeAck,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	if scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := scheduler.Run(ctx); err != nil {
				appLogger.Error("Delayed job scheduler failed", slog.Any("error", err))
			}
		}()
	}

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully",
		slog.String("worker_id", workerInstance.ID()),
		slog.Any("commands", registry.Names()),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		if runErr != nil {
			appLogger.Error("Worker error", slog.Any("error", runErr))
		} else {
			appLogger.Warn("Delivery channel closed")
		}
	}

	// Cancel context to stop the dispatcher and the scheduler
	cancel()

	if err := workerInstance.Stop(cfg.Worker.ShutdownTimeout); err != nil {
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit",
			slog.Any("error", err),
		)
	}
	wg.Wait()

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   cfg.TimeFormat,
	})
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
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PublisherConfirms:  cfg.Publish.Confirm,
		ConfirmTimeout:     cfg.Publish.ConfirmTimeout,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRedis initializes the Redis client used for delayed jobs
func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(&redis.Config{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}, logger)
}
