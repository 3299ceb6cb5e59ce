package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/taskops/duesweep/internal/consumer"
	"github.com/taskops/duesweep/internal/lock"
	"github.com/taskops/duesweep/internal/monitor"
	"github.com/taskops/duesweep/internal/scheduler"
	"github.com/taskops/duesweep/internal/storage"
)

func main() {
	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Failed to read config file: %v", err)
	}

	// Initialize logger
	var logger *zap.Logger
	var err error
	if viper.GetString("app.environment") == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Connect to NATS with reconnect handling
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error",
				zap.String("subject", sub.Subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the lock store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     viper.GetString("redis.addr"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// Acquire treats an unreachable store as lock denied, so the
		// process can start and sweep once Redis comes back.
		logger.Warn("Lock store unreachable at startup", zap.Error(err))
	}
	pingCancel()

	// Open the task store
	store, err := storage.NewSQLiteStore(logger.Named("storage"), viper.GetString("database.path"))
	if err != nil {
		logger.Fatal("Failed to open task store", zap.Error(err))
	}
	defer store.Close()

	// Alerting and metrics
	alerts := monitor.NewAlertManager(logger, js)
	if err := alerts.Start(ctx); err != nil {
		logger.Fatal("Failed to start alert manager", zap.Error(err))
	}

	metrics := monitor.NewMetricsCollector(js, viper.GetDuration("metrics.interval"), logger)
	if err := metrics.Start(ctx); err != nil {
		logger.Fatal("Failed to start metrics collector", zap.Error(err))
	}
	defer metrics.Stop()

	// Event ingestion
	taskConsumer := consumer.New(js, store, store, alerts, logger)
	if err := taskConsumer.Start(ctx); err != nil {
		logger.Fatal("Failed to start task event consumer", zap.Error(err))
	}
	defer taskConsumer.Stop()

	// Due-task sweep
	locks := lock.NewManager(lock.NewRedisStore(redisClient), logger.Named("lock"), alerts)
	closer := scheduler.NewCloser(store, logger.Named("closer"))
	sweeper := scheduler.NewSweeper(store, store, locks, closer,
		logger.Named("sweeper"), alerts, metrics, scheduler.Config{
			LockAtMostFor:  viper.GetDuration("scheduler.lock_at_most_for"),
			LockAtLeastFor: viper.GetDuration("scheduler.lock_at_least_for"),
			BatchLimit:     viper.GetInt("scheduler.batch_limit"),
		})

	runner, err := scheduler.NewRunner(sweeper, viper.GetString("scheduler.cron"), logger)
	if err != nil {
		logger.Fatal("Failed to create sweep runner", zap.Error(err))
	}
	runner.Start()
	defer runner.Stop()

	logger.Info("Service started",
		zap.String("lock_holder", locks.HolderID()),
		zap.String("cron", viper.GetString("scheduler.cron")))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	logger.Info("Server shutting down gracefully")
}
