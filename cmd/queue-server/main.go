package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/lcnr/docker-queue/internal/config"
	"github.com/lcnr/docker-queue/internal/db"
	"github.com/lcnr/docker-queue/internal/events"
	"github.com/lcnr/docker-queue/internal/handler"
	"github.com/lcnr/docker-queue/internal/health"
	"github.com/lcnr/docker-queue/internal/kafka"
	"github.com/lcnr/docker-queue/internal/lifecycle"
	"github.com/lcnr/docker-queue/internal/logging"
	"github.com/lcnr/docker-queue/internal/metrics"
	"github.com/lcnr/docker-queue/internal/models"
	"github.com/lcnr/docker-queue/internal/provisioner"
	"github.com/lcnr/docker-queue/internal/rabbitmq"
	"github.com/lcnr/docker-queue/internal/redisbus"
	"github.com/lcnr/docker-queue/internal/repository"
	"github.com/lcnr/docker-queue/internal/service"
	"github.com/lcnr/docker-queue/internal/store"
	"github.com/lcnr/docker-queue/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "queue-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	log := logging.Component(logger, "main")

	lock := flock.New(cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", cfg.LockFile, err)
	}
	if !locked {
		return fmt.Errorf("another queue server holds %s", cfg.LockFile)
	}
	defer lock.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runtime, err := provisioner.NewDockerRuntime(ctx, logging.Component(logger, "docker"))
	if err != nil {
		return fmt.Errorf("failed to connect to docker: %w", err)
	}
	defer runtime.Close()

	queueStore := store.NewInMemoryStore(cfg.QueueSize)
	collector := metrics.NewPrometheusCollector("", queueStore)
	hub := websocket.NewHub(logging.Component(logger, "websocket"))
	if err := collector.AddGauge("websocket_clients", "Connected event stream subscribers", func() float64 {
		return float64(hub.Clients())
	}); err != nil {
		return fmt.Errorf("failed to register websocket gauge: %w", err)
	}
	bus := events.NewBus(logging.Component(logger, "events"))
	bus.Add(collector, hub)

	gdb, err := db.Connect(cfg.DatabaseURL, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	history := repository.NewLaunchRecordRepository(gdb)
	bus.Add(history)

	closers := attachBrokers(ctx, cfg, bus, log, logger)
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	coordinator := lifecycle.NewCoordinator(
		queueStore,
		provisioner.NewExecLauncher(logging.Component(logger, "launcher")),
		runtime,
		bus,
		logging.Component(logger, "coordinator"),
		lifecycle.Options{MailboxSize: cfg.MailboxSize, Metrics: collector},
	)
	coordinatorErr := make(chan error, 1)
	go func() {
		coordinatorErr <- coordinator.Run(ctx)
	}()

	queueService := service.NewQueueService(
		queueStore,
		runtime,
		coordinator,
		models.NewCommandValidator(cfg.RuntimeBinary),
		bus,
		logging.Component(logger, "service"),
	)

	if cfg.RabbitMQURL != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, queueService, logging.Component(logger, "rabbitmq"))
		if err != nil {
			log.WithError(err).Warn("RabbitMQ consumer disabled")
		} else {
			defer consumer.Close()
			go func() {
				if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
					log.WithError(err).Error("RabbitMQ consumer stopped")
				}
			}()
		}
	}

	h := handler.New(queueService, logging.Component(logger, "handler")).
		WithHistory(history).
		WithEvents(hub).
		WithMetrics(collector.Handler())
	router := handler.NewRouter(h, cfg.AllowOrigins, logging.Component(logger, "router"))

	server := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if addr := cfg.GRPCAddr(); addr != "" {
		healthServer := health.NewServer(logging.Component(logger, "health"))
		healthServer.TrackCoordinator(coordinator.Done())
		go func() {
			if err := healthServer.ListenAndServe(ctx, addr); err != nil {
				log.WithError(err).Error("gRPC health server stopped")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server failed: %w", err)
	case err := <-coordinatorErr:
		runErr = fmt.Errorf("coordinator stopped: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown")
	}

	coordinator.Close()
	cancel()
	coordinator.WaitWatchers()
	bus.Close()
	return runErr
}

// attachBrokers adds the optional redis, rabbitmq and kafka sinks and
// returns their close funcs. A broker that cannot be reached is skipped.
func attachBrokers(ctx context.Context, cfg *config.Config, bus *events.Bus, log *logrus.Entry, logger *logrus.Logger) []func() {
	var closers []func()

	if cfg.RedisAddr != "" {
		rdb, err := redisbus.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			log.WithError(err).Warn("redis sink disabled")
		} else {
			bus.Add(redisbus.NewPublisher(rdb, cfg.RedisChannel))
			closers = append(closers, func() { rdb.Close() })
		}
	}

	if cfg.RabbitMQURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitMQURL)
		if err != nil {
			log.WithError(err).Warn("RabbitMQ sink disabled")
		} else {
			bus.Add(pub)
			closers = append(closers, func() { pub.Close() })
		}
	}

	if cfg.KafkaBrokerURL != "" {
		if err := kafka.EnsureTopicExists(cfg.KafkaBrokerURL, cfg.KafkaTopicEvents); err != nil {
			log.WithError(err).Warn("could not ensure kafka topic")
		}
		producer := kafka.NewProducer(cfg.KafkaBrokerURL, cfg.KafkaTopicEvents, logging.Component(logger, "kafka"))
		bus.Add(producer)
		closers = append(closers, func() { producer.Close() })
	}

	return closers
}
