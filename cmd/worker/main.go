package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/messaging-api/config"
	"github.com/jwalitptl/messaging-api/internal/repository/postgres"
	"github.com/jwalitptl/messaging-api/internal/worker"
	"github.com/jwalitptl/messaging-api/pkg/logger"
	"github.com/jwalitptl/messaging-api/pkg/messaging/redis"
	"github.com/jwalitptl/messaging-api/pkg/metrics"
	"github.com/jwalitptl/messaging-api/pkg/ratelimit"
	"github.com/jwalitptl/messaging-api/pkg/transport"
	"github.com/jwalitptl/messaging-api/pkg/transport/email"
	"github.com/jwalitptl/messaging-api/pkg/transport/whatsapp"

	"github.com/jwalitptl/messaging-api/internal/model"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := newLogger(cfg.Logging)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), appLogger.Zerolog())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Redis broker")
	}
	defer broker.Close()

	baseRepo := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)
	idempotencyRepo := postgres.NewIdempotencyRepository(baseRepo)

	// The broker connection doubles as the limiter backend so all dispatcher
	// instances draw from the same buckets.
	limiter := ratelimit.NewRedisBucket(broker.Client(), cfg.RateLimit.ToBucketConfig())

	registry := transport.NewRegistry()
	registry.Register(model.KindWhatsAppMessage, whatsapp.NewClient(cfg.WhatsApp.ToClientConfig()))
	registry.Register(model.KindEmail, email.NewSender(cfg.Email.ToSenderConfig()))
	registry.Register(model.KindDomainEvent, transport.NewBrokerTransport(broker, "domain-events"))

	m := metrics.NewMetrics("messaging", "dispatcher")

	dispatcher := worker.NewDispatcher(
		outboxRepo,
		registry,
		limiter,
		cfg.Dispatcher.ToWorkerConfig(),
		appLogger,
		m,
	)

	cleanup := worker.NewCleanupWorker(
		outboxRepo,
		idempotencyRepo,
		cfg.Cleanup.Retention,
		cfg.Cleanup.Interval,
		appLogger,
	)

	startOpsServer(appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("shutting down")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()
	wg.Wait()
}

// startOpsServer serves liveness, readiness and Prometheus metrics on a side
// port so the dispatcher itself carries no HTTP surface.
func startOpsServer(appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			appLogger.Fatal(err, "ops server failed")
		}
	}()
}

func newLogger(cfg config.LoggingConfig) *logger.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return logger.NewLogger(&logger.Config{
		Level:      level,
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Pretty:     cfg.Pretty,
	})
}
