package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/messaging-api/config"
	"github.com/jwalitptl/messaging-api/internal/handler"
	outboxHandler "github.com/jwalitptl/messaging-api/internal/handler/outbox"
	"github.com/jwalitptl/messaging-api/internal/middleware"
	"github.com/jwalitptl/messaging-api/internal/repository/postgres"
	"github.com/jwalitptl/messaging-api/internal/router"
	"github.com/jwalitptl/messaging-api/internal/service/inspect"
	"github.com/jwalitptl/messaging-api/internal/service/publisher"
	"github.com/jwalitptl/messaging-api/pkg/logger"
	"github.com/jwalitptl/messaging-api/pkg/metrics"
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

	baseRepo := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)
	idempotencyRepo := postgres.NewIdempotencyRepository(baseRepo)

	publisherSvc := publisher.NewService(outboxRepo, appLogger)
	inspectSvc := inspect.NewService(outboxRepo, cfg.Dispatcher.LeaseDuration)

	m := metrics.NewMetrics("messaging", "api")
	idempotencyMw := middleware.NewIdempotencyMiddleware(idempotencyRepo, appLogger, m, cfg.Idempotency.TTL)

	h := handler.NewHandler()
	outboxH := outboxHandler.NewHandler(baseRepo, publisherSvc, inspectSvc)

	r := router.NewRouter(outboxH, h, idempotencyMw, router.RouterConfig{
		RateLimit:     rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst:     cfg.RateLimit.Burst,
		MetricsPrefix: "messaging_api",
	})
	r.Setup()

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		appLogger.Info("api server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	appLogger.Info("server exited properly")
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
