package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	httpapi "github.com/swapshelf/swapshelf/internal/api/http"
	"github.com/swapshelf/swapshelf/internal/application/audit"
	"github.com/swapshelf/swapshelf/internal/application/auth"
	"github.com/swapshelf/swapshelf/internal/application/catalog"
	"github.com/swapshelf/swapshelf/internal/application/chat"
	"github.com/swapshelf/swapshelf/internal/application/directory"
	"github.com/swapshelf/swapshelf/internal/application/exchange"
	"github.com/swapshelf/swapshelf/internal/application/ledger"
	"github.com/swapshelf/swapshelf/internal/application/participant"
	"github.com/swapshelf/swapshelf/internal/config"
	"github.com/swapshelf/swapshelf/internal/infrastructure/metrics"
	eventsub "github.com/swapshelf/swapshelf/internal/infrastructure/pubsub"
	"github.com/swapshelf/swapshelf/internal/infrastructure/realtime"
	"github.com/swapshelf/swapshelf/internal/infrastructure/sse"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "swapshelf: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addr := pflag.String("addr", "", "listen address (overrides SWAPSHELF_ADDR)")
	storageDriver := pflag.String("storage", "", "storage driver: postgres or memory (overrides SWAPSHELF_STORAGE)")
	logLevel := pflag.String("log-level", "", "log level (overrides SWAPSHELF_LOG_LEVEL)")
	migrateOnly := pflag.Bool("migrate-only", false, "apply database migrations and exit")
	pflag.Parse()

	cfg, err := config.Load(func(c *config.Config) {
		if *addr != "" {
			c.Addr = *addr
		}
		if *storageDriver != "" {
			c.Storage = *storageDriver
		}
		if *logLevel != "" {
			c.LogLevel = *logLevel
		}
	})
	if err != nil {
		return err
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, err := openBackend(ctx, cfg, *migrateOnly, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(); err != nil {
			logger.Error().Err(err).Msg("closing backend")
		}
	}()
	if *migrateOnly {
		logger.Info().Msg("migrations applied")
		return nil
	}

	guards, err := openLimits(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := guards.Close(); err != nil {
			logger.Error().Err(err).Msg("closing limiter backend")
		}
	}()

	registry := metrics.NewRegistry()
	recorder := metrics.New(registry)

	// infrastructure
	sseHub := sse.NewHub(logger)
	rtHub := realtime.NewHub(logger)

	// services
	auditSvc := audit.NewService(storage.audits, logger, loadHexKey(cfg.AuditSigningKey, logger))
	exchangeSvc := exchange.NewService(
		storage.uow,
		storage.negotiations,
		ledger.NewService(logger),
		sseHub,
		auditSvc,
		guards.recency,
		guards.create,
		recorder,
		logger,
	)
	catalogSvc := catalog.NewService(storage.uow, storage.items, exchangeSvc, logger)
	directorySvc := directory.NewService(storage.primary, storage.replica, guards.recency, logger)
	chatSvc := chat.NewService(storage.messages, rtHub, exchangeSvc, guards.send, recorder, logger)
	authSvc := auth.NewService(storage.participants, auth.TokenConfig{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.JWTTTL,
	}, cfg.AllowedEmailDomain, logger)
	participantSvc := participant.NewService(storage.participants, logger)

	recorder.Gauge("realtime_connections", "Open realtime connections.", func() float64 { return float64(rtHub.Connections()) })
	recorder.Gauge("realtime_channels", "Negotiation channels with joined members.", func() float64 { return float64(rtHub.Channels()) })
	recorder.Gauge("sse_clients", "Open event streams.", func() float64 { return float64(sseHub.ClientCount()) })

	// background consumers
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	consumerDone := make(chan struct{})
	if cfg.PubSubProject != "" {
		client, sub, err := eventsub.NewSubscriber(ctx, cfg.PubSubProject, cfg.PubSubSubscription)
		if err != nil {
			return err
		}
		defer client.Close()
		consumer, err := eventsub.NewItemDeletedConsumer(catalogSvc, sub, logger)
		if err != nil {
			return err
		}
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(runCtx); err != nil {
				logger.Error().Err(err).Msg("item-deleted consumer stopped")
			}
		}()
	} else {
		close(consumerDone)
	}

	// API server
	apiServer := httpapi.NewServer(httpapi.Deps{
		Auth:           authSvc,
		Participants:   participantSvc,
		Catalog:        catalogSvc,
		Exchange:       exchangeSvc,
		Directory:      directorySvc,
		Chat:           chatSvc,
		Audit:          auditSvc,
		SSEHub:         sseHub,
		Metrics:        metrics.Handler(registry),
		Recorder:       recorder,
		Health:         storage.health,
		AllowedOrigins: cfg.AllowedOrigins,
		FrameBuffer:    cfg.RealtimeBuffer,
		PingInterval:   cfg.RealtimePingInterval,
		Logger:         logger,
	})

	// Streams are long-lived, so there is no write timeout.
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("storage", cfg.Storage).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	sseHub.Stop()
	runErr = multierr.Append(runErr, httpServer.Shutdown(shutdownCtx))
	cancelRun()
	<-consumerDone
	auditSvc.Wait()
	return runErr
}

func loadHexKey(hexStr string, logger zerolog.Logger) []byte {
	if hexStr == "" {
		return nil
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		logger.Warn().Msg("audit signing key is not hex; signatures disabled")
		return nil
	}
	return b
}
