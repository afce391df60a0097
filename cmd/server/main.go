package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	httpapi "github.com/willexec/willexec/internal/api/http"
	"github.com/willexec/willexec/internal/application/engine"
	appLiveness "github.com/willexec/willexec/internal/application/liveness"
	appPayout "github.com/willexec/willexec/internal/application/payout"
	"github.com/willexec/willexec/internal/application/willstore"
	"github.com/willexec/willexec/internal/config"
	"github.com/willexec/willexec/internal/domain/liveness"
	domainPayout "github.com/willexec/willexec/internal/domain/payout"
	"github.com/willexec/willexec/internal/domain/will"
	"github.com/willexec/willexec/internal/infrastructure/keystore"
	"github.com/willexec/willexec/internal/infrastructure/probe"
	"github.com/willexec/willexec/internal/infrastructure/rail"
	"github.com/willexec/willexec/internal/infrastructure/sse"
	"github.com/willexec/willexec/internal/infrastructure/storage"
	"github.com/willexec/willexec/internal/observability"
)

var version = "dev"

// railClient is what the engine needs from a payment rail.
type railClient interface {
	domainPayout.Rail
	domainPayout.BalanceSource
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.RequireRail()
	}
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}

	// Two executors against one store could both decide to pay out.
	lock := flock.New(cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("lock error: %v", err)
	}
	if !locked {
		log.Fatalf("another executor holds %s", cfg.LockFile)
	}
	defer func() { _ = lock.Unlock() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.Setup(ctx, observability.Config{
		ServiceName:    "willexec",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	}, logger)
	if err != nil {
		log.Fatalf("telemetry error: %v", err)
	}
	metrics, err := observability.NewMetrics(telemetry.Meter())
	if err != nil {
		log.Fatalf("metrics error: %v", err)
	}

	stores, err := storage.Open(ctx, cfg, true, logger)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer stores.Close()

	// services
	willSvc := willstore.NewService(stores.Wills, logger).WithMinGraceWindow(cfg.MinPollInterval)
	if cfg.WillSeedFile != "" {
		if err := seedWill(ctx, willSvc, cfg.WillSeedFile, logger); err != nil {
			log.Fatalf("seed error: %v", err)
		}
	}

	var payRail railClient
	if cfg.RailDryRun {
		payRail = rail.NewDryRun(cfg.DryRunFunds, logger)
	} else {
		client := rail.NewHTTPClient(cfg.RailURL, cfg.RailToken, 30*time.Second, logger)
		if cfg.RailSigningKeys != "" {
			keys, err := keystore.Parse(cfg.RailSigningKeys, cfg.RailSigningKeyID)
			if err != nil {
				log.Fatalf("signing keys error: %v", err)
			}
			keyID, key, err := keys.Default()
			if err != nil {
				log.Fatalf("signing keys error: %v", err)
			}
			client.WithSigner(keyID, key)
			logger.Info().Str("key_id", keyID).Msg("rail request signing enabled")
		}
		payRail = client
	}

	checkins := probe.NewCheckinLedger()
	registry := liveness.NewRegistry()
	registry.Register(will.PlatformHeartbeat, probe.NewHeartbeat(cfg.HeartbeatURLTemplate, cfg.ProbeTimeout, logger))
	registry.Register(will.PlatformCheckin, checkins)

	sseHub := sse.NewHub()
	defer sseHub.Stop()
	hooks := engine.NewHooks(sseHub, metrics)

	aggregator := appLiveness.NewAggregator(registry, willSvc, logger).
		WithProbeTimeout(cfg.ProbeTimeout).
		WithObserver(hooks)
	executor := appPayout.NewExecutor(payRail, stores.Executions, logger).
		WithRateLimit(cfg.RailMaxTPS).
		WithObserver(hooks)

	loop := engine.New(willSvc, aggregator, executor, stores.Executions, payRail, logger).
		WithFloor(cfg.MinPollInterval).
		WithCooldown(cfg.FaultCooldown).
		WithPublisher(sseHub).
		WithRecorder(metrics)

	// API server
	apiServer := httpapi.NewServer(willSvc, stores.Executions, loop, checkins, payRail, sseHub, cfg.APITokenHash, logger)
	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sseHub.Stop()
	_ = httpServer.Shutdown(ctxShutdown)
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("engine stopped")
	}
	if err := telemetry.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("telemetry shutdown failed")
	}
}

// seedWill stores the seed file only when no will exists yet, so edits made
// through the API survive restarts.
func seedWill(ctx context.Context, svc *willstore.Service, path string, logger zerolog.Logger) error {
	if _, err := svc.Snapshot(ctx); err == nil {
		logger.Info().Str("file", path).Msg("will already configured; seed ignored")
		return nil
	} else if !errors.Is(err, will.ErrNotFound) {
		return err
	}
	seed, err := config.LoadWillFile(path)
	if err != nil {
		return err
	}
	if _, err := svc.Replace(ctx, seed); err != nil {
		return err
	}
	logger.Info().Str("file", path).Msg("will seeded")
	return nil
}
