package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HanTheDev/art-gateway/internal/admin"
	"github.com/HanTheDev/art-gateway/internal/auth"
	"github.com/HanTheDev/art-gateway/internal/budget"
	"github.com/HanTheDev/art-gateway/internal/config"
	"github.com/HanTheDev/art-gateway/internal/counter"
	"github.com/HanTheDev/art-gateway/internal/db"
	"github.com/HanTheDev/art-gateway/internal/gateway"
	"github.com/HanTheDev/art-gateway/internal/generator"
	"github.com/HanTheDev/art-gateway/internal/metrics"
	"github.com/HanTheDev/art-gateway/internal/ratelimit"
	"github.com/HanTheDev/art-gateway/internal/storage"
	"github.com/HanTheDev/art-gateway/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database is optional: without it artifacts live in memory and the
	// generation log is off.
	var (
		database *db.DB
		store    storage.Store
		recorder gateway.Recorder
	)
	if cfg.DatabaseURL != "" {
		database, err = db.NewDB(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate database")
		}
		store = storage.NewPostgresStore(database)
		recorder = database
		logger.Info().Msg("artifacts stored in postgres")
	} else {
		store = storage.NewMemoryStore(nil)
		logger.Warn().Msg("DATABASE_URL not set, artifacts are kept in memory")
	}

	// Counter store backs both rate limiting and the daily budget.
	var guard *gateway.Guard
	if cfg.RateLimitEnabled() {
		counters, err := counter.NewRedisStore(cfg.CounterStore.URL, cfg.CounterStore.Token)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize counter store")
		}
		defer counters.Close()

		if err := counters.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("counter store not reachable yet, requests will fail until it is")
		}

		guard = &gateway.Guard{
			Limiter: ratelimit.NewRateLimiter(counters,
				ratelimit.Window{Limit: cfg.Limits.ClientLimit, Length: cfg.Limits.ClientWindow},
				ratelimit.Window{Limit: cfg.Limits.GlobalLimit, Length: cfg.Limits.GlobalWindow},
				time.Now),
			Ledger: budget.NewLedger(counters, cfg.DailyBudgetAmount(), cfg.CostPerImageAmount(), time.Now),
		}
		logger.Info().
			Int64("client_limit", cfg.Limits.ClientLimit).
			Dur("client_window", cfg.Limits.ClientWindow).
			Int64("global_limit", cfg.Limits.GlobalLimit).
			Dur("global_window", cfg.Limits.GlobalWindow).
			Str("daily_budget", cfg.Limits.DailyBudget).
			Msg("rate limiting and budget enabled")
	} else {
		logger.Warn().Msg("COUNTER_STORE_URL not set, rate limiting and budget tracking are DISABLED")
	}

	gen, err := generator.New(ctx, cfg.Generation)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize image generator")
	}
	if cfg.Generation.APIKey == "" {
		logger.Warn().Str("provider", gen.Name()).Msg("GENERATION_API_KEY not set")
	}

	if cfg.Auth.APISecret == "" {
		logger.Warn().Msg("API_SECRET not set, only same-origin callers are admitted")
	}
	authn := auth.NewAuthenticator(cfg.Auth.APISecret)

	metrics.Register()

	pipeline := gateway.NewPipeline(cfg, authn, gen, store, gateway.Options{
		Guard:    guard,
		Recorder: recorder,
	})

	var ledger *budget.Ledger
	if guard != nil {
		ledger = guard.Ledger
	}
	adminHandler := admin.NewAdminHandler(cfg, authn, ledger, database)
	handler := gateway.NewHandler(cfg, pipeline, store, authn)
	router := gateway.NewRouter(handler, adminHandler)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server starting on :%s with provider %s", cfg.Server.Port, gen.Name())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	pipeline.Wait()
}
