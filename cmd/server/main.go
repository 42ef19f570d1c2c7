package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/quietline/quietline/internal/admission"
	"github.com/quietline/quietline/internal/auth"
	"github.com/quietline/quietline/internal/chat"
	"github.com/quietline/quietline/internal/config"
	"github.com/quietline/quietline/internal/database"
	"github.com/quietline/quietline/internal/invite"
	"github.com/quietline/quietline/internal/logging"
	"github.com/quietline/quietline/internal/metrics"
	"github.com/quietline/quietline/internal/provider"
	"github.com/quietline/quietline/internal/server"
)

func main() {
	// Missing .env is fine; real deployments pass environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("quietline", cfg.Log.Level, cfg.Log.Format)
	m := metrics.New("quietline")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := buildRepository(ctx, cfg, logger)

	windows, ledger := buildCounterStores(cfg, logger)

	limiter := admission.NewRateLimiter(windows, cfg.RateLimit.Window, cfg.RateLimit.MaxRequests, logger)
	limiter.StartSweep(ctx, cfg.RateLimit.Window)
	gate := admission.NewFreeTierGate(ledger, cfg.FreeTier.Limit, server.GatedPaths, logger)

	prov, err := provider.New(cfg.Provider, logger, m.RecordProviderCall)
	if err != nil {
		logger.WithError(err).Fatal("Provider configuration invalid")
	}
	logger.WithFields(map[string]interface{}{
		"provider": cfg.Provider.Kind,
		"model":    prov.Model(),
	}).Info("AI provider ready")

	authSvc := auth.NewService(repo, cfg.Auth.JWTSecret, cfg.Auth.SessionTTL, cfg.Auth.BcryptCost, logger)
	issuer := invite.NewIssuer(repo, logger)
	gateway := chat.NewGateway(repo, logger)

	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@hourly", func() { issuer.SweepExpired(ctx) }); err != nil {
		logger.WithError(err).Fatal("Failed to schedule invite sweep")
	}
	sweeper.Start()
	defer sweeper.Stop()

	srv := server.New(server.Deps{
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		Repo:     repo,
		Auth:     authSvc,
		Issuer:   issuer,
		Gateway:  gateway,
		Provider: prov,
		Limiter:  limiter,
		Gate:     gate,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.WithFields(map[string]interface{}{
			"port":       cfg.Server.Port,
			"production": cfg.Server.Production,
		}).Info("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
}

// buildRepository connects Postgres when configured and wraps whatever it
// gets with a memory fallback so the API stays up through outages.
func buildRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger) database.Repository {
	memory := database.NewMemoryRepository()

	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set; running memory-only")
		return database.NewFallbackRepository(nil, memory, logger)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	defer cancel()

	pg, err := database.ConnectPostgres(connectCtx, cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Warn("Postgres unavailable at startup; running memory-only")
		return database.NewFallbackRepository(nil, memory, logger)
	}

	logger.Info("Connected to Postgres")
	return database.NewFallbackRepository(pg, memory, logger)
}

func buildCounterStores(cfg *config.Config, logger *logging.Logger) (admission.WindowStore, admission.LedgerStore) {
	if cfg.Counter.Backend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Counter.RedisAddr})
		store := admission.NewRedisStore(client, "quietline")
		logger.WithFields(map[string]interface{}{"addr": cfg.Counter.RedisAddr}).Info("Using Redis counters")
		return store, store
	}
	store := admission.NewMemoryStore()
	return store, store
}
