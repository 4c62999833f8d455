package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/mwork/projectmarket-api/internal/config"
	"github.com/mwork/projectmarket-api/internal/domain/earnings"
	"github.com/mwork/projectmarket-api/internal/domain/escrow"
	"github.com/mwork/projectmarket-api/internal/domain/offer"
	"github.com/mwork/projectmarket-api/internal/ledger"
	"github.com/mwork/projectmarket-api/internal/middleware"
	"github.com/mwork/projectmarket-api/internal/pkg/database"
	"github.com/mwork/projectmarket-api/internal/pkg/events"
	"github.com/mwork/projectmarket-api/internal/pkg/jwt"
	"github.com/mwork/projectmarket-api/internal/pkg/logger"
	"github.com/mwork/projectmarket-api/internal/pkg/payment"
	pkgresponse "github.com/mwork/projectmarket-api/internal/pkg/response"
	"github.com/mwork/projectmarket-api/internal/pkg/storage"
)

// services are the ledger operations the HTTP layer exposes.
type services struct {
	escrow   *escrow.Service
	earnings *earnings.Service
	offers   *offer.Service
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		Service:     "projectmarket-api",
		LogFile:     cfg.LogFile,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Str("ledger_store", cfg.LedgerStore).
		Msg("Starting ProjectMarket API")

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger store")
	}
	defer closeStore()

	redis, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	artifacts, err := openArtifacts(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create artifact store")
	}

	svc := newServices(cfg, store, payment.NewManualGateway(), artifacts, events.NewRedisPublisher(redis))
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	var sweeper *escrow.Sweeper
	if cfg.SweepEnabled {
		sweeper = escrow.NewSweeper(svc.escrow, redis, cfg.SweepInterval)
		sweeper.Start()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, svc, jwtService),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if sweeper != nil {
		sweeper.Stop()
	}

	log.Info().Msg("Server exited properly")
}

// openStore returns the configured ledger store and a func that releases it.
func openStore(ctx context.Context, cfg *config.Config) (ledger.Store, func(), error) {
	if cfg.LedgerStore == config.StoreMemory {
		log.Warn().Msg("Using in-memory ledger store, balances are lost on restart")
		return ledger.NewMemoryStore(), func() {}, nil
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	})
	if err != nil {
		return nil, nil, err
	}

	store := ledger.NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		database.ClosePostgres(db)
		return nil, nil, err
	}
	return store, func() { database.ClosePostgres(db) }, nil
}

func openArtifacts(ctx context.Context, cfg *config.Config) (storage.ArtifactStore, error) {
	if cfg.R2Enabled() {
		return storage.NewR2ArtifactStore(ctx, storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
			KeyPrefix:       cfg.R2KeyPrefix,
		})
	}
	log.Warn().Str("dir", cfg.ArtifactsDir).Msg("R2 not configured, checking delivery files on local disk")
	return storage.NewLocalArtifactStore(cfg.ArtifactsDir)
}

func newServices(cfg *config.Config, store ledger.Store, gateway payment.Gateway, artifacts storage.ArtifactStore, publisher events.Publisher) *services {
	return &services{
		escrow: escrow.NewService(store, gateway, artifacts, publisher, escrow.Config{
			FeePercent:       cfg.PlatformFeePercent,
			ReviewPeriodDays: cfg.ReviewPeriodDays,
			EarningsHoldDays: cfg.EarningsHoldDays,
			UnitTimeout:      cfg.UnitTimeout,
			SweepBatchSize:   cfg.SweepBatchSize,
		}),
		earnings: earnings.NewService(store, gateway, publisher, cfg.UnitTimeout),
		offers:   offer.NewService(store, publisher, cfg.UnitTimeout),
	}
}

func newRouter(cfg *config.Config, svc *services, jwtService *jwt.Service) http.Handler {
	escrowHandler := escrow.NewHandler(svc.escrow)
	earningsHandler := earnings.NewHandler(svc.earnings)
	offerHandler := offer.NewHandler(svc.offers)

	authMiddleware := middleware.Auth(jwtService)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.NotFound(w, "Route not found")
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":       "ok",
			"version":      "1.0.0",
			"ledger_store": cfg.LedgerStore,
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/transactions", escrowHandler.Routes(authMiddleware))
		r.Mount("/offers", offerHandler.Routes(authMiddleware))
		r.Mount("/earnings", earningsHandler.Routes(authMiddleware))

		r.Route("/admin", func(r chi.Router) {
			r.Mount("/transactions", escrowHandler.AdminRoutes(authMiddleware))
			r.Mount("/withdrawals", earningsHandler.AdminRoutes(authMiddleware))
		})
	})

	return r
}
