package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mwork/projectmarket-api/internal/config"
	"github.com/mwork/projectmarket-api/internal/domain/escrow"
	"github.com/mwork/projectmarket-api/internal/ledger"
	"github.com/mwork/projectmarket-api/internal/pkg/database"
	"github.com/mwork/projectmarket-api/internal/pkg/events"
	"github.com/mwork/projectmarket-api/internal/pkg/logger"
	"github.com/mwork/projectmarket-api/internal/pkg/payment"
)

// wakeChannel lets an operator force a sweep with PUBLISH ledger:sweep now.
const wakeChannel = "ledger:sweep"

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.LedgerStore != config.StorePostgres {
		log.Fatal().Str("ledger_store", cfg.LedgerStore).Msg("escrow-worker needs the postgres ledger store")
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		Service:     "escrow-worker",
		LogFile:     cfg.LogFile,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().Dur("interval", cfg.SweepInterval).Bool("once", *once).Msg("Starting escrow-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.PoolConfig{MaxOpenConns: 5})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	store := ledger.NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate ledger schema")
	}

	rdb, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	// Sweeps never check delivery files, so no artifact store is wired.
	svc := escrow.NewService(store, payment.NewManualGateway(), nil, events.NewRedisPublisher(rdb), escrow.Config{
		FeePercent:       cfg.PlatformFeePercent,
		ReviewPeriodDays: cfg.ReviewPeriodDays,
		EarningsHoldDays: cfg.EarningsHoldDays,
		UnitTimeout:      cfg.UnitTimeout,
		SweepBatchSize:   cfg.SweepBatchSize,
	})
	sweeper := escrow.NewSweeper(svc, rdb, cfg.SweepInterval)

	if *once {
		sweeper.RunOnce()
		return
	}

	wake := make(chan struct{}, 1)
	if rdb != nil {
		go subscribeWakeups(ctx, rdb, wake)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	sweeper.RunOnce()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("escrow-worker stopped")
			return
		case <-wake:
			forceSweep(svc)
		case <-ticker.C:
			sweeper.RunOnce()
		}
	}
}

// forceSweep skips the lease. Row locks keep a concurrent sweep from
// releasing the same transaction twice.
func forceSweep(svc *escrow.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := svc.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Forced escrow sweep failed")
		return
	}
	log.Info().
		Int("released", res.Released).
		Int64("overdue_installments", res.OverdueInstallments).
		Int64("matured_entries", res.MaturedEntries).
		Msg("Forced escrow sweep finished")
}

func subscribeWakeups(ctx context.Context, rdb *redis.Client, wake chan<- struct{}) {
	sub := rdb.Subscribe(ctx, wakeChannel)
	defer func() { _ = sub.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Channel():
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}
