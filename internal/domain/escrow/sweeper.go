package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mwork/projectmarket-api/internal/ledger"
	"github.com/mwork/projectmarket-api/internal/pkg/apperror"
)

const sweepLeaseKey = "ledger:sweep:lease"

// SweepResult counts what one sweep changed.
type SweepResult struct {
	Released            int
	OverdueInstallments int64
	MaturedEntries      int64
}

// Sweep auto-releases transactions past their review window, flags overdue
// installments and matures pending earnings. A transaction that fails to
// release is logged and retried on the next sweep.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.clock()
	var res SweepResult

	ids, err := s.store.ListAutoReleasable(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		return res, apperror.Internal("list auto releasable", err)
	}
	for _, id := range ids {
		released, err := s.autoRelease(ctx, id, now)
		if err != nil {
			log.Error().Err(err).Str("transaction_id", id.String()).Msg("Failed to auto release escrow")
			continue
		}
		if released {
			res.Released++
		}
	}

	err = s.atomic(ctx, "sweep", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if res.OverdueInstallments, err = tx.MarkOverdueInstallments(ctx, now); err != nil {
			return err
		}
		res.MaturedEntries, err = tx.MatureEntries(ctx, uuid.Nil, now)
		return err
	})
	return res, err
}

// Sweeper runs Service.Sweep on an interval. With a Redis client only the
// instance holding the lease sweeps in a given interval.
type Sweeper struct {
	service  *Service
	redis    *redis.Client
	interval time.Duration
	owner    string
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewSweeper(service *Service, client *redis.Client, interval time.Duration) *Sweeper {
	if interval == 0 {
		interval = time.Minute
	}
	return &Sweeper{
		service:  service,
		redis:    client,
		interval: interval,
		owner:    uuid.NewString(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background loop.
func (w *Sweeper) Start() {
	log.Info().Dur("interval", w.interval).Msg("Starting escrow sweeper...")
	go w.loop()
}

// Stop ends the loop and waits for a running sweep to finish.
func (w *Sweeper) Stop() {
	log.Info().Msg("Stopping escrow sweeper...")
	close(w.stopCh)
	<-w.doneCh
}

func (w *Sweeper) loop() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce()

	for {
		select {
		case <-ticker.C:
			w.RunOnce()
		case <-w.stopCh:
			return
		}
	}
}

// RunOnce performs a single sweep if this instance holds the lease.
func (w *Sweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !w.acquire(ctx) {
		log.Debug().Msg("Escrow sweep lease held elsewhere")
		return
	}

	res, err := w.service.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Escrow sweep failed")
		return
	}
	if res.Released > 0 || res.OverdueInstallments > 0 || res.MaturedEntries > 0 {
		log.Info().
			Int("released", res.Released).
			Int64("overdue_installments", res.OverdueInstallments).
			Int64("matured_entries", res.MaturedEntries).
			Msg("Escrow sweep finished")
	}
}

// acquire takes the sweep lease for one interval. On Redis errors it sweeps anyway.
func (w *Sweeper) acquire(ctx context.Context) bool {
	if w.redis == nil {
		return true
	}
	ok, err := w.redis.SetNX(ctx, sweepLeaseKey, w.owner, w.interval).Result()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to take escrow sweep lease")
		return true
	}
	return ok
}
