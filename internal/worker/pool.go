package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"retailpos/backend/internal/domain"
)

// Accruer applies one sale's value to a customer. Repeats for the same sale
// must be no-ops.
type Accruer interface {
	Accrue(ctx context.Context, customerID string, saleID string, saleTotal decimal.Decimal) (*domain.Customer, error)
}

// FailureRecorder remembers sales whose accrual was dead-lettered so the
// sweeper stops picking them up.
type FailureRecorder interface {
	RecordAccrualFailure(ctx context.Context, job domain.AccrualJob) error
}

type PoolConfig struct {
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
}

type Pool struct {
	queue    Queue
	accruer  Accruer
	failures FailureRecorder
	cfg      PoolConfig
}

// NewPool builds a pool. failures may be nil.
func NewPool(queue Queue, accruer Accruer, failures FailureRecorder, cfg PoolConfig) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &Pool{queue: queue, accruer: accruer, failures: failures, cfg: cfg}
}

// Run blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		id := i
		g.Go(func() error {
			p.runWorker(gctx, id)
			return nil
		})
	}
	log.Info().Int("workers", p.cfg.Workers).Msg("accrual worker pool started")
	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			log.Info().Int("worker", id).Msg("accrual worker shutting down")
			return
		}
		job, ok, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Int("worker", id).Msg("accrual dequeue failed")
			sleep(ctx, p.cfg.Backoff)
			continue
		}
		if !ok {
			continue
		}
		p.Process(ctx, job)
	}
}

// Process runs one attempt and requeues or dead-letters the job on failure.
func (p *Pool) Process(ctx context.Context, job domain.AccrualJob) {
	job.Attempts++
	_, err := p.accruer.Accrue(ctx, job.CustomerID, job.SaleID, job.Amount)
	if err == nil {
		log.Info().Str("sale_id", job.SaleID).Str("customer_id", job.CustomerID).Int("attempts", job.Attempts).Msg("loyalty accrual applied")
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	job.LastError = err.Error()
	if job.Attempts >= p.cfg.MaxAttempts {
		log.Error().Err(err).Str("sale_id", job.SaleID).Int("attempts", job.Attempts).Msg("loyalty accrual dead-lettered")
		if dlqErr := p.queue.DeadLetter(ctx, job, err.Error()); dlqErr != nil {
			log.Error().Err(dlqErr).Str("sale_id", job.SaleID).Msg("failed to dead-letter accrual job")
		}
		if p.failures != nil {
			if recErr := p.failures.RecordAccrualFailure(ctx, job); recErr != nil {
				log.Error().Err(recErr).Str("sale_id", job.SaleID).Msg("failed to record accrual failure")
			}
		}
		return
	}

	log.Warn().Err(err).Str("sale_id", job.SaleID).Int("attempts", job.Attempts).Msg("loyalty accrual failed, retrying")
	sleep(ctx, p.cfg.Backoff*time.Duration(job.Attempts))
	if err := p.queue.Enqueue(ctx, job); err != nil {
		// A full queue drops the job; the sweeper finds the sale again.
		log.Error().Err(err).Str("sale_id", job.SaleID).Msg("failed to requeue accrual job")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
