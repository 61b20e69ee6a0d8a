package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"retailpos/backend/internal/domain"
)

type UnaccruedLister interface {
	ListUnaccruedSales(ctx context.Context, createdBefore time.Time, limit int) ([]domain.AccrualJob, error)
}

// Sweeper re-enqueues sales that have a customer but no accrual record,
// which covers a process exit between the sale commit and its accrual.
type Sweeper struct {
	lister   UnaccruedLister
	queue    Queue
	interval time.Duration
	// grace keeps the sweeper away from sales still being accrued inline.
	grace     time.Duration
	batchSize int
	now       func() time.Time
}

func NewSweeper(lister UnaccruedLister, queue Queue, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		lister:    lister,
		queue:     queue,
		interval:  interval,
		grace:     interval,
		batchSize: 200,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("accrual sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("accrual sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				log.Error().Err(err).Msg("accrual sweep failed")
			}
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	jobs, err := s.lister.ListUnaccruedSales(ctx, s.now().Add(-s.grace), s.batchSize)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, job := range jobs {
		if err := s.queue.Enqueue(ctx, job); err != nil {
			if errors.Is(err, ErrQueueFull) {
				log.Warn().Int("enqueued", enqueued).Int("pending", len(jobs)-enqueued).Msg("accrual queue full, rest left for next sweep")
				break
			}
			return enqueued, err
		}
		enqueued++
	}
	if enqueued > 0 {
		log.Info().Int("jobs", enqueued).Msg("accrual sweeper re-enqueued sales")
	}
	return enqueued, nil
}
