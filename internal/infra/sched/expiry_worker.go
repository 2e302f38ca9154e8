package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mobile-iap-subscription/internal/domain/ports/repository"
	"mobile-iap-subscription/internal/infra/metrics"
	"mobile-iap-subscription/internal/usecase"
)

// ExpiryWorker periodically finishes lapsed subscriptions via the use case
// and refreshes the per-status gauge. It is the scheduled job consuming
// FindExpired; the request-driven core never sweeps.
type ExpiryWorker struct {
	interval time.Duration
	subUC    usecase.SubscriptionUseCase
	subs     repository.SubscriptionRepository
	log      *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, subUC usecase.SubscriptionUseCase, subs repository.SubscriptionRepository, logger *zerolog.Logger) *ExpiryWorker {
	l := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{interval: interval, subUC: subUC, subs: subs, log: &l}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.subUC.FinishExpired(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("expiry sweep error")
			}
			if n > 0 {
				metrics.IncSubscriptionsExpired(n)
				w.log.Info().Int("count", n).Msg("expired subscriptions finished")
			}
			if counts, err := w.subs.CountByStatus(ctx, repository.NoTX); err == nil {
				metrics.SetSubscriptionsByStatus(counts)
			}
		}
	}
}
