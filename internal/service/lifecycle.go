package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/akulinin/cardvault/internal/infra/observability"
	"github.com/akulinin/cardvault/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var lifecycleTracer = otel.Tracer("service/lifecycle")

// LifecycleService runs the card expiry sweep. The sweep is idempotent
// and safe to trigger from a cron schedule, an admin endpoint, or both.
type LifecycleService struct {
	store       port.Store
	metrics     *observability.Metrics
	logger      *zap.Logger
	concurrency int
}

// NewLifecycleService creates a new lifecycle service.
func NewLifecycleService(store port.Store, metrics *observability.Metrics, logger *zap.Logger, concurrency int) *LifecycleService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &LifecycleService{store: store, metrics: metrics, logger: logger, concurrency: concurrency}
}

// SweepResult summarizes one sweep invocation.
type SweepResult struct {
	Candidates int  `json:"candidates"`
	Expired    int  `json:"expired"`
	Failed     int  `json:"failed"`
	Skipped    bool `json:"skipped"`
}

// SweepExpiredCards transitions every card past its expiry date to
// EXPIRED. An advisory lock keeps concurrent instances from sweeping at
// the same time; the losing instance reports Skipped. Per-card failures
// are counted and logged without aborting the rest of the sweep.
func (s *LifecycleService) SweepExpiredCards(ctx context.Context) (*SweepResult, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.SweepExpiredCards")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("sweep", time.Since(start)) }()

	release, ok, err := s.store.SweepLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Info("expiry sweep already running elsewhere, skipping")
		return &SweepResult{Skipped: true}, nil
	}
	defer release()

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	ids, err := s.store.ListExpiredCardIDs(ctx, today)
	if err != nil {
		return nil, err
	}

	var expired, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			changed, err := s.store.MarkCardExpired(gctx, id)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				s.logger.Error("card expiry failed",
					zap.String("card_id", id), zap.Error(err))
				return nil
			}
			if changed {
				atomic.AddInt64(&expired, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &SweepResult{
		Candidates: len(ids),
		Expired:    int(expired),
		Failed:     int(failed),
	}
	span.SetAttributes(
		attribute.Int("sweep.candidates", result.Candidates),
		attribute.Int("sweep.expired", result.Expired),
	)
	s.metrics.AddSweepProcessed(result.Expired)
	s.metrics.AddSweepFailures(result.Failed)
	s.logger.Info("expiry sweep finished",
		zap.Int("candidates", result.Candidates),
		zap.Int("expired", result.Expired),
		zap.Int("failed", result.Failed),
		zap.Duration("took", time.Since(start)),
	)
	return result, nil
}
