package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/adtechlabs/adsync/pkg/metrics"
	"github.com/adtechlabs/adsync/pkg/models"
)

// CycleSummary reports the outcome of one complete sync cycle.
type CycleSummary struct {
	Counts   map[models.EntityKind]int
	Duration time.Duration
	Success  bool
}

// Total returns the total number of rows synced in the cycle.
func (s CycleSummary) Total() int {
	total := 0
	for _, c := range s.Counts {
		total += c
	}
	return total
}

// Orchestrator drives the engine through all four entity kinds in
// dependency order, once per call. Interval scheduling belongs to the
// caller; the orchestrator never sleeps.
type Orchestrator struct {
	engine *Engine
	logger *zap.Logger
}

// NewOrchestrator creates an orchestrator around an engine.
func NewOrchestrator(engine *Engine, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{engine: engine, logger: logger}
}

// RunCycle syncs advertisers, campaigns, impressions and clicks, in that
// order: dimensions before facts, matching the foreign-key direction. Each
// per-kind sync absorbs its own failures, so the cycle reports failure only
// when the context is cancelled mid-cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) CycleSummary {
	start := time.Now()
	o.logger.Info("starting sync cycle")

	summary := CycleSummary{
		Counts:  make(map[models.EntityKind]int, len(models.Kinds())),
		Success: true,
	}

	steps := []struct {
		kind models.EntityKind
		sync func(context.Context) int
	}{
		{models.KindAdvertiser, o.engine.SyncAdvertisers},
		{models.KindCampaign, o.engine.SyncCampaigns},
		{models.KindImpression, o.engine.SyncImpressions},
		{models.KindClick, o.engine.SyncClicks},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			o.logger.Error("sync cycle aborted", zap.Error(err),
				zap.String("entity_kind", string(step.kind)))
			summary.Success = false
			break
		}
		summary.Counts[step.kind] = step.sync(ctx)
	}

	summary.Duration = time.Since(start)
	metrics.CycleDuration.Observe(summary.Duration.Seconds())

	if summary.Success {
		o.logger.Info("sync cycle completed",
			zap.Int("total_rows", summary.Total()),
			zap.Duration("duration", summary.Duration))
	}
	return summary
}
