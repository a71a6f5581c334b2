// Package cdc consumes Debezium change events from Kafka and applies them
// incrementally to ClickHouse.
//
// Routing is positional: the topic's last dot-separated segment names the
// entity kind, and the unwrapped "op" field selects the operation. Applies
// are single-row inserts; updates to dimension kinds are re-inserts that
// ClickHouse's ReplacingMergeTree later collapses by key and updated_at, so
// re-delivery of an already-applied event is harmless. Deletes are never
// propagated to the analytical store.
package cdc

import (
	"context"

	"go.uber.org/zap"

	"github.com/adtechlabs/adsync/pkg/metrics"
	"github.com/adtechlabs/adsync/pkg/models"
	"github.com/adtechlabs/adsync/pkg/transform"
)

// Writer is the single-row write port used per event. The slices always
// carry exactly one row here; the same implementation serves the batch
// engine's bulk loads.
type Writer interface {
	InsertAdvertisers(ctx context.Context, rows []models.AdvertiserRow) error
	InsertCampaigns(ctx context.Context, rows []models.CampaignRow) error
	InsertImpressions(ctx context.Context, rows []models.ImpressionRow) error
	InsertClicks(ctx context.Context, rows []models.ClickRow) error
}

// Applier routes decoded change events to the sink. Each event's failure is
// absorbed and logged locally so one malformed or unwritable event never
// halts consumption of subsequent events. The applier is driven by a single
// consumer goroutine, so its counters need no locking.
type Applier struct {
	writer      Writer
	transformer *transform.Transformer
	logger      *zap.Logger
	counts      map[models.EntityKind]int
}

// NewApplier creates an applier writing through the given port.
func NewApplier(writer Writer, transformer *transform.Transformer, logger *zap.Logger) *Applier {
	return &Applier{
		writer:      writer,
		transformer: transformer,
		logger:      logger,
		counts:      make(map[models.EntityKind]int, len(models.Kinds())),
	}
}

// Counts returns a copy of the per-kind counters of successfully applied
// events.
func (a *Applier) Counts() map[models.EntityKind]int {
	counts := make(map[models.EntityKind]int, len(a.counts))
	for k, v := range a.counts {
		counts[k] = v
	}
	return counts
}

// Apply dispatches one change event. It never returns an error; every
// failure path logs with enough context to diagnose and moves on.
func (a *Applier) Apply(ctx context.Context, ev *models.ChangeEvent) {
	if ev.Payload == nil {
		a.logger.Warn("dropping change event with null payload",
			zap.String("topic", ev.Topic),
			zap.Int64("offset", ev.Offset))
		return
	}
	if !ev.Op.Known() {
		a.logger.Warn("dropping change event with unknown operation",
			zap.String("operation", string(ev.Op)),
			zap.String("entity_kind", string(ev.Kind)))
		return
	}

	switch ev.Op {
	case models.OpCreate, models.OpRead:
		a.insert(ctx, ev)
	case models.OpUpdate:
		if ev.Kind.AppendOnly() {
			// Updates carry no meaning for append-only kinds.
			a.logger.Debug("ignoring update for append-only kind",
				zap.String("entity_kind", string(ev.Kind)))
			return
		}
		// Re-insert the full current state; the sink's replace-on-conflict
		// merge keyed by id and ordered by updated_at supersedes the prior
		// version.
		a.insert(ctx, ev)
	case models.OpDelete:
		a.logger.Info("delete operation not propagated",
			zap.String("entity_kind", string(ev.Kind)))
	}
}

func (a *Applier) insert(ctx context.Context, ev *models.ChangeEvent) {
	var (
		err error
		id  int64
	)

	switch p := ev.Payload.(type) {
	case *models.AdvertiserPayload:
		row := a.transformer.AdvertiserFromPayload(p)
		id = row.ID
		err = a.writer.InsertAdvertisers(ctx, []models.AdvertiserRow{row})
	case *models.CampaignPayload:
		row := a.transformer.CampaignFromPayload(p)
		id = row.ID
		err = a.writer.InsertCampaigns(ctx, []models.CampaignRow{row})
	case *models.ImpressionPayload:
		row := a.transformer.ImpressionFromPayload(p)
		id = row.ID
		err = a.writer.InsertImpressions(ctx, []models.ImpressionRow{row})
	case *models.ClickPayload:
		row := a.transformer.ClickFromPayload(p)
		id = row.ID
		err = a.writer.InsertClicks(ctx, []models.ClickRow{row})
	default:
		a.logger.Warn("dropping change event with unknown payload type",
			zap.String("entity_kind", string(ev.Kind)))
		return
	}

	if err != nil {
		a.logger.Error("failed to apply change event",
			zap.String("entity_kind", string(ev.Kind)),
			zap.String("operation", string(ev.Op)),
			zap.Int64("id", id),
			zap.Error(err))
		metrics.SyncErrors.WithLabelValues(string(ev.Kind), "apply").Inc()
		return
	}

	a.counts[ev.Kind]++
	metrics.EventsApplied.WithLabelValues(string(ev.Kind), string(ev.Op)).Inc()
	a.logger.Debug("applied change event",
		zap.String("entity_kind", string(ev.Kind)),
		zap.String("operation", string(ev.Op)),
		zap.Int64("id", id))
}
