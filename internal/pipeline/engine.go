// Package pipeline implements the watermark-driven batch sync engine and the
// cycle orchestrator that moves advertising data from PostgreSQL into
// ClickHouse.
//
// Each entity kind is synced independently: extract rows changed since the
// kind's watermark, transform them, bulk-load them, and only then advance
// the watermark. A failure at any step leaves the watermark untouched and
// surfaces as a zero count, so the next cycle simply retries the same
// window. Watermarks live in memory only; a restart resyncs from the
// beginning, which the sink's ReplacingMergeTree semantics make safe.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/adtechlabs/adsync/pkg/metrics"
	"github.com/adtechlabs/adsync/pkg/models"
	"github.com/adtechlabs/adsync/pkg/syncerrors"
	"github.com/adtechlabs/adsync/pkg/transform"
)

// Source is the extract port. Implementations return rows whose change
// timestamps are strictly greater than the given watermark.
type Source interface {
	AdvertisersSince(ctx context.Context, since time.Time) ([]models.RawAdvertiser, error)
	CampaignsSince(ctx context.Context, since time.Time) ([]models.RawCampaign, error)
	ImpressionsSince(ctx context.Context, since time.Time) ([]models.RawImpression, error)
	ClicksSince(ctx context.Context, since time.Time) ([]models.RawClick, error)
}

// Sink is the bulk-write port. Each call writes all rows in one insert.
type Sink interface {
	InsertAdvertisers(ctx context.Context, rows []models.AdvertiserRow) error
	InsertCampaigns(ctx context.Context, rows []models.CampaignRow) error
	InsertImpressions(ctx context.Context, rows []models.ImpressionRow) error
	InsertClicks(ctx context.Context, rows []models.ClickRow) error
}

// Engine is the batch sync engine. It exclusively owns the per-kind
// watermarks; no other component reads or writes them. It is driven by a
// single goroutine per the pipeline's concurrency model, so no locking is
// needed around the watermark map.
type Engine struct {
	source      Source
	sink        Sink
	transformer *transform.Transformer
	watermarks  map[models.EntityKind]time.Time
	logger      *zap.Logger
}

// NewEngine creates an engine with all watermarks at the minimum
// representable timestamp, forcing a full resync on first use.
func NewEngine(source Source, sink Sink, transformer *transform.Transformer, logger *zap.Logger) *Engine {
	watermarks := make(map[models.EntityKind]time.Time, len(models.Kinds()))
	for _, kind := range models.Kinds() {
		watermarks[kind] = time.Time{}
	}
	return &Engine{
		source:      source,
		sink:        sink,
		transformer: transformer,
		watermarks:  watermarks,
		logger:      logger,
	}
}

// Watermark returns the current watermark for a kind.
func (e *Engine) Watermark(kind models.EntityKind) time.Time {
	return e.watermarks[kind]
}

// SyncAdvertisers syncs advertisers changed since the advertiser watermark.
// Errors are absorbed at this boundary: the watermark stays put, zero is
// returned, and the next cycle retries.
func (e *Engine) SyncAdvertisers(ctx context.Context) int {
	count, err := e.syncAdvertisers(ctx)
	if err != nil {
		e.logger.Error("advertiser sync failed", zap.Error(err))
		metrics.SyncErrors.WithLabelValues(string(models.KindAdvertiser), errStage(err)).Inc()
		return 0
	}
	return count
}

// SyncCampaigns syncs campaigns changed since the campaign watermark.
func (e *Engine) SyncCampaigns(ctx context.Context) int {
	count, err := e.syncCampaigns(ctx)
	if err != nil {
		e.logger.Error("campaign sync failed", zap.Error(err))
		metrics.SyncErrors.WithLabelValues(string(models.KindCampaign), errStage(err)).Inc()
		return 0
	}
	return count
}

// SyncImpressions syncs impressions created since the impression watermark.
func (e *Engine) SyncImpressions(ctx context.Context) int {
	count, err := e.syncImpressions(ctx)
	if err != nil {
		e.logger.Error("impression sync failed", zap.Error(err))
		metrics.SyncErrors.WithLabelValues(string(models.KindImpression), errStage(err)).Inc()
		return 0
	}
	return count
}

// SyncClicks syncs clicks created since the click watermark.
func (e *Engine) SyncClicks(ctx context.Context) int {
	count, err := e.syncClicks(ctx)
	if err != nil {
		e.logger.Error("click sync failed", zap.Error(err))
		metrics.SyncErrors.WithLabelValues(string(models.KindClick), errStage(err)).Inc()
		return 0
	}
	return count
}

func (e *Engine) syncAdvertisers(ctx context.Context) (int, error) {
	since := e.watermarks[models.KindAdvertiser]

	raw, err := e.source.AdvertisersSince(ctx, since)
	if err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeQuery, "extracting advertisers")
	}
	if len(raw) == 0 {
		e.logger.Debug("no new advertisers to sync")
		return 0, nil
	}

	rows := make([]models.AdvertiserRow, len(raw))
	watermark := since
	for i, r := range raw {
		rows[i] = e.transformer.AdvertiserFromRaw(r)
		watermark = maxTime(watermark, r.UpdatedAt, r.CreatedAt)
	}

	if err := e.sink.InsertAdvertisers(ctx, rows); err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "loading advertisers")
	}

	e.watermarks[models.KindAdvertiser] = watermark
	metrics.RowsSynced.WithLabelValues(string(models.KindAdvertiser)).Add(float64(len(rows)))
	e.logger.Info("synced advertisers",
		zap.Int("count", len(rows)),
		zap.Time("watermark", watermark))
	return len(rows), nil
}

func (e *Engine) syncCampaigns(ctx context.Context) (int, error) {
	since := e.watermarks[models.KindCampaign]

	raw, err := e.source.CampaignsSince(ctx, since)
	if err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeQuery, "extracting campaigns")
	}
	if len(raw) == 0 {
		e.logger.Debug("no new campaigns to sync")
		return 0, nil
	}

	rows := make([]models.CampaignRow, len(raw))
	watermark := since
	for i, r := range raw {
		rows[i] = e.transformer.CampaignFromRaw(r)
		watermark = maxTime(watermark, r.UpdatedAt, r.CreatedAt)
	}

	if err := e.sink.InsertCampaigns(ctx, rows); err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "loading campaigns")
	}

	e.watermarks[models.KindCampaign] = watermark
	metrics.RowsSynced.WithLabelValues(string(models.KindCampaign)).Add(float64(len(rows)))
	e.logger.Info("synced campaigns",
		zap.Int("count", len(rows)),
		zap.Time("watermark", watermark))
	return len(rows), nil
}

func (e *Engine) syncImpressions(ctx context.Context) (int, error) {
	since := e.watermarks[models.KindImpression]

	raw, err := e.source.ImpressionsSince(ctx, since)
	if err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeQuery, "extracting impressions")
	}
	if len(raw) == 0 {
		e.logger.Debug("no new impressions to sync")
		return 0, nil
	}

	rows := make([]models.ImpressionRow, len(raw))
	watermark := since
	for i, r := range raw {
		rows[i] = e.transformer.ImpressionFromRaw(r)
		watermark = maxTime(watermark, r.CreatedAt)
	}

	if err := e.sink.InsertImpressions(ctx, rows); err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "loading impressions")
	}

	e.watermarks[models.KindImpression] = watermark
	metrics.RowsSynced.WithLabelValues(string(models.KindImpression)).Add(float64(len(rows)))
	e.logger.Info("synced impressions",
		zap.Int("count", len(rows)),
		zap.Time("watermark", watermark))
	return len(rows), nil
}

func (e *Engine) syncClicks(ctx context.Context) (int, error) {
	since := e.watermarks[models.KindClick]

	raw, err := e.source.ClicksSince(ctx, since)
	if err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeQuery, "extracting clicks")
	}
	if len(raw) == 0 {
		e.logger.Debug("no new clicks to sync")
		return 0, nil
	}

	rows := make([]models.ClickRow, len(raw))
	watermark := since
	for i, r := range raw {
		rows[i] = e.transformer.ClickFromRaw(r)
		watermark = maxTime(watermark, r.CreatedAt)
	}

	if err := e.sink.InsertClicks(ctx, rows); err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "loading clicks")
	}

	e.watermarks[models.KindClick] = watermark
	metrics.RowsSynced.WithLabelValues(string(models.KindClick)).Add(float64(len(rows)))
	e.logger.Info("synced clicks",
		zap.Int("count", len(rows)),
		zap.Time("watermark", watermark))
	return len(rows), nil
}

// maxTime folds non-nil candidate timestamps into the running maximum.
// Null change timestamps are skipped, matching the watermark rule.
func maxTime(current time.Time, candidates ...*time.Time) time.Time {
	for _, c := range candidates {
		if c != nil && c.After(current) {
			current = *c
		}
	}
	return current
}

// errStage labels an error for the stage counter by its classified type.
func errStage(err error) string {
	switch {
	case syncerrors.IsType(err, syncerrors.ErrorTypeQuery):
		return "extract"
	case syncerrors.IsType(err, syncerrors.ErrorTypeConnection):
		return "load"
	default:
		return "internal"
	}
}
