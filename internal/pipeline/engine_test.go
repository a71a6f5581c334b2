package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adtechlabs/adsync/pkg/models"
	"github.com/adtechlabs/adsync/pkg/transform"
	"github.com/adtechlabs/adsync/pkg/typeconv"
)

var fixedNow = time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)

// fakeSource returns canned rows and records the watermark it was asked for.
type fakeSource struct {
	advertisers []models.RawAdvertiser
	campaigns   []models.RawCampaign
	impressions []models.RawImpression
	clicks      []models.RawClick

	err        error
	lastSince  time.Time
	queryCount int
}

func (f *fakeSource) AdvertisersSince(ctx context.Context, since time.Time) ([]models.RawAdvertiser, error) {
	f.lastSince = since
	f.queryCount++
	return f.advertisers, f.err
}

func (f *fakeSource) CampaignsSince(ctx context.Context, since time.Time) ([]models.RawCampaign, error) {
	f.lastSince = since
	f.queryCount++
	return f.campaigns, f.err
}

func (f *fakeSource) ImpressionsSince(ctx context.Context, since time.Time) ([]models.RawImpression, error) {
	f.lastSince = since
	f.queryCount++
	return f.impressions, f.err
}

func (f *fakeSource) ClicksSince(ctx context.Context, since time.Time) ([]models.RawClick, error) {
	f.lastSince = since
	f.queryCount++
	return f.clicks, f.err
}

// fakeSink records inserted rows and optionally fails every write.
type fakeSink struct {
	advertisers []models.AdvertiserRow
	campaigns   []models.CampaignRow
	impressions []models.ImpressionRow
	clicks      []models.ClickRow
	err         error
}

func (f *fakeSink) InsertAdvertisers(ctx context.Context, rows []models.AdvertiserRow) error {
	if f.err != nil {
		return f.err
	}
	f.advertisers = append(f.advertisers, rows...)
	return nil
}

func (f *fakeSink) InsertCampaigns(ctx context.Context, rows []models.CampaignRow) error {
	if f.err != nil {
		return f.err
	}
	f.campaigns = append(f.campaigns, rows...)
	return nil
}

func (f *fakeSink) InsertImpressions(ctx context.Context, rows []models.ImpressionRow) error {
	if f.err != nil {
		return f.err
	}
	f.impressions = append(f.impressions, rows...)
	return nil
}

func (f *fakeSink) InsertClicks(ctx context.Context, rows []models.ClickRow) error {
	if f.err != nil {
		return f.err
	}
	f.clicks = append(f.clicks, rows...)
	return nil
}

func newTestEngine(source Source, sink Sink) *Engine {
	conv := typeconv.NewWithClock(zap.NewNop(), func() time.Time { return fixedNow })
	return NewEngine(source, sink, transform.New(conv), zap.NewNop())
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestEngineStartsAtZeroWatermark(t *testing.T) {
	engine := newTestEngine(&fakeSource{}, &fakeSink{})
	for _, kind := range models.Kinds() {
		assert.True(t, engine.Watermark(kind).IsZero(), "kind %s", kind)
	}
}

func TestSyncAdvertisersAdvancesWatermark(t *testing.T) {
	t1 := time.Date(2023, 4, 15, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2023, 4, 16, 10, 0, 0, 0, time.UTC)
	t3 := time.Date(2023, 4, 17, 10, 0, 0, 0, time.UTC)

	source := &fakeSource{advertisers: []models.RawAdvertiser{
		{ID: 1, Name: "Advertiser A", UpdatedAt: ptrTime(t3), CreatedAt: ptrTime(t1)},
		{ID: 2, Name: "Advertiser B", UpdatedAt: ptrTime(t2), CreatedAt: ptrTime(t2)},
	}}
	sink := &fakeSink{}
	engine := newTestEngine(source, sink)

	count := engine.SyncAdvertisers(context.Background())

	assert.Equal(t, 2, count)
	require.Len(t, sink.advertisers, 2)
	assert.Equal(t, t3, engine.Watermark(models.KindAdvertiser))
	assert.True(t, source.lastSince.IsZero())
}

func TestSyncAdvertisersSkipsNullTimestamps(t *testing.T) {
	t1 := time.Date(2023, 4, 15, 10, 0, 0, 0, time.UTC)

	source := &fakeSource{advertisers: []models.RawAdvertiser{
		{ID: 1, Name: "Advertiser A", UpdatedAt: ptrTime(t1), CreatedAt: nil},
		{ID: 2, Name: "Advertiser B", UpdatedAt: nil, CreatedAt: nil},
	}}
	engine := newTestEngine(source, &fakeSink{})

	count := engine.SyncAdvertisers(context.Background())

	assert.Equal(t, 2, count)
	assert.Equal(t, t1, engine.Watermark(models.KindAdvertiser))
}

func TestSyncEmptyResultLeavesWatermark(t *testing.T) {
	engine := newTestEngine(&fakeSource{}, &fakeSink{})

	count := engine.SyncAdvertisers(context.Background())

	assert.Zero(t, count)
	assert.True(t, engine.Watermark(models.KindAdvertiser).IsZero())
}

func TestSyncExtractFailureAbsorbed(t *testing.T) {
	source := &fakeSource{err: assert.AnError}
	engine := newTestEngine(source, &fakeSink{})

	count := engine.SyncCampaigns(context.Background())

	assert.Zero(t, count)
	assert.True(t, engine.Watermark(models.KindCampaign).IsZero())
}

func TestSyncLoadFailureBlocksWatermark(t *testing.T) {
	t1 := time.Date(2023, 4, 15, 10, 0, 0, 0, time.UTC)
	source := &fakeSource{impressions: []models.RawImpression{
		{ID: 100, CampaignID: 10, CreatedAt: ptrTime(t1)},
	}}
	engine := newTestEngine(source, &fakeSink{err: assert.AnError})

	count := engine.SyncImpressions(context.Background())

	assert.Zero(t, count)
	assert.True(t, engine.Watermark(models.KindImpression).IsZero())
}

func TestSyncImpressionsUsesCreatedAtOnly(t *testing.T) {
	t1 := time.Date(2023, 4, 15, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2023, 4, 16, 10, 0, 0, 0, time.UTC)
	source := &fakeSource{impressions: []models.RawImpression{
		{ID: 100, CampaignID: 10, CreatedAt: ptrTime(t2)},
		{ID: 101, CampaignID: 10, CreatedAt: ptrTime(t1)},
	}}
	sink := &fakeSink{}
	engine := newTestEngine(source, sink)

	count := engine.SyncImpressions(context.Background())

	assert.Equal(t, 2, count)
	assert.Equal(t, t2, engine.Watermark(models.KindImpression))
	require.Len(t, sink.impressions, 2)
	assert.Equal(t, time.Date(2023, 4, 16, 0, 0, 0, 0, time.UTC), sink.impressions[0].EventDate)
}

func TestSyncSecondCallUsesAdvancedWatermark(t *testing.T) {
	t1 := time.Date(2023, 4, 15, 10, 0, 0, 0, time.UTC)
	source := &fakeSource{advertisers: []models.RawAdvertiser{
		{ID: 1, Name: "Advertiser A", UpdatedAt: ptrTime(t1), CreatedAt: ptrTime(t1)},
	}}
	engine := newTestEngine(source, &fakeSink{})

	assert.Equal(t, 1, engine.SyncAdvertisers(context.Background()))

	// The second extract must query strictly after the advanced watermark.
	source.advertisers = nil
	assert.Zero(t, engine.SyncAdvertisers(context.Background()))
	assert.Equal(t, t1, source.lastSince)
	assert.Equal(t, t1, engine.Watermark(models.KindAdvertiser))
}

func TestSyncCampaignsFillsDefaults(t *testing.T) {
	t1 := time.Date(2023, 4, 15, 10, 0, 0, 0, time.UTC)
	source := &fakeSource{campaigns: []models.RawCampaign{
		{ID: 10, Name: "Campaign_1_1", AdvertiserID: 1, UpdatedAt: ptrTime(t1), CreatedAt: ptrTime(t1)},
	}}
	sink := &fakeSink{}
	engine := newTestEngine(source, sink)

	count := engine.SyncCampaigns(context.Background())

	assert.Equal(t, 1, count)
	require.Len(t, sink.campaigns, 1)
	row := sink.campaigns[0]
	assert.Equal(t, 0.0, row.Bid)
	assert.Equal(t, 0.0, row.Budget)
	assert.Equal(t, time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC), row.StartDate)
}
