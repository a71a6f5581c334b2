package cdc

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

// fakeWriter records applied rows and optionally fails every write.
type fakeWriter struct {
	advertisers []models.AdvertiserRow
	campaigns   []models.CampaignRow
	impressions []models.ImpressionRow
	clicks      []models.ClickRow
	err         error
}

func (f *fakeWriter) InsertAdvertisers(ctx context.Context, rows []models.AdvertiserRow) error {
	if f.err != nil {
		return f.err
	}
	f.advertisers = append(f.advertisers, rows...)
	return nil
}

func (f *fakeWriter) InsertCampaigns(ctx context.Context, rows []models.CampaignRow) error {
	if f.err != nil {
		return f.err
	}
	f.campaigns = append(f.campaigns, rows...)
	return nil
}

func (f *fakeWriter) InsertImpressions(ctx context.Context, rows []models.ImpressionRow) error {
	if f.err != nil {
		return f.err
	}
	f.impressions = append(f.impressions, rows...)
	return nil
}

func (f *fakeWriter) InsertClicks(ctx context.Context, rows []models.ClickRow) error {
	if f.err != nil {
		return f.err
	}
	f.clicks = append(f.clicks, rows...)
	return nil
}

func newTestApplier(writer Writer) *Applier {
	conv := typeconv.NewWithClock(zap.NewNop(), func() time.Time { return fixedNow })
	return NewApplier(writer, transform.New(conv), zap.NewNop())
}

func advertiserEvent(op models.Operation) *models.ChangeEvent {
	return &models.ChangeEvent{
		Kind:  models.KindAdvertiser,
		Op:    op,
		Topic: "postgres.public.advertiser",
		Payload: &models.AdvertiserPayload{
			ID:        1,
			Name:      "Advertiser A",
			UpdatedAt: "2023-04-15T10:30:00Z",
			CreatedAt: "2023-04-15T10:30:00Z",
		},
	}
}

func TestApplyCreateInsertsRow(t *testing.T) {
	writer := &fakeWriter{}
	applier := newTestApplier(writer)

	applier.Apply(context.Background(), advertiserEvent(models.OpCreate))

	require.Len(t, writer.advertisers, 1)
	assert.Equal(t, int64(1), writer.advertisers[0].ID)
	assert.Equal(t, "Advertiser A", writer.advertisers[0].Name)
	assert.Equal(t, 1, applier.Counts()[models.KindAdvertiser])
}

func TestApplyDoubleDeliveryInsertsTwice(t *testing.T) {
	// Re-delivery produces a duplicate insert that the sink's versioned
	// merge collapses; the applier itself never deduplicates.
	writer := &fakeWriter{}
	applier := newTestApplier(writer)

	applier.Apply(context.Background(), advertiserEvent(models.OpCreate))
	applier.Apply(context.Background(), advertiserEvent(models.OpCreate))

	assert.Len(t, writer.advertisers, 2)
	assert.Equal(t, 2, applier.Counts()[models.KindAdvertiser])
}

func TestApplyUpdateReinsertsDimension(t *testing.T) {
	writer := &fakeWriter{}
	applier := newTestApplier(writer)

	applier.Apply(context.Background(), advertiserEvent(models.OpUpdate))

	assert.Len(t, writer.advertisers, 1)
	assert.Equal(t, 1, applier.Counts()[models.KindAdvertiser])
}

func TestApplyUpdateIgnoredForAppendOnlyKinds(t *testing.T) {
	writer := &fakeWriter{}
	applier := newTestApplier(writer)

	applier.Apply(context.Background(), &models.ChangeEvent{
		Kind:    models.KindImpression,
		Op:      models.OpUpdate,
		Topic:   "postgres.public.impressions",
		Payload: &models.ImpressionPayload{ID: 100, CampaignID: 10, CreatedAt: "2023-04-15T10:30:00Z"},
	})

	assert.Empty(t, writer.impressions)
	assert.Zero(t, applier.Counts()[models.KindImpression])
}

func TestApplyDeleteNeverWrites(t *testing.T) {
	writer := &fakeWriter{}
	applier := newTestApplier(writer)

	applier.Apply(context.Background(), advertiserEvent(models.OpDelete))

	assert.Empty(t, writer.advertisers)
	assert.Zero(t, applier.Counts()[models.KindAdvertiser])
}

func TestApplyDropsNullPayload(t *testing.T) {
	writer := &fakeWriter{}
	applier := newTestApplier(writer)

	applier.Apply(context.Background(), &models.ChangeEvent{
		Kind:  models.KindAdvertiser,
		Op:    models.OpCreate,
		Topic: "postgres.public.advertiser",
	})

	assert.Empty(t, writer.advertisers)
}

func TestApplyDropsUnknownOperation(t *testing.T) {
	writer := &fakeWriter{}
	applier := newTestApplier(writer)

	ev := advertiserEvent("x")
	applier.Apply(context.Background(), ev)

	assert.Empty(t, writer.advertisers)
}

func TestApplyWriteFailureIsolated(t *testing.T) {
	writer := &fakeWriter{err: assert.AnError}
	applier := newTestApplier(writer)

	applier.Apply(context.Background(), advertiserEvent(models.OpCreate))
	assert.Zero(t, applier.Counts()[models.KindAdvertiser])

	// A later event on a healthy writer still applies.
	writer.err = nil
	applier.Apply(context.Background(), advertiserEvent(models.OpCreate))
	assert.Equal(t, 1, applier.Counts()[models.KindAdvertiser])
}

func TestApplyCampaignCoercesWireTypes(t *testing.T) {
	writer := &fakeWriter{}
	applier := newTestApplier(writer)

	applier.Apply(context.Background(), &models.ChangeEvent{
		Kind:  models.KindCampaign,
		Op:    models.OpCreate,
		Topic: "postgres.public.campaign",
		Payload: &models.CampaignPayload{
			ID:           10,
			Name:         "Campaign_1_1",
			Bid:          "1.5",
			Budget:       "100.0",
			StartDate:    "2023-04-15",
			EndDate:      "2023-05-15",
			AdvertiserID: 1,
			UpdatedAt:    "2023-04-15T10:30:00Z",
			CreatedAt:    "2023-04-15T10:30:00Z",
		},
	})

	require.Len(t, writer.campaigns, 1)
	row := writer.campaigns[0]
	assert.Equal(t, 1.5, row.Bid)
	assert.Equal(t, 100.0, row.Budget)
	assert.Equal(t, time.Date(2023, 4, 15, 0, 0, 0, 0, time.UTC), row.StartDate)
	assert.Equal(t, int64(1), row.AdvertiserID)
}

func TestApplyClickDerivesEventDate(t *testing.T) {
	writer := &fakeWriter{}
	applier := newTestApplier(writer)
	instant := time.Date(2023, 4, 15, 10, 30, 0, 0, time.UTC)

	applier.Apply(context.Background(), &models.ChangeEvent{
		Kind:    models.KindClick,
		Op:      models.OpCreate,
		Topic:   "postgres.public.clicks",
		Payload: &models.ClickPayload{ID: 200, CampaignID: 10, CreatedAt: float64(instant.UnixMilli())},
	})

	require.Len(t, writer.clicks, 1)
	assert.Equal(t, instant, writer.clicks[0].EventTime)
	assert.Equal(t, time.Date(2023, 4, 15, 0, 0, 0, 0, time.UTC), writer.clicks[0].EventDate)
}
