// Package transform maps extracted rows and change event payloads into the
// canonical row shapes loaded into ClickHouse.
//
// Batch rows come from PostgreSQL already typed, so the *FromRaw transforms
// only fill defaults for absent values. Streaming payloads cross a JSON
// boundary, so the *FromPayload transforms run full type coercion through
// pkg/typeconv. All transforms are pure apart from the injected clock used
// for "now" defaults.
package transform

import (
	"time"

	"github.com/adtechlabs/adsync/pkg/models"
	"github.com/adtechlabs/adsync/pkg/typeconv"
)

// Transformer builds canonical rows for all four entity kinds.
type Transformer struct {
	conv *typeconv.Converter
}

// New creates a transformer on top of the given converter.
func New(conv *typeconv.Converter) *Transformer {
	return &Transformer{conv: conv}
}

// AdvertiserFromRaw fills defaults on an extracted advertiser row.
func (t *Transformer) AdvertiserFromRaw(r models.RawAdvertiser) models.AdvertiserRow {
	return models.AdvertiserRow{
		ID:        r.ID,
		Name:      r.Name,
		UpdatedAt: t.timeOrNow(r.UpdatedAt),
		CreatedAt: t.timeOrNow(r.CreatedAt),
	}
}

// CampaignFromRaw fills defaults on an extracted campaign row. Bid and
// budget default to 0.0, the date range to today.
func (t *Transformer) CampaignFromRaw(r models.RawCampaign) models.CampaignRow {
	return models.CampaignRow{
		ID:           r.ID,
		Name:         r.Name,
		Bid:          floatOrZero(r.Bid),
		Budget:       floatOrZero(r.Budget),
		StartDate:    t.dateOrToday(r.StartDate),
		EndDate:      t.dateOrToday(r.EndDate),
		AdvertiserID: r.AdvertiserID,
		UpdatedAt:    t.timeOrNow(r.UpdatedAt),
		CreatedAt:    t.timeOrNow(r.CreatedAt),
	}
}

// ImpressionFromRaw fills defaults on an extracted impression row. The event
// date is always the event time's calendar date.
func (t *Transformer) ImpressionFromRaw(r models.RawImpression) models.ImpressionRow {
	eventTime := t.timeOrNow(r.CreatedAt)
	return models.ImpressionRow{
		ID:         r.ID,
		CampaignID: r.CampaignID,
		EventDate:  t.conv.ToCalendarDate(eventTime),
		EventTime:  eventTime,
		CreatedAt:  eventTime,
	}
}

// ClickFromRaw fills defaults on an extracted click row.
func (t *Transformer) ClickFromRaw(r models.RawClick) models.ClickRow {
	eventTime := t.timeOrNow(r.CreatedAt)
	return models.ClickRow{
		ID:         r.ID,
		CampaignID: r.CampaignID,
		EventDate:  t.conv.ToCalendarDate(eventTime),
		EventTime:  eventTime,
		CreatedAt:  eventTime,
	}
}

// AdvertiserFromPayload normalizes a decoded advertiser change event.
func (t *Transformer) AdvertiserFromPayload(p *models.AdvertiserPayload) models.AdvertiserRow {
	return models.AdvertiserRow{
		ID:        p.ID,
		Name:      p.Name,
		UpdatedAt: t.conv.ParseTimestamp(p.UpdatedAt),
		CreatedAt: t.conv.ParseTimestamp(p.CreatedAt),
	}
}

// CampaignFromPayload normalizes a decoded campaign change event. Bid and
// budget may arrive as strings, dates in any of the supported formats.
func (t *Transformer) CampaignFromPayload(p *models.CampaignPayload) models.CampaignRow {
	return models.CampaignRow{
		ID:           p.ID,
		Name:         p.Name,
		Bid:          t.conv.ParseNumeric(p.Bid),
		Budget:       t.conv.ParseNumeric(p.Budget),
		StartDate:    t.conv.ToCalendarDate(p.StartDate),
		EndDate:      t.conv.ToCalendarDate(p.EndDate),
		AdvertiserID: p.AdvertiserID,
		UpdatedAt:    t.conv.ParseTimestamp(p.UpdatedAt),
		CreatedAt:    t.conv.ParseTimestamp(p.CreatedAt),
	}
}

// ImpressionFromPayload normalizes a decoded impression change event.
func (t *Transformer) ImpressionFromPayload(p *models.ImpressionPayload) models.ImpressionRow {
	eventTime := t.conv.ParseTimestamp(p.CreatedAt)
	return models.ImpressionRow{
		ID:         p.ID,
		CampaignID: p.CampaignID,
		EventDate:  t.conv.ToCalendarDate(eventTime),
		EventTime:  eventTime,
		CreatedAt:  eventTime,
	}
}

// ClickFromPayload normalizes a decoded click change event.
func (t *Transformer) ClickFromPayload(p *models.ClickPayload) models.ClickRow {
	eventTime := t.conv.ParseTimestamp(p.CreatedAt)
	return models.ClickRow{
		ID:         p.ID,
		CampaignID: p.CampaignID,
		EventDate:  t.conv.ToCalendarDate(eventTime),
		EventTime:  eventTime,
		CreatedAt:  eventTime,
	}
}

func (t *Transformer) timeOrNow(v *time.Time) time.Time {
	if v == nil {
		return t.conv.Now()
	}
	return *v
}

func (t *Transformer) dateOrToday(v *time.Time) time.Time {
	if v == nil {
		return t.conv.ToCalendarDate(t.conv.Now())
	}
	return t.conv.ToCalendarDate(*v)
}

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0.0
	}
	return *v
}
