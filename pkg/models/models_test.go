package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  EntityKind
		ok    bool
	}{
		{"postgres.public.advertiser", KindAdvertiser, true},
		{"postgres.public.campaign", KindCampaign, true},
		{"postgres.public.impressions", KindImpression, true},
		{"postgres.public.clicks", KindClick, true},
		{"clicks", KindClick, true},
		{"postgres.public.orders", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		kind, ok := KindFromTopic(tt.topic)
		assert.Equal(t, tt.ok, ok, "topic %q", tt.topic)
		assert.Equal(t, tt.want, kind, "topic %q", tt.topic)
	}
}

func TestKindsOrder(t *testing.T) {
	// Dimensions come before facts, matching the foreign-key direction.
	assert.Equal(t, []EntityKind{KindAdvertiser, KindCampaign, KindImpression, KindClick}, Kinds())
}

func TestAppendOnly(t *testing.T) {
	assert.False(t, KindAdvertiser.AppendOnly())
	assert.False(t, KindCampaign.AppendOnly())
	assert.True(t, KindImpression.AppendOnly())
	assert.True(t, KindClick.AppendOnly())
}

func TestParseOperation(t *testing.T) {
	assert.Equal(t, OpCreate, ParseOperation(""))
	assert.Equal(t, OpUpdate, ParseOperation("u"))
	assert.Equal(t, Operation("x"), ParseOperation("x"))

	assert.True(t, OpDelete.Known())
	assert.False(t, Operation("x").Known())
}

func TestDecodeChangeEventCampaign(t *testing.T) {
	value := []byte(`{
		"id": 10,
		"name": "Campaign_1_1",
		"bid": "1.5",
		"budget": "100.0",
		"start_date": "2023-04-15",
		"end_date": "2023-05-15",
		"advertiser_id": 1,
		"updated_at": 1681554600000,
		"created_at": 1681554600000,
		"op": "u"
	}`)

	ev, err := DecodeChangeEvent("postgres.public.campaign", 0, 42, value)
	require.NoError(t, err)

	assert.Equal(t, KindCampaign, ev.Kind)
	assert.Equal(t, OpUpdate, ev.Op)
	assert.Equal(t, int64(42), ev.Offset)

	payload, ok := ev.Payload.(*CampaignPayload)
	require.True(t, ok)
	assert.Equal(t, int64(10), payload.ID)
	assert.Equal(t, "1.5", payload.Bid)
	assert.Equal(t, int64(1), payload.AdvertiserID)
}

func TestDecodeChangeEventDefaultsToCreate(t *testing.T) {
	ev, err := DecodeChangeEvent("postgres.public.advertiser", 0, 0,
		[]byte(`{"id": 1, "name": "Advertiser A"}`))
	require.NoError(t, err)

	assert.Equal(t, OpCreate, ev.Op)
	payload, ok := ev.Payload.(*AdvertiserPayload)
	require.True(t, ok)
	assert.Equal(t, "Advertiser A", payload.Name)
	assert.Nil(t, payload.UpdatedAt)
}

func TestDecodeChangeEventTombstone(t *testing.T) {
	ev, err := DecodeChangeEvent("postgres.public.clicks", 1, 7, nil)
	require.NoError(t, err)

	assert.Equal(t, KindClick, ev.Kind)
	assert.Nil(t, ev.Payload)
}

func TestDecodeChangeEventUnknownTopic(t *testing.T) {
	_, err := DecodeChangeEvent("postgres.public.orders", 0, 0, []byte(`{}`))
	require.Error(t, err)

	var unknownErr *UnknownKindError
	assert.ErrorAs(t, err, &unknownErr)
}

func TestDecodeChangeEventMalformedJSON(t *testing.T) {
	_, err := DecodeChangeEvent("postgres.public.advertiser", 0, 0, []byte(`{not json`))
	assert.Error(t, err)
}
