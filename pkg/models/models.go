// Package models defines the entity kinds moved by AdSync and the canonical
// row shapes shared by the batch and streaming pipelines.
//
// Each of the four entity kinds has three representations:
//
//   - a Raw* struct scanned from the PostgreSQL extract query (typed values,
//     nullable columns as pointers),
//   - a *Payload struct decoded from a Debezium change event (wire values
//     arrive loosely typed through JSON, so heterogeneous fields stay as
//     interface{} until the transformer coerces them),
//   - a *Row struct, the canonical shape written to ClickHouse.
package models

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// EntityKind identifies one of the four synchronized entities. The values
// match the source table names, which Debezium uses as topic suffixes.
type EntityKind string

const (
	KindAdvertiser EntityKind = "advertiser"
	KindCampaign   EntityKind = "campaign"
	KindImpression EntityKind = "impressions"
	KindClick      EntityKind = "clicks"
)

// Kinds returns all entity kinds in sync order: dimensions before facts,
// following the foreign-key direction.
func Kinds() []EntityKind {
	return []EntityKind{KindAdvertiser, KindCampaign, KindImpression, KindClick}
}

// KindFromTopic derives the entity kind from a Debezium topic name, e.g.
// "postgres.public.advertiser" -> KindAdvertiser. The last dot-separated
// segment names the source table.
func KindFromTopic(topic string) (EntityKind, bool) {
	idx := strings.LastIndexByte(topic, '.')
	kind := EntityKind(topic[idx+1:])
	switch kind {
	case KindAdvertiser, KindCampaign, KindImpression, KindClick:
		return kind, true
	}
	return "", false
}

// AppendOnly reports whether the kind is append-only in the analytical
// store. Updates and deletes are not meaningful for append-only kinds.
func (k EntityKind) AppendOnly() bool {
	return k == KindImpression || k == KindClick
}

// Operation is the Debezium row-level operation tag.
type Operation string

const (
	OpCreate Operation = "c"
	OpRead   Operation = "r"
	OpUpdate Operation = "u"
	OpDelete Operation = "d"
)

// ParseOperation maps a wire operation tag to an Operation, defaulting to
// create when the tag is absent.
func ParseOperation(s string) Operation {
	if s == "" {
		return OpCreate
	}
	return Operation(s)
}

// Known reports whether the operation is one this pipeline dispatches on.
func (o Operation) Known() bool {
	switch o {
	case OpCreate, OpRead, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Canonical row shapes loaded into ClickHouse.

// AdvertiserRow is the canonical shape for analytics.dim_advertiser.
type AdvertiserRow struct {
	ID        int64
	Name      string
	UpdatedAt time.Time
	CreatedAt time.Time
}

// CampaignRow is the canonical shape for analytics.dim_campaign.
type CampaignRow struct {
	ID           int64
	Name         string
	Bid          float64
	Budget       float64
	StartDate    time.Time // calendar date, midnight
	EndDate      time.Time // calendar date, midnight
	AdvertiserID int64
	UpdatedAt    time.Time
	CreatedAt    time.Time
}

// ImpressionRow is the canonical shape for analytics.fact_impressions.
// EventDate is always derived from EventTime, never supplied independently.
type ImpressionRow struct {
	ID         int64
	CampaignID int64
	EventDate  time.Time
	EventTime  time.Time
	CreatedAt  time.Time
}

// ClickRow is the canonical shape for analytics.fact_clicks.
type ClickRow struct {
	ID         int64
	CampaignID int64
	EventDate  time.Time
	EventTime  time.Time
	CreatedAt  time.Time
}

// Raw rows scanned from the PostgreSQL extract queries. Nullable columns are
// pointers; the transformer fills documented defaults.

// RawAdvertiser mirrors the advertiser extract query column order.
type RawAdvertiser struct {
	ID        int64
	Name      string
	UpdatedAt *time.Time
	CreatedAt *time.Time
}

// RawCampaign mirrors the campaign extract query column order.
type RawCampaign struct {
	ID           int64
	Name         string
	Bid          *float64
	Budget       *float64
	StartDate    *time.Time
	EndDate      *time.Time
	AdvertiserID int64
	UpdatedAt    *time.Time
	CreatedAt    *time.Time
}

// RawImpression mirrors the impressions extract query column order.
type RawImpression struct {
	ID         int64
	CampaignID int64
	CreatedAt  *time.Time
}

// RawClick mirrors the clicks extract query column order.
type RawClick struct {
	ID         int64
	CampaignID int64
	CreatedAt  *time.Time
}

// Payload is the decoded body of one change event. Exactly one concrete
// payload type exists per entity kind; the router decodes the JSON once and
// downstream code switches on the concrete type.
type Payload interface {
	payload()
}

// AdvertiserPayload is a decoded advertiser change event. Temporal fields
// come through Debezium's JSON converter as epoch integers or strings, so
// they stay untyped until transformation.
type AdvertiserPayload struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	UpdatedAt interface{} `json:"updated_at"`
	CreatedAt interface{} `json:"created_at"`
}

// CampaignPayload is a decoded campaign change event. Bid and budget arrive
// as strings under Debezium's decimal.handling.mode=string.
type CampaignPayload struct {
	ID           int64       `json:"id"`
	Name         string      `json:"name"`
	Bid          interface{} `json:"bid"`
	Budget       interface{} `json:"budget"`
	StartDate    interface{} `json:"start_date"`
	EndDate      interface{} `json:"end_date"`
	AdvertiserID int64       `json:"advertiser_id"`
	UpdatedAt    interface{} `json:"updated_at"`
	CreatedAt    interface{} `json:"created_at"`
}

// ImpressionPayload is a decoded impression change event.
type ImpressionPayload struct {
	ID         int64       `json:"id"`
	CampaignID int64       `json:"campaign_id"`
	CreatedAt  interface{} `json:"created_at"`
}

// ClickPayload is a decoded click change event.
type ClickPayload struct {
	ID         int64       `json:"id"`
	CampaignID int64       `json:"campaign_id"`
	CreatedAt  interface{} `json:"created_at"`
}

func (*AdvertiserPayload) payload() {}
func (*CampaignPayload) payload()   {}
func (*ImpressionPayload) payload() {}
func (*ClickPayload) payload()      {}

// ChangeEvent is one row-level change consumed from the CDC log.
type ChangeEvent struct {
	Kind      EntityKind
	Op        Operation
	Topic     string
	Partition int32
	Offset    int64
	Payload   Payload
}

// opEnvelope extracts only the operation tag from an event body.
type opEnvelope struct {
	Op string `json:"op"`
}

// DecodeChangeEvent decodes one Kafka message into a ChangeEvent. The kind
// comes from the topic name and the operation from the unwrapped Debezium
// "op" field. A tombstone (empty value) yields an event with a nil payload;
// the caller decides how to drop it.
func DecodeChangeEvent(topic string, partition int32, offset int64, value []byte) (*ChangeEvent, error) {
	kind, ok := KindFromTopic(topic)
	if !ok {
		return nil, &UnknownKindError{Topic: topic}
	}

	ev := &ChangeEvent{
		Kind:      kind,
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Op:        OpCreate,
	}
	if len(value) == 0 {
		return ev, nil
	}

	var env opEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, err
	}
	ev.Op = ParseOperation(env.Op)

	var payload Payload
	switch kind {
	case KindAdvertiser:
		payload = &AdvertiserPayload{}
	case KindCampaign:
		payload = &CampaignPayload{}
	case KindImpression:
		payload = &ImpressionPayload{}
	case KindClick:
		payload = &ClickPayload{}
	}
	if err := json.Unmarshal(value, payload); err != nil {
		return nil, err
	}
	ev.Payload = payload
	return ev, nil
}

// UnknownKindError reports a topic whose last segment names no known entity.
type UnknownKindError struct {
	Topic string
}

func (e *UnknownKindError) Error() string {
	return "unknown entity kind for topic " + e.Topic
}
