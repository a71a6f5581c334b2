// Package typeconv converts heterogeneous wire-format values into canonical
// numeric and temporal types.
//
// CDC payloads cross a JSON serialization boundary, so numerics arrive as
// strings, timestamps as epoch integers in seconds, milliseconds or
// microseconds, and dates in several string formats. The converter is
// deliberately lossy: every failure falls back to a documented sentinel and
// a logged warning instead of an error, so one malformed upstream value
// never stalls the pipeline. Callers needing strict validation must
// pre-validate.
package typeconv

import (
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Epoch magnitude bounds. An integer timestamp below secondsBound is read as
// seconds (covers dates up to the year ~3000), below millisBound as
// milliseconds, otherwise as microseconds.
const (
	secondsBound = 3.25e10
	millisBound  = 3.25e13
)

var (
	numericJunk  = regexp.MustCompile(`[^0-9.\-]`)
	temporalJunk = regexp.MustCompile(`[^0-9\-:T.Z+]`)

	// isoLayouts are tried first for string timestamps. RFC3339 accepts a
	// trailing literal "Z" as the UTC offset.
	isoLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}

	// commonLayouts are the fixed list of fallback date/datetime formats.
	commonLayouts = []string{
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006/01/02",
		"02-01-2006",
		"02/01/2006",
	}
)

// Converter performs lenient type coercion. The wall clock is injectable so
// tests can pin the "now" defaults.
type Converter struct {
	logger *zap.Logger
	now    func() time.Time
}

// New creates a converter using the real wall clock.
func New(logger *zap.Logger) *Converter {
	return NewWithClock(logger, time.Now)
}

// NewWithClock creates a converter with an injected clock.
func NewWithClock(logger *zap.Logger, now func() time.Time) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{logger: logger, now: now}
}

// Now returns the converter's current time.
func (c *Converter) Now() time.Time {
	return c.now()
}

// ParseNumeric coerces a wire value to a float64.
//
// nil yields 0.0. Numeric types pass through. Strings are parsed directly,
// then stripped of everything but digits, '.' and '-' and reparsed. A string
// that still fails yields the documented fallback sentinel 1.0 with a
// logged warning.
func (c *Converter) ParseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0.0
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		cleaned := numericJunk.ReplaceAllString(v, "")
		if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
			return f
		}
		c.logger.Warn("unparseable numeric value, using fallback",
			zap.String("value", v))
		return 1.0
	default:
		c.logger.Warn("unsupported numeric type, using fallback",
			zap.Any("value", value))
		return 1.0
	}
}

// ParseTimestamp coerces a wire value to a time.Time.
//
// nil yields the current time. time.Time passes through. Integers are Unix
// epoch values whose unit is chosen by magnitude (seconds, then
// milliseconds, then microseconds). Floats with a fractional part are epoch
// seconds; whole floats get the same magnitude treatment as integers since
// JSON decoding erases their integer origin. Strings are tried as ISO-8601,
// then against a fixed list of common formats, then once more as ISO-8601
// after stripping stray characters. Every failure yields the current time
// with a logged warning, never an error.
func (c *Converter) ParseTimestamp(value interface{}) time.Time {
	switch v := value.(type) {
	case nil:
		return c.now()
	case time.Time:
		return v
	case *time.Time:
		if v == nil {
			return c.now()
		}
		return *v
	case int:
		return epochToTime(int64(v))
	case int32:
		return epochToTime(int64(v))
	case int64:
		return epochToTime(v)
	case uint:
		return epochToTime(int64(v))
	case uint64:
		return epochToTime(int64(v))
	case float64:
		if v == float64(int64(v)) {
			return epochToTime(int64(v))
		}
		sec := int64(v)
		nsec := int64((v - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC()
	case float32:
		return c.ParseTimestamp(float64(v))
	case string:
		if t, ok := parseTemporalString(v); ok {
			return t
		}
		cleaned := temporalJunk.ReplaceAllString(v, "")
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, cleaned); err == nil {
				return t
			}
		}
		c.logger.Warn("unparseable timestamp, using current time",
			zap.String("value", v))
		return c.now()
	default:
		c.logger.Warn("unsupported timestamp type, using current time",
			zap.Any("value", value))
		return c.now()
	}
}

// ToCalendarDate extracts the calendar date of a temporal value, routing
// non-temporal inputs through ParseTimestamp first. The result is midnight
// UTC on that date.
func (c *Converter) ToCalendarDate(value interface{}) time.Time {
	t := c.ParseTimestamp(value)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func epochToTime(v int64) time.Time {
	f := float64(v)
	switch {
	case f < secondsBound && f > -secondsBound:
		return time.Unix(v, 0).UTC()
	case f < millisBound && f > -millisBound:
		return time.UnixMilli(v).UTC()
	default:
		return time.UnixMicro(v).UTC()
	}
}

func parseTemporalString(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range commonLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
