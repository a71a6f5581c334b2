package typeconv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestConverter() *Converter {
	return NewWithClock(zap.NewNop(), func() time.Time { return fixedNow })
}

func TestParseNumeric(t *testing.T) {
	conv := newTestConverter()

	tests := []struct {
		name  string
		value interface{}
		want  float64
	}{
		{"nil yields zero", nil, 0.0},
		{"float passes through", 3.14, 3.14},
		{"int converts", 42, 42.0},
		{"int64 converts", int64(7), 7.0},
		{"plain numeric string", "2.5", 2.5},
		{"currency string strips junk", "$3.99", 3.99},
		{"negative string", "-1.25", -1.25},
		{"unparseable string falls back to one", "invalid", 1.0},
		{"empty string falls back to one", "", 1.0},
		{"unsupported type falls back to one", []int{1}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, conv.ParseNumeric(tt.value))
		})
	}
}

func TestParseTimestampEpochs(t *testing.T) {
	conv := newTestConverter()
	instant := time.Date(2023, 4, 15, 10, 30, 0, 0, time.UTC)

	// The same instant expressed in seconds, milliseconds and microseconds
	// must decode identically via the magnitude heuristic.
	assert.Equal(t, instant, conv.ParseTimestamp(instant.Unix()))
	assert.Equal(t, instant, conv.ParseTimestamp(instant.UnixMilli()))
	assert.Equal(t, instant, conv.ParseTimestamp(instant.UnixMicro()))

	// JSON decoding hands over whole floats for integer wire values.
	assert.Equal(t, instant, conv.ParseTimestamp(float64(instant.UnixMilli())))

	// A fractional float is epoch seconds.
	got := conv.ParseTimestamp(float64(instant.Unix()) + 0.5)
	assert.Equal(t, instant.Add(500*time.Millisecond), got)
}

func TestParseTimestampStrings(t *testing.T) {
	conv := newTestConverter()

	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{"rfc3339", "2023-04-15T10:30:00Z", time.Date(2023, 4, 15, 10, 30, 0, 0, time.UTC)},
		{"iso without zone", "2023-04-15T10:30:00", time.Date(2023, 4, 15, 10, 30, 0, 0, time.UTC)},
		{"date only", "2023-04-15", time.Date(2023, 4, 15, 0, 0, 0, 0, time.UTC)},
		{"space separated datetime", "2023-04-15 10:30:00", time.Date(2023, 4, 15, 10, 30, 0, 0, time.UTC)},
		{"slash date", "2023/04/15", time.Date(2023, 4, 15, 0, 0, 0, 0, time.UTC)},
		{"day first dashes", "15-04-2023", time.Date(2023, 4, 15, 0, 0, 0, 0, time.UTC)},
		{"day first slashes", "15/04/2023", time.Date(2023, 4, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := conv.ParseTimestamp(tt.value)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
}

func TestParseTimestampFallbacks(t *testing.T) {
	conv := newTestConverter()

	assert.Equal(t, fixedNow, conv.ParseTimestamp(nil))
	assert.Equal(t, fixedNow, conv.ParseTimestamp("not a timestamp"))
	assert.Equal(t, fixedNow, conv.ParseTimestamp(struct{}{}))

	var null *time.Time
	assert.Equal(t, fixedNow, conv.ParseTimestamp(null))

	passthrough := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, passthrough, conv.ParseTimestamp(passthrough))
}

func TestToCalendarDate(t *testing.T) {
	conv := newTestConverter()
	midnight := time.Date(2023, 4, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, midnight, conv.ToCalendarDate("2023-04-15T10:30:00Z"))
	assert.Equal(t, midnight, conv.ToCalendarDate(time.Date(2023, 4, 15, 23, 59, 59, 0, time.UTC)))
	assert.Equal(t, midnight, conv.ToCalendarDate("2023-04-15"))

	// Non-temporal input routes through ParseTimestamp first.
	today := time.Date(fixedNow.Year(), fixedNow.Month(), fixedNow.Day(), 0, 0, 0, 0, time.UTC)
	assert.Equal(t, today, conv.ToCalendarDate(nil))
}
