package audit

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// TimestampLayout is the ISO-8601 local date-time form used on the wire.
// Values are always UTC and carry exactly three fractional digits.
const TimestampLayout = "2006-01-02T15:04:05.000"

// parseLayouts are accepted when decoding. Producers may omit a zero fraction
// or include a zone offset; search bounds typed into a datetime-local input
// stop at minutes.
var parseLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	time.RFC3339Nano,
}

// Timestamp is an instant with millisecond precision serialized without a zone.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to milliseconds in UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Millisecond)}
}

// String renders the wire form.
func (t Timestamp) String() string {
	return t.UTC().Format(TimestampLayout)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTimestamp accepts local date-times to the minute or finer (read as UTC)
// and RFC 3339 instants.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range parseLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return NewTimestamp(parsed), nil
		}
	}
	return Timestamp{}, fmt.Errorf("timestamp: cannot parse %q", s)
}

// Encode serializes an event to its broker wire form.
func Encode(e *Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode audit event: %w", err)
	}
	return b, nil
}

// Decode parses and validates a broker message body.
// Malformed bodies and invalid events both wrap ErrInvalidEvent.
func Decode(body []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
