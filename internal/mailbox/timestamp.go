package mailbox

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Epoch is the instant missing or unreadable timestamps normalize to.
var Epoch = time.Unix(0, 0).UTC()

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// NormalizeTimestamp converts the timestamp representations clients send
// into a single comparable instant. Numbers are epoch milliseconds.
// Server timestamp objects carry seconds and nanoseconds, with or without
// a leading underscore.
func NormalizeTimestamp(value any) time.Time {
	switch v := value.(type) {
	case nil:
		return Epoch
	case time.Time:
		if v.IsZero() {
			return Epoch
		}
		return v.UTC()
	case *time.Time:
		if v == nil {
			return Epoch
		}
		return NormalizeTimestamp(*v)
	case int:
		return fromMillis(float64(v))
	case int64:
		return fromMillis(float64(v))
	case float64:
		return fromMillis(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Epoch
		}
		return fromMillis(f)
	case string:
		return parseTimestampString(v)
	case map[string]any:
		return fromServerTimestamp(v)
	default:
		return Epoch
	}
}

func parseTimestampString(raw string) time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Epoch
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC()
		}
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return fromMillis(f)
	}
	return Epoch
}

func fromServerTimestamp(obj map[string]any) time.Time {
	seconds, ok := numberField(obj, "seconds", "_seconds")
	if !ok {
		return Epoch
	}
	nanos, _ := numberField(obj, "nanoseconds", "_nanoseconds")
	return time.Unix(int64(seconds), int64(nanos)).UTC()
}

func numberField(obj map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case float64:
			return v, true
		case int64:
			return float64(v), true
		case int:
			return float64(v), true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func fromMillis(ms float64) time.Time {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms <= 0 {
		return Epoch
	}
	return time.UnixMilli(int64(ms)).UTC()
}

// Timestamp is a time.Time that decodes from any representation
// NormalizeTimestamp understands and encodes as RFC 3339.
type Timestamp struct {
	time.Time
}

func At(t time.Time) Timestamp {
	return Timestamp{Time: NormalizeTimestamp(t)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw any
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		t.Time = Epoch
		return nil
	}
	t.Time = NormalizeTimestamp(raw)
	return nil
}
