package etl

import (
	"fmt"
	"strings"
	"time"
)

// TimestampFields lists the raw fields consulted, in order, when deriving a
// record's timestamp for checkpointing.
var TimestampFields = []string{"updated_at", "published", "created_at", "last_updated"}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
}

// rfc822Zones maps the zone names RFC 822 allows to numeric offsets.
// time.Parse would otherwise read an unknown abbreviation as UTC.
var rfc822Zones = map[string]string{
	"UT":  "+0000",
	"UTC": "+0000",
	"GMT": "+0000",
	"Z":   "+0000",
	"EST": "-0500",
	"EDT": "-0400",
	"CST": "-0600",
	"CDT": "-0500",
	"MST": "-0700",
	"MDT": "-0600",
	"PST": "-0800",
	"PDT": "-0700",
}

// normalizeZone rewrites a trailing RFC 822 zone name as its offset.
func normalizeZone(s string) string {
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return s
	}
	if off, ok := rfc822Zones[strings.ToUpper(s[i+1:])]; ok {
		return s[:i+1] + off
	}
	return s
}

// ParseTimestamp accepts the timestamp shapes sources emit in practice:
// RFC 3339 with or without fractional seconds, naive ISO timestamps (read as
// UTC), date-only values, RFC 1123 feed dates with numeric offsets or RFC 822
// zone names, and time.Time values. The
// result is always in UTC.
func ParseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, fmt.Errorf("zero time")
		}
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return ParseTimestamp(*t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty timestamp")
		}
		s = normalizeZone(s)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
	case nil:
		return time.Time{}, fmt.Errorf("missing timestamp")
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

// RecordTimestamp returns the first non-blank candidate field on raw together
// with its parsed value. found is false when every candidate is missing or
// blank; err is set when the chosen one is unparseable.
func RecordTimestamp(raw RawRecord) (ts time.Time, found bool, err error) {
	for _, field := range TimestampFields {
		v, ok := raw[field]
		if !ok || v == nil {
			continue
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			continue
		}
		ts, err = ParseTimestamp(v)
		if err != nil {
			return time.Time{}, true, fmt.Errorf("field %s: %w", field, err)
		}
		return ts, true, nil
	}
	return time.Time{}, false, nil
}
