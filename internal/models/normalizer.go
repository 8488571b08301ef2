package models

import (
	"strings"
	"time"
)

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.UnixDate,
}

// Normalize applies field normalization to a MetricReading
// - trims NodeID
// - lower-cases and trims metric names
// - converts Timestamp to UTC
// - lower-cases and trims the anomaly label
func (r *MetricReading) Normalize() {
	r.NodeID = strings.TrimSpace(r.NodeID)
	r.Timestamp = r.Timestamp.UTC()
	r.Anomaly = strings.ToLower(strings.TrimSpace(r.Anomaly))

	if r.Metrics != nil {
		normalized := make(map[string]float64, len(r.Metrics))
		for k, v := range r.Metrics {
			key := strings.ToLower(strings.TrimSpace(k))
			if key == "" {
				continue
			}
			normalized[key] = v
		}
		r.Metrics = normalized
	}
}

// ParseTimestamp attempts to parse a timestamp string into time.Time
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}
