package scraper

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the canonical form of every stored time-series point.
const TimestampLayout = "2006-01-02 15:04:05"

var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
}

// NormalizeUnix renders Unix seconds or milliseconds in UTC. Values above
// 1e10 are taken as milliseconds.
func NormalizeUnix(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return "", fmt.Errorf("invalid unix timestamp %v", v)
	}
	if v > 1e10 {
		v /= 1000
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC().Format(TimestampLayout), nil
}

// NormalizeTimestamp accepts a Unix number (as string) or any of the known
// datetime layouts and returns the canonical form.
func NormalizeTimestamp(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty timestamp")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return NormalizeUnix(f)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(TimestampLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognized timestamp %q", s)
}

// normalizeAny handles the JSON shapes upstream APIs use for time values.
func normalizeAny(v any) (string, error) {
	switch x := v.(type) {
	case float64:
		return NormalizeUnix(x)
	case int64:
		return NormalizeUnix(float64(x))
	case int:
		return NormalizeUnix(float64(x))
	case string:
		return NormalizeTimestamp(x)
	default:
		return "", fmt.Errorf("unsupported timestamp type %T", v)
	}
}
