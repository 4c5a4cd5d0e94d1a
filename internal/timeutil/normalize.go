// Package timeutil is the single normalization boundary for stored
// timestamps. Values written by different code paths over time arrive as
// native instants, seconds/nanoseconds objects (in two field spellings),
// ISO-8601 strings or numeric epochs; every consumer goes through
// Normalize instead of parsing at the point of use.
package timeutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimestamp is returned when a value matches none of the known
// timestamp representations.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Numeric epochs at or above this magnitude are unix milliseconds, below it
// unix seconds. The cutover is ~5138 AD in seconds and ~1973 in milliseconds,
// so real data cannot straddle it.
const millisCutover = 1e11

// Normalize converts any supported timestamp representation into a UTC
// time.Time. Normalizing a time.Time returns the same instant (idempotent).
func Normalize(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("%w: nil instant", ErrInvalidTimestamp)
		}
		return t.UTC(), nil
	case map[string]any:
		return fromSecondsObject(t)
	case string:
		return fromString(t)
	case json.Number:
		return fromString(t.String())
	case int:
		return fromEpoch(float64(t)), nil
	case int64:
		return fromEpoch(float64(t)), nil
	case float64:
		return fromEpoch(t), nil
	case nil:
		return time.Time{}, fmt.Errorf("%w: nil", ErrInvalidTimestamp)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidTimestamp, v)
	}
}

// fromSecondsObject handles {seconds,nanoseconds} and {_seconds,_nanoseconds}.
func fromSecondsObject(m map[string]any) (time.Time, error) {
	sec, okSec := numberField(m, "seconds", "_seconds")
	if !okSec {
		return time.Time{}, fmt.Errorf("%w: object without seconds field", ErrInvalidTimestamp)
	}
	nanos, _ := numberField(m, "nanoseconds", "_nanoseconds")
	return time.Unix(int64(sec), int64(nanos)).UTC(), nil
}

func numberField(m map[string]any, names ...string) (float64, bool) {
	for _, name := range names {
		raw, ok := m[name]
		if !ok {
			continue
		}
		switch n := raw.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case json.Number:
			f, err := n.Float64()
			if err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func fromString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrInvalidTimestamp)
	}
	// Numeric strings are epochs (the provider sends epoch seconds as a
	// decimal string).
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f), nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparsable string %q", ErrInvalidTimestamp, s)
}

func fromEpoch(f float64) time.Time {
	if math.Abs(f) >= millisCutover {
		return time.UnixMilli(int64(f)).UTC()
	}
	// Preserve fractional seconds from float epochs.
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}
