package etl

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ── TimeCodec ──────────────────────────────────────────────
// Converts between numeric provider timestamps and ISO-8601 UTC strings.

const (
	// MillisThreshold is 2099-12-06T18:22:00Z in seconds. Numeric timestamps at
	// or above it are read as milliseconds. Providers do not reliably say which
	// unit they use, so magnitude is the only signal.
	MillisThreshold = 4_100_264_520

	// DefaultTZSuffix is the only offset ToNumeric understands. A trailing
	// "Z" is the same offset and is always accepted.
	DefaultTZSuffix = "+00:00"

	isoParseLayout  = "2006-01-02T15:04:05"
	isoFormatLayout = "2006-01-02T15:04:05Z"
)

// ToNumeric strips tzSuffix (or the UTC designator "Z") from iso and parses
// the remaining YYYY-MM-DDTHH:MM:SS as UTC, returning whole seconds since
// epoch. Offsets other than tzSuffix are not supported.
func ToNumeric(iso, tzSuffix string) (int64, error) {
	if tzSuffix != "" {
		iso = strings.ReplaceAll(iso, tzSuffix, "")
	}
	iso = strings.TrimSuffix(iso, "Z")
	t, err := time.ParseInLocation(isoParseLayout, iso, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %q: %w", iso, err)
	}
	return t.Unix(), nil
}

// ToISO formats a numeric timestamp as YYYY-MM-DDTHH:MM:SSZ.
// Values below MillisThreshold are seconds, anything else is milliseconds.
func ToISO(v float64) string {
	var sec int64
	if v < MillisThreshold {
		sec = int64(v)
	} else {
		sec = int64(v / 1000)
	}
	return time.Unix(sec, 0).UTC().Format(isoFormatLayout)
}

// NormalizeTimes rewrites every listed field of the batch from a numeric
// timestamp to its ISO form, in place. Null values stay null.
func NormalizeTimes(b *Batch, fields []string) error {
	for i := range b.Records {
		for _, f := range fields {
			if b.Records[i].Data[f] == nil {
				continue
			}
			v, err := toTimestamp(b.Records[i].Data[f])
			if err != nil {
				return DataError("normalize "+f, err)
			}
			b.Records[i].Data[f] = ToISO(v)
		}
	}
	return nil
}

// toTimestamp accepts the numeric shapes JSON decoding and SQL drivers produce.
func toTimestamp(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("not a numeric timestamp: %q", n)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("missing timestamp")
	default:
		return 0, fmt.Errorf("unsupported timestamp type %T", v)
	}
}
