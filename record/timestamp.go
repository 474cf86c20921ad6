package record

import (
	"math"
	"time"
)

// LastModified reads the update timestamp of a record.
// It returns the zero time if the record declares no updated-at field,
// or if the field is missing, unset or holds something that is not a timestamp.
func LastModified(rec Record) time.Time {
	name := rec.UpdatedAtField()
	if name == "" {
		return time.Time{}
	}
	value, ok := rec.Field(name)
	if !ok {
		return time.Time{}
	}
	t, _ := Timestamp(value)
	return t
}

// Timestamp converts a field value to a time.
// Supported are time.Time, *time.Time, RFC 3339 strings and Unix seconds.
// Fractional seconds are kept for floats; values outside the int64 range are rejected.
func Timestamp(value any) (time.Time, bool) {
	var t time.Time
	switch v := value.(type) {
	case time.Time:
		t = v
	case *time.Time:
		if v != nil {
			t = *v
		}
	case string:
		if v == "" {
			return time.Time{}, false
		}
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		t = parsed
	case int64:
		t = time.Unix(v, 0)
	case int:
		t = time.Unix(int64(v), 0)
	case int32:
		t = time.Unix(int64(v), 0)
	case uint64:
		if v > math.MaxInt64 {
			return time.Time{}, false
		}
		t = time.Unix(int64(v), 0)
	case uint32:
		t = time.Unix(int64(v), 0)
	case float64:
		if math.IsNaN(v) || v >= math.MaxInt64 || v < math.MinInt64 {
			return time.Time{}, false
		}
		sec, frac := math.Modf(v)
		t = time.Unix(int64(sec), int64(frac*1e9))
	default:
		return time.Time{}, false
	}
	if t.IsZero() {
		return time.Time{}, false
	}
	return t.UTC(), true
}
