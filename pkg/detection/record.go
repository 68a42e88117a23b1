package detection

import "time"

// Record is a single raw or prepared data record keyed by field name.
type Record map[string]any

// Float returns the numeric value of a field, coercing common JSON numeric
// representations. The second return is false when the field is absent or
// not numeric.
func (r Record) Float(field string) (float64, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Time returns the timestamp stored in a field. It accepts time.Time values,
// RFC 3339 strings, and Unix epoch seconds or milliseconds.
func (r Record) Time(field string) (time.Time, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	case float64:
		return epochToTime(int64(t)), true
	case int64:
		return epochToTime(t), true
	case int:
		return epochToTime(int64(t)), true
	}
	return time.Time{}, false
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// epochToTime interprets an integer as Unix seconds, or milliseconds when
// the magnitude makes seconds implausible (past the year 33658).
func epochToTime(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}
