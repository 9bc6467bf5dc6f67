package models

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Now is the clock used for missing timestamp fields.
var Now = time.Now

// Fields wraps a loosely typed document. Every accessor returns the zero
// default when the key is missing or holds a value of the wrong kind.
type Fields map[string]any

// String returns the field as a string.
func (f Fields) String(key string) string {
	if s, ok := f[key].(string); ok {
		return s
	}
	return ""
}

// Float accepts any numeric kind and numeric strings.
func (f Fields) Float(key string) float64 {
	switch v := f[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return n
		}
	}
	return 0
}

// Int truncates numeric fields toward zero.
func (f Fields) Int(key string) int {
	n := f.Float(key)
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return int(n)
}

// Bool returns the field as a bool.
func (f Fields) Bool(key string) bool {
	if b, ok := f[key].(bool); ok {
		return b
	}
	return false
}

// Time accepts time.Time, RFC3339 strings and unix milliseconds. Anything else
// yields the current time.
func (f Fields) Time(key string) time.Time {
	if t, ok := parseTime(f[key]); ok {
		return t
	}
	return Now()
}

// StringSlice reads a list of strings. A single non-empty string is treated as
// a one element list.
func (f Fields) StringSlice(key string) []string {
	switch v := f[key].(type) {
	case []string:
		return append([]string{}, v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return []string{}
}

// TimeSlice reads a list of timestamps, skipping entries that do not parse.
func (f Fields) TimeSlice(key string) []time.Time {
	switch v := f[key].(type) {
	case []time.Time:
		return append([]time.Time{}, v...)
	case []any:
		out := make([]time.Time, 0, len(v))
		for _, item := range v {
			if t, ok := parseTime(item); ok {
				out = append(out, t)
			}
		}
		return out
	}
	return []time.Time{}
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t != nil {
			return *t, true
		}
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	case int64:
		return time.UnixMilli(t), true
	case int:
		return time.UnixMilli(int64(t)), true
	case float64:
		return time.UnixMilli(int64(t)), true
	}
	return time.Time{}, false
}
