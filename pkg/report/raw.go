package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RawReport is the sandbox's analysis report as decoded JSON. No structure
// is assumed beyond "maps and slices that may be partial or missing" —
// every accessor below tolerates absent keys and wrong types.
type RawReport map[string]interface{}

// ParseRaw decodes report JSON. json.Number is used so that very large
// reports with 64-bit counters survive the round trip, and decoding is
// streaming so multi-hundred-megabyte reports don't need a second copy.
func ParseRaw(data []byte) (RawReport, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw RawReport
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return raw, nil
}

// Map returns the sub-map at key, or nil.
func (r RawReport) Map(key string) RawReport {
	return asMap(r[key])
}

// Slice returns the slice at key, or nil.
func (r RawReport) Slice(key string) []interface{} {
	s, _ := r[key].([]interface{})
	return s
}

// String returns the string at key, or "".
func (r RawReport) String(key string) string {
	return asString(r[key])
}

// Int returns the integer at key, or def.
func (r RawReport) Int(key string, def int64) int64 {
	return asInt(r[key], def)
}

// StringSlice returns the slice at key coerced to strings, skipping
// non-string members.
func (r RawReport) StringSlice(key string) []string {
	var out []string
	for _, v := range r.Slice(key) {
		if s := asString(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// MapSlice returns the slice at key with each member coerced to a map,
// skipping non-map members.
func (r RawReport) MapSlice(key string) []RawReport {
	var out []RawReport
	for _, v := range r.Slice(key) {
		if m := asMap(v); m != nil {
			out = append(out, m)
		}
	}
	return out
}

func asMap(v interface{}) RawReport {
	switch m := v.(type) {
	case map[string]interface{}:
		return RawReport(m)
	case RawReport:
		return m
	}
	return nil
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}

func asInt(v interface{}, def int64) int64 {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i
		}
	}
	return def
}
