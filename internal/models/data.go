package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ExtractedData is the key/value tree produced by document analysis.
// Top-level sections are "building", "room" and "facilities".
type ExtractedData map[string]any

// Section names in extracted data.
const (
	SectionBuilding   = "building"
	SectionRoom       = "room"
	SectionFacilities = "facilities"
)

// Clone returns a deep copy.
func (d ExtractedData) Clone() ExtractedData {
	if d == nil {
		return nil
	}
	return ExtractedData(cloneMap(d))
}

// Section returns a nested object, or nil when absent or not an object.
func (d ExtractedData) Section(name string) ExtractedData {
	if d == nil {
		return nil
	}
	switch v := d[name].(type) {
	case map[string]any:
		return ExtractedData(v)
	case ExtractedData:
		return v
	}
	return nil
}

// String returns a trimmed string value. Numbers are formatted without exponent.
func (d ExtractedData) String(key string) string {
	if d == nil {
		return ""
	}
	switch v := d[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int, int64, int32, uint64, uint32, uint:
		return fmt.Sprintf("%d", v)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// Float returns a numeric value. Strings such as "25.3㎡" or "85,000円" are
// reduced to their leading number.
func (d ExtractedData) Float(key string) (float64, bool) {
	if d == nil {
		return 0, false
	}
	return toFloat(d[key])
}

// Int returns a numeric value truncated toward zero.
func (d ExtractedData) Int(key string) (int, bool) {
	f, ok := d.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Strings returns a list of non-empty strings for key. A single string is
// treated as a one-element list.
func (d ExtractedData) Strings(key string) []string {
	if d == nil {
		return nil
	}
	var out []string
	switch v := d[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

// Merge returns base with overlay applied on top. Nested objects merge
// recursively; any other overlay value replaces the base value. Neither input
// is modified.
func Merge(base, overlay ExtractedData) ExtractedData {
	out := base.Clone()
	if out == nil {
		out = ExtractedData{}
	}
	for k, v := range overlay {
		ov, isMap := asMap(v)
		bv, baseIsMap := asMap(out[k])
		if isMap && baseIsMap {
			out[k] = map[string]any(Merge(ExtractedData(bv), ExtractedData(ov)))
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case ExtractedData:
		return m, true
	}
	return nil, false
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case ExtractedData:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		return parseLeadingNumber(n)
	}
	return 0, false
}

// parseLeadingNumber reads "85,000円" as 85000, "¥85,000" as 85000 and
// "25.3㎡" as 25.3. Only the first run of digits counts.
func parseLeadingNumber(s string) (float64, bool) {
	var b strings.Builder
	seenDigit := false
scan:
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsDigit(r):
			if r > unicode.MaxASCII {
				r = '0' + (r - '０')
				if r < '0' || r > '9' {
					return 0, false
				}
			}
			b.WriteRune(r)
			seenDigit = true
		case r == ',' || r == '，':
			continue
		case r == '.' && seenDigit:
			b.WriteRune(r)
		case r == '-' && !seenDigit && b.Len() == 0:
			b.WriteRune(r)
		default:
			if seenDigit {
				break scan
			}
			b.Reset()
		}
	}
	if !seenDigit {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(b.String(), "."), 64)
	return f, err == nil
}
