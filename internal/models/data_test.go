package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractedDataAccessors(t *testing.T) {
	d := ExtractedData{
		"name":       "  Maison Aoyama ",
		"floors":     json.Number("12"),
		"area":       "25.3㎡",
		"rent":       "85,000円",
		"fee":        "¥5,000",
		"wide":       "１２３",
		"blank":      "",
		"number":     101.0,
		"facilities": []any{"auto_lock", " ", "delivery_box", 3},
	}

	assert.Equal(t, "Maison Aoyama", d.String("name"))
	assert.Equal(t, "101", d.String("number"))
	assert.Equal(t, "", d.String("missing"))

	tests := []struct {
		key  string
		want float64
		ok   bool
	}{
		{"floors", 12, true},
		{"area", 25.3, true},
		{"rent", 85000, true},
		{"fee", 5000, true},
		{"wide", 123, true},
		{"blank", 0, false},
		{"name", 0, false},
		{"missing", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := d.Float(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	assert.Equal(t, []string{"auto_lock", "delivery_box"}, d.Strings("facilities"))
}

func TestMerge(t *testing.T) {
	base := ExtractedData{
		"building":   map[string]any{"name": "A", "address": "Tokyo"},
		"facilities": []any{"auto_lock"},
	}
	overlay := ExtractedData{
		"building":   map[string]any{"name": "B"},
		"facilities": []any{"elevator"},
		"room":       map[string]any{"floor": 3},
	}

	merged := Merge(base, overlay)
	require.NotNil(t, merged.Section("building"))
	assert.Equal(t, "B", merged.Section("building").String("name"))
	assert.Equal(t, "Tokyo", merged.Section("building").String("address"))
	assert.Equal(t, []string{"elevator"}, merged.Strings("facilities"))
	assert.NotNil(t, merged.Section("room"))

	// inputs are not modified
	assert.Equal(t, "A", base.Section("building").String("name"))
	_, hasRoom := base["room"]
	assert.False(t, hasRoom)
}

func TestMergeNilBase(t *testing.T) {
	merged := Merge(nil, ExtractedData{"room": map[string]any{"floor": 1}})
	assert.NotNil(t, merged.Section("room"))
	assert.Empty(t, Merge(nil, nil))
}
