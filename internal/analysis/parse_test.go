package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/floorplan-import/internal/models"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bare object", `{"building":{"name":"サンライズ渋谷"},"room":{"rent":"85,000円"},"facilities":["auto_lock"]}`},
		{"json fence", "```json\n{\"building\":{\"name\":\"サンライズ渋谷\"},\"room\":{\"rent\":\"85,000円\"},\"facilities\":[\"auto_lock\"]}\n```"},
		{"prose around", "Here is the data:\n{\"building\":{\"name\":\"サンライズ渋谷\"},\"room\":{\"rent\":\"85,000円\"},\"facilities\":[\"auto_lock\"]}\nLet me know."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := ParseResponse(tt.raw)
			require.NoError(t, err)

			assert.Equal(t, "サンライズ渋谷", data.Section(models.SectionBuilding).String("name"))
			rent, ok := data.Section(models.SectionRoom).Int("rent")
			assert.True(t, ok)
			assert.Equal(t, 85000, rent)
			assert.Equal(t, []string{"auto_lock"}, data.Strings(models.SectionFacilities))
		})
	}
}

func TestParseResponseDropsUnknownSections(t *testing.T) {
	data, err := ParseResponse(`{"room":{"room_number":"301"},"notes":"handwritten","facilities":"auto_lock"}`)
	require.NoError(t, err)

	assert.Len(t, data, 1)
	assert.Equal(t, "301", data.Section(models.SectionRoom).String("room_number"))
}

func TestParseResponseErrors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{"no json", "I could not read this document.", "response contains no JSON object"},
		{"broken json", `{"building": {"name": }`, "response is not valid JSON"},
		{"empty object", "{}", "response is empty"},
		{"nothing useful", `{"summary":"a floor plan"}`, "response has no building, room or facilities"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResponse(tt.raw)
			var ae *Error
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.reason, ae.Reason)
		})
	}
}

func TestBuildPromptListsFacilityCodes(t *testing.T) {
	assert.Contains(t, buildPrompt([]string{"auto_lock", "elevator"}), "auto_lock, elevator")
	assert.NotContains(t, buildPrompt(nil), "facility codes")
}
