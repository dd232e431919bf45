package analysis

import (
	"encoding/json"
	"strings"

	"github.com/raphaelgruber/floorplan-import/internal/models"
)

// ParseResponse extracts the JSON object from a model reply. Replies wrapped
// in markdown code fences or surrounded by prose are accepted.
func ParseResponse(raw string) (models.ExtractedData, error) {
	text := strings.TrimSpace(raw)
	if fenced, ok := stripFence(text); ok {
		text = fenced
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, &Error{Reason: "response contains no JSON object"}
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &data); err != nil {
		return nil, &Error{Reason: "response is not valid JSON", Err: err}
	}
	if len(data) == 0 {
		return nil, &Error{Reason: "response is empty"}
	}

	out := models.ExtractedData{}
	for _, section := range []string{models.SectionBuilding, models.SectionRoom} {
		if v, ok := data[section]; ok {
			if m, ok := v.(map[string]any); ok {
				out[section] = m
			}
		}
	}
	if v, ok := data[models.SectionFacilities]; ok {
		if list, ok := v.([]any); ok {
			out[models.SectionFacilities] = list
		}
	}
	if len(out) == 0 {
		return nil, &Error{Reason: "response has no building, room or facilities"}
	}
	return out, nil
}

func stripFence(text string) (string, bool) {
	open := strings.Index(text, "```")
	if open < 0 {
		return "", false
	}
	rest := text[open+3:]
	// drop the language tag line
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	closing := strings.Index(rest, "```")
	if closing < 0 {
		return rest, true
	}
	return rest[:closing], true
}
