// Package vocabulary holds the room-type lookup table and the facility
// reference list used when registering analyzed floor plans.
package vocabulary

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/raphaelgruber/floorplan-import/internal/models"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// facilityNamespace seeds deterministic facility IDs so every store agrees on them.
var facilityNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("floorplan-import/facility"))

type fileFormat struct {
	RoomTypes  map[string][]string `yaml:"room_types"`
	Facilities []struct {
		Code     string `yaml:"code"`
		Name     string `yaml:"name"`
		Category string `yaml:"category"`
	} `yaml:"facilities"`
}

// Vocabulary maps analyzer output onto canonical codes.
type Vocabulary struct {
	roomTypes  map[string]string
	facilities []models.Facility
}

// Default returns the embedded vocabulary.
func Default() (*Vocabulary, error) {
	return Parse(defaultYAML)
}

// Load reads a vocabulary file. An empty path selects the embedded default.
func Load(path string) (*Vocabulary, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return Parse(data)
}

// Parse decodes a vocabulary document.
func Parse(data []byte) (*Vocabulary, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}

	v := &Vocabulary{roomTypes: make(map[string]string)}
	for canonical, aliases := range f.RoomTypes {
		v.roomTypes[normalizeKey(canonical)] = canonical
		for _, alias := range aliases {
			key := normalizeKey(alias)
			if prev, ok := v.roomTypes[key]; ok && prev != canonical {
				return nil, fmt.Errorf("parse vocabulary: room type alias %q maps to both %s and %s", alias, prev, canonical)
			}
			v.roomTypes[key] = canonical
		}
	}

	seen := make(map[string]bool)
	for _, entry := range f.Facilities {
		code := NormalizeCode(entry.Code)
		if code == "" {
			return nil, fmt.Errorf("parse vocabulary: facility %q has no code", entry.Name)
		}
		if seen[code] {
			return nil, fmt.Errorf("parse vocabulary: duplicate facility code %q", code)
		}
		seen[code] = true
		v.facilities = append(v.facilities, models.Facility{
			ID:       FacilityID(code),
			Code:     code,
			Name:     entry.Name,
			Category: entry.Category,
		})
	}
	slices.SortFunc(v.facilities, func(a, b models.Facility) int {
		return strings.Compare(a.Code, b.Code)
	})
	return v, nil
}

// RoomType maps an analyzer room type onto its canonical code. Values not in
// the table pass through trimmed.
func (v *Vocabulary) RoomType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if canonical, ok := v.roomTypes[normalizeKey(raw)]; ok {
		return canonical
	}
	return raw
}

// Facilities returns the reference list, sorted by code.
func (v *Vocabulary) Facilities() []models.Facility {
	return slices.Clone(v.facilities)
}

// FacilityID derives the stable ID for a facility code.
func FacilityID(code string) string {
	return uuid.NewSHA1(facilityNamespace, []byte(NormalizeCode(code))).String()
}

// NormalizeCode folds a facility code to lower snake case.
func NormalizeCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(norm.NFKC.String(code)))
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, code)
}

func normalizeKey(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
