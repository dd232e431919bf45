// Package matcher ranks existing buildings against the building data extracted
// from a floor plan.
package matcher

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/raphaelgruber/floorplan-import/internal/models"
	"golang.org/x/text/unicode/norm"
)

// Signal weights and proximity bonuses.
const (
	NameWeight    = 0.4
	AddressWeight = 0.3

	NearRadiusMeters  = 150.0
	NearBonus         = 0.3
	CloseRadiusMeters = 1000.0
	CloseBonus        = 0.15

	DefaultMinScore = 0.3
	DefaultLimit    = 5
	DefaultPoolSize = 5000
)

const earthRadiusMeters = 6371000.0

// BuildingSource lists the buildings of one tenant.
type BuildingSource interface {
	ListBuildings(ctx context.Context, tenantID string, limit int) ([]models.Building, error)
}

// TimingRecorder receives match durations.
type TimingRecorder interface {
	RecordTiming(op string, d time.Duration)
}

// Options tune candidate selection.
type Options struct {
	MinScore float64
	Limit    int
	PoolSize int
}

// Query is the building data to match. Every field is optional.
type Query struct {
	Name      string
	Address   string
	Latitude  *float64
	Longitude *float64
}

// Matcher scores tenant buildings against a query. It never writes.
type Matcher struct {
	src     BuildingSource
	opts    Options
	timings TimingRecorder
}

// New creates a Matcher. Zero options take the package defaults.
func New(src BuildingSource, opts Options) *Matcher {
	if opts.MinScore <= 0 {
		opts.MinScore = DefaultMinScore
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	return &Matcher{src: src, opts: opts}
}

// WithTimings records each FindSimilar duration under "match".
func (m *Matcher) WithTimings(r TimingRecorder) *Matcher {
	m.timings = r
	return m
}

// FindSimilar returns at most Limit candidates scoring at least MinScore,
// best first. A query with neither name nor address returns an empty list
// without touching the store.
func (m *Matcher) FindSimilar(ctx context.Context, tenantID string, q Query) ([]models.MatchCandidate, error) {
	if strings.TrimSpace(q.Name) == "" && strings.TrimSpace(q.Address) == "" {
		return []models.MatchCandidate{}, nil
	}

	start := time.Now()
	defer func() {
		if m.timings != nil {
			m.timings.RecordTiming("match", time.Since(start))
		}
	}()

	buildings, err := m.src.ListBuildings(ctx, tenantID, m.opts.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("list buildings: %w", err)
	}

	candidates := make([]models.MatchCandidate, 0, m.opts.Limit)
	for _, b := range buildings {
		if b.TenantID != "" && b.TenantID != tenantID {
			continue
		}
		score, reasons := Score(q, b)
		if score < m.opts.MinScore {
			continue
		}
		candidates = append(candidates, models.MatchCandidate{
			BuildingID:   b.ID,
			BuildingName: b.Name,
			Address:      b.Address,
			Score:        score,
			Reasons:      reasons,
		})
	}

	slices.SortFunc(candidates, func(a, b models.MatchCandidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.BuildingID, b.BuildingID)
	})
	if len(candidates) > m.opts.Limit {
		candidates = candidates[:m.opts.Limit]
	}

	slog.Debug("building match", "tenant", tenantID, "pool", len(buildings), "candidates", len(candidates))
	return candidates, nil
}

// Score combines name, address and proximity into a 0..1 score, rounded to
// three decimals, with one reason per contributing signal.
func Score(q Query, b models.Building) (float64, []string) {
	var score float64
	reasons := []string{}

	if name := Normalize(q.Name); name != "" {
		if sim := Similarity(name, Normalize(b.Name)); sim > 0 {
			score += NameWeight * sim
			reasons = append(reasons, fmt.Sprintf("name similarity %.2f", sim))
		}
	}
	if addr := Normalize(q.Address); addr != "" {
		if sim := Similarity(addr, Normalize(b.Address)); sim > 0 {
			score += AddressWeight * sim
			reasons = append(reasons, fmt.Sprintf("address similarity %.2f", sim))
		}
	}
	if lat1, lon1, ok := coordinates(q.Latitude, q.Longitude); ok {
		if lat2, lon2, ok := coordinates(b.Latitude, b.Longitude); ok {
			d := HaversineMeters(lat1, lon1, lat2, lon2)
			switch {
			case d <= NearRadiusMeters:
				score += NearBonus
				reasons = append(reasons, fmt.Sprintf("within %dm", int(math.Round(d))))
			case d <= CloseRadiusMeters:
				score += CloseBonus
				reasons = append(reasons, fmt.Sprintf("within %dm", int(math.Round(d))))
			}
		}
	}

	score = math.Min(score, 1)
	return math.Round(score*1000) / 1000, reasons
}

// Normalize folds width and case and drops whitespace and punctuation, so
// "Ｓｕｎｒｉｓｅ Court" and "sunrisecourt" compare equal.
func Normalize(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, s)
}

// Similarity is 1 minus the rune edit distance divided by the longer length.
// Inputs are expected to be normalized; an empty side scores 0.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	dist := levenshtein.ComputeDistance(a, b)
	return math.Max(0, 1-float64(dist)/float64(longest))
}

// HaversineMeters is the great-circle distance between two points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

// coordinates validates a coordinate pair. Missing, out-of-range, non-finite
// and (0,0) pairs count as absent.
func coordinates(lat, lon *float64) (float64, float64, bool) {
	if lat == nil || lon == nil {
		return 0, 0, false
	}
	la, lo := *lat, *lon
	if math.IsNaN(la) || math.IsNaN(lo) || math.IsInf(la, 0) || math.IsInf(lo, 0) {
		return 0, 0, false
	}
	if la < -90 || la > 90 || lo < -180 || lo > 180 {
		return 0, 0, false
	}
	if la == 0 && lo == 0 {
		return 0, 0, false
	}
	return la, lo, true
}

// QueryFromExtracted builds a query from the "building" section of analysis output.
func QueryFromExtracted(data models.ExtractedData) Query {
	b := data.Section(models.SectionBuilding)
	q := Query{Name: b.String("name"), Address: b.String("address")}
	if lat, ok := b.Float("latitude"); ok {
		q.Latitude = &lat
	}
	if lon, ok := b.Float("longitude"); ok {
		q.Longitude = &lon
	}
	return q
}
