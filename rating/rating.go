// Package rating scores branches so the scheduler can pick the most
// promising one each cycle.
package rating

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/firmendata/wko-crawler/models"
)

// KeywordWeights boosts branches whose names hint at relevant sectors.
// Tune as needed.
var KeywordWeights = map[string]float64{
	"industrie":   2.0,
	"großhandel":  1.8,
	"grosshandel": 1.8,
	"handel":      1.2,
	"maschinen":   1.3,
	"technik":     1.3,
	"pharma":      2.0,
	"chemie":      1.5,
	"metall":      1.4,
	"elektro":     1.4,
	"it":          1.2,
	"software":    1.2,
	"medizin":     1.4,
	"energie":     1.4,
	"transport":   1.2,
	"bau":         1.1,
}

const (
	scoreFloor      = 0.05
	defaultIdleDays = 365.0
)

// TextScore sums keyword weights for every table entry contained in the
// lowercased branch name, on top of a base of 1.
func TextScore(branch string) float64 {
	text := strings.ToLower(branch)
	score := 1.0
	for key, weight := range KeywordWeights {
		if strings.Contains(text, key) {
			score += weight
		}
	}
	return score
}

func daysSince(ts *time.Time, now time.Time) float64 {
	if ts == nil {
		return defaultIdleDays
	}
	return math.Max(0, now.Sub(*ts).Hours()/24)
}

// Score computes the priority of a branch from its name and accumulated
// state. Never-crawled and long-idle branches rise (freshness), high
// recent yield is favoured, frequently crawled branches are suppressed,
// and chronically denied branches are penalised down to a floor of 0.05
// so they stay eventually eligible.
func Score(branch string, st models.BranchState, now time.Time) float64 {
	text := TextScore(branch)
	idle := daysSince(st.LastCrawledAt, now)

	freshnessBoost := math.Min(3.0, math.Log1p(idle))
	rarityBoost := 1.0 / (1.0 + 0.35*float64(max(0, st.CrawlCount)))
	yieldBoost := math.Min(2.0, math.Log1p(float64(max(0, st.LastRows)))/3.0)
	deniedPenalty := math.Min(0.7, 0.1*float64(st.AccessDeniedCount))

	return math.Max(scoreFloor, text*(1.0+freshnessBoost+yieldBoost)*rarityBoost-deniedPenalty)
}

// Generate produces rating rows for every catalog branch, sorted by
// score descending. The sort is stable so ties keep catalog order.
func Generate(branches []models.Branch, states map[string]*models.BranchState, now time.Time) []models.RatingRow {
	rows := make([]models.RatingRow, 0, len(branches))
	for _, b := range branches {
		st := models.BranchState{}
		if existing, ok := states[b.Name]; ok && existing != nil {
			st = *existing
		}
		rows = append(rows, models.RatingRow{
			Branch:        b.Name,
			URL:           b.URL,
			Score:         math.Round(Score(b.Name, st, now)*10000) / 10000,
			CrawlCount:    st.CrawlCount,
			LastRows:      st.LastRows,
			LastCrawledAt: st.LastCrawledAt,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Score > rows[j].Score
	})
	return rows
}

type ratingsMeta struct {
	GeneratedAt time.Time `json:"generated_at"`
	Count       int       `json:"count"`
}

type ratingsDocument struct {
	Meta    ratingsMeta        `json:"meta"`
	Ratings []models.RatingRow `json:"ratings"`
}

// WriteDocument dumps the current ratings to a JSON file for operators.
// Purely observational; the scheduler works off the in-memory rows.
func WriteDocument(path string, rows []models.RatingRow, now time.Time) error {
	doc := ratingsDocument{
		Meta:    ratingsMeta{GeneratedAt: now.UTC(), Count: len(rows)},
		Ratings: rows,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ratings: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write ratings %s: %w", path, err)
	}
	return nil
}
