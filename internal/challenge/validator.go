// Package challenge implements the lexical gate applied to challenge-phase
// rounds. It is deliberately embedding-free: a catalog of marker phrases
// matched with word boundaries is enough to detect whether participants are
// engaging critically instead of merely agreeing.
package challenge

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Marker categories. A passing contribution needs markers from enough
// distinct phrases; the re-prompt names the categories that are absent.
const (
	CategoryCounterargument      = "counterargument"
	CategoryRiskLimitation       = "risk_limitation"
	CategoryDisagreement         = "disagreement"
	CategoryMissingConsideration = "missing_consideration"
	CategoryCriticalAnalysis     = "critical_analysis"
)

// markerCatalog maps each category to its marker phrases. Matching is
// case-insensitive with word boundaries, so "shower" never matches
// "however".
var markerCatalog = map[string][]string{
	CategoryCounterargument: {
		"however",
		"on the other hand",
		"conversely",
		"counterpoint",
		"that said",
	},
	CategoryRiskLimitation: {
		"risk",
		"limitation",
		"downside",
		"drawback",
		"tradeoff",
	},
	CategoryDisagreement: {
		"disagree",
		"not convinced",
		"push back",
		"i don't think",
		"challenge",
	},
	CategoryMissingConsideration: {
		"overlooked",
		"missing",
		"what about",
		"haven't considered",
		"fails to address",
	},
	CategoryCriticalAnalysis: {
		"assumption",
		"evidence",
		"flaw",
		"weakness",
		"unproven",
	},
}

type compiledMarker struct {
	category string
	phrase   string
	re       *regexp.Regexp
}

// Window is the configured challenge-phase round range, inclusive on both
// ends.
type Window struct {
	Start int
	End   int
}

// Contains reports whether the round falls inside the challenge window.
func (w Window) Contains(round int) bool {
	return round >= w.Start && round <= w.End
}

// Result is the outcome of validating one contribution.
type Result struct {
	DetectedMarkers   []string `json:"detected_markers"`
	MarkerCount       int      `json:"marker_count"`
	PassesThreshold   bool     `json:"passes_threshold"`
	Threshold         int      `json:"threshold"`
	MissingCategories []string `json:"missing_categories,omitempty"`
}

// Validator scans contribution text against the marker catalog.
type Validator struct {
	markers []compiledMarker
	window  Window
}

// NewValidator compiles the marker catalog for the given challenge window.
func NewValidator(window Window) *Validator {
	var markers []compiledMarker
	categories := make([]string, 0, len(markerCatalog))
	for cat := range markerCatalog {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	for _, cat := range categories {
		for _, phrase := range markerCatalog[cat] {
			pattern := `(?i)\b` + strings.ReplaceAll(regexp.QuoteMeta(phrase), ` `, `\s+`) + `\b`
			markers = append(markers, compiledMarker{
				category: cat,
				phrase:   phrase,
				re:       regexp.MustCompile(pattern),
			})
		}
	}
	return &Validator{markers: markers, window: window}
}

// Validate counts distinct markers present in the text against the
// minimum.
func (v *Validator) Validate(text string, minMarkers int) Result {
	detected := make([]string, 0, 4)
	foundCategories := make(map[string]bool, len(markerCatalog))
	for _, m := range v.markers {
		if m.re.MatchString(text) {
			detected = append(detected, m.phrase)
			foundCategories[m.category] = true
		}
	}

	var missing []string
	for cat := range markerCatalog {
		if !foundCategories[cat] {
			missing = append(missing, cat)
		}
	}
	sort.Strings(missing)

	return Result{
		DetectedMarkers:   detected,
		MarkerCount:       len(detected),
		PassesThreshold:   len(detected) >= minMarkers,
		Threshold:         minMarkers,
		MissingCategories: missing,
	}
}

// ValidateRound gates only rounds inside the configured challenge window;
// everything else passes trivially with no markers counted.
func (v *Validator) ValidateRound(text string, round, minMarkers int) Result {
	if !v.window.Contains(round) {
		return Result{
			DetectedMarkers: []string{},
			MarkerCount:     0,
			PassesThreshold: true,
			Threshold:       minMarkers,
		}
	}
	return v.Validate(text, minMarkers)
}

// RePrompt builds the retry message for a failed validation, naming the
// missing marker categories and quoting a truncated excerpt of the
// original contribution. The retry loop itself lives in the round
// orchestrator.
func (v *Validator) RePrompt(original string, res Result) string {
	excerpt := original
	if len(excerpt) > 200 {
		excerpt = excerpt[:200] + "..."
	}
	missing := strings.Join(res.MissingCategories, ", ")
	return fmt.Sprintf(
		"Your contribution needs more critical engagement (found %d of %d required challenge markers). "+
			"Address at least one of: %s. Revise this position accordingly: %q",
		res.MarkerCount, res.Threshold, missing, excerpt,
	)
}

// DisagreementDensity is the fraction of texts containing at least one
// disagreement or risk marker. The quality metrics engine uses it as the
// conflict score so conflict stays as cheap to compute as the validator
// itself.
func (v *Validator) DisagreementDensity(texts []string) float64 {
	if len(texts) == 0 {
		return 0
	}
	marked := 0
	for _, text := range texts {
		for _, m := range v.markers {
			if m.category != CategoryDisagreement && m.category != CategoryRiskLimitation {
				continue
			}
			if m.re.MatchString(text) {
				marked++
				break
			}
		}
	}
	return float64(marked) / float64(len(texts))
}
