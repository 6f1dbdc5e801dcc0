package models

// AspectCoverage records whether one of the fixed critical decision aspects
// has been addressed by recent contributions.
type AspectCoverage struct {
	Aspect  string  `json:"aspect"`
	Covered bool    `json:"covered"`
	Score   float64 `json:"score"`
}

// DeliberationMetrics holds the five bounded quality signals plus the
// composite completeness index. Recomputed in full every round; absent
// inputs yield the documented fallback constants rather than omission.
// ConvergenceScore alone is left unset (nil) when fewer than three
// contributions exist.
type DeliberationMetrics struct {
	ConvergenceScore *float64 `json:"convergence_score,omitempty"`
	NoveltyScore     float64  `json:"novelty_score"`
	ConflictScore    float64  `json:"conflict_score"`
	ExplorationScore float64  `json:"exploration_score"`
	FocusScore       float64  `json:"focus_score"`

	MeetingCompletenessIndex float64          `json:"meeting_completeness_index"`
	AspectCoverage           []AspectCoverage `json:"aspect_coverage,omitempty"`
}
