package config

import (
	_ "embed"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

//go:embed deliberation.yaml
var deliberationFile []byte

// Weights is the per-session configurable weight map of the meeting
// completeness index.
type Weights struct {
	Exploration float64 `yaml:"exploration" json:"exploration"`
	Convergence float64 `yaml:"convergence" json:"convergence"`
	Focus       float64 `yaml:"focus" json:"focus"`
	Novelty     float64 `yaml:"novelty" json:"novelty"`
}

// ChallengeConfig is the configured challenge-phase round window.
type ChallengeConfig struct {
	StartRound int `yaml:"start_round" json:"start_round"`
	EndRound   int `yaml:"end_round" json:"end_round"`
	MinMarkers int `yaml:"min_markers" json:"min_markers"`
}

// Thresholds are the similarity cut-offs used across the core.
type Thresholds struct {
	ContributionDedup  float64 `yaml:"contribution_dedup" json:"contribution_dedup"`
	ResearchRedundancy float64 `yaml:"research_redundancy" json:"research_redundancy"`
	DatasetSimilarity  float64 `yaml:"dataset_similarity" json:"dataset_similarity"`
	AspectCoverage     float64 `yaml:"aspect_coverage" json:"aspect_coverage"`
	FocusOnTopic       float64 `yaml:"focus_on_topic" json:"focus_on_topic"`
	CompletenessStop   float64 `yaml:"completeness_stop" json:"completeness_stop"`
}

// Deliberation holds the deliberation tunables loaded from the embedded
// YAML file.
type Deliberation struct {
	MaxRounds       int             `yaml:"max_rounds" json:"max_rounds"`
	MinPersonas     int             `yaml:"min_personas" json:"min_personas"`
	MaxPersonas     int             `yaml:"max_personas" json:"max_personas"`
	BulkConcurrency int             `yaml:"bulk_concurrency" json:"bulk_concurrency"`
	Weights         Weights         `yaml:"weights" json:"weights"`
	Challenge       ChallengeConfig `yaml:"challenge" json:"challenge"`
	Thresholds      Thresholds      `yaml:"thresholds" json:"thresholds"`
}

// LoadDeliberation parses and validates the embedded deliberation config.
func LoadDeliberation() (*Deliberation, error) {
	var d Deliberation
	if err := yaml.Unmarshal(deliberationFile, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deliberation config: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid deliberation config: %w", err)
	}
	return &d, nil
}

// Validate checks bounds on every tunable.
func (d *Deliberation) Validate() error {
	if err := validation.ValidateStruct(d,
		validation.Field(&d.MaxRounds, validation.Required, validation.Min(1)),
		validation.Field(&d.MinPersonas, validation.Required, validation.Min(1)),
		validation.Field(&d.MaxPersonas, validation.Required, validation.Min(d.MinPersonas)),
		validation.Field(&d.BulkConcurrency, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}

	if err := validation.ValidateStruct(&d.Weights,
		validation.Field(&d.Weights.Exploration, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&d.Weights.Convergence, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&d.Weights.Focus, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&d.Weights.Novelty, validation.Min(0.0), validation.Max(1.0)),
	); err != nil {
		return err
	}
	if d.Weights.Exploration+d.Weights.Convergence+d.Weights.Focus+d.Weights.Novelty <= 0 {
		return fmt.Errorf("completeness weights must not all be zero")
	}

	if err := validation.ValidateStruct(&d.Challenge,
		validation.Field(&d.Challenge.StartRound, validation.Min(1)),
		validation.Field(&d.Challenge.EndRound, validation.Min(d.Challenge.StartRound)),
		validation.Field(&d.Challenge.MinMarkers, validation.Min(1)),
	); err != nil {
		return err
	}

	return validation.ValidateStruct(&d.Thresholds,
		validation.Field(&d.Thresholds.ContributionDedup, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&d.Thresholds.ResearchRedundancy, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&d.Thresholds.DatasetSimilarity, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&d.Thresholds.AspectCoverage, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&d.Thresholds.FocusOnTopic, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&d.Thresholds.CompletenessStop, validation.Min(0.0), validation.Max(1.0)),
	)
}
