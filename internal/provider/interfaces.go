package provider

import (
	"context"

	"quorum/internal/domain/models"
)

// EmbeddingKind distinguishes lookup-side from storage-side embeddings.
// Providers with asymmetric embedding models use it to pick the task type.
type EmbeddingKind string

const (
	EmbeddingKindQuery    EmbeddingKind = "query"
	EmbeddingKindDocument EmbeddingKind = "document"
)

// Embedder generates fixed-dimensionality vector embeddings for text.
// Implementations fail with *domain.EmbeddingError on empty input or
// provider outage; callers must treat that as recoverable.
type Embedder interface {
	Embed(ctx context.Context, text string, kind EmbeddingKind) ([]float32, error)
	Dimensions() int
}

// ContributionRequest carries everything a provider needs to elicit one
// persona contribution for one round.
type ContributionRequest struct {
	Persona          models.Persona
	Phase            models.Phase
	RoundNumber      int
	ProblemStatement string
	SubProblemGoal   string
	PriorContext     string
	Memory           string
	Guidance         []string
	ContributionType string
	MaxTokens        int
}

// ContributionResult is the provider's answer plus usage accounting.
type ContributionResult struct {
	Text       string
	TokenCount int
	Cost       float64
}

// ContributionGenerator produces one persona contribution. Failures are
// recoverable and retryable by the caller; the orchestrator treats a failed
// generation as a missing contribution, not a fatal error.
type ContributionGenerator interface {
	GenerateContribution(ctx context.Context, req *ContributionRequest) (*ContributionResult, error)
}

// TextGenerator is the general-purpose completion capability used for
// decomposition, summaries, synthesis and research execution.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (text string, model string, err error)
}

// Provider bundles the content-generation capabilities under one name.
type Provider interface {
	Name() string
	ContributionGenerator
	TextGenerator
}
