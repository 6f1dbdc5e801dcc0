package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/challenge"
	"quorum/internal/config"
	"quorum/internal/domain/models"
	"quorum/internal/metrics"
	"quorum/internal/provider"
	"quorum/internal/similarity"
)

type stubGenerator struct {
	fn    func(req *provider.ContributionRequest) (*provider.ContributionResult, error)
	calls atomic.Int64
}

func (s *stubGenerator) GenerateContribution(ctx context.Context, req *provider.ContributionRequest) (*provider.ContributionResult, error) {
	s.calls.Add(1)
	return s.fn(req)
}

type stubText struct{}

func (stubText) GenerateText(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, string, error) {
	return "summary of the round", "stub", nil
}

type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string, kind provider.EmbeddingKind) ([]float32, error) {
	if vec, ok := s.vectors[text]; ok {
		return vec, nil
	}
	return nil, fmt.Errorf("no stub vector for %q", text)
}

func (s *stubEmbedder) Dimensions() int { return 3 }

func testConfig() *config.Deliberation {
	return &config.Deliberation{
		MaxRounds:       8,
		MinPersonas:     1,
		MaxPersonas:     6,
		BulkConcurrency: 2,
		Weights:         config.Weights{Exploration: 0.3, Convergence: 0.3, Focus: 0.2, Novelty: 0.2},
		Challenge:       config.ChallengeConfig{StartRound: 3, EndRound: 4, MinMarkers: 2},
		Thresholds: config.Thresholds{
			ContributionDedup:  0.92,
			ResearchRedundancy: 0.85,
			AspectCoverage:     0.5,
			FocusOnTopic:       0.4,
		},
	}
}

func newTestOrchestrator(gen *stubGenerator, vectors map[string][]float32) *Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	sim := similarity.NewService(&stubEmbedder{vectors: vectors}, logger)
	validator := challenge.NewValidator(challenge.Window{
		Start: cfg.Challenge.StartRound,
		End:   cfg.Challenge.EndRound,
	})
	engine := metrics.NewEngine(sim, validator, cfg.Weights, cfg.Thresholds, cfg.BulkConcurrency, logger)
	return New(gen, stubText{}, sim, engine, validator, cfg, logger)
}

func testState(personaCount int) *models.SessionState {
	state := &models.SessionState{
		SessionID:   "test-session",
		Phase:       models.PhaseDiscussion,
		RoundNumber: 1,
		MaxRounds:   8,
		Problem: &models.Problem{
			Statement:   "should we adopt the new platform",
			Goal:        "reach a platform decision",
			SubProblems: []models.SubProblem{{Index: 0, Goal: "reach a platform decision"}},
		},
	}
	idx := 0
	state.CurrentSubProblem = &idx
	for i := 0; i < personaCount; i++ {
		state.Personas = append(state.Personas, models.Persona{
			Code: fmt.Sprintf("p%d", i),
			Name: fmt.Sprintf("Persona %d", i),
			Role: "expert",
		})
	}
	return state
}

func TestExecuteRoundDoubleExecutionGuard(t *testing.T) {
	gen := &stubGenerator{fn: func(req *provider.ContributionRequest) (*provider.ContributionResult, error) {
		return &provider.ContributionResult{Text: "fresh text"}, nil
	}}
	o := newTestOrchestrator(gen, nil)

	state := testState(2)
	state.Contributions = []models.Contribution{
		{PersonaCode: "p0", Content: "already here", RoundNumber: 1},
	}

	require.NoError(t, o.ExecuteRound(context.Background(), state))

	assert.Equal(t, 2, state.RoundNumber, "round must advance past the replayed round")
	assert.Len(t, state.Contributions, 1, "no regeneration on replay")
	assert.Zero(t, gen.calls.Load(), "generator must not run for an already-executed round")
}

func TestExecuteRoundPartialFanOutFailure(t *testing.T) {
	gen := &stubGenerator{fn: func(req *provider.ContributionRequest) (*provider.ContributionResult, error) {
		if req.Persona.Code == "p1" {
			return nil, fmt.Errorf("provider unavailable")
		}
		return &provider.ContributionResult{
			Text:       "distinct position from " + req.Persona.Code,
			TokenCount: 5,
		}, nil
	}}
	o := newTestOrchestrator(gen, map[string][]float32{
		"distinct position from p0": {1, 0, 0},
		"distinct position from p2": {0, 1, 0},
	})

	state := testState(3)
	require.NoError(t, o.ExecuteRound(context.Background(), state))

	require.Len(t, state.Contributions, 2)
	assert.Equal(t, "p0", state.Contributions[0].PersonaCode)
	assert.Equal(t, "p2", state.Contributions[1].PersonaCode)
	assert.Equal(t, 2, state.RoundNumber)
}

func TestExecuteRoundDropsNearDuplicates(t *testing.T) {
	gen := &stubGenerator{fn: func(req *provider.ContributionRequest) (*provider.ContributionResult, error) {
		text := "shared position"
		if req.Persona.Code == "p2" {
			text = "unique position"
		}
		return &provider.ContributionResult{Text: text}, nil
	}}
	o := newTestOrchestrator(gen, map[string][]float32{
		"shared position": {1, 0, 0},
		"unique position": {0, 1, 0},
	})

	state := testState(3)
	require.NoError(t, o.ExecuteRound(context.Background(), state))

	require.Len(t, state.Contributions, 2)
	assert.Equal(t, "shared position", state.Contributions[0].Content)
	assert.Equal(t, "unique position", state.Contributions[1].Content)
}

func TestExecuteRoundKeepsAllWhenEmbeddingsUnavailable(t *testing.T) {
	gen := &stubGenerator{fn: func(req *provider.ContributionRequest) (*provider.ContributionResult, error) {
		return &provider.ContributionResult{Text: "same text from everyone"}, nil
	}}
	// No vectors at all: dedup must fail open and keep every contribution.
	o := newTestOrchestrator(gen, nil)

	state := testState(3)
	require.NoError(t, o.ExecuteRound(context.Background(), state))

	assert.Len(t, state.Contributions, 3)
}

func TestExecuteRoundChallengeRePrompt(t *testing.T) {
	gen := &stubGenerator{fn: func(req *provider.ContributionRequest) (*provider.ContributionResult, error) {
		if req.PriorContext != "" && req.ContributionType == "challenge" {
			// Re-prompt attempt: produce a passing challenge.
			return &provider.ContributionResult{
				Text: "However, I see a clear risk in this approach.",
			}, nil
		}
		return &provider.ContributionResult{Text: "everything seems perfectly fine"}, nil
	}}
	o := newTestOrchestrator(gen, map[string][]float32{
		"everything seems perfectly fine":               {1, 0, 0},
		"However, I see a clear risk in this approach.": {0, 1, 0},
	})

	state := testState(1)
	state.RoundNumber = 3

	require.NoError(t, o.ExecuteRound(context.Background(), state))

	require.Len(t, state.Contributions, 1)
	assert.Equal(t, "However, I see a clear risk in this approach.", state.Contributions[0].Content)
	assert.Equal(t, int64(2), gen.calls.Load(), "one initial generation plus one re-prompt")
	assert.Equal(t, 4, state.RoundNumber)
}

func TestExecuteRoundQueuesResearchOnGapLanguage(t *testing.T) {
	gen := &stubGenerator{fn: func(req *provider.ContributionRequest) (*provider.ContributionResult, error) {
		return &provider.ContributionResult{
			Text: "This is promising. We need data on adoption rates before committing.",
		}, nil
	}}
	o := newTestOrchestrator(gen, nil)

	state := testState(1)
	require.NoError(t, o.ExecuteRound(context.Background(), state))

	require.Len(t, state.PendingResearchQueries, 1)
	assert.Equal(t, "We need data on adoption rates before committing", state.PendingResearchQueries[0])
}

func TestExecuteRoundConsumesGuidanceAfterInjection(t *testing.T) {
	substantive := strings.TrimSpace(strings.Repeat("a detailed position on the rollout sequencing with supporting operational data ", 5))

	var mu sync.Mutex
	var injected [][]string
	gen := &stubGenerator{fn: func(req *provider.ContributionRequest) (*provider.ContributionResult, error) {
		mu.Lock()
		injected = append(injected, req.Guidance)
		mu.Unlock()
		return &provider.ContributionResult{Text: substantive}, nil
	}}
	o := newTestOrchestrator(gen, nil)

	state := testState(2)
	state.FacilitatorGuidance = []string{"push the panel toward concrete tradeoffs"}

	require.NoError(t, o.ExecuteRound(context.Background(), state))

	require.Len(t, injected, 2)
	for _, g := range injected {
		assert.Equal(t, []string{"push the panel toward concrete tradeoffs"}, g)
	}
	assert.Empty(t, state.FacilitatorGuidance, "guidance must not carry into later rounds once injected")
}

func TestExecuteRoundCarriesExpertMemoryFromEarlierResults(t *testing.T) {
	var mu sync.Mutex
	memories := make(map[string]string)
	gen := &stubGenerator{fn: func(req *provider.ContributionRequest) (*provider.ContributionResult, error) {
		mu.Lock()
		memories[req.Persona.Code] = req.Memory
		mu.Unlock()
		return &provider.ContributionResult{Text: "position from " + req.Persona.Code}, nil
	}}
	o := newTestOrchestrator(gen, nil)

	state := testState(2)
	state.SubProblemResults = []models.SubProblemResult{{
		Goal: "pick a vendor",
		ExpertSummaries: map[string]string{
			"p0": "favored the incumbent for support quality",
		},
	}}

	require.NoError(t, o.ExecuteRound(context.Background(), state))

	assert.Equal(t, `On "pick a vendor" you concluded: favored the incumbent for support quality`, memories["p0"])
	assert.Empty(t, memories["p1"], "personas without prior summaries carry no memory")
}

func TestExecuteRoundSkipsSummaryForRoundZero(t *testing.T) {
	gen := &stubGenerator{fn: func(req *provider.ContributionRequest) (*provider.ContributionResult, error) {
		return &provider.ContributionResult{Text: "opening position"}, nil
	}}
	o := newTestOrchestrator(gen, nil)

	state := testState(1)
	state.RoundNumber = 0
	require.NoError(t, o.ExecuteRound(context.Background(), state))

	assert.Empty(t, state.RoundSummaries)
	assert.Equal(t, 1, state.RoundNumber)

	require.NoError(t, o.ExecuteRound(context.Background(), state))
	require.Len(t, state.RoundSummaries, 1)
	assert.Equal(t, 1, state.RoundSummaries[0].RoundNumber)
	assert.Equal(t, "summary of the round", state.RoundSummaries[0].Summary)
}
