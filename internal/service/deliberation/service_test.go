package deliberation

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/cache"
	"quorum/internal/challenge"
	"quorum/internal/checkpoint"
	"quorum/internal/config"
	"quorum/internal/domain"
	"quorum/internal/domain/models"
	"quorum/internal/metrics"
	"quorum/internal/orchestrator"
	"quorum/internal/personas"
	"quorum/internal/provider"
	"quorum/internal/provider/lorem"
	"quorum/internal/repository/memory"
	"quorum/internal/router"
	"quorum/internal/similarity"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return newTestServiceWithText(t, nil)
}

// newTestServiceWithText allows swapping the text-generation collaborator
// while keeping the lorem provider for contributions.
func newTestServiceWithText(t *testing.T, text provider.TextGenerator) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	delibCfg, err := config.LoadDeliberation()
	require.NoError(t, err)
	delibCfg.MaxRounds = 3

	prov := lorem.NewProvider()
	if text == nil {
		text = prov
	}
	sim := similarity.NewService(lorem.NewEmbedder(64), logger)
	validator := challenge.NewValidator(challenge.Window{
		Start: delibCfg.Challenge.StartRound,
		End:   delibCfg.Challenge.EndRound,
	})
	engine := metrics.NewEngine(sim, validator, delibCfg.Weights, delibCfg.Thresholds, delibCfg.BulkConcurrency, logger)

	registry, err := personas.NewRegistry()
	require.NoError(t, err)

	checkpointer := checkpoint.NewInstrumented(memory.NewCheckpointer(), "memory", logger)
	store := memory.NewCacheStore()

	return NewService(Deps{
		Router:           router.New(logger),
		Orchestrator:     orchestrator.New(prov, text, sim, engine, validator, delibCfg, logger),
		Engine:           engine,
		Similarity:       sim,
		Checkpointer:     checkpointer,
		Health:           &checkpoint.Health{Backend: "memory"},
		ParticipantCache: cache.NewParticipantSelectionCache(store, sim, logger),
		ResearchCache:    cache.NewResearchCache(store, sim, logger),
		DatasetCache:     cache.NewDatasetSimilarityCache(store, sim, delibCfg.Thresholds.DatasetSimilarity, logger),
		Personas:         registry,
		Generator:        prov,
		Text:             text,
		Facilitator:      NewHeuristicFacilitator(delibCfg, logger),
		Config:           delibCfg,
		Logger:           logger,
	})
}

func TestStartRequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     StartRequest
		wantErr bool
	}{
		{"valid", StartRequest{Statement: "should we build it", Goal: "decide"}, false},
		{"missing statement", StartRequest{Goal: "decide"}, true},
		{"missing goal", StartRequest{Statement: "should we build it"}, true},
		{"negative max rounds", StartRequest{Statement: "s", Goal: "g", MaxRounds: -1}, true},
		{"excessive max rounds", StartRequest{Statement: "s", Goal: "g", MaxRounds: 51}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStartSessionDefaults(t *testing.T) {
	svc := newTestService(t)

	state, err := svc.StartSession(StartRequest{
		Statement: "should we migrate to the new billing platform",
		Goal:      "reach a migration decision",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, state.SessionID)
	assert.Equal(t, models.PhaseDecomposition, state.Phase)
	assert.Equal(t, 3, state.MaxRounds, "configured default applies when the request leaves it zero")
	assert.Zero(t, state.RoundNumber)
	require.NotNil(t, state.Problem)
	assert.Equal(t, "reach a migration decision", state.Problem.Goal)
}

func TestRunCompletesSession(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	state, err := svc.StartSession(StartRequest{
		Statement: "should we migrate to the new billing platform",
		Goal:      "reach a migration decision",
		MaxRounds: 3,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Run(ctx, state))

	assert.Equal(t, models.PhaseEnd, state.Phase)
	assert.NotEmpty(t, state.FinalDecision)
	assert.NotEmpty(t, state.Personas)
	assert.NotEmpty(t, state.Contributions)
	assert.Len(t, state.SubProblemResults, len(state.Problem.SubProblems))

	// The terminal checkpoint must be retrievable and marked archived.
	cp, err := svc.checkpointer.Get(ctx, state.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "true", cp.Metadata["archived"])
	assert.Equal(t, string(models.PhaseEnd), cp.Metadata["phase"])
}

// splittingText forces decomposition into two sub-problems and delegates
// everything else to the wrapped generator.
type splittingText struct {
	inner provider.TextGenerator
}

func (s splittingText) GenerateText(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, string, error) {
	if strings.Contains(system, "decompose") {
		return "- settle the staffing plan\n- settle the rollout sequencing", "stub", nil
	}
	return s.inner.GenerateText(ctx, system, user, maxTokens, temperature)
}

func TestRunCompletesMultiSubProblemSession(t *testing.T) {
	svc := newTestServiceWithText(t, splittingText{inner: lorem.NewProvider()})
	ctx := context.Background()

	state, err := svc.StartSession(StartRequest{
		Statement: "how should we launch in two new markets",
		Goal:      "produce a launch plan",
		MaxRounds: 3,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Run(ctx, state))

	require.NotNil(t, state.Problem)
	require.Len(t, state.Problem.SubProblems, 2)
	require.Len(t, state.SubProblemResults, 2)
	assert.Equal(t, "settle the staffing plan", state.SubProblemResults[0].Goal)
	assert.Equal(t, "settle the rollout sequencing", state.SubProblemResults[1].Goal)
	for _, r := range state.SubProblemResults {
		assert.NotEmpty(t, r.Synthesis)
		assert.NotEmpty(t, r.ExpertSummaries)
	}

	assert.Equal(t, models.PhaseEnd, state.Phase)
	assert.NotEmpty(t, state.FinalDecision, "meta-synthesis must produce the final artifact")
	assert.Nil(t, state.CurrentSubProblem)

	// Round state was reset between sub-problems: the surviving counter,
	// contributions and summaries belong to the second sub-problem only.
	assert.Equal(t, 4, state.RoundNumber)
	for _, c := range state.Contributions {
		assert.LessOrEqual(t, c.RoundNumber, 3)
	}
	for _, rs := range state.RoundSummaries {
		assert.LessOrEqual(t, rs.RoundNumber, 2)
	}

	cp, err := svc.checkpointer.Get(ctx, state.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "true", cp.Metadata["archived"])
}

func TestNextSubProblemResetsRoundState(t *testing.T) {
	svc := newTestService(t)

	state := &models.SessionState{
		SessionID:   "reset-check",
		Phase:       models.PhaseSynthesis,
		RoundNumber: 5,
		MaxRounds:   8,
		Problem: &models.Problem{
			Statement:   "how should we launch",
			Goal:        "produce a launch plan",
			SubProblems: []models.SubProblem{{Index: 0, Goal: "a"}, {Index: 1, Goal: "b"}},
		},
		SubProblemResults:      []models.SubProblemResult{{SubProblemIndex: 0, Goal: "a"}},
		Personas:               []models.Persona{{Code: "p0"}},
		Contributions:          []models.Contribution{{PersonaCode: "p0", RoundNumber: 4}},
		RoundSummaries:         []models.RoundSummary{{RoundNumber: 4}},
		Metrics:                &models.DeliberationMetrics{},
		FacilitatorGuidance:    []string{"stale guidance"},
		PendingResearchQueries: []string{"open question from the last round"},
		ShouldStop:             true,
		StopReason:             "round budget exhausted",
	}

	next, err := svc.nextSubProblem(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, router.NodeSelectPersonas, next)

	require.NotNil(t, state.CurrentSubProblem)
	assert.Equal(t, 1, *state.CurrentSubProblem)
	assert.Zero(t, state.RoundNumber)
	assert.Empty(t, state.Contributions)
	assert.Empty(t, state.RoundSummaries)
	assert.Nil(t, state.Metrics)
	assert.Empty(t, state.FacilitatorGuidance)
	assert.Empty(t, state.PendingResearchQueries, "research gaps must not leak into the next sub-problem")
	assert.Empty(t, state.Personas)
	assert.False(t, state.ShouldStop)
	assert.Empty(t, state.StopReason)
}

func TestStartSessionRejectsInvalidRequest(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.StartSession(StartRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRunFailsOnUnregisteredNode(t *testing.T) {
	svc := newTestService(t)
	delete(svc.nodes, router.NodeDecompose)

	state, err := svc.StartSession(StartRequest{
		Statement: "should we migrate to the new billing platform",
		Goal:      "reach a migration decision",
		MaxRounds: 3,
	})
	require.NoError(t, err)

	err = svc.Run(context.Background(), state)
	require.Error(t, err)
	var stateErr *domain.StateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestResumeRehydratesTypedState(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	state, err := svc.StartSession(StartRequest{
		Statement: "should we open a second office",
		Goal:      "decide on expansion",
		MaxRounds: 3,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Run(ctx, state))

	resumed, err := svc.Resume(ctx, state.SessionID)
	require.NoError(t, err)

	assert.True(t, resumed.IsResumedSession)
	assert.False(t, resumed.ShouldStop, "resumption clears the stop flag")
	assert.Equal(t, state.SessionID, resumed.SessionID)
	assert.Equal(t, state.RoundNumber, resumed.RoundNumber)
	assert.Len(t, resumed.Contributions, len(state.Contributions))
	require.NotNil(t, resumed.Problem)
	assert.Equal(t, state.Problem.Statement, resumed.Problem.Statement)
}

func TestResumeUnknownSession(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Resume(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
}

func TestDeleteSession(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	state, err := svc.StartSession(StartRequest{
		Statement: "should we sunset the legacy API",
		Goal:      "decide on deprecation",
		MaxRounds: 3,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Run(ctx, state))

	require.NoError(t, svc.DeleteSession(ctx, state.SessionID))
	_, err = svc.Resume(ctx, state.SessionID)
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
}
