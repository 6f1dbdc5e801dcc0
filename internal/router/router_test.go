package router

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"quorum/internal/domain/models"
)

func newTestRouter() *Router {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func intPtr(v int) *int { return &v }

func TestRouteFromPhase(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		phase models.Phase
		want  Node
	}{
		{models.PhaseDecomposition, NodeSelectPersonas},
		{models.PhaseSelection, NodeInitialRound},
		{models.PhaseDiscussion, NodeFacilitatorDecide},
		{models.Phase("bogus"), NodeEnd},
	}
	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			got := r.RouteFromPhase(&models.SessionState{Phase: tt.phase})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouteAfterFacilitator(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		name     string
		decision *models.FacilitatorDecision
		want     Node
	}{
		{"vote", &models.FacilitatorDecision{Action: models.ActionVote}, NodeVote},
		{"continue", &models.FacilitatorDecision{Action: models.ActionContinue}, NodePersonaContribute},
		{"research", &models.FacilitatorDecision{Action: models.ActionResearch}, NodeResearch},
		{"moderator", &models.FacilitatorDecision{Action: models.ActionModerator}, NodeModeratorIntervene},
		{"clarify", &models.FacilitatorDecision{Action: models.ActionClarify}, NodeClarification},
		{"analyze data", &models.FacilitatorDecision{Action: models.ActionAnalyzeData}, NodeDataAnalysis},
		{"unknown action falls back", &models.FacilitatorDecision{Action: "escalate"}, NodePersonaContribute},
		{"missing decision ends", nil, NodeEnd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.RouteAfterFacilitator(&models.SessionState{FacilitatorDecision: tt.decision})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouteAfterConvergenceCheck(t *testing.T) {
	r := newTestRouter()

	assert.Equal(t, NodeVote, r.RouteAfterConvergenceCheck(&models.SessionState{ShouldStop: true}))
	assert.Equal(t, NodeFacilitatorDecide, r.RouteAfterConvergenceCheck(&models.SessionState{}))
}

func TestRouteAfterClarification(t *testing.T) {
	r := newTestRouter()

	assert.Equal(t, NodeEnd, r.RouteAfterClarification(&models.SessionState{ShouldStop: true}))
	assert.Equal(t, NodePersonaContribute, r.RouteAfterClarification(&models.SessionState{}))
}

func TestRouteAfterSynthesis(t *testing.T) {
	r := newTestRouter()

	single := &models.SessionState{Problem: &models.Problem{
		SubProblems: []models.SubProblem{{Index: 0}},
	}}
	assert.Equal(t, NodeEnd, r.RouteAfterSynthesis(single))

	multi := &models.SessionState{Problem: &models.Problem{
		SubProblems: []models.SubProblem{{Index: 0}, {Index: 1}},
	}}
	assert.Equal(t, NodeNextSubProblem, r.RouteAfterSynthesis(multi))
}

func TestRouteAfterNextSubProblem(t *testing.T) {
	r := newTestRouter()
	twoSubProblems := &models.Problem{
		SubProblems: []models.SubProblem{{Index: 0}, {Index: 1}},
	}

	t.Run("next sub-problem in flight", func(t *testing.T) {
		state := &models.SessionState{
			Problem:           twoSubProblems,
			CurrentSubProblem: intPtr(1),
			SubProblemResults: []models.SubProblemResult{{SubProblemIndex: 0}},
		}
		assert.Equal(t, NodeSelectPersonas, r.RouteAfterNextSubProblem(state))
	})

	t.Run("all results present", func(t *testing.T) {
		state := &models.SessionState{
			Problem: twoSubProblems,
			SubProblemResults: []models.SubProblemResult{
				{SubProblemIndex: 0}, {SubProblemIndex: 1},
			},
		}
		assert.Equal(t, NodeMetaSynthesis, r.RouteAfterNextSubProblem(state))
	})

	t.Run("incomplete results with nothing in flight terminates", func(t *testing.T) {
		state := &models.SessionState{
			Problem:           twoSubProblems,
			SubProblemResults: []models.SubProblemResult{{SubProblemIndex: 0}},
		}
		assert.Equal(t, NodeEnd, r.RouteAfterNextSubProblem(state))
	})
}

func TestRouteOnResume(t *testing.T) {
	r := newTestRouter()
	twoSubProblems := &models.Problem{
		SubProblems: []models.SubProblem{{Index: 0}, {Index: 1}},
	}

	t.Run("fresh session decomposes", func(t *testing.T) {
		assert.Equal(t, NodeDecompose, r.RouteOnResume(&models.SessionState{}))
	})

	t.Run("crashed between sub-problems", func(t *testing.T) {
		state := &models.SessionState{
			IsResumedSession:  true,
			Problem:           twoSubProblems,
			SubProblemResults: []models.SubProblemResult{{SubProblemIndex: 0}},
		}
		assert.Equal(t, NodeSelectPersonas, r.RouteOnResume(state))
	})

	t.Run("all sub-problems already finished", func(t *testing.T) {
		state := &models.SessionState{
			IsResumedSession: true,
			Problem:          twoSubProblems,
			SubProblemResults: []models.SubProblemResult{
				{SubProblemIndex: 0}, {SubProblemIndex: 1},
			},
		}
		assert.Equal(t, NodeEnd, r.RouteOnResume(state))
	})

	t.Run("resumed mid sub-problem reselects personas", func(t *testing.T) {
		state := &models.SessionState{
			IsResumedSession:  true,
			Problem:           twoSubProblems,
			CurrentSubProblem: intPtr(0),
		}
		assert.Equal(t, NodeSelectPersonas, r.RouteOnResume(state))
	})
}

func TestNodesListsEveryDispatchableNode(t *testing.T) {
	nodes := Nodes()
	assert.Len(t, nodes, 13)
	assert.NotContains(t, nodes, NodeEnd)
}
