package deliberation

import (
	"log/slog"

	"quorum/internal/config"
	"quorum/internal/domain/models"
)

// FacilitatorStrategy chooses the control signal after a round. The
// default is a metrics-driven heuristic; an LLM-backed facilitator can be
// injected by the driver without touching the router.
type FacilitatorStrategy interface {
	Decide(state *models.SessionState, m *models.DeliberationMetrics) *models.FacilitatorDecision
}

// HeuristicFacilitator decides from the completeness index, conflict level
// and round budget.
type HeuristicFacilitator struct {
	cfg    *config.Deliberation
	logger *slog.Logger
}

// NewHeuristicFacilitator creates the default facilitator strategy.
func NewHeuristicFacilitator(cfg *config.Deliberation, logger *slog.Logger) *HeuristicFacilitator {
	return &HeuristicFacilitator{cfg: cfg, logger: logger}
}

// Decide picks the next facilitator action.
func (f *HeuristicFacilitator) Decide(state *models.SessionState, m *models.DeliberationMetrics) *models.FacilitatorDecision {
	decision := f.decide(state, m)
	f.logger.Info("facilitator decision",
		"session_id", state.SessionID,
		"round", state.RoundNumber,
		"action", decision.Action,
		"reason", decision.Reason,
	)
	return decision
}

func (f *HeuristicFacilitator) decide(state *models.SessionState, m *models.DeliberationMetrics) *models.FacilitatorDecision {
	if len(state.PendingResearchQueries) > 0 {
		return &models.FacilitatorDecision{
			Action: models.ActionResearch,
			Reason: "pending research queries from detected informational gaps",
		}
	}

	if state.RoundNumber >= state.MaxRounds {
		return &models.FacilitatorDecision{
			Action: models.ActionVote,
			Reason: "round budget exhausted",
		}
	}

	if m != nil {
		if m.MeetingCompletenessIndex >= f.cfg.Thresholds.CompletenessStop && state.RoundNumber >= 3 {
			return &models.FacilitatorDecision{
				Action: models.ActionVote,
				Reason: "completeness index reached stopping threshold",
			}
		}
		if m.ConflictScore >= 0.8 && state.RoundNumber >= 2 {
			return &models.FacilitatorDecision{
				Action: models.ActionModerator,
				Reason: "sustained disagreement needs moderation",
			}
		}
	}

	return &models.FacilitatorDecision{
		Action: models.ActionContinue,
		Reason: "discussion still productive",
	}
}
