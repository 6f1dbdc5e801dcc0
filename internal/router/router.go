// Package router implements the deliberation state machine: pure,
// deterministic transition functions over session state. The router never
// mutates state and never raises logic errors - unknown phases and actions
// route to safe defaults, so the control loop cannot crash on bad state.
package router

import (
	"log/slog"

	"quorum/internal/domain/models"
)

// Node identifies an executable step of the deliberation graph. The
// dispatch table in the session service is keyed by Node, resolved at
// construction - no runtime string registry.
type Node string

const (
	NodeDecompose          Node = "decompose"
	NodeSelectPersonas     Node = "select_personas"
	NodeInitialRound       Node = "initial_round"
	NodeFacilitatorDecide  Node = "facilitator_decide"
	NodePersonaContribute  Node = "persona_contribute"
	NodeVote               Node = "vote"
	NodeResearch           Node = "research"
	NodeModeratorIntervene Node = "moderator_intervene"
	NodeClarification      Node = "clarification"
	NodeDataAnalysis       Node = "data_analysis"
	NodeSynthesis          Node = "synthesis"
	NodeNextSubProblem     Node = "next_subproblem"
	NodeMetaSynthesis      Node = "meta_synthesis"
	NodeEnd                Node = "END"
)

// Router exposes the transition functions. It carries only a logger:
// every routing decision is logged with its input context (phase, round,
// sub-problem index, should_stop) and output, so a crashed session can be
// replayed and debugged from logs alone.
type Router struct {
	logger *slog.Logger
}

// New creates a router.
func New(logger *slog.Logger) *Router {
	return &Router{logger: logger}
}

// Nodes lists every dispatchable node, for introspection.
func Nodes() []Node {
	return []Node{
		NodeDecompose, NodeSelectPersonas, NodeInitialRound,
		NodeFacilitatorDecide, NodePersonaContribute, NodeVote,
		NodeResearch, NodeModeratorIntervene, NodeClarification,
		NodeDataAnalysis, NodeSynthesis, NodeNextSubProblem,
		NodeMetaSynthesis,
	}
}

func (r *Router) log(fn string, state *models.SessionState, out Node, extra ...any) Node {
	args := []any{
		"router_fn", fn,
		"phase", state.Phase,
		"round", state.RoundNumber,
		"sub_problem", subProblemIndex(state),
		"should_stop", state.ShouldStop,
		"next", out,
	}
	args = append(args, extra...)
	r.logger.Info("routing decision", args...)
	return out
}

func subProblemIndex(state *models.SessionState) int {
	if state.CurrentSubProblem == nil {
		return -1
	}
	return *state.CurrentSubProblem
}

// RouteFromPhase maps the current phase to its entry node. Unrecognized
// phases are a state error: logged and routed to END.
func (r *Router) RouteFromPhase(state *models.SessionState) Node {
	switch state.Phase {
	case models.PhaseDecomposition:
		return r.log("route_from_phase", state, NodeSelectPersonas)
	case models.PhaseSelection:
		return r.log("route_from_phase", state, NodeInitialRound)
	case models.PhaseDiscussion:
		return r.log("route_from_phase", state, NodeFacilitatorDecide)
	default:
		r.logger.Error("unrecognized phase, routing to END",
			"phase", state.Phase,
			"round", state.RoundNumber,
		)
		return r.log("route_from_phase", state, NodeEnd)
	}
}

// actionTargets maps each facilitator action 1:1 to its node.
var actionTargets = map[models.FacilitatorAction]Node{
	models.ActionVote:        NodeVote,
	models.ActionContinue:    NodePersonaContribute,
	models.ActionResearch:    NodeResearch,
	models.ActionModerator:   NodeModeratorIntervene,
	models.ActionClarify:     NodeClarification,
	models.ActionAnalyzeData: NodeDataAnalysis,
}

// RouteAfterFacilitator maps the pending facilitator decision to a node.
// A missing decision ends the session; an unrecognized action falls back to
// persona_contribute so the loop never crashes on a malformed decision.
func (r *Router) RouteAfterFacilitator(state *models.SessionState) Node {
	if state.FacilitatorDecision == nil {
		r.logger.Error("no facilitator decision present, routing to END",
			"phase", state.Phase,
			"round", state.RoundNumber,
		)
		return r.log("route_after_facilitator", state, NodeEnd)
	}

	action := state.FacilitatorDecision.Action
	target, ok := actionTargets[action]
	if !ok {
		r.logger.Error("unrecognized facilitator action, falling back to persona_contribute",
			"action", action,
			"phase", state.Phase,
			"round", state.RoundNumber,
		)
		target = NodePersonaContribute
	}
	return r.log("route_after_facilitator", state, target, "action", action)
}

// RouteAfterConvergenceCheck sends converged sessions to the vote,
// everything else back to the facilitator.
func (r *Router) RouteAfterConvergenceCheck(state *models.SessionState) Node {
	if state.ShouldStop {
		return r.log("route_after_convergence_check", state, NodeVote, "stop_reason", state.StopReason)
	}
	return r.log("route_after_convergence_check", state, NodeFacilitatorDecide)
}

// RouteAfterClarification pauses the session (END, awaiting user input)
// when stopping was requested, otherwise resumes the discussion.
func (r *Router) RouteAfterClarification(state *models.SessionState) Node {
	if state.ShouldStop {
		return r.log("route_after_clarification", state, NodeEnd, "stop_reason", state.StopReason)
	}
	return r.log("route_after_clarification", state, NodePersonaContribute)
}

// RouteAfterSynthesis skips meta-synthesis for single-sub-problem sessions;
// otherwise the next_subproblem step records the finished result before
// deciding what comes next.
func (r *Router) RouteAfterSynthesis(state *models.SessionState) Node {
	if state.Problem != nil && len(state.Problem.SubProblems) == 1 {
		return r.log("route_after_synthesis", state, NodeEnd, "sub_problems", 1)
	}
	return r.log("route_after_synthesis", state, NodeNextSubProblem)
}

// RouteAfterNextSubProblem selects the next sub-problem, or meta-synthesis
// when every result is present. Incomplete results with no sub-problem in
// flight is a terminal failure signal for the external collaborator - it is
// routed to END, never raised.
func (r *Router) RouteAfterNextSubProblem(state *models.SessionState) Node {
	total := 0
	if state.Problem != nil {
		total = len(state.Problem.SubProblems)
	}
	done := len(state.SubProblemResults)

	switch {
	case state.CurrentSubProblem != nil:
		return r.log("route_after_next_subproblem", state, NodeSelectPersonas, "results", done, "total", total)
	case done >= total && total > 0:
		return r.log("route_after_next_subproblem", state, NodeMetaSynthesis, "results", done, "total", total)
	default:
		r.logger.Error("sub-problem results incomplete, terminating",
			"results", done,
			"total", total,
			"round", state.RoundNumber,
		)
		return r.log("route_after_next_subproblem", state, NodeEnd, "results", done, "total", total)
	}
}

// RouteOnResume rehydrates routing after a process restart.
func (r *Router) RouteOnResume(state *models.SessionState) Node {
	done := len(state.SubProblemResults)
	total := 0
	if state.Problem != nil {
		total = len(state.Problem.SubProblems)
	}

	switch {
	case done == 0 && !state.IsResumedSession:
		// Fresh start.
		return r.log("route_on_resume", state, NodeDecompose)
	case done > 0 && state.CurrentSubProblem == nil:
		// Crashed between sub-problems: recompute the next index from the
		// completed results.
		if done < total {
			return r.log("route_on_resume", state, NodeSelectPersonas, "recomputed_index", done)
		}
		return r.log("route_on_resume", state, NodeEnd, "results", done, "total", total)
	case state.IsResumedSession && state.CurrentSubProblem != nil:
		return r.log("route_on_resume", state, NodeSelectPersonas)
	default:
		return r.log("route_on_resume", state, NodeDecompose)
	}
}
