package models

import (
	"time"
)

// Phase is the coarse deliberation stage a session is in.
type Phase string

const (
	PhaseDecomposition Phase = "decomposition"
	PhaseSelection     Phase = "selection"
	PhaseDiscussion    Phase = "discussion"
	PhaseVote          Phase = "vote"
	PhaseSynthesis     Phase = "synthesis"
	PhaseMetaSynthesis Phase = "meta_synthesis"
	PhaseClarification Phase = "clarification"
	PhaseEnd           Phase = "end"
)

// FacilitatorAction is the control signal chosen after a round.
type FacilitatorAction string

const (
	ActionVote        FacilitatorAction = "vote"
	ActionContinue    FacilitatorAction = "continue"
	ActionResearch    FacilitatorAction = "research"
	ActionModerator   FacilitatorAction = "moderator"
	ActionClarify     FacilitatorAction = "clarify"
	ActionAnalyzeData FacilitatorAction = "analyze_data"
)

// Persona is a configured expert participant profile. Contributes once per
// round.
type Persona struct {
	Code         string   `json:"code" yaml:"code"`
	Name         string   `json:"name" yaml:"name"`
	Role         string   `json:"role" yaml:"role"`
	Expertise    []string `json:"expertise" yaml:"expertise"`
	SystemPrompt string   `json:"system_prompt" yaml:"system_prompt"`
	Temperature  float64  `json:"temperature" yaml:"temperature"`
}

// SubProblem is a decomposed unit of the original problem, deliberated
// independently before meta-synthesis.
type SubProblem struct {
	Index   int    `json:"index"`
	Goal    string `json:"goal"`
	Context string `json:"context,omitempty"`
}

// Problem is the canonical typed problem representation. It is produced
// once at the decomposition node (or at checkpoint deserialization) and is
// the only form downstream code sees.
type Problem struct {
	Statement   string       `json:"statement"`
	Goal        string       `json:"goal"`
	SubProblems []SubProblem `json:"sub_problems"`
}

// SubProblemResult records the outcome of one fully deliberated sub-problem.
type SubProblemResult struct {
	SubProblemIndex int               `json:"sub_problem_index"`
	Goal            string            `json:"goal"`
	Synthesis       string            `json:"synthesis"`
	WinningOption   string            `json:"winning_option,omitempty"`
	ExpertSummaries map[string]string `json:"expert_summaries,omitempty"`
	CompletedAt     time.Time         `json:"completed_at"`
}

// Contribution is one persona's statement in one round. Created once by the
// orchestrator and immutable thereafter.
type Contribution struct {
	PersonaCode      string  `json:"persona_code"`
	PersonaName      string  `json:"persona_name"`
	Content          string  `json:"content"`
	ContributionType string  `json:"contribution_type"`
	RoundNumber      int     `json:"round_number"`
	TokenCount       int     `json:"token_count"`
	Cost             float64 `json:"cost"`
}

// RoundSummary is a short summary of one completed round.
type RoundSummary struct {
	RoundNumber int    `json:"round_number"`
	Phase       Phase  `json:"phase"`
	Summary     string `json:"summary"`
}

// FacilitatorDecision is the unconsumed control signal for the router. The
// node that acts on it clears it in the same transition.
type FacilitatorDecision struct {
	Action        FacilitatorAction `json:"action"`
	Reason        string            `json:"reason,omitempty"`
	ResearchQuery string            `json:"research_query,omitempty"`
}

// ResearchQuery is an executed (or pending) external research request; the
// embedding of completed queries gates re-research at 0.85 similarity.
type ResearchQuery struct {
	Query     string    `json:"query"`
	Embedding []float32 `json:"embedding,omitempty"`
	Result    string    `json:"result,omitempty"`
	Cost      float64   `json:"cost,omitempty"`
}

// SessionState is the full durable state of one deliberation session. Owned
// exclusively by the session; mutated only by router/orchestrator nodes.
type SessionState struct {
	SessionID   string `json:"session_id"`
	Phase       Phase  `json:"phase"`
	RoundNumber int    `json:"round_number"`
	MaxRounds   int    `json:"max_rounds"`

	Problem           *Problem           `json:"problem,omitempty"`
	CurrentSubProblem *int               `json:"current_sub_problem,omitempty"`
	SubProblemResults []SubProblemResult `json:"sub_problem_results,omitempty"`

	Personas       []Persona      `json:"personas,omitempty"`
	Contributions  []Contribution `json:"contributions,omitempty"`
	RoundSummaries []RoundSummary `json:"round_summaries,omitempty"`

	Metrics             *DeliberationMetrics `json:"metrics,omitempty"`
	FacilitatorDecision *FacilitatorDecision `json:"facilitator_decision,omitempty"`
	FacilitatorGuidance []string             `json:"facilitator_guidance,omitempty"`

	ShouldStop bool   `json:"should_stop"`
	StopReason string `json:"stop_reason,omitempty"`

	ResearchResults          []ResearchQuery `json:"research_results,omitempty"`
	CompletedResearchQueries []ResearchQuery `json:"completed_research_queries,omitempty"`
	PendingResearchQueries   []string        `json:"pending_research_queries,omitempty"`

	ParallelMode     bool   `json:"parallel_mode"`
	IsResumedSession bool   `json:"is_resumed_session"`
	FinalDecision    string `json:"final_decision,omitempty"`
}

// ContributionsForRound returns the contributions recorded for the given
// round number.
func (s *SessionState) ContributionsForRound(round int) []Contribution {
	var out []Contribution
	for _, c := range s.Contributions {
		if c.RoundNumber == round {
			out = append(out, c)
		}
	}
	return out
}

// RecentContributions returns up to n of the most recent contributions, in
// original order.
func (s *SessionState) RecentContributions(n int) []Contribution {
	if len(s.Contributions) <= n {
		return s.Contributions
	}
	return s.Contributions[len(s.Contributions)-n:]
}

// ActiveSubProblem returns the sub-problem currently under deliberation, or
// nil when none is set.
func (s *SessionState) ActiveSubProblem() *SubProblem {
	if s.Problem == nil || s.CurrentSubProblem == nil {
		return nil
	}
	idx := *s.CurrentSubProblem
	if idx < 0 || idx >= len(s.Problem.SubProblems) {
		return nil
	}
	return &s.Problem.SubProblems[idx]
}

// ClearFacilitatorDecision consumes the pending decision. Every node that
// acts on the decision calls this in the same transition so the signal can
// never re-trigger.
func (s *SessionState) ClearFacilitatorDecision() {
	s.FacilitatorDecision = nil
}
