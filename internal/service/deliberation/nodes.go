package deliberation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"quorum/internal/cache"
	"quorum/internal/domain/models"
	"quorum/internal/provider"
	"quorum/internal/router"
)

// decompose splits the problem into sub-problems. Falls back to a single
// sub-problem covering the whole goal when the collaborator yields nothing
// usable - a session must never die on a decomposition failure.
func (s *Service) decompose(ctx context.Context, state *models.SessionState) (router.Node, error) {
	state.Phase = models.PhaseDecomposition

	if state.Problem == nil {
		s.logger.Error("decompose called without a problem, terminating",
			"session_id", state.SessionID,
		)
		return router.NodeEnd, nil
	}

	text, _, err := s.text.GenerateText(ctx,
		"You decompose decision problems into 1-4 independent sub-problems. Return one sub-problem per line prefixed with '- '.",
		fmt.Sprintf("Decompose this problem for expert deliberation.\nProblem: %s\nGoal: %s", state.Problem.Statement, state.Problem.Goal),
		400, 0.3,
	)
	if err != nil {
		s.logger.Warn("decomposition generation failed, using single sub-problem",
			"session_id", state.SessionID,
			"error", err,
		)
	}

	goals := parseSubProblems(text)
	if len(goals) == 0 {
		goals = []string{state.Problem.Goal}
	}

	state.Problem.SubProblems = make([]models.SubProblem, len(goals))
	for i, g := range goals {
		state.Problem.SubProblems[i] = models.SubProblem{Index: i, Goal: g}
	}
	first := 0
	state.CurrentSubProblem = &first

	s.logger.Info("problem decomposed",
		"session_id", state.SessionID,
		"sub_problems", len(goals),
	)
	return s.router.RouteFromPhase(state), nil
}

func parseSubProblems(text string) []string {
	var goals []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if len(line) > 2 && line[1] == '.' && line[0] >= '1' && line[0] <= '9' {
			line = strings.TrimSpace(line[2:])
		}
		if line == "" {
			continue
		}
		goals = append(goals, line)
		if len(goals) == 4 {
			break
		}
	}
	return goals
}

// selectPersonas picks the expert roster for the active sub-problem,
// reusing a cached roster for semantically similar goals.
func (s *Service) selectPersonas(ctx context.Context, state *models.SessionState) (router.Node, error) {
	// A resume can land here with no sub-problem in flight; recompute the
	// next index from completed results.
	if state.CurrentSubProblem == nil {
		next := len(state.SubProblemResults)
		state.CurrentSubProblem = &next
	}

	sub := state.ActiveSubProblem()
	if sub == nil {
		s.logger.Error("no active sub-problem to select personas for, terminating",
			"session_id", state.SessionID,
		)
		return router.NodeEnd, nil
	}

	if roster, ok := s.participantCache.Lookup(ctx, sub.Goal); ok {
		state.Personas = roster
		s.logger.Info("persona roster served from cache",
			"session_id", state.SessionID,
			"personas", len(roster),
		)
	} else {
		roster = s.personas.Select(sub.Goal, s.cfg.MinPersonas, s.cfg.MaxPersonas)
		state.Personas = roster
		s.participantCache.Store(ctx, sub.Goal, roster)
		s.logger.Info("persona roster selected",
			"session_id", state.SessionID,
			"personas", len(roster),
		)
	}

	state.Phase = models.PhaseSelection
	return s.router.RouteFromPhase(state), nil
}

// initialRound runs round 0 and moves the session into discussion.
func (s *Service) initialRound(ctx context.Context, state *models.SessionState) (router.Node, error) {
	if err := s.orch.ExecuteRound(ctx, state); err != nil {
		return router.NodeEnd, err
	}
	state.Phase = models.PhaseDiscussion
	return s.router.RouteFromPhase(state), nil
}

// facilitatorDecide recomputes metrics and records the facilitator's
// control signal for the router.
func (s *Service) facilitatorDecide(ctx context.Context, state *models.SessionState) (router.Node, error) {
	state.Metrics = s.engine.Compute(ctx, problemStatement(state), state.Contributions)
	state.FacilitatorDecision = s.facilitator.Decide(state, state.Metrics)
	return s.router.RouteAfterFacilitator(state), nil
}

// personaContribute runs a discussion round, then evaluates the stopping
// condition for the convergence check.
func (s *Service) personaContribute(ctx context.Context, state *models.SessionState) (router.Node, error) {
	if err := s.orch.ExecuteRound(ctx, state); err != nil {
		return router.NodeEnd, err
	}

	state.Metrics = s.engine.Compute(ctx, problemStatement(state), state.Contributions)
	s.updateStopCondition(state)
	return s.router.RouteAfterConvergenceCheck(state), nil
}

func (s *Service) updateStopCondition(state *models.SessionState) {
	if state.Metrics != nil && state.Metrics.MeetingCompletenessIndex >= s.cfg.Thresholds.CompletenessStop && state.RoundNumber >= 3 {
		state.ShouldStop = true
		state.StopReason = "completeness index reached stopping threshold"
		return
	}
	if state.RoundNumber >= state.MaxRounds {
		state.ShouldStop = true
		state.StopReason = "round budget exhausted"
	}
}

// vote collects one vote contribution per persona and tallies the leading
// option.
func (s *Service) vote(ctx context.Context, state *models.SessionState) (router.Node, error) {
	state.ClearFacilitatorDecision()
	state.Phase = models.PhaseVote
	// Voting concludes the discussion; the stop flag has served its
	// purpose.
	state.ShouldStop = false
	state.StopReason = ""

	round := state.RoundNumber
	for _, persona := range state.Personas {
		res, err := s.gen.GenerateContribution(ctx, &provider.ContributionRequest{
			Persona:          persona,
			Phase:            models.PhaseVote,
			RoundNumber:      round,
			ProblemStatement: problemStatement(state),
			SubProblemGoal:   activeGoal(state),
			PriorContext:     lastSummary(state),
			ContributionType: "vote",
		})
		if err != nil {
			s.logger.Warn("vote generation failed for persona, abstaining",
				"session_id", state.SessionID,
				"persona", persona.Code,
				"error", err,
			)
			continue
		}
		state.Contributions = append(state.Contributions, models.Contribution{
			PersonaCode:      persona.Code,
			PersonaName:      persona.Name,
			Content:          res.Text,
			ContributionType: "vote",
			RoundNumber:      round,
			TokenCount:       res.TokenCount,
			Cost:             res.Cost,
		})
	}
	state.RoundNumber = round + 1

	return router.NodeSynthesis, nil
}

// tallyVotes extracts each vote's option line and returns the leading
// option; ties keep the first-seen option.
func tallyVotes(votes []models.Contribution) string {
	counts := make(map[string]int)
	var order []string
	for _, v := range votes {
		opt := parseVoteOption(v.Content)
		if opt == "" {
			continue
		}
		if _, seen := counts[opt]; !seen {
			order = append(order, opt)
		}
		counts[opt]++
	}

	best := ""
	bestCount := 0
	for _, opt := range order {
		if counts[opt] > bestCount {
			best = opt
			bestCount = counts[opt]
		}
	}
	return best
}

func parseVoteOption(content string) string {
	lowered := strings.ToLower(content)
	for _, marker := range []string{"i vote for", "my vote:", "vote:"} {
		if idx := strings.Index(lowered, marker); idx >= 0 {
			rest := content[idx+len(marker):]
			if end := strings.IndexAny(rest, ".\n"); end >= 0 {
				rest = rest[:end]
			}
			return strings.TrimSpace(rest)
		}
	}
	// No explicit marker; the first sentence is the position.
	if end := strings.IndexAny(content, ".\n"); end > 0 {
		return strings.TrimSpace(content[:end])
	}
	return strings.TrimSpace(content)
}

// synthesis produces the sub-problem result: a synthesis text, the vote
// outcome, and per-expert summaries that feed cross-sub-problem memory.
func (s *Service) synthesis(ctx context.Context, state *models.SessionState) (router.Node, error) {
	state.Phase = models.PhaseSynthesis
	sub := state.ActiveSubProblem()
	goal := activeGoal(state)

	synthesisText, _, err := s.text.GenerateText(ctx,
		"You write the final synthesis of an expert deliberation: the decision, its rationale, and dissenting views.",
		fmt.Sprintf("Synthesize the deliberation on %q.\nRound summaries:\n%s", goal, joinSummaries(state)),
		600, 0.3,
	)
	if err != nil {
		s.logger.Warn("synthesis generation failed, composing from summaries",
			"session_id", state.SessionID,
			"error", err,
		)
		synthesisText = joinSummaries(state)
	}

	votes := votesOf(state)
	result := models.SubProblemResult{
		Goal:            goal,
		Synthesis:       synthesisText,
		WinningOption:   tallyVotes(votes),
		ExpertSummaries: s.summarizeExperts(ctx, state),
		CompletedAt:     time.Now(),
	}
	if sub != nil {
		result.SubProblemIndex = sub.Index
	}
	state.SubProblemResults = append(state.SubProblemResults, result)
	state.CurrentSubProblem = nil

	if state.Problem != nil && len(state.Problem.SubProblems) == 1 {
		state.FinalDecision = synthesisText
		state.Phase = models.PhaseEnd
	}
	return s.router.RouteAfterSynthesis(state), nil
}

func votesOf(state *models.SessionState) []models.Contribution {
	var votes []models.Contribution
	for _, c := range state.Contributions {
		if c.ContributionType == "vote" {
			votes = append(votes, c)
		}
	}
	return votes
}

// summarizeExperts condenses each persona's contributions into a one-shot
// position summary. Bulk calls run concurrently under the counting
// semaphore to respect upstream rate limits.
func (s *Service) summarizeExperts(ctx context.Context, state *models.SessionState) map[string]string {
	summaries := make(map[string]string, len(state.Personas))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, persona := range state.Personas {
		var texts []string
		for _, c := range state.Contributions {
			if c.PersonaCode == persona.Code {
				texts = append(texts, c.Content)
			}
		}
		if len(texts) == 0 {
			continue
		}

		if err := s.bulk.Acquire(ctx, 1); err != nil {
			s.logger.Warn("expert summarization cancelled", "error", err)
			break
		}
		wg.Add(1)
		go func(persona models.Persona, texts []string) {
			defer wg.Done()
			defer s.bulk.Release(1)

			summary, _, err := s.text.GenerateText(ctx,
				"Summarize this expert's overall position in one or two sentences.",
				fmt.Sprintf("%s (%s) said:\n%s", persona.Name, persona.Role, strings.Join(texts, "\n")),
				150, 0.2,
			)
			if err != nil {
				s.logger.Warn("expert summary failed, omitting from result",
					"persona", persona.Code,
					"error", err,
				)
				return
			}
			mu.Lock()
			summaries[persona.Code] = summary
			mu.Unlock()
		}(persona, texts)
	}
	wg.Wait()
	return summaries
}

// nextSubProblem records the just-finished result (already appended by
// synthesis) and prepares the next sub-problem, resetting per-sub-problem
// round state.
func (s *Service) nextSubProblem(ctx context.Context, state *models.SessionState) (router.Node, error) {
	total := 0
	if state.Problem != nil {
		total = len(state.Problem.SubProblems)
	}
	done := len(state.SubProblemResults)

	if done < total {
		next := done
		state.CurrentSubProblem = &next
		state.RoundNumber = 0
		state.Contributions = nil
		state.RoundSummaries = nil
		state.Metrics = nil
		state.FacilitatorGuidance = nil
		state.PendingResearchQueries = nil
		state.Personas = nil
		state.ShouldStop = false
		state.StopReason = ""
		state.Phase = models.PhaseDecomposition
	}

	return s.router.RouteAfterNextSubProblem(state), nil
}

// metaSynthesis combines every sub-problem result into the final decision
// artifact.
func (s *Service) metaSynthesis(ctx context.Context, state *models.SessionState) (router.Node, error) {
	state.Phase = models.PhaseMetaSynthesis

	var b strings.Builder
	for _, r := range state.SubProblemResults {
		fmt.Fprintf(&b, "Sub-problem %d (%s): %s\n", r.SubProblemIndex+1, r.Goal, r.Synthesis)
	}

	final, _, err := s.text.GenerateText(ctx,
		"You combine sub-problem syntheses into one coherent final decision artifact.",
		fmt.Sprintf("Combine these results into a final decision on %q:\n%s", problemStatement(state), b.String()),
		800, 0.3,
	)
	if err != nil {
		s.logger.Warn("meta-synthesis generation failed, concatenating results",
			"session_id", state.SessionID,
			"error", err,
		)
		final = b.String()
	}

	state.FinalDecision = final
	state.Phase = models.PhaseEnd
	return router.NodeEnd, nil
}

// research consumes pending queries: consolidates near-duplicates into
// batches, reuses cross-session cached results, executes the rest, and
// fans results back out with cost split evenly.
func (s *Service) research(ctx context.Context, state *models.SessionState) (router.Node, error) {
	decision := state.FacilitatorDecision
	state.ClearFacilitatorDecision()

	queries := state.PendingResearchQueries
	if decision != nil && decision.ResearchQuery != "" && !containsFold(queries, decision.ResearchQuery) {
		queries = append(queries, decision.ResearchQuery)
	}
	state.PendingResearchQueries = nil
	if len(queries) == 0 {
		return router.NodePersonaContribute, nil
	}

	batches := s.researchCache.Consolidate(ctx, queries)
	for _, batch := range batches {
		var result string
		var cost float64

		if cached, ok := s.researchCache.Lookup(ctx, batch.Merged); ok {
			result = cached.Result
			s.logger.Info("research served from cross-session cache",
				"session_id", state.SessionID,
				"queries", len(batch.Queries),
			)
		} else {
			text, _, err := s.text.GenerateText(ctx,
				"You are a research assistant. Answer the question factually and concisely, noting uncertainty.",
				batch.Merged, 500, 0.2,
			)
			if err != nil {
				s.logger.Warn("research execution failed, queries dropped this round",
					"session_id", state.SessionID,
					"error", err,
				)
				continue
			}
			result = text
			cost = 0.001 * float64(len(batch.Queries))
			s.researchCache.Store(ctx, batch.Merged, &cache.ResearchResult{
				Query:  batch.Merged,
				Result: result,
				Cost:   cost,
			})
		}

		for _, r := range batch.FanOut(result, cost) {
			embedding, err := s.sim.Embed(ctx, r.Query, provider.EmbeddingKindDocument)
			if err != nil {
				// The completed query still counts; it just cannot gate
				// future dedup.
				embedding = nil
			}
			entry := models.ResearchQuery{
				Query:     r.Query,
				Embedding: embedding,
				Result:    r.Result,
				Cost:      r.Cost,
			}
			state.ResearchResults = append(state.ResearchResults, entry)
			state.CompletedResearchQueries = append(state.CompletedResearchQueries, entry)
		}
	}

	return router.NodePersonaContribute, nil
}

// moderatorIntervene injects moderation guidance into the next round.
func (s *Service) moderatorIntervene(ctx context.Context, state *models.SessionState) (router.Node, error) {
	state.ClearFacilitatorDecision()

	guidance, _, err := s.text.GenerateText(ctx,
		"You are a neutral moderator. In one or two sentences, redirect a deadlocked expert panel toward resolvable common ground.",
		fmt.Sprintf("The panel deliberating %q is deadlocked. Recent summary: %s", problemStatement(state), lastSummary(state)),
		150, 0.4,
	)
	if err != nil {
		s.logger.Warn("moderator generation failed, continuing without intervention",
			"session_id", state.SessionID,
			"error", err,
		)
		return router.NodePersonaContribute, nil
	}

	state.FacilitatorGuidance = append(state.FacilitatorGuidance, "Moderator: "+guidance)
	return router.NodePersonaContribute, nil
}

// clarification pauses the session awaiting user input; resumption clears
// the pause.
func (s *Service) clarification(ctx context.Context, state *models.SessionState) (router.Node, error) {
	state.ClearFacilitatorDecision()
	state.Phase = models.PhaseClarification
	state.ShouldStop = true
	state.StopReason = "awaiting user clarification"
	return s.router.RouteAfterClarification(state), nil
}

// dataAnalysis looks up previously analyzed similar datasets and feeds any
// match into the discussion as research context.
func (s *Service) dataAnalysis(ctx context.Context, state *models.SessionState) (router.Node, error) {
	state.ClearFacilitatorDecision()

	match, ok := s.datasetCache.Lookup(ctx, problemStatement(state), nil)
	if !ok {
		s.logger.Info("no similar analyzed dataset found",
			"session_id", state.SessionID,
		)
		return router.NodePersonaContribute, nil
	}

	entry := models.ResearchQuery{
		Query:  "similar dataset lookup",
		Result: fmt.Sprintf("Previously analyzed dataset %s is similar to this problem's data", match.DatasetID),
	}
	state.ResearchResults = append(state.ResearchResults, entry)
	s.logger.Info("similar dataset found",
		"session_id", state.SessionID,
		"dataset_id", match.DatasetID,
		"shared_columns", len(match.SharedColumns),
	)
	return router.NodePersonaContribute, nil
}

func problemStatement(state *models.SessionState) string {
	if state.Problem == nil {
		return ""
	}
	return state.Problem.Statement
}

func activeGoal(state *models.SessionState) string {
	if sub := state.ActiveSubProblem(); sub != nil {
		return sub.Goal
	}
	if state.Problem != nil {
		return state.Problem.Goal
	}
	return ""
}

func lastSummary(state *models.SessionState) string {
	if len(state.RoundSummaries) == 0 {
		return ""
	}
	return state.RoundSummaries[len(state.RoundSummaries)-1].Summary
}

func joinSummaries(state *models.SessionState) string {
	var b strings.Builder
	for _, rs := range state.RoundSummaries {
		fmt.Fprintf(&b, "Round %d: %s\n", rs.RoundNumber, rs.Summary)
	}
	return b.String()
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
