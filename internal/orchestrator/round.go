// Package orchestrator executes one deliberation round: parallel persona
// fan-out plus all post-processing, exactly once per round number.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"quorum/internal/challenge"
	"quorum/internal/config"
	"quorum/internal/domain/models"
	"quorum/internal/metrics"
	"quorum/internal/provider"
	"quorum/internal/similarity"
)

// Orchestrator runs rounds for a session. All collaborators are injected;
// the orchestrator holds no global state.
type Orchestrator struct {
	gen       provider.ContributionGenerator
	text      provider.TextGenerator
	sim       *similarity.Service
	engine    *metrics.Engine
	validator *challenge.Validator
	cfg       *config.Deliberation
	logger    *slog.Logger
}

// New creates a round orchestrator.
func New(gen provider.ContributionGenerator, text provider.TextGenerator, sim *similarity.Service, engine *metrics.Engine, validator *challenge.Validator, cfg *config.Deliberation, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		gen:       gen,
		text:      text,
		sim:       sim,
		engine:    engine,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
	}
}

// ExecuteRound runs one round of parallel contributions and its
// post-processing, mutating the session state: contributions appended,
// round summaries updated, round number advanced, facilitator decision
// cleared.
//
// The double-execution guard makes checkpoint replay safe: if the target
// round already has contributions, generation is skipped entirely and only
// the round number advances.
func (o *Orchestrator) ExecuteRound(ctx context.Context, state *models.SessionState) error {
	round := state.RoundNumber
	state.ClearFacilitatorDecision()

	if existing := state.ContributionsForRound(round); len(existing) > 0 {
		o.logger.Info("round already executed, skipping regeneration",
			"session_id", state.SessionID,
			"round", round,
			"existing_contributions", len(existing),
		)
		state.RoundNumber = round + 1
		return nil
	}

	contributions := o.fanOut(ctx, state, round)
	// Guidance is consumed by the fan-out it was queued for; anything
	// detected below is queued fresh for the next round.
	state.FacilitatorGuidance = nil

	if len(contributions) == 0 {
		o.logger.Warn("no contributions generated this round",
			"session_id", state.SessionID,
			"round", round,
			"personas", len(state.Personas),
		)
	}

	contributions = o.deduplicate(ctx, contributions)
	contributions = o.enforceChallenge(ctx, state, contributions, round)

	if guidance := o.engine.DetectShallow(contributions); len(guidance) > 0 {
		state.FacilitatorGuidance = append(state.FacilitatorGuidance, guidance...)
		o.logger.Info("shallow contributions detected, guidance queued",
			"session_id", state.SessionID,
			"round", round,
			"guidance_items", len(guidance),
		)
	}

	state.Contributions = append(state.Contributions, contributions...)

	o.summarizeRound(ctx, state, contributions, round)
	o.detectResearchNeeds(ctx, state, contributions)

	state.RoundNumber = round + 1
	return nil
}

// fanOut generates one contribution per active persona concurrently. Each
// generation is independent: failure of one is logged and skipped, never
// fatal to the round. Completed results are ordered by persona for
// deterministic state, since parallel completion order is not guaranteed.
func (o *Orchestrator) fanOut(ctx context.Context, state *models.SessionState, round int) []models.Contribution {
	contributionType := "discussion"
	if o.challengeWindow().Contains(round) {
		contributionType = "challenge"
	}

	goal := ""
	if sub := state.ActiveSubProblem(); sub != nil {
		goal = sub.Goal
	} else if state.Problem != nil {
		goal = state.Problem.Goal
	}
	statement := ""
	if state.Problem != nil {
		statement = state.Problem.Statement
	}
	priorContext := o.priorContext(state)
	guidance := state.FacilitatorGuidance

	results := make([]*models.Contribution, len(state.Personas))
	var wg sync.WaitGroup
	for idx, persona := range state.Personas {
		wg.Add(1)
		go func(idx int, persona models.Persona) {
			defer wg.Done()
			res, err := o.gen.GenerateContribution(ctx, &provider.ContributionRequest{
				Persona:          persona,
				Phase:            state.Phase,
				RoundNumber:      round,
				ProblemStatement: statement,
				SubProblemGoal:   goal,
				PriorContext:     priorContext,
				Memory:           o.buildPersonaMemory(state, persona.Code),
				Guidance:         guidance,
				ContributionType: contributionType,
			})
			if err != nil {
				o.logger.Warn("contribution generation failed, continuing without it",
					"session_id", state.SessionID,
					"round", round,
					"persona", persona.Code,
					"error", err,
				)
				return
			}
			results[idx] = &models.Contribution{
				PersonaCode:      persona.Code,
				PersonaName:      persona.Name,
				Content:          res.Text,
				ContributionType: contributionType,
				RoundNumber:      round,
				TokenCount:       res.TokenCount,
				Cost:             res.Cost,
			}
		}(idx, persona)
	}
	wg.Wait()

	out := make([]models.Contribution, 0, len(results))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// buildPersonaMemory concatenates the persona's summaries from prior
// sub-problem results with their originating goals, so continuing experts
// retain their positions across sub-problems.
func (o *Orchestrator) buildPersonaMemory(state *models.SessionState, personaCode string) string {
	var parts []string
	for _, result := range state.SubProblemResults {
		summary, ok := result.ExpertSummaries[personaCode]
		if !ok || summary == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("On %q you concluded: %s", result.Goal, summary))
	}
	return strings.Join(parts, "\n")
}

// priorContext is the latest round summary, giving personas the thread of
// discussion without replaying every contribution.
func (o *Orchestrator) priorContext(state *models.SessionState) string {
	if len(state.RoundSummaries) == 0 {
		return ""
	}
	last := state.RoundSummaries[len(state.RoundSummaries)-1]
	return fmt.Sprintf("Round %d summary: %s", last.RoundNumber, last.Summary)
}

// deduplicate filters near-duplicate contributions by embedding
// similarity. Fails open (keeps everything) when embeddings are
// unavailable, and guarantees at least one contribution survives even if
// all are flagged as duplicates.
func (o *Orchestrator) deduplicate(ctx context.Context, contributions []models.Contribution) []models.Contribution {
	if len(contributions) < 2 {
		return contributions
	}

	texts := make([]string, len(contributions))
	for i, c := range contributions {
		texts[i] = c.Content
	}
	vecs := o.sim.EmbedBatch(ctx, texts, provider.EmbeddingKindDocument)

	kept := make([]models.Contribution, 0, len(contributions))
	keptVecs := make([][]float32, 0, len(contributions))
	for i, c := range contributions {
		if vecs[i] == nil {
			// Cannot compare; keep rather than risk dropping unique input.
			kept = append(kept, c)
			keptVecs = append(keptVecs, nil)
			continue
		}
		duplicate := false
		for _, kv := range keptVecs {
			if kv == nil {
				continue
			}
			score, err := similarity.CosineSimilarity(vecs[i], kv)
			if err != nil {
				continue
			}
			if score >= o.cfg.Thresholds.ContributionDedup {
				duplicate = true
				break
			}
		}
		if duplicate {
			o.logger.Info("near-duplicate contribution dropped",
				"persona", c.PersonaCode,
				"round", c.RoundNumber,
			)
			continue
		}
		kept = append(kept, c)
		keptVecs = append(keptVecs, vecs[i])
	}

	// Failsafe: a round must never lose every contribution to dedup.
	if len(kept) == 0 {
		kept = contributions[:1]
	}
	return kept
}

func (o *Orchestrator) challengeWindow() challenge.Window {
	return challenge.Window{
		Start: o.cfg.Challenge.StartRound,
		End:   o.cfg.Challenge.EndRound,
	}
}

// enforceChallenge gates challenge-phase rounds: contributions failing the
// marker threshold get exactly one re-prompt cycle. The original stands if
// the retry fails too - the validator gates, it does not censor.
func (o *Orchestrator) enforceChallenge(ctx context.Context, state *models.SessionState, contributions []models.Contribution, round int) []models.Contribution {
	if !o.challengeWindow().Contains(round) {
		return contributions
	}

	for i, c := range contributions {
		result := o.validator.ValidateRound(c.Content, round, o.cfg.Challenge.MinMarkers)
		if result.PassesThreshold {
			continue
		}

		o.logger.Info("challenge validation failed, re-prompting",
			"session_id", state.SessionID,
			"round", round,
			"persona", c.PersonaCode,
			"markers_found", result.MarkerCount,
		)

		persona := o.findPersona(state, c.PersonaCode)
		if persona == nil {
			continue
		}
		goal := ""
		if sub := state.ActiveSubProblem(); sub != nil {
			goal = sub.Goal
		}
		res, err := o.gen.GenerateContribution(ctx, &provider.ContributionRequest{
			Persona:          *persona,
			Phase:            state.Phase,
			RoundNumber:      round,
			ProblemStatement: problemStatement(state),
			SubProblemGoal:   goal,
			PriorContext:     o.validator.RePrompt(c.Content, result),
			ContributionType: "challenge",
		})
		if err != nil {
			o.logger.Warn("challenge re-prompt failed, keeping original contribution",
				"persona", c.PersonaCode,
				"error", err,
			)
			continue
		}

		retry := o.validator.ValidateRound(res.Text, round, o.cfg.Challenge.MinMarkers)
		if retry.PassesThreshold || retry.MarkerCount > result.MarkerCount {
			contributions[i].Content = res.Text
			contributions[i].TokenCount += res.TokenCount
			contributions[i].Cost += res.Cost
		}
	}
	return contributions
}

func (o *Orchestrator) findPersona(state *models.SessionState, code string) *models.Persona {
	for i := range state.Personas {
		if state.Personas[i].Code == code {
			return &state.Personas[i]
		}
	}
	return nil
}

func problemStatement(state *models.SessionState) string {
	if state.Problem == nil {
		return ""
	}
	return state.Problem.Statement
}

// summarizeRound produces a short summary keyed by round number and phase.
// Skipped for round 0 and empty contribution sets.
func (o *Orchestrator) summarizeRound(ctx context.Context, state *models.SessionState, contributions []models.Contribution, round int) {
	if round == 0 || len(contributions) == 0 {
		return
	}

	var b strings.Builder
	for _, c := range contributions {
		fmt.Fprintf(&b, "%s (%s): %s\n", c.PersonaName, c.PersonaCode, c.Content)
	}

	summary, _, err := o.text.GenerateText(ctx,
		"You summarize expert deliberation rounds in two or three sentences, capturing positions and open disagreements.",
		fmt.Sprintf("Summarize round %d of the deliberation on %q:\n%s", round, problemStatement(state), b.String()),
		300, 0.3,
	)
	if err != nil {
		o.logger.Warn("round summarization failed, round left unsummarized",
			"session_id", state.SessionID,
			"round", round,
			"error", err,
		)
		return
	}

	state.RoundSummaries = append(state.RoundSummaries, models.RoundSummary{
		RoundNumber: round,
		Phase:       state.Phase,
		Summary:     summary,
	})
}
