package orchestrator

import (
	"context"
	"strings"

	"quorum/internal/domain/models"
	"quorum/internal/provider"
	"quorum/internal/similarity"
)

// gapPhrases is the informational-gap language that triggers proactive
// research.
var gapPhrases = []string{
	"we need data",
	"need more information",
	"would need to verify",
	"unclear whether",
	"no evidence",
	"unknown at this point",
	"hard to say without",
	"lacking data",
}

// detectResearchNeeds scans the round's contributions for informational
// gaps and queues new research. Before queueing, each candidate query is
// embedded and checked against completed research at the redundancy
// threshold; on embedding failure the research is allowed to proceed (fail
// open) rather than silently blocked.
func (o *Orchestrator) detectResearchNeeds(ctx context.Context, state *models.SessionState, contributions []models.Contribution) {
	for _, c := range contributions {
		query, found := extractGapQuery(c.Content)
		if !found {
			continue
		}
		if containsQuery(state.PendingResearchQueries, query) {
			continue
		}

		if o.isRedundant(ctx, state, query) {
			o.logger.Info("research query already covered, skipping",
				"session_id", state.SessionID,
				"persona", c.PersonaCode,
			)
			continue
		}

		state.PendingResearchQueries = append(state.PendingResearchQueries, query)
		o.logger.Info("informational gap detected, research queued",
			"session_id", state.SessionID,
			"round", c.RoundNumber,
			"persona", c.PersonaCode,
		)
	}
}

// isRedundant compares the candidate query against completed research
// query embeddings.
func (o *Orchestrator) isRedundant(ctx context.Context, state *models.SessionState, query string) bool {
	if len(state.CompletedResearchQueries) == 0 {
		return false
	}

	queryVec, err := o.sim.Embed(ctx, query, provider.EmbeddingKindQuery)
	if err != nil {
		o.logger.Warn("research dedup embed failed, allowing research to proceed", "error", err)
		return false
	}

	for _, done := range state.CompletedResearchQueries {
		if done.Embedding == nil {
			continue
		}
		score, serr := similarity.CosineSimilarity(queryVec, done.Embedding)
		if serr != nil {
			continue
		}
		if score >= o.cfg.Thresholds.ResearchRedundancy {
			return true
		}
	}
	return false
}

// extractGapQuery returns the sentence containing the first gap phrase,
// normalized into a research question.
func extractGapQuery(content string) (string, bool) {
	lowered := strings.ToLower(content)
	for _, phrase := range gapPhrases {
		idx := strings.Index(lowered, phrase)
		if idx < 0 {
			continue
		}

		// Expand to sentence boundaries around the phrase.
		start := strings.LastIndexAny(lowered[:idx], ".!?")
		if start < 0 {
			start = 0
		} else {
			start++
		}
		end := strings.IndexAny(lowered[idx:], ".!?")
		if end < 0 {
			end = len(content)
		} else {
			end += idx
		}

		sentence := strings.TrimSpace(content[start:end])
		if sentence == "" {
			continue
		}
		return sentence, true
	}
	return "", false
}

func containsQuery(queries []string, query string) bool {
	for _, q := range queries {
		if strings.EqualFold(q, query) {
			return true
		}
	}
	return false
}
