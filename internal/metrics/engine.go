// Package metrics scores the health of a deliberation from recent
// contributions. The five bounded signals plus the composite completeness
// index drive the facilitator's stopping decisions.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"quorum/internal/challenge"
	"quorum/internal/config"
	"quorum/internal/domain/models"
	"quorum/internal/provider"
	"quorum/internal/similarity"
)

const (
	// recentWindow is the number of trailing contributions each score is
	// computed over.
	recentWindow = 6
	// minContributions gates convergence, exploration, focus and the
	// composite index.
	minContributions = 3
	// pairwiseMin gates novelty and conflict, which need enough texts for
	// pairwise comparison to mean anything.
	pairwiseMin = 6
)

// Fallback constants. The asymmetry (neutral novelty/conflict, worst-case
// exploration, best-case focus) is observed behavior that downstream
// stopping logic depends on; do not unify.
const (
	fallbackNovelty          = 0.5
	fallbackConflict         = 0.5
	fallbackExplorationEmpty = 0.0
	fallbackExplorationError = 0.5
	fallbackFocusEmpty       = 1.0
	fallbackFocusError       = 0.8
	fallbackConvergenceError = 0.5
	fallbackCompletenessErr  = 0.5
)

// criticalAspects is the fixed set of decision aspects the exploration
// score measures coverage of.
var criticalAspects = []string{
	"risks and mitigations",
	"costs and budget impact",
	"implementation feasibility",
	"stakeholder and customer impact",
	"alternative options considered",
	"long-term consequences",
	"dependencies and constraints",
	"success metrics and measurement",
}

// Engine computes deliberation quality metrics. All five scores and the
// composite are recomputed idempotently from scratch each round; trend
// usage across rounds is the caller's business.
type Engine struct {
	sim        *similarity.Service
	validator  *challenge.Validator
	weights    config.Weights
	thresholds config.Thresholds
	bulk       *semaphore.Weighted
	logger     *slog.Logger

	aspectMu   sync.Mutex
	aspectVecs [][]float32
}

// NewEngine creates a metrics engine. bulkConcurrency bounds concurrent
// embedding calls (upstream rate limits).
func NewEngine(sim *similarity.Service, validator *challenge.Validator, weights config.Weights, thresholds config.Thresholds, bulkConcurrency int, logger *slog.Logger) *Engine {
	if bulkConcurrency <= 0 {
		bulkConcurrency = 5
	}
	return &Engine{
		sim:        sim,
		validator:  validator,
		weights:    weights,
		thresholds: thresholds,
		bulk:       semaphore.NewWeighted(int64(bulkConcurrency)),
		logger:     logger,
	}
}

// Compute scores the discussion. Never returns an error: provider failures
// degrade to the documented fallback constants with a logged warning.
func (e *Engine) Compute(ctx context.Context, problemStatement string, contributions []models.Contribution) *models.DeliberationMetrics {
	m := &models.DeliberationMetrics{
		NoveltyScore:     fallbackNovelty,
		ConflictScore:    fallbackConflict,
		ExplorationScore: fallbackExplorationEmpty,
		FocusScore:       fallbackFocusEmpty,
	}

	total := len(contributions)
	if total < minContributions {
		m.MeetingCompletenessIndex = 0.0
		return m
	}

	recent := contributions
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}
	texts := make([]string, len(recent))
	for i, c := range recent {
		texts[i] = c.Content
	}

	vecs := e.embedBounded(ctx, texts)

	conv := e.convergence(vecs)
	m.ConvergenceScore = &conv

	if total >= pairwiseMin {
		m.NoveltyScore = e.novelty(vecs)
		m.ConflictScore = e.validator.DisagreementDensity(texts)
	}

	m.ExplorationScore, m.AspectCoverage = e.exploration(ctx, vecs)
	m.FocusScore = e.focus(ctx, problemStatement, vecs)
	m.MeetingCompletenessIndex = e.completeness(conv, m)

	e.logger.Debug("deliberation metrics computed",
		"contributions", total,
		"convergence", conv,
		"novelty", m.NoveltyScore,
		"conflict", m.ConflictScore,
		"exploration", m.ExplorationScore,
		"focus", m.FocusScore,
		"completeness_index", m.MeetingCompletenessIndex,
	)
	return m
}

// embedBounded embeds texts concurrently under the bulk semaphore. A nil
// vector marks an individual failure (fail-open).
func (e *Engine) embedBounded(ctx context.Context, texts []string) [][]float32 {
	vecs := make([][]float32, len(texts))
	var wg sync.WaitGroup
	for i, t := range texts {
		if err := e.bulk.Acquire(ctx, 1); err != nil {
			e.logger.Warn("bulk embed cancelled", "error", err)
			break
		}
		wg.Add(1)
		go func(i int, t string) {
			defer wg.Done()
			defer e.bulk.Release(1)
			vec, err := e.sim.Embed(ctx, t, provider.EmbeddingKindDocument)
			if err != nil {
				e.logger.Warn("contribution embed failed", "index", i, "error", err)
				return
			}
			vecs[i] = vec
		}(i, t)
	}
	wg.Wait()
	return vecs
}

// convergence is the mean pairwise similarity among recent contributions.
func (e *Engine) convergence(vecs [][]float32) float64 {
	var sum float64
	pairs := 0
	for i := 0; i < len(vecs); i++ {
		if vecs[i] == nil {
			continue
		}
		for j := i + 1; j < len(vecs); j++ {
			if vecs[j] == nil {
				continue
			}
			score, err := similarity.CosineSimilarity(vecs[i], vecs[j])
			if err != nil {
				continue
			}
			sum += score
			pairs++
		}
	}
	if pairs == 0 {
		e.logger.Warn("convergence unavailable, using fallback", "fallback", fallbackConvergenceError)
		return fallbackConvergenceError
	}
	return clamp01(sum / float64(pairs))
}

// novelty measures uniqueness of recent contributions relative to each
// other: one minus the mean of each contribution's closest-neighbor
// similarity.
func (e *Engine) novelty(vecs [][]float32) float64 {
	var sum float64
	counted := 0
	for i := range vecs {
		if vecs[i] == nil {
			continue
		}
		best := 0.0
		found := false
		for j := range vecs {
			if i == j || vecs[j] == nil {
				continue
			}
			score, err := similarity.CosineSimilarity(vecs[i], vecs[j])
			if err != nil {
				continue
			}
			if !found || score > best {
				best = score
				found = true
			}
		}
		if found {
			sum += best
			counted++
		}
	}
	if counted == 0 {
		e.logger.Warn("novelty unavailable, using fallback", "fallback", fallbackNovelty)
		return fallbackNovelty
	}
	return clamp01(1 - sum/float64(counted))
}

// exploration measures coverage of the fixed critical decision aspects by
// recent contributions.
func (e *Engine) exploration(ctx context.Context, vecs [][]float32) (float64, []models.AspectCoverage) {
	aspectVecs, err := e.aspectEmbeddings(ctx)
	if err != nil {
		e.logger.Warn("exploration computation failed, using fallback",
			"fallback", fallbackExplorationError,
			"error", err,
		)
		return fallbackExplorationError, nil
	}

	coverage := make([]models.AspectCoverage, len(criticalAspects))
	covered := 0
	for a, aspectVec := range aspectVecs {
		best := 0.0
		for _, vec := range vecs {
			if vec == nil {
				continue
			}
			score, serr := similarity.CosineSimilarity(aspectVec, vec)
			if serr != nil {
				continue
			}
			if score > best {
				best = score
			}
		}
		hit := best >= e.thresholds.AspectCoverage
		if hit {
			covered++
		}
		coverage[a] = models.AspectCoverage{
			Aspect:  criticalAspects[a],
			Covered: hit,
			Score:   clamp01(best),
		}
	}
	return float64(covered) / float64(len(criticalAspects)), coverage
}

// focus is the on-topic ratio of recent contributions against the problem
// statement.
func (e *Engine) focus(ctx context.Context, problemStatement string, vecs [][]float32) float64 {
	problemVec, err := e.sim.Embed(ctx, problemStatement, provider.EmbeddingKindQuery)
	if err != nil {
		e.logger.Warn("focus computation failed, using fallback",
			"fallback", fallbackFocusError,
			"error", err,
		)
		return fallbackFocusError
	}

	onTopic, counted := 0, 0
	for _, vec := range vecs {
		if vec == nil {
			continue
		}
		score, serr := similarity.CosineSimilarity(problemVec, vec)
		if serr != nil {
			continue
		}
		counted++
		if score >= e.thresholds.FocusOnTopic {
			onTopic++
		}
	}
	if counted == 0 {
		e.logger.Warn("focus has no comparable contributions, using fallback", "fallback", fallbackFocusError)
		return fallbackFocusError
	}
	return float64(onTopic) / float64(counted)
}

// completeness is the weighted composite of exploration, convergence,
// focus and novelty.
func (e *Engine) completeness(convergence float64, m *models.DeliberationMetrics) float64 {
	w := e.weights
	totalWeight := w.Exploration + w.Convergence + w.Focus + w.Novelty
	if totalWeight <= 0 {
		e.logger.Warn("completeness weights sum to zero, using fallback", "fallback", fallbackCompletenessErr)
		return fallbackCompletenessErr
	}
	composite := w.Exploration*m.ExplorationScore +
		w.Convergence*convergence +
		w.Focus*m.FocusScore +
		w.Novelty*m.NoveltyScore
	return clamp01(composite / totalWeight)
}

// aspectEmbeddings lazily embeds the aspect catalog once and caches it for
// the engine's lifetime.
func (e *Engine) aspectEmbeddings(ctx context.Context) ([][]float32, error) {
	e.aspectMu.Lock()
	defer e.aspectMu.Unlock()
	if e.aspectVecs != nil {
		return e.aspectVecs, nil
	}

	vecs := make([][]float32, len(criticalAspects))
	for i, aspect := range criticalAspects {
		vec, err := e.sim.Embed(ctx, aspect, provider.EmbeddingKindQuery)
		if err != nil {
			return nil, fmt.Errorf("embed aspect %q: %w", aspect, err)
		}
		vecs[i] = vec
	}
	e.aspectVecs = vecs
	return vecs, nil
}

// Shallow-contribution detection. A contribution is shallow when it is too
// short to carry substance or opens with bare agreement and adds little.
const shallowWordCount = 40

var agreementOpeners = []string{
	"i agree",
	"agreed",
	"as mentioned",
	"good point",
	"+1",
}

// DetectShallow returns structured guidance strings for shallow
// contributions in the round. Guidance is appended to facilitator state for
// the next round; it never triggers a retry.
func (e *Engine) DetectShallow(contributions []models.Contribution) []string {
	var guidance []string
	for _, c := range contributions {
		words := len(strings.Fields(c.Content))
		lowered := strings.ToLower(strings.TrimSpace(c.Content))

		agreementOnly := false
		for _, opener := range agreementOpeners {
			if strings.HasPrefix(lowered, opener) && words < shallowWordCount*2 {
				agreementOnly = true
				break
			}
		}

		if words < shallowWordCount || agreementOnly {
			guidance = append(guidance, fmt.Sprintf(
				"%s's last contribution was shallow (%d words); ask them for specific reasoning, evidence, or a concrete position",
				c.PersonaName, words,
			))
		}
	}
	return guidance
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
