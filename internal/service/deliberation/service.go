// Package deliberation is the session service: it executes the router's
// decisions through a node dispatch table, persists a checkpoint after
// every node transition, and rehydrates typed state on resume.
package deliberation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"quorum/internal/cache"
	"quorum/internal/checkpoint"
	"quorum/internal/config"
	"quorum/internal/domain"
	"quorum/internal/domain/models"
	"quorum/internal/domain/repositories"
	"quorum/internal/metrics"
	"quorum/internal/orchestrator"
	"quorum/internal/personas"
	"quorum/internal/provider"
	"quorum/internal/router"
	"quorum/internal/similarity"
)

// NodeFunc executes one deliberation node and returns the next node. The
// dispatch table is keyed by router.Node and resolved at construction.
type NodeFunc func(ctx context.Context, state *models.SessionState) (router.Node, error)

// Service drives deliberation sessions.
type Service struct {
	router       *router.Router
	orch         *orchestrator.Orchestrator
	engine       *metrics.Engine
	sim          *similarity.Service
	checkpointer repositories.Checkpointer
	health       *checkpoint.Health

	participantCache *cache.ParticipantSelectionCache
	researchCache    *cache.ResearchCache
	datasetCache     *cache.DatasetSimilarityCache

	personas    *personas.Registry
	gen         provider.ContributionGenerator
	text        provider.TextGenerator
	facilitator FacilitatorStrategy

	cfg    *config.Deliberation
	bulk   *semaphore.Weighted
	logger *slog.Logger

	nodes map[router.Node]NodeFunc
}

// Deps bundles the service's injected collaborators.
type Deps struct {
	Router       *router.Router
	Orchestrator *orchestrator.Orchestrator
	Engine       *metrics.Engine
	Similarity   *similarity.Service
	Checkpointer repositories.Checkpointer
	Health       *checkpoint.Health

	ParticipantCache *cache.ParticipantSelectionCache
	ResearchCache    *cache.ResearchCache
	DatasetCache     *cache.DatasetSimilarityCache

	Personas    *personas.Registry
	Generator   provider.ContributionGenerator
	Text        provider.TextGenerator
	Facilitator FacilitatorStrategy

	Config *config.Deliberation
	Logger *slog.Logger
}

// NewService wires the deliberation service and builds its node dispatch
// table.
func NewService(d Deps) *Service {
	s := &Service{
		router:           d.Router,
		orch:             d.Orchestrator,
		engine:           d.Engine,
		sim:              d.Similarity,
		checkpointer:     d.Checkpointer,
		health:           d.Health,
		participantCache: d.ParticipantCache,
		researchCache:    d.ResearchCache,
		datasetCache:     d.DatasetCache,
		personas:         d.Personas,
		gen:              d.Generator,
		text:             d.Text,
		facilitator:      d.Facilitator,
		cfg:              d.Config,
		bulk:             semaphore.NewWeighted(int64(d.Config.BulkConcurrency)),
		logger:           d.Logger,
	}

	s.nodes = map[router.Node]NodeFunc{
		router.NodeDecompose:          s.decompose,
		router.NodeSelectPersonas:     s.selectPersonas,
		router.NodeInitialRound:       s.initialRound,
		router.NodeFacilitatorDecide:  s.facilitatorDecide,
		router.NodePersonaContribute:  s.personaContribute,
		router.NodeVote:               s.vote,
		router.NodeResearch:           s.research,
		router.NodeModeratorIntervene: s.moderatorIntervene,
		router.NodeClarification:      s.clarification,
		router.NodeDataAnalysis:       s.dataAnalysis,
		router.NodeSynthesis:          s.synthesis,
		router.NodeNextSubProblem:     s.nextSubProblem,
		router.NodeMetaSynthesis:      s.metaSynthesis,
	}
	return s
}

// CheckpointHealth exposes which checkpoint backend is serving the
// session, including degraded-mode substitution.
func (s *Service) CheckpointHealth() *checkpoint.Health {
	return s.health
}

// StartRequest describes a new deliberation session.
type StartRequest struct {
	Statement    string
	Goal         string
	MaxRounds    int
	ParallelMode bool
}

// Validate checks the request.
func (r StartRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Statement, validation.Required, validation.Length(1, 8000)),
		validation.Field(&r.Goal, validation.Required, validation.Length(1, 2000)),
		validation.Field(&r.MaxRounds, validation.Min(0), validation.Max(50)),
	)
}

// StartSession creates fresh session state.
func (s *Service) StartSession(req StartRequest) (*models.SessionState, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid start request: %w", errors.Join(domain.ErrValidation, err))
	}

	maxRounds := req.MaxRounds
	if maxRounds == 0 {
		maxRounds = s.cfg.MaxRounds
	}

	state := &models.SessionState{
		SessionID:   uuid.NewString(),
		Phase:       models.PhaseDecomposition,
		RoundNumber: 0,
		MaxRounds:   maxRounds,
		Problem: &models.Problem{
			Statement: req.Statement,
			Goal:      req.Goal,
		},
		ParallelMode: req.ParallelMode,
	}

	s.logger.Info("session started",
		"session_id", state.SessionID,
		"max_rounds", maxRounds,
		"parallel_mode", req.ParallelMode,
	)
	return state, nil
}

// Resume rehydrates a session from its checkpoint. The snapshot is decoded
// into the canonical typed state here, at the deserialization boundary -
// downstream code never sees raw maps.
func (s *Service) Resume(ctx context.Context, threadID string) (*models.SessionState, error) {
	cp, err := s.checkpointer.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}

	var state models.SessionState
	if err := json.Unmarshal(cp.Snapshot, &state); err != nil {
		return nil, fmt.Errorf("checkpoint snapshot for %s is not a valid session state: %w", threadID, err)
	}

	state.IsResumedSession = true
	state.ShouldStop = false
	state.StopReason = ""
	s.logger.Info("session resumed from checkpoint",
		"session_id", state.SessionID,
		"phase", state.Phase,
		"round", state.RoundNumber,
		"sub_problem_results", len(state.SubProblemResults),
	)
	return &state, nil
}

// Run drives the session until a terminal or paused state, checkpointing
// after every node transition. Checkpoint write failures propagate: losing
// durability silently is worse than surfacing the failure to the driver.
func (s *Service) Run(ctx context.Context, state *models.SessionState) error {
	node := s.router.RouteOnResume(state)
	for node != router.NodeEnd {
		if err := ctx.Err(); err != nil {
			return err
		}

		fn, ok := s.nodes[node]
		if !ok {
			s.logger.Error("no executable node registered, aborting session",
				"session_id", state.SessionID,
				"node", node,
			)
			return &domain.StateError{
				Phase:   string(state.Phase),
				Message: fmt.Sprintf("no executable node registered for %s", node),
			}
		}

		next, err := fn(ctx, state)
		if err != nil {
			return fmt.Errorf("node %s: %w", node, err)
		}
		if err := s.saveCheckpoint(ctx, state, node); err != nil {
			return err
		}
		node = next
	}

	return s.finish(ctx, state)
}

func (s *Service) saveCheckpoint(ctx context.Context, state *models.SessionState, node router.Node) error {
	snapshot, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("session state not serializable: %w", err)
	}
	metadata := map[string]string{
		"phase": string(state.Phase),
		"round": strconv.Itoa(state.RoundNumber),
		"node":  string(node),
	}
	return s.checkpointer.Put(ctx, state.SessionID, snapshot, metadata)
}

// finish writes the terminal checkpoint. Completed sessions are archived
// in place; paused sessions (clarification) stay live for resumption.
func (s *Service) finish(ctx context.Context, state *models.SessionState) error {
	archived := "false"
	if state.Phase == models.PhaseEnd {
		archived = "true"
	}

	snapshot, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("session state not serializable: %w", err)
	}
	metadata := map[string]string{
		"phase":    string(state.Phase),
		"round":    strconv.Itoa(state.RoundNumber),
		"node":     string(router.NodeEnd),
		"archived": archived,
	}
	if err := s.checkpointer.Put(ctx, state.SessionID, snapshot, metadata); err != nil {
		return err
	}

	s.logger.Info("session loop finished",
		"session_id", state.SessionID,
		"phase", state.Phase,
		"should_stop", state.ShouldStop,
		"stop_reason", state.StopReason,
		"archived", archived,
	)
	return nil
}

// DeleteSession explicitly destroys a session's checkpoint.
func (s *Service) DeleteSession(ctx context.Context, threadID string) error {
	return s.checkpointer.Delete(ctx, threadID)
}
