package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"quorum/internal/cache"
	"quorum/internal/challenge"
	"quorum/internal/checkpoint"
	"quorum/internal/config"
	"quorum/internal/domain/models"
	"quorum/internal/domain/repositories"
	"quorum/internal/metrics"
	"quorum/internal/orchestrator"
	"quorum/internal/personas"
	"quorum/internal/provider"
	"quorum/internal/provider/lorem"
	"quorum/internal/repository/memory"
	redisrepo "quorum/internal/repository/redis"
	"quorum/internal/router"
	"quorum/internal/service/deliberation"
	"quorum/internal/similarity"
)

func main() {
	statement := flag.String("statement", "", "problem statement to deliberate")
	goal := flag.String("goal", "", "decision goal")
	maxRounds := flag.Int("max-rounds", 0, "override the configured round budget")
	resume := flag.String("resume", "", "resume the session with this id instead of starting a new one")
	flag.Parse()

	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	logOut := os.Stdout
	if cfg.LogDir != "" {
		f, err := config.SetupLogFile(cfg.LogDir, cfg.LogMaxFiles)
		if err != nil {
			log.Fatalf("Failed to set up log file: %v", err)
		}
		defer f.Close()
		logOut = f
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("quorum starting",
		"environment", cfg.Environment,
		"checkpoint_backend", cfg.CheckpointBackend,
		"cache_store", cfg.CacheStore,
		"provider", cfg.DefaultProvider,
	)

	delibCfg, err := config.LoadDeliberation()
	if err != nil {
		log.Fatalf("Failed to load deliberation config: %v", err)
	}

	ctx := context.Background()

	// Checkpoint backend with startup probe and in-memory degradation
	checkpointer, health, err := checkpoint.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up checkpoint backend: %v", err)
	}
	if health.UsingFallback {
		logger.Warn("running with non-durable checkpoints",
			"backend", health.Backend,
			"original_backend", health.OriginalBackend,
		)
	}

	// Semantic cache store
	var cacheStore repositories.CacheStore
	switch cfg.CacheStore {
	case "redis":
		client, err := redisrepo.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis cache store unavailable, using in-memory store",
				"url", checkpoint.MaskDSN(cfg.RedisURL),
				"error", err,
			)
			cacheStore = memory.NewCacheStore()
		} else {
			cacheStore = redisrepo.NewCacheStore(client)
		}
	default:
		cacheStore = memory.NewCacheStore()
	}

	// Providers
	registry := provider.NewRegistry(func(name string) (provider.Provider, error) {
		switch name {
		case "lorem":
			return lorem.NewProvider(), nil
		default:
			return nil, fmt.Errorf("unknown provider: %s", name)
		}
	})
	prov, err := registry.GetProvider(cfg.DefaultProvider)
	if err != nil {
		log.Fatalf("Failed to set up provider: %v", err)
	}

	sim := similarity.NewService(lorem.NewEmbedder(cfg.EmbeddingDims), logger)

	validator := challenge.NewValidator(challenge.Window{
		Start: delibCfg.Challenge.StartRound,
		End:   delibCfg.Challenge.EndRound,
	})

	engine := metrics.NewEngine(sim, validator, delibCfg.Weights, delibCfg.Thresholds, delibCfg.BulkConcurrency, logger)

	personaRegistry, err := personas.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to load persona catalog: %v", err)
	}

	orch := orchestrator.New(prov, prov, sim, engine, validator, delibCfg, logger)

	svc := deliberation.NewService(deliberation.Deps{
		Router:           router.New(logger),
		Orchestrator:     orch,
		Engine:           engine,
		Similarity:       sim,
		Checkpointer:     checkpointer,
		Health:           health,
		ParticipantCache: cache.NewParticipantSelectionCache(cacheStore, sim, logger),
		ResearchCache:    cache.NewResearchCache(cacheStore, sim, logger),
		DatasetCache:     cache.NewDatasetSimilarityCache(cacheStore, sim, delibCfg.Thresholds.DatasetSimilarity, logger),
		Personas:         personaRegistry,
		Generator:        prov,
		Text:             prov,
		Facilitator:      deliberation.NewHeuristicFacilitator(delibCfg, logger),
		Config:           delibCfg,
		Logger:           logger,
	})

	state, err := startOrResume(ctx, svc, *resume, *statement, *goal, *maxRounds)
	if err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}

	if err := svc.Run(ctx, state); err != nil {
		log.Fatalf("Session failed: %v", err)
	}

	logger.Info("session finished",
		"session_id", state.SessionID,
		"phase", state.Phase,
		"rounds", state.RoundNumber,
		"sub_problems", len(state.SubProblemResults),
	)
	if state.FinalDecision != "" {
		fmt.Println(state.FinalDecision)
	} else if state.StopReason != "" {
		fmt.Printf("Session %s paused: %s\n", state.SessionID, state.StopReason)
	}
}

func startOrResume(ctx context.Context, svc *deliberation.Service, resume, statement, goal string, maxRounds int) (*models.SessionState, error) {
	if resume != "" {
		return svc.Resume(ctx, resume)
	}
	if statement == "" {
		return nil, fmt.Errorf("either -resume or -statement is required")
	}
	if goal == "" {
		goal = statement
	}
	return svc.StartSession(deliberation.StartRequest{
		Statement: statement,
		Goal:      goal,
		MaxRounds: maxRounds,
	})
}
