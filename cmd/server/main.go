package main

import (
	"context"
	"fmt"
	"log"

	"proofread-service/internal/api"
	"proofread-service/internal/config"
	"proofread-service/internal/engine"
	"proofread-service/internal/pipeline"
	"proofread-service/internal/retry"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	policy := retry.Policy{
		MaxAttempts:     cfg.Pipeline.RetryMaxAttempts,
		InitialInterval: cfg.Pipeline.RetryInitialInterval,
	}

	// Analysis engines
	ruleClient := engine.NewRuleClient(cfg.RuleService, policy)
	semanticEngine := engine.NewSemanticEngine(cfg.OpenAI, policy)
	factory := &engine.DefaultFactory{
		Rules:            ruleClient,
		Semantic:         semanticEngine,
		PatternBatchSize: cfg.RuleService.BatchSize,
		FailureThreshold: cfg.RuleService.FailureThreshold,
	}

	// Pipeline
	store := pipeline.NewStore(cfg.Retention.TaskTTL)
	store.StartSweeper(context.Background(), cfg.Retention.SweepInterval)
	hub := pipeline.NewHub()
	runner := pipeline.NewRunner(store, hub, factory, cfg.Pipeline)

	// HTTP API
	handlers := api.NewHandlers(runner, store, hub)
	router := api.SetupRoutes(handlers)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Starting analysis server on %s (rule service: %s, model: %s)",
		addr, cfg.RuleService.URL, cfg.OpenAI.Model)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
