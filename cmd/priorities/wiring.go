package main

import (
	"fmt"
	"log"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/rahul/priorities/internal/agent"
	"github.com/rahul/priorities/internal/contextbuilder"
	"github.com/rahul/priorities/internal/governance"
	"github.com/rahul/priorities/internal/observability"
	"github.com/rahul/priorities/internal/orchestrator"
	"github.com/rahul/priorities/internal/store"
	"github.com/rahul/priorities/pkg/config"
)

// newModel builds the generation client for the default enabled provider.
func newModel(cfg *config.Config) (*openai.LLM, error) {
	name, p := cfg.GetDefaultProvider()
	if name == "" {
		return nil, fmt.Errorf("no enabled provider found in config")
	}

	switch name {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		if p.EmbeddingModel != "" {
			opts = append(opts, openai.WithEmbeddingModel(p.EmbeddingModel))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("provider %s is not supported", name)
	}
}

func newPolicy(cfg config.GovernanceConfig) *governance.DefaultPolicyEngine {
	gov := governance.NewDefaultPolicyEngine()
	for _, name := range cfg.DeniedTools {
		gov.DenyTool(name)
	}
	for _, pattern := range cfg.DeniedArguments {
		if err := gov.DenyArguments(pattern); err != nil {
			log.Printf("Warning: ignoring invalid governance pattern %q: %v", pattern, err)
		}
	}
	gov.MaxCallsPerTool = cfg.MaxCallsPerTool
	return gov
}

func heuristics(cfg config.HeuristicsConfig) agent.Heuristics {
	h := agent.DefaultHeuristics()
	h.Parser.HighConfidence = cfg.HighConfidence
	h.Parser.LowConfidence = cfg.LowConfidence
	h.Parser.DependencyConfidence = cfg.DependencyConfidence
	h.Parser.WaveSize = cfg.WaveSize
	h.BackfillAlignment = cfg.BackfillAlignment
	h.BackfillConfidence = cfg.BackfillConfidence
	return h
}

// newOrchestrator wires stores, engines and the progress hub explicitly.
func newOrchestrator(cfg *config.Config, st *store.Store, llm *openai.LLM, hub *observability.Hub, logger *observability.Logger) *orchestrator.Orchestrator {
	var vectors vectorstores.VectorStore
	if embedder, err := embeddings.NewEmbedder(llm); err != nil {
		log.Printf("Warning: embeddings unavailable, fallback tasks will not be embedded: %v", err)
	} else {
		vectors = store.NewVectors(st, embedder)
	}

	builder := contextbuilder.NewBuilder(st, st, st, store.NewVectorHydrator(vectors, st), st, logger)
	builder.RecentReflectionLimit = cfg.Engine.RecentReflectionLimit

	h := heuristics(cfg.Heuristics)
	prompts := agent.NewPromptManager(cfg.App.PromptsDir)

	legacy := agent.NewLegacyEngine(llm, prompts, logger)
	legacy.Heuristics = h
	legacy.Timeout = cfg.Engine.LegacyTimeout

	hybrid := agent.NewHybridEngine(llm, prompts, newPolicy(cfg.Governance), logger)
	hybrid.Heuristics = h
	hybrid.Timeout = cfg.Engine.HybridTimeout
	hybrid.MaxIterations = cfg.Engine.MaxIterations
	hybrid.QualityThreshold = cfg.Engine.QualityThreshold
	hybrid.Vectors = vectors

	o := orchestrator.New(builder, legacy, hybrid, st, st, hub, logger)
	o.HybridEnabled = cfg.Engine.HybridEnabled
	return o
}
