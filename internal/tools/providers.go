package tools

import (
	"github.com/signalridge/cruxe/internal/config"
	"github.com/signalridge/cruxe/internal/retrieval"
	"github.com/signalridge/cruxe/internal/embedprovider"
	"github.com/signalridge/cruxe/internal/rerankprovider"
)

// ProvidersFromConfig builds the embedding and rerank providers the
// retrieval pipeline injects, enforcing the external-provider gate: a
// remote provider name with the gate closed silently degrades to the local
// embedder / none reranker (the gate state itself is reported on every
// response via metadata.external_provider_gate_open).
func ProvidersFromConfig(cfg *config.Config) (embedprovider.Provider, rerankprovider.Reranker) {
	sem := cfg.Search.Semantic
	gate := embedprovider.ExternalGate{
		ExternalProviderEnabled:    sem.ExternalProviderEnabled,
		AllowCodePayloadToExternal: sem.AllowCodePayloadToExternal,
	}

	var embedder embedprovider.Provider
	switch sem.Embedding.Provider {
	case "voyage", "openai":
		if gate.Allowed() {
			embedder = embedprovider.NewHTTPProvider(
				sem.Embedding.Provider, "", "", sem.Embedding.Model,
				sem.Embedding.ModelVersion, sem.Embedding.Dimensions)
		} else {
			embedder = embedprovider.NewLocalProvider(sem.Embedding.Dimensions)
		}
	default:
		embedder = embedprovider.NewLocalProvider(sem.Embedding.Dimensions)
	}

	var reranker rerankprovider.Reranker = rerankprovider.NoneReranker{}
	switch sem.Rerank.Provider {
	case "cohere", "voyage":
		if gate.Allowed() {
			reranker = rerankprovider.NewHTTPReranker(
				sem.Rerank.Provider, sem.Rerank.Endpoint, "", sem.Rerank.TimeoutMs)
		}
	}
	return embedder, reranker
}

// retrievalConfig maps the effective config (plus per-request overrides)
// onto the pipeline's decoupled Config shape.
func retrievalConfig(cfg *config.Config, semanticRatio, confidenceThreshold *float64, explainLevel string) retrieval.Config {
	sem := cfg.Search.Semantic
	rcfg := retrieval.Config{
		SemanticMode:                 sem.Mode,
		SemanticRatio:                sem.Ratio,
		LexicalShortCircuitThreshold: sem.LexicalShortCircuitThreshold,
		ConfidenceThreshold:          sem.ConfidenceThreshold,
		SemanticLimitMultiplier:      sem.SemanticLimitMultiplier,
		LocalRerankExactNameBoost:    sem.LocalRerankExactNameBoost,
		LocalRerankPathAffinityBoost: sem.LocalRerankPathAffinityBoost,
		LocalRerankDefinitionBoost:   sem.LocalRerankDefinitionBoost,
		LocalRerankTestFilePenalty:   sem.LocalRerankTestFilePenalty,
		RankingExplainLevel:          cfg.Search.RankingExplainLevel,
	}
	if semanticRatio != nil {
		rcfg.SemanticRatio = *semanticRatio
	}
	if confidenceThreshold != nil {
		rcfg.ConfidenceThreshold = *confidenceThreshold
	}
	if explainLevel != "" {
		rcfg.RankingExplainLevel = explainLevel
	}
	return rcfg
}
