package retrieval

import (
	"sort"
	"strings"
)

// applyLocalRerank adds the additive boosts of the
// local lexical reranker: exact-name match, qualified-name match,
// path-affinity, a definition boost (symbol results over snippet/file),
// kind-match (query mentions the symbol's kind keyword), and a test-file
// penalty. Mutates list in place; callers re-sort by Score afterward.
func applyLocalRerank(list []Result, query string, cfg Config) {
	lowerQuery := strings.ToLower(strings.TrimSpace(query))
	queryTokens := strings.Fields(lowerQuery)

	for i := range list {
		r := &list[i]
		lowerName := strings.ToLower(r.Name)
		lowerQualified := strings.ToLower(r.QualifiedName)

		if lowerName != "" && lowerQuery == lowerName {
			r.Score += boostOr(cfg.LocalRerankExactNameBoost, 0.5)
		}
		if lowerQualified != "" && (lowerQuery == lowerQualified || strings.HasSuffix(lowerQualified, "::"+lowerQuery) || strings.HasSuffix(lowerQualified, "."+lowerQuery)) {
			r.Score += boostOr(cfg.LocalRerankExactNameBoost, 0.5) * 0.75
		}

		if pathAffinity(r.Path, queryTokens) {
			r.Score += boostOr(cfg.LocalRerankPathAffinityBoost, 0.2)
		}

		if r.ResultType == "symbol" && isDefinitionKind(r.Kind) {
			r.Score += boostOr(cfg.LocalRerankDefinitionBoost, 0.15)
		}

		if kindMentioned(lowerQuery, r.Kind) {
			r.Score += 0.1
		}

		if isTestFile(r.Path) {
			r.Score -= boostOr(cfg.LocalRerankTestFilePenalty, 0.3)
			if r.Score < 0 {
				r.Score = 0
			}
		}
	}
}

func boostOr(configured, fallback float64) float64 {
	if configured > 0 {
		return configured
	}
	return fallback
}

func pathAffinity(path string, queryTokens []string) bool {
	if path == "" {
		return false
	}
	lowerPath := strings.ToLower(path)
	for _, tok := range queryTokens {
		if len(tok) >= 3 && strings.Contains(lowerPath, tok) {
			return true
		}
	}
	return false
}

func isDefinitionKind(kind string) bool {
	switch strings.ToLower(kind) {
	case "function", "method", "struct", "class", "interface", "trait", "type", "enum", "const", "var":
		return true
	default:
		return false
	}
}

func kindMentioned(lowerQuery, kind string) bool {
	if kind == "" {
		return false
	}
	return strings.Contains(lowerQuery, strings.ToLower(kind))
}

func isTestFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, "_test.go") ||
		strings.Contains(lower, "/test/") ||
		strings.Contains(lower, "/tests/") ||
		strings.HasSuffix(lower, ".test.ts") ||
		strings.HasSuffix(lower, ".spec.ts")
}

// FinalizeMerged reranks a list combined from two pipeline runs (overlay
// merge unions base and overlay results) and recomputes the confidence
// verdict over the union. Each side's scores already include the local
// rerank boosts from its own Search pass and were produced under the same
// Config, so the scores are directly comparable; reranking the union means
// stable-sorting it by score, not re-applying the additive boosts (which
// would double them). Mutates list in place; the returned pair is the
// merged set's low-confidence flag and suggested action.
func FinalizeMerged(list []Result, cfg Config) (bool, string) {
	sortByScoreDesc(list)
	return evaluateConfidence(list, cfg.ConfidenceThreshold)
}

// evaluateConfidence computes the confidence verdict:
// evaluate_confidence = weighted_sum(top_score_w, score_margin_w,
// channel_agreement_w) < threshold. Weights are fixed at equal thirds; only
// the threshold is configurable (search.semantic.confidence_threshold).
func evaluateConfidence(list []Result, threshold float64) (bool, string) {
	if len(list) == 0 {
		return true, "broaden_query"
	}

	sorted := append([]Result(nil), list...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	top := sorted[0].Score
	margin := 0.0
	if len(sorted) > 1 {
		margin = top - sorted[1].Score
	} else {
		margin = top
	}

	agreement := 0
	channelsSeen := map[string]bool{}
	for ch := range sorted[0].ChannelRRF {
		channelsSeen[ch] = true
	}
	if len(channelsSeen) > 1 {
		agreement = 1
	}

	normTop := clamp01(top / (3.0 / (RRFConstant + 1)))
	normMargin := clamp01(margin / (3.0 / (RRFConstant + 1)))
	normAgreement := float64(agreement)

	composite := (normTop + normMargin + normAgreement) / 3.0
	if composite < threshold {
		return true, "broaden_query"
	}
	return false, ""
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
