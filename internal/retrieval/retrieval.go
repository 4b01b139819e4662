// Package retrieval is the hybrid lexical+semantic retrieval pipeline:
// per-channel RRF, a local lexical reranker, a lexical short-circuit, an
// optional semantic blend, an optional external rerank with timeout
// fallback, role-filter re-enforcement, a confidence verdict, and
// result_id dedup.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/signalridge/cruxe/internal/embedprovider"
	"github.com/signalridge/cruxe/internal/ids"
	"github.com/signalridge/cruxe/internal/intent"
	"github.com/signalridge/cruxe/internal/planner"
	"github.com/signalridge/cruxe/internal/rerankprovider"
	"github.com/signalridge/cruxe/internal/storage"
	"github.com/signalridge/cruxe/internal/textindex"
	"github.com/signalridge/cruxe/internal/vectorindex"
)

// RRFConstant is the k in score = weight / (k + rank).
const RRFConstant = 60.0

// Result is one ranked, deduplicated hit returned by the pipeline.
type Result struct {
	ResultID       string
	ResultType     string // symbol, snippet, file
	Repo           string
	Ref            string
	Path           string
	LineStart      int
	LineEnd        int
	Kind           string
	Name           string
	QualifiedName  string
	Language       string
	Visibility     string
	Signature      string
	SymbolID       string
	SymbolStableID string
	Content        string
	Score          float64
	Provenance     string // lexical, semantic, hybrid
	ChannelRRF     map[string]float64
}

// Config carries the subset of search.semantic / search fields the
// pipeline needs, mirroring config.SearchConfig without importing it
// directly (keeps internal/retrieval decoupled from internal/config).
type Config struct {
	SemanticMode                 string // off, rerank_only, hybrid
	SemanticRatio                float64
	LexicalShortCircuitThreshold float64
	ConfidenceThreshold          float64
	SemanticLimitMultiplier      float64
	LocalRerankExactNameBoost    float64
	LocalRerankPathAffinityBoost float64
	LocalRerankDefinitionBoost   float64
	LocalRerankTestFilePenalty   float64
	RankingExplainLevel          string // off, basic, full
}

// Request is one search_code-shaped query against a single text index
// scope (base or overlay — internal/overlaymerge calls this twice for
// non-default refs).
type Request struct {
	Query   string
	Repo    string
	Ref     string
	Role    string
	Limit   int
	Intent  intent.Intent
	Plan    planner.Plan
	Config  Config
}

// Response is the pipeline's output, carrying the reporting fields tool
// handlers fold into response metadata.
type Response struct {
	Results                  []Result
	TotalCandidates          int
	SemanticTriggered        bool
	SemanticRatioUsed        float64
	SemanticBudgetExhausted  bool
	SemanticFallback         bool
	SemanticSkippedReason    string
	RerankFallback           bool
	RerankFallbackReason     string
	SuppressedDuplicateCount int
	LowConfidence            bool
	SuggestedAction          string
	Debug                    *DebugInfo
}

// DebugInfo is attached when ranking_explain_level=full.
type DebugInfo struct {
	ChannelContributions map[string][]ChannelContribution
	SemanticCandidates   int
}

type ChannelContribution struct {
	ResultID string
	Channel  string
	Rank     int
	RRFScore float64
}

// Pipeline bundles the collaborators one Search call needs: a text index
// scope, the relational store for symbol-location enrichment, the vector
// index + embedder for the semantic blend, and an optional rerank provider.
type Pipeline struct {
	Text     *textindex.Set
	Store    *storage.Store
	Vectors  *vectorindex.Index
	Embedder embedprovider.Provider
	Reranker rerankprovider.Reranker

	ProjectID string // required for semantic blend; "" disables it (multi-project ref)
}

// Search runs the full hybrid pipeline over one index scope and returns a
// ranked, deduplicated, confidence-scored result set.
func (p *Pipeline) Search(ctx context.Context, req Request) (*Response, error) {
	resp := &Response{}

	channelHits := map[string][]textindex.Hit{}
	candidateCount := 0
	if req.Plan.SearchSymbols {
		hits, err := p.Text.Query(textindex.ChannelSymbols, req.Query, req.Repo, req.Ref, req.Role, req.Limit*4)
		if err != nil {
			return nil, err
		}
		channelHits["symbols"] = hits
		candidateCount += len(hits)
	}
	if req.Plan.SearchSnippets {
		hits, err := p.Text.Query(textindex.ChannelSnippets, req.Query, req.Repo, req.Ref, "", req.Limit*4)
		if err != nil {
			return nil, err
		}
		channelHits["snippets"] = hits
		candidateCount += len(hits)
	}
	if req.Plan.SearchFiles {
		hits, err := p.Text.Query(textindex.ChannelFiles, req.Query, req.Repo, req.Ref, "", req.Limit*4)
		if err != nil {
			return nil, err
		}
		channelHits["files"] = hits
		candidateCount += len(hits)
	}
	resp.TotalCandidates = candidateCount

	weights := map[string]float64{
		"symbols":  req.Plan.SymbolWeight,
		"snippets": req.Plan.SnippetWeight,
		"files":    req.Plan.FileWeight,
	}

	results := map[string]*Result{}
	contributions := map[string][]ChannelContribution{}
	for channel, hits := range channelHits {
		w := weights[channel]
		for _, h := range hits {
			rv := hitToResult(channel, h)
			r := &rv
			score := w / (RRFConstant + float64(h.Rank))
			if existing, ok := results[r.ResultID]; ok {
				existing.Score += score
				existing.ChannelRRF[channel] = score
			} else {
				r.Score = score
				r.ChannelRRF = map[string]float64{channel: score}
				r.Provenance = "lexical"
				results[r.ResultID] = r
			}
			contributions[r.ResultID] = append(contributions[r.ResultID], ChannelContribution{
				ResultID: r.ResultID, Channel: channel, Rank: h.Rank, RRFScore: score,
			})
		}
	}

	list := make([]Result, 0, len(results))
	for _, r := range results {
		list = append(list, *r)
	}

	applyLocalRerank(list, req.Query, req.Config)
	sortByScoreDesc(list)

	shortCircuit := len(list) > 0 && normalizedTopScore(list) >= req.Config.LexicalShortCircuitThreshold

	if !shortCircuit && req.Config.SemanticMode == "hybrid" && req.Intent == intent.IntentNaturalLanguage &&
		req.Config.SemanticRatio > 0 && p.ProjectID != "" && p.Embedder != nil && p.Vectors != nil {
		if err := p.blendSemantic(ctx, req, list, resp, &list); err != nil {
			resp.SemanticFallback = true
			resp.SemanticSkippedReason = "semantic_backend_error"
		}
	} else if req.Config.SemanticMode == "off" || req.Config.SemanticRatio <= 0 {
		resp.SemanticSkippedReason = ""
	}

	if p.Reranker != nil && p.Reranker.ProviderName() != "none" && req.Config.SemanticMode != "off" {
		docs := make([]string, len(list))
		for i, r := range list {
			docs[i] = r.Content
			if docs[i] == "" {
				docs[i] = r.QualifiedName
			}
		}
		scores, err := p.Reranker.Rerank(ctx, req.Query, docs, req.Limit)
		if err != nil || scores == nil {
			resp.RerankFallback = true
			resp.RerankFallbackReason = "timeout_or_error"
		} else {
			for i := range list {
				if i < len(scores) {
					list[i].Score = scores[i]
				}
			}
			sort.SliceStable(list, func(i, j int) bool {
				if list[i].Score != list[j].Score {
					return list[i].Score > list[j].Score
				}
				return list[i].ResultID < list[j].ResultID
			})
		}
	}

	if req.Role != "" {
		filtered := list[:0]
		for _, r := range list {
			if roleMatches(r.Kind, req.Role) {
				filtered = append(filtered, r)
			}
		}
		list = filtered
	}

	low, suggestion := evaluateConfidence(list, req.Config.ConfidenceThreshold)
	resp.LowConfidence = low
	resp.SuggestedAction = suggestion

	deduped, suppressed := dedupByResultID(list)
	resp.SuppressedDuplicateCount = suppressed

	if len(deduped) > req.Limit {
		deduped = deduped[:req.Limit]
	}
	resp.Results = deduped

	if req.Config.RankingExplainLevel == "full" {
		resp.Debug = &DebugInfo{ChannelContributions: contributions}
	}
	return resp, nil
}

func hitToResult(channel string, h textindex.Hit) Result {
	f := h.Fields
	r := Result{ResultType: channelResultType(channel)}
	r.Path, _ = f["path"].(string)
	r.Ref, _ = f["ref"].(string)
	r.Repo, _ = f["repo"].(string)
	r.Language, _ = f["language"].(string)
	r.LineStart = asInt(f["line_start"])
	r.LineEnd = asInt(f["line_end"])
	switch channel {
	case "symbols":
		r.Kind, _ = f["kind"].(string)
		r.Name, _ = f["symbol_exact"].(string)
		r.QualifiedName, _ = f["qualified_name"].(string)
		r.Signature, _ = f["signature"].(string)
		r.Visibility, _ = f["visibility"].(string)
		r.Content, _ = f["content"].(string)
		r.SymbolID, _ = f["symbol_id"].(string)
		r.SymbolStableID, _ = f["symbol_stable_id"].(string)
	case "snippets":
		r.Content, _ = f["content"].(string)
		r.Kind = "snippet"
	case "files":
		r.Content, _ = f["content_head"].(string)
		r.Kind = "file"
		r.Name, _ = f["filename"].(string)
	}
	r.ResultID = ids.ResultID(r.ResultType, r.Repo, r.Ref, r.Path, r.LineStart, r.LineEnd,
		r.Kind, r.Name, r.QualifiedName, r.Language, r.SymbolStableID)
	return r
}

func channelResultType(channel string) string {
	switch channel {
	case "symbols":
		return "symbol"
	case "snippets":
		return "snippet"
	default:
		return "file"
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func roleMatches(kind, role string) bool {
	if role == "" {
		return true
	}
	return strings.EqualFold(kind, role) || strings.Contains(strings.ToLower(kind), strings.ToLower(role))
}

func sortByScoreDesc(list []Result) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return list[i].ResultID < list[j].ResultID
	})
}

func normalizedTopScore(list []Result) float64 {
	if len(list) == 0 {
		return 0
	}
	max := 0.0
	for _, r := range list {
		if r.Score > max {
			max = r.Score
		}
	}
	if max == 0 {
		return 0
	}
	// Scores are a sum of weight/(k+rank) terms; the best attainable single
	// channel contribution with weight 3 at rank 1 is 3/61, used to
	// normalize into roughly [0,1] so the configured threshold (default
	// 0.85) is meaningful regardless of how many channels contributed.
	return math.Min(1.0, list[0].Score/(3.0/(RRFConstant+1)))
}

func dedupByResultID(list []Result) ([]Result, int) {
	seen := make(map[string]bool, len(list))
	out := make([]Result, 0, len(list))
	suppressed := 0
	for _, r := range list {
		if seen[r.ResultID] {
			suppressed++
			continue
		}
		seen[r.ResultID] = true
		out = append(out, r)
	}
	return out, suppressed
}
