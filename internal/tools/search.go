package tools

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/retrieval"
	"github.com/signalridge/cruxe/internal/rpcserver"
)

type searchCodeArgs struct {
	Query               string   `json:"query"`
	Ref                 string   `json:"ref"`
	Language            string   `json:"language"`
	Role                string   `json:"role"`
	Limit               int      `json:"limit"`
	DetailLevel         string   `json:"detail_level"`
	Compact             bool     `json:"compact"`
	FreshnessPolicy     string   `json:"freshness_policy"`
	SemanticRatio       *float64 `json:"semantic_ratio"`
	ConfidenceThreshold *float64 `json:"confidence_threshold"`
	Plan                bool     `json:"plan"`
	RankingExplainLevel string   `json:"ranking_explain_level"`
}

type searchCodeResponse struct {
	Results              []ShapedResult       `json:"results"`
	QueryIntent          string               `json:"query_intent"`
	TotalCandidates      int                  `json:"total_candidates"`
	SuggestedNextActions []SuggestedAction    `json:"suggested_next_actions,omitempty"`
	Plan                 map[string]any       `json:"plan,omitempty"`
	Metadata             Metadata             `json:"metadata"`
	Debug                *retrieval.DebugInfo `json:"debug,omitempty"`
}

func handleSearchCode(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	args, terr := parseArgs[searchCodeArgs](params)
	if terr != nil {
		return nil, terr
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, cerrors.New(cerrors.CodeInvalidInput, "query must not be empty")
	}
	if args.SemanticRatio != nil && (*args.SemanticRatio < 0 || *args.SemanticRatio > 1) {
		return nil, cerrors.Newf(cerrors.CodeInvalidInput, "semantic_ratio must be in [0,1], got %v", *args.SemanticRatio)
	}
	if args.ConfidenceThreshold != nil && (*args.ConfidenceThreshold < 0 || *args.ConfidenceThreshold > 1) {
		return nil, cerrors.Newf(cerrors.CodeInvalidInput, "confidence_threshold must be in [0,1], got %v", *args.ConfidenceThreshold)
	}
	level, ok := validDetailLevel(args.DetailLevel)
	if !ok {
		return nil, cerrors.Newf(cerrors.CodeInvalidInput, "detail_level must be location, signature, or context, got %q", args.DetailLevel)
	}
	switch args.RankingExplainLevel {
	case "", "off", "basic", "full":
	default:
		return nil, cerrors.Newf(cerrors.CodeInvalidInput, "ranking_explain_level must be off, basic, or full, got %q", args.RankingExplainLevel)
	}

	ref := rc.ResolveRef(ctx, args.Ref)
	gate, terr := runGate(ctx, rc, ref, args.FreshnessPolicy)
	if terr != nil {
		return nil, terr
	}

	limit := limitOrDefault(args.Limit, rc.Config.Index.DefaultLimit)
	cfg := retrievalConfig(rc.Config, args.SemanticRatio, args.ConfidenceThreshold, args.RankingExplainLevel)

	outcome, terr := runRetrieval(ctx, rc, args.Query, ref, args.Role, limit, cfg)
	if terr != nil {
		return nil, terr
	}
	resp := outcome.Response

	md := newMetadata(rc, ref, gate)
	md.absorbRetrieval(resp)

	results := make([]ShapedResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		if args.Language != "" && r.Language != "" && !strings.EqualFold(r.Language, args.Language) {
			continue
		}
		results = append(results, shapeResult(ctx, r, level, args.Compact, rc.Store(), rc.Workspace.ProjectID))
	}

	out := &searchCodeResponse{
		QueryIntent:     string(outcome.Intent.Intent),
		TotalCandidates: resp.TotalCandidates,
		Metadata:        md,
		Debug:           resp.Debug,
	}
	if args.Plan {
		out.Plan = map[string]any{
			"search_symbols":  outcome.Plan.SearchSymbols,
			"search_snippets": outcome.Plan.SearchSnippets,
			"search_files":    outcome.Plan.SearchFiles,
			"symbol_weight":   outcome.Plan.SymbolWeight,
			"snippet_weight":  outcome.Plan.SnippetWeight,
			"file_weight":     outcome.Plan.FileWeight,
		}
	}

	capped, actions := applySafetyCap(results, func(rs []ShapedResult) any {
		tmp := *out
		tmp.Results = rs
		return &tmp
	}, rc.Config.Search.MaxResponseBytes, &out.Metadata)
	out.Results = capped
	out.SuggestedNextActions = append(out.SuggestedNextActions, actions...)
	if resp.LowConfidence && resp.SuggestedAction != "" {
		out.SuggestedNextActions = append(out.SuggestedNextActions, SuggestedAction{
			Tool: "suggest_followup_queries", Reason: resp.SuggestedAction,
		})
	}
	return out, nil
}

type explainRankingArgs struct {
	Query           string `json:"query"`
	ResultPath      string `json:"result_path"`
	ResultLineStart int    `json:"result_line_start"`
	Ref             string `json:"ref"`
	Language        string `json:"language"`
	Limit           int    `json:"limit"`
}

func handleExplainRanking(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	args, terr := parseArgs[explainRankingArgs](params)
	if terr != nil {
		return nil, terr
	}
	if strings.TrimSpace(args.Query) == "" || args.ResultPath == "" {
		return nil, cerrors.New(cerrors.CodeInvalidInput, "query and result_path are required")
	}

	ref := rc.ResolveRef(ctx, args.Ref)
	gate, terr := runGate(ctx, rc, ref, "")
	if terr != nil {
		return nil, terr
	}

	limit := args.Limit
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	cfg := retrievalConfig(rc.Config, nil, nil, "full")

	outcome, terr := runRetrieval(ctx, rc, args.Query, ref, "", limit, cfg)
	if terr != nil {
		return nil, terr
	}

	for _, r := range outcome.Response.Results {
		if r.Path != args.ResultPath || r.LineStart != args.ResultLineStart {
			continue
		}
		factors := map[string]any{"channel_rrf": r.ChannelRRF}
		if outcome.Response.Debug != nil {
			factors["contributions"] = outcome.Response.Debug.ChannelContributions[r.ResultID]
		}
		return map[string]any{
			"result_id":    r.ResultID,
			"path":         r.Path,
			"line_start":   r.LineStart,
			"score":        r.Score,
			"provenance":   r.Provenance,
			"query_intent": string(outcome.Intent.Intent),
			"factors":      factors,
			"metadata":     newMetadata(rc, ref, gate),
		}, nil
	}
	return nil, cerrors.Newf(cerrors.CodeResultNotFound, "no ranked result at %s:%d for this query", args.ResultPath, args.ResultLineStart)
}

type suggestFollowupArgs struct {
	PreviousQuery       string          `json:"previous_query"`
	PreviousResults     json.RawMessage `json:"previous_results"`
	ConfidenceThreshold *float64        `json:"confidence_threshold"`
}

func handleSuggestFollowup(_ context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	args, terr := parseArgs[suggestFollowupArgs](params)
	if terr != nil {
		return nil, terr
	}
	if strings.TrimSpace(args.PreviousQuery) == "" {
		return nil, cerrors.New(cerrors.CodeInvalidInput, "previous_query is required")
	}

	resultCount := 0
	if len(args.PreviousResults) > 0 {
		var arr []json.RawMessage
		if err := json.Unmarshal(args.PreviousResults, &arr); err == nil {
			resultCount = len(arr)
		} else {
			var n int
			if err := json.Unmarshal(args.PreviousResults, &n); err == nil {
				resultCount = n
			}
		}
	}

	// Deterministic suggestions keyed only on the previous query's shape
	// and result count, so identical inputs always produce identical
	// follow-ups.
	var actions []SuggestedAction
	tokens := strings.Fields(args.PreviousQuery)
	switch {
	case resultCount == 0 && len(tokens) > 2:
		actions = append(actions, SuggestedAction{
			Tool:      "search_code",
			Arguments: map[string]any{"query": strings.Join(tokens[:2], " ")},
			Reason:    "no results; retry with a broader two-token query",
		})
	case resultCount == 0:
		actions = append(actions, SuggestedAction{
			Tool:      "locate_symbol",
			Arguments: map[string]any{"name": tokens[0]},
			Reason:    "no results; try an exact symbol lookup on the leading token",
		})
	default:
		actions = append(actions, SuggestedAction{
			Tool:      "find_references",
			Arguments: map[string]any{"symbol_name": tokens[0]},
			Reason:    "inspect who references the top match",
		}, SuggestedAction{
			Tool:      "get_call_graph",
			Arguments: map[string]any{"symbol_name": tokens[0], "direction": "both", "depth": 1},
			Reason:    "walk the immediate call neighborhood of the top match",
		})
	}
	return map[string]any{
		"actions":  actions,
		"metadata": newMetadata(rc, rc.Workspace.DefaultRef, nil),
	}, nil
}

type getCodeContextArgs struct {
	Query     string `json:"query"`
	MaxTokens int    `json:"max_tokens"`
	Strategy  string `json:"strategy"`
	Language  string `json:"language"`
}

type contextItem struct {
	Path      string `json:"path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	Tokens    int    `json:"tokens"`
}

func handleGetCodeContext(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	args, terr := parseArgs[getCodeContextArgs](params)
	if terr != nil {
		return nil, terr
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, cerrors.New(cerrors.CodeInvalidInput, "query is required")
	}
	if args.MaxTokens < 0 {
		return nil, cerrors.Newf(cerrors.CodeInvalidMaxTokens, "max_tokens must be non-negative, got %d", args.MaxTokens)
	}
	strategy := args.Strategy
	if strategy == "" {
		strategy = "breadth"
	}
	if strategy != "breadth" && strategy != "depth" {
		return nil, cerrors.Newf(cerrors.CodeInvalidStrategy, "strategy must be breadth or depth, got %q", args.Strategy)
	}

	ref := rc.ResolveRef(ctx, "")
	gate, terr := runGate(ctx, rc, ref, "")
	if terr != nil {
		return nil, terr
	}

	cfg := retrievalConfig(rc.Config, nil, nil, "")
	outcome, terr := runRetrieval(ctx, rc, args.Query, ref, "", 50, cfg)
	if terr != nil {
		return nil, terr
	}

	candidates := outcome.Response.Results
	if args.Language != "" {
		filtered := candidates[:0]
		for _, r := range candidates {
			if r.Language == "" || strings.EqualFold(r.Language, args.Language) {
				filtered = append(filtered, r)
			}
		}
		candidates = filtered
	}

	if strategy == "breadth" {
		// One chunk per file first, then seconds, so the budget spreads
		// across the result set instead of sinking into the top file.
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Score > candidates[j].Score
		})
		// nth[i] is candidate i's position among its own file's chunks.
		nth := make([]int, len(candidates))
		seen := map[string]int{}
		for i, r := range candidates {
			nth[i] = seen[r.Path]
			seen[r.Path]++
		}
		var spread []retrieval.Result
		for pass := 0; pass < 3 && len(spread) < len(candidates); pass++ {
			for i, r := range candidates {
				if nth[i] == pass {
					spread = append(spread, r)
				}
			}
		}
		candidates = spread
	}

	budget := args.MaxTokens
	var items []contextItem
	used := 0
	for _, r := range candidates {
		content := r.Content
		if content == "" {
			continue
		}
		t := estimateTokens(content)
		if budget > 0 && used+t > budget {
			continue
		}
		items = append(items, contextItem{
			Path: r.Path, LineStart: r.LineStart, LineEnd: r.LineEnd,
			Kind: r.Kind, Name: r.Name, Content: content, Tokens: t,
		})
		used += t
		if budget > 0 && used >= budget {
			break
		}
	}

	md := newMetadata(rc, ref, gate)
	return map[string]any{
		"items":       items,
		"strategy":    strategy,
		"tokens_used": used,
		"max_tokens":  args.MaxTokens,
		"metadata":    md,
	}, nil
}
