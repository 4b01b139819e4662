package tools

import (
	"context"

	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/intent"
	"github.com/signalridge/cruxe/internal/overlaymerge"
	"github.com/signalridge/cruxe/internal/planner"
	"github.com/signalridge/cruxe/internal/retrieval"
	"github.com/signalridge/cruxe/internal/rpcserver"
	"github.com/signalridge/cruxe/internal/vectorindex"
)

// searchOutcome bundles everything one retrieval run produced.
type searchOutcome struct {
	Response *retrieval.Response
	Intent   intent.Result
	Plan     planner.Plan
}

// runRetrieval executes the full query data flow for one query string:
// intent classification, planning, per-channel search with RRF, the
// optional semantic blend and rerank, and — for a non-default ref — the
// base+overlay merge.
func runRetrieval(ctx context.Context, rc *rpcserver.RequestContext, query, ref, role string, limit int, cfg retrieval.Config) (*searchOutcome, *cerrors.ToolError) {
	rules := intent.Rules{
		Order:                           rc.Config.Search.Intent.RuleOrder,
		ErrorPatterns:                   rc.Config.Search.Intent.ErrorPatterns,
		PathExtensions:                  rc.Config.Search.Intent.PathExtensions,
		SymbolKindKeywords:              rc.Config.Search.Intent.SymbolKindKeywords,
		EnableWrappedQuotedErrorLiteral: rc.Config.Search.Intent.EnableWrappedQuotedErrorLiteral,
	}
	classified := intent.Classify(query, rules)

	scope := planner.ScopeDefault
	nonDefault := rc.Workspace.VCSMode == "git" && ref != rc.Workspace.DefaultRef && ref != ""
	if nonDefault {
		scope = planner.ScopeNonDefault
	}
	plan := planner.Select(classified.Intent, scope)

	embedder, reranker := ProvidersFromConfig(rc.Config)
	vectors := vectorindex.New(rc.Store())

	req := retrieval.Request{
		Query:  query,
		Repo:   rc.Workspace.ProjectID,
		Ref:    ref,
		Role:   role,
		Limit:  limit,
		Intent: classified.Intent,
		Plan:   plan,
		Config: cfg,
	}

	if !nonDefault {
		text, err := rc.Text()
		if err != nil {
			return nil, cerrors.AsToolError(err)
		}
		p := &retrieval.Pipeline{
			Text: text, Store: rc.Store(), Vectors: vectors,
			Embedder: embedder, Reranker: reranker, ProjectID: rc.Workspace.ProjectID,
		}
		resp, serr := p.Search(ctx, req)
		if serr != nil {
			return nil, cerrors.AsToolError(serr)
		}
		return &searchOutcome{Response: resp, Intent: classified, Plan: plan}, nil
	}

	bs, err := rc.Store().GetBranchState(ctx, rc.Workspace.ProjectID, ref)
	if err != nil {
		if cerrors.IsNotFound(err) {
			return nil, cerrors.Newf(cerrors.CodeRefNotIndexed, "ref %q has not been indexed; call sync_repo with ref=%q", ref, ref).
				WithData(map[string]any{"ref": ref, "suggestion": "sync_repo"})
		}
		return nil, cerrors.AsToolError(err)
	}
	if bs.OverlayDir == "" {
		return nil, cerrors.Newf(cerrors.CodeOverlayNotReady, "overlay for ref %q is not ready (status %s)", ref, bs.Status)
	}

	baseText, err := rc.Text()
	if err != nil {
		return nil, cerrors.AsToolError(err)
	}
	overlayText, err := rc.OverlayText(bs.OverlayDir)
	if err != nil {
		return nil, cerrors.AsToolError(err)
	}

	resp, merr := overlaymerge.Merge(ctx, overlaymerge.Request{
		Request:       req,
		DataDir:       rc.Workspace.DataDir,
		BusyTimeoutMs: rc.Config.Storage.BusyTimeoutMs,
		CacheSize:     rc.Config.Storage.CacheSize,
		DefaultRef:    rc.Workspace.DefaultRef,
		TargetRef:     ref,
		ProjectID:     rc.Workspace.ProjectID,
		Vectors:       vectors,
		Embedder:      embedder,
		Reranker:      reranker,
		BaseText:      baseText,
		OverlayText:   overlayText,
	})
	if merr != nil {
		return nil, cerrors.AsToolError(merr)
	}
	return &searchOutcome{Response: resp, Intent: classified, Plan: plan}, nil
}

// limitOrDefault applies the configured default limit and a sanity floor.
func limitOrDefault(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
