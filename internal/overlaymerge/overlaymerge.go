// Package overlaymerge serves non-default refs: it runs the full retrieval
// pipeline once over the base index (ref=default_ref) and once over the
// ref's overlay in parallel, then merges by dropping base results whose
// path is tombstoned and letting the overlay win path/kind/location
// collisions, before reranking and recomputing confidence over the merged
// set. A SQLite connection is never shared across goroutines — each side
// opens its own storage.Store.
package overlaymerge

import (
	"context"

	"golang.org/x/sync/errgroup"

	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/overlay"
	"github.com/signalridge/cruxe/internal/rerankprovider"
	"github.com/signalridge/cruxe/internal/retrieval"
	"github.com/signalridge/cruxe/internal/storage"
	"github.com/signalridge/cruxe/internal/textindex"
	"github.com/signalridge/cruxe/internal/vectorindex"
	"github.com/signalridge/cruxe/internal/embedprovider"
)

// Request describes one overlay-scoped search: the default ref is searched
// as the base side, targetRef's overlay directory as the overlay side.
type Request struct {
	retrieval.Request
	DataDir       string
	BusyTimeoutMs int
	CacheSize     int
	DefaultRef    string
	TargetRef     string
	ProjectID     string
	Vectors       *vectorindex.Index // shared, thread-safe (internal mutex)
	Embedder      embedprovider.Provider
	Reranker      rerankprovider.Reranker

	// BaseText/OverlayText, when set, are used instead of opening fresh
	// bleve sets from disk — the dispatcher's connection manager already
	// holds each index directory open, and a second open would contend on
	// bleve's directory lock. Stores are still opened fresh per side.
	BaseText    *textindex.Set
	OverlayText *textindex.Set
}

// Merge runs the base and overlay searches concurrently via errgroup, each
// over its own store and text set, then combines the two result sets.
func Merge(ctx context.Context, req Request) (*retrieval.Response, error) {
	paths := overlay.Paths{DataDir: req.DataDir}

	var baseResp, overlayResp *retrieval.Response
	var tombstones map[string]storage.TombstoneType

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		store, text, closeText, err := openScopeWith(gctx, req.BaseText, paths.BaseDir(), req.DataDir, req.BusyTimeoutMs, req.CacheSize)
		if err != nil {
			return err
		}
		defer store.Close()
		if closeText {
			defer text.Close()
		}

		baseReq := req.Request
		baseReq.Ref = req.DefaultRef
		p := &retrieval.Pipeline{Text: text, Store: store, Vectors: req.Vectors, Embedder: req.Embedder, Reranker: req.Reranker, ProjectID: req.ProjectID}
		r, err := p.Search(gctx, baseReq)
		if err != nil {
			return err
		}
		baseResp = r
		return nil
	})

	g.Go(func() error {
		store, text, closeText, err := openScopeWith(gctx, req.OverlayText, paths.OverlayDir(req.TargetRef), req.DataDir, req.BusyTimeoutMs, req.CacheSize)
		if err != nil {
			return err
		}
		defer store.Close()
		if closeText {
			defer text.Close()
		}

		overlayReq := req.Request
		overlayReq.Ref = req.TargetRef
		p := &retrieval.Pipeline{Text: text, Store: store, Vectors: req.Vectors, Embedder: req.Embedder, Reranker: req.Reranker, ProjectID: req.ProjectID}
		r, err := p.Search(gctx, overlayReq)
		if err != nil {
			return err
		}
		overlayResp = r

		ts, terr := store.TombstonePathSet(gctx, req.ProjectID, req.TargetRef)
		if terr != nil {
			return terr
		}
		tombstones = ts
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, cerrors.Wrap("sqlite", "overlay merge search", err)
	}

	merged := mergeResults(baseResp.Results, overlayResp.Results, tombstones)

	resp := &retrieval.Response{
		TotalCandidates:          baseResp.TotalCandidates + overlayResp.TotalCandidates,
		SemanticTriggered:        baseResp.SemanticTriggered || overlayResp.SemanticTriggered,
		SemanticRatioUsed:        req.Config.SemanticRatio,
		SemanticBudgetExhausted:  baseResp.SemanticBudgetExhausted || overlayResp.SemanticBudgetExhausted,
		RerankFallback:           baseResp.RerankFallback || overlayResp.RerankFallback,
		SuppressedDuplicateCount: baseResp.SuppressedDuplicateCount + overlayResp.SuppressedDuplicateCount,
	}

	deduped, suppressed := dedup(merged)
	resp.SuppressedDuplicateCount += suppressed

	// Rerank the union and recompute confidence over it before truncating:
	// a higher-scored overlay result must never be cut in favor of a
	// lower-scored base result that merely concatenated earlier.
	low, suggestion := retrieval.FinalizeMerged(deduped, req.Config)
	resp.LowConfidence = low
	resp.SuggestedAction = suggestion

	if len(deduped) > req.Limit {
		deduped = deduped[:req.Limit]
	}
	resp.Results = deduped
	return resp, nil
}

// openScopeWith opens a fresh store and either reuses the supplied text
// set (closeText=false) or opens one from textDir (closeText=true).
func openScopeWith(ctx context.Context, preopened *textindex.Set, textDir, dbDir string, busyTimeoutMs, cacheSize int) (*storage.Store, *textindex.Set, bool, error) {
	store, err := storage.Open(ctx, storage.DBPath(dbDir), busyTimeoutMs, cacheSize)
	if err != nil {
		return nil, nil, false, err
	}
	if preopened != nil {
		return store, preopened, false, nil
	}
	text, err := textindex.Open(textDir)
	if err != nil {
		store.Close()
		return nil, nil, false, err
	}
	return store, text, true, nil
}

// mergeResults applies the collision rule: drop base results whose
// path has been tombstoned for this ref, then let the overlay win on any
// (path, kind, qualified_name-or-line_start) collision.
func mergeResults(base, overlayResults []retrieval.Result, tombstones map[string]storage.TombstoneType) []retrieval.Result {
	overlayKeys := make(map[string]bool, len(overlayResults))
	for _, r := range overlayResults {
		overlayKeys[collisionKey(r)] = true
	}

	out := make([]retrieval.Result, 0, len(base)+len(overlayResults))
	for _, r := range base {
		if _, tombstoned := tombstones[r.Path]; tombstoned {
			continue
		}
		if overlayKeys[collisionKey(r)] {
			continue // overlay wins this collision
		}
		out = append(out, r)
	}
	out = append(out, overlayResults...)
	return out
}

func collisionKey(r retrieval.Result) string {
	if r.QualifiedName != "" {
		return r.Path + "\x00" + r.Kind + "\x00" + r.QualifiedName
	}
	return r.Path + "\x00" + r.Kind + "\x00" + itoa(r.LineStart)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func dedup(list []retrieval.Result) ([]retrieval.Result, int) {
	seen := make(map[string]bool, len(list))
	out := make([]retrieval.Result, 0, len(list))
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
