// Package vectorindex is the dense-vector ANN store keyed by
// (project, ref, symbol_stable_id, snippet_hash): an in-memory coder/hnsw
// graph per (project, ref) scope with SQLite as the durable copy
// (internal/storage.SemanticVector) used to rehydrate the graph after a
// restart.
package vectorindex

import (
	"context"
	"sync"

	"github.com/coder/hnsw"

	"github.com/signalridge/cruxe/internal/storage"
)

// Record is one upsertable vector, mirroring storage.SemanticVector's
// identity and payload fields.
type Record struct {
	ProjectID             string
	Ref                   string
	SymbolStableID        string
	SnippetHash           string
	EmbeddingModelID      string
	EmbeddingModelVersion string
	Dimensions            int
	Path                  string
	LineStart             int
	LineEnd               int
	Language              string
	ChunkType             string
	SnippetText           string
	Vector                []float32
}

// Match is one nearest-neighbor hit.
type Match struct {
	SymbolStableID string
	Path           string
	LineStart      int
	LineEnd         int
	SnippetText    string
	Language       string
	Score          float64 // cosine similarity, higher is better
}

// scopeKey identifies one (project, ref) graph partition; vectors are
// never searched across scopes.
func scopeKey(projectID, ref string) string { return projectID + "\x00" + ref }

func vectorKey(symbolStableID, snippetHash string) string {
	return symbolStableID + "\x00" + snippetHash
}

// Index wraps one coder/hnsw graph per (project, ref) scope plus the
// SQLite-backed durable store used for upsert/delete and rehydration.
type Index struct {
	store *storage.Store

	mu     sync.RWMutex
	graphs map[string]*hnsw.Graph[string]
	meta   map[string]map[string]*Record // scope -> vectorKey -> record, for payload lookup on Search
}

func New(store *storage.Store) *Index {
	return &Index{
		store:  store,
		graphs: make(map[string]*hnsw.Graph[string]),
		meta:   make(map[string]map[string]*Record),
	}
}

func (ix *Index) graphFor(scope string) *hnsw.Graph[string] {
	ix.mu.RLock()
	g, ok := ix.graphs[scope]
	ix.mu.RUnlock()
	if ok {
		return g
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if g, ok := ix.graphs[scope]; ok {
		return g
	}
	g = hnsw.NewGraph[string]()
	g.Distance = hnsw.CosineDistance
	ix.graphs[scope] = g
	ix.meta[scope] = make(map[string]*Record)
	return g
}

// Rehydrate reloads every persisted vector for (project, ref) into a fresh
// in-memory graph, run once per scope on first touch after process start.
func (ix *Index) Rehydrate(ctx context.Context, projectID, ref string) error {
	rows, err := ix.store.ListVectorsForRef(ctx, projectID, ref)
	if err != nil {
		return err
	}
	scope := scopeKey(projectID, ref)
	g := hnsw.NewGraph[string]()
	g.Distance = hnsw.CosineDistance
	metaMap := make(map[string]*Record, len(rows))
	for _, v := range rows {
		rec := &Record{
			ProjectID: v.ProjectID, Ref: v.Ref, SymbolStableID: v.SymbolStableID,
			SnippetHash: v.SnippetHash, EmbeddingModelID: v.EmbeddingModelID,
			EmbeddingModelVersion: v.EmbeddingModelVersion, Dimensions: v.Dimensions,
			Path: v.Path, LineStart: v.LineStart, LineEnd: v.LineEnd, Language: v.Language,
			ChunkType: v.ChunkType, SnippetText: v.SnippetText, Vector: v.Vector,
		}
		key := vectorKey(v.SymbolStableID, v.SnippetHash)
		metaMap[key] = rec
		g.Add(hnsw.MakeNode(key, hnsw.Vector(v.Vector)))
	}
	ix.mu.Lock()
	ix.graphs[scope] = g
	ix.meta[scope] = metaMap
	ix.mu.Unlock()
	return nil
}

// UpsertVectorsTx writes records under the caller's storage transaction
// (store.sqlExecer), then mirrors them into the in-memory graph.
func (ix *Index) UpsertVectorsTx(ctx context.Context, execer storage.SQLExecer, records []*Record) error {
	for _, r := range records {
		sv := &storage.SemanticVector{
			ProjectID: r.ProjectID, Ref: r.Ref, SymbolStableID: r.SymbolStableID,
			SnippetHash: r.SnippetHash, EmbeddingModelID: r.EmbeddingModelID,
			EmbeddingModelVersion: r.EmbeddingModelVersion, Dimensions: r.Dimensions,
			Path: r.Path, LineStart: r.LineStart, LineEnd: r.LineEnd, Language: r.Language,
			ChunkType: r.ChunkType, SnippetText: r.SnippetText, Vector: r.Vector,
		}
		if err := ix.store.UpsertSemanticVector(ctx, execer, sv); err != nil {
			return err
		}
	}
	scope := scopeKey(records[0].ProjectID, records[0].Ref)
	g := ix.graphFor(scope)
	ix.mu.Lock()
	for _, r := range records {
		key := vectorKey(r.SymbolStableID, r.SnippetHash)
		ix.meta[scope][key] = r
		g.Add(hnsw.MakeNode(key, hnsw.Vector(r.Vector)))
	}
	ix.mu.Unlock()
	return nil
}

// DeleteVectorsForRef drops both the durable rows and the in-memory graph
// for (project, ref), used on overlay rebuild.
func (ix *Index) DeleteVectorsForRef(ctx context.Context, execer storage.SQLExecer, projectID, ref string) error {
	if err := ix.store.DeleteVectorsForRef(ctx, execer, projectID, ref); err != nil {
		return err
	}
	scope := scopeKey(projectID, ref)
	ix.mu.Lock()
	delete(ix.graphs, scope)
	delete(ix.meta, scope)
	ix.mu.Unlock()
	return nil
}

// DeleteVectorsForPath drops vectors for one file, used on Modified
// actions before the new snippet set is embedded. The in-memory graph has
// no cheap by-path removal, so the scope is dropped and rebuilt lazily on
// next Rehydrate call by the sync engine.
func (ix *Index) DeleteVectorsForPath(ctx context.Context, execer storage.SQLExecer, projectID, ref, path string) error {
	if err := ix.store.DeleteVectorsForPath(ctx, execer, projectID, ref, path); err != nil {
		return err
	}
	scope := scopeKey(projectID, ref)
	ix.mu.Lock()
	delete(ix.graphs, scope)
	delete(ix.meta, scope)
	ix.mu.Unlock()
	return nil
}

// Nearest runs cosine-nearest search over (project, ref), filling each hit
// from the in-memory metadata map. Matches carry location and snippet text
// only; internal/retrieval's semantic blend joins each SymbolStableID
// against the symbols table to recover kind/name/qualified_name, since
// that join needs a live storage.Store handle this package doesn't own.
func (ix *Index) Nearest(ctx context.Context, projectID, ref string, query []float32, limit int) ([]Match, error) {
	scope := scopeKey(projectID, ref)
	ix.mu.RLock()
	g, ok := ix.graphs[scope]
	meta := ix.meta[scope]
	ix.mu.RUnlock()
	if !ok {
		if err := ix.Rehydrate(ctx, projectID, ref); err != nil {
			return nil, err
		}
		ix.mu.RLock()
		g = ix.graphs[scope]
		meta = ix.meta[scope]
		ix.mu.RUnlock()
	}
	if g == nil {
		return nil, nil
	}

	nodes := g.Search(hnsw.Vector(query), limit)
	out := make([]Match, 0, len(nodes))
	for _, n := range nodes {
		rec, ok := meta[n.Key]
		if !ok {
			continue
		}
		out = append(out, Match{
			SymbolStableID: rec.SymbolStableID,
			Path:           rec.Path,
			LineStart:      rec.LineStart,
			LineEnd:        rec.LineEnd,
			SnippetText:    rec.SnippetText,
			Language:       rec.Language,
			Score:          cosineSimilarity(query, rec.Vector),
		})
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (sqrt(na) * sqrt(nb))
}

func sqrt(f float64) float64 {
	if f <= 0 {
		return 0
	}
	x := f
	for i := 0; i < 40; i++ {
		x = 0.5 * (x + f/x)
	}
	return x
}

// CountVectorsForScope delegates to the durable store; health_check tiers
// its tiered warnings at 50k / 200k vectors under the SQLite backend.
func (ix *Index) CountVectorsForScope(ctx context.Context, projectID, ref string) (int, error) {
	return ix.store.CountVectorsForScope(ctx, projectID, ref)
}

