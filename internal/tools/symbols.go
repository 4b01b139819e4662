package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/ids"
	"github.com/signalridge/cruxe/internal/retrieval"
	"github.com/signalridge/cruxe/internal/rpcserver"
	"github.com/signalridge/cruxe/internal/storage"
)

// symbolToResult lifts a symbol row into the retrieval result shape so the
// structural tools share the detail-level shaping with search_code.
func symbolToResult(sym *storage.Symbol, score float64) retrieval.Result {
	r := retrieval.Result{
		ResultType:     "symbol",
		Repo:           sym.ProjectID,
		Ref:            sym.Ref,
		Path:           sym.Path,
		LineStart:      sym.LineStart,
		LineEnd:        sym.LineEnd,
		Kind:           sym.Kind,
		Name:           sym.Name,
		QualifiedName:  sym.QualifiedName,
		Language:       sym.Language,
		Visibility:     sym.Visibility,
		Signature:      sym.Signature,
		SymbolID:       sym.SymbolID,
		SymbolStableID: sym.SymbolStableID,
		Content:        sym.Content,
		Score:          score,
		Provenance:     "lexical",
	}
	r.ResultID = ids.ResultID(r.ResultType, r.Repo, r.Ref, r.Path, r.LineStart, r.LineEnd,
		r.Kind, r.Name, r.QualifiedName, r.Language, r.SymbolStableID)
	return r
}

type locateSymbolArgs struct {
	Name            string `json:"name"`
	Kind            string `json:"kind"`
	Role            string `json:"role"`
	Language        string `json:"language"`
	Ref             string `json:"ref"`
	Limit           int    `json:"limit"`
	DetailLevel     string `json:"detail_level"`
	Compact         bool   `json:"compact"`
	FreshnessPolicy string `json:"freshness_policy"`
}

func handleLocateSymbol(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	args, terr := parseArgs[locateSymbolArgs](params)
	if terr != nil {
		return nil, terr
	}
	if strings.TrimSpace(args.Name) == "" {
		return nil, cerrors.New(cerrors.CodeInvalidInput, "name must not be empty")
	}
	level, ok := validDetailLevel(args.DetailLevel)
	if !ok {
		return nil, cerrors.Newf(cerrors.CodeInvalidInput, "detail_level must be location, signature, or context, got %q", args.DetailLevel)
	}

	ref := rc.ResolveRef(ctx, args.Ref)
	gate, terr := runGate(ctx, rc, ref, args.FreshnessPolicy)
	if terr != nil {
		return nil, terr
	}

	limit := limitOrDefault(args.Limit, 10)
	syms, err := rc.Store().FindSymbolsByName(ctx, rc.Workspace.ProjectID, ref, args.Name, limit*4)
	if err != nil {
		return nil, cerrors.AsToolError(err)
	}

	var results []ShapedResult
	total := 0
	for _, sym := range syms {
		if args.Kind != "" && !strings.EqualFold(sym.Kind, args.Kind) {
			continue
		}
		if args.Language != "" && !strings.EqualFold(sym.Language, args.Language) {
			continue
		}
		if args.Role != "" && !strings.Contains(strings.ToLower(sym.Kind), strings.ToLower(args.Role)) &&
			!strings.EqualFold(args.Role, "definition") {
			continue
		}
		total++
		if len(results) < limit {
			results = append(results, shapeResult(ctx, symbolToResult(sym, 1.0), level, args.Compact, rc.Store(), rc.Workspace.ProjectID))
		}
	}

	md := newMetadata(rc, ref, gate)
	return map[string]any{
		"results":          results,
		"total_candidates": total,
		"metadata":         md,
	}, nil
}

type fileOutlineArgs struct {
	Path     string `json:"path"`
	Ref      string `json:"ref"`
	Depth    string `json:"depth"`
	Language string `json:"language"`
}

type outlineNode struct {
	Name      string        `json:"name"`
	Kind      string        `json:"kind"`
	LineStart int           `json:"line_start"`
	LineEnd   int           `json:"line_end"`
	Children  []outlineNode `json:"children,omitempty"`
}

func handleGetFileOutline(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	args, terr := parseArgs[fileOutlineArgs](params)
	if terr != nil {
		return nil, terr
	}
	if args.Path == "" {
		return nil, cerrors.New(cerrors.CodeInvalidInput, "path is required")
	}
	depth := args.Depth
	if depth == "" {
		depth = "all"
	}
	if depth != "all" && depth != "top" {
		return nil, cerrors.Newf(cerrors.CodeInvalidInput, "depth must be all or top, got %q", args.Depth)
	}

	ref := rc.ResolveRef(ctx, args.Ref)
	gate, terr := runGate(ctx, rc, ref, "")
	if terr != nil {
		return nil, terr
	}

	syms, err := rc.Store().ListSymbolsForFile(ctx, rc.Workspace.ProjectID, ref, args.Path)
	if err != nil {
		return nil, cerrors.AsToolError(err)
	}
	if len(syms) == 0 {
		// An existing file without symbols is an empty outline, not an
		// error; a path absent from both the manifest and the worktree is.
		if _, merr := rc.Store().GetFileManifest(ctx, rc.Workspace.ProjectID, ref, args.Path); cerrors.IsNotFound(merr) {
			if _, serr := os.Stat(filepath.Join(rc.Workspace.Path, args.Path)); serr != nil {
				return nil, cerrors.Newf(cerrors.CodeFileNotFound, "file %q not found in ref %q", args.Path, ref)
			}
		}
	}

	if args.Language != "" {
		filtered := syms[:0]
		for _, s := range syms {
			if strings.EqualFold(s.Language, args.Language) {
				filtered = append(filtered, s)
			}
		}
		syms = filtered
	}

	var nodes []outlineNode
	if depth == "top" {
		for _, s := range syms {
			if s.ParentSymbolID != "" {
				continue
			}
			nodes = append(nodes, outlineNode{Name: s.Name, Kind: s.Kind, LineStart: s.LineStart, LineEnd: s.LineEnd})
		}
	} else {
		nodes = buildOutlineTree(syms)
	}

	md := newMetadata(rc, ref, gate)
	return map[string]any{
		"path":     args.Path,
		"symbols":  nodes,
		"metadata": md,
	}, nil
}

// buildOutlineTree nests symbols under their parents; orphaned parents
// (a parent id whose row was not extracted) fall back to top level.
func buildOutlineTree(syms []*storage.Symbol) []outlineNode {
	children := make(map[string][]*storage.Symbol)
	byID := make(map[string]*storage.Symbol, len(syms))
	for _, s := range syms {
		byID[s.SymbolID] = s
	}
	var roots []*storage.Symbol
	for _, s := range syms {
		if s.ParentSymbolID != "" && byID[s.ParentSymbolID] != nil {
			children[s.ParentSymbolID] = append(children[s.ParentSymbolID], s)
		} else {
			roots = append(roots, s)
		}
	}
	var build func(s *storage.Symbol) outlineNode
	build = func(s *storage.Symbol) outlineNode {
		n := outlineNode{Name: s.Name, Kind: s.Kind, LineStart: s.LineStart, LineEnd: s.LineEnd}
		for _, c := range children[s.SymbolID] {
			n.Children = append(n.Children, build(c))
		}
		return n
	}
	out := make([]outlineNode, 0, len(roots))
	for _, r := range roots {
		out = append(out, build(r))
	}
	return out
}

type hierarchyArgs struct {
	SymbolName string `json:"symbol_name"`
	Path       string `json:"path"`
	Direction  string `json:"direction"`
	Ref        string `json:"ref"`
}

func handleGetSymbolHierarchy(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	args, terr := parseArgs[hierarchyArgs](params)
	if terr != nil {
		return nil, terr
	}
	if args.SymbolName == "" {
		return nil, cerrors.New(cerrors.CodeInvalidInput, "symbol_name is required")
	}
	direction := args.Direction
	if direction == "" {
		direction = "ancestors"
	}
	if direction != "ancestors" && direction != "descendants" {
		return nil, cerrors.Newf(cerrors.CodeInvalidInput, "direction must be ancestors or descendants, got %q", args.Direction)
	}

	ref := rc.ResolveRef(ctx, args.Ref)
	gate, terr := runGate(ctx, rc, ref, "")
	if terr != nil {
		return nil, terr
	}

	anchor, terr := findAnchorSymbol(ctx, rc, ref, args.SymbolName, args.Path, "")
	if terr != nil {
		return nil, terr
	}

	md := newMetadata(rc, ref, gate)
	if direction == "ancestors" {
		var chain []outlineNode
		cur := anchor
		for depth := 0; depth < 32; depth++ {
			chain = append(chain, outlineNode{Name: cur.Name, Kind: cur.Kind, LineStart: cur.LineStart, LineEnd: cur.LineEnd})
			if cur.ParentSymbolID == "" {
				break
			}
			parent, err := rc.Store().GetSymbolBySymbolID(ctx, rc.Workspace.ProjectID, ref, cur.ParentSymbolID)
			if err != nil {
				break
			}
			cur = parent
		}
		return map[string]any{"hierarchy": chain, "direction": direction, "metadata": md}, nil
	}

	tree := descendantTree(ctx, rc.Store(), rc.Workspace.ProjectID, ref, anchor, 0)
	return map[string]any{"hierarchy": []outlineNode{tree}, "direction": direction, "metadata": md}, nil
}

func descendantTree(ctx context.Context, store *storage.Store, projectID, ref string, sym *storage.Symbol, depth int) outlineNode {
	n := outlineNode{Name: sym.Name, Kind: sym.Kind, LineStart: sym.LineStart, LineEnd: sym.LineEnd}
	if depth >= 10 {
		return n
	}
	kids, err := store.ListSymbolsByParent(ctx, projectID, ref, sym.SymbolID)
	if err != nil {
		return n
	}
	for _, k := range kids {
		n.Children = append(n.Children, descendantTree(ctx, store, projectID, ref, k, depth+1))
	}
	return n
}

// findAnchorSymbol resolves (name, optional path, optional kind) to one
// symbol row, preferring an exact path match.
func findAnchorSymbol(ctx context.Context, rc *rpcserver.RequestContext, ref, name, path, kind string) (*storage.Symbol, *cerrors.ToolError) {
	syms, err := rc.Store().FindSymbolsByName(ctx, rc.Workspace.ProjectID, ref, name, 50)
	if err != nil {
		return nil, cerrors.AsToolError(err)
	}
	var fallback *storage.Symbol
	for _, s := range syms {
		if kind != "" && !strings.EqualFold(s.Kind, kind) {
			continue
		}
		if path != "" {
			if s.Path == path {
				return s, nil
			}
			continue
		}
		if fallback == nil {
			fallback = s
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, cerrors.Newf(cerrors.CodeSymbolNotFound, "symbol %q not found in ref %q", name, ref)
}

type relatedArgs struct {
	SymbolName string `json:"symbol_name"`
	Path       string `json:"path"`
	Scope      string `json:"scope"`
	Ref        string `json:"ref"`
	Limit      int    `json:"limit"`
}

type relatedSymbol struct {
	Name          string `json:"name"`
	QualifiedName string `json:"qualified_name"`
	Kind          string `json:"kind"`
	Path          string `json:"path"`
	LineStart     int    `json:"line_start"`
	Relation      string `json:"relation"` // same_file, same_module, imported, imports_from
}

func handleFindRelatedSymbols(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	args, terr := parseArgs[relatedArgs](params)
	if terr != nil {
		return nil, terr
	}
	if args.SymbolName == "" {
		return nil, cerrors.New(cerrors.CodeInvalidInput, "symbol_name is required")
	}
	scope := args.Scope
	if scope == "" {
		scope = "file"
	}
	if scope != "file" && scope != "module" && scope != "project" {
		return nil, cerrors.Newf(cerrors.CodeInvalidInput, "scope must be file, module, or project, got %q", args.Scope)
	}
	limit := limitOrDefault(args.Limit, 20)

	ref := rc.ResolveRef(ctx, args.Ref)
	gate, terr := runGate(ctx, rc, ref, "")
	if terr != nil {
		return nil, terr
	}

	anchor, terr := findAnchorSymbol(ctx, rc, ref, args.SymbolName, args.Path, "")
	if terr != nil {
		return nil, terr
	}

	store := rc.Store()
	projectID := rc.Workspace.ProjectID
	var related []relatedSymbol
	add := func(s *storage.Symbol, relation string) {
		if s.SymbolID == anchor.SymbolID || len(related) >= limit {
			return
		}
		related = append(related, relatedSymbol{
			Name: s.Name, QualifiedName: s.QualifiedName, Kind: s.Kind,
			Path: s.Path, LineStart: s.LineStart, Relation: relation,
		})
	}

	if siblings, err := store.ListSymbolsForFile(ctx, projectID, ref, anchor.Path); err == nil {
		for _, s := range siblings {
			add(s, "same_file")
		}
	}
	if scope != "file" {
		dir := filepath.Dir(anchor.Path)
		if dir == "." {
			dir = ""
		}
		if modSyms, err := store.ListSymbolsUnderPathPrefix(ctx, projectID, ref, dir, limit*2); err == nil {
			for _, s := range modSyms {
				if s.Path == anchor.Path {
					continue
				}
				add(s, "same_module")
			}
		}
	}
	if scope == "project" {
		// imports_from: what the anchor's file pulls in; imported: files
		// whose import edges name the anchor's file or symbols.
		if edges, err := store.ListImportEdgesForFile(ctx, projectID, ref, anchor.Path); err == nil {
			for _, e := range edges {
				if len(related) >= limit {
					break
				}
				related = append(related, relatedSymbol{Name: e.ToName, Kind: "import", Path: anchor.Path, Relation: "imports_from"})
			}
		}
		if refs, err := store.FindReferences(ctx, projectID, ref, anchor.SymbolStableID, anchor.Name, limit); err == nil {
			for _, e := range refs {
				if e.EdgeType != storage.EdgeImports || len(related) >= limit {
					continue
				}
				related = append(related, relatedSymbol{Name: anchor.Name, Kind: "import", Path: e.SourceFile, Relation: "imported"})
			}
		}
	}

	md := newMetadata(rc, ref, gate)
	return map[string]any{
		"symbol":   anchor.QualifiedName,
		"related":  related,
		"scope":    scope,
		"metadata": md,
	}, nil
}
