package tools

import (
	"context"
	"encoding/json"

	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/rpcserver"
	"github.com/signalridge/cruxe/internal/storage"
)

type findReferencesArgs struct {
	SymbolName string `json:"symbol_name"`
	Kind       string `json:"kind"`
	Ref        string `json:"ref"`
	Limit      int    `json:"limit"`
}

type referenceEntry struct {
	FromSymbolID string `json:"from_symbol_id"`
	EdgeType     string `json:"edge_type"`
	Confidence   string `json:"confidence"`
	SourceFile   string `json:"source_file,omitempty"`
	SourceLine   int    `json:"source_line,omitempty"`
}

func handleFindReferences(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	args, terr := parseArgs[findReferencesArgs](params)
	if terr != nil {
		return nil, terr
	}
	if args.SymbolName == "" {
		return nil, cerrors.New(cerrors.CodeInvalidInput, "symbol_name is required")
	}
	limit := limitOrDefault(args.Limit, 20)

	ref := rc.ResolveRef(ctx, args.Ref)
	gate, terr := runGate(ctx, rc, ref, "")
	if terr != nil {
		return nil, terr
	}

	anchor, terr := findAnchorSymbol(ctx, rc, ref, args.SymbolName, "", args.Kind)
	if terr != nil {
		return nil, terr
	}

	edges, err := rc.Store().FindReferences(ctx, rc.Workspace.ProjectID, ref, anchor.SymbolStableID, anchor.Name, limit)
	if err != nil {
		return nil, cerrors.AsToolError(err)
	}

	refs := make([]referenceEntry, 0, len(edges))
	for _, e := range edges {
		refs = append(refs, referenceEntry{
			FromSymbolID: e.FromSymbolID,
			EdgeType:     e.EdgeType,
			Confidence:   string(e.Confidence),
			SourceFile:   e.SourceFile,
			SourceLine:   e.SourceLine,
		})
	}

	md := newMetadata(rc, ref, gate)
	return map[string]any{
		"symbol":     anchor.QualifiedName,
		"references": refs,
		"metadata":   md,
	}, nil
}

type callGraphArgs struct {
	SymbolName string `json:"symbol_name"`
	Path       string `json:"path"`
	Ref        string `json:"ref"`
	Direction  string `json:"direction"`
	Depth      int    `json:"depth"`
	Limit      int    `json:"limit"`
}

type callGraphNode struct {
	Symbol     string          `json:"symbol"`
	Path       string          `json:"path,omitempty"`
	Line       int             `json:"line,omitempty"`
	Confidence string          `json:"confidence,omitempty"`
	Depth      int             `json:"depth"`
	Calls      []callGraphNode `json:"calls,omitempty"`
}

// maxCallGraphDepth caps get_call_graph's bounded walk.
const maxCallGraphDepth = 10

func handleGetCallGraph(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	args, terr := parseArgs[callGraphArgs](params)
	if terr != nil {
		return nil, terr
	}
	if args.SymbolName == "" {
		return nil, cerrors.New(cerrors.CodeInvalidInput, "symbol_name is required")
	}
	direction := args.Direction
	if direction == "" {
		direction = "both"
	}
	if direction != "callers" && direction != "callees" && direction != "both" {
		return nil, cerrors.Newf(cerrors.CodeInvalidInput, "direction must be callers, callees, or both, got %q", args.Direction)
	}
	depth := args.Depth
	if depth == 0 {
		depth = 1
	}
	if depth < 1 || depth > maxCallGraphDepth {
		return nil, cerrors.Newf(cerrors.CodeInvalidInput, "depth must be between 1 and %d, got %d", maxCallGraphDepth, args.Depth)
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

	var callers, callees []callGraphNode
	if direction == "callers" || direction == "both" {
		callers = walkCallGraph(ctx, store, projectID, ref, anchor, true, depth, limit)
	}
	if direction == "callees" || direction == "both" {
		callees = walkCallGraph(ctx, store, projectID, ref, anchor, false, depth, limit)
	}
	if len(callers) == 0 && len(callees) == 0 {
		return nil, cerrors.Newf(cerrors.CodeNoEdgesAvailable, "no call edges recorded for %q in ref %q", anchor.QualifiedName, ref)
	}

	md := newMetadata(rc, ref, gate)
	return map[string]any{
		"symbol":    anchor.QualifiedName,
		"direction": direction,
		"depth":     depth,
		"callers":   callers,
		"callees":   callees,
		"metadata":  md,
	}, nil
}

// walkCallGraph is a bounded depth-first walk over
// symbol_edges(edge_type='calls'): each node's subtree is expanded before
// its next sibling, so when limit is reached the nodes kept are those met
// first in walk order, not level by level. Outgoing edges hang off the
// site-local symbol_id; incoming edges target the stable id, so expansion
// resolves each hop's counterpart row before descending. Cycles are cut by
// a visited set.
func walkCallGraph(ctx context.Context, store *storage.Store, projectID, ref string, anchor *storage.Symbol, callers bool, maxDepth, limit int) []callGraphNode {
	visited := map[string]bool{anchor.SymbolID: true}
	total := 0

	var expand func(sym *storage.Symbol, depth int) []callGraphNode
	expand = func(sym *storage.Symbol, depth int) []callGraphNode {
		if depth > maxDepth || total >= limit {
			return nil
		}
		var id string
		if callers {
			id = sym.SymbolStableID
		} else {
			id = sym.SymbolID
		}
		edges, err := store.CallGraph(ctx, projectID, ref, id, callers, limit)
		if err != nil {
			return nil
		}
		var out []callGraphNode
		for _, e := range edges {
			if total >= limit {
				break
			}
			node := callGraphNode{Confidence: string(e.Confidence), Depth: depth, Path: e.SourceFile, Line: e.SourceLine}
			var next *storage.Symbol
			if callers {
				node.Symbol = e.FromSymbolID
				if s, serr := store.GetSymbolBySymbolID(ctx, projectID, ref, e.FromSymbolID); serr == nil {
					node.Symbol = s.QualifiedName
					next = s
				}
			} else {
				node.Symbol = e.ToName
				if e.ToSymbolID != "" {
					if s, serr := store.GetSymbolByStableID(ctx, projectID, ref, e.ToSymbolID); serr == nil {
						node.Symbol = s.QualifiedName
						next = s
					}
				}
			}
			total++
			if next != nil && !visited[next.SymbolID] {
				visited[next.SymbolID] = true
				node.Calls = expand(next, depth+1)
			}
			out = append(out, node)
		}
		return out
	}
	return expand(anchor, 1)
}
