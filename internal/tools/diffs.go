package tools

import (
	"context"
	"encoding/json"
	"strings"

	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/rpcserver"
)

type compareSymbolArgs struct {
	SymbolName string `json:"symbol_name"`
	Path       string `json:"path"`
	BaseRef    string `json:"base_ref"`
	HeadRef    string `json:"head_ref"`
}

func handleCompareSymbol(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	args, terr := parseArgs[compareSymbolArgs](params)
	if terr != nil {
		return nil, terr
	}
	if args.SymbolName == "" || args.BaseRef == "" || args.HeadRef == "" {
		return nil, cerrors.New(cerrors.CodeInvalidInput, "symbol_name, base_ref, and head_ref are required")
	}

	gate, terr := runGate(ctx, rc, args.HeadRef, "")
	if terr != nil {
		return nil, terr
	}

	baseSym, terr := findAnchorSymbol(ctx, rc, args.BaseRef, args.SymbolName, args.Path, "")
	if terr != nil {
		return nil, cerrors.Newf(cerrors.CodeSymbolNotFound, "symbol %q not found in base ref %q", args.SymbolName, args.BaseRef)
	}
	headSym, terr := findAnchorSymbol(ctx, rc, args.HeadRef, args.SymbolName, args.Path, "")
	if terr != nil {
		return nil, cerrors.Newf(cerrors.CodeSymbolNotFound, "symbol %q not found in head ref %q", args.SymbolName, args.HeadRef)
	}

	md := newMetadata(rc, args.HeadRef, gate)
	return map[string]any{
		"symbol":    baseSym.QualifiedName,
		"base_ref":  args.BaseRef,
		"head_ref":  args.HeadRef,
		"base_path": baseSym.Path,
		"head_path": headSym.Path,
		"changed":   baseSym.ContentHash != headSym.ContentHash,
		"diff":      lineDiff(baseSym.Content, headSym.Content),
		"metadata":  md,
	}, nil
}

// lineDiff produces a minimal unified-style textual diff of two symbol
// bodies via an LCS table; symbol bodies are small enough that quadratic
// space is fine here.
func lineDiff(a, b string) []string {
	if a == b {
		return nil
	}
	al := strings.Split(a, "\n")
	bl := strings.Split(b, "\n")

	n, m := len(al), len(bl)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if al[i] == bl[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var out []string
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case al[i] == bl[j]:
			out = append(out, " "+al[i])
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			out = append(out, "-"+al[i])
			i++
		default:
			out = append(out, "+"+bl[j])
			j++
		}
	}
	for ; i < n; i++ {
		out = append(out, "-"+al[i])
	}
	for ; j < m; j++ {
		out = append(out, "+"+bl[j])
	}
	return out
}

type diffContextArgs struct {
	BaseRef    string `json:"base_ref"`
	HeadRef    string `json:"head_ref"`
	PathFilter string `json:"path_filter"`
	Limit      int    `json:"limit"`
}

type touchedSymbol struct {
	Path          string `json:"path"`
	ChangeType    string `json:"change_type"`
	Name          string `json:"name,omitempty"`
	QualifiedName string `json:"qualified_name,omitempty"`
	Kind          string `json:"kind,omitempty"`
	LineStart     int    `json:"line_start,omitempty"`
	LineEnd       int    `json:"line_end,omitempty"`
}

func handleDiffContext(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	args, terr := parseArgs[diffContextArgs](params)
	if terr != nil {
		return nil, terr
	}
	if rc.Workspace.VCSMode != "git" {
		return nil, cerrors.New(cerrors.CodeInvalidInput, "diff_context requires a VCS-backed workspace")
	}
	baseRef := args.BaseRef
	if baseRef == "" {
		baseRef = rc.Workspace.DefaultRef
	}
	headRef := args.HeadRef
	if headRef == "" {
		headRef = rc.ResolveRef(ctx, "")
	}
	limit := limitOrDefault(args.Limit, 50)

	gate, terr := runGate(ctx, rc, headRef, "")
	if terr != nil {
		return nil, terr
	}

	changes, err := rc.VCS.DiffNameStatus(ctx, rc.Workspace.Path, baseRef, headRef)
	if err != nil {
		return nil, cerrors.AsToolError(cerrors.Wrap("vcs", "diff for diff_context", err))
	}

	var touched []touchedSymbol
	for _, ch := range changes {
		if len(touched) >= limit {
			break
		}
		if args.PathFilter != "" && !strings.Contains(ch.Path, args.PathFilter) {
			continue
		}
		// Deleted files only exist on the base side; everything else is
		// read from the head ref's symbols.
		symRef := headRef
		if string(ch.Type) == "deleted" {
			symRef = baseRef
		}
		syms, serr := rc.Store().ListSymbolsForFile(ctx, rc.Workspace.ProjectID, symRef, ch.Path)
		if serr != nil || len(syms) == 0 {
			touched = append(touched, touchedSymbol{Path: ch.Path, ChangeType: string(ch.Type)})
			continue
		}
		for _, s := range syms {
			if len(touched) >= limit {
				break
			}
			touched = append(touched, touchedSymbol{
				Path: ch.Path, ChangeType: string(ch.Type), Name: s.Name,
				QualifiedName: s.QualifiedName, Kind: s.Kind,
				LineStart: s.LineStart, LineEnd: s.LineEnd,
			})
		}
	}

	md := newMetadata(rc, headRef, gate)
	return map[string]any{
		"base_ref": baseRef,
		"head_ref": headRef,
		"symbols":  touched,
		"metadata": md,
	}, nil
}
