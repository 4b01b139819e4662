package tools

import (
	"context"
	"encoding/json"

	"github.com/signalridge/cruxe/internal/retrieval"
	"github.com/signalridge/cruxe/internal/storage"
)

// Detail levels control which fields a shaped result carries.
const (
	DetailLocation  = "location"
	DetailSignature = "signature"
	DetailContext   = "context"
)

// bodyPreviewLines caps how much of a symbol body context-level results
// carry.
const bodyPreviewLines = 12

// ShapedResult is one result object after detail-level filtering; a map so
// omitted fields are truly absent from the JSON, not zero-valued.
type ShapedResult map[string]any

// shapeResult applies the detail-level contract:
//
//	location:  path, line_start, line_end, kind, name, symbol_id,
//	           symbol_stable_id, score
//	signature: + qualified_name, language, visibility, signature
//	context:   + body_preview, parent, related_symbols
//
// compact=true keeps identity + score and drops every heavy optional field
// regardless of level.
func shapeResult(ctx context.Context, r retrieval.Result, level string, compact bool, store *storage.Store, projectID string) ShapedResult {
	out := ShapedResult{
		"path":             r.Path,
		"line_start":       r.LineStart,
		"line_end":         r.LineEnd,
		"kind":             r.Kind,
		"name":             r.Name,
		"symbol_id":        r.SymbolID,
		"symbol_stable_id": r.SymbolStableID,
		"score":            r.Score,
	}
	if r.ResultID != "" {
		out["result_id"] = r.ResultID
	}
	if r.Provenance != "" {
		out["provenance"] = r.Provenance
	}
	if compact || level == DetailLocation {
		return out
	}

	out["qualified_name"] = r.QualifiedName
	out["language"] = r.Language
	out["visibility"] = r.Visibility
	out["signature"] = r.Signature
	if level != DetailContext {
		return out
	}

	out["body_preview"] = previewOf(r.Content)
	parent, related := contextEnrichment(ctx, store, projectID, r)
	out["parent"] = parent
	out["related_symbols"] = related
	return out
}

func previewOf(content string) string {
	if content == "" {
		return ""
	}
	lines := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			lines++
			if lines >= bodyPreviewLines {
				return content[:i]
			}
		}
	}
	return content
}

// contextEnrichment fills parent and related_symbols from SQLite for
// context-level results.
func contextEnrichment(ctx context.Context, store *storage.Store, projectID string, r retrieval.Result) (string, []string) {
	if store == nil || r.SymbolID == "" {
		return "", nil
	}
	sym, err := store.GetSymbolBySymbolID(ctx, projectID, r.Ref, r.SymbolID)
	if err != nil {
		return "", nil
	}
	parent := ""
	if sym.ParentSymbolID != "" {
		if p, perr := store.GetSymbolBySymbolID(ctx, projectID, r.Ref, sym.ParentSymbolID); perr == nil {
			parent = p.QualifiedName
		}
	}
	var related []string
	if siblings, serr := store.ListSymbolsForFile(ctx, projectID, r.Ref, sym.Path); serr == nil {
		for _, s := range siblings {
			if s.SymbolID == sym.SymbolID {
				continue
			}
			related = append(related, s.QualifiedName)
			if len(related) >= 8 {
				break
			}
		}
	}
	return parent, related
}

// validDetailLevel hard-rejects anything outside the closed set; empty
// defaults to signature.
func validDetailLevel(level string) (string, bool) {
	switch level {
	case "":
		return DetailSignature, true
	case DetailLocation, DetailSignature, DetailContext:
		return level, true
	default:
		return "", false
	}
}

// SuggestedAction is one deterministic follow-up an agent can take.
type SuggestedAction struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Reason    string         `json:"reason"`
}

// applySafetyCap truncates results until the serialized payload fits under
// maxBytes, marking the metadata and attaching deterministic follow-up
// actions. payload must reference the same results slice the caller will
// serialize; the returned slice replaces it.
func applySafetyCap(results []ShapedResult, payload func(results []ShapedResult) any, maxBytes int, md *Metadata) ([]ShapedResult, []SuggestedAction) {
	if maxBytes <= 0 {
		return results, nil
	}
	fits := func(rs []ShapedResult) bool {
		b, err := json.Marshal(payload(rs))
		return err == nil && len(b) <= maxBytes
	}
	if fits(results) {
		return results, nil
	}

	truncated := results
	for len(truncated) > 1 && !fits(truncated) {
		truncated = truncated[:len(truncated)/2]
	}
	md.ResultCompleteness = "truncated"
	md.SafetyLimitApplied = true
	actions := []SuggestedAction{
		{Tool: "search_code", Arguments: map[string]any{"compact": true}, Reason: "retry with compact=true to fit more results under the response byte limit"},
		{Tool: "search_code", Arguments: map[string]any{"detail_level": "location"}, Reason: "retry with detail_level=location for identity-only results"},
	}
	return truncated, actions
}

// estimateTokens approximates a text's token count for get_code_context's
// budget math (4 bytes per token, the usual rule of thumb for code).
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
