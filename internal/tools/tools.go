package tools

import (
	"encoding/json"

	"github.com/signalridge/cruxe/internal/rpcserver"
)

// RegisterAll wires every tool handler into the dispatcher's registry. The
// four status tools stay routable while a workspace is still bootstrapping.
func RegisterAll(reg *rpcserver.Registry) {
	for _, e := range entries {
		reg.Register(e)
	}
}

func obj(props string, required ...string) json.RawMessage {
	s := `{"type":"object","properties":{` + props + `}`
	if len(required) > 0 {
		s += `,"required":[`
		for i, r := range required {
			if i > 0 {
				s += `,`
			}
			s += `"` + r + `"`
		}
		s += `]`
	}
	return json.RawMessage(s + `}`)
}

const (
	propRef     = `"ref":{"type":"string","description":"VCS ref to query; defaults to the session override, then HEAD, then the project default"}`
	propDetail  = `"detail_level":{"type":"string","enum":["location","signature","context"],"default":"signature"}`
	propCompact = `"compact":{"type":"boolean","default":false}`
	propPolicy  = `"freshness_policy":{"type":"string","enum":["strict","balanced","best_effort"]}`
)

var entries = []rpcserver.ToolEntry{
	{
		Name:        "locate_symbol",
		Description: "Find a symbol definition by exact name, with optional kind/role/language filters.",
		InputSchema: obj(`"name":{"type":"string"},"kind":{"type":"string"},"role":{"type":"string"},"language":{"type":"string"},`+
			propRef+`,"limit":{"type":"integer","default":10},`+propDetail+`,`+propCompact+`,`+propPolicy, "name"),
		Handler: handleLocateSymbol,
	},
	{
		Name:        "search_code",
		Description: "Hybrid lexical+semantic code search with intent classification, RRF fusion, and confidence scoring.",
		InputSchema: obj(`"query":{"type":"string"},`+propRef+`,"language":{"type":"string"},"role":{"type":"string"},`+
			`"limit":{"type":"integer","default":10},`+propDetail+`,`+propCompact+`,`+propPolicy+`,`+
			`"semantic_ratio":{"type":"number","minimum":0,"maximum":1},`+
			`"confidence_threshold":{"type":"number","minimum":0,"maximum":1},`+
			`"plan":{"type":"boolean","default":false},`+
			`"ranking_explain_level":{"type":"string","enum":["off","basic","full"]}`, "query"),
		Handler: handleSearchCode,
	},
	{
		Name:        "get_file_outline",
		Description: "List the symbols defined in one file, flat or as a nesting tree.",
		InputSchema: obj(`"path":{"type":"string"},`+propRef+`,"depth":{"type":"string","enum":["all","top"],"default":"all"},"language":{"type":"string"}`, "path"),
		Handler:     handleGetFileOutline,
	},
	{
		Name:        "get_symbol_hierarchy",
		Description: "Walk a symbol's parent chain (ancestors) or nesting tree (descendants).",
		InputSchema: obj(`"symbol_name":{"type":"string"},"path":{"type":"string"},`+
			`"direction":{"type":"string","enum":["ancestors","descendants"],"default":"ancestors"},`+propRef, "symbol_name"),
		Handler: handleGetSymbolHierarchy,
	},
	{
		Name:        "find_related_symbols",
		Description: "Symbols related to a given one: same file, same module, or import relations.",
		InputSchema: obj(`"symbol_name":{"type":"string"},"path":{"type":"string"},`+
			`"scope":{"type":"string","enum":["file","module","project"],"default":"file"},`+propRef+`,"limit":{"type":"integer","default":20}`, "symbol_name"),
		Handler: handleFindRelatedSymbols,
	},
	{
		Name:        "find_references",
		Description: "Reverse edges targeting a symbol, from the symbol_edges graph.",
		InputSchema: obj(`"symbol_name":{"type":"string"},"kind":{"type":"string"},`+propRef+`,"limit":{"type":"integer","default":20}`, "symbol_name"),
		Handler:     handleFindReferences,
	},
	{
		Name:        "get_call_graph",
		Description: "Bounded depth-first walk over call edges: callers, callees, or both, up to depth 10; the limit is spent in walk order, not level by level.",
		InputSchema: obj(`"symbol_name":{"type":"string"},"path":{"type":"string"},`+propRef+`,`+
			`"direction":{"type":"string","enum":["callers","callees","both"],"default":"both"},`+
			`"depth":{"type":"integer","minimum":1,"maximum":10,"default":1},"limit":{"type":"integer","default":20}`, "symbol_name"),
		Handler: handleGetCallGraph,
	},
	{
		Name:        "compare_symbol_between_commits",
		Description: "Textual diff of one symbol's body across two refs.",
		InputSchema: obj(`"symbol_name":{"type":"string"},"path":{"type":"string"},"base_ref":{"type":"string"},"head_ref":{"type":"string"}`,
			"symbol_name", "base_ref", "head_ref"),
		Handler: handleCompareSymbol,
	},
	{
		Name:        "diff_context",
		Description: "Symbols touched between two refs, from the VCS diff joined against the symbol table.",
		InputSchema: obj(`"base_ref":{"type":"string"},"head_ref":{"type":"string"},"path_filter":{"type":"string"},"limit":{"type":"integer","default":50}`),
		Handler:     handleDiffContext,
	},
	{
		Name:        "explain_ranking",
		Description: "Factorized score breakdown for one specific search result.",
		InputSchema: obj(`"query":{"type":"string"},"result_path":{"type":"string"},"result_line_start":{"type":"integer"},`+
			propRef+`,"language":{"type":"string"},"limit":{"type":"integer","default":200}`, "query", "result_path", "result_line_start"),
		Handler: handleExplainRanking,
	},
	{
		Name:        "suggest_followup_queries",
		Description: "Deterministic follow-up actions derived from a previous query and its results.",
		InputSchema: obj(`"previous_query":{"type":"string"},"previous_results":{},`+
			`"confidence_threshold":{"type":"number","minimum":0,"maximum":1,"default":0.5}`, "previous_query"),
		Handler: handleSuggestFollowup,
	},
	{
		Name:        "get_code_context",
		Description: "Budget-respecting context items for a query: breadth takes one chunk per file before any file's next chunk; depth takes chunks in plain score order.",
		InputSchema: obj(`"query":{"type":"string"},"max_tokens":{"type":"integer"},`+
			`"strategy":{"type":"string","enum":["breadth","depth"],"default":"breadth"},"language":{"type":"string"}`, "query", "max_tokens"),
		Handler: handleGetCodeContext,
	},
	{
		Name:        "health_check",
		Description: "Engine health: index reachability, schema compatibility, prewarm status, grammars, active jobs.",
		InputSchema: obj(`"workspace":{"type":"string"}`),
		Handler:     handleHealthCheck,
		StatusTool:  true,
	},
	{
		Name:        "index_status",
		Description: "Current project's branch state, recent jobs, and counts for a ref.",
		InputSchema: obj(propRef),
		Handler:     handleIndexStatus,
		StatusTool:  true,
	},
	{
		Name:        "index_repo",
		Description: "Spawn the indexer subprocess for a workspace; returns immediately with the job id.",
		InputSchema: obj(`"path":{"type":"string"},"force":{"type":"boolean","default":false},`+propRef),
		Handler:     handleIndexRepo,
		StatusTool:  true,
	},
	{
		Name:        "sync_repo",
		Description: "Spawn an incremental overlay sync for a ref; returns immediately with the job id.",
		InputSchema: obj(`"path":{"type":"string"},"force":{"type":"boolean","default":false},`+propRef),
		Handler:     handleSyncRepo,
		StatusTool:  true,
	},
}
