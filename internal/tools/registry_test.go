package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/signalridge/cruxe/internal/rpcserver"
)

// toolSurfaceFixture pins the dispatch surface: every tool the engine
// serves, its required arguments, and whether it stays routable while a
// workspace is still bootstrapping.
const toolSurfaceFixture = `
tools:
  - name: locate_symbol
    required: [name]
  - name: search_code
    required: [query]
  - name: get_file_outline
    required: [path]
  - name: get_symbol_hierarchy
    required: [symbol_name]
  - name: find_related_symbols
    required: [symbol_name]
  - name: find_references
    required: [symbol_name]
  - name: get_call_graph
    required: [symbol_name]
  - name: compare_symbol_between_commits
    required: [symbol_name, base_ref, head_ref]
  - name: diff_context
    required: []
  - name: explain_ranking
    required: [query, result_path, result_line_start]
  - name: suggest_followup_queries
    required: [previous_query]
  - name: get_code_context
    required: [query, max_tokens]
  - name: health_check
    required: []
    status_tool: true
  - name: index_status
    required: []
    status_tool: true
  - name: index_repo
    required: []
    status_tool: true
  - name: sync_repo
    required: []
    status_tool: true
`

type fixtureTool struct {
	Name       string   `yaml:"name"`
	Required   []string `yaml:"required"`
	StatusTool bool     `yaml:"status_tool"`
}

type fixture struct {
	Tools []fixtureTool `yaml:"tools"`
}

func TestRegisteredSurfaceMatchesFixture(t *testing.T) {
	var want fixture
	require.NoError(t, yaml.Unmarshal([]byte(toolSurfaceFixture), &want))
	require.Len(t, want.Tools, 16)

	reg := rpcserver.NewRegistry()
	RegisterAll(reg)
	defs := reg.List()
	require.Len(t, defs, len(want.Tools))

	byName := map[string]rpcserver.ToolDefinition{}
	for _, d := range defs {
		byName[d.Name] = d
	}

	for _, wt := range want.Tools {
		def, ok := byName[wt.Name]
		require.True(t, ok, "tool %s must be registered", wt.Name)
		assert.NotEmpty(t, def.Description)

		var schema struct {
			Type       string          `json:"type"`
			Properties json.RawMessage `json:"properties"`
			Required   []string        `json:"required"`
		}
		require.NoError(t, json.Unmarshal(def.InputSchema, &schema), "tool %s schema must be valid JSON", wt.Name)
		assert.Equal(t, "object", schema.Type)
		assert.ElementsMatch(t, wt.Required, schema.Required, "tool %s required args", wt.Name)

		entry := reg.Get(wt.Name)
		require.NotNil(t, entry)
		assert.Equal(t, wt.StatusTool, entry.StatusTool, "tool %s status routing", wt.Name)
	}
}

func TestRegisterAllPanicsOnDuplicate(t *testing.T) {
	reg := rpcserver.NewRegistry()
	RegisterAll(reg)
	assert.Panics(t, func() { RegisterAll(reg) })
}
