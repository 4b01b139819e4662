package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalridge/cruxe/internal/retrieval"
)

func sampleResult() retrieval.Result {
	return retrieval.Result{
		ResultID:       "rid-1",
		ResultType:     "symbol",
		Repo:           "proj",
		Ref:            "main",
		Path:           "src/auth.rs",
		LineStart:      10,
		LineEnd:        30,
		Kind:           "function",
		Name:           "validate_token",
		QualifiedName:  "auth::validate_token",
		Language:       "rust",
		Visibility:     "pub",
		Signature:      "fn validate_token(t: &str) -> bool",
		SymbolID:       "sid-1",
		SymbolStableID: "stable-1",
		Content:        "fn validate_token(t: &str) -> bool {\n    true\n}",
		Score:          0.91,
		Provenance:     "lexical",
	}
}

func TestShapeResultLocationLevelContract(t *testing.T) {
	out := shapeResult(context.Background(), sampleResult(), DetailLocation, false, nil, "proj")

	for _, key := range []string{"path", "line_start", "line_end", "kind", "name", "symbol_id", "symbol_stable_id", "score"} {
		assert.Contains(t, out, key)
	}
	for _, key := range []string{"qualified_name", "language", "signature", "visibility", "body_preview", "parent", "related_symbols"} {
		assert.NotContains(t, out, key, "location level must omit %s", key)
	}
}

func TestShapeResultSignatureLevelAddsIdentity(t *testing.T) {
	out := shapeResult(context.Background(), sampleResult(), DetailSignature, false, nil, "proj")

	assert.Equal(t, "auth::validate_token", out["qualified_name"])
	assert.Equal(t, "rust", out["language"])
	assert.Equal(t, "pub", out["visibility"])
	assert.Contains(t, out["signature"], "validate_token")
	assert.NotContains(t, out, "body_preview")
}

func TestShapeResultCompactDropsHeavyFields(t *testing.T) {
	out := shapeResult(context.Background(), sampleResult(), DetailContext, true, nil, "proj")

	assert.Contains(t, out, "score")
	assert.Contains(t, out, "symbol_stable_id")
	for _, key := range []string{"body_preview", "parent", "related_symbols", "signature"} {
		assert.NotContains(t, out, key)
	}
}

func TestValidDetailLevel(t *testing.T) {
	lvl, ok := validDetailLevel("")
	require.True(t, ok)
	assert.Equal(t, DetailSignature, lvl)

	_, ok = validDetailLevel("everything")
	assert.False(t, ok)
}

func TestApplySafetyCapTruncates(t *testing.T) {
	var results []ShapedResult
	for i := 0; i < 64; i++ {
		results = append(results, ShapedResult{"path": "src/very/long/path/file.rs", "score": 0.5, "name": "something_quite_long"})
	}
	md := Metadata{ResultCompleteness: "complete"}

	capped, actions := applySafetyCap(results, func(rs []ShapedResult) any {
		return map[string]any{"results": rs}
	}, 1024, &md)

	assert.Less(t, len(capped), len(results))
	assert.Equal(t, "truncated", md.ResultCompleteness)
	assert.True(t, md.SafetyLimitApplied)
	assert.NotEmpty(t, actions)
}

func TestApplySafetyCapLeavesSmallPayloads(t *testing.T) {
	results := []ShapedResult{{"path": "a.rs"}}
	md := Metadata{ResultCompleteness: "complete"}

	capped, actions := applySafetyCap(results, func(rs []ShapedResult) any {
		return map[string]any{"results": rs}
	}, 1<<20, &md)

	assert.Len(t, capped, 1)
	assert.Empty(t, actions)
	assert.Equal(t, "complete", md.ResultCompleteness)
	assert.False(t, md.SafetyLimitApplied)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("abc"))
	assert.Equal(t, 3, estimateTokens("twelve chars"))
}

func TestLineDiff(t *testing.T) {
	diff := lineDiff("a\nb\nc", "a\nx\nc")
	assert.Contains(t, diff, "-b")
	assert.Contains(t, diff, "+x")
	assert.Contains(t, diff, " a")

	assert.Nil(t, lineDiff("same", "same"))
}

func TestPreviewOfCapsLines(t *testing.T) {
	long := ""
	for i := 0; i < 40; i++ {
		long += "line\n"
	}
	preview := previewOf(long)
	count := 0
	for _, c := range preview {
		if c == '\n' {
			count++
		}
	}
	assert.LessOrEqual(t, count, bodyPreviewLines)
}
