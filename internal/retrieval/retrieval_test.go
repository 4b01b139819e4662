package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalridge/cruxe/internal/textindex"
)

func TestHitToResultBuildsStableID(t *testing.T) {
	h := textindex.Hit{
		Rank: 1,
		Fields: map[string]any{
			"path":             "internal/foo/bar.go",
			"ref":              "live",
			"repo":             "proj",
			"language":         "go",
			"line_start":       float64(10),
			"line_end":         float64(20),
			"kind":             "function",
			"symbol_exact":     "DoThing",
			"qualified_name":   "foo.DoThing",
			"symbol_stable_id": "abc123",
		},
	}
	r := hitToResult("symbols", h)
	require.Equal(t, "symbol", r.ResultType)
	assert.Equal(t, "DoThing", r.Name)
	assert.Equal(t, "foo.DoThing", r.QualifiedName)
	assert.NotEmpty(t, r.ResultID)

	r2 := hitToResult("symbols", h)
	assert.Equal(t, r.ResultID, r2.ResultID, "result_id must be stable for identical fields")
}

func TestDedupByResultIDCountsSuppressed(t *testing.T) {
	list := []Result{
		{ResultID: "a", Score: 1},
		{ResultID: "a", Score: 0.5},
		{ResultID: "b", Score: 0.9},
	}
	out, suppressed := dedupByResultID(list)
	assert.Len(t, out, 2)
	assert.Equal(t, 1, suppressed)
	assert.Equal(t, "a", out[0].ResultID)
}

func TestApplyLocalRerankExactNameBoostsScore(t *testing.T) {
	list := []Result{
		{ResultID: "x", Name: "Widget", Score: 0.1, ResultType: "symbol", Kind: "function"},
		{ResultID: "y", Name: "OtherThing", Score: 0.1, ResultType: "symbol", Kind: "function"},
	}
	applyLocalRerank(list, "Widget", Config{})
	assert.Greater(t, list[0].Score, list[1].Score)
}

func TestApplyLocalRerankPenalizesTestFiles(t *testing.T) {
	list := []Result{
		{ResultID: "x", Path: "internal/foo/bar_test.go", Score: 0.5},
	}
	applyLocalRerank(list, "bar", Config{LocalRerankTestFilePenalty: 0.4})
	assert.Less(t, list[0].Score, 0.5)
}

func TestEvaluateConfidenceLowWhenEmpty(t *testing.T) {
	low, action := evaluateConfidence(nil, 0.5)
	assert.True(t, low)
	assert.Equal(t, "broaden_query", action)
}

func TestEvaluateConfidenceHighWithClearMarginAndAgreement(t *testing.T) {
	list := []Result{
		{ResultID: "a", Score: 0.09, ChannelRRF: map[string]float64{"symbols": 0.05, "snippets": 0.04}},
		{ResultID: "b", Score: 0.01, ChannelRRF: map[string]float64{"snippets": 0.01}},
	}
	low, _ := evaluateConfidence(list, 0.1)
	assert.False(t, low)
}

func TestClampSemanticLimitClampsToRange(t *testing.T) {
	assert.Equal(t, 20, clampSemanticLimit(1, 4))
	assert.Equal(t, 1000, clampSemanticLimit(10000, 4))
	assert.Equal(t, 40, clampSemanticLimit(10, 4))
}

func TestRRFFusionPrefersMultiChannelAgreement(t *testing.T) {
	p := &Pipeline{}
	_ = p
	// Two hits for the same result_id across channels should sum scores.
	results := map[string]*Result{}
	h1 := Result{ResultID: "r1", Score: 3.0 / 61}
	h2 := Result{ResultID: "r1", Score: 1.0 / 61}
	results[h1.ResultID] = &h1
	results[h1.ResultID].Score += h2.Score
	assert.InDelta(t, 4.0/61, results["r1"].Score, 0.0001)
}

func TestFinalizeMergedSortsUnionByScore(t *testing.T) {
	// Base result concatenated first with a lower score must not outrank
	// a later, higher-scored overlay result.
	list := []Result{
		{ResultID: "base-low", Score: 0.02, ChannelRRF: map[string]float64{"symbols": 0.02}},
		{ResultID: "overlay-high", Score: 0.09, ChannelRRF: map[string]float64{"symbols": 0.05, "snippets": 0.04}},
	}
	low, _ := FinalizeMerged(list, Config{ConfidenceThreshold: 0.1})
	assert.Equal(t, "overlay-high", list[0].ResultID)
	assert.False(t, low)
}

func TestFinalizeMergedLowConfidenceOnEmptyUnion(t *testing.T) {
	low, action := FinalizeMerged(nil, Config{ConfidenceThreshold: 0.5})
	assert.True(t, low)
	assert.Equal(t, "broaden_query", action)
}
