package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/signalridge/cruxe/internal/intent"
)

func TestSelectWeightsPerIntent(t *testing.T) {
	cases := []struct {
		intent  intent.Intent
		symbols bool
		files   bool
		symW    float64
		snipW   float64
		fileW   float64
	}{
		{intent.IntentSymbol, true, false, 3.0, 1.0, 0.0},
		{intent.IntentNaturalLanguage, true, true, 1.5, 2.0, 1.0},
		{intent.IntentPath, false, true, 0.0, 1.0, 3.0},
		{intent.IntentErrorPattern, true, false, 1.0, 2.5, 0.0},
		{intent.IntentQuotedError, true, false, 1.0, 2.5, 0.0},
	}
	for _, tc := range cases {
		p := Select(tc.intent, ScopeDefault)
		assert.Equal(t, tc.symbols, p.SearchSymbols, "%s symbols", tc.intent)
		assert.True(t, p.SearchSnippets, "%s always searches snippets", tc.intent)
		assert.Equal(t, tc.files, p.SearchFiles, "%s files", tc.intent)
		assert.Equal(t, tc.symW, p.SymbolWeight, "%s symbol weight", tc.intent)
		assert.Equal(t, tc.snipW, p.SnippetWeight, "%s snippet weight", tc.intent)
		assert.Equal(t, tc.fileW, p.FileWeight, "%s file weight", tc.intent)
	}
}

func TestSelectScopeDoesNotChangeChannels(t *testing.T) {
	a := Select(intent.IntentSymbol, ScopeDefault)
	b := Select(intent.IntentSymbol, ScopeNonDefault)
	assert.Equal(t, a, b)
}
