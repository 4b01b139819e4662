package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testRules = Rules{
	Order:                           []string{"error_pattern", "path", "quoted_error", "symbol", "natural_language"},
	ErrorPatterns:                   []string{"error:", "panic:", "Exception", "traceback", "FATAL"},
	PathExtensions:                  []string{".rs", ".go", ".ts"},
	SymbolKindKeywords:              []string{"fn", "func", "class", "trait"},
	EnableWrappedQuotedErrorLiteral: true,
}

func TestClassifyErrorPattern(t *testing.T) {
	r := Classify("panic: runtime error: index out of range", testRules)
	assert.Equal(t, IntentErrorPattern, r.Intent)
	assert.Greater(t, r.Confidence, 0.5)
}

func TestClassifyPath(t *testing.T) {
	r := Classify("src/storage/db.go", testRules)
	assert.Equal(t, IntentPath, r.Intent)
}

func TestClassifyQuotedError(t *testing.T) {
	r := Classify(`"FATAL: connection refused"`, testRules)
	// The surrounding quotes are stripped before the error rule reruns.
	assert.Contains(t, []Intent{IntentErrorPattern, IntentQuotedError}, r.Intent)
}

func TestClassifySymbolKeyword(t *testing.T) {
	r := Classify("fn resolve_head", testRules)
	assert.Equal(t, IntentSymbol, r.Intent)
}

func TestClassifyBareIdentifier(t *testing.T) {
	r := Classify("ResolveHead", testRules)
	assert.Equal(t, IntentSymbol, r.Intent)
}

func TestClassifyNaturalLanguageFallback(t *testing.T) {
	r := Classify("where is user login handled", testRules)
	assert.Equal(t, IntentNaturalLanguage, r.Intent)
}

func TestClassifyRuleOrderRespected(t *testing.T) {
	// With path evaluated before error_pattern, a query carrying both
	// signals classifies as path.
	reordered := testRules
	reordered.Order = []string{"path", "error_pattern", "symbol", "natural_language"}
	r := Classify("error: cannot open src/main.go", reordered)
	assert.Equal(t, IntentPath, r.Intent)
}
