// Package intent is the rule-ordered query classifier: five rules
// (error_pattern, path, quoted_error, symbol, natural_language) evaluated
// in configured order, each reporting a confidence and an optional
// escalation hint.
package intent

import (
	"regexp"
	"strings"
)

// Intent is the classified query category driving C8's planner.
type Intent string

const (
	IntentErrorPattern   Intent = "error_pattern"
	IntentPath           Intent = "path"
	IntentQuotedError    Intent = "quoted_error"
	IntentSymbol         Intent = "symbol"
	IntentNaturalLanguage Intent = "natural_language"
)

// Result is one rule's verdict: the classified intent, a confidence in
// [0,1], and an optional hint describing what almost matched instead.
type Result struct {
	Intent         Intent
	Confidence     float64
	EscalationHint string
}

// Rules holds the configured pattern sets each intent rule consults,
// mirroring the search.intent TOML-configurable fields.
type Rules struct {
	Order                           []string
	ErrorPatterns                   []string
	PathExtensions                  []string
	SymbolKindKeywords              []string
	EnableWrappedQuotedErrorLiteral bool
}

var identifierShape = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(::[A-Za-z_][A-Za-z0-9_]*|\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Classify evaluates query against the configured rules in Rules.Order,
// returning the first rule that matches; natural_language is the
// unconditional fallback so Classify always returns a Result.
func Classify(query string, rules Rules) Result {
	order := rules.Order
	if len(order) == 0 {
		order = []string{"error_pattern", "path", "quoted_error", "symbol", "natural_language"}
	}
	for _, rule := range order {
		switch rule {
		case "error_pattern":
			if r, ok := matchErrorPattern(query, rules.ErrorPatterns); ok {
				return r
			}
		case "path":
			if r, ok := matchPath(query, rules.PathExtensions); ok {
				return r
			}
		case "quoted_error":
			if rules.EnableWrappedQuotedErrorLiteral {
				if r, ok := matchQuotedError(query, rules.ErrorPatterns); ok {
					return r
				}
			}
		case "symbol":
			if r, ok := matchSymbol(query, rules.SymbolKindKeywords); ok {
				return r
			}
		}
	}
	return Result{Intent: IntentNaturalLanguage, Confidence: 0.5}
}

// matchErrorPattern matches when any of the configured patterns (error:,
// panic:, Exception, traceback, FATAL, …) occurs in the query.
func matchErrorPattern(query string, patterns []string) (Result, bool) {
	lower := strings.ToLower(query)
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return Result{Intent: IntentErrorPattern, Confidence: 0.9}, true
		}
	}
	return Result{}, false
}

// matchPath implements "query contains a configured file extension (.rs,
// .ts, …) or a path separator fragment".
func matchPath(query string, extensions []string) (Result, bool) {
	if strings.Contains(query, "/") || strings.Contains(query, "\\") {
		return Result{Intent: IntentPath, Confidence: 0.85}, true
	}
	lower := strings.ToLower(query)
	for _, ext := range extensions {
		if ext == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(ext)) {
			return Result{Intent: IntentPath, Confidence: 0.75}, true
		}
	}
	return Result{}, false
}

// matchQuotedError implements "the query is (optionally stripped of
// surrounding quotes) and matches the error-pattern rule".
func matchQuotedError(query string, patterns []string) (Result, bool) {
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < 2 {
		return Result{}, false
	}
	unwrapped := trimmed
	if (trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"') ||
		(trimmed[0] == '\'' && trimmed[len(trimmed)-1] == '\'') {
		unwrapped = trimmed[1 : len(trimmed)-1]
	} else {
		return Result{}, false
	}
	if r, ok := matchErrorPattern(unwrapped, patterns); ok {
		r.Intent = IntentQuotedError
		r.EscalationHint = "error_pattern"
		return r, true
	}
	return Result{}, false
}

// matchSymbol implements "query starts with a configured kind keyword (fn,
// class, trait, …) followed by an identifier, or is a single
// identifier-shaped token".
func matchSymbol(query string, kindKeywords []string) (Result, bool) {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return Result{}, false
	}
	if len(fields) == 2 {
		for _, kw := range kindKeywords {
			if strings.EqualFold(fields[0], kw) && identifierShape.MatchString(fields[1]) {
				return Result{Intent: IntentSymbol, Confidence: 0.9}, true
			}
		}
	}
	if len(fields) == 1 && identifierShape.MatchString(fields[0]) {
		return Result{Intent: IntentSymbol, Confidence: 0.7, EscalationHint: "natural_language"}, true
	}
	return Result{}, false
}
