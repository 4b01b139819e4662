// Package planner decides, given a classified Intent and a ref scope,
// which of the three text-index channels to query and with what RRF
// fusion weights.
package planner

import "github.com/signalridge/cruxe/internal/intent"

// Plan selects the channels to search and their fusion weights.
type Plan struct {
	SearchSymbols  bool
	SearchSnippets bool
	SearchFiles    bool

	SymbolWeight  float64
	SnippetWeight float64
	FileWeight    float64
}

// RefScope distinguishes the default ref (base index only) from a
// non-default ref (base+overlay merge required downstream); the
// planner itself doesn't change channel selection by scope today, but
// keeping the parameter matches the contract's "(intent, ref_scope) ->
// plan" shape for future per-scope tuning (e.g. disabling semantic blend
// for extremely large overlays).
type RefScope string

const (
	ScopeDefault    RefScope = "default"
	ScopeNonDefault RefScope = "non_default"
)

// Select maps an Intent to a Plan of search flags and weights:
//
//	Symbol:           sym/snip/file weights 3.0 / 1.0 / 0.0
//	NaturalLanguage:   1.5 / 2.0 / 1.0
//	Path:              0.0 / 1.0 / 3.0
//	Error:             1.0 / 2.5 / 0.0
func Select(i intent.Intent, _ RefScope) Plan {
	switch i {
	case intent.IntentSymbol:
		return Plan{SearchSymbols: true, SearchSnippets: true, SearchFiles: false,
			SymbolWeight: 3.0, SnippetWeight: 1.0, FileWeight: 0.0}
	case intent.IntentPath:
		return Plan{SearchSymbols: false, SearchSnippets: true, SearchFiles: true,
			SymbolWeight: 0.0, SnippetWeight: 1.0, FileWeight: 3.0}
	case intent.IntentErrorPattern, intent.IntentQuotedError:
		return Plan{SearchSymbols: true, SearchSnippets: true, SearchFiles: false,
			SymbolWeight: 1.0, SnippetWeight: 2.5, FileWeight: 0.0}
	default: // natural_language
		return Plan{SearchSymbols: true, SearchSnippets: true, SearchFiles: true,
			SymbolWeight: 1.5, SnippetWeight: 2.0, FileWeight: 1.0}
	}
}
