// Package extract types the tree-sitter symbol/call-site extraction
// contract: the real parser is an external collaborator, only its contract
// matters here. A minimal regex-based stub implements it
// so the sync engine and its tests have something to call; a production
// deployment swaps in a real tree-sitter-backed Extractor.
package extract

import (
	"regexp"
	"sort"
	"strings"
)

// Symbol is the extractor's output shape for one definition site, carrying
// exactly the fields internal/storage.Symbol needs to be populated from.
type Symbol struct {
	Name          string
	QualifiedName string
	Kind          string
	LineStart     int
	LineEnd       int
	Signature     string
	ParentName    string
	Visibility    string
}

// Call is one unresolved call site found in a file: the target is carried
// as a textual name, since resolution against symbol_stable_id happens
// later, at file-set granularity, inside the sync transaction.
type Call struct {
	FromQualifiedName string
	ToName            string
	Line              int
}

// Import is one import/use statement, used to build `imports` edges from
// the synthetic file-source node.
type Import struct {
	Target string
	Line   int
}

// Extraction is the full result of parsing one file.
type Extraction struct {
	Symbols []Symbol
	Calls   []Call
	Imports []Import
}

// Extractor is the out-of-scope contract: given a language tag and file
// content, return its structural extraction. A parse failure is returned
// as an error so the sync engine can log-and-continue with a
// metadata-only update.
type Extractor interface {
	SupportsLanguage(language string) bool
	Extract(language, path, content string) (*Extraction, error)
}

// RegexExtractor is a minimal, deliberately approximate stand-in for the
// real tree-sitter pipeline: it recognizes common function/class/struct
// definition patterns across a handful of curly-brace languages using line
// oriented regexes. It exists so the rest of the engine (storage, text
// index, sync, retrieval) can be exercised end-to-end without vendoring a
// parser; production deployments are expected to inject a real Extractor.
type RegexExtractor struct{}

func NewRegexExtractor() *RegexExtractor { return &RegexExtractor{} }

var supportedLanguages = map[string]bool{
	"go": true, "rust": true, "python": true, "typescript": true,
	"javascript": true, "java": true, "c": true, "cpp": true,
}

func (e *RegexExtractor) SupportsLanguage(language string) bool {
	return supportedLanguages[strings.ToLower(language)]
}

// SupportedLanguages lists the languages the stub extractor handles, in a
// stable order, for health_check's grammars report.
func SupportedLanguages() []string {
	out := make([]string, 0, len(supportedLanguages))
	for lang := range supportedLanguages {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

var (
	goFuncRe      = regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	goTypeRe      = regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)\s+(struct|interface)\b`)
	pyDefRe       = regexp.MustCompile(`^(\s*)def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	pyClassRe     = regexp.MustCompile(`^(\s*)class\s+([A-Za-z_][A-Za-z0-9_]*)\b`)
	braceFnRe     = regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	braceClassRe  = regexp.MustCompile(`^\s*(?:export\s+)?class\s+([A-Za-z_][A-Za-z0-9_]*)\b`)
	javaMethodRe  = regexp.MustCompile(`^\s*(?:public|private|protected)\s+[\w<>\[\],\s]+\s+([A-Za-z_][A-Za-z0-9_]*)\s*\([^;]*\{?\s*$`)
	importRe      = regexp.MustCompile(`^(?:import|use)\s+"?([A-Za-z0-9_./\-]+)"?`)
	callRe        = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	goKeywordSkip = map[string]bool{"if": true, "for": true, "switch": true, "return": true, "func": true}
)

// Extract walks content line by line; each matched definition becomes the
// current "parent" for subsequent call-site attribution until the next
// definition or the end of file. This is intentionally shallow — it has no
// brace-depth tracking — matching the out-of-scope stub's stated purpose.
func (e *RegexExtractor) Extract(language, path, content string) (*Extraction, error) {
	lines := strings.Split(content, "\n")
	out := &Extraction{}

	currentQualified := ""
	lang := strings.ToLower(language)

	for i, line := range lines {
		lineNo := i + 1
		if m := importRe.FindStringSubmatch(line); m != nil {
			out.Imports = append(out.Imports, Import{Target: m[1], Line: lineNo})
			continue
		}

		var name, kind string
		switch lang {
		case "go":
			if m := goFuncRe.FindStringSubmatch(line); m != nil {
				name, kind = m[1], "function"
			} else if m := goTypeRe.FindStringSubmatch(line); m != nil {
				name, kind = m[1], m[2]
			}
		case "python":
			if m := pyDefRe.FindStringSubmatch(line); m != nil {
				name, kind = m[2], "function"
			} else if m := pyClassRe.FindStringSubmatch(line); m != nil {
				name, kind = m[2], "class"
			}
		case "java":
			if m := braceClassRe.FindStringSubmatch(line); m != nil {
				name, kind = m[1], "class"
			} else if m := javaMethodRe.FindStringSubmatch(line); m != nil {
				name, kind = m[1], "method"
			}
		default: // typescript, javascript, c, cpp, rust fall back to brace-style
			if m := braceFnRe.FindStringSubmatch(line); m != nil {
				name, kind = m[1], "function"
			} else if m := braceClassRe.FindStringSubmatch(line); m != nil {
				name, kind = m[1], "class"
			}
		}

		if name != "" {
			endLine := findBlockEnd(lines, i)
			sym := Symbol{
				Name:          name,
				QualifiedName: name,
				Kind:          kind,
				LineStart:     lineNo,
				LineEnd:       endLine,
				Signature:     strings.TrimSpace(line),
				Visibility:    visibilityOf(lang, name),
			}
			out.Symbols = append(out.Symbols, sym)
			currentQualified = name
			continue
		}

		for _, m := range callRe.FindAllStringSubmatch(line, -1) {
			target := m[1]
			if goKeywordSkip[target] || target == name {
				continue
			}
			out.Calls = append(out.Calls, Call{
				FromQualifiedName: currentQualified,
				ToName:            target,
				Line:              lineNo,
			})
		}
	}
	_ = path
	return out, nil
}

// findBlockEnd does a naive brace-count scan from a definition line,
// falling back to the definition line itself for languages/constructs
// without braces (e.g. a one-line Python def).
func findBlockEnd(lines []string, startIdx int) int {
	depth := 0
	seenOpen := false
	for i := startIdx; i < len(lines); i++ {
		for _, r := range lines[i] {
			switch r {
			case '{':
				depth++
				seenOpen = true
			case '}':
				depth--
				if seenOpen && depth <= 0 {
					return i + 1
				}
			}
		}
	}
	if seenOpen {
		return len(lines)
	}
	return startIdx + 1
}

func visibilityOf(lang, name string) string {
	if lang == "go" {
		if name != "" && strings.ToUpper(name[:1]) == name[:1] {
			return "public"
		}
		return "private"
	}
	if strings.HasPrefix(name, "_") {
		return "private"
	}
	return "public"
}
