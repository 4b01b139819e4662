// Package config loads the effective engine Config from the three-layer
// precedence chain described in the external interface contract:
// ~/.cruxe/config.toml, <workspace>/.cruxe/config.toml, --config <path>,
// then CRUXE_* environment overrides. Values are clamped and warned about
// at this layer rather than hard-rejected, since the caller here is a
// human-edited file, not an AI agent retrying a tool call.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the full effective configuration shape.
type Config struct {
	Index   IndexConfig   `toml:"index"`
	Storage StorageConfig `toml:"storage"`
	Search  SearchConfig  `toml:"search"`
	Logging LoggingConfig `toml:"logging"`
	Debug   DebugConfig   `toml:"debug"`
}

type IndexConfig struct {
	MaxFileSize  int64    `toml:"max_file_size"`
	DefaultLimit int      `toml:"default_limit"`
	Languages    []string `toml:"languages"`
}

type StorageConfig struct {
	DataDir       string `toml:"data_dir"`
	BusyTimeoutMs int    `toml:"busy_timeout_ms"`
	CacheSize     int    `toml:"cache_size"`
}

type SearchConfig struct {
	DefaultRef           string `toml:"default_ref"`
	FreshnessPolicy      string `toml:"freshness_policy"`
	RankingExplainLevel  string `toml:"ranking_explain_level"`
	MaxResponseBytes     int    `toml:"max_response_bytes"`

	Intent   IntentConfig   `toml:"intent"`
	Semantic SemanticConfig `toml:"semantic"`
	Policy   PolicyConfig   `toml:"policy"`
}

type IntentConfig struct {
	RuleOrder                      []string `toml:"rule_order"`
	ErrorPatterns                  []string `toml:"error_patterns"`
	PathExtensions                 []string `toml:"path_extensions"`
	SymbolKindKeywords             []string `toml:"symbol_kind_keywords"`
	EnableWrappedQuotedErrorLiteral bool    `toml:"enable_wrapped_quoted_error_literal"`
}

type SemanticConfig struct {
	Mode                         string  `toml:"mode"` // off, rerank_only, hybrid
	Ratio                        float64 `toml:"ratio"`
	LexicalShortCircuitThreshold float64 `toml:"lexical_short_circuit_threshold"`
	ConfidenceThreshold          float64 `toml:"confidence_threshold"`
	LocalRerankExactNameBoost    float64 `toml:"local_rerank_exact_name_boost"`
	LocalRerankPathAffinityBoost float64 `toml:"local_rerank_path_affinity_boost"`
	LocalRerankDefinitionBoost   float64 `toml:"local_rerank_definition_boost"`
	LocalRerankTestFilePenalty   float64 `toml:"local_rerank_test_file_penalty"`
	SemanticLimitMultiplier      float64 `toml:"semantic_limit_multiplier"`
	ExternalProviderEnabled      bool    `toml:"external_provider_enabled"`
	AllowCodePayloadToExternal   bool    `toml:"allow_code_payload_to_external"`

	Embedding EmbeddingConfig `toml:"embedding"`
	Rerank    RerankConfig    `toml:"rerank"`
}

type EmbeddingConfig struct {
	Profile       string `toml:"profile"`
	Provider      string `toml:"provider"` // local, voyage, openai
	Model         string `toml:"model"`
	ModelVersion  string `toml:"model_version"`
	Dimensions    int    `toml:"dimensions"`
	BatchSize     int    `toml:"batch_size"`
	VectorBackend string `toml:"vector_backend"` // sqlite, lancedb
}

type RerankConfig struct {
	Provider  string `toml:"provider"` // none, cohere, voyage
	TimeoutMs int    `toml:"timeout_ms"`
	Endpoint  string `toml:"endpoint"`
}

type PolicyConfig struct {
	Mode                string   `toml:"mode"` // off, audit_only, balanced, strict
	AllowRequestOverride bool    `toml:"allow_request_override"`
	AllowedOverrideModes []string `toml:"allowed_override_modes"`
	Path                PathPolicy   `toml:"path"`
	Kind                KindPolicy   `toml:"kind"`
	Redaction           RedactionPolicy `toml:"redaction"`
	OPA                 OPAPolicy    `toml:"opa"`
}

type PathPolicy struct {
	Deny  []string `toml:"deny"`
	Allow []string `toml:"allow"`
}

type KindPolicy struct {
	Deny  []string `toml:"deny"`
	Allow []string `toml:"allow"`
}

type RedactionPolicy struct {
	Enabled  bool     `toml:"enabled"`
	Patterns []string `toml:"patterns"`
}

type OPAPolicy struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

type DebugConfig struct {
	RankingReasons bool `toml:"ranking_reasons"` // legacy alias for search.ranking_explain_level=full
}

// Defaults mirrors the original engine's serde defaults.
func Defaults() *Config {
	return &Config{
		Index: IndexConfig{
			MaxFileSize:  2 << 20, // 2 MiB
			DefaultLimit: 10,
			Languages:    []string{"rust", "go", "python", "typescript", "javascript", "java", "c", "cpp"},
		},
		Storage: StorageConfig{
			DataDir:       "~/.cruxe",
			BusyTimeoutMs: 5000,
			CacheSize:     -20000, // negative = KiB, sqlite convention
		},
		Search: SearchConfig{
			DefaultRef:          "live",
			FreshnessPolicy:     "balanced",
			RankingExplainLevel: "off",
			MaxResponseBytes:    1 << 20, // 1 MiB
			Intent: IntentConfig{
				RuleOrder:           []string{"error_pattern", "path", "quoted_error", "symbol", "natural_language"},
				ErrorPatterns:       []string{"error:", "panic:", "Exception", "traceback", "FATAL"},
				PathExtensions:      []string{".rs", ".go", ".ts", ".tsx", ".py", ".java", ".c", ".cpp", ".h"},
				SymbolKindKeywords:  []string{"fn", "func", "function", "class", "struct", "trait", "interface", "enum"},
				EnableWrappedQuotedErrorLiteral: true,
			},
			Semantic: SemanticConfig{
				Mode:                         "hybrid",
				Ratio:                        0.35,
				LexicalShortCircuitThreshold: 0.85,
				ConfidenceThreshold:          0.5,
				LocalRerankExactNameBoost:    2.0,
				LocalRerankPathAffinityBoost: 0.5,
				LocalRerankDefinitionBoost:   0.75,
				LocalRerankTestFilePenalty:   0.6,
				SemanticLimitMultiplier:      4.0,
				ExternalProviderEnabled:      false,
				AllowCodePayloadToExternal:   false,
				Embedding: EmbeddingConfig{
					Profile:       "default",
					Provider:      "local",
					Model:         "local-minilm",
					ModelVersion:  "1",
					Dimensions:    384,
					BatchSize:     32,
					VectorBackend: "sqlite",
				},
				Rerank: RerankConfig{
					Provider:  "none",
					TimeoutMs: 5000,
				},
			},
			Policy: PolicyConfig{
				Mode:                 "off",
				AllowRequestOverride: false,
				AllowedOverrideModes: []string{"audit_only"},
			},
		},
		Logging: LoggingConfig{Level: "info", JSON: true},
		Debug:   DebugConfig{RankingReasons: false},
	}
}

// Load resolves the full three/four-layer precedence chain: global file,
// workspace file, explicit --config path, then CRUXE_* environment
// overrides. workspaceDir and explicitPath may be empty. Any structural or
// range problem is clamped/coerced and reported via warnings rather than
// returned as an error.
func Load(workspaceDir, explicitPath string, logger *slog.Logger) (*Config, []string, error) {
	cfg := Defaults()
	var warnings []string

	home, _ := os.UserHomeDir()
	candidates := []string{}
	if home != "" {
		candidates = append(candidates, filepath.Join(home, ".cruxe", "config.toml"))
	}
	if workspaceDir != "" {
		candidates = append(candidates, filepath.Join(workspaceDir, ".cruxe", "config.toml"))
	}
	if explicitPath != "" {
		candidates = append(candidates, explicitPath)
	}

	for _, path := range candidates {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			warnings = append(warnings, fmt.Sprintf("config: could not read %s: %v", path, err))
			continue
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			warnings = append(warnings, fmt.Sprintf("config: could not parse %s: %v", path, err))
		}
	}

	applyEnvOverrides(cfg, &warnings)
	warnings = append(warnings, clampAndWarn(cfg)...)

	if cfg.Storage.DataDir == "~" || strings.HasPrefix(cfg.Storage.DataDir, "~/") {
		if home != "" {
			cfg.Storage.DataDir = filepath.Join(home, strings.TrimPrefix(cfg.Storage.DataDir, "~"))
		}
	}

	if logger != nil {
		for _, w := range warnings {
			logger.Warn(w)
		}
	}
	return cfg, warnings, nil
}

// clampAndWarn coerces out-of-range values to their defaults and records a
// human-readable warning for each coercion, per the "config load clamps,
// tool input hard-rejects" asymmetry in the design notes.
func clampAndWarn(cfg *Config) []string {
	var warnings []string
	d := Defaults()

	clampRange := func(name string, v *float64, lo, hi, def float64) {
		if *v < lo || *v > hi {
			warnings = append(warnings, fmt.Sprintf("config: %s=%v out of range [%v,%v], using %v", name, *v, lo, hi, def))
			*v = def
		}
	}
	clampRange("search.semantic.ratio", &cfg.Search.Semantic.Ratio, 0, 1, d.Search.Semantic.Ratio)
	clampRange("search.semantic.lexical_short_circuit_threshold", &cfg.Search.Semantic.LexicalShortCircuitThreshold, 0, 1, d.Search.Semantic.LexicalShortCircuitThreshold)
	clampRange("search.semantic.confidence_threshold", &cfg.Search.Semantic.ConfidenceThreshold, 0, 1, d.Search.Semantic.ConfidenceThreshold)

	switch cfg.Search.FreshnessPolicy {
	case "strict", "balanced", "best_effort":
	default:
		warnings = append(warnings, fmt.Sprintf("config: search.freshness_policy=%q invalid, using %q", cfg.Search.FreshnessPolicy, d.Search.FreshnessPolicy))
		cfg.Search.FreshnessPolicy = d.Search.FreshnessPolicy
	}
	switch cfg.Search.RankingExplainLevel {
	case "off", "basic", "full":
	default:
		warnings = append(warnings, fmt.Sprintf("config: search.ranking_explain_level=%q invalid, using %q", cfg.Search.RankingExplainLevel, d.Search.RankingExplainLevel))
		cfg.Search.RankingExplainLevel = d.Search.RankingExplainLevel
	}
	if cfg.Debug.RankingReasons {
		cfg.Search.RankingExplainLevel = "full"
	}
	switch cfg.Search.Semantic.Mode {
	case "off", "rerank_only", "hybrid":
	default:
		warnings = append(warnings, fmt.Sprintf("config: search.semantic.mode=%q invalid, using %q", cfg.Search.Semantic.Mode, d.Search.Semantic.Mode))
		cfg.Search.Semantic.Mode = d.Search.Semantic.Mode
	}
	if cfg.Index.DefaultLimit <= 0 {
		warnings = append(warnings, fmt.Sprintf("config: index.default_limit=%d invalid, using %d", cfg.Index.DefaultLimit, d.Index.DefaultLimit))
		cfg.Index.DefaultLimit = d.Index.DefaultLimit
	}
	if cfg.Search.MaxResponseBytes <= 0 {
		warnings = append(warnings, fmt.Sprintf("config: search.max_response_bytes=%d invalid, using %d", cfg.Search.MaxResponseBytes, d.Search.MaxResponseBytes))
		cfg.Search.MaxResponseBytes = d.Search.MaxResponseBytes
	}
	if cfg.Storage.BusyTimeoutMs <= 0 {
		warnings = append(warnings, fmt.Sprintf("config: storage.busy_timeout_ms=%d invalid, using %d", cfg.Storage.BusyTimeoutMs, d.Storage.BusyTimeoutMs))
		cfg.Storage.BusyTimeoutMs = d.Storage.BusyTimeoutMs
	}
	return warnings
}

// applyEnvOverrides maps CRUXE_SECTION_FIELD (and nested
// CRUXE_SECTION_SUBSECTION_FIELD) env vars onto cfg, per the CLI surface
// contract. CSV values split on comma; booleans accept 1/true/yes/on.
func applyEnvOverrides(cfg *Config, warnings *[]string) {
	str := func(env string, dst *string) {
		if v, ok := os.LookupEnv(env); ok {
			*dst = v
		}
	}
	i64 := func(env string, dst *int64) {
		if v, ok := os.LookupEnv(env); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				*warnings = append(*warnings, fmt.Sprintf("config: invalid %s=%q: %v", env, v, err))
				return
			}
			*dst = n
		}
	}
	i := func(env string, dst *int) {
		if v, ok := os.LookupEnv(env); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				*warnings = append(*warnings, fmt.Sprintf("config: invalid %s=%q: %v", env, v, err))
				return
			}
			*dst = n
		}
	}
	f := func(env string, dst *float64) {
		if v, ok := os.LookupEnv(env); ok {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				*warnings = append(*warnings, fmt.Sprintf("config: invalid %s=%q: %v", env, v, err))
				return
			}
			*dst = n
		}
	}
	b := func(env string, dst *bool) {
		if v, ok := os.LookupEnv(env); ok {
			*dst = parseBool(v)
		}
	}
	csv := func(env string, dst *[]string) {
		if v, ok := os.LookupEnv(env); ok {
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					out = append(out, p)
				}
			}
			*dst = out
		}
	}

	i64("CRUXE_INDEX_MAX_FILE_SIZE", &cfg.Index.MaxFileSize)
	i("CRUXE_INDEX_DEFAULT_LIMIT", &cfg.Index.DefaultLimit)
	csv("CRUXE_INDEX_LANGUAGES", &cfg.Index.Languages)

	str("CRUXE_STORAGE_DATA_DIR", &cfg.Storage.DataDir)
	i("CRUXE_STORAGE_BUSY_TIMEOUT_MS", &cfg.Storage.BusyTimeoutMs)
	i("CRUXE_STORAGE_CACHE_SIZE", &cfg.Storage.CacheSize)

	str("CRUXE_SEARCH_DEFAULT_REF", &cfg.Search.DefaultRef)
	str("CRUXE_SEARCH_FRESHNESS_POLICY", &cfg.Search.FreshnessPolicy)
	str("CRUXE_SEARCH_RANKING_EXPLAIN_LEVEL", &cfg.Search.RankingExplainLevel)
	i("CRUXE_SEARCH_MAX_RESPONSE_BYTES", &cfg.Search.MaxResponseBytes)

	f("CRUXE_SEARCH_SEMANTIC_RATIO", &cfg.Search.Semantic.Ratio)
	str("CRUXE_SEARCH_SEMANTIC_MODE", &cfg.Search.Semantic.Mode)
	b("CRUXE_SEARCH_SEMANTIC_EXTERNAL_PROVIDER_ENABLED", &cfg.Search.Semantic.ExternalProviderEnabled)
	b("CRUXE_SEARCH_SEMANTIC_ALLOW_CODE_PAYLOAD_TO_EXTERNAL", &cfg.Search.Semantic.AllowCodePayloadToExternal)
	str("CRUXE_SEARCH_SEMANTIC_EMBEDDING_PROVIDER", &cfg.Search.Semantic.Embedding.Provider)
	str("CRUXE_SEARCH_SEMANTIC_RERANK_PROVIDER", &cfg.Search.Semantic.Rerank.Provider)

	str("CRUXE_LOGGING_LEVEL", &cfg.Logging.Level)
	b("CRUXE_LOGGING_JSON", &cfg.Logging.JSON)
	b("CRUXE_DEBUG_RANKING_REASONS", &cfg.Debug.RankingReasons)
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
