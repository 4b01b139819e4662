package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, _, err := Load("", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Search.FreshnessPolicy != "balanced" {
		t.Fatalf("expected default freshness policy balanced, got %q", cfg.Search.FreshnessPolicy)
	}
	if cfg.Search.Semantic.Mode != "hybrid" {
		t.Fatalf("expected default semantic mode hybrid, got %q", cfg.Search.Semantic.Mode)
	}
}

func TestLoadClampsOutOfRangeRatio(t *testing.T) {
	dir := t.TempDir()
	cruxeDir := filepath.Join(dir, ".cruxe")
	if err := os.MkdirAll(cruxeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	tomlSrc := "[search.semantic]\nratio = 4.2\n"
	if err := os.WriteFile(filepath.Join(cruxeDir, "config.toml"), []byte(tomlSrc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, warnings, err := Load(dir, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Search.Semantic.Ratio != Defaults().Search.Semantic.Ratio {
		t.Fatalf("expected ratio clamped to default, got %v", cfg.Search.Semantic.Ratio)
	}
	if len(warnings) == 0 {
		t.Fatalf("expected a clamp warning")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CRUXE_SEARCH_FRESHNESS_POLICY", "strict")
	cfg, _, err := Load("", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Search.FreshnessPolicy != "strict" {
		t.Fatalf("expected env override to apply, got %q", cfg.Search.FreshnessPolicy)
	}
}
