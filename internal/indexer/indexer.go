// Package indexer is the shared entry point behind `cruxe index`,
// `cruxe sync`, and the cruxe-indexer subprocess: it loads config, opens
// the workspace's project store, and runs one sync-engine pass for a ref.
package indexer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/signalridge/cruxe/internal/config"
	"github.com/signalridge/cruxe/internal/extract"
	"github.com/signalridge/cruxe/internal/ids"
	"github.com/signalridge/cruxe/internal/overlay"
	"github.com/signalridge/cruxe/internal/storage"
	syncengine "github.com/signalridge/cruxe/internal/sync"
	"github.com/signalridge/cruxe/internal/tools"
	"github.com/signalridge/cruxe/internal/vcs"
	"github.com/signalridge/cruxe/internal/vectorindex"
)

// Scope resolves a workspace path to its (project_id, data_dir) pair under
// the configured storage root.
func Scope(cfg *config.Config, workspacePath string) (string, string) {
	abs, err := filepath.Abs(workspacePath)
	if err == nil {
		if resolved, serr := filepath.EvalSymlinks(abs); serr == nil {
			abs = resolved
		}
	} else {
		abs = workspacePath
	}
	projectID := ids.ProjectID(abs)
	return projectID, filepath.Join(cfg.Storage.DataDir, "data", projectID)
}

// Run executes one full indexer pass: bootstrap the project's store and
// index dirs if needed, register the project row, and run the sync engine
// for ref. jobID, when non-empty (the CRUXE_JOB_ID handoff from a spawning
// tool handler), names the index job row.
func Run(ctx context.Context, workspacePath, ref, configPath string, force bool, jobID string) (*syncengine.Result, error) {
	abs, err := filepath.Abs(workspacePath)
	if err != nil {
		return nil, err
	}
	if resolved, serr := filepath.EvalSymlinks(abs); serr == nil {
		abs = resolved
	}

	cfg, _, err := config.Load(abs, configPath, nil)
	if err != nil {
		return nil, err
	}

	projectID, dataDir := Scope(cfg, abs)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	if err := overlay.CreateIndexDir(overlay.Paths{DataDir: dataDir}.BaseDir()); err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, storage.DBPath(dataDir), cfg.Storage.BusyTimeoutMs, cfg.Storage.CacheSize)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	gitAdapter := vcs.NewGit()
	vcsMode := "live"
	defaultRef := cfg.Search.DefaultRef
	if _, serr := os.Stat(filepath.Join(abs, ".git")); serr == nil {
		vcsMode = "git"
		if branch, berr := gitAdapter.CurrentBranch(ctx, abs); berr == nil && branch != "" {
			defaultRef = branch
		}
	}
	if ref == "" {
		ref = defaultRef
	}

	if err := store.UpsertProject(ctx, &storage.Project{
		ProjectID: projectID, RepoRoot: abs, DefaultRef: defaultRef,
		VCSMode: vcsMode, SchemaVersion: storage.CurrentSchemaVersion,
	}); err != nil {
		return nil, err
	}

	embedder, _ := tools.ProvidersFromConfig(cfg)
	engine := syncengine.New(store, gitAdapter, extract.NewRegexExtractor(),
		vectorindex.New(store), embedder, dataDir, cfg.Search.Semantic.Mode)

	return engine.Sync(ctx, syncengine.Request{
		ProjectID:       projectID,
		RepoRoot:        abs,
		Ref:             ref,
		BaseRef:         defaultRef,
		IsDefaultBranch: ref == defaultRef || vcsMode == "live",
		Force:           force,
		JobID:           jobID,
	})
}
