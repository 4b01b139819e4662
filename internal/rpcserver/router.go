package rpcserver

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/signalridge/cruxe/internal/config"
	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/ids"
	"github.com/signalridge/cruxe/internal/overlay"
	"github.com/signalridge/cruxe/internal/storage"
	"github.com/signalridge/cruxe/internal/vcs"
)

// RouterOptions configures workspace routing limits and discovery.
type RouterOptions struct {
	// StorageRoot is the configured storage.data_dir (~/.cruxe by
	// default); per-project data lives under <root>/data/<project_id>.
	StorageRoot string

	// AllowedRoots, when non-empty, restricts routable workspaces to
	// descendants of these directories.
	AllowedRoots []string

	// AutoDiscover bootstraps previously unknown workspaces on first use
	// instead of rejecting them.
	AutoDiscover bool

	// MaxWorkspaces caps how many distinct workspaces one server process
	// will route; 0 means unlimited.
	MaxWorkspaces int

	// IndexerBin is the indexer subprocess executable; empty disables
	// spawning (syncs must then be run manually via the CLI).
	IndexerBin string

	// ConfigPath is forwarded to spawned indexer subprocesses as --config.
	ConfigPath string
}

// Router resolves a tools/call workspace argument to a bootstrapped
// Workspace, enforcing allowed-roots and the workspace cap, and
// bootstrapping unknown workspaces (schema + index dirs + project row)
// when auto-discovery is on. Bootstrap is single-flighted per path so a
// burst of calls against a new workspace triggers exactly one setup.
type Router struct {
	opts   RouterOptions
	cfg    *config.Config
	vcs    vcs.Adapter
	logger *slog.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace
	home       *Workspace

	bootstrapGroup singleflight.Group
}

func NewRouter(opts RouterOptions, cfg *config.Config, vcsAdapter vcs.Adapter, logger *slog.Logger) *Router {
	return &Router{
		opts:       opts,
		cfg:        cfg,
		vcs:        vcsAdapter,
		logger:     logger,
		workspaces: make(map[string]*Workspace),
	}
}

// Home returns the workspace the server was started in, if registered.
func (r *Router) Home() *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.home
}

// RegisterHome bootstraps the startup workspace synchronously and marks it
// as the default routing target for calls with no workspace argument.
func (r *Router) RegisterHome(ctx context.Context, path string) (*Workspace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if resolved, serr := filepath.EvalSymlinks(abs); serr == nil {
		abs = resolved
	}
	r.mu.Lock()
	ws, known := r.workspaces[abs]
	r.mu.Unlock()
	if !known {
		// The startup workspace bootstraps unconditionally; the
		// auto-discovery switch only gates workspaces that arrive later
		// via tools/call arguments.
		v, berr, _ := r.bootstrapGroup.Do(abs, func() (any, error) {
			return r.bootstrap(ctx, abs)
		})
		if berr != nil {
			return nil, berr
		}
		ws = v.(*Workspace)
	}
	r.mu.Lock()
	r.home = ws
	r.mu.Unlock()
	return ws, nil
}

// Resolve routes a workspace argument ("" means the home workspace) to a
// bootstrapped Workspace, or a tool error from the workspace_* family.
func (r *Router) Resolve(ctx context.Context, workspaceArg string) (*Workspace, *cerrors.ToolError) {
	if workspaceArg == "" {
		if home := r.Home(); home != nil {
			return home, nil
		}
		return nil, cerrors.New(cerrors.CodeWorkspaceNotRegistered, "no workspace argument and no home workspace registered")
	}

	abs, err := filepath.Abs(workspaceArg)
	if err != nil {
		return nil, cerrors.Newf(cerrors.CodeInvalidInput, "invalid workspace path %q: %v", workspaceArg, err)
	}
	if resolved, serr := filepath.EvalSymlinks(abs); serr == nil {
		abs = resolved
	}

	if !r.pathAllowed(abs) {
		return nil, cerrors.Newf(cerrors.CodeWorkspaceNotAllowed, "workspace %q is outside the allowed roots", abs)
	}

	r.mu.Lock()
	ws, known := r.workspaces[abs]
	count := len(r.workspaces)
	r.mu.Unlock()
	if known {
		return ws, nil
	}

	if !r.opts.AutoDiscover {
		return nil, cerrors.Newf(cerrors.CodeWorkspaceNotRegistered, "workspace %q is not registered and auto-discovery is disabled", abs)
	}
	if r.opts.MaxWorkspaces > 0 && count >= r.opts.MaxWorkspaces {
		return nil, cerrors.Newf(cerrors.CodeWorkspaceLimitExceeded, "workspace limit %d reached", r.opts.MaxWorkspaces)
	}

	v, err, _ := r.bootstrapGroup.Do(abs, func() (any, error) {
		return r.bootstrap(ctx, abs)
	})
	if err != nil {
		return nil, cerrors.AsToolError(err)
	}
	return v.(*Workspace), nil
}

func (r *Router) pathAllowed(abs string) bool {
	if len(r.opts.AllowedRoots) == 0 {
		return true
	}
	for _, root := range r.opts.AllowedRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// bootstrap sets up a newly discovered workspace: project data dir, schema,
// index dirs, project row, known_workspaces row, and an initial-index
// subprocess. The returned Workspace reports indexing_status=indexing; the
// server's refreshIndexingStatus flips it to idle once no active job remains
// for the default ref.
func (r *Router) bootstrap(ctx context.Context, abs string) (*Workspace, error) {
	if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
		return nil, cerrors.Newf(cerrors.CodeWorkspaceNotRegistered, "workspace %q does not exist", abs)
	}

	projectID := ids.ProjectID(abs)
	dataDir := filepath.Join(r.opts.StorageRoot, "data", projectID)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, cerrors.Wrap("io", "create project data dir", err)
	}
	if err := overlay.CreateIndexDir(overlay.Paths{DataDir: dataDir}.BaseDir()); err != nil {
		return nil, err
	}

	vcsMode := "live"
	defaultRef := r.cfg.Search.DefaultRef
	if _, err := os.Stat(filepath.Join(abs, ".git")); err == nil {
		vcsMode = "git"
		if br, ok := r.vcs.(vcs.BranchResolver); ok {
			if branch, berr := br.CurrentBranch(ctx, abs); berr == nil && branch != "" {
				defaultRef = branch
			}
		}
	}

	store, err := storage.Open(ctx, storage.DBPath(dataDir), r.cfg.Storage.BusyTimeoutMs, r.cfg.Storage.CacheSize)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if err := store.UpsertProject(ctx, &storage.Project{
		ProjectID: projectID, RepoRoot: abs, DefaultRef: defaultRef,
		VCSMode: vcsMode, SchemaVersion: storage.CurrentSchemaVersion,
	}); err != nil {
		return nil, err
	}
	if err := store.UpsertKnownWorkspace(ctx, &storage.KnownWorkspace{
		WorkspacePath: abs, ProjectID: projectID, AutoDiscovered: true, IndexStatus: "indexing",
	}); err != nil {
		return nil, err
	}

	ws := &Workspace{
		Path: abs, ProjectID: projectID, DataDir: dataDir,
		DefaultRef: defaultRef, VCSMode: vcsMode, IndexingStatus: "indexing",
	}
	r.mu.Lock()
	r.workspaces[abs] = ws
	r.mu.Unlock()

	if _, terr := r.SpawnIndexer(ctx, ws, defaultRef, false); terr != nil {
		r.logger.Warn("initial index spawn failed", "workspace", abs, "error", terr.Message)
		ws.IndexingStatus = "idle"
	}
	return ws, nil
}

// SpawnIndexer launches the indexer subprocess for (workspace, ref) with
// --path/--ref/--force and a CRUXE_JOB_ID env var, reaping it in the
// background. It does not wait for completion.
func (r *Router) SpawnIndexer(ctx context.Context, ws *Workspace, ref string, force bool) (string, *cerrors.ToolError) {
	if r.opts.IndexerBin == "" {
		return "", cerrors.New(cerrors.CodeInternalError, "no indexer binary configured")
	}

	jobID := uuid.NewString()
	args := []string{"--path", ws.Path, "--ref", ref}
	if force {
		args = append(args, "--force")
	}
	if r.opts.ConfigPath != "" {
		args = append(args, "--config", r.opts.ConfigPath)
	}

	cmd := exec.Command(r.opts.IndexerBin, args...)
	cmd.Env = append(os.Environ(), "CRUXE_JOB_ID="+jobID)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return "", cerrors.Newf(cerrors.CodeInternalError, "spawn indexer: %v", err)
	}

	logger := r.logger
	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Warn("indexer subprocess exited with error", "job_id", jobID, "error", err)
			return
		}
		logger.Info("indexer subprocess finished", "job_id", jobID, "ref", ref)
	}()
	return jobID, nil
}

// ListWorkspaces snapshots the currently routed workspaces.
func (r *Router) ListWorkspaces() []*Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Workspace, 0, len(r.workspaces))
	for _, ws := range r.workspaces {
		out = append(out, ws)
	}
	return out
}

// Register adds a pre-bootstrapped workspace (the serve command's startup
// path, already indexed by a prior run) without spawning an indexer.
func (r *Router) Register(ws *Workspace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workspaces[ws.Path] = ws
	if r.home == nil {
		r.home = ws
	}
}
