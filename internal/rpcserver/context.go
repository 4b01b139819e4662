package rpcserver

import (
	"context"
	"log/slog"

	"github.com/signalridge/cruxe/internal/config"
	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/extract"
	"github.com/signalridge/cruxe/internal/health"
	"github.com/signalridge/cruxe/internal/storage"
	"github.com/signalridge/cruxe/internal/textindex"
	"github.com/signalridge/cruxe/internal/vcs"
)

// Workspace is one routed workspace: a repository root plus the derived
// per-project data directory that holds its state.db, base text index,
// overlays, and staging area.
type Workspace struct {
	Path           string
	ProjectID      string
	DataDir        string
	DefaultRef     string
	VCSMode        string // git, live
	IndexingStatus string // idle, indexing
}

// RequestContext carries everything one tool invocation needs: the routed
// workspace, a leased store handle from the connection manager, the shared
// config/monitor/vcs collaborators, and the progress notifier negotiated at
// initialize time. It is built by the dispatcher per tools/call and torn
// down (store handle released) when the call returns.
type RequestContext struct {
	Workspace *Workspace
	Session   string

	// ProgressToken correlates notifications/progress frames with the
	// request that asked for them; empty when the client sent none.
	ProgressToken string

	Config    *config.Config
	Logger    *slog.Logger
	Monitor   *health.Monitor
	VCS       vcs.Adapter
	Extractor extract.Extractor
	Notifier  ProgressNotifier

	conns    *ConnManager
	sessions *SessionRefs
	router   *Router
	handle   *ConnHandle
}

// Store returns the workspace's state.db handle leased for the duration of
// this request.
func (rc *RequestContext) Store() *storage.Store {
	if rc.handle == nil {
		return nil
	}
	return rc.handle.Store()
}

// Text returns the workspace's base text index set, reopening its readers
// first so this query observes any segments a sync published since the
// last call (readers are reopened per query; prewarm amortizes the first
// open).
func (rc *RequestContext) Text() (*textindex.Set, error) {
	return rc.conns.TextSet(rc.Workspace.DataDir)
}

// OverlayText returns the text index set for one of this workspace's
// overlay directories, validated against the data dir before opening.
func (rc *RequestContext) OverlayText(overlayDir string) (*textindex.Set, error) {
	return rc.conns.OverlayTextSet(rc.Workspace.DataDir, overlayDir)
}

// ResolveRef applies the resolve_tool_ref precedence chain: explicit
// argument, session override, VCS HEAD branch, project default, "live".
func (rc *RequestContext) ResolveRef(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if ref, ok := rc.sessions.Get(rc.Session, rc.Workspace.ProjectID, rc.Workspace.Path); ok {
		return ref
	}
	if rc.Workspace.VCSMode == "git" {
		if br, ok := rc.VCS.(vcs.BranchResolver); ok {
			if branch, err := br.CurrentBranch(ctx, rc.Workspace.Path); err == nil && branch != "" {
				return branch
			}
		}
	}
	if rc.Workspace.DefaultRef != "" {
		return rc.Workspace.DefaultRef
	}
	return "live"
}

// SetSessionRef records a ref override for this session scope.
func (rc *RequestContext) SetSessionRef(ref string) {
	rc.sessions.Set(rc.Session, rc.Workspace.ProjectID, rc.Workspace.Path, ref)
}

// SpawnIndexer launches the indexer subprocess for this workspace and ref,
// returning the job id it was told to write. force selects a full rebuild.
func (rc *RequestContext) SpawnIndexer(ctx context.Context, ref string, force bool) (string, *cerrors.ToolError) {
	return rc.router.SpawnIndexer(ctx, rc.Workspace, ref, force)
}

// SpawnIndexerFor targets a different routed workspace (index_repo/
// sync_repo accept an explicit path argument).
func (rc *RequestContext) SpawnIndexerFor(ctx context.Context, ws *Workspace, ref string, force bool) (string, *cerrors.ToolError) {
	return rc.router.SpawnIndexer(ctx, ws, ref, force)
}

// RouteWorkspace resolves an explicit workspace path argument (index_repo/
// sync_repo accept one) through the same router as top-level routing.
func (rc *RequestContext) RouteWorkspace(ctx context.Context, path string) (*Workspace, *cerrors.ToolError) {
	if path == "" {
		return rc.Workspace, nil
	}
	return rc.router.Resolve(ctx, path)
}

// OpenSideStore opens an independent state.db connection for a concurrent
// worker (overlay merge runs base and overlay searches on separate
// connections, never sharing one across goroutines).
func (rc *RequestContext) OpenSideStore(ctx context.Context) (*storage.Store, error) {
	return storage.Open(ctx, storage.DBPath(rc.Workspace.DataDir),
		rc.Config.Storage.BusyTimeoutMs, rc.Config.Storage.CacheSize)
}
