package tools

import (
	"context"
	"encoding/json"
	"fmt"

	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/health"
	"github.com/signalridge/cruxe/internal/rpcserver"
	"github.com/signalridge/cruxe/internal/storage"
)

// Vector-count warning tiers for the SQLite vector backend.
const (
	vectorWarnSoft = 50_000
	vectorWarnHard = 200_000
)

type healthCheckArgs struct {
	Workspace string `json:"workspace"`
}

func handleHealthCheck(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	if _, terr := parseArgs[healthCheckArgs](params); terr != nil {
		return nil, terr
	}
	// The dispatcher already routed the workspace argument; rc.Workspace
	// is the one to report on.
	report := rc.Monitor.Check(ctx, rc.Store(), rc.Workspace.ProjectID)

	md := newMetadata(rc, rc.Workspace.DefaultRef, nil)

	var activeJob map[string]any
	if job, err := rc.Store().GetActiveJobForRef(ctx, rc.Workspace.ProjectID, rc.Workspace.DefaultRef); err == nil {
		activeJob = jobPayload(job)
		report.Status = health.StatusIndexing
		md.IndexingStatus = "indexing"
	}

	if n, err := rc.Store().CountVectorsForScope(ctx, rc.Workspace.ProjectID, rc.Workspace.DefaultRef); err == nil {
		switch {
		case n >= vectorWarnHard:
			md.Warnings = append(md.Warnings, fmt.Sprintf("semantic_vectors holds %d rows for this scope; the sqlite vector backend degrades beyond %d — consider the lancedb backend", n, vectorWarnHard))
		case n >= vectorWarnSoft:
			md.Warnings = append(md.Warnings, fmt.Sprintf("semantic_vectors holds %d rows for this scope (soft limit %d for the sqlite backend)", n, vectorWarnSoft))
		}
	}

	checks := make([]map[string]any, 0, len(report.StartupChecks))
	indexCheck := map[string]any{}
	for _, c := range report.StartupChecks {
		entry := map[string]any{
			"project_id":              c.ProjectID,
			"status":                  c.Status,
			"current_schema_version":  c.CurrentSchemaVersion,
			"required_schema_version": c.RequiredSchemaVersion,
		}
		if c.Message != "" {
			entry["message"] = c.Message
		}
		checks = append(checks, entry)
		indexCheck = entry
	}

	projects := make([]map[string]any, 0, len(report.Projects))
	for _, p := range report.Projects {
		projects = append(projects, map[string]any{
			"project_id":    p.ProjectID,
			"repo_root":     p.RepoRoot,
			"schema_status": p.SchemaStatus,
			"active_job_id": p.ActiveJobID,
		})
	}

	payload := map[string]any{
		"status":         string(report.Status),
		"version":        report.Version,
		"uptime_seconds": report.UptimeSeconds,
		"tantivy_ok":     report.TantivyOK,
		"sqlite_ok":      report.SQLiteOK,
		"prewarm_status": string(report.PrewarmStatus),
		"grammars": map[string]any{
			"available": report.Grammars.Available,
			"missing":   report.Grammars.Missing,
		},
		"startup_checks": map[string]any{"index": indexCheck, "all": checks},
		"projects":       projects,
		"metadata":       md,
	}
	if report.SQLiteError != "" {
		payload["sqlite_error"] = report.SQLiteError
	}
	if activeJob != nil {
		payload["active_job"] = activeJob
	}
	if len(report.InterruptedRecoveryReport) > 0 {
		recovered := make([]map[string]any, 0, len(report.InterruptedRecoveryReport))
		for _, j := range report.InterruptedRecoveryReport {
			recovered = append(recovered, map[string]any{"job_id": j.JobID, "project_id": j.ProjectID, "ref": j.Ref})
		}
		payload["interrupted_recovery_report"] = recovered
	}
	return payload, nil
}

type indexStatusArgs struct {
	Ref string `json:"ref"`
}

func jobPayload(j *storage.IndexJob) map[string]any {
	out := map[string]any{
		"job_id":            j.JobID,
		"ref":               j.Ref,
		"mode":              j.Mode,
		"status":            string(j.Status),
		"changed_files":     j.ChangedFiles,
		"files_scanned":     j.FilesScanned,
		"files_indexed":     j.FilesIndexed,
		"symbols_extracted": j.SymbolsExtracted,
		"retry_count":       j.RetryCount,
		"created_at":        j.CreatedAt,
	}
	if j.HeadCommit != "" {
		out["head_commit"] = j.HeadCommit
	}
	if j.DurationMs != nil {
		out["duration_ms"] = *j.DurationMs
	}
	if j.ErrorMessage != "" {
		out["error_message"] = j.ErrorMessage
	}
	return out
}

func handleIndexStatus(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	args, terr := parseArgs[indexStatusArgs](params)
	if terr != nil {
		return nil, terr
	}
	ref := rc.ResolveRef(ctx, args.Ref)
	store := rc.Store()
	projectID := rc.Workspace.ProjectID

	md := newMetadata(rc, ref, nil)
	payload := map[string]any{"ref": ref, "metadata": md}

	if bs, err := store.GetBranchState(ctx, projectID, ref); err == nil {
		payload["branch_status"] = string(bs.Status)
		payload["last_indexed_commit"] = bs.LastIndexedCommit
		payload["file_count"] = bs.FileCount
		payload["symbol_count"] = bs.SymbolCount
		payload["is_default_branch"] = bs.IsDefaultBranch
	} else if !cerrors.IsNotFound(err) {
		return nil, cerrors.AsToolError(err)
	}

	jobs, err := store.RecentJobsForRef(ctx, projectID, ref, 10)
	if err != nil {
		return nil, cerrors.AsToolError(err)
	}
	recent := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		recent = append(recent, jobPayload(j))
	}
	payload["recent_jobs"] = recent

	if job, err := store.GetActiveJobForRef(ctx, projectID, ref); err == nil {
		payload["active_job"] = jobPayload(job)
		md.IndexingStatus = "indexing"
		payload["metadata"] = md
	}

	if n, err := store.CountVectorsForScope(ctx, projectID, ref); err == nil {
		payload["vector_count"] = n
	}
	return payload, nil
}

type indexRepoArgs struct {
	Path  string `json:"path"`
	Force bool   `json:"force"`
	Ref   string `json:"ref"`
}

// handleIndexRepo backs both index_repo and sync_repo: the two tools share
// the spawn-subprocess-and-return contract through spawnIndexTool and
// behave identically.
func handleIndexRepo(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	return spawnIndexTool(ctx, rc, params)
}

func handleSyncRepo(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	return spawnIndexTool(ctx, rc, params)
}

func spawnIndexTool(ctx context.Context, rc *rpcserver.RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
	args, terr := parseArgs[indexRepoArgs](params)
	if terr != nil {
		return nil, terr
	}

	ws, terr := rc.RouteWorkspace(ctx, args.Path)
	if terr != nil {
		return nil, terr
	}

	store := rc.Store()
	if ws != rc.Workspace {
		// A path argument pointing at another workspace queries that
		// workspace's own store.
		side, err := storage.Open(ctx, storage.DBPath(ws.DataDir),
			rc.Config.Storage.BusyTimeoutMs, rc.Config.Storage.CacheSize)
		if err != nil {
			return nil, cerrors.AsToolError(err)
		}
		defer side.Close()
		store = side
	}

	if _, err := store.GetProject(ctx, ws.ProjectID); err != nil {
		if cerrors.IsNotFound(err) {
			return nil, cerrors.Newf(cerrors.CodeProjectNotFound, "workspace %q is not registered as a project", ws.Path)
		}
		return nil, cerrors.AsToolError(err)
	}

	ref := args.Ref
	if ref == "" {
		ref = ws.DefaultRef
	}

	if job, err := store.GetActiveJobForRef(ctx, ws.ProjectID, ref); err == nil {
		return nil, cerrors.Newf(cerrors.CodeIndexInProgress, "job %s is already active for ref %q", job.JobID, ref).
			WithData(map[string]any{"job_id": job.JobID})
	} else if !cerrors.IsNotFound(err) {
		return nil, cerrors.AsToolError(err)
	}

	jobID, terr := rc.SpawnIndexerFor(ctx, ws, ref, args.Force)
	if terr != nil {
		return nil, terr
	}
	if rc.ProgressToken != "" {
		rc.Notifier.Notify(rc.ProgressToken, 0, 1, "indexer subprocess started for ref "+ref)
	}

	mode := "incremental"
	if args.Force {
		mode = "full"
	} else if _, err := store.GetBranchState(ctx, ws.ProjectID, ref); cerrors.IsNotFound(err) {
		mode = "full"
	}

	md := newMetadata(rc, ref, nil)
	md.IndexingStatus = "indexing"
	return map[string]any{
		"job_id":   jobID,
		"status":   "running",
		"mode":     mode,
		"metadata": md,
	}, nil
}
