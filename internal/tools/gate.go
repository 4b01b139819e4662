package tools

import (
	"context"

	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/freshness"
	"github.com/signalridge/cruxe/internal/rpcserver"
	"github.com/signalridge/cruxe/internal/storage"
)

// gateResult is the outcome of the shared schema+freshness gate every
// result-returning tool passes through before executing.
type gateResult struct {
	Report          *freshness.Report
	FreshnessStatus string // fresh, stale, syncing
	SchemaStatus    string // ok, reindex_required
}

// runGate enforces the schema gate, classifies freshness for (project,
// ref), and applies the strict/balanced/best_effort policy. A balanced
// policy on a stale index triggers an async sync and proceeds; strict
// blocks with index_stale.
func runGate(ctx context.Context, rc *rpcserver.RequestContext, ref, policyArg string) (*gateResult, *cerrors.ToolError) {
	store := rc.Store()

	proj, err := store.GetProject(ctx, rc.Workspace.ProjectID)
	if err != nil {
		if cerrors.IsNotFound(err) {
			return nil, cerrors.Newf(cerrors.CodeProjectNotFound, "workspace %q has no registered project; run index_repo first", rc.Workspace.Path)
		}
		return nil, cerrors.AsToolError(err)
	}
	if proj.SchemaVersion != storage.CurrentSchemaVersion {
		return nil, cerrors.Newf(cerrors.CodeIndexIncompatible,
			"index schema version %d does not match required %d", proj.SchemaVersion, storage.CurrentSchemaVersion).
			WithData(map[string]any{
				"current_schema_version":  proj.SchemaVersion,
				"required_schema_version": storage.CurrentSchemaVersion,
				"remediation":             "cruxe index --force",
			})
	}

	checker := freshness.New(store, rc.VCS)
	var report *freshness.Report
	if rc.Workspace.VCSMode == "git" {
		report, err = checker.CheckVCS(ctx, rc.Workspace.ProjectID, ref, rc.Workspace.Path)
	} else {
		langs := make(map[string]bool, len(rc.Config.Index.Languages))
		for _, l := range rc.Config.Index.Languages {
			langs[l] = true
		}
		report, err = checker.CheckLive(ctx, rc.Workspace.ProjectID, ref, rc.Workspace.Path, rc.Config.Index.MaxFileSize, langs)
	}
	if err != nil {
		return nil, cerrors.AsToolError(err)
	}

	policy := freshness.Policy(rc.Config.Search.FreshnessPolicy)
	if policyArg != "" {
		switch policyArg {
		case "strict", "balanced", "best_effort":
			policy = freshness.Policy(policyArg)
		default:
			return nil, cerrors.Newf(cerrors.CodeInvalidInput, "freshness_policy must be strict, balanced, or best_effort, got %q", policyArg)
		}
	}

	g := &gateResult{Report: report, FreshnessStatus: string(report.State), SchemaStatus: "ok"}
	switch freshness.Decide(policy, report.State) {
	case freshness.ActionBlock:
		return nil, freshness.BlockError(report)
	case freshness.ActionProceedTriggerSync:
		if _, terr := rc.SpawnIndexer(ctx, ref, false); terr != nil {
			rc.Logger.Debug("balanced policy: async sync trigger failed", "error", terr.Message)
		}
	case freshness.ActionProceedPartial:
		// Syncing: serve what the index has, the metadata already says so.
	}
	return g, nil
}
