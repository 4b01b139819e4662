package rpcserver

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/signalridge/cruxe/internal/health"
	"github.com/signalridge/cruxe/internal/storage"
)

// DefaultWarmsetCapacity is how many projects' index readers are preopened
// on startup when CRUXE_WARMSET_CAPACITY is unset.
const DefaultWarmsetCapacity = 3

// Prewarm opens index readers for up to capacity most-recently-used
// projects on a detached goroutine, reporting lifecycle status through the
// health monitor (pending -> warming -> complete/failed; skipped when the
// warmset is empty or capacity is 0). It only mutates the monitor's status,
// never request state.
func Prewarm(ctx context.Context, capacity int, home *Workspace, conns *ConnManager, monitor *health.Monitor, logger *slog.Logger) {
	if capacity == 0 {
		monitor.SetPrewarmStatus(health.PrewarmSkipped)
		return
	}
	if capacity < 0 {
		capacity = DefaultWarmsetCapacity
	}

	go func() {
		monitor.SetPrewarmStatus(health.PrewarmWarming)

		targets, err := warmTargets(ctx, capacity, home, conns)
		if err != nil {
			logger.Warn("prewarm: could not enumerate warmset", "error", err)
			monitor.SetPrewarmStatus(health.PrewarmFailed)
			return
		}
		if len(targets) == 0 {
			monitor.SetPrewarmStatus(health.PrewarmSkipped)
			return
		}

		failed := false
		for _, dataDir := range targets {
			if _, err := conns.WarmTextSet(dataDir); err != nil {
				logger.Warn("prewarm: open reader failed", "data_dir", dataDir, "error", err)
				failed = true
			}
		}
		if failed {
			monitor.SetPrewarmStatus(health.PrewarmFailed)
			return
		}
		monitor.SetPrewarmStatus(health.PrewarmComplete)
		logger.Info("prewarm complete", "projects", len(targets))
	}()
}

// warmTargets returns the data dirs of up to capacity projects, most
// recently used first, derived from the home workspace's known_workspaces
// rows. The home project itself always leads the warmset.
func warmTargets(ctx context.Context, capacity int, home *Workspace, conns *ConnManager) ([]string, error) {
	if home == nil {
		return nil, nil
	}
	targets := []string{home.DataDir}

	handle, err := conns.Acquire(ctx, storage.DBPath(home.DataDir))
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	known, err := handle.Store().ListKnownWorkspaces(ctx)
	if err != nil {
		return targets, nil
	}
	sort.Slice(known, func(i, j int) bool { return known[i].LastUsedAt.After(known[j].LastUsedAt) })

	seen := map[string]bool{home.ProjectID: true}
	for _, w := range known {
		if len(targets) >= capacity {
			break
		}
		if w.ProjectID == "" || seen[w.ProjectID] {
			continue
		}
		seen[w.ProjectID] = true
		targets = append(targets, projectDataDir(home, w.ProjectID))
	}
	if len(targets) > capacity {
		targets = targets[:capacity]
	}
	return targets, nil
}

// projectDataDir rebuilds <storage root>/data/<project_id> from the home
// workspace's own data dir, which shares that root.
func projectDataDir(home *Workspace, projectID string) string {
	root := filepath.Dir(filepath.Dir(home.DataDir))
	return filepath.Join(root, "data", projectID)
}
