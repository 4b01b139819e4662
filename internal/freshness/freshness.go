// Package freshness classifies a (project, ref)'s index state against the
// current world (VCS HEAD, or a live-mode file scan) and enforces the
// strict/balanced/best_effort freshness policy: a small rule table mapping
// each of the three states to a policy action.
package freshness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/storage"
	"github.com/signalridge/cruxe/internal/vcs"
)

// State is the freshness classification for one (project, ref).
type State string

const (
	StateFresh   State = "fresh"
	StateSyncing State = "syncing"
	StateStale   State = "stale"
)

// Policy is the configured freshness enforcement mode.
type Policy string

const (
	PolicyStrict     Policy = "strict"
	PolicyBalanced   Policy = "balanced"
	PolicyBestEffort Policy = "best_effort"
)

// Action is what the tool handler pipeline should do once a Report is
// computed.
type Action string

const (
	ActionProceed            Action = "proceed"
	ActionProceedPartial     Action = "proceed_partial"
	ActionProceedTriggerSync Action = "proceed_trigger_sync"
	ActionBlock              Action = "block"
)

// Report is the outcome of a freshness check, carried into tool metadata
// and, on a block, into the index_stale tool error's data payload.
type Report struct {
	State             State
	Action            Action
	LastIndexedCommit string
	CurrentHead       string
	ActiveJobID       string
}

// Checker computes freshness for VCS-backed projects (comparing
// branch_state.last_indexed_commit to vcs.ResolveHead) and for live-mode
// workspaces (comparing a filtered file scan against file_manifest, kept
// warm by an fsnotify watcher so repeated checks don't restat the tree).
type Checker struct {
	Store *storage.Store
	VCS   vcs.Adapter

	live map[string]*liveWatch // keyed by "projectID\x00ref"
}

func New(store *storage.Store, vcsAdapter vcs.Adapter) *Checker {
	return &Checker{Store: store, VCS: vcsAdapter, live: make(map[string]*liveWatch)}
}

// CheckVCS is the VCS-mode check: compare
// branch_state.last_indexed_commit to vcs.resolve_head(worktree); an active
// sync job for the ref takes precedence and reports Syncing even if the
// commits already differ, since the in-flight sync will resolve it.
func (c *Checker) CheckVCS(ctx context.Context, projectID, ref, worktree string) (*Report, error) {
	if job, err := c.Store.GetActiveJobForRef(ctx, projectID, ref); err == nil {
		return &Report{State: StateSyncing, ActiveJobID: job.JobID}, nil
	} else if !cerrors.IsNotFound(err) {
		return nil, err
	}

	bs, err := c.Store.GetBranchState(ctx, projectID, ref)
	if err != nil && !cerrors.IsNotFound(err) {
		return nil, err
	}
	lastIndexed := ""
	if bs != nil {
		lastIndexed = bs.LastIndexedCommit
	}

	head, err := c.VCS.ResolveHead(ctx, worktree)
	if err != nil {
		return nil, cerrors.Wrap("vcs", "resolve head for freshness check", err)
	}

	if lastIndexed == "" {
		return &Report{State: StateStale, LastIndexedCommit: lastIndexed, CurrentHead: head}, nil
	}
	if lastIndexed == head {
		return &Report{State: StateFresh, LastIndexedCommit: lastIndexed, CurrentHead: head}, nil
	}
	return &Report{State: StateStale, LastIndexedCommit: lastIndexed, CurrentHead: head}, nil
}

// CheckLive is the no-VCS check: scan filtered files under
// max_file_size and the configured languages, recompute content hashes, and
// compare against file_manifest. Any discrepancy (missing file, extra file,
// or hash mismatch) makes the ref stale.
func (c *Checker) CheckLive(ctx context.Context, projectID, ref, workspaceRoot string, maxFileSize int64, languages map[string]bool) (*Report, error) {
	if job, err := c.Store.GetActiveJobForRef(ctx, projectID, ref); err == nil {
		return &Report{State: StateSyncing, ActiveJobID: job.JobID}, nil
	} else if !cerrors.IsNotFound(err) {
		return nil, err
	}

	manifest, err := c.Store.ListFileManifest(ctx, projectID, ref)
	if err != nil {
		return nil, err
	}
	known := make(map[string]string, len(manifest))
	for _, m := range manifest {
		known[m.Path] = m.ContentHash
	}

	seen := make(map[string]bool, len(known))
	stale := false
	walkErr := filepath.WalkDir(workspaceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".cruxe" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(workspaceRoot, path)
		if relErr != nil {
			return nil
		}
		if len(languages) > 0 && !languages[strings.TrimPrefix(filepath.Ext(path), ".")] {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil || info.Size() > maxFileSize {
			return nil
		}
		seen[rel] = true
		priorHash, ok := known[rel]
		if !ok {
			stale = true
			return nil
		}
		content, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		if contentHash(content) != priorHash {
			stale = true
		}
		return nil
	})
	if walkErr != nil {
		return nil, cerrors.Wrap("io", "live freshness scan", walkErr)
	}
	if len(seen) != len(known) {
		stale = true
	}

	if stale {
		return &Report{State: StateStale}, nil
	}
	return &Report{State: StateFresh}, nil
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// liveWatch holds one fsnotify.Watcher per (project, ref) live-mode scope,
// maintaining a dirty-set incrementally as events arrive. CheckLive does not
// read this set; it walks the tree on every call.
type liveWatch struct {
	watcher *fsnotify.Watcher
	dirty   map[string]bool
}

// WatchLive starts (or returns the existing) fsnotify watcher for
// (projectID, ref) rooted at workspaceRoot, marking touched paths dirty as
// events arrive; HasLiveDirt reports whether that set is non-empty.
func (c *Checker) WatchLive(workspaceRoot, projectID, ref string) error {
	key := projectID + "\x00" + ref
	if _, ok := c.live[key]; ok {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return cerrors.Wrap("io", "start live watcher", err)
	}
	lw := &liveWatch{watcher: w, dirty: make(map[string]bool)}
	c.live[key] = lw

	if err := filepath.WalkDir(workspaceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".cruxe" {
				return filepath.SkipDir
			}
			return w.Add(path)
		}
		return nil
	}); err != nil {
		return cerrors.Wrap("io", "walk for live watcher", err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				rel, rerr := filepath.Rel(workspaceRoot, ev.Name)
				if rerr == nil {
					lw.dirty[rel] = true
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// HasLiveDirt reports whether any watched path has changed since the last
// reset for (projectID, ref). CheckLive does not call it: a live check
// always rescans the filesystem.
func (c *Checker) HasLiveDirt(projectID, ref string) bool {
	lw, ok := c.live[projectID+"\x00"+ref]
	return ok && len(lw.dirty) > 0
}

// ResetLiveDirt clears the dirty set after a sync has absorbed the changes.
func (c *Checker) ResetLiveDirt(projectID, ref string) {
	if lw, ok := c.live[projectID+"\x00"+ref]; ok {
		lw.dirty = make(map[string]bool)
	}
}

// Decide applies the strict/balanced/best_effort policy mapping to
// a freshness State, returning the Action the tool pipeline must take.
func Decide(policy Policy, state State) Action {
	switch state {
	case StateFresh:
		return ActionProceed
	case StateSyncing:
		return ActionProceedPartial
	default: // StateStale
		switch policy {
		case PolicyStrict:
			return ActionBlock
		case PolicyBalanced:
			return ActionProceedTriggerSync
		default: // best_effort
			return ActionProceed
		}
	}
}

// BlockError builds the index_stale tool error a strict-policy block returns:
// carries last_indexed_commit, current_head, and a remediation suggestion.
func BlockError(report *Report) *cerrors.ToolError {
	return cerrors.New(cerrors.CodeIndexStale, "index is stale for this ref; call sync_repo to refresh").WithData(map[string]any{
		"last_indexed_commit": report.LastIndexedCommit,
		"current_head":        report.CurrentHead,
		"suggestion":           "sync_repo",
	})
}
