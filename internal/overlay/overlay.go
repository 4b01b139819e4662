// Package overlay manages per-ref overlay directories, a staging
// scratch area for pre-publish writes, and the two-phase atomic publish
// (stage -> rename-swap -> finalize) that backs the sync engine's ordering
// guarantee — a reader opening the overlay observes either the pre- or
// post-publish file set, never a partial one.
package overlay

import (
	"os"
	"path/filepath"
	"strings"

	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/ids"
)

// Paths computes the fixed on-disk layout under a project's data_dir.
type Paths struct {
	DataDir string
}

// BaseDir is the default-ref text index location: symbols/, snippets/, and
// files/ sit directly under a project's data dir, siblings of state.db —
// unlike a non-default ref, the default ref has no
// overlay/<ref> subdirectory of its own.
func (p Paths) BaseDir() string { return p.DataDir }

// OverlayDir returns overlay/<normalized_ref>, one directory component per
// ref (normalizeRef replaces path separators).
func (p Paths) OverlayDir(ref string) string {
	return filepath.Join(p.DataDir, "overlay", ids.NormalizeRef(ref))
}

func (p Paths) OverlayBackupDir(ref string) string {
	return p.OverlayDir(ref) + ".bak"
}

func (p Paths) StagingDir(syncID string) string {
	return filepath.Join(p.DataDir, "staging", syncID)
}

func (p Paths) WorktreeDir(projectID, ref string) string {
	// DataDir is <root>/data/<project_id>; worktrees/ sits beside data/.
	return filepath.Join(filepath.Dir(filepath.Dir(p.DataDir)), "worktrees", projectID, ids.NormalizeRef(ref))
}

// CreateOverlayDir creates (idempotently) the three channel subdirectories
// under overlay/<normalized_ref>/.
func CreateOverlayDir(dataDir, ref string) (string, error) {
	dir := Paths{DataDir: dataDir}.OverlayDir(ref)
	return dir, CreateIndexDir(dir)
}

// CreateIndexDir creates (idempotently) the three channel subdirectories
// under an arbitrary target dir — the generalization CreateOverlayDir and
// the sync engine's default-ref (base dir) path both funnel through.
func CreateIndexDir(dir string) error {
	for _, ch := range []string{"symbols", "snippets", "files"} {
		if err := os.MkdirAll(filepath.Join(dir, ch), 0o755); err != nil {
			return cerrors.Wrap("io", "create index dir", err)
		}
	}
	return nil
}

// CreateStagingIndexSet creates the scratch directory staging/<sync_id>/,
// returned for the caller to open fresh textindex.Set instances under.
func CreateStagingIndexSet(dataDir, syncID string) (string, error) {
	dir := Paths{DataDir: dataDir}.StagingDir(syncID)
	for _, ch := range []string{"symbols", "snippets", "files"} {
		if err := os.MkdirAll(filepath.Join(dir, ch), 0o755); err != nil {
			return "", cerrors.Wrap("io", "create staging dir", err)
		}
	}
	return dir, nil
}

// CommitStagingToOverlay performs the atomic rename dance: move the
// current overlay aside to .bak, then rename staging onto overlay. The .bak
// is left in place for FinalizePublish to remove (or a rollback to restore).
// If the second rename fails, the first is undone so the prior overlay is
// never left half-replaced.
func CommitStagingToOverlay(dataDir, syncID, ref string) error {
	paths := Paths{DataDir: dataDir}
	return CommitStagingToDir(paths.StagingDir(syncID), paths.OverlayDir(ref))
}

// CommitStagingToDir is the ref-agnostic form of CommitStagingToOverlay: it
// swaps stagingDir onto targetDir, used both for a non-default ref's
// overlay/<ref> and for the default ref's base dir.
func CommitStagingToDir(stagingDir, targetDir string) error {
	backupDir := targetDir + ".bak"

	hadPrior := dirExists(targetDir)
	if hadPrior {
		if err := os.RemoveAll(backupDir); err != nil {
			return cerrors.Wrap("io", "clear stale overlay backup", err)
		}
		if err := os.Rename(targetDir, backupDir); err != nil {
			return cerrors.Wrap("io", "move overlay aside", err)
		}
	}

	if err := os.Rename(stagingDir, targetDir); err != nil {
		// Undo the first rename so the prior overlay is restored intact.
		if hadPrior {
			_ = os.Rename(backupDir, targetDir)
		}
		return cerrors.Wrap("io", "swap staging onto overlay", err)
	}
	return nil
}

// FinalizePublish removes the backup directory once the SQLite commit that
// accompanied the swap has itself succeeded — the final step of the
// two-phase publish.
func FinalizePublish(dataDir, ref string) error {
	return FinalizePublishDir(Paths{DataDir: dataDir}.OverlayDir(ref))
}

// FinalizePublishDir is the ref-agnostic form of FinalizePublish.
func FinalizePublishDir(targetDir string) error {
	if err := os.RemoveAll(targetDir + ".bak"); err != nil {
		return cerrors.Wrap("io", "finalize publish: remove backup", err)
	}
	return nil
}

// RollbackOverlayPublish restores the backup over a partially-swapped
// overlay, used when the SQLite commit fails after the directory swap
// already succeeded.
func RollbackOverlayPublish(dataDir, ref string) error {
	return RollbackPublishDir(Paths{DataDir: dataDir}.OverlayDir(ref))
}

// RollbackPublishDir is the ref-agnostic form of RollbackOverlayPublish.
func RollbackPublishDir(targetDir string) error {
	backupDir := targetDir + ".bak"
	if !dirExists(backupDir) {
		return nil
	}
	if err := os.RemoveAll(targetDir); err != nil {
		return cerrors.Wrap("io", "rollback: remove swapped overlay", err)
	}
	if err := os.Rename(backupDir, targetDir); err != nil {
		return cerrors.Wrap("io", "rollback: restore backup", err)
	}
	return nil
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// SeedStagingFromExisting copies existingDir's contents into stagingDir
// before an incremental sync mutates it, so the atomic swap at publish time
// carries forward every untouched file's index entries rather than
// replacing the whole target with only the delta. A from-scratch rebuild
// skips this (existingDir missing is not an error, staging just starts
// empty).
func SeedStagingFromExisting(stagingDir, existingDir string) error {
	if !dirExists(existingDir) {
		return nil
	}
	return filepath.WalkDir(existingDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(existingDir, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(stagingDir, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(dst, data, 0o644)
	})
}

// CanonicalizeAndCheck resolves both dataDir and overlayDir to their
// canonical absolute form and rejects any overlayDir that escapes dataDir,
// defending against a malicious or corrupted branch_state.overlay_dir
// value before it is ever opened for reads.
func CanonicalizeAndCheck(dataDir, overlayDir string) (string, error) {
	canonData, err := filepath.Abs(dataDir)
	if err != nil {
		return "", cerrors.Wrap("io", "canonicalize data dir", err)
	}
	canonData, err = filepath.EvalSymlinks(canonData)
	if err != nil {
		// A not-yet-existing data dir is not an escape attempt.
		if os.IsNotExist(err) {
			canonData, _ = filepath.Abs(dataDir)
		} else {
			return "", cerrors.Wrap("io", "resolve data dir symlinks", err)
		}
	}

	canonOverlay, err := filepath.Abs(overlayDir)
	if err != nil {
		return "", cerrors.Wrap("io", "canonicalize overlay dir", err)
	}
	if resolved, err := filepath.EvalSymlinks(canonOverlay); err == nil {
		canonOverlay = resolved
	}

	rel, err := filepath.Rel(canonData, canonOverlay)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", cerrors.Newf(cerrors.CodeInternalError, "overlay dir %q escapes data dir %q", overlayDir, dataDir)
	}
	return canonOverlay, nil
}
