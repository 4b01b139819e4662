package overlay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMarker(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func readMarker(t *testing.T, dir, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(b)
}

func TestCreateOverlayDirIdempotent(t *testing.T) {
	dataDir := t.TempDir()
	dir1, err := CreateOverlayDir(dataDir, "feat/add-file")
	require.NoError(t, err)
	dir2, err := CreateOverlayDir(dataDir, "feat/add-file")
	require.NoError(t, err)
	assert.Equal(t, dir1, dir2)
	for _, ch := range []string{"symbols", "snippets", "files"} {
		fi, err := os.Stat(filepath.Join(dir1, ch))
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	}
}

func TestNormalizedRefIsSingleComponent(t *testing.T) {
	dataDir := t.TempDir()
	dir, err := CreateOverlayDir(dataDir, "feat/nested/branch")
	require.NoError(t, err)
	rel, err := filepath.Rel(filepath.Join(dataDir, "overlay"), dir)
	require.NoError(t, err)
	assert.NotContains(t, rel, string(filepath.Separator))
}

func TestCommitStagingSwapsAtomically(t *testing.T) {
	dataDir := t.TempDir()
	paths := Paths{DataDir: dataDir}

	overlayDir := paths.OverlayDir("feat/x")
	writeMarker(t, filepath.Join(overlayDir, "symbols"), "gen.txt", "old")

	stagingDir, err := CreateStagingIndexSet(dataDir, "sync-1")
	require.NoError(t, err)
	writeMarker(t, filepath.Join(stagingDir, "symbols"), "gen.txt", "new")

	require.NoError(t, CommitStagingToOverlay(dataDir, "sync-1", "feat/x"))
	assert.Equal(t, "new", readMarker(t, filepath.Join(overlayDir, "symbols"), "gen.txt"))

	// The prior overlay is parked as .bak until finalize.
	assert.Equal(t, "old", readMarker(t, filepath.Join(paths.OverlayBackupDir("feat/x"), "symbols"), "gen.txt"))

	require.NoError(t, FinalizePublish(dataDir, "feat/x"))
	_, err = os.Stat(paths.OverlayBackupDir("feat/x"))
	assert.True(t, os.IsNotExist(err))
}

func TestRollbackRestoresBackup(t *testing.T) {
	dataDir := t.TempDir()
	paths := Paths{DataDir: dataDir}

	overlayDir := paths.OverlayDir("feat/y")
	writeMarker(t, filepath.Join(overlayDir, "symbols"), "gen.txt", "old")

	stagingDir, err := CreateStagingIndexSet(dataDir, "sync-2")
	require.NoError(t, err)
	writeMarker(t, filepath.Join(stagingDir, "symbols"), "gen.txt", "new")

	require.NoError(t, CommitStagingToOverlay(dataDir, "sync-2", "feat/y"))
	require.NoError(t, RollbackOverlayPublish(dataDir, "feat/y"))

	assert.Equal(t, "old", readMarker(t, filepath.Join(overlayDir, "symbols"), "gen.txt"))
}

func TestRollbackWithoutBackupIsNoop(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, RollbackOverlayPublish(dataDir, "feat/untouched"))
}

func TestSeedStagingCarriesExistingFiles(t *testing.T) {
	dataDir := t.TempDir()
	paths := Paths{DataDir: dataDir}

	overlayDir := paths.OverlayDir("feat/z")
	writeMarker(t, filepath.Join(overlayDir, "symbols"), "seg1.txt", "kept")

	stagingDir, err := CreateStagingIndexSet(dataDir, "sync-3")
	require.NoError(t, err)
	require.NoError(t, SeedStagingFromExisting(stagingDir, overlayDir))

	assert.Equal(t, "kept", readMarker(t, filepath.Join(stagingDir, "symbols"), "seg1.txt"))
}

func TestCanonicalizeRejectsEscape(t *testing.T) {
	dataDir := t.TempDir()
	outside := t.TempDir()

	_, err := CanonicalizeAndCheck(dataDir, outside)
	assert.Error(t, err)

	inside := filepath.Join(dataDir, "overlay", "main")
	require.NoError(t, os.MkdirAll(inside, 0o755))
	canon, err := CanonicalizeAndCheck(dataDir, inside)
	require.NoError(t, err)
	assert.NotEmpty(t, canon)
}
