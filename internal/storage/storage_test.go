package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/signalridge/cruxe/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "state.db"), 5000, -2000)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	v1, err := s.currentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v1)

	// A second bootstrap over the same database is a no-op.
	require.NoError(t, s.bootstrap(ctx))
	v2, err := s.currentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestAtMostOneActiveJobPerRef(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first := &IndexJob{JobID: "job-1", ProjectID: "p1", Ref: "main", Mode: "full", Status: JobRunning}
	require.NoError(t, s.CreateIndexJob(ctx, first))

	second := &IndexJob{JobID: "job-2", ProjectID: "p1", Ref: "main", Mode: "incremental", Status: JobQueued}
	err := s.CreateIndexJob(ctx, second)
	require.Error(t, err, "partial unique index must reject a second active job")

	// A different ref is unaffected.
	other := &IndexJob{JobID: "job-3", ProjectID: "p1", Ref: "feat/x", Mode: "full", Status: JobQueued}
	require.NoError(t, s.CreateIndexJob(ctx, other))

	// Completing the first frees the slot.
	require.NoError(t, s.UpdateJobStatus(ctx, "job-1", JobPublished, ""))
	third := &IndexJob{JobID: "job-4", ProjectID: "p1", Ref: "main", Mode: "incremental", Status: JobQueued}
	require.NoError(t, s.CreateIndexJob(ctx, third))
}

func TestGetActiveJobForRef(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetActiveJobForRef(ctx, "p1", "main")
	assert.True(t, cerrors.IsNotFound(err))

	require.NoError(t, s.CreateIndexJob(ctx, &IndexJob{JobID: "job-a", ProjectID: "p1", Ref: "main", Mode: "full", Status: JobRunning}))
	job, err := s.GetActiveJobForRef(ctx, "p1", "main")
	require.NoError(t, err)
	assert.Equal(t, "job-a", job.JobID)
}

func TestMarkInterruptedJobs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateIndexJob(ctx, &IndexJob{JobID: "stale-1", ProjectID: "p1", Ref: "main", Mode: "full", Status: JobRunning}))
	require.NoError(t, s.CreateIndexJob(ctx, &IndexJob{JobID: "done-1", ProjectID: "p1", Ref: "feat/x", Mode: "full", Status: JobPublished}))

	flipped, err := s.MarkInterruptedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, flipped, 1)
	assert.Equal(t, "stale-1", flipped[0].JobID)

	job, err := s.GetJob(ctx, "stale-1")
	require.NoError(t, err)
	assert.Equal(t, JobInterrupted, job.Status)
}

func TestSymbolUniquenessConstraints(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sym := &Symbol{
		ProjectID: "p1", Ref: "main", Path: "src/lib.rs",
		SymbolID: "sid-1", SymbolStableID: "stable-1",
		Name: "foo", QualifiedName: "lib::foo", Kind: "function",
		Language: "rust", LineStart: 3, LineEnd: 5,
	}
	require.NoError(t, s.WithTx(ctx, func(execer SQLExecer) error {
		return s.InsertSymbol(ctx, execer, sym)
	}))

	// Re-inserting the same site upserts rather than duplicating.
	require.NoError(t, s.WithTx(ctx, func(execer SQLExecer) error {
		return s.InsertSymbol(ctx, execer, sym)
	}))
	syms, err := s.ListSymbolsForFile(ctx, "p1", "main", "src/lib.rs")
	require.NoError(t, err)
	assert.Len(t, syms, 1)

	// The same stable id at a different site within the same ref and kind
	// violates the per-kind stable-id constraint.
	dup := *sym
	dup.SymbolID = "sid-2"
	dup.QualifiedName = "lib::bar"
	dup.Name = "bar"
	dup.LineStart = 40
	err = s.WithTx(ctx, func(execer SQLExecer) error {
		return s.InsertSymbol(ctx, execer, &dup)
	})
	assert.Error(t, err)
}

func TestReplaceTombstonesIsFullReplacement(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first := []*BranchTombstone{
		{ProjectID: "p1", Ref: "feat/x", Path: "a.rs", TombstoneType: TombstoneDeleted},
		{ProjectID: "p1", Ref: "feat/x", Path: "b.rs", TombstoneType: TombstoneReplaced},
	}
	require.NoError(t, s.WithTx(ctx, func(execer SQLExecer) error {
		return s.ReplaceTombstones(ctx, execer, "p1", "feat/x", first)
	}))

	second := []*BranchTombstone{
		{ProjectID: "p1", Ref: "feat/x", Path: "c.rs", TombstoneType: TombstoneDeleted},
	}
	require.NoError(t, s.WithTx(ctx, func(execer SQLExecer) error {
		return s.ReplaceTombstones(ctx, execer, "p1", "feat/x", second)
	}))

	set, err := s.TombstonePathSet(ctx, "p1", "feat/x")
	require.NoError(t, err)
	assert.Equal(t, map[string]TombstoneType{"c.rs": TombstoneDeleted}, set)

	// Applying the same diff twice yields the same rows.
	require.NoError(t, s.WithTx(ctx, func(execer SQLExecer) error {
		return s.ReplaceTombstones(ctx, execer, "p1", "feat/x", second)
	}))
	again, err := s.TombstonePathSet(ctx, "p1", "feat/x")
	require.NoError(t, err)
	assert.Equal(t, set, again)
}

func TestEdgeReplaceForFileIsAtomicSwap(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	edges := []*SymbolEdge{
		{ProjectID: "p1", Ref: "main", FromSymbolID: "src-a", ToName: "serde", EdgeType: EdgeImports, SourceFile: "a.rs"},
		{ProjectID: "p1", Ref: "main", FromSymbolID: "src-a", ToName: "tokio", EdgeType: EdgeImports, SourceFile: "a.rs"},
	}
	require.NoError(t, s.WithTx(ctx, func(execer SQLExecer) error {
		return s.ReplaceImportEdgesForFile(ctx, execer, "p1", "main", "a.rs", edges)
	}))

	replacement := []*SymbolEdge{
		{ProjectID: "p1", Ref: "main", FromSymbolID: "src-a", ToName: "anyhow", EdgeType: EdgeImports, SourceFile: "a.rs"},
	}
	require.NoError(t, s.WithTx(ctx, func(execer SQLExecer) error {
		return s.ReplaceImportEdgesForFile(ctx, execer, "p1", "main", "a.rs", replacement)
	}))

	got, err := s.ListImportEdgesForFile(ctx, "p1", "main", "a.rs")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "anyhow", got[0].ToName)
}

func TestWorktreeLeaseLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertWorktreeLease(ctx, &WorktreeLease{
		ProjectID: "p1", Ref: "feat/x", WorktreePath: "/tmp/wt", OwnerPID: 1234, Refcount: 1, Status: WorktreeStatusActive,
	}))
	lease, err := s.GetWorktreeLease(ctx, "p1", "feat/x")
	require.NoError(t, err)
	assert.Equal(t, 1, lease.Refcount)

	require.NoError(t, s.ReleaseWorktreeLease(ctx, "p1", "feat/x"))
	lease, err = s.GetWorktreeLease(ctx, "p1", "feat/x")
	require.NoError(t, err)
	assert.Equal(t, 0, lease.Refcount)
}
