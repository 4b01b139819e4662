package storage

import (
	"context"
	"database/sql"
	"time"

	cerrors "github.com/signalridge/cruxe/internal/errors"
)

func (s *Store) UpsertBranchState(ctx context.Context, execer sqlExecer, b *BranchState) error {
	isDefault := 0
	if b.IsDefaultBranch {
		isDefault = 1
	}
	_, err := execer.ExecContext(ctx, `
		INSERT INTO branch_state (
			project_id, ref, merge_base_commit, last_indexed_commit, overlay_dir,
			file_count, symbol_count, is_default_branch, status
		) VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(project_id, ref) DO UPDATE SET
			merge_base_commit=excluded.merge_base_commit,
			last_indexed_commit=excluded.last_indexed_commit,
			overlay_dir=excluded.overlay_dir,
			file_count=excluded.file_count,
			symbol_count=excluded.symbol_count,
			is_default_branch=excluded.is_default_branch,
			status=excluded.status,
			updated_at=strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, b.ProjectID, b.Ref, nullableString(b.MergeBaseCommit), nullableString(b.LastIndexedCommit),
		nullableString(b.OverlayDir), b.FileCount, b.SymbolCount, isDefault, string(b.Status))
	return cerrors.WrapDB("upsert branch state", err)
}

func (s *Store) GetBranchState(ctx context.Context, projectID, ref string) (*BranchState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_id, ref, COALESCE(merge_base_commit,''), COALESCE(last_indexed_commit,''),
		       COALESCE(overlay_dir,''), file_count, symbol_count, is_default_branch, status,
		       eviction_eligible_at, created_at, updated_at
		FROM branch_state WHERE project_id=? AND ref=?
	`, projectID, ref)

	var b BranchState
	var isDefault int
	var status string
	var evictAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&b.ProjectID, &b.Ref, &b.MergeBaseCommit, &b.LastIndexedCommit, &b.OverlayDir,
		&b.FileCount, &b.SymbolCount, &isDefault, &status, &evictAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, cerrors.WrapDB("get branch state", err)
	}
	b.IsDefaultBranch = isDefault != 0
	b.Status = BranchStatus(status)
	if evictAt.Valid {
		t, _ := time.Parse("2006-01-02T15:04:05.999999999Z", evictAt.String)
		b.EvictionEligibleAt = &t
	}
	b.CreatedAt, _ = time.Parse("2006-01-02T15:04:05.999999999Z", createdAt)
	b.UpdatedAt, _ = time.Parse("2006-01-02T15:04:05.999999999Z", updatedAt)
	return &b, nil
}

func (s *Store) SetBranchStatus(ctx context.Context, projectID, ref string, status BranchStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE branch_state SET status=?, updated_at=strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE project_id=? AND ref=?
	`, string(status), projectID, ref)
	return cerrors.WrapDB("set branch status", err)
}
