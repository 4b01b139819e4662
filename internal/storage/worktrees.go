package storage

import (
	"context"
	"time"

	cerrors "github.com/signalridge/cruxe/internal/errors"
)

// UpsertWorktreeLease creates or updates the lease row for (project, ref).
// Callers increment Refcount before calling on reuse and decrement on
// release; a lease reaching refcount=0 with owner_pid=0 is reclaimed by
// maintenance as stale.
func (s *Store) UpsertWorktreeLease(ctx context.Context, l *WorktreeLease) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worktree_leases (project_id, ref, worktree_path, owner_pid, refcount, status, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(project_id, ref) DO UPDATE SET
			worktree_path=excluded.worktree_path,
			owner_pid=excluded.owner_pid,
			refcount=excluded.refcount,
			status=excluded.status,
			last_used_at=excluded.last_used_at,
			updated_at=strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, l.ProjectID, l.Ref, l.WorktreePath, l.OwnerPID, l.Refcount, string(l.Status))
	return cerrors.WrapDB("upsert worktree lease", err)
}

func (s *Store) GetWorktreeLease(ctx context.Context, projectID, ref string) (*WorktreeLease, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_id, ref, worktree_path, owner_pid, refcount, status, created_at, last_used_at, updated_at
		FROM worktree_leases WHERE project_id=? AND ref=?
	`, projectID, ref)
	var l WorktreeLease
	var status, createdAt, lastUsed, updatedAt string
	if err := row.Scan(&l.ProjectID, &l.Ref, &l.WorktreePath, &l.OwnerPID, &l.Refcount, &status,
		&createdAt, &lastUsed, &updatedAt); err != nil {
		return nil, cerrors.WrapDB("get worktree lease", err)
	}
	l.Status = WorktreeStatus(status)
	l.CreatedAt, _ = time.Parse("2006-01-02T15:04:05.999999999Z", createdAt)
	l.LastUsedAt, _ = time.Parse("2006-01-02T15:04:05.999999999Z", lastUsed)
	l.UpdatedAt, _ = time.Parse("2006-01-02T15:04:05.999999999Z", updatedAt)
	return &l, nil
}

// ReclaimStaleLeases flips every lease with refcount=0 and owner_pid=0 to
// status='stale', the maintenance-pass half of the lease lifecycle; the
// caller is then responsible for removing the worktree directory.
func (s *Store) ReclaimStaleLeases(ctx context.Context) ([]*WorktreeLease, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, ref, worktree_path, owner_pid, refcount, status, created_at, last_used_at, updated_at
		FROM worktree_leases WHERE refcount=0 AND owner_pid=0 AND status != 'stale'
	`)
	if err != nil {
		return nil, cerrors.WrapDB("scan reclaimable leases", err)
	}
	var out []*WorktreeLease
	for rows.Next() {
		var l WorktreeLease
		var status, createdAt, lastUsed, updatedAt string
		if err := rows.Scan(&l.ProjectID, &l.Ref, &l.WorktreePath, &l.OwnerPID, &l.Refcount, &status,
			&createdAt, &lastUsed, &updatedAt); err != nil {
			rows.Close()
			return nil, cerrors.WrapDB("scan reclaimable lease row", err)
		}
		l.Status = WorktreeStatusStale
		out = append(out, &l)
	}
	rows.Close()
	for _, l := range out {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE worktree_leases SET status='stale', updated_at=strftime('%Y-%m-%dT%H:%M:%fZ','now')
			WHERE project_id=? AND ref=?
		`, l.ProjectID, l.Ref); err != nil {
			return nil, cerrors.WrapDB("mark lease stale", err)
		}
	}
	return out, nil
}

func (s *Store) ReleaseWorktreeLease(ctx context.Context, projectID, ref string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE worktree_leases SET refcount = MAX(refcount - 1, 0), owner_pid = 0,
			updated_at=strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE project_id=? AND ref=?
	`, projectID, ref)
	return cerrors.WrapDB("release worktree lease", err)
}
