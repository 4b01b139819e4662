package storage

import (
	"context"

	cerrors "github.com/signalridge/cruxe/internal/errors"
)

// ReplaceTombstones implements the "full replace, not additive history"
// contract: every existing tombstone row for (project, ref) is deleted,
// then the new set produced by this sync's diff is inserted, under the
// caller's transaction. Applying the same diff twice must yield the same
// rows (idempotence law).
func (s *Store) ReplaceTombstones(ctx context.Context, execer sqlExecer, projectID, ref string, tombstones []*BranchTombstone) error {
	if _, err := execer.ExecContext(ctx, `
		DELETE FROM branch_tombstones WHERE project_id=? AND ref=?
	`, projectID, ref); err != nil {
		return cerrors.WrapDB("clear tombstones", err)
	}
	for _, t := range tombstones {
		if _, err := execer.ExecContext(ctx, `
			INSERT INTO branch_tombstones (project_id, ref, path, tombstone_type)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(project_id, ref, path) DO UPDATE SET tombstone_type=excluded.tombstone_type
		`, projectID, ref, t.Path, string(t.TombstoneType)); err != nil {
			return cerrors.WrapDB("insert tombstone", err)
		}
	}
	return nil
}

func (s *Store) ListTombstones(ctx context.Context, projectID, ref string) ([]*BranchTombstone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, ref, path, tombstone_type, created_at
		FROM branch_tombstones WHERE project_id=? AND ref=?
	`, projectID, ref)
	if err != nil {
		return nil, cerrors.WrapDB("list tombstones", err)
	}
	defer rows.Close()

	var out []*BranchTombstone
	for rows.Next() {
		var t BranchTombstone
		var ttype, createdAt string
		if err := rows.Scan(&t.ProjectID, &t.Ref, &t.Path, &ttype, &createdAt); err != nil {
			return nil, cerrors.WrapDB("scan tombstone", err)
		}
		t.TombstoneType = TombstoneType(ttype)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// TombstonePathSet is a convenience lookup for overlay-merge's suppression
// check: path -> tombstone type.
func (s *Store) TombstonePathSet(ctx context.Context, projectID, ref string) (map[string]TombstoneType, error) {
	list, err := s.ListTombstones(ctx, projectID, ref)
	if err != nil {
		return nil, err
	}
	out := make(map[string]TombstoneType, len(list))
	for _, t := range list {
		out[t.Path] = t.TombstoneType
	}
	return out, nil
}
