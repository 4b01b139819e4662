package storage

import (
	"context"
	"time"

	cerrors "github.com/signalridge/cruxe/internal/errors"
)

// UpsertKnownWorkspace records the workspace->project mapping; the router
// writes it while bootstrapping a workspace, and prewarm lists these rows
// to pick its targets.
func (s *Store) UpsertKnownWorkspace(ctx context.Context, w *KnownWorkspace) error {
	autoDiscovered := 0
	if w.AutoDiscovered {
		autoDiscovered = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO known_workspaces (workspace_path, project_id, auto_discovered, index_status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workspace_path) DO UPDATE SET
			project_id=excluded.project_id,
			auto_discovered=excluded.auto_discovered,
			index_status=excluded.index_status,
			last_used_at=strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, w.WorkspacePath, nullableString(w.ProjectID), autoDiscovered, w.IndexStatus)
	return cerrors.WrapDB("upsert known workspace", err)
}

func (s *Store) GetKnownWorkspace(ctx context.Context, path string) (*KnownWorkspace, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT workspace_path, COALESCE(project_id,''), auto_discovered, last_used_at, index_status
		FROM known_workspaces WHERE workspace_path=?
	`, path)
	var w KnownWorkspace
	var auto int
	var lastUsed string
	if err := row.Scan(&w.WorkspacePath, &w.ProjectID, &auto, &lastUsed, &w.IndexStatus); err != nil {
		return nil, cerrors.WrapDB("get known workspace", err)
	}
	w.AutoDiscovered = auto != 0
	w.LastUsedAt, _ = time.Parse("2006-01-02T15:04:05.999999999Z", lastUsed)
	return &w, nil
}

func (s *Store) SetWorkspaceIndexStatus(ctx context.Context, path, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE known_workspaces SET index_status=?, last_used_at=strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE workspace_path=?
	`, status, path)
	return cerrors.WrapDB("set workspace index status", err)
}

func (s *Store) ListKnownWorkspaces(ctx context.Context) ([]*KnownWorkspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace_path, COALESCE(project_id,''), auto_discovered, last_used_at, index_status
		FROM known_workspaces ORDER BY last_used_at DESC
	`)
	if err != nil {
		return nil, cerrors.WrapDB("list known workspaces", err)
	}
	defer rows.Close()
	var out []*KnownWorkspace
	for rows.Next() {
		var w KnownWorkspace
		var auto int
		var lastUsed string
		if err := rows.Scan(&w.WorkspacePath, &w.ProjectID, &auto, &lastUsed, &w.IndexStatus); err != nil {
			return nil, cerrors.WrapDB("scan known workspace", err)
		}
		w.AutoDiscovered = auto != 0
		w.LastUsedAt, _ = time.Parse("2006-01-02T15:04:05.999999999Z", lastUsed)
		out = append(out, &w)
	}
	return out, rows.Err()
}
