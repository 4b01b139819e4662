package storage

import (
	"context"
	"database/sql"
	"time"

	cerrors "github.com/signalridge/cruxe/internal/errors"
)

// UpsertProject inserts or updates the project row keyed by project_id, the
// only row that ever changes identity in place (repo_root is effectively
// immutable once backfilled).
func (s *Store) UpsertProject(ctx context.Context, p *Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (project_id, repo_root, default_ref, vcs_mode, schema_version, parser_version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			repo_root=excluded.repo_root,
			default_ref=excluded.default_ref,
			vcs_mode=excluded.vcs_mode,
			schema_version=excluded.schema_version,
			parser_version=excluded.parser_version,
			updated_at=strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, p.ProjectID, p.RepoRoot, p.DefaultRef, p.VCSMode, p.SchemaVersion, p.ParserVersion)
	return cerrors.WrapDB("upsert project", err)
}

func (s *Store) GetProject(ctx context.Context, projectID string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_id, repo_root, default_ref, vcs_mode, schema_version,
		       COALESCE(parser_version, ''), created_at, updated_at
		FROM projects WHERE project_id = ?
	`, projectID)
	return scanProject(row)
}

func (s *Store) GetProjectByRepoRoot(ctx context.Context, repoRoot string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_id, repo_root, default_ref, vcs_mode, schema_version,
		       COALESCE(parser_version, ''), created_at, updated_at
		FROM projects WHERE repo_root = ?
	`, repoRoot)
	return scanProject(row)
}

func scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var createdAt, updatedAt string
	err := row.Scan(&p.ProjectID, &p.RepoRoot, &p.DefaultRef, &p.VCSMode, &p.SchemaVersion,
		&p.ParserVersion, &createdAt, &updatedAt)
	if err != nil {
		return nil, cerrors.WrapDB("get project", err)
	}
	p.CreatedAt, _ = time.Parse("2006-01-02T15:04:05.999999999Z", createdAt)
	p.UpdatedAt, _ = time.Parse("2006-01-02T15:04:05.999999999Z", updatedAt)
	return &p, nil
}
