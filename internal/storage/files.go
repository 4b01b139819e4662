package storage

import (
	"context"
	"database/sql"

	cerrors "github.com/signalridge/cruxe/internal/errors"
)

// UpsertFileManifest records (or replaces) the one row per indexed file per
// ref, the source of truth freshness comparisons read from in live mode.
func (s *Store) UpsertFileManifest(ctx context.Context, execer sqlExecer, e *FileManifestEntry) error {
	_, err := execer.ExecContext(ctx, `
		INSERT INTO file_manifest (project_id, ref, path, content_hash, size_bytes, mtime_ns, language)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, ref, path) DO UPDATE SET
			content_hash=excluded.content_hash,
			size_bytes=excluded.size_bytes,
			mtime_ns=excluded.mtime_ns,
			language=excluded.language,
			indexed_at=strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, e.ProjectID, e.Ref, e.Path, e.ContentHash, e.SizeBytes, e.MTimeNs, nullableString(e.Language))
	return cerrors.WrapDB("upsert file manifest", err)
}

// DeleteFileManifest removes the manifest row for path, used on a Deleted
// sync action.
func (s *Store) DeleteFileManifest(ctx context.Context, execer sqlExecer, projectID, ref, path string) error {
	_, err := execer.ExecContext(ctx, `
		DELETE FROM file_manifest WHERE project_id=? AND ref=? AND path=?
	`, projectID, ref, path)
	return cerrors.WrapDB("delete file manifest", err)
}

func (s *Store) GetFileManifest(ctx context.Context, projectID, ref, path string) (*FileManifestEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_id, ref, path, content_hash, size_bytes, mtime_ns, COALESCE(language, ''), indexed_at
		FROM file_manifest WHERE project_id=? AND ref=? AND path=?
	`, projectID, ref, path)
	var e FileManifestEntry
	var mtime sql.NullInt64
	var indexedAt string
	if err := row.Scan(&e.ProjectID, &e.Ref, &e.Path, &e.ContentHash, &e.SizeBytes, &mtime, &e.Language, &indexedAt); err != nil {
		return nil, cerrors.WrapDB("get file manifest", err)
	}
	if mtime.Valid {
		e.MTimeNs = &mtime.Int64
	}
	return &e, nil
}

// ListFileManifest returns every manifest row for (project, ref), used by
// freshness live-mode scans and index_status counts.
func (s *Store) ListFileManifest(ctx context.Context, projectID, ref string) ([]*FileManifestEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, ref, path, content_hash, size_bytes, mtime_ns, COALESCE(language, ''), indexed_at
		FROM file_manifest WHERE project_id=? AND ref=?
	`, projectID, ref)
	if err != nil {
		return nil, cerrors.WrapDB("list file manifest", err)
	}
	defer rows.Close()

	var out []*FileManifestEntry
	for rows.Next() {
		var e FileManifestEntry
		var mtime sql.NullInt64
		var indexedAt string
		if err := rows.Scan(&e.ProjectID, &e.Ref, &e.Path, &e.ContentHash, &e.SizeBytes, &mtime, &e.Language, &indexedAt); err != nil {
			return nil, cerrors.WrapDB("scan file manifest", err)
		}
		if mtime.Valid {
			e.MTimeNs = &mtime.Int64
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// sqlExecer is satisfied by *sql.DB, *sql.Tx, and *sql.Conn, letting
// accessors run either standalone or inside an already-open transaction.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLExecer is the exported name for sqlExecer, used by sibling packages
// (internal/vectorindex, internal/sync) that need to pass a live
// transaction handle into Store accessors without importing database/sql
// themselves.
type SQLExecer = sqlExecer

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
