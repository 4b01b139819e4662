package storage

import (
	"context"
	"database/sql"
	"fmt"

	cerrors "github.com/signalridge/cruxe/internal/errors"
)

// baselineDDL is the idempotent baseline schema, issued unconditionally on
// every open before the migration steps run.
const baselineDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS projects (
	project_id TEXT PRIMARY KEY,
	repo_root TEXT NOT NULL UNIQUE,
	default_ref TEXT NOT NULL DEFAULT 'live',
	vcs_mode TEXT NOT NULL DEFAULT 'git',
	schema_version INTEGER NOT NULL DEFAULT 0,
	parser_version TEXT,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS file_manifest (
	project_id TEXT NOT NULL,
	ref TEXT NOT NULL,
	path TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	mtime_ns INTEGER,
	language TEXT,
	indexed_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	PRIMARY KEY (project_id, ref, path)
);
CREATE INDEX IF NOT EXISTS idx_file_manifest_project_ref ON file_manifest(project_id, ref);

CREATE TABLE IF NOT EXISTS symbol_relations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	ref TEXT NOT NULL,
	commit_sha TEXT,
	path TEXT NOT NULL,
	symbol_id TEXT NOT NULL,
	symbol_stable_id TEXT NOT NULL,
	name TEXT NOT NULL,
	qualified_name TEXT NOT NULL,
	kind TEXT NOT NULL,
	language TEXT NOT NULL,
	line_start INTEGER NOT NULL,
	line_end INTEGER NOT NULL,
	signature TEXT,
	parent_symbol_id TEXT,
	visibility TEXT,
	content TEXT,
	content_hash TEXT,
	UNIQUE(project_id, ref, path, qualified_name, kind, line_start),
	UNIQUE(project_id, ref, symbol_stable_id, kind)
);
CREATE INDEX IF NOT EXISTS idx_symbol_relations_project_ref_path ON symbol_relations(project_id, ref, path);
CREATE INDEX IF NOT EXISTS idx_symbol_relations_stable_id ON symbol_relations(project_id, ref, symbol_stable_id);
CREATE INDEX IF NOT EXISTS idx_symbol_relations_name ON symbol_relations(project_id, ref, name);
CREATE INDEX IF NOT EXISTS idx_symbol_relations_qualified_name ON symbol_relations(project_id, ref, qualified_name);
CREATE INDEX IF NOT EXISTS idx_symbol_relations_location ON symbol_relations(project_id, ref, path, line_start, line_end);

CREATE TABLE IF NOT EXISTS symbol_edges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	ref TEXT NOT NULL,
	from_symbol_id TEXT NOT NULL,
	to_symbol_id TEXT,
	to_name TEXT,
	edge_type TEXT NOT NULL,
	confidence TEXT NOT NULL DEFAULT 'static',
	source_file TEXT,
	source_line INTEGER,
	CHECK (to_symbol_id IS NOT NULL OR to_name IS NOT NULL)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_symbol_edges_unique ON symbol_edges(
	project_id, ref, from_symbol_id, edge_type,
	COALESCE(to_symbol_id, ''), COALESCE(to_name, ''),
	COALESCE(source_file, ''), COALESCE(source_line, -1)
);
CREATE INDEX IF NOT EXISTS idx_symbol_edges_from ON symbol_edges(project_id, ref, from_symbol_id);
CREATE INDEX IF NOT EXISTS idx_symbol_edges_to_symbol ON symbol_edges(project_id, ref, to_symbol_id);
CREATE INDEX IF NOT EXISTS idx_symbol_edges_to_name ON symbol_edges(project_id, ref, to_name);
CREATE INDEX IF NOT EXISTS idx_symbol_edges_source_file ON symbol_edges(project_id, ref, source_file);
CREATE INDEX IF NOT EXISTS idx_symbol_edges_type ON symbol_edges(project_id, ref, edge_type);

CREATE TABLE IF NOT EXISTS branch_state (
	project_id TEXT NOT NULL,
	ref TEXT NOT NULL,
	merge_base_commit TEXT,
	last_indexed_commit TEXT,
	overlay_dir TEXT,
	file_count INTEGER NOT NULL DEFAULT 0,
	symbol_count INTEGER NOT NULL DEFAULT 0,
	is_default_branch INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active',
	eviction_eligible_at TEXT,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	PRIMARY KEY (project_id, ref)
);
CREATE INDEX IF NOT EXISTS idx_branch_state_status ON branch_state(project_id, status);

CREATE TABLE IF NOT EXISTS branch_tombstones (
	project_id TEXT NOT NULL,
	ref TEXT NOT NULL,
	path TEXT NOT NULL,
	tombstone_type TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	PRIMARY KEY (project_id, ref, path)
);

CREATE TABLE IF NOT EXISTS worktree_leases (
	project_id TEXT NOT NULL,
	ref TEXT NOT NULL,
	worktree_path TEXT NOT NULL,
	owner_pid INTEGER NOT NULL DEFAULT 0,
	refcount INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	last_used_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	PRIMARY KEY (project_id, ref)
);
CREATE INDEX IF NOT EXISTS idx_worktree_leases_status ON worktree_leases(status);
CREATE INDEX IF NOT EXISTS idx_worktree_leases_owner ON worktree_leases(owner_pid);

CREATE TABLE IF NOT EXISTS index_jobs (
	job_id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	ref TEXT NOT NULL,
	mode TEXT NOT NULL,
	head_commit TEXT,
	sync_id TEXT,
	status TEXT NOT NULL DEFAULT 'queued',
	changed_files INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER,
	error_message TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	progress_token TEXT,
	files_scanned INTEGER NOT NULL DEFAULT 0,
	files_indexed INTEGER NOT NULL DEFAULT 0,
	symbols_extracted INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_index_jobs_one_active_per_ref
	ON index_jobs(project_id, ref)
	WHERE status IN ('queued', 'running', 'validating');
CREATE INDEX IF NOT EXISTS idx_index_jobs_project_ref ON index_jobs(project_id, ref);
CREATE INDEX IF NOT EXISTS idx_index_jobs_status ON index_jobs(status);

CREATE TABLE IF NOT EXISTS semantic_vectors (
	project_id TEXT NOT NULL,
	ref TEXT NOT NULL,
	symbol_stable_id TEXT NOT NULL,
	snippet_hash TEXT NOT NULL,
	embedding_model_id TEXT NOT NULL,
	embedding_model_version TEXT NOT NULL,
	dimensions INTEGER NOT NULL,
	path TEXT NOT NULL,
	line_start INTEGER NOT NULL,
	line_end INTEGER NOT NULL,
	language TEXT NOT NULL,
	chunk_type TEXT,
	snippet_text TEXT NOT NULL,
	vector BLOB NOT NULL,
	PRIMARY KEY (project_id, ref, symbol_stable_id, snippet_hash)
);
CREATE INDEX IF NOT EXISTS idx_semantic_vectors_project_ref ON semantic_vectors(project_id, ref);

CREATE TABLE IF NOT EXISTS known_workspaces (
	workspace_path TEXT PRIMARY KEY,
	project_id TEXT,
	auto_discovered INTEGER NOT NULL DEFAULT 0,
	last_used_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	index_status TEXT NOT NULL DEFAULT 'idle'
);
`

// Migration is one forward-only, idempotent step. Steps must be safe to
// apply twice (probe column/index presence before altering), since a crash
// mid-migration leaves earlier steps applied and startup is retried.
type Migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, db *sql.DB) error
}

// migrations is deliberately a literal ordered slice (not a filename-sorted
// directory walk): the schema is young enough that one baseline plus a
// handful of steps is the whole history.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "baseline",
		Apply: func(ctx context.Context, db *sql.DB) error {
			// The baseline DDL already ran unconditionally in bootstrap;
			// this step exists purely to record version 1 as applied.
			return nil
		},
	},
}

func (s *Store) bootstrap(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, baselineDDL); err != nil {
		return cerrors.Wrap("sqlite", "baseline ddl", err)
	}
	return s.runMigrations(ctx)
}

func (s *Store) runMigrations(ctx context.Context) error {
	current, err := s.currentVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := m.Apply(ctx, s.db); err != nil {
			return cerrors.Wrap("sqlite", fmt.Sprintf("migration %d (%s)", m.Version, m.Name), err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations(version) VALUES (?)", m.Version); err != nil {
			return cerrors.Wrap("sqlite", fmt.Sprintf("record migration %d", m.Version), err)
		}
	}
	return nil
}

func (s *Store) currentVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v)
	if err != nil {
		return 0, cerrors.Wrap("sqlite", "current schema version", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

// tableHasColumn probes PRAGMA table_info so migration steps can check
// column presence before ALTER TABLE, keeping each step idempotent.
func tableHasColumn(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			found = true
		}
	}
	return found, rows.Err()
}
