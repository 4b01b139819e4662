package storage

import (
	"context"
	"database/sql"

	cerrors "github.com/signalridge/cruxe/internal/errors"
)

// InsertSymbol writes one symbol_relations row, updating in place a row with
// the same (project, ref, path, qualified_name, kind, line_start). Symbols
// that vanished from a file are not removed here; the sync engine clears a
// file's rows first with DeleteSymbolsForFile.
func (s *Store) InsertSymbol(ctx context.Context, execer sqlExecer, sym *Symbol) error {
	_, err := execer.ExecContext(ctx, `
		INSERT INTO symbol_relations (
			project_id, ref, commit_sha, path, symbol_id, symbol_stable_id, name,
			qualified_name, kind, language, line_start, line_end, signature,
			parent_symbol_id, visibility, content, content_hash
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(project_id, ref, path, qualified_name, kind, line_start) DO UPDATE SET
			symbol_id=excluded.symbol_id,
			symbol_stable_id=excluded.symbol_stable_id,
			signature=excluded.signature,
			parent_symbol_id=excluded.parent_symbol_id,
			visibility=excluded.visibility,
			content=excluded.content,
			content_hash=excluded.content_hash
	`,
		sym.ProjectID, sym.Ref, nullableString(sym.Commit), sym.Path, sym.SymbolID, sym.SymbolStableID,
		sym.Name, sym.QualifiedName, sym.Kind, sym.Language, sym.LineStart, sym.LineEnd,
		nullableString(sym.Signature), nullableString(sym.ParentSymbolID), nullableString(sym.Visibility),
		nullableString(sym.Content), nullableString(sym.ContentHash),
	)
	return cerrors.WrapDB("insert symbol", err)
}

// DeleteSymbolsForFile removes every symbol row for (project, ref, path),
// the mandatory first step of a Modified action before reinserting.
func (s *Store) DeleteSymbolsForFile(ctx context.Context, execer sqlExecer, projectID, ref, path string) error {
	_, err := execer.ExecContext(ctx, `
		DELETE FROM symbol_relations WHERE project_id=? AND ref=? AND path=?
	`, projectID, ref, path)
	return cerrors.WrapDB("delete symbols for file", err)
}

func (s *Store) FindSymbolsByName(ctx context.Context, projectID, ref, name string, limit int) ([]*Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, ref, COALESCE(commit_sha,''), path, symbol_id, symbol_stable_id, name,
		       qualified_name, kind, language, line_start, line_end, COALESCE(signature,''),
		       COALESCE(parent_symbol_id,''), COALESCE(visibility,''), COALESCE(content,''), COALESCE(content_hash,'')
		FROM symbol_relations WHERE project_id=? AND ref=? AND name=?
		LIMIT ?
	`, projectID, ref, name, limit)
	if err != nil {
		return nil, cerrors.WrapDB("find symbols by name", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// FindSymbolsByLocation returns every symbol intersecting [lineStart,
// lineEnd] in path, a location join for looking up kind/name/qualified_name
// of a line range. No caller in the module uses it.
func (s *Store) FindSymbolsByLocation(ctx context.Context, projectID, ref, path string, lineStart, lineEnd int) ([]*Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, ref, COALESCE(commit_sha,''), path, symbol_id, symbol_stable_id, name,
		       qualified_name, kind, language, line_start, line_end, COALESCE(signature,''),
		       COALESCE(parent_symbol_id,''), COALESCE(visibility,''), COALESCE(content,''), COALESCE(content_hash,'')
		FROM symbol_relations
		WHERE project_id=? AND ref=? AND path=? AND line_start <= ? AND line_end >= ?
		ORDER BY line_start
	`, projectID, ref, path, lineEnd, lineStart)
	if err != nil {
		return nil, cerrors.WrapDB("find symbols by location", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

func (s *Store) GetSymbolByStableID(ctx context.Context, projectID, ref, stableID string) (*Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, ref, COALESCE(commit_sha,''), path, symbol_id, symbol_stable_id, name,
		       qualified_name, kind, language, line_start, line_end, COALESCE(signature,''),
		       COALESCE(parent_symbol_id,''), COALESCE(visibility,''), COALESCE(content,''), COALESCE(content_hash,'')
		FROM symbol_relations WHERE project_id=? AND ref=? AND symbol_stable_id=?
		LIMIT 1
	`, projectID, ref, stableID)
	if err != nil {
		return nil, cerrors.WrapDB("get symbol by stable id", err)
	}
	defer rows.Close()
	out, err := scanSymbols(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, cerrors.Wrap("sqlite", "get symbol by stable id", cerrors.ErrNotFound)
	}
	return out[0], nil
}

func (s *Store) ListSymbolsForFile(ctx context.Context, projectID, ref, path string) ([]*Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, ref, COALESCE(commit_sha,''), path, symbol_id, symbol_stable_id, name,
		       qualified_name, kind, language, line_start, line_end, COALESCE(signature,''),
		       COALESCE(parent_symbol_id,''), COALESCE(visibility,''), COALESCE(content,''), COALESCE(content_hash,'')
		FROM symbol_relations WHERE project_id=? AND ref=? AND path=?
		ORDER BY line_start
	`, projectID, ref, path)
	if err != nil {
		return nil, cerrors.WrapDB("list symbols for file", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// GetSymbolBySymbolID resolves a site-local symbol_id to its row.
func (s *Store) GetSymbolBySymbolID(ctx context.Context, projectID, ref, symbolID string) (*Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, ref, COALESCE(commit_sha,''), path, symbol_id, symbol_stable_id, name,
		       qualified_name, kind, language, line_start, line_end, COALESCE(signature,''),
		       COALESCE(parent_symbol_id,''), COALESCE(visibility,''), COALESCE(content,''), COALESCE(content_hash,'')
		FROM symbol_relations WHERE project_id=? AND ref=? AND symbol_id=?
		LIMIT 1
	`, projectID, ref, symbolID)
	if err != nil {
		return nil, cerrors.WrapDB("get symbol by symbol id", err)
	}
	defer rows.Close()
	out, err := scanSymbols(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, cerrors.Wrap("sqlite", "get symbol by symbol id", cerrors.ErrNotFound)
	}
	return out[0], nil
}

// ListSymbolsByParent returns the direct children of parentSymbolID,
// used by hierarchy descent.
func (s *Store) ListSymbolsByParent(ctx context.Context, projectID, ref, parentSymbolID string) ([]*Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, ref, COALESCE(commit_sha,''), path, symbol_id, symbol_stable_id, name,
		       qualified_name, kind, language, line_start, line_end, COALESCE(signature,''),
		       COALESCE(parent_symbol_id,''), COALESCE(visibility,''), COALESCE(content,''), COALESCE(content_hash,'')
		FROM symbol_relations WHERE project_id=? AND ref=? AND parent_symbol_id=?
		ORDER BY line_start
	`, projectID, ref, parentSymbolID)
	if err != nil {
		return nil, cerrors.WrapDB("list symbols by parent", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// ListSymbolsUnderPathPrefix returns symbols whose path sits under prefix,
// the module-scope query for find_related_symbols.
func (s *Store) ListSymbolsUnderPathPrefix(ctx context.Context, projectID, ref, prefix string, limit int) ([]*Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, ref, COALESCE(commit_sha,''), path, symbol_id, symbol_stable_id, name,
		       qualified_name, kind, language, line_start, line_end, COALESCE(signature,''),
		       COALESCE(parent_symbol_id,''), COALESCE(visibility,''), COALESCE(content,''), COALESCE(content_hash,'')
		FROM symbol_relations WHERE project_id=? AND ref=? AND path LIKE ? || '%'
		ORDER BY path, line_start
		LIMIT ?
	`, projectID, ref, prefix, limit)
	if err != nil {
		return nil, cerrors.WrapDB("list symbols under path prefix", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

func scanSymbols(rows *sql.Rows) ([]*Symbol, error) {
	var out []*Symbol
	for rows.Next() {
		var sym Symbol
		if err := rows.Scan(&sym.ID, &sym.ProjectID, &sym.Ref, &sym.Commit, &sym.Path, &sym.SymbolID,
			&sym.SymbolStableID, &sym.Name, &sym.QualifiedName, &sym.Kind, &sym.Language,
			&sym.LineStart, &sym.LineEnd, &sym.Signature, &sym.ParentSymbolID, &sym.Visibility,
			&sym.Content, &sym.ContentHash); err != nil {
			return nil, cerrors.WrapDB("scan symbol", err)
		}
		out = append(out, &sym)
	}
	return out, rows.Err()
}
