package storage

import (
	"context"
	"database/sql"

	cerrors "github.com/signalridge/cruxe/internal/errors"
)

// ReplaceImportEdgesForFile is an atomic per-file swap: delete existing
// import edges whose source_file matches, then insert the new set, all
// under the caller's transaction.
func (s *Store) ReplaceImportEdgesForFile(ctx context.Context, execer sqlExecer, projectID, ref, sourceFile string, edges []*SymbolEdge) error {
	if _, err := execer.ExecContext(ctx, `
		DELETE FROM symbol_edges WHERE project_id=? AND ref=? AND edge_type=? AND source_file=?
	`, projectID, ref, EdgeImports, sourceFile); err != nil {
		return cerrors.WrapDB("delete import edges for file", err)
	}
	for _, e := range edges {
		if err := s.insertEdge(ctx, execer, e); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceCallEdgesForFiles is an atomic multi-file swap: delete existing
// call edges whose source_file is in paths, then insert the new set.
func (s *Store) ReplaceCallEdgesForFiles(ctx context.Context, execer sqlExecer, projectID, ref string, paths []string, edges []*SymbolEdge) error {
	for _, p := range paths {
		if _, err := execer.ExecContext(ctx, `
			DELETE FROM symbol_edges WHERE project_id=? AND ref=? AND edge_type=? AND source_file=?
		`, projectID, ref, EdgeCalls, p); err != nil {
			return cerrors.WrapDB("delete call edges for file", err)
		}
	}
	for _, e := range edges {
		if err := s.insertEdge(ctx, execer, e); err != nil {
			return err
		}
	}
	return nil
}

// DeleteEdgesForDeletedFile removes every edge sourced from path, plus any
// call edge whose to_symbol_id points at one of that file's now-deleted
// stable symbol ids — the full cleanup required on a Deleted sync action.
func (s *Store) DeleteEdgesForDeletedFile(ctx context.Context, execer sqlExecer, projectID, ref, path string, deletedStableIDs []string) error {
	if _, err := execer.ExecContext(ctx, `
		DELETE FROM symbol_edges WHERE project_id=? AND ref=? AND source_file=?
	`, projectID, ref, path); err != nil {
		return cerrors.WrapDB("delete edges sourced from file", err)
	}
	for _, id := range deletedStableIDs {
		if _, err := execer.ExecContext(ctx, `
			DELETE FROM symbol_edges WHERE project_id=? AND ref=? AND to_symbol_id=?
		`, projectID, ref, id); err != nil {
			return cerrors.WrapDB("delete edges targeting deleted symbol", err)
		}
	}
	return nil
}

func (s *Store) insertEdge(ctx context.Context, execer sqlExecer, e *SymbolEdge) error {
	confidence := e.Confidence
	if confidence == "" {
		confidence = ConfidenceStatic
	}
	_, err := execer.ExecContext(ctx, `
		INSERT INTO symbol_edges (
			project_id, ref, from_symbol_id, to_symbol_id, to_name, edge_type,
			confidence, source_file, source_line
		) VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT DO NOTHING
	`, e.ProjectID, e.Ref, e.FromSymbolID, nullableString(e.ToSymbolID), nullableString(e.ToName),
		e.EdgeType, confidence, nullableString(e.SourceFile), nullableInt(e.SourceLine))
	return cerrors.WrapDB("insert edge", err)
}

// FindReferences returns reverse edges targeting a symbol (by stable id or
// textual name, since unresolved calls only carry to_name).
func (s *Store) FindReferences(ctx context.Context, projectID, ref, symbolStableID, name string, limit int) ([]*SymbolEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, ref, from_symbol_id, COALESCE(to_symbol_id,''), COALESCE(to_name,''),
		       edge_type, confidence, COALESCE(source_file,''), COALESCE(source_line,0)
		FROM symbol_edges
		WHERE project_id=? AND ref=? AND (to_symbol_id=? OR (to_symbol_id IS NULL AND to_name=?))
		LIMIT ?
	`, projectID, ref, symbolStableID, name, limit)
	if err != nil {
		return nil, cerrors.WrapDB("find references", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// CallGraph returns outgoing ("callees") or incoming ("callers") call edges
// for fromSymbolID, one hop; get_call_graph walks the graph by calling
// this repeatedly up to the requested depth.
func (s *Store) CallGraph(ctx context.Context, projectID, ref, symbolID string, callers bool, limit int) ([]*SymbolEdge, error) {
	var query string
	if callers {
		query = `SELECT id, project_id, ref, from_symbol_id, COALESCE(to_symbol_id,''), COALESCE(to_name,''),
		                 edge_type, confidence, COALESCE(source_file,''), COALESCE(source_line,0)
		          FROM symbol_edges WHERE project_id=? AND ref=? AND edge_type='calls' AND to_symbol_id=? LIMIT ?`
	} else {
		query = `SELECT id, project_id, ref, from_symbol_id, COALESCE(to_symbol_id,''), COALESCE(to_name,''),
		                 edge_type, confidence, COALESCE(source_file,''), COALESCE(source_line,0)
		          FROM symbol_edges WHERE project_id=? AND ref=? AND edge_type='calls' AND from_symbol_id=? LIMIT ?`
	}
	rows, err := s.db.QueryContext(ctx, query, projectID, ref, symbolID, limit)
	if err != nil {
		return nil, cerrors.WrapDB("call graph", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// ListImportEdgesForFile returns the import edges sourced from one file,
// used by find_related_symbols' imported/imports_from relations.
func (s *Store) ListImportEdgesForFile(ctx context.Context, projectID, ref, sourceFile string) ([]*SymbolEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, ref, from_symbol_id, COALESCE(to_symbol_id,''), COALESCE(to_name,''),
		       edge_type, confidence, COALESCE(source_file,''), COALESCE(source_line,0)
		FROM symbol_edges WHERE project_id=? AND ref=? AND edge_type=? AND source_file=?
	`, projectID, ref, EdgeImports, sourceFile)
	if err != nil {
		return nil, cerrors.WrapDB("list import edges for file", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]*SymbolEdge, error) {
	var out []*SymbolEdge
	for rows.Next() {
		var e SymbolEdge
		var confidence string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Ref, &e.FromSymbolID, &e.ToSymbolID, &e.ToName,
			&e.EdgeType, &confidence, &e.SourceFile, &e.SourceLine); err != nil {
			return nil, cerrors.WrapDB("scan edge", err)
		}
		e.Confidence = EdgeConfidence(confidence)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func nullableInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}
