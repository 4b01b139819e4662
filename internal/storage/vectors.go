package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"

	cerrors "github.com/signalridge/cruxe/internal/errors"
)

// UpsertSemanticVector writes one row keyed by (project, ref, symbol_stable_id,
// snippet_hash). The vector backend (hnsw) holds the ANN graph in memory;
// SQLite is the durable copy used to rebuild it on restart and to answer
// count_vectors_for_scope.
func (s *Store) UpsertSemanticVector(ctx context.Context, execer sqlExecer, v *SemanticVector) error {
	_, err := execer.ExecContext(ctx, `
		INSERT INTO semantic_vectors (
			project_id, ref, symbol_stable_id, snippet_hash, embedding_model_id,
			embedding_model_version, dimensions, path, line_start, line_end, language,
			chunk_type, snippet_text, vector
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(project_id, ref, symbol_stable_id, snippet_hash) DO UPDATE SET
			embedding_model_id=excluded.embedding_model_id,
			embedding_model_version=excluded.embedding_model_version,
			dimensions=excluded.dimensions,
			path=excluded.path,
			line_start=excluded.line_start,
			line_end=excluded.line_end,
			language=excluded.language,
			chunk_type=excluded.chunk_type,
			snippet_text=excluded.snippet_text,
			vector=excluded.vector
	`, v.ProjectID, v.Ref, v.SymbolStableID, v.SnippetHash, v.EmbeddingModelID, v.EmbeddingModelVersion,
		v.Dimensions, v.Path, v.LineStart, v.LineEnd, v.Language, nullableString(v.ChunkType),
		v.SnippetText, EncodeVector(v.Vector))
	return cerrors.WrapDB("upsert semantic vector", err)
}

// DeleteVectorsForRef removes every vector row for (project, ref), used on
// overlay rebuild.
func (s *Store) DeleteVectorsForRef(ctx context.Context, execer sqlExecer, projectID, ref string) error {
	_, err := execer.ExecContext(ctx, `DELETE FROM semantic_vectors WHERE project_id=? AND ref=?`, projectID, ref)
	return cerrors.WrapDB("delete vectors for ref", err)
}

// DeleteVectorsForPath removes vectors for one file, used on Modified
// actions before the new snippet set is embedded.
func (s *Store) DeleteVectorsForPath(ctx context.Context, execer sqlExecer, projectID, ref, path string) error {
	_, err := execer.ExecContext(ctx, `DELETE FROM semantic_vectors WHERE project_id=? AND ref=? AND path=?`, projectID, ref, path)
	return cerrors.WrapDB("delete vectors for path", err)
}

func (s *Store) CountVectorsForScope(ctx context.Context, projectID, ref string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM semantic_vectors WHERE project_id=? AND ref=?
	`, projectID, ref).Scan(&n)
	if err != nil {
		return 0, cerrors.WrapDB("count vectors for scope", err)
	}
	return n, nil
}

// ListVectorsForRef loads every vector row for (project, ref), used to
// rehydrate the in-memory hnsw graph after a process restart.
func (s *Store) ListVectorsForRef(ctx context.Context, projectID, ref string) ([]*SemanticVector, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, ref, symbol_stable_id, snippet_hash, embedding_model_id,
		       embedding_model_version, dimensions, path, line_start, line_end, language,
		       COALESCE(chunk_type,''), snippet_text, vector
		FROM semantic_vectors WHERE project_id=? AND ref=?
	`, projectID, ref)
	if err != nil {
		return nil, cerrors.WrapDB("list vectors for ref", err)
	}
	defer rows.Close()

	var out []*SemanticVector
	for rows.Next() {
		var v SemanticVector
		var blob []byte
		if err := rows.Scan(&v.ProjectID, &v.Ref, &v.SymbolStableID, &v.SnippetHash, &v.EmbeddingModelID,
			&v.EmbeddingModelVersion, &v.Dimensions, &v.Path, &v.LineStart, &v.LineEnd, &v.Language,
			&v.ChunkType, &v.SnippetText, &blob); err != nil {
			return nil, cerrors.WrapDB("scan semantic vector", err)
		}
		v.Vector = DecodeVector(blob)
		out = append(out, &v)
	}
	return out, rows.Err()
}

// EncodeVector serializes a float32 slice as little-endian bytes for the
// vector BLOB column.
func EncodeVector(v []float32) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(len(v) * 4)
	for _, f := range v {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func DecodeVector(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(b[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
