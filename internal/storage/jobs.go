package storage

import (
	"context"
	"database/sql"
	"time"

	cerrors "github.com/signalridge/cruxe/internal/errors"
)

// CreateIndexJob inserts a new append-only ledger row. The unique partial
// index on status IN ('queued','running','validating') is the source of
// truth for the at-most-one-active-job-per-ref invariant; a conflict here
// surfaces as a sqlite constraint error that callers map to
// CodeIndexInProgress after first checking GetActiveJobForRef for a
// friendlier message.
func (s *Store) CreateIndexJob(ctx context.Context, j *IndexJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_jobs (job_id, project_id, ref, mode, head_commit, sync_id, status, changed_files)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, j.JobID, j.ProjectID, j.Ref, j.Mode, nullableString(j.HeadCommit), nullableString(j.SyncID),
		string(j.Status), j.ChangedFiles)
	return cerrors.WrapDB("create index job", err)
}

// GetActiveJobForRef returns the current active job for (project, ref), if
// any, letting handlers return CodeIndexInProgress before attempting the
// INSERT that the partial unique index would otherwise reject.
func (s *Store) GetActiveJobForRef(ctx context.Context, projectID, ref string) (*IndexJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, project_id, ref, mode, COALESCE(head_commit,''), COALESCE(sync_id,''), status,
		       changed_files, duration_ms, COALESCE(error_message,''), retry_count, COALESCE(progress_token,''),
		       files_scanned, files_indexed, symbols_extracted, created_at, updated_at
		FROM index_jobs
		WHERE project_id=? AND ref=? AND status IN ('queued','running','validating')
		ORDER BY created_at DESC LIMIT 1
	`, projectID, ref)
	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE index_jobs SET status=?, error_message=?, updated_at=strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE job_id=?
	`, string(status), nullableString(errMsg), jobID)
	return cerrors.WrapDB("update job status", err)
}

func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, filesScanned, filesIndexed, symbolsExtracted int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE index_jobs SET files_scanned=?, files_indexed=?, symbols_extracted=?,
			updated_at=strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE job_id=?
	`, filesScanned, filesIndexed, symbolsExtracted, jobID)
	return cerrors.WrapDB("update job progress", err)
}

func (s *Store) CompleteJob(ctx context.Context, jobID string, status JobStatus, durationMs int64, changedFiles int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE index_jobs SET status=?, duration_ms=?, changed_files=?,
			updated_at=strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE job_id=?
	`, string(status), durationMs, changedFiles, jobID)
	return cerrors.WrapDB("complete job", err)
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*IndexJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, project_id, ref, mode, COALESCE(head_commit,''), COALESCE(sync_id,''), status,
		       changed_files, duration_ms, COALESCE(error_message,''), retry_count, COALESCE(progress_token,''),
		       files_scanned, files_indexed, symbols_extracted, created_at, updated_at
		FROM index_jobs WHERE job_id=?
	`, jobID)
	return scanJob(row)
}

// RecentJobsForRef returns the most recent jobs for (project, ref), newest
// first, for index_status's "recent jobs (last 5+)" contract.
func (s *Store) RecentJobsForRef(ctx context.Context, projectID, ref string, limit int) ([]*IndexJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, project_id, ref, mode, COALESCE(head_commit,''), COALESCE(sync_id,''), status,
		       changed_files, duration_ms, COALESCE(error_message,''), retry_count, COALESCE(progress_token,''),
		       files_scanned, files_indexed, symbols_extracted, created_at, updated_at
		FROM index_jobs WHERE project_id=? AND ref=?
		ORDER BY created_at DESC LIMIT ?
	`, projectID, ref, limit)
	if err != nil {
		return nil, cerrors.WrapDB("recent jobs", err)
	}
	defer rows.Close()
	var out []*IndexJob
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// MarkInterruptedJobs rewrites any job left in {queued,running,validating}
// from a prior process's crash to interrupted. Run once at startup.
func (s *Store) MarkInterruptedJobs(ctx context.Context) ([]*IndexJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, project_id, ref, mode, COALESCE(head_commit,''), COALESCE(sync_id,''), status,
		       changed_files, duration_ms, COALESCE(error_message,''), retry_count, COALESCE(progress_token,''),
		       files_scanned, files_indexed, symbols_extracted, created_at, updated_at
		FROM index_jobs WHERE status IN ('queued','running','validating')
	`)
	if err != nil {
		return nil, cerrors.WrapDB("scan interrupted jobs", err)
	}
	var stale []*IndexJob
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		stale = append(stale, j)
	}
	rows.Close()

	for _, j := range stale {
		if err := s.UpdateJobStatus(ctx, j.JobID, JobInterrupted, "process restarted while job was active"); err != nil {
			return nil, err
		}
		j.Status = JobInterrupted
	}
	return stale, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row *sql.Row) (*IndexJob, error) {
	return scanJobGeneric(row)
}

func scanJobRow(rows *sql.Rows) (*IndexJob, error) {
	return scanJobGeneric(rows)
}

func scanJobGeneric(r rowScanner) (*IndexJob, error) {
	var j IndexJob
	var status string
	var duration sql.NullInt64
	var createdAt, updatedAt string
	err := r.Scan(&j.JobID, &j.ProjectID, &j.Ref, &j.Mode, &j.HeadCommit, &j.SyncID, &status,
		&j.ChangedFiles, &duration, &j.ErrorMessage, &j.RetryCount, &j.ProgressToken,
		&j.FilesScanned, &j.FilesIndexed, &j.SymbolsExtracted, &createdAt, &updatedAt)
	if err != nil {
		return nil, cerrors.WrapDB("scan index job", err)
	}
	j.Status = JobStatus(status)
	if duration.Valid {
		j.DurationMs = &duration.Int64
	}
	j.CreatedAt, _ = time.Parse("2006-01-02T15:04:05.999999999Z", createdAt)
	j.UpdatedAt, _ = time.Parse("2006-01-02T15:04:05.999999999Z", updatedAt)
	return &j, nil
}
