package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/trydex/claude-code-viewer/internal/common/errors"
)

const schedulerSchema = `
CREATE TABLE IF NOT EXISTS scheduler_jobs (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	schedule_type    TEXT NOT NULL,
	at               DATETIME,
	interval_seconds INTEGER NOT NULL DEFAULT 0,
	project_id       TEXT NOT NULL,
	cwd              TEXT NOT NULL,
	session_id       TEXT NOT NULL DEFAULT '',
	prompt           TEXT NOT NULL,
	enabled          INTEGER NOT NULL DEFAULT 1,
	last_run_status  TEXT,
	last_run_at      DATETIME,
	created_at       DATETIME NOT NULL
);
`

// SQLiteStore persists scheduler jobs in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and ensures its schema exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(schedulerSchema); err != nil {
		return nil, fmt.Errorf("failed to create scheduler schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_jobs
			(id, name, schedule_type, at, interval_seconds, project_id, cwd,
			 session_id, prompt, enabled, last_run_status, last_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.ScheduleType, nullTime(job.At), job.IntervalSeconds,
		job.ProjectID, job.CWD, job.SessionID, job.Prompt, job.Enabled,
		nullString(job.LastRunStatus), nullTime(job.LastRunAt), job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert scheduler job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, schedule_type, at, interval_seconds, project_id, cwd,
		       session_id, prompt, enabled, last_run_status, last_run_at, created_at
		FROM scheduler_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("scheduler job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, schedule_type, at, interval_seconds, project_id, cwd,
		       session_id, prompt, enabled, last_run_status, last_run_at, created_at
		FROM scheduler_jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduler jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduler job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, job *Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduler_jobs SET
			name = ?, schedule_type = ?, at = ?, interval_seconds = ?,
			project_id = ?, cwd = ?, session_id = ?, prompt = ?, enabled = ?
		WHERE id = ?`,
		job.Name, job.ScheduleType, nullTime(job.At), job.IntervalSeconds,
		job.ProjectID, job.CWD, job.SessionID, job.Prompt, job.Enabled, job.ID)
	if err != nil {
		return fmt.Errorf("failed to update scheduler job: %w", err)
	}
	return requireRow(res, job.ID)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduler_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scheduler job: %w", err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) RecordRun(ctx context.Context, id string, status string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduler_jobs SET last_run_status = ?, last_run_at = ? WHERE id = ?`,
		status, at, id)
	if err != nil {
		return fmt.Errorf("failed to record scheduler run: %w", err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NotFound("scheduler job", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var at, lastRunAt sql.NullTime
	var lastRunStatus sql.NullString

	err := row.Scan(&job.ID, &job.Name, &job.ScheduleType, &at, &job.IntervalSeconds,
		&job.ProjectID, &job.CWD, &job.SessionID, &job.Prompt, &job.Enabled,
		&lastRunStatus, &lastRunAt, &job.CreatedAt)
	if err != nil {
		return nil, err
	}

	if at.Valid {
		t := at.Time
		job.At = &t
	}
	if lastRunStatus.Valid {
		s := lastRunStatus.String
		job.LastRunStatus = &s
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time
		job.LastRunAt = &t
	}
	return &job, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
