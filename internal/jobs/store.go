package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"montage/internal/config"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// ListOptions filters and pages List results.
type ListOptions struct {
	Statuses []Status
	Limit    int
	Offset   int
}

// HealthSummary aggregates job counts for diagnostic output.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}

// DatabaseHealth describes the state of the jobs database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	Error            string
}

// Open initializes or connects to the jobs database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "jobs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new job record.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	stageResults, err := marshalStageResults(job.StageResults)
	if err != nil {
		return fmt.Errorf("marshal stage results: %w", err)
	}
	retryCounts, err := marshalRetryCounts(job.RetryCounts)
	if err != nil {
		return fmt.Errorf("marshal retry counts: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, prompt, duration_seconds, style, quality, voice, status, current_stage,
            stage_results_json, progress, retry_counts_json, cancel_requested,
            output_path, created_at, updated_at, started_at, completed_at, last_heartbeat
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Prompt,
		job.DurationSeconds,
		job.Style,
		job.Quality,
		job.Voice,
		job.Status,
		job.CurrentStage,
		stageResults,
		job.Progress,
		retryCounts,
		boolToInt(job.CancelRequested),
		nullableString(job.OutputPath),
		job.CreatedAt.UTC().Format(time.RFC3339Nano),
		job.UpdatedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		nullableTime(job.LastHeartbeat),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID fetches a job by identifier. Returns nil when no job matches.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()

	stageResults, err := marshalStageResults(job.StageResults)
	if err != nil {
		return fmt.Errorf("marshal stage results: %w", err)
	}
	retryCounts, err := marshalRetryCounts(job.RetryCounts)
	if err != nil {
		return fmt.Errorf("marshal retry counts: %w", err)
	}

	var errorKind, errorMessage, errorStage any
	if job.Error != nil {
		errorKind = nullableString(job.Error.Kind)
		errorMessage = nullableString(job.Error.Message)
		errorStage = nullableString(job.Error.Stage)
	}

	// cancel_requested is owned by RequestCancel; writing it here would
	// let a stale in-memory copy erase a concurrent cancel. Progress is
	// written through MAX so a stale copy never walks the figure back.
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, current_stage = ?, stage_results_json = ?, progress = MAX(progress, ?),
             error_kind = ?, error_message = ?, error_stage = ?, retry_counts_json = ?,
             output_path = ?, updated_at = ?,
             started_at = ?, completed_at = ?, last_heartbeat = ?
         WHERE id = ?`,
		job.Status,
		job.CurrentStage,
		stageResults,
		job.Progress,
		errorKind,
		errorMessage,
		errorStage,
		retryCounts,
		nullableString(job.OutputPath),
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		nullableTime(job.LastHeartbeat),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// List returns jobs filtered by status set, newest first, with optional paging.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(opts.Statuses)+2)

	if len(opts.Statuses) > 0 {
		placeholders := makePlaceholders(len(opts.Statuses))
		query += ` WHERE status IN (` + placeholders + `)`
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var items []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, job)
	}
	return items, rows.Err()
}

// NextQueued claims the oldest queued job, moving it to processing in one
// statement so concurrent pollers never claim the same job twice. Returns
// nil when the queue is empty.
func (s *Store) NextQueued(ctx context.Context) (*Job, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE jobs
         SET status = ?, started_at = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = (
             SELECT id FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1
         )
         RETURNING `+jobColumns,
		StatusProcessing,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		StatusQueued,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim queued job: %w", err)
	}
	return job, nil
}

// RequestCancel asks for a job to stop. Queued jobs are cancelled
// immediately; processing jobs get a flag honored at the next stage
// boundary. Terminal jobs are left untouched and reported as not found.
func (s *Store) RequestCancel(ctx context.Context, id string) (*Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, cancel_requested = 1, completed_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCancelled,
		now,
		now,
		id,
		StatusQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("cancel queued job: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		return s.GetByID(ctx, id)
	}

	res, err = s.db.ExecContext(
		ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status = ?`,
		now,
		id,
		StatusProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("flag processing job: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		return s.GetByID(ctx, id)
	}
	return nil, nil
}

// UpdateHeartbeat refreshes the liveness timestamp for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now,
		now,
		id,
		StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// AdvanceProgress raises a processing job's progress figure. Lower
// values are ignored so the figure never regresses.
func (s *Store) AdvanceProgress(ctx context.Context, id string, progress float64) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET progress = MAX(progress, ?), updated_at = ? WHERE id = ? AND status = ?`,
		progress,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("advance progress: %w", err)
	}
	return nil
}

// CancelRequested reports whether a cancel flag has been raised for the job.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag int
	row := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id)
	if err := row.Scan(&flag); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// ReclaimStaleProcessing fails processing jobs whose heartbeats expired
// before the cutoff, typically after a crash left them orphaned.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, error_kind = 'transient', error_message = ?, error_stage = current_stage,
             completed_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusFailed,
		StaleReclaimReason,
		now,
		now,
		StatusProcessing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// DeleteTerminalBefore removes completed, failed, and cancelled jobs whose
// completion timestamp predates the cutoff.
func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM jobs
         WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		StatusCompleted,
		StatusFailed,
		StatusCancelled,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("delete terminal jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusProcessing:
			health.Processing += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		case StatusCancelled:
			health.Cancelled += count
		}
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the jobs database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("jobs database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat jobs database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("jobs database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("jobs database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping jobs database: %w", err)
	}
	health.DatabaseReadable = true

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'jobs'")
	if err := row.Scan(&tableName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			health.TableExists = false
		} else {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	} else {
		health.TableExists = true
	}

	return health, nil
}
