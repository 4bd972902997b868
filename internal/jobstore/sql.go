package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `
	job_id, input_url, dedup_key, state, attempt, max_attempts,
	result, last_error, metadata, lease_owner, lease_expires_at,
	run_at, cancel_requested, created_at, updated_at, completed_at
`

// SQL is a Store backed by PostgreSQL (lib/pq) or SQLite (go-sqlite3) through sqlx.
// Queries are written with ? placeholders and rebound for the driver.
type SQL struct {
	db     *sqlx.DB
	logger *slog.Logger
	// lockClause is appended to the lease subquery; SQLite serializes writers so it needs none.
	lockClause string
	schema     string
}

// NewSQL creates a SQL store on an open connection
func NewSQL(db *sqlx.DB, logger *slog.Logger) (*SQL, error) {
	s := &SQL{
		db:     db,
		logger: logger,
	}

	switch db.DriverName() {
	case "postgres":
		s.lockClause = "FOR UPDATE SKIP LOCKED"
		s.schema = postgresSchema
	case "sqlite3":
		s.schema = sqliteSchema
	default:
		return nil, fmt.Errorf("unsupported database driver %q", db.DriverName())
	}

	return s, nil
}

// Migrate creates the jobs table and its indexes when missing
func (s *SQL) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.schema); err != nil {
		return fmt.Errorf("failed to create analysis_jobs table: %w", err)
	}
	for _, stmt := range schemaIndexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	s.logger.Info("Job store schema ready",
		slog.String("driver", s.db.DriverName()),
	)
	return nil
}

func (s *SQL) Create(ctx context.Context, job *domain.Job) error {
	query := s.db.Rebind(`
		INSERT INTO analysis_jobs (` + jobColumns + `) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?
		)
	`)

	_, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.InputURL,
		job.DedupKey,
		job.State,
		job.Attempt,
		job.MaxAttempts,
		job.Result,
		job.LastError,
		job.Metadata,
		job.LeaseOwner,
		normalizeTimePtr(job.LeaseExpiresAt),
		normalizeTime(job.RunAt),
		job.CancelRequested,
		normalizeTime(job.CreatedAt),
		normalizeTime(job.UpdatedAt),
		normalizeTimePtr(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (s *SQL) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM analysis_jobs WHERE job_id = ?`)

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

func (s *SQL) FindLatestByDedupKey(ctx context.Context, dedupKey string) (*domain.Job, error) {
	query := s.db.Rebind(`
		SELECT ` + jobColumns + `
		FROM analysis_jobs
		WHERE dedup_key = ?
		ORDER BY created_at DESC, job_id DESC
		LIMIT 1
	`)

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, dedupKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to find job by dedup key: %w", err)
	}

	return &job, nil
}

// Lease claims the oldest eligible job in a single statement
func (s *SQL) Lease(ctx context.Context, owner string, now time.Time, leaseFor time.Duration) (*domain.Job, error) {
	now = normalizeTime(now)
	expiresAt := now.Add(leaseFor)

	query := s.db.Rebind(`
		UPDATE analysis_jobs
		SET state = ?,
		    attempt = attempt + 1,
		    lease_owner = ?,
		    lease_expires_at = ?,
		    updated_at = ?
		WHERE job_id = (
			SELECT job_id
			FROM analysis_jobs
			WHERE state IN (?, ?)
			  AND run_at <= ?
			ORDER BY run_at, created_at, job_id
			LIMIT 1
			` + s.lockClause + `
		)
		RETURNING job_id`)

	var jobID string
	err := s.db.QueryRowxContext(ctx, query,
		domain.JobStateLeased,
		owner,
		expiresAt,
		now,
		domain.JobStatePending,
		domain.JobStateFailed,
		now,
	).Scan(&jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("failed to lease job: %w", err)
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Job leased",
		slog.String("job_id", job.JobID),
		slog.String("owner", owner),
		slog.Int("attempt", job.Attempt),
	)

	return job, nil
}

func (s *SQL) ExtendLease(ctx context.Context, jobID, owner string, until, now time.Time) error {
	query := s.db.Rebind(`
		UPDATE analysis_jobs
		SET lease_expires_at = ?,
		    updated_at = ?
		WHERE job_id = ? AND state = ? AND lease_owner = ?
	`)

	return s.execLeased(ctx, "extend lease", query,
		normalizeTime(until), normalizeTime(now), jobID, domain.JobStateLeased, owner)
}

func (s *SQL) Complete(ctx context.Context, jobID, owner string, result domain.Metadata, now time.Time) error {
	now = normalizeTime(now)
	query := s.db.Rebind(`
		UPDATE analysis_jobs
		SET state = ?,
		    result = ?,
		    lease_owner = NULL,
		    lease_expires_at = NULL,
		    completed_at = ?,
		    updated_at = ?
		WHERE job_id = ? AND state = ? AND lease_owner = ?
	`)

	return s.execLeased(ctx, "complete job", query,
		domain.JobStateSucceeded, result, now, now, jobID, domain.JobStateLeased, owner)
}

func (s *SQL) Fail(ctx context.Context, jobID, owner, lastError string, retryAt *time.Time, now time.Time) error {
	query, args := s.failureUpdate(jobID, owner, lastError, retryAt, normalizeTime(now), "")
	return s.execLeased(ctx, "fail job", query, args...)
}

func (s *SQL) ExpireLease(ctx context.Context, jobID, owner, lastError string, retryAt *time.Time, now time.Time) error {
	now = normalizeTime(now)
	query, args := s.failureUpdate(jobID, owner, lastError, retryAt, now, " AND lease_expires_at <= ?")
	args = append(args, now)
	return s.execLeased(ctx, "expire lease", query, args...)
}

// failureUpdate builds the Leased -> Failed|DeadLettered statement shared by Fail and ExpireLease
func (s *SQL) failureUpdate(jobID, owner, lastError string, retryAt *time.Time, now time.Time, extraCond string) (string, []any) {
	if retryAt == nil {
		query := s.db.Rebind(`
			UPDATE analysis_jobs
			SET state = ?,
			    last_error = ?,
			    lease_owner = NULL,
			    lease_expires_at = NULL,
			    completed_at = ?,
			    updated_at = ?
			WHERE job_id = ? AND state = ? AND lease_owner = ?` + extraCond)
		return query, []any{domain.JobStateDeadLettered, lastError, now, now, jobID, domain.JobStateLeased, owner}
	}

	query := s.db.Rebind(`
		UPDATE analysis_jobs
		SET state = ?,
		    last_error = ?,
		    run_at = ?,
		    lease_owner = NULL,
		    lease_expires_at = NULL,
		    updated_at = ?
		WHERE job_id = ? AND state = ? AND lease_owner = ?` + extraCond)
	return query, []any{domain.JobStateFailed, lastError, normalizeTime(*retryAt), now, jobID, domain.JobStateLeased, owner}
}

func (s *SQL) MarkCancelled(ctx context.Context, jobID, owner string, now time.Time) error {
	now = normalizeTime(now)
	query := s.db.Rebind(`
		UPDATE analysis_jobs
		SET state = ?,
		    lease_owner = NULL,
		    lease_expires_at = NULL,
		    completed_at = ?,
		    updated_at = ?
		WHERE job_id = ? AND state = ? AND lease_owner = ?
	`)

	return s.execLeased(ctx, "mark job cancelled", query,
		domain.JobStateCancelled, now, now, jobID, domain.JobStateLeased, owner)
}

func (s *SQL) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	query := s.db.Rebind(`
		SELECT ` + jobColumns + `
		FROM analysis_jobs
		WHERE state = ? AND lease_expires_at <= ?
		ORDER BY lease_expires_at
		LIMIT ?
	`)

	var jobs []*domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, domain.JobStateLeased, normalizeTime(now), limit); err != nil {
		return nil, fmt.Errorf("failed to list expired leases: %w", err)
	}
	return jobs, nil
}

func (s *SQL) Cancel(ctx context.Context, jobID string, now time.Time) (*domain.Job, error) {
	now = normalizeTime(now)

	cancelQuery := s.db.Rebind(`
		UPDATE analysis_jobs
		SET state = ?, completed_at = ?, updated_at = ?
		WHERE job_id = ? AND state IN (?, ?)
	`)
	affected, err := s.exec(ctx, cancelQuery,
		domain.JobStateCancelled, now, now, jobID, domain.JobStatePending, domain.JobStateFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}

	if affected == 0 {
		flagQuery := s.db.Rebind(`
			UPDATE analysis_jobs
			SET cancel_requested = ?, updated_at = ?
			WHERE job_id = ? AND state = ?
		`)
		affected, err = s.exec(ctx, flagQuery, true, now, jobID, domain.JobStateLeased)
		if err != nil {
			return nil, fmt.Errorf("failed to request job cancellation: %w", err)
		}
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("cannot cancel job in state %s: %w", job.State, domain.ErrInvalidStateTransition)
	}
	return job, nil
}

func (s *SQL) Requeue(ctx context.Context, jobID string, now time.Time) (*domain.Job, error) {
	now = normalizeTime(now)
	query := s.db.Rebind(`
		UPDATE analysis_jobs
		SET state = ?,
		    attempt = 0,
		    run_at = ?,
		    completed_at = NULL,
		    cancel_requested = ?,
		    updated_at = ?
		WHERE job_id = ? AND state = ?
	`)

	affected, err := s.exec(ctx, query,
		domain.JobStatePending, now, false, now, jobID, domain.JobStateDeadLettered)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue job: %w", err)
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("cannot requeue job in state %s: %w", job.State, domain.ErrInvalidStateTransition)
	}
	return job, nil
}

func (s *SQL) CountByState(ctx context.Context) (map[domain.JobState]int, error) {
	var rows []struct {
		State string `db:"state"`
		Count int    `db:"job_count"`
	}
	query := `SELECT state, COUNT(*) AS job_count FROM analysis_jobs GROUP BY state`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count jobs by state: %w", err)
	}

	counts := make(map[domain.JobState]int, len(rows))
	for _, row := range rows {
		counts[domain.JobState(row.State)] = row.Count
	}
	return counts, nil
}

func (s *SQL) List(ctx context.Context, filter ListFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE 1=1`
	args := []any{}

	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, filter.State)
	}

	if filter.Cursor != nil {
		query += " AND (updated_at, job_id) < (?, ?)"
		args = append(args, normalizeTime(filter.Cursor.UpdatedAt), filter.Cursor.JobID)
	}

	// Order by updated_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY updated_at DESC, job_id DESC"

	if filter.PageSize > 0 {
		// Fetch one extra to determine if there are more results
		query += " LIMIT ?"
		args = append(args, filter.PageSize+1)
	}

	var jobs []*domain.Job
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func (s *SQL) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	query := s.db.Rebind(`
		DELETE FROM analysis_jobs
		WHERE state IN (?, ?, ?) AND completed_at < ?
	`)

	removed, err := s.exec(ctx, query,
		domain.JobStateSucceeded, domain.JobStateDeadLettered, domain.JobStateCancelled, normalizeTime(before))
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal jobs: %w", err)
	}
	return removed, nil
}

func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQL) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// execLeased runs a statement conditioned on the caller's lease; no affected row means the lease is gone
func (s *SQL) execLeased(ctx context.Context, op, query string, args ...any) error {
	affected, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if affected == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}
