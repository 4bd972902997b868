package jobstore

const postgresSchema = `
CREATE TABLE IF NOT EXISTS analysis_jobs (
	job_id           TEXT PRIMARY KEY,
	input_url        TEXT NOT NULL,
	dedup_key        TEXT NOT NULL,
	state            TEXT NOT NULL,
	attempt          INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL,
	result           JSONB,
	last_error       TEXT,
	metadata         JSONB,
	lease_owner      TEXT,
	lease_expires_at TIMESTAMPTZ,
	run_at           TIMESTAMPTZ NOT NULL,
	cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ
)`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS analysis_jobs (
	job_id           TEXT PRIMARY KEY,
	input_url        TEXT NOT NULL,
	dedup_key        TEXT NOT NULL,
	state            TEXT NOT NULL,
	attempt          INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL,
	result           TEXT,
	last_error       TEXT,
	metadata         TEXT,
	lease_owner      TEXT,
	lease_expires_at TIMESTAMP,
	run_at           TIMESTAMP NOT NULL,
	cancel_requested BOOLEAN NOT NULL DEFAULT 0,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL,
	completed_at     TIMESTAMP
)`

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_analysis_jobs_eligible ON analysis_jobs (state, run_at, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_jobs_dedup ON analysis_jobs (dedup_key, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_jobs_updated ON analysis_jobs (state, updated_at, job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_jobs_lease ON analysis_jobs (state, lease_expires_at)`,
}
