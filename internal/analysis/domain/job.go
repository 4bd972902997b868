package domain

import (
	"time"
)

// Job represents one unit of website analysis work
type Job struct {
	JobID           string     `db:"job_id"`
	InputURL        string     `db:"input_url"`
	DedupKey        string     `db:"dedup_key"`
	State           JobState   `db:"state"`
	Attempt         int        `db:"attempt"`
	MaxAttempts     int        `db:"max_attempts"`
	Result          Metadata   `db:"result"`
	LastError       *string    `db:"last_error"`
	Metadata        Metadata   `db:"metadata"`
	LeaseOwner      *string    `db:"lease_owner"`
	LeaseExpiresAt  *time.Time `db:"lease_expires_at"`
	RunAt           time.Time  `db:"run_at"`
	CancelRequested bool       `db:"cancel_requested"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	CompletedAt     *time.Time `db:"completed_at"`
}

// NewJob creates a Pending job eligible at now
func NewJob(jobID, inputURL, dedupKey string, maxAttempts int, metadata Metadata, now time.Time) *Job {
	now = now.UTC()
	return &Job{
		JobID:       jobID,
		InputURL:    inputURL,
		DedupKey:    dedupKey,
		State:       JobStatePending,
		MaxAttempts: maxAttempts,
		Metadata:    metadata,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy so callers never share mutable state with a store
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Result = j.Result.Clone()
	c.Metadata = j.Metadata.Clone()
	if j.LastError != nil {
		v := *j.LastError
		c.LastError = &v
	}
	if j.LeaseOwner != nil {
		v := *j.LeaseOwner
		c.LeaseOwner = &v
	}
	if j.LeaseExpiresAt != nil {
		v := *j.LeaseExpiresAt
		c.LeaseExpiresAt = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// LastErrorString returns the last failure reason or an empty string
func (j *Job) LastErrorString() string {
	if j.LastError == nil {
		return ""
	}
	return *j.LastError
}

// IsLeasedBy reports whether owner holds the current lease
func (j *Job) IsLeasedBy(owner string) bool {
	return j.State == JobStateLeased && j.LeaseOwner != nil && *j.LeaseOwner == owner
}

// LeaseExpired reports whether the job is leased and its lease ran out at or before now
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.State == JobStateLeased && j.LeaseExpiresAt != nil && !now.Before(*j.LeaseExpiresAt)
}

// JobMessage is the wake-up notification published when a job becomes eligible
type JobMessage struct {
	JobID string `json:"job_id"`
}
