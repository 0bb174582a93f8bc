// Package models contains shared data models used across the voiceforge codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// JobKind identifies which external generation engine a job invokes.
type JobKind string

const (
	KindTTS    JobKind = "tts"
	KindAvatar JobKind = "avatar"
)

// ParseJobKind validates a kind string from the API path.
func ParseJobKind(s string) (JobKind, bool) {
	switch JobKind(s) {
	case KindTTS, KindAvatar:
		return JobKind(s), true
	default:
		return "", false
	}
}

// JobState is the lifecycle state of a generation job.
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s JobState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Job tracks an async generation task. The API returns a job_id on
// POST /api/v1/generate/{kind}; the client polls GET /api/v1/jobs/{job_id}
// until the state is terminal.
type Job struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	Kind         JobKind    `db:"kind"          json:"kind"`
	Fingerprint  string     `db:"fingerprint"   json:"fingerprint"`
	State        JobState   `db:"state"         json:"state"`
	Progress     int        `db:"progress"      json:"progress"`
	RetryCount   int        `db:"retry_count"   json:"retry_count"`
	MaxRetries   int        `db:"max_retries"   json:"max_retries"`
	Payload      []byte     `db:"payload"       json:"-"`
	ResultRef    *string    `db:"result_ref"    json:"result_ref,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	FinishedAt   *time.Time `db:"finished_at"   json:"finished_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}
