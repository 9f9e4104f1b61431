package erasure

import (
	"fmt"
	"time"

	"github.com/stanstork/aegis-api/internal/strategy"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var validTransitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed},
}

func (s Status) canTransitionTo(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ColumnSpec is one column to clean and the strategy to apply.
type ColumnSpec struct {
	Column   string        `json:"col"`
	Strategy strategy.Kind `json:"strategy"`
}

// FailureKind classifies why a job failed.
type FailureKind string

const (
	FailureConnection  FailureKind = "connection"
	FailureValidation  FailureKind = "validation"
	FailureRowRead     FailureKind = "row_read"
	FailureRowWrite    FailureKind = "row_write"
	FailureStrategy    FailureKind = "strategy"
	FailureNoRecords   FailureKind = "no_records"
	FailureCertificate FailureKind = "certificate"
	FailureArtifact    FailureKind = "artifact"
	FailureCommit      FailureKind = "commit"
	FailureStalled     FailureKind = "stalled"
	FailureShutdown    FailureKind = "shutdown"
	FailureInternal    FailureKind = "internal"
)

// Failure is recorded on a failed job. RecordID and Column name what was
// being processed when it failed.
type Failure struct {
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message"`
	RecordID string      `json:"record_id,omitempty"`
	Column   string      `json:"column,omitempty"`
}

// JobError is the error form of a Failure raised inside a running job.
type JobError struct {
	Failure
	Cause     error
	retryable bool
}

func (e *JobError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.RecordID != "" {
		msg += fmt.Sprintf(" (record %s", e.RecordID)
		if e.Column != "" {
			msg += fmt.Sprintf(", column %s", e.Column)
		}
		msg += ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *JobError) Unwrap() error { return e.Cause }

func jobError(kind FailureKind, msg string, cause error) *JobError {
	return &JobError{Failure: Failure{Kind: kind, Message: msg}, Cause: cause}
}

func (e *JobError) at(recordID, column string) *JobError {
	e.RecordID = recordID
	e.Column = column
	return e
}

// ArtifactRef points at the stored certificate of a completed job.
type ArtifactRef struct {
	Path        string `json:"-"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Digest      string `json:"sha256"`
	Size        int64  `json:"size"`
}

// Job is a point-in-time view of an erasure job. Connection credentials are
// never part of it.
type Job struct {
	ID           string       `json:"job_id"`
	TenantID     string       `json:"-"`
	UserID       string       `json:"-"`
	Operator     string       `json:"operator,omitempty"`
	Organization string       `json:"organization,omitempty"`
	Database     string       `json:"target_db"`
	Table        string       `json:"target_table"`
	KeyColumn    string       `json:"target_id_col"`
	TargetIDs    []string     `json:"target_ids"`
	Columns      []ColumnSpec `json:"columns_to_clean"`
	Status       Status       `json:"status"`
	Progress     int          `json:"progress"`
	Processed    int          `json:"records_processed"`
	Error        *Failure     `json:"error,omitempty"`
	Artifact     *ArtifactRef `json:"artifact,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

func (j Job) clone() Job {
	j.TargetIDs = append([]string(nil), j.TargetIDs...)
	j.Columns = append([]ColumnSpec(nil), j.Columns...)
	if j.Error != nil {
		e := *j.Error
		j.Error = &e
	}
	if j.Artifact != nil {
		a := *j.Artifact
		j.Artifact = &a
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		j.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		j.CompletedAt = &t
	}
	return j
}
