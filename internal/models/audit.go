package models

import "time"

// AuditLog records one erased record. Rows are append-only.
type AuditLog struct {
	ID             int64     `json:"id" db:"id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	UserID         *string   `json:"user_id,omitempty" db:"user_id"`
	UserEmail      string    `json:"user_email,omitempty" db:"user_email"`
	JobID          string    `json:"job_id" db:"job_id"`
	TargetDB       string    `json:"target_db" db:"target_db"`
	TargetTable    string    `json:"target_table" db:"target_table"`
	RecordID       string    `json:"record_id" db:"record_id"`
	Status         string    `json:"status" db:"status"`
	ArtifactDigest string    `json:"artifact_sha256" db:"artifact_digest"`
	ExecutedAt     time.Time `json:"executed_at" db:"executed_at"`
}
