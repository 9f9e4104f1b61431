package models

import "time"

// ErasureStatDay holds counts for a single day.
type ErasureStatDay struct {
	Day     time.Time `json:"day" db:"day"`
	Records int       `json:"records" db:"records"`
	Jobs    int       `json:"jobs" db:"jobs"`
}

// ErasureStat is the platform-wide summary shown to super admins.
type ErasureStat struct {
	Tenants       int              `json:"tenants" db:"tenants"`
	Users         int              `json:"users" db:"users"`
	VerifiedUsers int              `json:"verified_users" db:"verified_users"`
	ErasedRecords int              `json:"erased_records" db:"erased_records"`
	CompletedJobs int              `json:"completed_jobs" db:"completed_jobs"`
	ActiveTenants int              `json:"active_tenants" db:"active_tenants"` // tenants with an erasure in the period
	PerDay        []ErasureStatDay `json:"per_day" db:"per_day"`
}
