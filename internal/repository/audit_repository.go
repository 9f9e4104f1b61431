package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stanstork/aegis-api/internal/erasure"
	"github.com/stanstork/aegis-api/internal/models"
)

const defaultAuditLimit = 500

// AuditRepository stores the erasure audit trail. It is the engine's
// erasure.AuditSink.
type AuditRepository interface {
	RecordErasure(ctx context.Context, entries []erasure.AuditEntry) error
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]models.AuditLog, error)
	ListRecent(ctx context.Context, limit int) ([]models.AuditLog, error)
	Stats(ctx context.Context, days int) (models.ErasureStat, error)
}

type auditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) RecordErasure(ctx context.Context, entries []erasure.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tenant.audit_logs
			(tenant_id, user_id, job_id, target_db, target_table, record_id, status, artifact_digest, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var userID any
		if e.UserID != "" {
			userID = e.UserID
		}
		if _, err := stmt.ExecContext(ctx,
			e.TenantID, userID, e.JobID, e.Database, e.Table, e.RecordID, e.Status, e.ArtifactDigest, e.ExecutedAt,
		); err != nil {
			return fmt.Errorf("insert audit entry for record %s: %w", e.RecordID, err)
		}
	}
	return tx.Commit()
}

const auditSelect = `
	SELECT a.id, a.tenant_id, a.user_id, COALESCE(u.email, ''), a.job_id, a.target_db,
		a.target_table, a.record_id, a.status, a.artifact_digest, a.executed_at
	FROM tenant.audit_logs a
	LEFT JOIN tenant.users u ON u.id = a.user_id`

func (r *auditRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]models.AuditLog, error) {
	query := auditSelect + `
	WHERE a.tenant_id = $1
	ORDER BY a.executed_at DESC, a.id DESC
	LIMIT $2`
	return r.list(ctx, query, tenantID, clampLimit(limit))
}

func (r *auditRepository) ListRecent(ctx context.Context, limit int) ([]models.AuditLog, error) {
	query := auditSelect + `
	ORDER BY a.executed_at DESC, a.id DESC
	LIMIT $1`
	return r.list(ctx, query, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > defaultAuditLimit {
		return defaultAuditLimit
	}
	return limit
}

func (r *auditRepository) list(ctx context.Context, query string, args ...any) ([]models.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]models.AuditLog, 0)
	for rows.Next() {
		var (
			entry  models.AuditLog
			userID sql.NullString
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.TenantID,
			&userID,
			&entry.UserEmail,
			&entry.JobID,
			&entry.TargetDB,
			&entry.TargetTable,
			&entry.RecordID,
			&entry.Status,
			&entry.ArtifactDigest,
			&entry.ExecutedAt,
		); err != nil {
			return nil, err
		}
		if userID.Valid {
			entry.UserID = &userID.String
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *auditRepository) Stats(ctx context.Context, days int) (models.ErasureStat, error) {
	if days <= 0 {
		days = 30
	}

	const perDayQuery = `
		WITH days AS (
			SELECT generate_series(
				(current_date - ($1 - 1) * INTERVAL '1 day'),
				current_date,
				'1 day'::INTERVAL
			)::DATE AS day
		)
		SELECT
			days.day,
			COUNT(a.id)                AS records,
			COUNT(DISTINCT a.job_id)   AS jobs
		FROM days
		LEFT JOIN tenant.audit_logs a
		ON a.executed_at::DATE = days.day
		GROUP BY days.day
		ORDER BY days.day;
	`
	rows, err := r.db.QueryContext(ctx, perDayQuery, days)
	if err != nil {
		return models.ErasureStat{}, fmt.Errorf("erasure stats query error: %w", err)
	}
	defer rows.Close()

	var stats models.ErasureStat
	for rows.Next() {
		var day models.ErasureStatDay
		if err := rows.Scan(&day.Day, &day.Records, &day.Jobs); err != nil {
			return models.ErasureStat{}, fmt.Errorf("failed to scan erasure stat: %w", err)
		}
		stats.PerDay = append(stats.PerDay, day)
	}
	if err := rows.Err(); err != nil {
		return models.ErasureStat{}, err
	}

	const totalsQuery = `
		SELECT
			(SELECT COUNT(*) FROM tenant.tenants),
			(SELECT COUNT(*) FROM tenant.users WHERE deleted_at IS NULL),
			(SELECT COUNT(*) FROM tenant.users WHERE deleted_at IS NULL AND email_verified),
			(SELECT COUNT(*) FROM tenant.audit_logs),
			(SELECT COUNT(DISTINCT job_id) FROM tenant.audit_logs),
			(SELECT COUNT(DISTINCT tenant_id) FROM tenant.audit_logs
				WHERE executed_at >= current_date - ($1 - 1) * INTERVAL '1 day');
	`
	err = r.db.QueryRowContext(ctx, totalsQuery, days).Scan(
		&stats.Tenants,
		&stats.Users,
		&stats.VerifiedUsers,
		&stats.ErasedRecords,
		&stats.CompletedJobs,
		&stats.ActiveTenants,
	)
	if err != nil {
		return models.ErasureStat{}, fmt.Errorf("erasure stats totals scan error: %w", err)
	}
	return stats, nil
}
