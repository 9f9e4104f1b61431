package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/stanstork/aegis-api/internal/models"
)

var (
	ErrTokenExpired = errors.New("verification token expired")
	ErrTokenUsed    = errors.New("verification token already used")
)

type VerificationRepository interface {
	GetByTokenHash(tokenHash string) (models.EmailVerification, error)
	// Consume marks the token used and the owning user verified in one
	// transaction. It returns sql.ErrNoRows for unknown tokens.
	Consume(tokenHash string, now time.Time) (models.EmailVerification, error)
}

type verificationRepository struct {
	db *sql.DB
}

func NewVerificationRepository(db *sql.DB) VerificationRepository {
	return &verificationRepository{db: db}
}

const verificationColumns = `id, user_id, token_hash, expires_at, used_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVerification(row rowScanner) (models.EmailVerification, error) {
	var v models.EmailVerification
	err := row.Scan(&v.ID, &v.UserID, &v.TokenHash, &v.ExpiresAt, &v.UsedAt, &v.CreatedAt)
	return v, err
}

func (r *verificationRepository) GetByTokenHash(tokenHash string) (models.EmailVerification, error) {
	query := `SELECT ` + verificationColumns + `
		FROM tenant.email_verifications
		WHERE token_hash = $1;`
	return scanVerification(r.db.QueryRow(query, tokenHash))
}

func (r *verificationRepository) Consume(tokenHash string, now time.Time) (models.EmailVerification, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return models.EmailVerification{}, err
	}
	defer tx.Rollback()

	query := `SELECT ` + verificationColumns + `
		FROM tenant.email_verifications
		WHERE token_hash = $1
		FOR UPDATE;`
	v, err := scanVerification(tx.QueryRow(query, tokenHash))
	if err != nil {
		return models.EmailVerification{}, err
	}
	if v.IsUsed() {
		return v, ErrTokenUsed
	}
	if v.IsExpired(now) {
		return v, ErrTokenExpired
	}

	if _, err := tx.Exec(`UPDATE tenant.email_verifications SET used_at = $2 WHERE id = $1`, v.ID, now); err != nil {
		return models.EmailVerification{}, err
	}
	if _, err := tx.Exec(`UPDATE tenant.users SET email_verified = TRUE, updated_at = now() WHERE id = $1`, v.UserID); err != nil {
		return models.EmailVerification{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.EmailVerification{}, err
	}

	v.UsedAt = &now
	return v, nil
}
