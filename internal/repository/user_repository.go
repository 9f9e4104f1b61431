package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/stanstork/aegis-api/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
)

// Registration is the input of a self-service organisation signup.
type Registration struct {
	Organization string
	FullName     string
	Email        string
	Password     string
	Roles        []models.UserRole
	// Verified skips the verification step.
	Verified bool
}

type UserRepository interface {
	// Register creates the tenant, its first user and, unless the user is
	// already verified, a verification token, all in one transaction.
	Register(reg Registration, tokenHash string, tokenExpiresAt time.Time) (models.User, models.Tenant, error)
	AuthenticateUser(email, password string) (models.User, error)
	GetUserByID(userID string) (models.User, error)
	GetUserByEmail(email string) (models.User, error)
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, tenant_id, email, full_name, password_hash, is_active, email_verified, roles, created_at`

func (u *userRepository) Register(reg Registration, tokenHash string, tokenExpiresAt time.Time) (models.User, models.Tenant, error) {
	roles := reg.Roles
	if len(roles) == 0 {
		roles = []models.UserRole{models.RoleOperator}
	}
	if !models.IsValidRoleList(roles) {
		return models.User{}, models.Tenant{}, errors.New("invalid roles")
	}
	normalized := models.EnsureDefaultRole(models.NormalizeRoles(roles))

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, models.Tenant{}, err
	}

	tx, err := u.db.Begin()
	if err != nil {
		return models.User{}, models.Tenant{}, err
	}
	defer tx.Rollback() // no-op after commit

	var tenant models.Tenant
	err = tx.QueryRow(`
		INSERT INTO tenant.tenants (name)
		VALUES ($1)
		RETURNING id, name, created_at, updated_at`,
		strings.TrimSpace(reg.Organization),
	).Scan(&tenant.ID, &tenant.Name, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return models.User{}, models.Tenant{}, err
	}

	user := models.User{
		TenantID:      tenant.ID,
		Email:         strings.ToLower(strings.TrimSpace(reg.Email)),
		FullName:      strings.TrimSpace(reg.FullName),
		PasswordHash:  string(hash),
		IsActive:      true,
		EmailVerified: reg.Verified,
		Roles:         normalized,
	}
	err = tx.QueryRow(`
		INSERT INTO tenant.users (tenant_id, email, full_name, password_hash, is_active, email_verified, roles)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		user.TenantID, user.Email, user.FullName, user.PasswordHash, user.IsActive, user.EmailVerified,
		pq.Array(toStringSlice(user.Roles)),
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return models.User{}, models.Tenant{}, ErrEmailTaken
		}
		return models.User{}, models.Tenant{}, err
	}

	if !reg.Verified {
		_, err = tx.Exec(`
			INSERT INTO tenant.email_verifications (user_id, token_hash, expires_at)
			VALUES ($1, $2, $3)`,
			user.ID, tokenHash, tokenExpiresAt,
		)
		if err != nil {
			return models.User{}, models.Tenant{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.User{}, models.Tenant{}, err
	}
	return user, tenant, nil
}

func (u *userRepository) AuthenticateUser(email string, password string) (models.User, error) {
	user, err := u.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}

	if !user.IsActive {
		return models.User{}, errors.New("user is inactive")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, ErrInvalidCredentials
	}

	return user, nil
}

func (u *userRepository) GetUserByEmail(email string) (models.User, error) {
	query := `SELECT ` + userColumns + `
		FROM tenant.users
		WHERE email = $1 AND deleted_at IS NULL`
	return scanUser(u.db.QueryRow(query, strings.ToLower(strings.TrimSpace(email))))
}

func (u *userRepository) GetUserByID(userID string) (models.User, error) {
	query := `SELECT ` + userColumns + `
		FROM tenant.users
		WHERE id = $1 AND deleted_at IS NULL`
	return scanUser(u.db.QueryRow(query, userID))
}

func scanUser(row *sql.Row) (models.User, error) {
	var user models.User
	var roles pq.StringArray

	err := row.Scan(
		&user.ID,
		&user.TenantID,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.IsActive,
		&user.EmailVerified,
		&roles,
		&user.CreatedAt,
	)
	if err != nil {
		return models.User{}, err
	}

	user.Roles = models.EnsureDefaultRole(toUserRoleSlice(roles))
	if !models.IsValidRoleList(user.Roles) {
		return models.User{}, errors.New("user has invalid roles")
	}
	return user, nil
}

func toStringSlice(roles []models.UserRole) []string {
	result := make([]string, 0, len(roles))
	for _, role := range roles {
		result = append(result, string(role))
	}
	return result
}

func toUserRoleSlice(roles []string) []models.UserRole {
	result := make([]models.UserRole, 0, len(roles))
	for _, role := range roles {
		result = append(result, models.UserRole(role))
	}
	return models.NormalizeRoles(result)
}
