package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/stanstork/aegis-api/internal/authz"
	"github.com/stanstork/aegis-api/internal/erasure"
	"github.com/stanstork/aegis-api/internal/models"
	"github.com/stanstork/aegis-api/internal/repository"
)

type mockUserRepository struct{ mock.Mock }

func (m *mockUserRepository) Register(reg repository.Registration, tokenHash string, tokenExpiresAt time.Time) (models.User, models.Tenant, error) {
	args := m.Called(reg, tokenHash, tokenExpiresAt)
	return args.Get(0).(models.User), args.Get(1).(models.Tenant), args.Error(2)
}

func (m *mockUserRepository) AuthenticateUser(email, password string) (models.User, error) {
	args := m.Called(email, password)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *mockUserRepository) GetUserByID(userID string) (models.User, error) {
	args := m.Called(userID)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *mockUserRepository) GetUserByEmail(email string) (models.User, error) {
	args := m.Called(email)
	return args.Get(0).(models.User), args.Error(1)
}

type mockVerificationRepository struct{ mock.Mock }

func (m *mockVerificationRepository) GetByTokenHash(tokenHash string) (models.EmailVerification, error) {
	args := m.Called(tokenHash)
	return args.Get(0).(models.EmailVerification), args.Error(1)
}

func (m *mockVerificationRepository) Consume(tokenHash string, now time.Time) (models.EmailVerification, error) {
	args := m.Called(tokenHash, now)
	return args.Get(0).(models.EmailVerification), args.Error(1)
}

type mockTenantRepository struct{ mock.Mock }

func (m *mockTenantRepository) GetTenantByID(id string) (models.Tenant, error) {
	args := m.Called(id)
	return args.Get(0).(models.Tenant), args.Error(1)
}

type mockAuditRepository struct{ mock.Mock }

func (m *mockAuditRepository) RecordErasure(ctx context.Context, entries []erasure.AuditEntry) error {
	return m.Called(ctx, entries).Error(0)
}

func (m *mockAuditRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]models.AuditLog, error) {
	args := m.Called(ctx, tenantID, limit)
	if logs := args.Get(0); logs != nil {
		return logs.([]models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAuditRepository) ListRecent(ctx context.Context, limit int) ([]models.AuditLog, error) {
	args := m.Called(ctx, limit)
	if logs := args.Get(0); logs != nil {
		return logs.([]models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAuditRepository) Stats(ctx context.Context, days int) (models.ErasureStat, error) {
	args := m.Called(ctx, days)
	return args.Get(0).(models.ErasureStat), args.Error(1)
}

type mockMailer struct{ mock.Mock }

func (m *mockMailer) SendVerification(recipientEmail, fullName, organization, verifyURL string) error {
	return m.Called(recipientEmail, fullName, organization, verifyURL).Error(0)
}

// asOperator attaches an authenticated operator identity to r.
func asOperator(r *http.Request, tenantID, userID string) *http.Request {
	ctx := authz.WithIdentity(r.Context(), tenantID, userID, []models.UserRole{models.RoleOperator})
	ctx = authz.WithProfile(ctx, authz.Identity{Email: userID + "@acme.io", Organization: "Acme"})
	return r.WithContext(ctx)
}
