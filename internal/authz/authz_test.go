package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stanstork/aegis-api/internal/models"
)

func TestIdentityRoundTrip(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := TenantIDFromRequest(r)
	assert.False(t, ok)

	ctx := WithIdentity(r.Context(), "t1", "u1", []models.UserRole{models.RoleSuperAdmin})
	ctx = WithProfile(ctx, Identity{Email: "ada@acme.test", Organization: "Acme"})
	r = r.WithContext(ctx)

	tid, ok := TenantIDFromRequest(r)
	assert.True(t, ok)
	assert.Equal(t, "t1", tid)
	uid, _ := UserIDFromRequest(r)
	assert.Equal(t, "u1", uid)
	roles, ok := RolesFromRequest(r)
	assert.True(t, ok)
	assert.Equal(t, []models.UserRole{models.RoleOperator, models.RoleSuperAdmin}, roles)
	assert.Equal(t, "Acme", ProfileFromRequest(r).Organization)
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RequireRole(models.RoleSuperAdmin)(ok)

	operator := httptest.NewRequest(http.MethodGet, "/", nil)
	operator = operator.WithContext(WithIdentity(operator.Context(), "t1", "u1", []models.UserRole{models.RoleOperator}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, operator)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := httptest.NewRequest(http.MethodGet, "/", nil)
	admin = admin.WithContext(WithIdentity(admin.Context(), "t1", "u1", []models.UserRole{models.RoleSuperAdmin}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, admin)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
