package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/aegis-api/internal/models"
)

func TestAuditListScopesToTenant(t *testing.T) {
	repo := new(mockAuditRepository)
	repo.On("ListByTenant", mock.Anything, "t1", defaultAuditLimit).
		Return([]models.AuditLog{{ID: 7, TenantID: "t1", RecordID: "42", Status: "ERASED"}}, nil)
	h := NewAuditHandler(repo, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.List(rec, asOperator(httptest.NewRequest(http.MethodGet, "/api/audit-logs", nil), "t1", "u1"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"record_id":"42"`)
	repo.AssertExpectations(t)
}

func TestAuditListRequiresTenant(t *testing.T) {
	repo := new(mockAuditRepository)
	h := NewAuditHandler(repo, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/audit-logs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	repo.AssertNotCalled(t, "ListByTenant", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdminMetricsClampsWindow(t *testing.T) {
	tests := []struct {
		query    string
		wantDays int
	}{
		{"", defaultMetricsDays},
		{"?days=7", 7},
		{"?days=9999", maxMetricsDays},
		{"?days=-3", defaultMetricsDays},
		{"?days=abc", defaultMetricsDays},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.query, func(t *testing.T) {
			repo := new(mockAuditRepository)
			repo.On("Stats", mock.Anything, tt.wantDays).Return(models.ErasureStat{}, nil)
			h := NewAuditHandler(repo, zerolog.Nop())

			rec := httptest.NewRecorder()
			h.AdminMetrics(rec, httptest.NewRequest(http.MethodGet, "/api/admin/metrics"+tt.query, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			repo.AssertExpectations(t)
		})
	}
}
