package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/stanstork/aegis-api/internal/authz"
	"github.com/stanstork/aegis-api/internal/repository"
)

const (
	defaultAuditLimit  = 100
	defaultMetricsDays = 30
	maxMetricsDays     = 365
)

type AuditHandler struct {
	audit  repository.AuditRepository
	logger zerolog.Logger
}

func NewAuditHandler(audit repository.AuditRepository, logger zerolog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger.With().Str("component", "audit").Logger()}
}

// List returns the caller's tenant audit trail, newest first.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing tenant", http.StatusUnauthorized)
		return
	}
	logs, err := h.audit.ListByTenant(r.Context(), tid, intQuery(r, "limit", defaultAuditLimit))
	if err != nil {
		h.logger.Error().Err(err).Str("tenant_id", tid).Msg("Failed to list audit logs")
		http.Error(w, "Failed to list audit logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// AdminList returns audit entries across all tenants.
func (h *AuditHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	logs, err := h.audit.ListRecent(r.Context(), intQuery(r, "limit", 500))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list system audit logs")
		http.Error(w, "Failed to list audit logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *AuditHandler) AdminMetrics(w http.ResponseWriter, r *http.Request) {
	days := intQuery(r, "days", defaultMetricsDays)
	if days > maxMetricsDays {
		days = maxMetricsDays
	}
	stats, err := h.audit.Stats(r.Context(), days)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute metrics")
		http.Error(w, "Failed to compute metrics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
