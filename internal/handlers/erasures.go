package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/stanstork/aegis-api/internal/authz"
	"github.com/stanstork/aegis-api/internal/erasure"
	"github.com/stanstork/aegis-api/internal/scope"
	"github.com/stanstork/aegis-api/internal/strategy"
	"github.com/stanstork/aegis-api/internal/target"
)

type ErasureHandler struct {
	engine   *erasure.Engine
	resolver *scope.Resolver
	logger   zerolog.Logger
}

type columnRequest struct {
	Column   string `json:"col"`
	Strategy string `json:"strategy"`
}

type erasureRequest struct {
	Connection target.ConnectionSpec `json:"connection"`
	Table      string                `json:"target_table"`
	KeyColumn  string                `json:"target_id_col"`
	TargetIDs  []string              `json:"target_ids"`
	Selection  *scope.Selection      `json:"selection"`
	Columns    []columnRequest       `json:"columns_to_clean"`
}

func NewErasureHandler(engine *erasure.Engine, resolver *scope.Resolver, logger zerolog.Logger) *ErasureHandler {
	return &ErasureHandler{
		engine:   engine,
		resolver: resolver,
		logger:   logger.With().Str("component", "erasures").Logger(),
	}
}

// Submit accepts an erasure order and returns before any row is touched.
func (h *ErasureHandler) Submit(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing tenant", http.StatusUnauthorized)
		return
	}
	userID, _ := authz.UserIDFromRequest(r)
	profile := authz.ProfileFromRequest(r)

	var req erasureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Table = strings.TrimSpace(req.Table)
	if req.Table == "" {
		http.Error(w, "target_table is required", http.StatusBadRequest)
		return
	}

	sc, err := resolveScope(h.resolver, req.Table, strings.TrimSpace(req.KeyColumn), req.TargetIDs, req.Selection)
	if err != nil {
		writeScopeError(w, err)
		return
	}

	spec := req.Connection.Normalized()
	if err := spec.Validate(); err != nil {
		http.Error(w, "Target connection error: "+err.Error(), http.StatusBadRequest)
		return
	}

	columns := make([]erasure.ColumnSpec, 0, len(req.Columns))
	for _, c := range req.Columns {
		kind, err := strategy.Parse(c.Strategy)
		if err != nil {
			http.Error(w, fmt.Sprintf("column %s: %v", c.Column, err), http.StatusBadRequest)
			return
		}
		columns = append(columns, erasure.ColumnSpec{Column: strings.TrimSpace(c.Column), Strategy: kind})
	}

	job, err := h.engine.Submit(erasure.Request{
		TenantID:     tenantID,
		UserID:       userID,
		Operator:     profile.Email,
		Organization: profile.Organization,
		Connection:   spec,
		Scope:        sc,
		Columns:      columns,
	})
	if err != nil {
		var verr *erasure.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Message, http.StatusBadRequest)
			return
		}
		h.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("Erasure not accepted")
		http.Error(w, "Erasure could not be scheduled", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Location", "/api/erasures/"+job.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (h *ErasureHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing tenant", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Store().List(tenantID))
}

func (h *ErasureHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing tenant", http.StatusUnauthorized)
		return
	}
	job, err := h.engine.Store().Get(tenantID, mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, erasure.ErrNotFound) {
			http.Error(w, "Erasure job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Download streams the certificate of a completed job.
func (h *ErasureHandler) Download(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing tenant", http.StatusUnauthorized)
		return
	}
	jobID := mux.Vars(r)["id"]

	ref, err := h.engine.Store().Artifact(tenantID, jobID)
	switch {
	case err == nil:
	case errors.Is(err, erasure.ErrNotFound):
		http.Error(w, "Erasure job not found", http.StatusNotFound)
		return
	case errors.Is(err, erasure.ErrNotReady):
		http.Error(w, "Batch results not ready", http.StatusConflict)
		return
	default:
		http.Error(w, "Failed to load job", http.StatusInternalServerError)
		return
	}

	f, err := os.Open(ref.Path)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Artifact missing on disk")
		http.Error(w, "Results no longer available", http.StatusGone)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Failed to read results", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", ref.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, ref.FileName))
	w.Header().Set("X-Content-SHA256", ref.Digest)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, ref.FileName, info.ModTime(), f)
}
