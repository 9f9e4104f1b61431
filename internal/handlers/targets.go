package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stanstork/aegis-api/internal/authz"
	"github.com/stanstork/aegis-api/internal/classifier"
	"github.com/stanstork/aegis-api/internal/records"
	"github.com/stanstork/aegis-api/internal/scope"
	"github.com/stanstork/aegis-api/internal/target"
)

// TargetHandler serves the synchronous operations against a caller's
// database: schema scan and record preview. Every call opens its own handle
// and closes it before returning.
type TargetHandler struct {
	opener     target.Opener
	classifier *classifier.Classifier
	resolver   *scope.Resolver
	fetcher    *records.Fetcher
	logger     zerolog.Logger
}

// scanRequest accepts the connection either nested or as the top-level object.
type scanRequest struct {
	Connection *target.ConnectionSpec `json:"connection"`
	target.ConnectionSpec
}

func (r scanRequest) spec() target.ConnectionSpec {
	if r.Connection != nil {
		return *r.Connection
	}
	return r.ConnectionSpec
}

type fetchRequest struct {
	Connection target.ConnectionSpec `json:"connection"`
	Table      string                `json:"table_name"`
	KeyColumn  string                `json:"primary_key_col"`
	TargetIDs  []string              `json:"target_ids"`
	Selection  *scope.Selection      `json:"selection"`
}

func NewTargetHandler(opener target.Opener, cls *classifier.Classifier, resolver *scope.Resolver, fetcher *records.Fetcher, logger zerolog.Logger) *TargetHandler {
	return &TargetHandler{
		opener:     opener,
		classifier: cls,
		resolver:   resolver,
		fetcher:    fetcher,
		logger:     logger.With().Str("component", "targets").Logger(),
	}
}

func (h *TargetHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	handle, ok := h.open(w, r, req.spec())
	if !ok {
		return
	}
	defer handle.Close()

	result, err := h.classifier.Classify(r.Context(), handle)
	if err != nil {
		h.logger.Error().Err(err).Msg("Scan failed")
		http.Error(w, "Schema introspection failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "Analysis Complete",
		"policy_version": result.PolicyVersion,
		"schema":         result.Tables,
		"diagnostics":    result.Diagnostics,
	})
}

// Records previews the rows an erasure would touch. Zero matches is an
// empty array, not an error.
func (h *TargetHandler) Records(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Table = strings.TrimSpace(req.Table)
	if req.Table == "" {
		http.Error(w, "table_name is required", http.StatusBadRequest)
		return
	}

	// The scope is checked before any connection is made.
	sc, err := resolveScope(h.resolver, req.Table, strings.TrimSpace(req.KeyColumn), req.TargetIDs, req.Selection)
	if err != nil {
		writeScopeError(w, err)
		return
	}

	handle, ok := h.open(w, r, req.Connection)
	if !ok {
		return
	}
	defer handle.Close()

	cols, err := handle.Columns(r.Context(), sc.Table)
	if errors.Is(err, target.ErrTableNotFound) {
		http.Error(w, "Table not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("table", sc.Table).Msg("Column lookup failed")
		http.Error(w, "Target retrieval failed", http.StatusBadGateway)
		return
	}

	key, degraded, ok := pickKey(w, sc.PrimaryKey, cols)
	if !ok {
		return
	}
	if degraded {
		h.logger.Warn().Str("table", sc.Table).Str("key", key).Msg("No usable primary key; previewing by the first column")
	}
	sc.PrimaryKey = key

	rows, err := h.fetcher.Fetch(r.Context(), handle, sc)
	if err != nil {
		var fetchErr *records.FetchError
		if errors.As(err, &fetchErr) {
			http.Error(w, "Target retrieval failed: "+fetchErr.Cause.Error(), http.StatusBadGateway)
			return
		}
		http.Error(w, "Target retrieval failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *TargetHandler) open(w http.ResponseWriter, r *http.Request, spec target.ConnectionSpec) (*target.Handle, bool) {
	tenantID, _ := authz.TenantIDFromRequest(r)
	handle, err := h.opener.Open(r.Context(), spec)
	if err != nil {
		h.logger.Warn().Err(err).Str("tenant_id", tenantID).Object("target", spec.Normalized()).Msg("Target connection failed")
		var connErr *target.ConnectionError
		if errors.As(err, &connErr) {
			http.Error(w, "Target connection error: "+connErr.Error(), http.StatusBadRequest)
			return nil, false
		}
		http.Error(w, "Target connection error", http.StatusBadRequest)
		return nil, false
	}
	return handle, true
}

// pickKey validates the requested key column, falling back to the table's
// own primary key or its first column when none was given.
func pickKey(w http.ResponseWriter, requested string, cols target.TableColumns) (string, bool, bool) {
	if requested != "" && requested != scope.UnknownKey {
		for _, c := range cols.Columns {
			if c.Name == requested {
				return requested, false, true
			}
		}
		http.Error(w, "Column "+requested+" not found in table", http.StatusBadRequest)
		return "", false, false
	}
	if cols.PrimaryKey != "" && cols.PrimaryKey != target.UnknownKey {
		requested = cols.PrimaryKey
	}
	key, degraded, err := scope.ResolveKey(requested, cols.Names())
	if err != nil {
		writeScopeError(w, err)
		return "", false, false
	}
	return key, degraded, true
}

func resolveScope(resolver *scope.Resolver, table, key string, ids []string, sel *scope.Selection) (scope.Scope, error) {
	selection := scope.FromIDs(ids)
	if sel != nil {
		selection = *sel
	}
	return resolver.Resolve(table, key, selection)
}

func writeScopeError(w http.ResponseWriter, err error) {
	var scopeErr *scope.Error
	if errors.As(err, &scopeErr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  string(scopeErr.Kind),
			"detail": scopeErr.Error(),
		})
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}
