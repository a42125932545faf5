package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nocassist/nocassist/internal/config"
	"github.com/nocassist/nocassist/internal/ingest"
	"github.com/nocassist/nocassist/internal/observability"
)

func handleIngest(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	if deps.Ingester == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INGEST_NOT_CONFIGURED", "ingest dependencies are not configured", false, nil)
		return
	}

	maxBytes := cfg.HTTP.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", "expected a multipart upload with a file field", false, map[string]any{"details": err.Error()})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "file field is required", false, nil)
		return
	}
	defer func() { _ = file.Close() }()

	result, err := deps.Ingester.Ingest(r.Context(), header.Filename, file)
	if err != nil {
		if code, ok := ingestErrorCode(err); ok {
			writeError(r.Context(), w, http.StatusBadRequest, code, err.Error(), false, map[string]any{"file": header.Filename})
			return
		}
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "ingest failed",
				"trace_id", observability.TraceIDFromContext(r.Context()),
				"file", header.Filename,
				"error", err.Error(),
			)
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "INGEST_FAILED", "failed to store incidents", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func ingestErrorCode(err error) (string, bool) {
	switch {
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		return "UNSUPPORTED_FORMAT", true
	case errors.Is(err, ingest.ErrEmptyFile):
		return "EMPTY_FILE", true
	case errors.Is(err, ingest.ErrMissingTenantColumn):
		return "MISSING_TENANT_COLUMN", true
	case errors.Is(err, ingest.ErrMissingTenantValue):
		return "MISSING_TENANT_VALUE", true
	case errors.Is(err, ingest.ErrUnknownColumn):
		return "UNKNOWN_COLUMN", true
	default:
		return "", false
	}
}

func handleStats(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	if deps.Stats == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "STATS_NOT_CONFIGURED", "stats source is not configured", false, nil)
		return
	}
	stats, err := deps.Stats.Stats(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STATS_FAILED", "failed to compute statistics", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func handleAudit(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	if deps.Audit == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_NOT_CONFIGURED", "audit log is not configured", false, nil)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": deps.Audit.Recent(limit)})
}
