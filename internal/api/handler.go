package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nocassist/nocassist/internal/audit"
	"github.com/nocassist/nocassist/internal/auth"
	"github.com/nocassist/nocassist/internal/config"
	"github.com/nocassist/nocassist/internal/incident"
	"github.com/nocassist/nocassist/internal/observability"
	"github.com/nocassist/nocassist/internal/session"
)

type ReadinessCheck func(ctx context.Context) error

type Ingester interface {
	Ingest(ctx context.Context, filename string, body io.Reader) (incident.AppendResult, error)
}

type StatsSource interface {
	Stats(ctx context.Context) (incident.Stats, error)
}

type AuditSource interface {
	Recent(limit int) []audit.Entry
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Credentials       auth.CredentialValidator
	Sessions          *session.Manager
	Ingester          Ingester
	Stats             StatsSource
	Audit             AuditSource
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/login", func(w http.ResponseWriter, r *http.Request) {
		handleLogin(deps, w, r)
	})

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/logout", func(w http.ResponseWriter, r *http.Request) {
		handleLogout(deps, w, r)
	})
	protected.HandleFunc("GET /v1/session", func(w http.ResponseWriter, r *http.Request) {
		handleSessionStatus(deps, w, r)
	})
	protected.HandleFunc("POST /v1/chat", func(w http.ResponseWriter, r *http.Request) {
		handleChat(deps, w, r)
	})
	protected.HandleFunc("POST /v1/chat/clear", func(w http.ResponseWriter, r *http.Request) {
		handleClear(deps, w, r)
	})
	protected.HandleFunc("POST /v1/chat/report", func(w http.ResponseWriter, r *http.Request) {
		handleReport(deps, w, r)
	})
	protected.HandleFunc("POST /v1/ingest", func(w http.ResponseWriter, r *http.Request) {
		handleIngest(cfg, deps, w, r)
	})
	protected.HandleFunc("GET /v1/stats", func(w http.ResponseWriter, r *http.Request) {
		handleStats(deps, w, r)
	})
	protected.HandleFunc("GET /v1/audit", func(w http.ResponseWriter, r *http.Request) {
		handleAudit(deps, w, r)
	})

	var protectedHandler http.Handler
	if deps.Sessions == nil {
		if deps.Logger != nil {
			deps.Logger.Error("session manager missing; protected routes disabled")
		}
		protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(r.Context(), w, http.StatusInternalServerError, "SESSIONS_NOT_CONFIGURED", "session manager is not configured", false, nil)
		})
	} else {
		protectedHandler = auth.Middleware(deps.Logger, deps.Sessions)(protected)
	}
	for _, route := range []string{
		"POST /v1/logout",
		"GET /v1/session",
		"POST /v1/chat",
		"POST /v1/chat/clear",
		"POST /v1/chat/report",
		"POST /v1/ingest",
		"GET /v1/stats",
		"GET /v1/audit",
	} {
		mux.Handle(route, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckStore reports the incident store as ready when it answers a ping.
func CheckStore(store interface{ Ping(context.Context) error }) ReadinessCheck {
	return func(ctx context.Context) error {
		if store == nil {
			return errors.New("incident store is not configured")
		}
		return store.Ping(ctx)
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Store.Backend != config.StoreLake {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}
