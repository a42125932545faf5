package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nocassist/nocassist/internal/auth"
	"github.com/nocassist/nocassist/internal/observability"
	"github.com/nocassist/nocassist/internal/session"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string    `json:"token"`
	Username string    `json:"username"`
	TenantID string    `json:"tenant_id"`
	Role     auth.Role `json:"role"`
}

type sessionResponse struct {
	Session session.Status    `json:"session"`
	History []session.Message `json:"history"`
}

func handleLogin(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Credentials == nil || deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "LOGIN_NOT_CONFIGURED", "login dependencies are not configured", false, nil)
		return
	}

	var request loginRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid login request body", false, map[string]any{"details": err.Error()})
		return
	}
	request.Username = strings.TrimSpace(request.Username)
	if request.Username == "" || request.Password == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "CREDENTIALS_REQUIRED", "username and password are required", false, nil)
		return
	}

	identity, ok := deps.Credentials.Authenticate(r.Context(), request.Username, request.Password)
	if !ok {
		if deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "login rejected",
				"trace_id", observability.TraceIDFromContext(r.Context()),
				"username", request.Username,
			)
		}
		writeError(r.Context(), w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password", false, nil)
		return
	}

	created := deps.Sessions.Create(identity)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:    created.ID,
		Username: identity.Username,
		TenantID: identity.TenantID,
		Role:     identity.Role,
	})
}

func handleLogout(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	token, _ := auth.TokenFromContext(r.Context())
	deps.Sessions.Destroy(token)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func handleSessionStatus(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	current, ok := currentSession(deps, w, r)
	if !ok {
		return
	}
	history := current.History()
	if history == nil {
		history = []session.Message{}
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: current.Status(), History: history})
}

// currentSession resolves the session bound to the request token and writes
// the error response when there is none.
func currentSession(deps Dependencies, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(r.Context(), w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session token", false, nil)
		return nil, false
	}
	current, err := deps.Sessions.Get(token)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(r.Context(), w, http.StatusUnauthorized, "SESSION_EXPIRED", "session expired or logged out", false, nil)
			return nil, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_ERROR", "failed to resolve session", true, nil)
		return nil, false
	}
	return current, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || !identity.IsAdmin() {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", "admin role is required", false, nil)
		return false
	}
	return true
}
