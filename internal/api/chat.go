package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nocassist/nocassist/internal/guard"
	"github.com/nocassist/nocassist/internal/nl2sql"
	"github.com/nocassist/nocassist/internal/query"
	"github.com/nocassist/nocassist/internal/session"
)

type chatRequest struct {
	Message string       `json:"message"`
	Mode    session.Mode `json:"mode"`
}

type chatResponse struct {
	session.Turn
	ErrorCode string `json:"error_code,omitempty"`
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	current, ok := currentSession(deps, w, r)
	if !ok {
		return
	}

	var request chatRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Message) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MESSAGE_REQUIRED", "message is required", false, nil)
		return
	}

	var (
		turn session.Turn
		err  error
	)
	switch request.Mode {
	case session.ModeQuery, "":
		turn, err = current.Ask(r.Context(), request.Message)
	case session.ModeFollowUp:
		turn, err = current.FollowUp(r.Context(), request.Message)
	default:
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MODE", "mode must be query or followup", false, map[string]any{"mode": request.Mode})
		return
	}
	writeTurn(w, r, turn, err)
}

func handleClear(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	current, ok := currentSession(deps, w, r)
	if !ok {
		return
	}
	current.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

func handleReport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	current, ok := currentSession(deps, w, r)
	if !ok {
		return
	}
	turn, err := current.Report(r.Context())
	if errors.Is(err, session.ErrNoReportData) {
		writeError(r.Context(), w, http.StatusConflict, "NO_REPORT_DATA", turn.Answer, false, nil)
		return
	}
	writeTurn(w, r, turn, err)
}

// writeTurn reports turn-scoped pipeline failures inside a normal response:
// the notice is the assistant's reply and the session stays usable.
func writeTurn(w http.ResponseWriter, r *http.Request, turn session.Turn, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, chatResponse{Turn: turn})
		return
	}
	code := turnErrorCode(err)
	if code == "" {
		writeError(r.Context(), w, http.StatusInternalServerError, "CHAT_FAILED", "failed to process message", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Turn: turn, ErrorCode: code})
}

func turnErrorCode(err error) string {
	var (
		translationErr *nl2sql.TranslationError
		validationErr  *guard.ValidationError
		executionErr   *query.ExecutionError
	)
	switch {
	case errors.As(err, &translationErr):
		return "TRANSLATION_FAILED"
	case errors.As(err, &validationErr):
		return "QUERY_REJECTED"
	case errors.Is(err, guard.ErrIsolationViolation):
		return "ISOLATION_VIOLATION"
	case errors.As(err, &executionErr):
		return "EXECUTION_FAILED"
	default:
		return ""
	}
}
