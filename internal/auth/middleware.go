package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nocassist/nocassist/internal/observability"
)

// SessionHeader carries the session token issued at login.
const SessionHeader = "X-Session-Token"

// TokenResolver maps a session token to the identity it was issued for.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (Identity, bool)
}

type principalKey struct{}

type principal struct {
	identity Identity
	token    string
}

// WithSession attaches an authenticated identity and the token that proved it.
func WithSession(ctx context.Context, identity Identity, token string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal{identity: identity, token: token})
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	p, ok := ctx.Value(principalKey{}).(principal)
	return p.identity, ok
}

func TokenFromContext(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalKey{}).(principal)
	return p.token, ok && p.token != ""
}

// Middleware admits requests whose session token resolves to a live session.
func Middleware(logger *slog.Logger, resolver TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessionToken(r)
			if token == "" {
				deny(w, r, "missing session token")
				return
			}

			identity, ok := resolver.Resolve(r.Context(), token)
			if !ok {
				if logger != nil {
					logger.LogAttrs(r.Context(), slog.LevelWarn, "session token rejected",
						slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
						slog.String("path", r.URL.Path),
					)
				}
				deny(w, r, "invalid or expired session")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), identity, token)))
		})
	}
}

// sessionToken prefers the session header and falls back to a bearer
// Authorization header.
func sessionToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(SessionHeader)); token != "" {
		return token
	}
	scheme, credential, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(credential)
}

func deny(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"message":    message,
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
