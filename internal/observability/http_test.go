package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/nocassist/nocassist/internal/config"
)

func TestTraceMiddlewareKeepsValidInboundID(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen != "req-42" || rr.Header().Get(traceHeader) != "req-42" {
		t.Fatalf("trace id = %q header = %q", seen, rr.Header().Get(traceHeader))
	}
}

func TestTraceMiddlewareReplacesUnsafeInboundID(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	for _, inbound := range []string{"has space", strings.Repeat("a", maxTraceIDLen+1)} {
		req := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
		req.Header.Set(traceHeader, inbound)
		h.ServeHTTP(httptest.NewRecorder(), req)
		if seen == inbound {
			t.Fatalf("unsafe trace id %q was kept", inbound)
		}
		if _, err := uuid.Parse(seen); err != nil {
			t.Fatalf("generated trace id %q is not a uuid: %v", seen, err)
		}
	}
}

func TestTraceIDFromContextWithoutValue(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Fatalf("TraceIDFromContext() = %q", got)
	}
}

func TestLoggingMiddlewareUsesRoutePattern(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	h := LoggingMiddleware(logger)(mux)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/chat?token=secret", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["route"] != "POST /v1/chat" || line["status"] != float64(http.StatusAccepted) {
		t.Fatalf("log line = %#v", line)
	}
	if strings.Contains(buf.String(), "secret") {
		t.Fatalf("log line leaks query string: %s", buf.String())
	}
}

func TestLoggingMiddlewareDemotesProbes(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if buf.Len() != 0 {
		t.Fatalf("probe logged at info: %s", buf.String())
	}
}

func TestStatusRecorderKeepsFirstStatus(t *testing.T) {
	recorder := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	_, _ = recorder.Write([]byte("ok"))
	recorder.WriteHeader(http.StatusInternalServerError)
	if recorder.status != http.StatusOK || recorder.bytes != 2 {
		t.Fatalf("status = %d bytes = %d", recorder.status, recorder.bytes)
	}
}

func TestNewLoggerAddsServiceAttributes(t *testing.T) {
	cfg, err := config.Load("nocassist-api", func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	cfg.Observability.LogJSON = true
	buf := &bytes.Buffer{}
	NewLogger(cfg, buf).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["service"] != "nocassist-api" || line["store_backend"] != string(cfg.Store.Backend) {
		t.Fatalf("log line = %#v", line)
	}
}
