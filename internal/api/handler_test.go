package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nocassist/nocassist/internal/answer"
	"github.com/nocassist/nocassist/internal/audit"
	"github.com/nocassist/nocassist/internal/auth"
	"github.com/nocassist/nocassist/internal/config"
	"github.com/nocassist/nocassist/internal/guard"
	"github.com/nocassist/nocassist/internal/incident"
	"github.com/nocassist/nocassist/internal/incident/sqlite"
	"github.com/nocassist/nocassist/internal/ingest"
	"github.com/nocassist/nocassist/internal/llm"
	"github.com/nocassist/nocassist/internal/nl2sql"
	"github.com/nocassist/nocassist/internal/query"
	"github.com/nocassist/nocassist/internal/schema"
	"github.com/nocassist/nocassist/internal/session"
)

func TestHealthEndpoint(t *testing.T) {
	cfg, err := config.Load("nocassist-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg, err := config.Load("nocassist-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %#v", body)
	}
}

func TestCombineReadinessChecksStopsAtFirstFailure(t *testing.T) {
	calls := 0
	check := CombineReadinessChecks(
		nil,
		func(context.Context) error { calls++; return nil },
		func(context.Context) error { calls++; return errors.New("down") },
		func(context.Context) error { calls++; return nil },
	)
	if err := check(context.Background()); err == nil {
		t.Fatal("expected combined check to fail")
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestCheckObjectStoreConfigOnlyAppliesToLake(t *testing.T) {
	cfg, err := config.Load("nocassist-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	cfg.Store.Backend = config.StoreSQLite
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("sqlite check error = %v", err)
	}
	cfg.Store.Backend = config.StoreLake
	cfg.ObjectStore.Bucket = ""
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected lake check without bucket to fail")
	}
}

func TestProtectedRouteRequiresSession(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.do(t, http.MethodGet, "/v1/session", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	rr = srv.do(t, http.MethodGet, "/v1/session", "not-a-session", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unknown token status = %d", rr.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.do(t, http.MethodPost, "/v1/login", "", map[string]any{"username": "gp_user", "password": "wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	rr = srv.do(t, http.MethodPost, "/v1/login", "", map[string]any{"username": "", "password": ""})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty credentials status = %d", rr.Code)
	}
	if srv.sessions.Len() != 0 {
		t.Fatalf("sessions = %d, want 0", srv.sessions.Len())
	}
}

func TestLoginChatAndLogout(t *testing.T) {
	srv := newTestServer(t)
	srv.translator.answers["show link down incidents"] = "SELECT * FROM incidents WHERE problem_category = 'Link Down'"
	token := srv.login(t, "gp_user")

	status := srv.do(t, http.MethodGet, "/v1/session", token, nil)
	if status.Code != http.StatusOK {
		t.Fatalf("session status = %d", status.Code)
	}
	var current sessionResponse
	decodeBody(t, status, &current)
	if current.Session.TenantID != "GP" || current.Session.Role != auth.RoleUser {
		t.Fatalf("session = %#v", current.Session)
	}

	rr := srv.do(t, http.MethodPost, "/v1/chat", token, map[string]any{"message": "show link down incidents"})
	if rr.Code != http.StatusOK {
		t.Fatalf("chat status = %d body = %s", rr.Code, rr.Body.String())
	}
	var turn chatResponse
	decodeBody(t, rr, &turn)
	if turn.Outcome != session.OutcomeAggregate || turn.RowCount != 2 || turn.ErrorCode != "" {
		t.Fatalf("turn = %#v", turn)
	}
	if turn.Table == nil || len(turn.Table.Rows) != 2 {
		t.Fatalf("table = %#v", turn.Table)
	}

	logout := srv.do(t, http.MethodPost, "/v1/logout", token, nil)
	if logout.Code != http.StatusOK {
		t.Fatalf("logout status = %d", logout.Code)
	}
	after := srv.do(t, http.MethodGet, "/v1/session", token, nil)
	if after.Code != http.StatusUnauthorized {
		t.Fatalf("status after logout = %d", after.Code)
	}
}

func TestChatReportsRejectionInsideTurn(t *testing.T) {
	srv := newTestServer(t)
	srv.translator.answers["drop everything"] = "DROP TABLE incidents"
	token := srv.login(t, "gp_user")

	rr := srv.do(t, http.MethodPost, "/v1/chat", token, map[string]any{"message": "drop everything"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var turn chatResponse
	decodeBody(t, rr, &turn)
	if turn.ErrorCode != "QUERY_REJECTED" || turn.Outcome != session.OutcomeRejected {
		t.Fatalf("turn = %#v", turn)
	}

	again := srv.do(t, http.MethodPost, "/v1/chat", token, map[string]any{"message": "unknown question"})
	var failed chatResponse
	decodeBody(t, again, &failed)
	if failed.ErrorCode != "TRANSLATION_FAILED" {
		t.Fatalf("turn = %#v", failed)
	}
}

func TestChatValidatesRequest(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "gp_user")

	rr := srv.do(t, http.MethodPost, "/v1/chat", token, map[string]any{"message": "  "})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("blank message status = %d", rr.Code)
	}
	rr = srv.do(t, http.MethodPost, "/v1/chat", token, map[string]any{"message": "hi", "mode": "report"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad mode status = %d", rr.Code)
	}
}

func TestFollowUpAndReportFlow(t *testing.T) {
	srv := newTestServer(t)
	srv.translator.answers["show link down incidents"] = "SELECT * FROM incidents WHERE problem_category = 'Link Down'"
	token := srv.login(t, "gp_user")

	noData := srv.do(t, http.MethodPost, "/v1/chat/report", token, nil)
	if noData.Code != http.StatusConflict {
		t.Fatalf("report without data status = %d", noData.Code)
	}

	srv.do(t, http.MethodPost, "/v1/chat", token, map[string]any{"message": "show link down incidents"})
	followUp := srv.do(t, http.MethodPost, "/v1/chat", token, map[string]any{"message": "what caused them?", "mode": "followup"})
	var turn chatResponse
	decodeBody(t, followUp, &turn)
	if turn.Outcome != session.OutcomeAnswered || turn.Answer != "answer from memory" {
		t.Fatalf("follow-up turn = %#v", turn)
	}

	report := srv.do(t, http.MethodPost, "/v1/chat/report", token, nil)
	if report.Code != http.StatusOK {
		t.Fatalf("report status = %d body = %s", report.Code, report.Body.String())
	}
	decodeBody(t, report, &turn)
	if turn.Mode != session.ModeReport || !strings.HasPrefix(turn.Answer, "## Summary") {
		t.Fatalf("report turn = %#v", turn)
	}

	cleared := srv.do(t, http.MethodPost, "/v1/chat/clear", token, nil)
	if cleared.Code != http.StatusOK {
		t.Fatalf("clear status = %d", cleared.Code)
	}
	var current sessionResponse
	decodeBody(t, srv.do(t, http.MethodGet, "/v1/session", token, nil), &current)
	if current.Session.Reportable || len(current.History) != 0 {
		t.Fatalf("session after clear = %#v", current)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "gp_user")

	for _, path := range []string{"/v1/stats", "/v1/audit"} {
		rr := srv.do(t, http.MethodGet, path, token, nil)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s status = %d", path, rr.Code)
		}
	}
	rr := srv.upload(t, token, "incidents.csv", "client_name,incident_id\nGP,GP-9\n")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("ingest status = %d", rr.Code)
	}
}

func TestAdminIngestStatsAndAudit(t *testing.T) {
	srv := newTestServer(t)
	srv.translator.answers["count all incidents"] = "SELECT client_name, COUNT(*) AS total FROM incidents GROUP BY client_name"
	token := srv.login(t, "admin")

	upload := srv.upload(t, token, "incidents.csv", "Client Name,Incident ID\nRobi,RB-2\nRobi,RB-3\n")
	if upload.Code != http.StatusOK {
		t.Fatalf("ingest status = %d body = %s", upload.Code, upload.Body.String())
	}
	var appended incident.AppendResult
	decodeBody(t, upload, &appended)
	if appended.Records != 2 || len(appended.Tenants) != 1 || appended.Tenants[0] != "Robi" {
		t.Fatalf("append = %#v", appended)
	}

	rejected := srv.upload(t, token, "incidents.csv", "incident_id\nX-1\n")
	if rejected.Code != http.StatusBadRequest {
		t.Fatalf("missing tenant column status = %d", rejected.Code)
	}
	var body map[string]any
	decodeBody(t, rejected, &body)
	if body["error_code"] != "MISSING_TENANT_COLUMN" {
		t.Fatalf("body = %#v", body)
	}

	statsResp := srv.do(t, http.MethodGet, "/v1/stats", token, nil)
	if statsResp.Code != http.StatusOK {
		t.Fatalf("stats status = %d", statsResp.Code)
	}
	var stats incident.Stats
	decodeBody(t, statsResp, &stats)
	if stats.Total != 5 {
		t.Fatalf("stats = %#v", stats)
	}

	srv.do(t, http.MethodPost, "/v1/chat", token, map[string]any{"message": "count all incidents"})
	auditResp := srv.do(t, http.MethodGet, "/v1/audit?limit=5", token, nil)
	if auditResp.Code != http.StatusOK {
		t.Fatalf("audit status = %d", auditResp.Code)
	}
	var entries struct {
		Entries []audit.Entry `json:"entries"`
	}
	decodeBody(t, auditResp, &entries)
	if len(entries.Entries) != 1 || entries.Entries[0].Status != audit.StatusAllowed {
		t.Fatalf("audit = %#v", entries.Entries)
	}

	bad := srv.do(t, http.MethodGet, "/v1/audit?limit=zero", token, nil)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", bad.Code)
	}
}

func TestTurnErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&nl2sql.TranslationError{Kind: llm.KindUnreachable}, "TRANSLATION_FAILED"},
		{&guard.ValidationError{Reason: "forbidden_statement"}, "QUERY_REJECTED"},
		{guard.ErrIsolationViolation, "ISOLATION_VIOLATION"},
		{&query.ExecutionError{Err: errors.New("boom")}, "EXECUTION_FAILED"},
		{errors.New("other"), ""},
	}
	for _, tc := range cases {
		if got := turnErrorCode(tc.err); got != tc.want {
			t.Fatalf("turnErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

type testServer struct {
	handler    http.Handler
	sessions   *session.Manager
	translator *scriptedTranslator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	registry := schema.Incidents()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "noc.db"), registry)
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.Append(context.Background(), incident.Batch{
		Columns: []string{"incident_id", "client_name", "problem_category", "reason"},
		Rows: [][]string{
			{"GP-1", "GP", "Link Down", "fiber cut"},
			{"GP-2", "GP", "Link Down", "power outage"},
			{"BL-1", "Banglalink", "Link Down", "smoke in shelter"},
		},
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	enforcer, err := guard.NewEnforcer(registry, store.Dialect())
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	executor, err := query.NewExecutor(store.Engine(), registry, nil, query.ExecutorConfig{RowLimit: 1000})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	translator := &scriptedTranslator{answers: map[string]string{}}
	auditLog := audit.NewLog(logger, 20)
	pipeline, err := session.NewPipeline(session.Dependencies{
		Registry:   registry,
		Translator: translator,
		Enforcer:   enforcer,
		Executor:   executor,
		Generator:  staticGenerator{},
		Audit:      auditLog,
		Logger:     logger,
	}, session.PipelineConfig{})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	sessions := session.NewManager(pipeline, time.Hour, logger)

	cfg, err := config.Load("nocassist-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	handler := NewHandler(cfg, Dependencies{
		Logger:      logger,
		Credentials: staticCredentials{},
		Sessions:    sessions,
		Ingester:    ingest.NewService(registry, store, logger),
		Stats:       store,
		Audit:       auditLog,
	})
	return &testServer{handler: handler, sessions: sessions, translator: translator}
}

func (s *testServer) do(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("X-Session-Token", token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) upload(t *testing.T, token, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	buf := &bytes.Buffer{}
	form := multipart.NewWriter(buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/v1/login", "", map[string]any{"username": username, "password": "secret"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d body = %s", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	decodeBody(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("login returned empty token")
	}
	return resp.Token
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
}

type staticCredentials struct{}

func (staticCredentials) Authenticate(_ context.Context, username, password string) (auth.Identity, bool) {
	if password != "secret" {
		return auth.Identity{}, false
	}
	switch username {
	case "gp_user":
		return auth.Identity{Username: username, TenantID: "GP", Role: auth.RoleUser}, true
	case "admin":
		return auth.Identity{Username: username, TenantID: auth.AllTenants, Role: auth.RoleAdmin}, true
	default:
		return auth.Identity{}, false
	}
}

type scriptedTranslator struct {
	answers map[string]string
}

func (s *scriptedTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	sql, ok := s.answers[req.NaturalLanguage]
	if !ok {
		return nl2sql.Result{}, &nl2sql.TranslationError{Kind: llm.KindEmpty}
	}
	return nl2sql.Result{SQL: sql}, nil
}

type staticGenerator struct{}

func (staticGenerator) Answer(context.Context, answer.Request) (string, error) {
	return "answer from memory", nil
}

func (staticGenerator) Report(context.Context, answer.ReportRequest) (string, error) {
	return "## Summary\nLink down incidents dominate.", nil
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}
