// Package nocctl is the operator command line for the nocassist API.
package nocctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nocassist/nocassist/internal/auth"
)

type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// requestError marks failures that happened after arguments were accepted.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

type runner struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *http.Client
	stdout  io.Writer
	stderr  io.Writer
}

// Run executes one command and returns the process exit code: 0 on success,
// 1 when the request fails, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	r := &runner{
		client: defaults.HTTPClient,
		stdout: defaults.Stdout,
		stderr: defaults.Stderr,
	}
	if r.stdout == nil {
		r.stdout = io.Discard
	}
	if r.stderr == nil {
		r.stderr = io.Discard
	}

	root := newRootCmd(r, defaults)
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintln(r.stderr, "error:", err)
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return 1
	}
	return 2
}

func newRootCmd(r *runner, defaults Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "nocctl",
		Short:         "Operate the nocassist incident assistant from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRun: func(*cobra.Command, []string) {
			if r.client == nil {
				r.client = &http.Client{Timeout: durationOr(r.timeout, 10*time.Second)}
			}
		},
	}
	root.PersistentFlags().StringVar(&r.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "nocassist API base URL")
	root.PersistentFlags().StringVar(&r.token, "token", defaults.Token, "session token returned by login")
	root.PersistentFlags().DurationVar(&r.timeout, "timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 30s)")

	root.AddCommand(
		r.simpleCmd("health", "Check API liveness", http.MethodGet, "/v1/health"),
		r.simpleCmd("ready", "Check API readiness", http.MethodGet, "/v1/ready"),
		r.loginCmd(),
		r.simpleCmd("logout", "End the current session", http.MethodPost, "/v1/logout"),
		r.simpleCmd("session", "Show session status and history", http.MethodGet, "/v1/session"),
		r.chatCmd("ask", "Ask a question that queries incident data", "query"),
		r.chatCmd("followup", "Ask about the last result without querying", "followup"),
		r.simpleCmd("clear", "Clear conversation memory and history", http.MethodPost, "/v1/chat/clear"),
		r.simpleCmd("report", "Generate an analysis report of the last result", http.MethodPost, "/v1/chat/report"),
		r.ingestCmd(),
		r.simpleCmd("stats", "Show per-tenant incident counts (admin)", http.MethodGet, "/v1/stats"),
		r.auditCmd(),
		r.hashPasswordCmd(),
	)
	return root
}

func (r *runner) simpleCmd(use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.call(cmd.Context(), method, path, "", nil)
		},
	}
}

func (r *runner) loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open a session and print its token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("NOCCTL_PASSWORD")
			}
			if strings.TrimSpace(username) == "" || password == "" {
				return fmt.Errorf("--username and --password (or NOCCTL_PASSWORD) are required")
			}
			return r.callJSON(cmd.Context(), http.MethodPost, "/v1/login", map[string]string{
				"username": username,
				"password": password,
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "account username")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func (r *runner) chatCmd(use, short, mode string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <question>",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.callJSON(cmd.Context(), http.MethodPost, "/v1/chat", map[string]string{
				"message": strings.Join(args, " "),
				"mode":    mode,
			})
		},
	}
}

func (r *runner) ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.csv|file.xlsx>",
		Short: "Upload an incident file (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, contentType, err := multipartFile(args[0])
			if err != nil {
				return err
			}
			return r.call(cmd.Context(), http.MethodPost, "/v1/ingest", contentType, body)
		},
	}
}

func (r *runner) auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent admin query audit entries (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return r.call(cmd.Context(), http.MethodGet, fmt.Sprintf("/v1/audit?limit=%d", limit), "", nil)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries")
	return cmd
}

func (r *runner) hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for NOCASSIST_AUTH_USERS",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return &requestError{err: err}
			}
			_, _ = fmt.Fprintln(r.stdout, hash)
			return nil
		},
	}
}

func (r *runner) callJSON(ctx context.Context, method, path string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.call(ctx, method, path, "application/json", bytes.NewReader(raw))
}

func (r *runner) call(ctx context.Context, method, path, contentType string, body io.Reader) error {
	endpoint := strings.TrimRight(r.baseURL, "/") + path
	code, responseBody, err := r.doRequest(ctx, method, endpoint, contentType, body)
	if err != nil {
		return &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	if code >= 400 {
		return &requestError{err: fmt.Errorf("http %d: %s", code, strings.TrimSpace(string(responseBody)))}
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(r.stdout, pretty)
		return nil
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(r.stdout, string(responseBody))
	}
	return nil
}

func (r *runner) doRequest(ctx context.Context, method, url, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := strings.TrimSpace(r.token); token != "" {
		req.Header.Set("X-Session-Token", token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func multipartFile(path string) (io.Reader, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	buf := &bytes.Buffer{}
	form := multipart.NewWriter(buf)
	part, err := form.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	if err := form.Close(); err != nil {
		return nil, "", err
	}
	return buf, form.FormDataContentType(), nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
