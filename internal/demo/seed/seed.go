// Package seed generates synthetic multi-tenant NOC incidents and loads them
// through the admin ingest endpoint.
package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"
)

type Service struct {
	cfg       Config
	log       *slog.Logger
	http      *http.Client
	generator *Generator
}

type loginResponse struct {
	Token string `json:"token"`
}

type ingestResponse struct {
	Records int      `json:"records"`
	Tenants []string `json:"tenants"`
}

func NewService(cfg Config, logger *slog.Logger, client *http.Client) (*Service, error) {
	if len(cfg.Tenants) == 0 {
		return nil, fmt.Errorf("at least one tenant is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &Service{
		cfg:       cfg,
		log:       logger,
		http:      client,
		generator: NewGenerator(cfg.Seed, cfg.Tenants),
	}, nil
}

// Run writes the configured output file, or logs in and uploads every batch.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.OutputPath != "" {
		return s.writeFile()
	}

	token, err := s.login(ctx)
	if err != nil {
		return err
	}
	defer s.logout(token)

	for batch := 1; batch <= s.cfg.Batches; batch++ {
		if err := s.uploadOnce(ctx, token, batch); err != nil {
			return err
		}
		if batch == s.cfg.Batches || s.cfg.Interval <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.Interval):
		}
	}
	return nil
}

func (s *Service) writeFile() error {
	file, err := os.Create(s.cfg.OutputPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.cfg.OutputPath, err)
	}
	rows := s.cfg.BatchSize * s.cfg.Batches
	if err := s.generator.WriteCSV(file, rows); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.cfg.OutputPath, err)
	}
	s.log.Info("wrote demo incidents", slog.String("path", s.cfg.OutputPath), slog.Int("rows", rows))
	return nil
}

func (s *Service) login(ctx context.Context) (string, error) {
	raw, err := json.Marshal(map[string]string{"username": s.cfg.Username, "password": s.cfg.Password})
	if err != nil {
		return "", fmt.Errorf("marshal login request: %w", err)
	}
	var response loginResponse
	status, body, err := s.do(ctx, http.MethodPost, "/v1/login", "", "application/json", bytes.NewReader(raw), &response)
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	if status != http.StatusOK || response.Token == "" {
		return "", fmt.Errorf("login status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return response.Token, nil
}

func (s *Service) logout(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := s.do(ctx, http.MethodPost, "/v1/logout", token, "", nil, nil); err != nil {
		s.log.Warn("demo seed logout failed", slog.Any("error", err))
	}
}

func (s *Service) uploadOnce(ctx context.Context, token string, batch int) error {
	buf := &bytes.Buffer{}
	form := multipart.NewWriter(buf)
	part, err := form.CreateFormFile("file", fmt.Sprintf("demo-batch-%03d.csv", batch))
	if err != nil {
		return err
	}
	if err := s.generator.WriteCSV(part, s.cfg.BatchSize); err != nil {
		return err
	}
	if err := form.Close(); err != nil {
		return err
	}

	var response ingestResponse
	status, body, err := s.do(ctx, http.MethodPost, "/v1/ingest", token, form.FormDataContentType(), buf, &response)
	if err != nil {
		return fmt.Errorf("ingest request failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("ingest request status %d: %s", status, strings.TrimSpace(string(body)))
	}

	s.log.Info(
		"uploaded demo incident batch",
		slog.Int("batch", batch),
		slog.Int("records", response.Records),
		slog.Any("tenants", response.Tenants),
	)
	return nil
}

func (s *Service) do(ctx context.Context, method, path, token, contentType string, payload io.Reader, responseBody any) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.APIBaseURL+path, payload)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("X-Session-Token", token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	if responseBody != nil && resp.StatusCode < 300 && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, responseBody); err != nil {
			return resp.StatusCode, body, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, body, nil
}
