package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const ollamaProviderName = "ollama"

// OllamaClient calls the non-streaming /api/generate endpoint.
type OllamaClient struct {
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
}

func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &OllamaClient{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeoutOr(cfg.Timeout, 60*time.Second)},
	}, nil
}

func (c *OllamaClient) Complete(ctx context.Context, prompt Prompt) (Completion, error) {
	text := prompt.User
	if strings.TrimSpace(prompt.System) != "" {
		text = prompt.System + "\n\n" + prompt.User
	}
	body, err := json.Marshal(map[string]any{
		"model":  c.model,
		"prompt": text,
		"stream": false,
		"options": map[string]any{
			"temperature": c.temperature,
		},
	})
	if err != nil {
		return Completion{}, fmt.Errorf("marshal generate payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Completion{}, &Error{Kind: KindUnreachable, Provider: ollamaProviderName, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, &Error{Kind: KindUnreachable, Provider: ollamaProviderName, Err: fmt.Errorf("read generate response body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Completion{}, &Error{
			Kind:       KindService,
			Provider:   ollamaProviderName,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("generate failed body=%s", truncateBody(rawRespBody)),
		}
	}

	var parsed struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Completion{}, &Error{Kind: KindService, Provider: ollamaProviderName, Err: fmt.Errorf("decode generate response: %w", err)}
	}
	if parsed.Response == nil || strings.TrimSpace(*parsed.Response) == "" {
		return Completion{}, &Error{Kind: KindEmpty, Provider: ollamaProviderName}
	}

	return Completion{
		Text:     *parsed.Response,
		Provider: ollamaProviderName,
		Model:    c.model,
	}, nil
}
