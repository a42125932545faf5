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

const openAIProviderName = "openai-compatible"

type OpenAIClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	return &OpenAIClient{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeoutOr(cfg.Timeout, 15*time.Second)},
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt Prompt) (Completion, error) {
	messages := make([]map[string]string, 0, 2)
	if strings.TrimSpace(prompt.System) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": prompt.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt.User})

	body, err := json.Marshal(map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": c.temperature,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Completion{}, &Error{Kind: KindUnreachable, Provider: openAIProviderName, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, &Error{Kind: KindUnreachable, Provider: openAIProviderName, Err: fmt.Errorf("read chat response body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Completion{}, &Error{
			Kind:       KindService,
			Provider:   openAIProviderName,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("chat completion failed body=%s", truncateBody(rawRespBody)),
		}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Completion{}, &Error{Kind: KindService, Provider: openAIProviderName, Err: fmt.Errorf("decode chat completion response: %w", err)}
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return Completion{}, &Error{Kind: KindEmpty, Provider: openAIProviderName}
	}

	return Completion{
		Text:     parsed.Choices[0].Message.Content,
		Provider: openAIProviderName,
		Model:    c.model,
	}, nil
}
