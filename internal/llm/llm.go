package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Prompt struct {
	System string
	User   string
}

type Completion struct {
	Text     string
	Provider string
	Model    string
}

// Client is a blocking request/response call to an inference service.
type Client interface {
	Complete(ctx context.Context, prompt Prompt) (Completion, error)
}

type ErrorKind string

const (
	KindUnreachable ErrorKind = "unreachable"
	KindService     ErrorKind = "service"
	KindEmpty       ErrorKind = "empty"
)

type Error struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("%s %s error (status=%d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s %s error: %v", e.Provider, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s %s error", e.Provider, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the failure class of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind
	}
	return ""
}

type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

type Config struct {
	Provider    Provider
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

func New(cfg Config) (Client, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(string(cfg.Provider)))) {
	case ProviderOpenAI:
		return NewOpenAIClient(cfg)
	case ProviderOllama, "":
		return NewOllamaClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func timeoutOr(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
