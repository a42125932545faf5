package nl2sql

import (
	"context"
	"fmt"

	"github.com/nocassist/nocassist/internal/auth"
	"github.com/nocassist/nocassist/internal/llm"
)

type Request struct {
	TenantID        string    `json:"tenant_id"`
	Role            auth.Role `json:"role"`
	NaturalLanguage string    `json:"natural_language"`
	Table           string    `json:"table"`
	Columns         []string  `json:"columns"`
}

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

type TranslationError struct {
	Kind llm.ErrorKind
	Err  error
}

func (e *TranslationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("translation %s", e.Kind)
	}
	return fmt.Sprintf("translation %s: %v", e.Kind, e.Err)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}
