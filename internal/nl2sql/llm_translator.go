package nl2sql

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nocassist/nocassist/internal/auth"
	"github.com/nocassist/nocassist/internal/llm"
)

const systemPrompt = "You convert natural language questions about network operations incidents into a single SQL query. " +
	"Return ONLY the SQL query. Do not include explanations, formatting, prefixes or markdown code fences. " +
	"The output must start directly with SELECT."

// Widening hints for the free-text reason column. They improve recall only.
var keywordHints = []string{
	`For "fire" incidents search reason for 'fire', 'burn', 'smoke', 'flames'.`,
	`For "cable cut" issues search reason for 'cable cut', 'fiber cut', 'line break'.`,
	`For "power failure" search reason for 'power outage', 'voltage drop', 'electric failure'.`,
}

type LLMTranslator struct {
	client llm.Client
}

func NewLLMTranslator(client llm.Client) (*LLMTranslator, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	return &LLMTranslator{client: client}, nil
}

func (t *LLMTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.NaturalLanguage) == "" {
		return Result{}, &TranslationError{Kind: llm.KindEmpty, Err: fmt.Errorf("question is required")}
	}

	completion, err := t.client.Complete(ctx, llm.Prompt{System: systemPrompt, User: BuildPrompt(req)})
	if err != nil {
		kind := llm.KindOf(err)
		if kind == "" {
			kind = llm.KindService
		}
		return Result{}, &TranslationError{Kind: kind, Err: err}
	}

	sql := ExtractSQL(completion.Text)
	if sql == "" {
		return Result{}, &TranslationError{Kind: llm.KindEmpty, Err: fmt.Errorf("model returned no SQL")}
	}
	return Result{
		SQL:      sql,
		Provider: completion.Provider,
		Model:    completion.Model,
	}, nil
}

// BuildPrompt renders the fixed instruction template for one question.
func BuildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\n", req.Table)
	fmt.Fprintf(&b, "Columns: [%s]\n", strings.Join(req.Columns, ", "))
	fmt.Fprintf(&b, "Client: %s\n", req.TenantID)
	if req.Role == auth.RoleAdmin {
		b.WriteString("Scope: the caller may read incidents of every client.\n")
	} else {
		b.WriteString("Scope: rows are restricted to the caller's client automatically.\n")
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- Emit exactly one read query beginning with SELECT and nothing else.\n")
	fmt.Fprintf(&b, "- Query only the %s table and only the listed columns.\n", req.Table)
	b.WriteString("- Never modify data. Never emit more than one statement.\n")
	b.WriteString("- When the user asks about a problem type, do not rely only on problem_category; also match LOWER(reason) LIKE '%keyword%' for related terms.\n")
	for _, hint := range keywordHints {
		b.WriteString("  " + hint + "\n")
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", strings.TrimSpace(req.NaturalLanguage))
	return b.String()
}

var chatterPrefix = regexp.MustCompile(`(?i)^(here is (the|your) (sql )?query|generated query|sql query|sql)\s*:\s*`)

// ExtractSQL removes markdown fences and leading chatter from a model reply.
func ExtractSQL(value string) string {
	trimmed := stripMarkdownSQL(value)
	trimmed = chatterPrefix.ReplaceAllString(trimmed, "")
	return strings.TrimSpace(trimmed)
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
