// Package answer asks the inference service to phrase results for the user.
package answer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nocassist/nocassist/internal/llm"
)

// Sentinel is the fixed reply for questions the working memory cannot answer.
const Sentinel = "I don't have that specific information for this incident."

// Request carries one answer call. Memory is the serialized working memory
// and is the only incident data the generator sees.
type Request struct {
	TenantID string
	Question string
	Date     time.Time
	Memory   []byte
}

// ReportRequest carries the CSV export of the last aggregate result.
type ReportRequest struct {
	TenantID string
	Question string
	Date     time.Time
	CSV      string
	RowCount int
}

type Generator interface {
	Answer(ctx context.Context, req Request) (string, error)
	Report(ctx context.Context, req ReportRequest) (string, error)
}

type LLMGenerator struct {
	client llm.Client
}

func NewLLMGenerator(client llm.Client) (*LLMGenerator, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	return &LLMGenerator{client: client}, nil
}

func (g *LLMGenerator) Answer(ctx context.Context, req Request) (string, error) {
	return g.complete(ctx, llm.Prompt{System: answerSystemPrompt, User: BuildAnswerPrompt(req)})
}

func (g *LLMGenerator) Report(ctx context.Context, req ReportRequest) (string, error) {
	return g.complete(ctx, llm.Prompt{System: reportSystemPrompt, User: BuildReportPrompt(req)})
}

func (g *LLMGenerator) complete(ctx context.Context, prompt llm.Prompt) (string, error) {
	completion, err := g.client.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(completion.Text)
	if text == "" {
		return "", &llm.Error{Kind: llm.KindEmpty, Provider: completion.Provider, Err: fmt.Errorf("model returned no answer")}
	}
	return text, nil
}

const answerSystemPrompt = "You are a helpful NOC assistant answering network incident questions. " +
	"Answer only from the incident data provided. " +
	"If the answer is not in that data, reply exactly: " + Sentinel

const reportSystemPrompt = "You are a NOC analyst writing incident analysis reports from tabular data. " +
	"Use only the data provided."

func BuildAnswerPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Current date: ")
	b.WriteString(formatDate(req.Date))
	b.WriteString("\nClient: ")
	b.WriteString(req.TenantID)
	b.WriteString("\n\nIncident data in conversation memory:\n")
	b.Write(req.Memory)
	b.WriteString("\n\nUser question: ")
	b.WriteString(strings.TrimSpace(req.Question))
	b.WriteString("\n\nProvide a clear, concise answer based on the incident data above. ")
	b.WriteString("Focus on incident details, timeline, resolution steps and relevant technical information. ")
	b.WriteString(`If the data does not contain the answer, respond with "` + Sentinel + `"`)
	return b.String()
}

// reportSections is the fixed outline every analysis report follows.
var reportSections = []string{
	"Summary",
	"Key Insights",
	"Main Causes",
	"Recommendations",
	"Conclusion",
}

func BuildReportPrompt(req ReportRequest) string {
	var b strings.Builder
	b.WriteString("Current date: ")
	b.WriteString(formatDate(req.Date))
	b.WriteString("\nClient: ")
	b.WriteString(req.TenantID)
	b.WriteString("\nOriginal question: ")
	b.WriteString(strings.TrimSpace(req.Question))
	fmt.Fprintf(&b, "\n\nIncident data (%d rows, CSV):\n", req.RowCount)
	b.WriteString(req.CSV)
	b.WriteString("\nWrite an incident analysis report with exactly these sections:\n")
	for i, section := range reportSections {
		fmt.Fprintf(&b, "%d. %s\n", i+1, section)
	}
	return b.String()
}

func formatDate(date time.Time) string {
	if date.IsZero() {
		date = time.Now()
	}
	return date.Format("2006-01-02")
}
