package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nocassist/nocassist/internal/answer"
	"github.com/nocassist/nocassist/internal/audit"
	"github.com/nocassist/nocassist/internal/guard"
	"github.com/nocassist/nocassist/internal/memory"
	"github.com/nocassist/nocassist/internal/nl2sql"
	"github.com/nocassist/nocassist/internal/observability"
	"github.com/nocassist/nocassist/internal/query"
	"github.com/nocassist/nocassist/internal/schema"
)

const (
	noticeNoResults      = "No incidents found matching your query."
	noticeNotUnderstood  = "I couldn't understand your query. Please try rephrasing your question."
	noticeFailed         = "I encountered an error processing your request. Please try a different question."
	noticeAnswerFallback = "I'm having trouble accessing my knowledge base right now."
	noticeNoReportData   = "Run a question that returns several incidents before requesting a report."
)

var ErrNoReportData = errors.New("no aggregate result to report on")

type PipelineConfig struct {
	SampleSize        int
	DisplayThreshold  int
	NarrateAggregates bool
	ReportRowLimit    int
	HistoryLimit      int
}

// Pipeline holds the collaborators shared by every session. It has no
// per-session state.
type Pipeline struct {
	registry   *schema.Registry
	translator nl2sql.Translator
	enforcer   *guard.Enforcer
	executor   *query.Executor
	generator  answer.Generator
	audit      audit.Recorder
	logger     *slog.Logger
	cfg        PipelineConfig
	now        func() time.Time
}

type Dependencies struct {
	Registry   *schema.Registry
	Translator nl2sql.Translator
	Enforcer   *guard.Enforcer
	Executor   *query.Executor
	Generator  answer.Generator
	Audit      audit.Recorder
	Logger     *slog.Logger
}

func NewPipeline(deps Dependencies, cfg PipelineConfig) (*Pipeline, error) {
	switch {
	case deps.Registry == nil:
		return nil, fmt.Errorf("schema registry is required")
	case deps.Translator == nil:
		return nil, fmt.Errorf("translator is required")
	case deps.Enforcer == nil:
		return nil, fmt.Errorf("enforcer is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("executor is required")
	case deps.Generator == nil:
		return nil, fmt.Errorf("answer generator is required")
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = memory.DefaultSampleSize
	}
	if cfg.DisplayThreshold <= 0 {
		cfg.DisplayThreshold = memory.DefaultDisplayThreshold
	}
	if cfg.ReportRowLimit <= 0 {
		cfg.ReportRowLimit = 100
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry:   deps.Registry,
		translator: deps.Translator,
		enforcer:   deps.Enforcer,
		executor:   deps.Executor,
		generator:  deps.Generator,
		audit:      deps.Audit,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}, nil
}

// queryOutcome is what an accepted query leaves behind in the session.
type queryOutcome struct {
	memory memory.WorkingMemory
	report *memory.Table
}

func (p *Pipeline) runQuery(ctx context.Context, s *Session, question string) (Turn, *queryOutcome, error) {
	start := p.now()
	turn := Turn{Mode: ModeQuery}

	translateStart := time.Now()
	translated, err := p.translator.Translate(ctx, nl2sql.Request{
		TenantID:        s.scope.TenantID,
		Role:            s.identity.Role,
		NaturalLanguage: question,
		Table:           p.registry.Table(),
		Columns:         p.registry.Columns(),
	})
	observability.ObserveTranslation(time.Since(translateStart), err)
	if err != nil {
		return p.reject(ctx, s, turn, OutcomeTranslationFailed, noticeNotUnderstood, err), nil, err
	}
	turn.CandidateSQL = translated.SQL

	enforced, err := p.enforcer.Enforce(translated.SQL, s.scope)
	if err != nil {
		var validationErr *guard.ValidationError
		if errors.As(err, &validationErr) {
			turn.Reason = string(validationErr.Reason)
			observability.IncrementValidationRejection(turn.Reason)
		}
		p.auditQuery(ctx, s, question, translated.SQL, "", audit.StatusDenied, turn.Reason, 0, start)
		return p.reject(ctx, s, turn, OutcomeRejected, noticeFailed, err), nil, err
	}

	result, err := p.executor.Execute(ctx, enforced)
	if err != nil {
		p.auditQuery(ctx, s, question, translated.SQL, enforced.SQL, audit.StatusError, "", 0, start)
		return p.reject(ctx, s, turn, OutcomeExecutionFailed, noticeFailed, err), nil, err
	}

	if err := p.enforcer.CheckRows(s.scope, result.Columns, result.Rows); err != nil {
		observability.IncrementIsolationViolation()
		p.logger.ErrorContext(ctx, "isolation violation",
			slog.String("session_id", s.ID),
			slog.String("tenant", s.scope.TenantID),
			slog.Int("row_count", result.RowCount()),
		)
		return p.reject(ctx, s, turn, OutcomeIsolationViolation, noticeFailed, err), nil, err
	}
	p.auditQuery(ctx, s, question, translated.SQL, enforced.SQL, audit.StatusAllowed, "", result.RowCount(), start)

	mem := memory.Classify(result, p.registry, p.cfg.SampleSize)
	outcome := &queryOutcome{memory: mem}
	turn.RowCount = result.RowCount()
	turn.Memory = mem.Kind()

	switch mem.Kind() {
	case memory.KindEmpty:
		turn.Outcome = OutcomeEmpty
		turn.Answer = noticeNoResults
	case memory.KindSingle:
		turn.Outcome = OutcomeSingle
		turn.Answer = p.generate(ctx, s, question, mem)
	case memory.KindAggregate:
		turn.Outcome = OutcomeAggregate
		table := memory.Project(result, p.registry, memory.DisplayProjection(p.registry, p.cfg.DisplayThreshold))
		turn.Table = &table
		turn.Answer = fmt.Sprintf("Found %d incidents matching your query:", result.RowCount())
		if p.cfg.NarrateAggregates {
			turn.Narrative = p.generate(ctx, s, question, mem)
		}
		report := memory.Project(result, p.registry, memory.SummaryProjection(p.registry)).Head(p.cfg.ReportRowLimit)
		outcome.report = &report
	}

	observability.ObserveTurn(string(ModeQuery), string(turn.Outcome))
	p.logger.InfoContext(ctx, "turn completed",
		slog.String("session_id", s.ID),
		slog.String("mode", string(ModeQuery)),
		slog.String("kind", string(mem.Kind())),
		slog.Int("row_count", result.RowCount()),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return turn, outcome, nil
}

// generate asks for a phrased answer. A failing generator yields the fallback
// notice rather than failing the turn.
func (p *Pipeline) generate(ctx context.Context, s *Session, question string, mem memory.WorkingMemory) string {
	payload, err := mem.Payload()
	if err == nil {
		var text string
		text, err = p.generator.Answer(ctx, answer.Request{
			TenantID: s.scope.TenantID,
			Question: question,
			Date:     p.now(),
			Memory:   payload,
		})
		if err == nil {
			return text
		}
	}
	p.logger.WarnContext(ctx, "answer generation failed",
		slog.String("session_id", s.ID),
		slog.String("error", err.Error()),
	)
	return noticeAnswerFallback
}

func (p *Pipeline) followUp(ctx context.Context, s *Session, question string, mem memory.WorkingMemory) Turn {
	turn := Turn{Mode: ModeFollowUp, Outcome: OutcomeAnswered, Memory: mem.Kind()}
	if mem.IsEmpty() {
		turn.Answer = answer.Sentinel
	} else {
		turn.Answer = p.generate(ctx, s, question, mem)
	}
	observability.ObserveTurn(string(ModeFollowUp), string(turn.Outcome))
	return turn
}

func (p *Pipeline) report(ctx context.Context, s *Session, question string, table *memory.Table) (Turn, error) {
	turn := Turn{Mode: ModeReport}
	if table == nil {
		observability.ObserveTurn(string(ModeReport), string(OutcomeRejected))
		turn.Outcome = OutcomeRejected
		turn.Answer = noticeNoReportData
		return turn, ErrNoReportData
	}

	csvText, err := table.CSV()
	if err != nil {
		return p.reject(ctx, s, turn, OutcomeExecutionFailed, noticeFailed, err), err
	}
	turn.RowCount = len(table.Rows)
	text, err := p.generator.Report(ctx, answer.ReportRequest{
		TenantID: s.scope.TenantID,
		Question: question,
		Date:     p.now(),
		CSV:      csvText,
		RowCount: len(table.Rows),
	})
	if err != nil {
		p.logger.WarnContext(ctx, "report generation failed",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		text = noticeAnswerFallback
	}
	turn.Outcome = OutcomeAnswered
	turn.Answer = text
	observability.ObserveTurn(string(ModeReport), string(turn.Outcome))
	return turn, nil
}

func (p *Pipeline) reject(ctx context.Context, s *Session, turn Turn, outcome Outcome, notice string, err error) Turn {
	turn.Outcome = outcome
	turn.Answer = notice
	observability.ObserveTurn(string(turn.Mode), string(outcome))
	attrs := []any{
		slog.String("session_id", s.ID),
		slog.String("mode", string(turn.Mode)),
		slog.String("outcome", string(outcome)),
	}
	if turn.Reason != "" {
		attrs = append(attrs, slog.String("reason", turn.Reason))
	}
	// Row data never reaches the log for isolation failures.
	if outcome != OutcomeIsolationViolation {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	p.logger.WarnContext(ctx, "turn rejected", attrs...)
	return turn
}

func (p *Pipeline) auditQuery(ctx context.Context, s *Session, question, candidate, enforced string, status audit.Status, reason string, rows int, start time.Time) {
	if p.audit == nil || !s.scope.Unrestricted {
		return
	}
	p.audit.Record(ctx, audit.Entry{
		Username:     s.identity.Username,
		Question:     strings.TrimSpace(question),
		CandidateSQL: candidate,
		EnforcedSQL:  enforced,
		Status:       status,
		Reason:       reason,
		RowCount:     rows,
		DurationMs:   time.Since(start).Milliseconds(),
	})
}
