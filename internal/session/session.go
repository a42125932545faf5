// Package session runs conversation turns against the tenant-isolated query
// pipeline and tracks the live sessions of authenticated users.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nocassist/nocassist/internal/auth"
	"github.com/nocassist/nocassist/internal/guard"
	"github.com/nocassist/nocassist/internal/memory"
)

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageTable MessageKind = "table"
	MessageError MessageKind = "error"
)

type Message struct {
	Speaker Speaker       `json:"speaker"`
	Kind    MessageKind   `json:"kind"`
	Content string        `json:"content"`
	Table   *memory.Table `json:"table,omitempty"`
	Time    time.Time     `json:"time"`
}

type Mode string

const (
	ModeQuery    Mode = "query"
	ModeFollowUp Mode = "followup"
	ModeReport   Mode = "report"
)

type Outcome string

const (
	OutcomeEmpty              Outcome = "empty"
	OutcomeSingle             Outcome = "single"
	OutcomeAggregate          Outcome = "aggregate"
	OutcomeAnswered           Outcome = "answered"
	OutcomeRejected           Outcome = "rejected"
	OutcomeTranslationFailed  Outcome = "translation_failed"
	OutcomeExecutionFailed    Outcome = "execution_failed"
	OutcomeIsolationViolation Outcome = "isolation_violation"
)

// Turn is the user-visible result of one question.
type Turn struct {
	Mode         Mode          `json:"mode"`
	Outcome      Outcome       `json:"outcome"`
	Answer       string        `json:"answer"`
	Narrative    string        `json:"narrative,omitempty"`
	Table        *memory.Table `json:"table,omitempty"`
	RowCount     int           `json:"row_count"`
	Memory       memory.Kind   `json:"memory"`
	CandidateSQL string        `json:"candidate_sql,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// Session is one authenticated conversation. Turns run one at a time; the
// role and tenant never change after creation.
type Session struct {
	ID        string
	CreatedAt time.Time

	identity auth.Identity
	scope    guard.Scope
	pipeline *Pipeline

	turnMu sync.Mutex

	mu           sync.Mutex
	history      []Message
	memory       memory.WorkingMemory
	report       *memory.Table
	lastQuestion string
	lastActive   time.Time
}

func newSession(id string, identity auth.Identity, pipeline *Pipeline, now time.Time) *Session {
	return &Session{
		ID:         id,
		CreatedAt:  now,
		identity:   identity,
		scope:      guard.ScopeFor(identity),
		pipeline:   pipeline,
		memory:     memory.Empty(),
		lastActive: now,
	}
}

func (s *Session) Identity() auth.Identity {
	return s.identity
}

// Ask translates, enforces and runs a question. Stage failures return the
// typed error alongside a turn carrying the notice already added to history;
// working memory is left unchanged.
func (s *Session) Ask(ctx context.Context, question string) (Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Turn{}, fmt.Errorf("question is required")
	}
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.appendUser(question)
	turn, outcome, err := s.pipeline.runQuery(ctx, s, question)

	s.mu.Lock()
	defer s.mu.Unlock()
	if outcome != nil {
		s.memory = outcome.memory
		s.report = outcome.report
		s.lastQuestion = question
	}
	s.appendTurnLocked(turn, err != nil)
	return turn, err
}

// FollowUp answers from working memory only; storage is never touched.
func (s *Session) FollowUp(ctx context.Context, question string) (Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Turn{}, fmt.Errorf("question is required")
	}
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.appendUser(question)
	s.mu.Lock()
	mem := s.memory
	s.mu.Unlock()

	turn := s.pipeline.followUp(ctx, s, question, mem)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendTurnLocked(turn, false)
	return turn, nil
}

// Report writes an analysis of the last multi-row result.
func (s *Session) Report(ctx context.Context) (Turn, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	table := s.report
	question := s.lastQuestion
	s.mu.Unlock()

	turn, err := s.pipeline.report(ctx, s, question, table)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendTurnLocked(turn, err != nil)
	return turn, err
}

// Clear drops working memory and history.
func (s *Session) Clear() {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory = memory.Empty()
	s.report = nil
	s.lastQuestion = ""
	s.history = nil
}

func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

func (s *Session) Memory() memory.WorkingMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory
}

type Status struct {
	ID           string      `json:"session_id"`
	Username     string      `json:"username"`
	TenantID     string      `json:"tenant_id"`
	Role         auth.Role   `json:"role"`
	Memory       memory.Kind `json:"memory"`
	Reportable   bool        `json:"reportable"`
	HistoryCount int         `json:"history_count"`
	CreatedAt    time.Time   `json:"created_at"`
	LastActive   time.Time   `json:"last_active"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:           s.ID,
		Username:     s.identity.Username,
		TenantID:     s.scope.TenantID,
		Role:         s.identity.Role,
		Memory:       s.memory.Kind(),
		Reportable:   s.report != nil,
		HistoryCount: len(s.history),
		CreatedAt:    s.CreatedAt,
		LastActive:   s.lastActive,
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = now
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}

func (s *Session) appendUser(question string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(Message{Speaker: SpeakerUser, Kind: MessageText, Content: question})
}

func (s *Session) appendTurnLocked(turn Turn, failed bool) {
	kind := MessageText
	if failed {
		kind = MessageError
	}
	s.appendLocked(Message{Speaker: SpeakerAssistant, Kind: kind, Content: turn.Answer})
	if turn.Table != nil {
		s.appendLocked(Message{Speaker: SpeakerAssistant, Kind: MessageTable, Table: turn.Table})
	}
	if turn.Narrative != "" {
		s.appendLocked(Message{Speaker: SpeakerAssistant, Kind: MessageText, Content: turn.Narrative})
	}
}

func (s *Session) appendLocked(message Message) {
	message.Time = s.pipeline.now()
	s.history = append(s.history, message)
	if limit := s.pipeline.cfg.HistoryLimit; limit > 0 && len(s.history) > limit {
		s.history = append([]Message(nil), s.history[len(s.history)-limit:]...)
	}
}
