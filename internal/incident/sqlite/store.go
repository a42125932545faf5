// Package sqlite is the single-file incident store used for local runs and
// tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/nocassist/nocassist/internal/guard"
	"github.com/nocassist/nocassist/internal/incident"
	"github.com/nocassist/nocassist/internal/query"
	"github.com/nocassist/nocassist/internal/query/sqlengine"
	"github.com/nocassist/nocassist/internal/schema"
)

// Store keeps a single-connection writer and a query_only reader pool over
// the same file.
type Store struct {
	writer   *sql.DB
	reader   *sql.DB
	registry *schema.Registry
	engine   *sqlengine.Engine
}

func Open(ctx context.Context, path string, registry *schema.Registry) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	writer, err := sql.Open("sqlite", dsn(path, "_pragma=busy_timeout(5000)", "_pragma=journal_mode(WAL)"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if err := ensureSchema(ctx, writer, registry); err != nil {
		_ = writer.Close()
		return nil, err
	}

	reader, err := sql.Open("sqlite", dsn(path, "_pragma=busy_timeout(5000)", "_pragma=query_only(1)"))
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open sqlite reader: %w", err)
	}
	if err := reader.PingContext(ctx); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, fmt.Errorf("ping sqlite reader: %w", err)
	}

	return &Store{
		writer:   writer,
		reader:   reader,
		registry: registry,
		engine:   sqlengine.New(reader, sqlengine.Options{}),
	}, nil
}

func dsn(path string, pragmas ...string) string {
	return "file:" + path + "?" + strings.Join(pragmas, "&")
}

func ensureSchema(ctx context.Context, db *sql.DB, registry *schema.Registry) error {
	columns := make([]string, 0, len(registry.Columns()))
	for _, column := range registry.Columns() {
		definition := incident.QuoteIdent(column) + " TEXT"
		if column == registry.TenantColumn() {
			definition += " NOT NULL"
		}
		columns = append(columns, definition)
	}
	table := incident.QuoteIdent(registry.Table())
	statements := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(columns, ", ")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			incident.QuoteIdent("idx_"+registry.Table()+"_"+registry.TenantColumn()), table, incident.QuoteIdent(registry.TenantColumn())),
	}
	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("ensure sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Engine() query.Engine {
	return s.engine
}

func (s *Store) Dialect() guard.Dialect {
	return guard.DialectSQLite
}

func (s *Store) Ping(ctx context.Context) error {
	return s.reader.PingContext(ctx)
}

func (s *Store) Close() error {
	readerErr := s.reader.Close()
	writerErr := s.writer.Close()
	if readerErr != nil {
		return readerErr
	}
	return writerErr
}

func (s *Store) Append(ctx context.Context, batch incident.Batch) (incident.AppendResult, error) {
	if err := batch.Validate(s.registry); err != nil {
		return incident.AppendResult{}, err
	}

	quoted := make([]string, len(batch.Columns))
	marks := make([]string, len(batch.Columns))
	for i, column := range batch.Columns {
		quoted[i] = incident.QuoteIdent(column)
		marks[i] = "?"
	}
	statement := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		incident.QuoteIdent(s.registry.Table()), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return incident.AppendResult{}, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, statement)
	if err != nil {
		return incident.AppendResult{}, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, row := range batch.Rows {
		if _, err := stmt.ExecContext(ctx, incident.NullableValues(row)...); err != nil {
			return incident.AppendResult{}, fmt.Errorf("insert row %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return incident.AppendResult{}, fmt.Errorf("commit append tx: %w", err)
	}
	return incident.AppendResult{Records: len(batch.Rows), Tenants: batch.Tenants(s.registry)}, nil
}

func (s *Store) Stats(ctx context.Context) (incident.Stats, error) {
	result, err := s.engine.Execute(ctx, query.Request{SQL: incident.StatsQuery(s.registry)})
	if err != nil {
		return incident.Stats{}, fmt.Errorf("query incident stats: %w", err)
	}
	return incident.StatsFromResult(result)
}
