package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/nocassist/nocassist/internal/guard"
	"github.com/nocassist/nocassist/internal/incident"
	"github.com/nocassist/nocassist/internal/query"
	"github.com/nocassist/nocassist/internal/query/sqlengine"
	"github.com/nocassist/nocassist/internal/schema"
)

// Postgres caps a statement at 65535 bind parameters.
const maxBindParams = 65535

type Store struct {
	db       *sql.DB
	registry *schema.Registry
	engine   *sqlengine.Engine
}

func NewStore(db *sql.DB, registry *schema.Registry) *Store {
	return &Store{
		db:       db,
		registry: registry,
		engine:   sqlengine.New(db, sqlengine.Options{ReadOnlyTx: true}),
	}
}

func (s *Store) Engine() query.Engine {
	return s.engine
}

func (s *Store) Dialect() guard.Dialect {
	return guard.DialectPostgres
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts the batch in one transaction using multi-row INSERTs.
func (s *Store) Append(ctx context.Context, batch incident.Batch) (incident.AppendResult, error) {
	if err := batch.Validate(s.registry); err != nil {
		return incident.AppendResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return incident.AppendResult{}, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	chunkRows := maxBindParams / len(batch.Columns)
	for start := 0; start < len(batch.Rows); start += chunkRows {
		end := start + chunkRows
		if end > len(batch.Rows) {
			end = len(batch.Rows)
		}
		statement, args := buildInsert(s.registry.Table(), batch.Columns, batch.Rows[start:end])
		if _, err := tx.ExecContext(ctx, statement, args...); err != nil {
			return incident.AppendResult{}, fmt.Errorf("insert incidents rows %d-%d: %w", start+1, end, err)
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

func buildInsert(table string, columns []string, rows [][]string) (string, []any) {
	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = incident.QuoteIdent(column)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", incident.QuoteIdent(table), strings.Join(quoted, ", "))
	args := make([]any, 0, len(rows)*len(columns))
	for r, row := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString("$" + strconv.Itoa(len(args)+c+1))
		}
		b.WriteByte(')')
		args = append(args, incident.NullableValues(row)...)
	}
	return b.String(), args
}
