package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nocassist/nocassist/internal/query"
)

type Options struct {
	// ReadOnlyTx runs every statement inside a read-only transaction.
	ReadOnlyTx bool
}

// Engine executes statements on a database/sql pool. Each call pins its own
// connection and returns it to the pool before Execute returns.
type Engine struct {
	db   *sql.DB
	opts Options
}

func New(db *sql.DB, opts Options) *Engine {
	return &Engine{db: db, opts: opts}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if e.db == nil {
		return query.Result{}, fmt.Errorf("database handle is required")
	}
	sqlText := strings.TrimSpace(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	start := time.Now()
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return query.Result{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	var rows *sql.Rows
	if e.opts.ReadOnlyTx {
		tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return query.Result{}, fmt.Errorf("begin read-only transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		rows, err = tx.QueryContext(ctx, sqlText, request.Args...)
		if err != nil {
			return query.Result{}, fmt.Errorf("execute query: %w", err)
		}
	} else {
		rows, err = conn.QueryContext(ctx, sqlText, request.Args...)
		if err != nil {
			return query.Result{}, fmt.Errorf("execute query: %w", err)
		}
	}
	defer func() { _ = rows.Close() }()

	columns, resultRows, err := ScanRows(rows)
	if err != nil {
		return query.Result{}, err
	}
	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

// ScanRows drains rows into generic values with []byte normalized to string.
func ScanRows(rows *sql.Rows) ([]string, [][]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, NormalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, resultRows, nil
}

func NormalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
