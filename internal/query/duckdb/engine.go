package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/nocassist/nocassist/internal/query"
	"github.com/nocassist/nocassist/internal/query/sqlengine"
	"github.com/nocassist/nocassist/internal/schema"
	"github.com/nocassist/nocassist/internal/storage"
)

// Engine materializes parquet batches from the object store into a private
// in-memory DuckDB database for every call.
type Engine struct {
	Store    storage.ObjectStore
	Registry *schema.Registry
}

func NewEngine(store storage.ObjectStore, registry *schema.Registry) *Engine {
	return &Engine{Store: store, Registry: registry}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if e.Store == nil {
		return query.Result{}, fmt.Errorf("object store is required")
	}
	if e.Registry == nil {
		return query.Result{}, fmt.Errorf("schema registry is required")
	}

	start := time.Now()
	workDir, err := os.MkdirTemp("", "nocassist-query-")
	if err != nil {
		return query.Result{}, fmt.Errorf("create query temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPaths, scannedBytes, err := e.materialize(ctx, workDir, request.Files)
	if err != nil {
		return query.Result{}, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return query.Result{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	conn, err := db.Conn(ctx)
	if err != nil {
		return query.Result{}, fmt.Errorf("acquire duckdb connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := e.loadTable(ctx, conn, localPaths, request.TenantID); err != nil {
		return query.Result{}, err
	}
	for _, stmt := range []string{
		"SET enable_external_access = false",
		"SET lock_configuration = true",
	} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return query.Result{}, fmt.Errorf("lock down duckdb: %w", err)
		}
	}

	sqlText := stripTrailingSemicolons(request.SQL)
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	rows, err := conn.QueryContext(ctx, sqlText, request.Args...)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, resultRows, err := sqlengine.ScanRows(rows)
	if err != nil {
		return query.Result{}, err
	}

	return query.Result{
		Columns:      columns,
		Rows:         resultRows,
		ScannedFiles: len(localPaths),
		ScannedBytes: scannedBytes,
		Duration:     time.Since(start),
	}, nil
}

// materialize copies the incident table's batches into workDir. Files of
// other tables are ignored.
func (e *Engine) materialize(ctx context.Context, workDir string, files []query.TableFile) ([]string, int64, error) {
	var (
		localPaths   []string
		scannedBytes int64
	)
	for _, file := range files {
		if file.TableName != e.Registry.Table() {
			continue
		}
		localPath := filepath.Join(workDir, fmt.Sprintf("batch_%04d.parquet", len(localPaths)))
		written, err := e.fetch(ctx, file.ObjectPath, localPath)
		if err != nil {
			return nil, 0, err
		}
		localPaths = append(localPaths, localPath)
		if file.FileSizeBytes > 0 {
			scannedBytes += file.FileSizeBytes
		} else {
			scannedBytes += written
		}
	}
	return localPaths, scannedBytes, nil
}

func (e *Engine) fetch(ctx context.Context, objectPath, localPath string) (int64, error) {
	reader, err := e.Store.Get(ctx, objectPath)
	if err != nil {
		return 0, fmt.Errorf("get object %q: %w", objectPath, err)
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("create local batch %q: %w", localPath, err)
	}
	written, copyErr := io.Copy(file, reader)
	closeErr := file.Close()
	if copyErr != nil {
		return 0, fmt.Errorf("copy object %q: %w", objectPath, copyErr)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("close local batch %q: %w", localPath, closeErr)
	}
	return written, nil
}

// loadTable copies the batches into a native table so external file access
// can be disabled before the caller's statement runs. Without batches the
// table is created empty from the registry columns. A tenant-scoped load keeps
// only that tenant's rows, so the table never holds another tenant's data.
//
// Every batch is still read per call; the cost of a turn grows with the whole
// lake, while memory grows with the caller's share of it.
func (e *Engine) loadTable(ctx context.Context, conn *sql.Conn, localPaths []string, tenantID string) error {
	table := quoteIdent(e.Registry.Table())
	var ddl string
	if len(localPaths) == 0 {
		columns := make([]string, 0, len(e.Registry.Columns()))
		for _, column := range e.Registry.Columns() {
			columns = append(columns, quoteIdent(column)+" VARCHAR")
		}
		ddl = fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(columns, ", "))
	} else {
		ddl = fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM read_parquet(%s, union_by_name = true)", table, quoteStringArray(localPaths))
		if tenantID != "" {
			ddl += fmt.Sprintf(" WHERE %s = %s", quoteIdent(e.Registry.TenantColumn()), quoteString(tenantID))
		}
	}
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("load table %q: %w", e.Registry.Table(), err)
	}
	return nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, quoteString(value))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
