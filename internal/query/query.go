package query

import (
	"context"
	"time"
)

// TableFile is an immutable object backing a table for file-based engines.
type TableFile struct {
	TableName     string
	ObjectPath    string
	FileSizeBytes int64
}

type Request struct {
	SQL      string
	Args     []any
	RowLimit int
	Files    []TableFile
	// TenantID is set for tenant-scoped callers. File-based engines load only
	// that tenant's rows; database engines rely on the enforced SQL.
	TenantID string
}

type Result struct {
	Columns      []string
	Rows         [][]any
	ScannedFiles int
	ScannedBytes int64
	Duration     time.Duration
}

func (r Result) RowCount() int {
	return len(r.Rows)
}

// Engine runs one read statement. Implementations acquire their storage handle
// per call and release it before returning.
type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// FileSource lists the objects a file-based engine must scan.
type FileSource interface {
	TableFiles(ctx context.Context) ([]TableFile, error)
}
