package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nocassist/nocassist/internal/guard"
	"github.com/nocassist/nocassist/internal/observability"
	"github.com/nocassist/nocassist/internal/schema"
)

var ErrUnknownColumn = errors.New("unknown column")

// ExecutionError wraps any failure reported while running an enforced query.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

type ExecutorConfig struct {
	RowLimit int
	Timeout  time.Duration
}

type Executor struct {
	engine   Engine
	registry *schema.Registry
	files    FileSource
	cfg      ExecutorConfig
}

// NewExecutor binds an engine to the schema registry. files may be nil for
// engines that read from a database rather than objects.
func NewExecutor(engine Engine, registry *schema.Registry, files FileSource, cfg ExecutorConfig) (*Executor, error) {
	if engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("schema registry is required")
	}
	if cfg.RowLimit < 0 {
		return nil, fmt.Errorf("row limit must be >= 0")
	}
	return &Executor{engine: engine, registry: registry, files: files, cfg: cfg}, nil
}

func (e *Executor) Execute(ctx context.Context, enforced guard.EnforcedQuery) (Result, error) {
	if strings.TrimSpace(enforced.SQL) == "" {
		return Result{}, &ExecutionError{Err: fmt.Errorf("sql is required")}
	}
	for _, identifier := range enforced.Identifiers {
		if _, ok := e.registry.Lookup(identifier); ok || identifier == e.registry.Table() {
			continue
		}
		return Result{}, &ExecutionError{Err: fmt.Errorf("%w: %s", ErrUnknownColumn, identifier)}
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	request := Request{
		SQL:      enforced.SQL,
		Args:     enforced.Args,
		RowLimit: e.cfg.RowLimit,
	}
	if !enforced.Scope.Unrestricted {
		request.TenantID = enforced.Scope.TenantID
	}
	if e.files != nil {
		files, err := e.files.TableFiles(ctx)
		if err != nil {
			return Result{}, &ExecutionError{Err: fmt.Errorf("list table files: %w", err)}
		}
		request.Files = files
	}

	start := time.Now()
	result, err := e.engine.Execute(ctx, request)
	observability.ObserveQuery(time.Since(start), err)
	if err != nil {
		return Result{}, &ExecutionError{Err: err}
	}
	return result, nil
}
