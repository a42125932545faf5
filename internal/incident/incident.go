// Package incident holds the append-only incident stores the query pipeline
// reads from.
package incident

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nocassist/nocassist/internal/guard"
	"github.com/nocassist/nocassist/internal/query"
	"github.com/nocassist/nocassist/internal/schema"
)

var ErrEmptyBatch = errors.New("batch has no rows")

// Batch is a set of rows for the incident table. Columns use registry
// spelling; an empty cell is stored as NULL.
type Batch struct {
	Columns []string
	Rows    [][]string
}

func (b Batch) Validate(registry *schema.Registry) error {
	if len(b.Rows) == 0 {
		return ErrEmptyBatch
	}
	tenantSeen := false
	seen := make(map[string]struct{}, len(b.Columns))
	for _, column := range b.Columns {
		if !registry.Has(column) {
			return fmt.Errorf("unknown column %q", column)
		}
		if _, dup := seen[column]; dup {
			return fmt.Errorf("duplicate column %q", column)
		}
		seen[column] = struct{}{}
		if column == registry.TenantColumn() {
			tenantSeen = true
		}
	}
	if !tenantSeen {
		return fmt.Errorf("batch is missing tenant column %q", registry.TenantColumn())
	}
	tenantIdx := b.index(registry.TenantColumn())
	for i, row := range b.Rows {
		if len(row) != len(b.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i+1, len(row), len(b.Columns))
		}
		if strings.TrimSpace(row[tenantIdx]) == "" {
			return fmt.Errorf("row %d has an empty tenant value", i+1)
		}
	}
	return nil
}

// Tenants returns the distinct tenant values of the batch in sorted order.
func (b Batch) Tenants(registry *schema.Registry) []string {
	idx := b.index(registry.TenantColumn())
	if idx < 0 {
		return nil
	}
	set := map[string]struct{}{}
	for _, row := range b.Rows {
		if idx < len(row) {
			set[row[idx]] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for tenant := range set {
		out = append(out, tenant)
	}
	sort.Strings(out)
	return out
}

func (b Batch) index(column string) int {
	for i, name := range b.Columns {
		if name == column {
			return i
		}
	}
	return -1
}

// NullableValues converts row cells to driver values with empty strings as NULL.
func NullableValues(row []string) []any {
	values := make([]any, len(row))
	for i, cell := range row {
		if cell == "" {
			values[i] = nil
			continue
		}
		values[i] = cell
	}
	return values
}

type AppendResult struct {
	Records int      `json:"records"`
	Tenants []string `json:"tenants"`
}

type TenantCount struct {
	Tenant string `json:"tenant"`
	Count  int64  `json:"count"`
}

type Stats struct {
	Total    int64         `json:"total"`
	ByTenant []TenantCount `json:"by_tenant"`
}

// Store is an append-only incident table plus the engine that reads it.
type Store interface {
	Append(ctx context.Context, batch Batch) (AppendResult, error)
	Stats(ctx context.Context) (Stats, error)
	Engine() query.Engine
	Dialect() guard.Dialect
	Ping(ctx context.Context) error
	Close() error
}

// StatsQuery counts incidents per tenant. It is issued by the service itself
// and never passes through the enforcer.
func StatsQuery(registry *schema.Registry) string {
	return fmt.Sprintf(
		`SELECT %s AS tenant, COUNT(*) AS incident_count FROM %s GROUP BY %s ORDER BY incident_count DESC, tenant ASC`,
		QuoteIdent(registry.TenantColumn()), QuoteIdent(registry.Table()), QuoteIdent(registry.TenantColumn()),
	)
}

func StatsFromResult(result query.Result) (Stats, error) {
	stats := Stats{ByTenant: make([]TenantCount, 0, len(result.Rows))}
	for _, row := range result.Rows {
		if len(row) < 2 {
			return Stats{}, fmt.Errorf("stats row has %d values", len(row))
		}
		count, err := toInt64(row[1])
		if err != nil {
			return Stats{}, err
		}
		tenant := ""
		if row[0] != nil {
			tenant = fmt.Sprint(row[0])
		}
		stats.ByTenant = append(stats.ByTenant, TenantCount{Tenant: tenant, Count: count})
		stats.Total += count
	}
	return stats, nil
}

func toInt64(value any) (int64, error) {
	switch typed := value.(type) {
	case int64:
		return typed, nil
	case int32:
		return int64(typed), nil
	case int:
		return int64(typed), nil
	case uint64:
		return int64(typed), nil
	case float64:
		return int64(typed), nil
	case string:
		n, err := strconv.ParseInt(typed, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse count %q: %w", typed, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported count type %T", value)
	}
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
