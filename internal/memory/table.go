package memory

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/nocassist/nocassist/internal/query"
	"github.com/nocassist/nocassist/internal/schema"
)

const DefaultDisplayThreshold = 10

// Table is a display-ready copy of a result with every value as text.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Projection selects the columns shown to the user. Results wider than
// Threshold are reduced to the Keys present; if none are present the first
// Fallback columns in registry order are used.
type Projection struct {
	Keys      []string
	Threshold int
	Fallback  int
}

func DisplayProjection(registry *schema.Registry, threshold int) Projection {
	if threshold <= 0 {
		threshold = DefaultDisplayThreshold
	}
	return Projection{Keys: registry.KeyColumns(), Threshold: threshold, Fallback: DefaultDisplayThreshold}
}

// SummaryProjection always reduces to the report columns.
func SummaryProjection(registry *schema.Registry) Projection {
	return Projection{Keys: registry.SummaryColumns(), Threshold: 0, Fallback: DefaultDisplayThreshold}
}

func TableFrom(result query.Result) Table {
	table := Table{Columns: append([]string(nil), result.Columns...), Rows: make([][]string, len(result.Rows))}
	for i, row := range result.Rows {
		cells := make([]string, len(result.Columns))
		for j := range cells {
			cells[j] = FormatValue(cell(row, j))
		}
		table.Rows[i] = cells
	}
	return table
}

func Project(result query.Result, registry *schema.Registry, projection Projection) Table {
	full := TableFrom(result)
	if len(result.Columns) <= projection.Threshold {
		return full
	}

	index := columnIndex(result.Columns, registry)
	positions := make([]int, 0, len(projection.Keys))
	for _, key := range projection.Keys {
		if declared, ok := registry.Lookup(key); ok {
			if idx, present := index[declared]; present {
				positions = append(positions, idx)
			}
		}
	}
	if len(positions) == 0 {
		positions = fallbackPositions(result.Columns, registry, projection.Fallback)
	}
	return full.Select(positions)
}

func fallbackPositions(columns []string, registry *schema.Registry, limit int) []int {
	if limit <= 0 {
		limit = DefaultDisplayThreshold
	}
	positions := make([]int, len(columns))
	for i := range positions {
		positions[i] = i
	}
	rank := func(i int) int {
		if p := registry.Position(columns[i]); p >= 0 {
			return p
		}
		return len(registry.Columns()) + i
	}
	sort.SliceStable(positions, func(a, b int) bool { return rank(positions[a]) < rank(positions[b]) })
	if len(positions) > limit {
		positions = positions[:limit]
	}
	return positions
}

// Select keeps the given column positions in the given order.
func (t Table) Select(positions []int) Table {
	out := Table{Columns: make([]string, len(positions)), Rows: make([][]string, len(t.Rows))}
	for i, p := range positions {
		out.Columns[i] = t.Columns[p]
	}
	for r, row := range t.Rows {
		cells := make([]string, len(positions))
		for i, p := range positions {
			cells[i] = row[p]
		}
		out.Rows[r] = cells
	}
	return out
}

// Head returns at most n rows.
func (t Table) Head(n int) Table {
	if n <= 0 || len(t.Rows) <= n {
		return t
	}
	return Table{Columns: t.Columns, Rows: t.Rows[:n]}
}

func (t Table) CSV() (string, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(t.Columns); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return "", fmt.Errorf("write csv rows: %w", err)
	}
	return buf.String(), nil
}

// Markdown renders the table as a pipe table for chat display.
func (t Table) Markdown() string {
	if len(t.Columns) == 0 {
		return ""
	}
	var b strings.Builder
	writeMarkdownRow(&b, t.Columns)
	separators := make([]string, len(t.Columns))
	for i := range separators {
		separators[i] = "---"
	}
	writeMarkdownRow(&b, separators)
	for _, row := range t.Rows {
		writeMarkdownRow(&b, row)
	}
	return b.String()
}

func writeMarkdownRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, value := range cells {
		value = strings.ReplaceAll(value, "|", `\|`)
		value = strings.ReplaceAll(value, "\n", " ")
		b.WriteString(" " + value + " |")
	}
	b.WriteString("\n")
}
