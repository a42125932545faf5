// Package memory classifies query results into the bounded working memory a
// session keeps between turns, and shapes results for display.
package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nocassist/nocassist/internal/query"
	"github.com/nocassist/nocassist/internal/schema"
)

const DefaultSampleSize = 10

type Kind string

const (
	KindEmpty     Kind = "empty"
	KindSingle    Kind = "single"
	KindAggregate Kind = "aggregate"
)

type Field struct {
	Name  string
	Value string
}

type IdentifierSample struct {
	Column string   `json:"column"`
	Values []string `json:"values"`
}

// Summary is the bounded description of a multi-row result.
type Summary struct {
	Total       int                `json:"total"`
	Tenants     []string           `json:"tenants"`
	Identifiers []IdentifierSample `json:"identifiers"`
	Links       []string           `json:"links"`
	Recent      []string           `json:"recent"`
}

// WorkingMemory holds exactly one of: nothing, one full record, or a summary.
type WorkingMemory struct {
	kind    Kind
	record  []Field
	summary Summary
}

func Empty() WorkingMemory {
	return WorkingMemory{kind: KindEmpty}
}

func (m WorkingMemory) Kind() Kind {
	if m.kind == "" {
		return KindEmpty
	}
	return m.kind
}

func (m WorkingMemory) IsEmpty() bool {
	return m.Kind() == KindEmpty
}

// Record returns the fields of a single-record memory in result order.
func (m WorkingMemory) Record() []Field {
	return append([]Field(nil), m.record...)
}

func (m WorkingMemory) Summary() (Summary, bool) {
	return m.summary, m.kind == KindAggregate
}

// Classify builds working memory from a result. sampleSize bounds every
// list kept for an aggregate; values <= 0 use DefaultSampleSize.
func Classify(result query.Result, registry *schema.Registry, sampleSize int) WorkingMemory {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	switch len(result.Rows) {
	case 0:
		return Empty()
	case 1:
		row := result.Rows[0]
		fields := make([]Field, len(result.Columns))
		for i, column := range result.Columns {
			var value any
			if i < len(row) {
				value = row[i]
			}
			fields[i] = Field{Name: column, Value: FormatValue(value)}
		}
		return WorkingMemory{kind: KindSingle, record: fields}
	}

	index := columnIndex(result.Columns, registry)
	summary := Summary{
		Total:       len(result.Rows),
		Tenants:     []string{},
		Identifiers: []IdentifierSample{},
		Links:       []string{},
		Recent:      []string{},
	}

	if idx, ok := index[registry.TenantColumn()]; ok {
		seen := map[string]struct{}{}
		for _, row := range result.Rows {
			tenant := FormatValue(cell(row, idx))
			if _, dup := seen[tenant]; dup {
				continue
			}
			seen[tenant] = struct{}{}
			summary.Tenants = append(summary.Tenants, tenant)
		}
	}
	for _, column := range registry.IdentifierColumns() {
		idx, ok := index[column]
		if !ok {
			continue
		}
		sample := IdentifierSample{Column: column, Values: make([]string, 0, sampleSize)}
		for _, row := range result.Rows {
			if len(sample.Values) == sampleSize {
				break
			}
			sample.Values = append(sample.Values, FormatValue(cell(row, idx)))
		}
		summary.Identifiers = append(summary.Identifiers, sample)
	}
	for _, column := range registry.LinkColumns() {
		if idx, ok := index[column]; ok {
			summary.Links = appendNonEmpty(summary.Links, result.Rows, idx, sampleSize)
		}
	}
	if idx, ok := index[registry.RecencyColumn()]; ok {
		summary.Recent = appendNonEmpty(summary.Recent, result.Rows, idx, sampleSize)
	}
	return WorkingMemory{kind: KindAggregate, summary: summary}
}

func appendNonEmpty(out []string, rows [][]any, idx, limit int) []string {
	for _, row := range rows {
		if len(out) >= limit {
			break
		}
		if value := FormatValue(cell(row, idx)); value != "" {
			out = append(out, value)
		}
	}
	return out
}

// columnIndex maps declared registry names to the first result position
// that resolves to them.
func columnIndex(columns []string, registry *schema.Registry) map[string]int {
	index := make(map[string]int, len(columns))
	for i, column := range columns {
		declared, ok := registry.Lookup(column)
		if !ok {
			continue
		}
		if _, exists := index[declared]; !exists {
			index[declared] = i
		}
	}
	return index
}

func cell(row []any, idx int) any {
	if idx < 0 || idx >= len(row) {
		return nil
	}
	return row[idx]
}

// FormatValue renders a driver value as display text; NULL is empty.
func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	case time.Time:
		return typed.Format("2006-01-02 15:04:05")
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	default:
		return fmt.Sprint(typed)
	}
}

// Payload serializes the memory for the answer generator. Single records keep
// their column order.
func (m WorkingMemory) Payload() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	kind, _ := json.Marshal(string(m.Kind()))
	buf.Write(kind)

	switch m.Kind() {
	case KindSingle:
		buf.WriteString(`,"record":{`)
		for i, field := range m.record {
			if i > 0 {
				buf.WriteByte(',')
			}
			name, err := json.Marshal(field.Name)
			if err != nil {
				return nil, fmt.Errorf("encode field name: %w", err)
			}
			value, err := json.Marshal(field.Value)
			if err != nil {
				return nil, fmt.Errorf("encode field %q: %w", field.Name, err)
			}
			buf.Write(name)
			buf.WriteByte(':')
			buf.Write(value)
		}
		buf.WriteByte('}')
	case KindAggregate:
		summary, err := json.Marshal(m.summary)
		if err != nil {
			return nil, fmt.Errorf("encode summary: %w", err)
		}
		buf.WriteString(`,"summary":`)
		buf.Write(summary)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
