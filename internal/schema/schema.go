// Package schema describes the fixed incident record layout shared by every
// pipeline stage. The registry is built once at startup and never mutated.
package schema

import "strings"

type Role string

const (
	RoleField      Role = "field"
	RoleIdentifier Role = "identifier"
	RoleTenant     Role = "tenant"
	RoleTimestamp  Role = "timestamp"
	RoleLink       Role = "link"
)

type Column struct {
	Name string
	Role Role
}

type Registry struct {
	table          string
	columns        []Column
	names          []string
	positions      map[string]int
	folded         map[string]string
	tenant         string
	identifiers    []string
	links          []string
	recency        string
	keyColumns     []string
	summaryColumns []string
}

// Definition is the input for New. Key and summary columns must name
// declared columns; unknown names are dropped.
type Definition struct {
	Table          string
	Columns        []Column
	RecencyColumn  string
	KeyColumns     []string
	SummaryColumns []string
}

func New(def Definition) *Registry {
	r := &Registry{
		table:     def.Table,
		positions: make(map[string]int, len(def.Columns)),
		folded:    make(map[string]string, len(def.Columns)),
	}
	for _, column := range def.Columns {
		if _, exists := r.positions[column.Name]; exists {
			continue
		}
		r.positions[column.Name] = len(r.columns)
		r.folded[strings.ToLower(column.Name)] = column.Name
		r.columns = append(r.columns, column)
		r.names = append(r.names, column.Name)

		switch column.Role {
		case RoleTenant:
			if r.tenant == "" {
				r.tenant = column.Name
			}
		case RoleIdentifier:
			r.identifiers = append(r.identifiers, column.Name)
		case RoleLink:
			r.links = append(r.links, column.Name)
		}
	}
	if _, ok := r.positions[def.RecencyColumn]; ok {
		r.recency = def.RecencyColumn
	}
	r.keyColumns = r.known(def.KeyColumns)
	r.summaryColumns = r.known(def.SummaryColumns)
	return r
}

func (r *Registry) known(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := r.positions[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func (r *Registry) Table() string {
	return r.table
}

// Columns returns all column names in declaration order.
func (r *Registry) Columns() []string {
	return append([]string(nil), r.names...)
}

func (r *Registry) TenantColumn() string {
	return r.tenant
}

func (r *Registry) IdentifierColumns() []string {
	return append([]string(nil), r.identifiers...)
}

func (r *Registry) LinkColumns() []string {
	return append([]string(nil), r.links...)
}

func (r *Registry) RecencyColumn() string {
	return r.recency
}

// KeyColumns is the priority-ordered subset used for display reduction.
func (r *Registry) KeyColumns() []string {
	return append([]string(nil), r.keyColumns...)
}

// SummaryColumns is the priority-ordered subset used for analysis reports.
func (r *Registry) SummaryColumns() []string {
	return append([]string(nil), r.summaryColumns...)
}

func (r *Registry) Has(name string) bool {
	_, ok := r.positions[name]
	return ok
}

// Lookup resolves a column name case-insensitively to its declared spelling.
func (r *Registry) Lookup(name string) (string, bool) {
	if _, ok := r.positions[name]; ok {
		return name, true
	}
	declared, ok := r.folded[strings.ToLower(strings.TrimSpace(name))]
	return declared, ok
}

// Position returns the declaration index of a column, or -1.
func (r *Registry) Position(name string) int {
	if declared, ok := r.Lookup(name); ok {
		return r.positions[declared]
	}
	return -1
}

func (r *Registry) Role(name string) (Role, bool) {
	declared, ok := r.Lookup(name)
	if !ok {
		return "", false
	}
	return r.columns[r.positions[declared]].Role, true
}
