package incident

import (
	"errors"
	"strings"
	"testing"

	"github.com/nocassist/nocassist/internal/query"
	"github.com/nocassist/nocassist/internal/schema"
)

func TestBatchValidate(t *testing.T) {
	registry := schema.Incidents()
	tests := []struct {
		name  string
		batch Batch
		want  string
	}{
		{name: "empty", batch: Batch{Columns: []string{"client_name"}}, want: "no rows"},
		{name: "unknown column", batch: Batch{Columns: []string{"client_name", "colour"}, Rows: [][]string{{"ACME", "red"}}}, want: "unknown column"},
		{name: "duplicate column", batch: Batch{Columns: []string{"client_name", "client_name"}, Rows: [][]string{{"ACME", "ACME"}}}, want: "duplicate column"},
		{name: "missing tenant", batch: Batch{Columns: []string{"incident_id"}, Rows: [][]string{{"INC-1"}}}, want: "missing tenant column"},
		{name: "ragged row", batch: Batch{Columns: []string{"client_name", "incident_id"}, Rows: [][]string{{"ACME"}}}, want: "row 1 has 1 values"},
		{name: "blank tenant", batch: Batch{Columns: []string{"client_name"}, Rows: [][]string{{"ACME"}, {"  "}}}, want: "row 2 has an empty tenant"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.batch.Validate(registry)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tc.want)
			}
		})
	}

	ok := Batch{Columns: []string{"incident_id", "client_name"}, Rows: [][]string{{"INC-1", "ACME"}}}
	if err := ok.Validate(registry); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := (Batch{Columns: []string{"client_name"}}).Validate(registry); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("Validate() error = %v, want ErrEmptyBatch", err)
	}
}

func TestBatchTenantsAreDistinctAndSorted(t *testing.T) {
	batch := Batch{
		Columns: []string{"incident_id", "client_name"},
		Rows:    [][]string{{"1", "Globex"}, {"2", "ACME"}, {"3", "Globex"}},
	}
	got := batch.Tenants(schema.Incidents())
	if len(got) != 2 || got[0] != "ACME" || got[1] != "Globex" {
		t.Fatalf("Tenants() = %v", got)
	}
}

func TestNullableValues(t *testing.T) {
	got := NullableValues([]string{"a", ""})
	if got[0] != "a" || got[1] != nil {
		t.Fatalf("NullableValues() = %#v", got)
	}
}

func TestStatsQueryQuotesIdentifiers(t *testing.T) {
	got := StatsQuery(schema.Incidents())
	want := `SELECT "client_name" AS tenant, COUNT(*) AS incident_count FROM "incidents" GROUP BY "client_name" ORDER BY incident_count DESC, tenant ASC`
	if got != want {
		t.Fatalf("StatsQuery() = %s", got)
	}
}

func TestStatsFromResultAcceptsDriverCountTypes(t *testing.T) {
	stats, err := StatsFromResult(query.Result{Rows: [][]any{
		{"ACME", int64(4)},
		{"Globex", "2"},
		{"Initech", float64(1)},
	}})
	if err != nil {
		t.Fatalf("StatsFromResult() error = %v", err)
	}
	if stats.Total != 7 || len(stats.ByTenant) != 3 {
		t.Fatalf("StatsFromResult() = %#v", stats)
	}

	if _, err := StatsFromResult(query.Result{Rows: [][]any{{"ACME", true}}}); err == nil {
		t.Fatal("expected error for unsupported count type")
	}
}
