package memory

import (
	"strings"
	"testing"

	"github.com/nocassist/nocassist/internal/query"
	"github.com/nocassist/nocassist/internal/schema"
)

func wideResult(columns []string) query.Result {
	row := make([]any, len(columns))
	for i, column := range columns {
		row[i] = "v-" + column
	}
	return query.Result{Columns: columns, Rows: [][]any{row, row}}
}

func TestProjectKeepsNarrowResults(t *testing.T) {
	registry := schema.Incidents()
	result := wideResult([]string{"reason", "client_name"})

	got := Project(result, registry, DisplayProjection(registry, 10))
	if strings.Join(got.Columns, ",") != "reason,client_name" {
		t.Fatalf("Columns = %v", got.Columns)
	}
}

func TestProjectReducesWideResultsToKeyColumns(t *testing.T) {
	registry := schema.Incidents()
	result := wideResult(registry.Columns())

	got := Project(result, registry, DisplayProjection(registry, 10))
	if strings.Join(got.Columns, ",") != strings.Join(registry.KeyColumns(), ",") {
		t.Fatalf("Columns = %v, want key columns", got.Columns)
	}
	if got.Rows[0][0] != "v-incident_id" {
		t.Fatalf("row = %v", got.Rows[0])
	}
}

func TestProjectFallsBackToRegistryOrder(t *testing.T) {
	registry := schema.Incidents()
	columns := []string{
		"vendor", "remarks", "LH", "uni_nni", "link_type", "provider", "subcenter", "vlan_id",
		"reason", "task_comments", "fault_id", "total",
	}
	got := Project(wideResult(columns), registry, DisplayProjection(registry, 10))
	want := "fault_id,LH,uni_nni,link_type,reason,remarks,task_comments,provider,subcenter,vendor"
	if strings.Join(got.Columns, ",") != want {
		t.Fatalf("Columns = %v, want %s", got.Columns, want)
	}
}

func TestSummaryProjectionAlwaysReduces(t *testing.T) {
	registry := schema.Incidents()
	got := Project(wideResult([]string{"incident_id", "reason", "client_name"}), registry, SummaryProjection(registry))
	if strings.Join(got.Columns, ",") != "client_name,reason" {
		t.Fatalf("Columns = %v", got.Columns)
	}
}

func TestTableCSVAndMarkdown(t *testing.T) {
	table := Table{Columns: []string{"client_name", "reason"}, Rows: [][]string{{"GP", "fiber cut, north"}, {"Robi", "a|b"}}}

	csvText, err := table.CSV()
	if err != nil {
		t.Fatalf("CSV() error = %v", err)
	}
	if csvText != "client_name,reason\nGP,\"fiber cut, north\"\nRobi,a|b\n" {
		t.Fatalf("CSV() = %q", csvText)
	}

	markdown := table.Markdown()
	if !strings.Contains(markdown, "| client_name | reason |\n| --- | --- |\n") || !strings.Contains(markdown, `a\|b`) {
		t.Fatalf("Markdown() = %q", markdown)
	}
}

func TestTableHead(t *testing.T) {
	table := Table{Columns: []string{"a"}, Rows: [][]string{{"1"}, {"2"}, {"3"}}}
	if got := table.Head(2); len(got.Rows) != 2 {
		t.Fatalf("Head(2) rows = %d", len(got.Rows))
	}
	if got := table.Head(0); len(got.Rows) != 3 {
		t.Fatalf("Head(0) rows = %d", len(got.Rows))
	}
}
