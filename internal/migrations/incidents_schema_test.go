package migrations

import (
	"strings"
	"testing"

	"github.com/nocassist/nocassist/internal/schema"
)

func TestIncidentMigrationMatchesRegistry(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000001_incidents.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	sql := string(body)
	if !strings.Contains(sql, "CREATE TABLE incidents") {
		t.Fatal("migration does not create the incidents table")
	}
	for _, column := range schema.Incidents().Columns() {
		if !strings.Contains(sql, column+" TEXT") && !strings.Contains(sql, `"`+column+`" TEXT`) {
			t.Fatalf("migration missing column %s", column)
		}
	}
	if !strings.Contains(sql, "CREATE INDEX idx_incidents_client_name") {
		t.Fatal("migration missing tenant index")
	}
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	items, err := Load(embeddedFS)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(items) == 0 || items[0].Version != 1 {
		t.Fatalf("items = %+v", items)
	}
}
