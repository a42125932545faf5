package storage

import (
	"testing"
	"time"
)

func TestBuildBatchPathUsesUTCDay(t *testing.T) {
	ts := time.Date(2026, time.October, 17, 22, 5, 0, 0, time.FixedZone("BDT-ish", -5*3600))
	key, err := BuildBatchPath("incidents", ts, "2b7f1c0e")
	if err != nil {
		t.Fatalf("BuildBatchPath() error = %v", err)
	}
	if want := "incidents/date=2026-10-18/batch-2b7f1c0e.parquet"; key != want {
		t.Fatalf("BuildBatchPath() = %q, want %q", key, want)
	}
	if !IsBatchKey("incidents", key) {
		t.Fatalf("IsBatchKey(%q) = false", key)
	}
}

func TestBuildBatchPathRejectsTraversal(t *testing.T) {
	if _, err := BuildBatchPath("../incidents", time.Now(), "x"); err == nil {
		t.Fatal("expected invalid table name error")
	}
	if _, err := BuildBatchPath("incidents", time.Now(), "a/b"); err == nil {
		t.Fatal("expected invalid batch id error")
	}
}

func TestIsBatchKey(t *testing.T) {
	cases := map[string]bool{
		"incidents/date=2026-10-18/batch-1.parquet":      true,
		"incidents/date=2026-10-18/batch-1.csv":          false,
		"incidents/batch-1.parquet":                      false,
		"other/date=2026-10-18/batch-1.parquet":          false,
		"incidents/date=2026-10-18/nested/batch.parquet": false,
		"incidents/date=2026-10-18/_tmp.parquet":         false,
	}
	for key, want := range cases {
		if got := IsBatchKey("incidents", key); got != want {
			t.Fatalf("IsBatchKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestTablePrefix(t *testing.T) {
	prefix, err := TablePrefix("incidents")
	if err != nil {
		t.Fatalf("TablePrefix() error = %v", err)
	}
	if prefix != "incidents/" {
		t.Fatalf("TablePrefix() = %q", prefix)
	}
	if _, err := TablePrefix(""); err == nil {
		t.Fatal("expected empty table name error")
	}
}
