package migration

import (
	"testing"
)

func TestSource_EmbedsCallSyncSchema(t *testing.T) {
	src, err := Source()
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	defer src.Close()

	first, err := src.First()
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first version 1, got %d", first)
	}
	up, ident, err := src.ReadUp(first)
	if err != nil {
		t.Fatalf("read up: %v", err)
	}
	defer up.Close()
	if ident != "call_sync" {
		t.Fatalf("unexpected identifier %q", ident)
	}
}

func TestRunMigrations_NilDB(t *testing.T) {
	if err := RunMigrations(nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}
