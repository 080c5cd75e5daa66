package calls

import (
	"database/sql"
	"strings"
	"testing"
	"time"
)

func TestCallArgs_MatchColumns(t *testing.T) {
	if got, want := len(callArgs(CallRecord{})), len(strings.Split(callColumns, ",")); got != want {
		t.Fatalf("callArgs has %d values for %d columns", got, want)
	}
}

func TestUpdateCallArgs_SkipsCreatedAt(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)
	rec := CallRecord{ID: "r1", ProviderCallID: "C1", OrgID: "o", Status: StatusCompleted, ActivityID: "act-1", CreatedAt: created, UpdatedAt: updated}

	args := updateCallArgs(rec)
	if len(args) != 22 {
		t.Fatalf("expected 22 args for $1..$22, got %d", len(args))
	}
	if args[0] != "r1" || args[1] != "C1" {
		t.Fatalf("expected id and provider call id first, got %v %v", args[0], args[1])
	}
	if a, ok := args[20].(sql.NullString); !ok || a.String != "act-1" {
		t.Fatalf("expected activity id as $21, got %#v", args[20])
	}
	if u, ok := args[21].(time.Time); !ok || !u.Equal(updated) {
		t.Fatalf("expected updated_at as $22, got %#v", args[21])
	}
	for i, a := range args {
		if ts, ok := a.(time.Time); ok && ts.Equal(created) {
			t.Fatalf("created_at leaked into update args at $%d", i+1)
		}
	}

	// The full insert args must be untouched by the update slice.
	if full := callArgs(rec); full[21] != any(created) {
		t.Fatalf("expected created_at at $22 of insert args, got %#v", full[21])
	}
}
