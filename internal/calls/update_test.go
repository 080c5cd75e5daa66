package calls

import (
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"":            "",
		"  ":          "",
		"Completed":   StatusCompleted,
		"IN_PROGRESS": StatusInProgress,
		"answered":    StatusInProgress,
		"no_answer":   StatusNoAnswer,
		"cancelled":   StatusCanceled,
		"ringing ":    StatusRinging,
		"exploded":    StatusUnknown,
	}
	for in, want := range cases {
		if got := ParseStatus(in); got != want {
			t.Fatalf("ParseStatus(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestParseDirection(t *testing.T) {
	if got := ParseDirection("outbound-api"); got != DirectionOutbound {
		t.Fatalf("expected outbound, got %q", got)
	}
	if got := ParseDirection("outbound-dial"); got != DirectionOutbound {
		t.Fatalf("expected outbound, got %q", got)
	}
	if got := ParseDirection("Inbound"); got != DirectionInbound {
		t.Fatalf("expected inbound, got %q", got)
	}
	if got := ParseDirection("sideways"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestParseSeconds_NotObservedIsNil(t *testing.T) {
	for _, in := range []string{"", "abc", "-3", "NaN", "1e20", "3000000000", "3000000000.0"} {
		if got := ParseSeconds(in); got != nil {
			t.Fatalf("ParseSeconds(%q): expected nil, got %d", in, *got)
		}
	}
	if got := ParseSeconds("0"); got == nil || *got != 0 {
		t.Fatalf("expected explicit zero to be kept")
	}
	if got := ParseSeconds("42.0"); got == nil || *got != 42 {
		t.Fatalf("expected 42, got %v", got)
	}
	if got := ParseSeconds(" 17 "); got == nil || *got != 17 {
		t.Fatalf("expected 17, got %v", got)
	}
	if got := ParseSeconds("2147483647"); got == nil || *got != 2147483647 {
		t.Fatalf("expected the largest column value to be kept, got %v", got)
	}
}

func TestCallUpdate_Derive(t *testing.T) {
	end := time.Unix(1700000100, 0).UTC()
	u := CallUpdate{ProviderCallID: "c", EndedAt: &end, CallDurationSec: ptrInt(50), ConversationDurationSec: ptrInt(42)}
	u.Derive()
	if u.RingDurationSec == nil || *u.RingDurationSec != 8 {
		t.Fatalf("expected ring 8, got %v", u.RingDurationSec)
	}
	if u.AnsweredAt == nil || !u.AnsweredAt.Equal(end.Add(-42*time.Second)) {
		t.Fatalf("unexpected answered_at %v", u.AnsweredAt)
	}

	observed := end.Add(-10 * time.Second)
	u2 := CallUpdate{EndedAt: &end, AnsweredAt: &observed, CallDurationSec: ptrInt(10), ConversationDurationSec: ptrInt(20)}
	u2.Derive()
	if u2.RingDurationSec != nil {
		t.Fatalf("expected no ring duration for inconsistent input")
	}
	if !u2.AnsweredAt.Equal(observed) {
		t.Fatalf("observed answered_at must not be overridden")
	}
}

func TestCallUpdate_Validate(t *testing.T) {
	if err := (CallUpdate{ProviderCallID: "  "}).Validate(); err != ErrMissingProviderCallID {
		t.Fatalf("expected ErrMissingProviderCallID, got %v", err)
	}
	if err := (CallUpdate{ProviderCallID: "c1"}).Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func ptrInt(n int) *int { return &n }

func ptrTime(t time.Time) *time.Time { return &t }
