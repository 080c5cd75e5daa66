package calls

import "testing"

func TestStatus_IsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("expected %q to be terminal", s)
		}
	}
	live := []Status{StatusQueued, StatusRinging, StatusInProgress, StatusUnknown, ""}
	for _, s := range live {
		if s.IsTerminal() {
			t.Fatalf("expected %q to be non-terminal", s)
		}
	}
}

func TestStatus_RankOrdersLifecycle(t *testing.T) {
	order := []Status{StatusUnknown, StatusQueued, StatusRinging, StatusInProgress, StatusCompleted}
	for i := 1; i < len(order); i++ {
		if order[i].rank() <= order[i-1].rank() {
			t.Fatalf("expected %q to rank above %q", order[i], order[i-1])
		}
	}
}

func TestSessionStatusFor(t *testing.T) {
	cases := map[Status]SessionStatus{
		StatusQueued:     SessionInitiating,
		StatusUnknown:    SessionInitiating,
		StatusRinging:    SessionRinging,
		StatusInProgress: SessionConnected,
		StatusCompleted:  SessionEnded,
		StatusNoAnswer:   SessionEnded,
		StatusCanceled:   SessionEnded,
	}
	for in, want := range cases {
		if got := SessionStatusFor(in); got != want {
			t.Fatalf("%q: expected %q, got %q", in, want, got)
		}
	}
}
