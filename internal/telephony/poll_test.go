package telephony

import (
	"encoding/json"
	"testing"
	"time"

	"crm-platform/internal/calls"
)

func TestDecodePollCall_FlexibleNumbers(t *testing.T) {
	raw := json.RawMessage(`{
		"Sid": "C2",
		"ParentCallSid": "P1",
		"DateCreated": "2024-03-01 10:00:00",
		"From": "09876543210",
		"To": "08000000000",
		"Status": "Completed",
		"Direction": "inbound",
		"StartTime": "2024-03-01 10:00:05",
		"EndTime": "2024-03-01 10:01:05",
		"Duration": "60",
		"RecordingUrl": null,
		"Details": {"ConversationDuration": 42, "RingDuration": null}
	}`)
	pc, err := DecodePollCall(raw)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	upd := pc.ToCallUpdate("o", time.UTC, time.Unix(1700000000, 0))
	if upd.Source != calls.SourcePoll || upd.ProviderCallID != "C2" || upd.ConversationID != "P1" {
		t.Fatalf("unexpected identity: %+v", upd)
	}
	if upd.Status != calls.StatusCompleted || upd.Direction != calls.DirectionInbound {
		t.Fatalf("unexpected status/direction: %q %q", upd.Status, upd.Direction)
	}
	if upd.CallDurationSec == nil || *upd.CallDurationSec != 60 {
		t.Fatalf("expected duration 60, got %v", upd.CallDurationSec)
	}
	if upd.ConversationDurationSec == nil || *upd.ConversationDurationSec != 42 {
		t.Fatalf("expected conversation 42, got %v", upd.ConversationDurationSec)
	}
	if upd.RingDurationSec != nil {
		t.Fatalf("null ring duration must stay unset")
	}
	if upd.StartedAt == nil || upd.StartedAt.Second() != 5 || upd.EndedAt == nil {
		t.Fatalf("unexpected timestamps: %v %v", upd.StartedAt, upd.EndedAt)
	}
	if string(upd.RawPayload) != string(raw) {
		t.Fatalf("raw payload not kept")
	}
}

func TestPollCall_StartFallsBackToDateCreated(t *testing.T) {
	pc, err := DecodePollCall(json.RawMessage(`{"Sid":"C","Status":"ringing","DateCreated":"2024-03-01 10:00:00","Duration":null}`))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	upd := pc.ToCallUpdate("o", time.UTC, time.Now())
	if upd.StartedAt == nil || upd.StartedAt.Hour() != 10 {
		t.Fatalf("expected DateCreated fallback, got %v", upd.StartedAt)
	}
	if upd.CallDurationSec != nil {
		t.Fatalf("expected nil duration")
	}
}

func TestFlexSeconds_Garbage(t *testing.T) {
	var f FlexSeconds
	for _, in := range []string{`"n/a"`, `-4`, `""`, `true`} {
		if err := json.Unmarshal([]byte(in), &f); err != nil {
			t.Fatalf("unexpected err for %s: %v", in, err)
		}
		if f.Value != nil {
			t.Fatalf("expected nil for %s, got %d", in, *f.Value)
		}
	}
}
