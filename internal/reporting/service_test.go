package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-platform/internal/calls"
)

func seed(t *testing.T, store *calls.MemoryStore, updates ...calls.CallUpdate) {
	t.Helper()
	svc := calls.NewService(store, nil)
	for _, u := range updates {
		if _, err := svc.Apply(context.Background(), u); err != nil {
			t.Fatalf("seed %s: %v", u.ProviderCallID, err)
		}
	}
}

func secs(n int) *int { return &n }

func aroundNow() TimeRange {
	now := time.Now()
	return TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}
}

func TestReporting_OrgIsolation(t *testing.T) {
	store := calls.NewMemoryStore()
	seed(t, store,
		calls.CallUpdate{Source: calls.SourceWebhook, ProviderCallID: "c1", OrgID: "o1", Status: calls.StatusCompleted, ConversationDurationSec: secs(30)},
		calls.CallUpdate{Source: calls.SourceWebhook, ProviderCallID: "c2", OrgID: "o2", Status: calls.StatusCompleted, ConversationDurationSec: secs(50)},
	)
	svc := NewService(store)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{OrgID: "o1", Range: aroundNow()})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 || out.TotalDurationSeconds != 30 {
		t.Fatalf("expected 1 call of 30s, got %+v", out)
	}
}

func TestReporting_CallsSummaryAggregates(t *testing.T) {
	store := calls.NewMemoryStore()
	seed(t, store,
		calls.CallUpdate{Source: calls.SourceWebhook, ProviderCallID: "c1", OrgID: "o", AgentID: "a1", Direction: calls.DirectionInbound, Status: calls.StatusCompleted, ConversationDurationSec: secs(40), RecordingURL: "https://rec/1"},
		calls.CallUpdate{Source: calls.SourcePoll, ProviderCallID: "c2", OrgID: "o", AgentID: "a1", Direction: calls.DirectionOutbound, Status: calls.StatusNoAnswer, CallDurationSec: secs(20)},
		calls.CallUpdate{Source: calls.SourceWebhook, ProviderCallID: "c3", OrgID: "o", AgentID: "a2", Direction: calls.DirectionOutbound, Status: calls.StatusRinging},
	)
	svc := NewService(store)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{OrgID: "o", Range: aroundNow()})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 3 || out.CompletedCalls != 1 || out.NoAnswerCalls != 1 || out.OpenCalls != 1 {
		t.Fatalf("unexpected status counts %+v", out)
	}
	if out.InboundCalls != 1 || out.OutboundCalls != 2 {
		t.Fatalf("unexpected direction counts %+v", out)
	}
	if out.TotalDurationSeconds != 60 || out.AverageDurationSeconds != 20 {
		t.Fatalf("unexpected durations %+v", out)
	}
	if out.RecordedCalls != 1 || out.ActivitiesLogged != 2 {
		t.Fatalf("unexpected recording/activity counts %+v", out)
	}

	byAgent, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{OrgID: "o", AgentID: "a2", Range: aroundNow()})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if byAgent.TotalCalls != 1 {
		t.Fatalf("expected agent filter, got %+v", byAgent)
	}
}

func TestReporting_AgentBreakdown(t *testing.T) {
	store := calls.NewMemoryStore()
	seed(t, store,
		calls.CallUpdate{Source: calls.SourceWebhook, ProviderCallID: "c1", OrgID: "o", AgentID: "b", Status: calls.StatusCompleted, ConversationDurationSec: secs(10)},
		calls.CallUpdate{Source: calls.SourceWebhook, ProviderCallID: "c2", OrgID: "o", AgentID: "b", Status: calls.StatusBusy},
		calls.CallUpdate{Source: calls.SourceWebhook, ProviderCallID: "c3", OrgID: "o", AgentID: "a", Status: calls.StatusCompleted, ConversationDurationSec: secs(5)},
		calls.CallUpdate{Source: calls.SourceWebhook, ProviderCallID: "c4", OrgID: "o", Status: calls.StatusCompleted},
	)
	svc := NewService(store)

	out, err := svc.AgentBreakdown(context.Background(), AgentBreakdownRequest{OrgID: "o", Range: aroundNow()})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(out.Agents) != 2 || out.Agents[0].AgentID != "a" || out.Agents[1].AgentID != "b" {
		t.Fatalf("unexpected agents %+v", out.Agents)
	}
	b := out.Agents[1]
	if b.CallsAttempted != 2 || b.CallsConnected != 1 || b.TalkSeconds != 10 || b.ConnectionRate != 0.5 {
		t.Fatalf("unexpected metrics for b: %+v", b)
	}
}

func TestReporting_InvalidRequest(t *testing.T) {
	svc := NewService(calls.NewMemoryStore())
	if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{Range: aroundNow()}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without org, got %v", err)
	}
	r := aroundNow()
	r.From, r.To = r.To, r.From
	if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{OrgID: "o", Range: r}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for inverted range, got %v", err)
	}
}
