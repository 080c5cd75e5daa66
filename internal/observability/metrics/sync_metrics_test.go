package metrics

import (
	"testing"
	"time"

	"crm-platform/internal/calls"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSyncMetrics_Counters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewSyncMetrics(registry, Config{ServiceName: "crm-test", Environment: "test"})

	m.UpdateApplied(calls.SourceWebhook, calls.ResultCreated)
	m.UpdateApplied(calls.SourceWebhook, calls.ResultCreated)
	m.UpdateApplied("", calls.ResultInvalid)
	m.ActivityCreated(calls.SourcePoll)
	m.SweepCalls(calls.ResultUpdated, 3)
	m.SweepCalls(calls.ResultUpdated, 0)

	if got := testutil.ToFloat64(m.updatesApplied.WithLabelValues("webhook", calls.ResultCreated)); got != 2 {
		t.Fatalf("expected 2 webhook creates, got %v", got)
	}
	if got := testutil.ToFloat64(m.updatesApplied.WithLabelValues("unknown", calls.ResultInvalid)); got != 1 {
		t.Fatalf("expected unknown source label, got %v", got)
	}
	if got := testutil.ToFloat64(m.activitiesCreated.WithLabelValues("poll")); got != 1 {
		t.Fatalf("expected 1 activity, got %v", got)
	}
	if got := testutil.ToFloat64(m.sweepCalls.WithLabelValues(calls.ResultUpdated)); got != 3 {
		t.Fatalf("expected 3 sweep calls, got %v", got)
	}
}

func TestSyncMetrics_SkippedSweepNotTimed(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewSyncMetrics(registry, Config{})

	m.SweepRun(SweepResultSkipped, time.Second)
	m.SweepRun(SweepResultOK, 2*time.Second)

	if got := testutil.ToFloat64(m.sweepRuns.WithLabelValues(SweepResultSkipped)); got != 1 {
		t.Fatalf("expected 1 skipped run, got %v", got)
	}
	if n := testutil.CollectAndCount(registry, "callsync_sweep_duration_seconds"); n != 1 {
		t.Fatalf("expected duration histogram to be collected, got %d", n)
	}
}

func TestSyncMetrics_NilSafe(t *testing.T) {
	var m *SyncMetrics
	m.UpdateApplied(calls.SourcePoll, calls.ResultError)
	m.ActivityCreated(calls.SourcePoll)
	m.WebhookEvent(WebhookResultOK)
	m.SweepRun(SweepResultOK, time.Second)
	m.SweepConfig(ConfigResultOK)
	m.SweepCalls(calls.ResultError, 1)
}
