package utils

import (
	"context"
	"testing"
	"time"
)

func TestRedisScriptsInitialized(t *testing.T) {
	if concurrencyAcquireScript == nil || concurrencyReleaseScript == nil || lockReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestAcquireConcurrencyCap_ValidatesInput(t *testing.T) {
	ctx := context.Background()
	if _, err := AcquireConcurrencyCap(ctx, nil, "k", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := ReleaseConcurrencyCap(ctx, nil, "k"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestLocker_NilClient(t *testing.T) {
	if l := NewLocker(nil); l != nil {
		t.Fatalf("expected nil locker without client")
	}
	var l *Locker
	if _, ok, err := l.TryLock(context.Background(), SweepLockKey, time.Second); ok || err == nil {
		t.Fatalf("expected error from unconfigured locker")
	}
	if err := l.Release(context.Background(), SweepLockKey, "tok"); err != nil {
		t.Fatalf("release on nil locker should be a no-op, got %v", err)
	}
}

func TestRecordingStreamKey(t *testing.T) {
	if got := RecordingStreamKey("o1"); got != "crm:recording_streams:o1" {
		t.Fatalf("unexpected key %q", got)
	}
}
