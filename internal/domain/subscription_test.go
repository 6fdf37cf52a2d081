package domain

import (
	"testing"
	"time"
)

func TestEffectivePollIntervalBackoff(t *testing.T) {
	t.Parallel()

	sub := &Subscription{PollInterval: time.Minute}

	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{3, 8 * time.Minute},
		{20, time.Hour}, // Уперлись в потолок
	}
	for _, c := range cases {
		sub.ConsecutiveFailures = c.failures
		if got := sub.EffectivePollInterval(time.Hour); got != c.want {
			t.Errorf("failures=%d: got %v, want %v", c.failures, got, c.want)
		}
	}
}

func TestDueAt(t *testing.T) {
	t.Parallel()

	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub := &Subscription{PollInterval: 10 * time.Minute, LastSyncAt: last}

	if got := sub.DueAt(time.Hour); !got.Equal(last.Add(10 * time.Minute)) {
		t.Errorf("DueAt: got %v", got)
	}

	sub.ConsecutiveFailures = 2
	if got := sub.DueAt(time.Hour); !got.Equal(last.Add(40 * time.Minute)) {
		t.Errorf("DueAt with backoff: got %v", got)
	}
}

func TestSyncable(t *testing.T) {
	t.Parallel()

	for _, status := range []SyncStatus{SyncIdle, SyncRunning, SyncError} {
		sub := &Subscription{SyncStatus: status}
		if !sub.Syncable() {
			t.Errorf("status %s must be syncable", status)
		}
	}
	sub := &Subscription{SyncStatus: SyncSuspended}
	if sub.Syncable() {
		t.Error("suspended subscription must not be syncable")
	}
}

func TestStaleness(t *testing.T) {
	t.Parallel()

	now := time.Now()
	sub := &Subscription{}
	if got := sub.Staleness(now); got != 0 {
		t.Errorf("never-synced staleness: got %v, want 0", got)
	}

	sub.LastSyncAt = now.Add(-time.Hour)
	if got := sub.Staleness(now); got != time.Hour {
		t.Errorf("staleness: got %v, want 1h", got)
	}
}
