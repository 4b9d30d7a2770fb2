package device

import (
	"errors"
	"math"
	"testing"
	"time"
)

func u64(v uint64) *uint64 { return &v }

// =============================================================================
// Observe Tests
// =============================================================================

func TestTracker_RateOverTenSeconds(t *testing.T) {
	tr := NewTracker(nil)
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	id := "0x00124b0012345678"

	if _, err := tr.Observe(Observation{ID: id, Messages: u64(10)}, t0); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	rec, err := tr.Observe(Observation{ID: id, Messages: u64(25)}, t0.Add(10*time.Second))
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	if math.Abs(rec.MessagesPerSec-1.5) > 1e-9 {
		t.Errorf("MessagesPerSec = %v, want 1.5", rec.MessagesPerSec)
	}
	if rec.AppearancesTotal != 2 {
		t.Errorf("AppearancesTotal = %d, want 2", rec.AppearancesTotal)
	}
	if rec.MessageCount != 25 {
		t.Errorf("MessageCount = %d, want 25", rec.MessageCount)
	}
	if !rec.LastSeen.Equal(t0.Add(10 * time.Second)) {
		t.Errorf("LastSeen = %v, want %v", rec.LastSeen, t0.Add(10*time.Second))
	}
	if !rec.FirstSeen.Equal(t0) {
		t.Errorf("FirstSeen = %v, want %v", rec.FirstSeen, t0)
	}
}

func TestTracker_AppearancesCountEveryReport(t *testing.T) {
	tr := NewTracker(nil)
	t0 := time.Unix(1_700_000_000, 0)

	const n = 7
	for i := 0; i < n; i++ {
		// Identical payload every time: appearances must still climb.
		if _, err := tr.Observe(Observation{ID: "dev", Messages: u64(3), LeaveCount: u64(1)}, t0.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Observe() error = %v", err)
		}
	}

	rec, ok := tr.Get("dev")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if rec.AppearancesTotal != n {
		t.Errorf("AppearancesTotal = %d, want %d", rec.AppearancesTotal, n)
	}
	if rec.MessagesPerSec != 0 {
		t.Errorf("MessagesPerSec = %v, want 0 for unchanged count", rec.MessagesPerSec)
	}
}

func TestTracker_ClockAnomalyKeepsRate(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
	}{
		{name: "duplicate timestamp", offset: 0},
		{name: "clock went backwards", offset: -5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(nil)
			t0 := time.Unix(1_700_000_000, 0)

			mustObserve(t, tr, Observation{ID: "a", Messages: u64(0)}, t0)
			rec := mustObserve(t, tr, Observation{ID: "a", Messages: u64(20)}, t0.Add(10*time.Second))
			if rec.MessagesPerSec != 2 {
				t.Fatalf("MessagesPerSec = %v, want 2", rec.MessagesPerSec)
			}

			rec = mustObserve(t, tr, Observation{ID: "a", Messages: u64(500)}, t0.Add(10*time.Second+tt.offset))
			if rec.MessagesPerSec != 2 {
				t.Errorf("MessagesPerSec = %v, want previous rate 2", rec.MessagesPerSec)
			}
			if rec.MessageCount != 500 {
				t.Errorf("MessageCount = %d, want 500", rec.MessageCount)
			}
			if rec.AppearancesTotal != 3 {
				t.Errorf("AppearancesTotal = %d, want 3", rec.AppearancesTotal)
			}
		})
	}
}

func TestTracker_CounterResetKeepsRate(t *testing.T) {
	tr := NewTracker(nil)
	t0 := time.Unix(1_700_000_000, 0)

	mustObserve(t, tr, Observation{ID: "a", Messages: u64(100)}, t0)
	mustObserve(t, tr, Observation{ID: "a", Messages: u64(150)}, t0.Add(10*time.Second))
	rec := mustObserve(t, tr, Observation{ID: "a", Messages: u64(4)}, t0.Add(20*time.Second))

	if rec.MessagesPerSec != 5 {
		t.Errorf("MessagesPerSec = %v, want previous rate 5 after counter reset", rec.MessagesPerSec)
	}
	if rec.MessageCount != 4 {
		t.Errorf("MessageCount = %d, want 4", rec.MessageCount)
	}
}

func TestTracker_PartialObservation(t *testing.T) {
	tr := NewTracker(nil)
	t0 := time.Unix(1_700_000_000, 0)

	mustObserve(t, tr, Observation{ID: "a", Messages: u64(10), LeaveCount: u64(2), NetworkAddressChanges: u64(1)}, t0)
	rec := mustObserve(t, tr, Observation{ID: "a", FriendlyName: "kitchen"}, t0.Add(time.Second))

	if rec.MessageCount != 10 || rec.LeaveCount != 2 || rec.NetworkAddressChanges != 1 {
		t.Errorf("counters changed on partial observation: %+v", rec)
	}
	if rec.FriendlyName != "kitchen" {
		t.Errorf("FriendlyName = %q, want %q", rec.FriendlyName, "kitchen")
	}
}

func TestTracker_EmptyID(t *testing.T) {
	tr := NewTracker(nil)
	_, err := tr.Observe(Observation{}, time.Now())
	if !errors.Is(err, ErrInvalidID) {
		t.Errorf("Observe() error = %v, want ErrInvalidID", err)
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}

func TestTracker_SnapshotIsSortedCopy(t *testing.T) {
	tr := NewTracker(nil)
	now := time.Now()
	mustObserve(t, tr, Observation{ID: "b"}, now)
	mustObserve(t, tr, Observation{ID: "a"}, now)

	snap := tr.Snapshot()
	if len(snap) != 2 || snap[0].ID != "a" || snap[1].ID != "b" {
		t.Fatalf("Snapshot() = %+v, want [a b]", snap)
	}

	snap[0].AppearancesTotal = 99
	if rec, _ := tr.Get("a"); rec.AppearancesTotal != 1 {
		t.Error("mutating snapshot changed tracker state")
	}
}

// =============================================================================
// Eviction Tests
// =============================================================================

func TestTracker_EvictTTL(t *testing.T) {
	tr := NewTracker(TTLEviction{TTL: time.Minute})
	t0 := time.Unix(1_700_000_000, 0)

	mustObserve(t, tr, Observation{ID: "stale"}, t0)
	mustObserve(t, tr, Observation{ID: "fresh"}, t0.Add(90*time.Second))

	evicted := tr.Evict(t0.Add(2 * time.Minute))
	if len(evicted) != 1 || evicted[0] != "stale" {
		t.Errorf("Evict() = %v, want [stale]", evicted)
	}
	if _, ok := tr.Get("fresh"); !ok {
		t.Error("fresh device was evicted")
	}

	// A returning device starts a fresh record.
	rec := mustObserve(t, tr, Observation{ID: "stale"}, t0.Add(3*time.Minute))
	if rec.AppearancesTotal != 1 {
		t.Errorf("AppearancesTotal = %d, want 1 after eviction", rec.AppearancesTotal)
	}
}

func TestPolicyForTTL(t *testing.T) {
	if _, ok := PolicyForTTL(0).(NeverEvict); !ok {
		t.Error("PolicyForTTL(0) is not NeverEvict")
	}
	if p, ok := PolicyForTTL(time.Hour).(TTLEviction); !ok || p.TTL != time.Hour {
		t.Errorf("PolicyForTTL(1h) = %#v, want TTLEviction{1h}", PolicyForTTL(time.Hour))
	}

	rec := Record{LastSeen: time.Unix(0, 0)}
	if (NeverEvict{}).Expired(rec, time.Now()) {
		t.Error("NeverEvict.Expired() = true")
	}
}

// =============================================================================
// Identity Tests
// =============================================================================

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		name    string
		ieee    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "canonical ieee key", raw: "0x00124b0012345678", want: "0x00124b0012345678"},
		{name: "upper-case key", raw: "0x00124B0012345678", want: "0x00124b0012345678"},
		{name: "missing prefix", raw: "00124b0012345678", want: "0x00124b0012345678"},
		{name: "ieee field beats friendly name key", ieee: "0x00124b0012345678", raw: "living_room_lamp", want: "0x00124b0012345678"},
		{name: "friendly name fallback", raw: " hallway sensor ", want: "hallway sensor"},
		{name: "short hex is not ieee", raw: "0x1234", want: "0x1234"},
		{name: "empty", raw: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeID(tt.ieee, tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidID) {
					t.Errorf("NormalizeID() error = %v, want ErrInvalidID", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeID() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeID(%q, %q) = %q, want %q", tt.ieee, tt.raw, got, tt.want)
			}
		})
	}
}

func mustObserve(t *testing.T, tr *Tracker, obs Observation, at time.Time) Record {
	t.Helper()
	rec, err := tr.Observe(obs, at)
	if err != nil {
		t.Fatalf("Observe(%+v) error = %v", obs, err)
	}
	return rec
}
