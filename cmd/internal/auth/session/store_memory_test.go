package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var t0 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func rec(account string, n int, created time.Time) Record {
	return Record{
		ID:         fmt.Sprintf("%s-s%d", account, n),
		AccountID:  account,
		TokenHash:  fmt.Sprintf("%s-h%d", account, n),
		DeviceName: "Linux",
		CreatedAt:  created,
		LastUsedAt: created,
		ExpiresAt:  created.Add(7 * 24 * time.Hour),
	}
}

func mustInsert(t *testing.T, r Registry, in Record) []Record {
	t.Helper()
	evicted, err := r.Insert(context.Background(), in, DefaultMaxConcurrent, in.CreatedAt)
	if err != nil {
		t.Fatalf("Insert(%s): %v", in.ID, err)
	}
	return evicted
}

func TestMemoryRegistry_InsertEvictsOldestFIFO(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	// Insert out of order so map iteration cannot accidentally produce FIFO.
	mustInsert(t, r, rec("a", 2, t0.Add(2*time.Minute)))
	mustInsert(t, r, rec("a", 1, t0.Add(1*time.Minute)))
	mustInsert(t, r, rec("a", 3, t0.Add(3*time.Minute)))

	// Using the oldest session must not save it: eviction is by creation, not use.
	if _, err := r.Rotate(ctx, "a-s1", "a-h1", "a-h1b", t0.Add(4*time.Minute)); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	evicted := mustInsert(t, r, rec("a", 4, t0.Add(5*time.Minute)))
	if len(evicted) != 1 || evicted[0].ID != "a-s1" {
		t.Fatalf("evicted=%v, want [a-s1]", evicted)
	}

	live, err := r.ListActive(ctx, "a", t0.Add(6*time.Minute))
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	got := make([]string, 0, len(live))
	for _, l := range live {
		got = append(got, l.ID)
	}
	want := []string{"a-s2", "a-s3", "a-s4"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("ListActive=%v, want %v", got, want)
	}

	if _, err := r.FindByTokenHash(ctx, "a-h1b", t0.Add(6*time.Minute)); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("evicted hash still resolvable: %v", err)
	}
}

func TestMemoryRegistry_CapIsPerAccount(t *testing.T) {
	r := NewMemoryRegistry()
	for i := 1; i <= 3; i++ {
		mustInsert(t, r, rec("a", i, t0.Add(time.Duration(i)*time.Minute)))
		mustInsert(t, r, rec("b", i, t0.Add(time.Duration(i)*time.Minute)))
	}

	all, err := r.ListAll(context.Background(), t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("ListAll len=%d, want 6", len(all))
	}
	if !all[0].CreatedAt.After(all[len(all)-1].CreatedAt) {
		t.Fatalf("ListAll not newest first")
	}
}

func TestMemoryRegistry_CapHoldsUnderConcurrentInserts(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.Insert(ctx, rec("a", i, t0.Add(time.Duration(i)*time.Second)), DefaultMaxConcurrent, t0)
		}(i)
	}
	wg.Wait()

	live, err := r.ListActive(ctx, "a", t0)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(live) > DefaultMaxConcurrent {
		t.Fatalf("live=%d exceeds cap", len(live))
	}
}

func TestMemoryRegistry_RotateIsCompareAndSwap(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	mustInsert(t, r, rec("a", 1, t0))

	out, err := r.Rotate(ctx, "a-s1", "a-h1", "a-h1-next", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if out.TokenHash != "a-h1-next" || !out.LastUsedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("Rotate returned %+v", out)
	}
	if !out.ExpiresAt.Equal(t0.Add(7 * 24 * time.Hour)) {
		t.Fatalf("rotation moved ExpiresAt to %v", out.ExpiresAt)
	}

	if _, err := r.Rotate(ctx, "a-s1", "a-h1", "a-h1-other", t0.Add(2*time.Minute)); !errors.Is(err, ErrRotationConflict) {
		t.Fatalf("stale Rotate err=%v, want ErrRotationConflict", err)
	}
	if _, err := r.FindByTokenHash(ctx, "a-h1", t0.Add(2*time.Minute)); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old hash still resolvable: %v", err)
	}
	if _, err := r.Rotate(ctx, "missing", "x", "y", t0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("missing Rotate err=%v", err)
	}
}

func TestMemoryRegistry_ConcurrentRotateHasOneWinner(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	mustInsert(t, r, rec("a", 1, t0))

	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Rotate(ctx, "a-s1", "a-h1", fmt.Sprintf("next-%d", i), t0.Add(time.Second))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrRotationConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 || conflicts.Load() != 31 {
		t.Fatalf("wins=%d conflicts=%d", wins.Load(), conflicts.Load())
	}
}

func TestMemoryRegistry_ExpiredRecordsAreInvisible(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	short := rec("a", 1, t0)
	short.ExpiresAt = t0.Add(time.Minute)
	mustInsert(t, r, short)
	mustInsert(t, r, rec("a", 2, t0.Add(time.Second)))

	after := t0.Add(time.Minute)

	if _, err := r.FindByTokenHash(ctx, "a-h1", after); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("FindByTokenHash on expired: %v", err)
	}
	live, _ := r.ListActive(ctx, "a", after)
	if len(live) != 1 || live[0].ID != "a-s2" {
		t.Fatalf("ListActive=%v", live)
	}
	if _, err := r.Rotate(ctx, "a-s1", "a-h1", "x", after); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Rotate on expired: %v", err)
	}
	if _, err := r.SetSuspicious(ctx, "a-s1", true, after); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("SetSuspicious on expired: %v", err)
	}

	n, err := r.PurgeExpired(ctx, after)
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpired n=%d err=%v", n, err)
	}
}

func TestMemoryRegistry_RevokeVariants(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		mustInsert(t, r, rec("a", i, t0.Add(time.Duration(i)*time.Second)))
	}
	mustInsert(t, r, rec("b", 1, t0))

	ok, err := r.RevokeByTokenHash(ctx, "a-h1")
	if err != nil || !ok {
		t.Fatalf("RevokeByTokenHash ok=%v err=%v", ok, err)
	}
	ok, err = r.RevokeByTokenHash(ctx, "a-h1")
	if err != nil || ok {
		t.Fatalf("second RevokeByTokenHash ok=%v err=%v", ok, err)
	}

	if err := r.RevokeOwned(ctx, "b", "a-s2", t0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("RevokeOwned across accounts err=%v", err)
	}
	if err := r.RevokeOwned(ctx, "a", "a-s2", t0); err != nil {
		t.Fatalf("RevokeOwned: %v", err)
	}

	if err := r.Revoke(ctx, "does-not-exist"); err != nil {
		t.Fatalf("Revoke absent: %v", err)
	}

	n, err := r.RevokeAll(ctx, "a", t0)
	if err != nil || n != 1 {
		t.Fatalf("RevokeAll n=%d err=%v", n, err)
	}
	if live, _ := r.ListActive(ctx, "b", t0); len(live) != 1 {
		t.Fatalf("other account affected: %v", live)
	}
}

func TestMemoryRegistry_RevokeIgnoresExpiredRecords(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	mustInsert(t, r, rec("a", 1, t0.Add(-8*24*time.Hour)))
	mustInsert(t, r, rec("a", 2, t0))

	// a-s1 expired a day ago but has not been purged yet.
	if err := r.RevokeOwned(ctx, "a", "a-s1", t0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("RevokeOwned on expired record err=%v, want ErrSessionNotFound", err)
	}

	n, err := r.RevokeAll(ctx, "a", t0)
	if err != nil || n != 1 {
		t.Fatalf("RevokeAll n=%d err=%v, want only the live record counted", n, err)
	}
	if purged, _ := r.PurgeExpired(ctx, t0); purged != 0 {
		t.Fatalf("RevokeAll left %d dead records behind", purged)
	}
}

func TestMemoryRegistry_SuspiciousFlag(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	in := rec("a", 1, t0)
	in.Suspicious = true
	mustInsert(t, r, in)

	out, err := r.SetSuspicious(ctx, "a-s1", false, t0)
	if err != nil || out.Suspicious {
		t.Fatalf("SetSuspicious out=%+v err=%v", out, err)
	}
	out, err = r.ToggleSuspicious(ctx, "a-s1", t0)
	if err != nil || !out.Suspicious {
		t.Fatalf("ToggleSuspicious out=%+v err=%v", out, err)
	}
	if _, err := r.ToggleSuspicious(ctx, "nope", t0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("ToggleSuspicious missing err=%v", err)
	}
}

func TestMemoryRegistry_RejectsInvalidAndDuplicate(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	bad := rec("a", 1, t0)
	bad.TokenHash = ""
	if _, err := r.Insert(ctx, bad, 3, t0); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("empty hash err=%v", err)
	}

	mustInsert(t, r, rec("a", 1, t0))
	dup := rec("a", 2, t0)
	dup.TokenHash = "a-h1"
	if _, err := r.Insert(ctx, dup, 3, t0); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("duplicate hash err=%v", err)
	}
}

func TestReaper_SweepReportsCount(t *testing.T) {
	r := NewMemoryRegistry()
	short := rec("a", 1, t0)
	short.ExpiresAt = t0.Add(time.Second)
	mustInsert(t, r, short)

	var reported int
	rp := &Reaper{
		Registry: r,
		Now:      func() time.Time { return t0.Add(time.Hour) },
		OnPurge:  func(n int) { reported = n },
	}
	n, err := rp.Sweep(context.Background())
	if err != nil || n != 1 || reported != 1 {
		t.Fatalf("Sweep n=%d reported=%d err=%v", n, reported, err)
	}
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		(&Reaper{Registry: NewMemoryRegistry(), Interval: time.Millisecond}).Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
