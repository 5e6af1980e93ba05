package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pushfleet/pushfleet/internal/domain"
)

type fakeStore struct {
	mu sync.Mutex

	due      []domain.Notification
	claimErr error

	failed map[string]string // notification ID -> reason

	stuckCutoff  time.Time
	stuckReason  string
	stuckCount   int64
	expireCutoff time.Time
	expireCount  int64
}

func newFakeStore(due ...domain.Notification) *fakeStore {
	return &fakeStore{due: due, failed: make(map[string]string)}
}

func (f *fakeStore) ClaimDueNotifications(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	claimed := f.due
	f.due = nil
	return claimed, nil
}

func (f *fakeStore) FailNotification(ctx context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = reason
	return nil
}

func (f *fakeStore) FailStuckNotifications(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stuckCutoff = cutoff
	f.stuckReason = reason
	return f.stuckCount, nil
}

func (f *fakeStore) DeleteExpiredNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireCutoff = cutoff
	return f.expireCount, nil
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	failIDs    map[string]error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, n *domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, n.ID)
	if err, ok := f.failIDs[n.ID]; ok {
		return err
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestScheduler(store *fakeStore, d *fakeDispatcher, cfg Config) *Scheduler {
	return New(store, d, testLogger(), cfg)
}

func notification(id string) domain.Notification {
	return domain.Notification{
		ID:       id,
		ClientID: "client-1",
		Title:    "hello",
		Status:   domain.NotificationStatusSending,
	}
}

func TestDispatchSweep_FansOutClaimed(t *testing.T) {
	store := newFakeStore(notification("ntf-1"), notification("ntf-2"))
	d := &fakeDispatcher{}
	s := newTestScheduler(store, d, Config{})

	if err := s.RunDispatchSweep(context.Background(), time.Now()); err != nil {
		t.Fatalf("sweep returned error: %v", err)
	}

	if len(d.dispatched) != 2 {
		t.Fatalf("dispatched %d notifications, want 2", len(d.dispatched))
	}
	if len(store.failed) != 0 {
		t.Errorf("no notification should be failed, got %v", store.failed)
	}
}

func TestDispatchSweep_FailureIsolation(t *testing.T) {
	store := newFakeStore(notification("ntf-bad"), notification("ntf-good"))
	d := &fakeDispatcher{failIDs: map[string]error{
		"ntf-bad": errors.New("resolving vapid key: no active vapid key"),
	}}
	s := newTestScheduler(store, d, Config{})

	if err := s.RunDispatchSweep(context.Background(), time.Now()); err != nil {
		t.Fatalf("sweep returned error: %v", err)
	}

	// Both get attempted: the bad one must not abort the batch.
	if len(d.dispatched) != 2 {
		t.Fatalf("dispatched %d notifications, want 2", len(d.dispatched))
	}

	reason, ok := store.failed["ntf-bad"]
	if !ok {
		t.Fatal("ntf-bad should be marked failed")
	}
	if reason != "resolving vapid key: no active vapid key" {
		t.Errorf("failure reason = %q, want the dispatch error", reason)
	}
	if _, ok := store.failed["ntf-good"]; ok {
		t.Error("ntf-good should not be failed")
	}
}

func TestDispatchSweep_NothingDue(t *testing.T) {
	store := newFakeStore()
	d := &fakeDispatcher{}
	s := newTestScheduler(store, d, Config{})

	if err := s.RunDispatchSweep(context.Background(), time.Now()); err != nil {
		t.Fatalf("sweep returned error: %v", err)
	}
	if len(d.dispatched) != 0 {
		t.Errorf("dispatched %d notifications, want 0", len(d.dispatched))
	}
}

func TestDispatchSweep_ClaimErrorSurfaces(t *testing.T) {
	store := newFakeStore()
	store.claimErr = errors.New("connection refused")
	s := newTestScheduler(store, &fakeDispatcher{}, Config{})

	if err := s.RunDispatchSweep(context.Background(), time.Now()); err == nil {
		t.Fatal("expected claim error to surface")
	}
}

func TestReconcileSweep_CutoffAndReason(t *testing.T) {
	store := newFakeStore()
	store.stuckCount = 2
	s := newTestScheduler(store, &fakeDispatcher{}, Config{StuckThreshold: 10 * time.Minute})

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	if err := s.RunReconcileSweep(context.Background(), now); err != nil {
		t.Fatalf("sweep returned error: %v", err)
	}

	wantCutoff := now.Add(-10 * time.Minute)
	if !store.stuckCutoff.Equal(wantCutoff) {
		t.Errorf("cutoff = %v, want %v", store.stuckCutoff, wantCutoff)
	}
	if store.stuckReason != StuckReason {
		t.Errorf("reason = %q, want %q", store.stuckReason, StuckReason)
	}
}

func TestCleanupSweep_Cutoff(t *testing.T) {
	store := newFakeStore()
	store.expireCount = 7
	s := newTestScheduler(store, &fakeDispatcher{}, Config{RetentionWindow: 90 * 24 * time.Hour})

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	if err := s.RunCleanupSweep(context.Background(), now); err != nil {
		t.Fatalf("sweep returned error: %v", err)
	}

	wantCutoff := now.Add(-90 * 24 * time.Hour)
	if !store.expireCutoff.Equal(wantCutoff) {
		t.Errorf("cutoff = %v, want %v", store.expireCutoff, wantCutoff)
	}
}

func TestScheduler_SweepsRunImmediatelyAtStartup(t *testing.T) {
	store := newFakeStore(notification("ntf-due"))
	store.stuckCount = 1
	d := &fakeDispatcher{}
	// Intervals far beyond the test's lifetime: only the startup pass can
	// account for any sweep activity.
	s := newTestScheduler(store, d, Config{
		DispatchInterval:  time.Hour,
		ReconcileInterval: time.Hour,
		CleanupInterval:   time.Hour,
	})

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	d.mu.Lock()
	dispatched := len(d.dispatched)
	d.mu.Unlock()
	if dispatched != 1 {
		t.Errorf("dispatched %d notifications at startup, want 1", dispatched)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.stuckCutoff.IsZero() {
		t.Error("reconcile sweep should run once at startup")
	}
	if store.expireCutoff.IsZero() {
		t.Error("cleanup sweep should run once at startup")
	}
}

func TestScheduler_StartStopDrains(t *testing.T) {
	store := newFakeStore(notification("ntf-1"))
	d := &fakeDispatcher{}
	s := newTestScheduler(store, d, Config{
		DispatchInterval:  10 * time.Millisecond,
		ReconcileInterval: 10 * time.Millisecond,
		CleanupInterval:   10 * time.Millisecond,
	})

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	d.mu.Lock()
	dispatched := len(d.dispatched)
	d.mu.Unlock()
	if dispatched != 1 {
		t.Errorf("dispatched %d notifications, want 1", dispatched)
	}

	// Stop must be idempotent enough that nothing fires afterwards.
	store.mu.Lock()
	store.due = []domain.Notification{notification("ntf-late")}
	store.mu.Unlock()
	time.Sleep(30 * time.Millisecond)

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dispatched) != dispatched {
		t.Error("sweeps ran after Stop")
	}
}
