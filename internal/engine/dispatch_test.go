package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pushfleet/pushfleet/internal/domain"
	"github.com/redis/go-redis/v9"
)

type fakeDelivery struct {
	status string
	reason string
}

// fakeStore is an in-memory Store for exercising the fan-out without
// Postgres.
type fakeStore struct {
	mu sync.Mutex

	subscribers []domain.Subscriber
	listErr     error
	pendingErr  map[string]error

	deliveries  map[string]*fakeDelivery
	deactivated map[string]bool

	successCount int
	failureCount int

	finished      bool
	finishedTotal int
}

func newFakeStore(subs ...domain.Subscriber) *fakeStore {
	return &fakeStore{
		subscribers: subs,
		deliveries:  make(map[string]*fakeDelivery),
		deactivated: make(map[string]bool),
	}
}

func pairKey(notificationID, subscriberID string) string {
	return notificationID + "/" + subscriberID
}

func (f *fakeStore) ListActiveSubscribers(ctx context.Context, clientID string, domainID *string) ([]domain.Subscriber, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.subscribers, nil
}

func (f *fakeStore) CreatePendingDelivery(ctx context.Context, notificationID, subscriberID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.pendingErr[subscriberID]; ok {
		return false, err
	}
	key := pairKey(notificationID, subscriberID)
	if _, exists := f.deliveries[key]; exists {
		return false, nil
	}
	f.deliveries[key] = &fakeDelivery{status: domain.DeliveryStatusPending}
	return true, nil
}

func (f *fakeStore) MarkDeliverySent(ctx context.Context, notificationID, subscriberID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries[pairKey(notificationID, subscriberID)].status = domain.DeliveryStatusSent
	return nil
}

func (f *fakeStore) MarkDeliveryFailed(ctx context.Context, notificationID, subscriberID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.deliveries[pairKey(notificationID, subscriberID)]
	d.status = domain.DeliveryStatusFailed
	d.reason = reason
	return nil
}

func (f *fakeStore) RecordSendSuccess(ctx context.Context, notificationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successCount++
	return nil
}

func (f *fakeStore) RecordSendFailure(ctx context.Context, notificationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failureCount++
	return nil
}

func (f *fakeStore) DeactivateSubscriber(ctx context.Context, subscriberID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated[subscriberID] = true
	return nil
}

func (f *fakeStore) FinishNotification(ctx context.Context, notificationID string, total int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = true
	f.finishedTotal = total
	return nil
}

// fakeTransport returns a scripted result per subscriber ID.
type fakeTransport struct {
	mu      sync.Mutex
	results map[string]Result
	calls   []string
}

func (f *fakeTransport) Send(ctx context.Context, sub *domain.Subscriber, key *domain.VapidKeySet, payload []byte) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sub.ID)
	if r, ok := f.results[sub.ID]; ok {
		return r
	}
	return Result{Outcome: OutcomeSuccess, StatusCode: 201}
}

type fakeKeySource struct {
	key *domain.VapidKeySet
	err error
}

func (f *fakeKeySource) ActiveKey(ctx context.Context, clientID string) (*domain.VapidKeySet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.key, nil
}

func testSubscriber(id string) domain.Subscriber {
	return domain.Subscriber{
		ID:        id,
		ClientID:  "client-1",
		DomainID:  "domain-1",
		Endpoint:  "https://push.example.com/send/" + id,
		P256dhKey: "p256dh-" + id,
		AuthKey:   "auth-" + id,
		IsActive:  true,
	}
}

func testNotification() *domain.Notification {
	return &domain.Notification{
		ID:       "ntf-1",
		ClientID: "client-1",
		Title:    "Flash sale",
		Body:     "Everything half price until midnight",
		Status:   domain.NotificationStatusSending,
	}
}

func testKeySource() *fakeKeySource {
	return &fakeKeySource{key: &domain.VapidKeySet{
		ID:         "key-1",
		ClientID:   "client-1",
		PublicKey:  "pub",
		PrivateKey: "priv",
		Subject:    "mailto:ops@example.com",
		IsActive:   true,
	}}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEngine(store *fakeStore, keys KeySource, transport Transport) *Engine {
	return NewEngine(store, keys, transport, nil, nil, nil, testLogger(), EngineConfig{Workers: 4})
}

func TestDispatch_MixedOutcomes(t *testing.T) {
	store := newFakeStore(
		testSubscriber("sub-ok"),
		testSubscriber("sub-gone"),
		testSubscriber("sub-flaky"),
	)
	transport := &fakeTransport{results: map[string]Result{
		"sub-ok":    {Outcome: OutcomeSuccess, StatusCode: 201},
		"sub-gone":  {Outcome: OutcomePermanentFailure, StatusCode: 410, Reason: "subscription expired or gone (status 410)"},
		"sub-flaky": {Outcome: OutcomeTransientFailure, StatusCode: 429, Reason: "push service returned status 429"},
	}}

	e := newTestEngine(store, testKeySource(), transport)

	if err := e.Dispatch(context.Background(), testNotification()); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if !store.finished {
		t.Fatal("notification was not finished")
	}
	if store.finishedTotal != 3 {
		t.Errorf("total_subscribers = %d, want 3", store.finishedTotal)
	}
	if store.successCount != 1 {
		t.Errorf("successful_sends = %d, want 1", store.successCount)
	}
	if store.failureCount != 2 {
		t.Errorf("failed_sends = %d, want 2", store.failureCount)
	}
	if store.successCount+store.failureCount != store.finishedTotal {
		t.Errorf("successful + failed = %d, want %d", store.successCount+store.failureCount, store.finishedTotal)
	}

	// Only the permanently failed endpoint loses its subscription.
	if !store.deactivated["sub-gone"] {
		t.Error("permanently failed subscriber should be deactivated")
	}
	if store.deactivated["sub-flaky"] {
		t.Error("transiently failed subscriber should stay active")
	}
	if store.deactivated["sub-ok"] {
		t.Error("successful subscriber should stay active")
	}

	wantStatus := map[string]string{
		"sub-ok":    domain.DeliveryStatusSent,
		"sub-gone":  domain.DeliveryStatusFailed,
		"sub-flaky": domain.DeliveryStatusFailed,
	}
	for subID, want := range wantStatus {
		d := store.deliveries[pairKey("ntf-1", subID)]
		if d == nil {
			t.Fatalf("no delivery row for %s", subID)
		}
		if d.status != want {
			t.Errorf("delivery for %s = %q, want %q", subID, d.status, want)
		}
	}

	if store.deliveries[pairKey("ntf-1", "sub-gone")].reason == "" {
		t.Error("failed delivery should carry a reason")
	}
}

func TestDispatch_NoVapidKey(t *testing.T) {
	store := newFakeStore(testSubscriber("sub-1"))
	transport := &fakeTransport{}
	keys := &fakeKeySource{err: fmt.Errorf("client client-1: %w", ErrNoActiveKey)}

	e := newTestEngine(store, keys, transport)

	err := e.Dispatch(context.Background(), testNotification())
	if err == nil {
		t.Fatal("expected error for missing vapid key")
	}
	if !errors.Is(err, ErrNoActiveKey) {
		t.Errorf("error should wrap ErrNoActiveKey, got: %v", err)
	}

	// No delivery rows may exist when the key lookup fails.
	if len(store.deliveries) != 0 {
		t.Errorf("expected 0 deliveries, got %d", len(store.deliveries))
	}
	if len(transport.calls) != 0 {
		t.Errorf("transport should not be called, got %d calls", len(transport.calls))
	}
}

func TestDispatch_SubscriberResolveFails(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("connection refused")

	e := newTestEngine(store, testKeySource(), &fakeTransport{})

	err := e.Dispatch(context.Background(), testNotification())
	if err == nil {
		t.Fatal("expected error when subscriber resolution fails")
	}
	if len(store.deliveries) != 0 {
		t.Errorf("expected 0 deliveries, got %d", len(store.deliveries))
	}
	if store.finished {
		t.Error("notification must not be finished after a resolve failure")
	}
}

func TestDispatch_LedgerErrorStillCounted(t *testing.T) {
	store := newFakeStore(
		testSubscriber("sub-1"),
		testSubscriber("sub-2"),
		testSubscriber("sub-3"),
	)
	// The ledger insert for sub-2 hits a storage error mid-fan-out.
	store.pendingErr = map[string]error{"sub-2": errors.New("connection reset")}

	transport := &fakeTransport{}
	e := newTestEngine(store, testKeySource(), transport)

	if err := e.Dispatch(context.Background(), testNotification()); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if store.successCount != 2 {
		t.Errorf("successful_sends = %d, want 2", store.successCount)
	}
	if store.failureCount != 1 {
		t.Errorf("failed_sends = %d, want 1", store.failureCount)
	}
	if store.finishedTotal != 3 {
		t.Errorf("total_subscribers = %d, want 3", store.finishedTotal)
	}
	if store.successCount+store.failureCount != store.finishedTotal {
		t.Errorf("successful + failed = %d, want %d", store.successCount+store.failureCount, store.finishedTotal)
	}

	// The failed insert means no ledger row and no send attempt for sub-2.
	if _, ok := store.deliveries[pairKey("ntf-1", "sub-2")]; ok {
		t.Error("no delivery row should exist for sub-2")
	}
	for _, called := range transport.calls {
		if called == "sub-2" {
			t.Error("transport should not be called for sub-2")
		}
	}
	if store.deactivated["sub-2"] {
		t.Error("a storage error must not deactivate the subscriber")
	}
}

func TestDispatch_CircuitOpenIsTransient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	breaker := NewCircuitBreaker(client, testLogger(), 2, time.Minute)
	ctx := context.Background()

	// Trip the circuit for the subscriber's push-service host.
	breaker.RecordFailure(ctx, "push.example.com")
	breaker.RecordFailure(ctx, "push.example.com")

	store := newFakeStore(testSubscriber("sub-1"))
	transport := &fakeTransport{}
	e := NewEngine(store, testKeySource(), transport, nil, breaker, nil, testLogger(), EngineConfig{Workers: 4})

	if err := e.Dispatch(ctx, testNotification()); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if len(transport.calls) != 0 {
		t.Fatalf("transport should not be called with the circuit open, got %d calls", len(transport.calls))
	}

	d := store.deliveries[pairKey("ntf-1", "sub-1")]
	if d == nil {
		t.Fatal("delivery row should exist")
	}
	if d.status != domain.DeliveryStatusFailed {
		t.Errorf("delivery status = %q, want %q", d.status, domain.DeliveryStatusFailed)
	}
	if d.reason != "push service circuit open" {
		t.Errorf("reason = %q, want circuit-open reason", d.reason)
	}
	if store.failureCount != 1 {
		t.Errorf("failed_sends = %d, want 1", store.failureCount)
	}
	// Transient: the subscription itself is fine.
	if store.deactivated["sub-1"] {
		t.Error("subscriber must stay active when the circuit is open")
	}
	// A rejected push is not a new service failure.
	if got := breaker.GetState(ctx, "push.example.com").Failures; got != 2 {
		t.Errorf("breaker failures = %d, want 2", got)
	}
}

func TestDispatch_DedupSkipsExistingPair(t *testing.T) {
	store := newFakeStore(testSubscriber("sub-1"), testSubscriber("sub-2"))
	// A previous pass already wrote the ledger row for sub-1.
	store.deliveries[pairKey("ntf-1", "sub-1")] = &fakeDelivery{status: domain.DeliveryStatusSent}

	transport := &fakeTransport{}
	e := newTestEngine(store, testKeySource(), transport)

	if err := e.Dispatch(context.Background(), testNotification()); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if len(transport.calls) != 1 {
		t.Fatalf("expected 1 transport call, got %d", len(transport.calls))
	}
	if transport.calls[0] != "sub-2" {
		t.Errorf("transport called for %s, want sub-2", transport.calls[0])
	}

	// Still exactly one row per pair.
	if len(store.deliveries) != 2 {
		t.Errorf("expected 2 delivery rows, got %d", len(store.deliveries))
	}

	// A skipped pair was already counted by the pass that created its row;
	// this pass must not count it again as a failure.
	if store.failureCount != 0 {
		t.Errorf("failed_sends = %d, want 0", store.failureCount)
	}
	if store.successCount != 1 {
		t.Errorf("successful_sends = %d, want 1", store.successCount)
	}
}

func TestDispatch_NoSubscribers(t *testing.T) {
	store := newFakeStore()

	e := newTestEngine(store, testKeySource(), &fakeTransport{})

	if err := e.Dispatch(context.Background(), testNotification()); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if !store.finished {
		t.Fatal("notification should finish even with zero subscribers")
	}
	if store.finishedTotal != 0 {
		t.Errorf("total_subscribers = %d, want 0", store.finishedTotal)
	}
}

func TestBuildPayload(t *testing.T) {
	icon := "https://cdn.example.com/icon.png"
	url := "https://shop.example.com/sale"
	n := testNotification()
	n.IconURL = &icon
	n.ClickURL = &url

	payload, err := buildPayload(n)
	if err != nil {
		t.Fatalf("buildPayload: %v", err)
	}

	for _, want := range []string{"Flash sale", "ntf-1", icon, url} {
		if !strings.Contains(string(payload), want) {
			t.Errorf("payload missing %q: %s", want, payload)
		}
	}
}

func TestEndpointHost(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"https://fcm.googleapis.com/fcm/send/abc123", "fcm.googleapis.com"},
		{"https://updates.push.services.mozilla.com/wpush/v2/xyz", "updates.push.services.mozilla.com"},
		{"not a url", "not a url"},
	}

	for _, tt := range tests {
		if got := endpointHost(tt.endpoint); got != tt.want {
			t.Errorf("endpointHost(%q) = %q, want %q", tt.endpoint, got, tt.want)
		}
	}
}
