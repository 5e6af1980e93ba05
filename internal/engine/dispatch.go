package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pushfleet/pushfleet/internal/domain"
	ws "github.com/pushfleet/pushfleet/internal/websocket"
)

// Store is the slice of persistence the dispatch engine needs. The engine
// only ever mutates rows belonging to a notification it has been handed an
// exclusive claim on, so none of these operations need locking beyond what
// the statements themselves provide.
type Store interface {
	ListActiveSubscribers(ctx context.Context, clientID string, domainID *string) ([]domain.Subscriber, error)
	CreatePendingDelivery(ctx context.Context, notificationID, subscriberID string) (bool, error)
	MarkDeliverySent(ctx context.Context, notificationID, subscriberID string, at time.Time) error
	MarkDeliveryFailed(ctx context.Context, notificationID, subscriberID, reason string) error
	RecordSendSuccess(ctx context.Context, notificationID string) error
	RecordSendFailure(ctx context.Context, notificationID string) error
	DeactivateSubscriber(ctx context.Context, subscriberID string) error
	FinishNotification(ctx context.Context, notificationID string, total int, at time.Time) error
}

// KeySource resolves the active VAPID key for a client.
type KeySource interface {
	ActiveKey(ctx context.Context, clientID string) (*domain.VapidKeySet, error)
}

// Broadcaster pushes live delivery events to dashboard clients.
type Broadcaster interface {
	Broadcast(event ws.PushEvent)
}

// EngineConfig tunes the fan-out.
type EngineConfig struct {
	// Workers bounds concurrent pushes within one notification's fan-out.
	Workers int
	// PushRatePerSecond caps pushes per push-service host. Zero disables.
	PushRatePerSecond int
}

// Engine performs the fan-out for one claimed notification: resolves the
// subscriber set, sends to each endpoint, classifies outcomes, writes the
// delivery ledger and keeps the notification's aggregate counters honest.
type Engine struct {
	store     Store
	keys      KeySource
	transport Transport
	limiter   *RateLimiter
	breaker   *CircuitBreaker
	hub       Broadcaster
	logger    *slog.Logger
	workers   int
	rateLimit int
	now       func() time.Time
}

func NewEngine(store Store, keys KeySource, transport Transport, limiter *RateLimiter, breaker *CircuitBreaker, hub Broadcaster, logger *slog.Logger, cfg EngineConfig) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 10
	}
	return &Engine{
		store:     store,
		keys:      keys,
		transport: transport,
		limiter:   limiter,
		breaker:   breaker,
		hub:       hub,
		logger:    logger,
		workers:   workers,
		rateLimit: cfg.PushRatePerSecond,
		now:       time.Now,
	}
}

// disposition is what one subscriber's delivery attempt amounted to from
// the notification's point of view.
type disposition int

const (
	deliverySent disposition = iota
	deliveryFailed
	deliverySkipped
)

// Dispatch fans out one claimed notification to all of its subscribers.
// A returned error means the dispatch step itself failed before per-
// subscriber work produced any ledger rows; the caller is expected to mark
// the notification failed. Per-subscriber failures never surface here —
// they are recorded on the ledger and in failed_sends.
func (e *Engine) Dispatch(ctx context.Context, n *domain.Notification) error {
	// Re-resolved on every dispatch so a rotation done between sweeps is
	// picked up without a restart.
	key, err := e.keys.ActiveKey(ctx, n.ClientID)
	if err != nil {
		if errors.Is(err, ErrNoActiveKey) {
			e.logger.Error("client has no active vapid key, failing notification",
				"notification_id", n.ID,
				"client_id", n.ClientID,
			)
		}
		return fmt.Errorf("resolving vapid key: %w", err)
	}

	subscribers, err := e.store.ListActiveSubscribers(ctx, n.ClientID, n.DomainID)
	if err != nil {
		return fmt.Errorf("resolving subscribers: %w", err)
	}

	payload, err := buildPayload(n)
	if err != nil {
		return fmt.Errorf("building payload: %w", err)
	}

	var succeeded, failed, skipped atomic.Int64

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	for i := range subscribers {
		sub := subscribers[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			switch e.deliverOne(ctx, n, &sub, key, payload) {
			case deliverySent:
				succeeded.Add(1)
			case deliverySkipped:
				skipped.Add(1)
			default:
				failed.Add(1)
			}
		}()
	}
	wg.Wait()

	if err := e.store.FinishNotification(ctx, n.ID, len(subscribers), e.now()); err != nil {
		return fmt.Errorf("finishing notification: %w", err)
	}

	e.logger.Info("dispatch complete",
		"notification_id", n.ID,
		"client_id", n.ClientID,
		"total_subscribers", len(subscribers),
		"succeeded", succeeded.Load(),
		"failed", failed.Load(),
		"skipped", skipped.Load(),
	)

	return nil
}

// deliverOne attempts delivery to a single subscriber and records the
// classified outcome on the ledger and counters. Every non-skipped path
// increments exactly one of the two counters, so the finish step's total
// always equals their sum.
func (e *Engine) deliverOne(ctx context.Context, n *domain.Notification, sub *domain.Subscriber, key *domain.VapidKeySet, payload []byte) disposition {
	created, err := e.store.CreatePendingDelivery(ctx, n.ID, sub.ID)
	if err != nil {
		e.logger.Error("failed to open delivery ledger row",
			"error", err,
			"notification_id", n.ID,
			"subscriber_id", sub.ID,
		)
		// No ledger row exists, but this subscriber still counts toward
		// failed_sends — otherwise the finished counters would not add up.
		if err := e.store.RecordSendFailure(ctx, n.ID); err != nil {
			e.logger.Error("failed to record send failure", "error", err, "notification_id", n.ID)
		}
		return deliveryFailed
	}
	if !created {
		// A row already exists for this pair: an earlier pass got here
		// first and already counted it, so sending again would
		// double-deliver and double-count.
		e.logger.Debug("delivery already attempted, skipping",
			"notification_id", n.ID,
			"subscriber_id", sub.ID,
		)
		return deliverySkipped
	}

	host := endpointHost(sub.Endpoint)

	var result Result
	switch {
	case e.breaker != nil && !e.allowedByBreaker(ctx, host):
		result = Result{
			Outcome: OutcomeTransientFailure,
			Reason:  "push service circuit open",
		}
	case e.limiter != nil && !e.limiter.Allow(ctx, host, e.rateLimit):
		result = Result{
			Outcome: OutcomeTransientFailure,
			Reason:  "outbound push rate limit exceeded",
		}
	default:
		result = e.transport.Send(ctx, sub, key, payload)
		if e.breaker != nil {
			// Only transient failures indict the service itself; a 410 for
			// one subscription is still a healthy response.
			if result.Outcome == OutcomeTransientFailure {
				e.breaker.RecordFailure(ctx, host)
			} else {
				e.breaker.RecordSuccess(ctx, host)
			}
		}
	}

	switch result.Outcome {
	case OutcomeSuccess:
		if err := e.store.MarkDeliverySent(ctx, n.ID, sub.ID, e.now()); err != nil {
			e.logger.Error("failed to mark delivery sent", "error", err, "notification_id", n.ID, "subscriber_id", sub.ID)
		}
		if err := e.store.RecordSendSuccess(ctx, n.ID); err != nil {
			e.logger.Error("failed to record send success", "error", err, "notification_id", n.ID)
		}
		e.broadcast("push_sent", n, sub, result)

	case OutcomePermanentFailure:
		if err := e.store.MarkDeliveryFailed(ctx, n.ID, sub.ID, result.Reason); err != nil {
			e.logger.Error("failed to mark delivery failed", "error", err, "notification_id", n.ID, "subscriber_id", sub.ID)
		}
		if err := e.store.RecordSendFailure(ctx, n.ID); err != nil {
			e.logger.Error("failed to record send failure", "error", err, "notification_id", n.ID)
		}
		// The endpoint is gone for good — stop future sweeps from trying it.
		if err := e.store.DeactivateSubscriber(ctx, sub.ID); err != nil {
			e.logger.Error("failed to deactivate subscriber", "error", err, "subscriber_id", sub.ID)
		}
		e.logger.Warn("subscriber endpoint gone, deactivated",
			"notification_id", n.ID,
			"subscriber_id", sub.ID,
			"status_code", result.StatusCode,
		)
		e.broadcast("subscriber_deactivated", n, sub, result)

	case OutcomeTransientFailure:
		if err := e.store.MarkDeliveryFailed(ctx, n.ID, sub.ID, result.Reason); err != nil {
			e.logger.Error("failed to mark delivery failed", "error", err, "notification_id", n.ID, "subscriber_id", sub.ID)
		}
		if err := e.store.RecordSendFailure(ctx, n.ID); err != nil {
			e.logger.Error("failed to record send failure", "error", err, "notification_id", n.ID)
		}
		e.broadcast("push_failed", n, sub, result)
	}

	if result.Outcome == OutcomeSuccess {
		return deliverySent
	}
	return deliveryFailed
}

func (e *Engine) allowedByBreaker(ctx context.Context, host string) bool {
	state, allowed := e.breaker.AllowRequest(ctx, host)
	if !allowed {
		e.logger.Debug("push rejected by circuit breaker", "host", host, "state", state)
	}
	return allowed
}

func (e *Engine) broadcast(eventType string, n *domain.Notification, sub *domain.Subscriber, result Result) {
	if e.hub == nil {
		return
	}
	e.hub.Broadcast(ws.PushEvent{
		Type:           eventType,
		NotificationID: n.ID,
		SubscriberID:   sub.ID,
		Endpoint:       sub.Endpoint,
		StatusCode:     result.StatusCode,
		Error:          result.Reason,
		Timestamp:      e.now(),
	})
}

// pushPayload is the JSON the service worker receives.
type pushPayload struct {
	NotificationID string `json:"notification_id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	Icon           string `json:"icon,omitempty"`
	Image          string `json:"image,omitempty"`
	URL            string `json:"url,omitempty"`
	Tag            string `json:"tag"`
}

func buildPayload(n *domain.Notification) ([]byte, error) {
	p := pushPayload{
		NotificationID: n.ID,
		Title:          n.Title,
		Body:           n.Body,
		Tag:            "pushfleet-" + n.ID,
	}
	if n.IconURL != nil {
		p.Icon = *n.IconURL
	}
	if n.ImageURL != nil {
		p.Image = *n.ImageURL
	}
	if n.ClickURL != nil {
		p.URL = *n.ClickURL
	}
	return json.Marshal(p)
}

func endpointHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}
