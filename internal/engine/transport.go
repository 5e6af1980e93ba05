package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/pushfleet/pushfleet/internal/domain"
)

// Outcome classifies a single push attempt. Downstream code branches on
// this tag only — never on error strings or raw status codes.
type Outcome int

const (
	// OutcomeSuccess: the push service accepted the message.
	OutcomeSuccess Outcome = iota
	// OutcomePermanentFailure: the endpoint is gone for good; the
	// subscriber must be deactivated.
	OutcomePermanentFailure
	// OutcomeTransientFailure: this attempt failed but the endpoint may
	// work for a future campaign.
	OutcomeTransientFailure
)

// Result is the classified outcome of one push attempt.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Reason     string
}

// Transport delivers one encrypted push message to a subscriber endpoint.
// Implementations own encryption and VAPID signing; callers only see the
// classified result.
type Transport interface {
	Send(ctx context.Context, sub *domain.Subscriber, key *domain.VapidKeySet, payload []byte) Result
}

// WebPushTransport sends through the Web Push protocol with VAPID
// authentication.
type WebPushTransport struct {
	httpClient *http.Client
	ttl        int
}

// NewWebPushTransport creates a transport with a bounded-timeout HTTP
// client. ttl is the message lifetime handed to the push service, in
// seconds.
func NewWebPushTransport(ttl int) *WebPushTransport {
	return &WebPushTransport{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		ttl: ttl,
	}
}

func (t *WebPushTransport) Send(ctx context.Context, sub *domain.Subscriber, key *domain.VapidKeySet, payload []byte) Result {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, s, &webpush.Options{
		HTTPClient:      t.httpClient,
		Subscriber:      key.Subject,
		VAPIDPublicKey:  key.PublicKey,
		VAPIDPrivateKey: key.PrivateKey,
		TTL:             t.ttl,
	})
	if err != nil {
		// Network errors and timeouts: the endpoint may well come back.
		return Result{
			Outcome: OutcomeTransientFailure,
			Reason:  fmt.Sprintf("push request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return classifyStatus(resp.StatusCode)
}

// classifyStatus maps a push-service response code onto the outcome
// taxonomy. 404 and 410 mean the subscription no longer exists; everything
// else that is not a 2xx is treated as retryable by a future campaign.
func classifyStatus(code int) Result {
	switch {
	case code >= 200 && code < 300:
		return Result{Outcome: OutcomeSuccess, StatusCode: code}
	case code == http.StatusNotFound || code == http.StatusGone:
		return Result{
			Outcome:    OutcomePermanentFailure,
			StatusCode: code,
			Reason:     fmt.Sprintf("subscription expired or gone (status %d)", code),
		}
	default:
		return Result{
			Outcome:    OutcomeTransientFailure,
			StatusCode: code,
			Reason:     fmt.Sprintf("push service returned status %d", code),
		}
	}
}
