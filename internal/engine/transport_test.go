package engine

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/pushfleet/pushfleet/internal/domain"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name string
		code int
		want Outcome
	}{
		{"201 created", 201, OutcomeSuccess},
		{"200 ok", 200, OutcomeSuccess},
		{"404 not found", 404, OutcomePermanentFailure},
		{"410 gone", 410, OutcomePermanentFailure},
		{"400 bad request", 400, OutcomeTransientFailure},
		{"413 too large", 413, OutcomeTransientFailure},
		{"429 throttled", 429, OutcomeTransientFailure},
		{"500 server error", 500, OutcomeTransientFailure},
		{"503 unavailable", 503, OutcomeTransientFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classifyStatus(tt.code)
			if result.Outcome != tt.want {
				t.Errorf("classifyStatus(%d).Outcome = %v, want %v", tt.code, result.Outcome, tt.want)
			}
			if result.StatusCode != tt.code {
				t.Errorf("StatusCode = %d, want %d", result.StatusCode, tt.code)
			}
			if tt.want != OutcomeSuccess && result.Reason == "" {
				t.Error("failure results should carry a reason")
			}
		})
	}
}

// generateSubscription builds a subscription with real P-256 keys so the
// transport's payload encryption succeeds against a test server.
func generateSubscription(t *testing.T, endpoint string) *domain.Subscriber {
	t.Helper()

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating p256 key: %v", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatalf("generating auth secret: %v", err)
	}

	return &domain.Subscriber{
		ID:        "sub-test",
		ClientID:  "client-1",
		Endpoint:  endpoint,
		P256dhKey: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		AuthKey:   base64.RawURLEncoding.EncodeToString(auth),
		IsActive:  true,
	}
}

func generateTestVapidKey(t *testing.T) *domain.VapidKeySet {
	t.Helper()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generating vapid keys: %v", err)
	}
	return &domain.VapidKeySet{
		ID:         "key-test",
		ClientID:   "client-1",
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Subject:    "mailto:ops@example.com",
		IsActive:   true,
	}
}

func TestWebPushTransport_Send(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       Outcome
	}{
		{"accepted", http.StatusCreated, OutcomeSuccess},
		{"endpoint gone", http.StatusGone, OutcomePermanentFailure},
		{"server error", http.StatusInternalServerError, OutcomeTransientFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotTTL string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotTTL = r.Header.Get("TTL")
				w.WriteHeader(tt.statusCode)
			}))
			defer srv.Close()

			transport := NewWebPushTransport(3600)
			sub := generateSubscription(t, srv.URL+"/push/abc")
			key := generateTestVapidKey(t)

			result := transport.Send(context.Background(), sub, key, []byte(`{"title":"hi"}`))
			if result.Outcome != tt.want {
				t.Errorf("outcome = %v, want %v (reason: %s)", result.Outcome, tt.want, result.Reason)
			}
			if result.StatusCode != tt.statusCode {
				t.Errorf("status = %d, want %d", result.StatusCode, tt.statusCode)
			}
			if gotTTL != "3600" {
				t.Errorf("TTL header = %q, want %q", gotTTL, "3600")
			}
		})
	}
}

func TestWebPushTransport_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	transport := NewWebPushTransport(60)
	sub := generateSubscription(t, srv.URL+"/push/abc")
	key := generateTestVapidKey(t)

	result := transport.Send(context.Background(), sub, key, []byte(`{}`))
	if result.Outcome != OutcomeTransientFailure {
		t.Errorf("outcome = %v, want transient failure", result.Outcome)
	}
	if result.Reason == "" {
		t.Error("network failures should carry a reason")
	}
}
