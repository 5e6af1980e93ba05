package domain

import (
	"time"
)

// Subscriber is one browser push endpoint belonging to a client's domain.
// Endpoints are unique across the whole system; a re-subscribe from the
// same browser updates the existing row instead of creating a second one.
type Subscriber struct {
	ID         string     `json:"id"`
	ClientID   string     `json:"client_id"`
	DomainID   string     `json:"domain_id"`
	Endpoint   string     `json:"endpoint"`
	P256dhKey  string     `json:"p256dh_key,omitempty"`
	AuthKey    string     `json:"auth_key,omitempty"`
	IsActive   bool       `json:"is_active"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SubscribeRequest mirrors the JSON a browser's PushSubscription serializes to.
type SubscribeRequest struct {
	DomainID string `json:"domain_id"`
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}
