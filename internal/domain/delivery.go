package domain

import (
	"time"
)

// Delivery ledger states.
const (
	DeliveryStatusPending = "pending"
	DeliveryStatusSent    = "sent"
	DeliveryStatusFailed  = "failed"
	DeliveryStatusClicked = "clicked"
)

// Delivery records the result of exactly one attempt to deliver one
// notification to one subscriber. At most one row exists per
// (notification, subscriber) pair.
type Delivery struct {
	ID             string     `json:"id"`
	NotificationID string     `json:"notification_id"`
	SubscriberID   string     `json:"subscriber_id"`
	Status         string     `json:"status"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ClickedAt      *time.Time `json:"clicked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
