package domain

import (
	"time"
)

// Notification lifecycle states. Transitions only move forward:
// draft → scheduled → sending → {sent | failed}. Once dispatch starts
// there is no way back to scheduled or draft.
const (
	NotificationStatusDraft     = "draft"
	NotificationStatusScheduled = "scheduled"
	NotificationStatusSending   = "sending"
	NotificationStatusSent      = "sent"
	NotificationStatusFailed    = "failed"
)

// Notification is one push campaign owned by a client.
type Notification struct {
	ID               string     `json:"id"`
	ClientID         string     `json:"client_id"`
	DomainID         *string    `json:"domain_id,omitempty"`
	Title            string     `json:"title"`
	Body             string     `json:"body"`
	IconURL          *string    `json:"icon_url,omitempty"`
	ImageURL         *string    `json:"image_url,omitempty"`
	ClickURL         *string    `json:"click_url,omitempty"`
	Status           string     `json:"status"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
	TotalSubscribers int        `json:"total_subscribers"`
	SuccessfulSends  int        `json:"successful_sends"`
	FailedSends      int        `json:"failed_sends"`
	ClickCount       int        `json:"click_count"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
}

type CreateNotificationRequest struct {
	ClientID    string     `json:"client_id"`
	DomainID    *string    `json:"domain_id,omitempty"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	IconURL     *string    `json:"icon_url,omitempty"`
	ImageURL    *string    `json:"image_url,omitempty"`
	ClickURL    *string    `json:"click_url,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}
