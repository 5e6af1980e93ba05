package store

import (
	"context"
	"fmt"
)

// DeliveryMetrics holds aggregated delivery statistics for the dashboard.
type DeliveryMetrics struct {
	TotalNotifications     int     `json:"total_notifications"`
	SentNotifications      int     `json:"sent_notifications"`
	FailedNotifications    int     `json:"failed_notifications"`
	ScheduledNotifications int     `json:"scheduled_notifications"`
	TotalDeliveries        int     `json:"total_deliveries"`
	SuccessCount           int     `json:"success_count"`
	FailedCount            int     `json:"failed_count"`
	ClickCount             int     `json:"click_count"`
	SuccessRate            float64 `json:"success_rate"`
	ActiveSubscribers      int     `json:"active_subscribers"`
}

// GetDeliveryMetrics returns aggregated delivery statistics from the database.
func (s *PostgresStore) GetDeliveryMetrics(ctx context.Context) (*DeliveryMetrics, error) {
	var m DeliveryMetrics

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'sent') AS sent,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'scheduled') AS scheduled
		FROM notifications
	`).Scan(&m.TotalNotifications, &m.SentNotifications, &m.FailedNotifications, &m.ScheduledNotifications)
	if err != nil {
		return nil, fmt.Errorf("querying notification metrics: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status IN ('sent', 'clicked')) AS success,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'clicked') AS clicked
		FROM deliveries
		WHERE created_at > NOW() - INTERVAL '24 hours'
	`).Scan(&m.TotalDeliveries, &m.SuccessCount, &m.FailedCount, &m.ClickCount)
	if err != nil {
		return nil, fmt.Errorf("querying delivery metrics: %w", err)
	}

	if m.TotalDeliveries > 0 {
		m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalDeliveries) * 100
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM subscribers WHERE is_active = true
	`).Scan(&m.ActiveSubscribers)
	if err != nil {
		return nil, fmt.Errorf("querying active subscribers: %w", err)
	}

	return &m, nil
}
