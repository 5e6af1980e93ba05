package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pushfleet/pushfleet/internal/domain"
)

const deliveryColumns = `id, notification_id, subscriber_id, status, error_message, sent_at, clicked_at, created_at`

func scanDelivery(row pgx.Row) (*domain.Delivery, error) {
	var d domain.Delivery
	err := row.Scan(
		&d.ID, &d.NotificationID, &d.SubscriberID, &d.Status,
		&d.ErrorMessage, &d.SentAt, &d.ClickedAt, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreatePendingDelivery opens the ledger row for one (notification,
// subscriber) pair. The unique constraint on the pair makes the insert
// idempotent: a second attempt reports created=false and the caller skips
// the subscriber instead of double-sending bookkeeping.
func (s *PostgresStore) CreatePendingDelivery(ctx context.Context, notificationID, subscriberID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO deliveries (notification_id, subscriber_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (notification_id, subscriber_id) DO NOTHING
	`, notificationID, subscriberID, domain.DeliveryStatusPending)
	if err != nil {
		return false, fmt.Errorf("inserting pending delivery: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) MarkDeliverySent(ctx context.Context, notificationID, subscriberID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deliveries SET status = $3, sent_at = $4
		WHERE notification_id = $1 AND subscriber_id = $2
	`, notificationID, subscriberID, domain.DeliveryStatusSent, at)
	if err != nil {
		return fmt.Errorf("marking delivery sent: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkDeliveryFailed(ctx context.Context, notificationID, subscriberID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deliveries SET status = $3, error_message = $4
		WHERE notification_id = $1 AND subscriber_id = $2
	`, notificationID, subscriberID, domain.DeliveryStatusFailed, reason)
	if err != nil {
		return fmt.Errorf("marking delivery failed: %w", err)
	}
	return nil
}

// RecordClick handles a click report from the service worker, which knows
// the notification and its own subscriber identity but not the ledger row
// ID. The first click transitions the delivery to clicked; every click is
// counted on the notification and logged as its own row.
func (s *PostgresStore) RecordClick(ctx context.Context, notificationID, subscriberID string) (*domain.Delivery, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := scanDelivery(tx.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE notification_id = $1 AND subscriber_id = $2`,
		notificationID, subscriberID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying delivery: %w", err)
	}

	if d.Status != domain.DeliveryStatusClicked {
		d, err = scanDelivery(tx.QueryRow(ctx, `
			UPDATE deliveries SET status = $2, clicked_at = NOW()
			WHERE id = $1
			RETURNING `+deliveryColumns,
			d.ID, domain.DeliveryStatusClicked))
		if err != nil {
			return nil, fmt.Errorf("marking delivery clicked: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO notification_clicks (notification_id, subscriber_id)
		VALUES ($1, $2)
	`, d.NotificationID, d.SubscriberID)
	if err != nil {
		return nil, fmt.Errorf("inserting click: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE notifications SET click_count = click_count + 1 WHERE id = $1
	`, d.NotificationID)
	if err != nil {
		return nil, fmt.Errorf("incrementing click count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return d, nil
}

// ListDeliveries returns ledger rows with optional filtering.
func (s *PostgresStore) ListDeliveries(ctx context.Context, notificationID, status string, limit int) ([]domain.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries`
	args := []interface{}{}
	argIdx := 1
	conditions := []string{}

	if notificationID != "" {
		conditions = append(conditions, fmt.Sprintf("notification_id = $%d", argIdx))
		args = append(args, notificationID)
		argIdx++
	}
	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, status)
		argIdx++
	}

	if len(conditions) > 0 {
		query += " WHERE " + joinStrings(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []domain.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		deliveries = append(deliveries, *d)
	}

	if deliveries == nil {
		deliveries = []domain.Delivery{}
	}

	return deliveries, nil
}

func (s *PostgresStore) GetDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	d, err := scanDelivery(s.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying delivery: %w", err)
	}
	return d, nil
}
