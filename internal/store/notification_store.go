package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pushfleet/pushfleet/internal/domain"
)

const notificationColumns = `id, client_id, domain_id, title, body, icon_url, image_url, click_url,
	status, scheduled_at, total_subscribers, successful_sends, failed_sends, click_count,
	error_message, created_at, updated_at, sent_at`

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(
		&n.ID, &n.ClientID, &n.DomainID, &n.Title, &n.Body, &n.IconURL, &n.ImageURL, &n.ClickURL,
		&n.Status, &n.ScheduledAt, &n.TotalSubscribers, &n.SuccessfulSends, &n.FailedSends,
		&n.ClickCount, &n.ErrorMessage, &n.CreatedAt, &n.UpdatedAt, &n.SentAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// CreateNotification inserts a new campaign. A scheduled_at in the request
// makes it immediately eligible for the dispatch sweep once due; without
// one the notification stays a draft until scheduled.
func (s *PostgresStore) CreateNotification(ctx context.Context, req domain.CreateNotificationRequest) (*domain.Notification, error) {
	status := domain.NotificationStatusDraft
	if req.ScheduledAt != nil {
		status = domain.NotificationStatusScheduled
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO notifications (client_id, domain_id, title, body, icon_url, image_url, click_url, status, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+notificationColumns,
		req.ClientID, req.DomainID, req.Title, req.Body, req.IconURL, req.ImageURL, req.ClickURL, status, req.ScheduledAt,
	)
	n, err := scanNotification(row)
	if err != nil {
		return nil, fmt.Errorf("inserting notification: %w", err)
	}
	return n, nil
}

// ScheduleNotification moves a draft to scheduled at the given time.
// Returns nil if the notification does not exist or is not a draft.
func (s *PostgresStore) ScheduleNotification(ctx context.Context, id string, at time.Time) (*domain.Notification, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE notifications
		SET status = $2, scheduled_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING `+notificationColumns,
		id, domain.NotificationStatusScheduled, at, domain.NotificationStatusDraft,
	)
	n, err := scanNotification(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scheduling notification: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying notification: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, clientID, status string, limit int) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications`
	args := []interface{}{}
	argIdx := 1
	conditions := []string{}

	if clientID != "" {
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", argIdx))
		args = append(args, clientID)
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
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var list []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		list = append(list, *n)
	}

	if list == nil {
		list = []domain.Notification{}
	}

	return list, nil
}

// ClaimDueNotifications atomically claims up to limit due notifications for
// dispatch by moving them scheduled → sending. The conditional update plus
// FOR UPDATE SKIP LOCKED guarantees that when several scheduler instances
// sweep at the same instant, each due row is handed to exactly one of them.
func (s *PostgresStore) ClaimDueNotifications(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE notifications
		SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = $2 AND scheduled_at <= $3
			ORDER BY scheduled_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+notificationColumns,
		domain.NotificationStatusSending, domain.NotificationStatusScheduled, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming due notifications: %w", err)
	}
	defer rows.Close()

	var claimed []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning claimed notification: %w", err)
		}
		claimed = append(claimed, *n)
	}

	return claimed, rows.Err()
}

// RecordSendSuccess bumps the successful counter for an in-flight dispatch.
func (s *PostgresStore) RecordSendSuccess(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET successful_sends = successful_sends + 1, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("recording send success: %w", err)
	}
	return nil
}

// RecordSendFailure bumps the failed counter for an in-flight dispatch.
func (s *PostgresStore) RecordSendFailure(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET failed_sends = failed_sends + 1, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("recording send failure: %w", err)
	}
	return nil
}

// FinishNotification marks a claimed notification sent once fan-out is done.
func (s *PostgresStore) FinishNotification(ctx context.Context, id string, total int, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $2, total_subscribers = $3, sent_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`, id, domain.NotificationStatusSent, total, at, domain.NotificationStatusSending)
	if err != nil {
		return fmt.Errorf("finishing notification: %w", err)
	}
	return nil
}

// FailNotification marks a claimed notification failed with a reason.
func (s *PostgresStore) FailNotification(ctx context.Context, id, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, domain.NotificationStatusFailed, reason, domain.NotificationStatusSending)
	if err != nil {
		return fmt.Errorf("failing notification: %w", err)
	}
	return nil
}

// FailStuckNotifications force-fails notifications that have sat in
// "sending" since before cutoff — the dispatcher that claimed them is
// presumed dead. Delivery rows are left untouched.
func (s *PostgresStore) FailStuckNotifications(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE status = $3 AND updated_at < $4
	`, domain.NotificationStatusFailed, reason, domain.NotificationStatusSending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failing stuck notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredNotifications removes terminal notifications created before
// cutoff. Deliveries and click rows go with them via ON DELETE CASCADE;
// scheduled or sending rows are never touched regardless of age.
func (s *PostgresStore) DeleteExpiredNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM notifications
		WHERE status IN ($1, $2) AND created_at < $3
	`, domain.NotificationStatusSent, domain.NotificationStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func joinStrings(strs []string, sep string) string {
	result := ""
	for i, s := range strs {
		if i > 0 {
			result += sep
		}
		result += s
	}
	return result
}
