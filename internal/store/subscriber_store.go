package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pushfleet/pushfleet/internal/domain"
)

const subscriberColumns = `id, client_id, domain_id, endpoint, p256dh_key, auth_key, is_active, last_seen_at, created_at`

func scanSubscriber(row pgx.Row) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	err := row.Scan(
		&sub.ID, &sub.ClientID, &sub.DomainID, &sub.Endpoint,
		&sub.P256dhKey, &sub.AuthKey, &sub.IsActive, &sub.LastSeenAt, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpsertSubscriber registers a push endpoint under a domain. Endpoints are
// globally unique, so a browser re-subscribing lands on the existing row:
// its key material is refreshed and the subscriber is reactivated.
func (s *PostgresStore) UpsertSubscriber(ctx context.Context, clientID string, req domain.SubscribeRequest) (*domain.Subscriber, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO subscribers (client_id, domain_id, endpoint, p256dh_key, auth_key, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (endpoint) DO UPDATE
		SET p256dh_key = EXCLUDED.p256dh_key,
		    auth_key = EXCLUDED.auth_key,
		    domain_id = EXCLUDED.domain_id,
		    is_active = true,
		    last_seen_at = NOW()
		RETURNING `+subscriberColumns,
		clientID, req.DomainID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth,
	)
	sub, err := scanSubscriber(row)
	if err != nil {
		return nil, fmt.Errorf("upserting subscriber: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) GetSubscriber(ctx context.Context, id string) (*domain.Subscriber, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id)
	sub, err := scanSubscriber(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscriber: %w", err)
	}
	return sub, nil
}

// GetSubscriberByEndpoint resolves a subscriber from its push endpoint URL.
// The service worker only knows its own endpoint, so click reports arrive
// keyed by it.
func (s *PostgresStore) GetSubscriberByEndpoint(ctx context.Context, endpoint string) (*domain.Subscriber, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE endpoint = $1`, endpoint)
	sub, err := scanSubscriber(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscriber by endpoint: %w", err)
	}
	return sub, nil
}

// ListActiveSubscribers resolves the fan-out target set for a client,
// optionally narrowed to one domain.
func (s *PostgresStore) ListActiveSubscribers(ctx context.Context, clientID string, domainID *string) ([]domain.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE client_id = $1 AND is_active = true`
	args := []interface{}{clientID}

	if domainID != nil {
		query += " AND domain_id = $2"
		args = append(args, *domainID)
	}

	query += " ORDER BY created_at"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying active subscribers: %w", err)
	}
	defer rows.Close()

	var subscribers []domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		subscribers = append(subscribers, *sub)
	}

	return subscribers, rows.Err()
}

func (s *PostgresStore) ListSubscribers(ctx context.Context, clientID string, limit int) ([]domain.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE client_id = $1 ORDER BY created_at DESC`
	args := []interface{}{clientID}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscribers: %w", err)
	}
	defer rows.Close()

	var subscribers []domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		subscribers = append(subscribers, *sub)
	}

	if subscribers == nil {
		subscribers = []domain.Subscriber{}
	}

	return subscribers, nil
}

// DeactivateSubscriber flags an endpoint as gone. The row is kept so the
// delivery ledger still resolves, but future sweeps skip it.
func (s *PostgresStore) DeactivateSubscriber(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE subscribers SET is_active = false WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivating subscriber: %w", err)
	}
	return nil
}

// DeactivateByEndpoint handles an explicit unsubscribe from the browser.
func (s *PostgresStore) DeactivateByEndpoint(ctx context.Context, endpoint string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscribers SET is_active = false WHERE endpoint = $1
	`, endpoint)
	if err != nil {
		return false, fmt.Errorf("deactivating subscriber by endpoint: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
