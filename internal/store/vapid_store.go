package store

import (
	"context"
	"fmt"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/jackc/pgx/v5"
	"github.com/pushfleet/pushfleet/internal/domain"
)

const vapidColumns = `id, client_id, public_key, private_key, subject, is_active, created_at`

func scanVapidKey(row pgx.Row) (*domain.VapidKeySet, error) {
	var k domain.VapidKeySet
	err := row.Scan(&k.ID, &k.ClientID, &k.PublicKey, &k.PrivateKey, &k.Subject, &k.IsActive, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// ActiveVapidKey returns the signing key set currently active for a client,
// or nil when none has been provisioned.
func (s *PostgresStore) ActiveVapidKey(ctx context.Context, clientID string) (*domain.VapidKeySet, error) {
	k, err := scanVapidKey(s.pool.QueryRow(ctx,
		`SELECT `+vapidColumns+` FROM vapid_keys WHERE client_id = $1 AND is_active = true`, clientID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying vapid key: %w", err)
	}
	return k, nil
}

// RotateVapidKey generates a fresh signing pair and makes it the active set
// for the client in one transaction. The prior set is deactivated, never
// deleted, so already-issued subscriptions remain traceable.
func (s *PostgresStore) RotateVapidKey(ctx context.Context, clientID, subject string) (*domain.VapidKeySet, error) {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("generating vapid keys: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE vapid_keys SET is_active = false WHERE client_id = $1 AND is_active = true
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("deactivating vapid key: %w", err)
	}

	k, err := scanVapidKey(tx.QueryRow(ctx, `
		INSERT INTO vapid_keys (client_id, public_key, private_key, subject, is_active)
		VALUES ($1, $2, $3, $4, true)
		RETURNING `+vapidColumns,
		clientID, publicKey, privateKey, subject))
	if err != nil {
		return nil, fmt.Errorf("inserting vapid key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return k, nil
}
