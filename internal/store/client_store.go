package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pushfleet/pushfleet/internal/domain"
)

func (s *PostgresStore) CreateClient(ctx context.Context, req domain.CreateClientRequest) (*domain.Client, error) {
	var c domain.Client
	err := s.pool.QueryRow(ctx, `
		INSERT INTO clients (name, email)
		VALUES ($1, $2)
		RETURNING id, name, email, created_at
	`, req.Name, req.Email).Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting client: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	var c domain.Client
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at FROM clients WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying client: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, email, created_at FROM clients ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying clients: %w", err)
	}
	defer rows.Close()

	var clients []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning client: %w", err)
		}
		clients = append(clients, c)
	}

	if clients == nil {
		clients = []domain.Client{}
	}

	return clients, nil
}

func (s *PostgresStore) CreateDomain(ctx context.Context, clientID string, req domain.CreateDomainRequest) (*domain.Domain, error) {
	var d domain.Domain
	err := s.pool.QueryRow(ctx, `
		INSERT INTO domains (client_id, name)
		VALUES ($1, $2)
		RETURNING id, client_id, name, is_verified, created_at
	`, clientID, req.Name).Scan(&d.ID, &d.ClientID, &d.Name, &d.IsVerified, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting domain: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) ListDomains(ctx context.Context, clientID string) ([]domain.Domain, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, client_id, name, is_verified, created_at
		FROM domains WHERE client_id = $1 ORDER BY created_at
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("querying domains: %w", err)
	}
	defer rows.Close()

	var domains []domain.Domain
	for rows.Next() {
		var d domain.Domain
		if err := rows.Scan(&d.ID, &d.ClientID, &d.Name, &d.IsVerified, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning domain: %w", err)
		}
		domains = append(domains, d)
	}

	if domains == nil {
		domains = []domain.Domain{}
	}

	return domains, nil
}
