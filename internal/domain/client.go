package domain

import (
	"time"
)

// Client is a tenant account owning domains, subscribers and notifications.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Domain is an origin registered under a client; subscribers belong to it.
type Domain struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"client_id"`
	Name       string    `json:"name"`
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
}

type CreateClientRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type CreateDomainRequest struct {
	Name string `json:"name"`
}
