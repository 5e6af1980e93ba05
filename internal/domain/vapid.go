package domain

import (
	"time"
)

// VapidKeySet is the signing key pair used to authenticate outbound pushes
// for one client. At most one set is active per client at a time; rotation
// inserts a new active set and deactivates the prior one.
type VapidKeySet struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"client_id"`
	PublicKey  string    `json:"public_key"`
	PrivateKey string    `json:"-"`
	Subject    string    `json:"subject"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}
