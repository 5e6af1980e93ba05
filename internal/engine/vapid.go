package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/pushfleet/pushfleet/internal/domain"
)

// ErrNoActiveKey means a client has no active VAPID key set. This is a
// configuration error, not a transient fault — retrying cannot fix it.
var ErrNoActiveKey = errors.New("no active vapid key for client")

// KeyStore is the piece of storage the key provider needs.
type KeyStore interface {
	ActiveVapidKey(ctx context.Context, clientID string) (*domain.VapidKeySet, error)
}

// KeyProvider resolves the active signing key for a client. It deliberately
// holds no cache: rotation must be visible to the very next dispatch batch,
// so every lookup goes to storage.
type KeyProvider struct {
	store KeyStore
}

func NewKeyProvider(store KeyStore) *KeyProvider {
	return &KeyProvider{store: store}
}

func (p *KeyProvider) ActiveKey(ctx context.Context, clientID string) (*domain.VapidKeySet, error) {
	key, err := p.store.ActiveVapidKey(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("looking up vapid key: %w", err)
	}
	if key == nil {
		return nil, fmt.Errorf("client %s: %w", clientID, ErrNoActiveKey)
	}
	return key, nil
}
