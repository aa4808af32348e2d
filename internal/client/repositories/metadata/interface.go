package metadata

import (
	"context"
)

// Repository is a small key-value store for client-side state that is not
// key material: last known username, UI preferences and the like.
type Repository interface {
	// Get returns (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
