// Package keyrecords persists per-identity key material: the local user's
// public key plus password-sealed private key, and bare public keys learned
// for peers. Private keys are stored only in their encrypted form.
package keyrecords

import "context"

// KeyRecord is the at-rest form of an identity's key material.
// EncryptedPrivateKey is nil for peers.
type KeyRecord struct {
	UserID              string
	PublicKey           []byte
	EncryptedPrivateKey []byte
}

type Repository interface {
	// Get returns the record for userID, or (nil, nil) when absent.
	Get(ctx context.Context, userID string) (*KeyRecord, error)

	// Save upserts a record. Saving a peer record (nil private key) over an
	// own record must not erase the stored private key.
	Save(ctx context.Context, rec *KeyRecord) error

	// Delete removes the record for userID.
	Delete(ctx context.Context, userID string) error
}
