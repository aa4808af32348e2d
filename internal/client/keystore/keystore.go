// Package keystore owns this device's key material: the local user's key
// pair, the public keys learned for peers, and the in-memory active session
// created by a successful password unlock. No other component touches raw
// keys directly.
package keystore

import (
	"context"
	"fmt"
	"sync"

	"github.com/securechat-dev/securechat/internal/client/repositories/keyrecords"
	"github.com/securechat-dev/securechat/internal/common"
	"github.com/securechat-dev/securechat/internal/cryptox"
)

// ActiveSession is the unlocked key material for the current device session.
// It exists only in memory and is destroyed on Lock.
type ActiveSession struct {
	UserID    string
	PublicKey *[cryptox.KeySize]byte
	private   *[cryptox.KeySize]byte
}

// PrivateKey exposes the unlocked private key to the encryption paths.
func (s *ActiveSession) PrivateKey() *[cryptox.KeySize]byte {
	if s == nil {
		return nil
	}
	return s.private
}

// KeyStore manages key records through the repository and keeps the peer-key
// table and active session in memory. All methods are safe for concurrent
// use; external events may interleave with user actions.
type KeyStore struct {
	repo keyrecords.Repository

	mu      sync.Mutex
	session *ActiveSession
	peers   map[string]*[cryptox.KeySize]byte
}

func New(repo keyrecords.Repository) *KeyStore {
	return &KeyStore{
		repo:  repo,
		peers: make(map[string]*[cryptox.KeySize]byte),
	}
}

// PersistOwnKeys generates (or reuses) a key pair for userID, seals the
// private key under password and writes the record to durable storage.
// The public key is returned so the caller can publish it to the directory.
func (k *KeyStore) PersistOwnKeys(ctx context.Context, userID string, password []byte) ([]byte, error) {
	existing, err := k.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil && len(existing.EncryptedPrivateKey) > 0 {
		return existing.PublicKey, nil
	}

	pair, err := cryptox.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(pair.Private[:])

	blob, err := cryptox.EncryptPrivateKey(pair.Private, password)
	if err != nil {
		return nil, err
	}

	rec := &keyrecords.KeyRecord{
		UserID:              userID,
		PublicKey:           pair.Public[:],
		EncryptedPrivateKey: blob,
	}
	if err := k.repo.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec.PublicKey, nil
}

// Unlock loads the persisted record for userID, treating a missing record as
// first use (fresh keys are generated and persisted), then opens the sealed
// private key with password and installs the result as the process's active
// session. A previous session, if any, is discarded.
//
// A wrong password surfaces as common.ErrInvalidCredential and is not
// distinguishable from an unknown account.
func (k *KeyStore) Unlock(ctx context.Context, userID string, password []byte) (*ActiveSession, error) {
	rec, err := k.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil || len(rec.EncryptedPrivateKey) == 0 {
		if _, err := k.PersistOwnKeys(ctx, userID, password); err != nil {
			return nil, err
		}
		rec, err = k.repo.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("key record missing after persist: %w", common.ErrInvalidCredential)
		}
	}

	priv, err := cryptox.DecryptPrivateKey(rec.EncryptedPrivateKey, password)
	if err != nil {
		return nil, err
	}

	pub, err := cryptox.KeyFromBytes(rec.PublicKey)
	if err != nil {
		return nil, err
	}

	session := &ActiveSession{UserID: userID, PublicKey: pub, private: priv}

	k.mu.Lock()
	if k.session != nil {
		common.WipeByteArray(k.session.private[:])
	}
	k.session = session
	k.mu.Unlock()

	return session, nil
}

// Lock discards the active session, overwriting the in-memory private key
// bytes before release.
func (k *KeyStore) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.session != nil {
		common.WipeByteArray(k.session.private[:])
		k.session = nil
	}
}

// CurrentSession returns the active session, or nil when locked.
func (k *KeyStore) CurrentSession() *ActiveSession {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.session
}

// RememberPeerPublicKey upserts a peer's public key into the in-memory table
// and the durable record store. Idempotent.
func (k *KeyStore) RememberPeerPublicKey(ctx context.Context, peerID string, publicKey []byte) error {
	key, err := cryptox.KeyFromBytes(publicKey)
	if err != nil {
		return err
	}

	k.mu.Lock()
	k.peers[peerID] = key
	k.mu.Unlock()

	return k.repo.Save(ctx, &keyrecords.KeyRecord{UserID: peerID, PublicKey: publicKey})
}

// PeerPublicKey is a pure lookup; it never triggers network access. Returns
// nil when the peer's key has not been learned yet.
func (k *KeyStore) PeerPublicKey(peerID string) *[cryptox.KeySize]byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.peers[peerID]
}

// LoadPeerPublicKey pulls a previously learned peer key from durable storage
// into the in-memory table, e.g. after a restart.
func (k *KeyStore) LoadPeerPublicKey(ctx context.Context, peerID string) (*[cryptox.KeySize]byte, error) {
	if key := k.PeerPublicKey(peerID); key != nil {
		return key, nil
	}

	rec, err := k.repo.Get(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	key, err := cryptox.KeyFromBytes(rec.PublicKey)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	k.peers[peerID] = key
	k.mu.Unlock()
	return key, nil
}
