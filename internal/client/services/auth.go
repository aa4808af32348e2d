// Package services contains the application services for the SecureChat
// client: authentication (register, login, logout) and the chat engine that
// glues keystore, cache, router and transport together.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/securechat-dev/securechat/internal/client/client"
	"github.com/securechat-dev/securechat/internal/client/keystore"
	"github.com/securechat-dev/securechat/internal/common"
	"github.com/securechat-dev/securechat/internal/logging"
)

// Authenticated is the result of a successful login: the issued credential
// plus the unlocked local key material.
type Authenticated struct {
	UserID    string
	Username  string
	Token     string
	SessionID string
	Session   *keystore.ActiveSession
}

// AuthService handles account lifecycle against the external auth service
// and the local keystore.
type AuthService struct {
	api  client.Client
	keys *keystore.KeyStore
	log  logging.Logger
}

func NewAuthService(api client.Client, keys *keystore.KeyStore, log logging.Logger) *AuthService {
	return &AuthService{api: api, keys: keys, log: log.With("component", "auth")}
}

// Register creates the account on the server. Key material is generated
// lazily on first login, once the server has assigned the user id.
func (a *AuthService) Register(ctx context.Context, username, password string) error {
	return a.api.Register(ctx, username, password)
}

// Login authenticates against the server, unlocks (or creates) the local key
// pair under the same password, and publishes the public key so peers can
// find it in the directory.
//
// Any credential failure is reported as common.ErrInvalidCredential; the
// caller must not tell the user which step failed.
func (a *AuthService) Login(ctx context.Context, username string, password []byte) (*Authenticated, error) {
	res, err := a.api.Login(ctx, username, string(password))
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return nil, common.ErrInvalidCredential
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	session, err := a.keys.Unlock(ctx, res.UserID, password)
	if err != nil {
		return nil, err
	}

	if err := a.api.PublishKey(ctx, res.UserID, session.PublicKey[:]); err != nil {
		// Peers fall back to the degraded path until the key is published;
		// worth surfacing, not worth failing the login.
		a.log.Warn(ctx, "publishing public key failed", "error", err)
	}

	return &Authenticated{
		UserID:    res.UserID,
		Username:  res.Username,
		Token:     res.Token,
		SessionID: res.SessionID,
		Session:   session,
	}, nil
}

// Logout destroys the in-memory session. Persisted key records survive for
// the next unlock.
func (a *AuthService) Logout(ctx context.Context) {
	a.keys.Lock()
	a.log.Info(ctx, "logged out, key material wiped")
}
