// Package client talks to the external collaborators: the auth/directory
// service over HTTP and the real-time delivery channel over websocket. The
// engine core depends only on the interfaces defined here.
package client

import (
	"context"

	"github.com/securechat-dev/securechat/internal/client/models"
)

// LoginResult is the credential bundle issued by the auth service.
type LoginResult struct {
	Token     string
	SessionID string
	UserID    string
	Username  string
}

// RefreshResult is the outcome of a credential refresh. SessionID may differ
// from the current one, in which case the transport must be rebound.
type RefreshResult struct {
	Token     string
	SessionID string
}

// Client is the request/response surface of the external service: accounts,
// session tokens, the user directory, key publication and history fetch.
type Client interface {
	Register(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	RefreshSession(ctx context.Context, token string) (*RefreshResult, error)

	// Users lists the directory: every registered identity with its public
	// key when published.
	Users(ctx context.Context) ([]models.Identity, error)

	// PublishKey makes the local public key discoverable via Users.
	PublishKey(ctx context.Context, userID string, publicKey []byte) error

	// History returns the stored envelopes between localUserID and peerID.
	// Callers must re-filter and re-sort; upstream is not trusted to.
	History(ctx context.Context, localUserID, peerID string) ([]models.Envelope, error)

	Close() error
}

// Transport is the real-time delivery channel: at-least-once, unordered,
// possibly duplicated. Subscribe installs the single active inbound handler;
// Rebind atomically moves the connection to a new session id without losing
// the subscription.
type Transport interface {
	Connect(ctx context.Context, sessionID, userID string) error
	Subscribe(h EventHandler)
	Send(ctx context.Context, env models.Envelope) error
	Rebind(ctx context.Context, sessionID string) error
	Close() error
}

// EventHandler consumes one inbound delivery event.
type EventHandler func(ctx context.Context, env models.Envelope)
