// Package session keeps the transport binding aligned with the current
// credential: a fixed-interval refresh loop that rotates the token, rebinds
// the delivery channel when the session id changes, and forces logout when
// the credential is no longer accepted.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/securechat-dev/securechat/internal/client/client"
	"github.com/securechat-dev/securechat/internal/client/keystore"
	"github.com/securechat-dev/securechat/internal/common"
	"github.com/securechat-dev/securechat/internal/logging"
)

// DefaultRefreshInterval matches the server's expectation of periodic
// credential refresh while a session is active.
const DefaultRefreshInterval = 15 * time.Minute

// Guard owns the credential lifecycle for one logical session.
type Guard struct {
	api       client.Client
	transport client.Transport
	keys      *keystore.KeyStore
	log       logging.Logger
	interval  time.Duration
	onExpired func()

	mu        sync.Mutex
	token     string
	sessionID string
}

func New(api client.Client, transport client.Transport, keys *keystore.KeyStore,
	token, sessionID string, interval time.Duration, onExpired func(), log logging.Logger) *Guard {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Guard{
		api:       api,
		transport: transport,
		keys:      keys,
		log:       log.With("component", "session"),
		interval:  interval,
		onExpired: onExpired,
		token:     token,
		sessionID: sessionID,
	}
}

// Token returns the current credential.
func (g *Guard) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token
}

// SessionID returns the current transport session identifier.
func (g *Guard) SessionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessionID
}

// Run refreshes the credential every interval until ctx is cancelled or a
// refresh is rejected. Intended to run in its own goroutine for the lifetime
// of the session.
func (g *Guard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := g.RefreshOnce(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// RefreshOnce performs one refresh cycle. On success with a changed session
// id the transport is rebound in place: the conversation cache, the active
// session and the inbound subscription all carry over untouched. On
// rejection the keystore is locked, the expiry callback fires, and the error
// is returned so Run stops.
func (g *Guard) RefreshOnce(ctx context.Context) error {
	g.logExpiry(ctx)

	res, err := g.api.RefreshSession(ctx, g.Token())
	if err != nil {
		if !errors.Is(err, common.ErrRefreshRejected) {
			// The credential itself was not rejected; keep the session
			// alive and retry on the next tick.
			g.log.Warn(ctx, "session refresh failed, will retry", "error", err)
			return nil
		}
		g.log.Error(ctx, "session refresh rejected, forcing re-authentication", "error", err)
		g.keys.Lock()
		if g.onExpired != nil {
			g.onExpired()
		}
		return err
	}

	g.mu.Lock()
	g.token = res.Token
	rebind := res.SessionID != "" && res.SessionID != g.sessionID
	if rebind {
		g.sessionID = res.SessionID
	}
	g.mu.Unlock()

	if rebind {
		if err := g.transport.Rebind(ctx, res.SessionID); err != nil {
			// The transport reconnects on its own; the credential itself
			// is still good.
			g.log.Warn(ctx, "rebinding transport after refresh", "error", err)
		} else {
			g.log.Info(ctx, "transport rebound to rotated session", "session_id", res.SessionID)
		}
	}
	return nil
}

// logExpiry records how close the current token is to expiring. The client
// never holds the signing key, so the claims are read without verification;
// the server remains the authority on validity.
func (g *Guard) logExpiry(ctx context.Context) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(g.Token(), claims); err != nil {
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if remaining := time.Until(exp.Time); remaining < g.interval {
		g.log.Info(ctx, "credential close to expiry", "remaining", remaining.String())
	}
}
