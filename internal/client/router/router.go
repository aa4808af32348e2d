// Package router decides, for each inbound delivery event, which decryption
// path applies and which conversation bucket the result belongs to. One
// corrupt envelope never stops delivery of later ones.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/securechat-dev/securechat/internal/client/cache"
	"github.com/securechat-dev/securechat/internal/client/client"
	"github.com/securechat-dev/securechat/internal/client/keystore"
	"github.com/securechat-dev/securechat/internal/client/models"
	"github.com/securechat-dev/securechat/internal/common"
	"github.com/securechat-dev/securechat/internal/cryptox"
	"github.com/securechat-dev/securechat/internal/logging"
)

// Notify surfaces a freshly decrypted message belonging to the active
// conversation to the display layer. Path tells which scheme decrypted it.
type Notify func(msg models.Message, path cryptox.Path)

// Router wires inbound delivery events into the conversation cache.
type Router struct {
	api    client.Client
	keys   *keystore.KeyStore
	cache  *cache.ConversationCache
	log    logging.Logger
	active func() string
	notify Notify
}

func New(api client.Client, keys *keystore.KeyStore, c *cache.ConversationCache,
	active func() string, notify Notify, log logging.Logger) *Router {
	return &Router{
		api:    api,
		keys:   keys,
		cache:  c,
		log:    log.With("component", "router"),
		active: active,
		notify: notify,
	}
}

// Handle processes one inbound delivery event end to end: normalization,
// addressing check, key resolution, decryption, cache append, and active-view
// notification. Errors are returned for observability; the subscriber logs
// them and keeps consuming.
func (r *Router) Handle(ctx context.Context, env models.Envelope) error {
	session := r.keys.CurrentSession()
	if session == nil {
		return fmt.Errorf("no active session, dropping event %q", env.ID)
	}
	localID := session.UserID

	// The transport is trusted to filter, but not relied on. An event is
	// ours if it is addressed to us, or if it is the wire echo of a message
	// we sent (broadcast-to-self); anything else is discarded.
	var peerID string
	switch {
	case env.RecipientID == localID && env.SenderID != localID:
		peerID = env.SenderID
	case env.SenderID == localID:
		peerID = env.RecipientID
	default:
		r.log.Warn(ctx, "discarding event not addressed to local identity",
			"sender_id", env.SenderID, "recipient_id", env.RecipientID)
		return nil
	}
	if peerID == "" {
		return fmt.Errorf("event %q has no usable peer id", env.ID)
	}

	msg, path, err := r.OpenEnvelope(ctx, env)
	if err != nil {
		return fmt.Errorf("decrypting event %q from %q: %w", env.ID, peerID, err)
	}

	// The cache reflects every peer's messages, active or not.
	appended := r.cache.Append(peerID, msg)

	if appended && r.active() == peerID && r.notify != nil {
		r.notify(msg, path)
	}
	return nil
}

// OpenEnvelope resolves key material for the envelope's peer and decrypts it
// through the central selection policy, defaulting the id and timestamp the
// transport may omit. Shared by live delivery and history seeding.
func (r *Router) OpenEnvelope(ctx context.Context, env models.Envelope) (models.Message, cryptox.Path, error) {
	session := r.keys.CurrentSession()
	if session == nil {
		return models.Message{}, "", common.ErrKeyUnavailable
	}

	peerID := env.SenderID
	if peerID == session.UserID {
		peerID = env.RecipientID
	}

	peerKey := r.ResolvePeerKey(ctx, peerID)

	plaintext, path, err := cryptox.OpenFrom(env.Ciphertext, peerKey, session.PrivateKey())
	if err != nil {
		return models.Message{}, path, err
	}
	if path == cryptox.PathFallback {
		r.log.Warn(ctx, "message decrypted via degraded fallback path", "peer_id", peerID)
	}

	msg := models.Message{
		ID:          env.ID,
		SenderID:    env.SenderID,
		RecipientID: env.RecipientID,
		Text:        string(plaintext),
		Timestamp:   env.Timestamp,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg, path, nil
}

// ResolvePeerKey looks the peer's public key up locally first, then fetches
// the directory once on demand. A missing key is not an error: the caller
// degrades to the fallback path.
func (r *Router) ResolvePeerKey(ctx context.Context, peerID string) *[cryptox.KeySize]byte {
	key, err := r.keys.LoadPeerPublicKey(ctx, peerID)
	if err != nil {
		r.log.Warn(ctx, "loading stored peer key", "peer_id", peerID, "error", err)
	}
	if key != nil {
		return key
	}

	users, err := r.api.Users(ctx)
	if err != nil {
		r.log.Warn(ctx, "directory lookup failed", "peer_id", peerID, "error", err)
		return nil
	}
	for _, u := range users {
		if u.ID != peerID || len(u.PublicKey) == 0 {
			continue
		}
		if err := r.keys.RememberPeerPublicKey(ctx, u.ID, u.PublicKey); err != nil {
			r.log.Warn(ctx, "remembering peer key", "peer_id", peerID, "error", err)
		}
		return r.keys.PeerPublicKey(peerID)
	}
	return nil
}
