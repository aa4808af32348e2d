package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/securechat-dev/securechat/internal/client/cache"
	"github.com/securechat-dev/securechat/internal/client/client"
	"github.com/securechat-dev/securechat/internal/client/keystore"
	"github.com/securechat-dev/securechat/internal/client/models"
	"github.com/securechat-dev/securechat/internal/client/router"
	"github.com/securechat-dev/securechat/internal/common"
	"github.com/securechat-dev/securechat/internal/cryptox"
	"github.com/securechat-dev/securechat/internal/logging"
)

// ChatService is the per-session chat engine: it owns the conversation cache
// and the message router, tracks the active peer, and drives send/receive
// through the central encryption selection policy. Construct one after a
// successful login and discard it at logout.
type ChatService struct {
	api       client.Client
	transport client.Transport
	keys      *keystore.KeyStore
	log       logging.Logger

	localUserID string
	cache       *cache.ConversationCache
	router      *router.Router

	mu         sync.Mutex
	activePeer string
}

func NewChatService(api client.Client, transport client.Transport, keys *keystore.KeyStore,
	localUserID string, notify router.Notify, log logging.Logger) *ChatService {
	s := &ChatService{
		api:         api,
		transport:   transport,
		keys:        keys,
		log:         log.With("component", "chat"),
		localUserID: localUserID,
	}

	s.cache = cache.New(localUserID, s.fetchHistory, s.openHistory, log)
	s.router = router.New(api, keys, s.cache, s.ActivePeer, notify, log)
	return s
}

// Start installs the inbound subscription. The transport keeps a single
// handler, so calling Start after a reconnect or rebind is idempotent and
// can never double-process events.
func (s *ChatService) Start(ctx context.Context) {
	s.transport.Subscribe(func(ctx context.Context, env models.Envelope) {
		if err := s.router.Handle(ctx, env); err != nil {
			// Never fatal: the next event must still be processed.
			s.log.Warn(ctx, "inbound event dropped", "error", err)
		}
	})
}

// SelectPeer makes peerID the active conversation and returns its ordered
// history (possibly freshly fetched and decrypted).
func (s *ChatService) SelectPeer(ctx context.Context, peerID string) ([]models.Message, error) {
	s.mu.Lock()
	s.activePeer = peerID
	s.mu.Unlock()

	return s.cache.Select(ctx, peerID)
}

// ActivePeer returns the currently selected peer id, or "" when none.
func (s *ChatService) ActivePeer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePeer
}

// Send encrypts text for the active peer, appends the plaintext copy to the
// local cache immediately (optimistic echo), then hands the envelope to the
// transport. The message id is generated here and reused on the wire, so a
// transport echo de-duplicates instead of doubling.
func (s *ChatService) Send(ctx context.Context, text string) (models.Message, error) {
	session := s.keys.CurrentSession()
	if session == nil {
		return models.Message{}, common.ErrInvalidCredential
	}

	peerID := s.ActivePeer()
	if peerID == "" {
		return models.Message{}, fmt.Errorf("no conversation selected")
	}

	peerKey := s.router.ResolvePeerKey(ctx, peerID)

	envelope, path, err := cryptox.SealFor([]byte(text), peerKey, session.PrivateKey())
	if err != nil {
		return models.Message{}, fmt.Errorf("sealing message: %w", err)
	}
	if path == cryptox.PathFallback {
		s.log.Warn(ctx, "message sealed via degraded fallback path", "peer_id", peerID)
	}

	msg := models.Message{
		ID:          uuid.NewString(),
		SenderID:    s.localUserID,
		RecipientID: peerID,
		Text:        text,
		Timestamp:   time.Now().UTC(),
	}
	s.cache.Append(peerID, msg)

	env := models.Envelope{
		ID:           msg.ID,
		SenderID:     msg.SenderID,
		RecipientID:  msg.RecipientID,
		Ciphertext:   envelope,
		Timestamp:    msg.Timestamp,
		StoreHistory: !s.cache.Anonymous(),
	}
	if err := s.transport.Send(ctx, env); err != nil {
		// The optimistic copy stays cached; the transport collaborator owns
		// retries and reconnection.
		return msg, err
	}
	return msg, nil
}

// Users lists the directory, excluding the local identity.
func (s *ChatService) Users(ctx context.Context) ([]models.Identity, error) {
	users, err := s.api.Users(ctx)
	if err != nil {
		return nil, err
	}

	out := users[:0]
	for _, u := range users {
		if u.ID != s.localUserID {
			out = append(out, u)
		}
	}
	return out, nil
}

// SetAnonymous toggles anonymous mode for subsequent selections and sends.
func (s *ChatService) SetAnonymous(v bool) {
	s.cache.SetAnonymous(v)
}

func (s *ChatService) Anonymous() bool {
	return s.cache.Anonymous()
}

// Snapshot is a pure read of peerID's conversation.
func (s *ChatService) Snapshot(peerID string) []models.Message {
	return s.cache.Snapshot(peerID)
}

func (s *ChatService) fetchHistory(ctx context.Context, peerID string) ([]models.Envelope, error) {
	return s.api.History(ctx, s.localUserID, peerID)
}

func (s *ChatService) openHistory(ctx context.Context, env models.Envelope) (models.Message, error) {
	msg, _, err := s.router.OpenEnvelope(ctx, env)
	return msg, err
}
