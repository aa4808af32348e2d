package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/securechat-dev/securechat/internal/client/client"
	"github.com/securechat-dev/securechat/internal/client/models"
	"github.com/securechat-dev/securechat/internal/client/repositories/keyrecords"
	"github.com/securechat-dev/securechat/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type memRepo struct {
	mu   sync.Mutex
	recs map[string]*keyrecords.KeyRecord
}

func newMemRepo() *memRepo {
	return &memRepo{recs: make(map[string]*keyrecords.KeyRecord)}
}

func (r *memRepo) Get(_ context.Context, userID string) (*keyrecords.KeyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[userID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *memRepo) Save(_ context.Context, rec *keyrecords.KeyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	if prev, ok := r.recs[rec.UserID]; ok && cp.EncryptedPrivateKey == nil {
		cp.EncryptedPrivateKey = prev.EncryptedPrivateKey
	}
	r.recs[rec.UserID] = &cp
	return nil
}

func (r *memRepo) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recs, userID)
	return nil
}

// hub is an in-memory stand-in for the backend: user directory, published
// keys, opt-in history storage and synchronous delivery with sender echo.
type hub struct {
	mu       sync.Mutex
	users    map[string]models.Identity // user id -> identity
	history  []models.Envelope
	handlers map[string]client.EventHandler
}

func newHub() *hub {
	return &hub{
		users:    make(map[string]models.Identity),
		handlers: make(map[string]client.EventHandler),
	}
}

func (h *hub) addUser(id, username string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.users[id] = models.Identity{ID: id, Username: username}
}

func (h *hub) dispatch(ctx context.Context, env models.Envelope) {
	h.mu.Lock()
	if env.StoreHistory {
		h.history = append(h.history, env)
	}
	recipient := h.handlers[env.RecipientID]
	sender := h.handlers[env.SenderID]
	h.mu.Unlock()

	if recipient != nil {
		recipient(ctx, env)
	}
	if sender != nil && env.SenderID != env.RecipientID {
		sender(ctx, env)
	}
}

// hubClient implements client.Client against the hub for one user.
type hubClient struct {
	hub *hub
}

func (c *hubClient) Register(context.Context, string, string) error { return nil }
func (c *hubClient) Login(context.Context, string, string) (*client.LoginResult, error) {
	return nil, errors.New("not implemented")
}
func (c *hubClient) RefreshSession(context.Context, string) (*client.RefreshResult, error) {
	return nil, errors.New("not implemented")
}

func (c *hubClient) Users(context.Context) ([]models.Identity, error) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	out := make([]models.Identity, 0, len(c.hub.users))
	for _, u := range c.hub.users {
		out = append(out, u)
	}
	return out, nil
}

func (c *hubClient) PublishKey(_ context.Context, userID string, publicKey []byte) error {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	u := c.hub.users[userID]
	u.ID = userID
	u.PublicKey = publicKey
	c.hub.users[userID] = u
	return nil
}

func (c *hubClient) History(_ context.Context, _, _ string) ([]models.Envelope, error) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	// Deliberately unfiltered: the cache must re-filter to the pair.
	out := make([]models.Envelope, len(c.hub.history))
	copy(out, c.hub.history)
	return out, nil
}

func (c *hubClient) Close() error { return nil }

// hubTransport implements client.Transport for one user on the hub.
type hubTransport struct {
	hub     *hub
	userID  string
	sendErr error

	mu      sync.Mutex
	handler client.EventHandler
}

func (t *hubTransport) Connect(context.Context, string, string) error { return nil }

func (t *hubTransport) Subscribe(h client.EventHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()

	t.hub.mu.Lock()
	t.hub.handlers[t.userID] = func(ctx context.Context, env models.Envelope) {
		t.mu.Lock()
		handler := t.handler
		t.mu.Unlock()
		if handler != nil {
			handler(ctx, env)
		}
	}
	t.hub.mu.Unlock()
}

func (t *hubTransport) Send(ctx context.Context, env models.Envelope) error {
	if t.sendErr != nil {
		return t.sendErr
	}
	t.hub.dispatch(ctx, env)
	return nil
}

func (t *hubTransport) Rebind(context.Context, string) error { return nil }
func (t *hubTransport) Close() error                         { return nil }

// fakeAuthAPI drives AuthService tests.
type fakeAuthAPI struct {
	hubClient
	loginResult  *client.LoginResult
	loginErr     error
	publishedKey []byte
	publishErr   error
}

func (f *fakeAuthAPI) Login(context.Context, string, string) (*client.LoginResult, error) {
	return f.loginResult, f.loginErr
}

func (f *fakeAuthAPI) PublishKey(_ context.Context, _ string, publicKey []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.publishedKey = publicKey
	return nil
}
