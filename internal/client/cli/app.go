// Package cli implements the interactive SecureChat client: a REPL that
// drives registration, login, peer selection and messaging on top of the
// engine services.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/securechat-dev/securechat/internal/client/client"
	"github.com/securechat-dev/securechat/internal/client/config"
	"github.com/securechat-dev/securechat/internal/client/keystore"
	"github.com/securechat-dev/securechat/internal/client/models"
	"github.com/securechat-dev/securechat/internal/client/repositories/metadata"
	"github.com/securechat-dev/securechat/internal/client/services"
	"github.com/securechat-dev/securechat/internal/client/session"
	"github.com/securechat-dev/securechat/internal/cryptox"
	"github.com/securechat-dev/securechat/internal/dbx"
	"github.com/securechat-dev/securechat/internal/logging"
)

const (
	metadataKeyUsername = "username"
	metadataKeyUserID   = "user_id"
)

// App wires the engine together for one process: transport, keystore,
// services, and per-session state created at login and torn down at logout.
type App struct {
	config    *config.Config
	log       logging.Logger
	api       client.Client
	transport client.Transport
	repos     *client.Repositories
	keys      *keystore.KeyStore
	auth      *services.AuthService
	reader    *bufio.Reader

	mu          sync.Mutex
	chat        *services.ChatService
	guard       *session.Guard
	guardCancel context.CancelFunc
	userID      string
	userName    string
	users       []models.Identity
	expired     bool
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	repos, err := client.InitDatabase(ctx, c.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("initializing local database: %w", err)
	}

	api := client.NewHTTPClient(c.ServerURL)
	keys := keystore.New(repos.KeyRecords)

	return &App{
		config:    c,
		log:       log,
		api:       api,
		transport: client.NewWSChannel(c.WebsocketURL, log),
		repos:     repos,
		keys:      keys,
		auth:      services.NewAuthService(api, keys, log),
		reader:    bufio.NewReader(os.Stdin),
	}, nil
}

func (a *App) isLoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chat != nil
}

// startSession builds the per-session engine after a successful login:
// connects the delivery channel, installs the single inbound subscription,
// and starts the credential refresh loop.
func (a *App) startSession(ctx context.Context, auth *services.Authenticated) error {
	if err := a.transport.Connect(ctx, auth.SessionID, auth.UserID); err != nil {
		return err
	}

	chat := services.NewChatService(a.api, a.transport, a.keys, auth.UserID, a.notifyIncoming, a.log)
	chat.Start(ctx)

	guardCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	guard := session.New(a.api, a.transport, a.keys, auth.Token, auth.SessionID,
		a.config.RefreshInterval, a.onSessionExpired, a.log)
	go guard.Run(guardCtx)

	a.mu.Lock()
	a.chat = chat
	a.guard = guard
	a.guardCancel = cancel
	a.userID = auth.UserID
	a.userName = auth.Username
	a.expired = false
	a.mu.Unlock()

	// Remember the last logged-in identity as one unit.
	err := dbx.WithTx(ctx, a.repos.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		meta := metadata.NewSQLiteRepository(tx)
		if err := meta.Set(ctx, metadataKeyUsername, []byte(auth.Username)); err != nil {
			return err
		}
		return meta.Set(ctx, metadataKeyUserID, []byte(auth.UserID))
	})
	if err != nil {
		a.log.Warn(ctx, "persisting login identity", "error", err)
	}
	return nil
}

// notifyIncoming is the active-view hook: it fires only for messages in the
// currently selected conversation.
func (a *App) notifyIncoming(msg models.Message, path cryptox.Path) {
	marker := ""
	if path == cryptox.PathFallback {
		marker = " [unverified]"
	}
	fmt.Printf("\n%s%s: %s\n", msg.SenderID, marker, msg.Text)
}

// onSessionExpired runs when a credential refresh is rejected. The keystore
// is already locked by the guard; the REPL notices on the next prompt.
func (a *App) onSessionExpired() {
	a.mu.Lock()
	a.chat = nil
	a.guard = nil
	a.expired = true
	a.mu.Unlock()
	fmt.Println("\nSession expired, please login again")
}

func (a *App) teardownSession(ctx context.Context) {
	a.mu.Lock()
	cancel := a.guardCancel
	a.chat = nil
	a.guard = nil
	a.guardCancel = nil
	a.userID = ""
	a.userName = ""
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := a.transport.Close(); err != nil {
		a.log.Warn(ctx, "closing delivery channel", "error", err)
	}
}

// Run starts the REPL and blocks until the user exits.
func (a *App) Run(ctx context.Context) {
	defer func() {
		a.teardownSession(ctx)
		_ = a.api.Close()
		_ = a.repos.DB.Close()
	}()
	a.Root(ctx)
}
