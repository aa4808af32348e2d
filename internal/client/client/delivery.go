package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sethvargo/go-retry"

	"github.com/securechat-dev/securechat/internal/client/models"
	"github.com/securechat-dev/securechat/internal/common"
	"github.com/securechat-dev/securechat/internal/logging"
)

const (
	dialTimeout      = 10 * time.Second
	writeTimeout     = 10 * time.Second
	reconnectBase    = 500 * time.Millisecond
	reconnectRetries = 6
)

// WSChannel is the websocket-backed Transport. It keeps exactly one inbound
// subscription: Subscribe replaces the handler atomically, so rebuilding a
// subscriber can never leave two live subscriptions processing the same
// events.
type WSChannel struct {
	wsURL string
	log   logging.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	userID    string
	handler   EventHandler
	closed    bool
	readStop  context.CancelFunc
}

func NewWSChannel(wsURL string, log logging.Logger) *WSChannel {
	return &WSChannel{
		wsURL: wsURL,
		log:   log.With("component", "delivery"),
	}
}

// Subscribe installs h as the single active inbound handler, replacing any
// previous one. Safe to call before Connect and at any time after.
func (w *WSChannel) Subscribe(h EventHandler) {
	w.mu.Lock()
	w.handler = h
	w.mu.Unlock()
}

// Connect dials the delivery endpoint, identifying the session and user in
// the query string, and starts the read loop.
func (w *WSChannel) Connect(ctx context.Context, sessionID, userID string) error {
	w.mu.Lock()
	w.sessionID = sessionID
	w.userID = userID
	w.closed = false
	w.mu.Unlock()

	return w.dial(ctx)
}

func (w *WSChannel) endpoint() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	q := url.Values{}
	q.Set(common.SessionIDQueryParam, w.sessionID)
	q.Set(common.UserIDQueryParam, w.userID)
	return w.wsURL + "?" + q.Encode()
}

func (w *WSChannel) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, w.endpoint(), nil)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrTransportUnavailable, err)
	}

	readCtx, stop := context.WithCancel(context.WithoutCancel(ctx))

	w.mu.Lock()
	if w.readStop != nil {
		w.readStop()
	}
	w.conn = conn
	w.readStop = stop
	w.mu.Unlock()

	go w.readLoop(readCtx, conn)
	return nil
}

// readLoop decodes inbound events and hands them to the current subscriber.
// A decode error on one event never stops delivery of later ones. When the
// connection drops, the loop reconnects with exponential backoff unless the
// channel was closed or rebound.
func (w *WSChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env models.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if ctx.Err() != nil || w.isClosed() {
				return
			}
			var ce websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.StatusNormalClosure {
				return
			}
			w.log.Warn(ctx, "delivery connection lost, reconnecting", "error", err)
			w.reconnect(ctx)
			return
		}

		w.mu.Lock()
		h := w.handler
		w.mu.Unlock()
		if h != nil {
			h(ctx, env)
		}
	}
}

func (w *WSChannel) reconnect(ctx context.Context) {
	backoff := retry.WithMaxRetries(reconnectRetries, retry.NewExponential(reconnectBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if w.isClosed() {
			return nil
		}
		if err := w.dial(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		w.log.Error(ctx, "delivery channel reconnect failed", "error", err)
	}
}

// Send writes one envelope to the wire. The engine does not retry transport
// delivery itself; a failure surfaces as ErrTransportUnavailable and the
// message stays in the local cache.
func (w *WSChannel) Send(ctx context.Context, env models.Envelope) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return common.ErrTransportUnavailable
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, env); err != nil {
		return fmt.Errorf("%w: %w", common.ErrTransportUnavailable, err)
	}
	return nil
}

// Rebind moves the connection to a new session id: the old socket is closed,
// a new one dialed, and the subscriber carries over untouched. No inbound
// event is processed twice because the old read loop stops before the new
// socket starts delivering.
func (w *WSChannel) Rebind(ctx context.Context, sessionID string) error {
	w.mu.Lock()
	if w.sessionID == sessionID && w.conn != nil {
		w.mu.Unlock()
		return nil
	}
	w.sessionID = sessionID
	conn := w.conn
	w.conn = nil
	if w.readStop != nil {
		w.readStop()
		w.readStop = nil
	}
	w.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "rebinding session")
	}
	return w.dial(ctx)
}

func (w *WSChannel) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *WSChannel) Close() error {
	w.mu.Lock()
	w.closed = true
	conn := w.conn
	w.conn = nil
	if w.readStop != nil {
		w.readStop()
		w.readStop = nil
	}
	w.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	return nil
}
