package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/securechat-dev/securechat/internal/client/models"
	"github.com/securechat-dev/securechat/internal/common"
)

const requestTimeout = 12 * time.Second

// HTTPClient implements Client against the SecureChat REST surface:
//
//	POST /api/auth/register
//	POST /api/auth/login
//	POST /api/auth/refresh
//	POST /api/auth/keys
//	GET  /api/auth/users
//	GET  /api/messages/history/{peer}?user_id={local}
type HTTPClient struct {
	baseURL string
	httpc   *http.Client

	mu    sync.Mutex
	token string
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: requestTimeout},
	}
}

// SetToken installs the bearer token used on subsequent requests.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *HTTPClient) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.currentToken(); token != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrTransportUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 500:
		return ErrUnavailable
	case resp.StatusCode >= 400:
		return fmt.Errorf("api error: %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) Register(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	return c.do(ctx, http.MethodPost, "/api/auth/register", body, nil)
}

func (c *HTTPClient) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body := map[string]string{"username": username, "password": password}

	var resp struct {
		Token     string `json:"token"`
		SessionID string `json:"session_id"`
		UserID    string `json:"user_id"`
		Username  string `json:"username"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return nil, err
	}

	c.SetToken(resp.Token)
	return &LoginResult{
		Token:     resp.Token,
		SessionID: resp.SessionID,
		UserID:    resp.UserID,
		Username:  resp.Username,
	}, nil
}

func (c *HTTPClient) RefreshSession(ctx context.Context, token string) (*RefreshResult, error) {
	c.SetToken(token)

	var resp struct {
		Token     string `json:"token"`
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", nil, &resp); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, common.ErrRefreshRejected
		}
		return nil, err
	}

	c.SetToken(resp.Token)
	return &RefreshResult{Token: resp.Token, SessionID: resp.SessionID}, nil
}

func (c *HTTPClient) Users(ctx context.Context) ([]models.Identity, error) {
	var users []models.Identity
	if err := c.do(ctx, http.MethodGet, "/api/auth/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *HTTPClient) PublishKey(ctx context.Context, userID string, publicKey []byte) error {
	body := map[string]string{
		"user_id":    userID,
		"public_key": base64.StdEncoding.EncodeToString(publicKey),
	}
	return c.do(ctx, http.MethodPost, "/api/auth/keys", body, nil)
}

func (c *HTTPClient) History(ctx context.Context, localUserID, peerID string) ([]models.Envelope, error) {
	path := "/api/messages/history/" + url.PathEscape(peerID) + "?user_id=" + url.QueryEscape(localUserID)

	var envelopes []models.Envelope
	if err := c.do(ctx, http.MethodGet, path, nil, &envelopes); err != nil {
		return nil, err
	}
	return envelopes, nil
}

func (c *HTTPClient) Close() error {
	c.httpc.CloseIdleConnections()
	return nil
}
