package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securechat-dev/securechat/internal/common"
)

func TestLogin_SetsTokenAndParsesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/login", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "alice", body["username"])

		json.NewEncoder(w).Encode(map[string]string{
			"token":      "tok",
			"session_id": "sess",
			"user_id":    "u1",
			"username":   "alice",
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	res, err := c.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok", res.Token)
	assert.Equal(t, "sess", res.SessionID)
	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, "tok", c.currentToken())
}

func TestDo_SendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get(common.AuthorizationHeaderName)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	c.SetToken("tok")

	_, err := c.Users(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer tok", gotAuth)
}

func TestDo_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"bad gateway", http.StatusBadGateway, ErrUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL)
			_, err := c.Users(context.Background())
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDo_ConnectionRefused_WrapsTransportError(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1")
	err := c.Register(context.Background(), "alice", "pw")
	require.ErrorIs(t, err, common.ErrTransportUnavailable)
}

func TestRefreshSession_RejectionMapsToRefreshRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.RefreshSession(context.Background(), "stale")
	require.ErrorIs(t, err, common.ErrRefreshRejected)
}

func TestRefreshSession_Success_RotatesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer old", r.Header.Get(common.AuthorizationHeaderName))
		json.NewEncoder(w).Encode(map[string]string{"token": "new", "session_id": "s2"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	res, err := c.RefreshSession(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, "new", res.Token)
	assert.Equal(t, "s2", res.SessionID)
	assert.Equal(t, "new", c.currentToken())
}

func TestPublishKey_EncodesKeyBase64(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/keys", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	require.NoError(t, c.PublishKey(context.Background(), "u1", []byte{1, 2, 3}))

	assert.Equal(t, "u1", body["user_id"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), body["public_key"])
}

func TestHistory_BuildsPeerPath(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("user_id")
		w.Write([]byte(`[{"sender_id":"peer","recipient_id":"me","encrypted_message":"ct"}]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	envs, err := c.History(context.Background(), "me", "peer")
	require.NoError(t, err)
	assert.Equal(t, "/api/messages/history/peer", gotPath)
	assert.Equal(t, "me", gotQuery)
	require.Len(t, envs, 1)
	assert.Equal(t, "peer", envs[0].SenderID)
}

func TestHistory_EscapesIdentifiers(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.Query().Get("user_id")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.History(context.Background(), "me&other=1", "peer/../admin")
	require.NoError(t, err)
	// Reserved characters must not reshape the path or add query parameters.
	assert.Equal(t, "/api/messages/history/peer%2F..%2Fadmin", gotPath)
	assert.Equal(t, "me&other=1", gotQuery)
}
