package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/securechat-dev/securechat/internal/client/client"
	"github.com/securechat-dev/securechat/internal/client/keystore"
	"github.com/securechat-dev/securechat/internal/common"
)

func TestLogin_Success_UnlocksAndPublishes(t *testing.T) {
	api := &fakeAuthAPI{
		loginResult: &client.LoginResult{
			Token:     "tok",
			SessionID: "sess",
			UserID:    "u1",
			Username:  "alice",
		},
	}
	keys := keystore.New(newMemRepo())
	svc := NewAuthService(api, keys, testLogger())

	auth, err := svc.Login(context.Background(), "alice", []byte("pw"))
	require.NoError(t, err)
	require.Equal(t, "u1", auth.UserID)
	require.Equal(t, "alice", auth.Username)
	require.Equal(t, "tok", auth.Token)
	require.NotNil(t, auth.Session)

	require.Equal(t, auth.Session.PublicKey[:], api.publishedKey)
	require.NotNil(t, keys.CurrentSession())
}

func TestLogin_Unauthorized_MapsToInvalidCredential(t *testing.T) {
	api := &fakeAuthAPI{loginErr: client.ErrUnauthorized}
	svc := NewAuthService(api, keystore.New(newMemRepo()), testLogger())

	_, err := svc.Login(context.Background(), "alice", []byte("wrong"))
	require.ErrorIs(t, err, common.ErrInvalidCredential)
}

func TestLogin_ServerUnavailable_NotMasked(t *testing.T) {
	api := &fakeAuthAPI{loginErr: client.ErrUnavailable}
	svc := NewAuthService(api, keystore.New(newMemRepo()), testLogger())

	_, err := svc.Login(context.Background(), "alice", []byte("pw"))
	require.ErrorIs(t, err, client.ErrUnavailable)
	require.NotErrorIs(t, err, common.ErrInvalidCredential)
}

func TestLogin_WrongLocalPassword(t *testing.T) {
	repo := newMemRepo()
	keys := keystore.New(repo)
	ctx := context.Background()

	// Key record already exists, sealed under the original password.
	_, err := keys.Unlock(ctx, "u1", []byte("original"))
	require.NoError(t, err)
	keys.Lock()

	api := &fakeAuthAPI{
		loginResult: &client.LoginResult{Token: "t", SessionID: "s", UserID: "u1", Username: "alice"},
	}
	svc := NewAuthService(api, keys, testLogger())

	_, err = svc.Login(ctx, "alice", []byte("different"))
	require.ErrorIs(t, err, common.ErrInvalidCredential)
}

func TestLogin_PublishFailure_IsNotFatal(t *testing.T) {
	api := &fakeAuthAPI{
		loginResult: &client.LoginResult{Token: "t", SessionID: "s", UserID: "u1", Username: "alice"},
		publishErr:  client.ErrUnavailable,
	}
	svc := NewAuthService(api, keystore.New(newMemRepo()), testLogger())

	auth, err := svc.Login(context.Background(), "alice", []byte("pw"))
	require.NoError(t, err)
	require.NotNil(t, auth.Session)
}

func TestLogout_WipesSession(t *testing.T) {
	api := &fakeAuthAPI{
		loginResult: &client.LoginResult{Token: "t", SessionID: "s", UserID: "u1", Username: "alice"},
	}
	keys := keystore.New(newMemRepo())
	svc := NewAuthService(api, keys, testLogger())

	_, err := svc.Login(context.Background(), "alice", []byte("pw"))
	require.NoError(t, err)

	svc.Logout(context.Background())
	require.Nil(t, keys.CurrentSession())
}
