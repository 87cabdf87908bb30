// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ManuGH/voxsync/internal/bus"
)

type tokenServer struct {
	*httptest.Server
	exchanges atomic.Int32
	refreshes atomic.Int32
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			if r.Form.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			ts.exchanges.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-1",
				"refresh_token": "refresh-1",
				"token_type":    "Bearer",
				"expires_in":    3600,
				"email":         "owner@example.com",
			})
		case "refresh_token":
			n := ts.refreshes.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-refreshed-" + string(rune('0'+n)),
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newGate(t *testing.T, ts *tokenServer, file string, b bus.Bus) *OAuthGate {
	t.Helper()
	g, err := NewOAuthGate(OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/callback",
		TokenFile:    file,
		Endpoint:     &oauth2.Endpoint{AuthURL: ts.URL + "/auth", TokenURL: ts.URL + "/token"},
	}, b)
	require.NoError(t, err)
	return g
}

func TestOAuthGate_SignInPersistsAndPublishes(t *testing.T) {
	ts := newTokenServer(t)
	file := filepath.Join(t.TempDir(), "auth", "token.json")
	b := bus.NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), bus.TopicAuth)
	require.NoError(t, err)
	defer sub.Close()

	g := newGate(t, ts, file, b)
	assert.False(t, g.SignedIn())
	_, err = g.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)

	require.NoError(t, g.SignIn(context.Background(), "good-code"))
	assert.True(t, g.SignedIn())
	assert.Equal(t, "owner@example.com", g.Identity())

	tok, err := g.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)

	select {
	case msg := <-sub.C():
		ev := msg.(bus.AuthEvent)
		assert.True(t, ev.SignedIn)
		assert.Equal(t, "owner@example.com", ev.Identity)
	case <-time.After(time.Second):
		t.Fatal("no auth event published")
	}

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// a new gate restores the identity from disk
	restored := newGate(t, ts, file, nil)
	assert.True(t, restored.SignedIn())
	assert.Equal(t, "owner@example.com", restored.Identity())
}

func TestOAuthGate_SignInFailure(t *testing.T) {
	ts := newTokenServer(t)
	g := newGate(t, ts, "", nil)

	err := g.SignIn(context.Background(), "bad-code")
	require.ErrorIs(t, err, ErrAuthFailed)
	assert.False(t, g.SignedIn())

	assert.ErrorIs(t, g.SignIn(context.Background(), ""), ErrAuthFailed)
}

func TestOAuthGate_RefreshesExpiredToken(t *testing.T) {
	ts := newTokenServer(t)
	file := filepath.Join(t.TempDir(), "token.json")

	expired := persistedToken{
		Token: &oauth2.Token{
			AccessToken:  "stale",
			RefreshToken: "refresh-1",
			TokenType:    "Bearer",
			Expiry:       time.Now().Add(-time.Hour),
		},
		Identity: "owner@example.com",
	}
	data, err := json.Marshal(expired)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, data, 0o600))

	g := newGate(t, ts, file, nil)
	tok, err := g.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed-1", tok)
	assert.Equal(t, int32(1), ts.refreshes.Load())

	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "access-refreshed-1")
}

func TestOAuthGate_SignOut(t *testing.T) {
	ts := newTokenServer(t)
	file := filepath.Join(t.TempDir(), "token.json")
	g := newGate(t, ts, file, nil)
	require.NoError(t, g.SignIn(context.Background(), "good-code"))

	require.NoError(t, g.SignOut(context.Background()))
	assert.False(t, g.SignedIn())
	assert.Empty(t, g.Identity())
	_, err := os.Stat(file)
	assert.True(t, os.IsNotExist(err))

	// idempotent
	require.NoError(t, g.SignOut(context.Background()))
}

func TestOAuthGate_AuthURL(t *testing.T) {
	ts := newTokenServer(t)
	g := newGate(t, ts, "", nil)

	u, err := url.Parse(g.AuthURL("xyz"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "xyz", q.Get("state"))
	assert.Equal(t, DriveFileScope, q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
}

func TestStaticGate(t *testing.T) {
	g := NewStaticGate("tok", "")
	assert.True(t, g.SignedIn())
	assert.Equal(t, "static", g.Identity())
	tok, err := g.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)

	empty := NewStaticGate("", "someone")
	assert.False(t, empty.SignedIn())
	assert.Empty(t, empty.Identity())
	_, err = empty.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)
}
