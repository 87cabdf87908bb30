// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ManuGH/voxsync/internal/bus"
	xglog "github.com/ManuGH/voxsync/internal/log"
	"github.com/ManuGH/voxsync/internal/metrics"
)

// DriveFileScope grants access to files created by this application only.
const DriveFileScope = "https://www.googleapis.com/auth/drive.file"

// OAuthConfig configures the OAuth gate.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenFile    string
	Scopes       []string
	// Endpoint overrides the Google endpoint (tests).
	Endpoint *oauth2.Endpoint
	// HTTPClient is used for token exchange and refresh.
	HTTPClient *http.Client
}

// OAuthGate is a Gate backed by an OAuth2 authorization-code flow.
// The token is persisted so a restart keeps the identity signed in.
type OAuthGate struct {
	conf   *oauth2.Config
	file   string
	client *http.Client
	bus    bus.Bus
	logger zerolog.Logger

	mu       sync.RWMutex
	source   oauth2.TokenSource
	last     *oauth2.Token
	identity string
}

type persistedToken struct {
	Token    *oauth2.Token `json:"token"`
	Identity string        `json:"identity,omitempty"`
}

// NewOAuthGate builds the gate and restores a persisted token if one exists.
// b may be nil.
func NewOAuthGate(cfg OAuthConfig, b bus.Bus) (*OAuthGate, error) {
	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{DriveFileScope}
	}
	g := &OAuthGate{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		file:   cfg.TokenFile,
		client: cfg.HTTPClient,
		bus:    b,
		logger: xglog.WithComponent("auth"),
	}

	if err := g.restore(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *OAuthGate) oauthContext() context.Context {
	ctx := context.Background()
	if g.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	}
	return ctx
}

func (g *OAuthGate) restore() error {
	if g.file == "" {
		return nil
	}
	data, err := os.ReadFile(g.file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	var p persistedToken
	if err := json.Unmarshal(data, &p); err != nil {
		g.logger.Warn().Err(err).Str(xglog.FieldPath, g.file).Msg("ignoring unreadable token file")
		return nil
	}
	if p.Token == nil {
		return nil
	}
	g.install(p.Token, p.Identity)
	g.logger.Info().Str(xglog.FieldIdentity, g.identity).Msg("restored signed-in identity")
	return nil
}

func (g *OAuthGate) install(tok *oauth2.Token, identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = tok
	g.identity = identity
	g.source = oauth2.ReuseTokenSource(tok, g.conf.TokenSource(g.oauthContext(), tok))
	metrics.SetSignedIn(true)
}

// AuthURL is the consent page URL the user opens to sign in.
func (g *OAuthGate) AuthURL(state string) string {
	return g.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// SignIn exchanges an authorization code for a token and persists it.
func (g *OAuthGate) SignIn(ctx context.Context, code string) error {
	if code == "" {
		return fmt.Errorf("%w: empty authorization code", ErrAuthFailed)
	}
	if g.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	}
	tok, err := g.conf.Exchange(ctx, code)
	if err != nil {
		g.logger.Warn().Err(err).Str(xglog.FieldEvent, "auth.signin_failed").Msg("authorization code exchange failed")
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	identity := identityFromToken(tok)
	g.install(tok, identity)
	if err := g.persist(tok, identity); err != nil {
		g.logger.Warn().Err(err).Str(xglog.FieldPath, g.file).Msg("failed to persist token")
	}

	g.logger.Info().Str(xglog.FieldEvent, "auth.signed_in").Str(xglog.FieldIdentity, identity).Msg("signed in")
	g.publish(ctx, true, identity)
	return nil
}

// SignOut forgets the token and removes the token file.
func (g *OAuthGate) SignOut(ctx context.Context) error {
	g.mu.Lock()
	g.source = nil
	g.last = nil
	g.identity = ""
	g.mu.Unlock()
	metrics.SetSignedIn(false)

	if g.file != "" {
		if err := os.Remove(g.file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove token file: %w", err)
		}
	}
	g.logger.Info().Str(xglog.FieldEvent, "auth.signed_out").Msg("signed out")
	g.publish(ctx, false, "")
	return nil
}

func (g *OAuthGate) SignedIn() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.source != nil
}

func (g *OAuthGate) Identity() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.identity
}

// Token returns a valid access token, refreshing it when expired.
// Refreshed tokens are persisted.
func (g *OAuthGate) Token(ctx context.Context) (string, error) {
	g.mu.RLock()
	src, last, identity := g.source, g.last, g.identity
	g.mu.RUnlock()
	if src == nil {
		return "", ErrNotSignedIn
	}

	tok, err := src.Token()
	if err != nil {
		g.logger.Warn().Err(err).Str(xglog.FieldEvent, "auth.refresh_failed").Msg("token refresh failed")
		return "", fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if last == nil || tok.AccessToken != last.AccessToken {
		g.mu.Lock()
		g.last = tok
		g.mu.Unlock()
		if err := g.persist(tok, identity); err != nil {
			g.logger.Warn().Err(err).Msg("failed to persist refreshed token")
		}
	}
	return tok.AccessToken, nil
}

func (g *OAuthGate) persist(tok *oauth2.Token, identity string) error {
	if g.file == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(g.file), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(persistedToken{Token: tok, Identity: identity}, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(g.file, data, 0o600)
}

func (g *OAuthGate) publish(ctx context.Context, signedIn bool, identity string) {
	if g.bus == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	ev := bus.AuthEvent{SignedIn: signedIn, Identity: identity, At: time.Now()}
	if err := g.bus.Publish(pubCtx, bus.TopicAuth, ev); err != nil {
		g.logger.Warn().Err(err).Msg("failed to publish auth event")
	}
}

// identityFromToken uses the email returned alongside the token when the
// openid email scope was granted.
func identityFromToken(tok *oauth2.Token) string {
	if email, ok := tok.Extra("email").(string); ok && email != "" {
		return email
	}
	return "google"
}

var _ Gate = (*OAuthGate)(nil)
