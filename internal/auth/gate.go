// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package auth holds the authorization gate for the remote provider and the
// operator token check for the local API.
package auth

import (
	"context"
	"errors"
)

var (
	// ErrAuthFailed means sign-in or token refresh was rejected.
	ErrAuthFailed = errors.New("authorization failed")
	// ErrNotSignedIn is returned by Token when no identity is signed in.
	ErrNotSignedIn = errors.New("not signed in")
)

// Gate answers whether an identity is signed in and yields its bearer credential.
type Gate interface {
	SignedIn() bool
	// Token returns a currently valid bearer credential.
	Token(ctx context.Context) (string, error)
	Identity() string
}

// StaticGate serves a pre-issued bearer token.
type StaticGate struct {
	token    string
	identity string
}

func NewStaticGate(token, identity string) *StaticGate {
	if identity == "" {
		identity = "static"
	}
	return &StaticGate{token: token, identity: identity}
}

func (g *StaticGate) SignedIn() bool { return g.token != "" }

func (g *StaticGate) Token(context.Context) (string, error) {
	if g.token == "" {
		return "", ErrNotSignedIn
	}
	return g.token, nil
}

func (g *StaticGate) Identity() string {
	if g.token == "" {
		return ""
	}
	return g.identity
}

var _ Gate = (*StaticGate)(nil)
