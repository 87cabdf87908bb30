// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus carries connectivity and identity notifications between the
// external collaborators and the engine through explicit subscriptions.
package bus

import (
	"context"
	"time"
)

// Topics published inside the daemon.
const (
	TopicConnectivity = "connectivity.changed"
	TopicAuth         = "auth.changed"
	TopicRecording    = "recording.changed"
)

// Message is an opaque event payload.
type Message any

// ConnectivityEvent reports an online/offline transition.
type ConnectivityEvent struct {
	Online bool
	At     time.Time
}

// AuthEvent reports a sign-in or sign-out.
type AuthEvent struct {
	SignedIn bool
	Identity string
	At       time.Time
}

// RecordingEvent reports a committed change to a recording.
type RecordingEvent struct {
	ID     int64
	Action string // finalized | uploaded | deleted
	At     time.Time
}

// Bus is a topic based publish/subscribe channel.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}

// Subscriber receives messages for one topic until closed.
type Subscriber interface {
	C() <-chan Message
	// Done is closed once the subscription is closed.
	Done() <-chan struct{}
	Close() error
}
