// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine owns the in-memory view of recordings and coordinates the
// capture session, the durable store, and the sync queue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/voxsync/internal/auth"
	"github.com/ManuGH/voxsync/internal/bus"
	"github.com/ManuGH/voxsync/internal/capture"
	"github.com/ManuGH/voxsync/internal/connectivity"
	"github.com/ManuGH/voxsync/internal/domain/recordings/model"
	"github.com/ManuGH/voxsync/internal/domain/recordings/store"
	xglog "github.com/ManuGH/voxsync/internal/log"
	"github.com/ManuGH/voxsync/internal/metrics"
	vfs "github.com/ManuGH/voxsync/internal/platform/fs"
	"github.com/ManuGH/voxsync/internal/remote"
	"github.com/ManuGH/voxsync/internal/syncq"
)

// ErrSignInUnsupported is returned when the configured gate has no interactive sign-in.
var ErrSignInUnsupported = errors.New("sign-in not supported by the configured gate")

const publishTimeout = time.Second

// Interactive is implemented by gates that support an authorization-code flow.
type Interactive interface {
	AuthURL(state string) string
	SignIn(ctx context.Context, code string) error
	SignOut(ctx context.Context) error
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Store    store.Store
	Device   capture.Device
	Uploader remote.Uploader
	Gate     auth.Gate
	Conn     connectivity.Source
	Bus      bus.Bus
	Capture  capture.Options
	FeedSize int
}

// Engine is the explicit application context.
type Engine struct {
	store   store.Store
	session *capture.Session
	queue   *syncq.Queue
	gate    auth.Gate
	conn    connectivity.Source
	bus     bus.Bus
	ids     *model.IDSource
	feed    *statusFeed
	logger  zerolog.Logger

	mu   sync.RWMutex
	recs []model.Record // newest first, payloads stripped
	// uploads acknowledged before the record was added to recs
	early map[int64]struct{}
}

func New(d Deps) *Engine {
	ids := model.NewIDSource(0)
	e := &Engine{
		store:   d.Store,
		session: capture.NewSession(d.Device, d.Store, ids, d.Capture),
		queue:   syncq.New(d.Store, d.Uploader, d.Gate, d.Conn),
		gate:    d.Gate,
		conn:    d.Conn,
		bus:     d.Bus,
		ids:     ids,
		feed:    newStatusFeed(d.FeedSize),
		logger:  xglog.WithComponent("engine"),
		early:   make(map[int64]struct{}),
	}
	e.queue.SetListener(e)
	return e
}

// Queue exposes the sync queue.
func (e *Engine) Queue() *syncq.Queue { return e.queue }

// Load opens the store, reads every recording newest first, and seeds the id
// source past the largest persisted id. It also probes the capture device.
func (e *Engine) Load(ctx context.Context) error {
	if err := e.store.Open(ctx); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	all, err := e.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load recordings: %w", err)
	}
	model.SortNewestFirst(all)
	recs := make([]model.Record, len(all))
	for i, r := range all {
		e.ids.Observe(r.ID)
		recs[i] = r.WithoutPayload()
	}
	e.mu.Lock()
	e.recs = recs
	e.mu.Unlock()
	e.refreshGauges()

	e.logger.Info().Str(xglog.FieldEvent, "engine.loaded").Int("recordings", len(recs)).Msg("recordings loaded")

	if err := e.session.Probe(ctx); err != nil {
		e.logger.Warn().Err(err).Str(xglog.FieldEvent, "capture.probe_failed").Msg("capture device not available")
		e.status(LevelError, "Microphone permission required")
	} else {
		e.status(LevelInfo, "Ready to record")
	}
	return nil
}

// StartRecording begins a capture.
func (e *Engine) StartRecording(ctx context.Context) error {
	if err := e.session.Start(ctx); err != nil {
		if errors.Is(err, capture.ErrAlreadyCapturing) {
			return err
		}
		e.status(LevelError, "Failed to start recording")
		return err
	}
	e.status(LevelInfo, "Recording...")
	return nil
}

// StopRecording finalizes the capture. The record is durable before it
// appears in memory. A nil record with a nil error means nothing was captured.
func (e *Engine) StopRecording(ctx context.Context) (*model.Record, error) {
	rec, err := e.session.Stop(ctx)
	if err != nil {
		switch {
		case errors.Is(err, capture.ErrPersistence):
			e.status(LevelError, "Failed to save recording")
		default:
			e.status(LevelError, "Recording failed")
		}
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	e.upsert(rec.WithoutPayload())
	e.refreshGauges()

	e.status(LevelInfo, "Recording saved")
	e.publish(ctx, bus.TopicRecording, bus.RecordingEvent{ID: rec.ID, Action: "finalized", At: time.Now()})
	if e.queue.Ready() {
		e.queue.Trigger(syncq.ReasonFinalized)
	}
	return rec, nil
}

// Recordings returns a newest-first snapshot without payloads.
func (e *Engine) Recordings() []model.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.Record(nil), e.recs...)
}

// Recording returns one record without payload, or store.ErrNotFound.
func (e *Engine) Recording(id int64) (model.Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.recs {
		if r.ID == id {
			return r, nil
		}
	}
	return model.Record{}, fmt.Errorf("%w: %d", store.ErrNotFound, id)
}

// Audio returns the full record including its payload.
func (e *Engine) Audio(ctx context.Context, id int64) (model.Record, error) {
	return e.store.Get(ctx, id)
}

// DeleteRecording removes the record from the store, then from memory. A
// record already missing from the store counts as deleted.
func (e *Engine) DeleteRecording(ctx context.Context, id int64) error {
	if err := e.store.Delete(ctx, id); err != nil && !store.IsNotFound(err) {
		e.status(LevelError, "Failed to delete recording")
		return err
	}
	e.remove(id)
	e.refreshGauges()

	e.logger.Info().Str(xglog.FieldEvent, "recording.deleted").Int64(xglog.FieldRecordingID, id).Msg("recording deleted")
	e.status(LevelInfo, "Recording deleted")
	e.publish(ctx, bus.TopicRecording, bus.RecordingEvent{ID: id, Action: "deleted", At: time.Now()})
	return nil
}

// ExportRecording writes the payload to dir under the record's filename and
// returns the written path. The file appears atomically.
func (e *Engine) ExportRecording(ctx context.Context, id int64, dir string) (string, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path, err := vfs.ConfineRelPath(dir, rec.Filename)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", rec.Filename, err)
	}
	if err := renameio.WriteFile(path, rec.Payload, 0o644); err != nil {
		return "", fmt.Errorf("export %s: %w", rec.Filename, err)
	}
	return path, nil
}

// AuthURL returns the consent URL of an interactive gate.
func (e *Engine) AuthURL(state string) (string, error) {
	ig, ok := e.gate.(Interactive)
	if !ok {
		return "", ErrSignInUnsupported
	}
	return ig.AuthURL(state), nil
}

// SignIn completes the authorization-code flow and triggers a sync pass.
func (e *Engine) SignIn(ctx context.Context, code string) error {
	ig, ok := e.gate.(Interactive)
	if !ok {
		return ErrSignInUnsupported
	}
	if err := ig.SignIn(ctx, code); err != nil {
		e.status(LevelError, "Sign-in failed")
		if !errors.Is(err, auth.ErrAuthFailed) {
			err = fmt.Errorf("%w: %w", auth.ErrAuthFailed, err)
		}
		return err
	}
	e.status(LevelInfo, "Signed in as "+e.gate.Identity())
	e.queue.Trigger(syncq.ReasonSignedIn)
	return nil
}

// SignOut forgets the identity.
func (e *Engine) SignOut(ctx context.Context) error {
	ig, ok := e.gate.(Interactive)
	if !ok {
		return ErrSignInUnsupported
	}
	if err := ig.SignOut(ctx); err != nil {
		return err
	}
	e.status(LevelInfo, "Signed out")
	return nil
}

// SyncNow runs a pass synchronously.
func (e *Engine) SyncNow(ctx context.Context) (syncq.Report, error) {
	return e.queue.RunPendingSync(ctx)
}

// Run subscribes to connectivity, identity and recording changes and runs the
// sync worker until ctx is done. Subscriptions are closed on return.
func (e *Engine) Run(ctx context.Context) error {
	connSub, err := e.bus.Subscribe(ctx, bus.TopicConnectivity)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.TopicConnectivity, err)
	}
	defer func() { _ = connSub.Close() }()
	authSub, err := e.bus.Subscribe(ctx, bus.TopicAuth)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.TopicAuth, err)
	}
	defer func() { _ = authSub.Close() }()
	recSub, err := e.bus.Subscribe(ctx, bus.TopicRecording)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.TopicRecording, err)
	}
	defer func() { _ = recSub.Close() }()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.queue.Run(ctx) })
	g.Go(func() error {
		if e.queue.Ready() {
			e.queue.Trigger(syncq.ReasonStartup)
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg := <-connSub.C():
				if ev, ok := msg.(bus.ConnectivityEvent); ok {
					e.onConnectivity(ev)
				}
			case msg := <-authSub.C():
				if ev, ok := msg.(bus.AuthEvent); ok && ev.SignedIn {
					e.queue.Trigger(syncq.ReasonSignedIn)
				}
			case msg := <-recSub.C():
				if ev, ok := msg.(bus.RecordingEvent); ok {
					e.reconcile(ctx, ev)
				}
			case err := <-e.session.Errors():
				e.logger.Warn().Err(err).Str(xglog.FieldEvent, "capture.failed").Msg("capture failed")
				e.status(LevelError, "Recording failed")
			}
		}
	})
	return g.Wait()
}

func (e *Engine) onConnectivity(ev bus.ConnectivityEvent) {
	if ev.Online {
		e.status(LevelInfo, "Back online")
		e.queue.Trigger(syncq.ReasonOnline)
		return
	}
	e.status(LevelInfo, "Offline, recordings are kept on this device")
}

// reconcile brings the in-memory entry for ev.ID in line with the store,
// which is authoritative.
func (e *Engine) reconcile(ctx context.Context, ev bus.RecordingEvent) {
	rec, err := e.store.Get(ctx, ev.ID)
	switch {
	case store.IsNotFound(err):
		e.remove(ev.ID)
	case err != nil:
		e.logger.Warn().Err(err).Int64(xglog.FieldRecordingID, ev.ID).Str("action", ev.Action).Msg("reconcile recording")
		return
	default:
		e.upsert(rec.WithoutPayload())
	}
	e.refreshGauges()
}

// upsert adds rec in newest-first position, or merges it into the existing
// entry. Upload state only moves forward.
func (e *Engine) upsert(rec model.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.early[rec.ID]; ok {
		delete(e.early, rec.ID)
		rec = rec.MarkUploaded()
	}
	for i := range e.recs {
		if e.recs[i].ID == rec.ID {
			if e.recs[i].Uploaded && !rec.Uploaded {
				rec = rec.MarkUploaded()
			}
			e.recs[i] = rec
			return
		}
	}
	i := sort.Search(len(e.recs), func(i int) bool { return !e.recs[i].CreatedAt.After(rec.CreatedAt) })
	e.recs = slices.Insert(e.recs, i, rec)
}

func (e *Engine) remove(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.early, id)
	for i, r := range e.recs {
		if r.ID == id {
			e.recs = append(e.recs[:i:i], e.recs[i+1:]...)
			return
		}
	}
}

// Uploaded reflects a durable upload in memory. An upload that completes
// before StopRecording has added the record is remembered and applied then.
func (e *Engine) Uploaded(rec model.Record, ref remote.RemoteRef) {
	e.mu.Lock()
	found := false
	for i := range e.recs {
		if e.recs[i].ID == rec.ID {
			e.recs[i] = e.recs[i].MarkUploaded()
			found = true
			break
		}
	}
	if !found {
		e.early[rec.ID] = struct{}{}
	}
	e.mu.Unlock()
	e.refreshGauges()
	e.status(LevelInfo, fmt.Sprintf("%s uploaded to %s", rec.Filename, providerLabel(ref.Provider)))
	e.publish(context.Background(), bus.TopicRecording, bus.RecordingEvent{ID: rec.ID, Action: "uploaded", At: time.Now()})
}

// UploadFailed reports a failed upload.
func (e *Engine) UploadFailed(rec model.Record, _ error) {
	e.status(LevelError, "Failed to upload "+rec.Filename)
}

// Snapshot is the state shown to clients.
type Snapshot struct {
	State          capture.State `json:"state"`
	ElapsedSeconds int           `json:"elapsedSeconds"`
	Online         bool          `json:"online"`
	SignedIn       bool          `json:"signedIn"`
	Identity       string        `json:"identity,omitempty"`
	Total          int           `json:"total"`
	Pending        int           `json:"pending"`
	Status         StatusEntry   `json:"status"`
}

func (e *Engine) Snapshot() Snapshot {
	total, pending := e.counts()
	st, _ := e.feed.latest()
	return Snapshot{
		State:          e.session.State(),
		ElapsedSeconds: int(e.session.Elapsed() / time.Second),
		Online:         e.conn.Online(),
		SignedIn:       e.gate.SignedIn(),
		Identity:       e.gate.Identity(),
		Total:          total,
		Pending:        pending,
		Status:         st,
	}
}

// Status returns the latest status entry.
func (e *Engine) Status() StatusEntry {
	st, _ := e.feed.latest()
	return st
}

// StatusFeed returns recent status entries, oldest first.
func (e *Engine) StatusFeed() []StatusEntry { return e.feed.history() }

func (e *Engine) status(level Level, msg string) {
	e.feed.add(StatusEntry{At: time.Now().UTC(), Level: level, Message: msg})
}

func (e *Engine) counts() (total, pending int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.recs {
		if !r.Uploaded {
			pending++
		}
	}
	return len(e.recs), pending
}

func (e *Engine) refreshGauges() {
	total, pending := e.counts()
	metrics.SetRecordingsStored(total)
	metrics.SetSyncPending(pending)
}

func (e *Engine) publish(ctx context.Context, topic string, msg bus.Message) {
	if e.bus == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.bus.Publish(pctx, topic, msg); err != nil {
		e.logger.Debug().Err(err).Str("topic", topic).Msg("publish failed")
	}
}

func providerLabel(p string) string {
	switch p {
	case remote.ProviderDrive:
		return "Google Drive"
	case remote.ProviderS3:
		return "S3"
	default:
		return "remote storage"
	}
}

var _ syncq.Listener = (*Engine)(nil)
