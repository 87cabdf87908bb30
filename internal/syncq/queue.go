// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package syncq uploads recordings that have not reached the remote provider
// yet, one at a time and in creation order, whenever a trigger fires while
// connectivity and authorization allow it.
package syncq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"github.com/ManuGH/voxsync/internal/auth"
	"github.com/ManuGH/voxsync/internal/connectivity"
	"github.com/ManuGH/voxsync/internal/domain/recordings/model"
	"github.com/ManuGH/voxsync/internal/domain/recordings/store"
	xglog "github.com/ManuGH/voxsync/internal/log"
	"github.com/ManuGH/voxsync/internal/metrics"
	"github.com/ManuGH/voxsync/internal/remote"
	"github.com/ManuGH/voxsync/internal/telemetry"
)

// ErrUploadFailed means one recording could not be uploaded. The record is
// left untouched and will be retried on the next trigger.
var ErrUploadFailed = errors.New("upload failed")

// Reason names why a pass was requested.
type Reason string

const (
	ReasonOnline    Reason = "online"
	ReasonFinalized Reason = "finalized"
	ReasonSignedIn  Reason = "signed_in"
	ReasonManual    Reason = "manual"
	ReasonStartup   Reason = "startup"
)

// Report summarizes a pass.
type Report struct {
	Skipped   bool    `json:"skipped"`
	Attempted int     `json:"attempted"`
	Uploaded  int     `json:"uploaded"`
	Failed    int     `json:"failed"`
	Uploads   []int64 `json:"-"`
}

// Listener observes per-record outcomes. Calls happen on the pass goroutine.
type Listener interface {
	Uploaded(rec model.Record, ref remote.RemoteRef)
	UploadFailed(rec model.Record, err error)
}

// Queue runs sync passes. Passes are serialized; each pass has at most one
// upload in flight.
type Queue struct {
	store    store.Store
	uploader remote.Uploader
	gate     auth.Gate
	conn     connectivity.Source
	logger   zerolog.Logger

	passMu sync.Mutex

	lmu      sync.RWMutex
	listener Listener

	trigger chan Reason
}

func New(st store.Store, up remote.Uploader, gate auth.Gate, conn connectivity.Source) *Queue {
	return &Queue{
		store:    st,
		uploader: up,
		gate:     gate,
		conn:     conn,
		logger:   xglog.WithComponent("syncq").With().Str(xglog.FieldProvider, up.Name()).Logger(),
		trigger:  make(chan Reason, 1),
	}
}

// SetListener installs the outcome listener. nil removes it.
func (q *Queue) SetListener(l Listener) {
	q.lmu.Lock()
	q.listener = l
	q.lmu.Unlock()
}

func (q *Queue) notify(fn func(Listener)) {
	q.lmu.RLock()
	l := q.listener
	q.lmu.RUnlock()
	if l != nil {
		fn(l)
	}
}

// Ready reports whether a pass would do any work right now.
func (q *Queue) Ready() bool {
	return q.conn.Online() && q.gate.SignedIn()
}

// RunPendingSync uploads every record not yet uploaded, oldest first. It
// returns immediately when offline or signed out. Upload failures are counted
// in the report and do not stop the pass.
func (q *Queue) RunPendingSync(ctx context.Context) (Report, error) {
	return q.runPass(ctx, ReasonManual)
}

func (q *Queue) runPass(ctx context.Context, reason Reason) (Report, error) {
	if !q.Ready() {
		metrics.IncSyncPass("skipped")
		return Report{Skipped: true}, nil
	}

	q.passMu.Lock()
	defer q.passMu.Unlock()

	all, err := q.store.GetAll(ctx)
	if err != nil {
		metrics.IncSyncPass("error")
		return Report{}, fmt.Errorf("load recordings: %w", err)
	}
	model.SortOldestFirst(all)

	pending := all[:0]
	for _, rec := range all {
		if !rec.Uploaded {
			pending = append(pending, rec)
		}
	}
	metrics.SetSyncPending(len(pending))

	ctx, span := telemetry.Tracer("syncq").Start(ctx, "sync.pass")
	span.SetAttributes(telemetry.SyncAttributes(q.uploader.Name(), string(reason), len(pending))...)
	defer span.End()

	var rep Report
	for _, rec := range pending {
		if ctx.Err() != nil {
			break
		}
		// gates may close mid-pass
		if !q.Ready() {
			q.logger.Info().Int("remaining", len(pending)-rep.Attempted).Msg("sync pass interrupted: offline or signed out")
			break
		}
		rep.Attempted++
		if _, err := q.UploadOne(ctx, rec); err != nil {
			rep.Failed++
			continue
		}
		rep.Uploaded++
		rep.Uploads = append(rep.Uploads, rec.ID)
	}

	if rep.Failed > 0 {
		span.SetStatus(codes.Error, "uploads failed")
	}
	metrics.IncSyncPass("completed")
	q.logger.Info().
		Str(xglog.FieldEvent, "sync.pass_completed").
		Str(xglog.FieldReason, string(reason)).
		Int("attempted", rep.Attempted).
		Int("uploaded", rep.Uploaded).
		Int("failed", rep.Failed).
		Msg("sync pass completed")
	return rep, nil
}

// UploadOne sends one recording and, on success, persists the uploaded flag.
// The returned record is the persisted state.
func (q *Queue) UploadOne(ctx context.Context, rec model.Record) (model.Record, error) {
	logger := q.logger.With().Int64(xglog.FieldRecordingID, rec.ID).Str(xglog.FieldFilename, rec.Filename).Logger()
	if rec.Uploaded {
		return rec, nil
	}

	ctx, span := telemetry.Tracer("syncq").Start(ctx, "sync.upload")
	span.SetAttributes(telemetry.RecordingAttributes(rec.ID, rec.Filename, rec.SizeBytes)...)
	defer span.End()

	fail := func(err error) (model.Record, error) {
		err = fmt.Errorf("%w: %s: %w", ErrUploadFailed, rec.Filename, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		logger.Warn().Err(err).Str(xglog.FieldEvent, "sync.upload_failed").Msg("upload failed")
		q.notify(func(l Listener) { l.UploadFailed(rec, err) })
		return rec, err
	}

	token, err := q.gate.Token(ctx)
	if err != nil {
		return fail(err)
	}

	start := time.Now()
	ref, err := q.uploader.Upload(ctx, token, remote.ObjectFromRecord(rec))
	metrics.ObserveUpload(q.uploader.Name(), err == nil, time.Since(start))
	if err != nil {
		return fail(err)
	}

	updated := rec.MarkUploaded()
	if err := q.store.Update(ctx, updated); err != nil {
		// remote has the file but the flag is not durable; the next pass may
		// upload it again
		return fail(fmt.Errorf("persist uploaded flag: %w", err))
	}

	logger.Info().
		Str(xglog.FieldEvent, "sync.uploaded").
		Str("remote_id", ref.ID).
		Dur("took", time.Since(start)).
		Msg("recording uploaded")
	q.notify(func(l Listener) { l.Uploaded(updated, ref) })
	return updated, nil
}

// Trigger requests a pass. It never blocks; requests arriving while one is
// already queued are coalesced.
func (q *Queue) Trigger(reason Reason) {
	select {
	case q.trigger <- reason:
		q.logger.Debug().Str(xglog.FieldReason, string(reason)).Msg("sync triggered")
	default:
	}
}

// Run executes a pass for every coalesced trigger until ctx is done. A
// trigger arriving during a pass queues exactly one follow-up pass.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-q.trigger:
			if _, err := q.runPass(ctx, reason); err != nil && ctx.Err() == nil {
				q.logger.Error().Err(err).Str(xglog.FieldReason, string(reason)).Msg("sync pass failed")
			}
		}
	}
}
