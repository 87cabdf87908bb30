// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/voxsync/internal/domain/recordings/model"
)

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		s := NewMemoryStore()
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		s := NewSqliteStore(filepath.Join(t.TempDir(), "rec.sqlite"))
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
}

func sampleRecord(id int64) model.Record {
	ts := time.UnixMilli(id).UTC()
	return model.New(id, ts, []byte{0x1a, 0x45, 0xdf, 0xa3, byte(id)}, 5)
}

func TestStore_InsertDuplicate(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Open(ctx))

		require.NoError(t, s.Insert(ctx, sampleRecord(100)))
		err := s.Insert(ctx, sampleRecord(100))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDuplicateKey), "got %v", err)
	})
}

func TestStore_RoundTripAllFields(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := sampleRecord(1_700_000_000_123)
		require.NoError(t, s.Insert(ctx, rec))

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		if diff := cmp.Diff(rec, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
			t.Errorf("record mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStore_UpdateAndNotFound(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := sampleRecord(7)

		err := s.Update(ctx, rec)
		assert.True(t, IsNotFound(err), "update of missing record: %v", err)

		require.NoError(t, s.Insert(ctx, rec))
		require.NoError(t, s.Update(ctx, rec.MarkUploaded()))

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, got.Uploaded)
	})
}

func TestStore_DeleteIsHard(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, sampleRecord(1)))
		require.NoError(t, s.Insert(ctx, sampleRecord(2)))

		require.NoError(t, s.Delete(ctx, 1))
		err := s.Delete(ctx, 1)
		assert.True(t, IsNotFound(err), "second delete should report not found: %v", err)

		_, err = s.Get(ctx, 1)
		assert.True(t, IsNotFound(err))

		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, int64(2), all[0].ID)
	})
}

func TestStore_OpenConcurrentIdempotent(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.Open(ctx)
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
	})
}

func TestStore_PayloadIsolation(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := sampleRecord(9)
		require.NoError(t, s.Insert(ctx, rec))
		rec.Payload[0] = 0xff

		got, err := s.Get(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, byte(0x1a), got.Payload[0])
	})
}

func TestStore_ClosedRejectsCalls(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		require.NoError(t, s.Close())
		assert.ErrorIs(t, s.Insert(context.Background(), sampleRecord(1)), ErrClosed)
	})
}

func TestSqliteStore_SchemaVersionAndIndex(t *testing.T) {
	ctx := context.Background()
	s := NewSqliteStore(filepath.Join(t.TempDir(), "schema.sqlite"))
	defer s.Close()
	require.NoError(t, s.Open(ctx))

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, SchemaVersion, version)

	var name string
	require.NoError(t, s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'recordings' AND name = 'idx_recordings_created_at'",
	).Scan(&name))
}

func TestSqliteStore_CrashSafeReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.sqlite")

	s1 := NewSqliteStore(path)
	require.NoError(t, s1.Insert(ctx, sampleRecord(55)))
	require.NoError(t, s1.Close())

	s2 := NewSqliteStore(path)
	defer s2.Close()
	all, err := s2.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(55), all[0].ID)
	assert.Equal(t, int64(5), all[0].SizeBytes)
}

func TestNewStore_Backends(t *testing.T) {
	s, err := NewStore("", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewStore("", t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &SqliteStore{}, s)

	s, err = NewStore("memory", "/ignored")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = NewStore("bolt", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown recording store backend")
}
