// ABOUTME: Tests for the SQLite usage store.
// ABOUTME: Uses a temp-dir database per test for isolation.

package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "usage.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordInvocation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordInvocation(ctx, &Invocation{
		SessionID: "sess-1",
		Tool:      "get_next_train_schedule",
		Duration:  120 * time.Millisecond,
	}))
	require.NoError(t, s.RecordInvocation(ctx, &Invocation{
		SessionID: "sess-1",
		Tool:      "get_next_train_structured",
		Duration:  45 * time.Millisecond,
		IsError:   true,
	}))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalInvocations)
	assert.Equal(t, int64(1), stats.FailedInvocations)
}

func TestRecordSessionEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSessionEvent(ctx, &SessionEvent{
		SessionID: "sess-1",
		Event:     "created",
		Transport: "streamable",
	}))
	require.NoError(t, s.RecordSessionEvent(ctx, &SessionEvent{
		SessionID: "sess-1",
		Event:     "closed",
		Transport: "streamable",
	}))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.SessionsCreated)
}

func TestEmptyStats(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalInvocations)
	assert.Zero(t, stats.SessionsCreated)
}
