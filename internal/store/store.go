// ABOUTME: Usage recording interfaces and types for gateway observability.
// ABOUTME: Tracks tool invocations and session lifecycle events.

package store

import (
	"context"
	"time"
)

// Invocation is one recorded tool call.
type Invocation struct {
	ID        string
	SessionID string
	Tool      string
	Duration  time.Duration
	IsError   bool
	CreatedAt time.Time
}

// SessionEvent is one recorded session lifecycle transition.
type SessionEvent struct {
	ID        string
	SessionID string
	Event     string // "created", "closed", "swept"
	Transport string
	CreatedAt time.Time
}

// Stats summarizes recorded usage for the info endpoint.
type Stats struct {
	TotalInvocations  int64 `json:"total_invocations"`
	FailedInvocations int64 `json:"failed_invocations"`
	SessionsCreated   int64 `json:"sessions_created"`
}

// Recorder is the write-side interface the router and transports use.
// Recording failures are logged by implementations, never surfaced to
// clients.
type Recorder interface {
	RecordInvocation(ctx context.Context, inv *Invocation) error
	RecordSessionEvent(ctx context.Context, ev *SessionEvent) error
}

// Store is the full persistence interface.
type Store interface {
	Recorder
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// NopStore discards all records. Used when no database is configured
// and in tests that do not care about usage.
type NopStore struct{}

func (NopStore) RecordInvocation(context.Context, *Invocation) error     { return nil }
func (NopStore) RecordSessionEvent(context.Context, *SessionEvent) error { return nil }
func (NopStore) GetStats(context.Context) (*Stats, error)                { return &Stats{}, nil }
func (NopStore) Close() error                                            { return nil }
