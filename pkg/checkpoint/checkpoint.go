// Package checkpoint provides durable persistence for conversational
// session state. Each session, identified by a (user, session) key, has
// at most one checkpoint record which is overwritten wholesale on every
// save. Backends cover DynamoDB for durable user sessions, Redis for
// shared ephemeral deployments, and an in-memory store for anonymous
// sessions and tests.
package checkpoint

import (
	"context"
	"errors"
	"strings"
)

// Sentinel errors for store operations. Absence of a record is never an
// error; these mark genuine backend failures.
var (
	// ErrUnavailable is returned when the backend cannot be reached or
	// a read fails for infrastructure reasons.
	ErrUnavailable = errors.New("checkpoint store unavailable")
	// ErrWriteFailed is returned when a checkpoint write does not make it
	// to the backend. Callers must treat the turn as unpersisted.
	ErrWriteFailed = errors.New("checkpoint write failed")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("checkpoint store is closed")
)

// SessionKey uniquely identifies at most one checkpoint record.
type SessionKey struct {
	UserID    string
	SessionID string
}

// ParseThreadID derives a SessionKey from a single thread identifier of
// the form "{user_id}-{session_id}", splitting on the first "-". A thread
// identifier without a separator serves as both parts, which is how
// anonymous sessions are keyed.
func ParseThreadID(threadID string) SessionKey {
	if user, session, ok := strings.Cut(threadID, "-"); ok {
		return SessionKey{UserID: user, SessionID: session}
	}
	return SessionKey{UserID: threadID, SessionID: threadID}
}

// ThreadID returns the single-string form of the key. Keys whose parts
// are identical collapse to the bare identifier so that ParseThreadID
// round-trips them.
func (k SessionKey) ThreadID() string {
	if k.UserID == k.SessionID {
		return k.SessionID
	}
	return k.UserID + "-" + k.SessionID
}

// Record is the decoded view of a persisted checkpoint row.
type Record struct {
	// Key identifies the session this record belongs to.
	Key SessionKey
	// State is the decoded checkpoint payload.
	State any
	// Type is the codec type tag the payload was stored under.
	Type string
	// Metadata holds auxiliary attributes, with numeric leaves normalized
	// to int64 or float64.
	Metadata map[string]any
}

// PendingWrite is an intermediate channel write produced mid-turn.
// Tracking them is explicitly a no-op in this design: the full checkpoint
// written by Put is the sole durability boundary.
type PendingWrite struct {
	Channel string
	Value   any
}

// Store persists one checkpoint record per SessionKey.
type Store interface {
	// Get returns the record for key, or (nil, nil) when absent. Errors
	// wrap ErrUnavailable for backend failures; an unreadable payload
	// surfaces as *DecodeError.
	Get(ctx context.Context, key SessionKey) (*Record, error)

	// Put encodes payload and overwrites the record for key in a single
	// write. Errors wrap ErrWriteFailed.
	Put(ctx context.Context, key SessionKey, payload any, metadata map[string]any) error

	// PutWrites records intermediate writes. It is a no-op on every
	// backend and exists only to satisfy checkpointer-shaped callers.
	PutWrites(ctx context.Context, key SessionKey, writes []PendingWrite, taskID string) error

	// Delete removes the record for key. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key SessionKey) error

	// Close releases backend resources.
	Close() error
}
