// Package remote defines the narrow contract the core consumes from the
// backing record store, plus a SQLite-backed implementation of it.
// The core never talks to a concrete backend directly; it holds these
// interfaces so the store can be swapped without touching session or ledger
// logic.
package remote

import (
	"context"
	"time"

	"ecosort/internal/types"
)

// Profile carries the raw identity attributes the provider knows about.
// The session manager parses these into a types.Identity; unset attributes
// are defaulted there, not here.
type Profile struct {
	ID          string
	Email       string
	DisplayName string
	Address     string
	Role        string
}

// ProfilePatch is a partial profile update. Nil fields are left untouched.
type ProfilePatch struct {
	DisplayName *string
	Address     *string
}

// SessionEventKind discriminates provider-pushed session events.
type SessionEventKind int

const (
	// SessionSignedIn carries the profile of the newly signed-in identity.
	SessionSignedIn SessionEventKind = iota

	// SessionSignedOut signals that the provider abandoned the session.
	SessionSignedOut
)

// SessionEvent is an asynchronous session change pushed by the provider.
type SessionEvent struct {
	Kind    SessionEventKind
	Profile *Profile // set for SessionSignedIn
}

// Provider is the session and identity surface of the remote store.
type Provider interface {
	// GetSession resumes an existing session. It returns (nil, nil) when no
	// session exists; an error only on transport failure.
	GetSession(ctx context.Context) (*Profile, error)

	// SessionEvents returns the channel on which the provider pushes
	// asynchronous session changes. The channel is owned by the provider
	// and stays open for its lifetime.
	SessionEvents() <-chan SessionEvent

	SignIn(ctx context.Context, email, secret string) (*Profile, error)
	SignUp(ctx context.Context, profile Profile, secret string) (*Profile, error)
	SignOut(ctx context.Context) error
	UpdateIdentity(ctx context.Context, id string, patch ProfilePatch) (*Profile, error)
}

// ChangeEvent signals that something in the request collection changed.
// The feed is coarse-grained: any insert or update on the table, not a
// per-row delta. Subscribers reconcile with a full snapshot fetch.
type ChangeEvent struct {
	Seq uint64
	At  time.Time
}

// Subscription is a handle on the change feed. Receive from C; pass the
// handle back to Unsubscribe to tear it down.
type Subscription struct {
	C  <-chan ChangeEvent
	ch chan ChangeEvent
}

// Collection is the request-record surface of the remote store.
type Collection interface {
	// QueryRequests returns all requests ordered newest-first.
	QueryRequests(ctx context.Context) ([]types.Request, error)

	// InsertRequest stores a new record and returns the assigned id.
	// The store assigns the id and creation timestamp.
	InsertRequest(ctx context.Context, req types.Request) (string, error)

	// UpdateRequestStatus moves an existing record from one status to
	// another, compare-and-swapped against the from status. A miss caused
	// by a concurrent writer is a no-op returning nil, resolved by the
	// caller's next refresh; an unknown id is a ValidationError.
	UpdateRequestStatus(ctx context.Context, id string, from, to types.RequestStatus) error

	// AcceptRequest binds a collector and moves the record to ACCEPTED as
	// one atomic write, compare-and-swapped against status = PENDING. When
	// the swap misses because another collector already won, it is a no-op
	// and returns nil; the loser observes the outcome on its next refresh.
	AcceptRequest(ctx context.Context, id, collectorID string) error

	Subscribe() *Subscription
	Unsubscribe(sub *Subscription)
}

// Store is the full remote contract: provider plus collection.
type Store interface {
	Provider
	Collection
}
