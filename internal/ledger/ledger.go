// Package ledger maintains the local mirror of pickup request records. The
// remote store owns every record; the mirror is a read-through cache that is
// replaced wholesale on each refresh and never mutated directly. All
// mutating commands go out to the remote store and trigger a refresh, so
// there is no second source of truth to diverge.
package ledger

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"ecosort/internal/remote"
	"ecosort/internal/types"
)

// FetchMode controls whether a refresh toggles the user-visible loading flag.
type FetchMode int

const (
	// FetchLoud marks the mirror as loading while the query runs. Used for
	// user-initiated fetches so the UI can show a spinner.
	FetchLoud FetchMode = iota

	// FetchSilent refreshes without touching the loading flag. Used when
	// reconciling from a push notification so live updates never flash a
	// loading state.
	FetchSilent
)

// IdentitySource supplies the current identity for requester snapshots.
type IdentitySource interface {
	Current() *types.Identity
}

// CreateDetails are the caller-supplied fields of a new request. Status,
// id, timestamp, and the requester snapshot are filled in elsewhere.
type CreateDetails struct {
	Category    types.WasteCategory
	Description string
	Quantity    string
	AITips      string
}

// Ledger mirrors the remote request collection.
//
// Concurrent refreshes are allowed: each completed query replaces the mirror
// with its own full snapshot, so the mirror after the last-completing call
// equals exactly that call's result. Completion order wins, which is
// sufficient because results are idempotent full snapshots.
type Ledger struct {
	mu           sync.RWMutex
	mirror       []types.Request
	loudInFlight int

	coll   remote.Collection
	ids    IdentitySource
	logger *zap.Logger
}

// New creates a ledger over the given collection.
func New(coll remote.Collection, ids IdentitySource, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{coll: coll, ids: ids, logger: logger}
}

// FetchAll queries every request and replaces the mirror wholesale. A
// transport failure during a silent refresh is logged and swallowed; the
// mirror keeps its last-known-good value, since a stale view beats a blank
// one. A loud fetch surfaces the failure to the caller.
func (l *Ledger) FetchAll(ctx context.Context, mode FetchMode) error {
	if mode == FetchLoud {
		l.mu.Lock()
		l.loudInFlight++
		l.mu.Unlock()
		defer func() {
			l.mu.Lock()
			l.loudInFlight--
			l.mu.Unlock()
		}()
	}

	records, err := l.coll.QueryRequests(ctx)
	if err != nil {
		if mode == FetchSilent {
			l.logger.Warn("background refresh failed, keeping last-known-good mirror", zap.Error(err))
			return nil
		}
		return &types.TransportError{Op: "fetch_requests", Err: err}
	}

	l.mu.Lock()
	l.mirror = records
	l.mu.Unlock()
	return nil
}

// DataLoading reports whether a loud fetch is in flight.
func (l *Ledger) DataLoading() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loudInFlight > 0
}

// Snapshot returns a copy of the mirror.
func (l *Ledger) Snapshot() []types.Request {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Request, len(l.mirror))
	copy(out, l.mirror)
	return out
}

// Clear empties the mirror. Called on sign-out so no stale records survive
// the session they belong to.
func (l *Ledger) Clear() {
	l.mu.Lock()
	l.mirror = nil
	l.mu.Unlock()
}

// Create submits a new request with status forced to PENDING and the
// requester snapshot copied from the current identity at call time. The
// remote store assigns the id and timestamp; the follow-up loud fetch pulls
// them into the mirror.
func (l *Ledger) Create(ctx context.Context, d CreateDetails) error {
	ident := l.ids.Current()
	if ident == nil {
		return types.ErrNoIdentity
	}
	if _, err := types.ParseCategory(string(d.Category)); err != nil {
		return &types.ValidationError{Reason: err.Error()}
	}

	req := types.Request{
		RequesterID:      ident.ID,
		RequesterName:    ident.DisplayName,
		RequesterAddress: ident.Address,
		Category:         d.Category,
		Description:      d.Description,
		Quantity:         d.Quantity,
		Status:           types.StatusPending,
		AITips:           d.AITips,
	}
	if _, err := l.coll.InsertRequest(ctx, req); err != nil {
		return &types.TransportError{Op: "create_request", Err: err}
	}

	return l.FetchAll(ctx, FetchLoud)
}

// SetStatus transitions a request. Illegal transitions are rejected locally
// against the mirror before any network call. Acceptance is excluded here
// because it requires a collector binding; use AssignCollector. Completion
// is reserved for the collector the request is bound to; rejection is open
// to any collector, matching the shared rejection queue.
func (l *Ledger) SetStatus(ctx context.Context, id string, status types.RequestStatus) error {
	if status == types.StatusAccepted {
		return &types.ValidationError{Reason: "acceptance requires a collector, use AssignCollector"}
	}

	current, ok := l.find(id)
	if !ok {
		return &types.ValidationError{Reason: "unknown request " + id}
	}
	if err := types.ValidateTransition(current.Status, status); err != nil {
		return err
	}
	if status == types.StatusCompleted {
		ident := l.ids.Current()
		if ident == nil {
			return types.ErrNoIdentity
		}
		if current.CollectorID != ident.ID {
			return &types.ValidationError{Reason: "only the collector bound to request " + id + " can complete it"}
		}
	}

	if err := l.coll.UpdateRequestStatus(ctx, id, current.Status, status); err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			return err
		}
		return &types.TransportError{Op: "set_status", Err: err}
	}

	return l.FetchAll(ctx, FetchLoud)
}

// AssignCollector binds a collector and moves the request to ACCEPTED as
// one atomic remote write. The write is compare-and-swapped on PENDING by
// the remote store: losing the race to another collector is a normal
// outcome, observed on the follow-up refresh, never an error or a retry.
func (l *Ledger) AssignCollector(ctx context.Context, id, collectorID string) error {
	if collectorID == "" {
		return &types.ValidationError{Reason: "acceptance requires a collector id"}
	}

	current, ok := l.find(id)
	if !ok {
		return &types.ValidationError{Reason: "unknown request " + id}
	}
	if err := types.ValidateTransition(current.Status, types.StatusAccepted); err != nil {
		return err
	}

	if err := l.coll.AcceptRequest(ctx, id, collectorID); err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			return err
		}
		return &types.TransportError{Op: "accept_request", Err: err}
	}

	return l.FetchAll(ctx, FetchLoud)
}

// OnRemoteChange reconciles with the remote store after a change-feed
// event. The feed is coarse-grained, so the answer is always a full silent
// snapshot refresh rather than row-level patching.
func (l *Ledger) OnRemoteChange(ctx context.Context) {
	_ = l.FetchAll(ctx, FetchSilent)
}

func (l *Ledger) find(id string) (types.Request, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, r := range l.mirror {
		if r.ID == id {
			return r, true
		}
	}
	return types.Request{}, false
}

// =============================================================================
// DERIVED VIEWS
// =============================================================================

// Derived views are recomputed from the single mirror on every call, never
// cached as separate state, so they cannot diverge from it.

// ByRequester returns the requests created by the given identity.
func (l *Ledger) ByRequester(requesterID string) []types.Request {
	return l.filter(func(r types.Request) bool { return r.RequesterID == requesterID })
}

// WithStatus returns the requests currently in the given status.
func (l *Ledger) WithStatus(status types.RequestStatus) []types.Request {
	return l.filter(func(r types.Request) bool { return r.Status == status })
}

// ByCollector returns the requests bound to the given collector.
func (l *Ledger) ByCollector(collectorID string) []types.Request {
	return l.filter(func(r types.Request) bool { return r.CollectorID == collectorID })
}

func (l *Ledger) filter(keep func(types.Request) bool) []types.Request {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []types.Request
	for _, r := range l.mirror {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
