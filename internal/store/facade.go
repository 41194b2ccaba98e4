// Package store exposes the single object consumers hold: the facade over
// the session manager and the request ledger. It fans change notifications
// out to subscribers and owns the push-subscription lifecycle, so no
// consumer ever observes a signed-in identity alongside a stale mirror
// belonging to a different identity.
package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ecosort/internal/ledger"
	"ecosort/internal/remote"
	"ecosort/internal/session"
	"ecosort/internal/types"
)

// initTimeout bounds the session-resume phase so startup never wedges on an
// unreachable provider.
const initTimeout = 10 * time.Second

// Subscription is a consumer's handle on facade change notifications.
// Receive from C and re-read whatever state the consumer renders; the
// notification carries no payload because state is always read fresh.
type Subscription struct {
	C  <-chan struct{}
	ch chan struct{}
}

// Store composes the session manager and request ledger into one coherent
// read and command surface. Construct one explicitly and pass it by
// reference to every consumer; lifecycle is Init then Dispose.
type Store struct {
	remote  remote.Store
	session *session.Manager
	ledger  *ledger.Ledger
	logger  *zap.Logger

	mu             sync.Mutex
	sessionLoading bool
	feed           *remote.Subscription // non-nil while signed in
	feedDone       chan struct{}        // closed when the feed's change loop exits

	subMu sync.Mutex
	subs  []chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a facade over the given remote store.
func New(r remote.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	mgr := session.NewManager(r, logger)
	s := &Store{
		remote:  r,
		session: mgr,
		ledger:  ledger.New(r, mgr, logger),
		logger:  logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Init resolves whether a session is known. Resolution, success or not,
// ends the session-loading phase; a resumed session activates the push
// subscription and fills the mirror before Init returns, so the first
// observable state is already coherent.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	s.sessionLoading = true
	s.mu.Unlock()

	resumeCtx, cancel := context.WithTimeout(ctx, initTimeout)
	ident := s.session.Initialize(resumeCtx)
	cancel()

	if ident != nil {
		s.activate()
		if err := s.ledger.FetchAll(ctx, ledger.FetchLoud); err != nil {
			s.logger.Warn("initial fetch failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.sessionLoading = false
	s.mu.Unlock()

	// Provider-pushed session changes are handled for the lifetime of the
	// facade, whether or not a session was resumed.
	s.wg.Add(1)
	go s.sessionLoop()

	s.notify()
	return nil
}

// Dispose tears the facade down. In-flight network operations are allowed
// to complete; their results are simply discarded once no one observes them.
func (s *Store) Dispose() {
	s.cancel()
	s.deactivate()
	s.wg.Wait()

	s.subMu.Lock()
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	s.subMu.Unlock()
}

// =============================================================================
// OBSERVABLE STATE
// =============================================================================

// Identity returns the current identity, or nil when signed out.
func (s *Store) Identity() *types.Identity { return s.session.Current() }

// Requests returns a snapshot of the request mirror.
func (s *Store) Requests() []types.Request { return s.ledger.Snapshot() }

// RequestsByRequester returns the requests created by the given identity.
func (s *Store) RequestsByRequester(id string) []types.Request { return s.ledger.ByRequester(id) }

// RequestsWithStatus returns the requests currently in the given status.
func (s *Store) RequestsWithStatus(st types.RequestStatus) []types.Request {
	return s.ledger.WithStatus(st)
}

// RequestsByCollector returns the requests bound to the given collector.
func (s *Store) RequestsByCollector(id string) []types.Request { return s.ledger.ByCollector(id) }

// SessionLoading reports whether the "is a session known yet" phase is
// still unresolved.
func (s *Store) SessionLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLoading
}

// DataLoading reports whether a user-visible mirror refresh is in flight.
func (s *Store) DataLoading() bool { return s.ledger.DataLoading() }

// Subscribe attaches a consumer to change notifications.
func (s *Store) Subscribe() *Subscription {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return &Subscription{C: ch, ch: ch}
}

// Unsubscribe stops forwarding change notifications to the consumer.
func (s *Store) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, ch := range s.subs {
		if ch == sub.ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			close(ch)
			break
		}
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
			// A pending notification already tells the consumer to re-read.
		}
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

// Login signs in and brings the mirror current before notifying consumers.
func (s *Store) Login(ctx context.Context, email, secret string) error {
	if err := s.session.Login(ctx, email, secret); err != nil {
		return err
	}
	s.activate()
	if err := s.ledger.FetchAll(ctx, ledger.FetchLoud); err != nil {
		return err
	}
	s.notify()
	return nil
}

// Register creates a new identity, signs it in, and fills the mirror.
func (s *Store) Register(ctx context.Context, profile remote.Profile, secret string) error {
	if err := s.session.Register(ctx, profile, secret); err != nil {
		return err
	}
	s.activate()
	if err := s.ledger.FetchAll(ctx, ledger.FetchLoud); err != nil {
		return err
	}
	s.notify()
	return nil
}

// Logout clears identity and mirror locally even if the provider call
// fails, and closes the push subscription.
func (s *Store) Logout(ctx context.Context) {
	s.deactivate()
	s.session.Logout(ctx)
	s.ledger.Clear()
	s.notify()
}

// UpdateProfile edits the current identity's mutable fields.
func (s *Store) UpdateProfile(ctx context.Context, patch remote.ProfilePatch) (*types.Identity, error) {
	ident, err := s.session.UpdateProfile(ctx, patch)
	if err != nil {
		return nil, err
	}
	s.notify()
	return ident, nil
}

// CreateRequest submits a new pickup request.
func (s *Store) CreateRequest(ctx context.Context, d ledger.CreateDetails) error {
	if err := s.ledger.Create(ctx, d); err != nil {
		return err
	}
	s.notify()
	return nil
}

// SetStatus transitions a request through its lifecycle.
func (s *Store) SetStatus(ctx context.Context, id string, status types.RequestStatus) error {
	if err := s.ledger.SetStatus(ctx, id, status); err != nil {
		return err
	}
	s.notify()
	return nil
}

// AssignCollector accepts a pending request on behalf of a collector.
func (s *Store) AssignCollector(ctx context.Context, id, collectorID string) error {
	if err := s.ledger.AssignCollector(ctx, id, collectorID); err != nil {
		return err
	}
	s.notify()
	return nil
}

// =============================================================================
// SUBSCRIPTION LIFECYCLE AND EVENT LOOPS
// =============================================================================

// activate opens the push subscription. It is opened once per sign-in;
// re-activating while already active is a no-op, so consumers can never
// cause duplicate subscriptions.
func (s *Store) activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feed != nil {
		return
	}
	s.feed = s.remote.Subscribe()
	s.feedDone = make(chan struct{})
	go s.changeLoop(s.feed, s.feedDone)
}

// deactivate closes the push subscription opened by activate and waits for
// its change loop to drain. Each activation carries its own done channel so
// a concurrent re-activation can never be waited on by mistake.
func (s *Store) deactivate() {
	s.mu.Lock()
	feed, done := s.feed, s.feedDone
	s.feed, s.feedDone = nil, nil
	s.mu.Unlock()
	if feed == nil {
		return
	}
	s.remote.Unsubscribe(feed)
	<-done
}

// changeLoop drains the remote change feed and reconciles with silent
// snapshot refreshes. Message passing keeps reconciliation on one goroutine
// instead of shared callback closures.
func (s *Store) changeLoop(feed *remote.Subscription, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case _, ok := <-feed.C:
			if !ok {
				return
			}
			s.ledger.OnRemoteChange(s.ctx)
			s.notify()
		}
	}
}

// sessionLoop applies provider-pushed session changes for the lifetime of
// the facade.
func (s *Store) sessionLoop() {
	defer s.wg.Done()
	events := s.remote.SessionEvents()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleSessionEvent(ev)
		}
	}
}

func (s *Store) handleSessionEvent(ev remote.SessionEvent) {
	s.session.HandleProviderEvent(ev)
	switch ev.Kind {
	case remote.SessionSignedIn:
		s.activate()
		if err := s.ledger.FetchAll(s.ctx, ledger.FetchLoud); err != nil {
			s.logger.Warn("fetch after signed-in event failed", zap.Error(err))
		}
	case remote.SessionSignedOut:
		s.deactivate()
		s.ledger.Clear()
	}
	s.notify()
}
