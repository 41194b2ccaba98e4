// Package session owns the current-identity lifecycle. It derives a single
// Identity from the remote store's session provider and keeps it current
// across provider-pushed events.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"ecosort/internal/remote"
	"ecosort/internal/types"
)

// DefaultDisplayName is used when the provider supplies no display name.
const DefaultDisplayName = "EcoSort User"

// Manager holds the current Identity. Exactly one Identity is current per
// running client; it is never shared between clients.
type Manager struct {
	mu       sync.RWMutex
	identity *types.Identity

	provider remote.Provider
	logger   *zap.Logger
}

// NewManager creates a session manager on top of the given provider.
func NewManager(provider remote.Provider, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{provider: provider, logger: logger}
}

// Initialize attempts to resume an existing provider session. A transport
// failure degrades to "no session" rather than failing startup; the returned
// identity is nil in that case.
func (m *Manager) Initialize(ctx context.Context) *types.Identity {
	profile, err := m.provider.GetSession(ctx)
	if err != nil {
		m.logger.Warn("session resume failed, starting without a session", zap.Error(err))
		return nil
	}
	if profile == nil {
		return nil
	}

	ident, err := identityFromProfile(profile)
	if err != nil {
		m.logger.Warn("session profile unparseable, starting without a session", zap.Error(err))
		return nil
	}

	m.setIdentity(ident)
	return ident
}

// Current returns a copy of the current identity, or nil when signed out.
func (m *Manager) Current() *types.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return nil
	}
	ident := *m.identity
	return &ident
}

// HandleProviderEvent applies a provider-pushed session change. Events may
// arrive at any time, including immediately after Initialize, and applying
// the same event twice leaves observable state unchanged.
func (m *Manager) HandleProviderEvent(ev remote.SessionEvent) {
	switch ev.Kind {
	case remote.SessionSignedIn:
		ident, err := identityFromProfile(ev.Profile)
		if err != nil {
			m.logger.Warn("ignoring signed-in event with unparseable profile", zap.Error(err))
			return
		}
		m.setIdentity(ident)
	case remote.SessionSignedOut:
		m.setIdentity(nil)
	}
}

// Login delegates to the provider and derives the identity from the
// returned profile on success.
func (m *Manager) Login(ctx context.Context, email, secret string) error {
	profile, err := m.provider.SignIn(ctx, email, secret)
	if err != nil {
		var aerr *types.AuthError
		if errors.As(err, &aerr) {
			return err
		}
		return &types.TransportError{Op: "sign_in", Err: err}
	}

	ident, err := identityFromProfile(profile)
	if err != nil {
		return &types.AuthError{Op: "sign_in", Reason: err.Error()}
	}
	m.setIdentity(ident)
	return nil
}

// Register creates a new identity with the provider and signs it in.
func (m *Manager) Register(ctx context.Context, profile remote.Profile, secret string) error {
	created, err := m.provider.SignUp(ctx, profile, secret)
	if err != nil {
		var aerr *types.AuthError
		if errors.As(err, &aerr) {
			return err
		}
		return &types.TransportError{Op: "sign_up", Err: err}
	}

	ident, err := identityFromProfile(created)
	if err != nil {
		return &types.AuthError{Op: "sign_up", Reason: err.Error()}
	}
	m.setIdentity(ident)
	return nil
}

// Logout force-clears the local identity, then tells the provider. Local
// state never claims a session the provider has abandoned, so the clear
// happens even when the provider call fails.
func (m *Manager) Logout(ctx context.Context) {
	m.setIdentity(nil)
	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Warn("provider sign out failed, local session cleared anyway", zap.Error(err))
	}
}

// UpdateProfile applies a partial profile edit. The new identity is derived
// from the profile the provider returns, never from the partial input, so
// attributes the provider rejected or altered are not invented locally.
func (m *Manager) UpdateProfile(ctx context.Context, patch remote.ProfilePatch) (*types.Identity, error) {
	current := m.Current()
	if current == nil {
		return nil, types.ErrNoIdentity
	}

	updated, err := m.provider.UpdateIdentity(ctx, current.ID, patch)
	if err != nil {
		var aerr *types.AuthError
		if errors.As(err, &aerr) {
			return nil, err
		}
		return nil, &types.TransportError{Op: "update_identity", Err: err}
	}

	ident, err := identityFromProfile(updated)
	if err != nil {
		return nil, fmt.Errorf("provider returned unparseable profile: %w", err)
	}
	m.setIdentity(ident)
	return ident, nil
}

func (m *Manager) setIdentity(ident *types.Identity) {
	m.mu.Lock()
	m.identity = ident
	m.mu.Unlock()
}

// identityFromProfile parses provider attributes into an Identity,
// defaulting an unset display name and leaving an unset address empty.
func identityFromProfile(p *remote.Profile) (*types.Identity, error) {
	if p == nil {
		return nil, fmt.Errorf("nil profile")
	}
	role, err := types.ParseRole(p.Role)
	if err != nil {
		return nil, err
	}

	name := p.DisplayName
	if name == "" {
		name = DefaultDisplayName
	}
	return &types.Identity{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: name,
		Address:     p.Address,
		Role:        role,
	}, nil
}
