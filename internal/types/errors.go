// This file defines the error taxonomy shared by the core packages.
package types

import "errors"

// AuthError reports a credential or registration failure from the identity
// provider. It is surfaced as a typed result for direct user-facing messaging.
type AuthError struct {
	Op     string // "sign_in", "sign_up", "update_identity"
	Reason string
}

func (e *AuthError) Error() string {
	return "auth failed during " + e.Op + ": " + e.Reason
}

// TransportError reports an unreachable or failing remote store. During a
// user-initiated command it surfaces to the caller for retry; during a
// background refresh it is logged and swallowed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "remote store unreachable during " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError reports a command rejected locally: an illegal state
// transition, or a command requiring an identity when none is current.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ErrNoIdentity is returned by commands that require a signed-in identity.
var ErrNoIdentity = &ValidationError{Reason: "no identity is signed in"}

// ErrCategorizerUnavailable marks a soft classifier failure. Callers fall
// back to manual categorization; request creation never blocks on it.
var ErrCategorizerUnavailable = errors.New("waste categorizer unavailable")
