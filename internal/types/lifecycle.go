// This file defines the request lifecycle state machine.
package types

// The lifecycle enforces the following transition graph:
//
//	PENDING  → ACCEPTED   : collector accepts (requires a collector binding)
//	PENDING  → REJECTED   : rejected before any collector claims it
//	ACCEPTED → COMPLETED  : bound collector finishes the pickup
//	ACCEPTED → REJECTED   : bound collector abandons the pickup
//
// COMPLETED and REJECTED are terminal; no transition reopens them.
var transitions = map[RequestStatus]map[RequestStatus]bool{
	StatusPending: {
		StatusAccepted: true,
		StatusRejected: true,
	},
	StatusAccepted: {
		StatusCompleted: true,
		StatusRejected:  true,
	},
	StatusRejected:  {},
	StatusCompleted: {},
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to RequestStatus) bool {
	return transitions[from][to]
}

// ValidateTransition returns a ValidationError for illegal transitions.
// Validation happens locally, before any network call is issued.
func ValidateTransition(from, to RequestStatus) error {
	if !CanTransition(from, to) {
		return &ValidationError{Reason: "illegal status transition " + string(from) + " -> " + string(to)}
	}
	return nil
}

// IsTerminal reports whether a status permits no further transitions.
func IsTerminal(s RequestStatus) bool {
	return len(transitions[s]) == 0
}
