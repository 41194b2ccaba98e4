// Package types provides shared type definitions used across ecosort packages.
// This package exists to break import cycles between session, ledger, and store.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// ENUMS
// =============================================================================

// Role distinguishes the two kinds of actors in the system.
type Role string

const (
	// RoleRequester creates pickup requests.
	RoleRequester Role = "REQUESTER"

	// RoleCollector accepts, completes, or rejects pickup requests.
	RoleCollector Role = "COLLECTOR"
)

// ParseRole converts a raw provider attribute into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleRequester, RoleCollector:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// WasteCategory classifies the waste in a pickup request.
type WasteCategory string

const (
	CategoryDry    WasteCategory = "DRY"
	CategoryWet    WasteCategory = "WET"
	CategoryEWaste WasteCategory = "E_WASTE"
)

// AllCategories returns every valid waste category.
func AllCategories() []WasteCategory {
	return []WasteCategory{CategoryDry, CategoryWet, CategoryEWaste}
}

// ParseCategory converts a string into a WasteCategory.
// The hyphenated spelling "E-WASTE" is accepted for compatibility with
// classifier output and older records.
func ParseCategory(s string) (WasteCategory, error) {
	switch s {
	case string(CategoryDry):
		return CategoryDry, nil
	case string(CategoryWet):
		return CategoryWet, nil
	case string(CategoryEWaste), "E-WASTE":
		return CategoryEWaste, nil
	}
	return "", fmt.Errorf("unknown waste category %q", s)
}

// RequestStatus is the lifecycle state of a pickup request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusAccepted  RequestStatus = "ACCEPTED"
	StatusRejected  RequestStatus = "REJECTED"
	StatusCompleted RequestStatus = "COMPLETED"
)

// AllStatuses returns every valid request status.
func AllStatuses() []RequestStatus {
	return []RequestStatus{StatusPending, StatusAccepted, StatusRejected, StatusCompleted}
}

// ParseStatus converts a string into a RequestStatus.
func ParseStatus(s string) (RequestStatus, error) {
	switch RequestStatus(s) {
	case StatusPending, StatusAccepted, StatusRejected, StatusCompleted:
		return RequestStatus(s), nil
	}
	return "", fmt.Errorf("unknown request status %q", s)
}

// =============================================================================
// ENTITIES
// =============================================================================

// Identity is the authenticated actor of the running client.
// ID is immutable; DisplayName and Address are the only fields the owner
// may change after creation.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Address     string `json:"address"`
	Role        Role   `json:"role"`
}

// Request is one pickup request record. The requester fields are a snapshot
// taken at creation time and are never updated, even if the requester later
// edits their profile: requests are historical records, not live joins.
type Request struct {
	ID               string        `json:"id"`
	RequesterID      string        `json:"requesterId"`
	RequesterName    string        `json:"requesterName"`
	RequesterAddress string        `json:"requesterAddress"`
	Category         WasteCategory `json:"category"`
	Description      string        `json:"description"`
	Quantity         string        `json:"quantity"`
	Status           RequestStatus `json:"status"`
	CollectorID      string        `json:"collectorId,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	AITips           string        `json:"aiTips,omitempty"`
}
