package models

import (
	"errors"
	"fmt"
	"time"
)

// Resolution records how an intent left the pending state.
type Resolution string

const (
	ResolutionNone             Resolution = ""
	ResolutionSubmitted        Resolution = "submitted"
	ResolutionAlreadyCheckedIn Resolution = "already_checked_in"
	ResolutionRejected         Resolution = "rejected"
)

// IntentState is the derived lifecycle state of a CheckInIntent. It is not persisted.
type IntentState string

const (
	IntentPending   IntentState = "pending"
	IntentExhausted IntentState = "exhausted"
	IntentRejected  IntentState = "rejected"
	IntentSynced    IntentState = "synced"
)

// CheckInIntent is a locally queued request to mark a reservation as checked in.
type CheckInIntent struct {
	ID            string     `json:"id"`
	TargetHash    string     `json:"target_hash"`
	EventID       string     `json:"event_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	Synced        bool       `json:"synced"`
	Rejected      bool       `json:"rejected"`
	Resolution    Resolution `json:"resolution,omitempty"`
	AttemptCount  int        `json:"attempt_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
}

// State derives the lifecycle state given the configured attempt limit.
func (i *CheckInIntent) State(maxAttempts int) IntentState {
	switch {
	case i.Synced:
		return IntentSynced
	case i.Rejected:
		return IntentRejected
	case maxAttempts > 0 && i.AttemptCount >= maxAttempts:
		return IntentExhausted
	default:
		return IntentPending
	}
}

// Eligible reports whether the intent may be submitted by an automatic pass.
func (i *CheckInIntent) Eligible(maxAttempts int) bool {
	return i.State(maxAttempts) == IntentPending
}

// ErrorText returns LastError or an empty string.
func (i *CheckInIntent) ErrorText() string {
	if i.LastError == nil {
		return ""
	}
	return *i.LastError
}

// Check-in error codes reported by the remote service.
const (
	CodeAlreadyCheckedIn     = "ALREADY_CHECKED_IN"
	CodeReservationCancelled = "RESERVATION_CANCELLED"
	CodeReservationNotFound  = "RESERVATION_NOT_FOUND"
	CodeNetworkError         = "NETWORK_ERROR"
	CodeServerError          = "SERVER_ERROR"
)

// CheckInError is a failed submission as reported by the remote service.
type CheckInError struct {
	Code                string     `json:"code"`
	Message             string     `json:"message"`
	OriginalCheckInTime *time.Time `json:"original_check_in_time,omitempty"`
}

func (e *CheckInError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsCheckInError extracts a CheckInError from err. Errors that carry no code
// are reported as NETWORK_ERROR so that they stay retriable.
func AsCheckInError(err error) *CheckInError {
	if err == nil {
		return nil
	}
	var ce *CheckInError
	if errors.As(err, &ce) {
		return ce
	}
	return &CheckInError{Code: CodeNetworkError, Message: err.Error()}
}

// CheckInResult is the success payload of a submission.
type CheckInResult struct {
	TargetHash       string    `json:"target_hash"`
	GuestName        string    `json:"guest_name,omitempty"`
	Status           string    `json:"status"`
	CheckedInAt      time.Time `json:"checked_in_at"`
	AlreadyCheckedIn bool      `json:"already_checked_in,omitempty"`
}

// Reservation states reported by the remote service.
const (
	ReservationPending   = "pending"
	ReservationCheckedIn = "checked_in"
	ReservationCancelled = "cancelled"
	ReservationNotFound  = "not_found"
)

// ServerState is the authoritative state of a reservation, when known.
type ServerState struct {
	TargetHash  string     `json:"target_hash"`
	Status      string     `json:"status"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
}
