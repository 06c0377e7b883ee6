// Package conflict reconciles queued check-in intents with the state the
// remote service reports for their targets.
package conflict

import (
	"checkinsync/internal/models"
)

// Decision is the action to take for an intent.
type Decision string

const (
	// Proceed submits (or keeps retrying) the intent.
	Proceed Decision = "proceed"
	// SkipAlreadyDone marks the intent synced without resubmitting.
	SkipAlreadyDone Decision = "skip_already_done"
	// SkipInvalid marks the intent failed with a non-retriable reason.
	SkipInvalid Decision = "skip_invalid"
)

// Terminal reports whether no further submission should be made.
func (d Decision) Terminal() bool {
	return d == SkipAlreadyDone || d == SkipInvalid
}

// Resolver is stateless; the zero value is ready to use.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve decides from a prior server-state lookup. A nil state means the
// state is unknown and the intent proceeds.
func (r *Resolver) Resolve(intent *models.CheckInIntent, state *models.ServerState) Decision {
	if intent == nil || intent.Synced {
		return SkipAlreadyDone
	}
	if state == nil {
		return Proceed
	}

	switch state.Status {
	case models.ReservationCheckedIn:
		return SkipAlreadyDone
	case models.ReservationCancelled, models.ReservationNotFound:
		return SkipInvalid
	default:
		return Proceed
	}
}

// ResolveError decides from the error returned by a submission attempt.
// Unknown and transport codes are retriable.
func (r *Resolver) ResolveError(intent *models.CheckInIntent, checkInErr *models.CheckInError) Decision {
	if checkInErr == nil {
		return Proceed
	}

	switch checkInErr.Code {
	case models.CodeAlreadyCheckedIn:
		return SkipAlreadyDone
	case models.CodeReservationCancelled, models.CodeReservationNotFound:
		return SkipInvalid
	default:
		return Proceed
	}
}

// ResolveResult inspects a successful response for a conflict signal. A
// response flagged as already checked in converges as SkipAlreadyDone so the
// outcome records that another channel finalized the target first.
func (r *Resolver) ResolveResult(intent *models.CheckInIntent, result *models.CheckInResult) Decision {
	if result == nil {
		return Proceed
	}
	if result.AlreadyCheckedIn {
		return SkipAlreadyDone
	}
	switch result.Status {
	case models.ReservationCancelled, models.ReservationNotFound:
		return SkipInvalid
	default:
		return Proceed
	}
}
