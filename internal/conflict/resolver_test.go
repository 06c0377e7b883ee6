package conflict

import (
	"testing"

	"checkinsync/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestResolver_Resolve(t *testing.T) {
	r := NewResolver()
	intent := &models.CheckInIntent{ID: "1", TargetHash: "Q-42"}

	tests := []struct {
		name  string
		state *models.ServerState
		want  Decision
	}{
		{"unknown state", nil, Proceed},
		{"pending", &models.ServerState{Status: models.ReservationPending}, Proceed},
		{"checked in", &models.ServerState{Status: models.ReservationCheckedIn}, SkipAlreadyDone},
		{"cancelled", &models.ServerState{Status: models.ReservationCancelled}, SkipInvalid},
		{"not found", &models.ServerState{Status: models.ReservationNotFound}, SkipInvalid},
		{"unrecognised status", &models.ServerState{Status: "weird"}, Proceed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(intent, tt.state))
		})
	}

	t.Run("synced intent is never resubmitted", func(t *testing.T) {
		synced := &models.CheckInIntent{ID: "2", Synced: true}
		assert.Equal(t, SkipAlreadyDone, r.Resolve(synced, nil))
	})
}

func TestResolver_ResolveError(t *testing.T) {
	var r Resolver
	intent := &models.CheckInIntent{ID: "1", TargetHash: "Q-42"}

	tests := []struct {
		code string
		want Decision
	}{
		{models.CodeAlreadyCheckedIn, SkipAlreadyDone},
		{models.CodeReservationCancelled, SkipInvalid},
		{models.CodeReservationNotFound, SkipInvalid},
		{models.CodeNetworkError, Proceed},
		{models.CodeServerError, Proceed},
		{"SOMETHING_NEW", Proceed},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got := r.ResolveError(intent, &models.CheckInError{Code: tt.code})
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, Proceed, r.ResolveError(intent, nil))
}

func TestResolver_ResolveResult(t *testing.T) {
	var r Resolver
	intent := &models.CheckInIntent{ID: "1", TargetHash: "Q-42"}

	assert.Equal(t, Proceed, r.ResolveResult(intent, nil))
	assert.Equal(t, Proceed, r.ResolveResult(intent, &models.CheckInResult{Status: models.ReservationCheckedIn}))
	assert.Equal(t, SkipAlreadyDone, r.ResolveResult(intent, &models.CheckInResult{AlreadyCheckedIn: true}))
	assert.Equal(t, SkipInvalid, r.ResolveResult(intent, &models.CheckInResult{Status: models.ReservationCancelled}))
}

func TestDecision_Terminal(t *testing.T) {
	assert.False(t, Proceed.Terminal())
	assert.True(t, SkipAlreadyDone.Terminal())
	assert.True(t, SkipInvalid.Terminal())
}
