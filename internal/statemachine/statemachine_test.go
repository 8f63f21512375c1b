package statemachine

import (
	"testing"

	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_LegalTransitions(t *testing.T) {
	cases := []struct {
		name        string
		from, to    domain.Status
		actor       Actor
		trigger     Trigger
		wantDelta   int
	}{
		{"submit", domain.StatusPending, domain.StatusSubmitted, ActorAuthor, TriggerSubmit, 1},
		{"withdraw from pending", domain.StatusPending, domain.StatusWithdrawn, ActorAuthor, TriggerWithdraw, 0},
		{"first review", domain.StatusSubmitted, domain.StatusPartiallyReviewed, ActorSystem, TriggerFirstReview, 0},
		{"second review", domain.StatusPartiallyReviewed, domain.StatusReviewed, ActorSystem, TriggerSecondReview, 0},
		{"release", domain.StatusReviewed, domain.StatusApproved, ActorChecker, TriggerRelease, 0},
		{"reject", domain.StatusReviewed, domain.StatusRejected, ActorChecker, TriggerReject, 0},
		{"early return", domain.StatusSubmitted, domain.StatusReturned, ActorChecker, TriggerEarlyReturn, 1},
		{"return from reviewed", domain.StatusReviewed, domain.StatusReturned, ActorChecker, TriggerReturn, 1},
		{"resubmit", domain.StatusReturned, domain.StatusSubmitted, ActorAuthor, TriggerResubmit, 1},
		{"withdraw from returned", domain.StatusReturned, domain.StatusWithdrawn, ActorAuthor, TriggerWithdraw, 0},
		{"uploads done", domain.StatusApproved, domain.StatusReleased, ActorSystem, TriggerUploadsDone, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			delta, err := Evaluate(tc.from, tc.to, tc.actor, tc.trigger)
			require.NoError(t, err)
			assert.Equal(t, tc.wantDelta, delta)
		})
	}
}

func TestEvaluate_WrongActorIsPermissionDenied(t *testing.T) {
	_, err := Evaluate(domain.StatusPending, domain.StatusSubmitted, ActorChecker, TriggerSubmit)
	require.Error(t, err)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.PermissionDenied, apiErr.Code)
}

func TestEvaluate_NoSuchTransitionIsInvalidTransition(t *testing.T) {
	_, err := Evaluate(domain.StatusPending, domain.StatusReleased, ActorAuthor, TriggerSubmit)
	require.Error(t, err)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.InvalidTransition, apiErr.Code)
}

func TestCanAct(t *testing.T) {
	assert.True(t, CanAct(domain.StatusPending, ActorAuthor, TriggerSubmit))
	assert.False(t, CanAct(domain.StatusPending, ActorChecker, TriggerSubmit))
	assert.False(t, CanAct(domain.StatusReleased, ActorAuthor, TriggerSubmit))
}
