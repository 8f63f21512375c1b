package review

import (
	"testing"

	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		name string
		vs   []domain.Vote
		want domain.Decision
	}{
		{"two approvals", []domain.Vote{{Choice: domain.VoteApprove}, {Choice: domain.VoteApprove}}, domain.DecisionApproved},
		{"two changes requested", []domain.Vote{{Choice: domain.VoteRequestChanges}, {Choice: domain.VoteRequestChanges}}, domain.DecisionChangesRequested},
		{"conflicted", []domain.Vote{{Choice: domain.VoteApprove}, {Choice: domain.VoteRequestChanges}}, domain.DecisionConflicted},
		{"one vote is incomplete", []domain.Vote{{Choice: domain.VoteApprove}}, domain.DecisionIncomplete},
		{"no votes", nil, domain.DecisionIncomplete},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Decide(tc.vs))
		})
	}
}

func TestVisibleVotes_BlindedShowsOnlyOwn(t *testing.T) {
	votes := []domain.Vote{
		{Reviewer: "alice", Choice: domain.VoteApprove},
		{Reviewer: "bob", Choice: domain.VoteRequestChanges},
	}
	out := VisibleVotes(votes, "alice", true)
	assert.Len(t, out, 1)
	assert.Equal(t, "alice", out[0].Reviewer)

	out = VisibleVotes(votes, "alice", false)
	assert.Len(t, out, 2)
}

func TestVisibleComments_AuthorNeverSeesPrivateCurrentTurn(t *testing.T) {
	comments := []domain.Comment{
		{Author: "alice", Visibility: domain.VisibilityPrivate, ReviewTurn: 2},
		{Author: "alice", Visibility: domain.VisibilityPublic, ReviewTurn: 2},
		{Author: "alice", Visibility: domain.VisibilityPrivate, ReviewTurn: 1},
	}
	out := VisibleComments(comments, "bob", true, false, 2)
	assert.Len(t, out, 2)
	for _, c := range out {
		assert.False(t, c.Visibility == domain.VisibilityPrivate && c.ReviewTurn == 2)
	}
}

func TestVisibleComments_BlindedReviewerSeesOnlyOwnCurrentTurn(t *testing.T) {
	comments := []domain.Comment{
		{Author: "alice", GroupID: "g1", ReviewTurn: 2},
		{Author: "bob", GroupID: "g1", ReviewTurn: 2},
		{Author: "bob", GroupID: "g1", ReviewTurn: 1},
	}
	out := VisibleComments(comments, "alice", false, true, 2)
	assert.Len(t, out, 2) // alice's own turn-2 comment, plus bob's turn-1 comment
}

func TestBlinded(t *testing.T) {
	assert.True(t, Blinded(domain.StatusSubmitted))
	assert.True(t, Blinded(domain.StatusPartiallyReviewed))
	assert.False(t, Blinded(domain.StatusReviewed))
	assert.False(t, Blinded(domain.StatusApproved))
}
