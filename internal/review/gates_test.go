package review

import (
	"testing"

	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestCanSubmitReview(t *testing.T) {
	f1 := domain.File{ID: "f1", RelPath: "out/a.csv", GroupID: "g1"}
	f2 := domain.File{ID: "f2", RelPath: "out/b.csv", GroupID: "g2"}

	t.Run("no output files is precondition failure", func(t *testing.T) {
		err := CanSubmitReview(nil, FileVotes{}, nil)
		assert.Error(t, err)
	})

	t.Run("missing a vote is precondition failure", func(t *testing.T) {
		err := CanSubmitReview([]domain.File{f1, f2}, FileVotes{"f1": domain.VoteApprove}, nil)
		assert.Error(t, err)
	})

	t.Run("request-changes without a comment on the group fails", func(t *testing.T) {
		err := CanSubmitReview([]domain.File{f1}, FileVotes{"f1": domain.VoteRequestChanges}, map[string]bool{})
		assert.Error(t, err)
	})

	t.Run("request-changes with a comment on the group succeeds", func(t *testing.T) {
		err := CanSubmitReview([]domain.File{f1}, FileVotes{"f1": domain.VoteRequestChanges}, map[string]bool{"g1": true})
		assert.NoError(t, err)
	})

	t.Run("all approved succeeds with no comment required", func(t *testing.T) {
		err := CanSubmitReview([]domain.File{f1, f2}, FileVotes{"f1": domain.VoteApprove, "f2": domain.VoteApprove}, nil)
		assert.NoError(t, err)
	})
}

func TestCanReturn(t *testing.T) {
	t.Run("early return waives the comment gate", func(t *testing.T) {
		err := CanReturn(true, GroupDecisions{"g1": true}, nil)
		assert.NoError(t, err)
	})

	t.Run("late return requires a public comment on every flagged group", func(t *testing.T) {
		err := CanReturn(false, GroupDecisions{"g1": true}, map[string]bool{})
		assert.Error(t, err)

		err = CanReturn(false, GroupDecisions{"g1": true}, map[string]bool{"g1": true})
		assert.NoError(t, err)
	})

	t.Run("groups with no flagged decision need no comment", func(t *testing.T) {
		err := CanReturn(false, GroupDecisions{"g1": false}, map[string]bool{})
		assert.NoError(t, err)
	})
}

func TestCanRelease(t *testing.T) {
	f1 := domain.File{ID: "f1", RelPath: "out/a.csv"}
	f2 := domain.File{ID: "f2", RelPath: "out/b.csv"}

	t.Run("all approved succeeds", func(t *testing.T) {
		decisions := map[string]domain.Decision{"f1": domain.DecisionApproved, "f2": domain.DecisionApproved}
		assert.NoError(t, CanRelease(decisions, []domain.File{f1, f2}))
	})

	t.Run("any non-approved file blocks release", func(t *testing.T) {
		decisions := map[string]domain.Decision{"f1": domain.DecisionApproved, "f2": domain.DecisionConflicted}
		assert.Error(t, CanRelease(decisions, []domain.File{f1, f2}))
	})

	t.Run("missing decision blocks release", func(t *testing.T) {
		decisions := map[string]domain.Decision{"f1": domain.DecisionApproved}
		assert.Error(t, CanRelease(decisions, []domain.File{f1, f2}))
	})
}
