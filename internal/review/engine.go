// Package review implements the per-file vote aggregation, decision
// derivation, blinding and gate logic of spec §4.5. Every function here is
// pure: it takes the votes/comments already loaded by the caller and
// returns a judgement, with no store access of its own.
package review

import "github.com/opensafely-core/airlock/internal/domain"

// Decide aggregates one file's votes in the current turn into a Decision,
// per the thresholds in spec §4.5. Only the latest vote per reviewer
// counts — callers must pass at most one Vote per reviewer (the upsert
// Tx.UpsertVote already enforces (file, reviewer, turn) uniqueness).
func Decide(votes []domain.Vote) domain.Decision {
	approve, changes := 0, 0
	for _, v := range votes {
		switch v.Choice {
		case domain.VoteApprove:
			approve++
		case domain.VoteRequestChanges:
			changes++
		}
	}
	switch {
	case approve >= 2 && changes == 0:
		return domain.DecisionApproved
	case changes >= 2 && approve == 0:
		return domain.DecisionChangesRequested
	case approve >= 1 && changes >= 1:
		return domain.DecisionConflicted
	default:
		return domain.DecisionIncomplete
	}
}

// VisibleVotes filters `votes` (all of them, from every reviewer, in the
// current turn) down to what `viewer` may see, implementing the
// independent-review blinding of spec §4.5: while blinded, a reviewer sees
// only their own votes.
func VisibleVotes(votes []domain.Vote, viewer string, blinded bool) []domain.Vote {
	if !blinded {
		return votes
	}
	out := make([]domain.Vote, 0, len(votes))
	for _, v := range votes {
		if v.Reviewer == viewer {
			out = append(out, v)
		}
	}
	return out
}

// VisibleComments filters comments for a given viewer and request state,
// implementing invariant C1 and the blinding rule: while blinded, a
// reviewer sees only their own turn-T comments; the author never sees
// PRIVATE comments from the still-current turn.
func VisibleComments(comments []domain.Comment, viewer string, isAuthor bool, blinded bool, currentTurn int) []domain.Comment {
	out := make([]domain.Comment, 0, len(comments))
	for _, c := range comments {
		if isAuthor {
			if c.Visibility == domain.VisibilityPrivate && c.ReviewTurn == currentTurn {
				continue
			}
			out = append(out, c)
			continue
		}
		if blinded && c.ReviewTurn == currentTurn && c.Author != viewer {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Blinded reports whether a request in the given status is in its
// independent-review phase, where reviewers are blinded to each other.
func Blinded(status domain.Status) bool {
	return status == domain.StatusSubmitted || status == domain.StatusPartiallyReviewed
}
