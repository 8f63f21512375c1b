package review

import (
	"fmt"

	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/domain"
)

// FileVotes is a reviewer's own votes, keyed by file ID, within the
// current turn.
type FileVotes map[string]domain.VoteChoice

// CanSubmitReview evaluates the submit-review gate of spec §4.5 for
// reviewer X at the current turn:
//
//	(a) X has voted APPROVE or REQUEST_CHANGES on every non-withdrawn
//	    OUTPUT file of R, AND
//	(b) for every group containing a REQUEST_CHANGES vote by X, X has
//	    authored at least one comment on that group in this turn.
//
// outputFiles must contain only non-withdrawn OUTPUT files. myVotes must
// contain only X's own votes in the current turn. myCommentedGroups must
// be the set of group IDs X has commented on in the current turn.
func CanSubmitReview(outputFiles []domain.File, myVotes FileVotes, myCommentedGroups map[string]bool) error {
	if len(outputFiles) == 0 {
		return apierror.NewPrecondition("request has no output files to review")
	}
	requestChangesGroups := map[string]bool{}
	for _, f := range outputFiles {
		choice, voted := myVotes[f.ID]
		if !voted || choice == domain.VoteUndecided {
			return apierror.NewPrecondition(fmt.Sprintf("must vote on every output file before submitting (missing: %s)", f.RelPath))
		}
		if choice == domain.VoteRequestChanges {
			requestChangesGroups[f.GroupID] = true
		}
	}
	for groupID := range requestChangesGroups {
		if !myCommentedGroups[groupID] {
			return apierror.NewPrecondition("must comment on every group where changes were requested before submitting")
		}
	}
	return nil
}

// GroupDecisions maps a group ID to whether any of its non-withdrawn
// output files has a CHANGES_REQUESTED or CONFLICTED decision.
type GroupDecisions map[string]bool

// CanReturn evaluates the return gate of spec §4.5. early waives the
// comment requirement for early-return from SUBMITTED/PARTIALLY_REVIEWED
// ("researcher asked for it back" carve-out). publicCommentGroups is the
// set of group IDs carrying at least one PUBLIC comment authored in the
// current turn.
func CanReturn(early bool, groupsNeedingComment GroupDecisions, publicCommentGroups map[string]bool) error {
	if early {
		return nil
	}
	for groupID, needsComment := range groupsNeedingComment {
		if needsComment && !publicCommentGroups[groupID] {
			return apierror.NewPrecondition("every group with changes-requested or conflicted files needs a public comment before returning")
		}
	}
	return nil
}

// CanRelease evaluates the release gate of spec §4.5: every non-withdrawn
// output file's decision must be APPROVED.
func CanRelease(decisions map[string]domain.Decision, outputFiles []domain.File) error {
	for _, f := range outputFiles {
		d, ok := decisions[f.ID]
		if !ok || d != domain.DecisionApproved {
			return apierror.NewPrecondition(fmt.Sprintf("file %s is not yet approved by two independent reviewers", f.RelPath))
		}
	}
	return nil
}
