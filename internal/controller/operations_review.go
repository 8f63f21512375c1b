package controller

import (
	"context"

	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/audit"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/events"
	"github.com/opensafely-core/airlock/internal/metrics"
	"github.com/opensafely-core/airlock/internal/review"
	"github.com/opensafely-core/airlock/internal/statemachine"
	"github.com/opensafely-core/airlock/internal/store"
)

func reviewableStatus(s domain.Status) bool {
	return s == domain.StatusSubmitted || s == domain.StatusPartiallyReviewed
}

// Vote implements vote(C, R, F, choice): upsert for (F, reviewer, turn).
// Rejected if the caller is the request's own author (V1) or has already
// submitted their review for this turn (V2 — submission freezes votes).
func (c *Controller) Vote(ctx context.Context, p domain.Principal, requestID, fileID string, choice domain.VoteChoice) error {
	return c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, caps, err := c.loadRequestForAction(ctx, tx, requestID, p)
		if err != nil {
			return err
		}
		if !caps.CanActAsReviewer() {
			return apierror.NewPermissionDenied("only an output-checker other than the author may vote")
		}
		if !reviewableStatus(req.Status) {
			return apierror.NewPrecondition("voting is only open while the request is under independent review")
		}

		submissions, err := tx.ListReviewSubmissions(ctx, requestID, req.ReviewTurn)
		if err != nil {
			return err
		}
		for _, s := range submissions {
			if s.Reviewer == p.Username {
				return apierror.NewPrecondition("review already submitted for this turn; votes are frozen")
			}
		}

		file, err := tx.GetFile(ctx, fileID)
		if err != nil {
			return err
		}
		if file.RequestID != requestID {
			return apierror.NewNotFound("file", fileID)
		}

		if err := tx.UpsertVote(ctx, domain.Vote{
			FileID:     fileID,
			Reviewer:   p.Username,
			Choice:     choice,
			ReviewTurn: req.ReviewTurn,
			CreatedAt:  c.Clock(),
		}); err != nil {
			return err
		}
		return c.audit(ctx, tx, requestID, p.Username, audit.KindVote, &file.RelPath, map[string]any{"choice": string(choice)})
	})
}

// SubmitReview implements submit_review(C, R): applies the §4.5 submit
// gate for the calling reviewer, records their submission, and — if they
// are the first or second reviewer to submit this turn — drives the
// corresponding SYS transition (SUBMITTED→PARTIALLY_REVIEWED or
// PARTIALLY_REVIEWED→REVIEWED).
func (c *Controller) SubmitReview(ctx context.Context, p domain.Principal, requestID string) (domain.Request, error) {
	var result domain.Request
	err := c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, caps, err := c.loadRequestForAction(ctx, tx, requestID, p)
		if err != nil {
			return err
		}
		if !caps.CanActAsReviewer() {
			return apierror.NewPermissionDenied("only an output-checker other than the author may submit a review")
		}
		if !reviewableStatus(req.Status) {
			return apierror.NewPrecondition("no review is open to submit in this status")
		}

		existing, err := tx.ListReviewSubmissions(ctx, requestID, req.ReviewTurn)
		if err != nil {
			return err
		}
		alreadySubmitted := false
		for _, s := range existing {
			if s.Reviewer == p.Username {
				alreadySubmitted = true
			}
		}

		if !alreadySubmitted {
			files, err := tx.ListFiles(ctx, requestID)
			if err != nil {
				return err
			}
			votes, err := tx.ListVotes(ctx, requestID, req.ReviewTurn)
			if err != nil {
				return err
			}
			comments, err := tx.ListComments(ctx, requestID, req.ReviewTurn)
			if err != nil {
				return err
			}

			var outputFiles []domain.File
			myVotes := review.FileVotes{}
			for _, f := range files {
				if f.Withdrawn() || f.FileType != domain.FileTypeOutput {
					continue
				}
				outputFiles = append(outputFiles, f)
			}
			for _, v := range votes {
				if v.Reviewer == p.Username {
					myVotes[v.FileID] = v.Choice
				}
			}
			myCommentedGroups := map[string]bool{}
			for _, cm := range comments {
				if cm.Author == p.Username {
					myCommentedGroups[cm.GroupID] = true
				}
			}

			if err := review.CanSubmitReview(outputFiles, myVotes, myCommentedGroups); err != nil {
				return err
			}

			if err := tx.InsertReviewSubmission(ctx, domain.ReviewSubmission{
				RequestID:  requestID,
				Reviewer:   p.Username,
				ReviewTurn: req.ReviewTurn,
				CreatedAt:  c.Clock(),
			}); err != nil {
				return err
			}
			existing = append(existing, domain.ReviewSubmission{Reviewer: p.Username, ReviewTurn: req.ReviewTurn})
		}

		result = req
		if alreadySubmitted {
			// Idempotent resubmission: no state change, no new audit entry.
			return nil
		}

		var to domain.Status
		var trigger statemachine.Trigger
		switch req.Status {
		case domain.StatusSubmitted:
			to, trigger = domain.StatusPartiallyReviewed, statemachine.TriggerFirstReview
		case domain.StatusPartiallyReviewed:
			to, trigger = domain.StatusReviewed, statemachine.TriggerSecondReview
		}
		turnDelta, err := statemachine.Evaluate(req.Status, to, statemachine.ActorSystem, trigger)
		if err != nil {
			return err
		}
		newTurn := req.ReviewTurn + turnDelta
		if err := tx.UpdateRequestStatus(ctx, requestID, to, newTurn); err != nil {
			return err
		}
		if err := c.audit(ctx, tx, requestID, p.Username, audit.KindSubmitReview, nil, nil); err != nil {
			return err
		}
		kind := audit.KindSystemFirstReview
		if trigger == statemachine.TriggerSecondReview {
			kind = audit.KindSystemSecondReview
		}
		if err := c.audit(ctx, tx, requestID, "system", kind, nil, nil); err != nil {
			return err
		}
		metrics.RequestTransitions.WithLabelValues(kind, string(to)).Inc()
		tx.Enqueue(store.Outbox{Kind: string(events.KindReviewSubmitted)})
		result.Status = to
		result.ReviewTurn = newTurn
		return nil
	})
	if err != nil {
		return domain.Request{}, err
	}
	c.emitRequestEvent(result, p.Username, events.KindReviewSubmitted)
	return result, nil
}

// decideOutputFiles computes the per-file Decision for every non-withdrawn
// output file of the request at its current turn.
func decideOutputFiles(ctx context.Context, tx store.Tx, requestID string, turn int) ([]domain.File, map[string]domain.Decision, error) {
	files, err := tx.ListFiles(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	votes, err := tx.ListVotes(ctx, requestID, turn)
	if err != nil {
		return nil, nil, err
	}
	votesByFile := map[string][]domain.Vote{}
	for _, v := range votes {
		votesByFile[v.FileID] = append(votesByFile[v.FileID], v)
	}
	var outputFiles []domain.File
	decisions := map[string]domain.Decision{}
	for _, f := range files {
		if f.Withdrawn() || f.FileType != domain.FileTypeOutput {
			continue
		}
		outputFiles = append(outputFiles, f)
		decisions[f.ID] = review.Decide(votesByFile[f.ID])
	}
	return outputFiles, decisions, nil
}

// ReturnRequest implements return_request(C, R, modal_confirm): early
// return from SUBMITTED/PARTIALLY_REVIEWED waives the comment gate; return
// from REVIEWED requires a PUBLIC comment on every group with a
// CHANGES_REQUESTED or CONFLICTED file.
func (c *Controller) ReturnRequest(ctx context.Context, p domain.Principal, requestID string) (domain.Request, error) {
	var result domain.Request
	err := c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, caps, err := c.loadRequestForAction(ctx, tx, requestID, p)
		if err != nil {
			return err
		}
		if !caps.CanActAsReviewer() {
			return apierror.NewPermissionDenied("only an output-checker other than the author may return the request")
		}

		var trigger statemachine.Trigger
		early := false
		switch req.Status {
		case domain.StatusSubmitted, domain.StatusPartiallyReviewed:
			trigger, early = statemachine.TriggerEarlyReturn, true
		case domain.StatusReviewed:
			trigger = statemachine.TriggerReturn
		default:
			return apierror.NewPrecondition("request is not in a returnable status")
		}

		if !early {
			outputFiles, decisions, err := decideOutputFiles(ctx, tx, requestID, req.ReviewTurn)
			if err != nil {
				return err
			}
			groupsNeedingComment := review.GroupDecisions{}
			for _, f := range outputFiles {
				d := decisions[f.ID]
				if d == domain.DecisionChangesRequested || d == domain.DecisionConflicted {
					groupsNeedingComment[f.GroupID] = true
				}
			}
			comments, err := tx.ListComments(ctx, requestID, req.ReviewTurn)
			if err != nil {
				return err
			}
			publicCommentGroups := map[string]bool{}
			for _, cm := range comments {
				if cm.Visibility == domain.VisibilityPublic {
					publicCommentGroups[cm.GroupID] = true
				}
			}
			if err := review.CanReturn(early, groupsNeedingComment, publicCommentGroups); err != nil {
				return err
			}
		}

		turnDelta, err := statemachine.Evaluate(req.Status, domain.StatusReturned, statemachine.ActorChecker, trigger)
		if err != nil {
			return err
		}
		newTurn := req.ReviewTurn + turnDelta
		if err := tx.UpdateRequestStatus(ctx, requestID, domain.StatusReturned, newTurn); err != nil {
			return err
		}
		if err := c.audit(ctx, tx, requestID, p.Username, audit.KindReturnRequest, nil, nil); err != nil {
			return err
		}
		metrics.RequestTransitions.WithLabelValues(audit.KindReturnRequest, string(domain.StatusReturned)).Inc()
		tx.Enqueue(store.Outbox{Kind: string(events.KindReturned)})
		result = req
		result.Status = domain.StatusReturned
		result.ReviewTurn = newTurn
		return nil
	})
	if err != nil {
		return domain.Request{}, err
	}
	c.emitRequestEvent(result, p.Username, events.KindReturned)
	return result, nil
}

// Reject implements reject(C, R): REVIEWED → REJECTED, per spec §9's
// literal reading of the transition table (no special CONFLICTED carve-out).
func (c *Controller) Reject(ctx context.Context, p domain.Principal, requestID string) (domain.Request, error) {
	var result domain.Request
	err := c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, caps, err := c.loadRequestForAction(ctx, tx, requestID, p)
		if err != nil {
			return err
		}
		if !caps.CanActAsReviewer() {
			return apierror.NewPermissionDenied("only an output-checker other than the author may reject the request")
		}
		turnDelta, err := statemachine.Evaluate(req.Status, domain.StatusRejected, statemachine.ActorChecker, statemachine.TriggerReject)
		if err != nil {
			return err
		}
		newTurn := req.ReviewTurn + turnDelta
		if err := tx.UpdateRequestStatus(ctx, requestID, domain.StatusRejected, newTurn); err != nil {
			return err
		}
		if err := c.audit(ctx, tx, requestID, p.Username, audit.KindReject, nil, nil); err != nil {
			return err
		}
		metrics.RequestTransitions.WithLabelValues(audit.KindReject, string(domain.StatusRejected)).Inc()
		tx.Enqueue(store.Outbox{Kind: string(events.KindRejected)})
		result = req
		result.Status = domain.StatusRejected
		result.ReviewTurn = newTurn
		return nil
	})
	if err != nil {
		return domain.Request{}, err
	}
	c.emitRequestEvent(result, p.Username, events.KindRejected)
	return result, nil
}

// ReleaseFiles implements release_files(C, R): REVIEWED → APPROVED,
// requiring every non-withdrawn output file to have decision APPROVED.
// Approval hands the request to the Upload Scheduler, which observes the
// `approved` event via the Sink.
func (c *Controller) ReleaseFiles(ctx context.Context, p domain.Principal, requestID string) (domain.Request, error) {
	var result domain.Request
	err := c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, caps, err := c.loadRequestForAction(ctx, tx, requestID, p)
		if err != nil {
			return err
		}
		if !caps.CanActAsReviewer() {
			return apierror.NewPermissionDenied("only an output-checker other than the author may release the request")
		}

		outputFiles, decisions, err := decideOutputFiles(ctx, tx, requestID, req.ReviewTurn)
		if err != nil {
			return err
		}
		if err := review.CanRelease(decisions, outputFiles); err != nil {
			return err
		}

		turnDelta, err := statemachine.Evaluate(req.Status, domain.StatusApproved, statemachine.ActorChecker, statemachine.TriggerRelease)
		if err != nil {
			return err
		}
		newTurn := req.ReviewTurn + turnDelta
		if err := tx.UpdateRequestStatus(ctx, requestID, domain.StatusApproved, newTurn); err != nil {
			return err
		}
		if err := c.audit(ctx, tx, requestID, p.Username, audit.KindReleaseFiles, nil, nil); err != nil {
			return err
		}
		metrics.RequestTransitions.WithLabelValues(audit.KindReleaseFiles, string(domain.StatusApproved)).Inc()
		tx.Enqueue(store.Outbox{Kind: string(events.KindApproved)})
		result = req
		result.Status = domain.StatusApproved
		result.ReviewTurn = newTurn
		return nil
	})
	if err != nil {
		return domain.Request{}, err
	}
	c.emitRequestEvent(result, p.Username, events.KindApproved)
	return result, nil
}

// ReReleaseFiles implements the supplemented re-release operation (spec
// §4.7's "re-drive" bullet, named as a first-class operation per
// SPEC_FULL.md §4.12): re-enqueues FAILED upload jobs without leaving
// APPROVED. It does not touch the state machine itself — the Upload
// Scheduler transitions to RELEASED once every job succeeds.
func (c *Controller) ReReleaseFiles(ctx context.Context, p domain.Principal, requestID string) error {
	return c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, caps, err := c.loadRequestForAction(ctx, tx, requestID, p)
		if err != nil {
			return err
		}
		if !caps.CanActAsReviewer() {
			return apierror.NewPermissionDenied("only an output-checker other than the author may re-release")
		}
		if req.Status != domain.StatusApproved {
			return apierror.NewPrecondition("re-release is only valid while the request is APPROVED")
		}
		if c.Uploads == nil {
			return apierror.NewInternal(nil)
		}
		if err := c.Uploads.ReDrive(ctx, requestID); err != nil {
			return err
		}
		return c.audit(ctx, tx, requestID, p.Username, audit.KindReReleaseFiles, nil, nil)
	})
}
