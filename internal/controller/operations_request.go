package controller

import (
	"context"

	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/audit"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/events"
	"github.com/opensafely-core/airlock/internal/metrics"
	"github.com/opensafely-core/airlock/internal/statemachine"
	"github.com/opensafely-core/airlock/internal/store"
)

var activeRequestStatuses = []domain.Status{
	domain.StatusPending, domain.StatusSubmitted, domain.StatusPartiallyReviewed,
	domain.StatusReviewed, domain.StatusReturned, domain.StatusApproved,
}

// CreateRequest implements create_request(A, W): a new request in PENDING,
// turn 1. Fails with Invariant if the author already has an active
// request on this workspace (U1), or PermissionDenied if they lack
// workspace access.
func (c *Controller) CreateRequest(ctx context.Context, p domain.Principal, workspaceName string) (domain.Request, error) {
	caps := c.Identity.Resolve(p, workspaceName, nil)
	if !caps.WorkspaceAccess {
		return domain.Request{}, apierror.NewPermissionDenied("no access to workspace " + workspaceName)
	}

	var created domain.Request
	err := c.Store.WithNewRequestLock(ctx, workspaceName, p.Username, func(ctx context.Context, tx store.Tx) error {
		active, err := c.Store.ListRequests(ctx, store.RequestFilter{
			Workspace: workspaceName,
			Author:    p.Username,
			Statuses:  activeRequestStatuses,
		})
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return apierror.NewInvariant("author already has an active request on this workspace")
		}

		now := c.Clock()
		created = domain.Request{
			ID:         c.NewID(),
			Workspace:  workspaceName,
			Author:     p.Username,
			Status:     domain.StatusPending,
			ReviewTurn: 1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertRequest(ctx, created); err != nil {
			return err
		}
		return c.audit(ctx, tx, created.ID, p.Username, audit.KindCreateRequest, nil, nil)
	})
	if err != nil {
		return domain.Request{}, err
	}
	return created, nil
}

// Submit implements submit(A, R) and resubmit: both PENDING→SUBMITTED and
// RETURNED→SUBMITTED require at least one non-withdrawn OUTPUT file and
// every group containing one to be complete (F2). The check runs on every
// call, since files added, moved or withdrawn while RETURNED are not
// checked against F2 at the time.
func (c *Controller) Submit(ctx context.Context, p domain.Principal, requestID string) (domain.Request, error) {
	var result domain.Request
	var trigger statemachine.Trigger
	err := c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, caps, err := c.loadRequestForAction(ctx, tx, requestID, p)
		if err != nil {
			return err
		}
		if !caps.IsAuthor {
			return apierror.NewPermissionDenied("only the request author may submit")
		}

		trigger = statemachine.TriggerSubmit
		if req.Status == domain.StatusReturned {
			trigger = statemachine.TriggerResubmit
		}
		turnDelta, err := statemachine.Evaluate(req.Status, domain.StatusSubmitted, statemachine.ActorAuthor, trigger)
		if err != nil {
			return err
		}

		files, err := tx.ListFiles(ctx, requestID)
		if err != nil {
			return err
		}
		groups, err := tx.ListGroups(ctx, requestID)
		if err != nil {
			return err
		}
		if err := requireSubmittableFileSet(files, groups); err != nil {
			return err
		}

		newTurn := req.ReviewTurn + turnDelta
		if err := tx.UpdateRequestStatus(ctx, requestID, domain.StatusSubmitted, newTurn); err != nil {
			return err
		}
		kind := audit.KindSubmit
		if trigger == statemachine.TriggerResubmit {
			kind = "resubmit"
		}
		if err := c.audit(ctx, tx, requestID, p.Username, kind, nil, nil); err != nil {
			return err
		}
		metrics.RequestTransitions.WithLabelValues(kind, string(domain.StatusSubmitted)).Inc()
		tx.Enqueue(store.Outbox{Kind: string(eventKindForTrigger(trigger)), Data: nil})
		result = req
		result.Status = domain.StatusSubmitted
		result.ReviewTurn = newTurn
		return nil
	})
	if err != nil {
		return domain.Request{}, err
	}
	c.emitRequestEvent(result, result.Author, eventKindForTrigger(trigger))
	return result, nil
}

func eventKindForTrigger(t statemachine.Trigger) events.Kind {
	switch t {
	case statemachine.TriggerResubmit:
		return events.KindResubmitted
	default:
		return events.KindSubmitted
	}
}

// requireSubmittableFileSet enforces: at least one OUTPUT file, and every
// group with an OUTPUT file is complete (F2).
func requireSubmittableFileSet(files []domain.File, groups []domain.Group) error {
	groupByID := map[string]domain.Group{}
	for _, g := range groups {
		groupByID[g.ID] = g
	}
	hasOutput := false
	incompleteGroups := map[string]bool{}
	for _, f := range files {
		if f.Withdrawn() {
			continue
		}
		if f.FileType != domain.FileTypeOutput {
			continue
		}
		hasOutput = true
		if g, ok := groupByID[f.GroupID]; !ok || !g.Complete() {
			incompleteGroups[f.GroupID] = true
		}
	}
	if !hasOutput {
		return apierror.NewPrecondition("request has no output files")
	}
	if len(incompleteGroups) > 0 {
		return apierror.NewPrecondition("every group with output files must have context and controls filled in")
	}
	return nil
}

// WithdrawRequest implements withdraw_request(A, R): PENDING/RETURNED →
// WITHDRAWN.
func (c *Controller) WithdrawRequest(ctx context.Context, p domain.Principal, requestID string) (domain.Request, error) {
	var result domain.Request
	err := c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, caps, err := c.loadRequestForAction(ctx, tx, requestID, p)
		if err != nil {
			return err
		}
		if !caps.IsAuthor {
			return apierror.NewPermissionDenied("only the request author may withdraw it")
		}
		turnDelta, err := statemachine.Evaluate(req.Status, domain.StatusWithdrawn, statemachine.ActorAuthor, statemachine.TriggerWithdraw)
		if err != nil {
			return err
		}
		newTurn := req.ReviewTurn + turnDelta
		if err := tx.UpdateRequestStatus(ctx, requestID, domain.StatusWithdrawn, newTurn); err != nil {
			return err
		}
		if err := c.audit(ctx, tx, requestID, p.Username, audit.KindWithdrawRequest, nil, nil); err != nil {
			return err
		}
		metrics.RequestTransitions.WithLabelValues(audit.KindWithdrawRequest, string(domain.StatusWithdrawn)).Inc()
		tx.Enqueue(store.Outbox{Kind: string(events.KindWithdrawn)})
		result = req
		result.Status = domain.StatusWithdrawn
		result.ReviewTurn = newTurn
		return nil
	})
	if err != nil {
		return domain.Request{}, err
	}
	c.emitRequestEvent(result, p.Username, events.KindWithdrawn)
	return result, nil
}

func (c *Controller) emitRequestEvent(req domain.Request, actor string, kind events.Kind) {
	c.emit(events.Event{
		Kind:      kind,
		RequestID: req.ID,
		Workspace: req.Workspace,
		Author:    req.Author,
		Actor:     actor,
		Turn:      req.ReviewTurn,
	})
}
