package controller

import (
	"context"

	"github.com/opensafely-core/airlock/internal/audit"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/events"
	"github.com/opensafely-core/airlock/internal/metrics"
	"github.com/opensafely-core/airlock/internal/statemachine"
	"github.com/opensafely-core/airlock/internal/store"
)

// MarkReleased implements the system-driven APPROVED → RELEASED transition
// of spec §4.4/§4.7. The Upload Scheduler calls this after every
// successful upload, not just the last one, so the transition only fires
// once every non-withdrawn OUTPUT file has a non-nil `uploaded_at`;
// earlier calls are a no-op. It is also idempotent the other way: calling
// it on a request that has already left APPROVED is a no-op, since more
// than one upload worker may observe "all jobs done" concurrently.
func (c *Controller) MarkReleased(ctx context.Context, requestID string) error {
	var result domain.Request
	var transitioned bool
	err := c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != domain.StatusApproved {
			return nil
		}
		files, err := tx.ListFiles(ctx, requestID)
		if err != nil {
			return err
		}
		for _, f := range files {
			if f.Withdrawn() || f.FileType != domain.FileTypeOutput {
				continue
			}
			if !f.Uploaded() {
				return nil
			}
		}
		turnDelta, err := statemachine.Evaluate(req.Status, domain.StatusReleased, statemachine.ActorSystem, statemachine.TriggerUploadsDone)
		if err != nil {
			return err
		}
		newTurn := req.ReviewTurn + turnDelta
		if err := tx.UpdateRequestStatus(ctx, requestID, domain.StatusReleased, newTurn); err != nil {
			return err
		}
		if err := c.audit(ctx, tx, requestID, "system", audit.KindSystemUploadsComplete, nil, nil); err != nil {
			return err
		}
		metrics.RequestTransitions.WithLabelValues(audit.KindSystemUploadsComplete, string(domain.StatusReleased)).Inc()
		tx.Enqueue(store.Outbox{Kind: string(events.KindReleased)})
		result = req
		result.Status = domain.StatusReleased
		result.ReviewTurn = newTurn
		transitioned = true
		return nil
	})
	if err != nil {
		return err
	}
	if transitioned {
		c.emitRequestEvent(result, "system", events.KindReleased)
	}
	return nil
}

// RecordUploadAttempt appends an audit entry for one upload attempt — used
// by the Upload Scheduler to keep the activity log complete even though
// upload retries are not themselves Request Controller operations.
func (c *Controller) RecordUploadAttempt(ctx context.Context, requestID, relpath string, extras map[string]any) error {
	return c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		return c.audit(ctx, tx, requestID, "system", audit.KindSystemUploadAttempt, &relpath, extras)
	})
}
