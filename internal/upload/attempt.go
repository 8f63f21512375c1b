package upload

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/events"
	"github.com/opensafely-core/airlock/internal/jobsapi"
	"github.com/opensafely-core/airlock/internal/metrics"
	"github.com/opensafely-core/airlock/internal/store"
	"k8s.io/klog/v2"
)

// attempt runs a single upload attempt for job, updating its persisted
// state according to the outcome. It never panics the dispatch goroutine:
// any unexpected Store error is logged and ends the attempt, leaving the
// job in its last persisted state (RUNNING once it has been marked so).
func (s *Scheduler) attempt(ctx context.Context, job domain.UploadJob) {
	job.Status = domain.UploadJobRunning
	if err := s.store.UpdateUploadJob(ctx, job); err != nil {
		klog.ErrorS(err, "failed to mark upload job running", "job", job.ID)
		return
	}

	req, err := s.store.GetRequest(ctx, job.RequestID)
	if err != nil {
		klog.ErrorS(err, "upload job references missing request", "job", job.ID)
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.opts.AttemptTimeout)
	defer cancel()

	rc, err := s.contents.Open(job.ContentHash)
	if err != nil {
		s.fail(ctx, job, "content snapshot missing: "+err.Error())
		return
	}
	defer rc.Close()

	outcome := s.client.UploadFile(attemptCtx, req.ReleaseURL, job.RelPath, job.ContentHash, rc)
	job.Attempts++
	metrics.UploadAttempts.WithLabelValues(outcomeLabel(outcome)).Inc()

	if auditErr := s.ctrl.RecordUploadAttempt(ctx, job.RequestID, job.RelPath, map[string]any{
		"attempt": job.Attempts,
		"outcome": outcomeLabel(outcome),
	}); auditErr != nil {
		klog.ErrorS(auditErr, "failed to record upload attempt", "job", job.ID)
	}

	switch outcome {
	case jobsapi.OutcomeSuccess:
		s.succeed(ctx, job)
	case jobsapi.OutcomePermanent:
		s.fail(ctx, job, "permanent upstream rejection")
	default:
		s.retryOrFail(ctx, job)
	}
}

func outcomeLabel(o jobsapi.Outcome) string {
	switch o {
	case jobsapi.OutcomeSuccess:
		return "success"
	case jobsapi.OutcomePermanent:
		return "permanent_failure"
	default:
		return "transient_failure"
	}
}

func (s *Scheduler) succeed(ctx context.Context, job domain.UploadJob) {
	job.Status = domain.UploadJobSucceeded
	job.LastError = ""
	if err := s.store.UpdateUploadJob(ctx, job); err != nil {
		klog.ErrorS(err, "failed to persist upload success", "job", job.ID)
		return
	}
	metrics.UploadJobDuration.Observe(s.clock().Sub(job.CreatedAt).Seconds())
	if err := s.markFileUploaded(ctx, job); err != nil {
		klog.ErrorS(err, "failed to mark file uploaded", "job", job.ID)
		return
	}
	if err := s.ctrl.MarkReleased(ctx, job.RequestID); err != nil {
		klog.ErrorS(err, "failed to evaluate release completion", "request", job.RequestID)
	}
}

func (s *Scheduler) retryOrFail(ctx context.Context, job domain.UploadJob) {
	if job.Attempts >= s.opts.MaxAttempts || s.clock().After(job.DeadlineAt) {
		s.fail(ctx, job, "max attempts exceeded")
		return
	}
	job.Status = domain.UploadJobPending
	job.NextAttemptAt = s.clock().Add(backoffDelay(job.Attempts))
	if err := s.store.UpdateUploadJob(ctx, job); err != nil {
		klog.ErrorS(err, "failed to persist upload retry", "job", job.ID)
	}
}

func (s *Scheduler) fail(ctx context.Context, job domain.UploadJob, reason string) {
	job.Status = domain.UploadJobFailed
	job.LastError = reason
	if err := s.store.UpdateUploadJob(ctx, job); err != nil {
		klog.ErrorS(err, "failed to persist upload failure", "job", job.ID)
	}
	metrics.UploadJobDuration.Observe(s.clock().Sub(job.CreatedAt).Seconds())
	s.notify.Deliver(events.Event{
		Kind:      events.KindUploadFailed,
		RequestID: job.RequestID,
		Timestamp: s.clock(),
		Extra:     map[string]any{"relpath": job.RelPath, "reason": reason},
	})
}

// markFileUploaded stamps the request-file's uploaded_at under the
// request's usual lock, the same way every other mutation of a request's
// children goes through Store.WithRequestLock.
func (s *Scheduler) markFileUploaded(ctx context.Context, job domain.UploadJob) error {
	return s.store.WithRequestLock(ctx, job.RequestID, func(ctx context.Context, tx store.Tx) error {
		f, err := tx.GetFile(ctx, job.FileID)
		if err != nil {
			return err
		}
		now := s.clock()
		f.UploadedAt = &now
		return tx.UpdateFile(ctx, f)
	})
}

// backoffDelay computes the exponential-with-jitter delay before
// attemptNumber+1, using the same curve shape cenkalti/backoff produces
// for an in-process retry loop — reconstructed here because jobs persist
// across process restarts and the backoff state must be rederivable from
// `attempts` alone, not kept live in an object.
func backoffDelay(attemptNumber int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0.3
	b.MaxInterval = 2 * time.Minute
	var delay time.Duration
	for i := 0; i < attemptNumber; i++ {
		delay = b.NextBackOff()
	}
	if delay <= 0 {
		delay = b.InitialInterval
	}
	return delay
}
