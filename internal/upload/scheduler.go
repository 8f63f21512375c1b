// Package upload is the Upload Scheduler (spec §4.7): on a request's entry
// to APPROVED it registers a release with the external Jobs site, schedules
// one job per output file, and drives each to success or permanent failure
// with bounded concurrency and retry. It observes the controller's event
// stream as an events.Sink and exposes the narrow controller.Redriver
// surface for the user-invoked re-release operation.
package upload

import (
	"context"
	"time"

	"github.com/opensafely-core/airlock/internal/contentstore"
	"github.com/opensafely-core/airlock/internal/controller"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/events"
	"github.com/opensafely-core/airlock/internal/jobsapi"
	"github.com/opensafely-core/airlock/internal/metrics"
	"github.com/opensafely-core/airlock/internal/store"
	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"
)

// Options configures a Scheduler, with the spec §6 defaults.
type Options struct {
	MaxInFlight    int
	MaxAttempts    int
	AttemptTimeout time.Duration
	JobDeadline    time.Duration
	// ResumeSweepCron is the cron schedule on which the scheduler re-scans
	// for pending jobs — crash-safety for jobs whose in-process dispatch
	// was lost (spec §4.7's "on startup the scheduler resumes all pending
	// jobs").
	ResumeSweepCron string
}

func (o Options) withDefaults() Options {
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 30 * time.Second
	}
	if o.JobDeadline <= 0 {
		o.JobDeadline = time.Hour
	}
	if o.ResumeSweepCron == "" {
		o.ResumeSweepCron = "@every 1m"
	}
	return o
}

// Scheduler is the Upload Scheduler. It implements events.Sink (to observe
// `approved` transitions) and controller.Redriver (for re-release).
type Scheduler struct {
	store    store.Store
	ctrl     *controller.Controller
	contents *contentstore.Store
	client   *jobsapi.Client
	notify   events.Sink

	opts Options
	sem  chan struct{}
	cron *cron.Cron

	clock func() time.Time
}

// New constructs a Scheduler. notify receives `upload_failed` — every
// other event the scheduler's own actions produce flows through ctrl,
// which already owns the controller.Sink wiring.
func New(st store.Store, ctrl *controller.Controller, contents *contentstore.Store, client *jobsapi.Client, notify events.Sink, opts Options) *Scheduler {
	opts = opts.withDefaults()
	if notify == nil {
		notify = events.NopSink
	}
	return &Scheduler{
		store:    st,
		ctrl:     ctrl,
		contents: contents,
		client:   client,
		notify:   notify,
		opts:     opts,
		sem:      make(chan struct{}, opts.MaxInFlight),
		clock:    time.Now,
	}
}

// Deliver implements events.Sink: the scheduler reacts only to `approved`.
func (s *Scheduler) Deliver(e events.Event) {
	if e.Kind != events.KindApproved {
		return
	}
	go func() {
		if err := s.onApproved(context.Background(), e.RequestID); err != nil {
			klog.ErrorS(err, "failed to schedule uploads", "request", e.RequestID)
		}
	}()
}

// ReDrive implements controller.Redriver: re-enqueues FAILED jobs for
// requestID with attempts reset, then kicks dispatch immediately.
func (s *Scheduler) ReDrive(ctx context.Context, requestID string) error {
	jobs, err := s.store.ListUploadJobs(ctx, requestID)
	if err != nil {
		return err
	}
	now := s.clock()
	for _, j := range jobs {
		if j.Status != domain.UploadJobFailed {
			continue
		}
		j.Status = domain.UploadJobPending
		j.Attempts = 0
		j.LastError = ""
		j.NextAttemptAt = now
		j.DeadlineAt = now.Add(s.opts.JobDeadline)
		if err := s.store.UpdateUploadJob(ctx, j); err != nil {
			return err
		}
	}
	s.dispatch()
	return nil
}

// onApproved registers a release (if one is not already registered for
// this request) and schedules a job for every non-withdrawn output file
// that has not yet uploaded.
func (s *Scheduler) onApproved(ctx context.Context, requestID string) error {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	files, err := s.store.ListFiles(ctx, requestID)
	if err != nil {
		return err
	}
	var pending []domain.File
	for _, f := range files {
		if !f.Withdrawn() && f.FileType == domain.FileTypeOutput && f.UploadedAt == nil {
			pending = append(pending, f)
		}
	}
	if len(pending) == 0 {
		return s.ctrl.MarkReleased(ctx, requestID)
	}

	if req.ReleaseURL == "" {
		releaseFiles := make([]jobsapi.ReleaseFile, 0, len(pending))
		for _, f := range pending {
			releaseFiles = append(releaseFiles, jobsapi.ReleaseFile{
				Name:       f.RelPath,
				Size:       f.Size,
				SHA256:     f.ContentHash,
				FileType:   string(f.FileType),
				ReleasedBy: req.Author,
			})
		}
		_, url, err := s.client.CreateRelease(ctx, req.Workspace, releaseFiles)
		if err != nil {
			return err
		}
		if err := s.store.SetRequestReleaseURL(ctx, requestID, url); err != nil {
			return err
		}
	}

	now := s.clock()
	jobs := make([]domain.UploadJob, 0, len(pending))
	for _, f := range pending {
		jobs = append(jobs, domain.UploadJob{
			RequestID:     requestID,
			FileID:        f.ID,
			RelPath:       f.RelPath,
			ContentHash:   f.ContentHash,
			Status:        domain.UploadJobPending,
			NextAttemptAt: now,
			DeadlineAt:    now.Add(s.opts.JobDeadline),
		})
	}
	if err := s.store.InsertUploadJobs(ctx, jobs); err != nil {
		return err
	}
	s.dispatch()
	return nil
}

// dispatch pulls due jobs and attempts each on its own goroutine, bounded
// by the MaxInFlight semaphore shared across every request.
func (s *Scheduler) dispatch() {
	ctx := context.Background()
	jobs, err := s.store.ListPendingUploadJobs(ctx, s.clock(), s.opts.MaxInFlight*4)
	if err != nil {
		klog.ErrorS(err, "failed to list pending upload jobs")
		return
	}
	for _, job := range jobs {
		job := job
		select {
		case s.sem <- struct{}{}:
		default:
			return // in-flight cap reached; the next sweep picks up the rest
		}
		metrics.UploadJobsInFlight.Set(float64(len(s.sem)))
		go func() {
			defer func() {
				<-s.sem
				metrics.UploadJobsInFlight.Set(float64(len(s.sem)))
			}()
			s.attempt(ctx, job)
		}()
	}
}
