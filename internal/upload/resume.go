package upload

import (
	"context"

	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"
)

// Start launches the periodic resume sweep on the configured cron schedule
// and returns once the cron scheduler is running. The sweep is the
// crash-safety mechanism of spec §4.7: any job left PENDING is picked up
// again here; a job left RUNNING because the process died mid-attempt is
// not reset and stays RUNNING. It uses the same "skip if still running" pattern a scheduled job runner uses to
// avoid piling up overlapping sweeps when one run takes longer than the
// interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := s.cron.AddFunc(s.opts.ResumeSweepCron, func() {
		s.resweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	// Run one sweep immediately so a freshly started process does not wait
	// a full interval before resuming jobs orphaned by the last process.
	s.resweep(ctx)
	return nil
}

// Stop halts the cron scheduler and waits for any in-flight sweep to
// finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// resweep logs how many PENDING jobs are due, then calls dispatch to pick
// them up. It does not touch jobs in RUNNING status.
func (s *Scheduler) resweep(ctx context.Context) {
	jobs, err := s.store.ListPendingUploadJobs(ctx, s.clock(), 0)
	if err != nil {
		klog.ErrorS(err, "resume sweep failed to list pending jobs")
	}
	klog.InfoS("upload resume sweep", "due", len(jobs))
	s.dispatch()
}
