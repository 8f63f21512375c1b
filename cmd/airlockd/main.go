// Command airlockd runs the Airlock API server: the Request Controller and
// Upload Scheduler behind a gin HTTP surface, backed by Postgres.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensafely-core/airlock/internal/config"
	"github.com/opensafely-core/airlock/internal/contentstore"
	"github.com/opensafely-core/airlock/internal/controller"
	"github.com/opensafely-core/airlock/internal/events"
	"github.com/opensafely-core/airlock/internal/httpapi"
	"github.com/opensafely-core/airlock/internal/jobsapi"
	"github.com/opensafely-core/airlock/internal/store/postgres"
	"github.com/opensafely-core/airlock/internal/tracing"
	"github.com/opensafely-core/airlock/internal/upload"
	"github.com/opensafely-core/airlock/internal/workspace"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file (optional; env vars always override)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		klog.ErrorS(err, "failed to load configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tracing.Init(ctx, "airlock", 1.0); err != nil {
		klog.ErrorS(err, "failed to initialize tracing; continuing without spans")
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			klog.ErrorS(err, "failed to shut down tracer")
		}
	}()

	st, err := postgres.Open(ctx, postgres.Config{
		DSN:             cfg.DatabaseDSN,
		MaxOpenConns:    cfg.DatabaseMaxOpen,
		MaxIdleConns:    cfg.DatabaseMaxIdle,
		ConnMaxLifetime: cfg.DatabaseLifetime,
	})
	if err != nil {
		klog.ErrorS(err, "failed to open database")
		os.Exit(1)
	}
	defer st.Close()

	contents, err := contentstore.New(cfg.ContentStoreRoot)
	if err != nil {
		klog.ErrorS(err, "failed to open content store")
		os.Exit(1)
	}

	workspaces := workspace.DirLookup{Root: cfg.WorkspaceRoot}

	client := jobsapi.New(jobsapi.Config{
		Endpoint:       cfg.JobsAPIEndpoint,
		Token:          cfg.JobsAPIToken,
		RequestTimeout: cfg.JobsAPIRequestTimeout,
		RateLimit:      rate.Limit(cfg.JobsAPIRateLimit),
		Burst:          cfg.JobsAPIBurst,
	})

	// The controller needs a Redriver at construction, but only the
	// Scheduler (constructed from the controller) satisfies it — build the
	// controller first with no uploader, then attach the scheduler once it
	// exists.
	ctrl := controller.New(st, workspaces, contents, events.NopSink, nil)

	sched := upload.New(st, ctrl, contents, client, events.NopSink, upload.Options{
		MaxInFlight:     cfg.UploadMaxInFlight,
		MaxAttempts:     cfg.UploadMaxAttempts,
		AttemptTimeout:  cfg.UploadAttemptTimeout,
		JobDeadline:     cfg.UploadJobDeadline,
		ResumeSweepCron: cfg.UploadResumeCron,
	})
	ctrl.Uploads = sched
	ctrl.Sink = sched

	if err := sched.Start(ctx); err != nil {
		klog.ErrorS(err, "failed to start upload scheduler")
		os.Exit(1)
	}
	defer sched.Stop()

	router := httpapi.NewRouter(ctrl, st)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	adminSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: httpapi.NewAdminRouter(),
	}

	go func() {
		klog.InfoS("airlock listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.ErrorS(err, "http server failed")
		}
	}()
	go func() {
		klog.InfoS("airlock admin listening", "addr", cfg.MetricsAddr)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.ErrorS(err, "admin server failed")
		}
	}()

	<-ctx.Done()
	klog.InfoS("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		klog.ErrorS(err, "error during HTTP shutdown")
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		klog.ErrorS(err, "error during admin HTTP shutdown")
	}
}
