// Package controller implements the Request Controller (spec §4.6): the
// public operations researchers, output-checkers and the system use to
// drive a release request through its lifecycle. Every operation checks
// capability, checks the status precondition, applies its mutation inside
// one store transaction, appends an audit entry and enqueues an event —
// in that order, per spec §4.6's five-step contract.
package controller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/contentstore"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/events"
	"github.com/opensafely-core/airlock/internal/identity"
	"github.com/opensafely-core/airlock/internal/store"
	"github.com/opensafely-core/airlock/internal/workspace"
	"k8s.io/klog/v2"
)

// WorkspaceLookup resolves a workspace name to the read-only view the
// controller uses to snapshot file bytes and hashes when adding/updating
// files.
type WorkspaceLookup interface {
	Get(name string) (*workspace.View, error)
}

// Redriver is the narrow slice of the Upload Scheduler the controller
// calls directly for the user-invoked re-release operation (as opposed to
// the Scheduler's observation of APPROVED transitions via the event
// sink — see spec §4.7's "re-drive" bullet).
type Redriver interface {
	ReDrive(ctx context.Context, requestID string) error
}

// Controller is the Request Controller. It holds no per-request state;
// every operation takes the acting principal and loads what it needs from
// Store within its own transaction.
type Controller struct {
	Store      store.Store
	Identity   *identity.Resolver
	Workspaces WorkspaceLookup
	Contents   *contentstore.Store
	Sink       events.Sink
	Uploads    Redriver
	Clock      func() time.Time
	NewID      func() string
}

// New constructs a Controller with production defaults for Clock and
// NewID.
func New(st store.Store, ws WorkspaceLookup, contents *contentstore.Store, sink events.Sink, uploads Redriver) *Controller {
	if sink == nil {
		sink = events.NopSink
	}
	return &Controller{
		Store:      st,
		Identity:   identity.NewResolver(),
		Workspaces: ws,
		Contents:   contents,
		Sink:       sink,
		Uploads:    uploads,
		Clock:      time.Now,
		NewID:      uuid.NewString,
	}
}

func (c *Controller) emit(e events.Event) {
	e.Timestamp = c.Clock()
	c.Sink.Deliver(e)
}

func (c *Controller) audit(ctx context.Context, tx store.Tx, requestID, actor, kind string, path *string, extras map[string]any) error {
	return tx.AppendAudit(ctx, domain.AuditEntry{
		ID:        c.NewID(),
		RequestID: requestID,
		Actor:     actor,
		Kind:      kind,
		Path:      path,
		Extras:    extras,
		CreatedAt: c.Clock(),
	})
}

// loadRequestForAction fetches the request and resolves the acting
// principal's capabilities against it — the common prelude to every
// operation but create_request.
func (c *Controller) loadRequestForAction(ctx context.Context, tx store.Tx, requestID string, p domain.Principal) (domain.Request, domain.Capabilities, error) {
	req, err := tx.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Request{}, domain.Capabilities{}, err
	}
	caps := c.Identity.Resolve(p, req.Workspace, &req)
	return req, caps, nil
}

func klogOp(op, requestID, actor string) {
	klog.InfoS("controller operation", "op", op, "request", requestID, "actor", actor)
}
