// Package store defines the Request Store: persistence for every entity in
// spec §3, with the uniqueness invariants (U1, F1) enforced at the
// transaction boundary described in spec §4.3 and §5 — a request's
// mutations are strictly serialized by a per-request lock equivalent to
// `SELECT ... FOR UPDATE` on the request row.
package store

import (
	"context"
	"time"

	"github.com/opensafely-core/airlock/internal/domain"
)

// RequestFilter narrows a listing query. Zero values mean "no filter on this
// field".
type RequestFilter struct {
	Workspace string
	Author    string
	Statuses  []domain.Status
}

// AuditFilter narrows an audit log query.
type AuditFilter struct {
	RequestID string
	Actor     string
	Kind      string
	Limit     int
	Offset    int
}

// Store is the full persistence surface the Request Controller and Upload
// Scheduler depend on. A single Store value is safe for concurrent use by
// multiple goroutines; per-request serialization is internal to the
// implementation (a row lock in the Postgres implementation).
type Store interface {
	// WithRequestLock runs fn with request requestID locked for the
	// duration of a single transaction: every write inside fn, plus the
	// audit entries and events enqueued via the Tx it receives, commit or
	// roll back atomically (spec §4.3). Concurrent callers targeting the
	// same requestID serialize: a later caller waits for the lock until
	// the earlier caller's transaction ends.
	WithRequestLock(ctx context.Context, requestID string, fn func(ctx context.Context, tx Tx) error) error

	// WithNewRequestLock is WithRequestLock for the create path, where no
	// request row yet exists to lock; it instead serializes on
	// (workspace, author) to enforce invariant U1.
	WithNewRequestLock(ctx context.Context, workspace, author string, fn func(ctx context.Context, tx Tx) error) error

	GetRequest(ctx context.Context, id string) (domain.Request, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]domain.Request, error)
	// SetRequestReleaseURL records the release URL the Upload Scheduler
	// registered for this request. It is a direct Store write, not a Tx
	// method, because it is not a Request Controller operation: no audit
	// entry or event accompanies it.
	SetRequestReleaseURL(ctx context.Context, requestID, releaseURL string) error
	ListGroups(ctx context.Context, requestID string) ([]domain.Group, error)
	ListFiles(ctx context.Context, requestID string) ([]domain.File, error)
	ListVotes(ctx context.Context, requestID string, turn int) ([]domain.Vote, error)
	ListComments(ctx context.Context, requestID string, turn int) ([]domain.Comment, error)
	GetFile(ctx context.Context, id string) (domain.File, error)
	GetComment(ctx context.Context, id string) (domain.Comment, error)
	ListAuditLog(ctx context.Context, f AuditFilter) ([]domain.AuditEntry, error)
	ListReviewSubmissions(ctx context.Context, requestID string, turn int) ([]domain.ReviewSubmission, error)

	ListUploadJobs(ctx context.Context, requestID string) ([]domain.UploadJob, error)
	ListPendingUploadJobs(ctx context.Context, now time.Time, limit int) ([]domain.UploadJob, error)
	GetUploadJob(ctx context.Context, id string) (domain.UploadJob, error)
	UpdateUploadJob(ctx context.Context, job domain.UploadJob) error
	InsertUploadJobs(ctx context.Context, jobs []domain.UploadJob) error
}

// Tx is the write surface available inside a locked transaction. Every
// method appends no audit entry and emits no event itself — the caller
// (the Request Controller, or the Upload Scheduler) does that explicitly via
// Tx.AppendAudit/Tx.Enqueue so that the ledger records the operation name,
// not the row-level mutation.
type Tx interface {
	InsertRequest(ctx context.Context, r domain.Request) error
	UpdateRequestStatus(ctx context.Context, requestID string, status domain.Status, reviewTurn int) error

	UpsertGroup(ctx context.Context, g domain.Group) (domain.Group, error)
	UpdateGroup(ctx context.Context, g domain.Group) error

	InsertFile(ctx context.Context, f domain.File) error
	UpdateFile(ctx context.Context, f domain.File) error
	DeleteFile(ctx context.Context, id string) error

	UpsertVote(ctx context.Context, v domain.Vote) error
	DeleteVotesForFile(ctx context.Context, fileID string) error

	InsertComment(ctx context.Context, c domain.Comment) error
	UpdateComment(ctx context.Context, c domain.Comment) error
	DeleteComment(ctx context.Context, id string) error

	// InsertReviewSubmission records reviewer's submission for the turn.
	// It is a no-op (not an error) if that reviewer already submitted for
	// this turn, per the idempotence of submit_review.
	InsertReviewSubmission(ctx context.Context, rs domain.ReviewSubmission) error

	AppendAudit(ctx context.Context, e domain.AuditEntry) error
	Enqueue(event Outbox)

	// Snapshot re-reads within the same transaction, for gate evaluation
	// that needs a consistent view of the request it is about to mutate.
	GetRequest(ctx context.Context, id string) (domain.Request, error)
	GetFile(ctx context.Context, id string) (domain.File, error)
	ListGroups(ctx context.Context, requestID string) ([]domain.Group, error)
	ListFiles(ctx context.Context, requestID string) ([]domain.File, error)
	ListVotes(ctx context.Context, requestID string, turn int) ([]domain.Vote, error)
	ListComments(ctx context.Context, requestID string, turn int) ([]domain.Comment, error)
	ListReviewSubmissions(ctx context.Context, requestID string, turn int) ([]domain.ReviewSubmission, error)
}

// Outbox is a not-yet-delivered event, queued transactionally alongside
// the store mutation that produced it (spec §4.3: "failure rolls back all
// three" — store, audit, events).
type Outbox struct {
	Kind string
	Data any
}
