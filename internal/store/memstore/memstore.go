// Package memstore is an in-memory Store implementation: the reference
// behavior for store.Store, used by the controller's unit tests and
// available as a non-production runtime backend. Locking is a single
// sync.Mutex guarding the whole map set plus one lock-per-request-id to
// serialize concurrent operations on the same request, mirroring the
// "at most one logical row-range lock" contract of spec §5.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/store"
)

// Store is an in-memory, concurrency-safe implementation of store.Store.
type Store struct {
	mu sync.Mutex

	requests          map[string]domain.Request
	groups            map[string]domain.Group
	files             map[string]domain.File
	votes             map[string]domain.Vote
	comments          map[string]domain.Comment
	reviewSubmissions map[string]domain.ReviewSubmission
	audit             []domain.AuditEntry
	jobs              map[string]domain.UploadJob

	requestLocks map[string]*sync.Mutex

	// Sink receives every Outbox event enqueued by a committed
	// transaction. It must not block; memstore calls it synchronously
	// after a successful commit, which is adequate for tests and for the
	// single-process default runtime.
	Sink func(store.Outbox)

	clock func() time.Time
}

// New returns an empty Store. clock defaults to time.Now; tests may
// override it for deterministic timestamps.
func New() *Store {
	return &Store{
		requests:          map[string]domain.Request{},
		groups:            map[string]domain.Group{},
		files:             map[string]domain.File{},
		votes:             map[string]domain.Vote{},
		comments:          map[string]domain.Comment{},
		reviewSubmissions: map[string]domain.ReviewSubmission{},
		jobs:              map[string]domain.UploadJob{},
		requestLocks:      map[string]*sync.Mutex{},
		clock:             time.Now,
	}
}

func (s *Store) requestLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.requestLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.requestLocks[id] = l
	}
	return l
}

// WithRequestLock implements store.Store.
func (s *Store) WithRequestLock(ctx context.Context, requestID string, fn func(ctx context.Context, tx store.Tx) error) error {
	lock := s.requestLock(requestID)
	lock.Lock()
	defer lock.Unlock()

	tx := &memTx{s: s, outbox: nil}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// WithNewRequestLock implements store.Store, serializing on (workspace,
// author) since no request row exists yet to lock directly.
func (s *Store) WithNewRequestLock(ctx context.Context, workspace, author string, fn func(ctx context.Context, tx store.Tx) error) error {
	lock := s.requestLock("new:" + workspace + ":" + author)
	lock.Lock()
	defer lock.Unlock()

	tx := &memTx{s: s, outbox: nil}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return domain.Request{}, apierror.NewNotFound("request", id)
	}
	return r, nil
}

func (s *Store) ListRequests(ctx context.Context, f store.RequestFilter) ([]domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Request
	for _, r := range s.requests {
		if f.Workspace != "" && r.Workspace != f.Workspace {
			continue
		}
		if f.Author != "" && r.Author != f.Author {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetRequestReleaseURL(ctx context.Context, requestID, releaseURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return apierror.NewNotFound("request", requestID)
	}
	r.ReleaseURL = releaseURL
	s.requests[requestID] = r
	return nil
}

func containsStatus(ss []domain.Status, s domain.Status) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func (s *Store) ListGroups(ctx context.Context, requestID string) ([]domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listGroupsLocked(requestID), nil
}

func (s *Store) listGroupsLocked(requestID string) []domain.Group {
	var out []domain.Group
	for _, g := range s.groups {
		if g.RequestID == requestID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) ListFiles(ctx context.Context, requestID string) ([]domain.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listFilesLocked(requestID), nil
}

func (s *Store) listFilesLocked(requestID string) []domain.File {
	var out []domain.File
	for _, f := range s.files {
		if f.RequestID == requestID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out
}

func (s *Store) ListVotes(ctx context.Context, requestID string, turn int) ([]domain.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listVotesLocked(requestID, turn), nil
}

func (s *Store) listVotesLocked(requestID string, turn int) []domain.Vote {
	fileIDs := map[string]bool{}
	for _, f := range s.files {
		if f.RequestID == requestID {
			fileIDs[f.ID] = true
		}
	}
	var out []domain.Vote
	for _, v := range s.votes {
		if v.ReviewTurn == turn && fileIDs[v.FileID] {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) ListComments(ctx context.Context, requestID string, turn int) ([]domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCommentsLocked(requestID, turn), nil
}

func (s *Store) listCommentsLocked(requestID string, turn int) []domain.Comment {
	groupIDs := map[string]bool{}
	for _, g := range s.groups {
		if g.RequestID == requestID {
			groupIDs[g.ID] = true
		}
	}
	var out []domain.Comment
	for _, c := range s.comments {
		if c.ReviewTurn == turn && groupIDs[c.GroupID] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) GetFile(ctx context.Context, id string) (domain.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return domain.File{}, apierror.NewNotFound("file", id)
	}
	return f, nil
}

func (s *Store) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return domain.Comment{}, apierror.NewNotFound("comment", id)
	}
	return c, nil
}

func (s *Store) ListAuditLog(ctx context.Context, f store.AuditFilter) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range s.audit {
		if f.RequestID != "" && e.RequestID != f.RequestID {
			continue
		}
		if f.Actor != "" && e.Actor != f.Actor {
			continue
		}
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Offset > 0 && f.Offset < len(out) {
		out = out[f.Offset:]
	} else if f.Offset >= len(out) {
		out = nil
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ListReviewSubmissions(ctx context.Context, requestID string, turn int) ([]domain.ReviewSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listReviewSubmissionsLocked(requestID, turn), nil
}

func (s *Store) listReviewSubmissionsLocked(requestID string, turn int) []domain.ReviewSubmission {
	var out []domain.ReviewSubmission
	for _, rs := range s.reviewSubmissions {
		if rs.RequestID == requestID && rs.ReviewTurn == turn {
			out = append(out, rs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) ListUploadJobs(ctx context.Context, requestID string) ([]domain.UploadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.UploadJob
	for _, j := range s.jobs {
		if j.RequestID == requestID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListPendingUploadJobs(ctx context.Context, now time.Time, limit int) ([]domain.UploadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.UploadJob
	for _, j := range s.jobs {
		if j.Status == domain.UploadJobPending && !j.NextAttemptAt.After(now) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetUploadJob(ctx context.Context, id string) (domain.UploadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.UploadJob{}, apierror.NewNotFound("upload_job", id)
	}
	return j, nil
}

func (s *Store) UpdateUploadJob(ctx context.Context, job domain.UploadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.UpdatedAt = s.clock()
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) InsertUploadJobs(ctx context.Context, jobs []domain.UploadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	for _, j := range jobs {
		if j.ID == "" {
			j.ID = uuid.NewString()
		}
		j.CreatedAt, j.UpdatedAt = now, now
		s.jobs[j.ID] = j
	}
	return nil
}
