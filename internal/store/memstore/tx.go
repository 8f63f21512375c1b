package memstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/store"
)

// memTx buffers nothing: because the whole Store is already protected by
// the per-request mutex for the duration of the closure, each Tx method
// writes straight through to the backing maps and the transaction
// "commits" by construction once fn returns nil. Writes made before fn
// returns an error are not rolled back; only the outbox is dropped. A real Postgres
// implementation instead buffers inside a *sql.Tx and commits on success —
// this in-memory version exists to exercise the same Tx contract for
// tests, not to model the durability story.
type memTx struct {
	s      *Store
	outbox []store.Outbox
}

func (t *memTx) lockedStore() *Store { return t.s }

func (t *memTx) InsertRequest(ctx context.Context, r domain.Request) error {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.ID] = r
	return nil
}

func (t *memTx) UpdateRequestStatus(ctx context.Context, requestID string, status domain.Status, reviewTurn int) error {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return apierror.NewNotFound("request", requestID)
	}
	r.Status = status
	r.ReviewTurn = reviewTurn
	r.UpdatedAt = s.clock()
	s.requests[requestID] = r
	return nil
}

func (t *memTx) UpsertGroup(ctx context.Context, g domain.Group) (domain.Group, error) {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.groups {
		if existing.RequestID == g.RequestID && existing.Name == g.Name {
			return existing, nil
		}
	}
	if g.ID == "" {
		g.ID = newID()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.clock()
	}
	s.groups[g.ID] = g
	return g, nil
}

func (t *memTx) UpdateGroup(ctx context.Context, g domain.Group) error {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.ID]; !ok {
		return apierror.NewNotFound("group", g.ID)
	}
	s.groups[g.ID] = g
	return nil
}

func (t *memTx) InsertFile(ctx context.Context, f domain.File) error {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == "" {
		f.ID = newID()
	}
	s.files[f.ID] = f
	return nil
}

func (t *memTx) UpdateFile(ctx context.Context, f domain.File) error {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[f.ID]; !ok {
		return apierror.NewNotFound("file", f.ID)
	}
	s.files[f.ID] = f
	return nil
}

func (t *memTx) DeleteFile(ctx context.Context, id string) error {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, id)
	for vid, v := range s.votes {
		if v.FileID == id {
			delete(s.votes, vid)
		}
	}
	return nil
}

func (t *memTx) UpsertVote(ctx context.Context, v domain.Vote) error {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.votes {
		if existing.FileID == v.FileID && existing.Reviewer == v.Reviewer && existing.ReviewTurn == v.ReviewTurn {
			v.ID = id
			s.votes[id] = v
			return nil
		}
	}
	if v.ID == "" {
		v.ID = newID()
	}
	s.votes[v.ID] = v
	return nil
}

func (t *memTx) DeleteVotesForFile(ctx context.Context, fileID string) error {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range s.votes {
		if v.FileID == fileID {
			delete(s.votes, id)
		}
	}
	return nil
}

func (t *memTx) InsertComment(ctx context.Context, c domain.Comment) error {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = newID()
	}
	s.comments[c.ID] = c
	return nil
}

func (t *memTx) UpdateComment(ctx context.Context, c domain.Comment) error {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[c.ID]; !ok {
		return apierror.NewNotFound("comment", c.ID)
	}
	s.comments[c.ID] = c
	return nil
}

func (t *memTx) DeleteComment(ctx context.Context, id string) error {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.comments, id)
	return nil
}

func (t *memTx) InsertReviewSubmission(ctx context.Context, rs domain.ReviewSubmission) error {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.reviewSubmissions {
		if existing.RequestID == rs.RequestID && existing.Reviewer == rs.Reviewer && existing.ReviewTurn == rs.ReviewTurn {
			return nil
		}
	}
	if rs.ID == "" {
		rs.ID = newID()
	}
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = s.clock()
	}
	s.reviewSubmissions[rs.ID] = rs
	return nil
}

func (t *memTx) ListReviewSubmissions(ctx context.Context, requestID string, turn int) ([]domain.ReviewSubmission, error) {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listReviewSubmissionsLocked(requestID, turn), nil
}

func (t *memTx) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock()
	}
	s.audit = append(s.audit, e)
	return nil
}

func (t *memTx) Enqueue(event store.Outbox) {
	t.outbox = append(t.outbox, event)
}

func (t *memTx) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return t.s.GetRequest(ctx, id)
}

func (t *memTx) GetFile(ctx context.Context, id string) (domain.File, error) {
	return t.s.GetFile(ctx, id)
}

func (t *memTx) ListGroups(ctx context.Context, requestID string) ([]domain.Group, error) {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listGroupsLocked(requestID), nil
}

func (t *memTx) ListFiles(ctx context.Context, requestID string) ([]domain.File, error) {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listFilesLocked(requestID), nil
}

func (t *memTx) ListVotes(ctx context.Context, requestID string, turn int) ([]domain.Vote, error) {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listVotesLocked(requestID, turn), nil
}

func (t *memTx) ListComments(ctx context.Context, requestID string, turn int) ([]domain.Comment, error) {
	s := t.lockedStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCommentsLocked(requestID, turn), nil
}

// commit delivers every enqueued event to the store's Sink, once fn has
// returned successfully — the in-memory analogue of "the transaction
// committed, now deliver the outbox".
func (t *memTx) commit() {
	if t.s.Sink == nil {
		return
	}
	for _, e := range t.outbox {
		t.s.Sink(e)
	}
}

func newID() string {
	return uuid.NewString()
}
