package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/store"
)

// pgTx is the Postgres Tx: every write runs against the same *sql.Tx the
// request-row lock was acquired on, so it commits or rolls back with it.
// Enqueued events are buffered and handed to notify only after Store has
// confirmed the commit succeeded.
type pgTx struct {
	sqlTx  *sql.Tx
	clock  func() time.Time
	outbox []store.Outbox
	notify func(store.Outbox)
}

func (t *pgTx) Enqueue(e store.Outbox) { t.outbox = append(t.outbox, e) }

func (t *pgTx) deliver() {
	if t.notify == nil {
		return
	}
	for _, e := range t.outbox {
		t.notify(e)
	}
}

func (t *pgTx) InsertRequest(ctx context.Context, r domain.Request) error {
	query, args, err := psql.Insert("requests").
		Columns("id", "workspace", "author", "status", "review_turn", "created_at", "updated_at", "release_url").
		Values(r.ID, r.Workspace, r.Author, string(r.Status), r.ReviewTurn, r.CreatedAt, r.UpdatedAt, r.ReleaseURL).
		ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	_, err = t.sqlTx.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

func (t *pgTx) UpdateRequestStatus(ctx context.Context, requestID string, status domain.Status, reviewTurn int) error {
	query, args, err := psql.Update("requests").
		Set("status", string(status)).Set("review_turn", reviewTurn).Set("updated_at", t.clock()).
		Where(sq.Eq{"id": requestID}).ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	res, err := t.sqlTx.ExecContext(ctx, query, args...)
	if err != nil {
		return apierror.NewInternal(err)
	}
	return requireRowsAffected(res, "request", requestID)
}

func (t *pgTx) UpsertGroup(ctx context.Context, g domain.Group) (domain.Group, error) {
	query, args, err := psql.Select("id", "request_id", "name", "context", "controls", "created_at").
		From("groups").Where(sq.Eq{"request_id": g.RequestID, "name": g.Name}).ToSql()
	if err != nil {
		return domain.Group{}, apierror.NewInternal(err)
	}
	var existing domain.Group
	row := t.sqlTx.QueryRowContext(ctx, query, args...)
	switch err := row.Scan(&existing.ID, &existing.RequestID, &existing.Name, &existing.Context, &existing.Controls, &existing.CreatedAt); err {
	case nil:
		return existing, nil
	case sql.ErrNoRows:
		// fall through to insert
	default:
		return domain.Group{}, apierror.NewInternal(err)
	}

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = t.clock()
	}
	insQuery, insArgs, err := psql.Insert("groups").
		Columns("id", "request_id", "name", "context", "controls", "created_at").
		Values(g.ID, g.RequestID, g.Name, g.Context, g.Controls, g.CreatedAt).ToSql()
	if err != nil {
		return domain.Group{}, apierror.NewInternal(err)
	}
	if _, err := t.sqlTx.ExecContext(ctx, insQuery, insArgs...); err != nil {
		return domain.Group{}, apierror.NewInternal(err)
	}
	return g, nil
}

func (t *pgTx) UpdateGroup(ctx context.Context, g domain.Group) error {
	query, args, err := psql.Update("groups").
		Set("context", g.Context).Set("controls", g.Controls).
		Where(sq.Eq{"id": g.ID}).ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	res, err := t.sqlTx.ExecContext(ctx, query, args...)
	if err != nil {
		return apierror.NewInternal(err)
	}
	return requireRowsAffected(res, "group", g.ID)
}

func (t *pgTx) InsertFile(ctx context.Context, f domain.File) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	query, args, err := psql.Insert("files").
		Columns("id", "request_id", "group_id", "relpath", "filetype", "content_hash", "size",
			"added_at", "added_by", "added_in_turn", "withdrawn_at", "withdrawn_in_turn", "uploaded_at").
		Values(f.ID, f.RequestID, f.GroupID, f.RelPath, string(f.FileType), f.ContentHash, f.Size,
			f.AddedAt, f.AddedBy, f.AddedInTurn, f.WithdrawnAt, f.WithdrawnInTurn, f.UploadedAt).ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	_, err = t.sqlTx.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

func (t *pgTx) UpdateFile(ctx context.Context, f domain.File) error {
	query, args, err := psql.Update("files").
		Set("group_id", f.GroupID).
		Set("filetype", string(f.FileType)).
		Set("content_hash", f.ContentHash).
		Set("size", f.Size).
		Set("withdrawn_at", f.WithdrawnAt).
		Set("withdrawn_in_turn", f.WithdrawnInTurn).
		Set("uploaded_at", f.UploadedAt).
		Where(sq.Eq{"id": f.ID}).ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	res, err := t.sqlTx.ExecContext(ctx, query, args...)
	if err != nil {
		return apierror.NewInternal(err)
	}
	return requireRowsAffected(res, "file", f.ID)
}

func (t *pgTx) DeleteFile(ctx context.Context, id string) error {
	query, args, err := psql.Delete("files").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	_, err = t.sqlTx.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

func (t *pgTx) UpsertVote(ctx context.Context, v domain.Vote) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	query, args, err := psql.Insert("votes").
		Columns("id", "file_id", "reviewer", "choice", "review_turn", "created_at").
		Values(v.ID, v.FileID, v.Reviewer, string(v.Choice), v.ReviewTurn, v.CreatedAt).
		Suffix("ON CONFLICT (file_id, reviewer, review_turn) DO UPDATE SET choice = EXCLUDED.choice, created_at = EXCLUDED.created_at").
		ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	_, err = t.sqlTx.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

func (t *pgTx) DeleteVotesForFile(ctx context.Context, fileID string) error {
	query, args, err := psql.Delete("votes").Where(sq.Eq{"file_id": fileID}).ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	_, err = t.sqlTx.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

func (t *pgTx) InsertComment(ctx context.Context, c domain.Comment) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	query, args, err := psql.Insert("comments").
		Columns("id", "group_id", "author", "text", "visibility", "review_turn", "created_at").
		Values(c.ID, c.GroupID, c.Author, c.Text, string(c.Visibility), c.ReviewTurn, c.CreatedAt).ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	_, err = t.sqlTx.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

func (t *pgTx) UpdateComment(ctx context.Context, c domain.Comment) error {
	query, args, err := psql.Update("comments").Set("visibility", string(c.Visibility)).
		Where(sq.Eq{"id": c.ID}).ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	res, err := t.sqlTx.ExecContext(ctx, query, args...)
	if err != nil {
		return apierror.NewInternal(err)
	}
	return requireRowsAffected(res, "comment", c.ID)
}

func (t *pgTx) DeleteComment(ctx context.Context, id string) error {
	query, args, err := psql.Delete("comments").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	_, err = t.sqlTx.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

func (t *pgTx) InsertReviewSubmission(ctx context.Context, rs domain.ReviewSubmission) error {
	if rs.ID == "" {
		rs.ID = uuid.NewString()
	}
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = t.clock()
	}
	query, args, err := psql.Insert("review_submissions").
		Columns("id", "request_id", "reviewer", "review_turn", "created_at").
		Values(rs.ID, rs.RequestID, rs.Reviewer, rs.ReviewTurn, rs.CreatedAt).
		Suffix("ON CONFLICT (request_id, reviewer, review_turn) DO NOTHING").ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	_, err = t.sqlTx.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

func (t *pgTx) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.clock()
	}
	var extrasRaw []byte
	if len(e.Extras) > 0 {
		var err error
		extrasRaw, err = json.Marshal(e.Extras)
		if err != nil {
			return apierror.NewInternal(err)
		}
	}
	query, args, err := psql.Insert("audit_log").
		Columns("id", "request_id", "actor", "kind", "path", "extras", "created_at").
		Values(e.ID, e.RequestID, e.Actor, e.Kind, e.Path, extrasRaw, e.CreatedAt).ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	_, err = t.sqlTx.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

func (t *pgTx) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return getRequest(ctx, t.sqlTx, id)
}

func (t *pgTx) GetFile(ctx context.Context, id string) (domain.File, error) {
	query, args, err := psql.Select("id", "request_id", "group_id", "relpath", "filetype", "content_hash", "size",
		"added_at", "added_by", "added_in_turn", "withdrawn_at", "withdrawn_in_turn", "uploaded_at").
		From("files").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.File{}, apierror.NewInternal(err)
	}
	return scanFile(t.sqlTx.QueryRowContext(ctx, query, args...))
}

func (t *pgTx) ListGroups(ctx context.Context, requestID string) ([]domain.Group, error) {
	return listGroups(ctx, t.sqlTx, requestID)
}

func (t *pgTx) ListFiles(ctx context.Context, requestID string) ([]domain.File, error) {
	return listFiles(ctx, t.sqlTx, requestID)
}

func (t *pgTx) ListVotes(ctx context.Context, requestID string, turn int) ([]domain.Vote, error) {
	query, args, err := psql.Select("v.id", "v.file_id", "v.reviewer", "v.choice", "v.review_turn", "v.created_at").
		From("votes v").Join("files f ON f.id = v.file_id").
		Where(sq.Eq{"f.request_id": requestID, "v.review_turn": turn}).
		OrderBy("v.created_at ASC").ToSql()
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	rows, err := t.sqlTx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	defer rows.Close()
	var out []domain.Vote
	for rows.Next() {
		var v domain.Vote
		if err := rows.Scan(&v.ID, &v.FileID, &v.Reviewer, &v.Choice, &v.ReviewTurn, &v.CreatedAt); err != nil {
			return nil, apierror.NewInternal(err)
		}
		out = append(out, v)
	}
	return out, wrapErr(rows.Err())
}

func (t *pgTx) ListComments(ctx context.Context, requestID string, turn int) ([]domain.Comment, error) {
	query, args, err := psql.Select("c.id", "c.group_id", "c.author", "c.text", "c.visibility", "c.review_turn", "c.created_at").
		From("comments c").Join("groups g ON g.id = c.group_id").
		Where(sq.Eq{"g.request_id": requestID, "c.review_turn": turn}).
		OrderBy("c.created_at ASC").ToSql()
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	rows, err := t.sqlTx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	defer rows.Close()
	var out []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.GroupID, &c.Author, &c.Text, &c.Visibility, &c.ReviewTurn, &c.CreatedAt); err != nil {
			return nil, apierror.NewInternal(err)
		}
		out = append(out, c)
	}
	return out, wrapErr(rows.Err())
}

func (t *pgTx) ListReviewSubmissions(ctx context.Context, requestID string, turn int) ([]domain.ReviewSubmission, error) {
	return listReviewSubmissions(ctx, t.sqlTx, requestID, turn)
}
