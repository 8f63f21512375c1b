// Package postgres is the production store.Store implementation: every
// query is built with Masterminds/squirrel's dollar-placeholder builder and
// run through database/sql with github.com/lib/pq as the driver, following
// the same squirrel-as-filter-builder convention the teacher's dbclient
// layer uses (see SaFE/apiserver/pkg/handlers/authority/sso_token.go's
// sqrl.And/sqrl.Eq predicates feeding a typed Select call). A request's
// mutations serialize on `SELECT ... FOR UPDATE` against its row, the
// direct Postgres analogue of spec §5's "at most one logical row-range
// lock"; WithNewRequestLock instead takes a session advisory lock keyed on
// (workspace, author) since no request row exists yet to hold.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/store"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store is a Postgres-backed store.Store.
type Store struct {
	db    *sql.DB
	clock func() time.Time
	// Notify receives every Outbox event enqueued by a committed
	// transaction. Unlike memstore, the call happens only after the SQL
	// commit itself succeeds — the transactional guarantee spec §4.3
	// describes ("failure rolls back all three") holds even though the
	// event delivery itself happens outside the database transaction.
	Notify func(store.Outbox)
}

// Config configures a Store's underlying connection pool.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open opens a connection pool and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, apierror.NewInternal(err)
	}
	return &Store{db: db, clock: time.Now}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return apierror.NewNotFound("row", "")
	}
	return apierror.NewInternal(err)
}

// WithRequestLock implements store.Store.
func (s *Store) WithRequestLock(ctx context.Context, requestID string, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewInternal(err)
	}
	defer sqlTx.Rollback() //nolint:errcheck

	var discard string
	row := sqlTx.QueryRowContext(ctx, `SELECT id FROM requests WHERE id = $1 FOR UPDATE`, requestID)
	if err := row.Scan(&discard); err != nil {
		if err == sql.ErrNoRows {
			return apierror.NewNotFound("request", requestID)
		}
		return apierror.NewInternal(err)
	}

	ptx := &pgTx{sqlTx: sqlTx, clock: s.clock, notify: s.Notify}
	if err := fn(ctx, ptx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return apierror.NewInternal(err)
	}
	ptx.deliver()
	return nil
}

// WithNewRequestLock implements store.Store, serializing via a session
// advisory lock keyed on (workspace, author) since invariant U1 must be
// checked before any request row for this pair exists.
func (s *Store) WithNewRequestLock(ctx context.Context, workspace, author string, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewInternal(err)
	}
	defer sqlTx.Rollback() //nolint:errcheck

	if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, workspace+":"+author); err != nil {
		return apierror.NewInternal(err)
	}

	ptx := &pgTx{sqlTx: sqlTx, clock: s.clock, notify: s.Notify}
	if err := fn(ctx, ptx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return apierror.NewInternal(err)
	}
	ptx.deliver()
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return getRequest(ctx, s.db, id)
}

func getRequest(ctx context.Context, q sq.BaseRunner, id string) (domain.Request, error) {
	query, args, err := psql.Select("id", "workspace", "author", "status", "review_turn", "created_at", "updated_at", "release_url").
		From("requests").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Request{}, apierror.NewInternal(err)
	}
	row := query_RowContext(ctx, q, query, args...)
	var r domain.Request
	if err := row.Scan(&r.ID, &r.Workspace, &r.Author, &r.Status, &r.ReviewTurn, &r.CreatedAt, &r.UpdatedAt, &r.ReleaseURL); err != nil {
		if err == sql.ErrNoRows {
			return domain.Request{}, apierror.NewNotFound("request", id)
		}
		return domain.Request{}, apierror.NewInternal(err)
	}
	return r, nil
}

func (s *Store) ListRequests(ctx context.Context, f store.RequestFilter) ([]domain.Request, error) {
	b := psql.Select("id", "workspace", "author", "status", "review_turn", "created_at", "updated_at", "release_url").
		From("requests").OrderBy("created_at ASC")
	if f.Workspace != "" {
		b = b.Where(sq.Eq{"workspace": f.Workspace})
	}
	if f.Author != "" {
		b = b.Where(sq.Eq{"author": f.Author})
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		b = b.Where(sq.Eq{"status": statuses})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	defer rows.Close()
	var out []domain.Request
	for rows.Next() {
		var r domain.Request
		if err := rows.Scan(&r.ID, &r.Workspace, &r.Author, &r.Status, &r.ReviewTurn, &r.CreatedAt, &r.UpdatedAt, &r.ReleaseURL); err != nil {
			return nil, apierror.NewInternal(err)
		}
		out = append(out, r)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) SetRequestReleaseURL(ctx context.Context, requestID, releaseURL string) error {
	query, args, err := psql.Update("requests").Set("release_url", releaseURL).Where(sq.Eq{"id": requestID}).ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apierror.NewInternal(err)
	}
	return requireRowsAffected(res, "request", requestID)
}

func requireRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apierror.NewInternal(err)
	}
	if n == 0 {
		return apierror.NewNotFound(kind, id)
	}
	return nil
}

func (s *Store) ListGroups(ctx context.Context, requestID string) ([]domain.Group, error) {
	return listGroups(ctx, s.db, requestID)
}

func listGroups(ctx context.Context, q sq.BaseRunner, requestID string) ([]domain.Group, error) {
	query, args, err := psql.Select("id", "request_id", "name", "context", "controls", "created_at").
		From("groups").Where(sq.Eq{"request_id": requestID}).OrderBy("created_at ASC").ToSql()
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	rows, err := query_QueryContext(ctx, q, query, args...)
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	defer rows.Close()
	var out []domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.RequestID, &g.Name, &g.Context, &g.Controls, &g.CreatedAt); err != nil {
			return nil, apierror.NewInternal(err)
		}
		out = append(out, g)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) ListFiles(ctx context.Context, requestID string) ([]domain.File, error) {
	return listFiles(ctx, s.db, requestID)
}

func listFiles(ctx context.Context, q sq.BaseRunner, requestID string) ([]domain.File, error) {
	query, args, err := psql.Select("id", "request_id", "group_id", "relpath", "filetype", "content_hash", "size",
		"added_at", "added_by", "added_in_turn", "withdrawn_at", "withdrawn_in_turn", "uploaded_at").
		From("files").Where(sq.Eq{"request_id": requestID}).OrderBy("added_at ASC").ToSql()
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	rows, err := query_QueryContext(ctx, q, query, args...)
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	defer rows.Close()
	var out []domain.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, wrapErr(rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (domain.File, error) {
	var f domain.File
	if err := row.Scan(&f.ID, &f.RequestID, &f.GroupID, &f.RelPath, &f.FileType, &f.ContentHash, &f.Size,
		&f.AddedAt, &f.AddedBy, &f.AddedInTurn, &f.WithdrawnAt, &f.WithdrawnInTurn, &f.UploadedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.File{}, apierror.NewNotFound("file", "")
		}
		return domain.File{}, apierror.NewInternal(err)
	}
	return f, nil
}

func (s *Store) GetFile(ctx context.Context, id string) (domain.File, error) {
	query, args, err := psql.Select("id", "request_id", "group_id", "relpath", "filetype", "content_hash", "size",
		"added_at", "added_by", "added_in_turn", "withdrawn_at", "withdrawn_in_turn", "uploaded_at").
		From("files").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.File{}, apierror.NewInternal(err)
	}
	return scanFile(s.db.QueryRowContext(ctx, query, args...))
}

func (s *Store) ListVotes(ctx context.Context, requestID string, turn int) ([]domain.Vote, error) {
	query, args, err := psql.Select("v.id", "v.file_id", "v.reviewer", "v.choice", "v.review_turn", "v.created_at").
		From("votes v").Join("files f ON f.id = v.file_id").
		Where(sq.Eq{"f.request_id": requestID, "v.review_turn": turn}).
		OrderBy("v.created_at ASC").ToSql()
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *Store) ListComments(ctx context.Context, requestID string, turn int) ([]domain.Comment, error) {
	query, args, err := psql.Select("c.id", "c.group_id", "c.author", "c.text", "c.visibility", "c.review_turn", "c.created_at").
		From("comments c").Join("groups g ON g.id = c.group_id").
		Where(sq.Eq{"g.request_id": requestID, "c.review_turn": turn}).
		OrderBy("c.created_at ASC").ToSql()
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *Store) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	query, args, err := psql.Select("id", "group_id", "author", "text", "visibility", "review_turn", "created_at").
		From("comments").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Comment{}, apierror.NewInternal(err)
	}
	var c domain.Comment
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&c.ID, &c.GroupID, &c.Author, &c.Text, &c.Visibility, &c.ReviewTurn, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.Comment{}, apierror.NewNotFound("comment", id)
		}
		return domain.Comment{}, apierror.NewInternal(err)
	}
	return c, nil
}

func (s *Store) ListAuditLog(ctx context.Context, f store.AuditFilter) ([]domain.AuditEntry, error) {
	b := psql.Select("id", "request_id", "actor", "kind", "path", "extras", "created_at").
		From("audit_log").OrderBy("created_at ASC")
	if f.RequestID != "" {
		b = b.Where(sq.Eq{"request_id": f.RequestID})
	}
	if f.Actor != "" {
		b = b.Where(sq.Eq{"actor": f.Actor})
	}
	if f.Kind != "" {
		b = b.Where(sq.Eq{"kind": f.Kind})
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	defer rows.Close()
	var out []domain.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, wrapErr(rows.Err())
}

func scanAuditEntry(row scanner) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	var extrasRaw []byte
	if err := row.Scan(&e.ID, &e.RequestID, &e.Actor, &e.Kind, &e.Path, &extrasRaw, &e.CreatedAt); err != nil {
		return domain.AuditEntry{}, apierror.NewInternal(err)
	}
	if len(extrasRaw) > 0 {
		if err := json.Unmarshal(extrasRaw, &e.Extras); err != nil {
			return domain.AuditEntry{}, apierror.NewInternal(err)
		}
	}
	return e, nil
}

func (s *Store) ListReviewSubmissions(ctx context.Context, requestID string, turn int) ([]domain.ReviewSubmission, error) {
	return listReviewSubmissions(ctx, s.db, requestID, turn)
}

func listReviewSubmissions(ctx context.Context, q sq.BaseRunner, requestID string, turn int) ([]domain.ReviewSubmission, error) {
	query, args, err := psql.Select("id", "request_id", "reviewer", "review_turn", "created_at").
		From("review_submissions").Where(sq.Eq{"request_id": requestID, "review_turn": turn}).
		OrderBy("created_at ASC").ToSql()
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	rows, err := query_QueryContext(ctx, q, query, args...)
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	defer rows.Close()
	var out []domain.ReviewSubmission
	for rows.Next() {
		var rs domain.ReviewSubmission
		if err := rows.Scan(&rs.ID, &rs.RequestID, &rs.Reviewer, &rs.ReviewTurn, &rs.CreatedAt); err != nil {
			return nil, apierror.NewInternal(err)
		}
		out = append(out, rs)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) ListUploadJobs(ctx context.Context, requestID string) ([]domain.UploadJob, error) {
	query, args, err := psql.Select(uploadJobCols...).From("upload_jobs").
		Where(sq.Eq{"request_id": requestID}).OrderBy("created_at ASC").ToSql()
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	defer rows.Close()
	return scanUploadJobs(rows)
}

func (s *Store) ListPendingUploadJobs(ctx context.Context, now time.Time, limit int) ([]domain.UploadJob, error) {
	b := psql.Select(uploadJobCols...).From("upload_jobs").
		Where(sq.Eq{"status": string(domain.UploadJobPending)}).
		Where(sq.LtOrEq{"next_attempt_at": now}).
		OrderBy("next_attempt_at ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewInternal(err)
	}
	defer rows.Close()
	return scanUploadJobs(rows)
}

func (s *Store) GetUploadJob(ctx context.Context, id string) (domain.UploadJob, error) {
	query, args, err := psql.Select(uploadJobCols...).From("upload_jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.UploadJob{}, apierror.NewInternal(err)
	}
	return scanUploadJobRow(s.db.QueryRowContext(ctx, query, args...))
}

func (s *Store) UpdateUploadJob(ctx context.Context, job domain.UploadJob) error {
	job.UpdatedAt = s.clock()
	query, args, err := psql.Update("upload_jobs").
		Set("status", string(job.Status)).
		Set("attempts", job.Attempts).
		Set("next_attempt_at", job.NextAttemptAt).
		Set("last_error", job.LastError).
		Set("deadline_at", job.DeadlineAt).
		Set("updated_at", job.UpdatedAt).
		Where(sq.Eq{"id": job.ID}).ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apierror.NewInternal(err)
	}
	return requireRowsAffected(res, "upload_job", job.ID)
}

func (s *Store) InsertUploadJobs(ctx context.Context, jobs []domain.UploadJob) error {
	if len(jobs) == 0 {
		return nil
	}
	now := s.clock()
	b := psql.Insert("upload_jobs").Columns(uploadJobCols...)
	for _, j := range jobs {
		if j.ID == "" {
			j.ID = newID()
		}
		j.CreatedAt, j.UpdatedAt = now, now
		b = b.Values(j.ID, j.RequestID, j.FileID, j.RelPath, j.ContentHash, string(j.Status), j.Attempts,
			j.NextAttemptAt, j.LastError, j.DeadlineAt, j.CreatedAt, j.UpdatedAt)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return apierror.NewInternal(err)
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

var uploadJobCols = []string{"id", "request_id", "file_id", "relpath", "content_hash", "status", "attempts",
	"next_attempt_at", "last_error", "deadline_at", "created_at", "updated_at"}

func scanUploadJobRow(row scanner) (domain.UploadJob, error) {
	var j domain.UploadJob
	if err := row.Scan(&j.ID, &j.RequestID, &j.FileID, &j.RelPath, &j.ContentHash, &j.Status, &j.Attempts,
		&j.NextAttemptAt, &j.LastError, &j.DeadlineAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.UploadJob{}, apierror.NewNotFound("upload_job", "")
		}
		return domain.UploadJob{}, apierror.NewInternal(err)
	}
	return j, nil
}

func scanUploadJobs(rows *sql.Rows) ([]domain.UploadJob, error) {
	var out []domain.UploadJob
	for rows.Next() {
		j, err := scanUploadJobRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, wrapErr(rows.Err())
}

func newID() string {
	return uuid.NewString()
}

// query_RowContext/query_QueryContext let the read helpers run against
// either *sql.DB (outside a transaction) or *sql.Tx (the snapshot re-reads
// inside pgTx), since both satisfy sq.BaseRunner's narrower QueryContext
// signature but differ on QueryRowContext's.
func query_RowContext(ctx context.Context, q sq.BaseRunner, query string, args ...any) *sql.Row {
	switch v := q.(type) {
	case *sql.DB:
		return v.QueryRowContext(ctx, query, args...)
	case *sql.Tx:
		return v.QueryRowContext(ctx, query, args...)
	default:
		panic("unsupported runner")
	}
}

func query_QueryContext(ctx context.Context, q sq.BaseRunner, query string, args ...any) (*sql.Rows, error) {
	switch v := q.(type) {
	case *sql.DB:
		return v.QueryContext(ctx, query, args...)
	case *sql.Tx:
		return v.QueryContext(ctx, query, args...)
	default:
		panic("unsupported runner")
	}
}
