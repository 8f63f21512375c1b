package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensafely-core/airlock/internal/contentstore"
	"github.com/opensafely-core/airlock/internal/controller"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/events"
	"github.com/opensafely-core/airlock/internal/jobsapi"
	"github.com/opensafely-core/airlock/internal/store"
	"github.com/opensafely-core/airlock/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJobsSite stands in for the external Jobs site: it accepts any release
// creation and any upload, the way a well-behaved upstream would for a
// first attempt.
func fakeJobsSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)

	// The release response's url must point back at this server; the
	// handler closes over srv, which is only assigned once NewServer
	// returns, but that happens before any request reaches it.
	mux.HandleFunc("/api/v2/releases/workspace/study1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"release_id": "rel1", "url": srv.URL + "/upload"})
	})
	return srv
}

func TestScheduler_ApprovedRequestUploadsAndReleases(t *testing.T) {
	srv := fakeJobsSite(t)
	defer srv.Close()

	content := []byte("output bytes")
	contents, err := contentstore.New(t.TempDir())
	require.NoError(t, err)
	hash, size, err := contents.Put(bytes.NewReader(content))
	require.NoError(t, err)

	st := memstore.New()
	ctx := context.Background()

	requestID := "req1"
	fileID := "file1"
	require.NoError(t, st.WithNewRequestLock(ctx, "study1", "alice", func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertRequest(ctx, domain.Request{
			ID: requestID, Workspace: "study1", Author: "alice",
			Status: domain.StatusApproved, ReviewTurn: 1,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return tx.InsertFile(ctx, domain.File{
			ID: fileID, RequestID: requestID, RelPath: "outputs/result.csv",
			FileType: domain.FileTypeOutput, ContentHash: hash, Size: size,
			AddedAt: time.Now(), AddedBy: "alice", AddedInTurn: 1,
		})
	}))

	ctrl := controller.New(st, nil, contents, events.NopSink, nil)
	client := jobsapi.New(jobsapi.Config{Endpoint: srv.URL})
	sched := New(st, ctrl, contents, client, events.NopSink, Options{MaxInFlight: 2})

	sched.Deliver(events.Event{Kind: events.KindApproved, RequestID: requestID})

	assert.Eventually(t, func() bool {
		req, err := st.GetRequest(ctx, requestID)
		return err == nil && req.Status == domain.StatusReleased
	}, 2*time.Second, 10*time.Millisecond, "request never reached RELEASED")

	f, err := st.GetFile(ctx, fileID)
	require.NoError(t, err)
	assert.NotNil(t, f.UploadedAt)
}

func TestScheduler_DoesNotReleaseUntilEveryOutputFileUploaded(t *testing.T) {
	srv := fakeJobsSite(t)
	defer srv.Close()

	contents, err := contentstore.New(t.TempDir())
	require.NoError(t, err)
	hash1, size1, err := contents.Put(bytes.NewReader([]byte("file one bytes")))
	require.NoError(t, err)
	hash2, size2, err := contents.Put(bytes.NewReader([]byte("file two bytes")))
	require.NoError(t, err)

	st := memstore.New()
	ctx := context.Background()

	requestID := "req-multi"
	fileID1, fileID2 := "file1", "file2"
	require.NoError(t, st.WithNewRequestLock(ctx, "study1", "alice", func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertRequest(ctx, domain.Request{
			ID: requestID, Workspace: "study1", Author: "alice",
			Status: domain.StatusApproved, ReviewTurn: 1,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}); err != nil {
			return err
		}
		if err := tx.InsertFile(ctx, domain.File{
			ID: fileID1, RequestID: requestID, RelPath: "outputs/one.csv",
			FileType: domain.FileTypeOutput, ContentHash: hash1, Size: size1,
			AddedAt: time.Now(), AddedBy: "alice", AddedInTurn: 1,
		}); err != nil {
			return err
		}
		return tx.InsertFile(ctx, domain.File{
			ID: fileID2, RequestID: requestID, RelPath: "outputs/two.csv",
			FileType: domain.FileTypeOutput, ContentHash: hash2, Size: size2,
			AddedAt: time.Now(), AddedBy: "alice", AddedInTurn: 1,
		})
	}))

	ctrl := controller.New(st, nil, contents, events.NopSink, nil)

	// Directly exercise the gate the way the scheduler does after a single
	// upload succeeds: mark only the first file uploaded and confirm the
	// request stays APPROVED until the second file is uploaded too.
	f1, err := st.GetFile(ctx, fileID1)
	require.NoError(t, err)
	now := time.Now()
	f1.UploadedAt = &now
	require.NoError(t, st.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateFile(ctx, f1)
	}))

	require.NoError(t, ctrl.MarkReleased(ctx, requestID))
	req, err := st.GetRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, req.Status, "must not release while file two is still pending")

	f2, err := st.GetFile(ctx, fileID2)
	require.NoError(t, err)
	f2.UploadedAt = &now
	require.NoError(t, st.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateFile(ctx, f2)
	}))

	require.NoError(t, ctrl.MarkReleased(ctx, requestID))
	req, err = st.GetRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReleased, req.Status, "must release once every output file is uploaded")
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "success", outcomeLabel(jobsapi.OutcomeSuccess))
	assert.Equal(t, "permanent_failure", outcomeLabel(jobsapi.OutcomePermanent))
	assert.Equal(t, "transient_failure", outcomeLabel(jobsapi.OutcomeTransient))
}

func TestBackoffDelay_Increases(t *testing.T) {
	d1 := backoffDelay(1)
	d3 := backoffDelay(3)
	assert.Greater(t, d3, d1)
	assert.Greater(t, d1, time.Duration(0))
}
