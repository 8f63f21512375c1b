package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/opensafely-core/airlock/internal/contentstore"
	"github.com/opensafely-core/airlock/internal/controller"
	"github.com/opensafely-core/airlock/internal/events"
	"github.com/opensafely-core/airlock/internal/store/memstore"
	"github.com/opensafely-core/airlock/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorkspaces struct{ root string }

func (f fakeWorkspaces) Get(name string) (*workspace.View, error) {
	return workspace.New(name, f.root), nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "outputs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "outputs", "result.csv"), []byte("data"), 0o644))

	contents, err := contentstore.New(t.TempDir())
	require.NoError(t, err)

	st := memstore.New()
	ctrl := controller.New(st, fakeWorkspaces{root: dir}, contents, events.NopSink, nil)
	return NewRouter(ctrl, st)
}

func doRequest(r *gin.Engine, method, path, username string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if username != "" {
		req.Header.Set("X-Airlock-Username", username)
		req.Header.Set("X-Airlock-Roles", "workspace-access:study1,output-checker")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateRequest_RequiresPrincipal(t *testing.T) {
	r := newTestRouter(t)
	rec := doRequest(r, http.MethodPost, "/api/v1/requests", "", map[string]string{"workspace": "study1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateRequest_Succeeds(t *testing.T) {
	r := newTestRouter(t)
	rec := doRequest(r, http.MethodPost, "/api/v1/requests", "alice", map[string]string{"workspace": "study1"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "PENDING", body["status"])
}

func TestCreateRequest_MalformedBodyIsBadRequest(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Airlock-Username", "alice")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRequest_ReturnsComposedView(t *testing.T) {
	r := newTestRouter(t)
	createRec := doRequest(r, http.MethodPost, "/api/v1/requests", "alice", map[string]string{"workspace": "study1"})
	require.Equal(t, http.StatusCreated, createRec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	id := created["id"].(string)

	getRec := doRequest(r, http.MethodGet, "/api/v1/requests/"+id, "alice", nil)
	assert.Equal(t, http.StatusOK, getRec.Code)

	var view map[string]any
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &view))
	assert.Contains(t, view, "groups")
	assert.Contains(t, view, "files")
	assert.Contains(t, view, "votes")
	assert.Contains(t, view, "comments")
}

func TestAdminRouter_HealthAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewAdminRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
