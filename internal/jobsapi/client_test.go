package jobsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRelease_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/releases/workspace/study1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"release_id": "rel1", "url": "http://upstream/upload"})
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL})
	id, url, err := c.CreateRelease(context.Background(), "study1", []ReleaseFile{{Name: "a.csv"}})
	require.NoError(t, err)
	assert.Equal(t, "rel1", id)
	assert.Equal(t, "http://upstream/upload", url)
}

func TestCreateRelease_ServerErrorIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL})
	_, _, err := c.CreateRelease(context.Background(), "study1", nil)
	assert.Error(t, err)
}

func TestUploadFile_OutcomeClassification(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		outcome Outcome
	}{
		{"created", http.StatusCreated, OutcomeSuccess},
		{"ok", http.StatusOK, OutcomeSuccess},
		{"already uploaded via see-other", http.StatusSeeOther, OutcomeSuccess},
		{"already uploaded via conflict", http.StatusConflict, OutcomeSuccess},
		{"server error is transient", http.StatusInternalServerError, OutcomeTransient},
		{"bad request is permanent", http.StatusBadRequest, OutcomePermanent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := New(Config{Endpoint: srv.URL})
			outcome := c.UploadFile(context.Background(), srv.URL, "outputs/a.csv", "deadbeef", bytes.NewReader([]byte("data")))
			assert.Equal(t, tc.outcome, outcome)
		})
	}
}
