package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/osintwatch/scrapeworker/internal/clock/system"
	idgen "github.com/osintwatch/scrapeworker/internal/id/uuid"
	"github.com/osintwatch/scrapeworker/internal/scraper"
	memstore "github.com/osintwatch/scrapeworker/internal/store/memory"
)

func newTestServer(t *testing.T) (*Server, *memstore.JobStore) {
	t.Helper()
	store := memstore.NewJobStore(system.New())
	return NewServer(store, idgen.New(), Config{}, nil), store
}

func postJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func getPath(srv *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := getPath(srv, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitJobCreatesQueuedRow(t *testing.T) {
	srv, store := newTestServer(t)

	rec := postJSON(t, srv, "/v1/jobs", map[string]any{
		"target_url":      "https://github.com/octocat",
		"target_username": "octocat",
		"search_type":     "username",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	jobID, ok := resp["job_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, jobID)

	job, err := store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusQueued, job.Status)
	require.Equal(t, scraper.PlatformGitHub, job.Platform)
	require.Equal(t, scraper.DefaultMaxRetries, job.MaxRetries)
}

func TestSubmitJobRejectsBadURL(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv, "/v1/jobs", map[string]any{"target_url": "not-a-url"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitJobRejectsUnknownPlatform(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv, "/v1/jobs", map[string]any{
		"target_url": "https://example.com/u",
		"platform":   "friendster",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobAndStatus(t *testing.T) {
	srv, store := newTestServer(t)
	require.NoError(t, store.CreateJob(context.Background(), scraper.Job{
		ID:        "job-1",
		TargetURL: "https://github.com/octocat",
	}))

	rec := getPath(srv, "/v1/jobs/job-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var job scraper.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, "job-1", job.ID)

	rec = getPath(srv, "/v1/jobs/job-1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "queued", status["status"])
}

func TestGetJobNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := getPath(srv, "/v1/jobs/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := getPath(srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
