package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newslens/newslens/internal/pipeline"
	memorystore "github.com/newslens/newslens/internal/store/memory"
)

type recordingQueue struct {
	mu       sync.Mutex
	enqueued []pipeline.JobDescriptor
}

func (q *recordingQueue) Enqueue(_ context.Context, job pipeline.JobDescriptor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, job)
	return nil
}

func (q *recordingQueue) Requeue(context.Context, pipeline.JobDescriptor, time.Duration) error {
	return nil
}

func (q *recordingQueue) Dequeue(ctx context.Context) (pipeline.JobDescriptor, error) {
	<-ctx.Done()
	return pipeline.JobDescriptor{}, ctx.Err()
}

func newTestServer(t *testing.T) (*memorystore.JobStore, *recordingQueue, *httptest.Server) {
	t.Helper()
	store := memorystore.NewJobStore()
	queue := &recordingQueue{}
	server := httptest.NewServer(NewServer(store, queue, nil, zap.NewNop()).Handler())
	t.Cleanup(server.Close)
	return store, queue, server
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSubmitJob(t *testing.T) {
	t.Parallel()

	store, queue, server := newTestServer(t)
	resp := postJSON(t, server.URL+"/v1/jobs",
		`{"url": "https://example.com/story?utm_source=tw", "language": "de", "author": "A. Writer"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decode[submitJobResponse](t, resp)
	require.NotEmpty(t, body.JobID)
	require.Equal(t, pipeline.JobStatusQueued, body.Status)
	require.False(t, body.Reused)

	job, err := store.GetJob(context.Background(), body.JobID)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/story?utm_source=tw", job.URL)
	require.Equal(t, "https://example.com/story", job.NormalizedURL)
	require.Equal(t, "de", job.Language)

	require.Len(t, queue.enqueued, 1)
	require.Equal(t, body.JobID, queue.enqueued[0].JobID)
	require.Equal(t, "A. Writer", queue.enqueued[0].Submission.Author)
	require.Zero(t, queue.enqueued[0].Attempt)
}

func TestSubmitJob_DedupReturnsExistingJob(t *testing.T) {
	t.Parallel()

	_, queue, server := newTestServer(t)
	first := decode[submitJobResponse](t, postJSON(t, server.URL+"/v1/jobs",
		`{"url": "https://example.com/story"}`))

	// Same article with different tracking params resolves to the same job.
	resp := postJSON(t, server.URL+"/v1/jobs",
		`{"url": "https://EXAMPLE.com/story?ref=email"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decode[submitJobResponse](t, resp)
	require.Equal(t, first.JobID, second.JobID)
	require.True(t, second.Reused)
	require.Len(t, queue.enqueued, 1, "no second enqueue for a deduped submission")
}

func TestSubmitJob_FailedJobIsResubmittable(t *testing.T) {
	t.Parallel()

	store, queue, server := newTestServer(t)
	first := decode[submitJobResponse](t, postJSON(t, server.URL+"/v1/jobs",
		`{"url": "https://example.com/story"}`))
	_, err := store.UpdateJobAsFailed(context.Background(), first.JobID, "Network: boom")
	require.NoError(t, err)

	resp := postJSON(t, server.URL+"/v1/jobs", `{"url": "https://example.com/story"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	second := decode[submitJobResponse](t, resp)
	require.NotEqual(t, first.JobID, second.JobID)
	require.Len(t, queue.enqueued, 2)
}

func TestSubmitJob_Validation(t *testing.T) {
	t.Parallel()

	_, _, server := newTestServer(t)
	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing url", `{}`},
		{"bad scheme", `{"url": "ftp://example.com/a"}`},
		{"no host", `{"url": "https:///path-only"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resp := postJSON(t, server.URL+"/v1/jobs", tc.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	store, _, server := newTestServer(t)
	_, err := store.CreateJob(context.Background(), pipeline.Job{
		ID:     "j1",
		URL:    "https://example.com/a",
		Status: pipeline.JobStatusAnalyzing,
	})
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/v1/jobs/j1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	job := decode[pipeline.Job](t, resp)
	require.Equal(t, "j1", job.ID)
	require.Equal(t, pipeline.JobStatusAnalyzing, job.Status)
}

func TestGetJob_NotFound(t *testing.T) {
	t.Parallel()

	_, _, server := newTestServer(t)
	resp, err := http.Get(server.URL + "/v1/jobs/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetJob_HidesResultsUntilComplete(t *testing.T) {
	t.Parallel()

	store, _, server := newTestServer(t)
	_, err := store.CreateJob(context.Background(), pipeline.Job{
		ID:     "j1",
		Status: pipeline.JobStatusAnalyzing,
		AnalysisResults: &pipeline.AnalysisResults{
			Slant: "should-not-leak",
		},
		ErrorMessage: "should-not-leak-either",
	})
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/v1/jobs/j1")
	require.NoError(t, err)
	defer resp.Body.Close()
	job := decode[pipeline.Job](t, resp)
	require.Nil(t, job.AnalysisResults)
	require.Empty(t, job.ErrorMessage)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	_, _, server := newTestServer(t)
	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
