package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/newslens/newslens/internal/pipeline"
)

func TestJobStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	created, err := store.CreateJob(context.Background(), pipeline.Job{
		ID:            "j1",
		URL:           "https://example.com/a",
		NormalizedURL: "https://example.com/a",
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusQueued, created.Status)

	got, err := store.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)

	_, err = store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, pipeline.ErrNotFound)

	_, err = store.CreateJob(context.Background(), pipeline.Job{ID: "j1"})
	require.Error(t, err, "duplicate IDs are rejected")
}

func TestJobStore_FindJobByNormalizedURL_ReturnsNewest(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	older := time.Now().UTC().Add(-time.Hour)
	_, err := store.CreateJob(context.Background(), pipeline.Job{
		ID: "old", NormalizedURL: "https://example.com/a", CreatedAt: older,
	})
	require.NoError(t, err)
	_, err = store.CreateJob(context.Background(), pipeline.Job{
		ID: "new", NormalizedURL: "https://example.com/a",
	})
	require.NoError(t, err)

	found, err := store.FindJobByNormalizedURL(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	require.Equal(t, "new", found.ID)

	_, err = store.FindJobByNormalizedURL(context.Background(), "https://example.com/other")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestJobStore_TerminalInvariants(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	_, err := store.CreateJob(context.Background(), pipeline.Job{ID: "j1"})
	require.NoError(t, err)

	// Complete sets results and clears any error message.
	_, err = store.UpdateJobAsFailed(context.Background(), "j1", "Network: boom")
	require.NoError(t, err)
	completed, err := store.UpdateJobAsComplete(context.Background(), "j1",
		pipeline.AnalysisResults{Slant: "center", Report: "r"})
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusComplete, completed.Status)
	require.NotNil(t, completed.AnalysisResults)
	require.Empty(t, completed.ErrorMessage)

	// Failed sets the message and drops results.
	failed, err := store.UpdateJobAsFailed(context.Background(), "j1", "Database: down")
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusFailed, failed.Status)
	require.Nil(t, failed.AnalysisResults)
	require.Equal(t, "Database: down", failed.ErrorMessage)
}

func TestJobStore_SaveExtractedAndReadBack(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	_, err := store.CreateJob(context.Background(), pipeline.Job{ID: "j1"})
	require.NoError(t, err)

	_, _, err = store.GetJobTitleAndText(context.Background(), "j1")
	require.Error(t, err, "unset content must not be readable for analysis")

	_, err = store.SaveExtractedArticleContent(context.Background(), "j1",
		pipeline.ArticleFields{Title: "T", Text: "Body"},
		pipeline.MinimalMetadata{"fetch_strategy": "direct"})
	require.NoError(t, err)

	title, text, err := store.GetJobTitleAndText(context.Background(), "j1")
	require.NoError(t, err)
	require.Equal(t, "T", title)
	require.Equal(t, "Body", text)
}
