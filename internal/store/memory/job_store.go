// Package memory provides an in-memory job store for development/testing.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/newslens/newslens/internal/pipeline"
)

// JobStore implements pipeline.JobStore over a map.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]pipeline.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]pipeline.Job)}
}

// CreateJob stores a new job, defaulting to queued status.
func (s *JobStore) CreateJob(_ context.Context, job pipeline.Job) (pipeline.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return pipeline.Job{}, errors.New("job already exists")
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = pipeline.JobStatusQueued
	}
	s.jobs[job.ID] = job
	return job, nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (pipeline.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.Job{}, pipeline.ErrNotFound
	}
	return job, nil
}

// FindJobByNormalizedURL returns the most recent job for a normalized URL.
func (s *JobStore) FindJobByNormalizedURL(_ context.Context, normalizedURL string) (pipeline.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		found pipeline.Job
		ok    bool
	)
	for _, job := range s.jobs {
		if job.NormalizedURL != normalizedURL {
			continue
		}
		if !ok || job.CreatedAt.After(found.CreatedAt) {
			found = job
			ok = true
		}
	}
	if !ok {
		return pipeline.Job{}, pipeline.ErrNotFound
	}
	return found, nil
}

// UpdateJobStatus sets the status.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, status pipeline.JobStatus) (pipeline.Job, error) {
	return s.mutate(jobID, func(job *pipeline.Job) {
		job.Status = status
	})
}

// SaveExtractedArticleContent merges extracted fields into the job.
func (s *JobStore) SaveExtractedArticleContent(
	_ context.Context,
	jobID string,
	fields pipeline.ArticleFields,
	meta pipeline.MinimalMetadata,
) (pipeline.Job, error) {
	return s.mutate(jobID, func(job *pipeline.Job) {
		job.ArticleTitle = fields.Title
		job.ArticleText = fields.Text
		job.ArticleAuthor = fields.Author
		job.ArticleSourceName = fields.SourceName
		job.ArticlePreviewImageURL = fields.PreviewImageURL
		job.ArticlePublicationDate = fields.PublicationDate
		job.ArticleCanonicalURL = fields.CanonicalURL
		job.Metadata = meta
	})
}

// GetJobTitleAndText re-reads the committed title and text, failing when
// either is empty.
func (s *JobStore) GetJobTitleAndText(_ context.Context, jobID string) (string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return "", "", pipeline.ErrNotFound
	}
	if job.ArticleTitle == "" || job.ArticleText == "" {
		return "", "", fmt.Errorf("job %s has no committed article content", jobID)
	}
	return job.ArticleTitle, job.ArticleText, nil
}

// UpdateJobAsComplete finalizes the job with results.
func (s *JobStore) UpdateJobAsComplete(_ context.Context, jobID string, results pipeline.AnalysisResults) (pipeline.Job, error) {
	return s.mutate(jobID, func(job *pipeline.Job) {
		job.Status = pipeline.JobStatusComplete
		job.AnalysisResults = &results
		job.ErrorMessage = ""
	})
}

// UpdateJobAsFailed finalizes the job with an error message.
func (s *JobStore) UpdateJobAsFailed(_ context.Context, jobID string, errorMessage string) (pipeline.Job, error) {
	return s.mutate(jobID, func(job *pipeline.Job) {
		job.Status = pipeline.JobStatusFailed
		job.ErrorMessage = errorMessage
		job.AnalysisResults = nil
	})
}

func (s *JobStore) mutate(jobID string, fn func(*pipeline.Job)) (pipeline.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.Job{}, pipeline.ErrNotFound
	}
	fn(&job)
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return job, nil
}
