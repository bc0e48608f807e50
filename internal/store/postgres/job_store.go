// Package postgres provides the Postgres-backed job store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/newslens/newslens/internal/pipeline"
)

// querier is the subset of pgxpool.Pool the store needs; pgxmock satisfies
// it for tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const jobColumns = `id, url, normalized_url, language, status,
	article_title, article_text, article_author, article_source_name,
	article_preview_image_url, article_publication_date, article_canonical_url,
	analysis_results, error_message, metadata, created_at, updated_at`

// JobStore persists jobs in Postgres.
type JobStore struct {
	pool querier
}

// NewJobStore connects a pool from the DSN.
func NewJobStore(ctx context.Context, dsn string, maxConns int32) (*JobStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewJobStoreWithPool(pool querier) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *JobStore) Close() {
	s.pool.Close()
}

// CreateJob inserts a new job row. The table this writes to:
//
// CREATE TABLE jobs (
//
//	id UUID PRIMARY KEY,
//	url TEXT NOT NULL,
//	normalized_url TEXT NOT NULL,
//	language TEXT NOT NULL DEFAULT 'en',
//	status TEXT NOT NULL,
//	article_title TEXT NOT NULL DEFAULT '',
//	article_text TEXT NOT NULL DEFAULT '',
//	article_author TEXT NOT NULL DEFAULT '',
//	article_source_name TEXT NOT NULL DEFAULT '',
//	article_preview_image_url TEXT NOT NULL DEFAULT '',
//	article_publication_date TEXT NOT NULL DEFAULT '',
//	article_canonical_url TEXT NOT NULL DEFAULT '',
//	analysis_results JSONB,
//	error_message TEXT NOT NULL DEFAULT '',
//	metadata JSONB,
//	created_at TIMESTAMPTZ NOT NULL,
//	updated_at TIMESTAMPTZ NOT NULL
//
// );
// CREATE INDEX jobs_normalized_url_idx ON jobs (normalized_url, created_at DESC);
func (s *JobStore) CreateJob(ctx context.Context, job pipeline.Job) (pipeline.Job, error) {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = pipeline.JobStatusQueued
	}
	meta, err := marshalMeta(job.Metadata)
	if err != nil {
		return pipeline.Job{}, err
	}

	query := `
		INSERT INTO jobs (id, url, normalized_url, language, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := s.pool.Exec(ctx, query,
		job.ID, job.URL, job.NormalizedURL, job.Language, job.Status, meta, job.CreatedAt, job.UpdatedAt,
	); err != nil {
		return pipeline.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (pipeline.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)
	return s.scanJob(s.pool.QueryRow(ctx, query, jobID))
}

// FindJobByNormalizedURL returns the most recent job for a normalized URL.
func (s *JobStore) FindJobByNormalizedURL(ctx context.Context, normalizedURL string) (pipeline.Job, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM jobs WHERE normalized_url = $1 ORDER BY created_at DESC LIMIT 1`, jobColumns)
	return s.scanJob(s.pool.QueryRow(ctx, query, normalizedURL))
}

// UpdateJobStatus sets the status and returns the updated job.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, status pipeline.JobStatus) (pipeline.Job, error) {
	query := fmt.Sprintf(`
		UPDATE jobs SET status = $1, updated_at = $2
		WHERE id = $3
		RETURNING %s`, jobColumns)
	return s.scanJob(s.pool.QueryRow(ctx, query, status, time.Now().UTC(), jobID))
}

// SaveExtractedArticleContent merges extracted fields and the minimal
// metadata bag into the job row.
func (s *JobStore) SaveExtractedArticleContent(
	ctx context.Context,
	jobID string,
	fields pipeline.ArticleFields,
	meta pipeline.MinimalMetadata,
) (pipeline.Job, error) {
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return pipeline.Job{}, err
	}
	query := fmt.Sprintf(`
		UPDATE jobs SET
			article_title = $1,
			article_text = $2,
			article_author = $3,
			article_source_name = $4,
			article_preview_image_url = $5,
			article_publication_date = $6,
			article_canonical_url = $7,
			metadata = $8,
			updated_at = $9
		WHERE id = $10
		RETURNING %s`, jobColumns)
	return s.scanJob(s.pool.QueryRow(ctx, query,
		fields.Title, fields.Text, fields.Author, fields.SourceName,
		fields.PreviewImageURL, fields.PublicationDate, fields.CanonicalURL,
		metaJSON, time.Now().UTC(), jobID,
	))
}

// GetJobTitleAndText re-reads the committed title and text. It fails when
// either is empty, since analysis must never run on uncommitted content.
func (s *JobStore) GetJobTitleAndText(ctx context.Context, jobID string) (string, string, error) {
	var title, text string
	query := `SELECT article_title, article_text FROM jobs WHERE id = $1`
	err := s.pool.QueryRow(ctx, query, jobID).Scan(&title, &text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", pipeline.ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("read job content: %w", err)
	}
	if title == "" || text == "" {
		return "", "", fmt.Errorf("job %s has no committed article content", jobID)
	}
	return title, text, nil
}

// UpdateJobAsComplete finalizes the job with analysis results.
func (s *JobStore) UpdateJobAsComplete(ctx context.Context, jobID string, results pipeline.AnalysisResults) (pipeline.Job, error) {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("marshal analysis results: %w", err)
	}
	query := fmt.Sprintf(`
		UPDATE jobs SET status = $1, analysis_results = $2, error_message = '', updated_at = $3
		WHERE id = $4
		RETURNING %s`, jobColumns)
	return s.scanJob(s.pool.QueryRow(ctx, query,
		pipeline.JobStatusComplete, resultsJSON, time.Now().UTC(), jobID))
}

// UpdateJobAsFailed finalizes the job with a categorized error message.
func (s *JobStore) UpdateJobAsFailed(ctx context.Context, jobID string, errorMessage string) (pipeline.Job, error) {
	query := fmt.Sprintf(`
		UPDATE jobs SET status = $1, error_message = $2, analysis_results = NULL, updated_at = $3
		WHERE id = $4
		RETURNING %s`, jobColumns)
	return s.scanJob(s.pool.QueryRow(ctx, query,
		pipeline.JobStatusFailed, errorMessage, time.Now().UTC(), jobID))
}

func (s *JobStore) scanJob(row pgx.Row) (pipeline.Job, error) {
	var (
		job         pipeline.Job
		resultsJSON []byte
		metaJSON    []byte
	)
	err := row.Scan(
		&job.ID, &job.URL, &job.NormalizedURL, &job.Language, &job.Status,
		&job.ArticleTitle, &job.ArticleText, &job.ArticleAuthor, &job.ArticleSourceName,
		&job.ArticlePreviewImageURL, &job.ArticlePublicationDate, &job.ArticleCanonicalURL,
		&resultsJSON, &job.ErrorMessage, &metaJSON, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Job{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if len(resultsJSON) > 0 {
		var results pipeline.AnalysisResults
		if err := json.Unmarshal(resultsJSON, &results); err != nil {
			return pipeline.Job{}, fmt.Errorf("decode analysis results: %w", err)
		}
		job.AnalysisResults = &results
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &job.Metadata); err != nil {
			return pipeline.Job{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return job, nil
}

func marshalMeta(meta pipeline.MinimalMetadata) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}
