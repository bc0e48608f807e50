package pipeline

import (
	"context"
	"time"
)

// JobStore persists job records and their extracted content.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) (Job, error)
	GetJob(ctx context.Context, jobID string) (Job, error)
	FindJobByNormalizedURL(ctx context.Context, normalizedURL string) (Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) (Job, error)
	SaveExtractedArticleContent(ctx context.Context, jobID string, fields ArticleFields, meta MinimalMetadata) (Job, error)
	GetJobTitleAndText(ctx context.Context, jobID string) (title, text string, err error)
	UpdateJobAsComplete(ctx context.Context, jobID string, results AnalysisResults) (Job, error)
	UpdateJobAsFailed(ctx context.Context, jobID string, errorMessage string) (Job, error)
}

// Queue provides durable at-least-once delivery of job descriptors. Requeue
// is the redelivery path: the descriptor comes back to Dequeue after the
// delay with its Attempt count already incremented by the caller.
type Queue interface {
	Enqueue(ctx context.Context, job JobDescriptor) error
	Requeue(ctx context.Context, job JobDescriptor, delay time.Duration) error
	Dequeue(ctx context.Context) (JobDescriptor, error)
}

// Publisher pushes job update events onto the shared job-updates channel.
type Publisher interface {
	Publish(ctx context.Context, event JobUpdateEvent) error
}

// Subscriber consumes the job-updates channel. Implementations must use a
// connection dedicated to consuming, never shared with publish traffic.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan JobUpdateEvent, error)
}

// ArchiveResolver finds a live mirror snapshot URL for an article, or ""
// when no mirror has one. An empty result is not an error.
type ArchiveResolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}

// Extractor produces normalized article content for a URL.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (ExtractedContent, error)
}

// Analyzer runs the LLM bias/claims analysis over committed article text.
type Analyzer interface {
	Analyze(ctx context.Context, title, text, language string) (AnalysisResults, error)
}
