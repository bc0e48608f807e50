// Package worker implements the analysis pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newslens/newslens/internal/metrics"
	"github.com/newslens/newslens/internal/pipeline"
)

// finalizeTimeout bounds the requeue and failure-recording writes that run
// after a job's lease may already have expired.
const finalizeTimeout = 10 * time.Second

// Config controls Worker behavior.
type Config struct {
	// Concurrency bounds simultaneous job executions per process.
	Concurrency int
	// QueueMaxAttempts is the queue-level delivery budget per job.
	QueueMaxAttempts int
	// BackoffBase is the queue redelivery backoff base delay; it doubles
	// per attempt.
	BackoffBase time.Duration
	// LockDuration is the per-job lease. Every blocking call for a job
	// happens inside this window.
	LockDuration time.Duration
}

// Worker consumes queue deliveries and drives each job through the
// Fetching/Analyzing state machine.
type Worker struct {
	queue     pipeline.Queue
	jobStore  pipeline.JobStore
	extractor pipeline.Extractor
	analyzer  pipeline.Analyzer
	publisher pipeline.Publisher
	cfg       Config
	logger    *zap.Logger

	wg sync.WaitGroup
}

// New constructs a Worker.
func New(
	queue pipeline.Queue,
	jobStore pipeline.JobStore,
	extractor pipeline.Extractor,
	analyzer pipeline.Analyzer,
	publisher pipeline.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.QueueMaxAttempts <= 0 {
		cfg.QueueMaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 2 * time.Minute
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		extractor: extractor,
		analyzer:  analyzer,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue deliveries until the context finishes. New
// deliveries stop on cancellation; in-flight jobs run to completion under
// their own lease.
func (w *Worker) Run(ctx context.Context) {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.runLoop(ctx)
	}
	w.wg.Wait()
}

func (w *Worker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job",
			zap.String("job_id", job.JobID),
			zap.Int("attempt", job.Attempt),
		)
		w.ProcessJob(job)
	}
}

// ProcessJob runs one delivery end to end, including the retry/finalize
// decision. It never returns an error: redelivery happens through the queue
// and terminal failures are recorded durably.
func (w *Worker) ProcessJob(job pipeline.JobDescriptor) {
	// The job lease is independent of the consume loop's context so that
	// graceful shutdown lets in-flight jobs finish.
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.LockDuration)
	defer cancel()

	metrics.IncActiveWorkers()
	start := time.Now()
	defer func() {
		metrics.DecActiveWorkers()
		w.logger.Info("job processing finished",
			zap.String("job_id", job.JobID),
			zap.Duration("elapsed", time.Since(start)),
		)
	}()

	err := w.execute(ctx, job)
	if err == nil {
		metrics.ObserveJob("complete")
		return
	}

	// Requeue and failure recording run on a fresh context: when the
	// failure is the lease itself expiring, the lease context is already
	// dead and would doom the finalize write, stranding the job in a
	// non-terminal status.
	finalizeCtx, finalizeCancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer finalizeCancel()

	perr := pipeline.Classify(job.JobID, err)
	if w.shouldRetry(job, perr) {
		delay := w.retryDelay(job, perr)
		w.logger.Warn("job failed, requeueing",
			zap.String("job_id", job.JobID),
			zap.String("kind", string(perr.Kind)),
			zap.Int("attempt", job.Attempt),
			zap.Duration("delay", delay),
			zap.Error(perr),
		)
		next := job
		next.Attempt++
		if requeueErr := w.queue.Requeue(finalizeCtx, next, delay); requeueErr != nil {
			w.logger.Error("requeue failed, finalizing job instead",
				zap.String("job_id", job.JobID),
				zap.Error(requeueErr),
			)
			w.failJob(finalizeCtx, job.JobID, perr)
			return
		}
		metrics.ObserveRetry()
		return
	}

	w.failJob(finalizeCtx, job.JobID, perr)
}

// shouldRetry compares the delivery attempt against the smaller of the
// queue budget and the error's own budget.
func (w *Worker) shouldRetry(job pipeline.JobDescriptor, perr *pipeline.Error) bool {
	if !perr.Retryable {
		return false
	}
	budget := min(w.cfg.QueueMaxAttempts, perr.MaxRetries)
	return job.Attempt < budget-1
}

func (w *Worker) retryDelay(job pipeline.JobDescriptor, perr *pipeline.Error) time.Duration {
	if perr.RetryDelay > 0 {
		return perr.RetryDelay
	}
	return w.cfg.BackoffBase << job.Attempt
}

// execute drives the state machine: Processing -> Fetching -> Analyzing ->
// Complete. Any returned error is classified by the caller.
func (w *Worker) execute(ctx context.Context, job pipeline.JobDescriptor) error {
	if job.JobID == "" || job.URL == "" {
		return pipeline.NewError(pipeline.KindValidation, job.JobID,
			fmt.Errorf("job descriptor missing job_id or url"))
	}

	if err := w.transition(ctx, job.JobID, pipeline.JobStatusProcessing); err != nil {
		return err
	}
	if err := w.transition(ctx, job.JobID, pipeline.JobStatusFetching); err != nil {
		return err
	}

	fetchStart := time.Now()
	content, err := w.extractor.Extract(ctx, job.URL)
	if err != nil {
		var perr *pipeline.Error
		if errors.As(err, &perr) {
			return err
		}
		return pipeline.NewError(pipeline.KindExtractionService, job.JobID, err)
	}
	metrics.ObserveStage("fetch", time.Since(fetchStart))
	metrics.ObserveExtraction(string(content.FetchStrategy))

	fields := mergeSubmissionMeta(content, job.Submission)
	meta := minimalMetadata(content)
	if _, err := w.jobStore.SaveExtractedArticleContent(ctx, job.JobID, fields, meta); err != nil {
		return pipeline.NewError(pipeline.KindDatabase, job.JobID,
			fmt.Errorf("save extracted content: %w", err))
	}

	// Analysis must operate on what was durably committed, not on the
	// in-memory extraction result.
	title, text, err := w.jobStore.GetJobTitleAndText(ctx, job.JobID)
	if err != nil {
		perr := pipeline.NewError(pipeline.KindDatabase, job.JobID,
			fmt.Errorf("read committed content: %w", err))
		// Re-reading cannot fix missing content; do not retry.
		perr.Retryable = false
		return perr
	}

	if err := w.transition(ctx, job.JobID, pipeline.JobStatusAnalyzing); err != nil {
		return err
	}

	analyzeStart := time.Now()
	results, err := w.analyzer.Analyze(ctx, title, text, job.Language)
	if err != nil {
		return err
	}
	metrics.ObserveStage("analyze", time.Since(analyzeStart))

	if _, err := w.jobStore.UpdateJobAsComplete(ctx, job.JobID, results); err != nil {
		return pipeline.NewError(pipeline.KindDatabase, job.JobID,
			fmt.Errorf("finalize job: %w", err))
	}
	w.publish(ctx, pipeline.JobUpdateEvent{
		JobID:   job.JobID,
		Status:  pipeline.JobStatusComplete,
		Results: &results,
	})
	return nil
}

// transition persists a status change and publishes the update event.
func (w *Worker) transition(ctx context.Context, jobID string, status pipeline.JobStatus) error {
	if _, err := w.jobStore.UpdateJobStatus(ctx, jobID, status); err != nil {
		return pipeline.NewError(pipeline.KindDatabase, jobID,
			fmt.Errorf("update status to %s: %w", status, err))
	}
	w.publish(ctx, pipeline.JobUpdateEvent{JobID: jobID, Status: status})
	return nil
}

// publish emits an update event. Delivery is best-effort: a transport
// failure never fails the job.
func (w *Worker) publish(ctx context.Context, event pipeline.JobUpdateEvent) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.Publish(ctx, event); err != nil {
		w.logger.Warn("publish update event failed",
			zap.String("job_id", event.JobID),
			zap.String("status", string(event.Status)),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveUpdateEvent(string(event.Status))
}

// failJob durably finalizes the job and publishes the terminal event. A
// failure to record the failure is logged as critical and swallowed; the
// process must not crash while reporting that it failed.
func (w *Worker) failJob(ctx context.Context, jobID string, perr *pipeline.Error) {
	metrics.ObserveJob("failed")
	message := pipeline.FormatErrorMessage(perr)
	w.logger.Error("job failed permanently",
		zap.String("job_id", jobID),
		zap.String("kind", string(perr.Kind)),
		zap.String("message", message),
	)
	if jobID == "" {
		return
	}
	if _, err := w.jobStore.UpdateJobAsFailed(ctx, jobID, message); err != nil {
		w.logger.Error("critical: failed to record job failure",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
	w.publish(ctx, pipeline.JobUpdateEvent{
		JobID:  jobID,
		Status: pipeline.JobStatusFailed,
		Error:  message,
	})
}

// mergeSubmissionMeta folds extracted content into article fields, letting
// submission-time metadata win when present. Extraction may yield a
// different, less authoritative canonical URL, especially when
// mirror-sourced.
func mergeSubmissionMeta(content pipeline.ExtractedContent, sub pipeline.SubmissionMeta) pipeline.ArticleFields {
	fields := pipeline.ArticleFields{
		Title:           content.Title,
		Text:            content.Text,
		Author:          content.Author,
		SourceName:      content.SiteName,
		PreviewImageURL: pickPreviewImage(content.Images),
		PublicationDate: content.Date,
		CanonicalURL:    content.CanonicalURL,
	}
	if sub.Author != "" {
		fields.Author = sub.Author
	}
	if sub.SourceName != "" {
		fields.SourceName = sub.SourceName
	}
	if sub.PreviewImageURL != "" {
		fields.PreviewImageURL = sub.PreviewImageURL
	}
	if sub.CanonicalURL != "" {
		fields.CanonicalURL = sub.CanonicalURL
	}
	return fields
}

// pickPreviewImage returns the first stable image URL. Archive-sourced
// images have no stable URL and are skipped.
func pickPreviewImage(images []pipeline.ImageRef) string {
	for _, img := range images {
		if img.URL != "" && !img.IsArchiveImage {
			return img.URL
		}
	}
	return ""
}

// minimalMetadata builds the small provider-metadata bag persisted with the
// job, kept separate from bulk content to bound storage size.
func minimalMetadata(content pipeline.ExtractedContent) pipeline.MinimalMetadata {
	meta := pipeline.MinimalMetadata{
		"fetch_strategy": string(content.FetchStrategy),
	}
	for _, img := range content.Images {
		if img.IsArchiveImage && img.OriginalURL != "" {
			meta["archive_image_original"] = img.OriginalURL
			break
		}
	}
	return meta
}
