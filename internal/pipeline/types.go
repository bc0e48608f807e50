// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"net/url"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of an analysis job.
type JobStatus string

// Job status values persisted in the job store. Transitions only move
// forward; a redelivered job restarts from Processing.
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusFetching   JobStatus = "fetching"
	JobStatusAnalyzing  JobStatus = "analyzing"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status ends the job's lifecycle.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// statusRank orders statuses along the forward-only state machine.
var statusRank = map[JobStatus]int{
	JobStatusQueued:     0,
	JobStatusProcessing: 1,
	JobStatusFetching:   2,
	JobStatusAnalyzing:  3,
	JobStatusComplete:   4,
	JobStatusFailed:     4,
}

// CanTransition reports whether moving from one status to the next keeps the
// job monotonic. Processing is always re-enterable so a redelivered job can
// restart from the top.
func CanTransition(from, to JobStatus) bool {
	if to == JobStatusProcessing {
		return !from.IsTerminal()
	}
	return statusRank[to] > statusRank[from]
}

// MinimalMetadata is the small provider-metadata bag persisted alongside a
// job. Kept separate from bulk article content to bound row size.
type MinimalMetadata map[string]string

// Job represents one URL-analysis request and its accumulated state.
type Job struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	NormalizedURL string    `json:"normalized_url"`
	Language      string    `json:"language"`
	Status        JobStatus `json:"status"`

	ArticleTitle           string `json:"article_title,omitempty"`
	ArticleText            string `json:"article_text,omitempty"`
	ArticleAuthor          string `json:"article_author,omitempty"`
	ArticleSourceName      string `json:"article_source_name,omitempty"`
	ArticlePreviewImageURL string `json:"article_preview_image_url,omitempty"`
	ArticlePublicationDate string `json:"article_publication_date,omitempty"`
	ArticleCanonicalURL    string `json:"article_canonical_url,omitempty"`

	AnalysisResults *AnalysisResults `json:"analysis_results,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	Metadata        MinimalMetadata  `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArticleFields carries the extracted content columns written after a
// successful fetch. Empty strings are treated as absent during the merge.
type ArticleFields struct {
	Title           string
	Text            string
	Author          string
	SourceName      string
	PreviewImageURL string
	PublicationDate string
	CanonicalURL    string
}

// AnalysisResults is the structured LLM output, set only on Complete.
type AnalysisResults struct {
	Slant  string  `json:"slant"`
	Claims []Claim `json:"claims"`
	Report string  `json:"report"`
}

// Claim is a single fact-check item from the analysis.
type Claim struct {
	Statement   string `json:"statement"`
	Verdict     string `json:"verdict"`
	Explanation string `json:"explanation,omitempty"`
}

// FetchStrategy labels how article content was obtained so downstream
// consumers can disclose provenance.
type FetchStrategy string

// Supported fetch strategies.
const (
	StrategyDirect        FetchStrategy = "direct"
	StrategyArchiveMirror FetchStrategy = "archiveMirror"
	StrategyFirecrawl     FetchStrategy = "firecrawl"
)

// ImageRef is one image discovered during extraction. For mirror-hosted
// images URL is blanked and preserved in OriginalURL, since those addresses
// are short-lived and must not be persisted as if permanent.
type ImageRef struct {
	URL            string `json:"url,omitempty"`
	OriginalURL    string `json:"original_url,omitempty"`
	IsArchiveImage bool   `json:"is_archive_image,omitempty"`
}

// ExtractedContent is the normalized output of the extraction chain. It is
// ephemeral; only selected fields are merged into the Job.
type ExtractedContent struct {
	Title         string
	Text          string
	HTML          string
	Author        string
	Date          string
	SiteName      string
	Images        []ImageRef
	CanonicalURL  string
	FetchStrategy FetchStrategy
}

// SubmissionMeta carries client-supplied metadata hints captured at submit
// time. Non-empty values win over extracted ones during the merge.
type SubmissionMeta struct {
	Author          string `json:"author,omitempty"`
	SourceName      string `json:"source_name,omitempty"`
	PreviewImageURL string `json:"preview_image_url,omitempty"`
	CanonicalURL    string `json:"canonical_url,omitempty"`
}

// JobDescriptor is the queue payload delivered to workers.
type JobDescriptor struct {
	JobID    string `json:"job_id"`
	URL      string `json:"url"`
	Language string `json:"language"`
	// Attempt counts deliveries of this descriptor, starting at 0.
	Attempt int `json:"attempt"`

	Submission SubmissionMeta `json:"submission,omitempty"`
}

// JobUpdateEvent is published on the job-updates channel once per status
// transition. It is fire-and-forget; there is no replay.
type JobUpdateEvent struct {
	JobID   string           `json:"job_id"`
	Status  JobStatus        `json:"status"`
	Results *AnalysisResults `json:"results,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// NormalizeURL canonicalizes a URL for dedup lookups: lowercases scheme and
// host, strips the query, fragment, and any trailing slash.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

// StripQuery removes the query string and fragment but otherwise leaves the
// URL untouched. Archive systems are sensitive to tracking parameters.
func StripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
