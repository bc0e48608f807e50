package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/newslens/newslens/internal/pipeline"
)

const (
	firecrawlMaxAttempts = 3
	firecrawlBackoffBase = 1 * time.Second
)

// FirecrawlConfig credentials the general-purpose extraction service.
type FirecrawlConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// FirecrawlClient calls a Firecrawl-compatible scrape API. Calls are retried
// with exponential backoff before a fatal-for-this-attempt error is raised.
type FirecrawlClient struct {
	cfg    FirecrawlConfig
	client *http.Client
	logger *zap.Logger

	// sleep is replaceable in tests.
	sleep func(time.Duration)
}

// NewFirecrawlClient builds a FirecrawlClient.
func NewFirecrawlClient(cfg FirecrawlConfig, logger *zap.Logger) *FirecrawlClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &FirecrawlClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		sleep:  time.Sleep,
	}
}

// Configured reports whether the service has credentials.
func (f *FirecrawlClient) Configured() bool {
	return f.cfg.BaseURL != ""
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Markdown string `json:"markdown"`
		HTML     string `json:"html"`
		Metadata struct {
			Title         string   `json:"title"`
			Author        string   `json:"author"`
			SiteName      string   `json:"ogSiteName"`
			SourceURL     string   `json:"sourceURL"`
			OGImage       string   `json:"ogImage"`
			PublishedTime string   `json:"publishedTime"`
			Images        []string `json:"images"`
		} `json:"metadata"`
	} `json:"data"`
}

// Extract scrapes rawURL, retrying transient failures up to 3 times with
// exponential backoff (base 1s, doubling).
func (f *FirecrawlClient) Extract(ctx context.Context, rawURL string) (pipeline.ExtractedContent, error) {
	var lastErr error
	for attempt := 0; attempt < firecrawlMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := firecrawlBackoffBase << (attempt - 1)
			f.logger.Warn("extraction service retry",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Error(lastErr),
			)
			f.sleep(delay)
		}
		if err := ctx.Err(); err != nil {
			return pipeline.ExtractedContent{}, fmt.Errorf("extraction canceled: %w", err)
		}
		content, err := f.scrape(ctx, rawURL)
		if err == nil {
			return content, nil
		}
		lastErr = err
	}
	return pipeline.ExtractedContent{}, fmt.Errorf(
		"extraction failed after %d attempts: %w", firecrawlMaxAttempts, lastErr)
}

func (f *FirecrawlClient) scrape(ctx context.Context, rawURL string) (pipeline.ExtractedContent, error) {
	payload, err := json.Marshal(scrapeRequest{
		URL:     rawURL,
		Formats: []string{"markdown", "html"},
	})
	if err != nil {
		return pipeline.ExtractedContent{}, fmt.Errorf("marshal scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, f.cfg.BaseURL+"/v1/scrape", bytes.NewReader(payload))
	if err != nil {
		return pipeline.ExtractedContent{}, fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return pipeline.ExtractedContent{}, fmt.Errorf("scrape request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return pipeline.ExtractedContent{}, fmt.Errorf("read scrape response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return pipeline.ExtractedContent{}, pipeline.NewError(
			pipeline.KindRateLimit, "", fmt.Errorf("extraction service rate limited"))
	}
	if resp.StatusCode != http.StatusOK {
		return pipeline.ExtractedContent{}, fmt.Errorf("scrape returned %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed scrapeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return pipeline.ExtractedContent{}, fmt.Errorf("decode scrape response: %w", err)
	}
	if !parsed.Success {
		return pipeline.ExtractedContent{}, fmt.Errorf("scrape unsuccessful: %s", parsed.Error)
	}

	content := pipeline.ExtractedContent{
		Title:        parsed.Data.Metadata.Title,
		Text:         parsed.Data.Markdown,
		HTML:         parsed.Data.HTML,
		Author:       parsed.Data.Metadata.Author,
		Date:         parsed.Data.Metadata.PublishedTime,
		SiteName:     parsed.Data.Metadata.SiteName,
		CanonicalURL: parsed.Data.Metadata.SourceURL,
	}
	if parsed.Data.Metadata.OGImage != "" {
		content.Images = append(content.Images, pipeline.ImageRef{URL: parsed.Data.Metadata.OGImage})
	}
	for _, img := range parsed.Data.Metadata.Images {
		if img != "" {
			content.Images = append(content.Images, pipeline.ImageRef{URL: img})
		}
	}
	return content, nil
}

func truncateBody(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
