package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/newslens/newslens/internal/pipeline"
)

// MirrorConfig controls the pre-resolved-page extractor.
type MirrorConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// MirrorExtractor fetches an already-resolved snapshot page directly and
// pulls article fields out of its HTML. It is the primary service for
// mirror-hosted pages, where a hosted extraction API would be blocked.
type MirrorExtractor struct {
	cfg           MirrorConfig
	baseCollector *colly.Collector
}

// NewMirrorExtractor builds a MirrorExtractor.
func NewMirrorExtractor(cfg MirrorConfig) *MirrorExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	return &MirrorExtractor{cfg: cfg, baseCollector: c}
}

// Extract fetches rawURL unmodified and parses the page.
func (m *MirrorExtractor) Extract(ctx context.Context, rawURL string) (pipeline.ExtractedContent, error) {
	body, err := m.fetch(ctx, rawURL)
	if err != nil {
		return pipeline.ExtractedContent{}, err
	}
	content, err := parseArticleHTML(body)
	if err != nil {
		return pipeline.ExtractedContent{}, fmt.Errorf("parse snapshot page: %w", err)
	}
	content.HTML = string(body)
	if content.CanonicalURL == "" {
		content.CanonicalURL = rawURL
	}
	return content, nil
}

func (m *MirrorExtractor) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	collector := m.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	if m.cfg.UserAgent != "" {
		collector.UserAgent = m.cfg.UserAgent
	}
	collector.SetRequestTimeout(m.cfg.Timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(resp *colly.Response) {
		body = append([]byte(nil), resp.Body...)
	})
	collector.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode > 0 {
			fetchErr = fmt.Errorf("snapshot fetch returned %d: %w", resp.StatusCode, err)
			return
		}
		fetchErr = fmt.Errorf("snapshot fetch: %w", err)
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("snapshot fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit snapshot: %w", err)
		}
	}

	if fetchErr != nil {
		return nil, fetchErr
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("snapshot fetch returned empty body")
	}
	return body, nil
}

// parseArticleHTML extracts article fields from raw HTML using common
// OpenGraph and article markup.
func parseArticleHTML(body []byte) (pipeline.ExtractedContent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pipeline.ExtractedContent{}, err
	}

	content := pipeline.ExtractedContent{
		Title:        metaContent(doc, `meta[property="og:title"]`),
		Author:       metaContent(doc, `meta[name="author"]`),
		SiteName:     metaContent(doc, `meta[property="og:site_name"]`),
		Date:         metaContent(doc, `meta[property="article:published_time"]`),
		CanonicalURL: attrOf(doc, `link[rel="canonical"]`, "href"),
	}
	if content.Title == "" {
		content.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	var paragraphs []string
	scope := doc.Find("article")
	if scope.Length() == 0 {
		scope = doc.Find("body")
	}
	scope.Find("p").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	content.Text = strings.Join(paragraphs, "\n\n")

	if og := metaContent(doc, `meta[property="og:image"]`); og != "" {
		content.Images = append(content.Images, pipeline.ImageRef{URL: og})
	}
	scope.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		content.Images = append(content.Images, pipeline.ImageRef{URL: src})
	})

	return content, nil
}

func metaContent(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(attrOf(doc, selector, "content"))
}

func attrOf(doc *goquery.Document, selector, attr string) string {
	val, _ := doc.Find(selector).First().Attr(attr)
	return strings.TrimSpace(val)
}
