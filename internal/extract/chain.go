package extract

import (
	"context"

	"go.uber.org/zap"

	"github.com/newslens/newslens/internal/archive"
	"github.com/newslens/newslens/internal/pipeline"
)

// Chain routes a URL through the configured extraction strategies and
// normalizes the result.
type Chain struct {
	cfg       StrategyConfig
	resolver  pipeline.ArchiveResolver
	mirror    pipeline.Extractor
	firecrawl *FirecrawlClient
	logger    *zap.Logger
}

// NewChain wires the chain. mirror may be nil when the pre-resolved-page
// extractor is unconfigured; the strategy table routes around it.
func NewChain(
	cfg StrategyConfig,
	resolver pipeline.ArchiveResolver,
	mirror pipeline.Extractor,
	firecrawl *FirecrawlClient,
	logger *zap.Logger,
) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.MirrorEnabled = cfg.MirrorEnabled && mirror != nil
	return &Chain{
		cfg:       cfg,
		resolver:  resolver,
		mirror:    mirror,
		firecrawl: firecrawl,
		logger:    logger,
	}
}

// Extract produces ExtractedContent for rawURL, annotated with the fetch
// strategy that produced it. Mirror-hosted image URLs are rewritten before
// the result is returned.
func (c *Chain) Extract(ctx context.Context, rawURL string) (pipeline.ExtractedContent, error) {
	content, err := c.extract(ctx, rawURL)
	if err != nil {
		return pipeline.ExtractedContent{}, err
	}
	content.Images = rewriteArchiveImages(content.Images, c.cfg.Mirrors)
	return content, nil
}

func (c *Chain) extract(ctx context.Context, rawURL string) (pipeline.ExtractedContent, error) {
	strategy := SelectStrategy(rawURL, c.cfg)
	c.logger.Debug("extraction strategy selected",
		zap.String("url", rawURL),
		zap.String("strategy", string(strategy)),
	)

	switch strategy {
	case StrategyMirrorDirect:
		content, err := c.mirror.Extract(ctx, rawURL)
		if err != nil {
			return pipeline.ExtractedContent{}, err
		}
		content.FetchStrategy = pipeline.StrategyDirect
		return content, nil

	case StrategyArchiveFirst:
		stripped := pipeline.StripQuery(rawURL)
		snapshot := c.resolveSnapshot(ctx, stripped)
		if snapshot != "" && c.cfg.MirrorEnabled {
			content, err := c.mirror.Extract(ctx, snapshot)
			if err != nil {
				return pipeline.ExtractedContent{}, err
			}
			content.FetchStrategy = pipeline.StrategyArchiveMirror
			return content, nil
		}
		// No snapshot: the general service gets the query-stripped URL,
		// never the raw one.
		content, err := c.firecrawl.Extract(ctx, stripped)
		if err != nil {
			return pipeline.ExtractedContent{}, err
		}
		content.FetchStrategy = pipeline.StrategyFirecrawl
		return content, nil

	default:
		content, err := c.firecrawl.Extract(ctx, rawURL)
		if err != nil {
			return pipeline.ExtractedContent{}, err
		}
		content.FetchStrategy = pipeline.StrategyFirecrawl
		return content, nil
	}
}

// resolveSnapshot treats resolver errors the same as "no snapshot": the
// chain still has a general-service route to try.
func (c *Chain) resolveSnapshot(ctx context.Context, strippedURL string) string {
	if c.resolver == nil {
		return ""
	}
	snapshot, err := c.resolver.Resolve(ctx, strippedURL)
	if err != nil {
		c.logger.Warn("archive resolution failed, falling back",
			zap.String("url", strippedURL),
			zap.Error(err),
		)
		return ""
	}
	return snapshot
}

// rewriteArchiveImages nulls out mirror-hosted image URLs, preserving the
// original address and flagging the image as archive-sourced. Mirror asset
// URLs are short-lived and must never be persisted as stable references.
func rewriteArchiveImages(images []pipeline.ImageRef, mirrors []string) []pipeline.ImageRef {
	out := make([]pipeline.ImageRef, 0, len(images))
	for _, img := range images {
		if img.URL != "" && hostOfURL(img.URL) != "" && archive.IsMirrorHost(hostOfURL(img.URL), mirrors) {
			out = append(out, pipeline.ImageRef{
				OriginalURL:    img.URL,
				IsArchiveImage: true,
			})
			continue
		}
		out = append(out, img)
	}
	return out
}
