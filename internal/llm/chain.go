package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/newslens/newslens/internal/metrics"
	"github.com/newslens/newslens/internal/pipeline"
)

// Chain runs the analysis against a primary provider and falls back to a
// secondary provider once when the primary fails. When both fail, the
// primary's error (and classification) is the one raised, so telemetry
// reflects the primary failure mode.
type Chain struct {
	primary       Provider
	fallback      Provider
	maxInputChars int
	logger        *zap.Logger
}

// NewChain wires the analysis chain. fallback may be nil.
func NewChain(primary, fallback Provider, maxInputChars int, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		primary:       primary,
		fallback:      fallback,
		maxInputChars: maxInputChars,
		logger:        logger,
	}
}

// Analyze implements pipeline.Analyzer.
func (c *Chain) Analyze(ctx context.Context, title, text, language string) (pipeline.AnalysisResults, error) {
	if c.primary == nil {
		return pipeline.AnalysisResults{}, pipeline.NewError(
			pipeline.KindAuthentication, "", fmt.Errorf("no analysis provider configured"))
	}

	prompt := BuildPrompt(title, text, language, c.maxInputChars)

	results, primaryErr := c.analyzeWith(ctx, c.primary, pipeline.KindPrimaryLLM, prompt)
	if primaryErr == nil {
		return results, nil
	}

	if c.fallback == nil {
		return pipeline.AnalysisResults{}, primaryErr
	}

	c.logger.Warn("primary analysis provider failed, trying fallback",
		zap.String("primary", c.primary.Name()),
		zap.String("fallback", c.fallback.Name()),
		zap.Error(primaryErr),
	)
	metrics.ObserveLLMFallback()
	results, fallbackErr := c.analyzeWith(ctx, c.fallback, pipeline.KindSecondaryLLM, prompt)
	if fallbackErr == nil {
		return results, nil
	}
	c.logger.Error("fallback analysis provider also failed",
		zap.String("fallback", c.fallback.Name()),
		zap.Error(fallbackErr),
	)
	// Raise the original failure, classified against the primary provider.
	return pipeline.AnalysisResults{}, primaryErr
}

func (c *Chain) analyzeWith(
	ctx context.Context,
	provider Provider,
	kind pipeline.ErrorKind,
	prompt string,
) (pipeline.AnalysisResults, error) {
	raw, err := provider.Complete(ctx, prompt)
	if err != nil {
		return pipeline.AnalysisResults{}, pipeline.NewError(kind, "", err)
	}

	doc, err := ExtractJSON(raw)
	if err != nil {
		return pipeline.AnalysisResults{}, pipeline.NewError(kind, "",
			fmt.Errorf("%s output: %w", provider.Name(), err))
	}

	var results pipeline.AnalysisResults
	if err := json.Unmarshal(doc, &results); err != nil {
		return pipeline.AnalysisResults{}, pipeline.NewError(kind, "",
			fmt.Errorf("decode %s analysis: %w", provider.Name(), err))
	}
	if results.Slant == "" && results.Report == "" {
		return pipeline.AnalysisResults{}, pipeline.NewError(kind, "",
			fmt.Errorf("%s analysis missing slant and report", provider.Name()))
	}
	return results, nil
}
