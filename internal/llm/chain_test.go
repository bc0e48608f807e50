package llm

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/newslens/newslens/internal/metrics"
	"github.com/newslens/newslens/internal/pipeline"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

// fallbackCount reads the secondary-provider invocation counter from the
// default registry.
func fallbackCount(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "analysis_llm_fallbacks_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

type fakeProvider struct {
	name   string
	output string
	err    error
	calls  int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(context.Context, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

const goodOutput = `{"slant":"center-left","claims":[{"statement":"s","verdict":"accurate","explanation":"e"}],"report":"Balanced overall."}`

func TestChain_PrimarySuccessSkipsFallback(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{name: "claude", output: goodOutput}
	fallback := &fakeProvider{name: "gemini", output: goodOutput}
	chain := NewChain(primary, fallback, 0, nil)

	results, err := chain.Analyze(context.Background(), "t", "text", "en")
	require.NoError(t, err)
	require.Equal(t, "center-left", results.Slant)
	require.Len(t, results.Claims, 1)
	require.Equal(t, 1, primary.calls)
	require.Zero(t, fallback.calls)
}

func TestChain_FallbackOnPrimaryFailure(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{name: "claude", err: errors.New("overloaded")}
	fallback := &fakeProvider{name: "gemini", output: goodOutput}
	chain := NewChain(primary, fallback, 0, nil)
	before := fallbackCount(t)

	results, err := chain.Analyze(context.Background(), "t", "text", "en")
	require.NoError(t, err)
	require.Equal(t, "center-left", results.Slant)
	require.Equal(t, 1, primary.calls)
	require.Equal(t, 1, fallback.calls)
	require.GreaterOrEqual(t, fallbackCount(t), before+1)
}

func TestChain_BothFailRaisesPrimaryError(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{name: "claude", err: errors.New("primary down")}
	fallback := &fakeProvider{name: "gemini", err: errors.New("fallback down")}
	chain := NewChain(primary, fallback, 0, nil)

	_, err := chain.Analyze(context.Background(), "t", "text", "en")
	require.Error(t, err)

	var perr *pipeline.Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, pipeline.KindPrimaryLLM, perr.Kind)
	require.Contains(t, err.Error(), "primary down")
}

func TestChain_BadOutputTriggersFallback(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{name: "claude", output: "I cannot help with that."}
	fallback := &fakeProvider{name: "gemini", output: goodOutput}
	chain := NewChain(primary, fallback, 0, nil)

	results, err := chain.Analyze(context.Background(), "t", "text", "en")
	require.NoError(t, err)
	require.Equal(t, "Balanced overall.", results.Report)
}

func TestChain_EmptyResultsRejected(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{name: "claude", output: `{"slant":"","claims":[],"report":""}`}
	chain := NewChain(primary, nil, 0, nil)

	_, err := chain.Analyze(context.Background(), "t", "text", "en")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing slant and report")
}

func TestChain_NoProviderConfigured(t *testing.T) {
	t.Parallel()

	chain := NewChain(nil, nil, 0, nil)
	_, err := chain.Analyze(context.Background(), "t", "text", "en")
	require.Error(t, err)

	var perr *pipeline.Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, pipeline.KindAuthentication, perr.Kind)
	require.False(t, perr.Retryable)
}

func TestChain_NoFallbackReturnsPrimaryError(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{name: "claude", err: errors.New("boom")}
	chain := NewChain(primary, nil, 0, nil)

	_, err := chain.Analyze(context.Background(), "t", "text", "en")
	var perr *pipeline.Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, pipeline.KindPrimaryLLM, perr.Kind)
}
