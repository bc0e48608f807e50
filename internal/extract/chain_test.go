package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/newslens/newslens/internal/pipeline"
)

type fakeResolver struct {
	snapshot string
	err      error
	gotURL   string
}

func (f *fakeResolver) Resolve(_ context.Context, rawURL string) (string, error) {
	f.gotURL = rawURL
	return f.snapshot, f.err
}

type fakeMirror struct {
	content pipeline.ExtractedContent
	err     error
	gotURL  string
	calls   int
}

func (f *fakeMirror) Extract(_ context.Context, rawURL string) (pipeline.ExtractedContent, error) {
	f.calls++
	f.gotURL = rawURL
	if f.err != nil {
		return pipeline.ExtractedContent{}, f.err
	}
	return f.content, nil
}

// newFirecrawlForChain backs the general service with a test server so the
// chain's fallback path exercises the real client.
func newFirecrawlForChain(t *testing.T, recordURL *string) *FirecrawlClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req scrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if recordURL != nil {
			*recordURL = req.URL
		}
		fmt.Fprint(w, `{"success":true,"data":{"markdown":"body","metadata":{"title":"t"}}}`)
	}))
	t.Cleanup(server.Close)
	return NewFirecrawlClient(FirecrawlConfig{BaseURL: server.URL, Timeout: time.Second}, nil)
}

func chainConfig() StrategyConfig {
	return StrategyConfig{
		ProactiveHosts: []string{"paywalled.example"},
		Mirrors:        []string{"archive.ph"},
		MirrorEnabled:  true,
	}
}

func TestChain_SnapshotURLGoesToMirrorUnmodified(t *testing.T) {
	t.Parallel()

	mirror := &fakeMirror{content: pipeline.ExtractedContent{Title: "t", Text: "x"}}
	chain := NewChain(chainConfig(), &fakeResolver{}, mirror, newFirecrawlForChain(t, nil), nil)

	content, err := chain.Extract(context.Background(), "https://archive.ph/Ab3dE?x=1")
	require.NoError(t, err)
	require.Equal(t, pipeline.StrategyDirect, content.FetchStrategy)
	// Snapshot URLs pass through untouched, query string included.
	require.Equal(t, "https://archive.ph/Ab3dE?x=1", mirror.gotURL)
}

func TestChain_ProactiveHostResolvesSnapshotFirst(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{snapshot: "https://archive.ph/Zz9xY"}
	mirror := &fakeMirror{content: pipeline.ExtractedContent{Title: "t", Text: "x"}}
	chain := NewChain(chainConfig(), resolver, mirror, newFirecrawlForChain(t, nil), nil)

	content, err := chain.Extract(context.Background(), "https://paywalled.example/story?utm_source=tw")
	require.NoError(t, err)
	require.Equal(t, pipeline.StrategyArchiveMirror, content.FetchStrategy)
	// The resolver sees the query-stripped URL, the mirror the snapshot.
	require.Equal(t, "https://paywalled.example/story", resolver.gotURL)
	require.Equal(t, "https://archive.ph/Zz9xY", mirror.gotURL)
}

func TestChain_NoSnapshotFallsBackWithStrippedURL(t *testing.T) {
	t.Parallel()

	var sentURL string
	resolver := &fakeResolver{snapshot: ""}
	mirror := &fakeMirror{}
	chain := NewChain(chainConfig(), resolver, mirror, newFirecrawlForChain(t, &sentURL), nil)

	content, err := chain.Extract(context.Background(), "https://paywalled.example/story?utm_source=tw#top")
	require.NoError(t, err)
	require.Equal(t, pipeline.StrategyFirecrawl, content.FetchStrategy)
	require.Zero(t, mirror.calls)
	// The general service gets the stripped URL, never the raw one.
	require.Equal(t, "https://paywalled.example/story", sentURL)
}

func TestChain_ResolverErrorTreatedAsNoSnapshot(t *testing.T) {
	t.Parallel()

	var sentURL string
	resolver := &fakeResolver{err: errors.New("all mirrors down")}
	chain := NewChain(chainConfig(), resolver, &fakeMirror{}, newFirecrawlForChain(t, &sentURL), nil)

	content, err := chain.Extract(context.Background(), "https://paywalled.example/story")
	require.NoError(t, err)
	require.Equal(t, pipeline.StrategyFirecrawl, content.FetchStrategy)
	require.Equal(t, "https://paywalled.example/story", sentURL)
}

func TestChain_GeneralURLKeepsQuery(t *testing.T) {
	t.Parallel()

	var sentURL string
	chain := NewChain(chainConfig(), &fakeResolver{}, &fakeMirror{}, newFirecrawlForChain(t, &sentURL), nil)

	content, err := chain.Extract(context.Background(), "https://example.com/story?page=2")
	require.NoError(t, err)
	require.Equal(t, pipeline.StrategyFirecrawl, content.FetchStrategy)
	// Non-archive routes keep the URL exactly as submitted.
	require.Equal(t, "https://example.com/story?page=2", sentURL)
}

func TestChain_RewritesArchiveImages(t *testing.T) {
	t.Parallel()

	mirror := &fakeMirror{content: pipeline.ExtractedContent{
		Title: "t",
		Text:  "x",
		Images: []pipeline.ImageRef{
			{URL: "https://archive.ph/abc123/img.jpg"},
			{URL: "https://example.com/stable.jpg"},
		},
	}}
	chain := NewChain(chainConfig(), &fakeResolver{}, mirror, newFirecrawlForChain(t, nil), nil)

	content, err := chain.Extract(context.Background(), "https://archive.ph/Ab3dE")
	require.NoError(t, err)
	require.Equal(t, []pipeline.ImageRef{
		{OriginalURL: "https://archive.ph/abc123/img.jpg", IsArchiveImage: true},
		{URL: "https://example.com/stable.jpg"},
	}, content.Images)
}

func TestChain_NilMirrorDisablesMirrorRoutes(t *testing.T) {
	t.Parallel()

	var sentURL string
	resolver := &fakeResolver{snapshot: "https://archive.ph/Zz9xY"}
	chain := NewChain(chainConfig(), resolver, nil, newFirecrawlForChain(t, &sentURL), nil)

	// Even a snapshot URL routes to the general service when the mirror
	// extractor is not configured.
	content, err := chain.Extract(context.Background(), "https://archive.ph/Ab3dE")
	require.NoError(t, err)
	require.Equal(t, pipeline.StrategyFirecrawl, content.FetchStrategy)
	require.Equal(t, "https://archive.ph/Ab3dE", sentURL)
}
