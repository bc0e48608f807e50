package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const snapshotPage = `<html>
<head>
	<title>Fallback Title</title>
	<meta property="og:title" content="Proper Title">
	<meta name="author" content="A. Writer">
	<meta property="og:site_name" content="Example News">
	<meta property="article:published_time" content="2026-08-01T10:00:00Z">
	<meta property="og:image" content="https://example.com/og.jpg">
	<link rel="canonical" href="https://example.com/proper-title">
</head>
<body>
	<nav><p></p></nav>
	<article>
		<p>First paragraph.</p>
		<p>  Second paragraph.  </p>
		<p></p>
		<img src="https://example.com/photo.jpg">
		<img src="data:image/png;base64,AAAA">
	</article>
</body>
</html>`

func TestParseArticleHTML(t *testing.T) {
	t.Parallel()

	content, err := parseArticleHTML([]byte(snapshotPage))
	require.NoError(t, err)
	require.Equal(t, "Proper Title", content.Title)
	require.Equal(t, "A. Writer", content.Author)
	require.Equal(t, "Example News", content.SiteName)
	require.Equal(t, "2026-08-01T10:00:00Z", content.Date)
	require.Equal(t, "https://example.com/proper-title", content.CanonicalURL)
	require.Equal(t, "First paragraph.\n\nSecond paragraph.", content.Text)

	// og:image first, then article imgs; data: URIs are skipped.
	require.Len(t, content.Images, 2)
	require.Equal(t, "https://example.com/og.jpg", content.Images[0].URL)
	require.Equal(t, "https://example.com/photo.jpg", content.Images[1].URL)
}

func TestParseArticleHTML_TitleFallbackAndBodyScope(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Only Title</title></head>
		<body><p>Body paragraph.</p></body></html>`
	content, err := parseArticleHTML([]byte(page))
	require.NoError(t, err)
	require.Equal(t, "Only Title", content.Title)
	require.Equal(t, "Body paragraph.", content.Text)
}

func TestMirrorExtractor_FetchesAndParses(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, snapshotPage)
	}))
	defer server.Close()

	m := NewMirrorExtractor(MirrorConfig{UserAgent: "test-agent", Timeout: 2 * time.Second})
	content, err := m.Extract(context.Background(), server.URL+"/Ab3dE")
	require.NoError(t, err)
	require.Equal(t, "Proper Title", content.Title)
	require.NotEmpty(t, content.HTML)
	require.Equal(t, "https://example.com/proper-title", content.CanonicalURL)
}

func TestMirrorExtractor_ErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	m := NewMirrorExtractor(MirrorConfig{Timeout: 2 * time.Second})
	_, err := m.Extract(context.Background(), server.URL+"/gone1")
	require.Error(t, err)
}

func TestMirrorExtractor_CanonicalDefaultsToRequestURL(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>text</p></body></html>`)
	}))
	defer server.Close()

	m := NewMirrorExtractor(MirrorConfig{Timeout: 2 * time.Second})
	content, err := m.Extract(context.Background(), server.URL+"/Ab3dE")
	require.NoError(t, err)
	require.Equal(t, server.URL+"/Ab3dE", content.CanonicalURL)
}
