package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Articles/One", "https://example.com/Articles/One"},
		{"strips query", "https://example.com/a?utm_source=x&id=9", "https://example.com/a"},
		{"strips fragment", "https://example.com/a#section-2", "https://example.com/a"},
		{"strips trailing slash", "https://example.com/a/", "https://example.com/a"},
		{"strips all at once", "HTTP://News.Example.com/Story/?ref=tw#top", "http://news.example.com/Story"},
		{"trims whitespace", "  https://example.com/a  ", "https://example.com/a"},
		{"path case preserved", "https://example.com/CaseSensitive", "https://example.com/CaseSensitive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURL_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("https://exa mple.com/%zz")
	require.Error(t, err)
}

func TestStripQuery(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://example.com/a", StripQuery("https://example.com/a?utm=1#frag"))
	require.Equal(t, "https://Example.com/A/", StripQuery("https://Example.com/A/"))
	// Unparseable input comes back untouched.
	require.Equal(t, "://bad", StripQuery("://bad"))
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	// Forward moves.
	require.True(t, CanTransition(JobStatusQueued, JobStatusProcessing))
	require.True(t, CanTransition(JobStatusProcessing, JobStatusFetching))
	require.True(t, CanTransition(JobStatusFetching, JobStatusAnalyzing))
	require.True(t, CanTransition(JobStatusAnalyzing, JobStatusComplete))
	require.True(t, CanTransition(JobStatusFetching, JobStatusFailed))

	// Backward moves are rejected.
	require.False(t, CanTransition(JobStatusAnalyzing, JobStatusFetching))
	require.False(t, CanTransition(JobStatusComplete, JobStatusAnalyzing))

	// Processing is re-enterable on redelivery, except from terminal states.
	require.True(t, CanTransition(JobStatusFetching, JobStatusProcessing))
	require.True(t, CanTransition(JobStatusAnalyzing, JobStatusProcessing))
	require.False(t, CanTransition(JobStatusComplete, JobStatusProcessing))
	require.False(t, CanTransition(JobStatusFailed, JobStatusProcessing))
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, JobStatusComplete.IsTerminal())
	require.True(t, JobStatusFailed.IsTerminal())
	require.False(t, JobStatusQueued.IsTerminal())
	require.False(t, JobStatusAnalyzing.IsTerminal())
}
