package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectStrategy(t *testing.T) {
	t.Parallel()

	cfg := StrategyConfig{
		ProactiveHosts: []string{"paywalled.example", "www.thepaper.test"},
		Mirrors:        []string{"archive.ph", "archive.today"},
		MirrorEnabled:  true,
	}

	cases := []struct {
		name string
		url  string
		want Strategy
	}{
		{"snapshot url goes direct", "https://archive.ph/Ab3dE", StrategyMirrorDirect},
		{"snapshot on alternate mirror", "https://archive.today/xY12z", StrategyMirrorDirect},
		{"proactive host", "https://paywalled.example/story", StrategyArchiveFirst},
		{"proactive host with www", "https://www.paywalled.example/story", StrategyArchiveFirst},
		{"proactive host configured with www", "https://thepaper.test/story", StrategyArchiveFirst},
		{"proactive subdomain", "https://edition.paywalled.example/story", StrategyArchiveFirst},
		{"everything else", "https://example.com/story", StrategyGeneral},
		{"mirror listing path is not a snapshot", "https://archive.ph/newest/https://x.test", StrategyGeneral},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, SelectStrategy(tc.url, cfg))
		})
	}
}

func TestSelectStrategy_MirrorDisabled(t *testing.T) {
	t.Parallel()

	cfg := StrategyConfig{
		Mirrors:       []string{"archive.ph"},
		MirrorEnabled: false,
	}
	// Without the mirror extractor a snapshot URL has to take the general
	// route; there is nothing else that can fetch it.
	require.Equal(t, StrategyGeneral, SelectStrategy("https://archive.ph/Ab3dE", cfg))
}
