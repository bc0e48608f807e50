// Package extract produces normalized article content for submitted URLs.
package extract

import (
	"net/url"
	"strings"

	"github.com/newslens/newslens/internal/archive"
)

// Strategy names one of the extraction routes the chain can take.
type Strategy string

// Extraction routes, in decision order.
const (
	// StrategyMirrorDirect extracts a URL that is already a mirror
	// snapshot, unmodified.
	StrategyMirrorDirect Strategy = "mirror-direct"
	// StrategyArchiveFirst resolves a snapshot for a proactively archived
	// domain before extracting, falling back to the general service.
	StrategyArchiveFirst Strategy = "archive-first"
	// StrategyGeneral sends the original URL to the general-purpose
	// extraction service.
	StrategyGeneral Strategy = "general"
)

// StrategyConfig is the static input to strategy selection.
type StrategyConfig struct {
	// ProactiveHosts is the allow-list of paywalled publisher domains
	// that get archive resolution before extraction.
	ProactiveHosts []string
	// Mirrors is the mirror host list used to recognize snapshot URLs.
	Mirrors []string
	// MirrorEnabled reports whether the pre-resolved-page extractor is
	// configured.
	MirrorEnabled bool
}

// SelectStrategy decides the extraction route for a URL. It is a pure
// function so the routing table is testable apart from the network calls it
// drives.
func SelectStrategy(rawURL string, cfg StrategyConfig) Strategy {
	if cfg.MirrorEnabled && archive.IsSnapshotURL(rawURL, cfg.Mirrors) {
		return StrategyMirrorDirect
	}
	if isProactiveHost(rawURL, cfg.ProactiveHosts) {
		return StrategyArchiveFirst
	}
	return StrategyGeneral
}

func hostOfURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func isProactiveHost(rawURL string, hosts []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimPrefix(h, "www."))
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
