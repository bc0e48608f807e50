// Package archive resolves article URLs to live mirror snapshot addresses.
package archive

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// shortCodePattern matches a snapshot path: a single segment of 4-6
// alphanumerics immediately after the host. Listing and redirect pages use
// longer paths and never match.
var shortCodePattern = regexp.MustCompile(`^/[A-Za-z0-9]{4,6}$`)

// metaRefreshURL pulls the target out of a meta refresh content attribute.
var metaRefreshURL = regexp.MustCompile(`(?i)url\s*=\s*(\S+)`)

// Config controls mirror probing.
type Config struct {
	// Mirrors is the ordered list of mirror hostnames to probe.
	Mirrors []string
	// Scheme defaults to https; tests override it.
	Scheme string
	// ProbeDelay is the pause between mirror hosts to avoid tripping
	// cross-host rate limits.
	ProbeDelay time.Duration
	Timeout    time.Duration
	UserAgent  string
}

// Resolver probes mirror hosts for the newest snapshot of a URL.
type Resolver struct {
	cfg        Config
	client     *http.Client
	noRedirect *http.Client
	logger     *zap.Logger
}

// New builds a Resolver. The redirect-following and redirect-disabled
// clients share one transport.
func New(cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	transport := &http.Transport{MaxIdleConnsPerHost: 4}
	return &Resolver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		noRedirect: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Resolve probes each configured mirror in order and returns the first live
// snapshot URL found. It returns "" with a nil error when every mirror is
// exhausted; callers must treat that as "no snapshot available".
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	for i, host := range r.cfg.Mirrors {
		if i > 0 && r.cfg.ProbeDelay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.cfg.ProbeDelay):
			}
		}
		snapshot, err := r.probeMirror(ctx, host, rawURL)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			r.logger.Debug("mirror probe failed",
				zap.String("mirror", host),
				zap.Error(err),
			)
			continue
		}
		if snapshot != "" {
			r.logger.Info("snapshot resolved",
				zap.String("mirror", host),
				zap.String("snapshot", snapshot),
			)
			return snapshot, nil
		}
	}
	return "", nil
}

// probeMirror checks one mirror host: first a redirect-disabled request so a
// 3xx Location pointing at a short code can be taken directly, then a normal
// request whose HTML is scanned for snapshot anchors.
func (r *Resolver) probeMirror(ctx context.Context, host, rawURL string) (string, error) {
	listing := fmt.Sprintf("%s://%s/newest/%s", r.cfg.Scheme, host, rawURL)

	if loc, err := r.probeRedirect(ctx, host, listing); err == nil && loc != "" {
		return loc, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listing, nil)
	if err != nil {
		return "", fmt.Errorf("build listing request: %w", err)
	}
	r.setHeaders(req)
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch listing: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("listing returned %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse listing: %w", err)
	}
	return r.scanListing(doc, host), nil
}

// probeRedirect issues the listing request with redirects disabled and
// returns the Location target when it is already a snapshot address.
func (r *Resolver) probeRedirect(ctx context.Context, host, listing string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listing, nil)
	if err != nil {
		return "", fmt.Errorf("build redirect probe: %w", err)
	}
	r.setHeaders(req)
	resp, err := r.noRedirect.Do(req)
	if err != nil {
		return "", fmt.Errorf("redirect probe: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return "", nil
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", nil
	}
	return r.absoluteSnapshot(loc, host), nil
}

// scanListing takes the first anchor whose href is a snapshot short code
// (interpreted as the newest snapshot), falling back to a meta refresh
// target when the page carries no matching anchor.
func (r *Resolver) scanListing(doc *goquery.Document, host string) string {
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		if abs := r.absoluteSnapshot(href, host); abs != "" {
			found = abs
			return false
		}
		return true
	})
	if found != "" {
		return found
	}

	doc.Find(`meta[http-equiv="refresh"], meta[http-equiv="Refresh"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		content, ok := sel.Attr("content")
		if !ok {
			return true
		}
		m := metaRefreshURL.FindStringSubmatch(content)
		if m == nil {
			return true
		}
		if abs := r.absoluteSnapshot(strings.Trim(m[1], `"'`), host); abs != "" {
			found = abs
			return false
		}
		return true
	})
	return found
}

// absoluteSnapshot returns the absolute snapshot URL when ref matches the
// short-code pattern, "" otherwise.
func (r *Resolver) absoluteSnapshot(ref, host string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if !shortCodePattern.MatchString(u.Path) {
		return ""
	}
	if u.Host == "" {
		return fmt.Sprintf("%s://%s%s", r.cfg.Scheme, host, u.Path)
	}
	return u.String()
}

func (r *Resolver) setHeaders(req *http.Request) {
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
}
