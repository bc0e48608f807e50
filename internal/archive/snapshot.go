package archive

import (
	"net/url"
	"strings"
)

// IsSnapshotURL reports whether raw already points at a mirror snapshot:
// a known mirror host with a short-code path. Such URLs are used as-is by
// the extraction chain instead of being resolved again.
func IsSnapshotURL(raw string, mirrors []string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !shortCodePattern.MatchString(u.Path) {
		return false
	}
	return IsMirrorHost(u.Host, mirrors)
}

// IsMirrorHost reports whether host belongs to one of the mirror domains,
// including subdomains. Mirror-hosted assets are ephemeral and must not be
// persisted as stable references.
func IsMirrorHost(host string, mirrors []string) bool {
	host = strings.ToLower(host)
	for _, m := range mirrors {
		m = strings.ToLower(m)
		if host == m || strings.HasSuffix(host, "."+m) {
			return true
		}
	}
	return false
}
