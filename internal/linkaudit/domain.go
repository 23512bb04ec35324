package linkaudit

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeSourceURL standardizes a source URL for comparison purposes
// (e.g. final effective URL vs. canonical URL). It lowercases the
// scheme and host, strips default ports, drops the fragment, and sorts
// query parameters. It does not touch the path.
func NormalizeSourceURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// NormalizeTargetDomain reduces an arbitrary domain or URL string to
// its registrable host: lowercased, leading "www." stripped, scheme
// and path discarded. This is the law tested by:
//
//	NormalizeTargetDomain("https://www.Foo.com/bar") == "foo.com"
//	NormalizeTargetDomain("FOO.com") == "foo.com"
func NormalizeTargetDomain(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty target domain", ErrMalformedInput)
	}

	host := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("%w: parse target domain: %v", ErrMalformedInput, err)
		}
		host = u.Host
	}
	// A bare "host/path" with no scheme parses as a path by url.Parse,
	// so strip any trailing path/query ourselves.
	if idx := strings.IndexAny(host, "/?#"); idx >= 0 {
		host = host[:idx]
	}
	if idx := strings.LastIndex(host, "@"); idx >= 0 {
		host = host[idx+1:]
	}
	host = strings.ToLower(host)
	if idx := strings.LastIndex(host, ":"); idx >= 0 && !strings.Contains(host, "]") {
		host = host[:idx]
	}
	host = strings.TrimPrefix(host, "www.")

	if host == "" {
		return "", fmt.Errorf("%w: target domain has no host component", ErrMalformedInput)
	}
	return host, nil
}

// HostMatchesTarget reports whether host equals target or is a
// subdomain of it, per the analyser's candidate-link filter
// ("host equals target_domain or ends with .target_domain").
func HostMatchesTarget(host, target string) bool {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	target = strings.ToLower(target)
	return host == target || strings.HasSuffix(host, "."+target)
}

// DeriveJobID computes the deterministic job id from (kind,
// source_url, project_id), used to suppress duplicate enqueues within
// the same epoch.
func DeriveJobID(kind JobKind, sourceURL, projectID string) string {
	return deterministicID(string(kind), sourceURL, projectID)
}
