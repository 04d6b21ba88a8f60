package utils

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

// URLTools wraps a parsed URL normalized for host comparisons: lowercase
// scheme and host, default ports and fragment dropped, no trailing slash.
type URLTools struct {
	URL *url.URL
}

func NewURLTools(raw string) (*URLTools, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("couldn't parse url %s: %w", raw, err)
	}

	urlTools := &URLTools{
		URL: u,
	}
	urlTools.normalize()

	return urlTools, nil
}

func (u *URLTools) normalize() {
	u.URL.Fragment = ""
	u.URL.Scheme = strings.ToLower(u.URL.Scheme)
	u.URL.Host = strings.ToLower(u.URL.Host)

	if (u.URL.Scheme == "http" && strings.HasSuffix(u.URL.Host, ":80")) ||
		(u.URL.Scheme == "https" && strings.HasSuffix(u.URL.Host, ":443")) {
		u.URL.Host, _, _ = strings.Cut(u.URL.Host, ":")
	}

	u.URL.Path = strings.TrimRight(u.URL.Path, "/")
}

// SameHost reports whether both URLs name the same host and port after
// normalization.
func (u *URLTools) SameHost(target *URLTools) bool {
	return u.URL.Host == target.URL.Host
}

// CanonicalizeOptions controls optional canonicalization policies.
type CanonicalizeOptions struct {
	// StripTrailingSlash treats /a and /a/ as one page. The root path keeps
	// its slash.
	StripTrailingSlash bool
	// DropQuery removes the query string; otherwise keys and values are sorted.
	DropQuery bool
}

var (
	ErrEmptyURL    = errors.New("empty url")
	ErrMissingHost = errors.New("missing host")
)

// Canonicalize returns a deterministic form of raw: lowercase scheme,
// punycode host without default port or credentials, cleaned path and no
// fragment.
func Canonicalize(raw string, opts CanonicalizeOptions) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("canonicalize %s: %w", raw, ErrMissingHost)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if puny, err := idna.Lookup.ToASCII(host); err == nil {
		host = puny
	}
	port := u.Port()
	if port == "" || (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	} else {
		u.Host = net.JoinHostPort(host, port)
	}
	u.User = nil
	u.Fragment = ""

	// path.Clean drops the trailing slash; keep it unless told otherwise
	p := path.Clean("/" + u.Path)
	if !opts.StripTrailingSlash && p != "/" && strings.HasSuffix(u.Path, "/") {
		p += "/"
	}
	u.Path = p

	if opts.DropQuery {
		u.RawQuery = ""
		u.ForceQuery = false
		return u.String(), nil
	}
	q := u.Query()
	for _, values := range q {
		sort.Strings(values)
	}
	// Encode sorts by key
	u.RawQuery = q.Encode()
	return u.String(), nil
}
