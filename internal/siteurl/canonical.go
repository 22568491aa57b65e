// Package siteurl canonicalizes and resolves URLs against a site's
// registered root. Everything here is pure and deterministic.
package siteurl

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/domsphere/siteintel/internal/site"
)

// Canonicalize normalizes an absolute URL into the canonical string used as
// the page key: lowercased scheme/host, empty path defaulted to "/",
// fragment stripped, and the query re-encoded with key order preserved so
// equivalent queries produce byte-identical strings. Input without a scheme
// or host is rejected with site.ErrUnresolvableURL.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, site.ErrUnresolvableURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host: %w", raw, site.ErrUnresolvableURL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	u.RawQuery = reencodeQuery(u.RawQuery)
	return u.String(), nil
}

// Resolve canonicalizes raw against the site root. Relative input is
// resolved with RFC 3986 reference resolution, so dot segments collapse and
// "../p" lands on the same canonical key the crawler would produce. An empty
// raw resolves to the root itself. A result whose host differs from the
// root's host is rejected so a refresh can never escape the site.
func Resolve(raw, root string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		if root == "" {
			return "", fmt.Errorf("no url and no site root: %w", site.ErrUnresolvableURL)
		}
		return Canonicalize(root)
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", candidate, site.ErrUnresolvableURL)
	}
	if u.Scheme == "" || u.Host == "" {
		if root == "" {
			return "", fmt.Errorf("relative url %q without site root: %w", candidate, site.ErrUnresolvableURL)
		}
		ru, err := url.Parse(root)
		if err != nil || ru.Scheme == "" || ru.Host == "" {
			return "", fmt.Errorf("site root %q is not absolute: %w", root, site.ErrUnresolvableURL)
		}
		candidate = ru.ResolveReference(u).String()
	}

	normalized, err := Canonicalize(candidate)
	if err != nil {
		return "", err
	}
	if root != "" {
		if err := checkSameHost(normalized, root); err != nil {
			return "", err
		}
	}
	return normalized, nil
}

func checkSameHost(resolved, root string) error {
	ru, err := url.Parse(root)
	if err != nil || ru.Hostname() == "" {
		return nil
	}
	nu, err := url.Parse(resolved)
	if err != nil {
		return fmt.Errorf("parse resolved url %q: %w", resolved, site.ErrUnresolvableURL)
	}
	if !strings.EqualFold(nu.Hostname(), ru.Hostname()) {
		return fmt.Errorf("host %q does not match site root %q: %w", nu.Hostname(), ru.Hostname(), site.ErrUnresolvableURL)
	}
	return nil
}

// reencodeQuery re-serializes a query string without reordering keys.
// url.Values.Encode sorts keys, which would change parameter order, so the
// pairs are rebuilt by hand. Blank values are kept ("a" becomes "a=").
func reencodeQuery(raw string) string {
	if raw == "" {
		return ""
	}
	pairs := strings.Split(raw, "&")
	out := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		out = append(out, escapeComponent(key)+"="+escapeComponent(value))
	}
	return strings.Join(out, "&")
}

func escapeComponent(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		decoded = s
	}
	return url.QueryEscape(decoded)
}
