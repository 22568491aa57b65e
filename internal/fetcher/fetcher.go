// Package fetcher retrieves page HTML over HTTP using gocolly.
package fetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/domsphere/siteintel/internal/site"
)

const (
	defaultUserAgent = "SiteIntel/1.0"
	defaultAccept    = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	defaultTimeout   = 15 * time.Second
)

// Config controls the outbound header set and timeout.
type Config struct {
	UserAgent string
	Accept    string
	Timeout   time.Duration
}

// Client implements site.Fetcher using a Colly collector. One outbound GET
// per call; failures of any kind surface as site.ErrFetchFailed so callers
// treat them as "no update".
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Client with a pooled HTTP transport shared by all fetches.
func New(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Accept == "" {
		cfg.Accept = defaultAccept
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	// Clones share the visited-URL store; revisits must stay legal so a
	// forced refresh or a repeat crawl can re-fetch the same page.
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())

	return &Client{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET and returns the body as text.
func (f *Client) Fetch(ctx context.Context, url string) (string, error) {
	var (
		body     []byte
		status   int
		fetchErr error
	)

	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", f.cfg.Accept)
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("fetch %s canceled: %v: %w", url, ctx.Err(), site.ErrFetchFailed)
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("fetch %s: %v: %w", url, err, site.ErrFetchFailed)
		}
	}
	if fetchErr != nil {
		return "", fmt.Errorf("fetch %s (status %d): %v: %w", url, status, fetchErr, site.ErrFetchFailed)
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("fetch %s: unexpected status %d: %w", url, status, site.ErrFetchFailed)
	}
	return string(body), nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
