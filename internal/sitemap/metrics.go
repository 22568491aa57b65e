package sitemap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// pagesCrawledTotal tracks pages successfully fetched and recorded.
	pagesCrawledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitemap_pages_crawled_total",
		Help: "The total number of pages fetched and added to crawl results.",
	})
	// fetchErrorsTotal tracks fetches skipped due to errors.
	fetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitemap_fetch_errors_total",
		Help: "The total number of page fetches that failed during crawls.",
	})
	// queueDropsTotal tracks links discarded because the queue budget was full.
	queueDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitemap_queue_drops_total",
		Help: "The total number of discovered links dropped by the queue budget.",
	})
)
