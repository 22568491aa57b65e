package sitemap

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/domsphere/siteintel/internal/site"
)

// MockFetcher is a mock implementation of the site.Fetcher interface.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, url string) (string, error) {
	args := m.Called(ctx, url)
	return args.String(0), args.Error(1)
}

func pageHTML(title string, links ...string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>")
	b.WriteString(title)
	b.WriteString("</title><meta name=\"description\" content=\"about ")
	b.WriteString(title)
	b.WriteString("\"></head><body>")
	for _, l := range links {
		fmt.Fprintf(&b, `<a href=%q>%s</a>`, l, l)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func intPtr(i int) *int { return &i }

func TestCrawlDepthOneScenario(t *testing.T) {
	f := new(MockFetcher)
	f.On("Fetch", mock.Anything, "https://shop.test/").
		Return(pageHTML("home", "/products", "/cart"), nil).Once()
	f.On("Fetch", mock.Anything, "https://shop.test/products").
		Return(pageHTML("products"), nil).Once()
	f.On("Fetch", mock.Anything, "https://shop.test/cart").
		Return(pageHTML("cart"), nil).Once()

	c := New(f, Config{}, nil)
	pages, err := c.Crawl(context.Background(), Request{
		SiteID:   "shop",
		StartURL: "https://shop.test/",
		MaxDepth: intPtr(1),
	})
	require.NoError(t, err)

	urls := make([]string, len(pages))
	for i, p := range pages {
		urls[i] = p.URL
	}
	require.Equal(t, []string{
		"https://shop.test/",
		"https://shop.test/products",
		"https://shop.test/cart",
	}, urls)
	require.Equal(t, "home", pages[0].Meta["title"])
	require.Equal(t, "about home", pages[0].Meta["description"])
	require.NotEmpty(t, pages[0].Meta["hash"])
	f.AssertExpectations(t)
}

func TestCrawlCycleTerminates(t *testing.T) {
	f := new(MockFetcher)
	f.On("Fetch", mock.Anything, "https://shop.test/").
		Return(pageHTML("home", "/a"), nil).Once()
	f.On("Fetch", mock.Anything, "https://shop.test/a").
		Return(pageHTML("a", "/", "/a"), nil).Once()

	c := New(f, Config{}, nil)
	pages, err := c.Crawl(context.Background(), Request{StartURL: "https://shop.test/"})
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, p := range pages {
		seen[p.URL]++
	}
	require.Len(t, pages, 2)
	require.Equal(t, 1, seen["https://shop.test/"])
	require.Equal(t, 1, seen["https://shop.test/a"])
	f.AssertExpectations(t)
}

func TestCrawlHonorsPageBudget(t *testing.T) {
	f := new(MockFetcher)
	for i := 0; i < 10; i++ {
		cur := fmt.Sprintf("https://shop.test/p%d", i)
		next := fmt.Sprintf("/p%d", i+1)
		f.On("Fetch", mock.Anything, cur).Return(pageHTML(cur, next), nil).Maybe()
	}

	c := New(f, Config{}, nil)
	pages, err := c.Crawl(context.Background(), Request{
		StartURL: "https://shop.test/p0",
		MaxPages: 3,
	})
	require.NoError(t, err)
	require.Len(t, pages, 3)
}

func TestCrawlSkipsFailedFetchWithoutAborting(t *testing.T) {
	f := new(MockFetcher)
	f.On("Fetch", mock.Anything, "https://shop.test/").
		Return(pageHTML("home", "/bad", "/ok"), nil).Once()
	f.On("Fetch", mock.Anything, "https://shop.test/bad").
		Return("", fmt.Errorf("boom: %w", site.ErrFetchFailed)).Once()
	f.On("Fetch", mock.Anything, "https://shop.test/ok").
		Return(pageHTML("ok"), nil).Once()

	c := New(f, Config{}, nil)
	pages, err := c.Crawl(context.Background(), Request{StartURL: "https://shop.test/"})
	require.NoError(t, err)

	urls := make([]string, len(pages))
	for i, p := range pages {
		urls[i] = p.URL
	}
	require.Equal(t, []string{"https://shop.test/", "https://shop.test/ok"}, urls)
	f.AssertExpectations(t)
}

func TestCrawlRejectsOffHostAndNonHTTPLinks(t *testing.T) {
	f := new(MockFetcher)
	f.On("Fetch", mock.Anything, "https://shop.test/").
		Return(pageHTML("home", "https://evil.test/x", "mailto:a@b.c", "ftp://shop.test/f", "/fine"), nil).Once()
	f.On("Fetch", mock.Anything, "https://shop.test/fine").
		Return(pageHTML("fine"), nil).Once()

	c := New(f, Config{}, nil)
	pages, err := c.Crawl(context.Background(), Request{StartURL: "https://shop.test/"})
	require.NoError(t, err)
	require.Len(t, pages, 2)
	f.AssertExpectations(t)
}

func TestCrawlQueueBudgetBoundsFanout(t *testing.T) {
	links := make([]string, 50)
	for i := range links {
		links[i] = fmt.Sprintf("/wide%d", i)
	}
	f := new(MockFetcher)
	f.On("Fetch", mock.Anything, mock.Anything).Return(pageHTML("wide", links...), nil)

	c := New(f, Config{MaxPages: 2, QueueFanout: 2}, nil)
	pages, err := c.Crawl(context.Background(), Request{StartURL: "https://shop.test/"})
	require.NoError(t, err)
	require.Len(t, pages, 2)
	// Budget is max(fanout*2, maxPages*fanout) = 4 queued links plus the two
	// fetched pages.
	require.LessOrEqual(t, len(f.Calls), 6)
}

func TestCrawlDeterministicOrder(t *testing.T) {
	build := func() *MockFetcher {
		f := new(MockFetcher)
		f.On("Fetch", mock.Anything, "https://shop.test/").
			Return(pageHTML("home", "/b", "/a", "/c"), nil)
		f.On("Fetch", mock.Anything, mock.Anything).Return(pageHTML("leaf"), nil)
		return f
	}

	var runs [][]string
	for i := 0; i < 2; i++ {
		c := New(build(), Config{}, nil)
		pages, err := c.Crawl(context.Background(), Request{StartURL: "https://shop.test/"})
		require.NoError(t, err)
		urls := make([]string, len(pages))
		for j, p := range pages {
			urls[j] = p.URL
		}
		runs = append(runs, urls)
	}
	require.Equal(t, runs[0], runs[1])
	require.Equal(t, []string{
		"https://shop.test/",
		"https://shop.test/b",
		"https://shop.test/a",
		"https://shop.test/c",
	}, runs[0])
}

func TestCrawlUnresolvableStartAborts(t *testing.T) {
	c := New(new(MockFetcher), Config{}, nil)
	_, err := c.Crawl(context.Background(), Request{StartURL: "/relative"})
	require.ErrorIs(t, err, site.ErrUnresolvableURL)
}
