package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScraperConfig(t *testing.T) {
	config := ScraperConfig{
		BaseURL:        "https://example.com",
		MaxDepth:       5,
		RateLimit:      1.0,
		IgnorePatterns: []string{"/ignore/", "private"},
		Timeout:        10 * time.Second,
	}

	s, err := NewWithConfig(config)
	require.NoError(t, err)
	assert.Equal(t, config.BaseURL, s.config.BaseURL)
	assert.Equal(t, config.MaxDepth, s.config.MaxDepth)

	_, err = New("not a url")
	assert.Error(t, err)
}

func TestShouldProcessURL(t *testing.T) {
	config := ScraperConfig{
		BaseURL:           "https://example.com",
		IgnorePatterns:    []string{"/ignore/", "private"},
		AllowedExtensions: []string{".html", "/"},
	}

	s, err := NewWithConfig(config)
	require.NoError(t, err)

	tests := []struct {
		url      string
		expected bool
	}{
		{"https://example.com/docs/", true},
		{"https://example.com/page.html", true},
		{"https://example.com/ignore/page.html", false},
		{"https://other-domain.com/page.html", false},
		{"https://example.com/file.pdf", false},
		{"mailto:someone@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			result := s.shouldProcessURL(tt.url)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestShouldProcessExtensionlessURL(t *testing.T) {
	s, err := New("https://example.com")
	require.NoError(t, err)

	assert.True(t, s.shouldProcessURL("https://example.com/docs/intro"))
	assert.False(t, s.shouldProcessURL("https://example.com/logo.png"))
}

func newSite(t *testing.T, hits *atomic.Int32) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`
			<html>
				<head><title>Test Page</title></head>
				<body>
					<nav><a href="/page2.html#top">Next</a></nav>
					<main>
						<h1>Test Content</h1>
						<p>This is a test paragraph.</p>
						<a href="/page2.html">Link</a>
						<a href="/missing.html">Broken</a>
						<a href="https://elsewhere.example.org/">Away</a>
					</main>
				</body>
			</html>
		`))
	})
	mux.HandleFunc("/page2.html", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`<html><head><title>Second</title></head><body><article>Page two text. <a href="/">Home</a></article></body></html>`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestScrapeWithMockServer(t *testing.T) {
	var hits atomic.Int32
	server := newSite(t, &hits)

	s, err := NewWithConfig(ScraperConfig{
		BaseURL:   server.URL,
		MaxDepth:  1,
		RateLimit: 100,
	})
	require.NoError(t, err)

	pages, err := s.Scrape(context.Background(), server.URL+"/")
	require.NoError(t, err)
	require.Len(t, pages, 2)

	page := pages[0]
	assert.Equal(t, server.URL+"/", page.URL)
	assert.Equal(t, "Test Page", page.Title)
	assert.Equal(t, 0, page.Depth)
	assert.Contains(t, page.Content, "Test Content")
	assert.Contains(t, page.Content, "This is a test paragraph")

	assert.Equal(t, server.URL+"/page2.html", pages[1].URL)
	assert.Equal(t, "Second", pages[1].Title)
	assert.Equal(t, 1, pages[1].Depth)

	// root, page2 once despite the fragment, and the broken link
	assert.Equal(t, int32(3), hits.Load())
}

func TestScrapeMaxPages(t *testing.T) {
	var hits atomic.Int32
	server := newSite(t, &hits)

	s, err := NewWithConfig(ScraperConfig{BaseURL: server.URL, MaxPages: 1, RateLimit: 100})
	require.NoError(t, err)

	pages, err := s.Scrape(context.Background(), server.URL+"/")
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestScrapeStartPageError(t *testing.T) {
	var hits atomic.Int32
	server := newSite(t, &hits)

	s, err := NewWithConfig(ScraperConfig{BaseURL: server.URL, RateLimit: 100})
	require.NoError(t, err)

	_, err = s.Scrape(context.Background(), server.URL+"/missing.html")
	assert.ErrorContains(t, err, "404")

	_, err = s.Scrape(context.Background(), "https://elsewhere.example.org/")
	assert.Error(t, err)
}

func TestScrapeCanceled(t *testing.T) {
	var hits atomic.Int32
	server := newSite(t, &hits)

	s, err := NewWithConfig(ScraperConfig{BaseURL: server.URL, RateLimit: 100})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Scrape(ctx, server.URL+"/")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, hits.Load())
}
