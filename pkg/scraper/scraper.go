package scraper

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/xhad/docvec/pkg/loader"
)

type ScraperConfig struct {
	BaseURL           string
	MaxDepth          int
	MaxPages          int     // 0 means no limit
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	UserAgent         string
	OnProgress        func(url string)
}

// Page is one fetched web page reduced to its main text.
type Page struct {
	URL     string
	Title   string
	Content string
	Depth   int
}

type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	visited  map[string]bool
	limiter  *rate.Limiter
	baseHost string
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}
	if config.UserAgent == "" {
		config.UserAgent = "docvec-scraper/1.0"
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, err
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", config.BaseURL)
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		visited:  make(map[string]bool),
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
	}, nil
}

func New(baseURL string) (*Scraper, error) {
	return NewWithConfig(ScraperConfig{
		BaseURL: baseURL,
	})
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false
	}

	// Check if URL is from the same host
	if parsedURL.Host != s.baseHost {
		return false
	}

	// Check extensions
	path := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if allowedExt == "" {
			// Extensionless paths such as /docs/intro.
			validExt = !strings.Contains(path[strings.LastIndex(path, "/")+1:], ".")
		} else {
			validExt = strings.HasSuffix(path, allowedExt)
		}
		if validExt {
			break
		}
	}
	if !validExt {
		return false
	}

	// Check ignore patterns
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

// Scrape fetches startURL and follows same-host links breadth of MaxDepth.
// A failure on the start page is returned; failures on linked pages are
// logged and skipped.
func (s *Scraper) Scrape(ctx context.Context, startURL string) ([]Page, error) {
	var pages []Page
	if !s.shouldProcessURL(startURL) {
		return nil, fmt.Errorf("url %s is outside the scrape scope", startURL)
	}
	err := s.scrapeRecursive(ctx, normalize(startURL), 0, &pages)
	return pages, err
}

func (s *Scraper) scrapeRecursive(ctx context.Context, urlStr string, depth int, pages *[]Page) error {
	if depth > s.config.MaxDepth || s.visited[urlStr] {
		return nil
	}
	if s.config.MaxPages > 0 && len(*pages) >= s.config.MaxPages {
		return nil
	}
	if !s.shouldProcessURL(urlStr) {
		return nil
	}

	s.visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	page, links, err := s.fetch(ctx, urlStr)
	if err != nil {
		return err
	}
	page.Depth = depth
	*pages = append(*pages, page)

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.scrapeRecursive(ctx, link, depth+1, pages); err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Printf("Error scraping URL: %v", err)
		}
	}

	return nil
}

// fetch downloads one page and returns its text and the absolute URLs it
// links to.
func (s *Scraper) fetch(ctx context.Context, urlStr string) (Page, []string, error) {
	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return Page{}, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return Page{}, nil, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Page{}, nil, err
	}

	base := resp.Request.URL
	var links []string
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			log.Printf("Error parsing URL: %v", err)
			return
		}
		links = append(links, normalize(base.ResolveReference(ref).String()))
	})

	return Page{
		URL:     urlStr,
		Title:   strings.TrimSpace(doc.Find("title").First().Text()),
		Content: loader.MainContent(doc),
	}, links, nil
}

// normalize drops the fragment so that anchors on one page are not
// fetched twice.
func normalize(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}
	u.Fragment = ""
	return u.String()
}
