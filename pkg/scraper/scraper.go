// Package scraper fetches web pages so they can be ingested like uploaded
// documents.
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

	"github.com/xhad/askdoc/internal/models"
	"github.com/xhad/askdoc/internal/types"
	"github.com/xhad/askdoc/pkg/extract"
)

type ScraperConfig struct {
	BaseURL           string
	MaxDepth          int // 0 fetches only the start page
	MaxPages          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	UserAgent         string
	OnProgress        func(url string)
}

// Scraper crawls one site. It keeps the set of visited pages, so use a new
// Scraper for every crawl.
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
	if config.MaxDepth < 0 {
		return nil, fmt.Errorf("%w: max depth cannot be negative", types.ErrInvalidArgument)
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 20
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}
	if config.UserAgent == "" {
		config.UserAgent = "askdoc/1.0"
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported url scheme %q", types.ErrInvalidArgument, parsedURL.Scheme)
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
	return NewWithConfig(ScraperConfig{BaseURL: baseURL})
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
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
		if (allowedExt == "" && !strings.Contains(lastSegment(path), ".")) ||
			(allowedExt != "" && strings.HasSuffix(path, allowedExt)) {
			validExt = true
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

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// noise is boilerplate that shows up on nearly every page.
var noise = []string{
	"Cookie Policy",
	"Accept Cookies",
	"Privacy Policy",
	"Terms of Service",
}

func cleanContent(content string) string {
	for _, pattern := range noise {
		content = strings.ReplaceAll(content, pattern, "")
	}
	return strings.TrimSpace(content)
}

func extractMainContent(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, footer").Remove()

	// Try to find main content area
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	for _, selector := range selectors {
		if selected := doc.Find(selector).First(); selected.Length() > 0 {
			if content := cleanContent(extract.FromSelection(selected)); content != "" {
				return content
			}
		}
	}

	// Fallback to body if no main content found
	return cleanContent(extract.FromSelection(doc.Find("body")))
}

// Scrape fetches startURL and, up to MaxDepth links away, the same-site
// pages it links to. A failure on the start page is returned; failures on
// linked pages are logged and skipped.
func (s *Scraper) Scrape(ctx context.Context, startURL string) ([]models.Document, error) {
	var documents []models.Document
	err := s.scrapeRecursive(ctx, startURL, 0, &documents)
	return documents, err
}

func (s *Scraper) scrapeRecursive(ctx context.Context, urlStr string, depth int, documents *[]models.Document) error {
	if depth > s.config.MaxDepth || s.visited[urlStr] || len(*documents) >= s.config.MaxPages {
		return nil
	}

	if !s.shouldProcessURL(urlStr) {
		if depth == 0 {
			return fmt.Errorf("%w: url %s is outside %s", types.ErrInvalidArgument, urlStr, s.baseHost)
		}
		return nil
	}

	s.visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", urlStr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return fmt.Errorf("%w: %s served %s", types.ErrUnsupportedFormat, urlStr, ct)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", urlStr, err)
	}

	// Collect links before the content pass strips navigation
	var links []string
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		if link, ok := resolve(urlStr, href); ok {
			links = append(links, link)
		}
	})

	title := strings.TrimSpace(doc.Find("title").First().Text())
	content := extractMainContent(doc)

	*documents = append(*documents, models.Document{
		ID:      urlStr,
		Name:    urlStr,
		Format:  string(extract.FormatHTML),
		Content: content,
		Metadata: map[string]interface{}{
			"title":        title,
			"depth":        depth,
			"time":         time.Now(),
			"contentType":  resp.Header.Get("Content-Type"),
			"lastModified": resp.Header.Get("Last-Modified"),
		},
	})

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.scrapeRecursive(ctx, link, depth+1, documents); err != nil {
			log.Printf("Error scraping URL: %v", err)
		}
	}

	return nil
}

// resolve makes href absolute against base and drops the fragment.
func resolve(base, href string) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		log.Printf("Error parsing URL: %v", err)
		return "", false
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	abs := baseURL.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

// Merge joins crawled pages into one document, each page introduced by a
// level-1 heading with its title.
func Merge(name string, pages []models.Document) models.Document {
	var b strings.Builder
	for _, page := range pages {
		title, _ := page.Metadata["title"].(string)
		if title == "" {
			title = page.Name
		}
		b.WriteString("# ")
		b.WriteString(title)
		b.WriteString("\n\n")
		b.WriteString(page.Content)
		b.WriteString("\n\n")
	}
	return models.Document{
		ID:      name,
		Name:    name,
		Format:  string(extract.FormatHTML),
		Content: strings.TrimSpace(b.String()),
		Metadata: map[string]interface{}{
			"pages": len(pages),
		},
	}
}
