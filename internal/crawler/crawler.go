// Package crawler discovers the links reachable from a seed page within a
// depth bound and fetches page text for ingestion.
//
// Crawling is depth-first and sequential. Every request goes through one
// shared rate limiter. Network failures never surface to the caller: a page
// that fails its HEAD check or fetch simply contributes no links.
package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"robot-rag/internal/config"
	"robot-rag/internal/parser"
)

// VisitMode decides how the visited set is scoped during recursion.
type VisitMode int

const (
	// VisitShared uses one visited set for the whole crawl, so every URL is
	// fetched at most once per Crawl call.
	VisitShared VisitMode = iota
	// VisitPerBranch gives each recursive branch its own copy of the visited
	// set. Sibling branches may fetch the same URL again.
	VisitPerBranch
)

type Crawler struct {
	client       *http.Client
	limiter      *rate.Limiter
	userAgent    string
	maxBodyBytes int64
	visitMode    VisitMode
}

// Option configures a Crawler.
type Option func(*Crawler)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Crawler) {
		if client != nil {
			c.client = client
		}
	}
}

func WithVisitMode(mode VisitMode) Option {
	return func(c *Crawler) {
		c.visitMode = mode
	}
}

// WithRateLimit limits requests per second across the crawler.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Crawler) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Crawler) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// New creates a crawler with a 15s request timeout and no rate limit.
func New(opts ...Option) *Crawler {
	c := &Crawler{
		client:       &http.Client{Timeout: 15 * time.Second},
		limiter:      rate.NewLimiter(rate.Inf, 1),
		userAgent:    "robot-rag-crawler/1.0",
		maxBodyBytes: 5 << 20,
		visitMode:    VisitShared,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a crawler from the crawler section of the config.
func NewFromConfig(cfg *config.CrawlerConfig) *Crawler {
	mode := VisitShared
	if cfg.BranchScopedVisits {
		mode = VisitPerBranch
	}
	return New(
		WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}),
		WithRateLimit(cfg.RequestsPerSecond, cfg.Burst),
		WithUserAgent(cfg.UserAgent),
		WithMaxBodyBytes(cfg.MaxBodyBytes),
		WithVisitMode(mode),
	)
}

// Crawl returns the deduplicated links discovered from seedURL down to
// maxDepth levels, in first-seen order. maxDepth <= 0 yields no links.
func (c *Crawler) Crawl(ctx context.Context, seedURL string, maxDepth int) []string {
	visited := visitSet{}
	links := c.crawl(ctx, seedURL, maxDepth, visited)
	return dedupe(links)
}

func (c *Crawler) crawl(ctx context.Context, rawURL string, depth int, visited visitSet) []string {
	pageURL := NormalizeURL(rawURL)
	if depth <= 0 || visited.has(pageURL) || ctx.Err() != nil {
		return nil
	}
	visited.add(pageURL)

	links := c.pageLinks(ctx, pageURL)
	log.Debug().Str("url", pageURL).Int("depth", depth).Int("links", len(links)).Msg("crawled page")

	var subLinks []string
	if depth > 1 {
		for _, link := range links {
			branch := visited
			if c.visitMode == VisitPerBranch {
				branch = visited.clone()
			}
			subLinks = append(subLinks, c.crawl(ctx, link, depth-1, branch)...)
		}
	}
	return append(links, subLinks...)
}

// pageLinks checks and fetches a page and returns its links. Any failure
// yields no links.
func (c *Crawler) pageLinks(ctx context.Context, pageURL string) []string {
	if !c.exists(ctx, pageURL) {
		return nil
	}

	body, err := c.get(ctx, pageURL)
	if err != nil {
		log.Warn().Err(err).Str("url", pageURL).Msg("Error fetching page")
		return nil
	}
	defer body.Close()

	links, err := ExtractLinks(body, pageURL)
	if err != nil {
		log.Warn().Err(err).Str("url", pageURL).Msg("Error parsing page")
		return nil
	}
	return links
}

// exists sends a HEAD request and reports whether it returned a 2xx status.
func (c *Crawler) exists(ctx context.Context, pageURL string) bool {
	if err := c.limiter.Wait(ctx); err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, pageURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", pageURL).Msg("HEAD request failed")
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *Crawler) get(ctx context.Context, pageURL string) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, c.maxBodyBytes), resp.Body}, nil
}

// FetchText downloads a page and returns its visible text.
func (c *Crawler) FetchText(ctx context.Context, pageURL string) (string, error) {
	body, err := c.get(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer body.Close()

	text, err := parser.ExtractHTMLText(body)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return text, nil
}

// ExtractLinks returns the href of every anchor in the document, resolved
// against baseURL. Empty hrefs, hrefs containing a fragment marker and
// non-http(s) targets are dropped.
func ExtractLinks(r io.Reader, baseURL string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var links []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if link, ok := resolveHref(base, attr(n, "href")); ok {
				links = append(links, link)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return links, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func resolveHref(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.Contains(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	return NormalizeURL(resolved.String()), true
}

// NormalizeURL strips a trailing slash so "a/" and "a" are the same page.
func NormalizeURL(u string) string {
	return strings.TrimSuffix(strings.TrimSpace(u), "/")
}

type visitSet map[string]struct{}

func (v visitSet) has(u string) bool {
	_, ok := v[u]
	return ok
}

func (v visitSet) add(u string) {
	v[u] = struct{}{}
}

func (v visitSet) clone() visitSet {
	out := make(visitSet, len(v))
	for u := range v {
		out[u] = struct{}{}
	}
	return out
}

func dedupe(links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, l := range links {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
