package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type site struct {
	mu    sync.Mutex
	pages map[string]string
	gets  map[string]int
	heads map[string]int
}

func newSite(pages map[string]string) (*site, *httptest.Server) {
	s := &site{pages: pages, gets: map[string]int{}, heads: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimSuffix(r.URL.Path, "/")
		if path == "" {
			path = "/"
		}
		s.mu.Lock()
		if r.Method == http.MethodHead {
			s.heads[path]++
		} else {
			s.gets[path]++
		}
		body, ok := s.pages[path]
		s.mu.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		if r.Method == http.MethodGet {
			fmt.Fprint(w, body)
		}
	}))
	return s, srv
}

func (s *site) getCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[path]
}

func page(hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, h)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func testPages() map[string]string {
	return map[string]string{
		"/":  page("/a", "/b/", "/c", "#top", "", "mailto:someone@example.com", "/a#section", "/a"),
		"/a": page("/b", "/d"),
		"/b": page("/a"),
		"/d": page("/e"),
		"/e": page(),
	}
}

func TestCrawl_DepthZero(t *testing.T) {
	_, srv := newSite(testPages())
	defer srv.Close()

	assert.Empty(t, New().Crawl(context.Background(), srv.URL, 0))
	assert.Empty(t, New().Crawl(context.Background(), srv.URL, -1))
}

func TestCrawl_DepthOne(t *testing.T) {
	s, srv := newSite(testPages())
	defer srv.Close()

	links := New().Crawl(context.Background(), srv.URL+"/", 1)
	assert.Equal(t, []string{srv.URL + "/a", srv.URL + "/b", srv.URL + "/c"}, links)

	assert.Equal(t, 1, s.getCount("/"))
	assert.Zero(t, s.getCount("/a"), "depth 1 must not recurse")
}

func TestCrawl_DepthTwoSharedVisits(t *testing.T) {
	s, srv := newSite(testPages())
	defer srv.Close()

	links := New().Crawl(context.Background(), srv.URL, 2)
	assert.Equal(t, []string{srv.URL + "/a", srv.URL + "/b", srv.URL + "/c", srv.URL + "/d"}, links)

	// /c fails the HEAD request and is never fetched
	assert.Zero(t, s.getCount("/c"))
	assert.Zero(t, s.getCount("/d"))
}

func TestCrawl_VisitModes(t *testing.T) {
	t.Run("shared set fetches each page once", func(t *testing.T) {
		s, srv := newSite(testPages())
		defer srv.Close()

		links := New(WithVisitMode(VisitShared)).Crawl(context.Background(), srv.URL, 3)
		assert.Contains(t, links, srv.URL+"/e")
		assert.Equal(t, 1, s.getCount("/b"))
		assert.Equal(t, 1, s.getCount("/a"))
	})

	t.Run("per-branch set refetches across siblings", func(t *testing.T) {
		s, srv := newSite(testPages())
		defer srv.Close()

		links := New(WithVisitMode(VisitPerBranch)).Crawl(context.Background(), srv.URL, 3)
		assert.Contains(t, links, srv.URL+"/e")
		assert.Greater(t, s.getCount("/b"), 1)
	})
}

func TestCrawl_UnreachableSeed(t *testing.T) {
	_, srv := newSite(testPages())
	url := srv.URL
	srv.Close()

	assert.Empty(t, New().Crawl(context.Background(), url, 3))
}

func TestCrawl_CancelledContext(t *testing.T) {
	_, srv := newSite(testPages())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, New().Crawl(ctx, srv.URL, 2))
}

func TestExtractLinks_ResolvesRelative(t *testing.T) {
	body := page("guide/intro.html", "../up", "https://other.example/x/", "javascript:void(0)", "/abs")
	links, err := ExtractLinks(strings.NewReader(body), "https://example.com/docs/index.html")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/docs/guide/intro.html",
		"https://example.com/up",
		"https://other.example/x",
		"https://example.com/abs",
	}, links)
}

func TestFetchText(t *testing.T) {
	_, srv := newSite(map[string]string{
		"/doc": "<html><head><title>x</title></head><body><p>Robots answer questions.</p></body></html>",
	})
	defer srv.Close()

	text, err := New().FetchText(context.Background(), srv.URL+"/doc")
	require.NoError(t, err)
	assert.Equal(t, "Robots answer questions.", text)

	_, err = New().FetchText(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://example.com/a", NormalizeURL("https://example.com/a/"))
	assert.Equal(t, "https://example.com/a", NormalizeURL(" https://example.com/a "))
}
