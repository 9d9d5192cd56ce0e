package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/ragtrust/internal/logger"
	"github.com/ppiankov/ragtrust/internal/util"
	"github.com/ppiankov/ragtrust/internal/worker"
)

// Fetcher downloads HTML pages for building a corpus from the web
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	robots     *util.RobotsChecker // nil when robots.txt is ignored
	limiter    *worker.Limiter     // per-host politeness, nil disables
}

// FetchResult contains the fetched HTML and its final location
type FetchResult struct {
	HTML        string
	StatusCode  int
	ContentType string
	FinalURL    string
}

// fetchSleepFunc is swapped out in tests
var fetchSleepFunc = time.Sleep

const fetchAttempts = 3

// NewFetcher creates a new Fetcher. When respectRobots is set, pages
// disallowed by robots.txt are refused and crawl delays are honoured.
func NewFetcher(timeout time.Duration, userAgent string, maxBytes int64, respectRobots bool, httpProxy, httpsProxy, noProxy string) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(httpProxy, httpsProxy, noProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent: userAgent,
		maxBytes:  maxBytes,
	}
	if respectRobots {
		f.robots = util.NewRobotsChecker(f.httpClient, userAgent)
	}
	return f
}

// WithLimiter rate limits fetches per host
func (f *Fetcher) WithLimiter(l *worker.Limiter) *Fetcher {
	f.limiter = l
	return f
}

// Fetch retrieves HTML content from the given URL
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	var crawlDelay time.Duration
	if f.robots != nil {
		policy, err := f.robots.Check(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("robots: %w", err)
		}
		if !policy.Allowed {
			return nil, fmt.Errorf("disallowed by robots.txt: %s", rawURL)
		}
		crawlDelay = policy.CrawlDelay
	}
	if f.limiter != nil {
		host, err := worker.HostKey(rawURL)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if err := f.limiter.WaitWithDelay(ctx, host, crawlDelay); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &FetchResult{
		HTML:        string(body),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

// FetchWithRetry retries transient failures (5xx, 429, connection errors)
// with linear backoff
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) (*FetchResult, error) {
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		result, err := f.Fetch(ctx, rawURL)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryableFetchError(err) || attempt == fetchAttempts {
			break
		}
		logger.Debug("fetch %s failed (attempt %d/%d): %v", rawURL, attempt, fetchAttempts, err)
		fetchSleepFunc(time.Duration(attempt) * time.Second)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "fetch: ") {
		return !errors.Is(err, context.Canceled)
	}
	if rest, ok := strings.CutPrefix(msg, "unexpected status: "); ok {
		return strings.HasPrefix(rest, "5") || strings.HasPrefix(rest, "429")
	}
	return false
}

// SubjectFromURL derives a human-readable title from the last path segment
func SubjectFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return parsed.Host
	}

	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]
	last = strings.ReplaceAll(last, "_", " ")
	last = strings.ReplaceAll(last, "-", " ")
	if idx := strings.LastIndex(last, "."); idx > 0 {
		last = last[:idx]
	}
	if unescaped, err := url.PathUnescape(last); err == nil {
		last = unescaped
	}
	return last
}

// PageFromHTML converts a fetched page into a wiki-pages record so web
// corpora load through BuildFeverCorpus
func PageFromHTML(result *FetchResult) (WikiPage, error) {
	title, text, err := ExtractPage(result.HTML, result.FinalURL)
	if err != nil {
		return WikiPage{}, err
	}

	var lines strings.Builder
	i := 0
	for _, para := range strings.Split(text, "\n") {
		for _, sent := range SplitSentences(para) {
			fmt.Fprintf(&lines, "%d\t%s\n", i, sent)
			i++
		}
	}
	return WikiPage{ID: NormTitle(title), Text: strings.ReplaceAll(text, "\n", " "), Lines: lines.String()}, nil
}

// WritePages writes pages as a wiki-pages JSONL file
func WritePages(path string, pages []WikiPage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create corpus dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create corpus file: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, p := range pages {
		if err := enc.Encode(p); err != nil {
			_ = f.Close()
			return fmt.Errorf("write page %s: %w", p.ID, err)
		}
	}
	return f.Close()
}
